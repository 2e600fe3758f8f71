package repository

import (
	"context"
	"sort"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/denoise/pkg/model"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	collectionArticles   = "articles"
	collectionEmbeddings = "newsEmbeddings"
	collectionSessions   = "sessions"
	collectionProfiles   = "profiles"

	distanceResultField = "vectorDistance"
)

// Firestore implements ArticleStore, SessionStore and ProfileStore on one
// Firestore database
type Firestore struct {
	client *firestore.Client
}

func New(ctx context.Context, projectID, databaseID string) (*Firestore, error) {
	client, err := firestore.NewClientWithDatabase(ctx, projectID, databaseID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create firestore client")
	}

	return &Firestore{client: client}, nil
}

func (f *Firestore) Close() error {
	return f.client.Close()
}

// storeErr maps connectivity-class failures onto ErrStoreUnavailable so
// callers can degrade a single tool call instead of the whole turn
func storeErr(err error, msg string) error {
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Canceled:
		return goerr.Wrap(model.ErrStoreUnavailable, msg, goerr.V("cause", err.Error()))
	default:
		return goerr.Wrap(err, msg)
	}
}

type articleDoc struct {
	ID          string    `firestore:"id"`
	Title       string    `firestore:"title"`
	Body        string    `firestore:"body"`
	PublishedAt time.Time `firestore:"publishedAt"`
	Source      string    `firestore:"source"`
}

type embeddingDoc struct {
	ArticleID   string             `firestore:"articleId"`
	TitleVector firestore.Vector32 `firestore:"titleVector"`
	BodyVector  firestore.Vector32 `firestore:"bodyVector"`
	PublishedAt time.Time          `firestore:"publishedAt"`
}

func (f VectorField) vectorPath() string {
	if f == VectorFieldTitle {
		return "titleVector"
	}
	return "bodyVector"
}

func (f *Firestore) SearchVectors(ctx context.Context, vec []float32, field VectorField, cutoff *time.Time, topK int) ([]VectorMatch, error) {
	if err := field.Validate(); err != nil {
		return nil, err
	}
	if topK <= 0 {
		return nil, goerr.New("topK must be positive", goerr.V("top_k", topK))
	}
	if topK > MaxTopK {
		topK = MaxTopK
	}

	q := f.client.Collection(collectionEmbeddings).Query
	if cutoff != nil {
		q = q.Where("publishedAt", ">=", *cutoff)
	}

	vq := q.FindNearest(field.vectorPath(), firestore.Vector32(vec), topK, firestore.DistanceMeasureCosine, &firestore.FindNearestOptions{
		DistanceResultField: distanceResultField,
	})

	it := vq.Documents(ctx)
	defer it.Stop()

	var matches []VectorMatch
	for {
		doc, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, storeErr(err, "vector search failed")
		}

		var rec embeddingDoc
		if err := doc.DataTo(&rec); err != nil {
			return nil, goerr.Wrap(err, "failed to decode embedding record")
		}

		// Cosine distance in [0, 2]; similarity = 1 - distance
		score := 0.0
		if d, ok := doc.Data()[distanceResultField].(float64); ok {
			score = 1.0 - d
		}

		matches = append(matches, VectorMatch{
			ArticleID:   model.ArticleID(rec.ArticleID),
			Score:       score,
			PublishedAt: rec.PublishedAt,
		})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].PublishedAt.After(matches[j].PublishedAt)
	})

	return matches, nil
}

func (f *Firestore) GetArticles(ctx context.Context, ids []model.ArticleID) (map[model.ArticleID]*model.Article, error) {
	articles := make(map[model.ArticleID]*model.Article, len(ids))

	for _, id := range ids {
		doc, err := f.client.Collection(collectionArticles).Doc(string(id)).Get(ctx)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				continue
			}
			return nil, storeErr(err, "failed to get article")
		}

		var rec articleDoc
		if err := doc.DataTo(&rec); err != nil {
			return nil, goerr.Wrap(err, "failed to decode article", goerr.V("article_id", id))
		}

		articles[id] = &model.Article{
			ID:          model.ArticleID(rec.ID),
			Title:       rec.Title,
			Body:        rec.Body,
			PublishedAt: rec.PublishedAt,
			Source:      model.Source(rec.Source),
		}
	}

	return articles, nil
}

func (f *Firestore) PutArticle(ctx context.Context, article *model.Article, rec *model.EmbeddingRecord) error {
	if err := article.Validate(); err != nil {
		return err
	}
	if rec == nil || rec.ArticleID != article.ID {
		return goerr.New("embedding record does not match article", goerr.V("article_id", article.ID))
	}

	articleRef := f.client.Collection(collectionArticles).Doc(string(article.ID))
	embeddingRef := f.client.Collection(collectionEmbeddings).Doc(string(article.ID))

	err := f.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if err := tx.Set(articleRef, articleDoc{
			ID:          string(article.ID),
			Title:       article.Title,
			Body:        article.Body,
			PublishedAt: article.PublishedAt,
			Source:      string(article.Source),
		}); err != nil {
			return err
		}
		return tx.Set(embeddingRef, embeddingDoc{
			ArticleID:   string(rec.ArticleID),
			TitleVector: rec.TitleVector,
			BodyVector:  rec.BodyVector,
			PublishedAt: article.PublishedAt,
		})
	})
	if err != nil {
		return storeErr(err, "failed to put article")
	}

	return nil
}

type turnDoc struct {
	Role      string    `firestore:"role"`
	Content   string    `firestore:"content"`
	Timestamp time.Time `firestore:"timestamp"`
}

type sessionDoc struct {
	ID        string    `firestore:"id"`
	UserID    string    `firestore:"userId"`
	Turns     []turnDoc `firestore:"turns"`
	CreatedAt time.Time `firestore:"createdAt"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

func (d *sessionDoc) toModel() *model.Session {
	s := &model.Session{
		ID:        model.SessionID(d.ID),
		UserID:    d.UserID,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
	for _, t := range d.Turns {
		s.Turns = append(s.Turns, model.ConversationTurn{
			Role:      model.Role(t.Role),
			Content:   t.Content,
			Timestamp: t.Timestamp,
		})
	}
	return s
}

func (f *Firestore) Get(ctx context.Context, userID string) (*model.Session, error) {
	doc, err := f.client.Collection(collectionSessions).Doc(userID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, goerr.Wrap(ErrSessionNotFound, "no session for user", goerr.V("user_id", userID))
		}
		return nil, storeErr(err, "failed to get session")
	}

	var rec sessionDoc
	if err := doc.DataTo(&rec); err != nil {
		return nil, goerr.Wrap(err, "failed to decode session", goerr.V("user_id", userID))
	}

	return rec.toModel(), nil
}

func (f *Firestore) AppendTurns(ctx context.Context, userID string, turns ...model.ConversationTurn) error {
	if len(turns) == 0 {
		return nil
	}

	ref := f.client.Collection(collectionSessions).Doc(userID)

	err := f.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		now := time.Now()

		var rec sessionDoc
		doc, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) != codes.NotFound {
				return err
			}
			rec = sessionDoc{
				ID:        string(model.NewSessionID()),
				UserID:    userID,
				CreatedAt: now,
			}
		} else if err := doc.DataTo(&rec); err != nil {
			return err
		}

		for _, t := range turns {
			rec.Turns = append(rec.Turns, turnDoc{
				Role:      string(t.Role),
				Content:   t.Content,
				Timestamp: t.Timestamp,
			})
		}
		rec.UpdatedAt = now

		return tx.Set(ref, rec)
	})
	if err != nil {
		return storeErr(err, "failed to append turns")
	}

	return nil
}

func (f *Firestore) Delete(ctx context.Context, userID string) error {
	if _, err := f.client.Collection(collectionSessions).Doc(userID).Delete(ctx); err != nil {
		return storeErr(err, "failed to delete session")
	}
	return nil
}

type profileDoc struct {
	UserID             string    `firestore:"userId"`
	DisplayName        string    `firestore:"displayName"`
	SystemInstructions string    `firestore:"systemInstructions"`
	UpdatedAt          time.Time `firestore:"updatedAt"`
}

func (f *Firestore) GetProfile(ctx context.Context, userID string) (*model.Profile, error) {
	doc, err := f.client.Collection(collectionProfiles).Doc(userID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, goerr.Wrap(ErrProfileNotFound, "no profile for user", goerr.V("user_id", userID))
		}
		return nil, storeErr(err, "failed to get profile")
	}

	var rec profileDoc
	if err := doc.DataTo(&rec); err != nil {
		return nil, goerr.Wrap(err, "failed to decode profile", goerr.V("user_id", userID))
	}

	return &model.Profile{
		UserID:             rec.UserID,
		DisplayName:        rec.DisplayName,
		SystemInstructions: rec.SystemInstructions,
		UpdatedAt:          rec.UpdatedAt,
	}, nil
}

func (f *Firestore) PutProfile(ctx context.Context, profile *model.Profile) error {
	if profile.UserID == "" {
		return goerr.New("profile user id is empty")
	}

	_, err := f.client.Collection(collectionProfiles).Doc(profile.UserID).Set(ctx, profileDoc{
		UserID:             profile.UserID,
		DisplayName:        profile.DisplayName,
		SystemInstructions: profile.SystemInstructions,
		UpdatedAt:          time.Now(),
	})
	if err != nil {
		return storeErr(err, "failed to put profile")
	}

	return nil
}
