package repository

import (
	"context"
	"time"

	"github.com/m-mizutani/denoise/pkg/model"
	"github.com/m-mizutani/goerr/v2"
)

var (
	ErrSessionNotFound = goerr.New("session not found")
	ErrProfileNotFound = goerr.New("profile not found")
)

// VectorField selects which stored vector a similarity query targets.
// Every query must name one; title and body results are merged later by
// the retriever, never by the store.
type VectorField string

const (
	VectorFieldTitle VectorField = "title"
	VectorFieldBody  VectorField = "body"
)

// Validate checks if the vector field is valid
func (f VectorField) Validate() error {
	switch f {
	case VectorFieldTitle, VectorFieldBody:
		return nil
	default:
		return goerr.New("invalid vector field", goerr.V("field", f))
	}
}

// MaxTopK is the hard ceiling on similarity query size
const MaxTopK = 20

// VectorMatch is one similarity search hit. PublishedAt is denormalized
// onto the embedding record so ties can be broken without hydration.
type VectorMatch struct {
	ArticleID   model.ArticleID
	Score       float64
	PublishedAt time.Time
}

// ArticleStore is the vector-capable document store holding articles and
// their embeddings
type ArticleStore interface {
	// SearchVectors runs a cosine similarity query against one vector
	// field, optionally bounded by a minimum publish time. Results are
	// ordered by descending similarity, ties broken by most recent
	// PublishedAt. topK must be positive and is clipped to MaxTopK.
	SearchVectors(ctx context.Context, vec []float32, field VectorField, cutoff *time.Time, topK int) ([]VectorMatch, error)

	// GetArticles resolves full articles by ID. Missing IDs are absent
	// from the returned map, not an error.
	GetArticles(ctx context.Context, ids []model.ArticleID) (map[model.ArticleID]*model.Article, error)

	// PutArticle stores an article together with its embedding record
	PutArticle(ctx context.Context, article *model.Article, rec *model.EmbeddingRecord) error
}

// SessionStore keeps per-user conversation state. Appends for one user are
// atomic: a reader never observes a partially written turn sequence.
type SessionStore interface {
	// Get returns the session for the user, or ErrSessionNotFound
	Get(ctx context.Context, userID string) (*model.Session, error)

	// AppendTurns atomically appends turns to the user's session,
	// creating the session if it does not exist yet
	AppendTurns(ctx context.Context, userID string, turns ...model.ConversationTurn) error

	// Delete removes the user's session
	Delete(ctx context.Context, userID string) error
}

// ProfileStore keeps per-user personalization records
type ProfileStore interface {
	// GetProfile returns the user's profile, or ErrProfileNotFound
	GetProfile(ctx context.Context, userID string) (*model.Profile, error)

	// PutProfile writes or replaces the user's profile
	PutProfile(ctx context.Context, profile *model.Profile) error
}
