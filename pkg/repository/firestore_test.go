package repository_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/denoise/pkg/model"
	"github.com/m-mizutani/denoise/pkg/repository"
	"github.com/m-mizutani/gt"
)

func setupFirestore(t *testing.T) *repository.Firestore {
	t.Helper()

	projectID := os.Getenv("TEST_FIRESTORE_PROJECT")
	if projectID == "" {
		t.Skip("TEST_FIRESTORE_PROJECT not set, skipping integration test")
	}
	databaseID := os.Getenv("TEST_FIRESTORE_DATABASE")
	if databaseID == "" {
		databaseID = "(default)"
	}

	repo, err := repository.New(context.Background(), projectID, databaseID)
	gt.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func testVector(dim int, seed float32) firestore.Vector32 {
	vec := make(firestore.Vector32, dim)
	vec[0] = seed
	vec[1] = 1
	return vec
}

func TestFirestoreArticleRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := setupFirestore(t)

	article := &model.Article{
		ID:          model.NewArticleID(),
		Title:       fmt.Sprintf("integration test article %d", time.Now().UnixNano()),
		Body:        "Body for the integration round trip.",
		PublishedAt: time.Now().UTC().Truncate(time.Second),
		Source:      model.SourceNewsletter,
	}
	rec := &model.EmbeddingRecord{
		ArticleID:   article.ID,
		TitleVector: testVector(128, 0.5),
		BodyVector:  testVector(128, 0.9),
	}
	gt.NoError(t, repo.PutArticle(ctx, article, rec))

	articles, err := repo.GetArticles(ctx, []model.ArticleID{article.ID})
	gt.NoError(t, err)
	got := articles[article.ID]
	gt.True(t, got != nil)
	gt.Equal(t, got.Title, article.Title)
	gt.Equal(t, got.Source, model.SourceNewsletter)

	cutoff := time.Now().Add(-time.Hour)
	matches, err := repo.SearchVectors(ctx, testVector(128, 0.5), repository.VectorFieldTitle, &cutoff, 5)
	gt.NoError(t, err)
	gt.A(t, matches).Longer(0)
}

func TestFirestoreSessionAppend(t *testing.T) {
	ctx := context.Background()
	repo := setupFirestore(t)

	userID := fmt.Sprintf("it-user-%d", time.Now().UnixNano())
	t.Cleanup(func() { _ = repo.Delete(ctx, userID) })

	gt.NoError(t, repo.AppendTurns(ctx, userID,
		model.ConversationTurn{Role: model.RoleUser, Content: "hello", Timestamp: time.Now()},
		model.ConversationTurn{Role: model.RoleAssistant, Content: "hi", Timestamp: time.Now()},
	))

	session, err := repo.Get(ctx, userID)
	gt.NoError(t, err)
	gt.A(t, session.Turns).Length(2)
	gt.Equal(t, session.Turns[0].Content, "hello")
}
