package model

import (
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
)

type ArticleID string

// NewArticleID generates a new unique ArticleID
func NewArticleID() ArticleID {
	return ArticleID(uuid.New().String())
}

type Source string

const (
	SourceNewsletter Source = "newsletter"
	SourceWeb        Source = "web"
)

// Validate checks if the source is valid
func (s Source) Validate() error {
	switch s {
	case SourceNewsletter, SourceWeb:
		return nil
	default:
		return goerr.New("invalid article source", goerr.V("source", s))
	}
}

// Article is a single ingested news item. Immutable once stored.
type Article struct {
	ID          ArticleID
	Title       string
	Body        string
	PublishedAt time.Time
	Source      Source
}

// Validate checks required fields before indexing
func (a *Article) Validate() error {
	if a.ID == "" {
		return goerr.New("article id is empty")
	}
	if a.Title == "" {
		return goerr.New("article title is empty", goerr.V("article_id", a.ID))
	}
	if a.PublishedAt.IsZero() {
		return goerr.New("article published_at is zero", goerr.V("article_id", a.ID))
	}
	return a.Source.Validate()
}

// EmbeddingRecord holds the title and body vectors of one article. Written
// at index time, never mutated, removed only together with the article.
type EmbeddingRecord struct {
	ArticleID   ArticleID
	TitleVector firestore.Vector32
	BodyVector  firestore.Vector32
}

// ScoredArticle pairs an article with its similarity score from retrieval
type ScoredArticle struct {
	Article *Article
	Score   float64
}
