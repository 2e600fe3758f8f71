package retrieval

import (
	"context"
	"sort"
	"time"

	"github.com/m-mizutani/denoise/pkg/embedding"
	"github.com/m-mizutani/denoise/pkg/model"
	"github.com/m-mizutani/denoise/pkg/repository"
	"github.com/m-mizutani/denoise/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
)

const (
	defaultPerFieldK = 8
	defaultTopK      = 5
)

// Embedder converts texts into query-space vectors
type Embedder interface {
	Embed(ctx context.Context, texts []string, purpose embedding.Purpose) ([][]float32, error)
}

// Retriever turns a natural-language query plus a time scope into a ranked
// set of full articles. The query is embedded once and searched against
// both the title and body vector fields; the two ranked lists are merged
// by article ID keeping the higher score.
type Retriever struct {
	embedder  Embedder
	store     repository.ArticleStore
	now       func() time.Time
	perFieldK int
	topK      int
}

type Option func(*Retriever)

// WithReferenceTime freezes the instant time scopes are resolved against,
// for reproducible retrieval
func WithReferenceTime(t time.Time) Option {
	return func(r *Retriever) {
		r.now = func() time.Time { return t }
	}
}

// WithPerFieldK sets how many candidates each vector field contributes
func WithPerFieldK(k int) Option {
	return func(r *Retriever) {
		r.perFieldK = k
	}
}

// WithTopK sets the size of the final ranked output
func WithTopK(k int) Option {
	return func(r *Retriever) {
		r.topK = k
	}
}

func New(embedder Embedder, store repository.ArticleStore, opts ...Option) *Retriever {
	r := &Retriever{
		embedder:  embedder,
		store:     store,
		now:       time.Now,
		perFieldK: defaultPerFieldK,
		topK:      defaultTopK,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Retrieve runs time-scoped dual-vector retrieval. An empty article list
// with a nil error means nothing in the store satisfies the window.
func (r *Retriever) Retrieve(ctx context.Context, query string, scope model.TimeScope) (*model.ToolResult, error) {
	if query == "" {
		return nil, goerr.Wrap(model.ErrToolArgumentInvalid, "query is empty")
	}
	if err := scope.Validate(); err != nil {
		return nil, goerr.Wrap(model.ErrToolArgumentInvalid, "bad time scope", goerr.V("time_scope", scope))
	}

	vectors, err := r.embedder.Embed(ctx, []string{query}, embedding.PurposeQuery)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to embed query")
	}
	queryVec := vectors[0]

	// Both searches share one cutoff so the window cannot drift between them
	cutoff := scope.Cutoff(r.now())

	titleMatches, err := r.store.SearchVectors(ctx, queryVec, repository.VectorFieldTitle, &cutoff, r.perFieldK)
	if err != nil {
		return nil, goerr.Wrap(err, "title vector search failed")
	}
	bodyMatches, err := r.store.SearchVectors(ctx, queryVec, repository.VectorFieldBody, &cutoff, r.perFieldK)
	if err != nil {
		return nil, goerr.Wrap(err, "body vector search failed")
	}

	merged := mergeMatches(titleMatches, bodyMatches)
	if len(merged) > r.topK {
		merged = merged[:r.topK]
	}

	result := &model.ToolResult{
		Source:    model.ToolSourceRAG,
		QueryEcho: query,
	}
	if len(merged) == 0 {
		return result, nil
	}

	ids := make([]model.ArticleID, 0, len(merged))
	for _, m := range merged {
		ids = append(ids, m.ArticleID)
	}

	articles, err := r.store.GetArticles(ctx, ids)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to hydrate articles")
	}

	for _, m := range merged {
		article, ok := articles[m.ArticleID]
		if !ok {
			// Embedding without its article; stale index entry
			logging.From(ctx).Warn("matched article missing from store", "article_id", m.ArticleID)
			continue
		}
		result.Articles = append(result.Articles, model.ScoredArticle{
			Article: article,
			Score:   m.Score,
		})
	}

	return result, nil
}

// mergeMatches deduplicates per-field result lists by article ID, keeping
// the maximum score on collision, and re-ranks the union
func mergeMatches(lists ...[]repository.VectorMatch) []repository.VectorMatch {
	best := make(map[model.ArticleID]repository.VectorMatch)
	for _, list := range lists {
		for _, m := range list {
			if cur, ok := best[m.ArticleID]; !ok || m.Score > cur.Score {
				best[m.ArticleID] = m
			}
		}
	}

	merged := make([]repository.VectorMatch, 0, len(best))
	for _, m := range best {
		merged = append(merged, m)
	}

	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Score != merged[j].Score {
			return merged[i].Score > merged[j].Score
		}
		if !merged[i].PublishedAt.Equal(merged[j].PublishedAt) {
			return merged[i].PublishedAt.After(merged[j].PublishedAt)
		}
		return merged[i].ArticleID < merged[j].ArticleID
	})

	return merged
}
