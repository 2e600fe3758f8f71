package retrieval

import (
	"sort"

	"github.com/m-mizutani/denoise/pkg/model"
)

func sourceRank(s model.ToolSource) int {
	if s == model.ToolSourceRAG {
		return 0
	}
	return 1
}

type fused struct {
	article model.ScoredArticle
	rank    int
}

// Fuse merges ranked result sets from multiple tool calls into one
// ordered, deduplicated sequence. Duplicates (by article ID) keep the
// higher score; on an exact score tie the internal (rag) source wins,
// then the more recent publish time, then the smaller ID. limit <= 0
// means unbounded.
func Fuse(results []*model.ToolResult, limit int) []model.ScoredArticle {
	best := make(map[model.ArticleID]fused)
	for _, r := range results {
		if r == nil {
			continue
		}
		rank := sourceRank(r.Source)
		for _, sa := range r.Articles {
			if sa.Article == nil {
				continue
			}
			cur, ok := best[sa.Article.ID]
			if !ok || sa.Score > cur.article.Score ||
				(sa.Score == cur.article.Score && rank < cur.rank) {
				best[sa.Article.ID] = fused{article: sa, rank: rank}
			}
		}
	}

	out := make([]fused, 0, len(best))
	for _, f := range best {
		out = append(out, f)
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.article.Score != b.article.Score {
			return a.article.Score > b.article.Score
		}
		if a.rank != b.rank {
			return a.rank < b.rank
		}
		if !a.article.Article.PublishedAt.Equal(b.article.Article.PublishedAt) {
			return a.article.Article.PublishedAt.After(b.article.Article.PublishedAt)
		}
		return a.article.Article.ID < b.article.Article.ID
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}

	articles := make([]model.ScoredArticle, 0, len(out))
	for _, f := range out {
		articles = append(articles, f.article)
	}
	return articles
}
