package index

import (
	"context"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/denoise/pkg/embedding"
	"github.com/m-mizutani/denoise/pkg/model"
	"github.com/m-mizutani/denoise/pkg/repository"
	"github.com/m-mizutani/denoise/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
)

// Embedder converts texts into document-space vectors
type Embedder interface {
	Embed(ctx context.Context, texts []string, purpose embedding.Purpose) ([][]float32, error)
}

// Indexer writes already-parsed articles into the store together with
// their title and body vectors
type Indexer struct {
	embedder Embedder
	store    repository.ArticleStore
}

func New(embedder Embedder, store repository.ArticleStore) *Indexer {
	return &Indexer{
		embedder: embedder,
		store:    store,
	}
}

// Index embeds and stores the given articles. Articles without an ID get
// one assigned. Title and body of every article go through one batched
// embedding call.
func (x *Indexer) Index(ctx context.Context, articles []*model.Article) error {
	if len(articles) == 0 {
		return goerr.New("no articles to index")
	}

	texts := make([]string, 0, len(articles)*2)
	for _, article := range articles {
		if article.ID == "" {
			article.ID = model.NewArticleID()
		}
		if err := article.Validate(); err != nil {
			return goerr.Wrap(err, "invalid article")
		}
		body := article.Body
		if body == "" {
			body = article.Title
		}
		texts = append(texts, article.Title, body)
	}

	vectors, err := x.embedder.Embed(ctx, texts, embedding.PurposeDocument)
	if err != nil {
		return goerr.Wrap(err, "failed to embed articles")
	}

	logger := logging.From(ctx)
	for i, article := range articles {
		rec := &model.EmbeddingRecord{
			ArticleID:   article.ID,
			TitleVector: firestore.Vector32(vectors[i*2]),
			BodyVector:  firestore.Vector32(vectors[i*2+1]),
		}
		if err := x.store.PutArticle(ctx, article, rec); err != nil {
			return goerr.Wrap(err, "failed to store article", goerr.V("article_id", article.ID))
		}
		logger.Info("indexed article", "article_id", article.ID, "title", article.Title)
	}

	return nil
}
