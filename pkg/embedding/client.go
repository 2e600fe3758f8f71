package embedding

import (
	"context"

	"github.com/m-mizutani/denoise/pkg/adapter"
	"github.com/m-mizutani/denoise/pkg/model"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/genai"
)

// Purpose tells the embedding model which side of retrieval the text
// belongs to. Query and document vectors live in the same space but are
// encoded with different task types.
type Purpose string

const (
	PurposeQuery    Purpose = "query"
	PurposeDocument Purpose = "document"
)

func (p Purpose) taskType() (string, error) {
	switch p {
	case PurposeQuery:
		return "RETRIEVAL_QUERY", nil
	case PurposeDocument:
		return "RETRIEVAL_DOCUMENT", nil
	default:
		return "", goerr.New("invalid embedding purpose", goerr.V("purpose", p))
	}
}

const (
	// DefaultDimension matches the stored vector policy
	DefaultDimension = 3072
	// MinDimension is the smallest output dimensionality the model supports
	MinDimension = 128
)

// Client converts text into fixed-dimension vectors. The dimension is a
// deployment-time constant shared between the index and query paths; a
// vector of any other length is rejected before it can reach the store.
type Client struct {
	gemini    adapter.Gemini
	dimension int32
}

func New(gemini adapter.Gemini, dimension int32) (*Client, error) {
	if dimension < MinDimension || dimension > DefaultDimension {
		return nil, goerr.New("embedding dimension out of range",
			goerr.V("dimension", dimension),
			goerr.V("min", MinDimension),
			goerr.V("max", DefaultDimension))
	}

	return &Client{
		gemini:    gemini,
		dimension: dimension,
	}, nil
}

// Dimension returns the configured output dimensionality
func (c *Client) Dimension() int32 {
	return c.dimension
}

// Embed converts texts into vectors with a single batched request
func (c *Client) Embed(ctx context.Context, texts []string, purpose Purpose) ([][]float32, error) {
	taskType, err := purpose.taskType()
	if err != nil {
		return nil, err
	}
	if len(texts) == 0 {
		return nil, goerr.New("no texts to embed")
	}

	contents := make([]*genai.Content, 0, len(texts))
	for _, text := range texts {
		if text == "" {
			return nil, goerr.New("text to embed is empty")
		}
		contents = append(contents, genai.NewContentFromText(text, genai.RoleUser))
	}

	dim := c.dimension
	resp, err := c.gemini.EmbedContent(ctx, contents, &genai.EmbedContentConfig{
		TaskType:             taskType,
		OutputDimensionality: &dim,
	})
	if err != nil {
		return nil, goerr.Wrap(model.ErrEmbeddingUnavailable, "embed request failed", goerr.V("cause", err.Error()))
	}

	if len(resp.Embeddings) != len(texts) {
		return nil, goerr.Wrap(model.ErrEmbeddingUnavailable, "embedding count mismatch",
			goerr.V("want", len(texts)),
			goerr.V("got", len(resp.Embeddings)))
	}

	vectors := make([][]float32, 0, len(resp.Embeddings))
	for _, emb := range resp.Embeddings {
		if emb == nil || len(emb.Values) != int(c.dimension) {
			return nil, goerr.Wrap(model.ErrEmbeddingUnavailable, "unexpected embedding dimension",
				goerr.V("want", c.dimension))
		}
		vectors = append(vectors, emb.Values)
	}

	return vectors, nil
}
