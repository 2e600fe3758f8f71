package webfetch_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/m-mizutani/denoise/pkg/adapter"
	"github.com/m-mizutani/denoise/pkg/model"
	"github.com/m-mizutani/denoise/pkg/tool/webfetch"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
	"google.golang.org/genai"
)

// Mock Tavily adapter
type mockTavily struct {
	extractDocs  []*adapter.WebDocument
	searchDocs   []*adapter.WebDocument
	err          error
	extractCalls []string
	searchCalls  []string
}

func (m *mockTavily) Extract(ctx context.Context, url string) ([]*adapter.WebDocument, error) {
	m.extractCalls = append(m.extractCalls, url)
	if m.err != nil {
		return nil, m.err
	}
	return m.extractDocs, nil
}

func (m *mockTavily) Search(ctx context.Context, query string) ([]*adapter.WebDocument, error) {
	m.searchCalls = append(m.searchCalls, query)
	if m.err != nil {
		return nil, m.err
	}
	return m.searchDocs, nil
}

func TestFetchWithURL(t *testing.T) {
	tavily := &mockTavily{
		extractDocs: []*adapter.WebDocument{
			{
				URL:     "https://example.com/article",
				Title:   "https://example.com/article",
				Content: "Extracted page text.",
			},
		},
	}
	fetch := webfetch.New(tavily)

	output, err := fetch.Execute(context.Background(), genai.FunctionCall{
		Name: "fetch_web_content",
		Args: map[string]any{"url": "https://example.com/article"},
	})
	gt.NoError(t, err)

	// URL mode hits Extract, never Search
	gt.A(t, tavily.extractCalls).Length(1)
	gt.A(t, tavily.searchCalls).Length(0)

	gt.Equal(t, output.Result.Source, model.ToolSourceWeb)
	gt.Equal(t, output.Result.QueryEcho, "https://example.com/article")
	gt.A(t, output.Result.Articles).Length(1)

	article := output.Result.Articles[0].Article
	gt.Equal(t, article.Source, model.SourceWeb)
	gt.True(t, article.PublishedAt.IsZero())
	gt.Equal(t, article.Body, "Extracted page text.")
}

func TestFetchWithQuery(t *testing.T) {
	tavily := &mockTavily{
		searchDocs: []*adapter.WebDocument{
			{
				URL:         "https://example.com/one",
				Title:       "First result",
				Content:     "Some content.",
				PublishedAt: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
			},
		},
	}
	fetch := webfetch.New(tavily)

	output, err := fetch.Execute(context.Background(), genai.FunctionCall{
		Name: "fetch_web_content",
		Args: map[string]any{"query": "acme news"},
	})
	gt.NoError(t, err)

	gt.A(t, tavily.searchCalls).Length(1)
	gt.A(t, tavily.extractCalls).Length(0)
	gt.Equal(t, output.Result.QueryEcho, "acme news")

	text := output.Response.Response["result"].(string)
	gt.S(t, text).Contains("First result")
	gt.S(t, text).Contains("2025-06-01")
}

func TestFetchStableArticleIDs(t *testing.T) {
	tavily := &mockTavily{
		extractDocs: []*adapter.WebDocument{
			{URL: "https://example.com/article", Title: "t", Content: "c"},
		},
	}
	fetch := webfetch.New(tavily)

	call := genai.FunctionCall{
		Name: "fetch_web_content",
		Args: map[string]any{"url": "https://example.com/article"},
	}

	first, err := fetch.Execute(context.Background(), call)
	gt.NoError(t, err)
	second, err := fetch.Execute(context.Background(), call)
	gt.NoError(t, err)

	// Same URL always maps to the same article ID
	gt.Equal(t, first.Result.Articles[0].Article.ID, second.Result.Articles[0].Article.ID)
}

func TestFetchRequiresURLOrQuery(t *testing.T) {
	fetch := webfetch.New(&mockTavily{})

	_, err := fetch.Execute(context.Background(), genai.FunctionCall{
		Name: "fetch_web_content",
		Args: map[string]any{},
	})
	gt.Error(t, err)
	gt.True(t, errors.Is(err, model.ErrToolArgumentInvalid))
}

func TestFetchPropagatesWebFetchError(t *testing.T) {
	tavily := &mockTavily{err: goerr.Wrap(model.ErrWebFetch, "boom")}
	fetch := webfetch.New(tavily)

	_, err := fetch.Execute(context.Background(), genai.FunctionCall{
		Name: "fetch_web_content",
		Args: map[string]any{"url": "https://example.com/broken"},
	})
	gt.Error(t, err)
	gt.True(t, errors.Is(err, model.ErrWebFetch))
}
