package newsarchive_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/m-mizutani/denoise/pkg/model"
	"github.com/m-mizutani/denoise/pkg/tool/newsarchive"
	"github.com/m-mizutani/gt"
	"google.golang.org/genai"
)

// Mock retriever
type mockRetriever struct {
	result    *model.ToolResult
	err       error
	lastQuery string
	lastScope model.TimeScope
	callCount int
}

func (m *mockRetriever) Retrieve(ctx context.Context, query string, scope model.TimeScope) (*model.ToolResult, error) {
	m.callCount++
	m.lastQuery = query
	m.lastScope = scope
	if m.err != nil {
		return nil, m.err
	}
	return m.result, nil
}

func emptyResult() *model.ToolResult {
	return &model.ToolResult{Source: model.ToolSourceRAG}
}

func TestSearchSpec(t *testing.T) {
	archive := newsarchive.New(&mockRetriever{result: emptyResult()})

	spec := archive.Spec()
	gt.A(t, spec.FunctionDeclarations).Length(1)

	decl := spec.FunctionDeclarations[0]
	gt.Equal(t, decl.Name, "search_news_archive")
	gt.Equal(t, len(decl.Parameters.Required), 1)
	gt.Equal(t, decl.Parameters.Required[0], "query")

	scopeParam := decl.Parameters.Properties["time_scope"]
	gt.A(t, scopeParam.Enum).Length(3)
}

func TestSearchExecute(t *testing.T) {
	retriever := &mockRetriever{
		result: &model.ToolResult{
			Source:    model.ToolSourceRAG,
			QueryEcho: "acme funding",
			Articles: []model.ScoredArticle{
				{
					Article: &model.Article{
						ID:          "a1",
						Title:       "Acme raises $10M",
						Body:        "Acme announced a Series A round.",
						PublishedAt: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
						Source:      model.SourceNewsletter,
					},
					Score: 0.9,
				},
			},
		},
	}
	archive := newsarchive.New(retriever)

	output, err := archive.Execute(context.Background(), genai.FunctionCall{
		Name: "search_news_archive",
		Args: map[string]any{"query": "acme funding", "time_scope": "weekly"},
	})
	gt.NoError(t, err)

	gt.Equal(t, retriever.lastQuery, "acme funding")
	gt.Equal(t, retriever.lastScope, model.TimeScopeWeekly)

	gt.Equal(t, output.Response.Name, "search_news_archive")
	text := output.Response.Response["result"].(string)
	gt.S(t, text).Contains("Acme raises $10M")
	gt.S(t, text).Contains("2025-06-01")

	gt.Equal(t, output.Result.Source, model.ToolSourceRAG)
	gt.A(t, output.Result.Articles).Length(1)
}

func TestSearchDefaultsToMonthly(t *testing.T) {
	retriever := &mockRetriever{result: emptyResult()}
	archive := newsarchive.New(retriever)

	_, err := archive.Execute(context.Background(), genai.FunctionCall{
		Name: "search_news_archive",
		Args: map[string]any{"query": "anything"},
	})
	gt.NoError(t, err)
	gt.Equal(t, retriever.lastScope, model.TimeScopeMonthly)
}

func TestSearchRejectsBadArguments(t *testing.T) {
	archive := newsarchive.New(&mockRetriever{result: emptyResult()})

	t.Run("missing query", func(t *testing.T) {
		_, err := archive.Execute(context.Background(), genai.FunctionCall{
			Name: "search_news_archive",
			Args: map[string]any{},
		})
		gt.Error(t, err)
		gt.True(t, errors.Is(err, model.ErrToolArgumentInvalid))
	})

	t.Run("invalid time scope", func(t *testing.T) {
		_, err := archive.Execute(context.Background(), genai.FunctionCall{
			Name: "search_news_archive",
			Args: map[string]any{"query": "q", "time_scope": "yearly"},
		})
		gt.Error(t, err)
		gt.True(t, errors.Is(err, model.ErrToolArgumentInvalid))
	})
}

func TestSearchEmptyResultMessage(t *testing.T) {
	archive := newsarchive.New(&mockRetriever{result: emptyResult()})

	output, err := archive.Execute(context.Background(), genai.FunctionCall{
		Name: "search_news_archive",
		Args: map[string]any{"query": "nothing here", "time_scope": "daily"},
	})
	gt.NoError(t, err)

	text := output.Response.Response["result"].(string)
	gt.S(t, text).Contains("No relevant articles")
	gt.S(t, text).Contains("daily")
}
