package newsarchive

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/m-mizutani/denoise/pkg/model"
	"github.com/m-mizutani/denoise/pkg/tool"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
	"google.golang.org/genai"
)

type searchInput struct {
	Query     string `json:"query"`
	TimeScope string `json:"time_scope"`
}

// Retriever is satisfied by retrieval.Retriever
type Retriever interface {
	Retrieve(ctx context.Context, query string, scope model.TimeScope) (*model.ToolResult, error)
}

type newsArchive struct {
	retriever Retriever
}

// New creates the search_news_archive tool over the internal article store
func New(retriever Retriever) tool.Tool {
	return &newsArchive{retriever: retriever}
}

func (x *newsArchive) Flags() []cli.Flag {
	return nil
}

func (x *newsArchive) Prompt(ctx context.Context) string {
	return `When the user asks about recent startup or technology news, funding rounds, acquisitions, or ecosystem trends, use the search_news_archive tool to look up the internal article archive before answering.`
}

func (x *newsArchive) Spec() *genai.Tool {
	return &genai.Tool{
		FunctionDeclarations: []*genai.FunctionDeclaration{
			{
				Name:        "search_news_archive",
				Description: "Search the internal news article archive for relevant articles. Use this for questions about recent startup news, funding rounds, acquisitions, trends, or specific companies covered by the archive.",
				Parameters: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"query": {
							Type:        genai.TypeString,
							Description: "The search keywords or topic",
						},
						"time_scope": {
							Type: genai.TypeString,
							Description: "Recency window for the search. Choose 'daily' when the user says today, yesterday or 24 hours; " +
								"'weekly' for last week, this week, recently or since Monday; 'monthly' for last month or this month. " +
								"Defaults to 'monthly' when omitted.",
							Enum: []string{"daily", "weekly", "monthly"},
						},
					},
					Required: []string{"query"},
				},
			},
		},
	}
}

func (x *newsArchive) Execute(ctx context.Context, fc genai.FunctionCall) (*tool.Output, error) {
	paramsJSON, err := json.Marshal(fc.Args)
	if err != nil {
		return nil, goerr.Wrap(model.ErrToolArgumentInvalid, "failed to marshal function arguments")
	}

	var input searchInput
	if err := json.Unmarshal(paramsJSON, &input); err != nil {
		return nil, goerr.Wrap(model.ErrToolArgumentInvalid, "failed to parse input parameters")
	}

	if input.Query == "" {
		return nil, goerr.Wrap(model.ErrToolArgumentInvalid, "query is required")
	}

	scope := model.TimeScope(input.TimeScope)
	if input.TimeScope == "" {
		scope = model.DefaultTimeScope
	}
	if err := scope.Validate(); err != nil {
		return nil, goerr.Wrap(model.ErrToolArgumentInvalid, "bad time_scope", goerr.V("time_scope", input.TimeScope))
	}

	result, err := x.retriever.Retrieve(ctx, input.Query, scope)
	if err != nil {
		return nil, goerr.Wrap(err, "archive retrieval failed")
	}

	return &tool.Output{
		Response: &genai.FunctionResponse{
			Name:     fc.Name,
			Response: map[string]any{"result": formatResult(result, scope)},
		},
		Result: result,
	}, nil
}

// formatResult renders retrieved articles as context for the generation step
func formatResult(result *model.ToolResult, scope model.TimeScope) string {
	if len(result.Articles) == 0 {
		return fmt.Sprintf("No relevant articles found in the archive within the %s window.", scope)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d article(s) in the %s window:\n\n", len(result.Articles), scope)
	for i, sa := range result.Articles {
		fmt.Fprintf(&b, "%d. %s\n", i+1, sa.Article.Title)
		fmt.Fprintf(&b, "   Published: %s (source: %s)\n", sa.Article.PublishedAt.Format("2006-01-02"), sa.Article.Source)
		fmt.Fprintf(&b, "   %s\n\n", sa.Article.Body)
	}

	return b.String()
}
