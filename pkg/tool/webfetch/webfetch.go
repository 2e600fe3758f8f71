package webfetch

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/m-mizutani/denoise/pkg/adapter"
	"github.com/m-mizutani/denoise/pkg/model"
	"github.com/m-mizutani/denoise/pkg/tool"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
	"google.golang.org/genai"
)

type fetchInput struct {
	URL   string `json:"url"`
	Query string `json:"query"`
}

type webFetch struct {
	tavily adapter.Tavily
}

// New creates the fetch_web_content tool over the live web retrieval service
func New(tavily adapter.Tavily) tool.Tool {
	return &webFetch{tavily: tavily}
}

func (x *webFetch) Flags() []cli.Flag {
	return nil
}

func (x *webFetch) Prompt(ctx context.Context) string {
	return `Use the fetch_web_content tool only when the user explicitly provides a URL to read, or when the question clearly needs live web content that the internal archive cannot have. Do not use it for general knowledge questions.`
}

func (x *webFetch) Spec() *genai.Tool {
	return &genai.Tool{
		FunctionDeclarations: []*genai.FunctionDeclaration{
			{
				Name:        "fetch_web_content",
				Description: "Fetch and summarize content from the live web, bypassing the internal archive. Pass a complete http(s) URL when the user provided one, or a free-form query for a real-time web search.",
				Parameters: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"url": {
							Type:        genai.TypeString,
							Description: "The complete external URL (http:// or https://) to read",
						},
						"query": {
							Type:        genai.TypeString,
							Description: "A free-form web search query, used when no URL is given",
						},
					},
				},
			},
		},
	}
}

func (x *webFetch) Execute(ctx context.Context, fc genai.FunctionCall) (*tool.Output, error) {
	paramsJSON, err := json.Marshal(fc.Args)
	if err != nil {
		return nil, goerr.Wrap(model.ErrToolArgumentInvalid, "failed to marshal function arguments")
	}

	var input fetchInput
	if err := json.Unmarshal(paramsJSON, &input); err != nil {
		return nil, goerr.Wrap(model.ErrToolArgumentInvalid, "failed to parse input parameters")
	}

	if input.URL == "" && input.Query == "" {
		return nil, goerr.Wrap(model.ErrToolArgumentInvalid, "either url or query is required")
	}

	var (
		docs []*adapter.WebDocument
		echo string
	)
	if input.URL != "" {
		docs, err = x.tavily.Extract(ctx, input.URL)
		echo = input.URL
	} else {
		docs, err = x.tavily.Search(ctx, input.Query)
		echo = input.Query
	}
	if err != nil {
		return nil, goerr.Wrap(err, "web fetch failed")
	}

	result := &model.ToolResult{
		Source:    model.ToolSourceWeb,
		QueryEcho: echo,
	}
	for _, doc := range docs {
		result.Articles = append(result.Articles, model.ScoredArticle{
			Article: &model.Article{
				ID:          urlID(doc.URL),
				Title:       doc.Title,
				Body:        doc.Content,
				PublishedAt: doc.PublishedAt,
				Source:      model.SourceWeb,
			},
		})
	}

	return &tool.Output{
		Response: &genai.FunctionResponse{
			Name:     fc.Name,
			Response: map[string]any{"result": formatResult(result)},
		},
		Result: result,
	}, nil
}

// urlID derives a stable article ID from the page URL
func urlID(url string) model.ArticleID {
	sum := md5.Sum([]byte(url))
	return model.ArticleID(hex.EncodeToString(sum[:]))
}

func formatResult(result *model.ToolResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Fetched %d page(s) from the live web:\n\n", len(result.Articles))
	for i, sa := range result.Articles {
		fmt.Fprintf(&b, "%d. %s\n", i+1, sa.Article.Title)
		if !sa.Article.PublishedAt.IsZero() {
			fmt.Fprintf(&b, "   Published: %s\n", sa.Article.PublishedAt.Format("2006-01-02"))
		}
		fmt.Fprintf(&b, "   %s\n\n", sa.Article.Body)
	}

	return b.String()
}
