package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/m-mizutani/denoise/pkg/model"
	"github.com/m-mizutani/goerr/v2"
)

const tavilyBaseURL = "https://api.tavily.com"

// WebDocument is a raw page extracted or found by the web retrieval service
type WebDocument struct {
	URL         string
	Title       string
	Content     string
	PublishedAt time.Time
}

// Tavily is the real-time web content retrieval service. Extract pulls the
// content of one explicit URL; Search runs a free-form query.
type Tavily interface {
	Extract(ctx context.Context, url string) ([]*WebDocument, error)
	Search(ctx context.Context, query string) ([]*WebDocument, error)
}

type TavilyClient struct {
	apiKey     string
	baseURL    string
	maxResults int
	httpClient *http.Client
}

type TavilyOption func(*TavilyClient)

// WithTavilyBaseURL overrides the API endpoint, mainly for tests
func WithTavilyBaseURL(url string) TavilyOption {
	return func(t *TavilyClient) {
		t.baseURL = url
	}
}

func WithTavilyMaxResults(n int) TavilyOption {
	return func(t *TavilyClient) {
		t.maxResults = n
	}
}

func NewTavily(apiKey string, opts ...TavilyOption) *TavilyClient {
	t := &TavilyClient{
		apiKey:     apiKey,
		baseURL:    tavilyBaseURL,
		maxResults: 5,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

type tavilySearchResult struct {
	Title         string `json:"title"`
	URL           string `json:"url"`
	Content       string `json:"content"`
	PublishedDate string `json:"published_date"`
}

type tavilySearchResponse struct {
	Results []tavilySearchResult `json:"results"`
}

type tavilyExtractResult struct {
	URL        string `json:"url"`
	RawContent string `json:"raw_content"`
}

type tavilyExtractResponse struct {
	Results       []tavilyExtractResult `json:"results"`
	FailedResults []map[string]any      `json:"failed_results"`
}

func (t *TavilyClient) Extract(ctx context.Context, url string) ([]*WebDocument, error) {
	var resp tavilyExtractResponse
	err := t.post(ctx, "/extract", map[string]any{
		"urls": []string{url},
	}, &resp)
	if err != nil {
		return nil, err
	}

	var docs []*WebDocument
	for _, r := range resp.Results {
		if r.RawContent == "" {
			continue
		}
		docs = append(docs, &WebDocument{
			URL:     r.URL,
			Title:   r.URL,
			Content: r.RawContent,
		})
	}

	if len(docs) == 0 {
		return nil, goerr.Wrap(model.ErrWebFetch, "no content extracted", goerr.V("url", url))
	}

	return docs, nil
}

func (t *TavilyClient) Search(ctx context.Context, query string) ([]*WebDocument, error) {
	var resp tavilySearchResponse
	err := t.post(ctx, "/search", map[string]any{
		"query":        query,
		"max_results":  t.maxResults,
		"search_depth": "advanced",
	}, &resp)
	if err != nil {
		return nil, err
	}

	var docs []*WebDocument
	for _, r := range resp.Results {
		if r.Content == "" {
			continue
		}
		doc := &WebDocument{
			URL:     r.URL,
			Title:   r.Title,
			Content: r.Content,
		}
		if r.PublishedDate != "" {
			if ts, err := time.Parse("2006-01-02", r.PublishedDate); err == nil {
				doc.PublishedAt = ts
			}
		}
		docs = append(docs, doc)
	}

	if len(docs) == 0 {
		return nil, goerr.Wrap(model.ErrWebFetch, "no search results", goerr.V("query", query))
	}

	return docs, nil
}

func (t *TavilyClient) post(ctx context.Context, path string, body map[string]any, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return goerr.Wrap(err, "failed to marshal request body")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return goerr.Wrap(err, "failed to create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+t.apiKey)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return goerr.Wrap(model.ErrWebFetch, "request failed", goerr.V("cause", err.Error()), goerr.V("path", path))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return goerr.Wrap(model.ErrWebFetch, "unexpected status",
			goerr.V("status", resp.StatusCode),
			goerr.V("body", string(raw)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return goerr.Wrap(model.ErrWebFetch, "failed to decode response", goerr.V("cause", err.Error()))
	}

	return nil
}
