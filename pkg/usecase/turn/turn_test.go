package turn_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/m-mizutani/denoise/pkg/adapter"
	"github.com/m-mizutani/denoise/pkg/model"
	"github.com/m-mizutani/denoise/pkg/repository"
	"github.com/m-mizutani/denoise/pkg/tool"
	"github.com/m-mizutani/denoise/pkg/tool/newsarchive"
	"github.com/m-mizutani/denoise/pkg/tool/webfetch"
	"github.com/m-mizutani/denoise/pkg/usecase/turn"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
	"google.golang.org/genai"
)

// Scripted Gemini: replays canned responses and records every call
type genCall struct {
	contents []*genai.Content
	config   *genai.GenerateContentConfig
}

type scriptedGemini struct {
	script []func() (*genai.GenerateContentResponse, error)
	calls  []genCall
}

func (g *scriptedGemini) GenerateContent(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	snapshot := make([]*genai.Content, len(contents))
	copy(snapshot, contents)
	g.calls = append(g.calls, genCall{contents: snapshot, config: config})

	if len(g.script) == 0 {
		return nil, goerr.New("unexpected generation call")
	}
	next := g.script[0]
	g.script = g.script[1:]
	return next()
}

func (g *scriptedGemini) EmbedContent(ctx context.Context, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error) {
	return nil, goerr.New("not implemented")
}

func textResp(text string) func() (*genai.GenerateContentResponse, error) {
	return func() (*genai.GenerateContentResponse, error) {
		return &genai.GenerateContentResponse{
			Candidates: []*genai.Candidate{
				{Content: &genai.Content{
					Role:  genai.RoleModel,
					Parts: []*genai.Part{{Text: text}},
				}},
			},
		}, nil
	}
}

func callResp(calls ...genai.FunctionCall) func() (*genai.GenerateContentResponse, error) {
	return func() (*genai.GenerateContentResponse, error) {
		parts := make([]*genai.Part, 0, len(calls))
		for i := range calls {
			parts = append(parts, &genai.Part{FunctionCall: &calls[i]})
		}
		return &genai.GenerateContentResponse{
			Candidates: []*genai.Candidate{
				{Content: &genai.Content{Role: genai.RoleModel, Parts: parts}},
			},
		}, nil
	}
}

func failResp(msg string) func() (*genai.GenerateContentResponse, error) {
	return func() (*genai.GenerateContentResponse, error) {
		return nil, goerr.New(msg)
	}
}

// Mock retriever backing the archive tool
type mockRetriever struct {
	result    *model.ToolResult
	err       error
	callCount int
	delay     time.Duration
}

func (m *mockRetriever) Retrieve(ctx context.Context, query string, scope model.TimeScope) (*model.ToolResult, error) {
	m.callCount++
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	if m.err != nil {
		return nil, m.err
	}
	if m.result != nil {
		return m.result, nil
	}
	return &model.ToolResult{Source: model.ToolSourceRAG, QueryEcho: query}, nil
}

// Mock Tavily backing the web tool
type mockTavily struct {
	docs      []*adapter.WebDocument
	err       error
	callCount int
}

func (m *mockTavily) Extract(ctx context.Context, url string) ([]*adapter.WebDocument, error) {
	m.callCount++
	if m.err != nil {
		return nil, m.err
	}
	return m.docs, nil
}

func (m *mockTavily) Search(ctx context.Context, query string) ([]*adapter.WebDocument, error) {
	m.callCount++
	if m.err != nil {
		return nil, m.err
	}
	return m.docs, nil
}

func ragArticle(id string, score float64) *model.ToolResult {
	return &model.ToolResult{
		Source: model.ToolSourceRAG,
		Articles: []model.ScoredArticle{
			{
				Article: &model.Article{
					ID:          model.ArticleID(id),
					Title:       "title of " + id,
					Body:        "body of " + id,
					PublishedAt: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
					Source:      model.SourceNewsletter,
				},
				Score: score,
			},
		},
	}
}

type testEnv struct {
	gemini       *scriptedGemini
	retriever    *mockRetriever
	tavily       *mockTavily
	sessions     *repository.Memory
	orchestrator *turn.Orchestrator
}

func newTestEnv(t *testing.T, script []func() (*genai.GenerateContentResponse, error), opts ...turn.Option) *testEnv {
	t.Helper()

	gemini := &scriptedGemini{script: script}
	retriever := &mockRetriever{}
	tavily := &mockTavily{
		docs: []*adapter.WebDocument{
			{URL: "https://example.com/page", Title: "Web page", Content: "Live content."},
		},
	}
	sessions := repository.NewMemory()

	registry := tool.New(newsarchive.New(retriever), webfetch.New(tavily))

	return &testEnv{
		gemini:       gemini,
		retriever:    retriever,
		tavily:       tavily,
		sessions:     sessions,
		orchestrator: turn.New(gemini, registry, sessions, sessions, opts...),
	}
}

func contentsText(contents []*genai.Content) string {
	var b strings.Builder
	for _, c := range contents {
		for _, p := range c.Parts {
			b.WriteString(p.Text)
			b.WriteString("\n")
		}
	}
	return b.String()
}

func systemText(config *genai.GenerateContentConfig) string {
	if config == nil || config.SystemInstruction == nil {
		return ""
	}
	var b strings.Builder
	for _, p := range config.SystemInstruction.Parts {
		b.WriteString(p.Text)
	}
	return b.String()
}

func TestTurnDirectAnswer(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, []func() (*genai.GenerateContentResponse, error){
		textResp("Nothing to look up, here is your answer."),
	})

	output, err := env.orchestrator.HandleTurn(ctx, turn.Input{UserID: "user-1", Message: "hello"})
	gt.NoError(t, err)

	gt.Equal(t, output.Answer, "Nothing to look up, here is your answer.")
	gt.False(t, output.Incomplete)
	gt.A(t, output.Sources).Length(0)
	gt.Equal(t, env.retriever.callCount, 0)

	// Only user and assistant turns are committed
	session, err := env.sessions.Get(ctx, "user-1")
	gt.NoError(t, err)
	gt.A(t, session.Turns).Length(2)
	gt.Equal(t, session.Turns[0].Role, model.RoleUser)
	gt.Equal(t, session.Turns[0].Content, "hello")
	gt.Equal(t, session.Turns[1].Role, model.RoleAssistant)
}

func TestTurnHistoryFeedsNextTurn(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, []func() (*genai.GenerateContentResponse, error){
		textResp("first answer"),
		textResp("second answer"),
	})

	_, err := env.orchestrator.HandleTurn(ctx, turn.Input{UserID: "user-1", Message: "first question"})
	gt.NoError(t, err)
	_, err = env.orchestrator.HandleTurn(ctx, turn.Input{UserID: "user-1", Message: "second question"})
	gt.NoError(t, err)

	gt.A(t, env.gemini.calls).Length(2)
	secondContext := contentsText(env.gemini.calls[1].contents)
	gt.S(t, secondContext).Contains("first question")
	gt.S(t, secondContext).Contains("first answer")
	gt.S(t, secondContext).Contains("second question")
}

func TestTurnWithArchiveTool(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, []func() (*genai.GenerateContentResponse, error){
		callResp(genai.FunctionCall{
			Name: "search_news_archive",
			Args: map[string]any{"query": "acme funding", "time_scope": "weekly"},
		}),
		textResp("Acme raised $10M last week."),
	})
	env.retriever.result = ragArticle("a1", 0.9)

	output, err := env.orchestrator.HandleTurn(ctx, turn.Input{UserID: "user-1", Message: "any acme news?"})
	gt.NoError(t, err)

	gt.Equal(t, env.retriever.callCount, 1)
	gt.Equal(t, output.Answer, "Acme raised $10M last week.")
	gt.A(t, output.Sources).Length(1)
	gt.Equal(t, output.Sources[0].Article.ID, model.ArticleID("a1"))

	// Second generation call sees the function response
	gt.A(t, env.gemini.calls).Length(2)
	var hasFuncResp bool
	for _, c := range env.gemini.calls[1].contents {
		for _, p := range c.Parts {
			if p.FunctionResponse != nil && p.FunctionResponse.Name == "search_news_archive" {
				hasFuncResp = true
			}
		}
	}
	gt.True(t, hasFuncResp)

	// Tool traffic is not persisted
	session, err := env.sessions.Get(ctx, "user-1")
	gt.NoError(t, err)
	gt.A(t, session.Turns).Length(2)
}

func TestTurnBudgetForcesResponse(t *testing.T) {
	ctx := context.Background()
	repeatCall := func() func() (*genai.GenerateContentResponse, error) {
		return callResp(genai.FunctionCall{
			Name: "search_news_archive",
			Args: map[string]any{"query": "more", "time_scope": "daily"},
		})
	}
	env := newTestEnv(t, []func() (*genai.GenerateContentResponse, error){
		repeatCall(),
		repeatCall(),
		textResp("Best effort answer from what I found."),
	}, turn.WithMaxToolRounds(2))

	output, err := env.orchestrator.HandleTurn(ctx, turn.Input{UserID: "user-1", Message: "dig deep"})
	gt.NoError(t, err)

	gt.True(t, output.Incomplete)
	gt.Equal(t, output.Answer, "Best effort answer from what I found.")
	gt.Equal(t, env.retriever.callCount, 2)

	// The forced round disables function calling and injects the note
	gt.A(t, env.gemini.calls).Length(3)
	last := env.gemini.calls[2]
	gt.Equal(t, last.config.ToolConfig.FunctionCallingConfig.Mode, genai.FunctionCallingConfigModeNone)
	gt.S(t, contentsText(last.contents)).Contains("budget")
}

func TestTurnWebFetchErrorStillCompletes(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, []func() (*genai.GenerateContentResponse, error){
		callResp(genai.FunctionCall{
			Name: "fetch_web_content",
			Args: map[string]any{"url": "https://example.com/broken"},
		}),
		textResp("The page could not be fetched, answering from what I know."),
	})
	env.tavily.err = goerr.Wrap(model.ErrWebFetch, "fetch failed")

	output, err := env.orchestrator.HandleTurn(ctx, turn.Input{UserID: "user-1", Message: "summarize https://example.com/broken"})
	gt.NoError(t, err)
	gt.True(t, output.Answer != "")
	gt.False(t, output.Incomplete)

	// The error went back to generation as a tool-error response
	var hasErrResp bool
	for _, c := range env.gemini.calls[1].contents {
		for _, p := range c.Parts {
			if p.FunctionResponse != nil {
				if _, ok := p.FunctionResponse.Response["error"]; ok {
					hasErrResp = true
				}
			}
		}
	}
	gt.True(t, hasErrResp)

	// Committed history holds only the clean user/assistant pair
	session, err := env.sessions.Get(ctx, "user-1")
	gt.NoError(t, err)
	gt.A(t, session.Turns).Length(2)
	for _, committed := range session.Turns {
		gt.True(t, committed.Role == model.RoleUser || committed.Role == model.RoleAssistant)
	}
}

func TestTurnURLOnlyUsesWebTool(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, []func() (*genai.GenerateContentResponse, error){
		callResp(genai.FunctionCall{
			Name: "fetch_web_content",
			Args: map[string]any{"url": "https://example.com/page"},
		}),
		textResp("Summary of the page."),
	})

	output, err := env.orchestrator.HandleTurn(ctx, turn.Input{UserID: "user-1", Message: "read https://example.com/page"})
	gt.NoError(t, err)

	gt.Equal(t, env.retriever.callCount, 0)
	gt.Equal(t, env.tavily.callCount, 1)
	gt.A(t, output.Sources).Length(1)
	gt.Equal(t, output.Sources[0].Article.Source, model.SourceWeb)
}

func TestTurnParallelCallsJoinInRequestOrder(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, []func() (*genai.GenerateContentResponse, error){
		callResp(
			genai.FunctionCall{
				Name: "search_news_archive",
				Args: map[string]any{"query": "acme", "time_scope": "weekly"},
			},
			genai.FunctionCall{
				Name: "fetch_web_content",
				Args: map[string]any{"query": "acme live"},
			},
		),
		textResp("Combined answer."),
	})
	// The archive call finishes last but must still come first
	env.retriever.delay = 50 * time.Millisecond
	env.retriever.result = ragArticle("a1", 0.9)

	output, err := env.orchestrator.HandleTurn(ctx, turn.Input{UserID: "user-1", Message: "acme news"})
	gt.NoError(t, err)

	var names []string
	for _, c := range env.gemini.calls[1].contents {
		for _, p := range c.Parts {
			if p.FunctionResponse != nil {
				names = append(names, p.FunctionResponse.Name)
			}
		}
	}
	gt.A(t, names).Length(2)
	gt.Equal(t, names[0], "search_news_archive")
	gt.Equal(t, names[1], "fetch_web_content")

	// Both sources fused into the output
	gt.A(t, output.Sources).Length(2)
}

func TestTurnGenerationFailureCommitsNothing(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, []func() (*genai.GenerateContentResponse, error){
		failResp("model overloaded"),
	})

	_, err := env.orchestrator.HandleTurn(ctx, turn.Input{UserID: "user-1", Message: "hello"})
	gt.Error(t, err)
	gt.True(t, errors.Is(err, model.ErrGenerationUnavailable))

	_, err = env.sessions.Get(ctx, "user-1")
	gt.True(t, errors.Is(err, repository.ErrSessionNotFound))
}

func TestTurnPersonalizationInjectedEveryRound(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, []func() (*genai.GenerateContentResponse, error){
		callResp(genai.FunctionCall{
			Name: "search_news_archive",
			Args: map[string]any{"query": "news", "time_scope": "daily"},
		}),
		textResp("Hello Ana, here is the news."),
	})
	gt.NoError(t, env.sessions.PutProfile(ctx, &model.Profile{
		UserID:             "ana",
		DisplayName:        "Ana",
		SystemInstructions: "Prefer concise answers.",
	}))

	_, err := env.orchestrator.HandleTurn(ctx, turn.Input{UserID: "ana", Message: "any news?"})
	gt.NoError(t, err)

	// Every generation call carries the personalized system instruction
	gt.A(t, env.gemini.calls).Length(2)
	for _, call := range env.gemini.calls {
		sys := systemText(call.config)
		gt.S(t, sys).Contains("Ana")
		gt.S(t, sys).Contains("Prefer concise answers.")
	}
}

func TestTurnAnonymousSkipsProfile(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, []func() (*genai.GenerateContentResponse, error){
		textResp("answer"),
	})

	_, err := env.orchestrator.HandleTurn(ctx, turn.Input{Message: "hello"})
	gt.NoError(t, err)

	session, err := env.sessions.Get(ctx, model.AnonymousUserID)
	gt.NoError(t, err)
	gt.A(t, session.Turns).Length(2)
}

func TestTurnEmptyMessageRejected(t *testing.T) {
	env := newTestEnv(t, nil)
	_, err := env.orchestrator.HandleTurn(context.Background(), turn.Input{UserID: "user-1"})
	gt.Error(t, err)
}
