package turn

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"strings"
	"text/template"
	"time"

	"github.com/m-mizutani/denoise/pkg/adapter"
	"github.com/m-mizutani/denoise/pkg/model"
	"github.com/m-mizutani/denoise/pkg/repository"
	"github.com/m-mizutani/denoise/pkg/retrieval"
	"github.com/m-mizutani/denoise/pkg/tool"
	"github.com/m-mizutani/denoise/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/genai"
)

//go:embed prompt/system.md
var systemPromptRaw string

var systemPromptTmpl = template.Must(template.New("system").Parse(systemPromptRaw))

const (
	defaultHistoryWindow = 20
	defaultMaxToolRounds = 3
	defaultToolTimeout   = 30 * time.Second

	// budgetNote is injected before the forced final generation round
	budgetNote = "The tool call budget for this turn is exhausted. Answer now with the information gathered so far, and note that retrieval may be incomplete."
)

// Orchestrator drives one user turn from query to committed answer. It
// loops between generation and tool execution until the generation step
// yields text, then appends the user message and the answer to session
// history in a single write.
type Orchestrator struct {
	gemini   adapter.Gemini
	registry *tool.Registry
	sessions repository.SessionStore
	profiles repository.ProfileStore

	now           func() time.Time
	historyWindow int
	maxToolRounds int
	toolTimeout   time.Duration
}

type Option func(*Orchestrator)

// WithHistoryWindow caps how many trailing turns feed the generation context
func WithHistoryWindow(n int) Option {
	return func(x *Orchestrator) {
		x.historyWindow = n
	}
}

// WithMaxToolRounds sets the per-turn tool call budget
func WithMaxToolRounds(n int) Option {
	return func(x *Orchestrator) {
		x.maxToolRounds = n
	}
}

// WithToolTimeout sets the per-tool-call timeout
func WithToolTimeout(d time.Duration) Option {
	return func(x *Orchestrator) {
		x.toolTimeout = d
	}
}

// WithClock overrides the timestamp source for committed turns
func WithClock(now func() time.Time) Option {
	return func(x *Orchestrator) {
		x.now = now
	}
}

func New(gemini adapter.Gemini, registry *tool.Registry, sessions repository.SessionStore, profiles repository.ProfileStore, opts ...Option) *Orchestrator {
	x := &Orchestrator{
		gemini:   gemini,
		registry: registry,
		sessions: sessions,
		profiles: profiles,

		now:           time.Now,
		historyWindow: defaultHistoryWindow,
		maxToolRounds: defaultMaxToolRounds,
		toolTimeout:   defaultToolTimeout,
	}

	for _, opt := range opts {
		opt(x)
	}

	return x
}

// Input is one user query bound to a session
type Input struct {
	UserID  string
	Message string
}

// Output is the committed result of a turn. Incomplete marks answers
// produced after the tool budget forced an early response.
type Output struct {
	Answer     string
	Sources    []model.ScoredArticle
	Incomplete bool
}

// HandleTurn runs the full generation loop for one user message. Nothing
// is written to session history until the answer exists, so an abandoned
// or failed turn leaves the session untouched.
func (x *Orchestrator) HandleTurn(ctx context.Context, input Input) (*Output, error) {
	if input.Message == "" {
		return nil, goerr.New("empty message")
	}
	userID := input.UserID
	if userID == "" {
		userID = model.AnonymousUserID
	}

	logger := logging.From(ctx)

	session, err := x.sessions.Get(ctx, userID)
	if err != nil && !errors.Is(err, repository.ErrSessionNotFound) {
		return nil, goerr.Wrap(err, "failed to load session")
	}

	var profile *model.Profile
	if userID != model.AnonymousUserID {
		profile, err = x.profiles.GetProfile(ctx, userID)
		if err != nil && !errors.Is(err, repository.ErrProfileNotFound) {
			return nil, goerr.Wrap(err, "failed to load profile")
		}
	}

	systemPrompt, err := x.buildSystemPrompt(ctx, profile)
	if err != nil {
		return nil, err
	}

	contents := historyContents(session, x.historyWindow)
	contents = append(contents, genai.NewContentFromText(input.Message, genai.RoleUser))

	var (
		answer      strings.Builder
		toolResults []*model.ToolResult
		incomplete  bool
	)

	// One extra round past the budget, with tools disabled, forces a
	// text answer instead of raising an error when the budget runs out.
	for round := 0; round <= x.maxToolRounds; round++ {
		allowTools := round < x.maxToolRounds
		if !allowTools {
			incomplete = true
			contents = append(contents, genai.NewContentFromText(budgetNote, genai.RoleUser))
		}

		config := &genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(systemPrompt, ""),
			Tools:             x.registry.Specs(),
		}
		if !allowTools {
			config.ToolConfig = &genai.ToolConfig{
				FunctionCallingConfig: &genai.FunctionCallingConfig{
					Mode: genai.FunctionCallingConfigModeNone,
				},
			}
		}

		resp, err := x.gemini.GenerateContent(ctx, contents, config)
		if err != nil {
			return nil, goerr.Wrap(model.ErrGenerationUnavailable, "generation failed", goerr.V("cause", err.Error()))
		}

		var calls []genai.FunctionCall
		answer.Reset()
		for _, candidate := range resp.Candidates {
			if candidate.Content == nil {
				continue
			}
			contents = append(contents, candidate.Content)

			for _, part := range candidate.Content.Parts {
				if part.Text != "" {
					answer.WriteString(part.Text)
				}
				if part.FunctionCall != nil {
					calls = append(calls, *part.FunctionCall)
				}
			}
		}

		if len(calls) == 0 {
			break
		}
		if !allowTools {
			// ModeNone should prevent this; drop the calls and keep
			// whatever text came with them
			logger.Warn("function calls after tool budget exhausted", "count", len(calls))
			break
		}

		dispatched := x.dispatch(ctx, calls)

		// Responses are joined in request order, not completion order
		parts := make([]*genai.Part, 0, len(dispatched))
		for _, d := range dispatched {
			if d.err != nil {
				logger.Warn("tool call failed", "tool", d.call.Name, "error", d.err)
				parts = append(parts, &genai.Part{FunctionResponse: &genai.FunctionResponse{
					Name:     d.call.Name,
					Response: map[string]any{"error": d.err.Error()},
				}})
				continue
			}
			parts = append(parts, &genai.Part{FunctionResponse: d.out.Response})
			if d.out.Result != nil {
				toolResults = append(toolResults, d.out.Result)
			}
		}
		contents = append(contents, &genai.Content{
			Role:  genai.RoleUser,
			Parts: parts,
		})
	}

	if answer.Len() == 0 {
		return nil, goerr.Wrap(model.ErrGenerationUnavailable, "generation produced no answer text")
	}

	now := x.now()
	if err := x.sessions.AppendTurns(ctx, userID,
		model.ConversationTurn{Role: model.RoleUser, Content: input.Message, Timestamp: now},
		model.ConversationTurn{Role: model.RoleAssistant, Content: answer.String(), Timestamp: now},
	); err != nil {
		return nil, goerr.Wrap(err, "failed to commit turn to session")
	}

	return &Output{
		Answer:     answer.String(),
		Sources:    retrieval.Fuse(toolResults, 0),
		Incomplete: incomplete,
	}, nil
}

// buildSystemPrompt renders the system instruction with per-user
// personalization. Injected every round, not just the first.
func (x *Orchestrator) buildSystemPrompt(ctx context.Context, profile *model.Profile) (string, error) {
	data := map[string]any{
		"ToolGuidance": x.registry.Prompts(ctx),
	}
	if profile != nil {
		data["DisplayName"] = profile.DisplayName
		data["CustomInstructions"] = profile.SystemInstructions
	}

	var buf bytes.Buffer
	if err := systemPromptTmpl.Execute(&buf, data); err != nil {
		return "", goerr.Wrap(err, "failed to render system prompt")
	}

	return buf.String(), nil
}

// historyContents converts committed session turns into generation
// context. Only user and assistant turns are persisted, so tool traffic
// never leaks across turns.
func historyContents(session *model.Session, window int) []*genai.Content {
	if session == nil {
		return nil
	}

	turns := session.Window(window)
	contents := make([]*genai.Content, 0, len(turns)+2)
	for _, t := range turns {
		switch t.Role {
		case model.RoleUser:
			contents = append(contents, genai.NewContentFromText(t.Content, genai.RoleUser))
		case model.RoleAssistant:
			contents = append(contents, genai.NewContentFromText(t.Content, genai.RoleModel))
		}
	}

	return contents
}
