package report

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"text/template"

	"github.com/m-mizutani/denoise/pkg/adapter"
	"github.com/m-mizutani/denoise/pkg/model"
	"github.com/m-mizutani/denoise/pkg/repository"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/genai"
)

//go:embed prompt/report.md
var reportPromptRaw string

var reportPromptTmpl = template.Must(template.New("report").Parse(reportPromptRaw))

// DefaultStructure is the section layout used when the caller does not
// request one
const DefaultStructure = "Introduction, Extensive Summary, Wrap up"

// Retriever is satisfied by retrieval.Retriever
type Retriever interface {
	Retrieve(ctx context.Context, query string, scope model.TimeScope) (*model.ToolResult, error)
}

// Generator builds topic reports with deterministic retrieval. Unlike the
// chat flow there is no function calling; articles are retrieved once and
// pasted into a single generation call.
type Generator struct {
	gemini    adapter.Gemini
	retriever Retriever
	profiles  repository.ProfileStore
}

func New(gemini adapter.Gemini, retriever Retriever, profiles repository.ProfileStore) *Generator {
	return &Generator{
		gemini:    gemini,
		retriever: retriever,
		profiles:  profiles,
	}
}

type Input struct {
	UserID    string
	Topics    string
	Scope     model.TimeScope
	Structure string
}

// Generate retrieves in-scope articles for the topics and writes a report
func (x *Generator) Generate(ctx context.Context, input Input) (string, error) {
	if input.Topics == "" {
		return "", goerr.New("topics are required")
	}
	scope := input.Scope
	if scope == "" {
		scope = model.DefaultTimeScope
	}
	structure := input.Structure
	if structure == "" {
		structure = DefaultStructure
	}

	result, err := x.retriever.Retrieve(ctx, input.Topics, scope)
	if err != nil {
		return "", goerr.Wrap(err, "retrieval for report failed")
	}
	if len(result.Articles) == 0 {
		return "", goerr.New("no articles found for report", goerr.V("topics", input.Topics), goerr.V("scope", scope))
	}

	var customInstructions string
	if input.UserID != "" && input.UserID != model.AnonymousUserID {
		profile, err := x.profiles.GetProfile(ctx, input.UserID)
		if err != nil && !errors.Is(err, repository.ErrProfileNotFound) {
			return "", goerr.Wrap(err, "failed to load profile")
		}
		if profile != nil {
			customInstructions = profile.SystemInstructions
		}
	}

	var buf bytes.Buffer
	if err := reportPromptTmpl.Execute(&buf, map[string]any{
		"Structure":          structure,
		"CustomInstructions": customInstructions,
		"Context":            contextBlock(result),
	}); err != nil {
		return "", goerr.Wrap(err, "failed to render report prompt")
	}

	resp, err := x.gemini.GenerateContent(ctx,
		[]*genai.Content{genai.NewContentFromText("Write the report on: "+input.Topics, genai.RoleUser)},
		&genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(buf.String(), ""),
		},
	)
	if err != nil {
		return "", goerr.Wrap(model.ErrGenerationUnavailable, "report generation failed", goerr.V("cause", err.Error()))
	}

	text := responseText(resp)
	if text == "" {
		return "", goerr.Wrap(model.ErrGenerationUnavailable, "report generation produced no text")
	}

	return text, nil
}

func contextBlock(result *model.ToolResult) string {
	var b strings.Builder
	for i, sa := range result.Articles {
		fmt.Fprintf(&b, "## Article %d: %s\n", i+1, sa.Article.Title)
		fmt.Fprintf(&b, "Published: %s\n\n", sa.Article.PublishedAt.Format("2006-01-02"))
		fmt.Fprintf(&b, "%s\n\n", sa.Article.Body)
	}
	return b.String()
}

func responseText(resp *genai.GenerateContentResponse) string {
	var b strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			b.WriteString(part.Text)
		}
	}
	return b.String()
}
