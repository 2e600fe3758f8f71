package podcast

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"text/template"

	"github.com/google/uuid"
	"github.com/m-mizutani/denoise/pkg/adapter"
	"github.com/m-mizutani/denoise/pkg/model"
	"github.com/m-mizutani/denoise/pkg/repository"
	"github.com/m-mizutani/denoise/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/genai"
)

//go:embed prompt/script.md
var scriptPromptRaw string

var scriptPromptTmpl = template.Must(template.New("script").Parse(scriptPromptRaw))

// DefaultStructure is the narration style used when the caller does not
// request one
const DefaultStructure = "interview_style"

// Retriever is satisfied by retrieval.Retriever
type Retriever interface {
	Retrieve(ctx context.Context, query string, scope model.TimeScope) (*model.ToolResult, error)
}

// Generator produces narration audio from in-scope articles. Retrieval is
// deterministic like the report flow; the script then goes through the
// speech adapter and the audio lands in object storage.
type Generator struct {
	gemini    adapter.Gemini
	retriever Retriever
	speech    adapter.Speech
	storage   adapter.Storage
	profiles  repository.ProfileStore
}

func New(gemini adapter.Gemini, retriever Retriever, speech adapter.Speech, storage adapter.Storage, profiles repository.ProfileStore) *Generator {
	return &Generator{
		gemini:    gemini,
		retriever: retriever,
		speech:    speech,
		storage:   storage,
		profiles:  profiles,
	}
}

type Input struct {
	UserID    string
	Topics    string
	Scope     model.TimeScope
	Structure string
}

// Output names the stored audio object and carries the generated script
type Output struct {
	ObjectKey string
	Script    string
}

// Generate retrieves articles, writes a narration script, synthesizes
// audio, and stores it. Returns the storage key of the audio object.
func (x *Generator) Generate(ctx context.Context, input Input) (*Output, error) {
	if input.Topics == "" {
		return nil, goerr.New("topics are required")
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
		return nil, goerr.Wrap(err, "retrieval for podcast failed")
	}
	if len(result.Articles) == 0 {
		return nil, goerr.New("no articles found for podcast", goerr.V("topics", input.Topics), goerr.V("scope", scope))
	}

	var customInstructions string
	if input.UserID != "" && input.UserID != model.AnonymousUserID {
		profile, err := x.profiles.GetProfile(ctx, input.UserID)
		if err != nil && !errors.Is(err, repository.ErrProfileNotFound) {
			return nil, goerr.Wrap(err, "failed to load profile")
		}
		if profile != nil {
			customInstructions = profile.SystemInstructions
		}
	}

	var buf bytes.Buffer
	if err := scriptPromptTmpl.Execute(&buf, map[string]any{
		"Structure":          structure,
		"CustomInstructions": customInstructions,
		"Context":            contextBlock(result),
	}); err != nil {
		return nil, goerr.Wrap(err, "failed to render script prompt")
	}

	resp, err := x.gemini.GenerateContent(ctx,
		[]*genai.Content{genai.NewContentFromText("Write the narration script on: "+input.Topics, genai.RoleUser)},
		&genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(buf.String(), ""),
		},
	)
	if err != nil {
		return nil, goerr.Wrap(model.ErrGenerationUnavailable, "script generation failed", goerr.V("cause", err.Error()))
	}

	script := responseText(resp)
	if script == "" {
		return nil, goerr.Wrap(model.ErrGenerationUnavailable, "script generation produced no text")
	}

	audio, err := x.speech.Synthesize(ctx, script)
	if err != nil {
		return nil, goerr.Wrap(err, "speech synthesis failed")
	}

	key := "narrations/" + uuid.New().String() + ".mp3"
	w, err := x.storage.Put(ctx, key)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open storage object", goerr.V("key", key))
	}
	if _, err := w.Write(audio); err != nil {
		_ = w.Close()
		return nil, goerr.Wrap(err, "failed to write audio", goerr.V("key", key))
	}
	if err := w.Close(); err != nil {
		return nil, goerr.Wrap(err, "failed to finalize audio object", goerr.V("key", key))
	}

	logging.From(ctx).Info("narration stored", "key", key, "bytes", len(audio))

	return &Output{ObjectKey: key, Script: script}, nil
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
