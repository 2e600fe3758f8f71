package tool

import (
	"context"

	"github.com/m-mizutani/denoise/pkg/model"
	"github.com/urfave/cli/v3"
	"google.golang.org/genai"
)

// Output is the result of one tool execution. Response goes back to the
// generation step; Result carries the structured articles for source
// fusion and is nil for tools that return no articles.
type Output struct {
	Response *genai.FunctionResponse
	Result   *model.ToolResult
}

// Tool represents an external capability the generation step can request
type Tool interface {
	// Spec returns the tool specification for Gemini function calling
	Spec() *genai.Tool

	// Execute runs the tool with the given function call
	Execute(ctx context.Context, fc genai.FunctionCall) (*Output, error)

	// Prompt returns additional information to be added to the system prompt.
	// Returns empty string if no additional prompt is needed
	Prompt(ctx context.Context) string

	// Flags returns CLI flags for this tool, nil if none
	Flags() []cli.Flag
}
