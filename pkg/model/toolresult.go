package model

import "github.com/m-mizutani/goerr/v2"

// ToolSource identifies which retrieval path produced a ToolResult
type ToolSource string

const (
	ToolSourceRAG ToolSource = "rag"
	ToolSourceWeb ToolSource = "web"
)

// Validate checks if the tool source is valid
func (s ToolSource) Validate() error {
	switch s {
	case ToolSourceRAG, ToolSourceWeb:
		return nil
	default:
		return goerr.New("invalid tool source", goerr.V("source", s))
	}
}

// ToolResult is the normalized output of one tool call. It is consumed by
// the orchestrator within the turn and never persisted. An empty Articles
// slice is a valid outcome meaning nothing matched, not a failure.
type ToolResult struct {
	Source    ToolSource
	Articles  []ScoredArticle
	QueryEcho string
}
