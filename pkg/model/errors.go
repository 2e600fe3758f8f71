package model

import "github.com/m-mizutani/goerr/v2"

// Failure taxonomy. Tool-local failures (web fetch, store loss during
// retrieval, invalid tool arguments) are recovered into tool-error
// responses visible to the generation step; generation failures are fatal
// to the turn.
var (
	ErrEmbeddingUnavailable  = goerr.New("embedding service unavailable")
	ErrStoreUnavailable      = goerr.New("article store unavailable")
	ErrWebFetch              = goerr.New("web content fetch failed")
	ErrGenerationUnavailable = goerr.New("generation service unavailable")
	ErrToolArgumentInvalid   = goerr.New("invalid tool arguments")
)
