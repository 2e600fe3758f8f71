package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/m-mizutani/goerr/v2"
)

const elevenLabsBaseURL = "https://api.elevenlabs.io"

// Speech converts a narration script into encoded audio. The encoding
// itself happens upstream; this is only the network adapter.
type Speech interface {
	Synthesize(ctx context.Context, script string) ([]byte, error)
}

type ElevenLabsClient struct {
	apiKey     string
	voiceID    string
	modelID    string
	baseURL    string
	httpClient *http.Client
}

type ElevenLabsOption func(*ElevenLabsClient)

func WithVoiceID(voiceID string) ElevenLabsOption {
	return func(e *ElevenLabsClient) {
		e.voiceID = voiceID
	}
}

// WithElevenLabsBaseURL overrides the API endpoint, mainly for tests
func WithElevenLabsBaseURL(url string) ElevenLabsOption {
	return func(e *ElevenLabsClient) {
		e.baseURL = url
	}
}

func NewElevenLabs(apiKey string, opts ...ElevenLabsOption) *ElevenLabsClient {
	e := &ElevenLabsClient{
		apiKey:  apiKey,
		voiceID: "q0IMILNRPxOgtBTS4taI",
		modelID: "eleven_multilingual_v2",
		baseURL: elevenLabsBaseURL,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

func (e *ElevenLabsClient) Synthesize(ctx context.Context, script string) ([]byte, error) {
	body, err := json.Marshal(map[string]any{
		"text":     script,
		"model_id": e.modelID,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to marshal request body")
	}

	url := e.baseURL + "/v1/text-to-speech/" + e.voiceID + "?output_format=mp3_44100_128"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", e.apiKey)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, goerr.Wrap(err, "speech synthesis request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return nil, goerr.New("speech synthesis returned error",
			goerr.V("status", resp.StatusCode),
			goerr.V("body", string(raw)))
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read audio body")
	}
	if len(audio) == 0 {
		return nil, goerr.New("speech synthesis returned empty audio")
	}

	return audio, nil
}
