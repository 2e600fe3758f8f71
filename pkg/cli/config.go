package cli

import (
	"context"
	"os"
	"time"

	"github.com/m-mizutani/denoise/pkg/adapter"
	"github.com/m-mizutani/denoise/pkg/embedding"
	"github.com/m-mizutani/denoise/pkg/model"
	"github.com/m-mizutani/denoise/pkg/repository"
	"github.com/m-mizutani/denoise/pkg/retrieval"
	"github.com/m-mizutani/denoise/pkg/tool"
	"github.com/m-mizutani/denoise/pkg/tool/newsarchive"
	"github.com/m-mizutani/denoise/pkg/tool/webfetch"
	"github.com/m-mizutani/denoise/pkg/usecase/turn"
	"github.com/m-mizutani/denoise/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// config holds configuration values
type config struct {
	logLevel   string
	configPath string
	userID     string

	// Repository
	project  string
	database string
	persist  bool

	// Adapters
	geminiProject   string
	geminiLocation  string
	generativeModel string
	embeddingModel  string
	dimension       int64

	tavilyAPIKey string

	elevenLabsAPIKey string
	voiceID          string
	bucket           string

	// Retrieval and turn tuning
	topK          int64
	perFieldK     int64
	maxToolRounds int64
	historyWindow int64
	referenceTime string
}

// fileConfig is the optional YAML config file for deployment constants.
// Flags and env vars take precedence; file values fill what was left at
// its zero value.
type fileConfig struct {
	GenerativeModel string `yaml:"generative_model"`
	EmbeddingModel  string `yaml:"embedding_model"`
	Dimension       int64  `yaml:"dimension"`
	TopK            int64  `yaml:"top_k"`
	PerFieldK       int64  `yaml:"per_field_k"`
	MaxToolRounds   int64  `yaml:"max_tool_rounds"`
	HistoryWindow   int64  `yaml:"history_window"`
	ReferenceTime   string `yaml:"reference_time"`
	VoiceID         string `yaml:"voice_id"`
}

// globalFlags returns common flags used across commands with destination config
func globalFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "Log level (debug, info, warn, error)",
			Value:       "info",
			Sources:     cli.EnvVars("DENOISE_LOG_LEVEL"),
			Destination: &cfg.logLevel,
		},
		&cli.StringFlag{
			Name:        "config",
			Aliases:     []string{"c"},
			Usage:       "Path to YAML config file",
			Sources:     cli.EnvVars("DENOISE_CONFIG"),
			Destination: &cfg.configPath,
		},
		&cli.StringFlag{
			Name:        "user",
			Aliases:     []string{"u"},
			Usage:       "User ID for session and personalization",
			Value:       model.AnonymousUserID,
			Sources:     cli.EnvVars("DENOISE_USER_ID"),
			Destination: &cfg.userID,
		},
	}
}

// storeFlags returns Firestore and session persistence flags
func storeFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "project",
			Aliases:     []string{"p"},
			Usage:       "Google Cloud project ID",
			Sources:     cli.EnvVars("GOOGLE_CLOUD_PROJECT"),
			Destination: &cfg.project,
		},
		&cli.StringFlag{
			Name:        "database",
			Aliases:     []string{"d"},
			Usage:       "Firestore database ID",
			Value:       "(default)",
			Sources:     cli.EnvVars("FIRESTORE_DATABASE_ID"),
			Destination: &cfg.database,
		},
		&cli.BoolFlag{
			Name:        "persist-sessions",
			Usage:       "Keep session history in Firestore instead of process memory",
			Sources:     cli.EnvVars("DENOISE_PERSIST_SESSIONS"),
			Destination: &cfg.persist,
		},
	}
}

// llmFlags returns flags for generation and embedding configuration
func llmFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "gemini-project",
			Usage:       "Google Cloud project ID for Gemini",
			Sources:     cli.EnvVars("GEMINI_PROJECT_ID"),
			Destination: &cfg.geminiProject,
		},
		&cli.StringFlag{
			Name:        "gemini-location",
			Usage:       "Google Cloud location for Gemini",
			Value:       "us-central1",
			Sources:     cli.EnvVars("GEMINI_LOCATION"),
			Destination: &cfg.geminiLocation,
		},
		&cli.StringFlag{
			Name:        "generative-model",
			Usage:       "Gemini model for generation",
			Sources:     cli.EnvVars("DENOISE_GENERATIVE_MODEL"),
			Destination: &cfg.generativeModel,
		},
		&cli.StringFlag{
			Name:        "embedding-model",
			Usage:       "Gemini model for embeddings",
			Sources:     cli.EnvVars("DENOISE_EMBEDDING_MODEL"),
			Destination: &cfg.embeddingModel,
		},
		&cli.IntFlag{
			Name:        "dimension",
			Usage:       "Embedding output dimensionality",
			Value:       embedding.DefaultDimension,
			Sources:     cli.EnvVars("DENOISE_EMBEDDING_DIMENSION"),
			Destination: &cfg.dimension,
		},
	}
}

// retrievalFlags returns flags tuning archive retrieval
func retrievalFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:        "top-k",
			Usage:       "Number of articles in the final ranked output",
			Sources:     cli.EnvVars("DENOISE_TOP_K"),
			Destination: &cfg.topK,
		},
		&cli.IntFlag{
			Name:        "per-field-k",
			Usage:       "Number of candidates per vector field",
			Sources:     cli.EnvVars("DENOISE_PER_FIELD_K"),
			Destination: &cfg.perFieldK,
		},
		&cli.StringFlag{
			Name:        "reference-time",
			Usage:       "Freeze time scope resolution at this RFC3339 instant",
			Sources:     cli.EnvVars("DENOISE_REFERENCE_TIME"),
			Destination: &cfg.referenceTime,
		},
	}
}

// turnFlags returns flags tuning the orchestration loop
func turnFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:        "max-tool-rounds",
			Usage:       "Tool call budget per turn",
			Sources:     cli.EnvVars("DENOISE_MAX_TOOL_ROUNDS"),
			Destination: &cfg.maxToolRounds,
		},
		&cli.IntFlag{
			Name:        "history-window",
			Usage:       "Trailing turns fed into generation context",
			Sources:     cli.EnvVars("DENOISE_HISTORY_WINDOW"),
			Destination: &cfg.historyWindow,
		},
	}
}

// webFlags returns flags for the live web retrieval service
func webFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "tavily-api-key",
			Usage:       "Tavily API key for live web retrieval",
			Sources:     cli.EnvVars("TAVILY_API_KEY"),
			Destination: &cfg.tavilyAPIKey,
		},
	}
}

// speechFlags returns flags for narration synthesis and storage
func speechFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "elevenlabs-api-key",
			Usage:       "ElevenLabs API key for speech synthesis",
			Sources:     cli.EnvVars("ELEVENLABS_API_KEY"),
			Destination: &cfg.elevenLabsAPIKey,
		},
		&cli.StringFlag{
			Name:        "voice-id",
			Usage:       "ElevenLabs voice ID",
			Sources:     cli.EnvVars("DENOISE_VOICE_ID"),
			Destination: &cfg.voiceID,
		},
		&cli.StringFlag{
			Name:        "bucket",
			Usage:       "Cloud Storage bucket for narration audio",
			Sources:     cli.EnvVars("DENOISE_BUCKET"),
			Destination: &cfg.bucket,
		},
	}
}

// setup merges the optional config file and installs the logger into the
// context. Call it first in every command action.
func (cfg *config) setup(ctx context.Context) (context.Context, error) {
	if cfg.configPath != "" {
		raw, err := os.ReadFile(cfg.configPath)
		if err != nil {
			return ctx, goerr.Wrap(err, "failed to read config file", goerr.V("path", cfg.configPath))
		}
		var fc fileConfig
		if err := yaml.Unmarshal(raw, &fc); err != nil {
			return ctx, goerr.Wrap(err, "failed to parse config file", goerr.V("path", cfg.configPath))
		}
		cfg.applyFile(&fc)
	}

	logger := logging.New(cfg.logLevel, os.Stderr)
	logging.SetDefault(logger)
	return logging.With(ctx, logger), nil
}

func (cfg *config) applyFile(fc *fileConfig) {
	if cfg.generativeModel == "" {
		cfg.generativeModel = fc.GenerativeModel
	}
	if cfg.embeddingModel == "" {
		cfg.embeddingModel = fc.EmbeddingModel
	}
	if fc.Dimension != 0 && cfg.dimension == embedding.DefaultDimension {
		cfg.dimension = fc.Dimension
	}
	if cfg.topK == 0 {
		cfg.topK = fc.TopK
	}
	if cfg.perFieldK == 0 {
		cfg.perFieldK = fc.PerFieldK
	}
	if cfg.maxToolRounds == 0 {
		cfg.maxToolRounds = fc.MaxToolRounds
	}
	if cfg.historyWindow == 0 {
		cfg.historyWindow = fc.HistoryWindow
	}
	if cfg.referenceTime == "" {
		cfg.referenceTime = fc.ReferenceTime
	}
	if cfg.voiceID == "" {
		cfg.voiceID = fc.VoiceID
	}
}

// newGemini creates a new Gemini adapter instance
func (cfg *config) newGemini(ctx context.Context) (adapter.Gemini, error) {
	project := cfg.geminiProject
	if project == "" {
		project = cfg.project
	}
	if project == "" {
		return nil, goerr.New("gemini-project is required")
	}
	if cfg.geminiLocation == "" {
		return nil, goerr.New("gemini-location is required")
	}

	var opts []adapter.GeminiOption
	if cfg.generativeModel != "" {
		opts = append(opts, adapter.WithGenerativeModel(cfg.generativeModel))
	}
	if cfg.embeddingModel != "" {
		opts = append(opts, adapter.WithEmbeddingModel(cfg.embeddingModel))
	}

	return adapter.NewGemini(ctx, project, cfg.geminiLocation, opts...)
}

// newFirestore creates the Firestore-backed repository
func (cfg *config) newFirestore(ctx context.Context) (*repository.Firestore, error) {
	if cfg.project == "" {
		return nil, goerr.New("project is required")
	}
	if cfg.database == "" {
		return nil, goerr.New("database is required")
	}

	repo, err := repository.New(ctx, cfg.project, cfg.database)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create repository")
	}
	return repo, nil
}

// newSessionStores picks the session and profile backends. Firestore when
// persistence is requested, process memory otherwise.
func (cfg *config) newSessionStores(ctx context.Context) (repository.SessionStore, repository.ProfileStore, error) {
	if cfg.persist {
		repo, err := cfg.newFirestore(ctx)
		if err != nil {
			return nil, nil, err
		}
		return repo, repo, nil
	}

	mem := repository.NewMemory()
	return mem, mem, nil
}

// newRetriever builds the archive retriever over Gemini embeddings and the
// Firestore article store
func (cfg *config) newRetriever(ctx context.Context, gemini adapter.Gemini, store repository.ArticleStore) (*retrieval.Retriever, error) {
	embedder, err := embedding.New(gemini, int32(cfg.dimension))
	if err != nil {
		return nil, err
	}

	var opts []retrieval.Option
	if cfg.topK > 0 {
		opts = append(opts, retrieval.WithTopK(int(cfg.topK)))
	}
	if cfg.perFieldK > 0 {
		opts = append(opts, retrieval.WithPerFieldK(int(cfg.perFieldK)))
	}
	if cfg.referenceTime != "" {
		ref, err := time.Parse(time.RFC3339, cfg.referenceTime)
		if err != nil {
			return nil, goerr.Wrap(err, "invalid reference-time", goerr.V("value", cfg.referenceTime))
		}
		opts = append(opts, retrieval.WithReferenceTime(ref))
	}

	return retrieval.New(embedder, store, opts...), nil
}

// newOrchestrator wires the full turn pipeline: retriever, both tools,
// session stores, and the generation loop
func (cfg *config) newOrchestrator(ctx context.Context) (*turn.Orchestrator, error) {
	gemini, err := cfg.newGemini(ctx)
	if err != nil {
		return nil, err
	}

	repo, err := cfg.newFirestore(ctx)
	if err != nil {
		return nil, err
	}

	retriever, err := cfg.newRetriever(ctx, gemini, repo)
	if err != nil {
		return nil, err
	}

	tools := []tool.Tool{newsarchive.New(retriever)}
	if cfg.tavilyAPIKey != "" {
		tavily := adapter.NewTavily(cfg.tavilyAPIKey)
		tools = append(tools, webfetch.New(tavily))
	} else {
		logging.From(ctx).Warn("tavily-api-key not set, live web retrieval disabled")
	}
	registry := tool.New(tools...)

	sessions, profiles, err := cfg.newSessionStores(ctx)
	if err != nil {
		return nil, err
	}

	var opts []turn.Option
	if cfg.maxToolRounds > 0 {
		opts = append(opts, turn.WithMaxToolRounds(int(cfg.maxToolRounds)))
	}
	if cfg.historyWindow > 0 {
		opts = append(opts, turn.WithHistoryWindow(int(cfg.historyWindow)))
	}

	return turn.New(gemini, registry, sessions, profiles, opts...), nil
}

// newSpeech creates the speech synthesis adapter
func (cfg *config) newSpeech() (adapter.Speech, error) {
	if cfg.elevenLabsAPIKey == "" {
		return nil, goerr.New("elevenlabs-api-key is required")
	}

	var opts []adapter.ElevenLabsOption
	if cfg.voiceID != "" {
		opts = append(opts, adapter.WithVoiceID(cfg.voiceID))
	}
	return adapter.NewElevenLabs(cfg.elevenLabsAPIKey, opts...), nil
}

// newStorage creates the narration audio storage
func (cfg *config) newStorage(ctx context.Context) (adapter.Storage, error) {
	if cfg.bucket == "" {
		return nil, goerr.New("bucket is required")
	}

	storage, err := adapter.NewStorage(ctx, cfg.bucket)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create storage")
	}
	return storage, nil
}
