package cli

import (
	"context"
	"os"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
	"github.com/veranda-app/veranda/pkg/adapter"
	"github.com/veranda-app/veranda/pkg/repository"
	"github.com/veranda-app/veranda/pkg/usecase/guard"
	"github.com/veranda-app/veranda/pkg/usecase/memory"
	"github.com/veranda-app/veranda/pkg/usecase/respond"
	"github.com/veranda-app/veranda/pkg/usecase/triage"
	"github.com/veranda-app/veranda/pkg/usecase/turn"
	"github.com/veranda-app/veranda/pkg/utils/logging"
)

// config holds configuration values
type config struct {
	// Repository
	backend    string // "firestore" or "sqlite"
	project    string
	database   string
	sqlitePath string

	// Adapters
	anthropicAPIKey string
	geminiProject   string
	geminiLocation  string
	geminiModel     string
	embeddingModel  string
	claudeModel     string
	chainOrder      string

	logLevel string
}

// globalFlags returns common flags used across commands with destination config
func globalFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "backend",
			Usage:       "Store backend: firestore or sqlite",
			Value:       "firestore",
			Sources:     cli.EnvVars("VERANDA_BACKEND"),
			Destination: &cfg.backend,
		},
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
		&cli.StringFlag{
			Name:        "sqlite-path",
			Usage:       "SQLite database path (backend=sqlite)",
			Value:       "veranda.db",
			Sources:     cli.EnvVars("VERANDA_SQLITE_PATH"),
			Destination: &cfg.sqlitePath,
		},
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "Log level: debug, info, warn, error",
			Value:       "info",
			Sources:     cli.EnvVars("VERANDA_LOG_LEVEL"),
			Destination: &cfg.logLevel,
		},
	}
}

// llmFlags returns flags for model-related configuration with destination config
func llmFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "anthropic-api-key",
			Usage:       "Anthropic API key (fallback backend)",
			Sources:     cli.EnvVars("ANTHROPIC_API_KEY"),
			Destination: &cfg.anthropicAPIKey,
		},
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
			Name:        "gemini-model",
			Usage:       "Gemini generative model",
			Value:       "gemini-2.5-flash",
			Sources:     cli.EnvVars("GEMINI_MODEL"),
			Destination: &cfg.geminiModel,
		},
		&cli.StringFlag{
			Name:        "embedding-model",
			Usage:       "Gemini embedding model",
			Value:       "gemini-embedding-001",
			Sources:     cli.EnvVars("GEMINI_EMBEDDING_MODEL"),
			Destination: &cfg.embeddingModel,
		},
		&cli.StringFlag{
			Name:        "claude-model",
			Usage:       "Claude model for the fallback backend",
			Sources:     cli.EnvVars("CLAUDE_MODEL"),
			Destination: &cfg.claudeModel,
		},
		&cli.StringFlag{
			Name:        "chain-order",
			Usage:       "Comma-separated generation backend order",
			Value:       "gemini,claude",
			Sources:     cli.EnvVars("VERANDA_CHAIN_ORDER"),
			Destination: &cfg.chainOrder,
		},
	}
}

func (cfg *config) setupLogger() {
	logging.SetDefault(logging.New(cfg.logLevel, os.Stderr))
}

// newRepository creates a new repository instance
func (cfg *config) newRepository(ctx context.Context) (repository.Repository, error) {
	switch cfg.backend {
	case "sqlite":
		repo, err := repository.NewSQLite(cfg.sqlitePath)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to open sqlite repository")
		}
		return repo, nil

	case "firestore":
		if cfg.project == "" {
			return nil, goerr.New("project is required")
		}
		if cfg.database == "" {
			return nil, goerr.New("database is required")
		}
		repo, err := repository.NewFirestore(ctx, cfg.project, cfg.database)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create firestore repository")
		}
		return repo, nil

	default:
		return nil, goerr.New("unknown backend", goerr.V("backend", cfg.backend))
	}
}

// newGemini creates a new Gemini adapter instance
func (cfg *config) newGemini(ctx context.Context) (*adapter.GeminiClient, error) {
	if cfg.geminiProject == "" {
		return nil, goerr.New("gemini-project is required")
	}
	if cfg.geminiLocation == "" {
		return nil, goerr.New("gemini-location is required")
	}
	return adapter.NewGemini(ctx, cfg.geminiProject, cfg.geminiLocation,
		adapter.WithGenerativeModel(cfg.geminiModel),
		adapter.WithEmbeddingModel(cfg.embeddingModel),
	)
}

// newGenerators builds the ordered fallback chain. Backends whose
// credentials are missing are skipped; at least one must remain.
func (cfg *config) newGenerators(gemini *adapter.GeminiClient) ([]adapter.Generator, error) {
	var chain []adapter.Generator

	for _, name := range strings.Split(cfg.chainOrder, ",") {
		switch strings.TrimSpace(name) {
		case "gemini":
			chain = append(chain, gemini)
		case "claude":
			if cfg.anthropicAPIKey == "" {
				continue
			}
			var opts []adapter.ClaudeOption
			if cfg.claudeModel != "" {
				opts = append(opts, adapter.WithClaudeModel(cfg.claudeModel))
			}
			chain = append(chain, adapter.NewClaude(cfg.anthropicAPIKey, opts...))
		case "":
		default:
			return nil, goerr.New("unknown generation backend", goerr.V("name", name))
		}
	}

	if len(chain) == 0 {
		return nil, goerr.New("no generation backend configured")
	}
	return chain, nil
}

// newPipeline wires the full turn pipeline on top of the configured
// repository and adapters.
func (cfg *config) newPipeline(ctx context.Context) (*turn.Handler, *memory.Service, repository.Repository, error) {
	repo, err := cfg.newRepository(ctx)
	if err != nil {
		return nil, nil, nil, err
	}

	gemini, err := cfg.newGemini(ctx)
	if err != nil {
		repo.Close()
		return nil, nil, nil, err
	}

	chain, err := cfg.newGenerators(gemini)
	if err != nil {
		repo.Close()
		return nil, nil, nil, err
	}

	engine, err := triage.New(gemini)
	if err != nil {
		repo.Close()
		return nil, nil, nil, err
	}

	memories := memory.New(repo, gemini)
	handler := turn.New(repo, engine, memories, respond.New(chain...), guard.New(gemini))
	return handler, memories, repo, nil
}
