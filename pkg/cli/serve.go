package cli

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
	"github.com/veranda-app/veranda/pkg/server"
	"github.com/veranda-app/veranda/pkg/utils/logging"
)

func serveCommand() *cli.Command {
	var (
		cfg     config
		addr    string
		apiKeys []string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "addr",
			Usage:       "Listen address",
			Value:       "127.0.0.1:8080",
			Sources:     cli.EnvVars("VERANDA_ADDR"),
			Destination: &addr,
		},
		&cli.StringSliceFlag{
			Name:        "api-key",
			Usage:       "API key as <token>:<owner-id>, repeatable",
			Sources:     cli.EnvVars("VERANDA_API_KEYS"),
			Destination: &apiKeys,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, llmFlags(&cfg)...)

	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP API",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg.setupLogger()
			logger := logging.Default()

			keys, err := parseAPIKeys(apiKeys)
			if err != nil {
				return err
			}

			handler, memories, repo, err := cfg.newPipeline(ctx)
			if err != nil {
				return err
			}
			defer repo.Close()

			srv := &http.Server{
				Addr:              addr,
				Handler:           server.New(handler, memories, repo, keys).Routes(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					logger.Warn("server shutdown failed", "error", err)
				}
			}()

			logger.Info("starting server", "addr", addr, "backend", cfg.backend)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return goerr.Wrap(err, "server failed")
			}
			return nil
		},
	}
}

func parseAPIKeys(pairs []string) (map[string]string, error) {
	keys := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		token, owner, ok := strings.Cut(pair, ":")
		if !ok || token == "" || owner == "" {
			return nil, goerr.New("api-key must be <token>:<owner-id>", goerr.V("value", pair))
		}
		keys[token] = owner
	}
	if len(keys) == 0 {
		return nil, goerr.New("at least one api-key is required")
	}
	return keys, nil
}
