package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/briandowns/spinner"
	"github.com/chzyer/readline"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
	"github.com/veranda-app/veranda/pkg/model"
	"github.com/veranda-app/veranda/pkg/usecase/turn"
)

func chatCommand() *cli.Command {
	var (
		cfg       config
		owner     string
		convID    string
		listen    bool
		incognito bool
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "owner",
			Usage:       "Owner ID for the session",
			Value:       "dev",
			Sources:     cli.EnvVars("VERANDA_OWNER"),
			Destination: &owner,
		},
		&cli.StringFlag{
			Name:        "conversation-id",
			Aliases:     []string{"id"},
			Usage:       "Resume an existing conversation",
			Destination: &convID,
		},
		&cli.BoolFlag{
			Name:        "listen",
			Usage:       "Start in listening mode",
			Destination: &listen,
		},
		&cli.BoolFlag{
			Name:        "incognito",
			Usage:       "Suppress long-term memory writes",
			Destination: &incognito,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, llmFlags(&cfg)...)

	return &cli.Command{
		Name:  "chat",
		Usage: "Interactive chat session for development",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg.setupLogger()

			handler, _, repo, err := cfg.newPipeline(ctx)
			if err != nil {
				return err
			}
			defer repo.Close()

			rl, err := readline.New("you> ")
			if err != nil {
				return goerr.Wrap(err, "failed to initialize readline")
			}
			defer rl.Close()

			mode := model.ModeTalking
			if listen {
				mode = model.ModeListening
			}

			w := c.Root().Writer
			fmt.Fprintf(w, "Chat session started. Type 'exit' to quit.\n")

			for {
				line, err := rl.Readline()
				if err != nil {
					if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
						break
					}
					return goerr.Wrap(err, "failed to read input")
				}
				if line == "" {
					continue
				}
				if line == "exit" {
					break
				}

				sp := spinner.New(spinner.CharSets[14], 100*time.Millisecond,
					spinner.WithWriter(c.Root().ErrWriter))
				sp.Start()

				out, err := handler.HandleTurn(ctx, &turn.Input{
					ConversationID: model.ConversationID(convID),
					OwnerID:        model.OwnerID(owner),
					Text:           line,
					ChatMode:       mode,
					Incognito:      incognito,
				})
				sp.Stop()
				if err != nil {
					return goerr.Wrap(err, "failed to process turn")
				}

				convID = string(out.ConversationID)
				if out.ModeSwitch != "" {
					mode = out.ModeSwitch
					fmt.Fprintf(w, "(mode: %s)\n", mode)
				}

				fmt.Fprintf(w, "hiên> %s\n", out.Reply)
				if out.UICommand != "" {
					fmt.Fprintf(w, "(ui: %s)\n", out.UICommand)
				}
			}

			fmt.Fprintf(w, "\nChat session %s\n", convID)
			return nil
		},
	}
}
