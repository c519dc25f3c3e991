package cli

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"
	"github.com/veranda-app/veranda/pkg/model"
)

func memoryCommand() *cli.Command {
	return &cli.Command{
		Name:  "memory",
		Usage: "Inspect and prune long-term memories",
		Commands: []*cli.Command{
			memoryListCommand(),
			memoryForgetCommand(),
		},
	}
}

func memoryListCommand() *cli.Command {
	var (
		cfg   config
		owner string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "owner",
			Usage:       "Owner ID",
			Required:    true,
			Sources:     cli.EnvVars("VERANDA_OWNER"),
			Destination: &owner,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)

	return &cli.Command{
		Name:  "list",
		Usage: "List an owner's memory records, newest first",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg.setupLogger()

			repo, err := cfg.newRepository(ctx)
			if err != nil {
				return err
			}
			defer repo.Close()

			records, err := repo.ListMemories(ctx, model.OwnerID(owner))
			if err != nil {
				return err
			}

			w := c.Root().Writer
			for _, record := range records {
				fmt.Fprintf(w, "%s  %s  %s\n",
					record.ID, record.CreatedAt.Format("2006-01-02 15:04"), record.Text)
			}
			fmt.Fprintf(w, "%d memories\n", len(records))
			return nil
		},
	}
}

func memoryForgetCommand() *cli.Command {
	var (
		cfg   config
		owner string
		id    string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "owner",
			Usage:       "Owner ID",
			Required:    true,
			Sources:     cli.EnvVars("VERANDA_OWNER"),
			Destination: &owner,
		},
		&cli.StringFlag{
			Name:        "id",
			Usage:       "Memory record ID",
			Required:    true,
			Destination: &id,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)

	return &cli.Command{
		Name:  "forget",
		Usage: "Delete one memory record",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg.setupLogger()

			repo, err := cfg.newRepository(ctx)
			if err != nil {
				return err
			}
			defer repo.Close()

			if err := repo.DeleteMemory(ctx, model.OwnerID(owner), model.MemoryID(id)); err != nil {
				return err
			}

			fmt.Fprintf(c.Root().Writer, "deleted %s\n", id)
			return nil
		},
	}
}
