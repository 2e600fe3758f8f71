package cli

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"
)

func clearCommand() *cli.Command {
	var cfg config

	flags := globalFlags(&cfg)
	flags = append(flags, storeFlags(&cfg)...)

	return &cli.Command{
		Name:  "clear",
		Usage: "Drop the user's session history",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx, err := cfg.setup(ctx)
			if err != nil {
				return err
			}

			repo, err := cfg.newFirestore(ctx)
			if err != nil {
				return err
			}

			if err := repo.Delete(ctx, cfg.userID); err != nil {
				return err
			}

			fmt.Fprintf(c.Root().Writer, "Session cleared for user: %s\n", cfg.userID)
			return nil
		},
	}
}
