package cli

import (
	"context"

	"github.com/urfave/cli/v3"
)

type Error struct {
	Code    int
	Message string
}

func Run(ctx context.Context, argv []string) *Error {
	cmd := &cli.Command{
		Name:  "denoise",
		Usage: "News retrieval and orchestration agent",
		Commands: []*cli.Command{
			chatCommand(),
			askCommand(),
			reportCommand(),
			podcastCommand(),
			indexCommand(),
			clearCommand(),
		},
	}

	if err := cmd.Run(ctx, argv); err != nil {
		return &Error{
			Code:    1,
			Message: err.Error(),
		}
	}

	return nil
}
