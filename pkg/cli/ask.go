package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/m-mizutani/denoise/pkg/usecase/turn"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

func askCommand() *cli.Command {
	var cfg config

	flags := globalFlags(&cfg)
	flags = append(flags, storeFlags(&cfg)...)
	flags = append(flags, llmFlags(&cfg)...)
	flags = append(flags, retrievalFlags(&cfg)...)
	flags = append(flags, turnFlags(&cfg)...)
	flags = append(flags, webFlags(&cfg)...)

	return &cli.Command{
		Name:      "ask",
		Usage:     "Run a single question-and-answer turn",
		ArgsUsage: "<question>",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			message := strings.Join(c.Args().Slice(), " ")
			if message == "" {
				return goerr.New("question is required")
			}

			ctx, err := cfg.setup(ctx)
			if err != nil {
				return err
			}

			orchestrator, err := cfg.newOrchestrator(ctx)
			if err != nil {
				return err
			}

			output, err := orchestrator.HandleTurn(ctx, turn.Input{
				UserID:  cfg.userID,
				Message: message,
			})
			if err != nil {
				return goerr.Wrap(err, "turn failed")
			}

			printTurnOutput(c, output)
			return nil
		},
	}
}

func printTurnOutput(c *cli.Command, output *turn.Output) {
	fmt.Fprintf(c.Root().Writer, "%s\n", output.Answer)

	if output.Incomplete {
		fmt.Fprintf(c.Root().Writer, "\n(note: tool budget exhausted, retrieval may be incomplete)\n")
	}

	if len(output.Sources) > 0 {
		fmt.Fprintf(c.Root().Writer, "\nSources:\n")
		for _, sa := range output.Sources {
			fmt.Fprintf(c.Root().Writer, "- %s", sa.Article.Title)
			if !sa.Article.PublishedAt.IsZero() {
				fmt.Fprintf(c.Root().Writer, " (%s)", sa.Article.PublishedAt.Format("2006-01-02"))
			}
			fmt.Fprintf(c.Root().Writer, "\n")
		}
	}
}
