package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/m-mizutani/denoise/pkg/model"
	"github.com/m-mizutani/denoise/pkg/usecase/report"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

func reportCommand() *cli.Command {
	var (
		cfg       config
		scope     string
		structure string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "scope",
			Aliases:     []string{"s"},
			Usage:       "Time scope (daily, weekly, monthly)",
			Value:       string(model.DefaultTimeScope),
			Sources:     cli.EnvVars("DENOISE_TIME_SCOPE"),
			Destination: &scope,
		},
		&cli.StringFlag{
			Name:        "structure",
			Usage:       "Section layout for the report",
			Sources:     cli.EnvVars("DENOISE_REPORT_STRUCTURE"),
			Destination: &structure,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, storeFlags(&cfg)...)
	flags = append(flags, llmFlags(&cfg)...)
	flags = append(flags, retrievalFlags(&cfg)...)

	return &cli.Command{
		Name:      "report",
		Usage:     "Generate a topic report from archived articles",
		ArgsUsage: "<topics>",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			topics := strings.Join(c.Args().Slice(), " ")
			if topics == "" {
				return goerr.New("topics are required")
			}

			ctx, err := cfg.setup(ctx)
			if err != nil {
				return err
			}

			gemini, err := cfg.newGemini(ctx)
			if err != nil {
				return err
			}
			repo, err := cfg.newFirestore(ctx)
			if err != nil {
				return err
			}
			retriever, err := cfg.newRetriever(ctx, gemini, repo)
			if err != nil {
				return err
			}

			text, err := report.New(gemini, retriever, repo).Generate(ctx, report.Input{
				UserID:    cfg.userID,
				Topics:    topics,
				Scope:     model.TimeScope(scope),
				Structure: structure,
			})
			if err != nil {
				return goerr.Wrap(err, "report generation failed")
			}

			fmt.Fprintf(c.Root().Writer, "%s\n", text)
			return nil
		},
	}
}
