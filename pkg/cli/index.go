package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/m-mizutani/denoise/pkg/embedding"
	"github.com/m-mizutani/denoise/pkg/model"
	"github.com/m-mizutani/denoise/pkg/usecase/index"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

// articleInput is the JSON shape the index command accepts
type articleInput struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	PublishedAt time.Time `json:"published_at"`
	Source      string    `json:"source"`
}

func indexCommand() *cli.Command {
	var (
		cfg       config
		inputPath string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "input",
			Aliases:     []string{"i"},
			Usage:       "Path to JSON file containing an array of articles",
			Required:    true,
			Destination: &inputPath,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, storeFlags(&cfg)...)
	flags = append(flags, llmFlags(&cfg)...)

	return &cli.Command{
		Name:  "index",
		Usage: "Embed and store parsed articles",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx, err := cfg.setup(ctx)
			if err != nil {
				return err
			}

			raw, err := os.ReadFile(inputPath)
			if err != nil {
				return goerr.Wrap(err, "failed to read input file", goerr.V("path", inputPath))
			}

			var inputs []articleInput
			if err := json.Unmarshal(raw, &inputs); err != nil {
				return goerr.Wrap(err, "failed to parse input file", goerr.V("path", inputPath))
			}
			if len(inputs) == 0 {
				return goerr.New("input file contains no articles")
			}

			articles := make([]*model.Article, 0, len(inputs))
			for _, in := range inputs {
				source := model.Source(in.Source)
				if in.Source == "" {
					source = model.SourceNewsletter
				}
				articles = append(articles, &model.Article{
					ID:          model.ArticleID(in.ID),
					Title:       in.Title,
					Body:        in.Body,
					PublishedAt: in.PublishedAt,
					Source:      source,
				})
			}

			gemini, err := cfg.newGemini(ctx)
			if err != nil {
				return err
			}
			repo, err := cfg.newFirestore(ctx)
			if err != nil {
				return err
			}
			embedder, err := embedding.New(gemini, int32(cfg.dimension))
			if err != nil {
				return err
			}

			if err := index.New(embedder, repo).Index(ctx, articles); err != nil {
				return goerr.Wrap(err, "indexing failed")
			}

			fmt.Fprintf(c.Root().Writer, "Indexed %d article(s)\n", len(articles))
			return nil
		},
	}
}
