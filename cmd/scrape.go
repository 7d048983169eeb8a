package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/scrapejobs/internal/id/uuid"
	"github.com/JakeFAU/scrapejobs/internal/scraper"
	"github.com/JakeFAU/scrapejobs/internal/selector"
	"github.com/JakeFAU/scrapejobs/internal/server"
)

type scrapeOptions struct {
	name      string
	url       string
	user      string
	selectors scraper.SelectorConfig
	settings  scraper.RunSettings
}

// newScrapeCmd runs one job immediately and prints the run envelope.
func newScrapeCmd() *cobra.Command {
	opts := scrapeOptions{settings: scraper.DefaultRunSettings()}
	cmd := &cobra.Command{
		Use:   "scrape",
		Short: "Create a job from flags, run it once, and print the result as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runScrape(cmd, opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.url, "url", "", "page to scrape (required)")
	f.StringVar(&opts.name, "name", "cli scrape", "job name")
	f.StringVar(&opts.user, "user", "cli", "owner recorded on the job")
	f.StringVar(&opts.selectors.Container, "container", "", "CSS selector for record containers")
	f.StringVar(&opts.selectors.Title, "title", "", "CSS selector for the title")
	f.StringVar(&opts.selectors.Price, "price", "", "CSS selector for the price")
	f.StringVar(&opts.selectors.Description, "description", "", "CSS selector for the description")
	f.StringVar(&opts.selectors.Image, "image", "", "CSS selector for the image")
	f.IntVar(&opts.settings.Delay, "delay", opts.settings.Delay, "pause before the request in milliseconds")
	f.BoolVar(&opts.settings.IncludeImages, "include-images", false, "extract image sources")
	_ = cmd.MarkFlagRequired("url")
	return cmd
}

func runScrape(cmd *cobra.Command, opts scrapeOptions) error {
	for role, sel := range opts.selectors.Selectors() {
		if err := selector.Validate(sel); err != nil {
			return fmt.Errorf("--%s: %w", role, err)
		}
	}
	cfg, err := resolveConfig(cmd.Context())
	if err != nil {
		return err
	}
	app, err := server.Build(cmd.Context(), cfg)
	if err != nil {
		return fmt.Errorf("build application: %w", err)
	}
	defer func() { _ = app.Close(context.WithoutCancel(cmd.Context())) }()

	id, err := uuid.New().NewID()
	if err != nil {
		return fmt.Errorf("generate job id: %w", err)
	}
	now := time.Now().UTC()
	job := scraper.Job{
		ID:        id,
		UserID:    opts.user,
		Name:      opts.name,
		URL:       opts.url,
		Selectors: opts.selectors,
		Settings:  opts.settings.Normalize(),
		Status:    scraper.JobStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := app.Store().CreateJob(cmd.Context(), job); err != nil {
		return fmt.Errorf("create job: %w", err)
	}

	result := app.Runner().Run(cmd.Context(), job)
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	if !result.Success {
		return errors.New(result.Error)
	}
	return nil
}
