package main

import (
	"fmt"
	"os"
	"time"

	"github.com/kiranshivaraju/appbuilder/internal/appbuilder"
	"github.com/kiranshivaraju/appbuilder/internal/components/ppt"
	"github.com/kiranshivaraju/appbuilder/internal/config"
	"github.com/kiranshivaraju/appbuilder/internal/job"
	"github.com/kiranshivaraju/appbuilder/internal/logging"
	"github.com/spf13/cobra"
)

func newPPTCmd() *cobra.Command {
	var (
		in          ppt.Input
		maxAttempts int
		interval    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "ppt",
		Short: "Generate a presentation from a paper",
		Long: `Generate a presentation from an uploaded paper and print its download link.

The command creates the remote job, polls its status until it completes or
the attempt budget runs out, then fetches the link. POLL_MAX_ATTEMPTS and
POLL_INTERVAL_SECS set the budget unless the flags override them.

Example:
  appbuilder ppt --file-key https://example.com/paper.docx --style 科技`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, logCloser, err := logging.New(cfg.Log, os.Stderr)
			if err != nil {
				return fmt.Errorf("create logger: %w", err)
			}
			defer logCloser.Close()

			policy := job.Policy{MaxAttempts: cfg.Poll.MaxAttempts, Interval: cfg.Poll.Interval}
			if cmd.Flags().Changed("max-attempts") {
				policy.MaxAttempts = maxAttempts
			}
			if cmd.Flags().Changed("interval") {
				policy.Interval = interval
			}

			client := appbuilder.NewClient(cfg.AppBuilder.GatewayURL, cfg.AppBuilder.Token, cfg.AppBuilder.Timeout)
			defer client.Close()

			res, err := ppt.NewGenerator(client, job.WithLogger(logger)).Run(cmd.Context(), in, policy)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.DownloadURL)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&in.FileKey, "file-key", "", "file key or URL of the uploaded paper (required)")
	f.StringVar(&in.Style, "style", "", "deck style, one of 科技, 商务, 小清新, 可爱卡通, 中国风, 极简, 党政")
	f.StringVar(&in.Pleader, "pleader", "", "presenter name shown on the title slide")
	f.StringVar(&in.Advisor, "advisor", "", "advisor name shown on the title slide")
	f.IntVar(&maxAttempts, "max-attempts", job.DefaultMaxAttempts, "status checks before giving up")
	f.DurationVar(&interval, "interval", job.DefaultInterval, "wait between status checks")
	_ = cmd.MarkFlagRequired("file-key")
	return cmd
}
