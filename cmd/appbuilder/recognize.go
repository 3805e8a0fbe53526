package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/kiranshivaraju/appbuilder/internal/appbuilder"
	"github.com/kiranshivaraju/appbuilder/internal/components/objectrecognize"
	"github.com/kiranshivaraju/appbuilder/internal/config"
	"github.com/kiranshivaraju/appbuilder/internal/logging"
	"github.com/spf13/cobra"
)

func newRecognizeCmd() *cobra.Command {
	var (
		imageURL  string
		file      string
		threshold float64
	)

	cmd := &cobra.Command{
		Use:   "recognize",
		Short: "Label the objects and scenes in an image",
		Long: `Label the objects and scenes in an image and print them as JSON.

Exactly one of --url or --file must be given. Labels scoring below
--threshold are dropped, except the best one.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if threshold < 0 || threshold > 1 {
				return errors.New("--threshold must be between 0 and 1")
			}

			req := objectrecognize.Request{URL: imageURL}
			if file != "" {
				data, err := os.ReadFile(file)
				if err != nil {
					return fmt.Errorf("read image: %w", err)
				}
				req.Image = data
			}

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, logCloser, err := logging.New(cfg.Log, os.Stderr)
			if err != nil {
				return fmt.Errorf("create logger: %w", err)
			}
			defer logCloser.Close()

			client := appbuilder.NewClient(cfg.AppBuilder.GatewayURL, cfg.AppBuilder.Token, cfg.AppBuilder.Timeout)
			defer client.Close()

			out, err := objectrecognize.New(client, logger).Recognize(cmd.Context(), req)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetEscapeHTML(false)
			enc.SetIndent("", "  ")
			return enc.Encode(objectrecognize.ToolResults(out.Result, threshold))
		},
	}

	f := cmd.Flags()
	f.StringVar(&imageURL, "url", "", "URL of the image")
	f.StringVar(&file, "file", "", "path of a local image")
	f.Float64Var(&threshold, "threshold", objectrecognize.DefaultScoreThreshold, "minimum label score")
	cmd.MarkFlagsOneRequired("url", "file")
	cmd.MarkFlagsMutuallyExclusive("url", "file")
	return cmd
}
