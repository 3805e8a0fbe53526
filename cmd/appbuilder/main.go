// Package main is the entrypoint for the appbuilder gateway server and CLI.
//
// Usage:
//
//	appbuilder serve                          # start the job gateway
//	appbuilder ppt --file-key <key>           # generate a deck and print its link
//	appbuilder recognize --url <image-url>    # label the objects in an image
//	appbuilder keys create --name ci          # mint a gateway API key
//	appbuilder version
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/kiranshivaraju/appbuilder/internal/config"
	"github.com/spf13/cobra"
)

// Set at build time via -ldflags "-X main.version=...".
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		// cobra has already printed the error
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "appbuilder",
		Short: "Gateway and CLI for AppBuilder components",
		Long: `appbuilder runs Baidu AppBuilder components either through a local
job gateway (serve) or directly from the command line.

Configuration is read from the environment, and from a .env file in the
working directory when one exists. APPBUILDER_TOKEN is always required.`,
		SilenceUsage: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return config.LoadDotEnv()
		},
	}

	root.AddCommand(
		newServeCmd(),
		newPPTCmd(),
		newRecognizeCmd(),
		newKeysCmd(),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "appbuilder %s\n", version)
			fmt.Fprintf(out, "  commit: %s\n", commit)
			fmt.Fprintf(out, "  built:  %s\n", date)
		},
	}
}
