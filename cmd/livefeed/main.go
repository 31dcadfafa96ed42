package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/marketdesk/livefeed/internal/api"
	"github.com/marketdesk/livefeed/internal/config"
	"github.com/marketdesk/livefeed/internal/database"
	"github.com/marketdesk/livefeed/internal/feeds"
	"github.com/marketdesk/livefeed/internal/infrastructure"
	"github.com/marketdesk/livefeed/internal/metrics"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "livefeed",
		Short: "Resilient live-data streaming service for the trading dashboard",
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the streaming client and its HTTP API",
		Run: func(cmd *cobra.Command, args []string) {
			fx.New(
				fx.Provide(config.LoadConfig),
				infrastructure.Module,
				database.Module,
				metrics.Module,
				feeds.Module,
				api.Module,
			).Run()
		},
	}

	rootCmd.AddCommand(serveCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
