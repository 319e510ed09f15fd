package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/reportmailer/internal/app"
	"github.com/reportmailer/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "reportmailer",
	Short: "Generate the daily Survey123 reports and mail them to their recipients",
	Long: `reportmailer runs one daily pass: it asks the portal to render the survey
responses of the last window into Word documents, downloads them, reads the
recipient from each document and sends it as an attachment.

Configuration comes from the environment or a .env file in the working directory.`,
	SilenceUsage: true,
	RunE:         runPipeline,
}

func init() {
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(encryptSecretCmd)
}

func main() {
	// Load .env file if it exists (don't error if missing)
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runPipeline(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	sum, err := a.Run(ctx)
	if sum != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "run %s: %d generated, %d sent, %d failed\n",
			sum.RunID, sum.Generated, sum.Sent, len(sum.Failures))
	}
	return err
}

func newApp(ctx context.Context) (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	a, err := app.New(ctx, cfg, app.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize application: %w", err)
	}
	return a, nil
}
