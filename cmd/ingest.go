package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/maestrohq/maestro/internal/app"
	"github.com/maestrohq/maestro/internal/config"
	"github.com/maestrohq/maestro/internal/log"
	"github.com/maestrohq/maestro/internal/router"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [app...]",
	Short: "Ingest app tool descriptors into the vector catalog",
	Long: `Pulls tool descriptors from the integration broker and indexes them
into the per-app vector namespaces used by the tool router. With no
arguments, every app of the top-tools catalog is ingested.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runIngest(args)
	},
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(apps []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.ValidateServe(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	logger := log.New(log.Config{Level: slog.LevelInfo})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			logger.Warn("shutdown error", "error", closeErr)
		}
	}()

	if len(apps) == 0 {
		apps = router.DefaultTopTools().Apps()
	}

	total := 0
	for _, appName := range apps {
		appName = strings.ToUpper(appName)
		n, err := a.Ingestor.IngestApp(ctx, appName)
		if err != nil {
			return fmt.Errorf("ingesting %s: %w", appName, err)
		}
		fmt.Printf("%s: %d tools ingested\n", appName, n)
		total += n
	}
	fmt.Printf("done: %d tools across %d apps\n", total, len(apps))
	return nil
}
