package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/maestrohq/maestro/internal/config"
	"github.com/maestrohq/maestro/internal/log"
	"github.com/maestrohq/maestro/internal/orchestrator"
	"github.com/maestrohq/maestro/internal/store"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Session maintenance",
}

var sessionsCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Deactivate sessions inactive for more than 30 days",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSessionsCleanup(cmd.Context())
	},
}

func init() {
	sessionsCmd.AddCommand(sessionsCleanupCmd)
	rootCmd.AddCommand(sessionsCmd)
}

func runSessionsCleanup(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := log.New(log.Config{})
	pool, err := store.Connect(ctx, cfg.PostgresConnectionString(), logger)
	if err != nil {
		return err
	}
	defer pool.Close()

	st := store.New(pool, logger)
	n, err := st.DeactivateStaleSessions(ctx, time.Now().Add(-orchestrator.StaleSessionCutoff))
	if err != nil {
		return err
	}

	fmt.Printf("deactivated %d stale sessions\n", n)
	return nil
}
