// Package cmd implements the maestro command line interface.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "maestro",
	Short: "Maestro - a tool-orchestrating conversational assistant",
	Long: `Maestro converts natural-language requests into plans of third-party
tool invocations (email, calendar, drive, docs, notes), executes them through
an integration broker on behalf of the authenticated user, and returns a
single consolidated answer.

Run 'maestro serve' to start the HTTP API.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
