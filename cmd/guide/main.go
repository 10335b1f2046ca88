// Package main implements the guide CLI: it runs a scripted voice conversation against
// the realtime API from a terminal and validates conversation definitions.
package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	// Load .env file if present (ignored if missing)
	_ = godotenv.Load()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "guide",
	Short: "Run guided voice conversations against the realtime API",
	Long: `guide drives a phase-based conversation with a streaming speech model.

Conversation definitions are YAML or JSON files describing the phases, their
instructions, success criteria and the transitions allowed between them.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(runCmd)
}
