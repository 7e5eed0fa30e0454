// Soga: multi-tenant conversational chat backend.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "soga",
	Short: "Soga is a multi-tenant chat backend with persistent conversations.",
	Long: `Soga is a conversational backend that persists multi-turn chat history
per user, forwards each turn to a configured LLM provider with a sliding
window of context, and exposes the result over HTTP and WebSocket APIs.`,
	RunE:          runServer, // Default to server mode.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serverCmd, versionCmd)
	_ = godotenv.Load()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}
