package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	serverURL string
	token     string
)

var rootCmd = &cobra.Command{
	Use:   "factforge-cli",
	Short: "A CLI client for the FactForge fact-check service",
	Long:  `A command-line interface for checking claims, working the review queue and administering the FactForge service.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Whoops. There was an error while executing your CLI: %s\n", err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("FACTFORGE_URL", "http://localhost:8080"), "service base URL")
	rootCmd.PersistentFlags().StringVar(&token, "token", os.Getenv("FACTFORGE_TOKEN"), "bearer token")
}

func newClient() *Client {
	return NewClient(serverURL, token)
}
