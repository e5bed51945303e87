// Command faceidctl exercises a running face id service from the terminal.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	serverURL string
	authToken string
	timeout   time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "faceidctl",
	Short: "Client for the face id login service",
	Long: `faceidctl talks to a running face id service: check its health, list
users, log in with a password, run detection or verification on an image
file, and audit an enrollment directory before loading it.`,
	SilenceUsage: true,
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(func() {
		// .env file is optional
		_ = godotenv.Load()
		if serverURL == "" {
			serverURL = os.Getenv("FACEID_SERVER")
		}
		if serverURL == "" {
			serverURL = "http://localhost:8080"
		}
		if authToken == "" {
			authToken = os.Getenv("FACEID_TOKEN")
		}
	})

	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "Service base URL (default $FACEID_SERVER or http://localhost:8080)")
	rootCmd.PersistentFlags().StringVar(&authToken, "token", "", "Bearer token for protected endpoints (default $FACEID_TOKEN)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "HTTP request timeout")
}

func client() *apiClient {
	return newAPIClient(serverURL, authToken, timeout)
}
