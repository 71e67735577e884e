// Command chatctl is a terminal client for a roomchat server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/ageniuscoder/roomchat/internal/client"
	"github.com/spf13/cobra"
)

var (
	server string
	token  string
	userID int64
)

var rootCmd = &cobra.Command{
	Use:          "chatctl",
	Short:        "Terminal client for roomchat",
	SilenceUsage: true,
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().StringVarP(&server, "server", "s", envOr("ROOMCHAT_SERVER", "http://localhost:8080"), "server base URL")
	rootCmd.PersistentFlags().StringVarP(&token, "token", "t", os.Getenv("ROOMCHAT_TOKEN"), "bearer token from login")
	rootCmd.PersistentFlags().Int64VarP(&userID, "user", "u", envInt("ROOMCHAT_USER"), "your user id")

	rootCmd.AddCommand(loginCmd, tailCmd, sendCmd)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string) int64 {
	n, _ := strconv.ParseInt(os.Getenv(key), 10, 64)
	return n
}

func session() (client.Session, error) {
	s := client.Session{BaseURL: server, Token: token, UserID: userID}
	if !s.Valid() {
		return s, fmt.Errorf("--server, --token and --user are required (run chatctl login)")
	}
	return s, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
