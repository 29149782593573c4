// Command practiced runs the in-memory development backend so the agent can
// be exercised without the production service.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/speakdrill-ai/speakdrill-agent/internal/devserver"
	"github.com/speakdrill-ai/speakdrill-agent/internal/observability"
)

func main() {
	_ = godotenv.Load()

	port := os.Getenv("PORT")
	if port == "" {
		port = "8000"
	}
	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}

	logger := observability.NewLogger(logLevel, true)

	srv := devserver.New(logger)
	addr := ":" + port
	logger.Info().Str("addr", addr).Msg("dev backend listening")
	if err := srv.Router().Run(addr); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}
