// Package main runs the upstream mocks as a standalone HTTP server so the
// gateway and its front-end page can be exercised without real credentials.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"media-gateway/e2e/mocks"
	"media-gateway/observability"
)

func main() {
	observability.InitLogger(false)

	port := os.Getenv("MOCK_UPSTREAM_PORT")
	if port == "" {
		port = "9090"
	}
	base := fmt.Sprintf("http://localhost:%s", port)

	mock := mocks.NewMockHandler()

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      mock,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		observability.Info("starting mock upstream server", "url", base)
		observability.Info("point the gateway at it with",
			"API_KEY", "mock-api-key",
			"API_BASE", base+mocks.TasksBasePath,
			"KIE_API_BASE", base+mocks.ProviderBasePath,
			"GOOGLE_TOKEN_URL", base+mocks.TokenPath,
			"GOOGLE_SHEETS_BASE_URL", base+mocks.SheetsBasePath,
			"ANTHROPIC_BASE_URL", base,
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			observability.Fatal("server error", "error", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	observability.Info("shutting down mock upstream server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		observability.Fatal("server forced to shutdown", "error", err)
	}

	requests := len(mock.GetRequestLog())
	observability.Info("mock upstream server stopped", "requests_served", requests)
}
