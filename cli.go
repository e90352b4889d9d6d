package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"media-gateway/config"
	"media-gateway/internal/api"
	"media-gateway/internal/app"
	"media-gateway/observability"
	"media-gateway/services"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

func newRootCmd() *cobra.Command {
	var envFile string

	rootCmd := &cobra.Command{
		Use:           "media-gateway",
		Short:         "Credential-injecting gateway for image, Google and AI assist APIs",
		Long:          "media-gateway serves the studio front-end and proxies its calls to the image task API, Google OAuth and Sheets, and the AI assist API, adding the server-side secrets each upstream needs.",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return loadEnvFile(envFile, cmd.Flags().Changed("env-file"))
		},
	}
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file to load before reading the environment")

	serveCmd := newServeCmd()
	rootCmd.RunE = serveCmd.RunE
	rootCmd.Flags().AddFlagSet(serveCmd.Flags())

	rootCmd.AddCommand(
		serveCmd,
		newMintAssertionCmd(),
		newVersionCmd(),
	)

	return rootCmd
}

// loadEnvFile loads path into the environment. A missing default file is not an error.
func loadEnvFile(path string, explicit bool) error {
	if err := godotenv.Load(path); err != nil {
		if explicit {
			return fmt.Errorf("failed to load env file %s: %w", path, err)
		}
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to parse env file %s: %w", path, err)
		}
	}
	return nil
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	observability.InitLoggerWithLevel(cfg.Log.JSON, observability.ParseLevel(cfg.Log.Level))
	return cfg, nil
}

func newServeCmd() *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP gateway",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if port != "" {
				cfg.HTTP.Port = port
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}
	cmd.Flags().StringVar(&port, "port", "", "listen port (overrides PORT)")
	return cmd
}

func runServer(ctx context.Context, cfg *config.Config) error {
	observability.InitMetrics()

	application, err := app.NewFromConfig(ctx, cfg)
	if err != nil {
		return err
	}

	handler := api.NewHandler(application, cfg)
	server := &http.Server{
		Addr:              ":" + cfg.HTTP.Port,
		Handler:           api.NewRouter(handler, cfg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	health := application.Health()
	observability.Info("starting media gateway",
		"port", cfg.HTTP.Port,
		"image_api", health.Services.ImageAPI,
		"google", health.Services.Google,
		"assist", health.Services.Assist,
		"assist_provider", cfg.Assist.Provider,
		"uploads", application.Config().Storage.UploadsDir,
	)

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	observability.Info("shutting down media gateway...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	observability.Info("media gateway stopped")
	return nil
}

func newMintAssertionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mint-assertion",
		Short: "Print a signed service account assertion for debugging",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			assertion, err := services.NewGoogleAuthService(cfg).MintAssertion(time.Now())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), assertion)
			return err
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), version)
			return err
		},
	}
}
