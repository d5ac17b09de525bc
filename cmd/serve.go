package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kiesman99/rasterpeek/internal/metrics"
	"github.com/kiesman99/rasterpeek/internal/server"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP service for raster attributes and thumbnails",
	Long: `Start an HTTP server exposing raster inspection endpoints.

Endpoints:
  GET  /            greeting
  GET  /health      liveness
  POST /attributes  multipart field image_file, returns JSON attributes
  POST /thumbnail   multipart field image_file, ?resolution=N, returns PNG
  GET  /metrics     Prometheus metrics

Examples:
  # Start server on default port 8000
  rasterpeek serve

  # Start server with custom bind address
  rasterpeek serve --bind 0.0.0.0 --port 8080`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	// Server configuration
	serveCmd.Flags().StringP("bind", "b", "localhost", "bind address")
	serveCmd.Flags().IntP("port", "p", 8000, "port to listen on")
	serveCmd.Flags().Duration("timeout", 30*time.Second, "request timeout")
	serveCmd.Flags().Int64("max-upload-bytes", server.DefaultMaxUploadBytes, "largest accepted upload in bytes")

	// Bind flags to viper
	viper.BindPFlag("server.bind", serveCmd.Flags().Lookup("bind"))
	viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	viper.BindPFlag("server.timeout", serveCmd.Flags().Lookup("timeout"))
	viper.BindPFlag("server.max_upload_bytes", serveCmd.Flags().Lookup("max-upload-bytes"))
}

func runServe(cmd *cobra.Command, args []string) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	service, err := newService(logger)
	if err != nil {
		return err
	}

	bind := viper.GetString("server.bind")
	port := viper.GetInt("server.port")
	timeout := viper.GetDuration("server.timeout")

	addr := fmt.Sprintf("%s:%d", bind, port)

	apiServer := server.NewServer(server.Options{
		Version:        version,
		Service:        service,
		Logger:         logger,
		Metrics:        metrics.New(),
		MaxUploadBytes: viper.GetInt64("server.max_upload_bytes"),
	})

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server.NewRouter(apiServer, timeout),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       timeout,
		WriteTimeout:      timeout + 5*time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting rasterpeek server",
			zap.String("addr", addr),
			zap.String("version", version),
			zap.Duration("timeout", timeout))

		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		return nil
	})

	return g.Wait()
}
