package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"flashdoc/internal/api"
)

const shutdownTimeout = 10 * time.Second

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the flashcard generation HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		log := zap.L()
		d, err := buildDeps(cfg, log)
		if err != nil {
			return err
		}
		defer d.Close()

		server := api.NewServer(d.generator, d.decks, api.Options{
			MaxUploadBytes: cfg.Upload.MaxBytes,
			AllowedOrigins: cfg.Server.AllowedOrigins,
			Logger:         log.Named("http"),
			JobRetention:   cfg.Server.JobRetention(),
		})

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		// process-document lifts WriteTimeout for its own responses.
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           server.Handler(),
			ReadHeaderTimeout: 15 * time.Second,
			WriteTimeout:      cfg.Completion.Timeout() + 30*time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			log.Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		log.Info("starting server",
			zap.Int("port", port),
			zap.String("model", cfg.Completion.Model),
			zap.Int64("max_upload_bytes", cfg.Upload.MaxBytes),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
