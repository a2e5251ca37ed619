package main

import (
	"database/sql"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"flashdoc/internal/config"
	"flashdoc/internal/db"
	"flashdoc/internal/deck"
	"flashdoc/internal/extract"
	"flashdoc/internal/pipeline"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "flashdoc",
	Short: "Generate study flashcards from documents",
	Long:  "Extracts text from uploaded documents, asks a chat completion backend for question/answer pairs and serves the validated flashcards over HTTP.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
	SilenceUsage: true,
}

// deps holds the components shared by the serve and generate commands.
type deps struct {
	conn      *sql.DB
	decks     *deck.Store
	generator *pipeline.Orchestrator
}

func (d *deps) Close() error {
	return d.conn.Close()
}

// buildDeps wires the pipeline and deck store from cfg. A missing API key
// fails here, before any request is made.
func buildDeps(cfg *config.Config, log *zap.Logger) (*deps, error) {
	client, err := cfg.Completion.Client()
	if err != nil {
		return nil, fmt.Errorf("completion client: %w", err)
	}

	conn, err := db.Open(cfg.Deck.DSN)
	if err != nil {
		return nil, fmt.Errorf("open deck store: %w", err)
	}

	generator := pipeline.New(
		extract.New(cfg.Upload.Dir),
		client,
		pipeline.WithObserver(pipeline.NewZapObserver(log, cfg.Log.Verbose)),
		pipeline.WithChunking(cfg.Chunk.Budget, cfg.Chunk.CardsPerChunk, cfg.Chunk.Concurrency),
	)

	return &deps{
		conn:      conn,
		decks:     deck.NewStore(conn),
		generator: generator,
	}, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
