package main

import (
	"context"
	"encoding/json"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"flashdoc/internal/extract"
	"flashdoc/internal/pipeline"
)

var (
	generateChunked bool
	generateSource  string
	generateDeck    string
)

var generateCmd = &cobra.Command{
	Use:   "generate <file>",
	Short: "Generate flashcards for one document and print the result as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		data, err := os.ReadFile(path)
		if err != nil {
			return eris.Wrapf(err, "read %s", path)
		}

		d, err := buildDeps(cfg, zap.L())
		if err != nil {
			return err
		}
		defer d.Close()

		doc := extract.Document{
			Name:        filepath.Base(path),
			ContentType: mime.TypeByExtension(strings.ToLower(filepath.Ext(path))),
			Data:        data,
		}
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		ctx = pipeline.WithInvocation(ctx, doc.Name)
		result := d.generator.Run(ctx, pipeline.Input{
			Document: doc,
			Source:   generateSource,
			Chunked:  generateChunked,
		})

		if result.Success && generateDeck != "" {
			if _, err := d.decks.Add(ctx, generateDeck, result.Flashcards); err != nil {
				return eris.Wrapf(err, "save to deck %s", generateDeck)
			}
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		if err := enc.Encode(result); err != nil {
			return eris.Wrap(err, "encode result")
		}
		if !result.Success {
			return eris.New(result.Error)
		}
		return nil
	},
}

func init() {
	generateCmd.Flags().BoolVar(&generateChunked, "chunked", false, "split the text into chunks and request cards per chunk")
	generateCmd.Flags().StringVar(&generateSource, "source", "", "label stored in each card's sourceDocument (default \"PDF Upload\")")
	generateCmd.Flags().StringVar(&generateDeck, "deck", "", "also save the generated cards to this deck")
	rootCmd.AddCommand(generateCmd)
}
