package pipeline

import (
	"context"

	"golang.org/x/sync/errgroup"

	"flashdoc/internal/models"
	"flashdoc/internal/parse"
	"flashdoc/internal/prompt"
)

// generateChunked issues one completion per chunk and concatenates the cards
// in chunk order. The first failing chunk cancels the rest and fails the run.
func (o *Orchestrator) generateChunked(ctx context.Context, text, source string, enter func(models.Stage)) ([]models.Flashcard, error) {
	enter(models.StagePrompting)
	chunks := prompt.Chunk(text, o.chunkBudget)
	prompts := make([]prompt.Prompt, len(chunks))
	for i, chunk := range chunks {
		prompts[i] = prompt.BuildChunk(chunk, o.cardsPerChunk)
	}

	enter(models.StageAwaitingCompletion)
	replies := make([]string, len(prompts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency)
	for i, p := range prompts {
		i, p := i, p
		g.Go(func() error {
			raw, err := o.completer.Complete(gctx, p)
			if err != nil {
				return err
			}
			replies[i] = raw
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	enter(models.StageParsing)
	var cards []models.Flashcard
	for _, raw := range replies {
		batch, err := parse.Parse(raw, source)
		if err != nil {
			return nil, err
		}
		cards = append(cards, batch...)
	}
	return cards, nil
}
