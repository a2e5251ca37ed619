package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"

	"flashdoc/internal/completion"
	"flashdoc/internal/extract"
	"flashdoc/internal/models"
	"flashdoc/internal/parse"
	"flashdoc/internal/prompt"
)

const (
	msgTimeout     = "Request timed out. Please try again."
	msgUpstream    = "completion backend error"
	msgTransport   = "completion backend unreachable"
	msgUnsupported = "unsupported file type"
	msgEmpty       = "document contains no text"
	msgExtract     = "Failed to extract text from document"
	msgInvalid     = "Invalid response format from AI service"
	msgGeneric     = "Failed to generate flashcards"
)

// Extractor produces normalized text from an uploaded document.
type Extractor interface {
	Extract(ctx context.Context, doc extract.Document) (string, error)
}

// Completer sends one prompt to a completion backend.
type Completer interface {
	Complete(ctx context.Context, p prompt.Prompt) (string, error)
}

// Input is one pipeline invocation.
type Input struct {
	Document extract.Document
	// Source labels the generated cards. models.DefaultSource when empty.
	Source string
	// Chunked splits the text into word-bounded chunks and issues one
	// completion per chunk.
	Chunked bool
	// Observer receives this invocation's events after the orchestrator's own.
	Observer Observer
}

// Orchestrator runs extract → prompt → complete → parse for one document at a
// time. It holds no per-invocation state and is safe for concurrent use.
type Orchestrator struct {
	extractor     Extractor
	completer     Completer
	observer      Observer
	chunkBudget   int
	cardsPerChunk int
	concurrency   int
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithObserver installs the logging sink for stage transitions.
func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) {
		if obs != nil {
			o.observer = obs
		}
	}
}

// WithChunking configures chunked runs: character budget per chunk, cards
// requested per chunk and the number of chunk completions in flight.
func WithChunking(budget, cardsPerChunk, concurrency int) Option {
	return func(o *Orchestrator) {
		if budget > 0 {
			o.chunkBudget = budget
		}
		if cardsPerChunk >= 0 {
			o.cardsPerChunk = cardsPerChunk
		}
		if concurrency > 0 {
			o.concurrency = concurrency
		}
	}
}

func New(extractor Extractor, completer Completer, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		extractor:     extractor,
		completer:     completer,
		observer:      NopObserver{},
		chunkBudget:   prompt.DefaultChunkBudget,
		cardsPerChunk: 5,
		concurrency:   1,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes one invocation. Every failure, including a panic in any stage,
// is reported through the returned result; no partial batch is ever returned.
func (o *Orchestrator) Run(ctx context.Context, in Input) models.PipelineResult {
	return o.run(ctx, in.Source, in.Chunked, in.Observer, func(ctx context.Context) (string, error) {
		return o.extractor.Extract(ctx, in.Document)
	})
}

// RunText executes an invocation on text that is already extracted, as
// submitted through the JSON ingestion mode.
func (o *Orchestrator) RunText(ctx context.Context, text, source string, chunked bool) models.PipelineResult {
	return o.run(ctx, source, chunked, nil, func(context.Context) (string, error) {
		text := extract.Normalize(text)
		if text == "" {
			return "", extract.ErrEmptyDocument
		}
		return text, nil
	})
}

func (o *Orchestrator) run(ctx context.Context, source string, chunked bool, extra Observer, extractFn func(context.Context) (string, error)) (result models.PipelineResult) {
	if source == "" {
		source = models.DefaultSource
	}
	obs := o.observer
	if extra != nil {
		obs = Observers{o.observer, extra}
	}
	start := time.Now()
	stage := models.StageIdle

	defer func() {
		if r := recover(); r != nil {
			err := eris.Errorf("pipeline: panic in %s: %v", stage, r)
			obs.StageFailed(ctx, stage, err)
			result = models.Failed(msgGeneric)
		}
	}()

	fail := func(err error) models.PipelineResult {
		obs.StageFailed(ctx, stage, err)
		return models.Failed(Message(stage, err))
	}
	enter := func(s models.Stage) {
		stage = s
		obs.StageStarted(ctx, s)
	}

	enter(models.StageExtracting)
	text, err := extractFn(ctx)
	if err != nil {
		return fail(err)
	}

	var cards []models.Flashcard
	if chunked {
		cards, err = o.generateChunked(ctx, text, source, enter)
	} else {
		cards, err = o.generate(ctx, text, source, enter)
	}
	if err != nil {
		return fail(err)
	}

	result = models.Succeeded(cards)
	if !result.Success {
		return fail(errors.New(result.Error))
	}
	stage = models.StageDone
	obs.Completed(ctx, len(cards), time.Since(start))
	return result
}

func (o *Orchestrator) generate(ctx context.Context, text, source string, enter func(models.Stage)) ([]models.Flashcard, error) {
	enter(models.StagePrompting)
	p := prompt.Build(text)

	enter(models.StageAwaitingCompletion)
	raw, err := o.completer.Complete(ctx, p)
	if err != nil {
		return nil, err
	}

	enter(models.StageParsing)
	return parse.Parse(raw, source)
}

// Message maps a stage error onto the text shown to callers. Raw replies,
// status bodies and wrapped causes never appear in it.
func Message(stage models.Stage, err error) string {
	var cerr *completion.Error
	switch {
	case errors.Is(err, completion.ErrTimeout):
		return msgTimeout
	case errors.As(err, &cerr) && cerr.Kind == completion.KindUpstream:
		if cerr.Status != "" {
			return msgUpstream + ": " + cerr.Status
		}
		return msgUpstream
	case errors.Is(err, completion.ErrTransport):
		return msgTransport
	case errors.Is(err, extract.ErrUnsupportedFormat):
		return msgUnsupported
	case errors.Is(err, extract.ErrEmptyDocument):
		return msgEmpty
	case errors.Is(err, parse.ErrMalformedJSON), errors.Is(err, parse.ErrMalformedShape):
		return msgInvalid
	case stage == models.StageExtracting:
		return msgExtract
	}
	return msgGeneric
}
