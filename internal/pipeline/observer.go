package pipeline

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"flashdoc/internal/models"
	"flashdoc/internal/parse"
)

// Observer receives stage transitions of pipeline invocations. Implementations
// must be safe for concurrent use.
type Observer interface {
	StageStarted(ctx context.Context, stage models.Stage)
	StageFailed(ctx context.Context, stage models.Stage, err error)
	Completed(ctx context.Context, cards int, elapsed time.Duration)
}

type NopObserver struct{}

func (NopObserver) StageStarted(context.Context, models.Stage)       {}
func (NopObserver) StageFailed(context.Context, models.Stage, error) {}
func (NopObserver) Completed(context.Context, int, time.Duration)    {}

// Observers fans every event out to each member in order.
type Observers []Observer

func (os Observers) StageStarted(ctx context.Context, stage models.Stage) {
	for _, o := range os {
		o.StageStarted(ctx, stage)
	}
}

func (os Observers) StageFailed(ctx context.Context, stage models.Stage, err error) {
	for _, o := range os {
		o.StageFailed(ctx, stage, err)
	}
}

func (os Observers) Completed(ctx context.Context, cards int, elapsed time.Duration) {
	for _, o := range os {
		o.Completed(ctx, cards, elapsed)
	}
}

type invocationKey struct{}

// WithInvocation tags ctx with an id that observers attach to their events.
func WithInvocation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, invocationKey{}, id)
}

// InvocationID returns the id set by WithInvocation, or "".
func InvocationID(ctx context.Context) string {
	id, _ := ctx.Value(invocationKey{}).(string)
	return id
}

// ZapObserver logs stage transitions. With verbose set, the raw completion
// reply of a rejected parse is logged at debug level.
type ZapObserver struct {
	log     *zap.Logger
	verbose bool
}

func NewZapObserver(log *zap.Logger, verbose bool) *ZapObserver {
	if log == nil {
		log = zap.NewNop()
	}
	return &ZapObserver{log: log.Named("pipeline"), verbose: verbose}
}

func (z *ZapObserver) fields(ctx context.Context, stage models.Stage) []zap.Field {
	fields := []zap.Field{zap.String("stage", string(stage))}
	if id := InvocationID(ctx); id != "" {
		fields = append(fields, zap.String("invocation", id))
	}
	return fields
}

func (z *ZapObserver) StageStarted(ctx context.Context, stage models.Stage) {
	z.log.Debug("pipeline.stage.start", z.fields(ctx, stage)...)
}

func (z *ZapObserver) StageFailed(ctx context.Context, stage models.Stage, err error) {
	z.log.Warn("pipeline.stage.failed", append(z.fields(ctx, stage), zap.Error(err))...)

	var perr *parse.Error
	if z.verbose && errors.As(err, &perr) {
		z.log.Debug("pipeline.reply.rejected", append(z.fields(ctx, stage), zap.String("raw", perr.Raw))...)
	}
}

func (z *ZapObserver) Completed(ctx context.Context, cards int, elapsed time.Duration) {
	z.log.Info("pipeline.completed",
		append(z.fields(ctx, models.StageDone), zap.Int("cards", cards), zap.Duration("elapsed", elapsed))...,
	)
}
