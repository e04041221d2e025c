package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/NickLeoMartin/tap-persistiq/internal/domain/catalog"
	"github.com/NickLeoMartin/tap-persistiq/internal/domain/checkpoint"
	"github.com/NickLeoMartin/tap-persistiq/internal/domain/extract"
	"github.com/NickLeoMartin/tap-persistiq/internal/engine/metrics"
	"github.com/NickLeoMartin/tap-persistiq/pkg/common/logger"
)

// RunSummary reports what a run did.
type RunSummary struct {
	RunID        uuid.UUID
	Streams      map[string]StreamResult
	TotalRecords int
	Duration     time.Duration
}

// Orchestrator runs every selected stream in catalog order.
type Orchestrator struct {
	paginator *Paginator
	sink      extract.Sink
	store     *checkpoint.Store
	startDate time.Time

	metrics metrics.SyncMetrics
	logger  *logger.Logger
	tracer  trace.Tracer
}

// NewOrchestrator wires an Orchestrator. startDate is the bookmark default for
// datetime streams that have never been synced.
func NewOrchestrator(
	paginator *Paginator,
	sink extract.Sink,
	store *checkpoint.Store,
	startDate time.Time,
	m metrics.SyncMetrics,
	log *logger.Logger,
	tracer trace.Tracer,
) *Orchestrator {
	return &Orchestrator{
		paginator: paginator,
		sink:      sink,
		store:     store,
		startDate: startDate,
		metrics:   m,
		logger:    log.With("component", "orchestrator"),
		tracer:    tracer,
	}
}

// Run syncs the selected streams sequentially. The first fatal error aborts
// the run; the checkpoint emitted so far is the resume point.
func (o *Orchestrator) Run(ctx context.Context, cat *catalog.Catalog) (RunSummary, error) {
	start := time.Now()
	summary := RunSummary{RunID: uuid.New(), Streams: make(map[string]StreamResult)}

	ctx, span := o.tracer.Start(ctx, "orchestrator.run",
		trace.WithAttributes(attribute.String("run_id", summary.RunID.String())))
	defer span.End()

	logCtx := logger.NewLoggerContext(o.logger.With("run_id", summary.RunID.String()))

	selected := cat.Selected()
	if len(selected) == 0 {
		logCtx.Warn(ctx, "no streams selected")
		return summary, nil
	}
	if marker := o.store.CurrentlySyncing(); marker != "" {
		logCtx.Info(ctx, "previous run was interrupted", "currently_syncing", marker)
	}

	for _, stream := range selected {
		name := stream.Definition.Name
		logCtx.Info(ctx, "syncing stream", "stream", name)

		var result StreamResult
		err := o.metrics.TrackStream(ctx, name, func() error {
			var err error
			result, err = o.syncStream(ctx, stream)
			return err
		})
		summary.Streams[name] = result
		summary.TotalRecords += result.Records
		if err != nil {
			logCtx.Error(ctx, "stream sync failed", "stream", name, "records", result.Records, "error", err)
			span.RecordError(err)
			span.SetStatus(codes.Error, "stream sync failed")
			summary.Duration = time.Since(start)
			return summary, err
		}
		logCtx.Info(ctx, "stream synced", "stream", name, "records", result.Records, "pages", result.Pages)
	}

	summary.Duration = time.Since(start)
	logCtx.Add("total_records", summary.TotalRecords, "duration", summary.Duration.String())
	logCtx.Info(ctx, "sync finished")
	span.SetAttributes(attribute.Int("total_records", summary.TotalRecords))
	span.SetStatus(codes.Ok, "run complete")
	return summary, nil
}

// syncStream brackets one stream with the currently-syncing marker. The marker
// is cleared on success and on terminal errors; only a crash leaves it set.
func (o *Orchestrator) syncStream(ctx context.Context, stream catalog.Stream) (StreamResult, error) {
	def := stream.Definition

	if err := o.store.SetCurrentlySyncing(ctx, def.Name); err != nil {
		return StreamResult{}, extract.NewSinkIOError(def.Name, "state", err)
	}

	var bookmarkProps []string
	if f := def.BookmarkField(); f != "" {
		bookmarkProps = []string{f}
	}
	if err := o.sink.EmitSchema(ctx, def.Name, stream.Schema, def.KeyProperties, bookmarkProps); err != nil {
		return StreamResult{}, o.clearMarker(ctx, extract.NewSinkIOError(def.Name, "schema", err))
	}

	startBookmark, err := o.startBookmark(def)
	if err != nil {
		return StreamResult{}, o.clearMarker(ctx, err)
	}

	result, err := o.paginator.SyncStream(ctx, stream, SyncOptions{Start: startBookmark})
	if err != nil {
		return result, o.clearMarker(ctx, err)
	}

	if err := o.store.SetCurrentlySyncing(ctx, ""); err != nil {
		return result, extract.NewSinkIOError(def.Name, "state", err)
	}
	return result, nil
}

func (o *Orchestrator) clearMarker(ctx context.Context, cause error) error {
	if err := o.store.SetCurrentlySyncing(ctx, ""); err != nil {
		return errors.Join(cause, fmt.Errorf("clearing currently syncing marker: %w", err))
	}
	return cause
}

// startBookmark resolves where an incremental stream resumes: the stored
// bookmark, else the configured start date (datetime) or zero (integer).
func (o *Orchestrator) startBookmark(def catalog.StreamDefinition) (checkpoint.Bookmark, error) {
	field := def.BookmarkField()
	if field == "" {
		return checkpoint.Bookmark{}, nil
	}

	fallback := checkpoint.DatetimeBookmark(o.startDate)
	if def.BookmarkType == checkpoint.BookmarkInteger {
		fallback = checkpoint.IntegerBookmark(0)
	}

	b, err := o.store.Get(def.Name, fallback.Type(), fallback)
	if err != nil {
		return checkpoint.Bookmark{}, extract.NewDataIntegrityError(def.Name, field, "stored bookmark is unreadable", err)
	}
	return b, nil
}
