// Package engine drives a sync: it walks every selected stream page by page,
// normalizes records, emits them and checkpoints progress after every page.
package engine

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/NickLeoMartin/tap-persistiq/internal/domain/catalog"
	"github.com/NickLeoMartin/tap-persistiq/internal/domain/checkpoint"
	"github.com/NickLeoMartin/tap-persistiq/internal/domain/extract"
	"github.com/NickLeoMartin/tap-persistiq/internal/engine/metrics"
	"github.com/NickLeoMartin/tap-persistiq/internal/transform"
	"github.com/NickLeoMartin/tap-persistiq/pkg/common/logger"
	"github.com/NickLeoMartin/tap-persistiq/pkg/common/timeutil"
)

const pageParam = "page"

// StreamResult summarizes one stream pass.
type StreamResult struct {
	Records  int
	Pages    int
	Bookmark checkpoint.Bookmark
}

// SyncOptions carries per-invocation inputs of SyncStream.
type SyncOptions struct {
	// Start is the bookmark the pass resumes from. It is sent upstream on
	// the first request and is the floor of the bookmark written back.
	Start checkpoint.Bookmark
	// ParentID is injected as <parent>_id when the stream is a sub-stream.
	ParentID string
}

// Paginator syncs a single stream.
type Paginator struct {
	fetcher extract.Fetcher
	sink    extract.Sink
	store   *checkpoint.Store
	clock   timeutil.Provider

	metrics metrics.SyncMetrics
	logger  *logger.Logger
	tracer  trace.Tracer
}

// NewPaginator creates a Paginator that reads from fetcher, writes to sink and
// checkpoints into store.
func NewPaginator(
	fetcher extract.Fetcher,
	sink extract.Sink,
	store *checkpoint.Store,
	clock timeutil.Provider,
	m metrics.SyncMetrics,
	log *logger.Logger,
	tracer trace.Tracer,
) *Paginator {
	if clock == nil {
		clock = timeutil.Default()
	}
	return &Paginator{
		fetcher: fetcher,
		sink:    sink,
		store:   store,
		clock:   clock,
		metrics: m,
		logger:  log.With("component", "paginator"),
		tracer:  tracer,
	}
}

// SyncStream fetches every page of stream and emits its records in upstream
// order. The checkpoint is persisted after each page, so a failure never
// moves the bookmark past the last fully emitted page.
func (p *Paginator) SyncStream(ctx context.Context, stream catalog.Stream, opts SyncOptions) (StreamResult, error) {
	def := stream.Definition
	ctx, span := p.tracer.Start(ctx, "paginator.sync_stream",
		trace.WithAttributes(
			attribute.String("stream", def.Name),
			attribute.String("path", def.Path),
			attribute.String("start_bookmark", opts.Start.String()),
		))
	defer span.End()

	logCtx := p.logger.With("stream", def.Name)
	bookmarkField := def.BookmarkField()
	bookmarkType := def.BookmarkType
	if bookmarkType == "" {
		bookmarkType = checkpoint.BookmarkDatetime
	}

	result := StreamResult{Bookmark: opts.Start}
	page := 1
	var cursorParams url.Values
	for {
		req := extract.Request{
			Stream:  def.Name,
			Path:    def.Path,
			Query:   p.buildQuery(def, page, opts.Start, cursorParams),
			DataKey: def.DataKey,
		}

		pg, err := p.fetcher.Fetch(ctx, req)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "fetch failed")
			return result, err
		}
		p.metrics.IncPagesFetched(ctx, def.Name)
		result.Pages++

		if pg.Kind == extract.PageEmpty || len(pg.Records) == 0 {
			span.AddEvent("empty_page", trace.WithAttributes(attribute.Int("page", page)))
			break
		}

		if err := checkKeyProperties(def, pg.Records); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "missing key property")
			return result, err
		}

		extractedAt := p.clock.Now()
		maxBookmark := result.Bookmark
		for _, raw := range pg.Records {
			if def.ParentStream != "" && opts.ParentID != "" {
				raw[def.ParentStream+"_id"] = opts.ParentID
			}

			rec, err := transform.Transform(raw, stream.Schema, stream.SelectedFields)
			if err != nil {
				var te *transform.TransformError
				field := ""
				if errors.As(err, &te) {
					field = te.Path
				}
				return result, p.fail(span, extract.NewDataIntegrityError(def.Name, field, "record does not match schema", err))
			}

			if bookmarkField != "" {
				if v, ok := rec[bookmarkField]; ok && v != nil {
					b, err := checkpoint.ParseBookmark(bookmarkType, v)
					if err != nil {
						return result, p.fail(span, extract.NewDataIntegrityError(def.Name, bookmarkField, "unparseable bookmark value", err))
					}
					maxBookmark = maxBookmark.Max(b)
				}
			}

			if err := p.sink.EmitRecord(ctx, def.Name, rec, extractedAt); err != nil {
				logCtx.Error(ctx, "failed to emit record", "error", err)
				return result, p.fail(span, extract.NewSinkIOError(def.Name, "record", err))
			}
			result.Records++
		}
		p.metrics.IncRecordsEmitted(ctx, def.Name, len(pg.Records))

		if bookmarkField != "" {
			if err := p.store.Set(ctx, def.Name, maxBookmark); err != nil {
				logCtx.Error(ctx, "failed to persist checkpoint", "error", err)
				return result, p.fail(span, extract.NewSinkIOError(def.Name, "state", err))
			}
			p.metrics.IncStateEmitted(ctx)
			result.Bookmark = maxBookmark
		}

		logCtx.Info(ctx, fmt.Sprintf("synced %s page %d records %d..%d",
			def.Name, page, result.Records-len(pg.Records)+1, result.Records),
			"bookmark", result.Bookmark.String())

		if !pg.HasNext() {
			break
		}
		next, err := extract.ParseCursor(pg.NextCursor)
		if err != nil {
			return result, p.fail(span, extract.NewDataIntegrityError(def.Name, "next_page", "invalid pagination cursor", err))
		}
		if next.Page <= page {
			return result, p.fail(span, extract.NewDataIntegrityError(
				def.Name, "next_page", fmt.Sprintf("cursor page %d does not advance past %d", next.Page, page), extract.ErrInvalidCursor))
		}
		page = next.Page
		cursorParams = next.Params
	}

	// Persist the resolved start even when nothing newer arrived so the next
	// run does not fall back to the configured start date.
	if bookmarkField != "" {
		if err := p.store.Set(ctx, def.Name, result.Bookmark); err != nil {
			return result, p.fail(span, extract.NewSinkIOError(def.Name, "state", err))
		}
		p.metrics.IncStateEmitted(ctx)
	}

	span.SetAttributes(
		attribute.Int("records", result.Records),
		attribute.Int("pages", result.Pages),
		attribute.String("final_bookmark", result.Bookmark.String()),
	)
	span.SetStatus(codes.Ok, "stream synced")
	return result, nil
}

func (p *Paginator) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// buildQuery assembles the request parameters. The bookmark filter is only
// added to the first page; later pages replay the parameters carried by the
// cursor, which override the static ones.
func (p *Paginator) buildQuery(def catalog.StreamDefinition, page int, start checkpoint.Bookmark, cursor url.Values) url.Values {
	q := make(url.Values, len(def.StaticParams)+len(cursor)+2)
	for k, vs := range def.StaticParams {
		q[k] = append([]string(nil), vs...)
	}
	for k, vs := range cursor {
		q[k] = append([]string(nil), vs...)
	}
	q.Set(pageParam, strconv.Itoa(page))
	if page == 1 && def.BookmarkQueryField != "" && !start.IsZero() {
		q.Set(def.BookmarkQueryField, start.String())
	}
	return q
}

// checkKeyProperties validates the whole page before anything is emitted.
func checkKeyProperties(def catalog.StreamDefinition, records []map[string]any) error {
	for i, rec := range records {
		for _, key := range def.KeyProperties {
			if isBlankKey(rec[key]) {
				return extract.NewDataIntegrityError(def.Name, key,
					fmt.Sprintf("record %d is missing key property", i), nil)
			}
		}
	}
	return nil
}

func isBlankKey(v any) bool {
	switch k := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(k) == ""
	}
	return false
}
