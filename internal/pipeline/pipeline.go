// Package pipeline implements the ingestion run: search unread candidate
// messages, extract structured events, deduplicate against the ledger and
// append only what is new, marking consumed messages read.
package pipeline

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/eventscout/internal/dedupe"
	"example.com/eventscout/internal/extraction"
	"example.com/eventscout/internal/mail"
	"example.com/eventscout/internal/messaging"
	"example.com/eventscout/internal/metrics"
	"example.com/eventscout/internal/models"
	"example.com/eventscout/internal/tracing"
)

// EventStore is the slice of the ledger the pipeline needs.
type EventStore interface {
	ReadAll(ctx context.Context) ([]models.Event, error)
	Append(ctx context.Context, event *models.Event) error
}

// Indexer mirrors accepted events into a secondary search index.
type Indexer interface {
	IndexEvent(ctx context.Context, event *models.Event) error
}

// Locker serializes runs against the same store.
type Locker interface {
	AcquireRunLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	ReleaseRunLock(ctx context.Context, key string) error
}

// Options carries the per-deployment knobs of a run.
type Options struct {
	SearchQuery string
	BatchSize   int
	LockKey     string
	LockTTL     time.Duration
}

// Pipeline orchestrates one ingestion run. A run is single-threaded;
// overlapping runs are excluded by the Locker when one is configured.
type Pipeline struct {
	source    mail.Source
	extractor extraction.Service
	store     EventStore
	locker    Locker             // optional
	indexer   Indexer            // optional
	notifier  messaging.Notifier // optional
	metrics   *metrics.Metrics
	tracer    tracing.Tracer
	opts      Options
}

// New creates a pipeline. locker, indexer and notifier may be nil.
func New(
	source mail.Source,
	extractor extraction.Service,
	store EventStore,
	locker Locker,
	indexer Indexer,
	notifier messaging.Notifier,
	collector *metrics.Metrics,
	tracer tracing.Tracer,
	opts Options,
) *Pipeline {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 10
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 5 * time.Minute
	}
	return &Pipeline{
		source:    source,
		extractor: extractor,
		store:     store,
		locker:    locker,
		indexer:   indexer,
		notifier:  notifier,
		metrics:   collector,
		tracer:    tracer,
		opts:      opts,
	}
}

// Summary reports what one run did.
type Summary struct {
	Searched      int  `json:"searched"`
	Appended      int  `json:"appended"`
	Duplicates    int  `json:"duplicates"`
	NoEvent       int  `json:"no_event"`
	Deferred      int  `json:"deferred"`
	Rejected      int  `json:"rejected"`
	SkippedLocked bool `json:"skipped_locked"`
}

// Run executes one complete ingestion pass. It returns an error only when
// the mail source or the store is unreachable before any mutation; failures
// on individual messages degrade and the run continues.
func (p *Pipeline) Run(ctx context.Context) (Summary, error) {
	start := time.Now()
	txn := p.tracer.StartTransaction("ingest-run")
	defer p.tracer.EndTransaction(txn)

	var summary Summary

	if p.locker != nil {
		acquired, err := p.locker.AcquireRunLock(ctx, p.opts.LockKey, p.opts.LockTTL)
		if err != nil {
			p.tracer.RecordError(txn, err)
			return summary, errors.Wrap(err, "failed to acquire run lock")
		}
		if !acquired {
			log.Info().Str("lock_key", p.opts.LockKey).Msg("Another ingestion run holds the lock, skipping")
			p.metrics.IncCounter(metrics.RunsSkippedLocked)
			summary.SkippedLocked = true
			return summary, nil
		}
		defer func() {
			if err := p.locker.ReleaseRunLock(context.Background(), p.opts.LockKey); err != nil {
				log.Warn().Err(err).Msg("Failed to release run lock, lease will expire on its own")
			}
		}()
	}

	p.metrics.IncCounter(metrics.RunsTotal)
	defer func() {
		p.metrics.RecordTimer(metrics.RunDuration, time.Since(start))
	}()

	searchSpan := p.tracer.StartSpan("search-unread", txn)
	messages, err := p.source.SearchUnread(ctx, p.opts.SearchQuery, p.opts.BatchSize)
	searchSpan.End()
	if err != nil {
		p.tracer.RecordError(txn, err)
		return summary, errors.Wrap(err, "failed to search unread messages")
	}

	summary.Searched = len(messages)
	p.metrics.AddCounter(metrics.MessagesSearched, int64(len(messages)))
	if len(messages) == 0 {
		log.Info().Msg("No new unread messages")
		return summary, nil
	}

	snapshotSpan := p.tracer.StartSpan("snapshot-ledger", txn)
	existing, err := p.store.ReadAll(ctx)
	snapshotSpan.End()
	if err != nil {
		p.tracer.RecordError(txn, err)
		return summary, errors.Wrap(err, "failed to read existing events")
	}

	// One snapshot per run; the in-memory index handles duplicates arriving
	// within the same batch.
	index := dedupe.Build(existing)

	for _, msg := range messages {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		p.processMessage(ctx, msg, index, &summary)
	}

	log.Info().
		Int("searched", summary.Searched).
		Int("appended", summary.Appended).
		Int("duplicates", summary.Duplicates).
		Int("no_event", summary.NoEvent).
		Int("deferred", summary.Deferred).
		Int("rejected", summary.Rejected).
		Dur("duration", time.Since(start)).
		Msg("Ingestion run complete")

	return summary, nil
}

func (p *Pipeline) processMessage(ctx context.Context, msg models.CandidateMessage, index *dedupe.Index, summary *Summary) {
	// Defensive re-check; the search already filtered on unread
	if !msg.Unread {
		log.Debug().Str("message_id", msg.ID).Msg("Message no longer unread, skipping")
		return
	}

	outcome := p.extractor.Extract(ctx, msg.Subject, msg.Body)
	switch outcome.Status {
	case extraction.StatusFailed:
		// Left unread: a transient failure gets retried on the next run
		log.Warn().
			Err(outcome.Err).
			Str("message_id", msg.ID).
			Str("subject", msg.Subject).
			Msg("Extraction failed, message left unread for retry")
		p.metrics.IncCounter(metrics.ExtractionFailed)
		summary.Deferred++
		return

	case extraction.StatusNoEvent:
		log.Debug().Str("message_id", msg.ID).Msg("Not an event, marking read")
		p.metrics.IncCounter(metrics.NoEventMessages)
		summary.NoEvent++
		p.markRead(ctx, msg.ID, "")
		return
	}

	extracted := outcome.Event
	day, err := dedupe.NormalizeDate(extracted.Date)
	if err != nil {
		// Unusable dedup key; the message stays unread so a later run can
		// try again with the same content
		log.Warn().
			Err(err).
			Str("message_id", msg.ID).
			Str("title", extracted.Title).
			Msg("Extracted event has unusable date, rejected")
		summary.Rejected++
		return
	}

	fingerprint := dedupe.Fingerprint(extracted.Title, day)
	if index.Contains(fingerprint) {
		log.Info().
			Str("title", extracted.Title).
			Str("date", day).
			Msg("Duplicate detected, skipping")
		p.metrics.IncCounter(metrics.DuplicatesSkipped)
		summary.Duplicates++
		p.markRead(ctx, msg.ID, "")
		return
	}

	record := models.NewEvent(*extracted, msg.Subject)
	record.Date = day

	if err := p.store.Append(ctx, record); err != nil {
		log.Error().
			Err(err).
			Str("message_id", msg.ID).
			Str("title", record.Title).
			Msg("Failed to append event, message left unread")
		return
	}
	index.Add(fingerprint)
	p.metrics.IncCounter(metrics.EventsAppended)
	summary.Appended++

	// Secondary index and notification are best-effort: the row is already
	// durable and the run must keep moving
	if p.indexer != nil {
		if err := p.indexer.IndexEvent(ctx, record); err != nil {
			log.Warn().Err(err).Str("event_id", record.ID.String()).Msg("Failed to index event")
		}
	}
	if p.notifier != nil {
		if err := p.notifier.PublishEventAccepted(ctx, record); err != nil {
			log.Warn().Err(err).Str("event_id", record.ID.String()).Msg("Failed to publish event notification")
		}
	}

	log.Info().
		Str("event_id", record.ID.String()).
		Str("title", record.Title).
		Str("date", record.Date).
		Msg("Event saved")

	// Once the append succeeded the mark-read must still be attempted; a
	// failure here leaves the row in place (at-least-once into the store)
	p.markRead(ctx, msg.ID, record.ID.String())
}

// markRead marks a message read and logs loudly when that fails after an
// append already happened.
func (p *Pipeline) markRead(ctx context.Context, messageID, appendedEventID string) {
	if err := p.source.MarkRead(ctx, messageID); err != nil {
		p.metrics.IncCounter(metrics.MarkReadFailed)
		evt := log.Error().Err(err).Str("message_id", messageID)
		if appendedEventID != "" {
			evt = evt.Str("appended_event_id", appendedEventID)
		}
		evt.Msg("Failed to mark message read; it may be reprocessed and deduplicated next run")
	}
}
