package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"

	"content-autoposter/internal/audit"
	"content-autoposter/internal/auth"
	"content-autoposter/internal/logger"
	"content-autoposter/internal/platform"
	"content-autoposter/internal/telemetry"
	"content-autoposter/models"
	"content-autoposter/utils"
)

// QueueStore is the durable pending posts table.
type QueueStore interface {
	Load() ([]models.QueueEntry, error)
	Save([]models.QueueEntry) error
}

type PublisherOptions struct {
	// Delay is the pause between consecutive publish calls.
	Delay            time.Duration
	VerifyConnection bool
	Metrics          *telemetry.Metrics
	// Clock stamps audit records; defaults to time.Now.
	Clock func() time.Time
}

// Publisher moves due queue entries to the remote platform.
type Publisher struct {
	queue    QueueStore
	audit    audit.Sink
	platform platform.Platform
	creds    auth.CredentialSource
	limiter  *rate.Limiter
	verify   bool
	metrics  *telemetry.Metrics
	clock    func() time.Time
}

func NewPublisher(queue QueueStore, sink audit.Sink, pf platform.Platform, creds auth.CredentialSource, opts PublisherOptions) *Publisher {
	limit := rate.Inf
	if opts.Delay > 0 {
		limit = rate.Every(opts.Delay)
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Publisher{
		queue:    queue,
		audit:    sink,
		platform: pf,
		creds:    creds,
		limiter:  rate.NewLimiter(limit, 1),
		verify:   opts.VerifyConnection,
		metrics:  opts.Metrics,
		clock:    clock,
	}
}

// PublishDue publishes every pending entry scheduled at or before now, in queue order.
// Per-entry failures are reported, not returned; the error is reserved for queue or
// audit storage failures. The queue is saved once, and only when something was due.
func (p *Publisher) PublishDue(ctx context.Context, now time.Time) (*models.PublishReport, error) {
	tracer := otel.Tracer("publisher")
	ctx, span := tracer.Start(ctx, "publisher.publish_due")
	defer span.End()

	report := &models.PublishReport{StartedAt: p.clock(), Platform: p.platform.Name()}

	entries, err := p.queue.Load()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "load queue")
		return nil, err
	}

	var due []int
	for i := range entries {
		if entries[i].IsDue(now) {
			due = append(due, i)
		}
	}
	report.Due = len(due)
	span.SetAttributes(
		attribute.Int("queue.entries", len(entries)),
		attribute.Int("queue.due", len(due)),
		attribute.String("platform", p.platform.Name()),
	)

	if len(due) == 0 {
		report.NextScheduled = nextScheduled(entries, now)
		report.FinishedAt = p.clock()
		if report.NextScheduled != nil {
			logger.Info("No posts due", "pending", countPending(entries), "next_scheduled", *report.NextScheduled)
		} else {
			logger.Info("No posts due", "pending", countPending(entries))
		}
		return report, nil
	}

	logger.Info("Publishing due posts", "due", len(due), "platform", p.platform.Name())

	var auditErr error
	recordAudit := func(rec models.AuditRecord) {
		if err := p.audit.Append(ctx, rec); err != nil {
			logger.Error("Failed to append audit record", "entry_id", rec.EntryID, "error", err)
			if auditErr == nil {
				auditErr = err
			}
		}
	}

	if p.verify {
		if err := p.checkConnection(ctx); err != nil {
			p.abort(ctx, report, entries, due, err, recordAudit)
			due = nil
		}
	}

	for n, idx := range due {
		entry := &entries[idx]

		if err := p.limiter.Wait(ctx); err != nil {
			p.abort(ctx, report, entries, due[n:], err, recordAudit)
			break
		}

		cred, err := p.creds.Credential(ctx)
		if err != nil {
			p.abort(ctx, report, entries, due[n:], err, recordAudit)
			break
		}

		start := time.Now()
		remoteID, err := p.publishWithRetry(ctx, cred, entry)
		attemptedAt := p.clock()
		p.metrics.RecordPublish(ctx, p.platform.Name(), err == nil, time.Since(start).Seconds())

		if err == nil {
			if err = entry.MarkPublished(remoteID, now); err != nil {
				err = fmt.Errorf("record publish of %s: %w", entry.ID, err)
			}
		}

		result := models.EntryResult{
			EntryID:     entry.ID,
			URL:         entry.SourceURL,
			ScheduledAt: entry.ScheduledAt,
			Preview:     utils.Truncate(entry.Body, audit.PreviewLength),
		}
		if err != nil {
			logger.Error("Failed to publish post", "entry_id", entry.ID, "kind", utils.KindOf(err), "error", err)
			result.Status = models.StatusFailed
			result.Error = err.Error()
			report.Failed++
		} else {
			logger.Info("Post published", "entry_id", entry.ID, "remote_post_id", remoteID)
			result.Status = models.StatusPublished
			result.RemotePostID = remoteID
			report.Succeeded++
		}
		report.Results = append(report.Results, result)
		recordAudit(audit.RecordFor(entry, attemptedAt, remoteID, err))
	}

	report.NextScheduled = nextScheduled(entries, now)
	span.SetAttributes(
		attribute.Int("publish.succeeded", report.Succeeded),
		attribute.Int("publish.failed", report.Failed),
		attribute.Bool("publish.aborted", report.Aborted),
	)

	if err := p.queue.Save(entries); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "save queue")
		report.FinishedAt = p.clock()
		return report, err
	}
	report.FinishedAt = p.clock()

	logger.Info("Publishing run finished",
		"succeeded", report.Succeeded,
		"failed", report.Failed,
		"aborted", report.Aborted,
	)
	if auditErr != nil {
		return report, auditErr
	}
	return report, nil
}

// publishWithRetry sends the entry once and, on a 401, refreshes the credential
// and sends it exactly one more time.
func (p *Publisher) publishWithRetry(ctx context.Context, cred auth.Credential, entry *models.QueueEntry) (string, error) {
	remoteID, err := p.platform.Publish(ctx, cred, *entry)
	if err == nil || !errors.Is(err, utils.ErrUnauthorized) {
		return remoteID, err
	}

	logger.Warn("Publish unauthorized, refreshing credential", "entry_id", entry.ID)
	refreshed, rerr := p.creds.ForceRefresh(ctx)
	p.metrics.RecordTokenRefresh(ctx, rerr == nil)
	if rerr != nil {
		return "", fmt.Errorf("%v; credential refresh failed: %w", err, rerr)
	}
	return p.platform.Publish(ctx, refreshed, *entry)
}

func (p *Publisher) checkConnection(ctx context.Context) error {
	cred, err := p.creds.Credential(ctx)
	if err != nil {
		return err
	}
	title, err := p.platform.CheckConnection(ctx, cred)
	if err != nil {
		return fmt.Errorf("connection check failed: %w", err)
	}
	logger.Info("API connection successful", "blog", title)
	return nil
}

// abort marks every remaining due entry as failed for this run without touching its state.
func (p *Publisher) abort(ctx context.Context, report *models.PublishReport, entries []models.QueueEntry, remaining []int, cause error, record func(models.AuditRecord)) {
	logger.Error("Aborting publishing batch", "remaining", len(remaining), "error", cause)

	report.Aborted = true
	report.AbortReason = cause.Error()
	at := p.clock()
	for _, idx := range remaining {
		entry := &entries[idx]
		report.Failed++
		report.Results = append(report.Results, models.EntryResult{
			EntryID:     entry.ID,
			URL:         entry.SourceURL,
			ScheduledAt: entry.ScheduledAt,
			Preview:     utils.Truncate(entry.Body, audit.PreviewLength),
			Status:      models.StatusFailed,
			Error:       cause.Error(),
		})
		p.metrics.RecordPublish(ctx, p.platform.Name(), false, 0)
		record(audit.RecordFor(entry, at, "", cause))
	}
}

func nextScheduled(entries []models.QueueEntry, now time.Time) *time.Time {
	var next *time.Time
	for i := range entries {
		e := &entries[i]
		if e.Published || !e.ScheduledAt.After(now) {
			continue
		}
		if next == nil || e.ScheduledAt.Before(*next) {
			t := e.ScheduledAt
			next = &t
		}
	}
	return next
}

func countPending(entries []models.QueueEntry) int {
	n := 0
	for i := range entries {
		if !entries[i].Published {
			n++
		}
	}
	return n
}
