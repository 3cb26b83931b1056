package outbox

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/claude/liftlog/internal/models"
)

// Remote applies one mutation against the remote store. A create that
// already succeeded must be treated as an upsert, not an error.
type Remote interface {
	Apply(ctx context.Context, op models.Operation, entityType string, payload json.RawMessage) error
}

// Drainer pushes queued entries to the remote store in the background.
// Connectivity failures are silent: the entry stays queued and is
// retried on the next pass, and later entries of the same session
// lineage are held back so a session create is never outrun by its
// dependent set mutations.
type Drainer struct {
	queue    *Queue
	remote   Remote
	log      *slog.Logger
	interval time.Duration
	kick     chan struct{}
}

// NewDrainer creates a drainer that runs a pass every interval and
// whenever Kick is called.
func NewDrainer(queue *Queue, remote Remote, interval time.Duration, log *slog.Logger) *Drainer {
	return &Drainer{
		queue:    queue,
		remote:   remote,
		log:      log,
		interval: interval,
		kick:     make(chan struct{}, 1),
	}
}

// Kick requests a drain pass without waiting for the next tick. Safe to
// call from any goroutine; a pending kick is not duplicated.
func (d *Drainer) Kick() {
	select {
	case d.kick <- struct{}{}:
	default:
	}
}

// Run drains until the context is cancelled.
func (d *Drainer) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-d.kick:
		}
		if _, err := d.DrainOnce(ctx); err != nil {
			d.log.Warn("drain pass failed", "error", err)
		}
	}
}

// DrainOnce attempts every queued entry once, in enqueue order. Returns
// the number of entries applied and removed. A failed entry blocks the
// remaining entries of its lineage but not other lineages.
func (d *Drainer) DrainOnce(ctx context.Context) (int, error) {
	entries, err := d.queue.Pending()
	if err != nil {
		return 0, err
	}

	applied := 0
	blocked := make(map[string]bool)
	for _, e := range entries {
		if blocked[e.Lineage] {
			continue
		}
		if err := d.remote.Apply(ctx, e.Operation, e.EntityType, e.Payload); err != nil {
			d.log.Warn("remote apply failed, will retry",
				"entity", e.EntityType,
				"op", e.Operation,
				"record", e.RecordID,
				"retries", e.RetryCount,
				"error", err,
			)
			if err := d.queue.RecordFailure(e.ID); err != nil {
				return applied, err
			}
			blocked[e.Lineage] = true
			continue
		}
		if err := d.queue.Remove(e.ID); err != nil {
			return applied, err
		}
		applied++
	}
	return applied, nil
}
