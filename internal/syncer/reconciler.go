// Todograph - todo backend with a relational system of record and a graph mirror
// SPDX-License-Identifier: AGPL-3.0-or-later

package syncer

import (
	"context"
	"errors"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"golang.org/x/time/rate"

	"github.com/todograph/todograph/internal/config"
	"github.com/todograph/todograph/internal/graph"
	"github.com/todograph/todograph/internal/logging"
	"github.com/todograph/todograph/internal/metrics"
	"github.com/todograph/todograph/internal/models"
	"github.com/todograph/todograph/internal/store"
)

// Source is the authoritative read surface the reconciler derives from.
// *store.Store satisfies it.
type Source interface {
	UserByID(ctx context.Context, id int64) (*models.User, error)
	TodoByID(ctx context.Context, id int64) (*models.Todo, error)
	CategoryByID(ctx context.Context, id int64) (*models.Category, error)
}

// SweepResult summarizes one reconciliation sweep.
type SweepResult struct {
	Attempted   int `json:"attempted"`
	Resolved    int `json:"resolved"`
	Retried     int `json:"retried"`
	DeadLetters int `json:"dead_letters"`
}

// Reconciler drains the pending queue. Each entry is reconciled by reading
// the entity's current state from the system of record and upserting (or
// deleting) the corresponding graph node. The derived write carries no
// history, so sweeps are idempotent and entries can be processed in any
// order.
type Reconciler struct {
	queue      *Queue
	source     Source
	mirror     graph.Writes
	backoff    *Backoff
	limiter    *rate.Limiter
	subscriber message.Subscriber

	interval   time.Duration
	maxRetries int
}

// NewReconciler builds a Reconciler. subscriber may be nil; the periodic
// sweep then becomes the only trigger.
func NewReconciler(queue *Queue, source Source, mirror graph.Writes, backoff *Backoff, subscriber message.Subscriber, cfg *config.SyncConfig) *Reconciler {
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1)
	}
	return &Reconciler{
		queue:      queue,
		source:     source,
		mirror:     mirror,
		backoff:    backoff,
		limiter:    limiter,
		subscriber: subscriber,
		interval:   cfg.Interval,
		maxRetries: cfg.MaxRetries,
	}
}

// Serve runs sweeps until ctx is cancelled. It satisfies suture.Service.
func (r *Reconciler) Serve(ctx context.Context) error {
	logging.Info().Dur("interval", r.interval).Int("max_retries", r.maxRetries).Msg("[RECONCILER] Starting")

	var wakeups <-chan *message.Message
	if r.subscriber != nil {
		ch, err := r.subscriber.Subscribe(ctx, TopicPending)
		if err != nil {
			return err
		}
		wakeups = ch
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.Info().Msg("[RECONCILER] Stopping")
			return ctx.Err()
		case <-ticker.C:
			r.sweepAndLog(ctx, "tick")
		case msg, ok := <-wakeups:
			if !ok {
				wakeups = nil
				continue
			}
			msg.Ack()
			// The entry that triggered the wake-up carries its own backoff;
			// sweep everything due rather than chasing one key.
			r.sweepAndLog(ctx, "wakeup")
		}
	}
}

func (r *Reconciler) String() string {
	return "reconciler"
}

func (r *Reconciler) sweepAndLog(ctx context.Context, trigger string) {
	result, err := r.Sweep(ctx)
	if err != nil {
		logging.Error().Err(err).Str("trigger", trigger).Msg("[RECONCILER] Sweep failed")
		return
	}
	if result.Attempted > 0 {
		logging.Info().
			Str("trigger", trigger).
			Int("attempted", result.Attempted).
			Int("resolved", result.Resolved).
			Int("retried", result.Retried).
			Int("dead_letters", result.DeadLetters).
			Msg("[RECONCILER] Sweep done")
	}
}

// Sweep processes every entry that is due now. The API's manual reconcile
// endpoint calls this directly.
func (r *Reconciler) Sweep(ctx context.Context) (*SweepResult, error) {
	start := time.Now()
	defer func() {
		metrics.ReconcileSweepDuration.Observe(time.Since(start).Seconds())
	}()

	due, err := r.queue.Due(start)
	if err != nil {
		return nil, err
	}

	result := &SweepResult{}
	for i := range due {
		if err := r.limiter.Wait(ctx); err != nil {
			return result, err
		}
		entry := due[i]
		result.Attempted++

		if err := r.reconcile(ctx, &entry); err != nil {
			r.recordFailure(&entry, err, result)
			continue
		}
		removed, err := r.queue.Resolve(&entry)
		if err != nil {
			logging.Error().Err(err).Str("key", entry.Key()).Msg("[RECONCILER] Failed to resolve entry")
			continue
		}
		if !removed {
			// A newer failure for this entity arrived while we reconciled;
			// the refreshed entry stays pending for the next sweep.
			metrics.ReconcileAttemptsTotal.WithLabelValues("retried").Inc()
			result.Retried++
			continue
		}
		metrics.ReconcileAttemptsTotal.WithLabelValues("resolved").Inc()
		result.Resolved++
	}

	r.queue.UpdateGauges()
	return result, nil
}

// reconcile applies the system of record's current state for one entry to
// the mirror. A missing row means the entity was deleted after the failure
// was queued, so the graph node is removed instead.
func (r *Reconciler) reconcile(ctx context.Context, entry *Entry) error {
	switch entry.Kind {
	case KindUser:
		u, err := r.source.UserByID(ctx, entry.ID)
		if errors.Is(err, store.ErrNotFound) {
			// Users are never deleted; a missing row means the queued id was
			// bogus. Nothing to mirror.
			return nil
		}
		if err != nil {
			return err
		}
		return r.mirror.UpsertUser(ctx, u)

	case KindTodo:
		t, err := r.source.TodoByID(ctx, entry.ID)
		if errors.Is(err, store.ErrNotFound) {
			return r.mirror.DeleteTodo(ctx, entry.ID)
		}
		if err != nil {
			return err
		}
		return r.mirror.UpsertTodo(ctx, t)

	case KindCategory:
		c, err := r.source.CategoryByID(ctx, entry.ID)
		if errors.Is(err, store.ErrNotFound) {
			return r.mirror.DeleteCategory(ctx, entry.ID)
		}
		if err != nil {
			return err
		}
		return r.mirror.UpsertCategory(ctx, c)

	default:
		// Unknown kinds cannot succeed on retry either; drop the entry.
		logging.Error().Str("kind", string(entry.Kind)).Int64("id", entry.ID).Msg("[RECONCILER] Unknown entry kind")
		return nil
	}
}

func (r *Reconciler) recordFailure(entry *Entry, cause error, result *SweepResult) {
	now := time.Now()
	entry.RetryCount++
	entry.LastFailure = now
	entry.LastError = cause.Error()

	if entry.RetryCount >= r.maxRetries {
		if err := r.queue.MarkDead(entry); err != nil {
			logging.Error().Err(err).Str("key", entry.Key()).Msg("[RECONCILER] Failed to dead-letter entry")
			return
		}
		metrics.ReconcileAttemptsTotal.WithLabelValues("dead_letter").Inc()
		result.DeadLetters++
		logging.Error().
			Str("key", entry.Key()).
			Int("retries", entry.RetryCount).
			Str("last_error", entry.LastError).
			Msg("[RECONCILER] Entry dead-lettered, operator retry required")
		return
	}

	entry.NextRetry = now.Add(r.backoff.Delay(entry.RetryCount))
	if err := r.queue.Update(entry); err != nil {
		logging.Error().Err(err).Str("key", entry.Key()).Msg("[RECONCILER] Failed to reschedule entry")
		return
	}
	metrics.ReconcileAttemptsTotal.WithLabelValues("retried").Inc()
	result.Retried++
	logging.Warn().
		Err(cause).
		Str("key", entry.Key()).
		Int("retry", entry.RetryCount).
		Time("next_retry", entry.NextRetry).
		Msg("[RECONCILER] Reconcile attempt failed")
}
