// Todograph - todo backend with a relational system of record and a graph mirror
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package syncer keeps the graph mirror converging on the system of record.
//
// Mutations commit to the relational store first; the mirror write happens
// after, synchronously but best-effort. A failed mirror write never fails the
// user's request: the (kind, id) pair is queued durably and the reconciler
// retries it by re-reading current relational truth. Because retries derive
// state instead of replaying events, they are idempotent and order does not
// matter.
package syncer

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"

	"github.com/todograph/todograph/internal/graph"
	"github.com/todograph/todograph/internal/logging"
	"github.com/todograph/todograph/internal/metrics"
	"github.com/todograph/todograph/internal/models"
)

// TopicPending is the in-process topic used to nudge the reconciler when new
// work is queued, so the first retry does not wait for the next sweep tick.
const TopicPending = "sync.pending"

// Outcome reports how a mutation's mirror write went. The relational commit
// already succeeded either way.
type Outcome struct {
	Mirrored bool
	Reason   string // set when not mirrored
}

var mirrored = Outcome{Mirrored: true}

func pending(reason string) Outcome {
	return Outcome{Reason: reason}
}

// Synchronizer performs the mirror leg of the dual write.
type Synchronizer struct {
	mirror    graph.Writes
	queue     *Queue
	backoff   *Backoff
	publisher message.Publisher
}

// New builds a Synchronizer. publisher may be nil, in which case queued work
// waits for the reconciler's periodic sweep.
func New(mirror graph.Writes, queue *Queue, backoff *Backoff, publisher message.Publisher) *Synchronizer {
	return &Synchronizer{
		mirror:    mirror,
		queue:     queue,
		backoff:   backoff,
		publisher: publisher,
	}
}

// RecordUserCreate mirrors a newly registered user.
func (s *Synchronizer) RecordUserCreate(ctx context.Context, u *models.User) Outcome {
	return s.record(ctx, KindUser, u.ID, func(ctx context.Context) error {
		return s.mirror.UpsertUser(ctx, u)
	})
}

// RecordTodoUpsert mirrors a created or updated todo, including its OWNS and
// BELONGS_TO edges.
func (s *Synchronizer) RecordTodoUpsert(ctx context.Context, t *models.Todo) Outcome {
	return s.record(ctx, KindTodo, t.ID, func(ctx context.Context) error {
		return s.mirror.UpsertTodo(ctx, t)
	})
}

// RecordCategoryCreate mirrors a new category and its CREATED edge.
func (s *Synchronizer) RecordCategoryCreate(ctx context.Context, c *models.Category) Outcome {
	return s.record(ctx, KindCategory, c.ID, func(ctx context.Context) error {
		return s.mirror.UpsertCategory(ctx, c)
	})
}

// RecordTodoDelete mirrors a todo deletion.
func (s *Synchronizer) RecordTodoDelete(ctx context.Context, id int64) Outcome {
	return s.record(ctx, KindTodo, id, func(ctx context.Context) error {
		return s.mirror.DeleteTodo(ctx, id)
	})
}

// RecordCategoryDelete mirrors a category deletion. The graph delete is a
// DETACH DELETE, so BELONGS_TO edges from todos vanish with the node.
func (s *Synchronizer) RecordCategoryDelete(ctx context.Context, id int64) Outcome {
	return s.record(ctx, KindCategory, id, func(ctx context.Context) error {
		return s.mirror.DeleteCategory(ctx, id)
	})
}

func (s *Synchronizer) record(ctx context.Context, kind Kind, id int64, write func(context.Context) error) Outcome {
	err := write(ctx)
	if err == nil {
		return mirrored
	}

	reason := failureReason(err)
	logging.Warn().
		Err(err).
		Str("kind", string(kind)).
		Int64("id", id).
		Str("reason", reason).
		Msg("[SYNC] Mirror write failed, queued for reconciliation")
	s.enqueue(kind, id, err)
	return pending(reason)
}

func (s *Synchronizer) enqueue(kind Kind, id int64, cause error) {
	reason := failureReason(cause)
	metrics.QueueEnqueuesTotal.WithLabelValues(reason).Inc()

	nextRetry := time.Now().Add(s.backoff.Delay(0))
	if _, err := s.queue.Enqueue(kind, id, cause, nextRetry); err != nil {
		// Queue write failed on top of the mirror failure. The entity stays
		// divergent until an operator triggers a manual reconcile.
		logging.Error().Err(err).Str("kind", string(kind)).Int64("id", id).Msg("[SYNC] Failed to queue entry")
		return
	}
	s.queue.UpdateGauges()

	if s.publisher != nil {
		msg := message.NewMessage(uuid.NewString(), []byte((&Entry{Kind: kind, ID: id}).Key()))
		if err := s.publisher.Publish(TopicPending, msg); err != nil {
			logging.Debug().Err(err).Msg("[SYNC] Wake-up publish failed, sweep will pick it up")
		}
	}
}
