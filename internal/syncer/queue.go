// Todograph - todo backend with a relational system of record and a graph mirror
// SPDX-License-Identifier: AGPL-3.0-or-later

package syncer

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/todograph/todograph/internal/logging"
	"github.com/todograph/todograph/internal/metrics"
)

// Kind identifies which entity a queue entry refers to.
type Kind string

const (
	KindUser     Kind = "user"
	KindTodo     Kind = "todo"
	KindCategory Kind = "category"
)

// Key prefixes for BadgerDB storage.
const (
	pendingKeyPrefix = "pending:"
	deadKeyPrefix    = "dead:"
)

// ErrEntryNotFound is returned when a queue entry does not exist.
var ErrEntryNotFound = errors.New("queue entry not found")

// Entry is one (kind, id) pair awaiting reconciliation. It records retry
// bookkeeping, not entity payloads: the reconciler re-derives the payload
// from the system of record at retry time.
type Entry struct {
	Kind         Kind      `json:"kind"`
	ID           int64     `json:"id"`
	RetryCount   int       `json:"retry_count"`
	FirstFailure time.Time `json:"first_failure"`
	LastFailure  time.Time `json:"last_failure"`
	NextRetry    time.Time `json:"next_retry"`
	LastError    string    `json:"last_error"`
}

// Key returns the entry's identity as "kind:id".
func (e *Entry) Key() string {
	return fmt.Sprintf("%s:%d", e.Kind, e.ID)
}

// Queue is the durable reconciliation queue, backed by BadgerDB. Entries are
// keyed by (kind, id), so repeated failures for the same entity coalesce into
// one entry instead of piling up.
type Queue struct {
	db *badger.DB
}

// NewQueue opens the queue at path. An empty path opens an in-memory queue,
// which loses pending work on restart; production deployments should set
// sync.queue_path.
func NewQueue(path string) (*Queue, error) {
	var opts badger.Options
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(path)
	}
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open queue: %w", err)
	}
	return &Queue{db: db}, nil
}

// Close releases the underlying database.
func (q *Queue) Close() error {
	return q.db.Close()
}

// Enqueue records a failed mirror write for (kind, id). If the pair is
// already pending the existing entry is refreshed in place: its retry count
// and first-failure time survive, only the error and next-retry advance.
func (q *Queue) Enqueue(kind Kind, id int64, cause error, nextRetry time.Time) (*Entry, error) {
	now := time.Now()
	var entry Entry

	err := q.db.Update(func(txn *badger.Txn) error {
		key := pendingKey(kind, id)

		item, err := txn.Get(key)
		switch {
		case err == nil:
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			}); err != nil {
				return fmt.Errorf("decode entry: %w", err)
			}
			entry.LastFailure = now
			entry.LastError = cause.Error()
		case errors.Is(err, badger.ErrKeyNotFound):
			entry = Entry{
				Kind:         kind,
				ID:           id,
				FirstFailure: now,
				LastFailure:  now,
				NextRetry:    nextRetry,
				LastError:    cause.Error(),
			}
		default:
			return fmt.Errorf("get entry: %w", err)
		}

		data, err := json.Marshal(&entry)
		if err != nil {
			return fmt.Errorf("encode entry: %w", err)
		}
		return txn.Set(key, data)
	})
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// Update rewrites a pending entry after a failed reconcile attempt.
func (q *Queue) Update(entry *Entry) error {
	return q.put(pendingKey(entry.Kind, entry.ID), entry)
}

// Resolve removes a pending entry whose mirror state was brought current.
// snapshot is the entry the caller reconciled from; when a concurrent
// failure has refreshed the stored entry since that snapshot was read, the
// reconciled write no longer reflects the latest relational state, so the
// entry stays pending and Resolve reports false. Resolving an absent entry
// is a no-op.
func (q *Queue) Resolve(snapshot *Entry) (bool, error) {
	removed := false
	err := q.db.Update(func(txn *badger.Txn) error {
		key := pendingKey(snapshot.Kind, snapshot.ID)

		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			removed = true
			return nil
		}
		if err != nil {
			return fmt.Errorf("get entry: %w", err)
		}

		var stored Entry
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &stored)
		}); err != nil {
			return fmt.Errorf("decode entry: %w", err)
		}
		if !stored.LastFailure.Equal(snapshot.LastFailure) {
			return nil
		}

		removed = true
		return txn.Delete(key)
	})
	return removed, err
}

// MarkDead moves an entry out of the pending set into the dead-letter set.
// Dead letters are retried only by operator request.
func (q *Queue) MarkDead(entry *Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode entry: %w", err)
	}
	return q.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(deadKey(entry.Kind, entry.ID), data); err != nil {
			return fmt.Errorf("set dead letter: %w", err)
		}
		return txn.Delete(pendingKey(entry.Kind, entry.ID))
	})
}

// RetryDeadLetter moves a dead letter back into the pending set with its
// retry count reset, making it eligible on the next sweep.
func (q *Queue) RetryDeadLetter(kind Kind, id int64) (*Entry, error) {
	var entry Entry
	err := q.db.Update(func(txn *badger.Txn) error {
		key := deadKey(kind, id)
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrEntryNotFound
		}
		if err != nil {
			return fmt.Errorf("get dead letter: %w", err)
		}
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &entry)
		}); err != nil {
			return fmt.Errorf("decode dead letter: %w", err)
		}

		entry.RetryCount = 0
		entry.NextRetry = time.Now()

		data, err := json.Marshal(&entry)
		if err != nil {
			return fmt.Errorf("encode entry: %w", err)
		}
		if err := txn.Set(pendingKey(kind, id), data); err != nil {
			return fmt.Errorf("set entry: %w", err)
		}
		return txn.Delete(key)
	})
	if err != nil {
		return nil, err
	}
	logging.Info().Str("kind", string(kind)).Int64("id", id).Msg("[QUEUE] Dead letter requeued")
	return &entry, nil
}

// Pending returns all pending entries, due or not.
func (q *Queue) Pending() ([]Entry, error) {
	return q.scan(pendingKeyPrefix)
}

// Due returns pending entries whose NextRetry is at or before now.
func (q *Queue) Due(now time.Time) ([]Entry, error) {
	all, err := q.scan(pendingKeyPrefix)
	if err != nil {
		return nil, err
	}
	due := all[:0]
	for _, e := range all {
		if !e.NextRetry.After(now) {
			due = append(due, e)
		}
	}
	return due, nil
}

// DeadLetters returns all dead-lettered entries.
func (q *Queue) DeadLetters() ([]Entry, error) {
	return q.scan(deadKeyPrefix)
}

// UpdateGauges refreshes the queue depth metrics. Called after every sweep
// and every enqueue so the gauges track reality closely.
func (q *Queue) UpdateGauges() {
	pending, err := q.scan(pendingKeyPrefix)
	if err != nil {
		return
	}
	dead, err := q.scan(deadKeyPrefix)
	if err != nil {
		return
	}
	metrics.UpdateQueueGauges(len(pending), len(dead))
}

func (q *Queue) put(key []byte, entry *Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode entry: %w", err)
	}
	return q.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
}

func (q *Queue) scan(prefix string) ([]Entry, error) {
	var entries []Entry
	err := q.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var e Entry
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &e)
			}); err != nil {
				// Skip undecodable entries rather than wedging the sweep.
				key := string(it.Item().Key())
				logging.Error().Err(err).Str("key", key).Msg("[QUEUE] Dropping corrupt entry")
				continue
			}
			entries = append(entries, e)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", strings.TrimSuffix(prefix, ":"), err)
	}
	return entries, nil
}

func pendingKey(kind Kind, id int64) []byte {
	return []byte(fmt.Sprintf("%s%s:%d", pendingKeyPrefix, kind, id))
}

func deadKey(kind Kind, id int64) []byte {
	return []byte(fmt.Sprintf("%s%s:%d", deadKeyPrefix, kind, id))
}
