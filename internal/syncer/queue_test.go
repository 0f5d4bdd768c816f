// Todograph - todo backend with a relational system of record and a graph mirror
// SPDX-License-Identifier: AGPL-3.0-or-later

package syncer

import (
	"errors"
	"testing"
	"time"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	q, err := NewQueue("") // in-memory
	if err != nil {
		t.Fatalf("NewQueue: %v", err)
	}
	t.Cleanup(func() { _ = q.Close() })
	return q
}

func TestQueueEnqueueAndResolve(t *testing.T) {
	q := newTestQueue(t)

	entry, err := q.Enqueue(KindTodo, 42, errors.New("boom"), time.Now())
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if entry.RetryCount != 0 || entry.LastError != "boom" {
		t.Errorf("unexpected entry: %+v", entry)
	}

	pending, err := q.Pending()
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if len(pending) != 1 || pending[0].Kind != KindTodo || pending[0].ID != 42 {
		t.Fatalf("pending = %+v", pending)
	}

	removed, err := q.Resolve(entry)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !removed {
		t.Error("Resolve reported entry kept")
	}
	pending, _ = q.Pending()
	if len(pending) != 0 {
		t.Errorf("pending after resolve = %+v", pending)
	}

	// Resolving again is harmless.
	if removed, err := q.Resolve(entry); err != nil || !removed {
		t.Errorf("second Resolve = (%v, %v)", removed, err)
	}
}

func TestQueueResolveKeepsRefreshedEntry(t *testing.T) {
	q := newTestQueue(t)

	snapshot, err := q.Enqueue(KindTodo, 42, errors.New("first"), time.Now())
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	// A second failure lands between the sweep's read and its resolve.
	time.Sleep(time.Millisecond)
	if _, err := q.Enqueue(KindTodo, 42, errors.New("second"), time.Now()); err != nil {
		t.Fatalf("re-Enqueue: %v", err)
	}

	removed, err := q.Resolve(snapshot)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if removed {
		t.Fatal("Resolve removed an entry refreshed after the snapshot")
	}

	pending, _ := q.Pending()
	if len(pending) != 1 || pending[0].LastError != "second" {
		t.Fatalf("pending = %+v, want the refreshed entry", pending)
	}
}

func TestQueueCoalescesDuplicates(t *testing.T) {
	q := newTestQueue(t)

	first, err := q.Enqueue(KindTodo, 7, errors.New("first"), time.Now())
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	first.RetryCount = 3
	if err := q.Update(first); err != nil {
		t.Fatalf("Update: %v", err)
	}

	// A second failure for the same entity refreshes the existing entry.
	second, err := q.Enqueue(KindTodo, 7, errors.New("second"), time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("re-Enqueue: %v", err)
	}
	if second.RetryCount != 3 {
		t.Errorf("retry count = %d, want 3 preserved", second.RetryCount)
	}
	if second.LastError != "second" {
		t.Errorf("last error = %q, want second", second.LastError)
	}
	if !second.FirstFailure.Equal(first.FirstFailure) {
		t.Errorf("first failure changed: %v vs %v", second.FirstFailure, first.FirstFailure)
	}

	pending, _ := q.Pending()
	if len(pending) != 1 {
		t.Errorf("pending = %d entries, want 1", len(pending))
	}
}

func TestQueueDueFiltersByNextRetry(t *testing.T) {
	q := newTestQueue(t)
	now := time.Now()

	if _, err := q.Enqueue(KindUser, 1, errors.New("x"), now.Add(-time.Second)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := q.Enqueue(KindUser, 2, errors.New("x"), now.Add(time.Hour)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	due, err := q.Due(now)
	if err != nil {
		t.Fatalf("Due: %v", err)
	}
	if len(due) != 1 || due[0].ID != 1 {
		t.Errorf("due = %+v, want only id 1", due)
	}
}

func TestQueueDeadLetters(t *testing.T) {
	q := newTestQueue(t)

	entry, err := q.Enqueue(KindCategory, 9, errors.New("down"), time.Now())
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	entry.RetryCount = 5
	if err := q.MarkDead(entry); err != nil {
		t.Fatalf("MarkDead: %v", err)
	}

	pending, _ := q.Pending()
	if len(pending) != 0 {
		t.Errorf("pending = %+v, want empty after dead-letter", pending)
	}
	dead, err := q.DeadLetters()
	if err != nil {
		t.Fatalf("DeadLetters: %v", err)
	}
	if len(dead) != 1 || dead[0].RetryCount != 5 {
		t.Fatalf("dead = %+v", dead)
	}

	requeued, err := q.RetryDeadLetter(KindCategory, 9)
	if err != nil {
		t.Fatalf("RetryDeadLetter: %v", err)
	}
	if requeued.RetryCount != 0 {
		t.Errorf("retry count = %d, want reset to 0", requeued.RetryCount)
	}
	if time.Until(requeued.NextRetry) > 0 {
		t.Errorf("next retry = %v, want immediately due", requeued.NextRetry)
	}

	dead, _ = q.DeadLetters()
	if len(dead) != 0 {
		t.Errorf("dead letters after retry = %+v", dead)
	}
	pending, _ = q.Pending()
	if len(pending) != 1 {
		t.Errorf("pending after retry = %+v", pending)
	}
}

func TestQueueRetryUnknownDeadLetter(t *testing.T) {
	q := newTestQueue(t)
	if _, err := q.RetryDeadLetter(KindTodo, 404); !errors.Is(err, ErrEntryNotFound) {
		t.Errorf("got %v, want ErrEntryNotFound", err)
	}
}

func TestQueuePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	q, err := NewQueue(dir)
	if err != nil {
		t.Fatalf("NewQueue: %v", err)
	}
	if _, err := q.Enqueue(KindTodo, 11, errors.New("x"), time.Now()); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := q.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := NewQueue(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = reopened.Close() }()

	pending, err := reopened.Pending()
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != 11 {
		t.Errorf("pending after reopen = %+v", pending)
	}
}
