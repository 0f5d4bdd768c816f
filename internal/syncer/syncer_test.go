// Todograph - todo backend with a relational system of record and a graph mirror
// SPDX-License-Identifier: AGPL-3.0-or-later

package syncer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/todograph/todograph/internal/config"
	"github.com/todograph/todograph/internal/graph"
	"github.com/todograph/todograph/internal/models"
	"github.com/todograph/todograph/internal/store"
)

// fakeMirror records writes and fails on demand. onUpsertTodo, when set,
// runs during UpsertTodo so tests can interleave work with a write in
// flight.
type fakeMirror struct {
	mu           sync.Mutex
	err          error
	users        map[int64]models.User
	todos        map[int64]models.Todo
	cats         map[int64]models.Category
	failures     int
	onUpsertTodo func(*models.Todo)
}

func newFakeMirror() *fakeMirror {
	return &fakeMirror{
		users: make(map[int64]models.User),
		todos: make(map[int64]models.Todo),
		cats:  make(map[int64]models.Category),
	}
}

func (f *fakeMirror) fail() error {
	if f.err != nil {
		f.failures++
		return f.err
	}
	return nil
}

func (f *fakeMirror) UpsertUser(_ context.Context, u *models.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(); err != nil {
		return err
	}
	f.users[u.ID] = *u
	return nil
}

func (f *fakeMirror) UpsertTodo(_ context.Context, t *models.Todo) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(); err != nil {
		return err
	}
	if f.onUpsertTodo != nil {
		f.onUpsertTodo(t)
	}
	f.todos[t.ID] = *t
	return nil
}

func (f *fakeMirror) UpsertCategory(_ context.Context, c *models.Category) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(); err != nil {
		return err
	}
	f.cats[c.ID] = *c
	return nil
}

func (f *fakeMirror) DeleteTodo(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(); err != nil {
		return err
	}
	delete(f.todos, id)
	return nil
}

func (f *fakeMirror) DeleteCategory(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(); err != nil {
		return err
	}
	delete(f.cats, id)
	return nil
}

func (f *fakeMirror) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// fakeSource is an in-memory system of record.
type fakeSource struct {
	users map[int64]*models.User
	todos map[int64]*models.Todo
	cats  map[int64]*models.Category
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		users: make(map[int64]*models.User),
		todos: make(map[int64]*models.Todo),
		cats:  make(map[int64]*models.Category),
	}
}

func (f *fakeSource) UserByID(_ context.Context, id int64) (*models.User, error) {
	if u, ok := f.users[id]; ok {
		return u, nil
	}
	return nil, store.ErrNotFound
}

func (f *fakeSource) TodoByID(_ context.Context, id int64) (*models.Todo, error) {
	if t, ok := f.todos[id]; ok {
		return t, nil
	}
	return nil, store.ErrNotFound
}

func (f *fakeSource) CategoryByID(_ context.Context, id int64) (*models.Category, error) {
	if c, ok := f.cats[id]; ok {
		return c, nil
	}
	return nil, store.ErrNotFound
}

func testSyncConfig() *config.SyncConfig {
	return &config.SyncConfig{
		Interval:       time.Minute,
		MaxRetries:     3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     10 * time.Millisecond,
	}
}

func newHarness(t *testing.T) (*Synchronizer, *Reconciler, *fakeMirror, *fakeSource, *Queue) {
	t.Helper()
	q := newTestQueue(t)
	mirror := newFakeMirror()
	source := newFakeSource()
	backoff := NewBackoff(time.Millisecond, 10*time.Millisecond, 1)
	sync := New(mirror, q, backoff, nil)
	rec := NewReconciler(q, source, mirror, backoff, nil, testSyncConfig())
	return sync, rec, mirror, source, q
}

func TestSynchronizerMirrorsOnSuccess(t *testing.T) {
	sync, _, mirror, _, q := newHarness(t)

	out := sync.RecordTodoUpsert(context.Background(), &models.Todo{ID: 1, Title: "x", UserID: 1})
	if !out.Mirrored {
		t.Fatalf("outcome = %+v, want mirrored", out)
	}
	if _, ok := mirror.todos[1]; !ok {
		t.Error("todo not in mirror")
	}
	pending, _ := q.Pending()
	if len(pending) != 0 {
		t.Errorf("pending = %+v, want empty", pending)
	}
}

func TestSynchronizerQueuesOnFailure(t *testing.T) {
	sync, _, mirror, _, q := newHarness(t)
	mirror.setErr(errors.New("connection refused"))

	out := sync.RecordTodoUpsert(context.Background(), &models.Todo{ID: 1, Title: "x", UserID: 1})
	if out.Mirrored {
		t.Fatal("outcome mirrored despite failure")
	}
	if out.Reason != "connection" {
		t.Errorf("reason = %q, want connection", out.Reason)
	}

	pending, _ := q.Pending()
	if len(pending) != 1 || pending[0].Kind != KindTodo || pending[0].ID != 1 {
		t.Fatalf("pending = %+v", pending)
	}
}

func TestSynchronizerBreakerOpenReason(t *testing.T) {
	sync, _, mirror, _, _ := newHarness(t)
	mirror.setErr(graph.ErrMirrorUnavailable)

	out := sync.RecordCategoryCreate(context.Background(), &models.Category{ID: 2, UserID: 1})
	if out.Mirrored || out.Reason != "breaker_open" {
		t.Errorf("outcome = %+v, want breaker_open", out)
	}
}

func TestReconcilerResolvesFromCurrentTruth(t *testing.T) {
	sync, rec, mirror, source, q := newHarness(t)
	ctx := context.Background()

	// The write that failed carried an old title; the store has since moved on.
	mirror.setErr(errors.New("down"))
	_ = sync.RecordTodoUpsert(ctx, &models.Todo{ID: 1, Title: "old", UserID: 1})
	source.todos[1] = &models.Todo{ID: 1, Title: "new", UserID: 1}

	mirror.setErr(nil)
	time.Sleep(5 * time.Millisecond) // let the initial backoff elapse
	result, err := rec.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if result.Resolved != 1 {
		t.Fatalf("result = %+v, want 1 resolved", result)
	}
	if got := mirror.todos[1].Title; got != "new" {
		t.Errorf("mirror title = %q, want current truth %q", got, "new")
	}
	pending, _ := q.Pending()
	if len(pending) != 0 {
		t.Errorf("pending = %+v", pending)
	}
}

func TestReconcilerKeepsEntryRefreshedMidSweep(t *testing.T) {
	_, rec, mirror, source, q := newHarness(t)
	ctx := context.Background()

	source.todos[1] = &models.Todo{ID: 1, Title: "old", UserID: 1}
	if _, err := q.Enqueue(KindTodo, 1, errors.New("down"), time.Now()); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	// While the sweep writes the state it read, a concurrent request commits
	// newer relational state and its own mirror write fails.
	mirror.onUpsertTodo = func(*models.Todo) {
		source.todos[1] = &models.Todo{ID: 1, Title: "new", UserID: 1}
		time.Sleep(time.Millisecond)
		if _, err := q.Enqueue(KindTodo, 1, errors.New("down again"), time.Now()); err != nil {
			t.Errorf("concurrent Enqueue: %v", err)
		}
	}

	result, err := rec.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if result.Resolved != 0 || result.Retried != 1 {
		t.Fatalf("result = %+v, want the entry kept pending", result)
	}
	if got := mirror.todos[1].Title; got != "old" {
		t.Fatalf("mirror title = %q after interleaved failure", got)
	}
	pending, _ := q.Pending()
	if len(pending) != 1 {
		t.Fatalf("pending = %+v, want the refreshed entry", pending)
	}

	// The kept entry heals on the next sweep from the newer truth.
	mirror.onUpsertTodo = nil
	result, err = rec.Sweep(ctx)
	if err != nil {
		t.Fatalf("second Sweep: %v", err)
	}
	if result.Resolved != 1 {
		t.Fatalf("second result = %+v", result)
	}
	if got := mirror.todos[1].Title; got != "new" {
		t.Errorf("mirror title = %q, want new", got)
	}
	pending, _ = q.Pending()
	if len(pending) != 0 {
		t.Errorf("pending = %+v", pending)
	}
}

func TestReconcilerDeletesMissingEntities(t *testing.T) {
	sync, rec, mirror, _, _ := newHarness(t)
	ctx := context.Background()

	// Mirror kept the node, then the delete failed and the row is gone.
	mirror.todos[3] = models.Todo{ID: 3, Title: "stale"}
	mirror.setErr(errors.New("down"))
	_ = sync.RecordTodoDelete(ctx, 3)

	mirror.setErr(nil)
	time.Sleep(5 * time.Millisecond)
	result, err := rec.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if result.Resolved != 1 {
		t.Fatalf("result = %+v", result)
	}
	if _, ok := mirror.todos[3]; ok {
		t.Error("stale node still in mirror")
	}
}

func TestReconcilerMissingUserResolvesWithoutWrite(t *testing.T) {
	sync, rec, mirror, _, q := newHarness(t)
	ctx := context.Background()

	mirror.setErr(errors.New("down"))
	_ = sync.RecordUserCreate(ctx, &models.User{ID: 99})

	mirror.setErr(nil)
	time.Sleep(5 * time.Millisecond)
	result, err := rec.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if result.Resolved != 1 {
		t.Fatalf("result = %+v", result)
	}
	if len(mirror.users) != 0 {
		t.Errorf("mirror users = %+v, want none", mirror.users)
	}
	pending, _ := q.Pending()
	if len(pending) != 0 {
		t.Errorf("pending = %+v", pending)
	}
}

func TestReconcilerDeadLettersAfterMaxRetries(t *testing.T) {
	sync, rec, mirror, source, q := newHarness(t)
	ctx := context.Background()

	source.todos[5] = &models.Todo{ID: 5, Title: "cursed", UserID: 1}
	mirror.setErr(errors.New("still down"))
	_ = sync.RecordTodoUpsert(ctx, source.todos[5])

	// MaxRetries is 3; each sweep is one attempt once the entry is due.
	for i := 0; i < 3; i++ {
		time.Sleep(15 * time.Millisecond) // past max backoff
		if _, err := rec.Sweep(ctx); err != nil {
			t.Fatalf("sweep %d: %v", i, err)
		}
	}

	pending, _ := q.Pending()
	if len(pending) != 0 {
		t.Fatalf("pending = %+v, want dead-lettered", pending)
	}
	dead, _ := q.DeadLetters()
	if len(dead) != 1 {
		t.Fatalf("dead = %+v, want 1", dead)
	}
	if dead[0].RetryCount != 3 {
		t.Errorf("retry count = %d, want 3", dead[0].RetryCount)
	}

	// Operator requeues; the mirror has recovered.
	mirror.setErr(nil)
	if _, err := q.RetryDeadLetter(KindTodo, 5); err != nil {
		t.Fatalf("RetryDeadLetter: %v", err)
	}
	result, err := rec.Sweep(ctx)
	if err != nil {
		t.Fatalf("final sweep: %v", err)
	}
	if result.Resolved != 1 {
		t.Fatalf("result = %+v", result)
	}
	if mirror.todos[5].Title != "cursed" {
		t.Error("todo not mirrored after dead-letter retry")
	}
}

func TestReconcilerSweepIsIdempotent(t *testing.T) {
	sync, rec, mirror, source, _ := newHarness(t)
	ctx := context.Background()

	source.todos[1] = &models.Todo{ID: 1, Title: "a", UserID: 1}
	mirror.setErr(errors.New("down"))
	_ = sync.RecordTodoUpsert(ctx, source.todos[1])
	// Duplicate failure for the same entity coalesces.
	_ = sync.RecordTodoUpsert(ctx, source.todos[1])

	mirror.setErr(nil)
	time.Sleep(5 * time.Millisecond)
	first, err := rec.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if first.Attempted != 1 || first.Resolved != 1 {
		t.Fatalf("first sweep = %+v, want one coalesced attempt", first)
	}

	second, err := rec.Sweep(ctx)
	if err != nil {
		t.Fatalf("second Sweep: %v", err)
	}
	if second.Attempted != 0 {
		t.Errorf("second sweep = %+v, want nothing to do", second)
	}
}

func TestBackoffGrowthAndCap(t *testing.T) {
	b := NewBackoff(time.Second, time.Minute, 42)

	prev := time.Duration(0)
	for i := 0; i < 6; i++ {
		d := b.Delay(i)
		if d <= 0 {
			t.Fatalf("delay(%d) = %v", i, d)
		}
		if d < prev/2 {
			t.Errorf("delay(%d) = %v shrank from %v", i, d, prev)
		}
		prev = d
	}

	// Far past the cap; jitter is at most 10%.
	capped := b.Delay(20)
	if capped > time.Minute+6*time.Second+time.Millisecond {
		t.Errorf("delay(20) = %v exceeds cap plus jitter", capped)
	}
}

func TestFailureReason(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{graph.ErrMirrorUnavailable, "breaker_open"},
		{context.DeadlineExceeded, "timeout"},
		{errors.New("dial tcp: connection refused"), "connection"},
		{errors.New("syntax error"), "mirror_error"},
	}
	for _, tt := range tests {
		if got := failureReason(tt.err); got != tt.want {
			t.Errorf("failureReason(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
