package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remindflow/internal/domain"
	"remindflow/internal/store"
)

type memStore struct {
	mu      sync.Mutex
	tasks   map[int64]*domain.Task
	dueErr  error
	markErr error
}

func newMemStore(tasks ...domain.Task) *memStore {
	m := &memStore{tasks: map[int64]*domain.Task{}}
	for i := range tasks {
		t := tasks[i]
		m.tasks[t.ID] = &t
	}
	return m
}

func (m *memStore) GetDueTasks(_ context.Context, now time.Time) ([]domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dueErr != nil {
		return nil, m.dueErr
	}
	var out []domain.Task
	for _, t := range m.tasks {
		if t.Eligible(now) {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DueTime.Before(out[j].DueTime) })
	return out, nil
}

func (m *memStore) MarkSent(_ context.Context, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.markErr != nil {
		return false, m.markErr
	}
	t, ok := m.tasks[id]
	if !ok || t.Status != domain.StatusPending || t.Delivered {
		return false, nil
	}
	t.Status, t.Delivered = domain.StatusSent, true
	return true, nil
}

func (m *memStore) get(id int64) domain.Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.tasks[id]
}

type sent struct{ user, text string }

type fakeNotifier struct {
	mu    sync.Mutex
	sent  []sent
	fail  map[string]bool
	panic bool
	block chan struct{}
	enter chan struct{}
}

func (f *fakeNotifier) Send(_ context.Context, user, text string) bool {
	if f.enter != nil {
		select {
		case f.enter <- struct{}{}:
		default:
		}
	}
	if f.block != nil {
		<-f.block
	}
	if f.panic {
		panic("transport exploded")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[user] {
		return false
	}
	f.sent = append(f.sent, sent{user, text})
	return true
}

func (f *fakeNotifier) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, s := range f.sent {
		out = append(out, s.text)
	}
	return out
}

var now = time.Date(2026, time.October, 14, 12, 0, 0, 0, time.UTC)

func pending(id int64, user, desc string, due time.Time) domain.Task {
	return domain.Task{ID: id, User: user, Description: desc, DueTime: due, Status: domain.StatusPending}
}

func TestRunOnceDeliversInDueOrder(t *testing.T) {
	st := newMemStore(
		pending(1, "alice", "second", now.Add(-time.Hour)),
		pending(2, "alice", "first", now.Add(-2*time.Hour)),
		pending(3, "bob", "later", now.Add(time.Hour)),
	)
	n := &fakeNotifier{}
	p := NewPoller(st, n, WithClock(func() time.Time { return now }))

	rep := p.RunOnce(context.Background())

	assert.Equal(t, Report{Due: 2, Delivered: 2}, rep)
	assert.Equal(t, []string{
		"⏰ Reminder: first (Task #2)",
		"⏰ Reminder: second (Task #1)",
	}, n.texts())
	assert.True(t, st.get(1).Delivered)
	assert.Equal(t, domain.StatusSent, st.get(2).Status)
	assert.Equal(t, domain.StatusPending, st.get(3).Status)

	rep = p.RunOnce(context.Background())
	assert.Equal(t, Report{}, rep, "delivered tasks are not sent again")
}

func TestRunOnceFailureStaysPendingAndRetries(t *testing.T) {
	st := newMemStore(
		pending(1, "alice", "ok", now.Add(-time.Minute)),
		pending(2, "bob", "flaky", now.Add(-time.Minute)),
	)
	n := &fakeNotifier{fail: map[string]bool{"bob": true}}
	p := NewPoller(st, n, WithClock(func() time.Time { return now }))

	rep := p.RunOnce(context.Background())
	assert.Equal(t, Report{Due: 2, Delivered: 1, Failed: 1}, rep)
	assert.False(t, st.get(2).Delivered)
	assert.Equal(t, domain.StatusPending, st.get(2).Status)

	n.mu.Lock()
	n.fail = nil
	n.mu.Unlock()

	rep = p.RunOnce(context.Background())
	assert.Equal(t, Report{Due: 1, Delivered: 1}, rep)
	assert.True(t, st.get(2).Delivered)
}

func TestRunOnceMarkSentFailureRedelivers(t *testing.T) {
	st := newMemStore(pending(1, "alice", "dup", now.Add(-time.Minute)))
	st.markErr = errors.New("disk full")
	n := &fakeNotifier{}
	p := NewPoller(st, n, WithClock(func() time.Time { return now }))

	p.RunOnce(context.Background())
	p.RunOnce(context.Background())

	assert.Len(t, n.texts(), 2, "at-least-once: uncommitted deliveries repeat")
	assert.False(t, st.get(1).Delivered)
}

func TestRunOnceStoreFailure(t *testing.T) {
	st := newMemStore()
	st.dueErr = errors.New("connection refused")
	p := NewPoller(st, &fakeNotifier{})

	assert.Equal(t, Report{}, p.RunOnce(context.Background()))
}

func TestRunOnceRecoversPanic(t *testing.T) {
	st := newMemStore(pending(1, "alice", "boom", now.Add(-time.Minute)))
	p := NewPoller(st, &fakeNotifier{panic: true}, WithClock(func() time.Time { return now }))

	assert.NotPanics(t, func() { p.RunOnce(context.Background()) })
	assert.False(t, st.get(1).Delivered)
}

func TestRunOnceWithSQLiteStore(t *testing.T) {
	ctx := context.Background()
	s, err := store.OpenSQLite(ctx, filepath.Join(t.TempDir(), "tasks.db"))
	require.NoError(t, err)
	defer s.Close()

	past, err := s.CreateTask(ctx, domain.NewTask{User: "alice", Description: "call mom", DueTime: time.Now().Add(-time.Hour)})
	require.NoError(t, err)
	future, err := s.CreateTask(ctx, domain.NewTask{User: "alice", Description: "later", DueTime: time.Now().Add(2 * time.Hour)})
	require.NoError(t, err)

	n := &fakeNotifier{}
	rep := NewPoller(s, n).RunOnce(ctx)
	assert.Equal(t, Report{Due: 1, Delivered: 1}, rep)

	got, err := s.GetTask(ctx, past)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSent, got.Status)
	assert.True(t, got.Delivered)

	got, err = s.GetTask(ctx, future)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, got.Status)
}

func TestStartStopIdempotent(t *testing.T) {
	p := NewPoller(newMemStore(), &fakeNotifier{}, WithInterval(time.Hour))

	require.NoError(t, p.Stop(context.Background()), "stopping a stopped poller is a no-op")
	assert.True(t, p.Start())
	assert.False(t, p.Start())
	assert.True(t, p.Running())

	require.NoError(t, p.Stop(context.Background()))
	assert.False(t, p.Running())
	require.NoError(t, p.Stop(context.Background()))

	assert.True(t, p.Start(), "a stopped poller can be started again")
	require.NoError(t, p.Stop(context.Background()))
}

func TestStartDeliversOnInterval(t *testing.T) {
	st := newMemStore(pending(1, "alice", "tick", time.Now().Add(-time.Minute)))
	p := NewPoller(st, &fakeNotifier{}, WithInterval(time.Second))

	require.True(t, p.Start())
	defer p.Stop(context.Background())

	assert.Eventually(t, func() bool { return st.get(1).Delivered }, 5*time.Second, 50*time.Millisecond)
}

func TestStopWaitsForInFlightCycle(t *testing.T) {
	st := newMemStore(pending(1, "alice", "slow", time.Now().Add(-time.Minute)))
	n := &fakeNotifier{block: make(chan struct{}), enter: make(chan struct{}, 1)}
	p := NewPoller(st, n, WithInterval(time.Second))
	require.True(t, p.Start())

	select {
	case <-n.enter:
	case <-time.After(5 * time.Second):
		t.Fatal("poll cycle never started")
	}

	stopped := make(chan error, 1)
	go func() { stopped <- p.Stop(context.Background()) }()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a cycle was in flight")
	case <-time.After(100 * time.Millisecond):
	}

	close(n.block)
	select {
	case err := <-stopped:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return after the cycle finished")
	}
	assert.True(t, st.get(1).Delivered)
}

func TestStopHonoursDeadline(t *testing.T) {
	st := newMemStore(pending(1, "alice", "stuck", time.Now().Add(-time.Minute)))
	n := &fakeNotifier{block: make(chan struct{}), enter: make(chan struct{}, 1)}
	defer close(n.block)
	p := NewPoller(st, n, WithInterval(time.Second))
	require.True(t, p.Start())

	select {
	case <-n.enter:
	case <-time.After(5 * time.Second):
		t.Fatal("poll cycle never started")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.Stop(ctx), context.DeadlineExceeded)
	assert.False(t, p.Running())
}

func TestRunOnceConcurrentCallsDeliverOnce(t *testing.T) {
	st := newMemStore(pending(1, "alice", "once", now.Add(-time.Minute)))
	n := &fakeNotifier{block: make(chan struct{}), enter: make(chan struct{}, 2)}
	p := NewPoller(st, n, WithClock(func() time.Time { return now }))

	reports := make(chan Report, 2)
	for i := 0; i < 2; i++ {
		go func() { reports <- p.RunOnce(context.Background()) }()
	}

	select {
	case <-n.enter:
	case <-time.After(5 * time.Second):
		t.Fatal("no cycle reached the notifier")
	}
	select {
	case <-n.enter:
		t.Fatal("second cycle sent while the first was in flight")
	case <-time.After(100 * time.Millisecond):
	}
	close(n.block)

	var delivered int
	for i := 0; i < 2; i++ {
		select {
		case rep := <-reports:
			delivered += rep.Delivered
		case <-time.After(5 * time.Second):
			t.Fatal("cycle did not finish")
		}
	}
	assert.Equal(t, 1, delivered)
	assert.Equal(t, []string{"⏰ Reminder: once (Task #1)"}, n.texts())
}

func TestRunOnceGivesUpWhenContextEndsWhileWaiting(t *testing.T) {
	st := newMemStore(pending(1, "alice", "busy", now.Add(-time.Minute)))
	n := &fakeNotifier{block: make(chan struct{}), enter: make(chan struct{}, 1)}
	defer close(n.block)
	p := NewPoller(st, n, WithClock(func() time.Time { return now }))

	go p.RunOnce(context.Background())
	select {
	case <-n.enter:
	case <-time.After(5 * time.Second):
		t.Fatal("first cycle never started")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.Equal(t, Report{}, p.RunOnce(ctx))
}

func TestStopWaitsForManualCycle(t *testing.T) {
	st := newMemStore(pending(1, "alice", "manual", now.Add(-time.Minute)))
	n := &fakeNotifier{block: make(chan struct{}), enter: make(chan struct{}, 1)}
	p := NewPoller(st, n, WithInterval(time.Hour), WithClock(func() time.Time { return now }))
	require.True(t, p.Start())

	go p.RunOnce(context.Background())
	select {
	case <-n.enter:
	case <-time.After(5 * time.Second):
		t.Fatal("manual cycle never started")
	}

	stopped := make(chan error, 1)
	go func() { stopped <- p.Stop(context.Background()) }()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a manual cycle was in flight")
	case <-time.After(100 * time.Millisecond):
	}

	close(n.block)
	select {
	case err := <-stopped:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return after the manual cycle finished")
	}
	assert.True(t, st.get(1).Delivered)
}
