package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grospace/lease-engine/lease"
	"github.com/grospace/lease-engine/lease/store"
)

type fakeLocker struct {
	mu       sync.Mutex
	refuse   bool
	acquired []string
	released int
}

func (l *fakeLocker) Acquire(ctx context.Context, name string, ttl time.Duration) (func(context.Context) error, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.refuse {
		return nil, errors.New("held elsewhere")
	}
	l.acquired = append(l.acquired, name)
	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.released++
		return nil
	}, nil
}

func (l *fakeLocker) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.acquired)
}

func newTestScheduler(t *testing.T) (*JobScheduler, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	clock := func() time.Time { return testNow }
	js := NewJobScheduler(lease.NewEngine(mem, lease.DefaultConfig(), lease.WithClock(clock)))
	js.now = clock
	return js, mem
}

func TestScheduler_TickSkippedWhenLockHeld(t *testing.T) {
	// GIVEN: Another replica holds the run lock
	js, mem := newTestScheduler(t)
	js.Locker = &fakeLocker{refuse: true}

	// WHEN: A tick fires
	js.tick()

	// THEN: No run happens
	_, ok := js.LastRun()
	assert.False(t, ok)
	runs, err := mem.ListRuns(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestScheduler_TickAcquiresAndReleases(t *testing.T) {
	js, mem := newTestScheduler(t)
	locker := &fakeLocker{}
	js.Locker = locker

	js.tick()

	assert.Equal(t, []string{runLockName}, locker.acquired)
	assert.Equal(t, 1, locker.released)
	last, ok := js.LastRun()
	require.True(t, ok)
	assert.Equal(t, "2026-02-22", last.AsOf.String())
	assert.Equal(t, lease.RunCompleted, last.Status)

	runs, err := mem.ListRuns(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestScheduler_RunNowWithoutLocker(t *testing.T) {
	js, _ := newTestScheduler(t)

	report, err := js.RunNow(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.Failures)

	last, ok := js.LastRun()
	require.True(t, ok)
	assert.Equal(t, report.ID, last.ID)
}

func TestScheduler_DisabledDoesNotStart(t *testing.T) {
	js, _ := newTestScheduler(t)
	js.Enabled = false

	js.Start()
	js.Stop()

	_, ok := js.LastRun()
	assert.False(t, ok)
}

func TestScheduler_StartRunsImmediately(t *testing.T) {
	js, _ := newTestScheduler(t)
	js.CheckInterval = time.Hour

	js.Start()
	require.Eventually(t, func() bool {
		_, ok := js.LastRun()
		return ok
	}, 2*time.Second, 10*time.Millisecond)
	js.Stop()
}

func TestScheduler_RestartAfterStop_KeepsTicking(t *testing.T) {
	// GIVEN: A scheduler that was started and stopped
	js, _ := newTestScheduler(t)
	js.CheckInterval = 5 * time.Millisecond
	locker := &fakeLocker{}
	js.Locker = locker

	js.Start()
	require.Eventually(t, func() bool { return locker.count() >= 1 }, 2*time.Second, time.Millisecond)
	js.Stop()
	stopped := locker.count()

	// WHEN: It is started again
	js.Start()
	defer js.Stop()

	// THEN: Ticks keep coming after the immediate run
	require.Eventually(t, func() bool {
		return locker.count() >= stopped+3
	}, 2*time.Second, time.Millisecond)
}

func TestGetScheduler_ReportsLastRun(t *testing.T) {
	js, _ := newTestScheduler(t)
	h := NewHandler(js.Engine)
	h.Scheduler = js
	router := NewRouter(h)

	_, err := js.RunNow(context.Background())
	require.NoError(t, err)

	dto := decode[SchedulerDTO](t, do(t, router, http.MethodGet, "/api/scheduler", ""))
	assert.True(t, dto.Enabled)
	assert.Equal(t, "1h0m0s", dto.Interval)
	assert.Equal(t, "2026-02-22T10:00:00Z", dto.NextRunAt)
	require.NotNil(t, dto.LastRun)
	assert.Equal(t, "2026-02-22", dto.LastRun.AsOf)
}
