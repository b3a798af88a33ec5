package syncengine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"classlink/internal/logging"
	"classlink/internal/models"
)

type memQueue struct {
	mu      sync.Mutex
	entries []models.PendingResponse
	listErr error
}

func (q *memQueue) ListUnsynced(ctx context.Context) ([]models.PendingResponse, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.listErr != nil {
		return nil, q.listErr
	}
	var out []models.PendingResponse
	for _, e := range q.entries {
		if !e.Synced {
			out = append(out, e)
		}
	}
	return out, nil
}

func (q *memQueue) MarkSynced(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.entries {
		if q.entries[i].ID == id {
			q.entries[i].Synced = true
			return nil
		}
	}
	return errors.New("missing")
}

func (q *memQueue) synced(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, e := range q.entries {
		if e.ID == id {
			return e.Synced
		}
	}
	return false
}

// scriptedTx fails the listed ids on every attempt and counts attempts.
type scriptedTx struct {
	mu       sync.Mutex
	failing  map[string]bool
	attempts map[string]int
	order    []string
	block    chan struct{}
}

func newScriptedTx(failing ...string) *scriptedTx {
	tx := &scriptedTx{failing: map[string]bool{}, attempts: map[string]int{}}
	for _, id := range failing {
		tx.failing[id] = true
	}
	return tx
}

func (tx *scriptedTx) Transmit(ctx context.Context, r models.PendingResponse) error {
	if tx.block != nil {
		<-tx.block
	}
	tx.mu.Lock()
	defer tx.mu.Unlock()
	tx.attempts[r.ID]++
	tx.order = append(tx.order, r.ID)
	if tx.failing[r.ID] {
		return errors.New("connection refused")
	}
	return nil
}

func (tx *scriptedTx) count(id string) int {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.attempts[id]
}

type recordingSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	return ctx.Err()
}

type EngineSuite struct {
	suite.Suite
	queue   *memQueue
	sleeper *recordingSleeper
}

func (s *EngineSuite) SetupTest() {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s.queue = &memQueue{entries: []models.PendingResponse{
		{ID: "r1", QuestionID: "q1", CapturedAt: base},
		{ID: "r2", QuestionID: "q2", CapturedAt: base.Add(time.Minute)},
		{ID: "r3", QuestionID: "q3", CapturedAt: base.Add(2 * time.Minute)},
	}}
	s.sleeper = &recordingSleeper{}
}

func (s *EngineSuite) newEngine(tx Transmitter, progress Progress) *Engine {
	return New(Options{
		Queue:       s.queue,
		Transmitter: tx,
		Sleep:       s.sleeper.Sleep,
		Progress:    progress,
		Logger:      logging.Discard(),
	})
}

func (s *EngineSuite) TestPartialFailure() {
	tx := newScriptedTx("r2")
	var events []string
	engine := s.newEngine(tx, Progress{
		OnEntrySuccess: func(r models.PendingResponse) { events = append(events, "ok:"+r.ID) },
		OnEntryFailure: func(r models.PendingResponse, err error) { events = append(events, "fail:"+r.ID) },
		OnComplete:     func(Result) { events = append(events, "done") },
	})

	result, err := engine.SyncNow(context.Background())
	s.Require().NoError(err)

	s.Equal(2, result.Succeeded)
	s.Equal(1, result.Failed)
	s.Require().Len(result.Failures, 1)
	s.ErrorIs(result.Failures[0], ErrSyncAttemptFailed)

	var attemptErr *AttemptError
	s.Require().ErrorAs(result.Failures[0], &attemptErr)
	s.Equal("r2", attemptErr.ResponseID)
	s.Equal(5, attemptErr.Attempts)

	s.True(s.queue.synced("r1"))
	s.False(s.queue.synced("r2"))
	s.True(s.queue.synced("r3"))

	s.Equal(1, tx.count("r1"))
	s.Equal(5, tx.count("r2"))
	s.Equal(1, tx.count("r3"))
	s.Equal([]string{"ok:r1", "fail:r2", "ok:r3", "done"}, events)
}

func (s *EngineSuite) TestBackoffSequence() {
	s.queue.entries = s.queue.entries[:1]
	engine := s.newEngine(newScriptedTx("r1"), Progress{})

	_, err := engine.SyncNow(context.Background())
	s.Require().NoError(err)

	s.Equal([]time.Duration{
		1000 * time.Millisecond,
		2000 * time.Millisecond,
		4000 * time.Millisecond,
		8000 * time.Millisecond,
	}, s.sleeper.delays)
}

func (s *EngineSuite) TestEmptyQueueStillCompletes() {
	s.queue.entries = nil
	var completed []Result
	engine := s.newEngine(newScriptedTx(), Progress{
		OnComplete: func(r Result) { completed = append(completed, r) },
	})

	result, err := engine.SyncNow(context.Background())
	s.Require().NoError(err)
	s.Zero(result.Succeeded)
	s.Zero(result.Failed)
	s.Len(completed, 1)
}

func (s *EngineSuite) TestQueueReadFailure() {
	s.queue.listErr = errors.New("database locked")
	completed := 0
	engine := s.newEngine(newScriptedTx(), Progress{OnComplete: func(Result) { completed++ }})

	result, err := engine.SyncNow(context.Background())
	s.Require().NoError(err)
	s.ErrorContains(result.Err, "database locked")
	s.Equal(1, completed)

	last, ok := engine.LastResult()
	s.True(ok)
	s.Equal(result.Err, last.Err)
}

func (s *EngineSuite) TestOrderIsCaptureOrder() {
	tx := newScriptedTx()
	engine := s.newEngine(tx, Progress{})
	_, err := engine.SyncNow(context.Background())
	s.Require().NoError(err)
	s.Equal([]string{"r1", "r2", "r3"}, tx.order)
}

func (s *EngineSuite) TestPanicCountsAsFailure() {
	s.queue.entries = s.queue.entries[:1]
	engine := s.newEngine(panicTx{}, Progress{})

	result, err := engine.SyncNow(context.Background())
	s.Require().NoError(err)
	s.Equal(1, result.Failed)
	s.ErrorContains(result.Failures[0], "transmit panic")
	s.Len(s.sleeper.delays, 4)
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(EngineSuite))
}

type panicTx struct{}

func (panicTx) Transmit(context.Context, models.PendingResponse) error { panic("nil map") }

func TestTriggerSync_SingleFlight(t *testing.T) {
	queue := &memQueue{entries: []models.PendingResponse{{ID: "r1"}}}
	tx := newScriptedTx()
	tx.block = make(chan struct{})

	done := make(chan Result, 2)
	engine := New(Options{
		Queue:       queue,
		Transmitter: tx,
		Progress:    Progress{OnComplete: func(r Result) { done <- r }},
		Logger:      logging.Discard(),
	})

	require.True(t, engine.TriggerSync())
	assert.True(t, engine.Running())
	assert.False(t, engine.TriggerSync(), "second trigger must be dropped")

	_, err := engine.SyncNow(context.Background())
	assert.ErrorIs(t, err, ErrSyncInProgress)

	close(tx.block)
	select {
	case r := <-done:
		assert.Equal(t, 1, r.Succeeded)
	case <-time.After(2 * time.Second):
		t.Fatal("pass did not finish")
	}

	require.Eventually(t, func() bool { return !engine.Running() }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, tx.count("r1"), "exactly one pass ran")
	select {
	case <-done:
		t.Fatal("a second pass ran")
	default:
	}

	// guard released, a new trigger is accepted
	assert.True(t, engine.TriggerSync())
	require.NoError(t, engine.Shutdown(time.Second))
}

func TestShutdown_WaitsForPass(t *testing.T) {
	queue := &memQueue{entries: []models.PendingResponse{{ID: "r1"}}}
	tx := newScriptedTx()
	tx.block = make(chan struct{})
	engine := New(Options{Queue: queue, Transmitter: tx, Logger: logging.Discard()})

	require.True(t, engine.TriggerSync())
	go func() {
		time.Sleep(30 * time.Millisecond)
		close(tx.block)
	}()

	require.NoError(t, engine.Shutdown(2*time.Second))
	assert.True(t, queue.synced("r1"))
	assert.False(t, engine.TriggerSync(), "no triggers after shutdown")

	_, err := engine.SyncNow(context.Background())
	assert.ErrorIs(t, err, ErrShutdown)
}

func TestShutdown_TimeoutCancelsPass(t *testing.T) {
	queue := &memQueue{entries: []models.PendingResponse{{ID: "r1"}, {ID: "r2"}}}
	cancelled := make(chan struct{})
	engine := New(Options{
		Queue: queue,
		Transmitter: transmitFunc(func(ctx context.Context, r models.PendingResponse) error {
			<-ctx.Done()
			close(cancelled)
			return ctx.Err()
		}),
		Logger: logging.Discard(),
	})

	require.True(t, engine.TriggerSync())
	require.Eventually(t, engine.Running, time.Second, time.Millisecond)

	err := engine.Shutdown(20 * time.Millisecond)
	assert.ErrorIs(t, err, ErrShutdownTimeout)

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("pass context was not cancelled")
	}
	require.Eventually(t, func() bool { return !engine.Running() }, time.Second, 5*time.Millisecond)
	assert.False(t, queue.synced("r1"))
}

type transmitFunc func(ctx context.Context, r models.PendingResponse) error

func (f transmitFunc) Transmit(ctx context.Context, r models.PendingResponse) error { return f(ctx, r) }

func TestPolicy(t *testing.T) {
	assert.Equal(t, []time.Duration{
		time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second,
	}, DefaultPolicy().Delays())

	long := Policy{MaxAttempts: 9}
	delays := long.Delays()
	require.Len(t, delays, 8)
	assert.Equal(t, 32*time.Second, delays[5])
	assert.Equal(t, 32*time.Second, delays[7], "capped")
}
