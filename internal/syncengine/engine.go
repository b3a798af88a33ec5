// Package syncengine flushes locally recorded responses to the teacher
// server, one pass at a time, with bounded exponential backoff per entry.
package syncengine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"classlink/internal/models"
)

var (
	// ErrSyncAttemptFailed marks an entry whose attempt budget ran out.
	ErrSyncAttemptFailed = errors.New("sync attempt failed")
	ErrSyncInProgress    = errors.New("sync already in progress")
	ErrShutdown          = errors.New("sync engine shut down")
	ErrShutdownTimeout   = errors.New("sync shutdown timed out")
)

// AttemptError reports one entry that could not be delivered during a pass.
type AttemptError struct {
	ResponseID string
	Attempts   int
	Err        error
}

func (e *AttemptError) Error() string {
	return fmt.Sprintf("response %s: %d attempts: %v", e.ResponseID, e.Attempts, e.Err)
}

func (e *AttemptError) Unwrap() []error {
	return []error{ErrSyncAttemptFailed, e.Err}
}

// Queue is the unsynced-record store the engine drains.
type Queue interface {
	ListUnsynced(ctx context.Context) ([]models.PendingResponse, error)
	MarkSynced(ctx context.Context, id string) error
}

// Transmitter makes a single delivery attempt.
type Transmitter interface {
	Transmit(ctx context.Context, response models.PendingResponse) error
}

// Sleeper waits for d or until ctx ends.
type Sleeper func(ctx context.Context, d time.Duration) error

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Progress callbacks run on the sync worker. Any of them may be nil.
type Progress struct {
	OnEntrySuccess func(response models.PendingResponse)
	OnEntryFailure func(response models.PendingResponse, err error)
	OnComplete     func(result Result)
}

// Result summarises one pass.
type Result struct {
	Succeeded  int
	Failed     int
	Failures   []error
	Err        error // set when the queue could not be read
	StartedAt  time.Time
	FinishedAt time.Time
}

type Options struct {
	Queue       Queue
	Transmitter Transmitter
	Policy      Policy
	Sleep       Sleeper
	Progress    Progress
	Logger      *slog.Logger
}

type Engine struct {
	queue    Queue
	tx       Transmitter
	policy   Policy
	sleep    Sleeper
	progress Progress
	logger   *slog.Logger

	running atomic.Bool
	last    atomic.Pointer[Result]

	mu     sync.Mutex // guards closed together with wg.Add
	closed bool
	wg     sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

func New(opts Options) *Engine {
	if opts.Sleep == nil {
		opts.Sleep = sleep
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		queue:    opts.Queue,
		tx:       opts.Transmitter,
		policy:   opts.Policy.withDefaults(),
		sleep:    opts.Sleep,
		progress: opts.Progress,
		logger:   opts.Logger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// acquire takes the single-flight guard and registers the pass with the
// shutdown wait group.
func (e *Engine) acquire() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrShutdown
	}
	if !e.running.CompareAndSwap(false, true) {
		return ErrSyncInProgress
	}
	e.wg.Add(1)
	return nil
}

func (e *Engine) release() {
	e.running.Store(false)
	e.wg.Done()
}

// TriggerSync starts a pass on a background worker and reports whether it
// did. A trigger that arrives while a pass is running is dropped.
func (e *Engine) TriggerSync() bool {
	if err := e.acquire(); err != nil {
		e.logger.Debug("sync_trigger_dropped", "reason", err.Error())
		return false
	}
	go func() {
		defer e.release()
		e.runPass(e.ctx)
	}()
	return true
}

// SyncNow runs a pass on the calling goroutine. It fails fast with
// ErrSyncInProgress when another pass holds the guard.
func (e *Engine) SyncNow(ctx context.Context) (Result, error) {
	if err := e.acquire(); err != nil {
		return Result{}, err
	}
	defer e.release()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(e.ctx, cancel)
	defer stop()

	return e.runPass(ctx), nil
}

// Running reports whether a pass currently holds the guard.
func (e *Engine) Running() bool {
	return e.running.Load()
}

// LastResult returns the summary of the most recent finished pass.
func (e *Engine) LastResult() (Result, bool) {
	r := e.last.Load()
	if r == nil {
		return Result{}, false
	}
	return *r, true
}

// Shutdown stops accepting triggers and waits up to timeout for the running
// pass. On timeout the pass context is cancelled and ErrShutdownTimeout is
// returned without waiting further.
func (e *Engine) Shutdown(timeout time.Duration) error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		e.cancel()
		e.logger.Info("sync_engine_stopped")
		return nil
	case <-timer.C:
		e.cancel()
		e.logger.Warn("sync_shutdown_forced", "timeout", timeout.String())
		return ErrShutdownTimeout
	}
}

func (e *Engine) runPass(ctx context.Context) Result {
	result := Result{StartedAt: time.Now()}
	defer func() {
		result.FinishedAt = time.Now()
		e.last.Store(&result)
		if e.progress.OnComplete != nil {
			e.progress.OnComplete(result)
		}
	}()

	entries, err := e.queue.ListUnsynced(ctx)
	if err != nil {
		result.Err = fmt.Errorf("failed to list unsynced responses: %w", err)
		e.logger.Error("sync_queue_read_failed", "error", err)
		return result
	}

	e.logger.Info("sync_pass_started", "pending", len(entries))

	for _, entry := range entries {
		if ctx.Err() != nil {
			e.logger.Warn("sync_pass_aborted", "remaining", len(entries)-result.Succeeded-result.Failed)
			break
		}

		err := e.deliver(ctx, entry)
		if err == nil {
			if markErr := e.queue.MarkSynced(ctx, entry.ID); markErr != nil {
				err = fmt.Errorf("delivered but not marked synced: %w", markErr)
			}
		}

		if err != nil {
			result.Failed++
			result.Failures = append(result.Failures, err)
			e.logger.Warn("sync_entry_failed", "response_id", entry.ID, "error", err)
			if e.progress.OnEntryFailure != nil {
				e.progress.OnEntryFailure(entry, err)
			}
			continue
		}

		result.Succeeded++
		e.logger.Debug("sync_entry_delivered", "response_id", entry.ID)
		if e.progress.OnEntrySuccess != nil {
			e.progress.OnEntrySuccess(entry)
		}
	}

	e.logger.Info("sync_pass_completed",
		"succeeded", result.Succeeded,
		"failed", result.Failed,
		"duration", time.Since(result.StartedAt).String(),
	)
	return result
}

// deliver runs the attempt budget for one entry; no sleep follows the last
// attempt.
func (e *Engine) deliver(ctx context.Context, entry models.PendingResponse) error {
	var lastErr error
	delay := e.policy.InitialDelay

	for attempt := 1; attempt <= e.policy.MaxAttempts; attempt++ {
		err := e.attempt(ctx, entry)
		if err == nil {
			return nil
		}
		lastErr = err
		e.logger.Debug("sync_attempt_failed",
			"response_id", entry.ID,
			"attempt", attempt,
			"error", err,
		)

		if attempt == e.policy.MaxAttempts {
			break
		}
		if err := e.sleep(ctx, delay); err != nil {
			return &AttemptError{ResponseID: entry.ID, Attempts: attempt, Err: err}
		}
		delay = e.policy.next(delay)
	}
	return &AttemptError{ResponseID: entry.ID, Attempts: e.policy.MaxAttempts, Err: lastErr}
}

// attempt turns a panicking transmitter into an ordinary failure.
func (e *Engine) attempt(ctx context.Context, entry models.PendingResponse) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("transmit panic: %v", r)
		}
	}()
	return e.tx.Transmit(ctx, entry)
}
