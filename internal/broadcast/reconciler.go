package broadcast

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/zapboard/zapboard/internal/state"
	"go.uber.org/zap"
)

// Service is the REST surface the reconciler consumes.
type Service interface {
	GetBroadcast(ctx context.Context, id string) (*Broadcast, error)
	SendBroadcast(ctx context.Context, req SendRequest) (*Broadcast, error)
	CancelBroadcast(ctx context.Context, id string) error
}

const defaultInterval = 3 * time.Second

// Reconciler reconciles the local view of one broadcast with the
// authoritative server record: one immediate fetch, then a fixed
// interval poll that runs only while the last-known status is
// in_progress and stops on a terminal status, Stop, or context cancel.
type Reconciler struct {
	svc      Service
	logger   *zap.Logger
	signal   *state.Signal
	interval time.Duration

	mu      sync.Mutex
	cur     *Broadcast
	lastErr string
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewReconciler creates a reconciler polling at the standard interval.
func NewReconciler(svc Service, signal *state.Signal, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		svc:      svc,
		logger:   logger,
		signal:   signal,
		interval: defaultInterval,
	}
}

// Start begins reconciling the given broadcast id. Any previous
// reconciliation is stopped first.
func (r *Reconciler) Start(ctx context.Context, id string) {
	r.Stop()

	ctx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.cancel = cancel
	r.mu.Unlock()

	r.fetch(ctx, id)
	if !r.polling() {
		return
	}

	r.wg.Add(1)
	go r.loop(ctx, id)
}

// Stop halts polling. Safe to call repeatedly; the consumer must call
// it on teardown so no timer outlives the view.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	r.cancel = nil
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	r.wg.Wait()
}

func (r *Reconciler) loop(ctx context.Context, id string) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.fetch(ctx, id)
			if !r.polling() {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// polling reports whether another fetch is due: the last-known status
// is in_progress, or no snapshot has been obtained yet.
func (r *Reconciler) polling() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cur == nil || !r.cur.Terminal()
}

func (r *Reconciler) fetch(ctx context.Context, id string) {
	b, err := r.svc.GetBroadcast(ctx, id)
	r.mu.Lock()
	if err != nil {
		// Prior state stays intact; only the error string surfaces.
		if ctx.Err() == nil {
			r.lastErr = err.Error()
			r.logger.Warn("broadcast fetch failed", zap.String("id", id), zap.Error(err))
		}
		r.mu.Unlock()
		return
	}
	r.cur = b
	r.lastErr = ""
	r.mu.Unlock()
	r.signal.Notify()
}

// Send issues the bulk send and, on success, starts reconciling the
// created broadcast immediately. On failure local state is untouched
// and the error string is surfaced.
func (r *Reconciler) Send(ctx context.Context, req SendRequest) error {
	b, err := r.svc.SendBroadcast(ctx, req)
	if err != nil {
		r.mu.Lock()
		r.lastErr = err.Error()
		r.mu.Unlock()
		return fmt.Errorf("send broadcast: %w", err)
	}

	r.mu.Lock()
	r.cur = b
	r.lastErr = ""
	r.mu.Unlock()
	r.signal.Notify()

	r.Start(ctx, b.ID)
	return nil
}

// Cancel issues the cancel action for the current broadcast and forces
// an immediate reconciliation fetch on success.
func (r *Reconciler) Cancel(ctx context.Context) error {
	r.mu.Lock()
	var id string
	if r.cur != nil {
		id = r.cur.ID
	}
	r.mu.Unlock()
	if id == "" {
		return fmt.Errorf("cancel broadcast: none in flight")
	}

	if err := r.svc.CancelBroadcast(ctx, id); err != nil {
		r.mu.Lock()
		r.lastErr = err.Error()
		r.mu.Unlock()
		return fmt.Errorf("cancel broadcast: %w", err)
	}

	r.fetch(ctx, id)
	return nil
}

// Snapshot returns the last-known record, its derived progress, and
// the last error string (empty when the last operation succeeded).
func (r *Reconciler) Snapshot() (*Broadcast, Progress, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cur == nil {
		return nil, Progress{}, r.lastErr
	}
	b := *r.cur
	return &b, ProgressOf(b), r.lastErr
}
