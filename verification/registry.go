package verification

import (
	"context"
	"errors"
	"sync"
	"time"

	"PRESENCE/logger"

	"github.com/google/uuid"
)

type entry struct {
	orch    *Orchestrator
	slot    *FrameSlot
	cancel  context.CancelFunc
	started time.Time
}

// Registry tracks the attempts started over HTTP. Each attempt has one worker
// goroutine draining a keep-latest frame slot. Attempts are removed when
// decided, aborted by the client, or swept after their TTL.
type Registry struct {
	mu       sync.Mutex
	attempts map[string]entry
	now      func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{attempts: map[string]entry{}, now: time.Now}
}

// Start registers o, starts its worker and returns the attempt id.
func (r *Registry) Start(o *Orchestrator) string {
	id := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	slot := NewFrameSlot()

	r.mu.Lock()
	r.attempts[id] = entry{orch: o, slot: slot, cancel: cancel, started: r.now()}
	r.mu.Unlock()

	go r.work(ctx, id, o, slot)
	return id
}

func (r *Registry) work(ctx context.Context, id string, o *Orchestrator, slot *FrameSlot) {
	err := o.Run(ctx, slot, func(p Progress) {
		logger.Debug("verification frame processed", logger.LoggerOptions{
			Key:  "attempt",
			Data: id,
		}, logger.LoggerOptions{
			Key:  "seq",
			Data: p.Seq,
		}, logger.LoggerOptions{
			Key:  "hint",
			Data: p.Hint,
		})
	})
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, ErrAttemptFinished) {
		logger.Warning("verification attempt ended with error", logger.LoggerOptions{
			Key:  "attempt",
			Data: id,
		}, logger.LoggerOptions{
			Key:  "error",
			Data: err,
		})
	}
}

// Get returns the attempt only to the user that started it.
func (r *Registry) Get(id, userID string) (*Orchestrator, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.attempts[id]
	if !ok || e.orch.UserID() != userID {
		return nil, false
	}
	return e.orch, true
}

// Submit hands f to the attempt's worker. A frame still waiting from an earlier
// call is replaced, and replaced reports that.
func (r *Registry) Submit(id, userID string, f Frame) (replaced, ok bool) {
	r.mu.Lock()
	e, ok := r.attempts[id]
	r.mu.Unlock()
	if !ok || e.orch.UserID() != userID {
		return false, false
	}
	return e.slot.Offer(f), true
}

// Finish stops the attempt's worker and forgets it.
func (r *Registry) Finish(id string) {
	r.mu.Lock()
	e, ok := r.attempts[id]
	delete(r.attempts, id)
	r.mu.Unlock()
	if ok {
		e.cancel()
	}
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.attempts)
}

// Sweep aborts and removes attempts older than ttl and returns how many.
func (r *Registry) Sweep(ttl time.Duration) int {
	cutoff := r.now().Add(-ttl)
	var stale []entry

	r.mu.Lock()
	for id, e := range r.attempts {
		if e.started.Before(cutoff) {
			stale = append(stale, e)
			delete(r.attempts, id)
		}
	}
	r.mu.Unlock()

	for _, e := range stale {
		e.orch.Abort()
		e.cancel()
	}
	if len(stale) > 0 {
		logger.Info("swept stale verification attempts", logger.LoggerOptions{
			Key:  "count",
			Data: len(stale),
		})
	}
	return len(stale)
}
