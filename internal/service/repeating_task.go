// internal/service/repeating_task.go
package service

import (
	"context"
	"sync"
	"time"
)

// RepeatingTask calls fn every interval until fn returns false, Stop is
// called, or the parent context ends.
type RepeatingTask struct {
	interval time.Duration
	fn       func(ctx context.Context) bool

	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

// NewRepeatingTask creates a task that does nothing until Run is called
func NewRepeatingTask(parent context.Context, interval time.Duration, fn func(ctx context.Context) bool) *RepeatingTask {
	ctx, cancel := context.WithCancel(parent)
	return &RepeatingTask{
		interval: interval,
		fn:       fn,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Run blocks until the task stops. The first call to fn happens one
// interval after Run starts; later calls to Run return at once.
func (t *RepeatingTask) Run() {
	t.once.Do(func() {
		defer t.cancel()

		ticker := time.NewTicker(t.interval)
		defer ticker.Stop()

		for {
			select {
			case <-t.ctx.Done():
				return
			case <-ticker.C:
				if t.ctx.Err() != nil {
					return
				}
				if !t.fn(t.ctx) {
					return
				}
			}
		}
	})
}

// Stop cancels the task without waiting; it is safe to call from fn
func (t *RepeatingTask) Stop() {
	t.cancel()
}
