package llm

import (
	"context"
	"sync"
	"time"
)

// Gate serializes calls to a rate-limited external service. It is a
// concurrency-1 semaphore with a fixed delay between consecutive admissions.
// Both the classification model and the source-of-truth system are throttled
// this way; parallel calls risk throttling that corrupts results mid-run.
type Gate struct {
	mu       sync.Mutex
	delay    time.Duration
	lastDone time.Time
}

// NewGate returns a Gate with the given inter-call delay. A zero delay still
// serializes calls without pausing between them.
func NewGate(delay time.Duration) *Gate {
	return &Gate{delay: delay}
}

// Do runs fn while holding the gate. If less than the configured delay has
// passed since the previous call finished, Do sleeps for the remainder first.
// The context is checked before admission so a cancelled caller does not wait
// out the delay only to fail.
func (g *Gate) Do(ctx context.Context, fn func() error) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	if wait := g.delay - time.Since(g.lastDone); wait > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}

	err := fn()
	g.lastDone = time.Now()
	return err
}
