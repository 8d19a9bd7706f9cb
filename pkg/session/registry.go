package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Registry tracks live controllers for draining and gauges. Sessions never
// reach each other through it.
type Registry struct {
	sessions sync.Map
	count    atomic.Int64
	draining atomic.Bool
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Add registers c. Returns false when the ID is taken or the registry is draining.
func (r *Registry) Add(c *Controller) bool {
	if c == nil || r.draining.Load() {
		return false
	}
	if _, loaded := r.sessions.LoadOrStore(c.ID(), c); loaded {
		return false
	}
	r.count.Add(1)
	return true
}

func (r *Registry) Get(id string) (*Controller, bool) {
	if v, ok := r.sessions.Load(id); ok {
		return v.(*Controller), true
	}
	return nil, false
}

// Remove forgets a session without shutting it down.
func (r *Registry) Remove(id string) {
	if _, ok := r.sessions.LoadAndDelete(id); ok {
		r.count.Add(-1)
	}
}

// CloseAll shuts down every registered session with trigger, all at once, and
// returns how many it shut down. Sessions remove themselves once their
// provider stream is drained.
func (r *Registry) CloseAll(trigger Trigger) int {
	var (
		wg sync.WaitGroup
		n  atomic.Int64
	)
	r.sessions.Range(func(_, value any) bool {
		c, ok := value.(*Controller)
		if !ok {
			return true
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if c.Shutdown(trigger) {
				n.Add(1)
			}
		}()
		return true
	})
	wg.Wait()
	return int(n.Load())
}

func (r *Registry) Count() int64 {
	return r.count.Load()
}

func (r *Registry) SetDraining(v bool) {
	r.draining.Store(v)
}

func (r *Registry) Draining() bool {
	return r.draining.Load()
}

func (r *Registry) WaitForEmpty(ctx context.Context, interval time.Duration) bool {
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if r.Count() == 0 {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}
