package runner

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/harunnryd/siprtc-bridge/pkg/logging"
)

var ErrDrainTimeout = errors.New("drain timeout")

type Options struct {
	Drainer Drainer
	Hooks   Hooks
	// Timeout bounds Drain; zero means 10s.
	Timeout time.Duration
	// Banner receives the startup banner; nil disables it.
	Banner io.Writer
	Logger *slog.Logger
}

// LifecycleRunner runs until its context is cancelled or Stop is called, then
// drains exactly once.
type LifecycleRunner struct {
	state    int32
	mu       sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
	onceStop sync.Once
	opts     Options
	logger   *slog.Logger
	stopErr  error
}

func NewLifecycleRunner(opts Options) *LifecycleRunner {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &LifecycleRunner{
		state:  int32(StateNew),
		ctx:    ctx,
		cancel: cancel,
		opts:   opts,
		logger: logging.NewComponentLogger(opts.Logger, "runner"),
	}
}

func (r *LifecycleRunner) Run(ctx context.Context) error {
	if !r.casState(StateNew, StateStarting) {
		return errors.New("invalid state transition")
	}
	PrintBanner(r.opts.Banner)
	r.mu.Lock()
	if ctx != nil {
		r.ctx, r.cancel = context.WithCancel(ctx)
	}
	runCtx := r.ctx
	r.mu.Unlock()
	if r.opts.Hooks.OnStart != nil {
		r.opts.Hooks.OnStart()
	}
	r.setState(StateRunning)
	r.logger.Info("runner_started", slog.String("version", Version))
	<-runCtx.Done()
	return r.stop()
}

func (r *LifecycleRunner) Stop() error {
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()
	cancel()
	return r.stop()
}

func (r *LifecycleRunner) State() State {
	return State(atomic.LoadInt32(&r.state))
}

func (r *LifecycleRunner) stop() error {
	r.onceStop.Do(func() {
		r.setState(StateDraining)
		r.logger.Info("runner_draining", slog.Duration("timeout", r.opts.Timeout))
		if r.opts.Drainer != nil {
			done := make(chan error, 1)
			go func() {
				done <- r.opts.Drainer.Drain()
			}()
			select {
			case err := <-done:
				r.stopErr = err
			case <-time.After(r.opts.Timeout):
				r.stopErr = ErrDrainTimeout
			}
		}
		if r.opts.Hooks.OnStop != nil {
			r.opts.Hooks.OnStop()
		}
		r.setState(StateStopped)
		if r.stopErr != nil {
			r.logger.Warn("runner_stopped", slog.String("error", r.stopErr.Error()))
		} else {
			r.logger.Info("runner_stopped")
		}
	})
	return r.stopErr
}

func (r *LifecycleRunner) casState(from, to State) bool {
	return atomic.CompareAndSwapInt32(&r.state, int32(from), int32(to))
}

func (r *LifecycleRunner) setState(s State) {
	atomic.StoreInt32(&r.state, int32(s))
}
