package session

import (
	"context"
	"testing"
	"time"

	"github.com/harunnryd/siprtc-bridge/pkg/audio"
	"github.com/harunnryd/siprtc-bridge/pkg/providers/mock"
)

func TestRegistryDrainClosesEverySession(t *testing.T) {
	reg := NewRegistry()
	p := mock.New(mock.Config{})

	var ctrls []*Controller
	for i := 0; i < 3; i++ {
		c := New(Config{
			Provider: p,
			Format:   audio.PCM16(8000),
			Logger:   quietLogger(),
			OnDone:   func(c *Controller) { reg.Remove(c.ID()) },
		})
		if !reg.Add(c) {
			t.Fatalf("add %d failed", i)
		}
		if err := c.Start(context.Background()); err != nil {
			t.Fatalf("start: %v", err)
		}
		ctrls = append(ctrls, c)
	}
	if reg.Count() != 3 {
		t.Fatalf("expected 3 sessions, got %d", reg.Count())
	}
	if got, ok := reg.Get(ctrls[1].ID()); !ok || got != ctrls[1] {
		t.Fatalf("lookup failed")
	}

	reg.SetDraining(true)
	if reg.Add(New(Config{Provider: p, Logger: quietLogger()})) {
		t.Fatalf("draining registry must refuse new sessions")
	}
	if n := reg.CloseAll(TriggerServerDrain); n != 3 {
		t.Fatalf("expected 3 shutdowns, got %d", n)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if !reg.WaitForEmpty(ctx, 10*time.Millisecond) {
		t.Fatalf("registry did not empty")
	}
	for _, c := range ctrls {
		if c.Trigger() != TriggerServerDrain {
			t.Fatalf("expected server_drain trigger, got %q", c.Trigger())
		}
	}
	for _, s := range p.Streams() {
		if s.CloseCalls() != 1 {
			t.Fatalf("expected one close per stream, got %d", s.CloseCalls())
		}
	}
}

func TestRegistryRejectsDuplicateID(t *testing.T) {
	reg := NewRegistry()
	a := New(Config{ID: "same", Logger: quietLogger()})
	b := New(Config{ID: "same", Logger: quietLogger()})
	if !reg.Add(a) || reg.Add(b) {
		t.Fatalf("expected duplicate ID to be rejected")
	}
	reg.Remove("same")
	reg.Remove("same")
	if reg.Count() != 0 {
		t.Fatalf("expected empty registry, got %d", reg.Count())
	}
}

func TestRegistryDrainClosesSessionsConcurrently(t *testing.T) {
	const (
		sessions   = 5
		closeDelay = 200 * time.Millisecond
	)
	reg := NewRegistry()
	p := mock.New(mock.Config{CloseDelay: closeDelay})
	for i := 0; i < sessions; i++ {
		c := New(Config{
			Provider: p,
			Format:   audio.PCM16(8000),
			Logger:   quietLogger(),
			OnDone:   func(c *Controller) { reg.Remove(c.ID()) },
		})
		reg.Add(c)
		if err := c.Start(context.Background()); err != nil {
			t.Fatalf("start: %v", err)
		}
	}

	start := time.Now()
	if n := reg.CloseAll(TriggerServerDrain); n != sessions {
		t.Fatalf("expected %d shutdowns, got %d", sessions, n)
	}
	elapsed := time.Since(start)
	if elapsed < closeDelay {
		t.Fatalf("CloseAll returned before providers closed: %v", elapsed)
	}
	if elapsed > 3*closeDelay {
		t.Fatalf("drain took %v, sessions were closed one after another", elapsed)
	}
	if n := reg.CloseAll(TriggerServerDrain); n != 0 {
		t.Fatalf("second drain must not shut anything down, got %d", n)
	}
}
