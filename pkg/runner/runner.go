package runner

import (
	"bytes"
	"context"
	"io"

	"github.com/dimiro1/banner"
)

type State int

const (
	StateNew State = iota
	StateStarting
	StateRunning
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

type Runner interface {
	Run(ctx context.Context) error
	Stop() error
	State() State
}

type Hooks struct {
	OnStart func()
	OnStop  func()
}

// Drainer finishes in-flight work before the process exits.
type Drainer interface {
	Drain() error
}

// Version is stamped at build time via -ldflags.
var Version = "dev"

// PrintBanner writes the startup banner to w. A nil writer prints nothing.
func PrintBanner(w io.Writer) {
	if w == nil {
		return
	}
	tpl := "{{ .Title \"SIPRTC\" \"\" 0 }}\nSipRTC speech bridge " + Version + "\n"
	banner.Init(w, true, false, bytes.NewBufferString(tpl))
}
