package retrieval

import (
	"context"
	"os"
	"os/exec"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/tslateman/lore-sub001/internal/logging"
)

// ProcessRefresher starts a detached child process, typically
// "lore index rebuild --quiet", and never waits for it.
type ProcessRefresher struct {
	Path string
	Args []string
	Env  []string
	Log  *zap.Logger
}

// Refresh implements Refresher.
func (p *ProcessRefresher) Refresh() {
	log := p.Log
	log = logging.OrNop(log)
	cmd := exec.Command(p.Path, p.Args...)
	cmd.Env = append(os.Environ(), p.Env...)
	if err := cmd.Start(); err != nil {
		log.Warn("background index refresh failed to start", zap.Error(err))
		return
	}
	log.Debug("background index refresh started", zap.Int("pid", cmd.Process.Pid))
	if err := cmd.Process.Release(); err != nil {
		log.Debug("releasing refresh process", zap.Error(err))
	}
}

// FuncRefresher runs fn in a goroutine, at most one at a time. Calls made
// while a refresh is in flight are dropped.
type FuncRefresher struct {
	fn       func(context.Context) error
	log      *zap.Logger
	inflight atomic.Bool
}

// NewFuncRefresher wraps fn.
func NewFuncRefresher(fn func(context.Context) error, log *zap.Logger) *FuncRefresher {
	log = logging.OrNop(log)
	return &FuncRefresher{fn: fn, log: log}
}

// Refresh implements Refresher.
func (f *FuncRefresher) Refresh() {
	if !f.inflight.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer f.inflight.Store(false)
		if err := f.fn(context.Background()); err != nil {
			f.log.Warn("background index refresh failed", zap.Error(err))
			return
		}
		f.log.Debug("background index refresh finished")
	}()
}

// InFlight reports whether a refresh is running.
func (f *FuncRefresher) InFlight() bool { return f.inflight.Load() }
