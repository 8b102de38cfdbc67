// Package instance terminates stale copies of the daemon so the
// replacement can claim the session ports and the service name.
package instance

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"rtpmidid/util"
)

// Process is the view of a running process that replacement needs.
type Process interface {
	PID() int32
	Name(ctx context.Context) (string, error)
	Cmdline(ctx context.Context) ([]string, error)
	Running(ctx context.Context) (bool, error)
	Terminate(ctx context.Context) error
	Kill(ctx context.Context) error
}

// Replacer finds processes running the same executable and stops them.
type Replacer struct {
	// Executable is the base name matched against process names and
	// argv[0].
	Executable string
	// Self is excluded from matching.
	Self int32
	// Grace is how long a terminated process has to exit before it is
	// killed.
	Grace time.Duration

	list   func(ctx context.Context) ([]Process, error)
	logger *util.Logger
}

// NewReplacer returns a Replacer for the running executable, listing
// processes through gopsutil.
func NewReplacer(logger *util.Logger) *Replacer {
	exe, err := os.Executable()
	if err != nil {
		exe = os.Args[0]
	}
	return &Replacer{
		Executable: filepath.Base(exe),
		Self:       int32(os.Getpid()),
		Grace:      time.Second,
		list:       systemProcesses,
		logger:     logger,
	}
}

// ReplaceExisting terminates every other instance and returns how many
// were stopped.  Failures are logged; a leftover instance surfaces later
// as a busy port.
func (r *Replacer) ReplaceExisting(ctx context.Context) int {
	procs, err := r.list(ctx)
	if err != nil {
		r.logger.Warn("process scan failed: %v", err)
		return 0
	}

	var stopped []Process
	for _, p := range procs {
		if p.PID() == r.Self || !r.matches(ctx, p) {
			continue
		}
		if err := p.Terminate(ctx); err != nil {
			r.logger.Warn("cannot terminate instance pid %d: %v", p.PID(), err)
			continue
		}
		r.logger.Info("terminated existing instance pid %d", p.PID())
		stopped = append(stopped, p)
	}

	for _, p := range stopped {
		r.await(ctx, p)
	}
	return len(stopped)
}

func (r *Replacer) matches(ctx context.Context, p Process) bool {
	if name, err := p.Name(ctx); err == nil && name == r.Executable {
		return true
	}
	argv, err := p.Cmdline(ctx)
	if err != nil || len(argv) == 0 {
		return false
	}
	return filepath.Base(argv[0]) == r.Executable
}

// await polls until p exits, killing it once Grace runs out.
func (r *Replacer) await(ctx context.Context, p Process) {
	deadline := time.Now().Add(r.Grace)
	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()

	for {
		running, err := p.Running(ctx)
		if err != nil || !running {
			return
		}
		if time.Now().After(deadline) {
			r.logger.Warn("instance pid %d ignored SIGTERM, killing", p.PID())
			if err := p.Kill(ctx); err != nil {
				r.logger.Warn("kill pid %d: %v", p.PID(), err)
			}
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
		}
	}
}

type sysProcess struct {
	p *process.Process
}

func systemProcesses(ctx context.Context) ([]Process, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Process, len(procs))
	for i, p := range procs {
		out[i] = sysProcess{p}
	}
	return out, nil
}

func (s sysProcess) PID() int32 { return s.p.Pid }

func (s sysProcess) Name(ctx context.Context) (string, error) { return s.p.NameWithContext(ctx) }

func (s sysProcess) Cmdline(ctx context.Context) ([]string, error) {
	return s.p.CmdlineSliceWithContext(ctx)
}

func (s sysProcess) Running(ctx context.Context) (bool, error) {
	return s.p.IsRunningWithContext(ctx)
}

func (s sysProcess) Terminate(ctx context.Context) error { return s.p.TerminateWithContext(ctx) }

func (s sysProcess) Kill(ctx context.Context) error { return s.p.KillWithContext(ctx) }
