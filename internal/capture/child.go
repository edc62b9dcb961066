// SPDX-License-Identifier: MIT

// Package capture implements the encoder process lifecycle engine of
// Glimpser: spawning external media-encoder children, bounding them in a
// pool, parsing their MJPEG output into a frame broadcast, and guaranteeing
// that no encoder process ever outlives the capture that owns it.
//
// Ownership runs strictly downward: a Handle owns a Source, a Source owns a
// Child, and the Pool only records pids for shutdown-time enumeration. The
// orphan reaper closes the remaining gap across daemon crashes by matching
// the Glimpser tag embedded in every spawned command line.
package capture

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultKillGrace is how long Kill waits after the terminate signal before
// escalating to a force-kill.
const DefaultKillGrace = 1 * time.Second

// TagArg is the encoder argument that precedes the Glimpser tag value.
// Together with the tag it survives verbatim in the OS-reported command
// line, which is what the orphan reaper matches on.
const TagArg = "-metadata"

// TagPrefix prefixes the per-capture UUID in the tag value.
const TagPrefix = "glimpser_capture="

// ChildSpec describes one encoder child to spawn.
type ChildSpec struct {
	Bin       string        // encoder binary path (e.g. "ffmpeg")
	Args      []string      // full argument list, tag included
	Tag       string        // glimpser_capture=<uuid> value embedded in Args
	KillGrace time.Duration // terminate-to-force-kill grace (default 1s)
	StderrCap int           // stderr ring size (default 8 KiB)
	Logger    *slog.Logger  // optional
}

// Child wraps exactly one spawned encoder process.
//
// Invariant: while a Child value exists its OS process is either running or
// being actively reaped. Three layers enforce kill-on-drop: the spawn
// context (cancel kills), the OS-level parent-death signal on Linux, and
// the process group so a force-kill takes any encoder-forked helpers too.
type Child struct {
	cmd     *exec.Cmd
	cancel  context.CancelFunc
	pid     int
	tag     string
	spawned time.Time

	stdout  *io.PipeReader
	stdoutW *io.PipeWriter
	stderr  *BoundedBuffer

	killGrace time.Duration
	logger    *slog.Logger

	exited   chan struct{} // closed once the process has been reaped
	exitCode atomic.Int32
	waitErr  error // valid after exited is closed

	killing  atomic.Bool
	released atomic.Bool

	// onExit is invoked exactly once after the process has been reaped.
	// The pool uses it to forget the pid.
	onExit func(*Child)
	onceMu sync.Mutex
}

// SpawnChild starts the encoder described by spec. The returned Child is
// already running; its stdout is available via Stdout and its stderr drains
// into a bounded ring readable via StderrTail.
//
// The spawn context is captured: cancelling ctx kills the process, so even
// an abandoned start path cannot leak the child.
func SpawnChild(ctx context.Context, spec ChildSpec) (*Child, error) {
	if spec.Bin == "" {
		return nil, &SpawnError{Bin: spec.Bin, Err: fmt.Errorf("encoder binary not configured")}
	}
	killGrace := spec.KillGrace
	if killGrace <= 0 {
		killGrace = DefaultKillGrace
	}

	spawnCtx, cancel := context.WithCancel(ctx)

	// #nosec G204 - Bin and Args come from validated configuration, not request input
	cmd := exec.CommandContext(spawnCtx, spec.Bin, spec.Args...)
	setSysProcAttr(cmd)

	stderr := NewBoundedBuffer(spec.StderrCap)
	cmd.Stderr = stderr

	// Stdout goes through an in-process pipe rather than StdoutPipe: Wait
	// then joins the copy goroutine, so an exiting encoder cannot race the
	// frame reader out of its buffered output.
	stdoutR, stdoutW := io.Pipe()
	cmd.Stdout = stdoutW

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, &SpawnError{Bin: spec.Bin, Err: err}
	}

	c := &Child{
		cmd:       cmd,
		cancel:    cancel,
		pid:       cmd.Process.Pid,
		tag:       spec.Tag,
		spawned:   time.Now(),
		stdout:    stdoutR,
		stdoutW:   stdoutW,
		stderr:    stderr,
		killGrace: killGrace,
		logger:    spec.Logger,
		exited:    make(chan struct{}),
	}

	go c.reapLoop()

	if c.logger != nil {
		c.logger.Info("encoder spawned", "pid", c.pid, "tag", c.tag, "bin", spec.Bin)
	}

	return c, nil
}

// reapLoop waits for the process so it never lingers as a zombie, records
// the exit status, and fires the onExit callback.
func (c *Child) reapLoop() {
	err := c.cmd.Wait()
	c.waitErr = err
	code := -1
	if c.cmd.ProcessState != nil {
		code = c.cmd.ProcessState.ExitCode()
	}
	c.exitCode.Store(int32(code))
	_ = c.stdoutW.Close() // deliver EOF to the frame reader
	close(c.exited)
	c.cancel()

	c.onceMu.Lock()
	cb := c.onExit
	c.onExit = nil
	c.onceMu.Unlock()
	if cb != nil {
		cb(c)
	}

	if c.logger != nil {
		c.logger.Debug("encoder reaped", "pid", c.pid, "exit_code", c.exitCode.Load())
	}
}

// setOnExit registers the single exit callback. If the process already
// exited the callback runs immediately.
func (c *Child) setOnExit(fn func(*Child)) {
	c.onceMu.Lock()
	select {
	case <-c.exited:
		c.onceMu.Unlock()
		fn(c)
		return
	default:
	}
	c.onExit = fn
	c.onceMu.Unlock()
}

// Pid returns the OS process id of the child.
func (c *Child) Pid() int { return c.pid }

// Tag returns the Glimpser tag embedded in the child's command line.
func (c *Child) Tag() string { return c.tag }

// SpawnedAt returns the spawn timestamp.
func (c *Child) SpawnedAt() time.Time { return c.spawned }

// Stdout returns the child's stdout byte stream. The reader observes EOF
// once the process has exited and its output is drained. The consumer must
// close it when it stops reading, or the exit observation could block
// behind undelivered output.
func (c *Child) Stdout() io.ReadCloser { return c.stdout }

// StderrTail returns the most recent stderr output, bounded by the ring
// size configured at spawn.
func (c *Child) StderrTail() string { return c.stderr.String() }

// Exited returns a channel closed once the process has been reaped.
func (c *Child) Exited() <-chan struct{} { return c.exited }

// ExitCode reports the exit code once the process has been reaped.
func (c *Child) ExitCode() (int, bool) {
	select {
	case <-c.exited:
		return int(c.exitCode.Load()), true
	default:
		return 0, false
	}
}

// Wait blocks until the process has been reaped or ctx expires.
func (c *Child) Wait(ctx context.Context) (int, error) {
	select {
	case <-c.exited:
		return int(c.exitCode.Load()), nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Kill terminates the child and returns only after the OS has reported the
// exit, so no zombie remains. It is idempotent and safe to call from
// multiple goroutines: all callers converge on the same exit observation.
//
// Escalation: terminate signal, poll for exit up to the kill grace, then
// force-kill the process group.
func (c *Child) Kill(ctx context.Context) error {
	select {
	case <-c.exited:
		return nil
	default:
	}

	if c.killing.CompareAndSwap(false, true) {
		// The error is discarded: if the process exited between the check
		// above and the signal, the kernel reports ESRCH.
		_ = terminateProcess(c.cmd, c.pid)
	}

	grace := time.NewTimer(c.killGrace)
	defer grace.Stop()

	select {
	case <-c.exited:
		return nil
	case <-ctx.Done():
		// Caller gave up waiting; make sure the process still dies.
		_ = killProcessGroup(c.cmd, c.pid)
		_ = c.stdout.Close()
		return ctx.Err()
	case <-grace.C:
	}

	// Force-kill; closing the read side as well unblocks the output
	// copier if nothing is draining it, so the exit is always observed.
	_ = killProcessGroup(c.cmd, c.pid)
	_ = c.stdout.Close()

	select {
	case <-c.exited:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release is the best-effort drop path: it starts a force-kill without
// waiting for the exit. The graceful path always goes through Kill; Release
// exists as the safety net for teardown when no time budget remains.
func (c *Child) Release() {
	if !c.released.CompareAndSwap(false, true) {
		return
	}
	select {
	case <-c.exited:
		return
	default:
	}
	if c.logger != nil {
		c.logger.Warn("encoder released without wait", "pid", c.pid, "tag", c.tag)
	}
	_ = killProcessGroup(c.cmd, c.pid)
	_ = c.stdout.Close()
	c.cancel()
}
