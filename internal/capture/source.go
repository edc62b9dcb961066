// SPDX-License-Identifier: MIT

package capture

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/harperreed/glimpser-go/internal/util"
)

// SourceState is the capture source's lifecycle state.
type SourceState int32

const (
	SourceStarting SourceState = iota // waiting for the first frame
	SourceRunning                     // frames flowing
	SourceStopping                    // graceful stop in progress
	SourceStopped                     // stopped cleanly (terminal)
	SourceFailed                      // failed (terminal)
)

// String returns the lowercase state name.
func (s SourceState) String() string {
	switch s {
	case SourceStarting:
		return "starting"
	case SourceRunning:
		return "running"
	case SourceStopping:
		return "stopping"
	case SourceStopped:
		return "stopped"
	case SourceFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Default timeouts for a capture source.
const (
	DefaultStartTimeout = 10 * time.Second
	DefaultStallTimeout = 30 * time.Second
)

// watchdogInterval is how often the stall watchdog samples the last-frame
// timestamp.
const watchdogInterval = 500 * time.Millisecond

// SourceConfig configures one capture source.
type SourceConfig struct {
	Def             StreamDef
	Pool            *Pool
	EncoderBin      string
	StartTimeout    time.Duration // first-frame deadline (default 10s)
	StallTimeout    time.Duration // no-frame watchdog (default 30s)
	KillGrace       time.Duration // child terminate grace (default 1s)
	SubscriberDepth int
	Logger          *slog.Logger
}

// HealthReport is a point-in-time snapshot of a source.
type HealthReport struct {
	StreamID     string
	State        SourceState
	LastFrameAge time.Duration // negative until the first frame
	BytesRead    int64
	Frames       int64
	Subscribers  int
	StderrTail   string
	ExitCode     *int   // set once the child has exited
	Failure      string // terminal failure, if any
}

// Source is the state machine for one logical capture. It owns exactly one
// encoder child and a frame broadcast. Transitions are one-way along
// Starting -> Running -> Stopping -> Stopped; Failed is terminal and
// reachable from any non-terminal state.
type Source struct {
	cfg SourceConfig
	tag string

	state atomic.Int32
	bc    *Broadcast

	// child is assigned during start and never reassigned.
	child *Child

	bytesRead atomic.Int64
	frames    atomic.Int64
	lastFrame atomic.Int64 // unix nanos, 0 until first frame

	firstFrameOnce sync.Once
	firstFrame     chan struct{}

	termOnce sync.Once
	done     chan struct{} // closed once a terminal state is reached

	failMu  sync.Mutex
	failure error
}

// newSource creates a source in the Starting state. Callers construct
// sources through StartCapture.
func newSource(cfg SourceConfig) *Source {
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = DefaultStartTimeout
	}
	if cfg.StallTimeout <= 0 {
		cfg.StallTimeout = DefaultStallTimeout
	}
	if cfg.KillGrace <= 0 {
		cfg.KillGrace = DefaultKillGrace
	}
	s := &Source{
		cfg:        cfg,
		tag:        uuid.NewString(),
		bc:         NewBroadcast(cfg.SubscriberDepth),
		firstFrame: make(chan struct{}),
		done:       make(chan struct{}),
	}
	s.state.Store(int32(SourceStarting))
	return s
}

// State returns the current state.
func (s *Source) State() SourceState {
	return SourceState(s.state.Load())
}

// Tag returns the per-capture UUID embedded in the encoder command line.
func (s *Source) Tag() string { return s.tag }

// Pid returns the encoder child's pid, or 0 before spawn.
func (s *Source) Pid() int {
	if s.child == nil {
		return 0
	}
	return s.child.Pid()
}

// Done returns a channel closed once the source reaches a terminal state.
func (s *Source) Done() <-chan struct{} { return s.done }

// start acquires an encoder child from the pool, begins parsing its output
// and returns once the first frame has been observed or the start deadline
// elapsed. On any failure the source is terminal and the child is reaped.
//
// Cancelling ctx mid-start kills the child; an abandoned start leaks
// nothing.
func (s *Source) start(ctx context.Context) error {
	spec := ChildSpec{
		Bin:       s.cfg.EncoderBin,
		Args:      BuildEncoderArgs(s.cfg.Def, s.tag),
		Tag:       TagPrefix + s.tag,
		KillGrace: s.cfg.KillGrace,
		Logger:    s.cfg.Logger,
	}

	// The child's lifetime is bound to the source, not to the caller's
	// start context: a started capture must survive the HTTP request that
	// started it.
	child, err := s.cfg.Pool.Acquire(context.WithoutCancel(ctx), spec)
	if err != nil {
		s.terminate(err, false)
		return err
	}
	s.child = child

	util.SafeGo("capture-reader/"+s.cfg.Def.ID, s.cfg.Logger, s.readLoop)
	util.SafeGo("capture-watchdog/"+s.cfg.Def.ID, s.cfg.Logger, s.watchdog)

	startDeadline := time.NewTimer(s.cfg.StartTimeout)
	defer startDeadline.Stop()

	select {
	case <-s.firstFrame:
		s.state.CompareAndSwap(int32(SourceStarting), int32(SourceRunning))
		s.logEvent("capture_started", "pid", child.Pid())
		return nil

	case <-child.Exited():
		// The exit is only observed after the reader drained all output,
		// so a frame may have landed in the same instant. First frame
		// wins: the capture started; the reader reports the exit.
		select {
		case <-s.firstFrame:
			s.state.CompareAndSwap(int32(SourceStarting), int32(SourceRunning))
			s.logEvent("capture_started", "pid", child.Pid())
			return nil
		default:
		}
		code, _ := child.ExitCode()
		err := error(&EncoderExitError{ExitCode: code, StderrTail: child.StderrTail()})
		s.terminate(err, false)
		return s.terminalFailure()

	case <-startDeadline.C:
		s.terminate(ErrStartTimeout, false)
		return ErrStartTimeout

	case <-ctx.Done():
		s.terminate(ctx.Err(), false)
		return ctx.Err()
	}
}

// readLoop scans the encoder's stdout into frames until the stream ends.
func (s *Source) readLoop() {
	// Closing stdout when the scan stops, for any reason, unblocks the
	// child's output plumbing so the exit can always be observed.
	defer func() { _ = s.child.Stdout().Close() }()

	scanErr := scanFrames(s.child.Stdout(), s.publishFrame, func(n int64) {
		s.bytesRead.Add(n)
	})

	// The stream ended: either we are stopping and killed the child, or
	// the encoder died on us.
	switch s.State() {
	case SourceStopping, SourceStopped, SourceFailed:
		return
	default:
	}

	waitCtx, cancel := context.WithTimeout(context.Background(), s.cfg.KillGrace)
	code, err := s.child.Wait(waitCtx)
	cancel()
	if err != nil {
		code = -1
	}
	_ = scanErr // the exit status and stderr tail carry the diagnosis
	s.terminate(&EncoderExitError{ExitCode: code, StderrTail: s.child.StderrTail()}, false)
}

// publishFrame records frame progress and fans the frame out.
func (s *Source) publishFrame(frame []byte) {
	s.lastFrame.Store(time.Now().UnixNano())
	s.frames.Add(1)
	s.firstFrameOnce.Do(func() { close(s.firstFrame) })
	s.bc.Publish(frame)
}

// watchdog fails the source when no frame arrives for the stall timeout
// while running.
func (s *Source) watchdog() {
	ticker := time.NewTicker(watchdogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if s.State() != SourceRunning {
				continue
			}
			last := s.lastFrame.Load()
			if last == 0 {
				continue
			}
			if time.Since(time.Unix(0, last)) > s.cfg.StallTimeout {
				s.logEvent("capture_stalled", "stall_timeout", s.cfg.StallTimeout.String())
				s.terminate(ErrStalled, false)
				return
			}
		}
	}
}

// Subscribe registers a frame receiver. Valid only while Running.
func (s *Source) Subscribe() (*FrameReceiver, error) {
	if s.State() != SourceRunning {
		return nil, ErrNotReady
	}
	return s.bc.Subscribe(), nil
}

// Stop gracefully stops the source: Running -> Stopping -> Stopped. The
// child is killed and reaped, and subscribers observe a clean
// end-of-stream. Idempotent; every call converges on the same terminal
// state. Returns once the source is terminal or ctx expires.
func (s *Source) Stop(ctx context.Context) error {
	s.terminate(ErrStopped, true)
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// terminate drives the source to its terminal state exactly once: it kills
// and reaps the child, closes the broadcast with the terminal signal, and
// records the final state.
func (s *Source) terminate(terminal error, graceful bool) {
	s.termOnce.Do(func() {
		if graceful {
			s.state.Store(int32(SourceStopping))
		}

		if s.child != nil {
			killCtx, cancel := context.WithTimeout(context.Background(), s.cfg.KillGrace+2*time.Second)
			if err := s.child.Kill(killCtx); err != nil {
				// Last resort so the process cannot outlive the source.
				s.child.Release()
			}
			cancel()
		}

		if graceful || errors.Is(terminal, ErrStopped) {
			s.bc.Close(nil)
			s.state.Store(int32(SourceStopped))
			s.logEvent("capture_stopped")
		} else {
			s.failMu.Lock()
			s.failure = terminal
			s.failMu.Unlock()
			s.bc.Close(terminal)
			s.state.Store(int32(SourceFailed))
			s.logEvent("capture_failed", "error", terminal.Error())
		}

		close(s.done)
	})
}

// terminalFailure returns the recorded terminal error.
func (s *Source) terminalFailure() error {
	s.failMu.Lock()
	defer s.failMu.Unlock()
	return s.failure
}

// Health returns a snapshot of the source.
func (s *Source) Health() HealthReport {
	rep := HealthReport{
		StreamID:    s.cfg.Def.ID,
		State:       s.State(),
		BytesRead:   s.bytesRead.Load(),
		Frames:      s.frames.Load(),
		Subscribers: s.bc.Subscribers(),
	}
	rep.LastFrameAge = -1
	if last := s.lastFrame.Load(); last != 0 {
		rep.LastFrameAge = time.Since(time.Unix(0, last))
	}
	if s.child != nil {
		rep.StderrTail = s.child.StderrTail()
		if code, ok := s.child.ExitCode(); ok {
			rep.ExitCode = &code
		}
	}
	if err := s.terminalFailure(); err != nil {
		rep.Failure = err.Error()
	}
	return rep
}

// logEvent emits a structured machine-parseable event for post-hoc
// analysis from the log stream.
func (s *Source) logEvent(event string, attrs ...any) {
	if s.cfg.Logger == nil {
		return
	}
	all := make([]any, 0, len(attrs)+6)
	all = append(all, "event", event, "stream", s.cfg.Def.ID, "tag", s.tag)
	all = append(all, attrs...)
	s.cfg.Logger.Info("capture_event", all...)
}
