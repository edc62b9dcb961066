// SPDX-License-Identifier: MIT

package capture

import (
	"errors"
	"fmt"
)

// Sentinel errors surfaced by the capture subsystem.
var (
	// ErrAtCapacity is returned by Pool.Acquire when the pool has reached
	// its configured maximum of concurrent encoders. Acquire never queues;
	// backpressure is communicated to the caller (the HTTP layer maps this
	// to 503).
	ErrAtCapacity = errors.New("encoder pool at capacity")

	// ErrNotReady is returned when an operation is invalid in the source's
	// current state, e.g. Subscribe before the source is running.
	ErrNotReady = errors.New("capture not ready")

	// ErrStartTimeout is returned by StartCapture when the encoder produced
	// no frame within the start deadline. The child has been killed.
	ErrStartTimeout = errors.New("no frame before start deadline")

	// ErrStalled is the terminal error of a source whose frame flow stopped
	// for longer than the stall timeout while running.
	ErrStalled = errors.New("frame flow stalled")

	// ErrLagged is delivered to a subscriber that fell so far behind that
	// frames were dropped. The subscription is terminated; the caller may
	// re-subscribe.
	ErrLagged = errors.New("subscriber lagged, frames dropped")

	// ErrStopped is the terminal signal of a gracefully stopped source.
	ErrStopped = errors.New("capture stopped")

	// ErrAlreadyStarted names the already-started spawn state. No function
	// in this package returns it.
	ErrAlreadyStarted = errors.New("encoder child already started")

	// ErrPoolClosed is returned by Acquire after the pool has shut down.
	ErrPoolClosed = errors.New("encoder pool closed")
)

// SpawnError wraps an OS-level failure to fork/exec the encoder binary.
type SpawnError struct {
	Bin string
	Err error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to spawn encoder %q: %v", e.Bin, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// EncoderExitError is the terminal error of a source whose encoder child
// exited while output was still expected. It carries the exit status and
// the tail of the child's stderr for diagnostics.
type EncoderExitError struct {
	ExitCode   int
	StderrTail string
}

func (e *EncoderExitError) Error() string {
	if e.StderrTail == "" {
		return fmt.Sprintf("encoder exited with code %d", e.ExitCode)
	}
	return fmt.Sprintf("encoder exited with code %d: %s", e.ExitCode, e.StderrTail)
}
