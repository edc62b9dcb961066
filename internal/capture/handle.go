// SPDX-License-Identifier: MIT

package capture

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/harperreed/glimpser-go/internal/util"
)

// DefaultShutdownTimeout bounds the drop-time cleanup of one handle.
const DefaultShutdownTimeout = 5 * time.Second

// Handle is the exclusive owner of one capture source. It is what callers
// store; closing it is the drop that guarantees the underlying source
// reaches a terminal state and its encoder child is reaped, within the
// shutdown timeout.
//
// Every handle is registered in a process-wide registry so runtime
// teardown (CloseAllHandles) reaps captures whose owners never called
// Close. No encoder process spawned by a handle remains on the OS after
// Close returns.
type Handle struct {
	src             *Source
	shutdownTimeout time.Duration
	logger          *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

// StartCapture starts a capture for def and returns its owning handle. It
// blocks until the first frame has been observed or the start deadline
// elapses. On failure no child process remains.
func StartCapture(ctx context.Context, cfg SourceConfig, shutdownTimeout time.Duration) (*Handle, error) {
	if err := cfg.Def.Validate(); err != nil {
		return nil, err
	}
	if shutdownTimeout <= 0 {
		shutdownTimeout = DefaultShutdownTimeout
	}

	src := newSource(cfg)
	if err := src.start(ctx); err != nil {
		return nil, err
	}

	h := &Handle{
		src:             src,
		shutdownTimeout: shutdownTimeout,
		logger:          cfg.Logger,
	}
	registerHandle(h)
	return h, nil
}

// Subscribe registers a frame receiver on the underlying source.
func (h *Handle) Subscribe() (*FrameReceiver, error) {
	return h.src.Subscribe()
}

// Health returns a snapshot of the underlying source.
func (h *Handle) Health() HealthReport {
	return h.src.Health()
}

// State returns the source state.
func (h *Handle) State() SourceState {
	return h.src.State()
}

// Pid returns the encoder child's pid.
func (h *Handle) Pid() int {
	return h.src.Pid()
}

// Stop gracefully stops the capture.
func (h *Handle) Stop(ctx context.Context) error {
	return h.src.Stop(ctx)
}

// Close is the handle's drop. It drives the source's stop to completion
// bounded by the shutdown timeout, isolated from panics so a failure in
// cleanup cannot unwind into the caller's destructor path. If the graceful
// stop cannot complete in time it falls back to a synchronous force-kill
// and logs a warning.
//
// After Close returns: the encoder process is dead, the broadcast channel
// is closed, and every subscriber observes end-of-stream on its next read.
// Idempotent.
func (h *Handle) Close() error {
	h.closeOnce.Do(func() {
		defer unregisterHandle(h)

		err := util.RecoverToError(func() error {
			ctx, cancel := context.WithTimeout(context.Background(), h.shutdownTimeout)
			defer cancel()
			return h.src.Stop(ctx)
		})
		if err == nil {
			return
		}

		// Graceful path failed or panicked: fall back to the synchronous
		// kill, relying on kill-on-drop as the final safety.
		if h.logger != nil {
			h.logger.Warn("handle close fell back to force-kill",
				"stream", h.src.cfg.Def.ID, "error", err.Error())
		}
		if h.src.child != nil {
			h.src.child.Release()
		}
		h.src.bc.Close(nil)
		h.closeErr = err
	})
	return h.closeErr
}

// --- process-wide handle registry ---------------------------------------

var (
	registryMu sync.Mutex
	registry   = make(map[*Handle]struct{})
)

func registerHandle(h *Handle) {
	registryMu.Lock()
	registry[h] = struct{}{}
	registryMu.Unlock()
}

func unregisterHandle(h *Handle) {
	registryMu.Lock()
	delete(registry, h)
	registryMu.Unlock()
}

// LiveHandles returns the number of registered handles.
func LiveHandles() int {
	registryMu.Lock()
	defer registryMu.Unlock()
	return len(registry)
}

// CloseAllHandles closes every registered handle concurrently. It is the
// runtime-teardown hook: called once at daemon shutdown so captures whose
// owners never dropped them still cannot leak encoder processes.
func CloseAllHandles() {
	registryMu.Lock()
	handles := make([]*Handle, 0, len(registry))
	for h := range registry {
		handles = append(handles, h)
	}
	registryMu.Unlock()

	var wg sync.WaitGroup
	for _, h := range handles {
		wg.Add(1)
		go func(h *Handle) {
			defer wg.Done()
			_ = h.Close()
		}(h)
	}
	wg.Wait()
}
