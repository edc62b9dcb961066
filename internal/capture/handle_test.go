// SPDX-License-Identifier: MIT

package capture

import (
	"context"
	"testing"
	"time"
)

func TestHandleCloseKillsChild(t *testing.T) {
	requireSubprocessSupport(t)

	pool := NewPool(PoolConfig{MaxEncoders: 4})
	defer pool.Close()

	h, err := StartCapture(context.Background(), testSourceConfig(t, pool, streamingScript(t, "0.05")), 5*time.Second)
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}

	pid := h.Pid()
	start := time.Now()
	if err := h.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("close took %v, exceeding the shutdown budget", elapsed)
	}

	// Drop-kills law: after Close returns the pid is not running.
	requireProcessGone(t, pid, time.Second)

	if got := h.State(); got != SourceStopped {
		t.Errorf("state after close = %v, want stopped", got)
	}
}

func TestHandleCloseIdempotent(t *testing.T) {
	requireSubprocessSupport(t)

	pool := NewPool(PoolConfig{MaxEncoders: 4})
	defer pool.Close()

	h, err := StartCapture(context.Background(), testSourceConfig(t, pool, streamingScript(t, "0.05")), 5*time.Second)
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := h.Close(); err != nil {
			t.Fatalf("close #%d failed: %v", i+1, err)
		}
	}
}

func TestHandleRegistryTeardown(t *testing.T) {
	requireSubprocessSupport(t)

	pool := NewPool(PoolConfig{MaxEncoders: 8})
	defer pool.Close()

	before := LiveHandles()

	var pids []int
	for i := 0; i < 5; i++ {
		h, err := StartCapture(context.Background(), testSourceConfig(t, pool, streamingScript(t, "0.05")), 5*time.Second)
		if err != nil {
			t.Fatalf("start %d failed: %v", i, err)
		}
		pids = append(pids, h.Pid())
	}
	if LiveHandles() != before+5 {
		t.Fatalf("registry has %d handles, want %d", LiveHandles(), before+5)
	}

	// Runtime teardown without any explicit stop: every child must die.
	CloseAllHandles()

	if LiveHandles() != before {
		t.Errorf("registry has %d handles after teardown, want %d", LiveHandles(), before)
	}
	for _, pid := range pids {
		requireProcessGone(t, pid, 2*time.Second)
	}
}

func TestHandleSubscriberSeesEndOfStreamAfterClose(t *testing.T) {
	requireSubprocessSupport(t)

	pool := NewPool(PoolConfig{MaxEncoders: 4})
	defer pool.Close()

	h, err := StartCapture(context.Background(), testSourceConfig(t, pool, streamingScript(t, "0.05")), 5*time.Second)
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}

	rx, err := h.Subscribe()
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	if err := h.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	// After Close returns every receiver observes a terminal signal.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		if _, err := rx.Next(ctx); err != nil {
			if err == context.DeadlineExceeded {
				t.Fatal("receiver still blocked after close")
			}
			return
		}
	}
}

func TestHandleFailedStartLeavesNothingRegistered(t *testing.T) {
	requireSubprocessSupport(t)

	pool := NewPool(PoolConfig{MaxEncoders: 4})
	defer pool.Close()

	before := LiveHandles()
	cfg := testSourceConfig(t, pool, writeScript(t, "crasher", "exit 1"))
	if _, err := StartCapture(context.Background(), cfg, time.Second); err == nil {
		t.Fatal("expected start failure")
	}
	if LiveHandles() != before {
		t.Errorf("failed start leaked a registry entry")
	}
}
