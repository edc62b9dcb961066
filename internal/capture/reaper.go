// SPDX-License-Identifier: MIT

package capture

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/harperreed/glimpser-go/internal/util"
)

// DefaultOrphanKillGrace is the pause between the terminate signal and the
// force-kill when reaping an orphan.
const DefaultOrphanKillGrace = 100 * time.Millisecond

// ReaperConfig configures the one-shot orphan reap.
type ReaperConfig struct {
	EncoderBin string        // binary name to match (default "ffmpeg")
	KillGrace  time.Duration // terminate-to-kill pause (default 100ms)
	Logger     *slog.Logger
}

// procEntry is one candidate process from the host enumeration.
type procEntry struct {
	pid  int
	argv []string
}

// ReapOrphans finds and kills encoder children left behind by a prior
// crashed run. It must be called exactly once, before the pool spawns any
// child.
//
// A process is ours if and only if its command line carries both the
// Glimpser tag argument and an output-mode token, and its binary matches
// the configured encoder. Parent-pid relationships are deliberately not
// consulted: the OS may have reparented the orphans.
//
// If the host offers no process-enumeration facility the reap degrades to
// a no-op: count 0, nil error, one warning. Individual kill failures are
// logged and skipped, never fatal.
func ReapOrphans(ctx context.Context, cfg ReaperConfig) (int, error) {
	if cfg.EncoderBin == "" {
		cfg.EncoderBin = "ffmpeg"
	}
	if cfg.KillGrace <= 0 {
		cfg.KillGrace = DefaultOrphanKillGrace
	}

	procs, err := enumerateProcesses(ctx)
	if err != nil {
		if cfg.Logger != nil {
			cfg.Logger.Warn("process enumeration unavailable, skipping orphan reap",
				"error", err.Error())
		}
		return 0, nil
	}

	self := os.Getpid()
	reaped := 0
	failed := 0
	for _, p := range procs {
		if p.pid == self || !isOurEncoder(p.argv, cfg.EncoderBin) {
			continue
		}
		if err := killOrphan(p.pid, cfg.KillGrace); err != nil {
			failed++
			if cfg.Logger != nil {
				cfg.Logger.Warn("failed to reap orphan encoder",
					"pid", p.pid, "error", err.Error())
			}
			continue
		}
		reaped++
		if cfg.Logger != nil {
			cfg.Logger.Info("orphan_reaped", "pid", p.pid, "argv0", p.argv[0])
		}
	}

	if cfg.Logger != nil {
		cfg.Logger.Info("orphan reap complete", "reaped", reaped, "failed", failed)
	}
	return reaped, nil
}

// CountOrphans runs the reaper's scan without killing anything. Used by
// diagnostics to report leftover tagged encoders.
func CountOrphans(ctx context.Context, cfg ReaperConfig) (int, error) {
	if cfg.EncoderBin == "" {
		cfg.EncoderBin = "ffmpeg"
	}
	procs, err := enumerateProcesses(ctx)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, p := range procs {
		if isOurEncoder(p.argv, cfg.EncoderBin) {
			count++
		}
	}
	return count, nil
}

// isOurEncoder classifies a command line as a Glimpser-spawned encoder.
// Both markers are required: the Glimpser tag inserted at spawn and one of
// the output-mode tokens ("pipe:1" or "mjpeg"). Matching either alone is
// not enough; a user's unrelated encoder run must never be killed.
//
// The binary match accepts any argv element whose base name matches, not
// just argv[0]: an encoder deployed behind an interpreter or wrapper
// script reports the wrapper as argv[0] and the real path after it.
func isOurEncoder(argv []string, encoderBin string) bool {
	if len(argv) == 0 {
		return false
	}

	bin := filepath.Base(encoderBin)
	hasBin := false
	hasTag := false
	hasOutputMode := false
	for i, arg := range argv {
		if filepath.Base(arg) == bin {
			hasBin = true
		}
		if i == 0 {
			continue
		}
		if strings.Contains(arg, TagPrefix) {
			hasTag = true
		}
		if arg == "pipe:1" || arg == "mjpeg" {
			hasOutputMode = true
		}
	}
	return hasBin && hasTag && hasOutputMode
}

// killOrphan terminates pid gracefully, waits the grace period, then
// force-kills if still alive. Unlike Child.Kill it cannot wait on the exit
// status: the orphan is not our child, so liveness is probed with signal 0.
func killOrphan(pid int, grace time.Duration) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}

	if err := proc.Signal(syscall.SIGTERM); err != nil {
		// Already gone between enumeration and signal.
		if !util.ProcessAlive(pid) {
			return nil
		}
		return err
	}

	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if !util.ProcessAlive(pid) {
			return nil
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := proc.Kill(); err != nil && util.ProcessAlive(pid) {
		return err
	}
	return nil
}
