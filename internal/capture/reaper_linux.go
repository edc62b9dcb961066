// SPDX-License-Identifier: MIT

//go:build linux

package capture

import (
	"context"

	"github.com/prometheus/procfs"
)

// enumerateProcesses lists every process on the host with its command
// line, via /proc. Entries whose cmdline cannot be read (the process died
// mid-scan, or belongs to another user on a hardened kernel) are skipped.
func enumerateProcesses(ctx context.Context) ([]procEntry, error) {
	procs, err := procfs.AllProcs()
	if err != nil {
		return nil, err
	}

	out := make([]procEntry, 0, len(procs))
	for _, p := range procs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		argv, err := p.CmdLine()
		if err != nil || len(argv) == 0 {
			continue
		}
		out = append(out, procEntry{pid: p.PID, argv: argv})
	}
	return out, nil
}
