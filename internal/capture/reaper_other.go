// SPDX-License-Identifier: MIT

//go:build !linux && !darwin

package capture

import (
	"context"
	"errors"
)

// enumerateProcesses has no portable implementation on this platform; the
// reaper degrades to a warned no-op.
func enumerateProcesses(ctx context.Context) ([]procEntry, error) {
	return nil, errors.New("process enumeration not supported on this platform")
}
