// SPDX-License-Identifier: MIT

package capture

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/harperreed/glimpser-go/internal/util"
)

// requireSubprocessSupport skips tests that exec shell helpers on
// platforms without them.
func requireSubprocessSupport(t *testing.T) {
	t.Helper()
	if runtime.GOOS != "linux" && runtime.GOOS != "darwin" {
		t.Skipf("subprocess helpers not available on %s", runtime.GOOS)
	}
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("/bin/sh not available")
	}
}

// writeScript writes an executable shell script and returns its path.
func writeScript(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	script := "#!/bin/sh\n" + body + "\n"
	// #nosec G306 - test helper scripts must be executable
	if err := os.WriteFile(path, []byte(script), 0755); err != nil {
		t.Fatalf("failed to write script: %v", err)
	}
	return path
}

// jpegPrintf is a shell printf emitting one minimal JPEG frame (SOI, one
// payload byte, EOI).
const jpegPrintf = `printf '\377\330\000\377\331'`

// frameScript returns a script that emits count frames at the given
// interval, then runs tail (empty for exit).
func frameScript(t *testing.T, count int, interval string, tail string) string {
	t.Helper()
	body := fmt.Sprintf(`i=0
while [ $i -lt %d ]; do
  %s
  i=$((i+1))
  sleep %s
done
%s`, count, jpegPrintf, interval, tail)
	return writeScript(t, "fake-encoder", body)
}

// streamingScript returns a script that emits frames forever.
func streamingScript(t *testing.T, interval string) string {
	t.Helper()
	body := fmt.Sprintf(`while true; do
  %s
  sleep %s
done`, jpegPrintf, interval)
	return writeScript(t, "fake-encoder", body)
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// requireProcessGone fails if pid is still alive after timeout.
func requireProcessGone(t *testing.T, pid int, timeout time.Duration) {
	t.Helper()
	waitFor(t, timeout, fmt.Sprintf("pid %d to die", pid), func() bool {
		return !util.ProcessAlive(pid)
	})
}

// testSourceConfig builds a SourceConfig around a fake encoder script.
func testSourceConfig(t *testing.T, pool *Pool, script string) SourceConfig {
	t.Helper()
	return SourceConfig{
		Def: StreamDef{
			ID:   "test",
			URL:  "file:///dev/null",
			Kind: KindFile,
			Mode: ModeMJPEG,
		},
		Pool:         pool,
		EncoderBin:   script,
		StartTimeout: 5 * time.Second,
		StallTimeout: 30 * time.Second,
		KillGrace:    500 * time.Millisecond,
	}
}
