// SPDX-License-Identifier: MIT

// Package main implements glimpsectl, the interactive control tool for a
// running glimpser daemon.
//
// Usage:
//
//	glimpsectl [options] [command [stream-id]]
//
// Without a command, an interactive menu is shown. Commands:
//
//	status              Print daemon health
//	start <stream-id>   Start a capture
//	stop <stream-id>    Stop a capture
//	health <stream-id>  Print one stream's health
//	snapshot <stream-id> [file]  Save one JPEG frame
//	diagnose            Run environment diagnostics
//
// Options:
//
//	--api=URL       Daemon API base URL (default: http://127.0.0.1:8089)
//	--accessible    Accessible mode for screen readers
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/harperreed/glimpser-go/internal/client"
	"github.com/harperreed/glimpser-go/internal/diagnostics"
	"github.com/harperreed/glimpser-go/internal/menu"
)

var (
	apiURL     = flag.String("api", client.DefaultBaseURL, "Daemon API base URL")
	accessible = flag.Bool("accessible", false, "Accessible mode for screen readers")
)

// snapshotTimeout bounds a snapshot fetch; the daemon itself waits up to
// its start deadline for a frame.
const snapshotTimeout = 15 * time.Second

func main() {
	flag.Parse()

	c := client.NewClient(*apiURL)
	ctl := &controller{client: c}

	var err error
	if args := flag.Args(); len(args) > 0 {
		err = ctl.runCommand(args)
	} else {
		err = ctl.runMenu()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "glimpsectl: %v\n", err)
		os.Exit(1)
	}
}

type controller struct {
	client *client.Client
}

func (ctl *controller) runCommand(args []string) error {
	ctx := context.Background()

	cmd := args[0]
	var id string
	if len(args) > 1 {
		id = args[1]
	}

	switch cmd {
	case "status":
		return ctl.printStatus(ctx)
	case "start":
		if id == "" {
			return fmt.Errorf("start requires a stream id")
		}
		return ctl.client.Start(ctx, id)
	case "stop":
		if id == "" {
			return fmt.Errorf("stop requires a stream id")
		}
		return ctl.client.Stop(ctx, id)
	case "health":
		if id == "" {
			return fmt.Errorf("health requires a stream id")
		}
		return ctl.printStreamHealth(ctx, id)
	case "snapshot":
		if id == "" {
			return fmt.Errorf("snapshot requires a stream id")
		}
		out := id + ".jpg"
		if len(args) > 2 {
			out = args[2]
		}
		return ctl.saveSnapshot(ctx, id, out)
	case "diagnose":
		return ctl.runDiagnostics(ctx)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func (ctl *controller) runMenu() error {
	m := menu.New("Glimpser", menu.WithAccessible(*accessible))
	m.Add("status", "Daemon status", func() error {
		return ctl.printStatus(context.Background())
	})
	m.Add("start", "Start a capture", func() error {
		return ctl.withSelectedStream("Start which stream?", ctl.client.Start)
	})
	m.Add("stop", "Stop a capture", func() error {
		return ctl.withSelectedStream("Stop which stream?", ctl.client.Stop)
	})
	m.Add("health", "Stream health", func() error {
		return ctl.withSelectedStream("Which stream?", ctl.printStreamHealth)
	})
	m.Add("snapshot", "Save a snapshot", func() error {
		return ctl.withSelectedStream("Snapshot which stream?", func(ctx context.Context, id string) error {
			return ctl.saveSnapshot(ctx, id, id+".jpg")
		})
	})
	m.Add("diagnose", "Run diagnostics", func() error {
		return ctl.runDiagnostics(context.Background())
	})
	return m.Run()
}

// withSelectedStream prompts for a stream id from the daemon's stream list
// and applies fn to it.
func (ctl *controller) withSelectedStream(title string, fn func(context.Context, string) error) error {
	ctx := context.Background()

	health, err := ctl.client.Health(ctx)
	if err != nil {
		return err
	}
	if len(health.Streams) == 0 {
		return fmt.Errorf("daemon has no configured streams")
	}

	ids := make([]string, 0, len(health.Streams))
	for _, s := range health.Streams {
		ids = append(ids, s.ID)
	}

	id, err := menu.Select(title, ids, *accessible)
	if err != nil {
		return err
	}
	return fn(ctx, id)
}

func (ctl *controller) printStatus(ctx context.Context) error {
	health, err := ctl.client.Health(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("status: %s  encoders: %d\n", health.Status, health.Encoders)
	for _, s := range health.Streams {
		fmt.Printf("  %-20s %-8s frames=%d bytes=%d\n", s.ID, s.State, s.Frames, s.BytesRead)
	}
	return nil
}

func (ctl *controller) printStreamHealth(ctx context.Context, id string) error {
	health, err := ctl.client.StreamHealth(ctx, id)
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(health, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func (ctl *controller) runDiagnostics(ctx context.Context) error {
	runner := diagnostics.NewRunner(diagnostics.Options{APIURL: *apiURL})
	report := runner.Run(ctx)
	report.WriteText(os.Stdout)
	if !report.Healthy {
		return fmt.Errorf("diagnostics reported critical problems")
	}
	return nil
}

func (ctl *controller) saveSnapshot(ctx context.Context, id, path string) error {
	frame, err := ctl.client.Snapshot(ctx, id, snapshotTimeout)
	if err != nil {
		return err
	}
	// #nosec G306 - snapshots are user-facing artifacts
	if err := os.WriteFile(path, frame, 0644); err != nil {
		return err
	}
	fmt.Printf("wrote %s (%d bytes)\n", path, len(frame))
	return nil
}
