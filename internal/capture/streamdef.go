// SPDX-License-Identifier: MIT

package capture

import (
	"fmt"
	"net/url"
	"strings"
)

// SourceKind is the protocol of a stream's upstream source.
type SourceKind string

const (
	KindRTSP         SourceKind = "rtsp"
	KindHTTPMJPEG    SourceKind = "http-mjpeg"
	KindHTTPSnapshot SourceKind = "http-snapshot"
	KindFile         SourceKind = "file"
)

// OutputMode is what a capture produces.
type OutputMode string

const (
	// ModeMJPEG streams continuous MJPEG frames.
	ModeMJPEG OutputMode = "mjpeg"
	// ModeSnapshot produces periodic snapshots at 1 fps; MaxFPS does not
	// change the rate in this mode.
	ModeSnapshot OutputMode = "snapshot"
)

// StreamDef is the immutable definition of one stream, read from the
// configuration store. It is the input to a capture.
type StreamDef struct {
	ID       string     `yaml:"-" koanf:"-"`
	URL      string     `yaml:"url" koanf:"url"`
	Kind     SourceKind `yaml:"kind" koanf:"kind"`
	Username string     `yaml:"username" koanf:"username"`
	Password string     `yaml:"password" koanf:"password"`
	Mode     OutputMode `yaml:"mode" koanf:"mode"`
	MaxFPS   int        `yaml:"max_fps" koanf:"max_fps"`
	MaxWidth int        `yaml:"max_width" koanf:"max_width"`
}

// Validate checks a stream definition.
func (d *StreamDef) Validate() error {
	if d.URL == "" {
		return fmt.Errorf("stream %q: url cannot be empty", d.ID)
	}
	switch d.Kind {
	case KindRTSP, KindHTTPMJPEG, KindHTTPSnapshot, KindFile:
	case "":
		return fmt.Errorf("stream %q: kind cannot be empty", d.ID)
	default:
		return fmt.Errorf("stream %q: unknown kind %q", d.ID, d.Kind)
	}
	switch d.Mode {
	case ModeMJPEG, ModeSnapshot:
	case "":
		return fmt.Errorf("stream %q: mode cannot be empty", d.ID)
	default:
		return fmt.Errorf("stream %q: unknown mode %q", d.ID, d.Mode)
	}
	if d.MaxFPS < 0 || d.MaxWidth < 0 {
		return fmt.Errorf("stream %q: caps must be non-negative", d.ID)
	}
	return nil
}

// sourceURL returns the URL with credentials embedded in the userinfo part
// where the protocol carries them that way.
func (d *StreamDef) sourceURL() string {
	if d.Username == "" {
		return d.URL
	}
	u, err := url.Parse(d.URL)
	if err != nil {
		return d.URL
	}
	if d.Password != "" {
		u.User = url.UserPassword(d.Username, d.Password)
	} else {
		u.User = url.User(d.Username)
	}
	return u.String()
}

// BuildEncoderArgs constructs the encoder argument list for a stream.
//
// The layout is load-bearing for the orphan reaper: the Glimpser tag
// (-metadata glimpser_capture=<uuid>) and the output-mode tokens
// ("-f mjpeg" and "pipe:1") must survive verbatim in the OS-reported
// command line.
//
// Shape:
//
//	-nostdin -hide_banner -loglevel error \
//	  -metadata glimpser_capture=<uuid> \
//	  [protocol options] -i <url> \
//	  [-vf fps/scale filters] \
//	  -f mjpeg -q:v 5 pipe:1
func BuildEncoderArgs(def StreamDef, tag string) []string {
	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "error",
		TagArg, TagPrefix + tag,
	}

	switch def.Kind {
	case KindRTSP:
		args = append(args, "-rtsp_transport", "tcp")
	case KindHTTPMJPEG:
		args = append(args, "-f", "mjpeg")
	case KindHTTPSnapshot:
		// Re-fetch the snapshot URL at the frame rate below.
		args = append(args, "-loop", "1", "-f", "image2")
	case KindFile:
		// Read the file at native speed so frame pacing is realistic.
		args = append(args, "-re")
	}

	args = append(args, "-i", def.sourceURL())

	var filters []string
	fps := def.MaxFPS
	if def.Mode == ModeSnapshot && (fps <= 0 || fps > 1) {
		fps = 1
	}
	if fps > 0 {
		filters = append(filters, fmt.Sprintf("fps=%d", fps))
	}
	if def.MaxWidth > 0 {
		// Downscale only, preserve aspect, keep even dimensions.
		filters = append(filters, fmt.Sprintf("scale='min(%d,iw)':-2", def.MaxWidth))
	}
	if len(filters) > 0 {
		args = append(args, "-vf", strings.Join(filters, ","))
	}

	args = append(args, "-f", "mjpeg", "-q:v", "5", "pipe:1")
	return args
}
