// SPDX-License-Identifier: MIT

package capture

import (
	"bytes"
	"testing"
)

func jpegFrame(payload []byte) []byte {
	frame := []byte{0xFF, 0xD8}
	frame = append(frame, payload...)
	frame = append(frame, 0xFF, 0xD9)
	return frame
}

func TestScanFramesEmitsCompleteFrames(t *testing.T) {
	var stream []byte
	want := [][]byte{
		jpegFrame([]byte{0x01, 0x02}),
		jpegFrame([]byte{0x03}),
		jpegFrame(nil),
	}
	for _, f := range want {
		stream = append(stream, f...)
	}

	var got [][]byte
	var total int64
	err := scanFrames(bytes.NewReader(stream), func(f []byte) {
		got = append(got, f)
	}, func(n int64) { total += n })
	if err != nil {
		t.Fatalf("scanFrames returned error: %v", err)
	}

	if len(got) != len(want) {
		t.Fatalf("got %d frames, want %d", len(got), len(want))
	}
	for i := range want {
		if !bytes.Equal(got[i], want[i]) {
			t.Errorf("frame %d = %x, want %x", i, got[i], want[i])
		}
	}
	if total != int64(len(stream)) {
		t.Errorf("byte count = %d, want %d", total, len(stream))
	}
}

func TestScanFramesSkipsGarbageBetweenFrames(t *testing.T) {
	stream := []byte{0x00, 0x11, 0x22}
	stream = append(stream, jpegFrame([]byte{0xAA})...)
	stream = append(stream, 0xFF, 0x00, 0x33) // FF not followed by D8
	stream = append(stream, jpegFrame([]byte{0xBB})...)

	var got [][]byte
	err := scanFrames(bytes.NewReader(stream), func(f []byte) {
		got = append(got, f)
	}, func(int64) {})
	if err != nil {
		t.Fatalf("scanFrames returned error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d frames, want 2", len(got))
	}
}

func TestScanFramesIgnoresTrailingPartialFrame(t *testing.T) {
	stream := jpegFrame([]byte{0x01})
	stream = append(stream, 0xFF, 0xD8, 0x05, 0x06) // truncated frame

	count := 0
	err := scanFrames(bytes.NewReader(stream), func([]byte) { count++ }, func(int64) {})
	if err != nil {
		t.Fatalf("scanFrames returned error: %v", err)
	}
	if count != 1 {
		t.Errorf("got %d frames, want 1", count)
	}
}

func TestScanFramesRejectsOversizedFrame(t *testing.T) {
	// Start-of-image followed by more than maxFrameSize bytes without EOI.
	stream := append([]byte{0xFF, 0xD8}, bytes.Repeat([]byte{0x00}, maxFrameSize+4)...)

	err := scanFrames(bytes.NewReader(stream), func([]byte) {
		t.Fatal("no frame should be emitted")
	}, func(int64) {})
	if err == nil {
		t.Fatal("expected an error for an unterminated oversized frame")
	}
}

func TestScanFramesFrameDataMayContainFFD8(t *testing.T) {
	// An embedded FF D8 inside a frame must not restart the frame.
	payload := []byte{0xFF, 0xD8, 0x01}
	stream := jpegFrame(payload)

	var got [][]byte
	if err := scanFrames(bytes.NewReader(stream), func(f []byte) {
		got = append(got, f)
	}, func(int64) {}); err != nil {
		t.Fatalf("scanFrames returned error: %v", err)
	}
	if len(got) != 1 || !bytes.Equal(got[0], stream) {
		t.Fatalf("got %x, want %x", got, stream)
	}
}
