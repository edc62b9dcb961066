// SPDX-License-Identifier: MIT

package capture

import (
	"bufio"
	"fmt"
	"io"
)

const (
	// maxFrameSize caps a single JPEG frame. A boundary scan that runs past
	// this without finding EOI indicates a corrupt stream.
	maxFrameSize = 8 << 20

	// frameReaderBuf is the stdout read buffer.
	frameReaderBuf = 256 * 1024

	// progressFlushBytes batches byte-count reporting so the scanner does
	// not touch shared counters per byte.
	progressFlushBytes = 32 * 1024
)

// scanFrames reads a concatenated MJPEG byte stream from r and emits each
// complete JPEG frame (delimited by the FF D8 start-of-image and FF D9
// end-of-image markers). progress is called with byte-count deltas as the
// stream advances. Returns nil on EOF, or the read error otherwise.
func scanFrames(r io.Reader, emit func([]byte), progress func(int64)) error {
	br := bufio.NewReaderSize(r, frameReaderBuf)

	var frame []byte
	inFrame := false
	var pending int64

	flush := func() {
		if pending > 0 {
			progress(pending)
			pending = 0
		}
	}
	defer flush()

	for {
		b, err := br.ReadByte()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		pending++
		if pending >= progressFlushBytes {
			flush()
		}

		if !inFrame {
			if b != 0xFF {
				continue
			}
			next, err := br.ReadByte()
			if err != nil {
				if err == io.EOF {
					return nil
				}
				return err
			}
			pending++
			if next == 0xD8 {
				frame = append(frame[:0], 0xFF, 0xD8)
				inFrame = true
			}
			continue
		}

		frame = append(frame, b)
		if len(frame) > maxFrameSize {
			return fmt.Errorf("frame exceeds %d bytes without end-of-image marker", maxFrameSize)
		}
		if len(frame) >= 4 && frame[len(frame)-2] == 0xFF && frame[len(frame)-1] == 0xD9 {
			out := make([]byte, len(frame))
			copy(out, frame)
			emit(out)
			flush()
			frame = frame[:0]
			inFrame = false
		}
	}
}
