package transport

import (
	"bytes"
	"fmt"

	"github.com/c360/controlbus/errors"
)

// Delimiter brackets every JSON payload on a stream transport.
const Delimiter = "__tcp_json_delimiter__"

// DefaultMaxFrameSize bounds the unconsumed tail a Framer keeps.
const DefaultMaxFrameSize = 1 << 20

var delimiter = []byte(Delimiter)

// Framer splits a byte stream on Delimiter. Every non-empty segment between
// two delimiters is a payload, so Delimiter + payload + Delimiter frames and
// back-to-back frames both yield their payloads, and framing never depends on
// which delimiter opened a frame. Reads may split a frame anywhere; the
// unconsumed tail is kept between calls to Feed.
//
// A Framer is used by one reader goroutine and is not safe for concurrent use.
type Framer struct {
	buf     []byte
	maxSize int
}

// NewFramer creates a framer whose pending tail may not exceed maxSize bytes.
// Zero selects DefaultMaxFrameSize.
func NewFramer(maxSize int) *Framer {
	if maxSize <= 0 {
		maxSize = DefaultMaxFrameSize
	}
	return &Framer{maxSize: maxSize}
}

// Feed appends data to the pending tail and calls emit with every complete
// segment, in order. The payload slice is a copy owned by emit.
//
// Stray bytes between frames come out as segments of their own and are left
// to the decoder to reject. If the tail grows beyond the maximum frame size
// it is dropped and ErrFrameTooLarge returned; the rest of that frame then
// arrives as one more stray segment and later frames are unaffected.
func (f *Framer) Feed(data []byte, emit func(payload []byte)) error {
	f.buf = append(f.buf, data...)

	off := 0
	for {
		i := bytes.Index(f.buf[off:], delimiter)
		if i < 0 {
			break
		}
		if i > 0 {
			payload := make([]byte, i)
			copy(payload, f.buf[off:off+i])
			emit(payload)
		}
		off += i + len(delimiter)
	}

	n := copy(f.buf, f.buf[off:])
	f.buf = f.buf[:n]

	if len(f.buf) > f.maxSize {
		size := len(f.buf)
		f.Reset()
		return errors.WrapInvalid(fmt.Errorf("%w: %d bytes pending", errors.ErrFrameTooLarge, size),
			"Framer", "Feed", "bound pending frame")
	}
	return nil
}

// Pending returns the number of buffered bytes not yet emitted.
func (f *Framer) Pending() int {
	return len(f.buf)
}

// Reset discards the pending tail. Call it when a connection is replaced.
func (f *Framer) Reset() {
	f.buf = f.buf[:0]
}

// AppendFrame appends payload wrapped in delimiters to dst.
func AppendFrame(dst, payload []byte) []byte {
	dst = append(dst, delimiter...)
	dst = append(dst, payload...)
	return append(dst, delimiter...)
}
