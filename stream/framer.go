// Package stream implements the newline-delimited JSON transport carried over
// a pair of byte streams, normally the process's stdin and stdout.
package stream

import "bytes"

// DefaultMaxMessageSize is the ceiling on unterminated input held by a Framer.
const DefaultMaxMessageSize = 1_000_000

// Framer accumulates arbitrary chunks and splits them into newline-terminated
// lines. It is not safe for concurrent use; one transport owns one Framer.
type Framer struct {
	buf     []byte
	maxSize int

	// discarding is set after an overflow and cleared by the newline that
	// terminates the oversized message.
	discarding bool
}

// NewFramer returns a Framer that discards its buffer when the unterminated
// remainder grows beyond maxSize bytes. A non-positive maxSize selects
// DefaultMaxMessageSize.
func NewFramer(maxSize int) *Framer {
	if maxSize <= 0 {
		maxSize = DefaultMaxMessageSize
	}
	return &Framer{maxSize: maxSize}
}

// Feed appends chunk and returns every line completed by it, without the
// terminating newline (a trailing carriage return is also removed). The
// bytes after the last newline stay buffered. When that remainder exceeds
// the ceiling it is dropped and overflow is true; the rest of that message,
// up to and including its newline, is then dropped too. Overflow is reported
// once per oversized message.
//
// Returned lines do not alias the Framer's buffer.
func (f *Framer) Feed(chunk []byte) (lines [][]byte, overflow bool) {
	if f.discarding {
		i := bytes.IndexByte(chunk, '\n')
		if i < 0 {
			return nil, false
		}
		f.discarding = false
		chunk = chunk[i+1:]
	}

	f.buf = append(f.buf, chunk...)

	for {
		i := bytes.IndexByte(f.buf, '\n')
		if i < 0 {
			break
		}
		line := bytes.TrimSuffix(f.buf[:i], []byte{'\r'})
		lines = append(lines, bytes.Clone(line))
		f.buf = f.buf[i+1:]
	}

	if len(f.buf) > f.maxSize {
		f.buf = nil
		f.discarding = true
		return lines, true
	}

	// Compact so the backing array does not grow with total stream length.
	if len(f.buf) == 0 {
		f.buf = nil
	} else if cap(f.buf) > 2*f.maxSize {
		f.buf = bytes.Clone(f.buf)
	}
	return lines, false
}

// Buffered reports the number of unterminated bytes currently held.
func (f *Framer) Buffered() int {
	return len(f.buf)
}

// Discarding reports whether the Framer is skipping the tail of an
// oversized message.
func (f *Framer) Discarding() bool {
	return f.discarding
}

// Reset discards any buffered input and ends a discard episode.
func (f *Framer) Reset() {
	f.buf = nil
	f.discarding = false
}
