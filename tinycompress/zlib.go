// Package tinycompress writes zlib streams without a compressor, for
// firmware that must publish a small blob (the bridge dictionary) in a
// format any zlib reader accepts.
package tinycompress

import (
	"errors"
	"hash/adler32"
	"io"
)

// maxStored is the payload limit of one stored DEFLATE block
const maxStored = 0xFFFF

var errClosed = errors.New("tinycompress: write after Close")

// Writer buffers everything written to it and emits a zlib stream of
// stored blocks on Close.
type Writer struct {
	output io.Writer
	buf    []byte
	closed bool
}

// NewWriter returns a Writer with size bytes preallocated. Firmware sizes
// it to the finished blob so Write never reallocates.
func NewWriter(w io.Writer, size int) *Writer {
	return &Writer{
		output: w,
		buf:    make([]byte, 0, size),
	}
}

// Write implements io.Writer
func (w *Writer) Write(p []byte) (int, error) {
	if w.closed {
		return 0, errClosed
	}
	w.buf = append(w.buf, p...)
	return len(p), nil
}

// Len returns the number of uncompressed bytes buffered
func (w *Writer) Len() int {
	return len(w.buf)
}

// Close writes the zlib header, the buffered data as stored blocks and the
// Adler-32 trailer. It does not close the underlying writer.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	// CMF 0x78 (deflate, 32K window), FLG 0x01 (no dict, check bits)
	if _, err := w.output.Write([]byte{0x78, 0x01}); err != nil {
		return err
	}

	data := w.buf
	for {
		n := len(data)
		final := byte(1)
		if n > maxStored {
			n = maxStored
			final = 0
		}
		header := []byte{final, byte(n), byte(n >> 8), byte(^n), byte(^n >> 8)}
		if _, err := w.output.Write(header); err != nil {
			return err
		}
		if _, err := w.output.Write(data[:n]); err != nil {
			return err
		}
		data = data[n:]
		if final == 1 {
			break
		}
	}

	sum := adler32.Checksum(w.buf)
	_, err := w.output.Write([]byte{byte(sum >> 24), byte(sum >> 16), byte(sum >> 8), byte(sum)})
	return err
}
