package kfmt

import "io"

// ringBufferSize defines the capacity of the buffer that keeps early Printf
// output. Once full, the oldest bytes are overwritten.
const ringBufferSize = 4096

// ringBuffer keeps the last ringBufferSize bytes written to it.
type ringBuffer struct {
	buffer      [ringBufferSize]byte
	start, size int
}

// Write writes len(p) bytes from p to the ringBuffer.
func (rb *ringBuffer) Write(p []byte) (int, error) {
	for _, b := range p {
		rb.buffer[(rb.start+rb.size)%ringBufferSize] = b
		if rb.size == ringBufferSize {
			rb.start = (rb.start + 1) % ringBufferSize
			continue
		}
		rb.size++
	}

	return len(p), nil
}

// Read reads up to len(p) bytes into p. It returns io.EOF once the buffer is
// drained.
func (rb *ringBuffer) Read(p []byte) (int, error) {
	if rb.size == 0 {
		return 0, io.EOF
	}

	n := rb.size
	if tail := ringBufferSize - rb.start; tail < n {
		n = tail
	}
	if len(p) < n {
		n = len(p)
	}

	copy(p, rb.buffer[rb.start:rb.start+n])
	rb.start = (rb.start + n) % ringBufferSize
	rb.size -= n

	return n, nil
}

// Len returns the number of unread bytes.
func (rb *ringBuffer) Len() int {
	return rb.size
}
