// Package streams implements the framing used on direct streams: each
// message is a length-delimited cramberry frame carrying one codec
// envelope.
package streams

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/blockberries/cramberry/pkg/cramberry"
)

// ErrWriterClosed is returned by Send after Close.
var ErrWriterClosed = errors.New("stream writer is closed")

// writeDeadliner is implemented by libp2p streams and net.Conn.
type writeDeadliner interface {
	SetWriteDeadline(time.Time) error
}

// Writer writes frames to an underlying stream. Sends are serialized.
type Writer struct {
	w      io.Writer
	writer *cramberry.StreamWriter
	mu     sync.Mutex
	closed bool
}

// NewWriter wraps w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w, writer: cramberry.NewStreamWriter(w)}
}

// Send writes data as one frame and flushes it. If ctx has a deadline and
// the underlying writer supports write deadlines, the deadline is applied
// to the write.
func (fw *Writer) Send(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	fw.mu.Lock()
	defer fw.mu.Unlock()

	if fw.closed {
		return ErrWriterClosed
	}
	// We may have waited for the lock.
	if err := ctx.Err(); err != nil {
		return err
	}

	if dl, ok := fw.w.(writeDeadliner); ok {
		if deadline, ok := ctx.Deadline(); ok {
			_ = dl.SetWriteDeadline(deadline)
			defer func() { _ = dl.SetWriteDeadline(time.Time{}) }()
		}
	}

	if err := fw.writer.WriteDelimited(&data); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	if err := fw.writer.Flush(); err != nil {
		return fmt.Errorf("flush frame: %w", err)
	}
	return nil
}

// Close marks the writer closed. It does not close the underlying stream.
func (fw *Writer) Close() {
	fw.mu.Lock()
	fw.closed = true
	fw.mu.Unlock()
}

// Reader reads frames from an underlying stream.
type Reader struct {
	it *cramberry.MessageIterator
}

// NewReader wraps r.
func NewReader(r io.Reader) *Reader {
	return &Reader{it: cramberry.NewMessageIterator(r)}
}

// Next returns the next frame, or io.EOF when the stream ends cleanly.
func (fr *Reader) Next() ([]byte, error) {
	var data []byte
	if fr.it.Next(&data) {
		return data, nil
	}
	if err := fr.it.Err(); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read frame: %w", err)
	}
	return nil, io.EOF
}

// ReadAll calls fn for every frame in r until EOF. It returns nil on a
// clean end of stream and the read error otherwise.
func ReadAll(r io.Reader, fn func([]byte)) error {
	fr := NewReader(r)
	for {
		data, err := fr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		fn(data)
	}
}

// WriteFrame writes a single frame to w.
func WriteFrame(ctx context.Context, w io.Writer, data []byte) error {
	return NewWriter(w).Send(ctx, data)
}
