package streams

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type deadlineBuffer struct {
	bytes.Buffer
	deadlines []time.Time
}

func (d *deadlineBuffer) SetWriteDeadline(t time.Time) error {
	d.deadlines = append(d.deadlines, t)
	return nil
}

func TestFrames_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	ctx := context.Background()

	messages := []string{"hello", "world", ""}
	for _, m := range messages {
		require.NoError(t, w.Send(ctx, []byte(m)))
	}

	var got []string
	require.NoError(t, ReadAll(&buf, func(b []byte) { got = append(got, string(b)) }))
	assert.Equal(t, messages, got)
}

func TestReader_EOF(t *testing.T) {
	r := NewReader(bytes.NewReader(nil))
	_, err := r.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestWriteFrame(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(context.Background(), &buf, []byte("one")))

	data, err := NewReader(&buf).Next()
	require.NoError(t, err)
	assert.Equal(t, "one", string(data))
}

func TestWriter_CanceledContext(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, w.Send(ctx, []byte("x")), context.Canceled)
	assert.Zero(t, buf.Len())
}

func TestWriter_Closed(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	w.Close()
	assert.ErrorIs(t, w.Send(context.Background(), []byte("x")), ErrWriterClosed)
}

func TestWriter_AppliesDeadline(t *testing.T) {
	buf := &deadlineBuffer{}
	w := NewWriter(buf)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	require.NoError(t, w.Send(ctx, []byte("x")))
	require.Len(t, buf.deadlines, 2)
	assert.False(t, buf.deadlines[0].IsZero())
	assert.True(t, buf.deadlines[1].IsZero())
}

func TestWriter_ConcurrentSendsOverPipe(t *testing.T) {
	pr, pw := io.Pipe()
	w := NewWriter(pw)

	const n = 20
	got := make(chan string, n)
	readDone := make(chan error, 1)
	go func() {
		readDone <- ReadAll(pr, func(b []byte) { got <- string(b) })
	}()

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, w.Send(context.Background(), []byte(fmt.Sprintf("msg-%d", i))))
		}(i)
	}
	wg.Wait()
	pw.Close()

	require.NoError(t, <-readDone)
	close(got)
	seen := make(map[string]bool)
	for m := range got {
		seen[m] = true
	}
	assert.Len(t, seen, n)
}
