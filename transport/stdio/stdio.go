// Package stdio provides a Transport implementation over newline-delimited
// JSON on a reader/writer pair, typically standard input and output.
package stdio

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/localrivet/calcmcp/logx"
	"github.com/localrivet/calcmcp/types"
)

// Transport reads messages from a reader and writes messages to a writer,
// one JSON object per line.
type Transport struct {
	reader *bufio.Reader
	writer io.Writer
	logger types.Logger

	writeMu sync.Mutex
	closeMu sync.Mutex
	closed  bool
}

// New creates a Transport over os.Stdin and os.Stdout.
func New(logger types.Logger) *Transport {
	return NewWithReadWriter(os.Stdin, os.Stdout, logger)
}

// NewWithReadWriter creates a Transport over the provided reader and writer.
func NewWithReadWriter(reader io.Reader, writer io.Writer, logger types.Logger) *Transport {
	if logger == nil {
		logger = logx.NewDefault()
	}
	return &Transport{
		reader: bufio.NewReader(reader),
		writer: writer,
		logger: logger,
	}
}

// Send writes one message followed by a newline.
func (t *Transport) Send(data []byte) error {
	t.closeMu.Lock()
	if t.closed {
		t.closeMu.Unlock()
		return fmt.Errorf("transport is closed")
	}
	t.closeMu.Unlock()

	if len(bytes.TrimSpace(data)) == 0 {
		return fmt.Errorf("cannot send empty message")
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	data = bytes.TrimRight(data, "\n")
	data = append(data, '\n')
	if _, err := t.writer.Write(data); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if f, ok := t.writer.(*os.File); ok && f == os.Stdout {
		_ = f.Sync()
	}
	return nil
}

// Receive blocks until the next newline-delimited message arrives.
func (t *Transport) Receive() ([]byte, error) {
	return t.ReceiveWithContext(context.Background())
}

// ReceiveWithContext reads the next message, honoring context cancellation.
// The blocking read runs in a goroutine; on cancellation the transport is
// closed to unblock it.
func (t *Transport) ReceiveWithContext(ctx context.Context) ([]byte, error) {
	t.closeMu.Lock()
	if t.closed {
		t.closeMu.Unlock()
		return nil, fmt.Errorf("transport is closed")
	}
	t.closeMu.Unlock()

	type result struct {
		data []byte
		err  error
	}
	resultCh := make(chan result, 1)

	go func() {
		line, err := t.reader.ReadBytes('\n')
		if err != nil {
			if err == io.EOF && len(bytes.TrimSpace(line)) > 0 {
				resultCh <- result{data: line}
				return
			}
			resultCh <- result{err: err}
			return
		}
		resultCh <- result{data: line}
	}()

	select {
	case <-ctx.Done():
		_ = t.Close()
		return nil, ctx.Err()
	case res := <-resultCh:
		if res.err != nil {
			return nil, res.err
		}
		return bytes.TrimSpace(res.data), nil
	}
}

// Close marks the transport closed and closes the underlying streams when
// they support it.
func (t *Transport) Close() error {
	t.closeMu.Lock()
	defer t.closeMu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true

	var firstErr error
	if closer, ok := t.writer.(io.Closer); ok {
		if f, isFile := t.writer.(*os.File); !isFile || (f != os.Stdout && f != os.Stderr) {
			if err := closer.Close(); err != nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

var _ types.Transport = (*Transport)(nil)
