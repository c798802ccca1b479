package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/petal-labs/flowmcp/tool"
)

const (
	defaultChunkSize = 64 * 1024

	errMessageTooLarge   = "Message too large"
	errToolNameRequired  = "Tool name is required"
	errInvalidJSONPrefix = "Invalid JSON: "
)

// Config configures a Transport.
type Config struct {
	Invoker tool.Invoker
	Output  io.Writer

	// MaxMessageSize bounds unterminated input (default: DefaultMaxMessageSize).
	MaxMessageSize int

	// ChunkSize is the read buffer size (default: 64 KiB).
	ChunkSize int

	Logger *slog.Logger
}

// Transport reads `{tool, parameters}` lines from an input stream, dispatches
// each one concurrently and writes `{result}` or `{error}` lines to Output.
//
// Replies are written in completion order. A request may carry an optional
// "id" which is echoed on its reply so concurrent requests can be matched.
type Transport struct {
	invoker   tool.Invoker
	out       io.Writer
	maxSize   int
	chunkSize int
	logger    *slog.Logger

	writeMu  sync.Mutex
	inflight sync.WaitGroup
}

type requestEnvelope struct {
	ID         json.RawMessage `json:"id,omitempty"`
	Tool       string          `json:"tool"`
	Parameters json.RawMessage `json:"parameters,omitempty"`
}

type resultReply struct {
	ID     json.RawMessage `json:"id,omitempty"`
	Result any             `json:"result"`
}

type errorReply struct {
	ID    json.RawMessage `json:"id,omitempty"`
	Error string          `json:"error"`
}

// New creates a Transport.
func New(cfg Config) (*Transport, error) {
	if cfg.Invoker == nil {
		return nil, errors.New("stream: invoker is nil")
	}
	if cfg.Output == nil {
		return nil, errors.New("stream: output is nil")
	}
	maxSize := cfg.MaxMessageSize
	if maxSize <= 0 {
		maxSize = DefaultMaxMessageSize
	}
	chunkSize := cfg.ChunkSize
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{
		invoker:   cfg.Invoker,
		out:       cfg.Output,
		maxSize:   maxSize,
		chunkSize: chunkSize,
		logger:    logger,
	}, nil
}

// Serve consumes in until EOF or ctx cancellation. On EOF it waits for
// in-flight dispatches to write their replies and returns nil; bytes after
// the last newline are discarded as an incomplete message.
func (t *Transport) Serve(ctx context.Context, in io.Reader) error {
	chunks := make(chan []byte)
	readErr := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)

	go t.readLoop(in, chunks, readErr, done)

	framer := NewFramer(t.maxSize)
	for {
		select {
		case <-ctx.Done():
			t.inflight.Wait()
			return ctx.Err()

		case chunk := <-chunks:
			t.feed(ctx, framer, chunk)

		case err := <-readErr:
			t.inflight.Wait()
			if errors.Is(err, io.EOF) {
				if n := framer.Buffered(); n > 0 {
					t.logger.Debug("discarding unterminated input at EOF", "bytes", n)
				}
				return nil
			}
			return fmt.Errorf("stream: read input: %w", err)
		}
	}
}

func (t *Transport) readLoop(in io.Reader, chunks chan<- []byte, readErr chan<- error, done <-chan struct{}) {
	buf := make([]byte, t.chunkSize)
	for {
		n, err := in.Read(buf)
		if n > 0 {
			select {
			case chunks <- bytes.Clone(buf[:n]):
			case <-done:
				return
			}
		}
		if err != nil {
			readErr <- err
			return
		}
	}
}

func (t *Transport) feed(ctx context.Context, framer *Framer, chunk []byte) {
	lines, overflow := framer.Feed(chunk)
	for _, line := range lines {
		t.handleLine(ctx, line)
	}
	if overflow {
		t.logger.Warn("discarding oversized message", "limit", t.maxSize)
		t.writeReply(errorReply{Error: errMessageTooLarge})
	}
}

func (t *Transport) handleLine(ctx context.Context, line []byte) {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 {
		return
	}

	var msg requestEnvelope
	if err := json.Unmarshal(trimmed, &msg); err != nil {
		t.logger.Debug("rejecting malformed line", "error", err)
		t.writeReply(errorReply{Error: errInvalidJSONPrefix + err.Error()})
		return
	}
	if strings.TrimSpace(msg.Tool) == "" {
		t.writeReply(errorReply{ID: msg.ID, Error: errToolNameRequired})
		return
	}

	t.inflight.Add(1)
	go func() {
		defer t.inflight.Done()
		result := t.invoker.Invoke(ctx, tool.Request{Tool: msg.Tool, Params: msg.Parameters})
		if result.Err != nil {
			t.writeReply(errorReply{ID: msg.ID, Error: result.Err.Message})
			return
		}
		t.writeReply(resultReply{ID: msg.ID, Result: result.Value})
	}()
}

// writeReply encodes reply as one line and writes it with a single Write so
// concurrent replies never interleave.
func (t *Transport) writeReply(reply any) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(reply); err != nil {
		t.logger.Error("encoding reply", "error", err)
		buf.Reset()
		fallback := errorReply{Error: "failed to encode result: " + err.Error()}
		if r, ok := reply.(resultReply); ok {
			fallback.ID = r.ID
		}
		if err := enc.Encode(fallback); err != nil {
			return
		}
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if _, err := t.out.Write(buf.Bytes()); err != nil {
		t.logger.Error("writing reply", "error", err)
	}
}
