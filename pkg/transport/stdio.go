package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"

	mcperrors "github.com/XiaoConstantine/mcp-apps-go/pkg/errors"
	"github.com/XiaoConstantine/mcp-apps-go/pkg/logging"
	"github.com/XiaoConstantine/mcp-apps-go/pkg/protocol"
)

// maxLineSize bounds one newline-delimited message.
const maxLineSize = 16 << 20

// StdioTransport implements Transport using newline-delimited JSON over a
// reader and writer, the framing MCP servers use on stdio.
type StdioTransport struct {
	reader  io.Reader
	writer  *bufio.Writer
	closers []io.Closer
	logger  logging.Logger
	mutex   sync.Mutex

	in        *inbox
	startOnce sync.Once
	closeOnce sync.Once
}

// NewStdioTransport creates a new Transport that uses standard I/O.
func NewStdioTransport(reader io.Reader, writer io.Writer, logger logging.Logger) *StdioTransport {
	if logger == nil {
		logger = logging.NewNoopLogger()
	}
	return &StdioTransport{
		reader: reader,
		writer: bufio.NewWriter(writer),
		logger: logger,
		in:     newInbox(),
	}
}

// OnClose registers resources released by Close, in order.
func (t *StdioTransport) OnClose(c io.Closer) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.closers = append(t.closers, c)
}

// Start launches the read loop once.
func (t *StdioTransport) Start(ctx context.Context) error {
	if !t.in.accepting() {
		return mcperrors.ErrTransportClosed
	}
	t.startOnce.Do(func() { go t.readLoop() })
	return nil
}

func (t *StdioTransport) readLoop() {
	scanner := bufio.NewScanner(t.reader)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var msg protocol.Message
		if err := json.Unmarshal(line, &msg); err != nil {
			t.logger.Warn("Dropping undecodable line", "error", err)
			continue
		}
		if !t.in.push(&msg) {
			return
		}
	}
	err := scanner.Err()
	if err == nil {
		err = io.EOF
	}
	t.in.finish(&mcperrors.TransportError{Op: "read", Err: err})
}

// Send implements Transport.Send for StdioTransport.
func (t *StdioTransport) Send(ctx context.Context, msg *protocol.Message) error {
	if !t.in.accepting() {
		return mcperrors.ErrTransportClosed
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	t.mutex.Lock()
	defer t.mutex.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := t.writer.Write(data); err != nil {
		return &mcperrors.TransportError{Op: "write", Err: err}
	}
	if err := t.writer.WriteByte('\n'); err != nil {
		return &mcperrors.TransportError{Op: "write", Err: err}
	}
	if err := t.writer.Flush(); err != nil {
		return &mcperrors.TransportError{Op: "flush", Err: err}
	}
	return nil
}

// Incoming implements Transport.
func (t *StdioTransport) Incoming() <-chan *protocol.Message { return t.in.out }

// Err implements Transport.
func (t *StdioTransport) Err() error { return t.in.error() }

// Close implements Transport. The read loop exits once the reader is closed
// by one of the registered closers or reaches EOF.
func (t *StdioTransport) Close() error {
	var errs []error
	t.closeOnce.Do(func() {
		t.in.abort()
		t.mutex.Lock()
		closers := t.closers
		t.mutex.Unlock()
		for _, c := range closers {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}

// processCloser stops a child process and reaps it.
type processCloser struct {
	cmd *exec.Cmd
}

func (p processCloser) Close() error {
	if p.cmd.Process == nil {
		return nil
	}
	_ = p.cmd.Process.Kill()
	err := p.cmd.Wait()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

// NewCommandTransport starts cmd and speaks newline-delimited JSON over its
// stdin and stdout. Close kills the process.
func NewCommandTransport(cmd *exec.Cmd, logger logging.Logger) (*StdioTransport, error) {
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", cmd.Path, err)
	}
	t := NewStdioTransport(stdout, stdin, logger)
	t.OnClose(stdin)
	t.OnClose(processCloser{cmd: cmd})
	return t, nil
}
