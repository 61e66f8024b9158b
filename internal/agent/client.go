// Package agent implements the parent side of the meetingd agent protocol:
// a request correlator and framed message reader speaking line-delimited JSON
// over a child process's stdio, the supervisor owning that process, and the
// registry multiplexing named agents behind one call surface.
package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"meetingd/internal/jsonrpc"
)

// handshakeID is reserved for the initialize request; tool call ids start
// above it and increase strictly for the lifetime of the client.
const handshakeID int64 = 0

var (
	// ErrTimeout is returned when no matching response arrives within the
	// call's timeout. The child is left running; it may still be mid-work.
	ErrTimeout = errors.New("timeout waiting for agent response")

	// ErrClientClosed is returned for calls issued after Close.
	ErrClientClosed = errors.New("agent client is closed")

	// ErrAgentStopped is returned when the child's output stream ends while
	// a call is still waiting.
	ErrAgentStopped = errors.New("agent stopped before responding")
)

// Client correlates concurrent tool calls with responses read from a child's
// stdout. Requests are serialized onto stdin one full line at a time; waits
// happen off the write lock so multiple calls can be outstanding at once.
type Client struct {
	name   string
	logger *zap.Logger

	stdin  io.Writer
	stdout io.Reader

	// writeMu guards id allocation and the stdin write so two calls can
	// never interleave partial frames.
	writeMu sync.Mutex
	seq     int64

	pendingMu sync.Mutex
	pending   map[int64]chan *jsonrpc.Response

	closed atomic.Bool
	done   chan struct{} // closed when the read loop exits
}

// NewClient wires a correlator onto a child's stdio streams and starts the
// background read loop. Call Handshake before issuing tool calls against a
// real agent.
func NewClient(name string, stdin io.Writer, stdout io.Reader, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		name:    name,
		logger:  logger,
		stdin:   stdin,
		stdout:  stdout,
		seq:     handshakeID,
		pending: make(map[int64]chan *jsonrpc.Response),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// Handshake performs the fixed session bring-up: an initialize request
// followed by an initialized notification. Failures are logged, not
// returned; the original protocol treats a missed handshake as survivable.
func (c *Client) Handshake(timeout time.Duration) {
	ch := c.register(handshakeID)

	req := jsonrpc.NewRequest(handshakeID, jsonrpc.MethodInitialize, map[string]any{
		"protocolVersion": "2024-11-05",
		"capabilities": map[string]any{
			"roots":    map[string]any{"listChanged": true},
			"sampling": map[string]any{},
		},
		"clientInfo": map[string]any{
			"name":    "meetingd",
			"version": "1.0.0",
		},
	})
	if err := c.send(req); err != nil {
		c.unregister(handshakeID)
		c.logger.Error("Failed to send initialize request", zap.Error(err))
		return
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case resp := <-ch:
		if resp.Error != nil {
			c.logger.Warn("Agent rejected initialize", zap.Error(resp.Error))
		} else {
			c.logger.Debug("Agent initialize completed")
		}
	case <-timer.C:
		c.unregister(handshakeID)
		c.logger.Warn("Timed out waiting for initialize response", zap.Duration("timeout", timeout))
	case <-c.done:
		c.unregister(handshakeID)
		c.logger.Warn("Agent output closed during handshake")
		return
	}

	if err := c.send(jsonrpc.NewNotification(jsonrpc.MethodInitialized, nil)); err != nil {
		c.logger.Error("Failed to send initialized notification", zap.Error(err))
	}
}

// CallTool sends one tools/call request and blocks until the response with
// the matching id arrives or the timeout elapses. Remote failures come back
// as a *jsonrpc.Error value; only transport-level problems produce other
// error kinds.
func (c *Client) CallTool(toolName string, arguments map[string]any, timeout time.Duration) (json.RawMessage, error) {
	if c.closed.Load() {
		return nil, ErrClientClosed
	}
	if arguments == nil {
		arguments = map[string]any{}
	}

	c.writeMu.Lock()
	c.seq++
	id := c.seq
	ch := c.register(id)
	line, err := jsonrpc.NewRequest(id, jsonrpc.MethodCallTool, jsonrpc.CallParams{
		Name:      toolName,
		Arguments: arguments,
	}).EncodeLine()
	if err == nil {
		// Single write call: the frame hits the pipe whole or not at all.
		_, err = c.stdin.Write(line)
	}
	c.writeMu.Unlock()

	if err != nil {
		c.unregister(id)
		return nil, fmt.Errorf("send request for %s: %w", toolName, err)
	}

	c.logger.Debug("Sent tool call",
		zap.String("tool", toolName),
		zap.Int64("id", id),
		zap.Duration("timeout", timeout))

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case resp := <-ch:
		if resp.Error != nil {
			c.logger.Warn("Agent returned error",
				zap.String("tool", toolName),
				zap.Int64("id", id),
				zap.Int("code", resp.Error.Code),
				zap.String("message", resp.Error.Message))
			return nil, resp.Error
		}
		return resp.Result, nil
	case <-timer.C:
		// Discard the pending slot; a late response for this id is dropped
		// by the read loop instead of accumulating.
		c.unregister(id)
		c.logger.Warn("Tool call timed out",
			zap.String("tool", toolName),
			zap.Int64("id", id),
			zap.Duration("timeout", timeout))
		return nil, fmt.Errorf("%w: %s after %s", ErrTimeout, toolName, timeout)
	case <-c.done:
		c.unregister(id)
		return nil, fmt.Errorf("%w: %s", ErrAgentStopped, toolName)
	}
}

// Close marks the client inactive. Idempotent. The read loop ends once the
// supervisor terminates the child and its stdout closes.
func (c *Client) Close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	c.logger.Debug("Agent client closed")
}

// Done is closed when the read loop has exited, either because the child's
// stdout closed or the stream errored.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) send(req *jsonrpc.Request) error {
	line, err := req.EncodeLine()
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	_, err = c.stdin.Write(line)
	c.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("write to agent stdin: %w", err)
	}
	return nil
}

func (c *Client) register(id int64) chan *jsonrpc.Response {
	ch := make(chan *jsonrpc.Response, 1)
	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()
	return ch
}

func (c *Client) unregister(id int64) {
	c.pendingMu.Lock()
	delete(c.pending, id)
	c.pendingMu.Unlock()
}

// deliver hands a parsed response to whichever caller registered its id.
// Responses with no waiter (abandoned after timeout, or never requested)
// are dropped.
func (c *Client) deliver(resp *jsonrpc.Response) {
	c.pendingMu.Lock()
	ch, ok := c.pending[*resp.ID]
	if ok {
		delete(c.pending, *resp.ID)
	}
	c.pendingMu.Unlock()

	if !ok {
		c.logger.Debug("Dropping response with no pending request", zap.Int64("id", *resp.ID))
		return
	}
	ch <- resp
}
