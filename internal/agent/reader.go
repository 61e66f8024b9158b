package agent

import (
	"bufio"
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	"meetingd/internal/jsonrpc"
)

const readBufferSize = 64 * 1024

// readLoop drains the child's stdout for the lifetime of the client,
// reassembling newline-delimited frames and routing well-formed responses to
// their waiting callers. Malformed lines are logged and dropped; the loop
// never terminates on bad input, only when the stream ends.
func (c *Client) readLoop() {
	defer close(c.done)

	reader := bufio.NewReaderSize(c.stdout, readBufferSize)
	for {
		// ReadString accumulates across arbitrarily chunked pipe reads and
		// has no upper line length, which matters for bulk results.
		line, err := reader.ReadString('\n')
		if trimmed := strings.TrimSpace(line); trimmed != "" && !c.closed.Load() {
			c.handleLine(trimmed)
		}
		if err != nil {
			break
		}
	}

	c.logger.Info("Agent read loop stopped", zap.String("agent", c.name))
}

func (c *Client) handleLine(line string) {
	var resp jsonrpc.Response
	if err := json.Unmarshal([]byte(line), &resp); err != nil {
		c.logger.Warn("Discarding unparseable line from agent",
			zap.String("agent", c.name),
			zap.String("line", truncateLine(line, 200)),
			zap.Error(err))
		return
	}

	if resp.ID == nil {
		// No id means notification, not a response to anything pending.
		c.logger.Debug("Agent notification", zap.String("agent", c.name))
		return
	}

	c.deliver(&resp)
}

func truncateLine(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
