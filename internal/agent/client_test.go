package agent

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"meetingd/internal/jsonrpc"
)

// startClient wires a Client onto in-memory pipes. handle is invoked with
// every raw request line the client writes; replies go to out.
func startClient(t *testing.T, handle func(raw []byte, out io.Writer)) (*Client, *io.PipeWriter) {
	t.Helper()

	reqR, reqW := io.Pipe()
	respR, respW := io.Pipe()

	c := NewClient("test", reqW, respR, zap.NewNop())

	go func() {
		scanner := bufio.NewScanner(reqR)
		scanner.Buffer(make([]byte, 0, 64*1024), 16<<20)
		for scanner.Scan() {
			if handle != nil {
				line := make([]byte, len(scanner.Bytes()))
				copy(line, scanner.Bytes())
				handle(line, respW)
			}
		}
	}()

	t.Cleanup(func() {
		c.Close()
		respW.Close()
		reqW.Close()
	})

	return c, respW
}

func reply(out io.Writer, id int64, result any) {
	data, _ := json.Marshal(map[string]any{"protocol": "2.0", "id": id, "result": result})
	fmt.Fprintf(out, "%s\n", data)
}

func replyError(out io.Writer, id int64, code int, message string) {
	data, _ := json.Marshal(map[string]any{
		"protocol": "2.0", "id": id,
		"error": map[string]any{"code": code, "message": message},
	})
	fmt.Fprintf(out, "%s\n", data)
}

func parseRequest(t *testing.T, raw []byte) (id int64, tool string) {
	t.Helper()
	var req struct {
		ID     *int64 `json:"id"`
		Method string `json:"method"`
		Params struct {
			Name string `json:"name"`
		} `json:"params"`
	}
	require.NoError(t, json.Unmarshal(raw, &req))
	if req.ID != nil {
		id = *req.ID
	}
	return id, req.Params.Name
}

func TestCallToolMatchesResponse(t *testing.T) {
	c, _ := startClient(t, func(raw []byte, out io.Writer) {
		var req struct {
			ID *int64 `json:"id"`
		}
		require.NoError(t, json.Unmarshal(raw, &req))
		reply(out, *req.ID, "ok")
	})

	result, err := c.CallTool("ping", nil, time.Second)
	require.NoError(t, err)

	var s string
	require.NoError(t, json.Unmarshal(result, &s))
	assert.Equal(t, "ok", s)
}

func TestOutOfOrderResponsesMatchedByID(t *testing.T) {
	var mu sync.Mutex
	type pending struct {
		id   int64
		tool string
	}
	var buffered []pending

	// Hold both requests, then answer them in reverse order with a result
	// naming the tool each response belongs to.
	c, _ := startClient(t, func(raw []byte, out io.Writer) {
		id, tool := parseRequest(t, raw)
		mu.Lock()
		buffered = append(buffered, pending{id, tool})
		if len(buffered) == 2 {
			for i := len(buffered) - 1; i >= 0; i-- {
				reply(out, buffered[i].id, buffered[i].tool)
			}
		}
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for _, tool := range []string{"a", "b"} {
		wg.Add(1)
		go func(tool string) {
			defer wg.Done()
			result, err := c.CallTool(tool, map[string]any{}, 2*time.Second)
			require.NoError(t, err)
			var got string
			require.NoError(t, json.Unmarshal(result, &got))
			assert.Equal(t, tool, got, "caller must receive its own response")
		}(tool)
	}
	wg.Wait()
}

func TestConcurrentCallsEachGetOwnResponse(t *testing.T) {
	c, _ := startClient(t, func(raw []byte, out io.Writer) {
		id, tool := parseRequest(t, raw)
		reply(out, id, tool)
	})

	const n = 8
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tool := fmt.Sprintf("tool-%d", i)
			result, err := c.CallTool(tool, nil, 2*time.Second)
			require.NoError(t, err)
			var got string
			require.NoError(t, json.Unmarshal(result, &got))
			assert.Equal(t, tool, got)
		}(i)
	}
	wg.Wait()
}

func TestIdentifiersStrictlyIncreasing(t *testing.T) {
	var mu sync.Mutex
	var ids []int64

	c, _ := startClient(t, func(raw []byte, out io.Writer) {
		id, _ := parseRequest(t, raw)
		mu.Lock()
		ids = append(ids, id)
		mu.Unlock()
		reply(out, id, "ok")
	})

	for i := 0; i < 5; i++ {
		_, err := c.CallTool("ping", nil, time.Second)
		require.NoError(t, err)
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, ids, 5)
	assert.Greater(t, ids[0], handshakeID, "tool call ids start above the handshake id")
	for i := 1; i < len(ids); i++ {
		assert.Greater(t, ids[i], ids[i-1])
	}
}

func TestTimeoutBounds(t *testing.T) {
	// Swallow every request, never answer.
	c, _ := startClient(t, nil)

	timeout := 200 * time.Millisecond
	start := time.Now()
	_, err := c.CallTool("never", nil, timeout)
	elapsed := time.Since(start)

	require.ErrorIs(t, err, ErrTimeout)
	assert.GreaterOrEqual(t, elapsed, timeout)
	assert.Less(t, elapsed, time.Second)
}

func TestLateResponseAfterTimeoutIsDiscarded(t *testing.T) {
	c, _ := startClient(t, func(raw []byte, out io.Writer) {
		id, tool := parseRequest(t, raw)
		if tool == "slow" {
			go func() {
				time.Sleep(300 * time.Millisecond)
				reply(out, id, "late")
			}()
			return
		}
		reply(out, id, tool)
	})

	_, err := c.CallTool("slow", nil, 100*time.Millisecond)
	require.ErrorIs(t, err, ErrTimeout)

	// Let the abandoned response arrive and be dropped, then verify the
	// next call is unaffected.
	time.Sleep(400 * time.Millisecond)

	result, err := c.CallTool("fast", nil, time.Second)
	require.NoError(t, err)
	var got string
	require.NoError(t, json.Unmarshal(result, &got))
	assert.Equal(t, "fast", got)
}

func TestRemoteErrorSurfacedAsValue(t *testing.T) {
	c, _ := startClient(t, func(raw []byte, out io.Writer) {
		id, _ := parseRequest(t, raw)
		replyError(out, id, -32602, "unknown tool")
	})

	_, err := c.CallTool("nope", nil, time.Second)
	require.Error(t, err)

	var rpcErr *jsonrpc.Error
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, -32602, rpcErr.Code)
	assert.Equal(t, "unknown tool", rpcErr.Message)
}

func TestMalformedAndUnrelatedLinesIgnored(t *testing.T) {
	c, _ := startClient(t, func(raw []byte, out io.Writer) {
		id, _ := parseRequest(t, raw)
		fmt.Fprintf(out, "this is not json\n")
		fmt.Fprintf(out, "{\"broken\": \n")
		fmt.Fprintf(out, "{\"protocol\":\"2.0\",\"method\":\"notify\"}\n")
		reply(out, id, "survived")
	})

	result, err := c.CallTool("ping", nil, time.Second)
	require.NoError(t, err)
	var got string
	require.NoError(t, json.Unmarshal(result, &got))
	assert.Equal(t, "survived", got)
}

func TestNilArgumentsSentAsEmptyObject(t *testing.T) {
	lines := make(chan []byte, 1)
	c, _ := startClient(t, func(raw []byte, out io.Writer) {
		select {
		case lines <- raw:
		default:
		}
		id, _ := parseRequest(t, raw)
		reply(out, id, "ok")
	})

	_, err := c.CallTool("ping", nil, time.Second)
	require.NoError(t, err)

	raw := <-lines
	assert.Contains(t, string(raw), `"arguments":{}`,
		"omitted arguments must still be an object on the wire")
}

func TestCallAfterCloseFails(t *testing.T) {
	c, _ := startClient(t, nil)

	c.Close()
	c.Close() // idempotent

	_, err := c.CallTool("ping", nil, time.Second)
	require.ErrorIs(t, err, ErrClientClosed)
}

func TestAgentStoppedWhileWaiting(t *testing.T) {
	c, respW := startClient(t, nil)

	go func() {
		time.Sleep(100 * time.Millisecond)
		respW.Close() // child stdout closes: process died
	}()

	start := time.Now()
	_, err := c.CallTool("ping", nil, 5*time.Second)
	require.ErrorIs(t, err, ErrAgentStopped)
	assert.Less(t, time.Since(start), time.Second)
}

func TestHandshakeThenCalls(t *testing.T) {
	var mu sync.Mutex
	var methods []string

	c, _ := startClient(t, func(raw []byte, out io.Writer) {
		var req struct {
			ID     *int64 `json:"id"`
			Method string `json:"method"`
		}
		require.NoError(t, json.Unmarshal(raw, &req))
		mu.Lock()
		methods = append(methods, req.Method)
		mu.Unlock()
		if req.ID != nil {
			reply(out, *req.ID, "ok")
		}
	})

	c.Handshake(time.Second)

	_, err := c.CallTool("ping", nil, time.Second)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, len(methods), 3)
	assert.Equal(t, jsonrpc.MethodInitialize, methods[0])
	assert.Equal(t, jsonrpc.MethodInitialized, methods[1])
	assert.Equal(t, jsonrpc.MethodCallTool, methods[2])
}

func TestHandshakeTimeoutIsNotFatal(t *testing.T) {
	// Never answer the initialize request.
	c, _ := startClient(t, func(raw []byte, out io.Writer) {
		var req struct {
			Method string `json:"method"`
		}
		_ = json.Unmarshal(raw, &req)
		if req.Method == jsonrpc.MethodCallTool {
			id, _ := parseRequest(t, raw)
			reply(out, id, "ok")
		}
	})

	start := time.Now()
	c.Handshake(150 * time.Millisecond)
	assert.Less(t, time.Since(start), time.Second)

	// Client still usable afterwards.
	_, err := c.CallTool("ping", nil, time.Second)
	require.NoError(t, err)
}
