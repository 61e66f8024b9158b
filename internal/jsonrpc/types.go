// Package jsonrpc defines the line-delimited message envelope spoken between
// meetingd and its agent child processes: one JSON object per line, requests
// carrying a numeric id and responses echoing it back with either a result or
// an error payload.
package jsonrpc

import (
	"encoding/json"
	"fmt"
)

// Version is the value of the envelope's protocol field on every message.
const Version = "2.0"

// Well-known method names.
const (
	MethodInitialize  = "initialize"
	MethodInitialized = "notifications/initialized"
	MethodCallTool    = "tools/call"
)

// Request is an outgoing message. Notifications carry no id.
type Request struct {
	Protocol string `json:"protocol"`
	ID       *int64 `json:"id,omitempty"`
	Method   string `json:"method"`
	Params   any    `json:"params,omitempty"`
}

// CallParams is the params payload for a tools/call request. Arguments is
// always an object on the wire, never null.
type CallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// Response is an incoming message. A nil ID marks a notification rather than
// a reply to an outstanding request.
type Response struct {
	Protocol string          `json:"protocol"`
	ID       *int64          `json:"id"`
	Result   json.RawMessage `json:"result,omitempty"`
	Error    *Error          `json:"error,omitempty"`
}

// Error is the structured error payload a child may return in place of a
// result. It travels back to callers as a value, not a panic.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("agent error %d: %s", e.Code, e.Message)
}

// NewRequest builds a request envelope with the given id.
func NewRequest(id int64, method string, params any) *Request {
	return &Request{Protocol: Version, ID: &id, Method: method, Params: params}
}

// NewNotification builds an id-less envelope.
func NewNotification(method string, params any) *Request {
	return &Request{Protocol: Version, Method: method, Params: params}
}

// EncodeLine serializes a request to a single newline-terminated line. The
// returned slice is meant to be handed to one Write call so concurrent
// senders cannot interleave partial frames.
func (r *Request) EncodeLine() ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	return append(data, '\n'), nil
}

// NormalizeArguments coerces an arbitrary arguments value into the
// object-typed map the protocol requires. Nil and non-mapping values become
// an empty map rather than being forwarded as null.
func NormalizeArguments(args any) map[string]any {
	switch v := args.(type) {
	case nil:
		return map[string]any{}
	case map[string]any:
		if v == nil {
			return map[string]any{}
		}
		return v
	default:
		return map[string]any{}
	}
}
