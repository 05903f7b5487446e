package bridge

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Frame types and statuses sent to the peer.
const (
	TypeResponse = "RESPONSE"
	TypeError    = "ERROR"
	StatusOK     = "OK"
	StatusError  = "ERROR"
)

// Request is an inbound frame. RequestID is echoed verbatim, whatever its
// JSON type.
type Request struct {
	Action    string          `json:"action"`
	Args      json.RawMessage `json:"args,omitempty"`
	RequestID json.RawMessage `json:"requestId,omitempty"`
}

// Frame is an outbound frame.
type Frame struct {
	Type      string          `json:"type"`
	RequestID json.RawMessage `json:"requestId,omitempty"`
	Result    any             `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	Status    string          `json:"status"`
}

func okFrame(id json.RawMessage, result any) Frame {
	return Frame{Type: TypeResponse, RequestID: id, Result: result, Status: StatusOK}
}

func errorFrame(id json.RawMessage, err error) Frame {
	return Frame{Type: TypeError, RequestID: id, Error: err.Error(), Status: StatusError}
}

// ParseRequest decodes an inbound frame and its positional arguments.
func ParseRequest(data []byte) (Request, []json.RawMessage, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return Request{}, nil, fmt.Errorf("malformed frame: %w", err)
	}
	if req.Action == "" {
		return req, nil, fmt.Errorf("malformed frame: action is required")
	}
	args := bytes.TrimSpace(req.Args)
	if len(args) == 0 || bytes.Equal(args, []byte("null")) {
		return req, nil, nil
	}
	var list []json.RawMessage
	if args[0] != '[' || json.Unmarshal(args, &list) != nil {
		return req, nil, fmt.Errorf("malformed frame: args must be an array")
	}
	return req, list, nil
}
