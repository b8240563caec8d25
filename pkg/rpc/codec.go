// Package rpc inspects JSON-RPC 2.0 messages passing through the gateway.
// It never validates business payloads; it only names them for logs and
// traces.
package rpc

import (
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
)

// Kind classifies a decoded body.
type Kind int

const (
	// KindUnknown is anything that is not a single JSON-RPC message,
	// including batches and non-JSON bodies.
	KindUnknown Kind = iota
	// KindCall is a request that expects a response.
	KindCall
	// KindNotification is a request without an id.
	KindNotification
	// KindResponse is a result or error message.
	KindResponse
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindCall:
		return "call"
	case KindNotification:
		return "notification"
	case KindResponse:
		return "response"
	default:
		return "unknown"
	}
}

// Info summarizes one message.
type Info struct {
	Kind   Kind
	Method string
}

// Inspect decodes raw as a JSON-RPC message. Bodies that are not a single
// JSON-RPC message return the zero Info.
func Inspect(raw []byte) Info {
	msg, err := jsonrpc.DecodeMessage(raw)
	if err != nil {
		return Info{}
	}
	switch m := msg.(type) {
	case *jsonrpc.Request:
		if m.IsCall() {
			return Info{Kind: KindCall, Method: m.Method}
		}
		return Info{Kind: KindNotification, Method: m.Method}
	case *jsonrpc.Response:
		return Info{Kind: KindResponse}
	default:
		return Info{}
	}
}

// EncodeCall serializes a call with a numeric id.
func EncodeCall(id int64, method string, params any) ([]byte, error) {
	rid, err := jsonrpc.MakeID(float64(id))
	if err != nil {
		return nil, err
	}
	var raw json.RawMessage
	if params != nil {
		if raw, err = json.Marshal(params); err != nil {
			return nil, err
		}
	}
	return jsonrpc.EncodeMessage(&jsonrpc.Request{ID: rid, Method: method, Params: raw})
}
