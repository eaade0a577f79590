package wsproxy

import (
	"encoding/json"
)

// rpcMessage is the superset of JSON-RPC fields the proxy inspects.
// Messages are classified, minimally rewritten, and otherwise forwarded
// verbatim; unknown fields are never touched.
type rpcMessage struct {
	JSONRPC string          `json:"jsonrpc,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
}

// parseRPC attempts to parse a text frame as a JSON-RPC message. Non-JSON
// frames are forwarded opaque, so failure is not an error.
func parseRPC(data []byte) (*rpcMessage, bool) {
	var msg rpcMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, false
	}
	return &msg, true
}

// subscriptionParams is the params object of an eth_subscription
// notification.
type subscriptionParams struct {
	Subscription string          `json:"subscription"`
	Result       json.RawMessage `json:"result"`
}

// resultString unpacks a JSON-RPC result that should be a string (such as
// a subscription id).
func resultString(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// firstParamString unpacks params of the shape [string, ...].
func firstParamString(raw json.RawMessage) (string, bool) {
	var params []json.RawMessage
	if err := json.Unmarshal(raw, &params); err != nil || len(params) == 0 {
		return "", false
	}
	var s string
	if err := json.Unmarshal(params[0], &s); err != nil {
		return "", false
	}
	return s, true
}

// makeNotification builds an eth_subscription notification bearing the
// client-facing subscription id.
func makeNotification(clientSubID string, result json.RawMessage) ([]byte, error) {
	return json.Marshal(rpcMessage{
		JSONRPC: "2.0",
		Method:  "eth_subscription",
		Params:  mustMarshalParams(subscriptionParams{Subscription: clientSubID, Result: result}),
	})
}

// makeUnsubscribe builds an eth_unsubscribe request whose first parameter
// is the current upstream subscription id.
func makeUnsubscribe(id json.RawMessage, upstreamSubID string) ([]byte, error) {
	params, err := json.Marshal([]string{upstreamSubID})
	if err != nil {
		return nil, err
	}
	return json.Marshal(rpcMessage{
		JSONRPC: "2.0",
		ID:      id,
		Method:  "eth_unsubscribe",
		Params:  params,
	})
}

// makeSubscribe builds the replay eth_subscribe request with the original
// JSON-RPC id and params.
func makeSubscribe(id, params json.RawMessage) ([]byte, error) {
	return json.Marshal(rpcMessage{
		JSONRPC: "2.0",
		ID:      id,
		Method:  "eth_subscribe",
		Params:  params,
	})
}

func mustMarshalParams(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		// subscriptionParams marshalling cannot fail; the result is
		// already raw JSON.
		panic(err)
	}
	return data
}
