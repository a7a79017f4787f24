// Package wire defines the bit-exact JSON event schema carried over the
// socket transport (spec.md §6.2) and a json-iterator-backed codec for it.
package wire

import (
	stdjson "encoding/json"

	jsoniter "github.com/json-iterator/go"
)

// json is configured to match encoding/json's defaults exactly (field
// names, sorted map keys on encode, HTML escaping), just faster.
var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Event names for the four logical events that ride the transport.
const (
	EventRPCCall      = "rpc:call"
	EventRPCResult    = "rpc:result"
	EventStreamCall   = "stream:call"
	EventStreamResult = "stream:result"
)

// Call is the payload of rpc:call and stream:call, in both directions.
type Call struct {
	RPCID string `json:"rpcId"`
	Name  string `json:"name"`
	Args  []any  `json:"args"`
}

// Result is the payload of rpc:result. Exactly one of Data (when Ok) or
// Error (when !Ok) is meaningful, per spec.md §6.2.
type Result struct {
	RPCID string `json:"rpcId"`
	Ok    bool   `json:"ok"`
	Data  any    `json:"data"`
	Error string `json:"error,omitempty"`
}

// StreamResult is the payload of stream:result. A stream call emits zero
// or more {Ok:true, Done:false} frames followed by exactly one terminal
// frame: {Ok:true, Done:true} or {Ok:false, Error:...}.
type StreamResult struct {
	RPCID string `json:"rpcId"`
	Ok    bool   `json:"ok"`
	Data  any    `json:"data"`
	Done  bool   `json:"done"`
	Error string `json:"error,omitempty"`
}

// Marshal encodes v (one of Call, Result, StreamResult) to JSON bytes.
func Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Unmarshal decodes JSON bytes into v.
func Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// DecodeCall validates and decodes a raw event payload into a Call,
// matching spec.md §6.2's required shape: rpcId and name must be strings;
// args, if present, must be a list (nil is treated as empty, per spec.md
// §8's "args=[] succeeds for a zero-arg handler" boundary case).
func DecodeCall(raw map[string]any) (Call, error) {
	rpcID, ok := raw["rpcId"].(string)
	if !ok {
		return Call{}, errMalformed("rpcId is not a string")
	}
	name, ok := raw["name"].(string)
	if !ok {
		return Call{}, errMalformed("name is not a string")
	}

	var args []any
	if rawArgs, present := raw["args"]; present && rawArgs != nil {
		args, ok = rawArgs.([]any)
		if !ok {
			return Call{}, errMalformed("args is not a list")
		}
	}

	return Call{RPCID: rpcID, Name: name, Args: args}, nil
}

// DecodeResult validates and decodes a raw event payload into a Result.
func DecodeResult(raw map[string]any) (Result, error) {
	rpcID, ok := raw["rpcId"].(string)
	if !ok {
		return Result{}, errMalformed("rpcId is not a string")
	}
	okField, ok := raw["ok"].(bool)
	if !ok {
		return Result{}, errMalformed("ok is not a bool")
	}

	res := Result{RPCID: rpcID, Ok: okField, Data: raw["data"]}
	if errMsg, present := raw["error"]; present && errMsg != nil {
		s, ok := errMsg.(string)
		if !ok {
			return Result{}, errMalformed("error is not a string")
		}
		res.Error = s
	}
	return res, nil
}

type protocolError string

func (e protocolError) Error() string { return string(e) }

func errMalformed(reason string) error {
	return protocolError("malformed event payload: " + reason)
}

// Envelope carries an event name alongside its JSON payload. socket.io
// (the transport spec.md assumes) multiplexes named events at the
// transport layer; a raw gorilla/websocket frame has no such channel, so
// this module wraps every frame in the thinnest substitute possible. The
// payload itself (Call, Result, StreamResult) stays bit-exact with
// spec.md §6.2 — only this outer wrapper is new.
type Envelope struct {
	Event   string          `json:"event"`
	Payload stdjson.RawMessage `json:"payload"`
}

// EncodeEnvelope wraps payload under event and marshals the envelope.
func EncodeEnvelope(event string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Payload: body})
}

// DecodeEnvelope parses the outer {event, payload} wrapper.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, errMalformed("not a valid envelope: " + err.Error())
	}
	if env.Event == "" {
		return Envelope{}, errMalformed("envelope missing event name")
	}
	return env, nil
}

// DecodePayloadMap decodes an envelope's payload into a generic map, the
// shape DecodeCall/DecodeResult validate further.
func DecodePayloadMap(env Envelope) (map[string]any, error) {
	var m map[string]any
	if err := json.Unmarshal(env.Payload, &m); err != nil {
		return nil, errMalformed("payload is not an object: " + err.Error())
	}
	return m, nil
}
