package bidi

import "encoding/json"

// Command is a caller-initiated message. The id is unique for the lifetime of
// the connection and links the command to its eventual response.
type Command struct {
	ID     int64          `json:"id"`
	Method string         `json:"method"`
	Params map[string]any `json:"params"`
}

// Event is a server-initiated message. It carries no id and may arrive at any
// time, interleaved with responses.
type Event struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// message is the envelope every incoming message is decoded into. A message
// with an id is a response ("type" is "success" or "error"); a message with a
// method and no id is an event. Anything else is malformed and dropped.
type message struct {
	ID         *int64          `json:"id"`
	Type       string          `json:"type"`
	Result     json.RawMessage `json:"result"`
	Error      string          `json:"error"`
	Message    string          `json:"message"`
	Stacktrace string          `json:"stacktrace"`
	Method     string          `json:"method"`
	Params     json.RawMessage `json:"params"`
}
