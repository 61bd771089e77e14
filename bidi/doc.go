/*
Package bidi implements the client side of the WebSocket protocol spoken by the
clicker daemon.

The protocol multiplexes many outstanding commands over one connection. Each
outgoing command carries a correlation id; the server answers with a response
carrying the same id, in whatever order it finishes them. The server may also
push events, which carry a method but no id, at any time. The schema for these
messages is described in types.go.

Client is the protocol client: it assigns ids, matches responses to waiting
callers, routes events to a single sink, and enforces a per-command timeout.
Conn is the underlying duplex text channel, with a default transport and a
gorilla/websocket-backed variant selected at dial time.
*/
package bidi
