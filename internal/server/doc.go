// Package server implements the HTTP and WebSocket transport for RoomChat.
//
// The implementation is organized into specialized files for configuration,
// the connection gateway, clients, routing, and HTTP handlers. Message
// semantics live in the chat and realtime packages; this package only
// authenticates, decodes, and pumps bytes.
package server
