// Package realtime implements in-process message delivery and presence for
// live chat connections.
//
// The Hub ties together four parts: a Registry mapping identities to their
// live connections, a Rooms tracker recording the single room each connection
// observes, a Fanout engine that pushes new messages to subscribers and
// notifications to other online participants, and a Presence broadcaster that
// announces online/offline transitions to every connection. All state is
// owned by the Hub value passed to the transport; there are no package-level
// registries.
package realtime
