// Package messaging owns framed point-to-point connections and their owners.
//
// Ownership boundary:
// - Connection: one socket, one receive goroutine, synchronous Send
// - Server: accept loop, live-connection registry, graceful shutdown
// - Client: one outbound Connection at a time
// - ListenerSet: copy-on-write subscriber sets used by all three
//
// Events are dispatched synchronously on the goroutine that produced them.
// A Connection's events are strictly ordered; nothing is ordered across
// connections.
package messaging
