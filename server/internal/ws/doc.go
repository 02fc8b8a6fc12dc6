// Package ws implements the server side of document sync: the WebSocket hub,
// the room registry, and the message router.
//
// Hub.ServeHTTP upgrades a request, wraps the socket in a Conn with a bounded
// outbound queue, and runs a read pump (frames go to Router.Handle in order)
// and a write pump (queue to socket, plus pings). When the read pump ends the
// router treats it as a disconnect.
//
// Registry maps document ids to rooms. The registry lock is held only for map
// access; each room has its own lock covering its member set and cursor table.
// Broadcasts make one non-blocking attempt per member and skip members whose
// queue is closed or full. Lock order is room, then Conn.
//
// Router handles join-document, updated-document, leave-document,
// cursor-update and cursor-remove. Malformed frames get a single
// "Invalid message format" error; unknown types are logged and ignored.
//
// The upgrader accepts all origins. Apply CORS restrictions at the reverse
// proxy level.
package ws
