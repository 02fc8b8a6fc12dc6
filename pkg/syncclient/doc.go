// Package syncclient is the client side of docsync.
//
// Conn owns one resilient WebSocket connection. Its state machine runs
// Disconnected → Connecting → Open → Closed and back to Connecting after
// BaseDelay * 2^n, giving up as Failed after MaxRetries consecutive failures
// with a single "connection lost" error frame to error listeners. Everything
// runs on one event-loop goroutine: public methods enqueue work, inbound
// frames are dispatched there, and listeners must not block. The active
// document is re-joined after every reconnect.
//
// Dispatcher routes decoded frames to listeners by type, in registration
// order.
//
// Session binds a Conn to one document. Local edits are debounced (800ms) and
// cursor moves more tightly (100ms); a document-updated frame equal to the last
// send is treated as an echo and dropped, anything else replaces local text.
//
//	conn := syncclient.New(syncclient.Options{URL: url})
//	conn.Start(ctx)
//	defer conn.Stop()
//	s := syncclient.NewSession(conn, docID, syncclient.SessionOptions{
//		OnRemoteUpdate: func(title, content string) { ... },
//	})
//	s.Edit(title, content)
package syncclient
