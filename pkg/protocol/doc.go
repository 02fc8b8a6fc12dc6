// Package protocol defines the JSON frame vocabulary shared by docsync-server and
// the syncclient library.
//
// Every frame is a single JSON object with a required "type" discriminator:
//
//	client → server: join-document, leave-document, updated-document,
//	                 cursor-update, cursor-remove
//	server → client: document-joined, document-updated, update-confirmed,
//	                 user-joined, user-left, user-disconnected,
//	                 cursor-update, cursor-remove, error
//
// Frames are never batched, compressed, or chunked. Decode rejects input that is
// not a JSON object or has no type with ErrMalformed.
package protocol
