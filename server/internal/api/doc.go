// Package api implements the HTTP REST API for the docsync server.
//
// New(rooms, store) returns an http.Handler that serves:
//
//	GET  /api/v1/health          status plus live room and member totals
//	GET  /api/v1/rooms           one entry per live room ([]ws.RoomStats)
//	POST /api/v1/documents       create a document; 201 with Location
//	GET  /api/v1/documents/{id}  full document read; 404 if unknown
//	HEAD /api/v1/documents/{id}  existence check; 200 or 404, no body
//
// All endpoints respond with Content-Type: application/json, including errors
// ({"error": "..."}). Unsupported methods return 405.
package api
