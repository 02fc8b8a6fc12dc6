package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/docsync/docsync/server/internal/store"
	"github.com/docsync/docsync/server/internal/ws"
)

// maxCreateBody caps the POST /api/v1/documents request body.
const maxCreateBody = 4 << 20

// Rooms reports live room occupancy. *ws.Registry satisfies it.
type Rooms interface {
	Stats() []ws.RoomStats
}

// Handler is the HTTP handler for all /api/v1/* endpoints.
type Handler struct {
	rooms  Rooms
	store  store.Store
	router *mux.Router
}

// New creates a Handler wired to the room registry and document store and
// registers all routes.
func New(rooms Rooms, st store.Store) *Handler {
	h := &Handler{rooms: rooms, store: st, router: mux.NewRouter()}

	// Routes live on the root router so its 405 and 404 handlers apply.
	h.router.HandleFunc("/api/v1/health", h.health).Methods(http.MethodGet)
	h.router.HandleFunc("/api/v1/rooms", h.listRooms).Methods(http.MethodGet)
	h.router.HandleFunc("/api/v1/documents", h.createDocument).Methods(http.MethodPost)
	h.router.HandleFunc("/api/v1/documents/{id}", h.getDocument).Methods(http.MethodGet)
	h.router.HandleFunc("/api/v1/documents/{id}", h.headDocument).Methods(http.MethodHead)

	h.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	h.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		jsonErr(w, http.StatusNotFound, "not found")
	})
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

// --- route handlers ---------------------------------------------------------

// health returns GET /api/v1/health with live room and member totals.
func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	stats := h.rooms.Stats()
	resp := HealthResponse{Status: "ok", Rooms: len(stats)}
	for _, s := range stats {
		resp.Members += s.Members
	}
	jsonResp(w, http.StatusOK, resp)
}

// listRooms returns GET /api/v1/rooms ordered by document id.
func (h *Handler) listRooms(w http.ResponseWriter, _ *http.Request) {
	jsonResp(w, http.StatusOK, h.rooms.Stats())
}

// createDocument handles POST /api/v1/documents.
func (h *Handler) createDocument(w http.ResponseWriter, r *http.Request) {
	var req CreateDocumentRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCreateBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		jsonErr(w, http.StatusBadRequest, "invalid request body")
		return
	}

	doc, err := h.store.Create(r.Context(), req.Title, req.Content)
	switch {
	case errors.Is(err, store.ErrTooLarge):
		jsonErr(w, http.StatusRequestEntityTooLarge, "document too large")
		return
	case err != nil:
		slog.Error("api: create document", "err", err)
		jsonErr(w, http.StatusInternalServerError, "failed to create document")
		return
	}
	w.Header().Set("Location", "/api/v1/documents/"+doc.ID)
	jsonResp(w, http.StatusCreated, toDocumentResponse(doc))
}

// getDocument returns GET /api/v1/documents/{id}, a fresh read from the store.
func (h *Handler) getDocument(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	doc, err := h.store.Load(r.Context(), id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		jsonErr(w, http.StatusNotFound, "document not found")
		return
	case err != nil:
		slog.Error("api: load document", "id", id, "err", err)
		jsonErr(w, http.StatusInternalServerError, "failed to load document")
		return
	}
	jsonResp(w, http.StatusOK, toDocumentResponse(doc))
}

// headDocument answers HEAD /api/v1/documents/{id} with 200 or 404 and no body.
func (h *Handler) headDocument(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	ok, err := h.store.Exists(r.Context(), id)
	switch {
	case err != nil:
		slog.Error("api: check document", "id", id, "err", err)
		w.WriteHeader(http.StatusInternalServerError)
	case !ok:
		w.WriteHeader(http.StatusNotFound)
	default:
		w.WriteHeader(http.StatusOK)
	}
}

// --- helpers ----------------------------------------------------------------

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}

func toDocumentResponse(d *store.Document) DocumentResponse {
	return DocumentResponse{
		ID:        d.ID,
		Title:     d.Title,
		Content:   d.Content,
		CreatedAt: d.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt: d.UpdatedAt.UTC().Format(time.RFC3339),
	}
}
