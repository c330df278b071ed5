package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alimasry/go-notepad/diff"
	"github.com/alimasry/go-notepad/store"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ErrNoKey is returned by a KeyFunc when the request carries no identity.
var ErrNoKey = errors.New("no document key")

// KeyFunc resolves the document key of an authenticated request.
type KeyFunc func(r *http.Request) (string, error)

// HeaderKey resolves the document key from the named request header, which
// an authenticating proxy in front of the server is expected to set.
func HeaderKey(name string) KeyFunc {
	return func(r *http.Request) (string, error) {
		key := r.Header.Get(name)
		if key == "" {
			return "", fmt.Errorf("%w: missing %s header", ErrNoKey, name)
		}
		return key, nil
	}
}

// Options configures the HTTP handler.
type Options struct {
	KeyFunc         KeyFunc
	MaxContentBytes int64
	StaticDir       string
}

type api struct {
	reg  *store.Registry
	hub  *Hub
	opts Options
}

// NewHandler creates the HTTP handler with all routes.
func NewHandler(reg *store.Registry, hub *Hub, opts Options) http.Handler {
	if opts.KeyFunc == nil {
		opts.KeyFunc = HeaderKey("X-Notepad-User")
	}
	if opts.MaxContentBytes <= 0 {
		opts.MaxContentBytes = 16 << 20
	}
	a := &api{reg: reg, hub: hub, opts: opts}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/content", a.getContent)
	mux.HandleFunc("POST /api/content", a.updateContent)
	mux.HandleFunc("POST /api/calculate_diff", a.calculateDiff)
	mux.HandleFunc("GET /api/file_info", a.fileInfo)
	mux.HandleFunc("GET /ws", a.subscribe)

	if opts.StaticDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(opts.StaticDir)))
	}
	return mux
}

// document resolves the caller's document, writing an error response and
// returning nil when that fails.
func (a *api) document(w http.ResponseWriter, r *http.Request) *store.Document {
	key, err := a.opts.KeyFunc(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Message: err.Error(), ErrorType: "unauthorized"})
		return nil
	}
	doc, err := a.reg.Get(r.Context(), key)
	if err != nil {
		a.writeStoreError(w, key, err)
		return nil
	}
	return doc
}

func (a *api) getContent(w http.ResponseWriter, r *http.Request) {
	doc := a.document(w, r)
	if doc == nil {
		return
	}
	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}
	snap := doc.Read()
	writeJSON(w, http.StatusOK, contentResponse{
		Success:  true,
		Content:  snap.Content,
		Version:  snap.Version,
		FileInfo: doc.Info(),
	})
}

func (a *api) updateContent(w http.ResponseWriter, r *http.Request) {
	doc := a.document(w, r)
	if doc == nil {
		return
	}

	var req UpdateRequest
	if !a.decode(w, r, &req) {
		return
	}
	if req.Version == nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: "version is required", ErrorType: store.OutcomeInvalid.String()})
		return
	}

	var (
		info store.FileInfo
		err  error
	)
	switch {
	case len(req.Changes) > 0:
		info, err = doc.ApplyChanges(r.Context(), req.Changes, *req.Version)
	case req.Content != nil:
		info, err = doc.ReplaceContent(r.Context(), *req.Content, *req.Version)
	default:
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: "content or changes required", ErrorType: store.OutcomeInvalid.String()})
		return
	}
	if err != nil {
		a.writeStoreError(w, doc.Key(), err)
		return
	}

	writeJSON(w, http.StatusOK, updateResponse{
		Success:  true,
		Message:  "saved",
		Version:  info.Version,
		FileInfo: info,
	})
}

func (a *api) calculateDiff(w http.ResponseWriter, r *http.Request) {
	if doc := a.document(w, r); doc == nil {
		return
	}
	var req DiffRequest
	if !a.decode(w, r, &req) {
		return
	}
	changes := diff.Compute(req.OldContent, req.NewContent)
	if changes == nil {
		changes = []diff.Operation{}
	}
	writeJSON(w, http.StatusOK, diffResponse{Success: true, Changes: changes})
}

func (a *api) fileInfo(w http.ResponseWriter, r *http.Request) {
	doc := a.document(w, r)
	if doc == nil {
		return
	}
	writeJSON(w, http.StatusOK, fileInfoResponse{Success: true, FileInfo: doc.Info()})
}

func (a *api) subscribe(w http.ResponseWriter, r *http.Request) {
	doc := a.document(w, r)
	if doc == nil {
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade error: %v", err)
		return
	}
	client := newClient(a.hub, conn, doc.Key())
	if !a.hub.subscribe(client, doc) {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		msg := ServerMessage{Type: MsgError, Key: doc.Key(), Message: "server is shutting down"}
		conn.WriteMessage(websocket.TextMessage, msg.Encode())
		conn.Close()
		return
	}
	go client.WritePump()
	go client.ReadPump()
}

func (a *api) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	body := http.MaxBytesReader(w, r.Body, a.opts.MaxContentBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{
				Message:   fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit),
				ErrorType: "too_large",
			})
			return false
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: "invalid JSON: " + err.Error(), ErrorType: store.OutcomeInvalid.String()})
		return false
	}
	return true
}

func (a *api) writeStoreError(w http.ResponseWriter, key string, err error) {
	outcome := store.Classify(err)
	resp := errorResponse{Message: err.Error(), ErrorType: outcome.String()}

	switch outcome {
	case store.OutcomeConflict:
		var ce *store.ConflictError
		if errors.As(err, &ce) {
			resp.CurrentVersion = &ce.Version
			resp.CurrentContent = &ce.Content
		}
		writeJSON(w, http.StatusConflict, resp)
	case store.OutcomeMalformed:
		writeJSON(w, http.StatusUnprocessableEntity, resp)
	case store.OutcomeInvalid:
		writeJSON(w, http.StatusBadRequest, resp)
	case store.OutcomeStorage:
		log.Printf("server: document %q: %v", key, err)
		resp.Message = "storage unavailable, retry the request"
		resp.Retryable = true
		writeJSON(w, http.StatusServiceUnavailable, resp)
	default:
		log.Printf("server: document %q: unexpected error: %v", key, err)
		resp.Message = "internal error"
		writeJSON(w, http.StatusInternalServerError, resp)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("server: encode response: %v", err)
	}
}
