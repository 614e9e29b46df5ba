package daemon

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/lfelipesv/talkd/internal/api"
	"github.com/lfelipesv/talkd/internal/archive"
	"github.com/lfelipesv/talkd/internal/model"
	"github.com/lfelipesv/talkd/internal/presence"
	"github.com/lfelipesv/talkd/internal/state"
	"github.com/lfelipesv/talkd/internal/status"
	intsync "github.com/lfelipesv/talkd/internal/sync"
	"go.uber.org/zap"
)

// Handlers serves the local control API consumed by talkctl and local UIs.
// All state it exposes is the daemon's synced in-memory view; the archive is
// only consulted for search and deep history.
type Handlers struct {
	session string
	engine  *intsync.Engine
	store   *state.Store
	tracker *presence.Tracker
	db      *archive.DB
	machine *status.Machine
	logger  *zap.Logger
}

// NewHandlers creates the local API handler set.
func NewHandlers(p Params, engine *intsync.Engine, st *state.Store, tr *presence.Tracker, db *archive.DB, machine *status.Machine, logger *zap.Logger) *Handlers {
	return &Handlers{
		session: p.SessionName,
		engine:  engine,
		store:   st,
		tracker: tr,
		db:      db,
		machine: machine,
		logger:  logger,
	}
}

// Router builds the versioned route table.
func (h *Handlers) Router() *mux.Router {
	r := mux.NewRouter()
	v1 := r.PathPrefix("/v1").Subrouter()

	v1.HandleFunc("/status", h.handleStatus).Methods(http.MethodGet)
	v1.HandleFunc("/conversations", h.handleListConversations).Methods(http.MethodGet)
	v1.HandleFunc("/conversations", h.handleCreateDirect).Methods(http.MethodPost)
	v1.HandleFunc("/conversations/{id}/messages", h.handleListMessages).Methods(http.MethodGet)
	v1.HandleFunc("/conversations/{id}/messages", h.handleSendMessage).Methods(http.MethodPost)
	v1.HandleFunc("/conversations/{id}/open", h.handleOpen).Methods(http.MethodPost)
	v1.HandleFunc("/conversations/{id}/close", h.handleClose).Methods(http.MethodPost)
	v1.HandleFunc("/conversations/{id}/read", h.handleMarkRead).Methods(http.MethodPost)
	v1.HandleFunc("/conversations/{id}/typing", h.handleTyping).Methods(http.MethodPost)
	v1.HandleFunc("/messages/{id}/seen", h.handleMarkSeen).Methods(http.MethodPost)
	v1.HandleFunc("/presence", h.handlePresence).Methods(http.MethodGet)
	v1.HandleFunc("/search", h.handleSearch).Methods(http.MethodGet)
	return r
}

// StatusResponse is the /v1/status payload.
type StatusResponse struct {
	Session          string         `json:"session"`
	State            status.State   `json:"state"`
	OpenConversation string         `json:"openConversation,omitempty"`
	TotalUnread      int            `json:"totalUnread"`
	Archive          *archive.Stats `json:"archive,omitempty"`
}

func (h *Handlers) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := StatusResponse{
		Session:          h.session,
		State:            h.machine.Current(),
		OpenConversation: h.store.OpenID(),
		TotalUnread:      h.store.TotalUnread(),
	}
	if h.db != nil {
		if stats, err := h.db.Stats(); err == nil {
			resp.Archive = stats
		}
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) handleListConversations(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, h.store.Conversations())
}

func (h *Handlers) handleCreateDirect(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OtherUserID string `json:"otherUserId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.OtherUserID == "" {
		h.writeError(w, http.StatusBadRequest, "missing otherUserId")
		return
	}
	conv, err := h.engine.CreateDirectConversation(r.Context(), req.OtherUserID)
	if err != nil {
		h.writeAPIError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, conv)
}

func (h *Handlers) handleListMessages(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	before, _ := strconv.ParseInt(r.URL.Query().Get("before"), 10, 64)
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	// The open conversation is served from the synced view; anything else is
	// a direct backend page-through.
	if before == 0 && h.store.OpenID() == id {
		h.writeJSON(w, http.StatusOK, h.store.Messages(id))
		return
	}
	msgs, err := h.engine.LoadOlderMessages(r.Context(), id, before, limit)
	if err != nil {
		h.writeAPIError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, msgs)
}

func (h *Handlers) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "malformed body")
		return
	}
	h.engine.StopTyping(id)
	msg, err := h.engine.SendMessage(r.Context(), id, req.Content)
	if err != nil {
		h.writeAPIError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, msg)
}

func (h *Handlers) handleOpen(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	msgs, err := h.engine.OpenConversation(r.Context(), id)
	if err != nil {
		h.writeAPIError(w, err)
		return
	}
	if msgs == nil {
		msgs = []model.Message{}
	}
	h.writeJSON(w, http.StatusOK, msgs)
}

func (h *Handlers) handleClose(w http.ResponseWriter, _ *http.Request) {
	h.engine.CloseConversation()
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	h.engine.MarkRead(mux.Vars(r)["id"])
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) handleTyping(w http.ResponseWriter, r *http.Request) {
	h.engine.Typing(mux.Vars(r)["id"])
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) handleMarkSeen(w http.ResponseWriter, r *http.Request) {
	h.engine.MarkSeen(mux.Vars(r)["id"])
	w.WriteHeader(http.StatusNoContent)
}

// PresenceResponse is the /v1/presence payload.
type PresenceResponse struct {
	Online []model.OnlineStatus `json:"online"`
	Typing []string             `json:"typing,omitempty"`
}

func (h *Handlers) handlePresence(w http.ResponseWriter, r *http.Request) {
	resp := PresenceResponse{Online: h.tracker.Online()}
	if resp.Online == nil {
		resp.Online = []model.OnlineStatus{}
	}
	if conv := r.URL.Query().Get("conversation"); conv != "" {
		resp.Typing = h.tracker.TypingIn(conv)
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) handleSearch(w http.ResponseWriter, r *http.Request) {
	if h.db == nil {
		h.writeError(w, http.StatusServiceUnavailable, "archive disabled")
		return
	}
	q := r.URL.Query().Get("q")
	if q == "" {
		h.writeError(w, http.StatusBadRequest, "missing query")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	results, err := h.db.SearchMessages(q, r.URL.Query().Get("conversation"), limit)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if results == nil {
		results = []archive.SearchResult{}
	}
	h.writeJSON(w, http.StatusOK, results)
}

func (h *Handlers) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil && h.logger != nil {
		h.logger.Warn("response encode failed", zap.Error(err))
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, code int, msg string) {
	h.writeJSON(w, code, map[string]string{"error": msg})
}

// writeAPIError maps the backend error taxonomy onto local API status codes.
func (h *Handlers) writeAPIError(w http.ResponseWriter, err error) {
	switch {
	case api.IsValidation(err):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case api.IsAuth(err):
		h.writeError(w, http.StatusUnauthorized, err.Error())
	case api.IsTransient(err):
		h.writeError(w, http.StatusBadGateway, err.Error())
	default:
		h.writeError(w, http.StatusInternalServerError, err.Error())
	}
}
