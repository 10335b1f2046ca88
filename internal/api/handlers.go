package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"guidedconv/agent/internal/auth"
	"guidedconv/agent/internal/config"
	"guidedconv/agent/internal/events"
	"guidedconv/agent/internal/phasegraph"
	"guidedconv/agent/internal/realtime"
	"guidedconv/agent/internal/sessions"
)

const maxConfigBytes = 1 << 20

type Handlers struct {
	cfg     config.Config
	store   sessions.Store
	events  *events.Store
	creator realtime.Creator
	rt      realtime.Config
	log     *zap.Logger
	now     func() time.Time
}

func NewHandlers(cfg config.Config, st sessions.Store, ev *events.Store, creator realtime.Creator, log *zap.Logger) *Handlers {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handlers{
		cfg:     cfg,
		store:   st,
		events:  ev,
		creator: creator,
		rt: realtime.Config{
			Model:            cfg.OpenAI.Model,
			WSURL:            cfg.OpenAI.WSURL,
			HandshakeTimeout: cfg.OpenAI.HandshakeTimeout,
			ChunkDuration:    cfg.Audio.ChunkDuration,
		},
		log: log.Named("api"),
		now: time.Now,
	}
}

type createResponse struct {
	SessionID string    `json:"session_id"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Phase     string    `json:"phase"`
}

// HandleCreateSession validates the posted conversation definition, creates the
// remote session and hands back a credential for the relay.
func (h *Handlers) HandleCreateSession(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxConfigBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}
	if len(body) > maxConfigBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "conversation config too large")
		return
	}
	format := phasegraph.FormatJSON
	if strings.Contains(r.Header.Get("Content-Type"), "yaml") {
		format = phasegraph.FormatYAML
	}
	conv, err := phasegraph.Parse(body, format)
	if err != nil {
		var cerr *phasegraph.ConfigurationError
		if errors.As(err, &cerr) {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": cerr.Error(), "field": cerr.Field})
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id := uuid.NewString()
	sess, err := realtime.NewSession(conv, h.creator, h.rt,
		realtime.WithID(id),
		realtime.WithLogger(h.log.Named("realtime")),
		realtime.WithRecorder(h.events.For(id)),
	)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := sess.Initialize(r.Context()); err != nil {
		h.log.Warn("create session failed", zap.String("session_id", id), zap.Error(err))
		h.events.Forget(id)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	if err := h.store.Put(&sessions.Entry{ID: id, Session: sess}); err != nil {
		_ = sess.Close()
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	exp := h.now().Add(h.cfg.Auth.TokenTTL).Truncate(time.Second)
	token := auth.GenerateClientToken(h.cfg.TokenSecret(), id, exp.Unix())
	h.log.Info("session created", zap.String("session_id", id), zap.String("conversation", conv.Name))
	writeJSON(w, http.StatusCreated, createResponse{
		SessionID: id,
		Token:     token,
		ExpiresAt: exp.UTC(),
		Phase:     conv.InitialPhase,
	})
}

type sessionSummary struct {
	ID           string    `json:"id"`
	Conversation string    `json:"conversation"`
	Status       string    `json:"status"`
	Phase        string    `json:"phase"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}

func (h *Handlers) HandleListSessions(w http.ResponseWriter, r *http.Request) {
	entries := h.store.List()
	out := make([]sessionSummary, 0, len(entries))
	for _, e := range entries {
		snap := e.Session.Snapshot()
		out = append(out, sessionSummary{
			ID:           e.ID,
			Conversation: snap.Conversation,
			Status:       snap.Status,
			Phase:        snap.Phase,
			CreatedAt:    e.CreatedAt.UTC(),
			ExpiresAt:    e.ExpiresAt.UTC(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

func (h *Handlers) HandleGetSession(w http.ResponseWriter, r *http.Request, id string) {
	e, err := h.store.Get(id)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session":    e.Session.Snapshot(),
		"created_at": e.CreatedAt.UTC(),
		"expires_at": e.ExpiresAt.UTC(),
	})
}

// HandleDeleteSession closes the session. Its audit log stays readable.
func (h *Handlers) HandleDeleteSession(w http.ResponseWriter, r *http.Request, id string) {
	e, err := h.store.Delete(id)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	_ = e.Session.Close()
	h.log.Info("session deleted", zap.String("session_id", id))
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "status": e.Session.Status().String()})
}

func (h *Handlers) HandleListEvents(w http.ResponseWriter, r *http.Request, id string) {
	if _, err := h.store.Get(id); err != nil && !h.events.Has(id) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": id,
		"events":     h.events.List(id),
	})
}

// OnReap records a reaped session in its audit log.
func (h *Handlers) OnReap(e *sessions.Entry) {
	h.events.Append(e.ID, "reaped", map[string]any{"created_at": e.CreatedAt.UTC()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}
