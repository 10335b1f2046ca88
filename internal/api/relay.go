package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	ws "nhooyr.io/websocket"

	"guidedconv/agent/internal/audio"
	"guidedconv/agent/internal/auth"
	"guidedconv/agent/internal/realtime"
)

const (
	relayWriteTimeout = 5 * time.Second
	maxRelayChannels  = 8
)

// relayMessage is a JSON frame sent to the attached client.
type relayMessage struct {
	Type  string         `json:"type"`
	Delta string         `json:"delta,omitempty"`
	Done  bool           `json:"done,omitempty"`
	Kind  string         `json:"kind,omitempty"`
	Data  map[string]any `json:"data,omitempty"`
	Error string         `json:"error,omitempty"`
}

// controlMessage is a JSON frame sent by the client.
type controlMessage struct {
	Type string `json:"type"`
}

// relaySink presents a session on the client websocket: JSON frames for text and
// notices, binary frames for playback audio.
type relaySink struct {
	c   *ws.Conn
	ctx context.Context
	mu  sync.Mutex
}

func (s *relaySink) write(typ ws.MessageType, b []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ctx, cancel := context.WithTimeout(s.ctx, relayWriteTimeout)
	defer cancel()
	return s.c.Write(ctx, typ, b)
}

func (s *relaySink) send(m relayMessage) error {
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return s.write(ws.MessageText, b)
}

func (s *relaySink) WriteAudio(pcm []byte) error { return s.write(ws.MessageBinary, pcm) }

func (s *relaySink) Text(delta string, done bool) {
	_ = s.send(relayMessage{Type: "text", Delta: delta, Done: done})
}

func (s *relaySink) Transcript(delta string, done bool) {
	_ = s.send(relayMessage{Type: "transcript", Delta: delta, Done: done})
}

func (s *relaySink) Notice(kind string, data map[string]any) {
	_ = s.send(relayMessage{Type: "event", Kind: kind, Data: data})
}

// HandleRelay attaches a client to a created session. Binary frames from the client
// are captured PCM16, interleaved when the channels query parameter is above one.
// When the client leaves, the session is closed.
func (h *Handlers) HandleRelay(w http.ResponseWriter, r *http.Request, id string) {
	e, err := h.store.Get(id)
	if err != nil {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}
	token := r.URL.Query().Get("token")
	if token == "" {
		token = auth.BearerToken(r)
	}
	if _, _, err := auth.ValidateClientToken(h.cfg.TokenSecret(), token, id, h.now(), h.cfg.Auth.TokenSkew); err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}
	channels := 1
	if v := r.URL.Query().Get("channels"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxRelayChannels {
			http.Error(w, "invalid channels", http.StatusBadRequest)
			return
		}
		channels = n
	}

	c, err := ws.Accept(w, r, nil)
	if err != nil {
		h.log.Warn("ws accept", zap.Error(err))
		return
	}
	c.SetReadLimit(1 << 20)
	log := h.log.With(zap.String("session_id", id))

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	sess := e.Session
	sink := &relaySink{c: c, ctx: ctx}
	if err := sess.Connect(ctx, sink); err != nil {
		log.Warn("relay connect failed", zap.Error(err))
		_ = sink.send(relayMessage{Type: "error", Error: err.Error()})
		_ = c.Close(ws.StatusInternalError, "connect failed")
		return
	}
	log.Info("client attached", zap.Int("channels", channels))

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-sess.Done():
				cancel()
				return
			case err := <-sess.Errors():
				_ = sink.send(relayMessage{Type: "error", Error: err.Error()})
			}
		}
	}()

	for {
		typ, data, err := c.Read(ctx)
		if err != nil {
			break
		}
		_ = h.store.Touch(id)
		switch typ {
		case ws.MessageBinary:
			if channels > 1 {
				data = audio.Bytes(audio.Mono(audio.Samples(data), channels))
			}
			if err := sess.SendAudio(ctx, data); err != nil {
				log.Warn("relay send failed", zap.Error(err))
				_ = sink.send(relayMessage{Type: "error", Error: err.Error()})
				if errors.Is(err, realtime.ErrClosed) {
					cancel()
				}
			}
		case ws.MessageText:
			var m controlMessage
			if err := json.Unmarshal(data, &m); err != nil {
				_ = sink.send(relayMessage{Type: "error", Error: "invalid control message"})
				continue
			}
			h.control(ctx, sink, sess, m)
		}
	}

	if _, err := h.store.Delete(id); err == nil {
		_ = sess.Close()
	}
	_ = c.Close(ws.StatusNormalClosure, "done")
	log.Info("client detached")
}

func (h *Handlers) control(ctx context.Context, sink *relaySink, sess *realtime.Session, m controlMessage) {
	switch m.Type {
	case "cancel":
		if err := sess.CancelResponse(ctx); err != nil {
			_ = sink.send(relayMessage{Type: "error", Error: err.Error()})
		}
	case "status":
		b, err := json.Marshal(struct {
			Type    string            `json:"type"`
			Session realtime.Snapshot `json:"session"`
		}{"status", sess.Snapshot()})
		if err == nil {
			_ = sink.write(ws.MessageText, b)
		}
	default:
		_ = sink.send(relayMessage{Type: "error", Error: "unknown control message " + strconv.Quote(m.Type)})
	}
}
