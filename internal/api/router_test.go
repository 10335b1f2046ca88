package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"guidedconv/agent/internal/config"
	"guidedconv/agent/internal/events"
	"guidedconv/agent/internal/realtime"
	"guidedconv/agent/internal/sessions"
)

const convJSON = `{
  "name": "Basic",
  "goal": "chat",
  "initial_phase": "greeting",
  "system_instructions": "Be kind.",
  "phases": {
    "greeting": {"name": "Greeting", "instructions": "Say hi.", "success_criteria": ["greeted"], "required_observations": [], "next_phases": ["main"]},
    "main": {"name": "Main", "instructions": "Talk.", "success_criteria": [], "required_observations": [], "next_phases": []}
  }
}`

// upstream fakes the realtime API: the creation endpoint and the duplex channel.
type upstream struct {
	srv          *httptest.Server
	createStatus atomic.Int32

	mu     sync.Mutex
	frames []string
	conns  chan *websocket.Conn
}

func newUpstream(t *testing.T) *upstream {
	u := &upstream{conns: make(chan *websocket.Conn, 1)}
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/realtime/sessions", func(w http.ResponseWriter, r *http.Request) {
		if code := int(u.createStatus.Load()); code != 0 {
			http.Error(w, "nope", code)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"sess_1","client_secret":{"value":"ek_1","expires_at":1893456000}}`))
	})
	mux.HandleFunc("/v1/realtime", func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		c.SetReadLimit(8 << 20)
		u.conns <- c
		for {
			_, data, err := c.Read(context.Background())
			if err != nil {
				return
			}
			var m struct {
				Type string `json:"type"`
			}
			if json.Unmarshal(data, &m) == nil {
				u.mu.Lock()
				u.frames = append(u.frames, m.Type)
				u.mu.Unlock()
			}
		}
	})
	u.srv = httptest.NewServer(mux)
	t.Cleanup(u.srv.Close)
	return u
}

func (u *upstream) frameTypes() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]string(nil), u.frames...)
}

type fixture struct {
	srv    *httptest.Server
	up     *upstream
	store  *sessions.MemoryStore
	events *events.Store
	h      *Handlers
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	up := newUpstream(t)
	var cfg config.Config
	cfg.Auth.APIKey = "key"
	cfg.Auth.TokenTTL = time.Minute
	cfg.OpenAI.Model = "gpt-test"
	cfg.OpenAI.WSURL = "ws" + strings.TrimPrefix(up.srv.URL, "http") + "/v1/realtime"
	cfg.OpenAI.HandshakeTimeout = 2 * time.Second

	st := sessions.NewMemoryStore(time.Hour)
	ev := events.NewStore()
	h := NewHandlers(cfg, st, ev, realtime.NewClient("sk-test", up.srv.URL+"/v1"), zap.NewNop())
	srv := httptest.NewServer(NewRouter(h))
	t.Cleanup(srv.Close)
	t.Cleanup(func() {
		for _, e := range st.List() {
			_ = e.Session.Close()
		}
	})
	return &fixture{srv: srv, up: up, store: st, events: ev, h: h}
}

func (f *fixture) do(t *testing.T, method, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer key")
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func (f *fixture) create(t *testing.T) (string, string) {
	t.Helper()
	resp, out := f.do(t, http.MethodPost, "/sessions", convJSON)
	require.Equal(t, http.StatusCreated, resp.StatusCode, "%v", out)
	return out["session_id"].(string), out["token"].(string)
}

func TestUnknownSession404(t *testing.T) {
	f := newFixture(t)
	for _, m := range []string{http.MethodGet, http.MethodDelete} {
		resp, _ := f.do(t, m, "/sessions/unknown", "")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, m)
	}
	resp, _ := f.do(t, http.MethodGet, "/sessions/unknown/events", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err := http.Get(f.srv.URL + "/sessions/unknown/ws")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestManagementRequiresAPIKey(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Get(f.srv.URL + "/sessions")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodGet, f.srv.URL+"/sessions", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCreateRejectsInvalidConfig(t *testing.T) {
	f := newFixture(t)
	bad := strings.Replace(convJSON, `"next_phases": ["main"]`, `"next_phases": ["nowhere"]`, 1)
	resp, out := f.do(t, http.MethodPost, "/sessions", bad)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "phases.greeting.next_phases", out["field"])

	resp, _ = f.do(t, http.MethodPost, "/sessions", `{"name":"x","colour":"blue"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Empty(t, f.store.List())
}

func TestCreateUpstreamRejected(t *testing.T) {
	f := newFixture(t)
	f.up.createStatus.Store(http.StatusForbidden)
	resp, out := f.do(t, http.MethodPost, "/sessions", convJSON)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Contains(t, out["error"], "403")
	assert.Empty(t, f.store.List())
}

func TestSessionLifecycle(t *testing.T) {
	f := newFixture(t)
	id, token := f.create(t)
	assert.NotEmpty(t, token)

	resp, out := f.do(t, http.MethodGet, "/sessions/"+id, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	snap := out["session"].(map[string]any)
	assert.Equal(t, "created", snap["status"])
	assert.Equal(t, "greeting", snap["phase"])
	assert.Equal(t, []any{"main"}, snap["allowed_next_phases"])

	_, out = f.do(t, http.MethodGet, "/sessions", "")
	require.Len(t, out["sessions"], 1)

	resp, out = f.do(t, http.MethodDelete, "/sessions/"+id, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "closed", out["status"])

	resp, _ = f.do(t, http.MethodGet, "/sessions/"+id, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, out = f.do(t, http.MethodGet, "/sessions/"+id+"/events", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var kinds []string
	for _, e := range out["events"].([]any) {
		kinds = append(kinds, e.(map[string]any)["type"].(string))
	}
	assert.Equal(t, []string{realtime.KindSessionCreated, realtime.KindClosed}, kinds)
}

func TestRelayRejectsBadToken(t *testing.T) {
	f := newFixture(t)
	id, _ := f.create(t)
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/sessions/" + id + "/ws?token=bogus"
	_, resp, err := websocket.Dial(context.Background(), url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRelayForwardsAudioAndEvents(t *testing.T) {
	f := newFixture(t)
	id, token := f.create(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/sessions/" + id + "/ws?channels=2&token=" + token
	c, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer c.Close(websocket.StatusNormalClosure, "")

	remote := <-f.up.conns

	// 100 ms of stereo at 24 kHz
	require.NoError(t, c.Write(ctx, websocket.MessageBinary, make([]byte, 2400*2*2)))
	require.Eventually(t, func() bool {
		types := f.up.frameTypes()
		return len(types) == 2 && types[0] == "session.update" && types[1] == "input_audio_buffer.append"
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, remote.Write(ctx, websocket.MessageText, []byte(`{"type":"response.text.delta","delta":"hi"}`)))
	require.NoError(t, remote.Write(ctx, websocket.MessageBinary, []byte{1, 0, 2, 0}))

	var gotText, gotAudio bool
	for !(gotText && gotAudio) {
		typ, data, err := c.Read(ctx)
		require.NoError(t, err)
		if typ == websocket.MessageBinary {
			assert.Equal(t, []byte{1, 0, 2, 0}, data)
			gotAudio = true
			continue
		}
		var m relayMessage
		require.NoError(t, json.Unmarshal(data, &m))
		if m.Type == "text" {
			assert.Equal(t, "hi", m.Delta)
			gotText = true
		}
	}

	require.NoError(t, c.Write(ctx, websocket.MessageText, []byte(`{"type":"status"}`)))
	for {
		_, data, err := c.Read(ctx)
		require.NoError(t, err)
		if bytes.Contains(data, []byte(`"type":"status"`)) {
			assert.Contains(t, string(data), `"status":"connected"`)
			break
		}
	}

	require.NoError(t, c.Close(websocket.StatusNormalClosure, "bye"))
	require.Eventually(t, func() bool {
		_, err := f.store.Get(id)
		return err != nil
	}, 2*time.Second, 10*time.Millisecond)
	assert.True(t, f.events.Has(id))
}

func TestOnReapRecordsEvent(t *testing.T) {
	f := newFixture(t)
	f.h.OnReap(&sessions.Entry{ID: "s1", CreatedAt: time.Now()})
	got := f.events.List("s1")
	require.Len(t, got, 1)
	assert.Equal(t, "reaped", got[0].Type)
}
