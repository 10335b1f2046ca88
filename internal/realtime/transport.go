package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"time"

	"nhooyr.io/websocket"
)

const (
	DefaultWSURL = "wss://api.openai.com/v1/realtime"

	writeTimeout = 5 * time.Second
	readLimit    = 8 << 20
)

// transport is one duplex connection. Reads happen on the inbound goroutine only;
// every write goes through writeMu so there is a single writer at a time.
type transport struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
}

func dialTransport(ctx context.Context, base, model, secret string) (*transport, error) {
	u, err := url.Parse(base)
	if err != nil {
		return nil, err
	}
	if model != "" {
		q := u.Query()
		q.Set("model", model)
		u.RawQuery = q.Encode()
	}
	hdr := make(http.Header)
	hdr.Set("Authorization", "Bearer "+secret)
	hdr.Set("OpenAI-Beta", "realtime=v1")
	ws, _, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{HTTPHeader: hdr})
	if err != nil {
		return nil, err
	}
	ws.SetReadLimit(readLimit)
	return &transport{ws: ws}, nil
}

func (t *transport) writeJSON(ctx context.Context, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return t.write(ctx, websocket.MessageText, b)
}

func (t *transport) write(ctx context.Context, typ websocket.MessageType, b []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := t.ws.Write(wctx, typ, b); err != nil {
		return &TransportError{Op: "write", Err: err}
	}
	return nil
}

func (t *transport) read(ctx context.Context) (websocket.MessageType, []byte, error) {
	return t.ws.Read(ctx)
}

func (t *transport) close() {
	_ = t.ws.Close(websocket.StatusNormalClosure, "bye")
}

func normalClose(err error) bool {
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	}
	return false
}
