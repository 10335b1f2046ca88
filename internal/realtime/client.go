package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const DefaultBaseURL = "https://api.openai.com/v1"

// Credential is the result of a successful session-creation request.
type Credential struct {
	SessionID string
	Secret    string
	ExpiresAt time.Time
}

// Creator issues the session-creation request.
type Creator interface {
	CreateSession(ctx context.Context, cfg SessionConfig) (*Credential, error)
}

// HTTPClient talks to the REST side of the realtime API.
type HTTPClient struct {
	http   *http.Client
	apiKey string
	base   string
}

func NewClient(apiKey, baseURL string) *HTTPClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &HTTPClient{
		http:   &http.Client{Timeout: 30 * time.Second},
		apiKey: apiKey,
		base:   strings.TrimRight(baseURL, "/"),
	}
}

func (c *HTTPClient) CreateSession(ctx context.Context, cfg SessionConfig) (*Credential, error) {
	if c.apiKey == "" {
		return nil, errors.New("missing API key")
	}
	var body bytes.Buffer
	if err := json.NewEncoder(&body).Encode(cfg); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/realtime/sessions", &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &HTTPError{StatusCode: resp.StatusCode, Status: resp.Status, Body: strings.TrimSpace(string(b))}
	}
	var parsed struct {
		ID           string `json:"id"`
		ClientSecret struct {
			Value     string `json:"value"`
			ExpiresAt int64  `json:"expires_at"`
		} `json:"client_secret"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	if parsed.ClientSecret.Value == "" {
		return nil, errors.New("empty client secret")
	}
	cred := &Credential{SessionID: parsed.ID, Secret: parsed.ClientSecret.Value}
	if parsed.ClientSecret.ExpiresAt > 0 {
		cred.ExpiresAt = time.Unix(parsed.ClientSecret.ExpiresAt, 0).UTC()
	}
	return cred, nil
}

// Ping checks that the API is reachable and the key is accepted.
func (c *HTTPClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/models", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
	if resp.StatusCode/100 != 2 {
		return &HTTPError{StatusCode: resp.StatusCode, Status: resp.Status}
	}
	return nil
}
