// Package auth guards the management surface: a static API key for management routes
// and short-lived HMAC credentials that let a client attach to one session's relay.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"
)

var (
	ErrTokenFormat = errors.New("invalid token format")
	ErrTokenSig    = errors.New("invalid token signature")
	ErrTokenExp    = errors.New("token expired")
	ErrTokenSID    = errors.New("session id mismatch")
	ErrAPIKey      = errors.New("invalid api key")
)

// GenerateClientToken builds a credential for sessionID valid until expUnix.
// Format: base64url(session_id + "." + exp_unix + "." + hex(hmac_sha256(secret, session_id+"."+exp)))
func GenerateClientToken(secret, sessionID string, expUnix int64) string {
	msg := sessionID + "." + strconv.FormatInt(expUnix, 10)
	raw := msg + "." + hex.EncodeToString(sign(secret, msg))
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// ValidateClientToken parses and checks a credential. A non-empty expectSessionID must
// match the embedded session id. The token stays valid for skewSeconds past its expiry.
func ValidateClientToken(secret, token, expectSessionID string, now time.Time, skewSeconds int) (string, int64, error) {
	b, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", 0, ErrTokenFormat
	}
	// session ids never contain dots, so the last two separators are ours
	s := string(b)
	i := strings.LastIndexByte(s, '.')
	if i <= 0 {
		return "", 0, ErrTokenFormat
	}
	msg, sigHex := s[:i], s[i+1:]
	j := strings.LastIndexByte(msg, '.')
	if j <= 0 {
		return "", 0, ErrTokenFormat
	}
	sid := msg[:j]
	exp, err := strconv.ParseInt(msg[j+1:], 10, 64)
	if err != nil {
		return "", 0, ErrTokenFormat
	}
	got, err := hex.DecodeString(sigHex)
	if err != nil {
		return "", 0, ErrTokenFormat
	}
	if !hmac.Equal(sign(secret, msg), got) {
		return "", 0, ErrTokenSig
	}
	if expectSessionID != "" && sid != expectSessionID {
		return "", 0, ErrTokenSID
	}
	if now.Unix() > exp+int64(skewSeconds) {
		return "", 0, ErrTokenExp
	}
	return sid, exp, nil
}

func sign(secret, msg string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(msg))
	return mac.Sum(nil)
}

// BearerToken extracts the token of an "Authorization: Bearer" header.
func BearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(h[7:])
}

// CheckAPIKey compares the presented key with the configured one in constant time.
func CheckAPIKey(presented, want string) error {
	if want == "" || subtle.ConstantTimeCompare([]byte(presented), []byte(want)) != 1 {
		return ErrAPIKey
	}
	return nil
}
