package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"guidedconv/agent/internal/auth"
)

var metricRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "api_requests_total",
	Help: "Management API requests by route",
}, []string{"route"})

func NewRouter(h *Handlers) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	mux.Handle("/sessions", h.requireAPIKey(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			metricRequests.WithLabelValues("create").Inc()
			h.HandleCreateSession(w, r)
		case http.MethodGet:
			metricRequests.WithLabelValues("list").Inc()
			h.HandleListSessions(w, r)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})))

	mux.HandleFunc("/sessions/", func(w http.ResponseWriter, r *http.Request) {
		// /sessions/{id} | /sessions/{id}/events | /sessions/{id}/ws
		path := strings.TrimSuffix(r.URL.Path, "/")
		rest := strings.TrimPrefix(path, "/sessions/")
		parts := strings.Split(rest, "/")
		if len(parts) == 0 || parts[0] == "" || len(parts) > 2 {
			http.NotFound(w, r)
			return
		}
		id := parts[0]
		tail := ""
		if len(parts) > 1 {
			tail = parts[1]
		}

		switch tail {
		case "":
			h.requireAPIKey(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				switch r.Method {
				case http.MethodGet:
					metricRequests.WithLabelValues("get").Inc()
					h.HandleGetSession(w, r, id)
				case http.MethodDelete:
					metricRequests.WithLabelValues("delete").Inc()
					h.HandleDeleteSession(w, r, id)
				default:
					http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
				}
			})).ServeHTTP(w, r)
		case "events":
			if r.Method != http.MethodGet {
				http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
				return
			}
			h.requireAPIKey(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				metricRequests.WithLabelValues("events").Inc()
				h.HandleListEvents(w, r, id)
			})).ServeHTTP(w, r)
		case "ws":
			// authenticated by the client credential, not the API key
			if r.Method != http.MethodGet {
				http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
				return
			}
			metricRequests.WithLabelValues("relay").Inc()
			h.HandleRelay(w, r, id)
		default:
			http.NotFound(w, r)
		}
	})

	return mux
}

func (h *Handlers) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			writeError(w, http.StatusUnauthorized, "missing API key")
			return
		}
		if err := auth.CheckAPIKey(auth.BearerToken(r), h.cfg.Auth.APIKey); err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		next.ServeHTTP(w, r)
	})
}

// LogMiddleware logs every request once it has been served. It does not wrap the
// ResponseWriter so websocket upgrades keep working.
func LogMiddleware(log *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Debug("request", zap.String("method", r.Method), zap.String("path", r.URL.Path), zap.Duration("took", time.Since(start)))
	})
}
