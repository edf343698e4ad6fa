// Package admin serves the relay's operational HTTP surface: metrics, health,
// a session listing, and a WebSocket gateway into the chat protocol.
package admin

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/andy6609/prattle/internal/chat"
)

// Relay is the part of the chat server the admin surface needs.
type Relay interface {
	Registry() *chat.Registry
	Admit(conn net.Conn) *chat.Session
}

// SessionInfo is one row of the /sessions listing.
type SessionInfo struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	State   string `json:"state"`
	Remote  string `json:"remote"`
	Pending int    `json:"pending"`
}

type handler struct {
	relay    Relay
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewRouter builds the admin routes. gatherer backs /metrics.
func NewRouter(relay Relay, gatherer prometheus.Gatherer, logger *slog.Logger) *mux.Router {
	if logger == nil {
		logger = slog.Default()
	}
	h := &handler{
		relay:  relay,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.health).Methods(http.MethodGet)
	r.HandleFunc("/sessions", h.sessions).Methods(http.MethodGet)
	r.HandleFunc("/ws", h.gateway).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	return r
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": h.relay.Registry().Len(),
	})
}

func (h *handler) sessions(w http.ResponseWriter, _ *http.Request) {
	snap := h.relay.Registry().Snapshot()
	out := make([]SessionInfo, 0, len(snap))
	for _, s := range snap {
		info := SessionInfo{
			ID:      s.ID().String(),
			Name:    s.Name(),
			State:   s.State().String(),
			Pending: s.Pending(),
		}
		if addr := s.RemoteAddr(); addr != nil {
			info.Remote = addr.String()
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	writeJSON(w, http.StatusOK, out)
}

// gateway upgrades the request and admits it as an ordinary relay client.
func (h *handler) gateway(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		h.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	sess := h.relay.Admit(newWSConn(ws))
	h.logger.Info("websocket client admitted", "session", sess.ID(), "remote", r.RemoteAddr)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// NewHTTPServer wraps handler with the timeouts the relay uses everywhere.
func NewHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// Shutdown stops srv, waiting at most timeout for in-flight requests.
func Shutdown(srv *http.Server, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return srv.Shutdown(ctx)
}
