package progressfeed

import (
	"context"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/studiowebux/surge/internal/registry"
	"github.com/studiowebux/surge/internal/types"
)

// Server streams execution progress snapshots over WebSocket. Each
// connection to /executions/{id}/progress subscribes a listener on
// the registry; snapshots are relayed as JSON until the client
// disconnects or the feed shuts down.
type Server struct {
	registry *registry.Registry
	upgrader websocket.Upgrader
	server   *http.Server
	log      *zap.Logger
}

// New builds a progress feed bound to the registry.
func New(reg *registry.Registry, log *zap.Logger) *Server {
	return &Server{
		registry: reg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		log: log,
	}
}

// Serve listens on addr until Shutdown is called.
func (s *Server) Serve(addr string) error {
	s.server = &http.Server{Addr: addr, Handler: s.handler()}
	return s.server.ListenAndServe()
}

func (s *Server) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/executions/", s.handleProgress)
	return mux
}

// Shutdown stops the feed server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	id := executionID(r.URL.Path)
	if id == "" {
		http.Error(w, "missing execution id", http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	// Buffered relay: the broadcast path must never block on a slow
	// client, so full buffers drop the snapshot (the next one
	// supersedes it anyway).
	updates := make(chan types.ExecutionProgress, 16)
	token := s.registry.AddListener(id, func(p types.ExecutionProgress) {
		select {
		case updates <- p:
		default:
		}
	})
	defer s.registry.RemoveListener(id, token)

	// Drain client frames so close messages are processed.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case progress := <-updates:
			if err := conn.WriteJSON(progress); err != nil {
				return
			}
		}
	}
}

// executionID extracts the id from /executions/{id}/progress.
func executionID(path string) string {
	if !strings.HasPrefix(path, "/executions/") || !strings.HasSuffix(path, "/progress") {
		return ""
	}
	id := strings.TrimSuffix(strings.TrimPrefix(path, "/executions/"), "/progress")
	if id == "" || strings.Contains(id, "/") {
		return ""
	}
	return id
}
