package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/michaelbrown/sandcmd/internal/pipeline"
)

// checkOrigin accepts requests without an Origin header (non-browser
// clients), same-host origins and any origin listed in
// server.allowed_origins. Everything else is refused with 403.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	if strings.EqualFold(u.Host, r.Host) {
		return true
	}
	for _, allowed := range s.cfg.Server.AllowedOrigins {
		if strings.EqualFold(strings.TrimSuffix(allowed, "/"), origin) {
			return true
		}
	}
	return false
}

// wsIncoming is a message from the client.
type wsIncoming struct {
	Type         string `json:"type"`
	Content      string `json:"content"`
	Image        string `json:"image,omitempty"`
	SystemPrompt string `json:"system_prompt,omitempty"`
}

// wsOutgoing is a message to the client.
type wsOutgoing struct {
	Type      string           `json:"type"`
	Content   string           `json:"content,omitempty"`
	From      pipeline.State   `json:"from,omitempty"`
	State     pipeline.State   `json:"state,omitempty"`
	ElapsedMS int64            `json:"elapsed_ms,omitempty"`
	Run       *pipeline.Result `json:"run,omitempty"`
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	// A hijacked connection no longer cancels r.Context() on disconnect, so
	// the reader cancels ctx itself when the client goes away. That aborts
	// any run in progress and tears down its sandbox.
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	msgs := make(chan wsIncoming)
	go func() {
		defer close(msgs)
		defer cancel()
		for {
			var msg wsIncoming
			if err := conn.ReadJSON(&msg); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					s.logger.Debug("websocket read failed", zap.Error(err))
				}
				return
			}
			select {
			case msgs <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()

	for msg := range msgs {
		if msg.Type != "run" {
			s.wsWriteJSON(conn, wsOutgoing{Type: "error", Content: "invalid message"})
			continue
		}
		s.processWebSocketRun(ctx, conn, msg)
	}
}

// processWebSocketRun executes one run, streaming each transition before the
// final done or error message. Transitions arrive on this goroutine, so
// writes to conn never overlap. ctx is canceled if the client disconnects.
func (s *Server) processWebSocketRun(ctx context.Context, conn *websocket.Conn, msg wsIncoming) {
	req := pipeline.Request{
		Instruction:  msg.Content,
		Image:        msg.Image,
		SystemPrompt: msg.SystemPrompt,
	}

	res, err := s.runner.TryExecute(ctx, req, func(t pipeline.Transition) {
		s.wsWriteJSON(conn, wsOutgoing{
			Type:      "transition",
			From:      t.From,
			State:     t.To,
			ElapsedMS: t.Elapsed.Milliseconds(),
		})
	})
	if err != nil {
		s.wsWriteJSON(conn, wsOutgoing{Type: "error", Content: err.Error(), Run: res})
		return
	}

	s.wsWriteJSON(conn, wsOutgoing{Type: "done", Content: res.Explanation, Run: res})
}

func (s *Server) wsWriteJSON(conn *websocket.Conn, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Error("websocket marshal failed", zap.Error(err))
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		s.logger.Debug("websocket write failed", zap.Error(err))
	}
}
