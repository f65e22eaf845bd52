package main

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	quill "github.com/Paranoid-AF/quill"
)

const (
	panelWSWriteWait = 10 * time.Second
	panelWSPongWait  = 60 * time.Second
	panelWSPingEvery = (panelWSPongWait * 9) / 10
)

var panelWSUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// PanelHandler serves the panel over WebSocket. Each connection is one
// panel session with its own command state; it sends CommandRequest
// messages and receives exactly one CommandResponse per command, plus the
// initial state.
func (s *Server) PanelHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/panel", s.handlePanelWS)
	return mux
}

func (s *Server) handlePanelWS(w http.ResponseWriter, r *http.Request) {
	conn, err := panelWSUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	sessionID := "ws-" + uuid.NewString()
	logger := slog.Default().With("session", sessionID)
	panel := s.Panel(sessionID)
	defer s.dropPanel(sessionID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if err := conn.SetReadDeadline(time.Now().Add(panelWSPongWait)); err != nil {
		logger.Warn("panel ws set read deadline failed", "error", err)
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(panelWSPongWait))
	})

	writeCh := make(chan *quill.CommandResponse, 8)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		ticker := time.NewTicker(panelWSPingEvery)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case out := <-writeCh:
				if err := conn.SetWriteDeadline(time.Now().Add(panelWSWriteWait)); err != nil {
					return
				}
				if err := conn.WriteJSON(out); err != nil {
					return
				}
			case <-ticker.C:
				if err := conn.SetWriteDeadline(time.Now().Add(panelWSWriteWait)); err != nil {
					return
				}
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	push := func(resp *quill.CommandResponse) {
		select {
		case writeCh <- resp:
		case <-ctx.Done():
		}
	}

	push(panel.Handle(ctx, &quill.CommandRequest{Command: quill.CommandState}))
	logger.Info("panel connected")

	for {
		var req quill.CommandRequest
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("panel ws read failed", "error", err)
			}
			break
		}
		slog.Debug("panel request", "session", sessionID, "command", req.Command)
		// State queries are answered while a command is loading; a second
		// command is rejected by the orchestrator.
		go func() {
			push(panel.Handle(context.Background(), &req))
		}()
	}

	logger.Info("panel disconnected")
	cancel()
	<-writerDone
}
