package main

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"

	"guardpost/pkg/httpx"
	"guardpost/pkg/stream"
)

// streamEvents upgrades to a websocket and relays tenant events. A board
// query parameter additionally registers the caller as a live viewer of that
// board until the socket closes.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	opts := &websocket.AcceptOptions{OriginPatterns: wsOriginPatterns()}
	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream closed")

	tenant, _ := s.tenantScope(r.Context())
	viewer := s.actor(r)
	board := strings.TrimSpace(r.URL.Query().Get("board"))
	if board != "" {
		key := board + ":" + tenant
		s.Presence.Touch(key, viewer)
		defer s.Presence.Leave(key, viewer)
	}

	ch := s.Hub.Subscribe(tenant, 64)
	defer s.Hub.Unsubscribe(ch)

	ctx := r.Context()
	_ = wsjson.Write(ctx, conn, stream.NewEvent("ready", tenant, map[string]string{"viewer": viewer}))

	readErr := make(chan error, 1)
	go func() {
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				readErr <- err
				return
			}
			// any client frame doubles as a presence heartbeat
			if board != "" {
				s.Presence.Touch(board+":"+tenant, viewer)
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case <-readErr:
			return
		case evt := <-ch:
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := wsjson.Write(writeCtx, conn, evt)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func (s *Server) boardPresence(w http.ResponseWriter, r *http.Request) {
	tenant, _ := s.tenantScope(r.Context())
	board := chi.URLParam(r, "board")
	viewers := s.Presence.Viewers(board + ":" + tenant)
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"board":   board,
		"viewers": viewers,
	})
}

func wsOriginPatterns() []string {
	raw := strings.TrimSpace(env("WS_ALLOWED_ORIGINS", ""))
	if raw == "" {
		return nil
	}
	var patterns []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			patterns = append(patterns, part)
		}
	}
	return patterns
}
