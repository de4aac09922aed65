package main

import (
	"encoding/json"
	"net/http"
	"strings"

	"guardpost/pkg/httpx"
)

func (s *Server) listNotifications(w http.ResponseWriter, r *http.Request) {
	tenant, err := s.requestTenant(r, "")
	if err != nil {
		httpx.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	recipient := s.actor(r)
	if raw := strings.TrimSpace(r.URL.Query().Get("recipient")); raw != "" {
		recipient = raw
	}
	unreadOnly := strings.EqualFold(r.URL.Query().Get("unread"), "true")
	page := httpx.ParsePage(r, 50, 200)

	items, err := s.Notifications.List(r.Context(), tenant, recipient, unreadOnly, page.Limit)
	if err != nil {
		httpx.Error(w, http.StatusInternalServerError, "notification query failed")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"notifications": items})
}

func (s *Server) markNotificationsRead(w http.ResponseWriter, r *http.Request) {
	body, ok := readRequestBody(w, r)
	if !ok {
		return
	}
	var req struct {
		Tenant string   `json:"tenant,omitempty"`
		IDs    []string `json:"ids"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	tenant, err := s.requestTenant(r, req.Tenant)
	if err != nil {
		httpx.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.IDs) == 0 {
		httpx.Error(w, http.StatusBadRequest, "ids required")
		return
	}
	n, err := s.Notifications.MarkRead(r.Context(), tenant, s.actor(r), req.IDs)
	if err != nil {
		httpx.Error(w, http.StatusInternalServerError, "notification update failed")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"marked_read": n})
}
