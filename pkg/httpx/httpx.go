package httpx

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
)

// SecurityHeadersMiddleware applies baseline hardening headers to API responses.
func SecurityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Permissions-Policy", "geolocation=(), camera=(), microphone=()")
		h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'; base-uri 'none'")
		h.Set("Strict-Transport-Security", "max-age=63072000; includeSubDomains; preload")
		h.Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

type originAllowlist struct {
	origins  map[string]struct{}
	allowAll bool
}

func parseAllowlist(csv string) originAllowlist {
	al := originAllowlist{origins: map[string]struct{}{}}
	for _, part := range strings.Split(csv, ",") {
		origin := strings.TrimSpace(part)
		switch origin {
		case "":
		case "*":
			al.allowAll = true
		default:
			al.origins[origin] = struct{}{}
		}
	}
	return al
}

func (al originAllowlist) allows(origin string) bool {
	if al.allowAll {
		return true
	}
	_, ok := al.origins[origin]
	return ok
}

func isPreflight(r *http.Request) bool {
	return r.Method == http.MethodOptions &&
		strings.TrimSpace(r.Header.Get("Access-Control-Request-Method")) != ""
}

// CORSMiddleware enforces an explicit origin allowlist from comma-separated
// origins. Requests from unlisted origins pass through without CORS headers;
// their preflights are rejected outright.
func CORSMiddleware(allowedOrigins string) func(http.Handler) http.Handler {
	allowlist := parseAllowlist(allowedOrigins)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := strings.TrimSpace(r.Header.Get("Origin"))
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}
			if !allowlist.allows(origin) {
				if isPreflight(r) {
					http.Error(w, "origin not allowed", http.StatusForbidden)
					return
				}
				next.ServeHTTP(w, r)
				return
			}
			writeCORSHeaders(w.Header(), r, origin)
			if isPreflight(r) {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeCORSHeaders(h http.Header, r *http.Request, origin string) {
	h.Add("Vary", "Origin")
	h.Add("Vary", "Access-Control-Request-Method")
	h.Add("Vary", "Access-Control-Request-Headers")
	h.Set("Access-Control-Allow-Origin", origin)
	h.Set("Access-Control-Allow-Credentials", "true")
	h.Set("Access-Control-Allow-Methods", "GET,POST,PATCH,DELETE,OPTIONS")
	reqHeaders := strings.TrimSpace(r.Header.Get("Access-Control-Request-Headers"))
	if reqHeaders == "" {
		reqHeaders = "Authorization,Content-Type,X-Requested-With"
	}
	h.Set("Access-Control-Allow-Headers", reqHeaders)
	h.Set("Access-Control-Max-Age", "600")
}

func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func Error(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, map[string]interface{}{"error": msg})
}

// Page holds normalized limit/offset query parameters.
type Page struct {
	Limit  int
	Offset int
}

// ParsePage reads limit/offset query params, clamping limit to [1, max].
func ParsePage(r *http.Request, defaultLimit, maxLimit int) Page {
	if defaultLimit <= 0 {
		defaultLimit = 50
	}
	if maxLimit <= 0 {
		maxLimit = 500
	}
	q := r.URL.Query()
	p := Page{Limit: queryInt(q.Get("limit"), defaultLimit)}
	if p.Limit > maxLimit {
		p.Limit = maxLimit
	}
	p.Offset = queryInt(q.Get("offset"), 0)
	return p
}

func queryInt(raw string, def int) int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
