// Package hardening validates deployment configuration before a service
// accepts traffic. In production-like environments it refuses to start with
// auth disabled, plaintext data stores, or missing PII secrets.
package hardening

import (
	"fmt"
	"strings"
)

type EnvRequirement struct {
	Name  string
	Value string
}

type Options struct {
	Service                string
	Environment            string
	StrictProdSecurity     string
	AuthMode               string
	DatabaseRequireTLS     string
	RedisAddr              string
	RedisRequireTLS        string
	RedisTLSInsecure       string
	RedisAllowInsecureTLS  string
	CORSAllowedOrigins     string
	PIIPassphrase          string
	PIISalt                string
	RequiredServiceSecrets []EnvRequirement
}

// ValidateProduction checks every hardening rule and reports all violations
// at once, so an operator fixes a bad deploy in one pass instead of
// restart-by-restart.
func ValidateProduction(o Options) error {
	if !isProductionLikeEnv(o.Environment) {
		return nil
	}
	if !isTrue(o.StrictProdSecurity, true) {
		return nil
	}

	var violations []string
	add := func(format string, args ...any) {
		violations = append(violations, fmt.Sprintf(format, args...))
	}

	if strings.EqualFold(strings.TrimSpace(o.AuthMode), "off") {
		add("AUTH_MODE=off is forbidden")
	}
	if !isTrue(o.DatabaseRequireTLS, false) {
		add("DATABASE_REQUIRE_TLS=true is required")
	}
	if strings.TrimSpace(o.RedisAddr) != "" {
		if !isTrue(o.RedisRequireTLS, false) {
			add("REDIS_REQUIRE_TLS=true is required")
		}
		if isTrue(o.RedisTLSInsecure, false) || isTrue(o.RedisAllowInsecureTLS, false) {
			add("REDIS_TLS_INSECURE and REDIS_ALLOW_INSECURE_TLS are forbidden")
		}
	}
	if strings.TrimSpace(o.PIIPassphrase) == "" {
		add("PII_PASSPHRASE is required")
	}
	if strings.TrimSpace(o.PIISalt) == "" {
		add("PII_SALT is required")
	}
	violations = append(violations, corsViolations(o.CORSAllowedOrigins)...)
	for _, req := range o.RequiredServiceSecrets {
		if strings.TrimSpace(req.Name) == "" {
			continue
		}
		if strings.TrimSpace(req.Value) == "" {
			add("%s is required", req.Name)
		}
	}

	if len(violations) == 0 {
		return nil
	}
	service := strings.TrimSpace(o.Service)
	if service == "" {
		service = "service"
	}
	return fmt.Errorf("%s: strict production hardening: %s", service, strings.Join(violations, "; "))
}

func corsViolations(raw string) []string {
	var out []string
	seen := 0
	for _, part := range strings.Split(raw, ",") {
		origin := strings.TrimSpace(part)
		if origin == "" {
			continue
		}
		seen++
		lower := strings.ToLower(origin)
		switch {
		case lower == "*":
			out = append(out, "CORS wildcard origin is forbidden")
		case strings.HasPrefix(lower, "http://localhost"),
			strings.HasPrefix(lower, "https://localhost"),
			strings.HasPrefix(lower, "http://127.0.0.1"),
			strings.HasPrefix(lower, "https://127.0.0.1"):
			out = append(out, fmt.Sprintf("localhost CORS origin %q is forbidden", origin))
		case !strings.HasPrefix(lower, "https://"):
			out = append(out, fmt.Sprintf("CORS origin %q must use HTTPS", origin))
		}
	}
	if seen == 0 {
		out = append(out, "explicit CORS_ALLOWED_ORIGINS is required")
	}
	return out
}

func isTrue(raw string, def bool) bool {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return def
	}
	return strings.EqualFold(trimmed, "true")
}

func isProductionLikeEnv(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "prod", "production", "staging", "stage":
		return true
	default:
		return false
	}
}
