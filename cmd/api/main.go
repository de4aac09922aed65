package main

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"

	"guardpost/pkg/audit"
	"guardpost/pkg/auth"
	"guardpost/pkg/calendar"
	"guardpost/pkg/events"
	"guardpost/pkg/hardening"
	"guardpost/pkg/httpx"
	"guardpost/pkg/leads"
	"guardpost/pkg/metrics"
	"guardpost/pkg/notify"
	"guardpost/pkg/pii"
	"guardpost/pkg/pipeline"
	"guardpost/pkg/ratelimit"
	"guardpost/pkg/scheduling"
	"guardpost/pkg/store"
	"guardpost/pkg/stream"
	"guardpost/pkg/telemetry"
)

// Server wires every domain component behind the HTTP surface. Handlers live
// in the handlers_*.go files in this package.
type Server struct {
	DB            apiDB
	Cache         store.Cache
	Redis         *redis.Client
	Metrics       *metrics.Registry
	Hub           *stream.Hub
	Presence      *stream.Presence
	Bus           events.Publisher
	Audit         *audit.Writer
	PII           pii.Codec
	Scorer        leads.Scorer
	Assigner      *leads.Assigner
	Pipeline      *pipeline.Store
	Scheduling    *scheduling.Store
	Notifications *notify.Store
	Calendar      *calendar.Client

	AuthMode   string
	AuthSecret string

	RateLimiter        ratelimit.Limiter
	RateLimitEnabled   bool
	RateLimitPerMinute int
	RateLimitWindow    time.Duration

	RetentionEnabled  bool
	RetentionDays     int
	RetentionInterval time.Duration

	StaleLeadAfter    time.Duration
	StaleLeadInterval time.Duration

	TrustedProxyCIDRs   []*net.IPNet
	MaxRequestBodyBytes int64
}

type apiDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type apiDBCloser interface {
	apiDB
	Close()
}

type apiInitTelemetryFunc func(ctx context.Context, service string) (func(context.Context) error, error)
type apiOpenDBFunc func(ctx context.Context) (apiDBCloser, error)
type apiOpenRedisFunc func(ctx context.Context) (*redis.Client, error)
type apiListenFunc func(server *http.Server) error
type apiStartLoopsFunc func(s *Server)

// Testable variables for main()
var (
	logFatalf       = log.Fatalf
	initTelemetryFn = telemetry.Init
	openDBFn        = func(ctx context.Context) (apiDBCloser, error) { return store.NewPostgresPool(ctx) }
	openRedisFn     = store.NewRedis
	listenFn        = func(server *http.Server) error { return server.ListenAndServe() }
	startLoopsFn    = func(s *Server) {
		if s.RetentionEnabled {
			go s.retentionLoop(context.Background())
		}
		go s.metricsLoop(context.Background())
		go s.staleLeadLoop(context.Background())
		go s.presenceSweepLoop(context.Background())
	}
)

func main() {
	if err := runAPI(initTelemetryFn, openDBFn, openRedisFn, listenFn, startLoopsFn); err != nil {
		logFatalf("api: %v", err)
	}
}

func runAPI(
	initTelemetry apiInitTelemetryFunc,
	openDB apiOpenDBFunc,
	openRedis apiOpenRedisFunc,
	listen apiListenFunc,
	startLoops apiStartLoopsFunc,
) error {
	ctx := context.Background()
	shutdown, err := initTelemetry(ctx, "api")
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	pool, err := openDB(ctx)
	if err != nil {
		return fmt.Errorf("db: %w", err)
	}
	defer pool.Close()

	rateLimitEnabled := env("RATE_LIMIT_ENABLED", "true") == "true"
	redisClient, err := openRedis(ctx)
	if err != nil {
		log.Printf("redis unavailable, falling back to in-memory cache/limits: %v", err)
		redisClient = nil
	}
	if redisClient != nil {
		defer redisClient.Close()
	}
	cache := store.NewCache(ctx, redisClient)
	rateLimitWindow := time.Second * time.Duration(envInt("RATE_LIMIT_WINDOW_SEC", 60))
	if rateLimitWindow <= 0 {
		rateLimitWindow = time.Minute
	}
	trustedProxyCIDRs := parseCIDRs(env("TRUSTED_PROXY_CIDRS", ""))
	auditSalt := env("AUDIT_HASH_SALT", "")
	auditRedact := strings.EqualFold(strings.TrimSpace(env("AUDIT_REDACT", "true")), "true")
	maxRequestBodyBytes := int64(envInt("MAX_REQUEST_BODY_BYTES", 1<<20))
	if maxRequestBodyBytes <= 0 {
		maxRequestBodyBytes = 1 << 20
	}

	piiPassphrase := env("PII_PASSPHRASE", "")
	piiSalt := env("PII_SALT", "")
	var codec pii.Codec = pii.Noop{}
	if piiPassphrase != "" && piiSalt != "" {
		keyring, err := pii.NewKeyring(
			map[int]string{envInt("PII_KEY_VERSION", 1): piiPassphrase},
			[]byte(piiSalt),
			envInt("PII_ITERATIONS", 210000),
		)
		if err != nil {
			return fmt.Errorf("pii keyring: %w", err)
		}
		codec = keyring
	} else {
		log.Printf("PII encryption disabled, contact fields stored in plaintext")
	}

	var bus events.Publisher = (*events.KafkaPublisher)(nil)
	if env("KAFKA_ENABLED", "false") == "true" {
		publisher, err := events.NewKafkaPublisher(events.KafkaConfig{
			Brokers: splitCSV(env("KAFKA_BROKERS", "localhost:9092")),
			Topic:   env("KAFKA_TOPIC", "guardpost.events"),
		})
		if err != nil {
			return fmt.Errorf("kafka: %w", err)
		}
		bus = publisher
	}
	defer func() { _ = bus.Close() }()

	s := &Server{
		DB:       pool,
		Cache:    cache,
		Redis:    redisClient,
		Metrics:  metrics.NewRegistry(),
		Hub:      stream.NewHub(),
		Presence: stream.NewPresence(time.Second * time.Duration(envInt("PRESENCE_TTL_SEC", 30))),
		Bus:      bus,
		Audit:    &audit.Writer{DB: pool, HashSalt: []byte(auditSalt), Redact: auditRedact},
		PII:      codec,
		Scorer: leads.Scorer{
			Weights:       leads.DefaultWeights(),
			ServedRegions: splitCSV(env("SERVED_REGIONS", "")),
			Services:      splitCSV(env("SERVICE_TYPES", "")),
		},
		Pipeline:            &pipeline.Store{DB: pool},
		Scheduling:          &scheduling.Store{DB: pool},
		Notifications:       &notify.Store{DB: pool},
		AuthMode:            env("AUTH_MODE", "oidc_hs256"),
		AuthSecret:          env("OIDC_HS256_SECRET", ""),
		RateLimitEnabled:    rateLimitEnabled,
		RateLimitPerMinute:  envInt("RATE_LIMIT_PER_MINUTE", 240),
		RateLimitWindow:     rateLimitWindow,
		RetentionEnabled:    env("RETENTION_ENABLED", "false") == "true",
		RetentionDays:       envInt("RETENTION_DAYS", 365),
		RetentionInterval:   time.Second * time.Duration(envInt("RETENTION_INTERVAL_SEC", 3600)),
		StaleLeadAfter:      time.Hour * time.Duration(envInt("STALE_LEAD_AFTER_HOURS", 48)),
		StaleLeadInterval:   time.Second * time.Duration(envInt("STALE_LEAD_INTERVAL_SEC", 900)),
		TrustedProxyCIDRs:   trustedProxyCIDRs,
		MaxRequestBodyBytes: maxRequestBodyBytes,
	}
	s.Assigner = &leads.Assigner{Cache: cache, Workload: &workloadCounter{DB: pool}}
	s.Calendar = &calendar.Client{
		Config: calendar.Config{
			Provider:     env("CALENDAR_PROVIDER", "google"),
			ClientID:     env("CALENDAR_CLIENT_ID", ""),
			ClientSecret: env("CALENDAR_CLIENT_SECRET", ""),
			AuthURL:      env("CALENDAR_AUTH_URL", "https://accounts.google.com/o/oauth2/v2/auth"),
			TokenURL:     env("CALENDAR_TOKEN_URL", "https://oauth2.googleapis.com/token"),
			EventsURL:    env("CALENDAR_EVENTS_URL", "https://www.googleapis.com/calendar/v3/calendars/{calendar}/events"),
			RedirectURI:  env("CALENDAR_REDIRECT_URI", ""),
			Scopes:       splitCSV(env("CALENDAR_SCOPES", "https://www.googleapis.com/auth/calendar.events")),
		},
		DB:         pool,
		Codec:      codec,
		HTTP:       telemetry.InstrumentClient(&http.Client{Timeout: time.Millisecond * time.Duration(envInt("CALENDAR_TIMEOUT_MS", 5000))}),
		Retries:    envInt("CALENDAR_RETRIES", 1),
		RetryDelay: time.Millisecond * time.Duration(envInt("CALENDAR_RETRY_DELAY_MS", 100)),
	}

	runtimeEnv := env("ENVIRONMENT", env("APP_ENV", ""))
	if strings.EqualFold(s.AuthMode, "off") {
		if env("ALLOW_INSECURE_AUTH_OFF", "false") != "true" {
			return errors.New("AUTH_MODE=off is disabled unless ALLOW_INSECURE_AUTH_OFF=true")
		}
		if isProductionLikeEnv(runtimeEnv) {
			return errors.New("AUTH_MODE=off is forbidden in production-like environments")
		}
		if !isExplicitNonProductionEnv(runtimeEnv) && !isTestBinaryProcess() {
			return errors.New("AUTH_MODE=off requires ENVIRONMENT=development|dev|local|test")
		}
	}
	if err := hardening.ValidateProduction(hardening.Options{
		Service:               "api",
		Environment:           runtimeEnv,
		StrictProdSecurity:    env("STRICT_PROD_SECURITY", "true"),
		AuthMode:              s.AuthMode,
		DatabaseRequireTLS:    env("DATABASE_REQUIRE_TLS", ""),
		RedisAddr:             env("REDIS_ADDR", ""),
		RedisRequireTLS:       env("REDIS_REQUIRE_TLS", ""),
		RedisTLSInsecure:      env("REDIS_TLS_INSECURE", ""),
		RedisAllowInsecureTLS: env("REDIS_ALLOW_INSECURE_TLS", ""),
		CORSAllowedOrigins:    env("CORS_ALLOWED_ORIGINS", ""),
		PIIPassphrase:         piiPassphrase,
		PIISalt:               piiSalt,
	}); err != nil {
		return err
	}
	if s.RateLimitEnabled {
		if redisClient != nil {
			s.RateLimiter = ratelimit.NewRedis(redisClient, rateLimitWindow)
		} else {
			s.RateLimiter = ratelimit.NewMemory(rateLimitWindow)
		}
	}

	r := chi.NewRouter()
	r.Use(httpx.CORSMiddleware(env("CORS_ALLOWED_ORIGINS", "")))
	r.Use(httpx.SecurityHeadersMiddleware)
	r.Use(s.metricsMiddleware)
	r.Use(telemetry.HTTPMiddleware("api"))
	r.Use(s.limitRequestBodyMiddleware)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, 200, map[string]string{"status": "ok", "service": "api"})
	})

	authRouter := chi.NewRouter()
	authTimeout := time.Millisecond * time.Duration(envInt("AUTH_TIMEOUT_MS", 5000))
	authRouter.Use(auth.Middleware(
		s.AuthMode,
		s.AuthSecret,
		auth.WithJWKS(env("OIDC_JWKS_URL", "")),
		auth.WithIssuer(env("OIDC_ISSUER", "")),
		auth.WithAudience(env("OIDC_AUDIENCE", "")),
		auth.WithTimeout(authTimeout),
	))
	authRouter.Use(s.rateLimitMiddleware)
	authRouter.Get("/metrics", s.Metrics.Handler())
	authRouter.Get("/metrics/prometheus", s.Metrics.PrometheusHandler())

	authRouter.Post("/v1/leads", s.withRoles(s.createLead, "salesrep", "owner", "admin"))
	authRouter.Get("/v1/leads", s.withRoles(s.listLeads, "salesrep", "owner", "admin"))
	authRouter.Get("/v1/leads/{lead_id}", s.withRoles(s.getLead, "salesrep", "owner", "admin"))
	authRouter.Post("/v1/leads/{lead_id}/transition", s.withRoles(s.transitionLead, "salesrep", "owner", "admin"))
	authRouter.Post("/v1/leads/{lead_id}/assign", s.withRoles(s.assignLead, "salesrep", "owner", "admin"))
	authRouter.Post("/v1/leads/{lead_id}/score", s.withRoles(s.rescoreLead, "salesrep", "owner", "admin"))

	authRouter.Get("/v1/pipeline/board", s.withRoles(s.pipelineBoard, "recruiter", "owner", "admin"))
	authRouter.Post("/v1/applications", s.withRoles(s.createApplication, "recruiter", "owner", "admin"))
	authRouter.Get("/v1/applications/{application_id}", s.withRoles(s.getApplication, "recruiter", "owner", "admin"))
	authRouter.Post("/v1/applications/{application_id}/move", s.withRoles(s.moveApplication, "recruiter", "owner", "admin"))
	authRouter.Get("/v1/applications/{application_id}/history", s.withRoles(s.applicationHistory, "recruiter", "owner", "admin"))

	authRouter.Post("/v1/contracts", s.withRoles(s.createContract, "dispatcher", "owner", "admin"))
	authRouter.Get("/v1/contracts", s.withRoles(s.listContracts, "dispatcher", "owner", "admin"))
	authRouter.Post("/v1/contracts/{contract_id}/transition", s.withRoles(s.transitionContract, "dispatcher", "owner", "admin"))
	authRouter.Get("/v1/contracts/{contract_id}/coverage", s.withRoles(s.contractCoverage, "dispatcher", "owner", "admin"))
	authRouter.Post("/v1/shifts", s.withRoles(s.createShift, "dispatcher", "owner", "admin"))
	authRouter.Get("/v1/shifts", s.withRoles(s.listShifts, "dispatcher", "owner", "admin"))
	authRouter.Post("/v1/shifts/{shift_id}/transition", s.withRoles(s.transitionShift, "dispatcher", "owner", "admin"))

	authRouter.Post("/v1/experiments", s.withRoles(s.createExperiment, "owner", "admin"))
	authRouter.Get("/v1/experiments", s.withRoles(s.listExperiments, "owner", "admin"))
	authRouter.Post("/v1/experiments/{key}/transition", s.withRoles(s.transitionExperiment, "owner", "admin"))
	authRouter.Post("/v1/experiments/{key}/assign", s.withRoles(s.assignVariant, "salesrep", "owner", "admin"))
	authRouter.Post("/v1/experiments/{key}/convert", s.withRoles(s.recordConversion, "salesrep", "owner", "admin"))
	authRouter.Get("/v1/experiments/{key}/results", s.withRoles(s.experimentResults, "owner", "admin"))

	authRouter.Get("/v1/notifications", s.withRoles(s.listNotifications))
	authRouter.Post("/v1/notifications/read", s.withRoles(s.markNotificationsRead))

	authRouter.Get("/v1/stream", s.withRoles(s.streamEvents))
	authRouter.Get("/v1/presence/{board}", s.withRoles(s.boardPresence))

	authRouter.Get("/v1/audit/{record_id}", s.withRoles(s.getAudit, "complianceofficer", "admin"))
	authRouter.Get("/v1/audit", s.withRoles(s.auditTrail, "complianceofficer", "admin"))
	authRouter.Get("/v1/compliance/export", s.withRoles(s.exportComplianceData, "complianceofficer", "admin"))
	authRouter.Get("/v1/compliance/report", s.withRoles(s.complianceReport, "complianceofficer", "admin"))
	authRouter.Post("/v1/compliance/retention/run", s.withRoles(s.runRetentionNow, "complianceofficer", "admin"))
	authRouter.Get("/v1/compliance/subjects/restrictions", s.withRoles(s.listSubjectRestrictions, "complianceofficer", "admin"))
	authRouter.Post("/v1/compliance/subjects/restrict", s.withRoles(s.restrictSubject, "complianceofficer", "admin"))
	authRouter.Post("/v1/compliance/subjects/unrestrict", s.withRoles(s.unrestrictSubject, "complianceofficer", "admin"))
	authRouter.Get("/v1/gdpr/export", s.withRoles(s.handleGDPRExport, "complianceofficer", "admin"))
	authRouter.Post("/v1/gdpr/erasure", s.withRoles(s.handleGDPRErasure, "complianceofficer", "admin"))

	authRouter.Post("/v1/calendar/connect", s.withRoles(s.connectCalendar))
	authRouter.Post("/v1/calendar/callback", s.withRoles(s.calendarCallback))
	authRouter.Post("/v1/calendar/unlink", s.withRoles(s.unlinkCalendar))
	authRouter.Post("/v1/calendar/sync", s.withRoles(s.syncShiftToCalendar, "dispatcher", "owner", "admin"))
	r.Mount("/", authRouter)

	if startLoops != nil {
		startLoops(s)
	}

	addr := env("ADDR", ":8080")
	log.Printf("api listening on %s", addr)
	server := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: envDurationSec("HTTP_READ_HEADER_TIMEOUT_SEC", 5),
		ReadTimeout:       envDurationSec("HTTP_READ_TIMEOUT_SEC", 15),
		WriteTimeout:      envDurationSec("HTTP_WRITE_TIMEOUT_SEC", 30),
		IdleTimeout:       envDurationSec("HTTP_IDLE_TIMEOUT_SEC", 120),
	}
	if listen == nil {
		return errors.New("listen function required")
	}
	return listen(server)
}

// workloadCounter backs lowest_workload assignment with live open-lead counts.
type workloadCounter struct {
	DB apiDB
}

func (c *workloadCounter) OpenLeadCounts(ctx context.Context, tenant string) (map[string]int, error) {
	rows, err := c.DB.Query(ctx, `
		SELECT assigned_to, COUNT(*) FROM leads
		WHERE tenant = $1 AND assigned_to <> '' AND status NOT IN ('WON','LOST','DISQUALIFIED')
		GROUP BY assigned_to
	`, tenant)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := map[string]int{}
	for rows.Next() {
		var rep string
		var n int
		if err := rows.Scan(&rep, &n); err != nil {
			return nil, err
		}
		counts[rep] = n
	}
	return counts, rows.Err()
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (s *statusRecorder) WriteHeader(statusCode int) {
	s.code = statusCode
	s.ResponseWriter.WriteHeader(statusCode)
}

func (srv *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: 200}
		next.ServeHTTP(rec, r)
		elapsed := time.Since(start)
		path := r.Method + " " + r.URL.Path
		srv.Metrics.Observe(path, rec.code, elapsed)
		srv.Metrics.ObserveLatency(path, elapsed)
	})
}

func (s *Server) limitRequestBodyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.MaxRequestBodyBytes > 0 && r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, s.MaxRequestBodyBytes)
		}
		next.ServeHTTP(w, r)
	})
}

// rateLimitMiddleware throttles mutating requests per tenant, route, and
// client IP. Reads stay unthrottled so dashboards keep polling under load.
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.RateLimitEnabled || s.RateLimiter == nil {
			next.ServeHTTP(w, r)
			return
		}
		switch r.Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		default:
			next.ServeHTTP(w, r)
			return
		}
		tenant := "global"
		if principal, ok := auth.PrincipalFromContext(r.Context()); ok && principal.Tenant != "" {
			tenant = principal.Tenant
		}
		key := ratelimit.ClientKey(tenant, r.URL.Path, s.clientIP(r))
		decision := s.RateLimiter.Allow(key, s.RateLimitPerMinute)
		if !decision.Allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(decision.RetryAfter/time.Second)+1))
			httpx.Error(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) withRoles(h http.HandlerFunc, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if strings.EqualFold(s.AuthMode, "off") {
			h(w, r)
			return
		}
		principal, ok := auth.PrincipalFromContext(r.Context())
		if !ok {
			httpx.Error(w, 401, "unauthenticated")
			return
		}
		if len(roles) > 0 && !auth.HasAnyRole(principal, roles...) {
			httpx.Error(w, 403, "forbidden")
			return
		}
		if !isElevatedPrincipal(principal) && strings.TrimSpace(principal.Tenant) == "" {
			httpx.Error(w, 403, "tenant required")
			return
		}
		h(w, r)
	}
}

// tenantScope returns the tenant a query must be limited to. Elevated
// principals (and auth off, for tests) get cross-tenant access.
func (s *Server) tenantScope(ctx context.Context) (string, bool) {
	if strings.EqualFold(s.AuthMode, "off") {
		return "", false
	}
	principal, ok := auth.PrincipalFromContext(ctx)
	if !ok {
		return "", false
	}
	if isElevatedPrincipal(principal) {
		return "", false
	}
	if principal.Tenant == "" {
		return "", false
	}
	return principal.Tenant, true
}

// requestTenant resolves the tenant a mutating request acts on: the
// principal's tenant, or an explicit one when the caller is elevated or auth
// is off.
func (s *Server) requestTenant(r *http.Request, provided string) (string, error) {
	if tenant, ok := s.tenantScope(r.Context()); ok {
		return tenant, nil
	}
	provided = strings.TrimSpace(provided)
	if provided == "" {
		provided = strings.TrimSpace(r.URL.Query().Get("tenant"))
	}
	if provided == "" {
		return "", errors.New("tenant required")
	}
	return provided, nil
}

func (s *Server) actor(r *http.Request) string {
	if principal, ok := auth.PrincipalFromContext(r.Context()); ok && principal.Subject != "" {
		return principal.Subject
	}
	return "anonymous"
}

func isElevatedPrincipal(principal auth.Principal) bool {
	return auth.HasAnyRole(principal, "admin", "complianceofficer")
}

func (s *Server) clientIP(r *http.Request) string {
	remoteIP := parseIP(r.RemoteAddr)
	if remoteIP == "" {
		remoteIP = r.RemoteAddr
	}
	if remoteIP != "" && s.isTrustedProxy(remoteIP) {
		if xff := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); xff != "" {
			parts := strings.Split(xff, ",")
			if len(parts) > 0 {
				candidate := parseIP(strings.TrimSpace(parts[0]))
				if candidate != "" {
					return candidate
				}
			}
		}
		if realIP := parseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); realIP != "" {
			return realIP
		}
	}
	if remoteIP == "" {
		return "unknown"
	}
	return remoteIP
}

func (s *Server) isTrustedProxy(ipStr string) bool {
	if len(s.TrustedProxyCIDRs) == 0 {
		return false
	}
	ip := net.ParseIP(strings.TrimSpace(ipStr))
	if ip == nil {
		return false
	}
	for _, cidr := range s.TrustedProxyCIDRs {
		if cidr.Contains(ip) {
			return true
		}
	}
	return false
}

func parseIP(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(addr); err == nil && host != "" {
		return host
	}
	if net.ParseIP(addr) != nil {
		return addr
	}
	return ""
}

func parseCIDRs(raw string) []*net.IPNet {
	var nets []*net.IPNet
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if _, cidr, err := net.ParseCIDR(part); err == nil {
			nets = append(nets, cidr)
		} else {
			log.Printf("ignoring invalid trusted proxy CIDR %q", part)
		}
	}
	return nets
}

func hashIdentity(value string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(value)))
	return fmt.Sprintf("%x", sum[:])
}

func isProductionLikeEnv(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "prod", "production", "staging", "stage":
		return true
	default:
		return false
	}
}

func isExplicitNonProductionEnv(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "development", "dev", "local", "test", "testing", "ci":
		return true
	default:
		return false
	}
}

func isTestBinaryProcess() bool {
	return strings.HasSuffix(os.Args[0], ".test") || strings.Contains(os.Args[0], "__debug_bin")
}

func splitCSV(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envDurationSec(k string, def int) time.Duration {
	return time.Second * time.Duration(envInt(k, def))
}
