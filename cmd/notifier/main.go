package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"guardpost/pkg/events"
	"guardpost/pkg/httpx"
	"guardpost/pkg/metrics"
	"guardpost/pkg/notify"
	"guardpost/pkg/store"
	"guardpost/pkg/telemetry"
)

// Server turns domain events from the bus into stored notifications. The
// API service reads them back; this process only writes.
type Server struct {
	Store   *notify.Store
	Bus     events.Consumer
	Metrics *metrics.Registry
}

// Testable variables for main()
var (
	logFatalf       = log.Fatalf
	initTelemetryFn = telemetry.Init
	openDBFn        func(context.Context) (*notify.Store, func(), error)
	newConsumerFn   func() (events.Consumer, error)
	listenFn        func(*http.Server) error
)

func main() {
	if err := runNotifier(initTelemetryFn, openDBFn, newConsumerFn, listenFn); err != nil {
		logFatalf("notifier: %v", err)
	}
}

func runNotifier(
	initTelemetry func(context.Context, string) (func(context.Context) error, error),
	openDB func(context.Context) (*notify.Store, func(), error),
	newConsumer func() (events.Consumer, error),
	listen func(*http.Server) error,
) error {
	if initTelemetry == nil {
		initTelemetry = telemetry.Init
	}
	if openDB == nil {
		openDB = func(ctx context.Context) (*notify.Store, func(), error) {
			pool, err := store.NewPostgresPool(ctx)
			if err != nil {
				return nil, nil, err
			}
			return &notify.Store{DB: pool}, pool.Close, nil
		}
	}
	if newConsumer == nil {
		newConsumer = func() (events.Consumer, error) {
			return events.NewKafkaConsumer(events.KafkaConfig{
				Brokers: splitCSV(env("KAFKA_BROKERS", "localhost:9092")),
				Topic:   env("KAFKA_TOPIC", "guardpost.events"),
				GroupID: env("KAFKA_GROUP_ID", "guardpost-notifier"),
			})
		}
	}
	if listen == nil {
		listen = func(server *http.Server) error { return server.ListenAndServe() }
	}

	ctx := context.Background()
	shutdown, err := initTelemetry(ctx, "notifier")
	if err != nil {
		return err
	}
	defer func() { _ = shutdown(context.Background()) }()

	notifyStore, closeDB, err := openDB(ctx)
	if err != nil {
		return err
	}
	if closeDB != nil {
		defer closeDB()
	}

	consumer, err := newConsumer()
	if err != nil {
		return err
	}
	s := &Server{
		Store:   notifyStore,
		Bus:     consumer,
		Metrics: metrics.NewRegistry(),
	}
	defer func() { _ = s.Bus.Close() }()
	go s.consumeEvents(context.Background())

	r := chi.NewRouter()
	r.Use(httpx.SecurityHeadersMiddleware)
	r.Use(telemetry.HTTPMiddleware("notifier"))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, 200, map[string]string{"status": "ok", "service": "notifier"})
	})
	r.Get("/metrics", s.Metrics.Handler())
	r.Get("/metrics/prometheus", s.Metrics.PrometheusHandler())

	addr := env("ADDR", ":8086")
	log.Printf("notifier listening on %s", addr)
	server := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: envDurationSec("HTTP_READ_HEADER_TIMEOUT_SEC", 5),
		ReadTimeout:       envDurationSec("HTTP_READ_TIMEOUT_SEC", 15),
		WriteTimeout:      envDurationSec("HTTP_WRITE_TIMEOUT_SEC", 30),
		IdleTimeout:       envDurationSec("HTTP_IDLE_TIMEOUT_SEC", 120),
	}
	return listen(server)
}

func (s *Server) consumeEvents(ctx context.Context) {
	for {
		msg, err := s.Bus.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("notifier bus read error: %v", err)
			time.Sleep(500 * time.Millisecond)
			continue
		}
		if err := s.handleMessage(ctx, msg); err != nil {
			log.Printf("notifier event error: %v", err)
		}
	}
}

func (s *Server) handleMessage(ctx context.Context, msg events.Message) error {
	var env events.Envelope
	if err := json.Unmarshal(msg.Value, &env); err != nil {
		return err
	}
	notification, ok, err := notify.FromEnvelope(env)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if _, err := s.Store.Create(ctx, notification); err != nil {
		return err
	}
	s.Metrics.IncNotifications()
	return nil
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
