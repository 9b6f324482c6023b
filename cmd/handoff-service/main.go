package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/pupiltree/voice-handoff/api/handoff"
	"github.com/pupiltree/voice-handoff/internal/analysis"
	"github.com/pupiltree/voice-handoff/internal/bridge"
	"github.com/pupiltree/voice-handoff/internal/dedup"
	"github.com/pupiltree/voice-handoff/internal/ingress"
	"github.com/pupiltree/voice-handoff/internal/procstate"
	"github.com/pupiltree/voice-handoff/internal/registry"
	"github.com/pupiltree/voice-handoff/internal/store"
	"github.com/pupiltree/voice-handoff/internal/store/memstore"
	"github.com/pupiltree/voice-handoff/internal/store/redisstore"
	"github.com/pupiltree/voice-handoff/internal/telemetry"
	"github.com/pupiltree/voice-handoff/internal/work"
	pollytts "github.com/pupiltree/voice-handoff/providers/tts/polly"
	livekittransport "github.com/pupiltree/voice-handoff/transports/livekit"
)

const (
	envStoreBackend  = "HANDOFF_STORE_BACKEND"
	envSessionTTLMS  = "HANDOFF_SESSION_TTL_MS"
	envStateTTLMS    = "HANDOFF_STATE_TTL_MS"
	envDedupCapacity = "HANDOFF_DEDUP_CAPACITY"
	envWorkQueue     = "HANDOFF_WORK_QUEUE_CAPACITY"
	envWorkers       = "HANDOFF_WORKERS"
	envAnnounce      = "HANDOFF_ANNOUNCE_ENABLED"
)

const (
	defaultSessionTTL    = 30 * time.Minute
	defaultStateTTL      = 2 * time.Hour
	defaultDedupCapacity = 1024
	defaultWorkQueue     = 256
	defaultWorkers       = 8
)

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr, time.Now); err != nil {
		fmt.Fprintf(os.Stderr, "handoff-service: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer, now func() time.Time) error {
	if len(args) > 0 && (args[0] == "help" || args[0] == "-h" || args[0] == "--help") {
		printUsage(stdout)
		return nil
	}

	loadDotEnv(stderr)

	pipeline := telemetry.NewPipelineWithNow(telemetry.NewJSONLineSink(stderr), telemetry.Config{}, now)
	previous := telemetry.DefaultEmitter()
	telemetry.SetDefaultEmitter(pipeline)
	defer func() {
		_ = pipeline.Close()
		telemetry.SetDefaultEmitter(previous)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serve(ctx, stdout, now, pipeline)
}

func serve(ctx context.Context, stdout io.Writer, now func() time.Time, emitter telemetry.Emitter) error {
	ingressCfg, err := ingress.ConfigFromEnv()
	if err != nil {
		return fmt.Errorf("ingress config: %w", err)
	}
	lkCfg, err := livekittransport.ConfigFromEnv()
	if err != nil {
		return fmt.Errorf("livekit config: %w", err)
	}
	analysisCfg, err := analysis.ConfigFromEnv()
	if err != nil {
		return fmt.Errorf("analysis config: %w", err)
	}

	kv, closeStore, err := buildStore(now)
	if err != nil {
		return err
	}
	defer closeStore()

	sessionTTL, err := durationFromEnv(envSessionTTLMS, defaultSessionTTL)
	if err != nil {
		return err
	}
	stateTTL, err := durationFromEnv(envStateTTLMS, defaultStateTTL)
	if err != nil {
		return err
	}

	sessions, err := registry.New(kv, sessionTTL, registry.Options{Now: now, Emitter: emitter})
	if err != nil {
		return fmt.Errorf("session registry: %w", err)
	}
	states, err := procstate.New(kv, stateTTL, procstate.Options{Now: now, Emitter: emitter})
	if err != nil {
		return fmt.Errorf("state store: %w", err)
	}

	rooms, err := livekittransport.NewRoomClient(lkCfg, nil, now)
	if err != nil {
		return fmt.Errorf("livekit client: %w", err)
	}

	var announcer bridge.Announcer
	if boolFromEnv(envAnnounce) {
		announcer = pollytts.NewSynthesizer(pollytts.ConfigFromEnv())
	}

	notifier, err := bridge.New(bridge.Config{RoomPrefix: lkCfg.RoomPrefix}, bridge.Dependencies{
		Registry:  sessions,
		Transport: rooms,
		Announcer: announcer,
		Now:       now,
		Emitter:   emitter,
	})
	if err != nil {
		return fmt.Errorf("notification bridge: %w", err)
	}

	analyzer, err := analysis.NewOpenAIAnalyzer(analysisCfg)
	if err != nil {
		return fmt.Errorf("analyzer: %w", err)
	}

	pool := work.NewPool(intFromEnv(envWorkQueue, defaultWorkQueue), intFromEnv(envWorkers, defaultWorkers))
	processor, err := analysis.NewProcessor(analysis.ProcessorDeps{
		States:   states,
		Notifier: notifier,
		Analyzer: analyzer,
		Pool:     pool,
		Timeout:  analysisCfg.Timeout,
		Now:      now,
		Emitter:  emitter,
	})
	if err != nil {
		return fmt.Errorf("processor: %w", err)
	}

	gate := dedup.NewGateWithEmitter(intFromEnv(envDedupCapacity, defaultDedupCapacity), emitter)
	receiver, err := ingress.NewReceiver(gate, eventDispatcher{processor: processor}, ingress.ReceiverOptions{Emitter: emitter})
	if err != nil {
		return fmt.Errorf("receiver: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle(ingressCfg.Path, ingress.NewWebhookHandler(ingressCfg, receiver, emitter))
	mux.Handle(ingressCfg.VoicePath, ingress.NewVoiceWebhookHandler(sessions, lkCfg.RoomPrefix, emitter))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "ok")
	})

	server := &http.Server{
		Addr:              ingressCfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("webhook server: %w", err)
		}
	}()

	if ingressCfg.GatewayURL != "" {
		go func() {
			err := ingress.RunGateway(ctx, ingressCfg.GatewayURL, ingressCfg.GatewayToken, receiver,
				ingress.GatewayOptions{Emitter: emitter}, ingress.GatewayReconnectOptions{})
			if err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("gateway client: %w", err)
			}
		}()
	}

	_, _ = fmt.Fprintf(stdout, "handoff-service: listening on %s (webhook %s)\n", ingressCfg.ListenAddr, ingressCfg.Path)

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
	if err := pool.Drain(shutdownCtx); err != nil {
		emitter.EmitLog("service.shutdown", telemetry.SeverityWarn, "work pool drain: "+err.Error(), nil, telemetry.Correlation{EmittedBy: "service"})
	}
	return runErr
}

// eventDispatcher lets the ingress pipeline hand admitted events to the
// analysis processor.
type eventDispatcher struct {
	processor *analysis.Processor
}

func (d eventDispatcher) Dispatch(ctx context.Context, event handoff.InboundEvent) error {
	return d.processor.DispatchEvent(ctx, event)
}

func buildStore(now func() time.Time) (store.Store, func(), error) {
	backend := strings.ToLower(strings.TrimSpace(os.Getenv(envStoreBackend)))
	switch backend {
	case "", "memory":
		return memstore.NewWithNow(now), func() {}, nil
	case "redis":
		cfg, err := redisstore.ConfigFromEnv()
		if err != nil {
			return nil, nil, fmt.Errorf("redis config: %w", err)
		}
		kv, err := redisstore.New(cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("redis store: %w", err)
		}
		return kv, func() { _ = kv.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unsupported %s %q (use memory or redis)", envStoreBackend, backend)
	}
}

// loadDotEnv layers .env.local over .env without overriding variables
// already present in the environment.
func loadDotEnv(stderr io.Writer) {
	for _, p := range []string{".env.local", ".env"} {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			fmt.Fprintf(stderr, "handoff-service: failed to load %s: %v\n", p, err)
		}
	}
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("parse %s: must be a positive millisecond count", key)
	}
	return time.Duration(v) * time.Millisecond, nil
}

func intFromEnv(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}

func boolFromEnv(key string) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func printUsage(out io.Writer) {
	_, _ = fmt.Fprintln(out, "handoff-service usage:")
	_, _ = fmt.Fprintln(out, "  handoff-service            start the webhook listener and optional gateway client")
	_, _ = fmt.Fprintln(out, "  handoff-service help       show this message")
	_, _ = fmt.Fprintf(out, "\nSet %s=redis to back sessions and processing state with Redis.\n", envStoreBackend)
}
