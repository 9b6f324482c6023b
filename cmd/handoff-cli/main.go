package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pupiltree/voice-handoff/api/handoff"
	"github.com/pupiltree/voice-handoff/internal/bridge"
	"github.com/pupiltree/voice-handoff/internal/poll"
	"github.com/pupiltree/voice-handoff/internal/procstate"
	"github.com/pupiltree/voice-handoff/internal/registry"
	"github.com/pupiltree/voice-handoff/internal/store"
	"github.com/pupiltree/voice-handoff/internal/store/memstore"
	"github.com/pupiltree/voice-handoff/internal/store/redisstore"
	livekittransport "github.com/pupiltree/voice-handoff/transports/livekit"
)

const (
	envStoreBackend = "HANDOFF_STORE_BACKEND"
	envStateTTLMS   = "HANDOFF_STATE_TTL_MS"
	envSessionTTLMS = "HANDOFF_SESSION_TTL_MS"
)

const (
	defaultStateTTL   = 2 * time.Hour
	defaultSessionTTL = 30 * time.Minute
)

func main() {
	if err := run(os.Args[1:], os.Stdout, time.Now); err != nil {
		fmt.Fprintf(os.Stderr, "handoff-cli: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer, now func() time.Time) error {
	if len(args) == 0 {
		printUsage(stdout)
		return nil
	}

	ctx := context.Background()
	switch args[0] {
	case "status":
		return runStatus(ctx, args[1:], stdout, now)
	case "await":
		return runAwait(ctx, args[1:], stdout, now)
	case "clear":
		return runClear(ctx, args[1:], stdout, now)
	case "session":
		return runSession(ctx, args[1:], stdout, now)
	case "notify":
		return runNotify(ctx, args[1:], stdout, now)
	case "rooms":
		return runRooms(ctx, stdout, now)
	case "help", "-h", "--help":
		printUsage(stdout)
		return nil
	default:
		printUsage(stdout)
		return fmt.Errorf("unsupported command %q", args[0])
	}
}

func printUsage(out io.Writer) {
	_, _ = fmt.Fprintln(out, "handoff-cli usage:")
	_, _ = fmt.Fprintln(out, "  handoff-cli status <identity>                          read the processing state once")
	_, _ = fmt.Fprintln(out, "  handoff-cli await <identity> [interval_ms] [max_ms]    poll until a terminal status or timeout")
	_, _ = fmt.Fprintln(out, "  handoff-cli clear <identity>                           delete the processing state record")
	_, _ = fmt.Fprintln(out, "  handoff-cli session <identity>                         show the active voice session, if any")
	_, _ = fmt.Fprintln(out, "  handoff-cli notify <identity> [message]                push a status_update to the active channel")
	_, _ = fmt.Fprintln(out, "  handoff-cli rooms                                      list live voice rooms")
}

func runStatus(ctx context.Context, args []string, stdout io.Writer, now func() time.Time) error {
	if len(args) < 1 {
		return fmt.Errorf("status requires an identity")
	}
	states, err := buildStateStore(now)
	if err != nil {
		return err
	}
	snapshot, err := states.GetStatus(ctx, handoff.NormalizeIdentity(args[0]))
	if err != nil {
		return fmt.Errorf("read status: %w", err)
	}
	return printSnapshot(stdout, snapshot)
}

func runAwait(ctx context.Context, args []string, stdout io.Writer, now func() time.Time) error {
	if len(args) < 1 {
		return fmt.Errorf("await requires an identity")
	}
	cfg := poll.Config{Interval: 2 * time.Second, MaxWait: 60 * time.Second}
	if len(args) >= 2 {
		v, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil || v <= 0 {
			return fmt.Errorf("interval_ms must be a positive integer")
		}
		cfg.Interval = time.Duration(v) * time.Millisecond
	}
	if len(args) >= 3 {
		v, err := strconv.ParseInt(args[2], 10, 64)
		if err != nil || v <= 0 {
			return fmt.Errorf("max_ms must be a positive integer")
		}
		cfg.MaxWait = time.Duration(v) * time.Millisecond
	}

	states, err := buildStateStore(now)
	if err != nil {
		return err
	}
	poller, err := poll.New(states, cfg, nil)
	if err != nil {
		return fmt.Errorf("poller: %w", err)
	}

	snapshot, err := poller.Await(ctx, handoff.NormalizeIdentity(args[0]))
	if printErr := printSnapshot(stdout, snapshot); printErr != nil {
		return printErr
	}
	if errors.Is(err, poll.ErrAwaitTimeout) {
		return fmt.Errorf("no terminal status within %s", cfg.MaxWait)
	}
	return err
}

func runClear(ctx context.Context, args []string, stdout io.Writer, now func() time.Time) error {
	if len(args) < 1 {
		return fmt.Errorf("clear requires an identity")
	}
	identity := handoff.NormalizeIdentity(args[0])
	states, err := buildStateStore(now)
	if err != nil {
		return err
	}
	if err := states.Clear(ctx, identity); err != nil {
		return fmt.Errorf("clear state: %w", err)
	}
	_, _ = fmt.Fprintf(stdout, "cleared processing state for %s\n", identity)
	return nil
}

func runSession(ctx context.Context, args []string, stdout io.Writer, now func() time.Time) error {
	if len(args) < 1 {
		return fmt.Errorf("session requires an identity")
	}
	identity := handoff.NormalizeIdentity(args[0])

	kv, closeStore, err := buildStore(now)
	if err != nil {
		return err
	}
	defer closeStore()
	sessions, err := registry.New(kv, defaultSessionTTL, registry.Options{Now: now})
	if err != nil {
		return fmt.Errorf("session registry: %w", err)
	}

	record, ok, err := sessions.Lookup(ctx, identity)
	if err != nil {
		return fmt.Errorf("lookup session: %w", err)
	}
	if !ok {
		_, _ = fmt.Fprintf(stdout, "no active session for %s\n", identity)
		return nil
	}
	encoder := json.NewEncoder(stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(record)
}

func runNotify(ctx context.Context, args []string, stdout io.Writer, now func() time.Time) error {
	if len(args) < 1 {
		return fmt.Errorf("notify requires an identity")
	}
	identity := handoff.NormalizeIdentity(args[0])
	message := "Status update from the operator console."
	if len(args) >= 2 {
		message = strings.Join(args[1:], " ")
	}

	lkCfg, err := livekittransport.ConfigFromEnv()
	if err != nil {
		return fmt.Errorf("livekit config: %w", err)
	}
	rooms, err := livekittransport.NewRoomClient(lkCfg, nil, now)
	if err != nil {
		return fmt.Errorf("livekit client: %w", err)
	}

	kv, closeStore, err := buildStore(now)
	if err != nil {
		return err
	}
	defer closeStore()
	sessions, err := registry.New(kv, defaultSessionTTL, registry.Options{Now: now})
	if err != nil {
		return fmt.Errorf("session registry: %w", err)
	}

	notifier, err := bridge.New(bridge.Config{RoomPrefix: lkCfg.RoomPrefix}, bridge.Dependencies{
		Registry:  sessions,
		Transport: rooms,
		Now:       now,
	})
	if err != nil {
		return fmt.Errorf("notification bridge: %w", err)
	}

	payload, _ := json.Marshal(map[string]string{"message": message})
	result := notifier.Notify(ctx, handoff.NotificationMessage{
		Type:          handoff.NotificationStatusUpdate,
		Identity:      identity,
		Payload:       payload,
		TimestampMS:   now().UnixMilli(),
		CorrelationID: "cli-" + uuid.NewString(),
	})
	_, _ = fmt.Fprintf(stdout, "delivery: %s", result.Status)
	if result.ChannelRef != "" {
		_, _ = fmt.Fprintf(stdout, " (room %s)", result.ChannelRef)
	}
	_, _ = fmt.Fprintln(stdout)
	return nil
}

func runRooms(ctx context.Context, stdout io.Writer, now func() time.Time) error {
	lkCfg, err := livekittransport.ConfigFromEnv()
	if err != nil {
		return fmt.Errorf("livekit config: %w", err)
	}
	client, err := livekittransport.NewRoomClient(lkCfg, nil, now)
	if err != nil {
		return fmt.Errorf("livekit client: %w", err)
	}
	rooms, err := client.ListRooms(ctx)
	if err != nil {
		return fmt.Errorf("list rooms: %w", err)
	}
	if len(rooms) == 0 {
		_, _ = fmt.Fprintln(stdout, "no live rooms")
		return nil
	}
	for _, room := range rooms {
		_, _ = fmt.Fprintf(stdout, "%s\tparticipants=%d\n", room.Name, room.NumParticipants)
	}
	return nil
}

func buildStateStore(now func() time.Time) (*procstate.StateStore, error) {
	kv, _, err := buildStore(now)
	if err != nil {
		return nil, err
	}
	ttl := defaultStateTTL
	if raw := strings.TrimSpace(os.Getenv(envStateTTLMS)); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v <= 0 {
			return nil, fmt.Errorf("parse %s: must be a positive millisecond count", envStateTTLMS)
		}
		ttl = time.Duration(v) * time.Millisecond
	}
	states, err := procstate.New(kv, ttl, procstate.Options{Now: now})
	if err != nil {
		return nil, fmt.Errorf("state store: %w", err)
	}
	return states, nil
}

// buildStore requires the Redis backend: a fresh in-memory store would
// never observe the service's state, so the CLI refuses to pretend.
func buildStore(now func() time.Time) (store.Store, func(), error) {
	backend := strings.ToLower(strings.TrimSpace(os.Getenv(envStoreBackend)))
	switch backend {
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
	case "memory":
		// Useful only for local smoke runs against nothing.
		return memstore.NewWithNow(now), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("set %s=redis to point the CLI at the shared store", envStoreBackend)
	}
}

func printSnapshot(stdout io.Writer, snapshot procstate.Snapshot) error {
	out := struct {
		Status        handoff.Status  `json:"status"`
		Message       string          `json:"message,omitempty"`
		Payload       json.RawMessage `json:"payload,omitempty"`
		CorrelationID string          `json:"correlation_id,omitempty"`
		Expired       bool            `json:"expired"`
		CreatedAtMS   int64           `json:"created_at_ms,omitempty"`
	}{
		Status:        snapshot.Status,
		Message:       snapshot.Message,
		Payload:       snapshot.Payload,
		CorrelationID: snapshot.CorrelationID,
		Expired:       snapshot.Expired,
		CreatedAtMS:   snapshot.CreatedAtMS,
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(stdout, string(data))
	return nil
}
