package ingress

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pupiltree/voice-handoff/internal/telemetry"
)

// GatewayOptions bounds a single gateway connection.
type GatewayOptions struct {
	HandshakeTimeout time.Duration
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	Emitter          telemetry.Emitter
}

func (o GatewayOptions) withDefaults() GatewayOptions {
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = 10 * time.Second
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = 60 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.Emitter == nil {
		o.Emitter = telemetry.DefaultEmitter()
	}
	return o
}

// RunGatewayOnce connects to the messaging gateway and feeds every event
// frame through the receiver until the connection drops or ctx is
// cancelled. Frames that fail intake are logged by the receiver and do not
// terminate the connection.
func RunGatewayOnce(ctx context.Context, wsURL, token string, receiver *Receiver, opts GatewayOptions) error {
	if strings.TrimSpace(wsURL) == "" {
		return fmt.Errorf("gateway url is required")
	}
	if receiver == nil {
		return fmt.Errorf("receiver is required")
	}
	opts = opts.withDefaults()

	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	dialer := websocket.Dialer{HandshakeTimeout: opts.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		return fmt.Errorf("dial gateway: %w", err)
	}
	defer conn.Close()

	var writeMu sync.Mutex
	writeControl := func(messageType int, data []byte) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteControl(messageType, data, time.Now().Add(opts.WriteTimeout))
	}

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(opts.ReadTimeout))
	})

	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(opts.ReadTimeout / 2)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				_ = writeControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"))
				_ = conn.Close()
				return
			case <-stop:
				return
			case <-ticker.C:
				if err := writeControl(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()
	defer close(stop)

	for {
		_ = conn.SetReadDeadline(time.Now().Add(opts.ReadTimeout))
		messageType, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if messageType != websocket.TextMessage {
			continue
		}
		_ = receiver.Handle(ctx, msg)
	}
}

// GatewayReconnectOptions governs the reconnect loop.
type GatewayReconnectOptions struct {
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// RunGateway keeps a gateway connection alive with exponential backoff
// until ctx is cancelled.
func RunGateway(ctx context.Context, wsURL, token string, receiver *Receiver, opts GatewayOptions, reconnect GatewayReconnectOptions) error {
	opts = opts.withDefaults()
	backoff := reconnect.InitialBackoff
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}
	maxBackoff := reconnect.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = 10 * time.Second
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err := RunGatewayOnce(ctx, wsURL, token, receiver, opts)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		opts.Emitter.EmitLog("ingress.gateway", telemetry.SeverityWarn,
			fmt.Sprintf("gateway disconnected: %v, reconnecting in %s", err, backoff),
			nil, telemetry.Correlation{EmittedBy: "ingress"})

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		if backoff < maxBackoff {
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}
	}
}
