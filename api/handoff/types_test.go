package handoff

import "testing"

func TestNotificationMessageValidate(t *testing.T) {
	t.Parallel()

	base := func() NotificationMessage {
		return NotificationMessage{
			Type:          NotificationReady,
			Identity:      "919876543210",
			TimestampMS:   1700000000000,
			CorrelationID: "corr-1",
		}
	}

	tests := []struct {
		name      string
		mutate    func(*NotificationMessage)
		shouldErr bool
	}{
		{name: "valid ready", mutate: func(*NotificationMessage) {}},
		{
			name:   "valid status update",
			mutate: func(m *NotificationMessage) { m.Type = NotificationStatusUpdate },
		},
		{
			name:      "unknown type",
			mutate:    func(m *NotificationMessage) { m.Type = "push" },
			shouldErr: true,
		},
		{
			name:      "missing identity",
			mutate:    func(m *NotificationMessage) { m.Identity = "  " },
			shouldErr: true,
		},
		{
			name:      "zero timestamp",
			mutate:    func(m *NotificationMessage) { m.TimestampMS = 0 },
			shouldErr: true,
		},
		{
			name:      "missing correlation id",
			mutate:    func(m *NotificationMessage) { m.CorrelationID = "" },
			shouldErr: true,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			msg := base()
			tc.mutate(&msg)
			err := msg.Validate()
			if tc.shouldErr && err == nil {
				t.Fatalf("expected validation error")
			}
			if !tc.shouldErr && err != nil {
				t.Fatalf("unexpected validation error: %v", err)
			}
		})
	}
}

func TestInboundEventValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		event     InboundEvent
		shouldErr bool
	}{
		{name: "valid", event: InboundEvent{ID: "evt-1", From: "+91 98765 43210", Type: "image"}},
		{name: "missing id", event: InboundEvent{From: "+91", Type: "image"}, shouldErr: true},
		{name: "missing from", event: InboundEvent{ID: "evt-1", Type: "image"}, shouldErr: true},
		{name: "missing type", event: InboundEvent{ID: "evt-1", From: "+91"}, shouldErr: true},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.event.Validate()
			if tc.shouldErr && err == nil {
				t.Fatalf("expected validation error")
			}
			if !tc.shouldErr && err != nil {
				t.Fatalf("unexpected validation error: %v", err)
			}
		})
	}
}

func TestStatusTerminal(t *testing.T) {
	t.Parallel()

	if !StatusCompleted.Terminal() || !StatusFailed.Terminal() {
		t.Fatalf("completed/failed must be terminal")
	}
	for _, s := range []Status{StatusNone, StatusPending, StatusProcessing} {
		if s.Terminal() {
			t.Fatalf("%s must not be terminal", s)
		}
	}
	if Status("queued").Valid() {
		t.Fatalf("unknown status must be invalid")
	}
}

func TestNormalizeIdentity(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw  string
		want string
	}{
		{raw: "+91 98765-43210", want: "919876543210"},
		{raw: "whatsapp:+14155550100", want: "14155550100"},
		{raw: "919876543210", want: "919876543210"},
		{raw: "no-digits", want: ""},
	}
	for _, tc := range tests {
		if got := NormalizeIdentity(tc.raw); got != tc.want {
			t.Fatalf("NormalizeIdentity(%q) = %q, want %q", tc.raw, got, tc.want)
		}
	}
}
