package livekit

import "testing"

func TestRoomForIdentityNormalizesSuffix(t *testing.T) {
	t.Parallel()

	if got := RoomForIdentity("voice-", "+91 98765-43210"); got != "voice-919876543210" {
		t.Fatalf("unexpected room name: %s", got)
	}
	if got := RoomForIdentity("voice-", "919876543210"); got != "voice-919876543210" {
		t.Fatalf("unexpected room name: %s", got)
	}
}

func TestRoomMatchesIdentity(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		room     string
		identity string
		want     bool
	}{
		{name: "exact", room: "voice-919876543210", identity: "+919876543210", want: true},
		{name: "suffix with extra prefix digits", room: "voice-919876543210", identity: "9876543210", want: true},
		{name: "wrong prefix", room: "agent-919876543210", identity: "+919876543210", want: false},
		{name: "different identity", room: "voice-14155550100", identity: "+919876543210", want: false},
		{name: "no digits", room: "voice-", identity: "nobody", want: false},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := RoomMatchesIdentity(tc.room, "voice-", tc.identity); got != tc.want {
				t.Fatalf("RoomMatchesIdentity(%q, %q) = %v, want %v", tc.room, tc.identity, got, tc.want)
			}
		})
	}
}

func TestFindRoomForIdentity(t *testing.T) {
	t.Parallel()

	rooms := []Room{
		{Name: "voice-14155550100"},
		{Name: "voice-919876543210"},
		{Name: "lobby"},
	}
	room, ok := FindRoomForIdentity(rooms, "voice-", "+91-98765-43210")
	if !ok || room != "voice-919876543210" {
		t.Fatalf("expected match, got %q ok=%v", room, ok)
	}
	if _, ok := FindRoomForIdentity(rooms, "voice-", "+442071838750"); ok {
		t.Fatalf("expected no match for unknown identity")
	}
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	valid := testConfig("http://localhost:7880")
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "missing url", mutate: func(c *Config) { c.URL = "" }},
		{name: "missing key", mutate: func(c *Config) { c.APIKey = "" }},
		{name: "missing secret", mutate: func(c *Config) { c.APISecret = "" }},
		{name: "missing prefix", mutate: func(c *Config) { c.RoomPrefix = "" }},
		{name: "missing topic", mutate: func(c *Config) { c.Topic = "" }},
		{name: "zero timeout", mutate: func(c *Config) { c.RequestTimeout = 0 }},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := testConfig("http://localhost:7880")
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}
