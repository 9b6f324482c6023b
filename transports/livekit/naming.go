package livekit

import (
	"strings"

	"github.com/pupiltree/voice-handoff/api/handoff"
)

// RoomForIdentity derives the deterministic room name the voice transport
// uses for an identity: configured prefix plus the digits-only identity
// suffix. The notification fallback relies on this convention when the
// registry has no record of the session.
func RoomForIdentity(prefix, identity string) string {
	return prefix + handoff.NormalizeIdentity(identity)
}

// RoomMatchesIdentity reports whether a live room name belongs to the
// identity under the naming convention. A room matches when it carries the
// prefix and its suffix equals, or ends with, the normalized identity;
// the suffix form tolerates transports that prepend country codes.
func RoomMatchesIdentity(roomName, prefix, identity string) bool {
	normalized := handoff.NormalizeIdentity(identity)
	if normalized == "" || !strings.HasPrefix(roomName, prefix) {
		return false
	}
	suffix := strings.TrimPrefix(roomName, prefix)
	if suffix == normalized {
		return true
	}
	return len(suffix) > len(normalized) && strings.HasSuffix(suffix, normalized)
}

// FindRoomForIdentity scans live room names and returns the first match
// under the naming convention.
func FindRoomForIdentity(rooms []Room, prefix, identity string) (string, bool) {
	for _, room := range rooms {
		if RoomMatchesIdentity(room.Name, prefix, identity) {
			return room.Name, true
		}
	}
	return "", false
}
