// Package dedup admits inbound events from an at-least-once delivery source
// exactly once within a bounded retention window.
package dedup

import (
	"strconv"
	"strings"
	"sync"

	"github.com/pupiltree/voice-handoff/internal/telemetry"
)

const defaultCapacity = 1024

// Gate is a bounded set of recently observed event ids. When the set
// overflows, the oldest half is evicted in bulk; retention is approximate
// by design so that Admit stays O(1) amortized.
type Gate struct {
	mu       sync.Mutex
	seen     map[string]struct{}
	order    []string
	capacity int
	emitter  telemetry.Emitter
}

// NewGate constructs a gate holding at most capacity ids.
func NewGate(capacity int) *Gate {
	return NewGateWithEmitter(capacity, nil)
}

// NewGateWithEmitter constructs a gate with an explicit telemetry emitter.
func NewGateWithEmitter(capacity int, emitter telemetry.Emitter) *Gate {
	if capacity < 2 {
		capacity = defaultCapacity
	}
	if emitter == nil {
		emitter = telemetry.DefaultEmitter()
	}
	return &Gate{
		seen:     make(map[string]struct{}, capacity),
		order:    make([]string, 0, capacity),
		capacity: capacity,
		emitter:  emitter,
	}
}

// Admit reports whether eventID is seen for the first time. Repeats within
// the retention window return false and are meant to be dropped silently;
// the caller still acknowledges success upstream either way.
func (g *Gate) Admit(eventID string) bool {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return false
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.seen[eventID]; exists {
		return false
	}
	g.seen[eventID] = struct{}{}
	g.order = append(g.order, eventID)
	if len(g.order) > g.capacity {
		g.evictOldestHalf()
	}
	return true
}

// Len reports the number of retained ids.
func (g *Gate) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.order)
}

func (g *Gate) evictOldestHalf() {
	cut := len(g.order) / 2
	for _, id := range g.order[:cut] {
		delete(g.seen, id)
	}
	remaining := make([]string, len(g.order)-cut, g.capacity+1)
	copy(remaining, g.order[cut:])
	g.order = remaining

	g.emitter.EmitLog("dedup.evict", telemetry.SeverityDebug, "evicted oldest id block",
		map[string]string{"evicted": strconv.Itoa(cut), "retained": strconv.Itoa(len(remaining))}, telemetry.Correlation{EmittedBy: "dedup"})
	g.emitter.EmitMetric("dedup.evicted", float64(cut), "count", nil, telemetry.Correlation{EmittedBy: "dedup"})
}
