// Package trace provides a zero-overhead-when-disabled annotation seam over
// relational-tree finalization and execution, adapted from
// datalog/annotations: the same Event/Handler/Collector shape, repurposed
// from datalog pattern-match timings to this engine's finalize/execute
// phases (spec.md §4.6-§4.7). Because this engine executes lazily via
// pull-based rxstream.Iterators rather than datalog/executor's eager, sized
// Relation values, an Event here times a phase's synchronous setup (a node
// dispatch, a scan's cursor construction, a transaction's open/settle) and
// never a tuple count pulled from a stream the caller hasn't finished
// consuming yet.
package trace

import (
	"sync"
	"time"
)

// Event name constants, grouped the way datalog/annotations/types.go groups
// its own hierarchical names, narrowed to what a lazily-executed relational
// tree can honestly report without forcing eager consumption.
const (
	FinalizeBegin    = "finalize/begin"
	FinalizeComplete = "finalize/completed"

	PhaseBegin    = "phase/begin"
	PhaseComplete = "phase/complete"

	TransactionBegin   = "transaction/begin"
	TransactionSettled = "transaction/settled"

	ErrorRuntime = "error/runtime"
)

// Event represents a single annotation event during finalization or
// execution.
type Event struct {
	Name    string
	Start   time.Time
	End     time.Time
	Latency time.Duration
	Data    map[string]interface{}
}

// Handler processes annotation events as they occur.
type Handler func(event Event)

// Collector accumulates events during one query's finalize+execute pass.
type Collector struct {
	mu      sync.Mutex
	enabled bool
	handler Handler
	events  []Event
}

// NewCollector creates a collector that calls handler for every event and
// also retains each event for later inspection via Events. With a nil
// handler the collector is disabled: Add and AddTiming record nothing.
func NewCollector(handler Handler) *Collector {
	return &Collector{enabled: handler != nil, handler: handler, events: make([]Event, 0, 32)}
}

// Add records event, invoking the handler outside the lock so a handler
// that itself annotates (e.g. logs) can't deadlock against Collector.
func (c *Collector) Add(event Event) {
	if !c.enabled {
		return
	}
	c.mu.Lock()
	c.events = append(c.events, event)
	c.mu.Unlock()
	if c.handler != nil {
		c.handler(event)
	}
}

// AddTiming records an event whose Start/End/Latency are derived from start
// and time.Now().
func (c *Collector) AddTiming(name string, start time.Time, data map[string]interface{}) {
	if !c.enabled {
		return
	}
	end := time.Now()
	c.Add(Event{Name: name, Start: start, End: end, Latency: end.Sub(start), Data: data})
}

// Events returns a copy of every event collected so far.
func (c *Collector) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

// Reset clears the collector for reuse across a subsequent query.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = c.events[:0]
}
