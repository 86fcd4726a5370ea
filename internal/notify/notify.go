// Package notify carries pipeline events as explicit messages on channels.
//
// "Segment produced" and "refinement completed" are messages published to a
// [Bus] and consumed by presentation-layer subscribers (the WebSocket
// handler, the notification endpoint). Explicit message-passing keeps
// ordering and delivery observable and testable, as opposed to ad hoc
// callback registration.
package notify

import (
	"log/slog"
	"sync"

	"github.com/dzagr-ss/ai-meeting-sub000/internal/engine"
)

// Event is a marker interface implemented by all bus message types.
type Event interface{ isEvent() }

// Counters is the live-stream observability triple attached to every
// segment event.
type Counters struct {
	// WindowSegments is how many segments the producing window emitted.
	WindowSegments int `json:"processed_count"`

	// TotalSegments is the session's cumulative emitted-segment count.
	TotalSegments int `json:"total_processed_count"`

	// ChunksReceived is the session's cumulative raw chunk count.
	ChunksReceived int `json:"received_chunk_count"`
}

// SegmentEvent announces one live transcript segment.
type SegmentEvent struct {
	SessionID string
	MeetingID int64
	Segment   engine.Segment
	Counters  Counters
}

func (SegmentEvent) isEvent() {}

// RefineCompleted announces the outcome of one reconciliation pass.
type RefineCompleted struct {
	MeetingID          int64 `json:"meeting_id"`
	FilesProcessed     int   `json:"files_processed"`
	RecordsUpdated     int   `json:"records_updated"`
	SegmentsConsidered int   `json:"segments_considered"`

	// Failed is set when the pass aborted (persistence failure or deadline).
	// The previously visible transcript is intact and the pass is safe to
	// retry.
	Failed bool   `json:"failed,omitempty"`
	Reason string `json:"reason,omitempty"`
}

func (RefineCompleted) isEvent() {}

// Bus fans events out to all current subscribers. Publish never blocks: a
// subscriber that stops draining its channel loses events (logged), it does
// not stall the pipeline.
//
// All methods are safe for concurrent use.
type Bus struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan Event
}

// NewBus returns an empty Bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe registers a new subscriber with the given channel buffer and
// returns its event channel plus a cancel func. Cancel closes the channel;
// it is safe to call more than once.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Event, buffer)
	b.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs, id)
			close(ch)
		})
	}
	return ch, cancel
}

// Publish delivers ev to every subscriber. Slow subscribers are skipped.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			slog.Warn("notify: dropping event for slow subscriber", "subscriber", id)
		}
	}
}
