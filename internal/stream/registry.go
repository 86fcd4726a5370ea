// Package stream implements the live streaming domain: per-session audio
// buffers that accumulate raw chunks into fixed-duration analysis windows,
// a strictly ordered single-consumer analysis queue per session, and
// incremental segment emission with per-session counters.
//
// Sessions are independent of each other. The only state shared between
// them is the process-wide analysis engine, which is safe for concurrent
// use by contract.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dzagr-ss/ai-meeting-sub000/internal/engine"
	"github.com/dzagr-ss/ai-meeting-sub000/internal/notify"
	"github.com/dzagr-ss/ai-meeting-sub000/internal/observe"
	"github.com/dzagr-ss/ai-meeting-sub000/internal/store"
	"github.com/dzagr-ss/ai-meeting-sub000/pkg/audio"
)

var (
	// ErrSessionAlreadyOpen reports an Open call for a session id that
	// already has a live buffer. Caller misuse, never retried internally.
	ErrSessionAlreadyOpen = errors.New("stream: session already open")

	// ErrSessionNotFound reports a lookup for a session id with no live
	// buffer.
	ErrSessionNotFound = errors.New("stream: session not found")

	// ErrSessionClosed reports an operation on an already-closed session.
	// For Close itself this makes the second call a detectable no-op.
	ErrSessionClosed = errors.New("stream: session closed")
)

// Config controls windowing and emission behavior for all sessions opened
// through one [Registry]. The zero value is usable; unset fields take the
// defaults below.
type Config struct {
	// WindowDuration is the analysis window size. Default 5s.
	WindowDuration time.Duration

	// SampleRate of incoming PCM. Default [audio.DefaultSampleRate].
	SampleRate int

	// SilenceThreshold is the peak amplitude below which a window is
	// skipped without analysis. Default 0.01.
	SilenceThreshold float32

	// MergeTolerance is the maximum gap between two adjacent segments of
	// the same speaker for them to be merged into one before persisting.
	// Default 100ms.
	MergeTolerance time.Duration

	// QueueDepth is the per-session window queue size. Submit blocks once
	// this many windows are pending analysis. Default 8.
	QueueDepth int
}

func (c Config) withDefaults() Config {
	if c.WindowDuration <= 0 {
		c.WindowDuration = 5 * time.Second
	}
	if c.SampleRate <= 0 {
		c.SampleRate = audio.DefaultSampleRate
	}
	if c.SilenceThreshold <= 0 {
		c.SilenceThreshold = 0.01
	}
	if c.MergeTolerance <= 0 {
		c.MergeTolerance = 100 * time.Millisecond
	}
	if c.QueueDepth <= 0 {
		c.QueueDepth = 8
	}
	return c
}

// Registry owns every open streaming session. All methods are safe for
// concurrent use.
type Registry struct {
	cfg      Config
	analyzer engine.Analyzer
	store    store.Store
	bus      *notify.Bus
	metrics  *observe.Metrics

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry wires a registry to the shared analysis engine, persistence
// layer, event bus, and metrics. A nil metrics falls back to the
// process-wide default instruments.
func NewRegistry(cfg Config, analyzer engine.Analyzer, st store.Store, bus *notify.Bus, met *observe.Metrics) *Registry {
	if met == nil {
		met = observe.DefaultMetrics()
	}
	return &Registry{
		cfg:      cfg.withDefaults(),
		analyzer: analyzer,
		store:    st,
		bus:      bus,
		metrics:  met,
		sessions: make(map[string]*Session),
	}
}

// Open allocates a session buffer for sessionID and starts its consumer
// goroutine. The returned handle is valid until Close. ctx bounds the
// session's analysis and persistence calls.
func (r *Registry) Open(ctx context.Context, sessionID string, meetingID int64) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[sessionID]; ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionAlreadyOpen, sessionID)
	}

	s := newSession(ctx, r, sessionID, meetingID)
	r.sessions[sessionID] = s
	r.metrics.ActiveSessions.Add(ctx, 1)
	slog.Info("stream: session opened", "session_id", sessionID, "meeting_id", meetingID)

	go s.run()
	return s, nil
}

// Get returns the open session for sessionID or [ErrSessionNotFound].
func (r *Registry) Get(sessionID string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return s, nil
}

// Len reports the number of open sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// CloseAll closes every remaining session, flushing each one. Used at
// shutdown; errors from individual sessions are logged, not returned.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	open := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		open = append(open, s)
	}
	r.mu.Unlock()

	for _, s := range open {
		if err := s.Close(); err != nil && !errors.Is(err, ErrSessionClosed) {
			slog.Error("stream: closing session at shutdown", "session_id", s.ID(), "err", err)
		}
	}
}

func (r *Registry) remove(s *Session) {
	r.mu.Lock()
	delete(r.sessions, s.id)
	r.mu.Unlock()
	r.metrics.ActiveSessions.Add(context.Background(), -1)
}
