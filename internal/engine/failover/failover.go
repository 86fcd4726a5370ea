// Package failover degrades analysis from a primary engine to a standby
// when the primary keeps failing at runtime.
//
// The wrapper is a two-state breaker: while healthy, every buffer goes to
// the primary; after MaxFailures consecutive primary errors it degrades and
// sends buffers to the standby instead. Once the cooldown elapses, the next
// buffer probes the primary again — success restores it, failure re-arms
// the cooldown. A buffer whose primary analysis fails is retried on the
// standby immediately, so degradation never costs a window of transcript.
package failover

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/dzagr-ss/ai-meeting-sub000/internal/engine"
)

// Config tunes the degradation behavior. The zero value is usable.
type Config struct {
	// MaxFailures is how many consecutive primary failures trigger
	// degradation. Default 5.
	MaxFailures int

	// Cooldown is how long the wrapper stays on the standby before probing
	// the primary again. Default 30s.
	Cooldown time.Duration
}

// Engine wraps a primary and a standby [engine.Analyzer]. It implements
// [engine.VoiceAnalyzer]; voiceprints are only produced while the primary
// is healthy and itself a VoiceAnalyzer. Safe for concurrent use.
type Engine struct {
	primary engine.Analyzer
	standby engine.Analyzer

	maxFailures int
	cooldown    time.Duration

	mu          sync.Mutex
	degraded    bool
	failures    int
	lastFailure time.Time
}

var (
	_ engine.Analyzer      = (*Engine)(nil)
	_ engine.VoiceAnalyzer = (*Engine)(nil)
)

// New wraps primary with standby as its runtime fallback.
func New(primary, standby engine.Analyzer, cfg Config) *Engine {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	return &Engine{
		primary:     primary,
		standby:     standby,
		maxFailures: cfg.MaxFailures,
		cooldown:    cfg.Cooldown,
	}
}

// Name implements [engine.Analyzer]. It reports the engine currently
// handling buffers, so metrics and logs reflect degradation.
func (e *Engine) Name() string {
	if e.usePrimary() {
		return e.primary.Name()
	}
	return e.standby.Name()
}

// Degraded reports whether buffers are currently routed to the standby.
func (e *Engine) Degraded() bool {
	return !e.usePrimary()
}

// usePrimary decides the route for the next buffer. In the degraded state
// an elapsed cooldown lets one buffer through as a probe.
func (e *Engine) usePrimary() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.degraded {
		return true
	}
	return time.Since(e.lastFailure) >= e.cooldown
}

// record updates the failure accounting after a primary call.
func (e *Engine) record(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err == nil {
		if e.degraded {
			slog.Info("primary analysis engine recovered", "engine", e.primary.Name())
		}
		e.degraded = false
		e.failures = 0
		return
	}

	e.failures++
	e.lastFailure = time.Now()
	if e.degraded {
		// Failed probe; stay degraded for another cooldown.
		return
	}
	if e.failures >= e.maxFailures {
		e.degraded = true
		slog.Warn("degrading to standby analysis engine",
			"primary", e.primary.Name(),
			"standby", e.standby.Name(),
			"consecutive_failures", e.failures,
		)
	}
}

// Analyze implements [engine.Analyzer].
func (e *Engine) Analyze(ctx context.Context, samples []float32, sampleRate int) ([]engine.Segment, error) {
	if e.usePrimary() {
		segs, err := e.primary.Analyze(ctx, samples, sampleRate)
		if ctx.Err() != nil {
			// Cancellation is not a primary failure.
			return segs, err
		}
		e.record(err)
		if err == nil {
			return segs, nil
		}
	}
	return e.standby.Analyze(ctx, samples, sampleRate)
}

// AnalyzeVoices implements [engine.VoiceAnalyzer]. When the standby handles
// the buffer, no voiceprints are produced and the segments never merge
// across files during reconciliation.
func (e *Engine) AnalyzeVoices(ctx context.Context, samples []float32, sampleRate int) ([]engine.Segment, map[string]engine.Voiceprint, error) {
	va, ok := e.primary.(engine.VoiceAnalyzer)
	if !ok {
		segs, err := e.Analyze(ctx, samples, sampleRate)
		return segs, nil, err
	}

	if e.usePrimary() {
		segs, prints, err := va.AnalyzeVoices(ctx, samples, sampleRate)
		if ctx.Err() != nil {
			return segs, prints, err
		}
		e.record(err)
		if err == nil {
			return segs, prints, nil
		}
	}
	segs, err := e.standby.Analyze(ctx, samples, sampleRate)
	return segs, nil, err
}

// Close releases both wrapped engines.
func (e *Engine) Close() error {
	var firstErr error
	for _, an := range []engine.Analyzer{e.primary, e.standby} {
		if c, ok := an.(io.Closer); ok {
			if err := c.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
