// Package mock provides in-memory mock implementations of [engine.Analyzer]
// and [engine.VoiceAnalyzer] for use in unit tests.
//
// The mock records every method call and allows the test to configure return
// values via exported fields. It is safe for concurrent use.
package mock

import (
	"context"
	"sync"

	"github.com/dzagr-ss/ai-meeting-sub000/internal/engine"
)

// Compile-time interface assertions.
var (
	_ engine.Analyzer      = (*Analyzer)(nil)
	_ engine.VoiceAnalyzer = (*VoiceAnalyzer)(nil)
)

// AnalyzeCall records the arguments of a single Analyze invocation.
type AnalyzeCall struct {
	// Samples is the buffer passed to Analyze.
	Samples []float32
	// SampleRate is the rate passed to Analyze.
	SampleRate int
}

// Analyzer is a mock implementation of [engine.Analyzer].
type Analyzer struct {
	mu sync.Mutex

	// NameResult is returned by Name. Defaults to "mock".
	NameResult string

	// AnalyzeResult is returned by every Analyze call, unless AnalyzeFunc is
	// set, in which case the func decides per call.
	AnalyzeResult []engine.Segment

	// AnalyzeError is the error returned by Analyze.
	AnalyzeError error

	// AnalyzeFunc, when non-nil, overrides AnalyzeResult/AnalyzeError.
	AnalyzeFunc func(samples []float32, sampleRate int) ([]engine.Segment, error)

	// AnalyzeCalls records all Analyze invocations.
	AnalyzeCalls []AnalyzeCall
}

// Name implements [engine.Analyzer].
func (a *Analyzer) Name() string {
	if a.NameResult == "" {
		return "mock"
	}
	return a.NameResult
}

// Analyze implements [engine.Analyzer].
func (a *Analyzer) Analyze(ctx context.Context, samples []float32, sampleRate int) ([]engine.Segment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a.mu.Lock()
	a.AnalyzeCalls = append(a.AnalyzeCalls, AnalyzeCall{Samples: samples, SampleRate: sampleRate})
	fn := a.AnalyzeFunc
	result, resultErr := a.AnalyzeResult, a.AnalyzeError
	a.mu.Unlock()

	if fn != nil {
		return fn(samples, sampleRate)
	}
	return result, resultErr
}

// Calls returns a copy of the recorded Analyze invocations.
func (a *Analyzer) Calls() []AnalyzeCall {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]AnalyzeCall, len(a.AnalyzeCalls))
	copy(out, a.AnalyzeCalls)
	return out
}

// VoiceAnalyzer extends [Analyzer] with configurable voiceprints, satisfying
// [engine.VoiceAnalyzer].
type VoiceAnalyzer struct {
	Analyzer

	// Voiceprints is returned by AnalyzeVoices alongside the Analyze result.
	Voiceprints map[string]engine.Voiceprint

	// AnalyzeVoicesFunc, when non-nil, overrides the field-based results.
	AnalyzeVoicesFunc func(samples []float32, sampleRate int) ([]engine.Segment, map[string]engine.Voiceprint, error)
}

// AnalyzeVoices implements [engine.VoiceAnalyzer].
func (v *VoiceAnalyzer) AnalyzeVoices(ctx context.Context, samples []float32, sampleRate int) ([]engine.Segment, map[string]engine.Voiceprint, error) {
	if v.AnalyzeVoicesFunc != nil {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		v.mu.Lock()
		v.AnalyzeCalls = append(v.AnalyzeCalls, AnalyzeCall{Samples: samples, SampleRate: sampleRate})
		v.mu.Unlock()
		return v.AnalyzeVoicesFunc(samples, sampleRate)
	}
	segs, err := v.Analyze(ctx, samples, sampleRate)
	return segs, v.Voiceprints, err
}
