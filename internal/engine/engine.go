// Package engine defines the speaker analysis capability: turning a raw audio
// buffer into time-ordered, speaker-labeled transcript segments.
//
// Two implementations share the [Analyzer] contract. The full variant
// (internal/engine/diarized) runs local whisper.cpp transcription plus
// heuristic speaker-turn detection and can score acoustic similarity between
// speakers. The fallback variant (internal/engine/textonly) uses a hosted
// transcription API and labels everything with one synthetic speaker.
// Variant selection happens once per process in [Load]; callers never branch
// on which variant is active.
package engine

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"
)

// FallbackSpeaker is the synthetic speaker label used when speaker detection
// is unavailable.
const FallbackSpeaker = "Speaker_1"

// Segment is one analysis output unit: a time range within the analyzed
// buffer, a speaker label, and the transcribed text. Segments are immutable
// once produced.
//
// Speaker labels are local to the buffer that produced them — they are not
// comparable across files until the reconciliation clusterer rewrites them
// to global identities.
type Segment struct {
	// Speaker is the local speaker label (e.g. "A", or [FallbackSpeaker]).
	Speaker string

	// Start and End are offsets relative to the start of the analyzed buffer.
	Start time.Duration
	End   time.Duration

	// Text is the transcribed speech.
	Text string
}

// Analyzer is the abstraction over any speaker analysis backend.
//
// Analyze returns segments sorted by start offset and non-overlapping.
// Empty or silent input yields an empty result, never an error. Errors from
// the underlying model are caught inside implementations, logged, and
// degraded to an empty result so one corrupt buffer cannot abort a session
// or a batch job; the only errors that propagate are context cancellation.
//
// Implementations must be safe for concurrent use — the process-wide instance
// is shared by every live session and every batch worker.
type Analyzer interface {
	// Name identifies the variant for logs and metrics.
	Name() string

	// Analyze transcribes and speaker-labels a mono PCM buffer.
	Analyze(ctx context.Context, samples []float32, sampleRate int) ([]Segment, error)
}

// VoiceAnalyzer is implemented by variants that can additionally produce
// per-speaker acoustic signatures. The reconciliation clusterer type-asserts
// for it; when the active variant does not implement it, no cross-file
// speaker merging is attempted.
type VoiceAnalyzer interface {
	Analyzer

	// AnalyzeVoices behaves like Analyze and also returns one voiceprint per
	// local speaker label appearing in the output.
	AnalyzeVoices(ctx context.Context, samples []float32, sampleRate int) ([]Segment, map[string]Voiceprint, error)
}

// Voiceprint is a coarse acoustic signature for one speaker within one
// analyzed buffer: a small feature vector of energy and spectral-shape
// statistics, not a neural embedding. Voiceprints are ephemeral — they live
// for one reconciliation pass and are never persisted.
type Voiceprint []float64

// Similarity returns the cosine similarity of two voiceprints, clamped to
// [0, 1]. Mismatched lengths or zero vectors score 0.
func Similarity(a, b Voiceprint) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	sim := dot / (math.Sqrt(na) * math.Sqrt(nb))
	if sim < 0 {
		return 0
	}
	return sim
}

// Sanitize sorts segments by start offset and clamps overlaps so the output
// honors the [Analyzer] contract. Segments with blank text, or fully
// swallowed by a predecessor, are dropped.
func Sanitize(segments []Segment) []Segment {
	out := make([]Segment, 0, len(segments))
	for _, s := range segments {
		if strings.TrimSpace(s.Text) == "" {
			continue
		}
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start < out[j].Start })

	kept := out[:0]
	var lastEnd time.Duration
	for _, s := range out {
		if s.Start < lastEnd {
			s.Start = lastEnd
		}
		if s.End <= s.Start {
			continue
		}
		kept = append(kept, s)
		lastEnd = s.End
	}
	return kept
}
