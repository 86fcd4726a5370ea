// Package diarized implements the full analysis variant: local whisper.cpp
// transcription combined with heuristic speaker-turn detection.
//
// Transcription produces time-stamped text segments; diarization then groups
// segments into local speaker labels ("A", "B", …) by comparing acoustic
// feature vectors extracted from each segment's samples against running
// per-speaker centroids. This is a lightweight signal-statistics approach,
// not a neural diarizer — good enough to separate turn-taking speakers in a
// meeting recording, and honest about it: labels are local to one buffer.
package diarized

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/dzagr-ss/ai-meeting-sub000/internal/engine"
	"github.com/dzagr-ss/ai-meeting-sub000/pkg/audio"
)

const (
	defaultLanguage         = "en"
	defaultSilenceThreshold = 0.01

	// speakerMatchThreshold is the minimum voiceprint similarity for a
	// segment to join an existing local speaker instead of opening a new one.
	speakerMatchThreshold = 0.80

	// maxLocalSpeakers caps how many distinct local labels one buffer can
	// produce. Beyond this, new segments join the nearest existing speaker.
	maxLocalSpeakers = 8
)

// Config configures the full variant.
type Config struct {
	// ModelPath is the whisper.cpp GGML model file. Required.
	ModelPath string

	// Language is the transcription language hint. Defaults to "en".
	Language string

	// SilenceThreshold is the peak amplitude below which input is treated as
	// silence. Defaults to 0.01.
	SilenceThreshold float32
}

// Engine is the full analysis variant. The whisper model is loaded once at
// construction and shared across all sessions and batch workers; each Analyze
// call creates its own whisper context, which keeps concurrent calls safe.
type Engine struct {
	language         string
	silenceThreshold float32

	// whisper contexts are cheap but not reentrant; the model itself is
	// shared. Context creation is serialized to stay on the safe side of the
	// binding's documented guarantees.
	mu    sync.Mutex
	model whisperlib.Model
}

// Compile-time interface assertions.
var (
	_ engine.Analyzer      = (*Engine)(nil)
	_ engine.VoiceAnalyzer = (*Engine)(nil)
)

// New loads the whisper model and returns the full variant. Any failure here
// (missing model path, unreadable file, binding error) is returned to the
// caller so the construction policy can fall back to the degraded variant.
func New(cfg Config) (*Engine, error) {
	if cfg.ModelPath == "" {
		return nil, errors.New("diarized: whisper model path not configured")
	}
	model, err := whisperlib.New(cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("diarized: load whisper model %q: %w", cfg.ModelPath, err)
	}

	e := &Engine{
		language:         cfg.Language,
		silenceThreshold: cfg.SilenceThreshold,
		model:            model,
	}
	if e.language == "" {
		e.language = defaultLanguage
	}
	if e.silenceThreshold <= 0 {
		e.silenceThreshold = defaultSilenceThreshold
	}
	return e, nil
}

// Name implements [engine.Analyzer].
func (e *Engine) Name() string { return "diarized" }

// Close releases the whisper model.
func (e *Engine) Close() error {
	if e.model != nil {
		return e.model.Close()
	}
	return nil
}

// Analyze implements [engine.Analyzer].
func (e *Engine) Analyze(ctx context.Context, samples []float32, sampleRate int) ([]engine.Segment, error) {
	segs, _, err := e.AnalyzeVoices(ctx, samples, sampleRate)
	return segs, err
}

// AnalyzeVoices implements [engine.VoiceAnalyzer]. Model errors are logged
// and degrade to an empty result; only context cancellation propagates.
func (e *Engine) AnalyzeVoices(ctx context.Context, samples []float32, sampleRate int) ([]engine.Segment, map[string]engine.Voiceprint, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	if len(samples) == 0 || audio.IsSilence(samples, e.silenceThreshold) {
		return nil, nil, nil
	}
	if sampleRate <= 0 {
		sampleRate = audio.DefaultSampleRate
	}

	timed, err := e.transcribe(samples)
	if err != nil {
		slog.Warn("analysis degraded: whisper inference failed, dropping buffer",
			"variant", e.Name(),
			"samples", len(samples),
			"err", err,
		)
		return nil, nil, nil
	}
	if len(timed) == 0 {
		return nil, nil, nil
	}

	segs, prints := labelSpeakers(timed, samples, sampleRate)
	return engine.Sanitize(segs), prints, nil
}

// timedText is one whisper output segment before speaker labeling.
type timedText struct {
	start, end time.Duration
	text       string
}

// transcribe runs whisper.cpp over the buffer and returns time-stamped text.
func (e *Engine) transcribe(samples []float32) ([]timedText, error) {
	e.mu.Lock()
	wctx, err := e.model.NewContext()
	e.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("create whisper context: %w", err)
	}

	if err := wctx.SetLanguage(e.language); err != nil {
		slog.Warn("whisper: failed to set language, using model default",
			"language", e.language, "err", err)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return nil, fmt.Errorf("whisper process: %w", err)
	}

	var out []timedText
	for {
		seg, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("whisper read segment: %w", err)
		}
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		out = append(out, timedText{start: seg.Start, end: seg.End, text: text})
	}
	return out, nil
}

// labelSpeakers assigns local speaker labels to transcript segments by
// greedy voiceprint clustering: each segment's features are compared to the
// running centroid of every speaker seen so far in this buffer; the best
// match above the threshold wins, otherwise a new label is opened.
func labelSpeakers(timed []timedText, samples []float32, sampleRate int) ([]engine.Segment, map[string]engine.Voiceprint) {
	type speaker struct {
		label    string
		centroid engine.Voiceprint
		count    int
	}

	var speakers []*speaker
	segs := make([]engine.Segment, 0, len(timed))

	for _, t := range timed {
		vp := extractVoiceprint(sliceSamples(samples, sampleRate, t.start, t.end))

		var best *speaker
		bestScore := 0.0
		for _, sp := range speakers {
			if score := engine.Similarity(vp, sp.centroid); score > bestScore {
				best, bestScore = sp, score
			}
		}

		switch {
		case best != nil && bestScore >= speakerMatchThreshold:
			// Fold this segment into the speaker's running centroid.
			mergeCentroid(best.centroid, vp, best.count)
			best.count++
		case len(speakers) >= maxLocalSpeakers && best != nil:
			mergeCentroid(best.centroid, vp, best.count)
			best.count++
		default:
			best = &speaker{
				label:    localLabel(len(speakers)),
				centroid: append(engine.Voiceprint(nil), vp...),
				count:    1,
			}
			speakers = append(speakers, best)
		}

		segs = append(segs, engine.Segment{
			Speaker: best.label,
			Start:   t.start,
			End:     t.end,
			Text:    t.text,
		})
	}

	prints := make(map[string]engine.Voiceprint, len(speakers))
	for _, sp := range speakers {
		prints[sp.label] = sp.centroid
	}
	return segs, prints
}

// mergeCentroid folds vp into centroid as an incremental mean over count
// prior observations. Mutates centroid in place.
func mergeCentroid(centroid, vp engine.Voiceprint, count int) {
	if len(centroid) != len(vp) {
		return
	}
	n := float64(count)
	for i := range centroid {
		centroid[i] = (centroid[i]*n + vp[i]) / (n + 1)
	}
}

// localLabel maps 0 → "A", 1 → "B", …, 26 → "AA".
func localLabel(i int) string {
	label := string(rune('A' + i%26))
	for i >= 26 {
		i = i/26 - 1
		label = string(rune('A'+i%26)) + label
	}
	return label
}

// sliceSamples extracts the sample range covering [start, end), clamped to
// the buffer.
func sliceSamples(samples []float32, sampleRate int, start, end time.Duration) []float32 {
	lo := audio.SamplesFor(start, sampleRate)
	hi := audio.SamplesFor(end, sampleRate)
	if lo < 0 {
		lo = 0
	}
	if hi > len(samples) {
		hi = len(samples)
	}
	if lo >= hi {
		return nil
	}
	return samples[lo:hi]
}
