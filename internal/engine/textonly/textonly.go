// Package textonly implements the degraded analysis variant: hosted
// transcription with no speaker detection. Every segment carries the single
// synthetic speaker label so live transcription keeps flowing when the full
// diarizing engine cannot be constructed.
package textonly

import (
	"bytes"
	"context"
	"log/slog"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/dzagr-ss/ai-meeting-sub000/internal/engine"
	"github.com/dzagr-ss/ai-meeting-sub000/pkg/audio"
)

const defaultSilenceThreshold = 0.01

// Config configures the fallback variant.
type Config struct {
	// APIKey authenticates the transcription API. An empty key is accepted at
	// construction — the variant must never fail to construct for the reason
	// the better option is missing — but Analyze will degrade to empty
	// results until a key is provided.
	APIKey string

	// Language is the transcription language hint.
	Language string

	// SilenceThreshold is the peak amplitude below which input is treated as
	// silence. Defaults to 0.01.
	SilenceThreshold float32
}

// Engine is the transcription-only fallback variant. It is safe for
// concurrent use; the underlying API client is stateless per call.
type Engine struct {
	client           oai.Client
	hasKey           bool
	language         string
	silenceThreshold float32
}

var _ engine.Analyzer = (*Engine)(nil)

// New constructs the fallback variant. It never fails: a missing API key is
// logged once here and degrades Analyze to empty output, not an error.
func New(cfg Config) *Engine {
	e := &Engine{
		hasKey:           cfg.APIKey != "",
		language:         cfg.Language,
		silenceThreshold: cfg.SilenceThreshold,
	}
	if e.silenceThreshold <= 0 {
		e.silenceThreshold = defaultSilenceThreshold
	}
	if e.hasKey {
		e.client = oai.NewClient(option.WithAPIKey(cfg.APIKey))
	} else {
		slog.Warn("textonly engine constructed without an API key; analysis will return empty results")
	}
	return e
}

// Name implements [engine.Analyzer].
func (e *Engine) Name() string { return "textonly" }

// Analyze implements [engine.Analyzer]. The whole buffer becomes one segment
// attributed to the synthetic speaker. API errors are logged and degrade to
// an empty result; only context cancellation propagates.
func (e *Engine) Analyze(ctx context.Context, samples []float32, sampleRate int) ([]engine.Segment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(samples) == 0 || audio.IsSilence(samples, e.silenceThreshold) {
		return nil, nil
	}
	if !e.hasKey {
		return nil, nil
	}
	if sampleRate <= 0 {
		sampleRate = audio.DefaultSampleRate
	}

	wav, err := audio.EncodeWAV(samples, sampleRate)
	if err != nil {
		slog.Warn("analysis degraded: wav encode failed", "variant", e.Name(), "err", err)
		return nil, nil
	}

	params := oai.AudioTranscriptionNewParams{
		Model: oai.AudioModelWhisper1,
		File:  oai.File(bytes.NewReader(wav), "buffer.wav", "audio/wav"),
	}
	if e.language != "" {
		params.Language = oai.String(e.language)
	}

	resp, err := e.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		slog.Warn("analysis degraded: hosted transcription failed, dropping buffer",
			"variant", e.Name(),
			"samples", len(samples),
			"err", err,
		)
		return nil, nil
	}
	if resp == nil || resp.Text == "" {
		return nil, nil
	}

	return []engine.Segment{{
		Speaker: engine.FallbackSpeaker,
		Start:   0,
		End:     audio.Duration(len(samples), sampleRate),
		Text:    resp.Text,
	}}, nil
}
