package app

import (
	"log/slog"
	"os"

	"github.com/dzagr-ss/ai-meeting-sub000/internal/config"
	"github.com/dzagr-ss/ai-meeting-sub000/internal/engine"
	"github.com/dzagr-ss/ai-meeting-sub000/internal/engine/diarized"
	"github.com/dzagr-ss/ai-meeting-sub000/internal/engine/failover"
	"github.com/dzagr-ss/ai-meeting-sub000/internal/engine/textonly"
)

// DefaultRegistry returns a registry holding the real engine constructors.
// main uses it as-is; tests build their own registry with mocks.
func DefaultRegistry() *config.Registry {
	reg := config.NewRegistry()
	reg.RegisterEngine(config.VariantWhisperLocal, newDiarized)
	reg.RegisterEngine(config.VariantOpenAI, newTextOnly)
	reg.RegisterEngine(config.VariantAuto, newAuto)
	return reg
}

func newDiarized(ec config.EngineConfig) (engine.Analyzer, error) {
	return diarized.New(diarized.Config{
		ModelPath: ec.ModelPath,
		Language:  ec.Language,
	})
}

func newTextOnly(ec config.EngineConfig) (engine.Analyzer, error) {
	return textonly.New(textonly.Config{
		APIKey:   openAIKey(ec),
		Language: ec.Language,
	}), nil
}

// newAuto tries the local diarizing engine first and degrades to hosted
// transcription when it cannot be constructed, so a missing or corrupt
// model never blocks live transcription. When the local engine does come
// up, it is still wrapped with the hosted one as a runtime standby.
func newAuto(ec config.EngineConfig) (engine.Analyzer, error) {
	primary, err := newDiarized(ec)
	if err != nil {
		slog.Warn("local diarizing engine unavailable; falling back to hosted transcription", "err", err)
		return newTextOnly(ec)
	}
	standby, _ := newTextOnly(ec)
	return failover.New(primary, standby, failover.Config{}), nil
}

func openAIKey(ec config.EngineConfig) string {
	if ec.OpenAIAPIKey != "" {
		return ec.OpenAIAPIKey
	}
	return os.Getenv("OPENAI_API_KEY")
}
