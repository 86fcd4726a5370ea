package config

import (
	"errors"
	"testing"

	"github.com/dzagr-ss/ai-meeting-sub000/internal/engine"
	"github.com/dzagr-ss/ai-meeting-sub000/internal/engine/mock"
)

func TestRegistry(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	reg.RegisterEngine(VariantOpenAI, func(cfg EngineConfig) (engine.Analyzer, error) {
		return &mock.Analyzer{NameResult: "hosted"}, nil
	})

	eng, err := reg.CreateEngine(EngineConfig{Variant: VariantOpenAI})
	if err != nil {
		t.Fatalf("CreateEngine: %v", err)
	}
	if eng.Name() != "hosted" {
		t.Errorf("engine name = %q, want hosted", eng.Name())
	}

	if _, err := reg.CreateEngine(EngineConfig{Variant: VariantWhisperLocal}); !errors.Is(err, ErrEngineNotRegistered) {
		t.Fatalf("CreateEngine for unregistered variant = %v, want ErrEngineNotRegistered", err)
	}

	if got := len(reg.Variants()); got != 1 {
		t.Errorf("Variants() = %d entries, want 1", got)
	}
}
