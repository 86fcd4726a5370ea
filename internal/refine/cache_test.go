package refine

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/dzagr-ss/ai-meeting-sub000/internal/engine"
)

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

func TestFingerprint(t *testing.T) {
	t.Parallel()

	a := writeFile(t, "a.wav", []byte("identical content"))
	b := writeFile(t, "b.wav", []byte("identical content"))
	c := writeFile(t, "c.wav", []byte("different content!"))

	fa, err := Fingerprint(a)
	if err != nil {
		t.Fatalf("Fingerprint(a): %v", err)
	}
	fb, err := Fingerprint(b)
	if err != nil {
		t.Fatalf("Fingerprint(b): %v", err)
	}
	fc, err := Fingerprint(c)
	if err != nil {
		t.Fatalf("Fingerprint(c): %v", err)
	}

	if fa != fb {
		t.Errorf("same content produced different fingerprints: %q vs %q", fa, fb)
	}
	if fa == fc {
		t.Errorf("different content produced the same fingerprint: %q", fa)
	}

	if _, err := Fingerprint(filepath.Join(t.TempDir(), "missing.wav")); err == nil {
		t.Error("Fingerprint of a missing file did not fail")
	}
}

func TestCache_ComputeAtMostOnce(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "a.wav", []byte("stable bytes"))
	cache := NewCache(jobTestMetrics(t))

	var calls atomic.Int32
	compute := func(ctx context.Context, p string) (FileAnalysis, error) {
		calls.Add(1)
		return FileAnalysis{Path: p, Segments: []engine.Segment{{Speaker: "A", Text: "hi"}}}, nil
	}

	for range 3 {
		fa, err := cache.GetOrCompute(context.Background(), path, compute)
		if err != nil {
			t.Fatalf("GetOrCompute: %v", err)
		}
		if len(fa.Segments) != 1 {
			t.Fatalf("segments = %d, want 1", len(fa.Segments))
		}
	}
	if n := calls.Load(); n != 1 {
		t.Fatalf("compute ran %d times for an unchanged file, want 1", n)
	}
	if cache.Len() != 1 {
		t.Fatalf("cache entries = %d, want 1", cache.Len())
	}
}

func TestCache_RecomputesOnChange(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "a.wav", []byte("first version"))
	cache := NewCache(jobTestMetrics(t))

	var calls atomic.Int32
	compute := func(ctx context.Context, p string) (FileAnalysis, error) {
		calls.Add(1)
		return FileAnalysis{Path: p}, nil
	}

	if _, err := cache.GetOrCompute(context.Background(), path, compute); err != nil {
		t.Fatalf("GetOrCompute: %v", err)
	}
	if err := os.WriteFile(path, []byte("second version, longer"), 0o644); err != nil {
		t.Fatalf("rewriting file: %v", err)
	}
	if _, err := cache.GetOrCompute(context.Background(), path, compute); err != nil {
		t.Fatalf("GetOrCompute after change: %v", err)
	}
	if n := calls.Load(); n != 2 {
		t.Fatalf("compute ran %d times across two file versions, want 2", n)
	}
}

func TestCache_ConcurrentSameKey(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "a.wav", []byte("contended bytes"))
	cache := NewCache(jobTestMetrics(t))

	var calls atomic.Int32
	release := make(chan struct{})
	compute := func(ctx context.Context, p string) (FileAnalysis, error) {
		calls.Add(1)
		<-release
		return FileAnalysis{Path: p}, nil
	}

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := cache.GetOrCompute(context.Background(), path, compute); err != nil {
				t.Errorf("GetOrCompute: %v", err)
			}
		}()
	}
	close(release)
	wg.Wait()

	// The in-flight guard is best effort: callers racing before the first
	// computation finishes may each miss, but the guard collapses them
	// onto one execution.
	if n := calls.Load(); n != 1 {
		t.Fatalf("compute ran %d times under contention, want 1", n)
	}
}

func TestCache_HitFollowsLookupPath(t *testing.T) {
	t.Parallel()

	a := writeFile(t, "meeting_5_0.wav", []byte("identical content"))
	b := writeFile(t, "meeting_5_1.wav", []byte("identical content"))
	cache := NewCache(jobTestMetrics(t))

	var calls atomic.Int32
	compute := func(ctx context.Context, p string) (FileAnalysis, error) {
		calls.Add(1)
		return FileAnalysis{Path: p, Segments: []engine.Segment{{Speaker: "A", Text: "hi"}}}, nil
	}

	if _, err := cache.GetOrCompute(context.Background(), a, compute); err != nil {
		t.Fatalf("GetOrCompute(a): %v", err)
	}
	got, err := cache.GetOrCompute(context.Background(), b, compute)
	if err != nil {
		t.Fatalf("GetOrCompute(b): %v", err)
	}

	if n := calls.Load(); n != 1 {
		t.Fatalf("compute ran %d times for identical content, want 1", n)
	}
	if got.Path != b {
		t.Errorf("hit for %s carries path %s", b, got.Path)
	}
	if len(got.Segments) != 1 {
		t.Errorf("hit lost segments: %d, want 1", len(got.Segments))
	}
}
