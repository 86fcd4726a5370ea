// Package refine implements the batch reconciliation domain: after a
// recording stops, every audio file of the meeting is re-analyzed as a
// whole (cached by file fingerprint), local speaker labels are clustered
// into global identities across files, the persisted live transcript is
// relabeled against the refined segments, and adjacent same-speaker records
// are grouped into one.
package refine

import (
	"context"
	"fmt"
	"hash/fnv"
	"io"
	"os"
	"sync"

	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/singleflight"

	"github.com/dzagr-ss/ai-meeting-sub000/internal/engine"
	"github.com/dzagr-ss/ai-meeting-sub000/internal/observe"
)

// fingerprintSpan is how many bytes are sampled from each end of a file
// when computing its fingerprint.
const fingerprintSpan = 4096

// FileAnalysis is one audio file's whole-file analysis output. Voiceprints
// is nil when the active engine variant cannot produce acoustic
// signatures.
type FileAnalysis struct {
	Path        string
	Segments    []engine.Segment
	Voiceprints map[string]engine.Voiceprint
}

// Fingerprint derives a cache key from the file's size plus sampled byte
// ranges at its start and end. Deliberately not a full-content hash: the
// files are append-only recordings, so size plus boundary bytes changing is
// the signal that matters, and the cost stays O(1) in file size.
func Fingerprint(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("refine: fingerprint %q: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("refine: fingerprint %q: %w", path, err)
	}
	size := info.Size()

	span := int64(fingerprintSpan)
	if size < span {
		span = size
	}
	head := make([]byte, span)
	if _, err := io.ReadFull(f, head); err != nil {
		return "", fmt.Errorf("refine: fingerprint %q: read head: %w", path, err)
	}
	tail := make([]byte, span)
	if _, err := f.ReadAt(tail, size-span); err != nil {
		return "", fmt.Errorf("refine: fingerprint %q: read tail: %w", path, err)
	}

	h := fnv.New64a()
	h.Write(head)
	h.Write(tail)
	return fmt.Sprintf("%d:%016x", size, h.Sum64()), nil
}

// Cache memoizes whole-file analysis results by file fingerprint. It is
// process-wide and unbounded: a meeting has a few dozen files at most and
// re-triggered refinement passes hit the same keys.
//
// Safe for concurrent use. Concurrent lookups of the same fingerprint are
// collapsed into one computation by a per-key in-flight guard.
type Cache struct {
	metrics *observe.Metrics

	mu      sync.Mutex
	entries map[string]FileAnalysis

	flights singleflight.Group
}

// NewCache returns an empty cache. A nil metrics falls back to the
// process-wide default instruments.
func NewCache(met *observe.Metrics) *Cache {
	if met == nil {
		met = observe.DefaultMetrics()
	}
	return &Cache{
		metrics: met,
		entries: make(map[string]FileAnalysis),
	}
}

// GetOrCompute returns the cached analysis for path's current fingerprint,
// computing and storing it via compute on a miss. compute runs at most
// once per fingerprint even under concurrent calls.
func (c *Cache) GetOrCompute(ctx context.Context, path string, compute func(ctx context.Context, path string) (FileAnalysis, error)) (FileAnalysis, error) {
	key, err := Fingerprint(path)
	if err != nil {
		return FileAnalysis{}, err
	}

	c.mu.Lock()
	cached, ok := c.entries[key]
	c.mu.Unlock()
	if ok {
		c.metrics.CacheLookups.Add(ctx, 1, metric.WithAttributes(observe.Attr("result", "hit")))
		// The entry may have been computed under another name, for a
		// renamed or copied recording. Results follow the lookup path.
		cached.Path = path
		return cached, nil
	}
	c.metrics.CacheLookups.Add(ctx, 1, metric.WithAttributes(observe.Attr("result", "miss")))

	v, err, _ := c.flights.Do(key, func() (any, error) {
		c.mu.Lock()
		cached, ok := c.entries[key]
		c.mu.Unlock()
		if ok {
			return cached, nil
		}
		out, err := compute(ctx, path)
		if err != nil {
			return FileAnalysis{}, err
		}
		c.mu.Lock()
		c.entries[key] = out
		c.mu.Unlock()
		return out, nil
	})
	if err != nil {
		return FileAnalysis{}, err
	}
	out := v.(FileAnalysis)
	out.Path = path
	return out, nil
}

// Len reports the number of cached fingerprints.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
