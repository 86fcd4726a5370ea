package refine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/dzagr-ss/ai-meeting-sub000/internal/engine"
	"github.com/dzagr-ss/ai-meeting-sub000/internal/notify"
	"github.com/dzagr-ss/ai-meeting-sub000/internal/observe"
	"github.com/dzagr-ss/ai-meeting-sub000/internal/store"
	"github.com/dzagr-ss/ai-meeting-sub000/pkg/audio"
)

// ErrMeetingGone reports that the meeting was deleted while its
// reconciliation pass was running. The pass's result is discarded.
var ErrMeetingGone = errors.New("refine: meeting no longer exists")

// JobConfig controls one Runner. The zero value is usable; unset fields
// take the defaults below.
type JobConfig struct {
	// AudioDir is the directory holding the meeting recordings.
	AudioDir string

	// Workers bounds concurrent whole-file analyses. Kept small: each
	// analysis is a heavy model invocation. Default 3.
	Workers int

	// Deadline is the ceiling for one whole pass, after which it is
	// abandoned and logged. Default 10m; negative disables it.
	Deadline time.Duration

	// MinSimilarity and ClusterThreshold/ClusterMargin tune matching;
	// zero values take the package defaults.
	MinSimilarity    float64
	ClusterThreshold float64
	ClusterMargin    float64
}

func (c JobConfig) withDefaults() JobConfig {
	if c.Workers <= 0 {
		c.Workers = 3
	}
	if c.Deadline == 0 {
		c.Deadline = 10 * time.Minute
	}
	return c
}

// Runner executes reconciliation passes: analyze all of a meeting's files
// with bounded parallelism, cluster speakers across files, reconcile the
// persisted transcript, then group adjacent records.
//
// Safe for concurrent use; passes for different meetings may overlap.
type Runner struct {
	analyzer engine.Analyzer
	cache    *Cache
	store    store.Store
	bus      *notify.Bus
	metrics  *observe.Metrics

	// mu guards the tunables, which can be swapped between passes via
	// UpdateConfig. A pass snapshots them once at its start.
	mu         sync.RWMutex
	cfg        JobConfig
	clusterer  *Clusterer
	reconciler *Reconciler
}

// NewRunner wires a runner to the shared engine, cache, store, and bus. A
// nil metrics falls back to the process-wide default instruments.
func NewRunner(cfg JobConfig, analyzer engine.Analyzer, cache *Cache, st store.Store, bus *notify.Bus, met *observe.Metrics) *Runner {
	cfg = cfg.withDefaults()
	if met == nil {
		met = observe.DefaultMetrics()
	}
	return &Runner{
		analyzer:   analyzer,
		cache:      cache,
		store:      st,
		bus:        bus,
		metrics:    met,
		cfg:        cfg,
		clusterer:  NewClusterer(cfg.ClusterThreshold, cfg.ClusterMargin),
		reconciler: NewReconciler(st, cfg.MinSimilarity),
	}
}

// UpdateConfig swaps the pass tuning. Passes already in flight keep the
// values they started with; the next pass picks the new ones up.
func (r *Runner) UpdateConfig(cfg JobConfig) {
	cfg = cfg.withDefaults()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cfg = cfg
	r.clusterer = NewClusterer(cfg.ClusterThreshold, cfg.ClusterMargin)
	r.reconciler = NewReconciler(r.store, cfg.MinSimilarity)
}

// snapshot returns the current tunables as one consistent set.
// Config returns the tunables currently in effect.
func (r *Runner) Config() JobConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg
}

func (r *Runner) snapshot() (JobConfig, *Clusterer, *Reconciler) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg, r.clusterer, r.reconciler
}

// Run executes one pass for meetingID and publishes a
// [notify.RefineCompleted] event with the outcome. It blocks until the
// pass finishes; callers that need it in the background run it in a
// goroutine.
func (r *Runner) Run(ctx context.Context, meetingID int64) {
	cfg, clusterer, reconciler := r.snapshot()
	if cfg.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Deadline)
		defer cancel()
	}
	ctx, span := observe.StartSpan(ctx, "refine.pass")
	defer span.End()

	started := time.Now()
	result, err := r.run(ctx, meetingID, cfg, clusterer, reconciler)
	elapsed := time.Since(started)
	r.metrics.RefineDuration.Record(ctx, elapsed.Seconds())

	ev := notify.RefineCompleted{
		MeetingID:          meetingID,
		FilesProcessed:     result.FilesProcessed,
		RecordsUpdated:     result.RecordsUpdated,
		SegmentsConsidered: result.SegmentsConsidered,
	}
	status := "ok"
	switch {
	case errors.Is(err, ErrMeetingGone):
		status = "discarded"
		ev.Reason = "meeting was deleted before results could be written"
		slog.Warn("refine: pass discarded", "meeting_id", meetingID, "elapsed", elapsed)
	case err != nil:
		status = "failed"
		ev.Failed = true
		ev.Reason = err.Error()
		slog.Error("refine: pass failed", "meeting_id", meetingID, "elapsed", elapsed, "err", err)
	default:
		slog.Info("refine: pass completed",
			"meeting_id", meetingID,
			"elapsed", elapsed,
			"files", result.FilesProcessed,
			"updated", result.RecordsUpdated,
		)
	}
	r.metrics.RefinePasses.Add(ctx, 1, metric.WithAttributes(observe.Attr("status", status)))
	r.bus.Publish(ev)
}

func (r *Runner) run(ctx context.Context, meetingID int64, cfg JobConfig, clusterer *Clusterer, reconciler *Reconciler) (ReconcileResult, error) {
	files, err := audio.ListMeetingFiles(cfg.AudioDir, meetingID)
	if err != nil {
		return ReconcileResult{}, fmt.Errorf("refine: listing files for meeting %d: %w", meetingID, err)
	}
	if len(files) == 0 {
		slog.Info("refine: no recordings to reconcile", "meeting_id", meetingID)
		return ReconcileResult{}, nil
	}

	analyses, err := r.analyzeAll(ctx, files, cfg.Workers)
	if err != nil {
		return ReconcileResult{}, err
	}

	clustered := clusterer.Cluster(analyses)

	// The meeting may have been deleted mid-run. Check before writing and
	// discard instead of resurrecting records for a gone meeting.
	exists, err := r.store.MeetingExists(ctx, meetingID)
	if err != nil {
		return ReconcileResult{}, fmt.Errorf("refine: checking meeting %d: %w", meetingID, err)
	}
	if !exists {
		return ReconcileResult{}, ErrMeetingGone
	}

	result, err := reconciler.Reconcile(ctx, meetingID, clustered)
	if err != nil {
		return result, err
	}
	if err := GroupRecords(ctx, r.store, meetingID); err != nil {
		return result, err
	}
	return result, nil
}

// analyzeAll runs whole-file analysis for every file with bounded
// parallelism and a join barrier. A file that fails analysis is skipped
// with a log line; only context errors abort the batch.
func (r *Runner) analyzeAll(ctx context.Context, files []string, workers int) ([]FileAnalysis, error) {
	analyses := make([]FileAnalysis, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, path := range files {
		g.Go(func() error {
			fa, err := r.cache.GetOrCompute(gctx, path, r.analyzeFile)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				slog.Error("refine: skipping file after failed analysis", "file", path, "err", err)
				return nil
			}
			analyses[i] = fa
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("refine: analyzing files: %w", err)
	}

	kept := analyses[:0]
	for _, fa := range analyses {
		if fa.Path != "" {
			kept = append(kept, fa)
		}
	}
	return kept, nil
}

func (r *Runner) analyzeFile(ctx context.Context, path string) (FileAnalysis, error) {
	samples, rate, err := audio.ReadWAV(path)
	if err != nil {
		return FileAnalysis{}, err
	}

	started := time.Now()
	fa := FileAnalysis{Path: path}
	if va, ok := r.analyzer.(engine.VoiceAnalyzer); ok {
		fa.Segments, fa.Voiceprints, err = va.AnalyzeVoices(ctx, samples, rate)
	} else {
		fa.Segments, err = r.analyzer.Analyze(ctx, samples, rate)
	}
	r.metrics.FileAnalysisDuration.Record(ctx, time.Since(started).Seconds(),
		metric.WithAttributes(observe.Attr("variant", r.analyzer.Name())))
	if err != nil {
		return FileAnalysis{}, err
	}
	return fa, nil
}
