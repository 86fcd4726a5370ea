package stream

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/dzagr-ss/ai-meeting-sub000/internal/engine"
	"github.com/dzagr-ss/ai-meeting-sub000/internal/notify"
	"github.com/dzagr-ss/ai-meeting-sub000/internal/observe"
	"github.com/dzagr-ss/ai-meeting-sub000/pkg/audio"
)

// window is one extracted analysis unit handed to the consumer goroutine.
type window struct {
	index   int
	start   time.Duration
	samples []float32
}

// Session accumulates one live audio stream into analysis windows.
//
// Submit and Close are safe for concurrent use with each other; windows
// extracted by Submit are analyzed by a single consumer goroutine in
// extraction order, which is what guarantees that segments for one session
// are emitted in order without any lock around analysis itself.
type Session struct {
	id        string
	meetingID int64
	reg       *Registry
	ctx       context.Context
	startedAt time.Time

	windows chan window
	done    chan struct{}

	chunks atomic.Int64

	// submitting tracks Submit calls that passed the closed check but have
	// not finished enqueuing. Close waits for them before closing the
	// window channel.
	submitting sync.WaitGroup

	mu          sync.Mutex
	closed      bool
	buf         []float32
	bufStart    time.Duration
	windowCount int

	// Consumer-goroutine state. Never touched by Submit or Close before
	// done is closed.
	pending       *engine.Segment
	totalSegments int
	windowEmitted int
}

func newSession(ctx context.Context, r *Registry, sessionID string, meetingID int64) *Session {
	return &Session{
		id:        sessionID,
		meetingID: meetingID,
		reg:       r,
		ctx:       ctx,
		startedAt: time.Now(),
		windows:   make(chan window, r.cfg.QueueDepth),
		done:      make(chan struct{}),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// MeetingID returns the meeting this session records into.
func (s *Session) MeetingID() int64 { return s.meetingID }

// Submit decodes one raw chunk and appends its samples to the buffer. When
// the buffer reaches the configured window size the full window is
// extracted and queued for analysis; Submit then returns without waiting
// for the analysis itself.
//
// Payloads whose length is not a whole number of float32 samples are
// rejected with [audio.ErrMisalignedChunk]; callers skip such chunks and
// keep streaming. Returns [ErrSessionClosed] after Close.
func (s *Session) Submit(raw []byte) error {
	samples, err := audio.DecodeFloat32(raw)
	if err != nil {
		return fmt.Errorf("stream: session %s: %w", s.id, err)
	}

	cfg := s.reg.cfg
	windowSize := audio.SamplesFor(cfg.WindowDuration, cfg.SampleRate)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("stream: session %s: %w", s.id, ErrSessionClosed)
	}
	s.submitting.Add(1)
	defer s.submitting.Done()
	s.chunks.Add(1)
	s.reg.metrics.ChunksReceived.Add(s.ctx, 1)

	s.buf = append(s.buf, samples...)
	var ready []window
	for len(s.buf) >= windowSize {
		w := window{
			index:   s.windowCount,
			start:   s.bufStart,
			samples: append([]float32(nil), s.buf[:windowSize]...),
		}
		s.buf = s.buf[windowSize:]
		s.bufStart += cfg.WindowDuration
		s.windowCount++
		ready = append(ready, w)
	}
	s.mu.Unlock()

	// Enqueue outside the lock so a slow consumer stalls only this
	// submitter, not Close or concurrent metadata reads.
	for _, w := range ready {
		select {
		case s.windows <- w:
		case <-s.ctx.Done():
			return s.ctx.Err()
		}
	}
	return nil
}

// Close flushes the trailing partial window through analysis, waits for
// the consumer to drain, and releases the session. The first call wins;
// later calls return [ErrSessionClosed] without side effects.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("stream: session %s: %w", s.id, ErrSessionClosed)
	}
	s.closed = true
	var trailing *window
	if len(s.buf) > 0 {
		trailing = &window{index: s.windowCount, start: s.bufStart, samples: s.buf}
		s.buf = nil
		s.windowCount++
	}
	s.mu.Unlock()
	s.submitting.Wait()

	if trailing != nil {
		select {
		case s.windows <- *trailing:
		case <-s.ctx.Done():
		}
	}
	close(s.windows)
	<-s.done

	s.reg.remove(s)
	slog.Info("stream: session closed",
		"session_id", s.id,
		"meeting_id", s.meetingID,
		"windows", s.windowCount,
		"segments", s.totalSegments,
		"chunks", s.chunks.Load(),
	)
	return nil
}

// run is the session's single consumer goroutine. It processes windows in
// extraction order and, after the queue closes, flushes the last pending
// merged segment.
func (s *Session) run() {
	for w := range s.windows {
		s.process(w)
	}
	if s.pending != nil {
		// The flush is its own emission burst; the last window's count
		// must not leak into its counters.
		s.windowEmitted = 0
		s.emit(*s.pending)
		s.pending = nil
	}
	close(s.done)
}

func (s *Session) process(w window) {
	cfg := s.reg.cfg
	if len(w.samples) == 0 {
		return
	}
	if audio.IsSilence(w.samples, cfg.SilenceThreshold) {
		slog.Debug("stream: skipping silent window", "session_id", s.id, "window_index", w.index)
		return
	}

	ctx, span := observe.StartSpan(s.ctx, "stream.window")
	start := time.Now()
	segments, err := s.reg.analyzer.Analyze(ctx, w.samples, cfg.SampleRate)
	span.End()
	s.reg.metrics.WindowAnalysisDuration.Record(s.ctx, time.Since(start).Seconds(),
		metric.WithAttributes(observe.Attr("variant", s.reg.analyzer.Name())))
	if err != nil {
		// The window's samples are gone; live audio cannot be retried.
		// Streaming continues with the next window.
		s.reg.metrics.WindowsFailed.Add(s.ctx, 1)
		slog.Error("stream: window analysis failed",
			"session_id", s.id, "window_index", w.index, "err", err)
		return
	}

	s.windowEmitted = 0
	for _, seg := range segments {
		seg.Start += w.start
		seg.End += w.start
		s.merge(seg)
	}
}

// merge folds seg into the pending segment when both share a speaker and
// are adjacent within the configured tolerance; otherwise the pending
// segment is emitted and seg becomes the new pending one. Holding one
// segment back smooths the window boundary: a sentence spanning two
// windows still lands as one record.
func (s *Session) merge(seg engine.Segment) {
	p := s.pending
	if p != nil && p.Speaker == seg.Speaker && seg.Start-p.End <= s.reg.cfg.MergeTolerance {
		p.End = seg.End
		p.Text = p.Text + " " + seg.Text
		return
	}
	if p != nil {
		s.emit(*p)
	}
	s.pending = &seg
}

func (s *Session) emit(seg engine.Segment) {
	s.totalSegments++
	s.windowEmitted++

	ts := s.startedAt.Add(seg.Start)
	if _, err := s.reg.store.CreateTranscriptRecord(s.ctx, s.meetingID, seg.Speaker, seg.Text, ts); err != nil {
		slog.Error("stream: persisting segment",
			"session_id", s.id, "meeting_id", s.meetingID, "err", err)
	}
	s.reg.metrics.SegmentsEmitted.Add(s.ctx, 1)

	s.reg.bus.Publish(notify.SegmentEvent{
		SessionID: s.id,
		MeetingID: s.meetingID,
		Segment:   seg,
		Counters: notify.Counters{
			WindowSegments: s.windowEmitted,
			TotalSegments:  s.totalSegments,
			ChunksReceived: int(s.chunks.Load()),
		},
	})
}
