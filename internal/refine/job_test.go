package refine

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/dzagr-ss/ai-meeting-sub000/internal/engine"
	"github.com/dzagr-ss/ai-meeting-sub000/internal/engine/mock"
	"github.com/dzagr-ss/ai-meeting-sub000/internal/notify"
	"github.com/dzagr-ss/ai-meeting-sub000/internal/observe"
	"github.com/dzagr-ss/ai-meeting-sub000/internal/store/memstore"
	"github.com/dzagr-ss/ai-meeting-sub000/pkg/audio"
)

func jobTestMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	met, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return met
}

// writeRecording writes a non-silent WAV of duration d named for the
// meeting and sequence.
func writeRecording(t *testing.T, dir string, meetingID int64, seq int, d time.Duration) {
	t.Helper()
	samples := make([]float32, audio.SamplesFor(d, audio.DefaultSampleRate))
	for i := range samples {
		samples[i] = 0.25
	}
	name := filepath.Join(dir, audio.MeetingFileName(meetingID, seq))
	if err := audio.WriteWAV(name, samples, audio.DefaultSampleRate); err != nil {
		t.Fatalf("writing recording: %v", err)
	}
}

func waitForCompletion(t *testing.T, events <-chan notify.Event) notify.RefineCompleted {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-events:
			if rc, ok := ev.(notify.RefineCompleted); ok {
				return rc
			}
		case <-deadline:
			t.Fatal("no RefineCompleted event published")
		}
	}
}

func TestRunner_EndToEnd(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeRecording(t, dir, 21, 0, time.Second)
	writeRecording(t, dir, 21, 1, 2*time.Second)

	firstFileSamples := audio.SamplesFor(time.Second, audio.DefaultSampleRate)
	analyzer := &mock.VoiceAnalyzer{
		AnalyzeVoicesFunc: func(samples []float32, sampleRate int) ([]engine.Segment, map[string]engine.Voiceprint, error) {
			if len(samples) == firstFileSamples {
				return []engine.Segment{
						{Speaker: "A", Start: 0, End: 500 * time.Millisecond, Text: "good morning everyone"},
						{Speaker: "B", Start: 500 * time.Millisecond, End: time.Second, Text: "hi"},
					}, map[string]engine.Voiceprint{
						"A": {1, 0, 0, 0},
						"B": {0, 1, 0, 0},
					}, nil
			}
			return []engine.Segment{
					{Speaker: "X", Start: 0, End: time.Second, Text: "hi again"},
				}, map[string]engine.Voiceprint{
					"X": {0, 0.95, 0.05, 0},
				}, nil
		},
	}

	st := memstore.New()
	seedRecords(t, st, 21, [][2]string{
		{"Speaker_1", "good morning everyone"},
		{"Speaker_1", "hi"},
		{"Speaker_1", "hi again"},
	})

	bus := notify.NewBus()
	events, cancel := bus.Subscribe(8)
	defer cancel()

	runner := NewRunner(JobConfig{AudioDir: dir}, analyzer, NewCache(jobTestMetrics(t)), st, bus, jobTestMetrics(t))
	runner.Run(context.Background(), 21)

	rc := waitForCompletion(t, events)
	if rc.Failed {
		t.Fatalf("pass failed: %s", rc.Reason)
	}
	if rc.FilesProcessed != 2 {
		t.Errorf("FilesProcessed = %d, want 2", rc.FilesProcessed)
	}
	if rc.SegmentsConsidered != 3 {
		t.Errorf("SegmentsConsidered = %d, want 3", rc.SegmentsConsidered)
	}
	if rc.RecordsUpdated != 2 {
		t.Errorf("RecordsUpdated = %d, want 2", rc.RecordsUpdated)
	}

	// Records two and three were relabeled to the clustered Speaker_2 and
	// then grouped into one.
	records, err := st.ListTranscriptRecords(context.Background(), 21)
	if err != nil {
		t.Fatalf("ListTranscriptRecords: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("records after grouping = %d, want 2", len(records))
	}
	if records[0].Speaker != "Speaker_1" || records[0].Text != "good morning everyone" {
		t.Errorf("first record = %q/%q", records[0].Speaker, records[0].Text)
	}
	if records[1].Speaker != "Speaker_2" || records[1].Text != "hi hi again" {
		t.Errorf("second record = %q/%q, want Speaker_2/%q", records[1].Speaker, records[1].Text, "hi hi again")
	}
}

func TestRunner_ReusesCacheAcrossPasses(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeRecording(t, dir, 22, 0, time.Second)

	analyzer := &mock.VoiceAnalyzer{}
	analyzer.AnalyzeResult = []engine.Segment{{Speaker: "A", Start: 0, End: time.Second, Text: "once"}}

	st := memstore.New()
	seedRecords(t, st, 22, [][2]string{{"Speaker_1", "once"}})

	bus := notify.NewBus()
	events, cancel := bus.Subscribe(8)
	defer cancel()

	runner := NewRunner(JobConfig{AudioDir: dir}, analyzer, NewCache(jobTestMetrics(t)), st, bus, jobTestMetrics(t))
	runner.Run(context.Background(), 22)
	waitForCompletion(t, events)
	runner.Run(context.Background(), 22)
	waitForCompletion(t, events)

	if n := len(analyzer.Calls()); n != 1 {
		t.Fatalf("analysis ran %d times across two passes over an unchanged file, want 1", n)
	}
}

func TestRunner_DiscardsResultForDeletedMeeting(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeRecording(t, dir, 23, 0, time.Second)

	analyzer := &mock.VoiceAnalyzer{}
	analyzer.AnalyzeResult = []engine.Segment{{Speaker: "A", Start: 0, End: time.Second, Text: "hello"}}

	st := memstore.New()
	st.DeleteMeeting(23) // deleted out from under the pass
	bus := notify.NewBus()
	events, cancel := bus.Subscribe(8)
	defer cancel()

	runner := NewRunner(JobConfig{AudioDir: dir}, analyzer, NewCache(jobTestMetrics(t)), st, bus, jobTestMetrics(t))
	runner.Run(context.Background(), 23)

	rc := waitForCompletion(t, events)
	if rc.Failed {
		t.Fatalf("discarded pass reported as failed: %s", rc.Reason)
	}
	if rc.Reason == "" {
		t.Error("discarded pass published no reason")
	}
	if rc.RecordsUpdated != 0 {
		t.Errorf("RecordsUpdated = %d, want 0 for a discarded pass", rc.RecordsUpdated)
	}
}

func TestRunner_NoRecordings(t *testing.T) {
	t.Parallel()

	st := memstore.New()
	bus := notify.NewBus()
	events, cancel := bus.Subscribe(8)
	defer cancel()

	runner := NewRunner(JobConfig{AudioDir: t.TempDir()}, &mock.VoiceAnalyzer{}, NewCache(jobTestMetrics(t)), st, bus, jobTestMetrics(t))
	runner.Run(context.Background(), 24)

	rc := waitForCompletion(t, events)
	if rc.Failed || rc.FilesProcessed != 0 {
		t.Fatalf("empty-meeting pass = %+v, want clean zero result", rc)
	}
}
