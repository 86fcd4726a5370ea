package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/dzagr-ss/ai-meeting-sub000/internal/config"
	"github.com/dzagr-ss/ai-meeting-sub000/internal/engine"
	"github.com/dzagr-ss/ai-meeting-sub000/internal/engine/mock"
	"github.com/dzagr-ss/ai-meeting-sub000/internal/health"
	"github.com/dzagr-ss/ai-meeting-sub000/internal/notify"
	"github.com/dzagr-ss/ai-meeting-sub000/internal/observe"
	"github.com/dzagr-ss/ai-meeting-sub000/internal/refine"
	"github.com/dzagr-ss/ai-meeting-sub000/internal/store/memstore"
	"github.com/dzagr-ss/ai-meeting-sub000/internal/stream"
	"github.com/dzagr-ss/ai-meeting-sub000/pkg/audio"
)

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	met, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return met
}

// newTestServer builds a Server on the in-memory store with a mock
// analyzer producing one segment per analyzed window.
func newTestServer(t *testing.T, cfg config.ServerConfig) (*Server, *memstore.Store, *notify.Bus) {
	t.Helper()

	// Alternating speakers so every second window forces the previous
	// segment out of the merge buffer and onto the wire.
	var calls atomic.Int64
	analyzer := &mock.Analyzer{
		AnalyzeFunc: func(samples []float32, sampleRate int) ([]engine.Segment, error) {
			speaker := "A"
			if calls.Add(1)%2 == 0 {
				speaker = "B"
			}
			d := audio.Duration(len(samples), sampleRate)
			return []engine.Segment{{Speaker: speaker, Start: 0, End: d, Text: "spoken words"}}, nil
		},
	}

	met := testMetrics(t)
	st := memstore.New()
	bus := notify.NewBus()
	sessions := stream.NewRegistry(stream.Config{WindowDuration: time.Second}, analyzer, st, bus, met)
	runner := refine.NewRunner(refine.JobConfig{AudioDir: t.TempDir()}, analyzer, refine.NewCache(met), st, bus, met)

	return New(cfg, sessions, runner, st, bus, met, health.New(), nil), st, bus
}

func wsURL(ts *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + path
}

func dialStream(t *testing.T, ctx context.Context, ts *httptest.Server, meetingID string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.Dial(ctx, wsURL(ts, "/ws/meetings/"+meetingID+"/stream"), nil)
	if err != nil {
		t.Fatalf("websocket dial: %v", err)
	}
	return conn
}

func TestHandleStream(t *testing.T) {
	t.Parallel()

	srv, st, _ := newTestServer(t, config.ServerConfig{})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn := dialStream(t, ctx, ts, "7")

	// Two one-second chunks fill two analysis windows; the speaker change
	// between them pushes the first segment to the client while streaming.
	samples := make([]float32, audio.SamplesFor(time.Second, audio.DefaultSampleRate))
	for i := range samples {
		samples[i] = 0.5
	}
	for range 2 {
		if err := conn.Write(ctx, websocket.MessageBinary, audio.EncodeFloat32(samples)); err != nil {
			t.Fatalf("writing chunk: %v", err)
		}
	}

	typ, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("reading segment message: %v", err)
	}
	if typ != websocket.MessageText {
		t.Fatalf("message type = %v, want text", typ)
	}
	var msg struct {
		Type           string  `json:"type"`
		Speaker        string  `json:"speaker"`
		Text           string  `json:"text"`
		End            float64 `json:"end"`
		WindowSegments int     `json:"processed_count"`
		TotalSegments  int     `json:"total_processed_count"`
		ChunksReceived int     `json:"received_chunk_count"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("decoding segment message: %v", err)
	}
	if msg.Type != "transcription" || msg.Speaker != "A" || msg.Text != "spoken words" {
		t.Errorf("segment message = %+v", msg)
	}
	if msg.ChunksReceived != 2 || msg.TotalSegments != 1 || msg.WindowSegments != 1 {
		t.Errorf("counters = %+v, want 2 chunks, 1/1 segments", msg)
	}

	conn.Close(websocket.StatusNormalClosure, "")

	// Disconnect flushes the second window's segment, so both end up stored.
	deadline := time.Now().Add(5 * time.Second)
	for {
		records, err := st.ListTranscriptRecords(context.Background(), 7)
		if err != nil {
			t.Fatalf("ListTranscriptRecords: %v", err)
		}
		if len(records) == 2 {
			if records[0].Speaker != "A" || records[1].Speaker != "B" {
				t.Errorf("persisted speakers = %q, %q, want A, B", records[0].Speaker, records[1].Speaker)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("records after disconnect = %d, want 2", len(records))
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHandleStream_AuthRequired(t *testing.T) {
	t.Parallel()

	srv, _, _ := newTestServer(t, config.ServerConfig{AuthToken: "sekrit"})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	t.Run("wrong token", func(t *testing.T) {
		conn := dialStream(t, ctx, ts, "7")
		defer conn.Close(websocket.StatusNormalClosure, "")

		if err := conn.Write(ctx, websocket.MessageText, []byte(`{"token":"wrong"}`)); err != nil {
			t.Fatalf("writing auth: %v", err)
		}
		_, _, err := conn.Read(ctx)
		var closeErr websocket.CloseError
		if !errors.As(err, &closeErr) || closeErr.Code != websocket.StatusPolicyViolation {
			t.Fatalf("read after bad auth = %v, want policy violation close", err)
		}
	})

	t.Run("correct token", func(t *testing.T) {
		conn := dialStream(t, ctx, ts, "8")
		defer conn.Close(websocket.StatusNormalClosure, "")

		if err := conn.Write(ctx, websocket.MessageText, []byte(`{"token":"sekrit"}`)); err != nil {
			t.Fatalf("writing auth: %v", err)
		}
		samples := make([]float32, audio.SamplesFor(time.Second, audio.DefaultSampleRate))
		for i := range samples {
			samples[i] = 0.5
		}
		for range 2 {
			if err := conn.Write(ctx, websocket.MessageBinary, audio.EncodeFloat32(samples)); err != nil {
				t.Fatalf("writing chunk: %v", err)
			}
		}
		if _, _, err := conn.Read(ctx); err != nil {
			t.Fatalf("reading segment after auth: %v", err)
		}
	})
}

func TestHandleRefine(t *testing.T) {
	t.Parallel()

	srv, _, bus := newTestServer(t, config.ServerConfig{})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	events, cancel := bus.Subscribe(8)
	defer cancel()

	resp, err := http.Post(ts.URL+"/meetings/42/refine", "application/json", nil)
	if err != nil {
		t.Fatalf("POST refine: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}

	select {
	case ev := <-events:
		if _, ok := ev.(notify.RefineCompleted); !ok {
			t.Fatalf("first event = %T, want RefineCompleted", ev)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no RefineCompleted event after trigger")
	}
}

func TestHandleTranscript(t *testing.T) {
	t.Parallel()

	srv, st, _ := newTestServer(t, config.ServerConfig{})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	if _, err := st.CreateTranscriptRecord(context.Background(), 5, "Speaker_1", "hello", time.Now()); err != nil {
		t.Fatalf("seeding record: %v", err)
	}

	resp, err := http.Get(ts.URL + "/meetings/5/transcript")
	if err != nil {
		t.Fatalf("GET transcript: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var records []transcriptRecord
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(records) != 1 || records[0].Speaker != "Speaker_1" || records[0].Text != "hello" {
		t.Fatalf("records = %+v", records)
	}
}

func TestMeetingIDValidation(t *testing.T) {
	t.Parallel()

	srv, _, _ := newTestServer(t, config.ServerConfig{})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/meetings/not-a-number/transcript")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	srv, _, _ := newTestServer(t, config.ServerConfig{})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}
