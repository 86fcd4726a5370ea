// Package server exposes the transcription pipeline over HTTP: a WebSocket
// endpoint streaming audio in and transcript segments out, a refinement
// trigger, transcript listing, health probes, and Prometheus metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/dzagr-ss/ai-meeting-sub000/internal/config"
	"github.com/dzagr-ss/ai-meeting-sub000/internal/health"
	"github.com/dzagr-ss/ai-meeting-sub000/internal/notify"
	"github.com/dzagr-ss/ai-meeting-sub000/internal/observe"
	"github.com/dzagr-ss/ai-meeting-sub000/internal/refine"
	"github.com/dzagr-ss/ai-meeting-sub000/internal/store"
	"github.com/dzagr-ss/ai-meeting-sub000/internal/stream"
)

// shutdownGrace is how long Run waits for in-flight requests after ctx is
// cancelled.
const shutdownGrace = 10 * time.Second

// Server ties the transport to the streaming registry, the batch runner,
// and the record store.
type Server struct {
	cfg      config.ServerConfig
	sessions *stream.Registry
	runner   *refine.Runner
	store    store.Store
	bus      *notify.Bus
	metrics  *observe.Metrics
	health   *health.Handler
	promExp  http.Handler
}

// New assembles a Server. promExporter serves /metrics; pass nil to omit
// the endpoint. A nil metrics falls back to the process-wide defaults.
func New(cfg config.ServerConfig, sessions *stream.Registry, runner *refine.Runner, st store.Store, bus *notify.Bus, met *observe.Metrics, h *health.Handler, promExporter http.Handler) *Server {
	if met == nil {
		met = observe.DefaultMetrics()
	}
	return &Server{
		cfg:      cfg,
		sessions: sessions,
		runner:   runner,
		store:    st,
		bus:      bus,
		metrics:  met,
		health:   h,
		promExp:  promExporter,
	}
}

// Handler returns the full route table wrapped in the metrics middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws/meetings/{meetingID}/stream", s.handleStream)
	mux.HandleFunc("POST /meetings/{meetingID}/refine", s.handleRefine)
	mux.HandleFunc("GET /meetings/{meetingID}/transcript", s.handleTranscript)
	s.health.Register(mux)
	if s.promExp != nil {
		mux.Handle("GET /metrics", s.promExp)
	}
	return observe.Middleware(s.metrics)(mux)
}

// Run serves until ctx is cancelled, then drains in-flight requests and
// closes all open streaming sessions.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:        s.cfg.ListenAddr,
		Handler:     s.Handler(),
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		if s.cfg.TLS != nil {
			errCh <- srv.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
			return
		}
		errCh <- srv.ListenAndServe()
	}()
	slog.Info("server: listening", "addr", s.cfg.ListenAddr, "tls", s.cfg.TLS != nil)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		slog.Warn("server: shutdown", "err", err)
	}
	s.sessions.CloseAll()
	return ctx.Err()
}

// handleRefine accepts a refinement trigger and runs the pass in the
// background. The response is an acknowledgment, not the result; the
// outcome arrives as a RefineCompleted event.
func (s *Server) handleRefine(w http.ResponseWriter, r *http.Request) {
	meetingID, ok := meetingIDFrom(w, r)
	if !ok {
		return
	}

	// Detach from the request so the pass outlives the 202 response.
	ctx := context.WithoutCancel(r.Context())
	go s.runner.Run(ctx, meetingID)

	observe.Logger(r.Context()).Info("server: refinement triggered", "meeting_id", meetingID)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":     "accepted",
		"meeting_id": meetingID,
	})
}

// transcriptRecord is the wire form of one persisted record.
type transcriptRecord struct {
	ID        int64     `json:"id"`
	Speaker   string    `json:"speaker"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	meetingID, ok := meetingIDFrom(w, r)
	if !ok {
		return
	}

	records, err := s.store.ListTranscriptRecords(r.Context(), meetingID)
	if err != nil {
		slog.Error("server: listing transcript", "meeting_id", meetingID, "err", err)
		http.Error(w, "listing transcript failed", http.StatusInternalServerError)
		return
	}

	out := make([]transcriptRecord, 0, len(records))
	for _, rec := range records {
		out = append(out, transcriptRecord{
			ID:        rec.ID,
			Speaker:   rec.Speaker,
			Text:      rec.Text,
			Timestamp: rec.Timestamp,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func meetingIDFrom(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("meetingID"), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "invalid meeting id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("server: encoding response", "err", err)
	}
}
