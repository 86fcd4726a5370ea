package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/dzagr-ss/ai-meeting-sub000/internal/notify"
	"github.com/dzagr-ss/ai-meeting-sub000/internal/stream"
	"github.com/dzagr-ss/ai-meeting-sub000/pkg/audio"
)

// authTimeout bounds how long a client may take to send its auth message.
const authTimeout = 10 * time.Second

// authMessage is the first client frame when server.auth_token is set.
type authMessage struct {
	Token string `json:"token"`
}

// segmentMessage is one live transcript segment pushed to the client.
// Start and End are seconds from the session start.
type segmentMessage struct {
	Type    string  `json:"type"`
	Speaker string  `json:"speaker"`
	Text    string  `json:"text"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	notify.Counters
}

// handleStream upgrades to WebSocket and runs one streaming session: binary
// frames carry little-endian float32 PCM chunks in, text frames carry JSON
// segment messages out. Closing the connection flushes the trailing partial
// window.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	meetingID, ok := meetingIDFrom(w, r)
	if !ok {
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("server: websocket accept", "meeting_id", meetingID, "err", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "session aborted")

	ctx := r.Context()
	if !s.authenticate(ctx, conn, meetingID) {
		return
	}

	sessionID := fmt.Sprintf("%d-%d", meetingID, time.Now().UnixNano())
	sess, err := s.sessions.Open(ctx, sessionID, meetingID)
	if err != nil {
		slog.Error("server: opening session", "meeting_id", meetingID, "err", err)
		conn.Close(websocket.StatusTryAgainLater, "session unavailable")
		return
	}

	// Push segment events for this session back to the client. The pusher
	// drains the subscription until Close below cancels it.
	events, cancelSub := s.bus.Subscribe(64)
	pushDone := make(chan struct{})
	go func() {
		defer close(pushDone)
		s.pushSegments(ctx, conn, sessionID, events)
	}()

	readErr := s.readChunks(ctx, conn, sess)

	if err := sess.Close(); err != nil && !errors.Is(err, stream.ErrSessionClosed) {
		slog.Error("server: closing session", "session_id", sessionID, "err", err)
	}
	cancelSub()
	<-pushDone

	if readErr != nil {
		var closeErr websocket.CloseError
		if errors.As(readErr, &closeErr) || errors.Is(readErr, context.Canceled) {
			conn.Close(websocket.StatusNormalClosure, "")
			return
		}
		slog.Warn("server: stream read", "session_id", sessionID, "err", readErr)
		return
	}
	conn.Close(websocket.StatusNormalClosure, "")
}

// authenticate enforces the shared-secret handshake when configured.
func (s *Server) authenticate(ctx context.Context, conn *websocket.Conn, meetingID int64) bool {
	if s.cfg.AuthToken == "" {
		return true
	}

	authCtx, cancel := context.WithTimeout(ctx, authTimeout)
	defer cancel()

	typ, data, err := conn.Read(authCtx)
	if err != nil {
		slog.Warn("server: reading auth message", "meeting_id", meetingID, "err", err)
		conn.Close(websocket.StatusPolicyViolation, "authentication required")
		return false
	}
	var msg authMessage
	if typ != websocket.MessageText || json.Unmarshal(data, &msg) != nil || msg.Token != s.cfg.AuthToken {
		slog.Warn("server: rejected streaming client", "meeting_id", meetingID)
		conn.Close(websocket.StatusPolicyViolation, "unauthorized")
		return false
	}
	return true
}

// readChunks feeds binary frames into the session until the client
// disconnects. Misaligned chunks are skipped, not fatal.
func (s *Server) readChunks(ctx context.Context, conn *websocket.Conn, sess *stream.Session) error {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		if typ != websocket.MessageBinary {
			continue
		}
		if err := sess.Submit(data); err != nil {
			if errors.Is(err, audio.ErrMisalignedChunk) {
				slog.Warn("server: skipping misaligned chunk", "session_id", sess.ID(), "bytes", len(data))
				continue
			}
			return err
		}
	}
}

// pushSegments forwards this session's segment events to the client as JSON
// text frames.
func (s *Server) pushSegments(ctx context.Context, conn *websocket.Conn, sessionID string, events <-chan notify.Event) {
	for ev := range events {
		se, ok := ev.(notify.SegmentEvent)
		if !ok || se.SessionID != sessionID {
			continue
		}
		msg := segmentMessage{
			Type:     "transcription",
			Speaker:  se.Segment.Speaker,
			Text:     se.Segment.Text,
			Start:    se.Segment.Start.Seconds(),
			End:      se.Segment.End.Seconds(),
			Counters: se.Counters,
		}
		data, err := json.Marshal(msg)
		if err != nil {
			slog.Error("server: encoding segment message", "session_id", sessionID, "err", err)
			continue
		}
		if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
			slog.Debug("server: segment push stopped", "session_id", sessionID, "err", err)
			return
		}
	}
}
