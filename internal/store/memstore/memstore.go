// Package memstore provides an in-memory [store.Store] for unit tests and
// for running the server without a database.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dzagr-ss/ai-meeting-sub000/internal/store"
)

// Compile-time interface assertion.
var _ store.Store = (*Store)(nil)

// Store is a mutex-guarded in-memory record store. There is no meeting
// catalog in database-free mode, so every meeting id exists until
// [Store.DeleteMeeting] removes it; a meeting with recordings on disk but
// no persisted records yet is still live. DeleteMeeting simulates
// external deletion for check-before-write tests.
type Store struct {
	mu      sync.Mutex
	nextID  int64
	records map[int64][]store.TranscriptRecord // meetingID → records
	deleted map[int64]struct{}

	// FailBulkUpdate and FailReplace force the corresponding operation to
	// return ErrForced, for exercising persistence-failure paths.
	FailBulkUpdate bool
	FailReplace    bool
}

// ErrForced is returned when a Fail* field is set.
var ErrForced = errForced{}

type errForced struct{}

func (errForced) Error() string { return "memstore: forced failure" }

// New returns an empty Store.
func New() *Store {
	return &Store{
		records: make(map[int64][]store.TranscriptRecord),
		deleted: make(map[int64]struct{}),
	}
}

// CreateTranscriptRecord implements [store.Store].
func (s *Store) CreateTranscriptRecord(ctx context.Context, meetingID int64, speaker, text string, timestamp time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	rec := store.TranscriptRecord{
		ID:        s.nextID,
		MeetingID: meetingID,
		Speaker:   speaker,
		Text:      text,
		Timestamp: timestamp,
	}
	s.records[meetingID] = append(s.records[meetingID], rec)
	delete(s.deleted, meetingID)
	return rec.ID, nil
}

// ListTranscriptRecords implements [store.Store].
func (s *Store) ListTranscriptRecords(ctx context.Context, meetingID int64) ([]store.TranscriptRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	recs := s.records[meetingID]
	out := make([]store.TranscriptRecord, len(recs))
	copy(out, recs)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID < out[j].ID
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}

// BulkUpdateSpeaker implements [store.Store]. All updates are applied under
// one lock acquisition, mirroring the transactional all-or-nothing contract.
func (s *Store) BulkUpdateSpeaker(ctx context.Context, meetingID int64, updates []store.SpeakerUpdate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailBulkUpdate {
		return ErrForced
	}
	if _, gone := s.deleted[meetingID]; gone {
		return store.ErrMeetingNotFound
	}
	recs := s.records[meetingID]

	byID := make(map[int64]int, len(recs))
	for i, r := range recs {
		byID[r.ID] = i
	}
	for _, u := range updates {
		if i, ok := byID[u.RecordID]; ok {
			recs[i].Speaker = u.Speaker
		}
	}
	return nil
}

// ReplaceAllRecords implements [store.Store].
func (s *Store) ReplaceAllRecords(ctx context.Context, meetingID int64, records []store.NewRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailReplace {
		return ErrForced
	}

	replaced := make([]store.TranscriptRecord, 0, len(records))
	for _, r := range records {
		s.nextID++
		replaced = append(replaced, store.TranscriptRecord{
			ID:        s.nextID,
			MeetingID: meetingID,
			Speaker:   r.Speaker,
			Text:      r.Text,
			Timestamp: r.Timestamp,
		})
	}
	s.records[meetingID] = replaced
	delete(s.deleted, meetingID)
	return nil
}

// MeetingExists implements [store.Store]. Existence is independent of the
// record slice: a live session may not have persisted anything yet.
func (s *Store) MeetingExists(ctx context.Context, meetingID int64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, gone := s.deleted[meetingID]
	return !gone, nil
}

// DeleteMeeting removes a meeting and its records, simulating external
// deletion while a batch job is in flight.
func (s *Store) DeleteMeeting(meetingID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, meetingID)
	s.deleted[meetingID] = struct{}{}
}
