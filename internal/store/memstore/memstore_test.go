package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dzagr-ss/ai-meeting-sub000/internal/store"
)

func TestMeetingExists_IndependentOfRecords(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := New()

	// A meeting that has not persisted anything yet is still live: its
	// session may be streaming, or only recordings on disk exist so far.
	ok, err := s.MeetingExists(ctx, 7)
	if err != nil {
		t.Fatalf("MeetingExists: %v", err)
	}
	if !ok {
		t.Error("meeting without records reported as gone")
	}

	s.DeleteMeeting(7)
	ok, err = s.MeetingExists(ctx, 7)
	if err != nil {
		t.Fatalf("MeetingExists after delete: %v", err)
	}
	if ok {
		t.Error("deleted meeting reported as live")
	}

	// A new write revives the meeting.
	if _, err := s.CreateTranscriptRecord(ctx, 7, "A", "back", time.Now()); err != nil {
		t.Fatalf("CreateTranscriptRecord: %v", err)
	}
	ok, err = s.MeetingExists(ctx, 7)
	if err != nil {
		t.Fatalf("MeetingExists after create: %v", err)
	}
	if !ok {
		t.Error("meeting with fresh records reported as gone")
	}
}

func TestBulkUpdateSpeaker_DeletedMeeting(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := New()

	id, err := s.CreateTranscriptRecord(ctx, 9, "A", "hello", time.Now())
	if err != nil {
		t.Fatalf("CreateTranscriptRecord: %v", err)
	}
	s.DeleteMeeting(9)

	err = s.BulkUpdateSpeaker(ctx, 9, []store.SpeakerUpdate{{RecordID: id, Speaker: "Speaker_1"}})
	if !errors.Is(err, store.ErrMeetingNotFound) {
		t.Fatalf("BulkUpdateSpeaker on deleted meeting = %v, want ErrMeetingNotFound", err)
	}
}
