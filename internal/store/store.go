// Package store defines the persistence contract for transcript records.
//
// The core never issues raw queries — every database interaction goes
// through [Store]. Two implementations exist: internal/store/postgres (pgx)
// for production and internal/store/memstore for tests and database-free
// runs.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrMeetingNotFound reports an operation against a meeting id with no
// corresponding meeting row.
var ErrMeetingNotFound = errors.New("store: meeting not found")

// TranscriptRecord is the persisted representation of a transcript segment.
// Unlike an analysis segment it has a database identity and is mutable: the
// reconciler rewrites Speaker (and occasionally Text) in place, and the
// grouper replaces whole record sets.
type TranscriptRecord struct {
	ID        int64
	MeetingID int64
	Speaker   string
	Text      string
	Timestamp time.Time
}

// SpeakerUpdate relabels one record during a reconciliation pass.
type SpeakerUpdate struct {
	RecordID int64
	Speaker  string
}

// NewRecord is an unpersisted record used by [Store.ReplaceAllRecords].
type NewRecord struct {
	Speaker   string
	Text      string
	Timestamp time.Time
}

// Store is the persistence layer for transcript records.
//
// Implementations must be safe for concurrent use: the live streaming domain
// and the batch reconciliation domain write through the same Store.
type Store interface {
	// CreateTranscriptRecord persists one record and returns its id.
	CreateTranscriptRecord(ctx context.Context, meetingID int64, speaker, text string, timestamp time.Time) (int64, error)

	// ListTranscriptRecords returns all records for a meeting in
	// chronological order.
	ListTranscriptRecords(ctx context.Context, meetingID int64) ([]TranscriptRecord, error)

	// BulkUpdateSpeaker applies all relabelings in one transaction: either
	// every update lands or none do.
	BulkUpdateSpeaker(ctx context.Context, meetingID int64, updates []SpeakerUpdate) error

	// ReplaceAllRecords deletes every record for the meeting and inserts the
	// replacements in the same transaction. A crash between delete and
	// insert must not be observable.
	ReplaceAllRecords(ctx context.Context, meetingID int64, records []NewRecord) error

	// MeetingExists reports whether the meeting still exists. The batch job
	// checks this before writing results for a session that may have been
	// deleted mid-run.
	MeetingExists(ctx context.Context, meetingID int64) (bool, error)
}
