// Package postgres implements [store.Store] on PostgreSQL via pgx.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dzagr-ss/ai-meeting-sub000/internal/store"
)

// Compile-time interface assertion.
var _ store.Store = (*Store)(nil)

// Store is the PostgreSQL-backed transcript record store. It holds a single
// [pgxpool.Pool]; all methods are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// New establishes a connection pool to the database at dsn and runs
// [Migrate] to ensure the required tables exist.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping probes database connectivity. Used by the readiness endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// CreateTranscriptRecord implements [store.Store].
func (s *Store) CreateTranscriptRecord(ctx context.Context, meetingID int64, speaker, text string, timestamp time.Time) (int64, error) {
	const q = `
		INSERT INTO transcript_records (meeting_id, speaker, text, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id`

	var id int64
	if err := s.pool.QueryRow(ctx, q, meetingID, speaker, text, timestamp).Scan(&id); err != nil {
		return 0, fmt.Errorf("postgres store: create transcript record: %w", err)
	}
	return id, nil
}

// ListTranscriptRecords implements [store.Store]. Records are returned in
// chronological order with id as the tiebreak, so same-timestamp records
// keep their insertion order.
func (s *Store) ListTranscriptRecords(ctx context.Context, meetingID int64) ([]store.TranscriptRecord, error) {
	const q = `
		SELECT id, meeting_id, speaker, text, created_at
		FROM   transcript_records
		WHERE  meeting_id = $1
		ORDER  BY created_at, id`

	rows, err := s.pool.Query(ctx, q, meetingID)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list transcript records: %w", err)
	}
	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.TranscriptRecord, error) {
		var r store.TranscriptRecord
		err := row.Scan(&r.ID, &r.MeetingID, &r.Speaker, &r.Text, &r.Timestamp)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan transcript records: %w", err)
	}
	if records == nil {
		records = []store.TranscriptRecord{}
	}
	return records, nil
}

// BulkUpdateSpeaker implements [store.Store]. All updates run as a batch
// inside one transaction so a reconciliation pass is all-or-nothing.
func (s *Store) BulkUpdateSpeaker(ctx context.Context, meetingID int64, updates []store.SpeakerUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres store: bulk update speaker: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	const q = `
		UPDATE transcript_records
		SET    speaker = $1
		WHERE  id = $2 AND meeting_id = $3`

	batch := &pgx.Batch{}
	for _, u := range updates {
		batch.Queue(q, u.Speaker, u.RecordID, meetingID)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("postgres store: bulk update speaker: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres store: bulk update speaker: commit: %w", err)
	}
	return nil
}

// ReplaceAllRecords implements [store.Store]. Delete and insert share one
// transaction — a crash between them cannot leave the meeting empty.
func (s *Store) ReplaceAllRecords(ctx context.Context, meetingID int64, records []store.NewRecord) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres store: replace all records: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM transcript_records WHERE meeting_id = $1`, meetingID); err != nil {
		return fmt.Errorf("postgres store: replace all records: delete: %w", err)
	}

	const q = `
		INSERT INTO transcript_records (meeting_id, speaker, text, created_at)
		VALUES ($1, $2, $3, $4)`

	batch := &pgx.Batch{}
	for _, r := range records {
		batch.Queue(q, meetingID, r.Speaker, r.Text, r.Timestamp)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("postgres store: replace all records: insert: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres store: replace all records: commit: %w", err)
	}
	return nil
}

// MeetingExists implements [store.Store].
func (s *Store) MeetingExists(ctx context.Context, meetingID int64) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM meetings WHERE id = $1)`

	var exists bool
	if err := s.pool.QueryRow(ctx, q, meetingID).Scan(&exists); err != nil {
		return false, fmt.Errorf("postgres store: meeting exists: %w", err)
	}
	return exists, nil
}
