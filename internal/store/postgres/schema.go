package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlMeetings = `
CREATE TABLE IF NOT EXISTS meetings (
    id         BIGSERIAL    PRIMARY KEY,
    title      TEXT         NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ  NOT NULL DEFAULT now()
);`

const ddlTranscriptRecords = `
CREATE TABLE IF NOT EXISTS transcript_records (
    id         BIGSERIAL    PRIMARY KEY,
    meeting_id BIGINT       NOT NULL,
    speaker    TEXT         NOT NULL DEFAULT '',
    text       TEXT         NOT NULL,
    created_at TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_transcript_records_meeting_id
    ON transcript_records (meeting_id);

CREATE INDEX IF NOT EXISTS idx_transcript_records_meeting_created
    ON transcript_records (meeting_id, created_at);`

// Migrate creates the tables and indexes the store needs. Meeting rows are
// managed by the surrounding application; the table is created here so a
// fresh database works out of the box.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, ddl := range []string{ddlMeetings, ddlTranscriptRecords} {
		if _, err := pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
