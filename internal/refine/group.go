package refine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dzagr-ss/ai-meeting-sub000/internal/store"
)

// GroupRecords collapses chronologically adjacent records that share a
// speaker into one record each, dropping records with blank text. The
// replacement is one transactional delete-and-insert, so a crash can never
// leave the meeting without a transcript when it had one.
//
// Grouping is idempotent: an already-grouped record set is replaced with an
// identical one.
func GroupRecords(ctx context.Context, st store.Store, meetingID int64) error {
	records, err := st.ListTranscriptRecords(ctx, meetingID)
	if err != nil {
		return fmt.Errorf("refine: group meeting %d: %w", meetingID, err)
	}
	if len(records) == 0 {
		return nil
	}

	var grouped []store.NewRecord
	var open *store.NewRecord
	for _, rec := range records {
		text := strings.TrimSpace(rec.Text)
		if text == "" {
			continue
		}
		if open != nil && open.Speaker == rec.Speaker {
			open.Text = open.Text + " " + text
			continue
		}
		if open != nil {
			grouped = append(grouped, *open)
		}
		open = &store.NewRecord{Speaker: rec.Speaker, Text: text, Timestamp: rec.Timestamp}
	}
	if open != nil {
		grouped = append(grouped, *open)
	}

	if err := st.ReplaceAllRecords(ctx, meetingID, grouped); err != nil {
		return fmt.Errorf("refine: group meeting %d: replace: %w", meetingID, err)
	}
	slog.Info("refine: grouped transcript",
		"meeting_id", meetingID, "before", len(records), "after", len(grouped))
	return nil
}
