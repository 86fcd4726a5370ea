package refine

import (
	"context"
	"testing"
	"time"

	"github.com/dzagr-ss/ai-meeting-sub000/internal/store"
	"github.com/dzagr-ss/ai-meeting-sub000/internal/store/memstore"
)

func seedRecords(t *testing.T, st *memstore.Store, meetingID int64, rows [][2]string) []store.TranscriptRecord {
	t.Helper()
	base := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	for i, row := range rows {
		if _, err := st.CreateTranscriptRecord(context.Background(), meetingID, row[0], row[1], base.Add(time.Duration(i)*10*time.Second)); err != nil {
			t.Fatalf("seeding record %d: %v", i, err)
		}
	}
	records, err := st.ListTranscriptRecords(context.Background(), meetingID)
	if err != nil {
		t.Fatalf("listing seeded records: %v", err)
	}
	return records
}

func clusteredFrom(file string, pairs [][2]string) ClusterResult {
	res := ClusterResult{Assignments: make(map[SpeakerKey]string)}
	for i, p := range pairs {
		res.Segments = append(res.Segments, FileSegment{
			File:    file,
			Segment: seg(p[0], time.Duration(i)*5*time.Second, time.Duration(i+1)*5*time.Second, p[1]),
		})
	}
	return res
}

func TestReconciler_ExactAndFuzzyMatch(t *testing.T) {
	t.Parallel()

	st := memstore.New()
	seedRecords(t, st, 5, [][2]string{
		{"Speaker_1", "Good morning everyone"},
		{"Speaker_1", "let us start with the quarterly numbers"},
		{"Speaker_1", "zqx vvv bbb unrelated gibberish"},
	})

	clustered := clusteredFrom("meeting_5_0.wav", [][2]string{
		{"Speaker_2", "good morning everyone"},                      // exact after normalization
		{"Speaker_3", "let us start with the quarterly number"},     // near match
		{"Speaker_4", "completely different agenda item entirely"},  // weak for record 3
	})

	res, err := NewReconciler(st, 0).Reconcile(context.Background(), 5, clustered)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	if res.RecordsUpdated != 2 {
		t.Errorf("RecordsUpdated = %d, want 2", res.RecordsUpdated)
	}
	if res.SegmentsConsidered != 3 {
		t.Errorf("SegmentsConsidered = %d, want 3", res.SegmentsConsidered)
	}
	if res.FilesProcessed != 1 {
		t.Errorf("FilesProcessed = %d, want 1", res.FilesProcessed)
	}

	records, err := st.ListTranscriptRecords(context.Background(), 5)
	if err != nil {
		t.Fatalf("ListTranscriptRecords: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("record count changed to %d, reconciliation must never lose records", len(records))
	}
	if records[0].Speaker != "Speaker_2" {
		t.Errorf("exact-matched record speaker = %q, want Speaker_2", records[0].Speaker)
	}
	if records[1].Speaker != "Speaker_3" {
		t.Errorf("fuzzy-matched record speaker = %q, want Speaker_3", records[1].Speaker)
	}
	if records[2].Speaker != "Speaker_1" {
		t.Errorf("weakly-matched record speaker = %q, want untouched Speaker_1", records[2].Speaker)
	}
}

func TestReconciler_PersistenceFailureAbortsPass(t *testing.T) {
	t.Parallel()

	st := memstore.New()
	seedRecords(t, st, 6, [][2]string{{"Speaker_1", "hello world"}})
	st.FailBulkUpdate = true

	clustered := clusteredFrom("meeting_6_0.wav", [][2]string{{"Speaker_9", "hello world"}})

	if _, err := NewReconciler(st, 0).Reconcile(context.Background(), 6, clustered); err == nil {
		t.Fatal("Reconcile did not surface the persistence failure")
	}

	records, err := st.ListTranscriptRecords(context.Background(), 6)
	if err != nil {
		t.Fatalf("ListTranscriptRecords: %v", err)
	}
	if records[0].Speaker != "Speaker_1" {
		t.Errorf("speaker after aborted pass = %q, want prior Speaker_1", records[0].Speaker)
	}
}

func TestReconciler_EmptyInputs(t *testing.T) {
	t.Parallel()

	st := memstore.New()
	res, err := NewReconciler(st, 0).Reconcile(context.Background(), 404, ClusterResult{})
	if err != nil {
		t.Fatalf("Reconcile on empty meeting: %v", err)
	}
	if res.RecordsUpdated != 0 || res.SegmentsConsidered != 0 {
		t.Errorf("empty pass result = %+v, want zeros", res)
	}
}
