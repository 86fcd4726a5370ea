package refine

import (
	"context"
	"testing"

	"github.com/dzagr-ss/ai-meeting-sub000/internal/store/memstore"
)

func TestGroupRecords(t *testing.T) {
	t.Parallel()

	st := memstore.New()
	seedRecords(t, st, 8, [][2]string{
		{"Speaker_1", "we should"},
		{"Speaker_1", "ship on friday"},
		{"Speaker_2", "   "},
		{"Speaker_2", "agreed"},
		{"Speaker_1", "great"},
	})

	if err := GroupRecords(context.Background(), st, 8); err != nil {
		t.Fatalf("GroupRecords: %v", err)
	}

	records, err := st.ListTranscriptRecords(context.Background(), 8)
	if err != nil {
		t.Fatalf("ListTranscriptRecords: %v", err)
	}
	want := []struct {
		speaker string
		text    string
	}{
		{"Speaker_1", "we should ship on friday"},
		{"Speaker_2", "agreed"},
		{"Speaker_1", "great"},
	}
	if len(records) != len(want) {
		t.Fatalf("grouped records = %d, want %d", len(records), len(want))
	}
	for i, w := range want {
		if records[i].Speaker != w.speaker || records[i].Text != w.text {
			t.Errorf("record %d = %q/%q, want %q/%q", i, records[i].Speaker, records[i].Text, w.speaker, w.text)
		}
	}
}

func TestGroupRecords_Idempotent(t *testing.T) {
	t.Parallel()

	st := memstore.New()
	seedRecords(t, st, 9, [][2]string{
		{"Speaker_1", "alpha"},
		{"Speaker_1", "beta"},
		{"Speaker_2", "gamma"},
	})

	if err := GroupRecords(context.Background(), st, 9); err != nil {
		t.Fatalf("first GroupRecords: %v", err)
	}
	first, err := st.ListTranscriptRecords(context.Background(), 9)
	if err != nil {
		t.Fatalf("ListTranscriptRecords: %v", err)
	}

	if err := GroupRecords(context.Background(), st, 9); err != nil {
		t.Fatalf("second GroupRecords: %v", err)
	}
	second, err := st.ListTranscriptRecords(context.Background(), 9)
	if err != nil {
		t.Fatalf("ListTranscriptRecords: %v", err)
	}

	if len(first) != len(second) {
		t.Fatalf("record count changed on second pass: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].Speaker != second[i].Speaker || first[i].Text != second[i].Text || !first[i].Timestamp.Equal(second[i].Timestamp) {
			t.Errorf("record %d changed on second pass: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestGroupRecords_ReplaceFailureKeepsOriginals(t *testing.T) {
	t.Parallel()

	st := memstore.New()
	seedRecords(t, st, 10, [][2]string{
		{"Speaker_1", "one"},
		{"Speaker_1", "two"},
	})
	st.FailReplace = true

	if err := GroupRecords(context.Background(), st, 10); err == nil {
		t.Fatal("GroupRecords did not surface the replace failure")
	}

	records, err := st.ListTranscriptRecords(context.Background(), 10)
	if err != nil {
		t.Fatalf("ListTranscriptRecords: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("records after failed replace = %d, want the 2 originals", len(records))
	}
}
