package refine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/dzagr-ss/ai-meeting-sub000/internal/store"
)

const (
	// defaultMinSimilarity is the Jaro-Winkler score below which a fuzzy
	// text match is rejected and the record keeps its prior speaker.
	defaultMinSimilarity = 0.85

	// candidateRadius bounds the fuzzy-match search to segments near a
	// record's relative position in the transcript. Live records and
	// refined segments cover the same audio in the same order, so a match
	// far away in the sequence would be spurious anyway.
	candidateRadius = 12
)

// ReconcileResult summarizes one reconciliation pass.
type ReconcileResult struct {
	RecordsUpdated     int
	SegmentsConsidered int
	FilesProcessed     int
}

// Reconciler applies globally-labeled refined segments back onto the
// persisted live transcript. Records are matched to segments by text:
// exact normalized match first, Jaro-Winkler similarity as fallback. A
// record with no confident match keeps its prior speaker; that is a no-op,
// not an error.
type Reconciler struct {
	store         store.Store
	minSimilarity float64
}

// NewReconciler returns a reconciler writing through st. A non-positive
// threshold takes the default.
func NewReconciler(st store.Store, minSimilarity float64) *Reconciler {
	if minSimilarity <= 0 {
		minSimilarity = defaultMinSimilarity
	}
	return &Reconciler{store: st, minSimilarity: minSimilarity}
}

// normalizeText folds case and collapses whitespace so the exact-match
// index is robust against formatting drift between passes.
func normalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// Reconcile relabels the meeting's records from the clustered segments.
// All accepted relabelings are applied in one bulk update: either the
// whole pass lands or the prior labels stay intact.
func (r *Reconciler) Reconcile(ctx context.Context, meetingID int64, clustered ClusterResult) (ReconcileResult, error) {
	res := ReconcileResult{SegmentsConsidered: len(clustered.Segments)}
	files := make(map[string]struct{})
	for _, fs := range clustered.Segments {
		files[fs.File] = struct{}{}
	}
	res.FilesProcessed = len(files)

	records, err := r.store.ListTranscriptRecords(ctx, meetingID)
	if err != nil {
		return res, fmt.Errorf("refine: reconcile meeting %d: %w", meetingID, err)
	}
	if len(records) == 0 || len(clustered.Segments) == 0 {
		return res, nil
	}

	// Exact-match index on normalized text. Multiple segments can share a
	// text (short utterances repeat); first occurrence wins, matching the
	// in-order bias of the fuzzy path.
	index := make(map[string]int, len(clustered.Segments))
	for i, fs := range clustered.Segments {
		key := normalizeText(fs.Text)
		if _, ok := index[key]; !ok {
			index[key] = i
		}
	}

	var updates []store.SpeakerUpdate
	for i, rec := range records {
		norm := normalizeText(rec.Text)
		if norm == "" {
			continue
		}

		seg, ok := r.match(norm, i, len(records), index, clustered.Segments)
		if !ok {
			continue
		}
		if seg.Speaker != rec.Speaker {
			updates = append(updates, store.SpeakerUpdate{RecordID: rec.ID, Speaker: seg.Speaker})
		}
	}

	if len(updates) > 0 {
		if err := r.store.BulkUpdateSpeaker(ctx, meetingID, updates); err != nil {
			return res, fmt.Errorf("refine: reconcile meeting %d: bulk update: %w", meetingID, err)
		}
	}
	res.RecordsUpdated = len(updates)
	slog.Info("refine: reconciled transcript",
		"meeting_id", meetingID,
		"records", len(records),
		"updated", res.RecordsUpdated,
		"segments", res.SegmentsConsidered,
		"files", res.FilesProcessed,
	)
	return res, nil
}

// match finds the refined segment for one record: exact index hit first,
// then the best Jaro-Winkler score above the threshold among segments near
// the record's relative position.
func (r *Reconciler) match(norm string, recIdx, recCount int, index map[string]int, segments []FileSegment) (FileSegment, bool) {
	if i, ok := index[norm]; ok {
		return segments[i], true
	}

	center := recIdx * len(segments) / recCount
	lo := max(center-candidateRadius, 0)
	hi := min(center+candidateRadius+1, len(segments))

	bestScore := 0.0
	bestIdx := -1
	for i := lo; i < hi; i++ {
		score := matchr.JaroWinkler(norm, normalizeText(segments[i].Text), false)
		if score > bestScore {
			bestScore = score
			bestIdx = i
		}
	}
	if bestIdx < 0 || bestScore < r.minSimilarity {
		return FileSegment{}, false
	}
	return segments[bestIdx], true
}
