package refine

import (
	"fmt"
	"log/slog"

	"github.com/dzagr-ss/ai-meeting-sub000/internal/engine"
)

// SpeakerKey identifies one locally-labeled speaker in one file.
type SpeakerKey struct {
	File  string
	Local string
}

// FileSegment is a segment annotated with its source file. Slices of
// FileSegment keep file order (files in recording order, segments in start
// order within each file), which is the order the reconciler matches in.
type FileSegment struct {
	File string
	engine.Segment
}

// ClusterResult maps every (file, local label) pair to a global speaker
// identity and carries all segments with local labels rewritten to global
// ones.
type ClusterResult struct {
	Assignments map[SpeakerKey]string
	Segments    []FileSegment
}

// Clusterer merges locally-labeled speakers across files into global
// "Speaker_N" identities by acoustic similarity.
//
// The algorithm is a greedy heuristic, not an exact clustering: candidates
// are assigned in encounter order, and when several existing identities
// score above the threshold within a small margin of each other, the most
// recently created one wins. That tie-break biases toward fewer distinct
// speakers, which is the correction meetings usually need.
type Clusterer struct {
	threshold float64
	margin    float64
}

const (
	defaultClusterThreshold = 0.80
	defaultClusterMargin    = 0.05
)

// NewClusterer returns a clusterer with the given similarity threshold and
// ambiguity margin. Non-positive values take the defaults.
func NewClusterer(threshold, margin float64) *Clusterer {
	if threshold <= 0 {
		threshold = defaultClusterThreshold
	}
	if margin <= 0 {
		margin = defaultClusterMargin
	}
	return &Clusterer{threshold: threshold, margin: margin}
}

// globalSpeaker is one assigned identity with its running centroid
// voiceprint.
type globalSpeaker struct {
	label string
	print engine.Voiceprint
	n     int
}

// Cluster assigns global identities across files. Files must be given in
// recording order.
//
// Candidates from files without voiceprints (fallback analysis) are never
// merged across files: each becomes its own global identity. That is the
// documented degradation, not a silent wrong answer.
func (c *Clusterer) Cluster(files []FileAnalysis) ClusterResult {
	res := ClusterResult{Assignments: make(map[SpeakerKey]string)}
	var globals []*globalSpeaker

	newGlobal := func(print engine.Voiceprint) *globalSpeaker {
		g := &globalSpeaker{
			label: fmt.Sprintf("Speaker_%d", len(globals)+1),
			print: append(engine.Voiceprint(nil), print...),
			n:     1,
		}
		globals = append(globals, g)
		return g
	}

	for _, fa := range files {
		for _, seg := range fa.Segments {
			key := SpeakerKey{File: fa.Path, Local: seg.Speaker}
			global, ok := res.Assignments[key]
			if !ok {
				global = c.assign(key, fa.Voiceprints[seg.Speaker], globals, newGlobal)
				res.Assignments[key] = global
			}
			seg.Speaker = global
			res.Segments = append(res.Segments, FileSegment{File: fa.Path, Segment: seg})
		}
	}
	return res
}

// assign resolves one unseen candidate to an existing global identity or
// creates a new one.
func (c *Clusterer) assign(key SpeakerKey, print engine.Voiceprint, globals []*globalSpeaker, newGlobal func(engine.Voiceprint) *globalSpeaker) string {
	if len(print) == 0 {
		return newGlobal(nil).label
	}

	best := 0.0
	for _, g := range globals {
		if s := engine.Similarity(print, g.print); s > best {
			best = s
		}
	}
	if best < c.threshold {
		return newGlobal(print).label
	}

	// All identities within the margin of the best score are considered
	// ambiguous; the most recently created one wins.
	var chosen *globalSpeaker
	for _, g := range globals {
		if s := engine.Similarity(print, g.print); s >= c.threshold && s >= best-c.margin {
			chosen = g
		}
	}
	chosen.absorb(print)
	slog.Debug("refine: merged speaker across files",
		"file", key.File, "local", key.Local, "global", chosen.label, "score", best)
	return chosen.label
}

// absorb folds a voiceprint into the centroid as a running mean.
func (g *globalSpeaker) absorb(print engine.Voiceprint) {
	if len(g.print) != len(print) {
		return
	}
	g.n++
	for i := range g.print {
		g.print[i] += (print[i] - g.print[i]) / float64(g.n)
	}
}
