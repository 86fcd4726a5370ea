package diarized

import (
	"math"

	"github.com/dzagr-ss/ai-meeting-sub000/internal/engine"
)

// voiceprintDims is the number of features extracted per speaker segment:
// RMS energy, zero-crossing rate, and four coarse band-energy ratios.
const voiceprintDims = 6

// extractVoiceprint computes a coarse acoustic signature from raw samples.
// The features are chosen to be cheap and roughly speaker-discriminating for
// conversational speech: overall energy, zero-crossing rate (correlates with
// pitch register), and the distribution of energy across four frequency-ish
// bands approximated by differencing filters of increasing order.
func extractVoiceprint(samples []float32) engine.Voiceprint {
	vp := make(engine.Voiceprint, voiceprintDims)
	if len(samples) < 2 {
		return vp
	}

	var sumSq float64
	crossings := 0
	for i, s := range samples {
		sumSq += float64(s) * float64(s)
		if i > 0 && (s >= 0) != (samples[i-1] >= 0) {
			crossings++
		}
	}
	vp[0] = math.Sqrt(sumSq / float64(len(samples)))
	vp[1] = float64(crossings) / float64(len(samples)-1)

	// Band energies via cascaded first-order differences. Each differencing
	// pass emphasizes progressively higher frequencies; the ratio of each
	// pass's energy to the total sketches the spectral tilt of the voice.
	work := make([]float32, len(samples))
	copy(work, samples)
	total := sumSq
	if total == 0 {
		return vp
	}
	for band := 0; band < 4; band++ {
		var bandSq float64
		for i := len(work) - 1; i > 0; i-- {
			work[i] -= work[i-1]
			bandSq += float64(work[i]) * float64(work[i])
		}
		work = work[1:]
		vp[2+band] = bandSq / total
		if len(work) < 2 {
			break
		}
	}
	return vp
}
