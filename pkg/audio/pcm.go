// Package audio provides PCM sample handling shared by the live streaming
// pipeline and the batch reconciliation pipeline: float32 wire decoding,
// silence detection, WAV file IO, and meeting recording discovery.
package audio

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// DefaultSampleRate is the sample rate all analysis runs at. Browser capture
// is downsampled to this rate before it reaches the server.
const DefaultSampleRate = 16000

// ErrMisalignedChunk reports a raw byte payload whose length is not a whole
// number of float32 samples.
var ErrMisalignedChunk = fmt.Errorf("audio: chunk length is not a multiple of 4")

// DecodeFloat32 converts little-endian float32 PCM bytes into samples.
// Returns [ErrMisalignedChunk] when len(b) is not a multiple of 4 — callers
// on the live path skip such chunks rather than guessing at alignment.
func DecodeFloat32(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, ErrMisalignedChunk
	}
	samples := make([]float32, len(b)/4)
	for i := range samples {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return samples, nil
}

// EncodeFloat32 converts samples to little-endian float32 PCM bytes.
// Inverse of [DecodeFloat32]; used by tests and the WAV writer.
func EncodeFloat32(samples []float32) []byte {
	b := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(s))
	}
	return b
}

// Duration returns the play time of n samples at the given rate.
func Duration(n int, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(sampleRate))
}

// SamplesFor returns the number of samples covering d at the given rate.
func SamplesFor(d time.Duration, sampleRate int) int {
	return int(int64(sampleRate) * int64(d) / int64(time.Second))
}

// IsSilence reports whether every sample's amplitude is below threshold.
// Matches the peak-amplitude check used when deciding whether a window is
// worth sending to the analysis engine.
func IsSilence(samples []float32, threshold float32) bool {
	for _, s := range samples {
		if s < 0 {
			s = -s
		}
		if s >= threshold {
			return false
		}
	}
	return true
}
