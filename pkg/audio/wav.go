package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

// wavHeaderSize is the size of a canonical PCM WAV header: RIFF descriptor,
// fmt chunk, and data chunk header.
const wavHeaderSize = 44

// ReadWAV reads a 16-bit PCM WAV file and returns mono float32 samples in
// [-1, 1] along with the file's sample rate. Stereo input is downmixed by
// averaging the channel pair. Only canonical-layout files are supported,
// which covers everything the recorder writes.
func ReadWAV(path string) ([]float32, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("audio: open wav %q: %w", path, err)
	}
	defer f.Close()

	header := make([]byte, wavHeaderSize)
	if _, err := io.ReadFull(f, header); err != nil {
		return nil, 0, fmt.Errorf("audio: read wav header %q: %w", path, err)
	}
	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		return nil, 0, fmt.Errorf("audio: %q is not a RIFF/WAVE file", path)
	}

	audioFormat := binary.LittleEndian.Uint16(header[20:22])
	channels := int(binary.LittleEndian.Uint16(header[22:24]))
	sampleRate := int(binary.LittleEndian.Uint32(header[24:28]))
	bitsPerSample := int(binary.LittleEndian.Uint16(header[34:36]))

	if audioFormat != 1 || bitsPerSample != 16 {
		return nil, 0, fmt.Errorf("audio: %q: unsupported format %d/%d-bit (want PCM/16-bit)", path, audioFormat, bitsPerSample)
	}
	if channels < 1 || channels > 2 || sampleRate <= 0 {
		return nil, 0, fmt.Errorf("audio: %q: bad wav header (channels=%d rate=%d)", path, channels, sampleRate)
	}

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, 0, fmt.Errorf("audio: read wav data %q: %w", path, err)
	}

	frames := len(data) / (2 * channels)
	samples := make([]float32, frames)
	for i := range frames {
		var sum int32
		for c := range channels {
			off := (i*channels + c) * 2
			sum += int32(int16(binary.LittleEndian.Uint16(data[off:])))
		}
		samples[i] = float32(sum/int32(channels)) / 32768
	}
	return samples, sampleRate, nil
}

// EncodeWAV renders mono float32 samples as a 16-bit PCM WAV byte stream.
// Samples outside [-1, 1] are clamped.
func EncodeWAV(samples []float32, sampleRate int) ([]byte, error) {
	if sampleRate <= 0 {
		return nil, errors.New("audio: encode wav: sample rate must be positive")
	}

	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		binary.LittleEndian.PutUint16(data[i*2:], uint16(int16(s*32767)))
	}

	var buf bytes.Buffer
	buf.Grow(wavHeaderSize + len(data))
	if err := writeWAVHeader(&buf, sampleRate, 1, 16, len(data)); err != nil {
		return nil, fmt.Errorf("audio: encode wav header: %w", err)
	}
	buf.Write(data)
	return buf.Bytes(), nil
}

// WriteWAV writes mono float32 samples as a 16-bit PCM WAV file.
func WriteWAV(path string, samples []float32, sampleRate int) error {
	encoded, err := EncodeWAV(samples, sampleRate)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, encoded, 0o644); err != nil {
		return fmt.Errorf("audio: write wav %q: %w", path, err)
	}
	return nil
}

// writeWAVHeader writes a canonical 44-byte PCM WAV header to w.
func writeWAVHeader(w io.Writer, sampleRate, channels, bitsPerSample, dataSize int) error {
	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8

	buf := make([]byte, 0, wavHeaderSize)
	buf = append(buf, "RIFF"...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(36+dataSize))
	buf = append(buf, "WAVE"...)
	buf = append(buf, "fmt "...)
	buf = binary.LittleEndian.AppendUint32(buf, 16)
	buf = binary.LittleEndian.AppendUint16(buf, 1) // PCM
	buf = binary.LittleEndian.AppendUint16(buf, uint16(channels))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(sampleRate))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(byteRate))
	buf = binary.LittleEndian.AppendUint16(buf, uint16(blockAlign))
	buf = binary.LittleEndian.AppendUint16(buf, uint16(bitsPerSample))
	buf = append(buf, "data"...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(dataSize))

	_, err := w.Write(buf)
	return err
}
