package whispercpp

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// decodeWAV parses a 16-bit PCM RIFF/WAV file and returns mono float32
// samples at the model's 16 kHz rate plus the audio duration in seconds.
// Multi-channel audio is down-mixed by averaging; other sample rates are
// linearly resampled.
func decodeWAV(data []byte) ([]float32, float64, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, 0, errors.New("not a RIFF/WAVE file")
	}

	var (
		sampleRate int
		channels   int
		bits       int
		pcm        []byte
	)

	// Walk the chunk list; only "fmt " and "data" matter.
	off := 12
	for off+8 <= len(data) {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := off + 8
		if body+size > len(data) {
			return nil, 0, errors.New("truncated chunk")
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, 0, errors.New("fmt chunk too short")
			}
			format := int(binary.LittleEndian.Uint16(data[body : body+2]))
			if format != 1 {
				return nil, 0, fmt.Errorf("unsupported audio format %d (want PCM)", format)
			}
			channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			sampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			bits = int(binary.LittleEndian.Uint16(data[body+14 : body+16]))
		case "data":
			pcm = data[body : body+size]
		}

		// Chunks are word-aligned.
		off = body + size + size%2
	}

	if sampleRate == 0 || channels == 0 {
		return nil, 0, errors.New("missing fmt chunk")
	}
	if bits != 16 {
		return nil, 0, fmt.Errorf("unsupported bit depth %d (want 16)", bits)
	}
	if len(pcm) == 0 {
		return nil, 0, errors.New("missing data chunk")
	}

	mono := pcmToFloat32Mono(pcm, channels)
	duration := float64(len(mono)) / float64(sampleRate)

	if sampleRate != modelSampleRate {
		mono = resample(mono, sampleRate, modelSampleRate)
	}
	return mono, duration, nil
}

// pcmToFloat32Mono converts 16-bit signed little-endian PCM to mono float32
// samples normalised to [-1.0, 1.0], averaging all channels per frame. Any
// trailing partial frame is ignored.
func pcmToFloat32Mono(pcm []byte, channels int) []float32 {
	frames := len(pcm) / (2 * channels)
	mono := make([]float32, frames)
	for i := range frames {
		var sum float32
		for ch := range channels {
			idx := (i*channels + ch) * 2
			sample := int16(binary.LittleEndian.Uint16(pcm[idx : idx+2]))
			sum += float32(sample) / 32768.0
		}
		mono[i] = sum / float32(channels)
	}
	return mono
}

// resample converts samples from one rate to another by linear
// interpolation. Dispatch audio is narrowband speech, so this is sufficient
// quality for recognition.
func resample(in []float32, fromRate, toRate int) []float32 {
	if fromRate == toRate || len(in) == 0 {
		return in
	}
	n := int(float64(len(in)) * float64(toRate) / float64(fromRate))
	out := make([]float32, n)
	ratio := float64(fromRate) / float64(toRate)
	for i := range n {
		pos := float64(i) * ratio
		j := int(pos)
		if j >= len(in)-1 {
			out[i] = in[len(in)-1]
			continue
		}
		frac := float32(pos - float64(j))
		out[i] = in[j]*(1-frac) + in[j+1]*frac
	}
	return out
}
