package whisper

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// bitsPerSample is fixed at 16 for the 16-bit signed little-endian PCM audio
// that whisper.cpp expects.
const bitsPerSample = 16

// decodeWAV extracts raw 16-bit little-endian PCM audio from a RIFF/WAV
// container, returning the sample data together with the sample rate and
// channel count from the fmt chunk. Only uncompressed 16-bit PCM is
// supported.
func decodeWAV(data []byte) (pcm []byte, sampleRate, channels int, err error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, 0, 0, errors.New("not a RIFF/WAVE file")
	}

	var (
		haveFmt bool
		bits    int
	)
	off := 12
	for off+8 <= len(data) {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := off + 8
		if body+size > len(data) {
			return nil, 0, 0, fmt.Errorf("truncated %q chunk", id)
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, 0, 0, errors.New("fmt chunk too short")
			}
			format := int(binary.LittleEndian.Uint16(data[body : body+2]))
			if format != 1 {
				return nil, 0, 0, fmt.Errorf("unsupported audio format %d, want PCM", format)
			}
			channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			sampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			bits = int(binary.LittleEndian.Uint16(data[body+14 : body+16]))
			haveFmt = true
		case "data":
			pcm = data[body : body+size]
		}

		// Chunks are word-aligned.
		off = body + size + size%2
	}

	switch {
	case !haveFmt:
		return nil, 0, 0, errors.New("missing fmt chunk")
	case pcm == nil:
		return nil, 0, 0, errors.New("missing data chunk")
	case bits != bitsPerSample:
		return nil, 0, 0, fmt.Errorf("unsupported bit depth %d, want %d", bits, bitsPerSample)
	case channels <= 0 || sampleRate <= 0:
		return nil, 0, 0, errors.New("invalid fmt chunk")
	}
	return pcm, sampleRate, channels, nil
}

// pcmToFloat32 converts 16-bit signed little-endian PCM audio to float32
// samples normalised to the range [-1.0, 1.0]. The input length must be
// even (two bytes per sample); any trailing odd byte is silently ignored.
func pcmToFloat32(pcm []byte) []float32 {
	n := len(pcm) / 2
	samples := make([]float32, n)
	for i := range n {
		sample := int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
		samples[i] = float32(sample) / 32768.0
	}
	return samples
}

// pcmToFloat32Mono down-mixes multi-channel 16-bit PCM to mono float32 by
// averaging all channels per frame. If channels is 1 this is equivalent to
// pcmToFloat32.
func pcmToFloat32Mono(pcm []byte, channels int) []float32 {
	if channels <= 1 {
		return pcmToFloat32(pcm)
	}
	samplesPerChannel := len(pcm) / (2 * channels)
	mono := make([]float32, samplesPerChannel)
	for i := range samplesPerChannel {
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
