package whisper

import (
	"encoding/binary"
	"math"
	"strings"
	"testing"
)

// wavBytes wraps raw 16-bit PCM in a minimal RIFF/WAV container for decode
// tests.
func wavBytes(pcm []byte, sampleRate, channels int) []byte {
	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8

	buf := make([]byte, 44+len(pcm))
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+len(pcm)))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1)
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], uint16(bitsPerSample))
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(len(pcm)))
	copy(buf[44:], pcm)
	return buf
}

func pcmSamples(values ...int16) []byte {
	buf := make([]byte, len(values)*2)
	for i, v := range values {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(v))
	}
	return buf
}

func TestDecodeWAV(t *testing.T) {
	t.Parallel()

	pcm := pcmSamples(0, 16384, -16384, 32767)
	data := wavBytes(pcm, 16000, 1)

	got, sampleRate, channels, err := decodeWAV(data)
	if err != nil {
		t.Fatalf("decodeWAV: unexpected error: %v", err)
	}
	if sampleRate != 16000 {
		t.Errorf("sample rate = %d, want 16000", sampleRate)
	}
	if channels != 1 {
		t.Errorf("channels = %d, want 1", channels)
	}
	if len(got) != len(pcm) {
		t.Fatalf("pcm length = %d, want %d", len(got), len(pcm))
	}
	for i := range pcm {
		if got[i] != pcm[i] {
			t.Fatalf("pcm[%d] = %d, want %d", i, got[i], pcm[i])
		}
	}
}

func TestDecodeWAV_Stereo(t *testing.T) {
	t.Parallel()

	pcm := pcmSamples(100, 200, 300, 400)
	_, sampleRate, channels, err := decodeWAV(wavBytes(pcm, 44100, 2))
	if err != nil {
		t.Fatalf("decodeWAV: unexpected error: %v", err)
	}
	if sampleRate != 44100 || channels != 2 {
		t.Errorf("got %d Hz / %d ch, want 44100 Hz / 2 ch", sampleRate, channels)
	}
}

func TestDecodeWAV_Rejects(t *testing.T) {
	t.Parallel()

	valid := wavBytes(pcmSamples(1, 2, 3, 4), 16000, 1)

	tests := []struct {
		name    string
		corrupt func([]byte) []byte
		wantErr string
	}{
		{
			name:    "not riff",
			corrupt: func(b []byte) []byte { copy(b[0:4], "JUNK"); return b },
			wantErr: "not a RIFF/WAVE file",
		},
		{
			name:    "not wave",
			corrupt: func(b []byte) []byte { copy(b[8:12], "AVI "); return b },
			wantErr: "not a RIFF/WAVE file",
		},
		{
			name: "truncated data chunk",
			corrupt: func(b []byte) []byte {
				binary.LittleEndian.PutUint32(b[40:44], 9999)
				return b
			},
			wantErr: "truncated",
		},
		{
			name: "compressed format",
			corrupt: func(b []byte) []byte {
				binary.LittleEndian.PutUint16(b[20:22], 85) // MP3
				return b
			},
			wantErr: "unsupported audio format",
		},
		{
			name: "wrong bit depth",
			corrupt: func(b []byte) []byte {
				binary.LittleEndian.PutUint16(b[34:36], 8)
				return b
			},
			wantErr: "unsupported bit depth",
		},
		{
			name:    "missing chunks",
			corrupt: func(b []byte) []byte { return b[:12] },
			wantErr: "missing fmt chunk",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			data := tt.corrupt(append([]byte(nil), valid...))
			_, _, _, err := decodeWAV(data)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestPcmToFloat32_Empty(t *testing.T) {
	t.Parallel()

	if out := pcmToFloat32(nil); len(out) != 0 {
		t.Fatalf("expected empty output, got %d samples", len(out))
	}
}

func TestPcmToFloat32_Values(t *testing.T) {
	t.Parallel()

	pcm := pcmSamples(0, 16384, -16384, 32767, -32768)
	want := []float32{0, 0.5, -0.5, 32767.0 / 32768.0, -1.0}

	out := pcmToFloat32(pcm)
	if len(out) != len(want) {
		t.Fatalf("got %d samples, want %d", len(out), len(want))
	}
	for i := range want {
		if math.Abs(float64(out[i]-want[i])) > 1e-6 {
			t.Errorf("sample %d = %f, want %f", i, out[i], want[i])
		}
	}
}

func TestPcmToFloat32Mono_DownmixesStereo(t *testing.T) {
	t.Parallel()

	// Two frames of stereo: (16384, 0) and (-16384, -16384).
	pcm := pcmSamples(16384, 0, -16384, -16384)

	out := pcmToFloat32Mono(pcm, 2)
	if len(out) != 2 {
		t.Fatalf("got %d samples, want 2", len(out))
	}
	if math.Abs(float64(out[0]-0.25)) > 1e-6 {
		t.Errorf("frame 0 = %f, want 0.25", out[0])
	}
	if math.Abs(float64(out[1]+0.5)) > 1e-6 {
		t.Errorf("frame 1 = %f, want -0.5", out[1])
	}
}

func TestPcmToFloat32Mono_SingleChannelPassthrough(t *testing.T) {
	t.Parallel()

	pcm := pcmSamples(16384, -16384)
	mono := pcmToFloat32Mono(pcm, 1)
	direct := pcmToFloat32(pcm)
	if len(mono) != len(direct) {
		t.Fatalf("length mismatch: %d vs %d", len(mono), len(direct))
	}
	for i := range direct {
		if mono[i] != direct[i] {
			t.Errorf("sample %d: %f != %f", i, mono[i], direct[i])
		}
	}
}

func TestDecodeWAVRoundTripThroughFloat(t *testing.T) {
	t.Parallel()

	pcm := pcmSamples(1000, -1000, 2000, -2000)
	data := wavBytes(pcm, 16000, 1)

	decoded, _, channels, err := decodeWAV(data)
	if err != nil {
		t.Fatalf("decodeWAV: %v", err)
	}
	samples := pcmToFloat32Mono(decoded, channels)
	if len(samples) != 4 {
		t.Fatalf("got %d samples, want 4", len(samples))
	}
}
