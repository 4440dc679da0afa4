package stream

import (
	"encoding/binary"
	"testing"
)

func i16Bytes(samples ...int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

func TestMixToMono_AveragesChannels(t *testing.T) {
	// 2-channel: frame1 = (100, 300) -> avg 200; frame2 = (-100, -300) -> avg -200.
	in := i16Bytes(100, 300, -100, -300)
	out := MixToMono(in, 2)

	if len(out) != 4 {
		t.Fatalf("expected 2 mono samples (4 bytes), got %d bytes", len(out))
	}
	got0 := int16(binary.LittleEndian.Uint16(out[0:2]))
	got1 := int16(binary.LittleEndian.Uint16(out[2:4]))
	if got0 != 200 || got1 != -200 {
		t.Fatalf("expected (200, -200), got (%d, %d)", got0, got1)
	}
}

func TestMixToMono_SingleChannelIsNoop(t *testing.T) {
	in := i16Bytes(42, -42)
	out := MixToMono(in, 1)
	if len(out) != len(in) {
		t.Fatalf("expected passthrough length %d, got %d", len(in), len(out))
	}
}

func TestResampler_Upsample2x(t *testing.T) {
	r := NewResampler(8000, 16000)
	in := i16Bytes(0, 1000, 2000, 3000)
	out := r.Resample(in)

	if len(out) <= len(in) {
		t.Fatalf("expected upsampled output longer than input, got %d <= %d", len(out), len(in))
	}
}

func TestResampler_DownsampleReducesLength(t *testing.T) {
	r := NewResampler(16000, 8000)
	in := i16Bytes(0, 100, 200, 300, 400, 500, 600, 700)
	out := r.Resample(in)

	if len(out) >= len(in) {
		t.Fatalf("expected downsampled output shorter than input, got %d >= %d", len(out), len(in))
	}
}

func TestResampler_SameRateLengthPreserved(t *testing.T) {
	r := NewResampler(16000, 16000)
	in := i16Bytes(10, 20, 30, 40)
	out := r.Resample(in)
	if len(out) != len(in) {
		t.Fatalf("expected identity resample to preserve length, got %d want %d", len(out), len(in))
	}
}
