package stream

import "encoding/binary"

// MixToMono averages interleaved PCM16 samples across numChannels into a
// single mono channel. Used before feeding audio to VAD/STT/EOU inference;
// the spec requires multi-channel input be averaged to mono before
// inference but never before publishing to the room, so this must only be
// applied on the inference-side copy of a frame, not the one sent onward.
func MixToMono(data []byte, numChannels int) []byte {
	if numChannels <= 1 {
		out := make([]byte, len(data))
		copy(out, data)
		return out
	}
	frameBytes := numChannels * 2
	numSamples := len(data) / frameBytes
	out := make([]byte, numSamples*2)
	for i := 0; i < numSamples; i++ {
		var sum int32
		for ch := 0; ch < numChannels; ch++ {
			off := i*frameBytes + ch*2
			sum += int32(int16(binary.LittleEndian.Uint16(data[off : off+2])))
		}
		avg := int16(sum / int32(numChannels))
		binary.LittleEndian.PutUint16(out[i*2:i*2+2], uint16(avg))
	}
	return out
}

// Resampler converts PCM16 mono audio between arbitrary sample rates using
// linear interpolation. It keeps a one-sample carry-over across calls so a
// stream of frames resamples continuously without discontinuities at frame
// boundaries.
type Resampler struct {
	fromRate, toRate int
	lastSample       int16
	havePrev         bool
	fracPos          float64
}

// NewResampler creates a resampler converting audio from fromRate to toRate.
func NewResampler(fromRate, toRate int) *Resampler {
	return &Resampler{fromRate: fromRate, toRate: toRate}
}

// Resample converts a chunk of mono PCM16 audio. If fromRate == toRate the
// input is returned copied but otherwise unmodified.
func (r *Resampler) Resample(data []byte) []byte {
	if r.fromRate == r.toRate {
		out := make([]byte, len(data))
		copy(out, data)
		return out
	}
	in := make([]int16, len(data)/2)
	for i := range in {
		in[i] = int16(binary.LittleEndian.Uint16(data[i*2 : i*2+2]))
	}
	ratio := float64(r.fromRate) / float64(r.toRate)

	var out []int16
	pos := r.fracPos
	prev := r.lastSample
	havePrev := r.havePrev
	idx := 0
	for {
		ip := int(pos)
		if ip >= len(in) {
			break
		}
		var s0 int16
		if ip == 0 {
			if havePrev {
				s0 = prev
			} else {
				s0 = in[0]
			}
		} else {
			s0 = in[ip-1]
		}
		s1 := in[ip]
		frac := pos - float64(ip)
		sample := int16(float64(s0)*(1-frac) + float64(s1)*frac)
		out = append(out, sample)
		pos += ratio
		idx++
	}
	if len(in) > 0 {
		r.lastSample = in[len(in)-1]
		r.havePrev = true
	}
	r.fracPos = pos - float64(len(in))
	if r.fracPos < 0 {
		r.fracPos = 0
	}

	outBytes := make([]byte, len(out)*2)
	for i, s := range out {
		binary.LittleEndian.PutUint16(outBytes[i*2:i*2+2], uint16(s))
	}
	return outBytes
}
