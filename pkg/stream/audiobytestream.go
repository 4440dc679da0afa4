package stream

import "fmt"

// AudioByteStream accumulates incoming PCM16 bytes and emits fixed-size
// frames of SamplesPerFrame samples, normalizing arbitrary provider chunk
// sizes into the frame size downstream models (VAD, STT, the interruption
// detector) expect.
type AudioByteStream struct {
	sampleRate     int
	numChannels    int
	samplesPerFrame int
	bytesPerFrame  int
	buf            []byte
}

// NewAudioByteStream creates a stream that frames PCM16 audio at sampleRate
// into chunks of samplesPerFrame samples per channel.
func NewAudioByteStream(sampleRate, numChannels, samplesPerFrame int) *AudioByteStream {
	return &AudioByteStream{
		sampleRate:      sampleRate,
		numChannels:     numChannels,
		samplesPerFrame: samplesPerFrame,
		bytesPerFrame:   samplesPerFrame * numChannels * 2,
	}
}

// Write appends raw PCM16 bytes and returns any whole frames that can now be
// emitted. data must be a whole number of samples (len(data) % (numChannels*2)
// == 0); a write larger than the stream's internal window in one call is
// still accepted and framed incrementally — only a single sample-misaligned
// write is rejected.
func (s *AudioByteStream) Write(data []byte) ([][]byte, error) {
	sampleSize := s.numChannels * 2
	if len(data)%sampleSize != 0 {
		return nil, fmt.Errorf("stream: write of %d bytes is not a whole number of %d-channel samples", len(data), s.numChannels)
	}
	s.buf = append(s.buf, data...)

	var frames [][]byte
	for len(s.buf) >= s.bytesPerFrame {
		frame := make([]byte, s.bytesPerFrame)
		copy(frame, s.buf[:s.bytesPerFrame])
		frames = append(frames, frame)
		s.buf = s.buf[s.bytesPerFrame:]
	}
	return frames, nil
}

// Flush emits a final, zero-padded frame containing any buffered remainder,
// or nil if no partial frame is pending.
func (s *AudioByteStream) Flush() []byte {
	if len(s.buf) == 0 {
		return nil
	}
	frame := make([]byte, s.bytesPerFrame)
	copy(frame, s.buf)
	s.buf = nil
	return frame
}
