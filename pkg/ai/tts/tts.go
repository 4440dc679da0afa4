package tts

import (
	"context"

	"github.com/chriscow/voiceagent/pkg/ai"
	"github.com/chriscow/voiceagent/pkg/rtc"
)

// TTS-specific error variables for backward compatibility  
var (
	// ErrRecoverable indicates a temporary TTS failure that may succeed if retried.
	// Examples: service overload, temporary quota exceeded, network issues.
	ErrRecoverable = ai.ErrRecoverable
	
	// ErrFatal indicates a permanent TTS failure that will not succeed if retried.
	// Examples: invalid voice ID, unsupported text format, permanent quota exceeded.
	ErrFatal = ai.ErrFatal
)

// SynthesizeRequest contains parameters for text-to-speech synthesis.
type SynthesizeRequest struct {
	Text     string
	Voice    string
	Language string
	Speed    float32
	Pitch    float32
}

// TTSCapabilities describes the capabilities of a TTS provider.
type TTSCapabilities struct {
	Streaming           bool
	SupportedLanguages  []string
	SupportedVoices     []string
	SampleRates         []int
	SupportsSSML        bool
	SupportsSpeedControl bool
	SupportsPitchControl bool
}

// AudioChunk is one frame of synthesized audio tagged with the text segment
// it belongs to, so a transcription synchronizer can pace word-by-word
// playback against the text that produced it.
type AudioChunk struct {
	Frame     rtc.AudioFrame
	SegmentID string
	// TextChunk is the slice of input text this audio corresponds to, used
	// by the transcription pacing algorithm's hyphen-count heuristic.
	TextChunk string
	IsFinal   bool
}

// ChunkedStream is an active streaming synthesis session that accepts text
// incrementally (as an LLM streams tokens) and emits audio incrementally.
type ChunkedStream interface {
	// PushText appends another chunk of input text to be synthesized.
	PushText(text string) error
	// CloseInput signals that no more text will be pushed.
	CloseInput() error
	// Chunks returns the stream of synthesized audio chunks, closed when
	// synthesis of all pushed text completes or the stream errors.
	Chunks() <-chan AudioChunk
	// Err returns the terminal error, if any, once Chunks' channel closes.
	Err() error
	// Close aborts the stream.
	Close() error
}

// TTS is the main interface for text-to-speech providers.
type TTS interface {
	// Synthesize converts text to audio frames in one call.
	// Returns a channel that will receive audio frames and close when synthesis is complete.
	Synthesize(ctx context.Context, req SynthesizeRequest) (<-chan rtc.AudioFrame, error)

	// SynthesizeStream opens an incremental synthesis session fed by
	// PushText calls, used to pipeline LLM token output directly into
	// audio generation without waiting for a complete sentence.
	SynthesizeStream(ctx context.Context, req SynthesizeRequest) (ChunkedStream, error)

	// Capabilities returns the provider's capabilities.
	Capabilities() TTSCapabilities
}