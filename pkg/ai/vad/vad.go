package vad

import (
	"context"
	"time"

	"github.com/chriscow/voiceagent/pkg/ai"
	"github.com/chriscow/voiceagent/pkg/rtc"
)

// VAD-specific error variables for backward compatibility
var (
	// ErrRecoverable indicates a temporary VAD failure that may succeed if retried.
	// Examples: processing overload, temporary resource shortage.
	ErrRecoverable = ai.ErrRecoverable
	
	// ErrFatal indicates a permanent VAD failure that will not succeed if retried.
	// Examples: unsupported audio format, invalid configuration.
	ErrFatal = ai.ErrFatal
)

// VADEventType represents the type of VAD event.
type VADEventType int

const (
	VADEventSpeechStart VADEventType = iota
	VADEventSpeechEnd
	VADEventInferenceDone
	VADEventError
)

// VADEvent represents a voice activity detection event.
type VADEvent struct {
	Type      VADEventType
	Timestamp time.Time
	// Probability is the raw speech probability for this frame, smoothed by
	// an stream.ExpFilter before being compared against ActivationThreshold.
	Probability float64
	Error       error
}

// Config configures a VAD stream.
type Config struct {
	SampleRate          int
	ActivationThreshold float64       // probability above which a frame is "speech"
	MinSpeechDuration   time.Duration // minimum run of speech frames to emit SpeechStart
	MinSilenceDuration  time.Duration // minimum run of silence frames to emit SpeechEnd
	PrefixPaddingDuration time.Duration // audio retained before a detected speech start
}

// Capabilities describes the capabilities of a VAD provider.
type Capabilities struct {
	SampleRates        []int
	MinSpeechDuration  time.Duration
	MinSilenceDuration time.Duration
	Sensitivity        float32 // 0.0 to 1.0
}

// Stream is an active VAD session fed by audio frames.
type Stream interface {
	// PushFrame submits one frame of audio for analysis.
	PushFrame(frame rtc.AudioFrame) error
	// Events returns the stream of VAD events, closed on stream end.
	Events() <-chan VADEvent
	// Close ends the stream.
	Close() error
}

// VAD is the main interface for voice activity detection providers.
type VAD interface {
	// Detect processes audio frames and returns VAD events.
	// The returned channel will be closed when the input channel is closed or context is cancelled.
	Detect(ctx context.Context, frames <-chan rtc.AudioFrame) (<-chan VADEvent, error)

	// Stream opens a push-based VAD session, used by the recognition
	// coordinator's tee'd VAD branch.
	Stream(ctx context.Context, cfg Config) (Stream, error)

	// Capabilities returns the provider's capabilities.
	Capabilities() Capabilities
}