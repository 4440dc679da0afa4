// Package stt provides interfaces and types for speech-to-text providers.
// It defines streaming STT interfaces that convert audio frames to text transcripts
// with support for interim results, multiple languages, and error handling.
package stt

import (
	"context"
	"time"

	"github.com/chriscow/voiceagent/pkg/ai"
	"github.com/chriscow/voiceagent/pkg/rtc"
)

// STT-specific error variables for backward compatibility
var (
	// ErrRecoverable indicates a temporary STT failure that may succeed if retried.
	// Examples: network timeout, service unavailable, rate limiting.
	ErrRecoverable = ai.ErrRecoverable
	
	// ErrFatal indicates a permanent STT failure that will not succeed if retried.
	// Examples: invalid audio format, unsupported language, authentication failure.
	ErrFatal = ai.ErrFatal
)

// StreamConfig contains configuration for STT streams.
type StreamConfig struct {
	SampleRate  int
	NumChannels int
	Lang        string
	MaxRetry    int
}

// SpeechEvent represents a speech recognition event containing transcription
// results, recognition usage accounting, or errors.
type SpeechEvent struct {
	Type      SpeechEventType // Type of event
	Text      string          // Transcribed text (empty for error/usage events)
	IsFinal   bool            // True if this is a final result that won't change
	Language  string          // Detected or configured language code
	Timestamp int64           // Event timestamp in milliseconds since epoch
	Error     error           // Error details (only set for error events)

	// Usage is populated only for SpeechEventRecognitionUsage events —
	// audio duration billed for this utterance, reported once per
	// committed turn rather than per interim result.
	Usage *RecognitionUsage
}

// RecognitionUsage reports the audio duration an STT provider billed for a
// single utterance.
type RecognitionUsage struct {
	AudioDuration time.Duration
}

// SpeechEventType represents the type of speech recognition event.
type SpeechEventType int

const (
	// SpeechEventInterim represents partial transcription results that may change.
	SpeechEventInterim SpeechEventType = iota
	// SpeechEventFinal represents final transcription results that won't change.
	SpeechEventFinal
	// SpeechEventError represents transcription errors.
	SpeechEventError
	// SpeechEventPreflightTranscript represents a provisional transcript
	// delivered ahead of VAD-confirmed end of speech. The recognition
	// coordinator does not act on this event type.
	SpeechEventPreflightTranscript
	// SpeechEventRecognitionUsage reports billed audio duration once an
	// utterance is committed.
	SpeechEventRecognitionUsage
)

// STTCapabilities describes the capabilities of an STT provider.
type STTCapabilities struct {
	Streaming          bool
	InterimResults     bool
	SupportedLanguages []string
	SampleRates        []int
}

// STT is the main interface for speech-to-text providers.
type STT interface {
	// NewStream creates a new streaming STT session.
	NewStream(ctx context.Context, cfg StreamConfig) (STTStream, error)

	// Recognize performs one-shot recognition over a complete audio buffer,
	// for providers/call sites that don't need streaming interim results.
	Recognize(ctx context.Context, data []byte, cfg StreamConfig) (SpeechEvent, error)

	// Capabilities returns the provider's capabilities.
	Capabilities() STTCapabilities
}

// STTStream represents an active STT streaming session.
type STTStream interface {
	// Push sends an audio frame for processing.
	Push(frame rtc.AudioFrame) error
	
	// Events returns a channel of speech recognition events.
	Events() <-chan SpeechEvent
	
	// CloseSend signals that no more audio will be sent and flushes any pending data.
	CloseSend() error
}