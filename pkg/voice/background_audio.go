package voice

import (
	"context"
	"sync"
	"time"

	"github.com/chriscow/voiceagent/pkg/audio/wav"
	"github.com/chriscow/voiceagent/pkg/rtc"
	"github.com/chriscow/voiceagent/pkg/speech"
)

// BackgroundAudio loops an ambient audio bed (office chatter, typing, hold
// music) and mixes it under the agent's synthesized speech. Publishing
// passes through an unmodified frame whenever no bed is loaded or playback
// is disabled, so wrapping a Config.Publisher in one costs nothing for
// agents that don't configure a track.
type BackgroundAudio struct {
	mu       sync.RWMutex
	enabled  bool
	volume   float32
	frames   []rtc.AudioFrame
	position int
}

// BackgroundAudioConfig configures a BackgroundAudio bed.
type BackgroundAudioConfig struct {
	// AudioFile is the path to the WAV file to loop.
	AudioFile string
	// Volume is the mixing volume, 0.0 to 1.0.
	Volume float32
	// Enabled starts the bed playing immediately.
	Enabled bool
}

// NewBackgroundAudio loads AudioFile (if set) and returns a ready bed.
func NewBackgroundAudio(cfg BackgroundAudioConfig) (*BackgroundAudio, error) {
	ba := &BackgroundAudio{enabled: cfg.Enabled, volume: cfg.Volume}
	if cfg.AudioFile != "" {
		if err := ba.LoadAudioFile(cfg.AudioFile); err != nil {
			return nil, err
		}
	}
	return ba, nil
}

// LoadAudioFile replaces the looping bed with the contents of a WAV file.
func (ba *BackgroundAudio) LoadAudioFile(filename string) error {
	reader, err := wav.NewReader(filename)
	if err != nil {
		return err
	}
	frames, err := reader.ReadFrames()
	if err != nil {
		return err
	}

	ba.mu.Lock()
	defer ba.mu.Unlock()
	ba.frames = frames
	ba.position = 0
	return nil
}

// SetEnabled turns the bed on or off without discarding it.
func (ba *BackgroundAudio) SetEnabled(enabled bool) {
	ba.mu.Lock()
	defer ba.mu.Unlock()
	ba.enabled = enabled
}

// SetVolume adjusts the mixing volume, clamped to [0, 1].
func (ba *BackgroundAudio) SetVolume(volume float32) {
	ba.mu.Lock()
	defer ba.mu.Unlock()
	if volume < 0 {
		volume = 0
	} else if volume > 1 {
		volume = 1
	}
	ba.volume = volume
}

// IsEnabled reports whether the bed is currently playing.
func (ba *BackgroundAudio) IsEnabled() bool {
	ba.mu.RLock()
	defer ba.mu.RUnlock()
	return ba.enabled
}

// nextFrame returns the next loop frame, volume-scaled, or nil if disabled
// or no bed is loaded.
func (ba *BackgroundAudio) nextFrame() *rtc.AudioFrame {
	ba.mu.Lock()
	defer ba.mu.Unlock()

	if !ba.enabled || len(ba.frames) == 0 {
		return nil
	}

	frame := ba.frames[ba.position]
	ba.position = (ba.position + 1) % len(ba.frames)
	if ba.volume != 1.0 {
		frame = scaleVolume(frame, ba.volume)
	}
	return &frame
}

// mixIntoForeground combines a foreground frame (TTS output) with the next
// bed frame, or returns it unchanged if the bed has nothing to contribute.
func (ba *BackgroundAudio) mixIntoForeground(foreground rtc.AudioFrame) rtc.AudioFrame {
	background := ba.nextFrame()
	if background == nil {
		return foreground
	}
	return mixAudioFrames(foreground, *background)
}

// MixingPublisher wraps a speech.AudioPublisher, mixing a BackgroundAudio
// bed under every published frame. It satisfies speech.AudioPublisher
// itself, so it drops into Config.Publisher in place of the bare publisher.
type MixingPublisher struct {
	speech.AudioPublisher
	bed *BackgroundAudio
}

// NewMixingPublisher wraps publisher so every frame it publishes is mixed
// with bed's current loop position.
func NewMixingPublisher(publisher speech.AudioPublisher, bed *BackgroundAudio) *MixingPublisher {
	return &MixingPublisher{AudioPublisher: publisher, bed: bed}
}

// PublishFrame mixes frame with the background bed before forwarding it.
func (p *MixingPublisher) PublishFrame(ctx context.Context, frame rtc.AudioFrame) error {
	return p.AudioPublisher.PublishFrame(ctx, p.bed.mixIntoForeground(frame))
}

// Start begins background-only playback (used between agent turns, when
// there is no foreground frame to mix under) by feeding the bed's frames
// directly into the publisher at real-time cadence until ctx is done.
func (ba *BackgroundAudio) Start(ctx context.Context, publisher speech.AudioPublisher) {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			frame := ba.nextFrame()
			if frame == nil {
				continue
			}
			if err := publisher.PublishFrame(ctx, *frame); err != nil {
				return
			}
		}
	}
}

// scaleVolume applies overflow-safe volume scaling to 16-bit PCM samples.
func scaleVolume(frame rtc.AudioFrame, volume float32) rtc.AudioFrame {
	if volume == 1.0 {
		return frame
	}

	scaled := rtc.AudioFrame{
		Data:              make([]byte, len(frame.Data)),
		SampleRate:        frame.SampleRate,
		SamplesPerChannel: frame.SamplesPerChannel,
		NumChannels:       frame.NumChannels,
		Timestamp:         frame.Timestamp,
	}

	for i := 0; i+1 < len(frame.Data); i += 2 {
		sample := int16(frame.Data[i]) | int16(frame.Data[i+1])<<8
		scaledInt32 := int32(sample) * int32(volume*32768) / 32768
		if scaledInt32 > 32767 {
			scaledInt32 = 32767
		} else if scaledInt32 < -32768 {
			scaledInt32 = -32768
		}
		v := int16(scaledInt32)
		scaled.Data[i] = byte(v)
		scaled.Data[i+1] = byte(v >> 8)
	}
	return scaled
}

// mixAudioFrames averages two 16-bit PCM frames, using a's properties and
// copying any of a's trailing samples that b is too short to cover.
func mixAudioFrames(a, b rtc.AudioFrame) rtc.AudioFrame {
	mixed := rtc.AudioFrame{
		Data:              make([]byte, len(a.Data)),
		SampleRate:        a.SampleRate,
		SamplesPerChannel: a.SamplesPerChannel,
		NumChannels:       a.NumChannels,
		Timestamp:         a.Timestamp,
	}

	minLen := len(a.Data)
	if len(b.Data) < minLen {
		minLen = len(b.Data)
	}

	for i := 0; i+1 < minLen; i += 2 {
		sampleA := int16(a.Data[i]) | int16(a.Data[i+1])<<8
		sampleB := int16(b.Data[i]) | int16(b.Data[i+1])<<8
		mixedInt32 := (int32(sampleA) + int32(sampleB)) / 2
		if mixedInt32 > 32767 {
			mixedInt32 = 32767
		} else if mixedInt32 < -32768 {
			mixedInt32 = -32768
		}
		v := int16(mixedInt32)
		mixed.Data[i] = byte(v)
		mixed.Data[i+1] = byte(v >> 8)
	}
	if len(a.Data) > minLen {
		copy(mixed.Data[minLen:], a.Data[minLen:])
	}
	return mixed
}
