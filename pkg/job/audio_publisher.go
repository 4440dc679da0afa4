package job

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go"
	"github.com/pion/webrtc/v3"
	webrtcmedia "github.com/pion/webrtc/v3/pkg/media"

	"github.com/chriscow/voiceagent/pkg/rtc"
	"github.com/chriscow/voiceagent/pkg/speech"
)

// sampleProvider feeds queued rtc.AudioFrame PCM into a LocalSampleTrack's
// write loop. Adapted from agents/worker.go's AudioSampleProvider: this
// repo's track publishing keeps the teacher's shortcut of queuing raw PCM
// straight into the webrtc Sample rather than encoding it, since no Opus
// encoder is wired into this module.
type sampleProvider struct {
	mu     sync.Mutex
	queue  chan webrtcmedia.Sample
	closed bool
}

func newSampleProvider(bufferSize int) *sampleProvider {
	return &sampleProvider{queue: make(chan webrtcmedia.Sample, bufferSize)}
}

func (p *sampleProvider) push(frame rtc.AudioFrame) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return fmt.Errorf("audio publisher: push after close")
	}
	sample := webrtcmedia.Sample{Data: frame.Data, Duration: frame.Duration()}
	select {
	case p.queue <- sample:
		return nil
	default:
		return fmt.Errorf("audio publisher: sample queue full")
	}
}

// NextSample implements lksdk.SampleProvider.
func (p *sampleProvider) NextSample(ctx context.Context) (webrtcmedia.Sample, error) {
	select {
	case <-ctx.Done():
		return webrtcmedia.Sample{}, ctx.Err()
	case sample, ok := <-p.queue:
		if !ok {
			return webrtcmedia.Sample{}, io.EOF
		}
		return sample, nil
	}
}

func (p *sampleProvider) OnBind() error   { return nil }
func (p *sampleProvider) OnUnbind() error { return nil }

func (p *sampleProvider) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.queue)
}

// RoomAudioPublisher implements speech.AudioPublisher by streaming frames
// to a published LiveKit local audio track, grounded on
// agents/worker.go's createAssistantAudioTrack/streamAudioToTrack.
type RoomAudioPublisher struct {
	track    *lksdk.LocalSampleTrack
	provider *sampleProvider

	mu          sync.Mutex
	published   time.Duration
	interrupted bool
}

// NewRoomAudioPublisher creates and publishes a microphone-source local
// audio track on participant. The returned publisher is ready to receive
// PublishFrame/Finish calls from a single pkg/speech.SpeechHandle at a
// time; callers enforce that ordering (pkg/voice's handle queue already
// does).
func NewRoomAudioPublisher(participant *lksdk.LocalParticipant, trackName string) (*RoomAudioPublisher, error) {
	track, err := lksdk.NewLocalSampleTrack(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus})
	if err != nil {
		return nil, fmt.Errorf("create local sample track: %w", err)
	}

	provider := newSampleProvider(64)
	if err := track.StartWrite(provider, nil); err != nil {
		return nil, fmt.Errorf("start sample provider: %w", err)
	}

	if _, err := participant.PublishTrack(track, &lksdk.TrackPublicationOptions{
		Name:   trackName,
		Source: livekit.TrackSource_MICROPHONE,
	}); err != nil {
		return nil, fmt.Errorf("publish assistant audio track: %w", err)
	}

	return &RoomAudioPublisher{track: track, provider: provider}, nil
}

func (p *RoomAudioPublisher) PublishFrame(ctx context.Context, frame rtc.AudioFrame) error {
	if err := p.provider.push(frame); err != nil {
		return err
	}
	p.mu.Lock()
	p.published += frame.Duration()
	p.mu.Unlock()
	return nil
}

func (p *RoomAudioPublisher) Finish(ctx context.Context) (speech.PlaybackResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	result := speech.PlaybackResult{PlaybackPosition: p.published, Interrupted: p.interrupted}
	p.published = 0
	p.interrupted = false
	return result, nil
}

// Interrupt marks the in-flight utterance as cut short; the next Finish
// call reports it.
func (p *RoomAudioPublisher) Interrupt() {
	p.mu.Lock()
	p.interrupted = true
	p.mu.Unlock()
}

// Close stops the underlying sample provider and releases its queue.
func (p *RoomAudioPublisher) Close() {
	p.provider.close()
}
