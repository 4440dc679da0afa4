// Package interruption implements the C5 Adaptive Interruption Detector: it
// decides whether user speech overlapping agent playback is a genuine
// interruption or a backchannel ("uh-huh", a cough) that should be ignored.
//
// A Detector can be driven two ways. The sentinel API
// (AgentSpeechStarted/OverlapSpeechStarted/PushAudio/OverlapSpeechEnded)
// matches the session lifecycle described in the spec exactly: it buffers
// trailing audio in a ring buffer, periodically sends windows to a remote
// classifier, and accumulates per-request probability arrays in a
// BoundedCache. The simpler Reset/ObserveVADProbability/ShouldInterrupt
// trio adapts the same sliding-window-min-max math to a caller that only
// has local VAD probabilities on hand (pkg/voice's current hook surface)
// and no remote classifier configured.
package interruption

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/chriscow/voiceagent/pkg/rtc"
	"github.com/chriscow/voiceagent/pkg/stream"
)

// Config tunes a Detector's buffering and classification behavior.
type Config struct {
	SampleRate int

	Threshold                 float64
	MinInterruptionDurationInS float64
	DetectionIntervalInS       float64
	AudioPrefixDurationInS     float64
	MaxAudioDurationInS        float64

	CacheSize int
}

func (c Config) withDefaults() Config {
	if c.SampleRate == 0 {
		c.SampleRate = 16000
	}
	if c.Threshold == 0 {
		c.Threshold = 0.5
	}
	if c.MinInterruptionDurationInS == 0 {
		c.MinInterruptionDurationInS = 0.5
	}
	if c.DetectionIntervalInS == 0 {
		c.DetectionIntervalInS = 0.3
	}
	if c.AudioPrefixDurationInS == 0 {
		c.AudioPrefixDurationInS = 1.0
	}
	if c.MaxAudioDurationInS == 0 {
		c.MaxAudioDurationInS = 10.0
	}
	if c.CacheSize == 0 {
		c.CacheSize = 32
	}
	return c
}

type state int

const (
	stateIdle state = iota
	stateOverlap
	stateCompleted
)

// EventType identifies the kind of Event a Detector emits.
type EventType int

const (
	// EventInterruption fires the moment accumulated probability for the
	// current overlap crosses Config.Threshold.
	EventInterruption EventType = iota
	// EventOverlapSpeechEnded fires in response to OverlapSpeechEnded,
	// reporting whatever the most recent completed classification was.
	EventOverlapSpeechEnded
)

// Event is a single notification from a Detector's event stream.
type Event struct {
	Type             EventType
	RequestID        string
	Probability      float64
	TotalDurationInS float64
}

type cacheEntry struct {
	requestID        string
	probabilities    []float64
	probability      float64
	totalDurationInS float64
}

// Detector is the C5 adaptive interruption detector.
type Detector struct {
	cfg       Config
	transport Transport

	mu           sync.Mutex
	st           state
	ring         *ringBuffer
	overlapStart int64
	sinceLastTick int

	cache *stream.BoundedCache[string, *cacheEntry]

	events chan Event

	reqCounter uint64

	// probBuf backs the simple Reset/ObserveVADProbability/ShouldInterrupt
	// adapter, independent of the ring buffer / transport path above.
	probMu          sync.Mutex
	probBuf         []float64
	lastProbability float64
}

// New creates a Detector. transport may be nil if the caller only intends
// to drive the simple Reset/ObserveVADProbability/ShouldInterrupt API.
func New(cfg Config, transport Transport) *Detector {
	cfg = cfg.withDefaults()
	return &Detector{
		cfg:       cfg,
		transport: transport,
		ring:      newRingBuffer(int(cfg.MaxAudioDurationInS * float64(cfg.SampleRate))),
		cache:     stream.NewBoundedCache[string, *cacheEntry](cfg.CacheSize),
		events:    make(chan Event, 16),
	}
}

// Events returns the detector's asynchronous classification stream.
func (d *Detector) Events() <-chan Event { return d.events }

// AgentSpeechStarted resets the detector to idle at the start of a new
// agent utterance.
func (d *Detector) AgentSpeechStarted() {
	d.mu.Lock()
	d.st = stateIdle
	d.mu.Unlock()
}

// AgentSpeechEnded returns the detector to idle once agent playback
// finishes with no outstanding overlap.
func (d *Detector) AgentSpeechEnded() {
	d.mu.Lock()
	d.st = stateIdle
	d.mu.Unlock()
}

// OverlapSpeechStarted captures the trailing speechDurationInS plus
// Config.AudioPrefixDurationInS seconds of buffered audio as classification
// context and enters the overlap state.
func (d *Detector) OverlapSpeechStarted(speechDurationInS float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.st = stateOverlap
	trailing := int((speechDurationInS + d.cfg.AudioPrefixDurationInS) * float64(d.cfg.SampleRate))
	d.overlapStart = d.ring.MarkStart(trailing)
	d.sinceLastTick = 0
}

// PushAudio feeds a room audio frame into the ring buffer and, once overlap
// is active, triggers a classification request every DetectionIntervalInS
// seconds of accumulated audio.
func (d *Detector) PushAudio(ctx context.Context, frame rtc.AudioFrame) {
	mono := downmix(frame.Data, frame.NumChannels)

	d.mu.Lock()
	d.ring.Push(mono)
	if d.st != stateOverlap {
		d.mu.Unlock()
		return
	}
	d.sinceLastTick += len(mono)
	tickSamples := int(d.cfg.DetectionIntervalInS * float64(d.cfg.SampleRate))
	fire := d.sinceLastTick >= tickSamples
	var pcm []float32
	var reqID string
	if fire {
		d.sinceLastTick = 0
		pcm = append([]float32(nil), d.ring.SliceFrom(d.overlapStart)...)
		reqID = fmt.Sprintf("req-%d", atomic.AddUint64(&d.reqCounter, 1))
	}
	d.mu.Unlock()

	if fire && d.transport != nil {
		d.sendWindow(ctx, reqID, pcm)
	}
}

func (d *Detector) sendWindow(ctx context.Context, reqID string, pcm []float32) {
	go func() {
		resp, err := d.transport.Infer(ctx, InferenceRequest{RequestID: reqID, SampleRate: d.cfg.SampleRate, PCM: pcm})
		if err != nil {
			slog.Warn("interruption: classification request failed", slog.String("request_id", reqID), slog.Any("err", err))
			return
		}
		d.handleResponse(resp)
	}()
}

func (d *Detector) handleResponse(resp InferenceResponse) {
	d.mu.Lock()
	entry := d.cache.SetOrUpdate(resp.RequestID,
		func() *cacheEntry { return &cacheEntry{requestID: resp.RequestID} },
		func(cur *cacheEntry) *cacheEntry {
			cur.probabilities = append(cur.probabilities, resp.Probabilities...)
			cur.totalDurationInS = float64(len(cur.probabilities)) * frameDurationInS
			cur.probability = slidingWindowMinMax(cur.probabilities, minInterruptionWindowFrames(d.cfg.MinInterruptionDurationInS))
			return cur
		})

	fire := d.st == stateOverlap && entry.probability > d.cfg.Threshold
	if fire {
		d.st = stateCompleted
	}
	prob, dur := entry.probability, entry.totalDurationInS
	d.mu.Unlock()

	if fire {
		d.events <- Event{Type: EventInterruption, RequestID: resp.RequestID, Probability: prob, TotalDurationInS: dur}
	}
}

// OverlapSpeechEnded pops the most recent completed classification (one
// with TotalDurationInS > 0) and emits it as an EventOverlapSpeechEnded,
// returning the detector to idle. If nothing completed, the event carries
// zero-valued fields.
func (d *Detector) OverlapSpeechEnded() {
	entry, ok := d.cache.PopMatch(func(e *cacheEntry) bool { return e.totalDurationInS > 0 })

	d.mu.Lock()
	d.st = stateIdle
	d.mu.Unlock()

	ev := Event{Type: EventOverlapSpeechEnded}
	if ok {
		ev.RequestID = entry.requestID
		ev.Probability = entry.probability
		ev.TotalDurationInS = entry.totalDurationInS
	}
	d.events <- ev
}

// Flush discards any buffered audio and cached classifications without
// emitting an event, used when a session resets mid-overlap (e.g. the
// active handle was cancelled for an unrelated reason).
func (d *Detector) Flush() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.st = stateIdle
	d.ring = newRingBuffer(d.ring.capacity)
	d.cache = stream.NewBoundedCache[string, *cacheEntry](d.cfg.CacheSize)
}

// Close releases the detector's transport connection, if any.
func (d *Detector) Close() error {
	if d.transport != nil {
		return d.transport.Close()
	}
	return nil
}

// --- simple adapter for callers with only local VAD probabilities ---

// Reset clears the probability history for a new overlap window. Callers
// driving the simple API use this in place of OverlapSpeechStarted.
func (d *Detector) Reset() {
	d.probMu.Lock()
	d.probBuf = d.probBuf[:0]
	d.lastProbability = 0
	d.probMu.Unlock()
}

// ObserveVADProbability appends a local VAD inference result and recomputes
// the sliding-window-min-max probability over the accumulated history.
func (d *Detector) ObserveVADProbability(probability float64) {
	d.probMu.Lock()
	d.probBuf = append(d.probBuf, probability)
	d.lastProbability = slidingWindowMinMax(d.probBuf, minInterruptionWindowFrames(d.cfg.MinInterruptionDurationInS))
	d.probMu.Unlock()
}

// ShouldInterrupt reports whether the most recently computed probability
// clears Config.Threshold.
func (d *Detector) ShouldInterrupt() bool {
	d.probMu.Lock()
	defer d.probMu.Unlock()
	return d.lastProbability > d.cfg.Threshold
}
