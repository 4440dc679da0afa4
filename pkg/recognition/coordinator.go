// Package recognition fuses VAD, streaming STT, and an optional end-of-turn
// model into a single end-of-user-turn decision, driving the session's
// endpointing policy.
package recognition

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/chriscow/voiceagent/pkg/ai/llm"
	"github.com/chriscow/voiceagent/pkg/ai/stt"
	"github.com/chriscow/voiceagent/pkg/ai/vad"
	"github.com/chriscow/voiceagent/pkg/chatctx"
	"github.com/chriscow/voiceagent/pkg/rtc"
	"github.com/chriscow/voiceagent/pkg/stream"
	"github.com/chriscow/voiceagent/pkg/turn"
)

// EndpointingMode controls how end-of-turn is scheduled.
type EndpointingMode int

const (
	// ModeVAD schedules end-of-turn purely from VAD silence, the default.
	ModeVAD EndpointingMode = iota
	// ModeManual disables automatic scheduling; the caller must invoke
	// CommitUserTurn explicitly.
	ModeManual
)

// EndOfTurnInfo is delivered to RecognitionHooks.OnEndOfTurn.
type EndOfTurnInfo struct {
	NewTranscript       string
	TranscriptionDelay  time.Duration
	EndOfUtteranceDelay time.Duration
}

// Hooks is the callback contract the session (C2) implements to receive
// turn-level signals from the coordinator.
type Hooks interface {
	OnStartOfSpeech()
	OnEndOfSpeech()
	OnVADInferenceDone(probability float64)
	OnInterimTranscript(text string)
	OnFinalTranscript(text string)
	// OnEndOfTurn returns true if the session committed the turn — in
	// which case the coordinator clears its accumulated transcript.
	OnEndOfTurn(info EndOfTurnInfo) (committed bool)
}

// Config configures a Coordinator.
type Config struct {
	VAD          vad.VAD
	STT          stt.STT
	TurnDetector turn.Detector // optional

	Mode                EndpointingMode
	MinEndpointingDelay time.Duration
	MaxEndpointingDelay time.Duration

	SampleRate  int
	NumChannels int
	Language    string
}

const (
	defaultMinEndpointingDelay = 500 * time.Millisecond
	defaultMaxEndpointingDelay = 6 * time.Second
)

// Coordinator is the C1 audio recognition coordinator.
type Coordinator struct {
	cfg   Config
	hooks Hooks

	mu sync.Mutex

	audioTranscript        string
	audioInterimTranscript string
	lastFinalTranscriptTime time.Time
	lastSpeakingTime        time.Time
	speaking                bool
	userTurnCommitted       bool
	lastLanguage            string

	bounceTask *stream.Task

	// chatCtx supplies the conversation history EOU inference is run
	// against; owned by the session, read-only here.
	chatCtx func() *chatctx.Context
}

// New creates a Coordinator. chatCtxFn returns a snapshot of the current
// conversation to append the pending user turn to before running EOU
// inference.
func New(cfg Config, hooks Hooks, chatCtxFn func() *chatctx.Context) *Coordinator {
	if cfg.MinEndpointingDelay == 0 {
		cfg.MinEndpointingDelay = defaultMinEndpointingDelay
	}
	if cfg.MaxEndpointingDelay == 0 {
		cfg.MaxEndpointingDelay = defaultMaxEndpointingDelay
	}
	if cfg.Language == "" {
		cfg.Language = "en-US"
	}
	return &Coordinator{cfg: cfg, hooks: hooks, chatCtx: chatCtxFn, lastLanguage: cfg.Language}
}

// Run tees frames to VAD and STT branches and drives the coordinator until
// ctx is cancelled or frames closes. VAD/STT node failures are logged and
// do not tear down the other branch.
func (c *Coordinator) Run(ctx context.Context, frames *stream.Channel[rtc.AudioFrame]) error {
	vadIn, sttIn := stream.Tee[rtc.AudioFrame](ctx, frames, stream.DefaultHighWaterMark)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := c.runVAD(ctx, vadIn); err != nil && ctx.Err() == nil {
			slog.Error("vad branch failed", slog.String("error", err.Error()))
		}
	}()
	go func() {
		defer wg.Done()
		if err := c.runSTT(ctx, sttIn); err != nil && ctx.Err() == nil {
			slog.Error("stt branch failed", slog.String("error", err.Error()))
		}
	}()
	wg.Wait()
	return nil
}

func (c *Coordinator) runVAD(ctx context.Context, in *stream.Channel[rtc.AudioFrame]) error {
	vs, err := c.cfg.VAD.Stream(ctx, vad.Config{SampleRate: c.cfg.SampleRate})
	if err != nil {
		return err
	}
	defer vs.Close()

	go func() {
		for frame := range in.Recv() {
			_ = vs.PushFrame(frame)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-vs.Events():
			if !ok {
				return nil
			}
			c.handleVADEvent(ctx, ev)
		}
	}
}

func (c *Coordinator) runSTT(ctx context.Context, in *stream.Channel[rtc.AudioFrame]) error {
	s, err := c.cfg.STT.NewStream(ctx, stt.StreamConfig{
		SampleRate:  c.cfg.SampleRate,
		NumChannels: c.cfg.NumChannels,
		Lang:        c.cfg.Language,
		MaxRetry:    3,
	})
	if err != nil {
		return err
	}
	defer s.CloseSend()

	go func() {
		for frame := range in.Recv() {
			if err := s.Push(frame); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-s.Events():
			if !ok {
				return nil
			}
			c.handleSTTEvent(ctx, ev)
		}
	}
}

// handleVADEvent implements spec step 2.
func (c *Coordinator) handleVADEvent(ctx context.Context, ev vad.VADEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch ev.Type {
	case vad.VADEventInferenceDone:
		c.hooks.OnVADInferenceDone(ev.Probability)
	case vad.VADEventSpeechStart:
		c.speaking = true
		c.cancelBounceLocked()
		c.hooks.OnStartOfSpeech()
	case vad.VADEventSpeechEnd:
		c.speaking = false
		// Back-date to the actual utterance end; VAD events carry no
		// silence-duration field here, so we approximate with now — the
		// silence run is already consumed by the provider's own
		// MinSilenceDuration before it emits SpeechEnd.
		c.lastSpeakingTime = time.Now()
		c.hooks.OnEndOfSpeech()
		if c.cfg.Mode != ModeManual {
			c.armBounceLocked(ctx)
		}
	}
}

// handleSTTEvent implements spec step 3.
func (c *Coordinator) handleSTTEvent(ctx context.Context, ev stt.SpeechEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch ev.Type {
	case stt.SpeechEventFinal:
		if c.cfg.Mode == ModeManual && c.userTurnCommitted && c.bounceTaskDoneLocked() {
			return
		}
		c.audioTranscript += ev.Text
		c.audioInterimTranscript = ""
		c.lastFinalTranscriptTime = time.Now()
		if ev.Language != "" {
			c.lastLanguage = ev.Language
		}
		c.hooks.OnFinalTranscript(ev.Text)

		if !c.speaking && (c.cfg.Mode != ModeManual || c.userTurnCommitted) {
			c.armBounceLocked(ctx)
		}
	case stt.SpeechEventInterim:
		c.audioInterimTranscript = ev.Text
		c.hooks.OnInterimTranscript(ev.Text)
	}
}

// bounceTaskDoneLocked reports whether the singleton EOU task has run to
// completion (or never been armed). Must hold c.mu.
func (c *Coordinator) bounceTaskDoneLocked() bool {
	if c.bounceTask == nil {
		return true
	}
	select {
	case <-c.bounceTask.Done():
		return true
	default:
		return false
	}
}

// cancelBounceLocked cancels and waits for the running bounceEOUTask, if
// any. Must hold c.mu.
func (c *Coordinator) cancelBounceLocked() {
	if c.bounceTask != nil {
		c.bounceTask.CancelAndWait()
		c.bounceTask = nil
	}
}

// armBounceLocked (re-)arms the singleton bounceEOUTask. Must hold c.mu.
func (c *Coordinator) armBounceLocked(ctx context.Context) {
	c.cancelBounceLocked()
	t := stream.NewTask(ctx, c.runBounceEOU)
	c.bounceTask = t
	_ = t.Run()
}

// runBounceEOU implements spec step 4.
func (c *Coordinator) runBounceEOU(ctx context.Context) error {
	c.mu.Lock()
	transcript := c.audioTranscript
	lang := c.lastLanguage
	speakingAt := c.lastSpeakingTime
	lastFinal := c.lastFinalTranscriptTime
	c.mu.Unlock()

	delay := c.cfg.MaxEndpointingDelay
	if c.cfg.TurnDetector != nil && c.cfg.Mode != ModeManual && transcript != "" && c.cfg.TurnDetector.SupportsLanguage(lang) {
		chatCtx := c.buildTurnChatContext(transcript, lang)
		p, err := c.cfg.TurnDetector.PredictEndOfTurn(ctx, chatCtx)
		if err == nil {
			theta, thErr := c.cfg.TurnDetector.UnlikelyThreshold(lang)
			if thErr == nil {
				if p < theta {
					delay = c.cfg.MaxEndpointingDelay
				} else {
					delay = c.cfg.MinEndpointingDelay
				}
			}
		}
	}

	sleepUntil := speakingAt.Add(delay)
	wait := time.Until(sleepUntil)
	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}

	now := time.Now()
	transcriptionDelay := lastFinal.Sub(speakingAt)
	if transcriptionDelay < 0 {
		transcriptionDelay = 0
	}
	endOfUtteranceDelay := now.Sub(speakingAt)
	if endOfUtteranceDelay < 0 {
		endOfUtteranceDelay = 0
	}

	committed := c.hooks.OnEndOfTurn(EndOfTurnInfo{
		NewTranscript:       transcript,
		TranscriptionDelay:  transcriptionDelay,
		EndOfUtteranceDelay: endOfUtteranceDelay,
	})

	if committed {
		c.mu.Lock()
		c.audioTranscript = ""
		c.mu.Unlock()
	}
	return nil
}

// buildTurnChatContext copies the session's chat context and appends the
// pending user transcript, per spec step 4.
func (c *Coordinator) buildTurnChatContext(transcript, lang string) turn.ChatContext {
	var messages []llm.Message
	if c.chatCtx != nil {
		for _, it := range c.chatCtx().Items() {
			if it.Kind != chatctx.KindMessage {
				continue
			}
			messages = append(messages, llm.Message{
				Role:    llm.MessageRole(it.Role),
				Content: it.Text(),
			})
		}
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: transcript})
	return turn.ChatContext{Messages: messages, Language: lang}
}

// CommitUserTurn implements spec step 5 (manual mode). If called within
// 500ms of the last final transcript, it waits for a straggling final
// before folding the interim transcript and scheduling EOU.
func (c *Coordinator) CommitUserTurn(ctx context.Context) {
	c.mu.Lock()
	sinceLastFinal := time.Since(c.lastFinalTranscriptTime)
	c.mu.Unlock()

	if sinceLastFinal >= 0 && sinceLastFinal < 500*time.Millisecond {
		timer := time.NewTimer(500*time.Millisecond - sinceLastFinal)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
	}

	c.mu.Lock()
	c.audioTranscript += c.audioInterimTranscript
	c.audioInterimTranscript = ""
	c.userTurnCommitted = true
	c.mu.Unlock()

	c.mu.Lock()
	c.armBounceLocked(ctx)
	c.mu.Unlock()
}
