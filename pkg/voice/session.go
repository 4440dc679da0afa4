// Package voice implements the C2 Agent Session State Machine: the
// per-conversation object that owns turn arbitration, the speech-handle
// queue, active-agent handoffs, and the activity lock guarding all of it.
package voice

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chriscow/voiceagent/pkg/ai/llm"
	"github.com/chriscow/voiceagent/pkg/ai/stt"
	"github.com/chriscow/voiceagent/pkg/ai/tts"
	"github.com/chriscow/voiceagent/pkg/ai/vad"
	"github.com/chriscow/voiceagent/pkg/chatctx"
	"github.com/chriscow/voiceagent/pkg/recognition"
	"github.com/chriscow/voiceagent/pkg/rtc"
	"github.com/chriscow/voiceagent/pkg/speech"
	"github.com/chriscow/voiceagent/pkg/stream"
	"github.com/chriscow/voiceagent/pkg/tools"
	"github.com/chriscow/voiceagent/pkg/turn"
)

// ErrStopResponse lets Agent.OnUserTurnCompleted suppress the automatic
// reply for a committed user turn.
var ErrStopResponse = errors.New("voice: stop response")

// Agent is the active conversational persona driving a Session. A tool's
// AgentHandoff swaps the Session's active Agent to a new instance without
// tearing down the Session itself.
type Agent interface {
	Instructions() string
	LLM() llm.LLM
	TTS() tts.TTS
	Tools() *tools.Registry
	// OnUserTurnCompleted is invoked once a user turn is committed, before
	// a reply is generated. Returning ErrStopResponse suppresses the reply.
	OnUserTurnCompleted(ctx context.Context, newMessage chatctx.Item) error
}

// InterruptionDetector classifies whether user speech during agent
// playback should interrupt the active handle (C5). Session engages it
// only while a handle is playing and interruptions are allowed; a nil
// detector falls back to "always interrupt on VAD speech start", the
// behavior of a session with no adaptive detector configured.
type InterruptionDetector interface {
	Reset()
	ObserveVADProbability(probability float64)
	ShouldInterrupt() bool
}

// VoiceOptions tunes turn arbitration and generation behavior.
type VoiceOptions struct {
	AllowInterruptions      bool
	PreemptiveGeneration    bool
	UseTTSAlignedTranscript bool
	UserSpeed               float64
	MaxToolSteps            int
	ParallelToolCalls       bool
}

func (o VoiceOptions) withDefaults() VoiceOptions {
	if o.UserSpeed == 0 {
		o.UserSpeed = 1.0
	}
	if o.MaxToolSteps == 0 {
		o.MaxToolSteps = 4
	}
	return o
}

// Config wires a Session to its I/O and recognition stack.
type Config struct {
	Agent Agent

	VAD          vad.VAD
	STT          stt.STT
	TurnDetector turn.Detector // optional

	MicIn     <-chan rtc.AudioFrame
	Publisher speech.AudioPublisher

	SampleRate  int
	NumChannels int
	Language    string

	Voice        VoiceOptions
	Interruption InterruptionDetector // optional
	Metrics      *Metrics             // optional
}

// EventType identifies the kind of Event a Session emits.
type EventType int

const (
	EventUserInputTranscribed EventType = iota
	EventAgentStateChanged
	EventMetricsCollected
	EventError
	EventClose
)

// Event is a single notification from a Session's public event stream.
type Event struct {
	Type  EventType
	Text  string // UserInputTranscribed: the transcript (interim or final)
	Final bool   // UserInputTranscribed: whether Text is a final transcript
	State string // AgentStateChanged: "listening"|"thinking"|"speaking"|"idle"
	Err   error  // Error
}

// Session is the C2 agent session state machine.
type Session struct {
	cfg Config

	activityMu sync.Mutex // guards agent swap, chat mutation, handle-queue bookkeeping
	agent      atomic.Value // Agent

	chatMu sync.Mutex
	chat   *chatctx.Context

	coordinator *recognition.Coordinator

	events chan *Event

	lastHandleMu sync.Mutex
	lastHandle   *speech.SpeechHandle

	preflightMu     sync.Mutex
	preflightHandle *speech.SpeechHandle
	preflightText   string

	activeMu sync.Mutex
	active   *speech.SpeechHandle

	speechEndMu sync.Mutex
	speechEndAt time.Time

	closeOnce   sync.Once
	closed      chan struct{}
	sessionStart time.Time
}

// NewSession creates a Session. Call Start to wire it to an audio stream
// and begin turn arbitration.
func NewSession(cfg Config) *Session {
	cfg.Voice = cfg.Voice.withDefaults()
	s := &Session{
		cfg:          cfg,
		chat:         chatctx.New(),
		events:       make(chan *Event, 64),
		closed:       make(chan struct{}),
		sessionStart: time.Now(),
	}
	if cfg.Agent != nil {
		s.agent.Store(cfg.Agent)
	}
	s.coordinator = recognition.New(recognition.Config{
		VAD:          cfg.VAD,
		STT:          cfg.STT,
		TurnDetector: cfg.TurnDetector,
		SampleRate:   cfg.SampleRate,
		NumChannels:  cfg.NumChannels,
		Language:     cfg.Language,
	}, s, s.snapshotChat)
	return s
}

// Events returns the session's public event stream.
func (s *Session) Events() <-chan *Event { return s.events }

func (s *Session) emit(ev *Event) {
	if ev.Type == EventAgentStateChanged {
		s.cfg.Metrics.observeStateChange(ev.State)
	}
	select {
	case s.events <- ev:
	default:
		slog.Warn("voice: event stream full, dropping event", slog.Int("type", int(ev.Type)))
	}
}

func (s *Session) currentAgent() Agent {
	a, _ := s.agent.Load().(Agent)
	return a
}

func (s *Session) snapshotChat() *chatctx.Context {
	s.chatMu.Lock()
	defer s.chatMu.Unlock()
	return s.chat.Clone()
}

// Start feeds cfg.MicIn into the recognition coordinator and blocks until
// ctx is cancelled or MicIn closes.
func (s *Session) Start(ctx context.Context) error {
	frames := stream.NewChannel[rtc.AudioFrame](stream.DefaultHighWaterMark)
	go func() {
		var causeErr error
		defer frames.Close(causeErr)
		for {
			select {
			case <-ctx.Done():
				causeErr = ctx.Err()
				return
			case frame, ok := <-s.cfg.MicIn:
				if !ok {
					return
				}
				if err := frames.Write(ctx, frame); err != nil {
					causeErr = err
					return
				}
			}
		}
	}()
	return s.coordinator.Run(ctx, frames)
}

// UpdateChatCtx replaces the session's chat context under the activity
// lock.
func (s *Session) UpdateChatCtx(chat *chatctx.Context) {
	s.activityMu.Lock()
	defer s.activityMu.Unlock()
	s.chatMu.Lock()
	s.chat = chat.Clone()
	s.chatMu.Unlock()
}

// UpdateAgent swaps the active agent under the activity lock. A tool
// requesting an AgentHandoff calls this indirectly via applyHandoff.
func (s *Session) UpdateAgent(a Agent) {
	s.activityMu.Lock()
	defer s.activityMu.Unlock()
	s.agent.Store(a)
}

// Say enqueues a TTS-only handle with no LLM sub-pipeline.
func (s *Session) Say(ctx context.Context, text string, addToChatCtx bool) *speech.SpeechHandle {
	if addToChatCtx {
		s.chatMu.Lock()
		s.chat.Insert(chatctx.NewTextMessage(chatctx.RoleAssistant, text))
		s.chatMu.Unlock()
	}
	h := speech.NewSay(s.speechConfig(), text)
	s.enqueue(ctx, h)
	return h
}

// GenerateReply enqueues a new SpeechHandle driven by the active agent's
// LLM, optionally inserting userInput as a user ChatMessage first.
func (s *Session) GenerateReply(ctx context.Context, userInput string) *speech.SpeechHandle {
	s.chatMu.Lock()
	if userInput != "" {
		s.chat.Insert(chatctx.NewTextMessage(chatctx.RoleUser, userInput))
	}
	chat := s.chat
	s.chatMu.Unlock()

	h := speech.New(s.speechConfig(), chat)
	s.enqueue(ctx, h)
	return h
}

// Interrupt cancels the currently active handle, if any.
func (s *Session) Interrupt() {
	s.activeMu.Lock()
	active := s.active
	s.activeMu.Unlock()
	if active != nil {
		active.Cancel()
	}
}

// Close marks the session closed and emits EventClose.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.cfg.Metrics.observeSessionDuration(time.Since(s.sessionStart))
		close(s.closed)
		s.emit(&Event{Type: EventClose})
	})
}

func (s *Session) speechConfig() speech.Config {
	a := s.currentAgent()
	cfg := speech.Config{
		Publisher:               s.cfg.Publisher,
		UserSpeed:               s.cfg.Voice.UserSpeed,
		UseTTSAlignedTranscript: s.cfg.Voice.UseTTSAlignedTranscript,
		MaxToolSteps:            s.cfg.Voice.MaxToolSteps,
		ParallelToolCalls:       s.cfg.Voice.ParallelToolCalls,
		TranscriptionSink: func(text string) {
			s.emit(&Event{Type: EventUserInputTranscribed, Text: text, Final: false})
		},
	}
	if a != nil {
		cfg.LLM = a.LLM()
		cfg.TTS = a.TTS()
		cfg.Tool = a.Tools()
	}
	return cfg
}

// enqueue chains h's parent_done gate to the previous handle's completion
// (or releases it immediately for the first handle in the session), then
// runs h. A handle's LLM/TTS sub-pipelines are driven entirely inside
// Run; enqueue only orders handles against each other.
func (s *Session) enqueue(ctx context.Context, h *speech.SpeechHandle) {
	s.lastHandleMu.Lock()
	prev := s.lastHandle
	s.lastHandle = h
	s.lastHandleMu.Unlock()

	if prev == nil {
		h.Gate().Release(speech.GateParentDone)
	} else {
		go func() {
			<-prev.Done()
			h.Gate().Release(speech.GateParentDone)
		}()
	}

	s.activeMu.Lock()
	s.active = h
	s.activeMu.Unlock()

	go func() {
		if err := h.Run(ctx); err != nil && !errors.Is(err, speech.ErrCancelled) {
			s.emit(&Event{Type: EventError, Err: err})
		}
		if handoff := h.Handoff(); handoff != nil {
			s.applyHandoff(handoff)
		}
	}()
}

func (s *Session) applyHandoff(h *tools.AgentHandoff) {
	next, ok := h.Agent.(Agent)
	if !ok || next == nil {
		return
	}
	s.UpdateAgent(next)
}

// --- recognition.Hooks ---

func (s *Session) OnStartOfSpeech() {
	s.emit(&Event{Type: EventAgentStateChanged, State: "listening"})

	s.activeMu.Lock()
	active := s.active
	s.activeMu.Unlock()
	if active == nil || active.State() != speech.StatePlaying {
		return
	}
	if !s.cfg.Voice.AllowInterruptions {
		return
	}
	if s.cfg.Interruption != nil {
		s.cfg.Interruption.Reset()
		return
	}
	// No adaptive detector configured: any speech during playback
	// interrupts immediately.
	s.cfg.Metrics.observeInterruption()
	active.Cancel()
}

func (s *Session) OnEndOfSpeech() {
	s.speechEndMu.Lock()
	s.speechEndAt = time.Now()
	s.speechEndMu.Unlock()
}

func (s *Session) OnVADInferenceDone(probability float64) {
	s.activeMu.Lock()
	active := s.active
	s.activeMu.Unlock()
	if active == nil || active.State() != speech.StatePlaying || s.cfg.Interruption == nil || !s.cfg.Voice.AllowInterruptions {
		return
	}
	s.cfg.Interruption.ObserveVADProbability(probability)
	if s.cfg.Interruption.ShouldInterrupt() {
		s.cfg.Metrics.observeInterruption()
		active.Cancel()
	}
}

func (s *Session) OnInterimTranscript(text string) {
	s.emit(&Event{Type: EventUserInputTranscribed, Text: text, Final: false})
}

func (s *Session) OnFinalTranscript(text string) {
	s.emit(&Event{Type: EventUserInputTranscribed, Text: text, Final: true})
}

// OnEndOfTurn implements spec §4.4's turn arbitration: resolve any
// preemptive handle, commit the user message, ask the agent whether to
// suppress the reply, and otherwise enqueue one.
func (s *Session) OnEndOfTurn(info recognition.EndOfTurnInfo) bool {
	s.activityMu.Lock()
	defer s.activityMu.Unlock()

	if confirmed := s.resolvePreflight(info.NewTranscript); confirmed != nil {
		s.activeMu.Lock()
		s.active = confirmed
		s.activeMu.Unlock()
		confirmed.Gate().Release(speech.GatePreflightConfirmed)
		return true
	}

	s.speechEndMu.Lock()
	speechEndAt := s.speechEndAt
	s.speechEndMu.Unlock()
	if !speechEndAt.IsZero() {
		s.cfg.Metrics.observeEndOfUtteranceDelay(time.Since(speechEndAt))
	}

	msg := chatctx.NewTextMessage(chatctx.RoleUser, info.NewTranscript)
	s.chatMu.Lock()
	s.chat.Insert(msg)
	s.chatMu.Unlock()

	if a := s.currentAgent(); a != nil {
		if err := a.OnUserTurnCompleted(context.Background(), msg); err != nil {
			if errors.Is(err, ErrStopResponse) {
				return true
			}
			s.emit(&Event{Type: EventError, Err: err})
		}
	}

	s.emit(&Event{Type: EventAgentStateChanged, State: "thinking"})
	s.GenerateReply(context.Background(), "")
	return true
}

// resolvePreflight confirms a held preemptive handle if its preflight
// transcript matches newTranscript modulo whitespace/case normalization,
// returning the confirmed handle. Otherwise it discards any held
// preemptive handle and returns nil.
func (s *Session) resolvePreflight(newTranscript string) *speech.SpeechHandle {
	s.preflightMu.Lock()
	defer s.preflightMu.Unlock()

	h, text := s.preflightHandle, s.preflightText
	s.preflightHandle, s.preflightText = nil, ""
	if h == nil {
		return nil
	}
	if normalizeTranscript(text) == normalizeTranscript(newTranscript) {
		return h
	}
	h.Cancel()
	return nil
}

// BeginPreflight records a preemptive handle created from preflightText, a
// transcript interim reported by an STT provider that supports it. The
// handle's preflight_confirmed gate is released from OnEndOfTurn if the
// eventual committed transcript matches.
func (s *Session) BeginPreflight(ctx context.Context, preflightText string) *speech.SpeechHandle {
	if !s.cfg.Voice.PreemptiveGeneration {
		return nil
	}
	s.chatMu.Lock()
	chat := s.chat.Clone()
	s.chatMu.Unlock()
	chat.Insert(chatctx.NewTextMessage(chatctx.RoleUser, preflightText))

	cfg := s.speechConfig()
	h := speech.New(cfg, chat)
	h.Gate().AddGate(speech.GatePreflightConfirmed)

	s.preflightMu.Lock()
	s.preflightHandle = h
	s.preflightText = preflightText
	s.preflightMu.Unlock()

	s.enqueue(ctx, h)
	return h
}

func normalizeTranscript(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func (t EventType) String() string {
	switch t {
	case EventUserInputTranscribed:
		return "user_input_transcribed"
	case EventAgentStateChanged:
		return "agent_state_changed"
	case EventMetricsCollected:
		return "metrics_collected"
	case EventError:
		return "error"
	case EventClose:
		return "close"
	default:
		return "unknown"
	}
}
