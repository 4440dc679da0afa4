// Package speech implements the C3 Speech Handle & Generation Pipeline: one
// SpeechHandle owns a single utterance from LLM token generation through
// tool execution, TTS synthesis, and paced audio/text output.
package speech

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/chriscow/voiceagent/pkg/ai/llm"
	"github.com/chriscow/voiceagent/pkg/ai/tts"
	"github.com/chriscow/voiceagent/pkg/chatctx"
	"github.com/chriscow/voiceagent/pkg/rtc"
	"github.com/chriscow/voiceagent/pkg/tools"
	"github.com/chriscow/voiceagent/pkg/transcript"
)

// Built-in gate names. New adds parent_done as a pending gate; the other
// names hold a handle only when added with AddGate. Run waits until every
// pending gate is released before it starts the LLM or TTS sub-pipelines.
const (
	GateParentDone         = "parent_done"
	GatePreflightConfirmed = "preflight_confirmed"
	GateExplicitAuthorize  = "explicit_authorize"
)

// State is a SpeechHandle's position in its monotonic state machine.
// Transitions only move forward; cancelled/preempted/failed are sticky
// terminal states reachable from any non-terminal state.
type State int32

const (
	StateCreated State = iota
	StateScheduled
	StateAuthorized
	StateGenerating
	StatePlaying
	StateCompleted
	StateCancelled
	StatePreempted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateScheduled:
		return "scheduled"
	case StateAuthorized:
		return "authorized"
	case StateGenerating:
		return "generating"
	case StatePlaying:
		return "playing"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	case StatePreempted:
		return "preempted"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

func (s State) terminal() bool {
	return s == StateCompleted || s == StateCancelled || s == StatePreempted || s == StateFailed
}

// ErrCancelled is returned by Run when the handle was cancelled before or
// during generation.
var ErrCancelled = errors.New("speech handle cancelled")

// PlaybackResult is what the room's audio publisher reports once a
// handle's audio finishes playing or is interrupted mid-stream.
type PlaybackResult struct {
	PlaybackPosition time.Duration
	Interrupted      bool
}

// AudioPublisher sends synthesized frames to the room and reports how much
// was actually heard, so an interrupted ChatMessage's persisted content can
// be trimmed to what the user actually heard.
type AudioPublisher interface {
	PublishFrame(ctx context.Context, frame rtc.AudioFrame) error
	// Finish signals no more frames are coming for this handle and returns
	// the final playback accounting.
	Finish(ctx context.Context) (PlaybackResult, error)
}

// Config wires a SpeechHandle to its providers and policies.
type Config struct {
	LLM  llm.LLM
	TTS  tts.TTS
	Tool *tools.Registry

	Publisher               AudioPublisher
	UserSpeed               float64 // transcript pacing multiplier, 1.0 = standard rate
	UseTTSAlignedTranscript bool    // bypass C4 pacing when the TTS exposes word timings

	// TranscriptionSink receives paced text chunks from C4 (or, when
	// UseTTSAlignedTranscript is set, should be fed directly from the TTS
	// provider's word timings by the caller). Optional.
	TranscriptionSink func(text string)

	MaxToolSteps      int
	ParallelToolCalls bool

	Voice    string
	Language string
}

// SpeechHandle owns one utterance's generation pipeline.
type SpeechHandle struct {
	cfg  Config
	id   string
	say  string // non-empty for a pure say() with no LLM sub-pipeline
	gate *gateSet

	chat *chatctx.Context // this handle's private copy, extended per tool step

	state atomic.Int32

	mu                     sync.Mutex
	stepIndex              int
	interrupted            bool
	playbackPosition       time.Duration
	synchronizedTranscript string
	handoff                *tools.AgentHandoff
	failErr                error

	done chan struct{}
}

// New creates a SpeechHandle for a full LLM->tools->TTS pipeline. chat is
// cloned so later mutation of the caller's context does not affect this
// handle's in-flight generation.
func New(cfg Config, chat *chatctx.Context) *SpeechHandle {
	if cfg.MaxToolSteps <= 0 {
		cfg.MaxToolSteps = 4
	}
	return &SpeechHandle{
		cfg:  cfg,
		id:   fmt.Sprintf("speech-%p", &cfg),
		gate: newGateSet(GateParentDone),
		chat: chat.Clone(),
		done: make(chan struct{}),
	}
}

// NewSay creates a SpeechHandle for a pure `say` with fixed text — no LLM
// sub-pipeline, straight to TTS.
func NewSay(cfg Config, text string) *SpeechHandle {
	h := New(cfg, chatctx.New())
	h.say = text
	return h
}

// State returns the handle's current state.
func (h *SpeechHandle) State() State { return State(h.state.Load()) }

// Gate exposes the handle's named-gate controller so callers can release
// parent_done, preflight_confirmed, or explicit_authorize, or add a custom
// gate before Run is called.
func (h *SpeechHandle) Gate() *gateSet { return h.gate }

// Done is closed once the handle reaches a terminal state.
func (h *SpeechHandle) Done() <-chan struct{} { return h.done }

// SynchronizedTranscript returns what was actually forwarded to the
// transcription channel: the full reply on clean completion, or only the
// portion spoken before an interruption.
func (h *SpeechHandle) SynchronizedTranscript() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.synchronizedTranscript
}

// PlaybackPosition returns how much audio actually played.
func (h *SpeechHandle) PlaybackPosition() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.playbackPosition
}

// StepIndex returns the current tool-loop step (0 for the initial LLM
// response before any tool call restarts the pipeline).
func (h *SpeechHandle) StepIndex() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stepIndex
}

// Handoff returns the agent handoff a tool call requested, if any, once Run
// has returned.
func (h *SpeechHandle) Handoff() *tools.AgentHandoff {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.handoff
}

// transition moves the handle to next unless it is already in a terminal
// state, in which case the request is ignored (terminal states are sticky).
func (h *SpeechHandle) transition(next State) {
	for {
		cur := State(h.state.Load())
		if cur.terminal() {
			return
		}
		if h.state.CompareAndSwap(int32(cur), int32(next)) {
			if next.terminal() {
				h.gate.ReleaseAll()
				close(h.done)
			}
			return
		}
	}
}

// Cancel moves the handle to cancelled, releasing all gates so anything
// waiting on authorization unblocks.
func (h *SpeechHandle) Cancel() { h.transition(StateCancelled) }

// Preempt moves the handle to preempted (superseded by a fresher handle
// before it ever spoke), releasing all gates.
func (h *SpeechHandle) Preempt() { h.transition(StatePreempted) }

func (h *SpeechHandle) fail(err error) {
	h.mu.Lock()
	h.failErr = err
	h.mu.Unlock()
	h.transition(StateFailed)
}

// Run drives the handle's full pipeline: LLM (unless this is a pure say),
// per-step tool loop, TTS, and paced audio/text output. It returns once the
// handle reaches a terminal state.
func (h *SpeechHandle) Run(ctx context.Context) error {
	h.transition(StateScheduled)

	gateDone := make(chan struct{})
	go func() {
		h.gate.Wait(h.done)
		close(gateDone)
	}()
	select {
	case <-ctx.Done():
		h.Cancel()
	case <-gateDone:
	}
	if h.State().terminal() {
		return h.terminalError()
	}
	h.transition(StateAuthorized)
	h.transition(StateGenerating)

	text, err := h.runToolLoop(ctx)
	if err != nil {
		if h.State().terminal() {
			return h.terminalError()
		}
		h.fail(err)
		return err
	}
	if h.handoffPending() {
		h.transition(StateCompleted)
		return nil
	}

	if err := h.synthesizeAndPlay(ctx, text); err != nil {
		if h.State().terminal() {
			return h.terminalError()
		}
		h.fail(err)
		return err
	}

	h.transition(StateCompleted)
	return nil
}

func (h *SpeechHandle) handoffPending() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.handoff != nil
}

func (h *SpeechHandle) terminalError() error {
	switch h.State() {
	case StateCancelled:
		return ErrCancelled
	case StatePreempted:
		return ErrCancelled
	case StateFailed:
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.failErr
	default:
		return nil
	}
}

// runToolLoop drives the LLM sub-pipeline, executing any tool calls and
// restarting the LLM with the updated chat context until the model returns
// a final reply with no tool calls, maxToolSteps is hit, or a tool requests
// a handoff.
func (h *SpeechHandle) runToolLoop(ctx context.Context) (string, error) {
	if h.say != "" {
		return h.say, nil
	}
	if h.cfg.LLM == nil {
		return "", fmt.Errorf("speech: no LLM configured for a non-say handle")
	}

	for step := 0; step < h.cfg.MaxToolSteps; step++ {
		h.mu.Lock()
		h.stepIndex = step
		h.mu.Unlock()

		stream, err := h.cfg.LLM.ChatStreaming(ctx, llm.ChatRequest{
			Chat:              h.chat,
			Tools:             h.toolDefinitions(),
			ParallelToolCalls: h.cfg.ParallelToolCalls,
		})
		if err != nil {
			return "", fmt.Errorf("speech: start llm stream: %w", err)
		}

		var text string
		var calls []llm.ToolCall
		for chunk := range stream.Recv() {
			text += chunk.Delta
			calls = append(calls, chunk.ToolCalls...)
		}
		if err := stream.Err(); err != nil {
			stream.Close()
			return "", fmt.Errorf("speech: llm stream: %w", err)
		}
		stream.Close()

		if len(calls) == 0 {
			h.chat.Insert(chatctx.NewTextMessage(chatctx.RoleAssistant, text))
			return text, nil
		}

		if text != "" {
			h.chat.Insert(chatctx.NewTextMessage(chatctx.RoleAssistant, text))
		}

		handoff, err := h.executeToolCalls(ctx, calls)
		if err != nil {
			return "", err
		}
		if handoff != nil {
			h.mu.Lock()
			h.handoff = handoff
			h.mu.Unlock()
			return "", nil
		}
	}
	return "", fmt.Errorf("speech: exceeded max tool steps (%d)", h.cfg.MaxToolSteps)
}

func (h *SpeechHandle) toolDefinitions() []llm.ToolDefinition {
	if h.cfg.Tool == nil {
		return nil
	}
	defs := h.cfg.Tool.Definitions()
	out := make([]llm.ToolDefinition, len(defs))
	for i, d := range defs {
		out[i] = llm.ToolDefinition{Name: d.Name, Description: d.Description, Parameters: d.Parameters}
	}
	return out
}

// executeToolCalls runs the given tool calls sequentially or, when
// parallelToolCalls is enabled, concurrently via errgroup, appending each
// result to the handle's chat context in call order regardless of
// completion order.
func (h *SpeechHandle) executeToolCalls(ctx context.Context, calls []llm.ToolCall) (*tools.AgentHandoff, error) {
	if h.cfg.Tool == nil {
		for _, c := range calls {
			h.chat.Insert(chatctx.NewFunctionCall(c.CallID, c.Name, c.Arguments))
			h.chat.Insert(chatctx.NewFunctionCallOutput(c.CallID, c.Name, "no tools configured", true))
		}
		return nil, nil
	}

	results := make([]tools.Result, len(calls))
	if h.cfg.ParallelToolCalls {
		g, gctx := errgroup.WithContext(ctx)
		for i, c := range calls {
			i, c := i, c
			g.Go(func() error {
				results[i] = h.cfg.Tool.Execute(gctx, tools.RunContext{Chat: h.chat, CallID: c.CallID}, c.Name, c.Arguments)
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for i, c := range calls {
			results[i] = h.cfg.Tool.Execute(ctx, tools.RunContext{Chat: h.chat, CallID: c.CallID}, c.Name, c.Arguments)
		}
	}

	var handoff *tools.AgentHandoff
	for i, c := range calls {
		h.chat.Insert(chatctx.NewFunctionCall(c.CallID, c.Name, c.Arguments))
		res := results[i]
		switch {
		case res.Err != nil:
			h.chat.Insert(chatctx.NewFunctionCallOutput(c.CallID, c.Name, res.Err.Error(), true))
		case res.Handoff != nil:
			h.chat.Insert(chatctx.NewFunctionCallOutput(c.CallID, c.Name, fmt.Sprintf("%v", res.Handoff.Returns), false))
			if handoff == nil {
				handoff = res.Handoff
			}
		default:
			h.chat.Insert(chatctx.NewFunctionCallOutput(c.CallID, c.Name, fmt.Sprintf("%v", res.Value), false))
		}
	}
	return handoff, nil
}

// synthesizeAndPlay pushes text into the TTS sub-pipeline, forwards audio
// to the room's publisher, and — unless UseTTSAlignedTranscript is set —
// paces a parallel text stream through C4.
func (h *SpeechHandle) synthesizeAndPlay(ctx context.Context, text string) error {
	if h.cfg.TTS == nil || h.cfg.Publisher == nil {
		return nil // text-only handle (e.g. a tool-only turn with no reply)
	}

	h.transition(StatePlaying)

	ttsStream, err := h.cfg.TTS.SynthesizeStream(ctx, tts.SynthesizeRequest{
		Text:     text,
		Voice:    h.cfg.Voice,
		Language: h.cfg.Language,
	})
	if err != nil {
		return fmt.Errorf("speech: start tts stream: %w", err)
	}
	defer ttsStream.Close()

	var segSync *transcript.SegmentSynchronizer
	if !h.cfg.UseTTSAlignedTranscript {
		segSync = transcript.NewSegmentSynchronizer(ctx, h.cfg.UserSpeed)
		go func() {
			for chunk := range segSync.TextOut() {
				if h.cfg.TranscriptionSink != nil {
					h.cfg.TranscriptionSink(chunk)
				}
			}
		}()
		segSync.PushText(text)
	}

	if err := ttsStream.PushText(text); err != nil {
		return fmt.Errorf("speech: push tts text: %w", err)
	}
	if err := ttsStream.CloseInput(); err != nil {
		return fmt.Errorf("speech: close tts input: %w", err)
	}

	var interrupted bool
	for chunk := range ttsStream.Chunks() {
		if h.State().terminal() {
			interrupted = true
			break
		}
		if err := h.cfg.Publisher.PublishFrame(ctx, chunk.Frame); err != nil {
			return fmt.Errorf("speech: publish frame: %w", err)
		}
		if segSync != nil {
			segSync.PushAudio(chunk.Frame)
		}
	}
	if err := ttsStream.Err(); err != nil {
		return fmt.Errorf("speech: tts stream: %w", err)
	}

	result, err := h.cfg.Publisher.Finish(ctx)
	if err != nil {
		slog.Warn("speech: publisher finish failed", slog.String("error", err.Error()))
	}
	interrupted = interrupted || result.Interrupted

	if segSync != nil {
		segSync.MarkPlaybackFinished(interrupted)
	}

	h.mu.Lock()
	h.interrupted = interrupted
	h.playbackPosition = result.PlaybackPosition
	if segSync != nil {
		h.synchronizedTranscript = segSync.SynchronizedTranscript()
	} else {
		h.synchronizedTranscript = text
	}
	h.mu.Unlock()

	if interrupted {
		h.transition(StateCancelled)
	}
	return nil
}
