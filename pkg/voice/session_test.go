package voice

import (
	"context"
	"testing"
	"time"

	"github.com/chriscow/voiceagent/pkg/ai/llm"
	"github.com/chriscow/voiceagent/pkg/ai/tts"
	"github.com/chriscow/voiceagent/pkg/chatctx"
	"github.com/chriscow/voiceagent/pkg/recognition"
	"github.com/chriscow/voiceagent/pkg/rtc"
	"github.com/chriscow/voiceagent/pkg/speech"
	"github.com/chriscow/voiceagent/pkg/tools"
)

type fakeChatStream struct{ chunks chan llm.ChatChunk }

func (f *fakeChatStream) Recv() <-chan llm.ChatChunk { return f.chunks }
func (f *fakeChatStream) Err() error                 { return nil }
func (f *fakeChatStream) Close() error               { return nil }

type fakeLLM struct{ text string }

func (f *fakeLLM) Chat(ctx context.Context, req llm.ChatRequest) (llm.ChatResponse, error) {
	return llm.ChatResponse{Text: f.text}, nil
}
func (f *fakeLLM) ChatStreaming(ctx context.Context, req llm.ChatRequest) (llm.ChatStream, error) {
	ch := make(chan llm.ChatChunk, 1)
	ch <- llm.ChatChunk{Delta: f.text}
	close(ch)
	return &fakeChatStream{chunks: ch}, nil
}
func (f *fakeLLM) Capabilities() llm.Capabilities { return llm.Capabilities{SupportsStreaming: true} }

type fakeChunkedStream struct{ chunks chan tts.AudioChunk }

func (f *fakeChunkedStream) PushText(text string) error {
	go func() {
		f.chunks <- tts.AudioChunk{Frame: rtc.AudioFrame{SampleRate: 16000, SamplesPerChannel: 160, NumChannels: 1, Data: make([]byte, 320)}, IsFinal: true}
		close(f.chunks)
	}()
	return nil
}
func (f *fakeChunkedStream) CloseInput() error             { return nil }
func (f *fakeChunkedStream) Chunks() <-chan tts.AudioChunk { return f.chunks }
func (f *fakeChunkedStream) Err() error                    { return nil }
func (f *fakeChunkedStream) Close() error                  { return nil }

type fakeTTS struct{}

func (f *fakeTTS) Synthesize(ctx context.Context, req tts.SynthesizeRequest) (<-chan rtc.AudioFrame, error) {
	return nil, nil
}
func (f *fakeTTS) SynthesizeStream(ctx context.Context, req tts.SynthesizeRequest) (tts.ChunkedStream, error) {
	return &fakeChunkedStream{chunks: make(chan tts.AudioChunk, 2)}, nil
}
func (f *fakeTTS) Capabilities() tts.TTSCapabilities { return tts.TTSCapabilities{Streaming: true} }

type fakePublisher struct{}

func (p *fakePublisher) PublishFrame(ctx context.Context, frame rtc.AudioFrame) error { return nil }
func (p *fakePublisher) Finish(ctx context.Context) (speech.PlaybackResult, error) {
	return speech.PlaybackResult{}, nil
}

type fakeAgent struct {
	llm             llm.LLM
	tts             tts.TTS
	tools           *tools.Registry
	onTurnCompleted func(ctx context.Context, msg chatctx.Item) error
}

func (a *fakeAgent) Instructions() string { return "you are a test agent" }
func (a *fakeAgent) LLM() llm.LLM         { return a.llm }
func (a *fakeAgent) TTS() tts.TTS         { return a.tts }
func (a *fakeAgent) Tools() *tools.Registry {
	if a.tools == nil {
		return tools.NewRegistry()
	}
	return a.tools
}
func (a *fakeAgent) OnUserTurnCompleted(ctx context.Context, msg chatctx.Item) error {
	if a.onTurnCompleted != nil {
		return a.onTurnCompleted(ctx, msg)
	}
	return nil
}

func newTestSession(agent Agent) *Session {
	return NewSession(Config{
		Agent:     agent,
		Publisher: &fakePublisher{},
		Voice:     VoiceOptions{UserSpeed: 4.0},
	})
}

func waitDone(t *testing.T, h *speech.SpeechHandle) {
	t.Helper()
	select {
	case <-h.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("handle never completed")
	}
}

func TestSession_SayRunsPureTTSHandle(t *testing.T) {
	s := newTestSession(&fakeAgent{tts: &fakeTTS{}})
	h := s.Say(context.Background(), "hello", true)
	waitDone(t, h)
	if h.State() != speech.StateCompleted {
		t.Fatalf("State() = %v, want completed", h.State())
	}
}

func TestSession_GenerateReplyUsesActiveAgentLLM(t *testing.T) {
	s := newTestSession(&fakeAgent{llm: &fakeLLM{text: "hi there"}, tts: &fakeTTS{}})
	h := s.GenerateReply(context.Background(), "hello")
	waitDone(t, h)
	if h.State() != speech.StateCompleted {
		t.Fatalf("State() = %v, want completed", h.State())
	}
}

func TestSession_OnEndOfTurnCommitsMessageAndGeneratesReply(t *testing.T) {
	s := newTestSession(&fakeAgent{llm: &fakeLLM{text: "ack"}, tts: &fakeTTS{}})
	committed := s.OnEndOfTurn(recognition.EndOfTurnInfo{NewTranscript: "hello there"})
	if !committed {
		t.Fatal("expected OnEndOfTurn to report committed")
	}
	if s.snapshotChat().Len() != 1 {
		t.Fatalf("expected the user message to be inserted into chat, got %d items", s.snapshotChat().Len())
	}
}

func TestSession_StopResponseSuppressesReply(t *testing.T) {
	agent := &fakeAgent{llm: &fakeLLM{text: "unused"}, tts: &fakeTTS{}}
	agent.onTurnCompleted = func(ctx context.Context, msg chatctx.Item) error { return ErrStopResponse }
	s := newTestSession(agent)

	committed := s.OnEndOfTurn(recognition.EndOfTurnInfo{NewTranscript: "hello"})
	if !committed {
		t.Fatal("expected commit even when the reply is suppressed")
	}
}

func TestSession_HandoffSwapsActiveAgent(t *testing.T) {
	next := &fakeAgent{llm: &fakeLLM{text: "new agent speaking"}, tts: &fakeTTS{}}

	reg := tools.NewRegistry()
	_ = reg.Register(tools.FuncTool{
		Def: tools.Definition{Name: "transfer"},
		Fn: func(ctx context.Context, rc tools.RunContext, argsJSON string) tools.Result {
			return tools.Result{Handoff: &tools.AgentHandoff{Agent: next, Returns: "transferred"}}
		},
	})

	first := &fakeAgent{
		llm:   &toolCallLLM{toolName: "transfer"},
		tts:   &fakeTTS{},
		tools: reg,
	}
	s := newTestSession(first)

	h := s.GenerateReply(context.Background(), "please transfer me")
	waitDone(t, h)

	deadline := time.Now().Add(2 * time.Second)
	for s.currentAgent() != Agent(next) {
		if time.Now().After(deadline) {
			t.Fatal("expected active agent to be swapped to the handoff target")
		}
		time.Sleep(time.Millisecond)
	}
}

// toolCallLLM emits a single tool call for toolName on its first (and only)
// streaming response, driving a handoff without a real LLM provider.
type toolCallLLM struct{ toolName string }

func (f *toolCallLLM) Chat(ctx context.Context, req llm.ChatRequest) (llm.ChatResponse, error) {
	return llm.ChatResponse{}, nil
}
func (f *toolCallLLM) ChatStreaming(ctx context.Context, req llm.ChatRequest) (llm.ChatStream, error) {
	ch := make(chan llm.ChatChunk, 1)
	ch <- llm.ChatChunk{ToolCalls: []llm.ToolCall{{CallID: "call-1", Name: f.toolName, Arguments: "{}"}}}
	close(ch)
	return &fakeChatStream{chunks: ch}, nil
}
func (f *toolCallLLM) Capabilities() llm.Capabilities { return llm.Capabilities{SupportsStreaming: true} }
