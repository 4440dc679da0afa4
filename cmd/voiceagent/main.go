// Command voiceagent is the process host for the voice agent runtime: it
// connects to LiveKit as a worker, accepts job dispatches, and wires a
// Session's recognition, generation, and interruption stack together for
// each assigned room.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chriscow/voiceagent/internal/config"
	"github.com/chriscow/voiceagent/internal/worker"
	"github.com/chriscow/voiceagent/pkg/ai/llm"
	llmfake "github.com/chriscow/voiceagent/pkg/ai/llm/fake"
	sttfake "github.com/chriscow/voiceagent/pkg/ai/stt/fake"
	"github.com/chriscow/voiceagent/pkg/ai/tts"
	ttsfake "github.com/chriscow/voiceagent/pkg/ai/tts/fake"
	vadfake "github.com/chriscow/voiceagent/pkg/ai/vad/fake"
	"github.com/chriscow/voiceagent/pkg/chatctx"
	"github.com/chriscow/voiceagent/pkg/interruption"
	"github.com/chriscow/voiceagent/pkg/job"
	"github.com/chriscow/voiceagent/pkg/rtc"
	"github.com/chriscow/voiceagent/pkg/speech"
	"github.com/chriscow/voiceagent/pkg/tools"
	"github.com/chriscow/voiceagent/pkg/turn"
	"github.com/chriscow/voiceagent/pkg/version"
	"github.com/chriscow/voiceagent/pkg/voice"
	"github.com/livekit/protocol/auth"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var metricsAddr string

var rootCmd = &cobra.Command{
	Use:   "voiceagent",
	Short: "Voice agent worker for LiveKit rooms",
	Long: `voiceagent connects to a LiveKit server as a worker, accepts job
dispatches for rooms, and runs the C2 session state machine (turn
arbitration, interruption handling, tool execution) against each one.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.GetVersionInfo())
	},
}

var devCmd = &cobra.Command{
	Use:   "dev",
	Short: "Run the worker with human-readable console logging",
	Long: `dev runs the same worker loop as start, but with human-readable
console logging instead of JSON. Like start, each job's session is fed a
synthetic microphone source standing in for a real LiveKit audio
subscription — the same audio-I/O simulation the teacher's own agent demo
used, since nothing in this module's dependency corpus decodes Opus.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context(), true)
	},
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Run the worker with structured JSON logging",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context(), false)
	},
}

var downloadFilesCmd = &cobra.Command{
	Use:   "download-files",
	Short: "Download the ONNX turn-detection model into the local cache",
	RunE: func(cmd *cobra.Command, args []string) error {
		d := turn.NewDownloader("")
		return d.DownloadAll()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "address to serve Prometheus metrics on (empty disables)")
	rootCmd.AddCommand(versionCmd, devCmd, startCmd, downloadFilesCmd)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		slog.Error("voiceagent exited with an error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, console bool) error {
	logger := setupLogger(console)
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("voiceagent: %w", err)
	}

	reg := prometheus.NewRegistry()
	metrics := voice.NewMetrics(reg)
	if metricsAddr != "" {
		go serveMetrics(metricsAddr, reg, logger)
	}

	workerToken, err := mintWorkerToken(cfg)
	if err != nil {
		return fmt.Errorf("voiceagent: %w", err)
	}

	w := worker.New(worker.Config{
		URL:   cfg.LiveKitURL,
		Token: workerToken,
		OnJob: func(jobCtx context.Context, req job.StartJobRequest) {
			if err := handleJob(jobCtx, req, cfg, metrics, logger); err != nil {
				logger.Error("job failed", slog.String("room", req.RoomName), slog.String("error", err.Error()))
			}
		},
	}, logger)

	logger.Info("starting voiceagent worker",
		slog.String("version", version.Version),
		slog.String("url", cfg.LiveKitURL))
	return w.Run(ctx)
}

// mintWorkerToken signs the JWT this process presents when registering
// with the LiveKit server as a worker, grounded on the same
// auth.NewAccessToken/VideoGrant shape examples/minimal/main.go uses for
// its own participant tokens.
func mintWorkerToken(cfg config.Config) (string, error) {
	grant := &auth.VideoGrant{RoomJoin: true}
	at := auth.NewAccessToken(cfg.LiveKitAPIKey, cfg.LiveKitAPISecret).
		AddGrant(grant).
		SetIdentity("voiceagent-worker").
		SetValidFor(24 * time.Hour)
	return at.ToJWT()
}

func setupLogger(console bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if console {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	logger.Info("serving metrics", slog.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("metrics server failed", slog.String("error", err.Error()))
	}
}

// handleJob wires a single job's room connection, audio publisher,
// interruption detector, and session together and blocks until the job
// context is cancelled.
func handleJob(ctx context.Context, req job.StartJobRequest, cfg config.Config, metrics *voice.Metrics, logger *slog.Logger) error {
	jobInstance, err := job.New(ctx, job.Config{RoomName: req.RoomName, Timeout: job.DefaultJobTimeout})
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}

	room, err := job.NewRoom(jobInstance.Context.Ctx, job.RoomConfig{
		URL:      cfg.LiveKitURL,
		Token:    req.Token,
		RoomName: req.RoomName,
	})
	if err != nil {
		return fmt.Errorf("create room: %w", err)
	}
	if err := room.Connect(job.RoomConfig{URL: cfg.LiveKitURL, Token: req.Token, RoomName: req.RoomName}); err != nil {
		return fmt.Errorf("connect room: %w", err)
	}
	defer room.Disconnect()

	go func() {
		for ev := range room.Events {
			logger.Debug("room event", slog.String("type", string(ev.Type)))
		}
	}()

	publisher, err := job.NewRoomAudioPublisher(room.LocalParticipant(), "assistant-voice")
	if err != nil {
		return fmt.Errorf("create audio publisher: %w", err)
	}
	defer publisher.Close()

	var sessionPublisher speech.AudioPublisher = publisher
	if cfg.BackgroundAudioFile != "" {
		bed, err := voice.NewBackgroundAudio(voice.BackgroundAudioConfig{
			AudioFile: cfg.BackgroundAudioFile,
			Volume:    float32(cfg.BackgroundAudioVolume),
			Enabled:   true,
		})
		if err != nil {
			logger.Warn("background audio unavailable", slog.String("error", err.Error()))
		} else {
			sessionPublisher = voice.NewMixingPublisher(publisher, bed)
		}
	}

	var transport interruption.Transport
	if cfg.InterruptDetectorURL != "" {
		transport = interruption.NewHTTPTransport(cfg.InterruptDetectorURL, cfg.InterruptDetectorAPIKey, cfg.HTTPTimeout)
	}
	var detector *interruption.Detector
	if transport != nil {
		detector = interruption.New(interruption.Config{
			Threshold:                  cfg.InterruptThreshold,
			MinInterruptionDurationInS: cfg.InterruptMinDurationInS,
		}, transport)
		defer detector.Close()
	}

	turnDetector, err := turn.NewDefaultDetector()
	if err != nil {
		logger.Warn("turn detector unavailable, falling back to VAD-only turn taking", slog.String("error", err.Error()))
		turnDetector = nil
	}

	micIn := make(chan rtc.AudioFrame, 100)

	sessCfg := voice.Config{
		Agent:        newDemoAgent(),
		VAD:          vadfake.NewFakeVAD(0.3),
		STT:          sttfake.NewFakeSTTWithText(),
		TurnDetector: turnDetector,
		MicIn:        micIn,
		Publisher:    sessionPublisher,
		SampleRate:   48000,
		NumChannels:  1,
		Language:     "en-US",
		Voice: voice.VoiceOptions{
			AllowInterruptions:   true,
			PreemptiveGeneration: true,
		},
		Metrics: metrics,
	}
	if detector != nil {
		sessCfg.Interruption = detector
	}

	session := voice.NewSession(sessCfg)
	defer session.Close()

	go logSessionEvents(session, logger)
	go simulateMicInput(jobInstance.Context.Ctx, micIn)

	err = session.Start(jobInstance.Context.Ctx)
	if err != nil && jobInstance.Context.Err() == nil {
		return fmt.Errorf("session: %w", err)
	}
	return nil
}

func logSessionEvents(s *voice.Session, logger *slog.Logger) {
	for ev := range s.Events() {
		switch ev.Type {
		case voice.EventError:
			logger.Error("session error", slog.String("error", ev.Err.Error()))
		case voice.EventAgentStateChanged:
			logger.Info("agent state changed", slog.String("state", ev.State))
		case voice.EventUserInputTranscribed:
			logger.Debug("transcript", slog.String("text", ev.Text), slog.Bool("final", ev.Final))
		}
	}
}

// simulateMicInput stands in for a real LiveKit audio subscription. No
// Opus decoder appears anywhere in this module's dependency corpus (see
// DESIGN.md's note on pkg/job/audio_publisher.go), so production capture
// of a subscribed remote track is left unimplemented; this generates
// silent frames at the real-time cadence so the recognition pipeline has
// something to run against.
func simulateMicInput(ctx context.Context, micIn chan<- rtc.AudioFrame) {
	defer close(micIn)
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			frame := rtc.AudioFrame{
				Data:              make([]byte, 960),
				SampleRate:        48000,
				SamplesPerChannel: 480,
				NumChannels:       1,
			}
			select {
			case micIn <- frame:
			case <-ctx.Done():
				return
			}
		}
	}
}

// demoAgent is a minimal voice.Agent backed by the fake LLM/TTS providers,
// used until plugins/{openai,deepgram,silero} are adapted to the new
// pkg/ai interfaces (see DESIGN.md's Pending section).
type demoAgent struct {
	llm   *llmfake.FakeLLM
	tts   *ttsfake.FakeTTS
	tools *tools.Registry
}

func newDemoAgent() *demoAgent {
	return &demoAgent{
		llm: llmfake.NewFakeLLM(
			"I heard you. Tell me more.",
			"Got it, let's continue.",
		),
		tts:   ttsfake.NewFakeTTS(),
		tools: tools.NewRegistry(),
	}
}

func (a *demoAgent) Instructions() string   { return "You are a helpful voice assistant." }
func (a *demoAgent) LLM() llm.LLM           { return a.llm }
func (a *demoAgent) TTS() tts.TTS           { return a.tts }
func (a *demoAgent) Tools() *tools.Registry { return a.tools }

func (a *demoAgent) OnUserTurnCompleted(ctx context.Context, newMessage chatctx.Item) error {
	return nil
}
