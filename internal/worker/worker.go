package worker

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/chriscow/voiceagent/pkg/job"
)

// Signal and command type constants mirror pkg/job's typed IPC envelope
// names, kept as the string constants the WebSocket transport actually puts
// on the wire.
const (
	SignalTypeInitialize = job.EnvelopeInitializeRequest
	SignalTypeStartJob   = job.EnvelopeStartJobRequest
	SignalTypePing       = job.EnvelopePingRequest
	SignalTypePong       = job.EnvelopePongResponse
	SignalTypeInference  = job.EnvelopeInferenceRequest
	SignalTypeShutdown   = job.EnvelopeShutdownRequest
)

// JobHandler is invoked when the server assigns a new job to this worker.
// It should return promptly; long-running work belongs in a goroutine
// spawned by the handler.
type JobHandler func(ctx context.Context, req job.StartJobRequest)

type Worker struct {
	url            string
	token          string
	wsClient       *WebSocketClient
	logger         *slog.Logger
	in             chan *Signal
	out            chan *Command
	mu             sync.RWMutex
	connected      bool
	backoffAttempt int
	lastPing       time.Time

	onJob JobHandler
}

type Config struct {
	URL   string
	Token string
	// OnJob is called whenever the server dispatches a startJobRequest.
	OnJob JobHandler
}

func New(config Config, logger *slog.Logger) *Worker {
	return &Worker{
		url:      config.URL,
		token:    config.Token,
		logger:   logger,
		in:       make(chan *Signal, 100),
		out:      make(chan *Command, 100),
		wsClient: NewWebSocketClient(config.URL, config.Token, logger),
		onJob:    config.OnJob,
	}
}

func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("Starting worker", slog.String("url", w.url))

	// Main worker loop with reconnection
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Worker shutting down")
			return w.shutdown()
		default:
			if err := w.connectAndRun(ctx); err != nil {
				w.logger.Error("Worker connection failed", slog.String("error", err.Error()))
				
				// Exponential backoff with jitter
				if err := w.backoffDelay(ctx); err != nil {
					return err
				}
				continue
			}
		}
	}
}

func (w *Worker) connectAndRun(ctx context.Context) error {
	w.logger.Info("Connecting to LiveKit server")
	
	if err := w.wsClient.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer func() {
		if err := w.wsClient.Close(); err != nil {
			w.logger.Error("Error closing WebSocket during cleanup", slog.String("error", err.Error()))
		}
	}()

	w.setConnected(true)
	defer w.setConnected(false)

	w.mu.Lock()
	w.lastPing = time.Now()
	w.mu.Unlock()

	// Announce ourselves before accepting job assignments.
	select {
	case w.out <- &Command{Type: SignalTypeInitialize}:
	case <-ctx.Done():
		return nil
	}

	// Start goroutines for reading and writing
	readCtx, readCancel := context.WithCancel(ctx)
	defer readCancel()

	var wg sync.WaitGroup
	errCh := make(chan error, 3)

	// Start signal reader
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := w.readSignals(readCtx); err != nil {
			errCh <- fmt.Errorf("read signals: %w", err)
		}
	}()

	// Start command writer
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := w.writeCommands(readCtx); err != nil {
			errCh <- fmt.Errorf("write commands: %w", err)
		}
	}()

	// Start signal processor
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.processSignals(readCtx)
	}()

	// Watchdog: if the server stops pinging us, assume the connection is
	// orphaned rather than waiting indefinitely for a read error.
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := w.watchOrphan(readCtx); err != nil {
			errCh <- err
		}
	}()

	// Wait for error or context cancellation
	select {
	case err := <-errCh:
		readCancel()
		wg.Wait()
		return err
	case <-ctx.Done():
		readCancel()
		wg.Wait()
		return nil
	}
}

func (w *Worker) readSignals(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
			signal, err := w.wsClient.ReadSignal(ctx)
			if err != nil {
				return err
			}

			select {
			case w.in <- signal:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

func (w *Worker) writeCommands(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case cmd := <-w.out:
			if err := w.wsClient.WriteCommand(ctx, cmd); err != nil {
				return err
			}
		}
	}
}

func (w *Worker) processSignals(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case signal := <-w.in:
			w.handleSignal(ctx, signal)
		}
	}
}

func (w *Worker) handleSignal(ctx context.Context, signal *Signal) {
	w.logger.Debug("Processing signal", slog.String("type", signal.Type))

	switch signal.Type {
	case SignalTypePing:
		w.mu.Lock()
		w.lastPing = time.Now()
		w.mu.Unlock()

		pong := &Command{Type: SignalTypePong, Data: signal.Data}
		select {
		case w.out <- pong:
		case <-ctx.Done():
		default:
			// Channel is closed or full, skip sending
		}

	case SignalTypeStartJob:
		w.logger.Info("Received start job signal")
		if w.onJob == nil {
			w.logger.Warn("No job handler registered, ignoring startJobRequest")
			return
		}
		req := job.StartJobRequest{}
		if v, ok := signal.Data["jobId"].(string); ok {
			req.JobID = v
		}
		if v, ok := signal.Data["roomName"].(string); ok {
			req.RoomName = v
		}
		if v, ok := signal.Data["token"].(string); ok {
			req.Token = v
		}
		go w.onJob(ctx, req)

	case SignalTypeInference:
		w.logger.Debug("Received inference request", slog.Any("data", signal.Data))
		// Inference requests are handled by the job-level turn detector;
		// this is a transport-layer pass-through point for future wiring.

	case SignalTypeShutdown:
		w.logger.Info("Received shutdown signal")
		// Graceful shutdown will be handled by context cancellation

	default:
		w.logger.Warn("Unknown signal type", slog.String("type", signal.Type))
	}
}

// watchOrphan tears the connection down if no ping arrives within
// job.OrphanWatchdogTimeout of the last one.
func (w *Worker) watchOrphan(ctx context.Context) error {
	ticker := time.NewTicker(job.OrphanWatchdogTimeout / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.mu.RLock()
			since := time.Since(w.lastPing)
			w.mu.RUnlock()
			if since > job.OrphanWatchdogTimeout {
				return fmt.Errorf("no ping received in %v, assuming orphaned connection", since)
			}
		}
	}
}

func (w *Worker) backoffDelay(ctx context.Context) error {
	w.mu.Lock()
	w.backoffAttempt++
	attempt := w.backoffAttempt
	w.mu.Unlock()
	
	// Exponential backoff: 1s, 2s, 4s, 8s, up to 10s max
	delay := time.Duration(math.Min(math.Pow(2, float64(attempt-1)), 10)) * time.Second
	
	w.logger.Info("Reconnecting with backoff",
		slog.Int("attempt", attempt),
		slog.Duration("delay", delay))

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) setConnected(connected bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	
	if connected && !w.connected {
		// Reset backoff on successful connection
		w.backoffAttempt = 0
		w.logger.Info("Worker connected successfully")
	}
	
	w.connected = connected
}

func (w *Worker) IsConnected() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.connected
}

func (w *Worker) shutdown() error {
	w.logger.Info("Shutting down worker")
	
	// Close out channel to signal command writers to stop
	// Note: in channel is left open - reading goroutines are managed by context cancellation
	close(w.out)
	
	// Close WebSocket connection
	if err := w.wsClient.Close(); err != nil {
		w.logger.Error("Error closing WebSocket", slog.String("error", err.Error()))
		return err
	}
	
	w.logger.Info("Worker shutdown complete")
	return nil
}