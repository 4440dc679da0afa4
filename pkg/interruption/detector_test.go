package interruption

import (
	"context"
	"testing"
	"time"

	"github.com/chriscow/voiceagent/pkg/rtc"
)

type fakeTransport struct {
	probabilities []float64
	closed        bool
}

func (f *fakeTransport) Infer(ctx context.Context, req InferenceRequest) (InferenceResponse, error) {
	return InferenceResponse{RequestID: req.RequestID, Probabilities: f.probabilities}, nil
}
func (f *fakeTransport) Close() error { f.closed = true; return nil }

func pcm16Frame(sampleCount int) rtc.AudioFrame {
	data := make([]byte, sampleCount*2)
	return rtc.AudioFrame{Data: data, SampleRate: 16000, SamplesPerChannel: sampleCount, NumChannels: 1}
}

func waitForEvent(t *testing.T, d *Detector) Event {
	t.Helper()
	select {
	case ev := <-d.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
		return Event{}
	}
}

func TestDetector_OverlapInterruptionFiresAboveThreshold(t *testing.T) {
	cfg := Config{
		SampleRate:                 16000,
		Threshold:                  0.5,
		MinInterruptionDurationInS: 0.02,
		DetectionIntervalInS:       0.01,
	}
	d := New(cfg, &fakeTransport{probabilities: []float64{0.9, 0.95, 0.92}})

	d.OverlapSpeechStarted(0.3)
	d.PushAudio(context.Background(), pcm16Frame(160))

	ev := waitForEvent(t, d)
	if ev.Type != EventInterruption {
		t.Fatalf("Type = %v, want EventInterruption", ev.Type)
	}
	if ev.Probability <= cfg.Threshold {
		t.Fatalf("Probability = %v, want > %v", ev.Probability, cfg.Threshold)
	}
}

func TestDetector_BelowThresholdDoesNotFire(t *testing.T) {
	cfg := Config{
		SampleRate:                 16000,
		Threshold:                  0.8,
		MinInterruptionDurationInS: 0.02,
		DetectionIntervalInS:       0.01,
	}
	d := New(cfg, &fakeTransport{probabilities: []float64{0.1, 0.2, 0.15}})

	d.OverlapSpeechStarted(0.3)
	d.PushAudio(context.Background(), pcm16Frame(160))

	select {
	case ev := <-d.Events():
		t.Fatalf("unexpected event: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestDetector_OverlapSpeechEndedPopsMostRecentCompleted(t *testing.T) {
	cfg := Config{
		SampleRate:                 16000,
		Threshold:                  0.99, // never fires; exercise the pop-on-end path instead
		MinInterruptionDurationInS: 0.02,
		DetectionIntervalInS:       0.01,
	}
	d := New(cfg, &fakeTransport{probabilities: []float64{0.3, 0.4}})

	d.OverlapSpeechStarted(0.3)
	d.PushAudio(context.Background(), pcm16Frame(160))

	// Give the async classification a moment to populate the cache.
	time.Sleep(50 * time.Millisecond)

	d.OverlapSpeechEnded()
	ev := waitForEvent(t, d)
	if ev.Type != EventOverlapSpeechEnded {
		t.Fatalf("Type = %v, want EventOverlapSpeechEnded", ev.Type)
	}
	if ev.TotalDurationInS <= 0 {
		t.Fatalf("TotalDurationInS = %v, want > 0", ev.TotalDurationInS)
	}
}

func TestDetector_OverlapSpeechEndedWithNothingCompletedReturnsDefaults(t *testing.T) {
	d := New(Config{}, &fakeTransport{})
	d.OverlapSpeechEnded()
	ev := waitForEvent(t, d)
	if ev.Type != EventOverlapSpeechEnded || ev.RequestID != "" || ev.TotalDurationInS != 0 {
		t.Fatalf("expected zero-valued event, got %+v", ev)
	}
}

func TestDetector_SimpleAdapterTracksSustainedProbability(t *testing.T) {
	d := New(Config{Threshold: 0.5, MinInterruptionDurationInS: 0.02}, nil)
	d.Reset()

	d.ObserveVADProbability(0.9)
	if d.ShouldInterrupt() {
		t.Fatal("should not interrupt on a single frame below the window size")
	}
	d.ObserveVADProbability(0.9)
	if !d.ShouldInterrupt() {
		t.Fatal("expected sustained high probability across the window to interrupt")
	}
}

func TestDetector_ResetClearsPriorHistory(t *testing.T) {
	d := New(Config{Threshold: 0.5, MinInterruptionDurationInS: 0.02}, nil)
	d.ObserveVADProbability(0.9)
	d.ObserveVADProbability(0.9)
	if !d.ShouldInterrupt() {
		t.Fatal("setup: expected interrupt before reset")
	}
	d.Reset()
	if d.ShouldInterrupt() {
		t.Fatal("expected Reset to clear prior probability history")
	}
}
