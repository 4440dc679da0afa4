package job

import (
	"context"
	"testing"
	"time"

	"github.com/chriscow/voiceagent/pkg/rtc"
)

func TestSampleProvider_PushThenNextSampleRoundTrips(t *testing.T) {
	p := newSampleProvider(4)
	frame := rtc.AudioFrame{Data: []byte{1, 2, 3, 4}, SampleRate: 16000, SamplesPerChannel: 160, NumChannels: 1}

	if err := p.push(frame); err != nil {
		t.Fatalf("push: %v", err)
	}

	sample, err := p.NextSample(context.Background())
	if err != nil {
		t.Fatalf("NextSample: %v", err)
	}
	if len(sample.Data) != 4 || sample.Duration != 10*time.Millisecond {
		t.Fatalf("NextSample = %+v, want 4 bytes / 10ms", sample)
	}
}

func TestSampleProvider_PushAfterCloseErrors(t *testing.T) {
	p := newSampleProvider(4)
	p.close()

	if err := p.push(rtc.AudioFrame{Data: []byte{1, 2}}); err == nil {
		t.Fatal("expected push after close to error")
	}
}

func TestSampleProvider_NextSampleAfterCloseReturnsEOF(t *testing.T) {
	p := newSampleProvider(4)
	p.close()

	if _, err := p.NextSample(context.Background()); err == nil {
		t.Fatal("expected EOF after close")
	}
}

func TestSampleProvider_QueueFullReturnsError(t *testing.T) {
	p := newSampleProvider(1)
	frame := rtc.AudioFrame{Data: []byte{1, 2}}
	if err := p.push(frame); err != nil {
		t.Fatalf("first push: %v", err)
	}
	if err := p.push(frame); err == nil {
		t.Fatal("expected second push to a full queue to error")
	}
}
