package stream

import (
	"context"
	"testing"
	"time"
)

func TestChannel_WriteAfterClose(t *testing.T) {
	c := NewChannel[int](4)
	c.Close(nil)
	if err := c.Write(context.Background(), 1); err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestChannel_CloseIsIdempotent(t *testing.T) {
	c := NewChannel[int](4)
	c.Close(nil)
	c.Close(nil) // must not panic on double-close
}

func TestChannel_RecvDrainsWrittenValues(t *testing.T) {
	c := NewChannel[int](4)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := c.Write(ctx, i); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}
	c.Close(nil)

	var got []int
	for v := range c.Recv() {
		got = append(got, v)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 values, got %v", got)
	}
}

func TestTee_DuplicatesToBothBranches(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := NewChannel[int](4)
	a, b := Tee[int](ctx, src, 4)

	go func() {
		for i := 0; i < 3; i++ {
			src.Write(ctx, i)
		}
		src.Close(nil)
	}()

	var gotA, gotB []int
	done := make(chan struct{})
	go func() {
		for v := range a.Recv() {
			gotA = append(gotA, v)
		}
		for v := range b.Recv() {
			gotB = append(gotB, v)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for tee branches to drain")
	}
	if len(gotA) != 3 || len(gotB) != 3 {
		t.Fatalf("expected both branches to see 3 items, got a=%v b=%v", gotA, gotB)
	}
}

func TestPipeThrough_AppliesTransform(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := NewChannel[int](4)
	out := PipeThrough(ctx, src, func(ctx context.Context, v int) (int, error) {
		return v * 2, nil
	}, 4)

	go func() {
		src.Write(ctx, 5)
		src.Close(nil)
	}()

	select {
	case v := <-out.Recv():
		if v != 10 {
			t.Fatalf("expected 10, got %d", v)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for transformed value")
	}
}
