package tools

import (
	"context"
	"sync"

	"github.com/chriscow/voiceagent/pkg/stream"
)

// AgentTask drives a sub-conversation through a nested agent. Run activates
// the nested agent via start, waits for it to call Complete, then returns
// the completion value so the caller can restore the previous agent.
//
// A given AgentTask instance may only be run once: a second Run call fails
// with stream.ErrAlreadyAwaited, the same "cannot be awaited multiple
// times" invariant pkg/stream.Task enforces for its underlying coroutine.
type AgentTask struct {
	start func(ctx context.Context, complete func(value any, err error)) error

	mu        sync.Mutex
	ran       bool
	done      chan struct{}
	result    any
	resultErr error
}

// NewAgentTask wraps start, the function that activates the nested agent.
// start must arrange for complete to be called exactly once when the nested
// agent finishes (normally or with an error); it should return promptly,
// not block until completion itself.
func NewAgentTask(start func(ctx context.Context, complete func(value any, err error)) error) *AgentTask {
	return &AgentTask{start: start, done: make(chan struct{})}
}

// Run activates the nested agent and blocks until it completes. It returns
// stream.ErrAlreadyAwaited if called more than once on the same instance.
func (t *AgentTask) Run(ctx context.Context) (any, error) {
	t.mu.Lock()
	if t.ran {
		t.mu.Unlock()
		return nil, stream.ErrAlreadyAwaited
	}
	t.ran = true
	t.mu.Unlock()

	complete := func(value any, err error) {
		t.mu.Lock()
		defer t.mu.Unlock()
		select {
		case <-t.done:
			return // already completed; ignore duplicate calls
		default:
		}
		t.result = value
		t.resultErr = err
		close(t.done)
	}

	if err := t.start(ctx, complete); err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.done:
		t.mu.Lock()
		defer t.mu.Unlock()
		return t.result, t.resultErr
	}
}
