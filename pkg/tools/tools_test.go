package tools

import (
	"context"
	"testing"
)

func echoTool(name string) Tool {
	return FuncTool{
		Def: Definition{Name: name, Description: "echoes its input", Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{"text": map[string]any{"type": "string"}},
		}},
		Fn: func(ctx context.Context, rc RunContext, argsJSON string) Result {
			return Result{Value: argsJSON}
		},
	}
}

func TestRegistry_RegisterLookupRemove(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(echoTool("echo")); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register(echoTool("echo")); err == nil {
		t.Fatal("expected duplicate registration to fail")
	}
	if _, ok := r.Lookup("echo"); !ok {
		t.Fatal("expected to find registered tool")
	}
	if r.Count() != 1 {
		t.Fatalf("Count() = %d, want 1", r.Count())
	}
	if !r.Remove("echo") {
		t.Fatal("expected Remove to report success")
	}
	if _, ok := r.Lookup("echo"); ok {
		t.Fatal("expected tool to be gone after Remove")
	}
}

func TestRegistry_RegisterRejectsNilAndEmptyName(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(nil); err == nil {
		t.Fatal("expected nil tool to be rejected")
	}
	if err := r.Register(echoTool("")); err == nil {
		t.Fatal("expected empty-name tool to be rejected")
	}
}

func TestRegistry_Execute(t *testing.T) {
	r := NewRegistry()
	_ = r.Register(echoTool("echo"))

	res := r.Execute(context.Background(), RunContext{CallID: "call-1"}, "echo", `{"text":"hi"}`)
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if res.Value != `{"text":"hi"}` {
		t.Fatalf("got %v", res.Value)
	}

	res = r.Execute(context.Background(), RunContext{}, "missing", "{}")
	if res.Err == nil {
		t.Fatal("expected error for unknown tool")
	}
}

func TestValidateArgs(t *testing.T) {
	if err := ValidateArgs(""); err != nil {
		t.Fatalf("empty args should be valid: %v", err)
	}
	if err := ValidateArgs(`{"a":1}`); err != nil {
		t.Fatalf("valid JSON rejected: %v", err)
	}
	if err := ValidateArgs(`{not json`); err == nil {
		t.Fatal("expected malformed JSON to be rejected")
	}
}

func TestAgentTask_CannotBeRunTwice(t *testing.T) {
	task := NewAgentTask(func(ctx context.Context, complete func(value any, err error)) error {
		go complete("done", nil)
		return nil
	})

	ctx := context.Background()
	val, err := task.Run(ctx)
	if err != nil {
		t.Fatalf("first Run failed: %v", err)
	}
	if val != "done" {
		t.Fatalf("got %v, want %q", val, "done")
	}

	if _, err := task.Run(ctx); err == nil {
		t.Fatal("expected second Run to fail")
	}
}

func TestAgentTask_PropagatesError(t *testing.T) {
	boom := context.DeadlineExceeded
	task := NewAgentTask(func(ctx context.Context, complete func(value any, err error)) error {
		go complete(nil, boom)
		return nil
	})

	_, err := task.Run(context.Background())
	if err != boom {
		t.Fatalf("got %v, want %v", err, boom)
	}
}
