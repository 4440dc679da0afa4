// Package chatctx implements the ChatItem / ChatContext data model shared by
// the LLM capability, the speech generation pipeline, and tool execution.
package chatctx

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Role identifies the speaker of a Message item.
type Role string

const (
	RoleSystem    Role = "system"
	RoleDeveloper Role = "developer"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ContentPart is one piece of a Message's content — text, image, or audio.
type ContentPart struct {
	Type string // "text" | "image" | "audio"
	Text string
	// URL or provider-specific reference for image/audio parts.
	Ref string
}

// TextContentPart is a convenience constructor for a plain-text ContentPart.
func TextContentPart(text string) ContentPart { return ContentPart{Type: "text", Text: text} }

// ItemKind discriminates the ChatItem variant, matching the spec's tagged
// union {Message, FunctionCall, FunctionCallOutput}.
type ItemKind int

const (
	KindMessage ItemKind = iota
	KindFunctionCall
	KindFunctionCallOutput
)

// Item is one entry in a ChatContext. Exactly the fields relevant to its
// Kind are meaningful; this mirrors the spec's tagged-union ChatItem with an
// exhaustive Kind switch rather than three separate slice types, so ordering
// and chronology invariants are enforced in one place.
type Item struct {
	Kind      ItemKind
	ID        string
	CreatedAt time.Time

	// Message fields.
	Role        Role
	Content     []ContentPart
	Interrupted bool

	// FunctionCall fields.
	CallID   string
	Name     string
	ArgsJSON string

	// FunctionCallOutput fields.
	Output  string
	IsError bool
}

// NewMessage builds a Message item with a fresh ID and timestamp.
func NewMessage(role Role, content ...ContentPart) Item {
	return Item{
		Kind:      KindMessage,
		ID:        uuid.NewString(),
		CreatedAt: nextTimestamp(),
		Role:      role,
		Content:   content,
	}
}

// NewTextMessage is a convenience wrapper for a single-text-part Message.
func NewTextMessage(role Role, text string) Item {
	return NewMessage(role, TextContentPart(text))
}

// NewFunctionCall builds a FunctionCall item.
func NewFunctionCall(callID, name, argsJSON string) Item {
	return Item{
		Kind:      KindFunctionCall,
		ID:        uuid.NewString(),
		CreatedAt: nextTimestamp(),
		CallID:    callID,
		Name:      name,
		ArgsJSON:  argsJSON,
	}
}

// NewFunctionCallOutput builds a FunctionCallOutput item. callID must match
// the CallID of a preceding FunctionCall in the same context.
func NewFunctionCallOutput(callID, name, output string, isError bool) Item {
	return Item{
		Kind:      KindFunctionCallOutput,
		ID:        uuid.NewString(),
		CreatedAt: nextTimestamp(),
		CallID:    callID,
		Name:      name,
		Output:    output,
		IsError:   isError,
	}
}

// Text concatenates all text ContentParts of a Message item.
func (it Item) Text() string {
	var sb []byte
	for i, p := range it.Content {
		if p.Type != "text" {
			continue
		}
		if i > 0 && len(sb) > 0 {
			sb = append(sb, ' ')
		}
		sb = append(sb, p.Text...)
	}
	return string(sb)
}

// monotonic timestamp generation: createdAt must be strictly
// non-decreasing across items created within the same process, even when
// time.Now() would tie at millisecond resolution (§5 Ordering guarantees:
// ties break by insertion order — we avoid the tie entirely).
var (
	tsMu   sync.Mutex
	lastTS time.Time
)

func nextTimestamp() time.Time {
	tsMu.Lock()
	defer tsMu.Unlock()
	now := time.Now()
	if !now.After(lastTS) {
		now = lastTS.Add(time.Microsecond)
	}
	lastTS = now
	return now
}

// Context is an ordered, chronological sequence of Items. It is exclusively
// owned by the session that created it; copies handed to tool executions or
// speech handles are independent snapshots (Clone).
type Context struct {
	mu    sync.RWMutex
	items []Item
}

// New creates an empty ChatContext.
func New() *Context { return &Context{} }

// NewWithSystem creates a ChatContext seeded with a leading system message.
func NewWithSystem(instructions string) *Context {
	c := New()
	c.Insert(NewTextMessage(RoleSystem, instructions))
	return c
}

// Insert adds item, keeping the sequence ordered by CreatedAt (ties broken
// by insertion order, i.e. a stable insertion point at the end of any run of
// equal timestamps).
func (c *Context) Insert(item Item) {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx := sort.Search(len(c.items), func(i int) bool {
		return c.items[i].CreatedAt.After(item.CreatedAt)
	})
	c.items = append(c.items, Item{})
	copy(c.items[idx+1:], c.items[idx:])
	c.items[idx] = item
}

// Items returns a snapshot slice of all items, oldest first.
func (c *Context) Items() []Item {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Item, len(c.items))
	copy(out, c.items)
	return out
}

// Len returns the number of items.
func (c *Context) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Clone returns an independent copy of the context, safe to hand to a tool
// execution or a speech handle without risking mutation of the session's
// owned copy.
func (c *Context) Clone() *Context {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cp := make([]Item, len(c.items))
	copy(cp, c.items)
	return &Context{items: cp}
}

// CopyFilterOptions controls which items Copy excludes from a snapshot — used
// when building the payload sent to an LLM or turn-detector, or when an
// incoming agent inherits a filtered view of the outgoing agent's context
// during a handoff.
type CopyFilterOptions struct {
	ExcludeSystemMessages bool
	ExcludeFunctionCalls  bool
	ExcludeInstructions   bool // alias for ExcludeSystemMessages, kept for clarity at call sites
	MaxItems              int  // 0 = unlimited; otherwise keep only the most recent N items
}

// Copy returns a filtered, independent snapshot per opts. An empty context
// with all exclusion flags set still returns an empty (non-nil) sequence.
func (c *Context) Copy(opts CopyFilterOptions) *Context {
	c.mu.RLock()
	items := make([]Item, len(c.items))
	copy(items, c.items)
	c.mu.RUnlock()

	out := make([]Item, 0, len(items))
	for _, it := range items {
		if (opts.ExcludeSystemMessages || opts.ExcludeInstructions) &&
			it.Kind == KindMessage && (it.Role == RoleSystem || it.Role == RoleDeveloper) {
			continue
		}
		if opts.ExcludeFunctionCalls && (it.Kind == KindFunctionCall || it.Kind == KindFunctionCallOutput) {
			continue
		}
		out = append(out, it)
	}
	if opts.MaxItems > 0 && len(out) > opts.MaxItems {
		out = out[len(out)-opts.MaxItems:]
	}
	return &Context{items: out}
}

// Truncate keeps only the most recent n items, but never removes a leading
// system/developer message — per the spec's invariant that truncation must
// preserve instructions.
func (c *Context) Truncate(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.items) <= n {
		return
	}

	var leadingSystem []Item
	for len(leadingSystem) < len(c.items) &&
		c.items[len(leadingSystem)].Kind == KindMessage &&
		(c.items[len(leadingSystem)].Role == RoleSystem || c.items[len(leadingSystem)].Role == RoleDeveloper) {
		leadingSystem = append(leadingSystem, c.items[len(leadingSystem)])
	}

	keep := n - len(leadingSystem)
	if keep < 0 {
		keep = 0
	}
	rest := c.items[len(leadingSystem):]
	if len(rest) > keep {
		rest = rest[len(rest)-keep:]
	}

	merged := make([]Item, 0, len(leadingSystem)+len(rest))
	merged = append(merged, leadingSystem...)
	merged = append(merged, rest...)
	c.items = merged
}

// Validate checks the invariants §3/§8 require: unique IDs, and every
// FunctionCallOutput matching exactly one preceding FunctionCall by CallID.
func (c *Context) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	seenID := make(map[string]bool, len(c.items))
	pendingCalls := make(map[string]bool)
	for _, it := range c.items {
		if seenID[it.ID] {
			return fmt.Errorf("chatctx: duplicate item id %q", it.ID)
		}
		seenID[it.ID] = true

		switch it.Kind {
		case KindFunctionCall:
			pendingCalls[it.CallID] = true
		case KindFunctionCallOutput:
			if !pendingCalls[it.CallID] {
				return fmt.Errorf("chatctx: function_call_output callId %q has no preceding function_call", it.CallID)
			}
			delete(pendingCalls, it.CallID)
		}
	}
	return nil
}
