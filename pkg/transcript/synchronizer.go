// Package transcript paces LLM-generated text against the audio timeline so
// on-screen captions do not race ahead of synthesized speech.
package transcript

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/chriscow/voiceagent/pkg/rtc"
	"github.com/chriscow/voiceagent/pkg/stream"
)

// standardHyphensPerSecond is the baseline speech rate used to convert a
// user-configured speed multiplier into hyphens (syllables) per second.
const standardHyphensPerSecond = 3.83

// SegmentSynchronizer paces a single (text, audio) segment. TextOut
// receives sentence-sized chunks of text at the pace audio is expected to
// play them; callers forward each receive to the room's transcription
// channel.
type SegmentSynchronizer struct {
	out chan string

	mu              sync.Mutex
	pending         string // unconsumed pushed text, sentence-tokenized below
	forwardedText   strings.Builder
	forwardedHyph   float64
	pushedDuration  time.Duration
	startOnce       sync.Once
	startWallTime   time.Time
	started         chan struct{}
	playbackDone    bool
	interrupted     bool
	userSpeed       float64

	cancel context.CancelFunc
	task   *stream.Task
}

// NewSegmentSynchronizer creates a SegmentSynchronizer paced at userSpeed
// hyphens/sec multiplier (1.0 is the standard rate). A userSpeed of zero is
// treated as 1.0.
func NewSegmentSynchronizer(ctx context.Context, userSpeed float64) *SegmentSynchronizer {
	if userSpeed <= 0 {
		userSpeed = 1.0
	}
	ctx, cancel := context.WithCancel(ctx)
	s := &SegmentSynchronizer{
		out:       make(chan string, 16),
		started:   make(chan struct{}),
		userSpeed: userSpeed,
		cancel:    cancel,
	}
	s.task = stream.NewTask(ctx, s.run)
	_ = s.task.Run()
	return s
}

// TextOut returns the channel paced text chunks are delivered on. Closed
// once the segment finishes (playback completion or interruption).
func (s *SegmentSynchronizer) TextOut() <-chan string { return s.out }

// PushText appends more LLM-generated text, tokenized into sentences so a
// sentence boundary is never split mid-word by pacing.
func (s *SegmentSynchronizer) PushText(text string) {
	s.mu.Lock()
	s.pending += text
	s.mu.Unlock()
}

// PushAudio records that another frame of synthesized audio has been
// produced, advancing the pacing clock. The first call resolves the
// segment's start time.
func (s *SegmentSynchronizer) PushAudio(frame rtc.AudioFrame) {
	s.startOnce.Do(func() {
		s.mu.Lock()
		s.startWallTime = time.Now()
		s.mu.Unlock()
		close(s.started)
	})
	s.mu.Lock()
	s.pushedDuration += frame.Duration()
	s.mu.Unlock()
}

// MarkPlaybackFinished ends pacing. If interrupted is false, any remaining
// pending text is flushed immediately with no further delay.
func (s *SegmentSynchronizer) MarkPlaybackFinished(interrupted bool) {
	s.mu.Lock()
	s.playbackDone = true
	s.interrupted = interrupted
	s.mu.Unlock()
	s.cancel()
}

// SynchronizedTranscript returns the text actually forwarded to the output
// channel: the full pushed text on clean completion, or only the text
// forwarded before an interruption.
func (s *SegmentSynchronizer) SynchronizedTranscript() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.forwardedText.String()
}

// Close aborts pacing immediately.
func (s *SegmentSynchronizer) Close() {
	s.cancel()
	s.task.CancelAndWait()
}

func (s *SegmentSynchronizer) run(ctx context.Context) error {
	defer close(s.out)

	select {
	case <-s.started:
	case <-ctx.Done():
		return nil
	}

	for {
		sentence, ok := nextSentence(s.peekPending())
		if !ok {
			s.mu.Lock()
			done := s.playbackDone
			s.mu.Unlock()
			if done {
				s.flushRemaining()
				return nil
			}
			select {
			case <-ctx.Done():
				s.flushRemainingIfClean()
				return nil
			case <-time.After(15 * time.Millisecond):
				continue
			}
		}

		s.consumePending(len(sentence))
		if err := s.paceSentence(ctx, sentence); err != nil {
			return err
		}
	}
}

func (s *SegmentSynchronizer) peekPending() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

func (s *SegmentSynchronizer) consumePending(n int) {
	s.mu.Lock()
	s.pending = s.pending[n:]
	s.mu.Unlock()
}

func (s *SegmentSynchronizer) flushRemaining() {
	s.mu.Lock()
	text := s.pending
	s.pending = ""
	interrupted := s.interrupted
	s.mu.Unlock()
	if text == "" {
		return
	}
	if !interrupted {
		s.emit(text)
	}
}

func (s *SegmentSynchronizer) flushRemainingIfClean() {
	s.mu.Lock()
	interrupted := s.interrupted
	s.mu.Unlock()
	if !interrupted {
		s.flushRemaining()
	}
}

func (s *SegmentSynchronizer) emit(text string) {
	s.mu.Lock()
	s.forwardedText.WriteString(text)
	s.mu.Unlock()
	select {
	case s.out <- text:
	default:
		// Consumer fell behind; block briefly rather than drop captions.
		s.out <- text
	}
}

// paceSentence implements the hyphen-count pacing algorithm: each word is
// delayed proportionally to how far the forwarded-hyphen count trails the
// elapsed-time target, then emitted.
func (s *SegmentSynchronizer) paceSentence(ctx context.Context, sentence string) error {
	words := splitKeepingTrailingSpace(sentence)
	speed := s.userSpeed * standardHyphensPerSecond

	cursor := 0
	for _, w := range words {
		h := float64(hyphenCount(w))

		s.mu.Lock()
		elapsed := time.Since(s.startWallTime).Seconds()
		target := elapsed * s.userSpeed
		behind := target - s.forwardedHyph
		if behind < 0 {
			behind = 0
		}
		remaining := h - behind
		if remaining < 0 {
			remaining = 0
		}
		delay := time.Duration(remaining / speed * float64(time.Second))
		s.mu.Unlock()

		half := delay / 2
		if err := sleepCtx(ctx, half); err != nil {
			s.forwardRemainder(sentence, cursor)
			return nil
		}

		cursor += len(w)
		s.emit(w)
		s.mu.Lock()
		s.forwardedHyph += h
		s.mu.Unlock()

		if err := sleepCtx(ctx, delay-half); err != nil {
			s.forwardRemainder(sentence, cursor)
			return nil
		}
	}
	return nil
}

// forwardRemainder flushes the unemitted tail of sentence starting at
// cursor when playback finished cleanly; an interruption discards it so
// SynchronizedTranscript reports only what was actually forwarded.
func (s *SegmentSynchronizer) forwardRemainder(sentence string, cursor int) {
	s.mu.Lock()
	interrupted := s.interrupted
	s.mu.Unlock()
	if interrupted || cursor >= len(sentence) {
		return
	}
	s.emit(sentence[cursor:])
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// nextSentence splits off the first complete sentence (ending in ., !, ?,
// or a newline) from text. ok is false if text holds no sentence-ending
// punctuation yet (more text may still be coming).
func nextSentence(text string) (sentence string, ok bool) {
	for i, r := range text {
		switch r {
		case '.', '!', '?', '\n':
			return text[:i+1], true
		}
	}
	return "", false
}

// splitKeepingTrailingSpace splits s into words, each after the first
// starting with the whitespace run that precedes it, so re-joining the
// slice reproduces s exactly.
func splitKeepingTrailingSpace(s string) []string {
	var words []string
	start := 0
	inSpace := false
	for i, r := range s {
		isSpace := r == ' ' || r == '\t' || r == '\n'
		if isSpace && !inSpace && i > start {
			words = append(words, s[start:i])
			start = i
		}
		inSpace = isSpace
	}
	if start < len(s) {
		words = append(words, s[start:])
	}
	return words
}

// hyphenCount estimates syllable count via vowel-group counting, the
// standard cheap heuristic for English text with no dictionary lookup.
func hyphenCount(word string) int {
	word = strings.ToLower(strings.TrimSpace(word))
	if word == "" {
		return 0
	}
	count := 0
	prevVowel := false
	for _, r := range word {
		isVowel := strings.ContainsRune("aeiouy", r)
		if isVowel && !prevVowel {
			count++
		}
		prevVowel = isVowel
	}
	if strings.HasSuffix(word, "e") && count > 1 {
		count--
	}
	if count == 0 {
		count = 1
	}
	return count
}
