package main

import (
	"context"
	"sync"
	"time"

	xlog "github.com/dtcooper/tomato/internal/log"
	"github.com/dtcooper/tomato/internal/playout"
)

// simulatedPlayDuration stands in for real decode-and-play time: this
// binary has no audio device backend (§9 "audio decoding/device output ...
// out of scope"), so the console sink just logs transitions and fires
// OnEnded after a fixed delay to keep the state machine moving.
const simulatedPlayDuration = 3 * time.Second

type consoleHandle struct {
	id int64
}

// consoleSink is a stub playout.AudioSink: it logs what it would do and
// simulates playback completion with a timer instead of decoding audio.
type consoleSink struct {
	mu     sync.Mutex
	next   int64
	timers map[int64]*time.Timer
}

func newConsoleSink() *consoleSink {
	return &consoleSink{timers: make(map[int64]*time.Timer)}
}

func (s *consoleSink) Load(ctx context.Context, path string, fadeMS int) (playout.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	xlog.WithComponent("sink").Debug().Str("event", "sink.load").Str("path", path).Int("fade_ms", fadeMS).Msg("loaded asset")
	return consoleHandle{id: s.next}, nil
}

func (s *consoleSink) Play(h playout.Handle) error {
	xlog.WithComponent("sink").Debug().Str("event", "sink.play").Msg("playing")
	return nil
}

func (s *consoleSink) Pause(h playout.Handle) error {
	ch := h.(consoleHandle)
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[ch.id]; ok {
		t.Stop()
	}
	return nil
}

func (s *consoleSink) Resume(h playout.Handle) error {
	return nil
}

func (s *consoleSink) Stop(h playout.Handle) (time.Duration, error) {
	ch := h.(consoleHandle)
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[ch.id]; ok {
		t.Stop()
		delete(s.timers, ch.id)
	}
	return 0, nil
}

func (s *consoleSink) OnEnded(h playout.Handle, callback func()) {
	ch := h.(consoleHandle)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timers[ch.id] = time.AfterFunc(simulatedPlayDuration, callback)
}
