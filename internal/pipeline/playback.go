package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/vocaledge/internal/clock"
	"github.com/MrWong99/vocaledge/pkg/audio"
)

// scheduler plays agent audio buffers strictly one after another. Buffers are
// time-stretched by the pace multiplier when they are scheduled, so a buffer
// of duration d advances the cursor by d/multiplier.
type scheduler struct {
	clock clock.Clock

	mu      sync.Mutex
	queue   [][]byte
	cursor  time.Time // when the last scheduled buffer finishes playing
	playing context.CancelFunc

	wake chan struct{}
}

func newScheduler(clk clock.Clock) *scheduler {
	return &scheduler{clock: clk, wake: make(chan struct{}, 1)}
}

// enqueue schedules pcm (24 kHz mono) after everything already scheduled.
func (s *scheduler) enqueue(pcm []byte, multiplier float64) {
	if len(pcm) == 0 {
		return
	}
	buf := audio.Stretch(pcm, multiplier)

	s.mu.Lock()
	now := s.clock.Now()
	if s.cursor.Before(now) {
		s.cursor = now
	}
	s.cursor = s.cursor.Add(audio.PCMDuration(len(buf), audio.OutputSampleRate, 1))
	s.queue = append(s.queue, buf)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// flush discards every scheduled buffer, stops the one currently playing and
// resets the cursor.
func (s *scheduler) flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = nil
	s.cursor = time.Time{}
	if s.playing != nil {
		s.playing()
		s.playing = nil
	}
}

// pending returns the number of buffers waiting to play.
func (s *scheduler) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// nextStart returns the time at which the next enqueued buffer would start.
// The zero time means nothing is scheduled.
func (s *scheduler) nextStart() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// next pops the head of the queue and registers a cancel func for it.
func (s *scheduler) next(ctx context.Context) ([]byte, context.Context, context.CancelFunc, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return nil, nil, nil, false
	}
	buf := s.queue[0]
	s.queue[0] = nil
	s.queue = s.queue[1:]
	playCtx, cancel := context.WithCancel(ctx)
	s.playing = cancel
	return buf, playCtx, cancel, true
}

// run plays queued buffers on pb until ctx is done.
func (s *scheduler) run(ctx context.Context, pb audio.Playback) error {
	for {
		buf, playCtx, cancel, ok := s.next(ctx)
		if !ok {
			select {
			case <-ctx.Done():
				return nil
			case <-s.wake:
				continue
			}
		}

		err := pb.Play(playCtx, buf)
		s.mu.Lock()
		s.playing = nil
		s.mu.Unlock()
		cancel()

		switch {
		case ctx.Err() != nil:
			return nil
		case err == nil, errors.Is(err, context.Canceled):
		default:
			slog.Warn("pipeline: playback failed", "err", err)
		}
	}
}
