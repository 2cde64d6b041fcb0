package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/MrWong99/vocaledge/pkg/audio"
	"github.com/MrWong99/vocaledge/pkg/provider/s2s"
)

// captureLoop consumes microphone frames until the capture closes or ctx is
// done.
func (p *Pipeline) captureLoop(ctx context.Context, r *run) error {
	frames := r.capture.Frames()
	for {
		select {
		case <-ctx.Done():
			return nil
		case f, ok := <-frames:
			if !ok {
				return nil
			}
			p.handleFrame(ctx, r, f)
		}
	}
}

func (p *Pipeline) handleFrame(ctx context.Context, r *run, f audio.AudioFrame) {
	pcm := f.Data
	if f.SampleRate != 0 && f.SampleRate != audio.InputSampleRate {
		pcm = audio.ResampleMono16(pcm, f.SampleRate, audio.InputSampleRate)
	}
	if len(pcm) < 2 {
		return
	}
	samples := audio.BytesToSamples(pcm)

	now := p.clock.Now()
	for _, s := range samples {
		if math.Abs(audio.SampleToFloat(s)) > peakThreshold && now.Sub(r.lastPeak) > peakDebounce {
			p.peaks.Add(1)
			r.lastPeak = now
		}
	}

	p.mu.Lock()
	p.user.pcm = append(p.user.pcm, pcm...)
	p.window = append(p.window, samples...)
	if n := len(p.window); n > fftSize {
		p.window = append(p.window[:0], p.window[n-fftSize:]...)
	}
	p.mu.Unlock()

	select {
	case r.outbound <- pcm:
	default:
		p.metrics.FramesDropped.Add(ctx, 1)
		slog.Debug("pipeline: outbound channel full, dropping frame", "bytes", len(pcm))
	}
}

// sendLoop forwards captured audio to the agent. Send failures are logged and
// never stop capture.
func (p *Pipeline) sendLoop(ctx context.Context, r *run) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case chunk := <-r.outbound:
			if err := r.handle.SendAudio(chunk); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				slog.Warn("pipeline: failed to send audio", "err", err)
				continue
			}
			p.metrics.FramesSent.Add(ctx, 1)
		}
	}
}

// receiveLoop applies agent events in order. It returns errRemoteClosed when
// the agent ends the session on its own.
func (p *Pipeline) receiveLoop(ctx context.Context, r *run) error {
	events := r.handle.Events()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errRemoteClosed
			}
			p.handleEvent(ctx, r, ev)
		}
	}
}

func (p *Pipeline) handleEvent(ctx context.Context, r *run, ev s2s.Event) {
	switch ev.Kind {
	case s2s.EventAudio:
		p.mu.Lock()
		p.agent.pcm = append(p.agent.pcm, ev.Audio...)
		p.resumeLocked()
		p.mu.Unlock()
		r.sched.enqueue(ev.Audio, p.pace.Multiplier())

	case s2s.EventInputTranscript:
		p.transcript(r, &p.user, "User", ev.Text)

	case s2s.EventOutputTranscript:
		p.transcript(r, &p.agent, "AI", ev.Text)

	case s2s.EventInterrupted:
		r.sched.flush()
		p.mu.Lock()
		if p.state == StateActive {
			p.state = StateInterrupted
		}
		p.mu.Unlock()
		p.metrics.Interruptions.Add(ctx, 1)
		if r.cb.OnInterrupted != nil {
			r.cb.OnInterrupted()
		}

	case s2s.EventTurnComplete:
		p.mu.Lock()
		if p.user.text.Len() > 0 {
			p.appendTurnLocked(p.user.finalize("u-" + p.newID()))
		}
		if p.agent.text.Len() > 0 {
			p.appendTurnLocked(p.agent.finalize("m-" + p.newID()))
		}
		p.resumeLocked()
		p.mu.Unlock()

	default:
		slog.Debug("pipeline: ignoring unknown agent event", "kind", ev.Kind)
	}
}

func (p *Pipeline) transcript(r *run, buf *turnBuffer, speaker, text string) {
	if text == "" {
		return
	}
	p.mu.Lock()
	buf.text.WriteString(text)
	p.history = append(p.history, fmt.Sprintf("%s: %s", speaker, text))
	p.mu.Unlock()
	if r.cb.OnTranscriptionUpdate != nil {
		r.cb.OnTranscriptionUpdate(buf.role, text)
	}
}

// resumeLocked leaves the interrupted state once the agent produces new
// output or closes the turn.
func (p *Pipeline) resumeLocked() {
	if p.state == StateInterrupted {
		p.state = StateActive
	}
}
