// Package wsconn runs the WebSocket side of a realtime agent session.
//
// A [Stream] owns one connection: it writes JSON frames, reads server frames
// on a single goroutine, hands each frame to a protocol-specific [Decoder]
// and delivers the resulting agent events in order on a channel. Providers
// embed a Stream and add their own SendAudio.
package wsconn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/vocaledge/pkg/provider/s2s"
)

// ErrClosed is returned by [Stream.Send] after [Stream.Close].
var ErrClosed = errors.New("wsconn: stream closed")

// Decoder converts one server frame into agent events. A non-nil error ends
// the stream and becomes its [Stream.Err]. Frames that should be skipped
// return no events and no error. Decoders are only ever called from the read
// goroutine, so they may keep protocol state without locking.
type Decoder func(frame []byte) ([]s2s.Event, error)

// Options configures [Dial].
type Options struct {
	// Name prefixes errors, e.g. "gemini".
	Name string

	URL    string
	Header http.Header

	// Hello is written right after the handshake, before any read.
	Hello any

	Decode Decoder

	// KeepAlive is the ping interval. Zero disables pings.
	KeepAlive time.Duration

	// Buffer is the capacity of the events channel. Default: 64.
	Buffer int

	// ReadLimit caps a single server frame. Default: 16 MiB.
	ReadLimit int64
}

// Stream is one open agent connection.
type Stream struct {
	name   string
	conn   *websocket.Conn
	decode Decoder
	events chan s2s.Event

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	err    error
	closed bool
}

// Dial connects, writes opts.Hello and starts reading. The stream outlives
// ctx, which only bounds the handshake.
func Dial(ctx context.Context, opts Options) (*Stream, error) {
	if opts.Decode == nil {
		return nil, fmt.Errorf("%s: no decoder", opts.Name)
	}
	conn, _, err := websocket.Dial(ctx, opts.URL, &websocket.DialOptions{HTTPHeader: opts.Header})
	if err != nil {
		return nil, fmt.Errorf("%s: dial: %w", opts.Name, err)
	}
	limit := opts.ReadLimit
	if limit <= 0 {
		limit = 16 << 20
	}
	conn.SetReadLimit(limit)

	buf := opts.Buffer
	if buf <= 0 {
		buf = 64
	}
	sctx, cancel := context.WithCancel(context.Background())
	s := &Stream{
		name:   opts.Name,
		conn:   conn,
		decode: opts.Decode,
		events: make(chan s2s.Event, buf),
		ctx:    sctx,
		cancel: cancel,
	}

	if opts.Hello != nil {
		if err := s.Send(opts.Hello); err != nil {
			cancel()
			conn.Close(websocket.StatusInternalError, "handshake failed")
			return nil, fmt.Errorf("%s: handshake: %w", opts.Name, err)
		}
	}

	go s.readLoop()
	if opts.KeepAlive > 0 {
		go s.pingLoop(opts.KeepAlive)
	}
	return s, nil
}

// Send marshals v and writes it as one text frame.
func (s *Stream) Send(v any) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%s: marshal: %w", s.name, err)
	}
	if err := s.conn.Write(s.ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("%s: write: %w", s.name, err)
	}
	return nil
}

// Events returns the ordered agent events. It is closed when the stream ends.
func (s *Stream) Events() <-chan s2s.Event { return s.events }

// Err reports why the stream ended on its own. It is nil while the stream is
// open, after a local Close and after the remote side closes normally.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close ends the stream. It is safe to call more than once.
func (s *Stream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.conn.Close(websocket.StatusNormalClosure, "session closed")
	return nil
}

func (s *Stream) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil && !s.closed {
		s.err = err
	}
}

func (s *Stream) readLoop() {
	defer close(s.events)
	for {
		_, frame, err := s.conn.Read(s.ctx)
		if err != nil {
			// A normal closure is the agent ending the conversation.
			if s.ctx.Err() == nil && websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				s.fail(fmt.Errorf("%s: read: %w", s.name, err))
			}
			return
		}
		evs, err := s.decode(frame)
		for _, ev := range evs {
			select {
			case s.events <- ev:
			case <-s.ctx.Done():
				return
			}
		}
		if err != nil {
			s.fail(err)
			return
		}
	}
}

func (s *Stream) pingLoop(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-t.C:
			ctx, cancel := context.WithTimeout(s.ctx, every/2)
			_ = s.conn.Ping(ctx)
			cancel()
		}
	}
}
