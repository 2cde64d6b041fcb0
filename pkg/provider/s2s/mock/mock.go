// Package mock provides test doubles for the s2s package interfaces.
//
// Use Provider to verify Connect calls and hand out controlled sessions.
// Use Session to script the agent's event stream and inspect the audio the
// pipeline sent.
//
// Example:
//
//	sess := mock.NewSession()
//	p := &mock.Provider{Session: sess}
//	handle, _ := p.Connect(ctx, cfg)
//	sess.Emit(s2s.Event{Kind: s2s.EventInputTranscript, Text: "Hello"})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/vocaledge/pkg/provider/s2s"
)

// eventBuffer is generous so Emit never blocks in tests that drain promptly.
const eventBuffer = 256

// ConnectCall records a single invocation of Provider.Connect.
type ConnectCall struct {
	// Ctx is the context passed to Connect.
	Ctx context.Context
	// Cfg is the SessionConfig passed to Connect.
	Cfg s2s.SessionConfig
}

// Provider is a mock implementation of s2s.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is the SessionHandle returned by Connect. If nil, Connect returns
	// a fresh Session from NewSession.
	Session s2s.SessionHandle

	// ConnectErr, if non-nil, is returned as the error from Connect.
	ConnectErr error

	// ConnectCalls records every call to Connect in order.
	ConnectCalls []ConnectCall
}

// Connect records the call and returns Session, ConnectErr.
func (p *Provider) Connect(ctx context.Context, cfg s2s.SessionConfig) (s2s.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{Ctx: ctx, Cfg: cfg})
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	if p.Session != nil {
		return p.Session, nil
	}
	return NewSession(), nil
}

// Calls returns a copy of the recorded Connect calls. Thread-safe.
func (p *Provider) Calls() []ConnectCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ConnectCall(nil), p.ConnectCalls...)
}

// Ensure Provider implements s2s.Provider at compile time.
var _ s2s.Provider = (*Provider)(nil)

// Session is a mock implementation of s2s.SessionHandle.
type Session struct {
	mu     sync.Mutex
	events chan s2s.Event
	closed bool
	err    error

	// SendAudioErr, if non-nil, is returned by every SendAudio call.
	SendAudioErr error

	// OnSendAudio, if set, is called with every chunk passed to SendAudio
	// before it is recorded. It runs without the session lock held.
	OnSendAudio func([]byte)

	sent       [][]byte
	closeCalls int
}

// NewSession returns an open Session with a buffered event channel.
func NewSession() *Session {
	return &Session{events: make(chan s2s.Event, eventBuffer)}
}

// Emit delivers ev on the Events channel. It reports false if the session was
// already closed.
func (s *Session) Emit(ev s2s.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.events <- ev
	return true
}

// Fail ends the session as if the connection had dropped: Err returns err and
// the Events channel is closed.
func (s *Session) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.err = err
	s.closed = true
	close(s.events)
}

// SendAudio records a copy of chunk and returns SendAudioErr.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	hook := s.OnSendAudio
	s.mu.Unlock()
	if hook != nil {
		hook(chunk)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, append([]byte(nil), chunk...))
	return s.SendAudioErr
}

// Events returns the event channel.
func (s *Session) Events() <-chan s2s.Event { return s.events }

// Err returns the error passed to Fail, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close closes the Events channel on first call and counts every call.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeCalls++
	if !s.closed {
		s.closed = true
		close(s.events)
	}
	return nil
}

// Sent returns copies of every chunk passed to SendAudio, in order.
func (s *Session) Sent() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.sent...)
}

// CloseCalls returns how many times Close was called.
func (s *Session) CloseCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCalls
}

// Closed reports whether the session has ended.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Ensure Session implements s2s.SessionHandle at compile time.
var _ s2s.SessionHandle = (*Session)(nil)
