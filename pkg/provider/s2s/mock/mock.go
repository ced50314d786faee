// Package mock provides test doubles for the s2s package interfaces.
//
// Use Provider to verify Connect calls and feed controlled S2S sessions.
// Use Session to drive the server message stream and inspect which audio was
// sent by the code under test.
//
// Example:
//
//	sess := mock.NewSession()
//	p := &mock.Provider{Session: sess}
//	handle, _ := p.Connect(ctx, cfg)
//	sess.Emit(s2s.ServerMessage{Open: true})
//	sess.Fail(errors.New("network down")) // or sess.End() for a clean close
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/concierge/pkg/audio"
	"github.com/MrWong99/concierge/pkg/provider/s2s"
)

// Compile-time interface assertions.
var (
	_ s2s.Provider      = (*Provider)(nil)
	_ s2s.SessionHandle = (*Session)(nil)
)

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

	// Session is the handle returned by Connect. If nil, Connect returns a new
	// [Session] for every call; the latest one is available via Last.
	Session *Session

	// ConnectErr, if non-nil, is returned as the error from Connect.
	ConnectErr error

	// BlockConnect makes Connect wait until its context is cancelled and then
	// return the context's error, like a dial that never completes.
	BlockConnect bool

	// ProviderCapabilities is returned by Capabilities.
	ProviderCapabilities s2s.Capabilities

	// ConnectCalls records every call to Connect in order.
	ConnectCalls []ConnectCall

	// CapabilitiesCallCount is the number of times Capabilities was called.
	CapabilitiesCallCount int

	last    *Session
	blocked int
}

// Connect records the call and returns Session, ConnectErr.
func (p *Provider) Connect(ctx context.Context, cfg s2s.SessionConfig) (s2s.SessionHandle, error) {
	p.mu.Lock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{Ctx: ctx, Cfg: cfg})
	if p.BlockConnect {
		p.blocked++
		p.mu.Unlock()
		<-ctx.Done()
		p.mu.Lock()
		p.blocked--
		p.mu.Unlock()
		return nil, ctx.Err()
	}
	defer p.mu.Unlock()
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	s := p.Session
	if s == nil {
		s = NewSession()
	}
	p.last = s
	return s, nil
}

// Capabilities records the call and returns ProviderCapabilities.
func (p *Provider) Capabilities() s2s.Capabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CapabilitiesCallCount++
	return p.ProviderCapabilities
}

// Last returns the session handed out by the most recent successful Connect.
func (p *Provider) Last() *Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

// Blocked returns the number of Connect calls currently waiting because of
// BlockConnect.
func (p *Provider) Blocked() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.blocked
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectCalls = nil
	p.CapabilitiesCallCount = 0
}

// ── Session ────────────────────────────────────────────────────────────────────

// Session is a mock implementation of s2s.SessionHandle.
//
// The message stream is controlled by the test through Emit, End and Fail.
// Once the stream has ended, further Emit calls are ignored.
type Session struct {
	mu       sync.Mutex
	messages chan s2s.ServerMessage
	ended    bool
	err      error

	// SendAudioErr, if non-nil, is returned from SendAudio.
	SendAudioErr error

	// CloseErr, if non-nil, is returned from Close.
	CloseErr error

	// Sent records every blob passed to SendAudio, in order.
	Sent []audio.Blob

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// NewSession returns a Session with a buffered message channel.
func NewSession() *Session {
	return &Session{messages: make(chan s2s.ServerMessage, 64)}
}

// SendAudio records b and returns SendAudioErr. After Close it returns
// [s2s.ErrSessionClosed].
func (s *Session) SendAudio(b audio.Blob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.CloseCallCount > 0 {
		return s2s.ErrSessionClosed
	}
	s.Sent = append(s.Sent, b)
	return s.SendAudioErr
}

// Messages returns the message channel.
func (s *Session) Messages() <-chan s2s.ServerMessage { return s.messages }

// Err returns the error passed to Fail, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close records the call and ends the stream cleanly if it is still open.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	s.endLocked(nil)
	return s.CloseErr
}

// Emit delivers msg on the message channel. It reports false if the stream
// has already ended.
func (s *Session) Emit(msg s2s.ServerMessage) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return false
	}
	s.messages <- msg
	return true
}

// End closes the message stream cleanly, as if the remote peer hung up.
func (s *Session) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endLocked(nil)
}

// Fail records err and closes the message stream.
func (s *Session) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endLocked(err)
}

func (s *Session) endLocked(err error) {
	if s.ended {
		return
	}
	s.ended = true
	s.err = err
	close(s.messages)
}

// SentBlobs returns a copy of the blobs recorded by SendAudio.
func (s *Session) SentBlobs() []audio.Blob {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]audio.Blob, len(s.Sent))
	copy(out, s.Sent)
	return out
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CloseCallCount > 0
}
