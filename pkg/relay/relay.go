// Package relay implements the realtime audio relay behind the voice
// concierge.
//
// A [Relay] captures microphone audio in fixed-size blocks, encodes each block
// as 16 kHz PCM16 and forwards it to a streaming speech session. Audio chunks
// returned by the session are decoded and scheduled back to back on the
// output clock so that playback is gapless. When the remote peer reports an
// interruption, every queued buffer is stopped and the schedule restarts from
// the current clock.
//
// All state changes go through [Relay.Handle], which processes one [Event] at
// a time under the relay's lock. Background goroutines that read the
// microphone, the session, and playback completions only post events. Each
// connection carries a generation number; events posted on behalf of an
// earlier connection are discarded.
//
// Nothing that can block runs under the lock. Devices and the session are
// opened and closed outside it, and encoded microphone frames go to a sender
// goroutine through a bounded queue that drops frames when the session falls
// behind.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/MrWong99/concierge/pkg/audio"
	"github.com/MrWong99/concierge/pkg/provider/s2s"
)

const (
	// DefaultBlockSize is the number of microphone samples per captured frame.
	DefaultBlockSize = 4096

	// DefaultVoice is the prebuilt voice used when none is configured.
	DefaultVoice = "Kore"

	// sendQueue is the number of encoded frames waiting for the session
	// before new frames are dropped.
	sendQueue = 8
)

// Config holds the per-relay session settings.
type Config struct {
	// APIKey is the credential of the speech service. Connect fails with
	// [ErrConfig] when it is empty.
	APIKey string

	// Voice is the prebuilt voice name. Defaults to [DefaultVoice].
	Voice string

	// Instructions is the persona prompt sent when the session opens.
	Instructions string

	// BlockSize is the microphone frame size in samples. Defaults to
	// [DefaultBlockSize].
	BlockSize int

	// Transcription asks the session for text transcripts of both sides.
	Transcription bool
}

// ── Options ───────────────────────────────────────────────────────────────────

// Option configures a [Relay] during construction.
type Option func(*Relay)

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(r *Relay) { r.logger = l }
}

// WithMeterProvider sets the OpenTelemetry meter provider used for the relay's
// instruments. Defaults to the global provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(r *Relay) { r.meterProvider = mp }
}

// WithStateListener registers fn to receive every state transition in order.
// Listeners are called one at a time, outside the relay lock, on whichever
// goroutine caused the transition or on one that is already delivering
// notifications. They may call any method except Disconnect, which waits for
// the relay's goroutines.
func WithStateListener(fn func(State)) Option {
	return func(r *Relay) { r.onState = append(r.onState, fn) }
}

// WithSpeakingListener registers fn to receive every change of the speaking
// flag. The same restrictions as for [WithStateListener] apply.
func WithSpeakingListener(fn func(bool)) Option {
	return func(r *Relay) { r.onSpeaking = append(r.onSpeaking, fn) }
}

// WithTranscriptListener registers fn to receive transcript text. user is
// true for recognised user speech and false for the assistant's output. The
// same restrictions as for [WithStateListener] apply.
func WithTranscriptListener(fn func(user bool, text string)) Option {
	return func(r *Relay) { r.onTranscript = append(r.onTranscript, fn) }
}

// ── Relay ─────────────────────────────────────────────────────────────────────

// Relay connects a microphone and a speaker to a streaming speech session.
//
// All exported methods are safe for concurrent use.
type Relay struct {
	provider s2s.Provider
	mic      audio.Microphone
	speaker  audio.Speaker
	cfg      Config

	logger        *slog.Logger
	meterProvider metric.MeterProvider
	inst          *instruments
	onState       []func(State)
	onSpeaking    []func(bool)
	onTranscript  []func(bool, string)

	mu         sync.Mutex
	state      State
	speaking   bool
	lastErr    error
	gen        uint64
	conn       *connection
	dialCancel context.CancelFunc // aborts the dial of a pending Connect
	schedule   PlaybackSchedule
	voices     map[audio.Voice]struct{}
	notes      []func()      // listener calls queued under mu, run by unlock
	releasing  []*connection // torn down under mu, closed by unlock
	draining   bool          // some goroutine is running notes
}

// connection holds the resources of one Connect call.
type connection struct {
	gen     uint64
	in      audio.InputStream
	out     audio.OutputContext
	session s2s.SessionHandle
	sendq   chan audio.Blob
	cancel  context.CancelFunc
	pumps   sync.WaitGroup
}

// New creates an idle [Relay]. No device is opened until [Relay.Connect].
func New(provider s2s.Provider, mic audio.Microphone, speaker audio.Speaker, cfg Config, opts ...Option) *Relay {
	if cfg.Voice == "" {
		cfg.Voice = DefaultVoice
	}
	if cfg.BlockSize <= 0 {
		cfg.BlockSize = DefaultBlockSize
	}
	r := &Relay{
		provider:      provider,
		mic:           mic,
		speaker:       speaker,
		cfg:           cfg,
		logger:        slog.Default(),
		meterProvider: otel.GetMeterProvider(),
		voices:        make(map[audio.Voice]struct{}),
	}
	for _, o := range opts {
		o(r)
	}
	inst, err := newInstruments(r.meterProvider)
	if err != nil {
		r.logger.Warn("relay: metrics disabled", "error", err)
		inst, _ = newInstruments(noop.NewMeterProvider())
	}
	r.inst = inst
	return r
}

// ── Observers ─────────────────────────────────────────────────────────────────

// State returns the current lifecycle state.
func (r *Relay) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Speaking reports whether any output buffer is scheduled or playing.
func (r *Relay) Speaking() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.speaking
}

// LastError returns the error that moved the relay into [StateError], or nil.
// It is cleared by the next Connect.
func (r *Relay) LastError() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr
}

// Cursor returns the playback schedule cursor: the output-clock time at which
// the next buffer would start at the earliest.
func (r *Relay) Cursor() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.schedule.Next()
}

// ActiveVoices returns the number of output buffers scheduled or playing.
func (r *Relay) ActiveVoices() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.voices)
}

// ── Lifecycle ─────────────────────────────────────────────────────────────────

// Connect opens the microphone and speaker, dials the speech session and
// starts forwarding audio. The relay is connected once the session reports
// that it is open.
//
// The relay is in [StateConnecting] while Connect dials; ctx bounds the dial
// only. Connect fails with [ErrConfig] if no API key is configured,
// [ErrPermission] if an audio device cannot be opened, [ErrConnection] if the
// session cannot be dialled, and [ErrAlreadyConnected] if the relay is
// connecting or connected. Every failure leaves the relay in [StateError] with
// all resources released, except ErrAlreadyConnected which changes nothing.
// If Disconnect is called while the dial is in flight, Connect releases what
// it opened and returns [ErrDisconnected].
func (r *Relay) Connect(ctx context.Context) error {
	r.mu.Lock()
	if r.state == StateConnecting || r.state == StateConnected {
		r.unlock()
		return ErrAlreadyConnected
	}
	r.lastErr = nil
	if r.cfg.APIKey == "" {
		err := r.failLocked(fmt.Errorf("%w: no API key", ErrConfig))
		r.unlock()
		return err
	}
	r.gen++
	gen := r.gen
	// The devices and the session outlive Connect, so they run on a context
	// of their own that ctx cancels only until the dial is done.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.dialCancel = cancel
	r.setStateLocked(StateConnecting)
	r.unlock()

	stopDial := context.AfterFunc(ctx, cancel)
	c, err := r.open(runCtx, gen)
	if !stopDial() && err == nil {
		r.release([]*connection{c})
		c, err = nil, fmt.Errorf("%w: %w", ErrConnection, context.Cause(ctx))
	}

	r.mu.Lock()
	defer r.unlock()
	if r.gen != gen {
		cancel()
		if c != nil {
			r.releasing = append(r.releasing, c)
		}
		r.logger.Info("relay: dial abandoned by disconnect")
		return ErrDisconnected
	}
	r.dialCancel = nil
	if err != nil {
		cancel()
		return r.failLocked(err)
	}

	c.cancel = cancel
	r.conn = c
	r.schedule.Reset()
	clear(r.voices)

	c.pumps.Add(3)
	go r.pumpInput(runCtx, c)
	go r.pumpSession(runCtx, c)
	go r.pumpSend(runCtx, c)

	r.inst.activeSessions.Add(context.Background(), 1)
	r.logger.Info("relay: session dialled", "voice", r.cfg.Voice, "block_size", r.cfg.BlockSize)
	return nil
}

// open acquires the resources of connection gen. On failure everything it
// opened is closed again.
func (r *Relay) open(ctx context.Context, gen uint64) (*connection, error) {
	in, err := r.mic.Open(ctx, audio.InputFormat, r.cfg.BlockSize)
	if err != nil {
		return nil, fmt.Errorf("%w: open microphone: %w", ErrPermission, err)
	}
	out, err := r.speaker.Open(ctx, audio.OutputFormat)
	if err != nil {
		r.closeQuietly("input", in.Close)
		return nil, fmt.Errorf("%w: open speaker: %w", ErrPermission, err)
	}
	session, err := r.provider.Connect(ctx, s2s.SessionConfig{
		Modality:      s2s.ModalityAudio,
		Voice:         r.cfg.Voice,
		Instructions:  r.cfg.Instructions,
		Transcription: r.cfg.Transcription,
	})
	if err != nil {
		r.closeQuietly("input", in.Close)
		r.closeQuietly("output", out.Close)
		return nil, fmt.Errorf("%w: %w", ErrConnection, err)
	}
	if f := in.Format(); f != audio.InputFormat {
		r.logger.Info("relay: microphone runs at another format, resampling", "format", f)
	}
	return &connection{
		gen:     gen,
		in:      in,
		out:     out,
		session: session,
		sendq:   make(chan audio.Blob, sendQueue),
	}, nil
}

// Disconnect stops playback, releases both audio devices and closes the
// session. A Connect still dialling is abandoned. It is safe to call from any
// state and more than once. The relay ends up in [StateIdle].
func (r *Relay) Disconnect() error {
	r.mu.Lock()
	r.gen++
	if r.dialCancel != nil {
		r.dialCancel()
		r.dialCancel = nil
	}
	c := r.teardownLocked()
	r.setStateLocked(StateIdle)
	r.unlock()

	if c != nil {
		c.pumps.Wait()
	}
	return nil
}

// ── Event handling ────────────────────────────────────────────────────────────

// Handle processes one event against the current connection.
func (r *Relay) Handle(ev Event) {
	r.mu.Lock()
	defer r.unlock()
	r.handleLocked(ev)
}

// post handles ev only if it belongs to connection generation gen.
func (r *Relay) post(gen uint64, ev Event) {
	r.mu.Lock()
	defer r.unlock()
	if r.conn == nil || r.conn.gen != gen {
		return
	}
	r.handleLocked(ev)
}

func (r *Relay) handleLocked(ev Event) {
	switch ev := ev.(type) {
	case InputFrame:
		r.handleInputLocked(ev.Samples)
	case RemoteMessage:
		r.handleMessageLocked(ev.Msg)
	case PlaybackEnded:
		r.handleEndedLocked(ev.Voice)
	case SessionError:
		if r.conn == nil {
			return
		}
		r.teardownLocked()
		r.failLocked(fmt.Errorf("%w: %w", ErrConnection, ev.Err))
	case SessionClosed:
		if r.conn == nil {
			return
		}
		r.logger.Info("relay: session closed by remote")
		r.teardownLocked()
		r.setStateLocked(StateIdle)
	}
}

func (r *Relay) handleInputLocked(samples []float32) {
	ctx := context.Background()
	if r.state != StateConnected || r.conn == nil {
		r.inst.framesDropped.Add(ctx, 1)
		return
	}
	if f := r.conn.in.Format(); f.SampleRate > 0 && f.SampleRate != audio.InputFormat.SampleRate {
		samples = audio.ResampleFloat(samples, f.SampleRate, audio.InputFormat.SampleRate)
	}
	select {
	case r.conn.sendq <- audio.EncodeBlob(samples, audio.InputFormat):
	default:
		r.inst.framesDropped.Add(ctx, 1)
		r.logger.Debug("relay: send queue full, dropping frame")
	}
}

func (r *Relay) handleMessageLocked(msg s2s.ServerMessage) {
	if r.conn == nil {
		return
	}
	if msg.Open && r.state == StateConnecting {
		r.setStateLocked(StateConnected)
		r.logger.Info("relay: session open")
	}
	for _, b := range msg.Audio {
		r.playLocked(b)
	}
	if msg.Interrupted {
		r.interruptLocked()
	}
	if msg.InputTranscript != "" {
		r.transcriptLocked(true, msg.InputTranscript)
	}
	if msg.OutputTranscript != "" {
		r.transcriptLocked(false, msg.OutputTranscript)
	}
	if msg.TurnComplete {
		r.logger.Debug("relay: turn complete", "active_voices", len(r.voices))
	}
}

// playLocked decodes one chunk and schedules it right after the previous one.
func (r *Relay) playLocked(b audio.Blob) {
	ctx := context.Background()
	samples, err := audio.DecodePayload(b.Data)
	if err != nil {
		r.inst.decodeErrors.Add(ctx, 1)
		r.logger.Warn("relay: skipping audio chunk", "error", fmt.Errorf("%w: %w", ErrDecode, err))
		return
	}
	out := r.conn.out
	src := audio.OutputFormat.SampleRate
	if f, ok := audio.ParseMIMEType(b.MIMEType); ok {
		src = f.SampleRate
	}
	if dst := out.Format().SampleRate; src != dst {
		samples = audio.ResampleFloat(samples, src, dst)
	}

	d := out.Format().Duration(len(samples))
	start := r.schedule.Reserve(out.Now(), d)

	gen := r.conn.gen
	handle := make(chan audio.Voice, 1)
	v, err := out.Schedule(samples, start, func() {
		go func() {
			if v, ok := <-handle; ok {
				r.post(gen, PlaybackEnded{Voice: v})
			}
		}()
	})
	if err != nil {
		close(handle)
		r.logger.Warn("relay: schedule playback", "error", err)
		return
	}
	handle <- v

	r.voices[v] = struct{}{}
	r.setSpeakingLocked(true)
	r.inst.buffers.Add(ctx, 1)
	r.inst.playbackSeconds.Add(ctx, d.Seconds())
}

// interruptLocked stops every queued voice and restarts the schedule.
func (r *Relay) interruptLocked() {
	n := r.stopVoicesLocked()
	r.schedule.Reset()
	r.setSpeakingLocked(false)
	r.inst.interruptions.Add(context.Background(), 1)
	r.logger.Debug("relay: interrupted", "stopped_voices", n)
}

func (r *Relay) handleEndedLocked(v audio.Voice) {
	if _, ok := r.voices[v]; !ok {
		return
	}
	delete(r.voices, v)
	if len(r.voices) == 0 {
		r.setSpeakingLocked(false)
	}
}

func (r *Relay) stopVoicesLocked() int {
	n := len(r.voices)
	for v := range r.voices {
		v.Stop()
	}
	clear(r.voices)
	return n
}

// teardownLocked detaches the current connection, if any, and returns it so
// that the caller can wait for its pumps outside the lock. Its resources are
// closed by the next unlock.
func (r *Relay) teardownLocked() *connection {
	r.stopVoicesLocked()
	r.schedule.Reset()
	r.setSpeakingLocked(false)

	c := r.conn
	if c == nil {
		return nil
	}
	r.conn = nil
	c.cancel()
	r.releasing = append(r.releasing, c)
	r.inst.activeSessions.Add(context.Background(), -1)
	return c
}

func (r *Relay) release(conns []*connection) {
	for _, c := range conns {
		r.closeQuietly("input", c.in.Close)
		r.closeQuietly("output", c.out.Close)
		r.closeQuietly("session", c.session.Close)
	}
}

// ── Pumps ─────────────────────────────────────────────────────────────────────

func (r *Relay) pumpInput(ctx context.Context, c *connection) {
	defer c.pumps.Done()
	frames := c.in.Frames()
	for {
		select {
		case <-ctx.Done():
			return
		case samples, ok := <-frames:
			if !ok {
				return
			}
			r.post(c.gen, InputFrame{Samples: samples})
		}
	}
}

// pumpSend forwards encoded frames to the session. A failed send ends the
// connection.
func (r *Relay) pumpSend(ctx context.Context, c *connection) {
	defer c.pumps.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case b := <-c.sendq:
			if err := c.session.SendAudio(b); err != nil {
				r.post(c.gen, SessionError{Err: fmt.Errorf("send audio: %w", err)})
				return
			}
			r.inst.framesSent.Add(context.Background(), 1)
		}
	}
}

func (r *Relay) pumpSession(ctx context.Context, c *connection) {
	defer c.pumps.Done()
	msgs := c.session.Messages()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				if err := c.session.Err(); err != nil {
					r.post(c.gen, SessionError{Err: err})
				} else {
					r.post(c.gen, SessionClosed{})
				}
				return
			}
			r.post(c.gen, RemoteMessage{Msg: msg})
		}
	}
}

// ── State helpers ─────────────────────────────────────────────────────────────

func (r *Relay) failLocked(err error) error {
	r.lastErr = err
	r.logger.Error("relay: failed", "error", err)
	r.setStateLocked(StateError)
	return err
}

func (r *Relay) setStateLocked(s State) {
	if r.state == s {
		return
	}
	r.logger.Debug("relay: state change", "from", r.state, "to", s)
	r.state = s
	for _, fn := range r.onState {
		r.notes = append(r.notes, func() { fn(s) })
	}
}

func (r *Relay) setSpeakingLocked(v bool) {
	if r.speaking == v {
		return
	}
	r.speaking = v
	for _, fn := range r.onSpeaking {
		r.notes = append(r.notes, func() { fn(v) })
	}
}

func (r *Relay) transcriptLocked(user bool, text string) {
	r.logger.Debug("relay: transcript", "user", user, "text", text)
	for _, fn := range r.onTranscript {
		r.notes = append(r.notes, func() { fn(user, text) })
	}
}

// unlock releases mu, closes connections torn down while it was held and runs
// the queued listener calls. Only one goroutine drains notes at a time, in
// queue order; others leave theirs to it. mu is never held while a listener
// runs.
func (r *Relay) unlock() {
	rel := r.releasing
	r.releasing = nil
	if r.draining || len(r.notes) == 0 {
		r.mu.Unlock()
		r.release(rel)
		return
	}
	r.draining = true
	for {
		notes := r.notes
		r.notes = nil
		r.mu.Unlock()

		r.release(rel)
		rel = nil
		for _, fn := range notes {
			fn()
		}

		r.mu.Lock()
		if len(r.notes) == 0 {
			r.draining = false
			r.mu.Unlock()
			return
		}
	}
}

func (r *Relay) closeQuietly(what string, fn func() error) {
	if err := fn(); err != nil {
		r.logger.Warn("relay: close "+what, "error", err)
	}
}
