// Package realtime runs one guided conversation against a streaming speech-model
// API: it creates the remote session, holds the duplex channel, dispatches inbound
// events and sends conditioned audio.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"guidedconv/agent/internal/audio"
	"guidedconv/agent/internal/floor"
	"guidedconv/agent/internal/phase"
	"guidedconv/agent/internal/phasegraph"
	"guidedconv/agent/internal/tracker"
)

const DefaultModel = "gpt-4o-realtime-preview-2024-12-17"

// Status is the lifecycle position of a Session.
type Status int32

const (
	StatusUninitialized Status = iota
	StatusCreated
	StatusConnected
	StatusClosed
)

func (s Status) String() string {
	switch s {
	case StatusUninitialized:
		return "uninitialized"
	case StatusCreated:
		return "created"
	case StatusConnected:
		return "connected"
	case StatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Config holds the transport-level settings of a session.
type Config struct {
	Model            string
	WSURL            string
	Modalities       []string
	HandshakeTimeout time.Duration
	ChunkDuration    time.Duration
	InputChannels    int
	PlaybackDepth    int
	Policy           phase.Policy
}

func (c *Config) applyDefaults() {
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.WSURL == "" {
		c.WSURL = DefaultWSURL
	}
	if len(c.Modalities) == 0 {
		c.Modalities = []string{"audio", "text"}
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 15 * time.Second
	}
	if c.ChunkDuration <= 0 {
		c.ChunkDuration = audio.DefaultChunkDuration
	}
	if c.InputChannels <= 0 {
		c.InputChannels = 1
	}
}

type Option func(*Session)

func WithLogger(l *zap.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.log = l
		}
	}
}

func WithRecorder(r Recorder) Option {
	return func(s *Session) {
		if r != nil {
			s.audit = r
		}
	}
}

func WithID(id string) Option {
	return func(s *Session) {
		if id != "" {
			s.id = id
		}
	}
}

// Session owns the state, phase machine, tracker and audio pipeline of one
// conversation. Its methods are safe for concurrent use.
type Session struct {
	id      string
	cfg     Config
	conv    *phasegraph.Config
	creator Creator
	log     *zap.Logger
	audit   Recorder

	pipeline *audio.Pipeline

	// mu guards everything below and is held for the whole of each dispatch.
	mu         sync.Mutex
	status     Status
	connecting bool
	cred       *Credential
	state      State
	obs        *tracker.Store
	machine    *phase.Machine
	floor      *floor.Manager
	player     *audio.Player
	disp       *Dispatcher
	cancel     context.CancelFunc
	loopEnd    chan struct{}

	tr     atomic.Pointer[transport]
	closed atomic.Bool
	errs   chan error
	done   chan struct{}

	doneOnce  sync.Once
	closeOnce sync.Once
}

// NewSession validates conv and prepares an uninitialized session.
func NewSession(conv *phasegraph.Config, creator Creator, cfg Config, opts ...Option) (*Session, error) {
	if conv == nil {
		return nil, &phasegraph.ConfigurationError{Field: "config", Reason: "missing conversation config"}
	}
	if err := conv.Validate(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	p, err := audio.NewPipeline(cfg.InputChannels, cfg.ChunkDuration)
	if err != nil {
		return nil, err
	}
	s := &Session{
		id:       uuid.NewString(),
		cfg:      cfg,
		conv:     conv,
		creator:  creator,
		log:      zap.NewNop(),
		audit:    nopRecorder{},
		pipeline: p,
		obs:      tracker.New(),
		floor:    floor.New(),
		errs:     make(chan error, 16),
		done:     make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.With(zap.String("session_id", s.id))
	s.machine = phase.New(conv, s.obs, s, phase.WithPolicy(cfg.Policy))
	s.state.ConversationStart = time.Now().UTC()
	return s, nil
}

func (s *Session) ID() string { return s.id }

func (s *Session) Pipeline() *audio.Pipeline { return s.pipeline }

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Credential returns the ephemeral credential once the session is created.
func (s *Session) Credential() *Credential {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cred == nil {
		return nil
	}
	c := *s.cred
	return &c
}

// Errors delivers non-fatal failures: protocol errors, remote error events and
// transport drops. Delivery is best effort; errors are dropped when nobody reads.
func (s *Session) Errors() <-chan error { return s.errs }

// Done is closed when the session is closed or its inbound loop has ended.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) remoteConfig() SessionConfig {
	return SessionConfig{
		Model:             s.cfg.Model,
		Modalities:        s.cfg.Modalities,
		Voice:             s.conv.Voice,
		Instructions:      s.conv.Instructions(s.machine.Current()),
		Tools:             []Tool{ConversationTool()},
		ToolChoice:        "auto",
		InputAudioFormat:  AudioFormatPCM16,
		OutputAudioFormat: AudioFormatPCM16,
	}
}

// Initialize issues the session-creation request. On failure the session stays
// uninitialized and the error is a *ConnectionSetupError; nothing is retried.
func (s *Session) Initialize(ctx context.Context) error {
	s.mu.Lock()
	switch s.status {
	case StatusClosed:
		s.mu.Unlock()
		return ErrClosed
	case StatusUninitialized:
	default:
		s.mu.Unlock()
		return fmt.Errorf("realtime: initialize in state %s", s.status)
	}
	rc := s.remoteConfig()
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.HandshakeTimeout)
	defer cancel()
	start := time.Now()
	cred, err := s.creator.CreateSession(ctx, rc)
	if err != nil {
		s.log.Warn("session create failed", zap.Error(err))
		return &ConnectionSetupError{Stage: "create", Err: err}
	}
	metricHandshakeMS.WithLabelValues("create").Observe(float64(time.Since(start).Milliseconds()))

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == StatusClosed {
		return ErrClosed
	}
	s.cred = cred
	s.status = StatusCreated
	s.log.Info("session created", zap.String("remote_id", cred.SessionID))
	s.audit.Record(KindSessionCreated, map[string]any{"remote_id": cred.SessionID, "phase": s.machine.Current()})
	return nil
}

// Connect opens the duplex channel, sends the configuration frame before anything
// else and starts the inbound loop. If the channel cannot be set up the credential
// is discarded and the session returns to uninitialized: a reconnect repeats the
// whole handshake.
func (s *Session) Connect(ctx context.Context, sink Sink) error {
	if sink == nil {
		return errors.New("realtime: nil sink")
	}
	s.mu.Lock()
	switch {
	case s.status == StatusClosed:
		s.mu.Unlock()
		return ErrClosed
	case s.status == StatusConnected:
		s.mu.Unlock()
		return fmt.Errorf("realtime: already connected")
	case s.status != StatusCreated:
		s.mu.Unlock()
		return ErrNotCreated
	case s.connecting:
		s.mu.Unlock()
		return fmt.Errorf("realtime: connect in progress")
	}
	s.connecting = true
	secret := s.cred.Secret
	update := newSessionUpdate(s.remoteConfig())
	s.mu.Unlock()

	// mu is not held during the handshake; Close may run meanwhile
	tr, err := s.handshake(ctx, secret, update)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.connecting = false
	if s.status == StatusClosed {
		if tr != nil {
			tr.close()
		}
		return ErrClosed
	}
	if err != nil {
		s.resetHandshake()
		return err
	}

	loopCtx, loopCancel := context.WithCancel(context.Background())
	s.cancel = loopCancel
	s.loopEnd = make(chan struct{})
	s.player = audio.NewPlayer(sink, s.cfg.PlaybackDepth, s.log)
	s.disp = &Dispatcher{
		state:   &s.state,
		machine: s.machine,
		obs:     s.obs,
		floor:   s.floor,
		player:  s.player,
		sink:    sink,
		out:     s,
		audit:   s.audit,
		report:  s.emit,
		log:     s.log,
		now:     time.Now,
		calls:   make(map[string]string),
	}
	s.tr.Store(tr)
	s.status = StatusConnected
	s.state.Active = true
	gaugeConnected.Inc()
	s.log.Info("session connected", zap.String("phase", s.machine.Current()))
	s.audit.Record(KindConnected, map[string]any{"phase": s.machine.Current()})

	go s.readLoop(loopCtx, tr, s.loopEnd)
	return nil
}

// handshake dials the channel and writes the configuration frame.
func (s *Session) handshake(ctx context.Context, secret string, update sessionUpdateEvent) (*transport, error) {
	hctx, cancel := context.WithTimeout(ctx, s.cfg.HandshakeTimeout)
	defer cancel()
	start := time.Now()
	tr, err := dialTransport(hctx, s.cfg.WSURL, s.cfg.Model, secret)
	if err != nil {
		return nil, &TransportError{Op: "dial", Err: err}
	}
	if err := tr.writeJSON(hctx, update); err != nil {
		tr.close()
		return nil, err
	}
	metricHandshakeMS.WithLabelValues("connect").Observe(float64(time.Since(start).Milliseconds()))
	return tr, nil
}

func (s *Session) resetHandshake() {
	s.cred = nil
	s.status = StatusUninitialized
}

func (s *Session) readLoop(ctx context.Context, tr *transport, end chan struct{}) {
	defer close(end)
	defer s.markDone()
	for {
		typ, data, err := tr.read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				s.mu.Lock()
				s.state.Active = false
				s.mu.Unlock()
				return
			}
			if normalClose(err) {
				s.log.Info("remote closed channel", zap.Error(err))
			} else {
				s.log.Warn("inbound loop ended", zap.Error(err))
			}
			s.dropped(tr)
			s.emit(&TransportError{Op: "read", Err: err})
			return
		}
		switch typ {
		case websocket.MessageBinary:
			s.player.Enqueue(data[:len(data)&^1])
		case websocket.MessageText:
			ev, err := ParseServerEvent(data)
			if err != nil {
				metricProtocolErrors.Inc()
				s.log.Warn("dropping malformed frame", zap.Error(err))
				s.emit(err)
				continue
			}
			s.mu.Lock()
			err = s.disp.Handle(ctx, ev)
			s.mu.Unlock()
			if err != nil {
				s.log.Warn("handler failed", zap.String("type", ev.Type), zap.Error(err))
				s.emit(err)
			}
		}
	}
}

// dropped closes the session after the channel failed under it. There is no
// resumption: callers see ErrClosed and must start a new session.
func (s *Session) dropped(tr *transport) {
	s.closed.Store(true)
	s.mu.Lock()
	prev := s.status
	s.status = StatusClosed
	s.state.Active = false
	s.mu.Unlock()
	if s.tr.CompareAndSwap(tr, nil) {
		tr.close()
		gaugeConnected.Dec()
	}
	s.audit.Record(KindClosed, map[string]any{"previous": prev.String(), "reason": "transport"})
}

func (s *Session) emit(err error) {
	select {
	case s.errs <- err:
	default:
		s.log.Debug("error channel full; dropping", zap.Error(err))
	}
}

func (s *Session) markDone() {
	s.doneOnce.Do(func() { close(s.done) })
}

func (s *Session) sendJSON(ctx context.Context, v any) error {
	tr := s.tr.Load()
	if tr == nil {
		return ErrNotConnected
	}
	return tr.writeJSON(ctx, v)
}

func (s *Session) connected() (*transport, error) {
	tr := s.tr.Load()
	if tr != nil {
		return tr, nil
	}
	if s.closed.Load() {
		return nil, ErrClosed
	}
	return nil, ErrNotConnected
}

// SendAudio conditions one capture buffer and appends it to the remote input buffer.
// An empty buffer sends nothing.
func (s *Session) SendAudio(ctx context.Context, pcm []byte) error {
	tr, err := s.connected()
	if err != nil {
		return err
	}
	payload := s.pipeline.Frame(pcm, audio.FramingText)
	if payload == nil {
		return nil
	}
	if err := tr.writeJSON(ctx, newAudioAppend(string(payload))); err != nil {
		return err
	}
	metricAudioChunks.Inc()
	metricAudioBytes.Add(float64(len(payload)))
	return nil
}

// UpdateInstructions replaces the remote instructions. The phase machine calls it on
// every accepted transition.
func (s *Session) UpdateInstructions(ctx context.Context, instructions string) error {
	tr, err := s.connected()
	if err != nil {
		return err
	}
	return tr.writeJSON(ctx, newSessionUpdate(SessionConfig{Instructions: instructions}))
}

// CancelResponse asks the remote to stop the response in progress.
func (s *Session) CancelResponse(ctx context.Context) error {
	tr, err := s.connected()
	if err != nil {
		return err
	}
	return tr.writeJSON(ctx, responseCancel)
}

// Snapshot is a consistent view of a session for status reporting.
type Snapshot struct {
	ID              string              `json:"id"`
	Status          string              `json:"status"`
	Conversation    string              `json:"conversation"`
	State           State               `json:"state"`
	Phase           string              `json:"phase"`
	PhaseStart      time.Time           `json:"phase_start"`
	PhaseOverdue    bool                `json:"phase_overdue"`
	AllowedNext     []string            `json:"allowed_next_phases"`
	History         []phase.Completion  `json:"history"`
	Tracker         tracker.Status      `json:"tracker"`
	Observations    map[string][]string `json:"observations"`
	Floor           floor.Stats         `json:"floor"`
	CredentialUntil *time.Time          `json:"credential_expires_at,omitempty"`
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		ID:           s.id,
		Status:       s.status.String(),
		Conversation: s.conv.Name,
		State:        s.state,
		Phase:        s.machine.Current(),
		PhaseStart:   s.machine.PhaseStart().UTC(),
		PhaseOverdue: s.machine.Overdue(),
		AllowedNext:  append([]string{}, s.machine.CurrentDef().NextPhases...),
		History:      s.machine.History(),
		Tracker:      s.obs.Status(),
		Observations: make(map[string][]string),
		Floor:        s.floor.Stats(),
	}
	for _, id := range s.conv.PhaseIDs() {
		if texts := s.obs.ObservationTexts(id); len(texts) > 0 {
			snap.Observations[id] = texts
		}
	}
	if s.cred != nil && !s.cred.ExpiresAt.IsZero() {
		t := s.cred.ExpiresAt
		snap.CredentialUntil = &t
	}
	return snap
}

// Close tears the session down: it stops the inbound loop, closes the channel, waits
// for the loop to exit and lets queued playback finish. Calling it again is a no-op.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		wasClosed := s.closed.Swap(true)
		s.mu.Lock()
		prev := s.status
		s.status = StatusClosed
		s.state.Active = false
		cancel, end, player := s.cancel, s.loopEnd, s.player
		s.mu.Unlock()

		tr := s.tr.Swap(nil)
		if cancel != nil {
			cancel()
		}
		if tr != nil {
			tr.close()
			gaugeConnected.Dec()
		}
		if end != nil {
			<-end
		}
		if player != nil {
			player.Close()
		}
		s.markDone()
		s.log.Info("session closed", zap.String("previous", prev.String()))
		if !wasClosed {
			s.audit.Record(KindClosed, map[string]any{"previous": prev.String()})
		}
	})
	return nil
}
