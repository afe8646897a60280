package vnc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"vnc-agent/internal/metrics"
	"vnc-agent/pkg/rfb"
)

const (
	// defaultUpdateInterval - incremental update request cadence that keeps
	// the framebuffer warm without caller-driven polling
	defaultUpdateInterval = 100 * time.Millisecond

	// defaultScreenshotTimeout - how long a screenshot waits for the next
	// frame before resolving against the current buffer contents
	defaultScreenshotTimeout = time.Second

	defaultDialTimeout = 30 * time.Second
)

// Session errors
var (
	// ErrSessionClosed - the session was disconnected while an operation was
	// pending
	ErrSessionClosed = errors.New("session closed")

	// ErrNotReady - the handshake has not completed
	ErrNotReady = errors.New("session not ready")
)

// SessionConfig configures a VNC session. Immutable after creation.
type SessionConfig struct {
	// Endpoint is the server address: host:port, vnc://host:port, or a
	// ws(s):// URL for WebSocket-carried RFB
	Endpoint string

	// Username and Password are the RFB credentials. Password alone covers
	// VNC Authentication; ARD and the VeNCrypt Plain sub-types need both.
	Username string
	Password string

	// AuthMode selects between automatic negotiation and requiring an
	// unauthenticated server. Defaults to auto.
	AuthMode rfb.AuthMode

	// UpdateInterval is the incremental update heartbeat cadence
	UpdateInterval time.Duration

	// ScreenshotTimeout bounds the wait for a fresh frame during Screenshot
	ScreenshotTimeout time.Duration

	// DialTimeout bounds the transport connect
	DialTimeout time.Duration
}

// SessionHandlers receives session-level events. Handlers run on the
// session's read loop with the session lock held; they must not block or
// call back into the session.
type SessionHandlers struct {
	OnReady   func(width, height int, name string)
	OnFrame   func()
	OnResize  func(width, height int)
	OnCutText func(text string)
	OnError   func(err error)
	OnClose   func()
}

// Session owns one VNC connection end to end: the transport, the protocol
// engine, and the framebuffer. A background heartbeat keeps the buffer
// current; callers take screenshots and inject input through the session's
// methods. A session is single-use — after Disconnect, retry with a fresh
// Session.
type Session struct {
	cfg      SessionConfig
	handlers SessionHandlers
	log      zerolog.Logger

	transport Transport
	client    *rfb.Client

	// mu guards the protocol engine and framebuffer: every Feed runs the
	// full decode-then-notify sequence under it, so callers never observe a
	// framebuffer mid-mutation
	mu        sync.Mutex
	frameWait chan struct{}

	ready     atomic.Bool
	readyCh   chan struct{}
	errCh     chan error
	done      chan struct{}
	closeOnce sync.Once
}

// NewSession creates a session for the given endpoint. Nothing happens until
// Connect.
func NewSession(cfg SessionConfig, handlers SessionHandlers) *Session {
	if cfg.UpdateInterval <= 0 {
		cfg.UpdateInterval = defaultUpdateInterval
	}
	if cfg.ScreenshotTimeout <= 0 {
		cfg.ScreenshotTimeout = defaultScreenshotTimeout
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}

	id := uuid.New().String()
	return &Session{
		cfg:      cfg,
		handlers: handlers,
		log:      log.With().Str("component", "vnc-session").Str("session_id", id).Logger(),
		readyCh:  make(chan struct{}),
		errCh:    make(chan error, 1),
		done:     make(chan struct{}),
	}
}

// transportWriter adapts a Transport into the io.Writer the protocol engine
// expects for outbound messages
type transportWriter struct {
	t Transport
}

func (w transportWriter) Write(p []byte) (int, error) {
	if err := w.t.Write(context.Background(), p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Connect dials the server, drives the RFB handshake to completion, and
// starts the update heartbeat. It resolves exactly once: nil once the
// session is ready, or the first transport/handshake error.
func (s *Session) Connect(ctx context.Context) error {
	start := time.Now()

	transport, err := NewTransport(&Endpoint{
		Address:  s.cfg.Endpoint,
		Username: s.cfg.Username,
		Password: s.cfg.Password,
	})
	if err != nil {
		metrics.ConnectsTotal.WithLabelValues("config_error").Inc()
		return err
	}
	s.transport = transport

	dialCtx, cancel := context.WithTimeout(ctx, s.cfg.DialTimeout)
	defer cancel()

	if err := transport.Connect(dialCtx, &Endpoint{
		Address:  s.cfg.Endpoint,
		Username: s.cfg.Username,
		Password: s.cfg.Password,
	}); err != nil {
		metrics.ConnectsTotal.WithLabelValues("transport_error").Inc()
		return err
	}

	s.client = rfb.NewClient(transportWriter{transport}, rfb.Config{
		Username: s.cfg.Username,
		Password: s.cfg.Password,
		AuthMode: s.cfg.AuthMode,
		StartTLS: func() (io.Writer, error) {
			tlsCtx, cancel := context.WithTimeout(context.Background(), s.cfg.DialTimeout)
			defer cancel()
			return transport.StartTLS(tlsCtx)
		},
	}, rfb.Handlers{
		Ready:   s.onReady,
		Frame:   s.onFrame,
		Resize:  s.onResize,
		CutText: s.onCutText,
	})

	go s.readLoop()

	select {
	case <-s.readyCh:
		metrics.ConnectsTotal.WithLabelValues("success").Inc()
		metrics.HandshakeDuration.Observe(time.Since(start).Seconds())
		metrics.SessionsActive.Inc()
		go s.heartbeat()
		return nil

	case err := <-s.errCh:
		metrics.ConnectsTotal.WithLabelValues("handshake_error").Inc()
		transport.Close()
		return err

	case <-ctx.Done():
		transport.Close()
		return ctx.Err()
	}
}

// readLoop pumps transport bytes into the protocol engine until the
// connection ends. All protocol state transitions happen here, in delivery
// order; there is no concurrent re-entrancy into the engine.
func (s *Session) readLoop() {
	for {
		data, err := s.transport.Read(context.Background())
		if err != nil {
			select {
			case <-s.done:
				return // expected: Disconnect closed the transport
			default:
			}
			s.fail(err)
			return
		}

		metrics.BytesReadTotal.Add(float64(len(data)))

		s.mu.Lock()
		feedErr := s.client.Feed(data)
		s.mu.Unlock()

		if feedErr != nil {
			s.fail(feedErr)
			return
		}
	}
}

// fail routes a fatal error: before ready it rejects the in-flight Connect,
// after ready it becomes a session error event followed by teardown.
func (s *Session) fail(err error) {
	if !s.ready.Load() {
		select {
		case s.errCh <- err:
		default:
		}
		return
	}

	s.log.Error().Err(err).Msg("VNC session failed")
	if s.handlers.OnError != nil {
		s.handlers.OnError(err)
	}
	s.Disconnect()
}

// heartbeat issues incremental update requests at a fixed cadence for the
// session's lifetime
func (s *Session) heartbeat() {
	ticker := time.NewTicker(s.cfg.UpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.mu.Lock()
			err := s.client.RequestUpdate(true)
			s.mu.Unlock()
			if err != nil {
				// The read loop surfaces the real failure; nothing to do here
				s.log.Debug().Err(err).Msg("Heartbeat update request failed")
			}
		}
	}
}

// Engine event handlers. All run under s.mu from the read loop.

func (s *Session) onReady(width, height int, name string) {
	s.ready.Store(true)
	close(s.readyCh)

	s.log.Info().
		Int("width", width).
		Int("height", height).
		Str("desktop_name", name).
		Msg("VNC session ready")

	// Warm the framebuffer immediately rather than waiting a heartbeat tick
	if err := s.client.RequestUpdate(false); err != nil {
		s.log.Debug().Err(err).Msg("Initial update request failed")
	}

	if s.handlers.OnReady != nil {
		s.handlers.OnReady(width, height, name)
	}
}

func (s *Session) onFrame() {
	metrics.FramesTotal.Inc()

	if s.frameWait != nil {
		close(s.frameWait)
		s.frameWait = nil
	}

	if s.handlers.OnFrame != nil {
		s.handlers.OnFrame()
	}
}

func (s *Session) onResize(width, height int) {
	metrics.DesktopResizesTotal.Inc()

	if s.handlers.OnResize != nil {
		s.handlers.OnResize(width, height)
	}
}

func (s *Session) onCutText(text string) {
	if s.handlers.OnCutText != nil {
		s.handlers.OnCutText(text)
	}
}

// Screenshot requests a full framebuffer update and returns a copy of the
// raw RGBA buffer once the update lands. If no frame arrives within the
// configured timeout the current buffer contents are returned instead — a
// stale frame beats blocking forever.
func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	start := time.Now()

	ch, err := s.requestFrame(false)
	if err != nil {
		return nil, err
	}

	select {
	case <-ch:
	case <-time.After(s.cfg.ScreenshotTimeout):
		metrics.ScreenshotTimeoutsTotal.Inc()
		s.log.Debug().Msg("Screenshot frame wait timed out, using current buffer")
	case <-s.done:
		return nil, ErrSessionClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	s.mu.Lock()
	buf := s.client.Framebuffer().Snapshot()
	s.mu.Unlock()

	metrics.ScreenshotDuration.Observe(time.Since(start).Seconds())
	return buf, nil
}

// WaitForFrame issues an update request and reports whether a completed
// frame arrived within the timeout
func (s *Session) WaitForFrame(incremental bool, timeout time.Duration) bool {
	ch, err := s.requestFrame(incremental)
	if err != nil {
		return false
	}

	select {
	case <-ch:
		return true
	case <-time.After(timeout):
		return false
	case <-s.done:
		return false
	}
}

// requestFrame registers (or joins) the pending frame waiter and sends the
// update request. At most one waiter channel exists at a time; concurrent
// callers share it.
func (s *Session) requestFrame(incremental bool) (chan struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client == nil || !s.client.Ready() {
		return nil, ErrNotReady
	}

	if s.frameWait == nil {
		s.frameWait = make(chan struct{})
	}
	ch := s.frameWait

	if err := s.client.RequestUpdate(incremental); err != nil {
		return nil, err
	}
	return ch, nil
}

// PointerEvent sends a pointer move/click. Fire-and-forget.
func (s *Session) PointerEvent(x, y int, buttonMask uint8) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client == nil || !s.client.Ready() {
		return ErrNotReady
	}
	return s.client.PointerEvent(x, y, buttonMask)
}

// KeyEvent sends a key press or release for an X11 keysym. Fire-and-forget.
func (s *Session) KeyEvent(keysym uint32, down bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client == nil || !s.client.Ready() {
		return ErrNotReady
	}
	return s.client.KeyEvent(keysym, down)
}

// SetClipboard pushes text to the server's clipboard. Fire-and-forget.
func (s *Session) SetClipboard(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client == nil || !s.client.Ready() {
		return ErrNotReady
	}
	return s.client.SetClipboard(text)
}

// Size returns the current display dimensions, or zeros before ready
func (s *Session) Size() (width, height int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client == nil {
		return 0, 0
	}
	return s.client.Size()
}

// DesktopName returns the name the server sent in ServerInit
func (s *Session) DesktopName() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client == nil {
		return ""
	}
	return s.client.DesktopName()
}

// Disconnect tears the session down: the heartbeat stops, any pending
// screenshot waiter is rejected, and the transport closes. Safe to call more
// than once.
func (s *Session) Disconnect() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)

		s.mu.Lock()
		// Pending waiters exit through s.done; dropping the channel just
		// stops future frames from resolving it
		s.frameWait = nil
		s.mu.Unlock()

		if s.transport != nil {
			err = s.transport.Close()
		}

		if s.ready.Load() {
			metrics.SessionsActive.Dec()
		}

		s.log.Info().Msg("VNC session disconnected")
		if s.handlers.OnClose != nil {
			s.handlers.OnClose()
		}
	})
	return err
}

// String identifies the session in diagnostics
func (s *Session) String() string {
	return fmt.Sprintf("vnc session %s", s.cfg.Endpoint)
}
