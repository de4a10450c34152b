package bambutunnel

import (
	"context"
	"io"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rectcircle/bambusource/internal/bambutunnel/protocol"
	"github.com/rectcircle/bambusource/internal/bambutunnel/transport"
	"github.com/rectcircle/bambusource/internal/metrics"
	"github.com/rectcircle/bambusource/internal/variable"
	"github.com/rectcircle/bambusource/tools"
	log "github.com/sirupsen/logrus"
)

// Transport - byte stream driven in ticks, see transport.Conn
type Transport interface {
	Write(p []byte) (int, error)
	Drive(canBlock bool, onData func(transport.Source) error) error
	// Discard drops the buffered plaintext
	Discard() int
	Close() error
}

// DialFunc - connect and handshake, the returned Transport is ready for Write
type DialFunc func(ctx context.Context, settings Settings, cfg transport.Config) (Transport, error)

// DialTLS - default DialFunc, TCP + TLS 1.2 through package transport
func DialTLS(ctx context.Context, settings Settings, cfg transport.Config) (Transport, error) {
	conn, err := transport.Dial(ctx, settings.Hostname, settings.Port, cfg)
	if err != nil {
		return nil, err
	}
	if err := conn.Handshake(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// Option - configure a Session
type Option func(*Session)

// WithAllocator - where sample buffers come from, default HeapAllocator
func WithAllocator(alloc Allocator) Option {
	return func(s *Session) {
		s.alloc = alloc
	}
}

// WithDialer - replace DialTLS
func WithDialer(dial DialFunc) Option {
	return func(s *Session) {
		s.dial = dial
	}
}

// WithLogger - base logger, session fields are added on top
func WithLogger(logger *log.Entry) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

// WithMetrics - record into m
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Session) {
		s.metrics = m
	}
}

// WithTransportConfig - certificate policy and timeouts of DialTLS
func WithTransportConfig(cfg transport.Config) Option {
	return func(s *Session) {
		s.transportConfig = cfg
	}
}

// errNoSample - cause of every KindRetry error
var errNoSample = errors.New("no complete sample yet")

// Session - one tunnel to one device
type Session struct {
	id              string
	settings        Settings
	alloc           Allocator
	dial            DialFunc
	transportConfig transport.Config
	logger          *log.Entry
	metrics         *metrics.Metrics

	conn        Transport
	requestType int32
	state       tunnelState
	readStarted bool
	// last buffer handed out by ReadSample, not yet released
	delivered []byte

	busy atomic.Bool
}

// NewSession - session for settings, nothing happens on the network before Open
func NewSession(settings Settings, opts ...Option) *Session {
	s := &Session{
		id:       uuid.NewString(),
		settings: settings,
		alloc:    HeapAllocator{},
		dial:     DialTLS,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = log.NewEntry(log.StandardLogger())
	}
	s.logger = s.logger.WithFields(log.Fields{
		"session": s.id,
		"host":    settings.Address(),
	})
	return s
}

// ID - random id of the session, also present in its logs
func (s *Session) ID() string {
	return s.id
}

// Settings - connection parameters of the session
func (s *Session) Settings() Settings {
	return s.settings
}

// State - decoder state, for diagnostics
func (s *Session) State() string {
	return s.state.String()
}

// Open - connect and handshake, blocks
func (s *Session) Open(ctx context.Context) error {
	const op = "open"
	if err := s.enter(op); err != nil {
		return err
	}
	defer s.leave()
	if s.conn != nil || s.state.kind != stateUnset {
		return s.fail(errorf(KindSequence, op, "session already open"))
	}
	conn, err := s.dial(ctx, s.settings, s.transportConfig)
	if err != nil {
		return s.fail(newError(KindConnection, op, err))
	}
	s.conn = conn
	s.state = tunnelState{kind: stateInitial}
	s.metrics.SessionOpened()
	s.logger.Info("tunnel opened")
	return nil
}

// Start - send the start packet for requestType and wait until it is flushed
func (s *Session) Start(requestType int32) error {
	const op = "start"
	if err := s.enter(op); err != nil {
		return err
	}
	defer s.leave()
	if s.conn == nil {
		return s.fail(errorf(KindSequence, op, "session not open"))
	}
	if s.state.kind != stateUnset && s.state.kind != stateInitial {
		return s.fail(errorf(KindSequence, op, "stream already started, state = %s", s.state))
	}
	if n := s.conn.Discard(); n > 0 {
		tools.TraceF("session %s: %d stale bytes dropped before start", s.id, n)
	}
	if err := s.roundTrip(protocol.NewControlPacket(requestType, s.settings.Username, s.settings.Password, true)); err != nil {
		return s.fail(newError(KindTransport, op, err))
	}
	s.requestType = requestType
	s.state = tunnelState{kind: stateProcessStream}
	s.metrics.StreamStarted()
	s.logger.WithField("request", requestType).Info("stream started")
	return nil
}

// Close - send the stop packet, drop a partially received sample and the
// unread plaintext. The connection stays open, Start may be called again.
func (s *Session) Close() error {
	const op = "close"
	if err := s.enter(op); err != nil {
		return err
	}
	defer s.leave()
	if s.conn == nil {
		return s.fail(errorf(KindSequence, op, "session not open"))
	}
	if s.state.kind == stateUnset || s.state.kind == stateInitial {
		return s.fail(errorf(KindSequence, op, "stream not started"))
	}
	if err := s.roundTrip(protocol.NewControlPacket(s.requestType, s.settings.Username, s.settings.Password, false)); err != nil {
		return s.fail(newError(KindTransport, op, err))
	}
	// the unread rest of the stream may end mid-frame, keeping it would desync the next Start
	if n := s.conn.Discard(); n > 0 {
		tools.TraceF("session %s: %d unread bytes dropped on close", s.id, n)
	}
	s.dropPending()
	s.state = tunnelState{kind: stateInitial}
	s.logger.WithField("request", s.requestType).Info("stream stopped")
	return nil
}

// ReadSample - poll for the next sample, KindRetry until one is complete.
//
// The buffer of the sample previously stored in out is released first, so out
// must be passed back unchanged between calls.
func (s *Session) ReadSample(out *Sample) error {
	const op = "read sample"
	if err := s.enter(op); err != nil {
		return err
	}
	defer s.leave()
	if s.conn == nil {
		return s.fail(errorf(KindSequence, op, "session not open"))
	}
	if !s.readStarted {
		*out = Sample{}
		s.readStarted = true
	}
	if out.Buffer != nil {
		buf := out.Buffer
		out.Buffer = nil
		release(s.alloc, buf)
		if sameBuffer(buf, s.delivered) {
			s.delivered = nil
		}
	}

	var ev ioEvent
	switch {
	case s.state.kind == stateProcessStream:
		if err := s.conn.Drive(false, s.readHeader(&ev)); err != nil {
			return s.fail(newError(KindTransport, op, err))
		}
	case s.state.kind == stateReceivingSample && s.state.remaining > 0:
		if err := s.conn.Drive(false, s.readPayload(&ev)); err != nil {
			return s.fail(newError(KindTransport, op, err))
		}
	}

	next, result := transition(s.state, ev)
	switch result {
	case resultNotStarted:
		return s.fail(errorf(KindSequence, op, "stream not started"))
	case resultAllocate:
		next.data = s.alloc.Alloc(next.remaining)
		tools.TraceF("session %s: frame %s", s.id, next.header)
	case resultDeliver:
		prev := s.state
		s.state = next
		*out = Sample{
			Track:  prev.header.Track,
			Flags:  prev.header.Flags,
			Buffer: prev.data,
		}
		if cap(prev.data) > 0 {
			s.delivered = prev.data
		}
		s.metrics.ObserveSample(len(prev.data))
		return nil
	}
	s.state = next
	s.metrics.Retry()
	return newError(KindRetry, op, errNoSample)
}

// Destroy - release every buffer still owned by the session and close the
// connection. Valid in any state, the session is unusable afterwards.
func (s *Session) Destroy() error {
	const op = "destroy"
	if err := s.enter(op); err != nil {
		return err
	}
	defer s.leave()
	s.dropPending()
	if s.delivered != nil {
		s.alloc.Free(s.delivered)
		s.delivered = nil
	}
	s.state = tunnelState{}
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	s.metrics.SessionClosed()
	s.logger.Info("tunnel destroyed")
	if err != nil {
		return s.fail(newError(KindTransport, op, err))
	}
	return nil
}

// roundTrip - queue a control packet and block until it is written
func (s *Session) roundTrip(p protocol.ControlPacket) error {
	tools.TraceF("session %s: send %s", s.id, p)
	if _, err := s.conn.Write(p.Serialize()); err != nil {
		return err
	}
	return s.conn.Drive(true, func(transport.Source) error { return nil })
}

// readHeader - take one header, only once all of its bytes are buffered
func (s *Session) readHeader(ev *ioEvent) func(transport.Source) error {
	return func(src transport.Source) error {
		if src.Buffered() < protocol.FrameHeaderSize {
			return nil
		}
		raw := make([]byte, protocol.FrameHeaderSize)
		if _, err := io.ReadFull(src, raw); err != nil {
			return errors.Wrap(err, "read frame header")
		}
		header, err := protocol.DecodeFrameHeader(raw)
		if err != nil {
			return err
		}
		ev.hasHeader, ev.header = true, header
		s.metrics.AddBytes(protocol.FrameHeaderSize)
		return nil
	}
}

// readPayload - copy up to remaining bytes into the pending buffer, ChunkSize at a time
func (s *Session) readPayload(ev *ioEvent) func(transport.Source) error {
	return func(src transport.Source) error {
		data, remaining := s.state.data, s.state.remaining
		start := len(data)
		for ev.received < remaining {
			from := start + ev.received
			to := from + min(variable.ChunkSize, remaining-ev.received)
			n, err := src.Read(data[from:to])
			ev.received += n
			if errors.Is(err, transport.ErrWouldBlock) || n == 0 {
				break
			}
			if err != nil {
				return errors.Wrap(err, "read frame payload")
			}
		}
		s.metrics.AddBytes(ev.received)
		return nil
	}
}

// dropPending - free the buffer of a partially received sample
func (s *Session) dropPending() {
	if s.state.kind == stateReceivingSample && s.state.data != nil {
		s.alloc.Free(s.state.data)
		s.state.data = nil
	}
}

func (s *Session) enter(op string) error {
	if !s.busy.CompareAndSwap(false, true) {
		return s.fail(errorf(KindSequence, op, "session in use by another caller"))
	}
	return nil
}

func (s *Session) leave() {
	s.busy.Store(false)
}

func (s *Session) fail(err *Error) error {
	s.metrics.Error(err.Kind.String())
	entry := s.logger.WithField("op", err.Op)
	if err.Kind == KindSequence {
		entry.Debug(err.Err)
	} else {
		entry.Warn(err.Err)
	}
	return err
}
