package fakedevice

import (
	"context"
	"crypto/tls"
	"io"
	"math"
	"net"
	"sync"

	"github.com/pkg/errors"
	"github.com/rectcircle/bambusource/internal/bambutunnel/protocol"
	"github.com/rectcircle/bambusource/tools"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
	"gopkg.in/tomb.v1"
)

// FrameSource - produce the seq-th frame (counted from 0) of a stream
type FrameSource func(seq uint64) (track, flags int32, payload []byte)

// Options - behaviour of the fake device
type Options struct {
	// expected credentials, empty Username accepts anyone
	Username string
	Password string
	// frames per second, <= 0 means as fast as possible
	FPS float64
	// frames sent after each start packet, 0 means until stopped
	MaxFrames uint64
	// nil means SyntheticJPEG(32549)
	Frames FrameSource
}

// SyntheticJPEG - JPEG markers around a seq dependent filler, size bytes in total
func SyntheticJPEG(size int) FrameSource {
	return func(seq uint64) (int32, int32, []byte) {
		if size < 4 {
			return 0, 0, make([]byte, size)
		}
		payload := make([]byte, size)
		payload[0], payload[1] = 0xff, 0xd8
		for i := 2; i < size-2; i++ {
			payload[i] = byte(seq) + byte(i)
		}
		payload[size-2], payload[size-1] = 0xff, 0xd9
		return 0, 1, payload
	}
}

// Server - TLS 1.2 camera endpoint speaking the local tunnel protocol
type Server struct {
	listener net.Listener
	config   *tls.Config
	opts     Options
	death    tomb.Tomb

	mu      sync.Mutex
	conns   map[net.Conn]struct{}
	packets []protocol.ControlPacket
}

// Listen - bind to `host:port` of TCP and start serving in background
func Listen(host string, port uint16, cert tls.Certificate, opts Options) (*Server, error) {
	addr := tools.ToAddressString(host, port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "listen %s", addr)
	}
	if opts.Frames == nil {
		opts.Frames = SyntheticJPEG(32549)
	}
	s := &Server{
		listener: listener,
		config: &tls.Config{
			MinVersion:   tls.VersionTLS12,
			MaxVersion:   tls.VersionTLS12,
			Certificates: []tls.Certificate{cert},
		},
		opts:  opts,
		conns: map[net.Conn]struct{}{},
	}
	go func() {
		defer s.death.Done()
		s.death.Kill(s.serve())
	}()
	log.Infof("Start a fake device success! on %s", listener.Addr().String())
	return s, nil
}

// ListenAndServe - Listen and block until the server dies
func ListenAndServe(host string, port uint16, cert tls.Certificate, opts Options) error {
	s, err := Listen(host, port, cert, opts)
	if err != nil {
		return err
	}
	return s.death.Wait()
}

// Addr - bound address, useful with port 0
func (s *Server) Addr() *net.TCPAddr {
	return s.listener.Addr().(*net.TCPAddr)
}

// Port - bound TCP port
func (s *Server) Port() uint16 {
	return uint16(s.Addr().Port)
}

// Packets - control packets received so far, in order
func (s *Server) Packets() []protocol.ControlPacket {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.ControlPacket(nil), s.packets...)
}

// Close - stop accepting, drop every client and wait for the goroutines
func (s *Server) Close() error {
	s.death.Kill(nil)
	s.listener.Close()
	s.mu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()
	return s.death.Wait()
}

func (s *Server) serve() error {
	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.death.Dying():
				return nil
			default:
				return errors.Wrap(err, "accept")
			}
		}
		s.track(conn, true)
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer s.track(conn, false)
			s.handle(conn)
		}()
	}
}

func (s *Server) track(conn net.Conn, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.conns[conn] = struct{}{}
		return
	}
	delete(s.conns, conn)
	conn.Close()
}

func (s *Server) record(p protocol.ControlPacket) {
	s.mu.Lock()
	s.packets = append(s.packets, p)
	s.mu.Unlock()
}

func (s *Server) handle(raw net.Conn) {
	logger := log.WithField("client", raw.RemoteAddr().String())
	conn := tls.Server(raw, s.config)
	if err := conn.Handshake(); err != nil {
		logger.Warnf("failed to handshake: %s", err)
		return
	}
	logger.Info("client connected")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-s.death.Dying():
			cancel()
		case <-ctx.Done():
		}
	}()

	packets := make(chan protocol.ControlPacket)
	go func() {
		defer close(packets)
		buffer := make([]byte, protocol.ControlPacketSize)
		for {
			if _, err := io.ReadFull(conn, buffer); err != nil {
				tools.TraceF("client %s read: %s", raw.RemoteAddr(), err)
				return
			}
			p, _ := protocol.DecodeControlPacket(buffer)
			select {
			case packets <- p:
			case <-ctx.Done():
				return
			}
		}
	}()

	limiter := rate.NewLimiter(rate.Inf, 1)
	if s.opts.FPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(s.opts.FPS), 1)
	}
	var (
		streaming bool
		seq       uint64
	)
	for {
		if !streaming {
			select {
			case p, ok := <-packets:
				if !ok {
					logger.Info("client disconnected")
					return
				}
				if !s.accept(logger, p) {
					return
				}
				streaming, seq = p.IsStart(), 0
			case <-ctx.Done():
				return
			}
			continue
		}
		select {
		case p, ok := <-packets:
			if !ok {
				logger.Info("client disconnected")
				return
			}
			if !s.accept(logger, p) {
				return
			}
			streaming, seq = p.IsStart(), 0
			continue
		default:
		}
		if err := limiter.Wait(ctx); err != nil {
			return
		}
		if err := s.writeFrame(conn, seq); err != nil {
			logger.Warnf("write frame: %s", err)
			return
		}
		seq++
		if s.opts.MaxFrames != 0 && seq >= s.opts.MaxFrames {
			tools.TraceF("client %s: %d frames sent, pausing", raw.RemoteAddr(), seq)
			streaming = false
		}
	}
}

func (s *Server) accept(logger *log.Entry, p protocol.ControlPacket) bool {
	s.record(p)
	if s.opts.Username != "" && (p.Username() != s.opts.Username || p.PasswordString() != s.opts.Password) {
		logger.Warnf("rejected credentials for user %q", p.Username())
		return false
	}
	logger.Infof("received %s", p)
	return true
}

func (s *Server) writeFrame(w io.Writer, seq uint64) error {
	track, flags, payload := s.opts.Frames(seq)
	if uint64(len(payload)) > math.MaxUint32 {
		return errors.Errorf("frame %d too large: %d bytes", seq, len(payload))
	}
	header := protocol.FrameHeader{Length: uint32(len(payload)), Track: track, Flags: flags}
	_, err := w.Write(append(header.Serialize(), payload...))
	return err
}
