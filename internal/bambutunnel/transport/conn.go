package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"net"
	"time"

	pool "github.com/libp2p/go-buffer-pool"
	"github.com/pkg/errors"
	"github.com/rectcircle/bambusource/internal/variable"
	"github.com/rectcircle/bambusource/tools"
)

// ErrWouldBlock - nothing buffered yet, call again on a later tick
var ErrWouldBlock = errors.New("would block")

// readBufferSize - one full TLS record of plaintext
const readBufferSize = 16 * 1024

// Source - plaintext already decrypted by previous ticks, reading never touches the socket
type Source interface {
	// Read returns ErrWouldBlock when nothing is buffered
	Read(p []byte) (int, error)
	// Buffered - bytes available to Read
	Buffered() int
}

// Config - transport parameters
type Config struct {
	// trust decision, nil means NoVerification
	Verifier Verifier
	// wait of a non-blocking tick, zero means variable.ProbeInterval
	ProbeInterval time.Duration
	// TCP connect timeout, zero means none (context only)
	DialTimeout time.Duration
}

func (cfg Config) tlsConfig(serverName string) *tls.Config {
	verifier := cfg.Verifier
	if verifier == nil {
		verifier = NoVerification{}
	}
	return &tls.Config{
		// the device speaks TLS 1.2 only
		MinVersion: tls.VersionTLS12,
		MaxVersion: tls.VersionTLS12,
		ServerName: serverName,
		// the chain is checked by verifier alone
		InsecureSkipVerify:    true,
		VerifyPeerCertificate: verifier.VerifyPeerCertificate,
	}
}

// Conn - one TLS over TCP connection to the device.
// Writes are queued and flushed by Drive, reads are served from the plaintext
// pulled in by Drive. Conn is not safe for concurrent use.
type Conn struct {
	raw   net.Conn
	tls   *tls.Conn
	rx    bytes.Buffer
	tx    bytes.Buffer
	probe time.Duration
	// sticky, first hard I/O error
	err error
}

// Dial - connect the TCP socket, the TLS handshake is left to Handshake
func Dial(ctx context.Context, host string, port uint16, cfg Config) (*Conn, error) {
	addr := tools.ToAddressString(host, port)
	dialer := net.Dialer{Timeout: cfg.DialTimeout}
	raw, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "connect %s", addr)
	}
	probe := cfg.ProbeInterval
	if probe <= 0 {
		probe = variable.ProbeInterval
	}
	return &Conn{
		raw:   raw,
		tls:   tls.Client(raw, cfg.tlsConfig(host)),
		probe: probe,
	}, nil
}

// Handshake - blocks until the TLS handshake completes or fails
func (c *Conn) Handshake(ctx context.Context) error {
	if err := c.tls.HandshakeContext(ctx); err != nil {
		return errors.Wrap(err, "tls handshake")
	}
	state := c.tls.ConnectionState()
	tools.TraceF("tls handshake done: version = 0x%x, cipher = %s",
		state.Version, tls.CipherSuiteName(state.CipherSuite))
	return nil
}

// Write - queue p, sent by the next Drive
func (c *Conn) Write(p []byte) (int, error) {
	if c.err != nil {
		return 0, c.err
	}
	return c.tx.Write(p)
}

// Read - consume buffered plaintext
func (c *Conn) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if c.rx.Len() == 0 {
		return 0, ErrWouldBlock
	}
	return c.rx.Read(p)
}

// Buffered - plaintext available to Read
func (c *Conn) Buffered() int {
	return c.rx.Len()
}

// Drive - run one I/O step: flush queued writes, pull whatever TLS records are
// ready, then hand the buffered plaintext to onData.
//
// With canBlock the step waits until it made progress (a write flushed or a
// record read). Without it the socket is only probed for a short interval,
// and onData still runs since earlier ticks may have left data behind.
// Nothing is read while variable.MaxBufferedBytes are pending, so a device
// sending faster than the caller consumes is held back by TCP.
func (c *Conn) Drive(canBlock bool, onData func(Source) error) error {
	if c.err != nil {
		return c.err
	}
	written, err := c.flush()
	if err != nil {
		return c.fail(err)
	}
	read := 0
	if c.rx.Len() < variable.MaxBufferedBytes {
		if read, err = c.pump(canBlock && written == 0); err != nil {
			return c.fail(err)
		}
	}
	tools.TraceF("tick: block = %v, written = %d, read = %d, buffered = %d", canBlock, written, read, c.rx.Len())
	return onData(c)
}

// Discard - drop the buffered plaintext, returns the number of bytes dropped
func (c *Conn) Discard() int {
	n := c.rx.Len()
	c.rx.Reset()
	return n
}

// Close - close the TLS session and the socket
func (c *Conn) Close() error {
	c.tx.Reset()
	c.rx.Reset()
	return c.tls.Close()
}

func (c *Conn) flush() (int, error) {
	n := c.tx.Len()
	if n == 0 {
		return 0, nil
	}
	if _, err := c.tls.Write(c.tx.Bytes()); err != nil {
		return 0, errors.Wrap(err, "tls write")
	}
	c.tx.Reset()
	return n, nil
}

// pump - read records until the probe deadline expires or rx is full, the
// first read waits without deadline when wait is set
func (c *Conn) pump(wait bool) (n int, err error) {
	buffer := pool.Get(readBufferSize)
	defer pool.Put(buffer)
	deadline := time.Time{}
	if !wait {
		deadline = time.Now().Add(c.probe)
	}
	if err := c.tls.SetReadDeadline(deadline); err != nil {
		return 0, errors.Wrap(err, "set read deadline")
	}
	for n < variable.MaxTickBytes && c.rx.Len() < variable.MaxBufferedBytes {
		m, err := c.tls.Read(buffer)
		c.rx.Write(buffer[:m])
		n += m
		if err != nil {
			if isTimeout(err) {
				return n, nil
			}
			return n, errors.Wrap(err, "tls read")
		}
		if deadline.IsZero() {
			deadline = time.Now().Add(c.probe)
			if err := c.tls.SetReadDeadline(deadline); err != nil {
				return n, errors.Wrap(err, "set read deadline")
			}
		}
	}
	return n, nil
}

func (c *Conn) fail(err error) error {
	c.err = err
	return err
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
