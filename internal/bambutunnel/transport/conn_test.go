package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"io"
	"net"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/rectcircle/bambusource/internal/fakedevice"
	"github.com/rectcircle/bambusource/internal/variable"
)

// startTLSServer - TLS 1.2 listener on a random port, handle runs for each client
func startTLSServer(t *testing.T, handle func(conn net.Conn)) (uint16, *x509.Certificate) {
	t.Helper()
	cert, err := fakedevice.NewCertificate()
	if err != nil {
		t.Fatalf("NewCertificate() error = %v", err)
	}
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		t.Fatalf("ParseCertificate() error = %v", err)
	}
	listener, err := tls.Listen("tcp", "127.0.0.1:0", &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
		MaxVersion:   tls.VersionTLS12,
	})
	if err != nil {
		t.Fatalf("tls.Listen() error = %v", err)
	}
	t.Cleanup(func() { listener.Close() })
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				handle(conn)
			}()
		}
	}()
	return uint16(listener.Addr().(*net.TCPAddr).Port), leaf
}

func echo(conn net.Conn) {
	io.Copy(conn, conn)
}

func dialTest(t *testing.T, host string, port uint16, cfg Config) *Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := Dial(ctx, host, port, cfg)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := conn.Handshake(ctx); err != nil {
		t.Fatalf("Handshake() error = %v", err)
	}
	return conn
}

// driveUntil - non-blocking ticks until want bytes are buffered
func driveUntil(t *testing.T, conn *Conn, want int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if err := conn.Drive(false, func(Source) error { return nil }); err != nil {
			t.Fatalf("Drive() error = %v", err)
		}
		if conn.Buffered() >= want {
			return
		}
	}
	t.Fatalf("Buffered() = %d after 5s, want %d", conn.Buffered(), want)
}

func TestConn_NothingToRead(t *testing.T) {
	port, _ := startTLSServer(t, echo)
	conn := dialTest(t, "127.0.0.1", port, Config{})

	called := false
	err := conn.Drive(false, func(src Source) error {
		called = true
		if n, err := src.Read(make([]byte, 1)); n != 0 || err != ErrWouldBlock {
			t.Errorf("Read() = %d, %v, want 0, %v", n, err, ErrWouldBlock)
		}
		return nil
	})
	if err != nil {
		t.Errorf("Drive() error = %v", err)
	}
	if !called {
		t.Errorf("Drive() did not call onData")
	}
}

func TestConn_Echo(t *testing.T) {
	port, _ := startTLSServer(t, echo)
	conn := dialTest(t, "127.0.0.1", port, Config{ProbeInterval: 5 * time.Millisecond})

	payload := bytes.Repeat([]byte("camera"), 10000)
	if _, err := conn.Write(payload); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	driveUntil(t, conn, len(payload))

	got := make([]byte, len(payload))
	for read := 0; read < len(got); {
		n, err := conn.Read(got[read:])
		if err != nil {
			t.Fatalf("Read() error = %v", err)
		}
		read += n
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("Read() payload mismatch")
	}
	if conn.Buffered() != 0 {
		t.Errorf("Buffered() = %d, want 0", conn.Buffered())
	}
}

func TestConn_BlockingDrive(t *testing.T) {
	port, _ := startTLSServer(t, func(conn net.Conn) {
		time.Sleep(50 * time.Millisecond)
		conn.Write([]byte("late"))
		io.Copy(io.Discard, conn)
	})
	conn := dialTest(t, "127.0.0.1", port, Config{})

	var buffered int
	if err := conn.Drive(true, func(src Source) error {
		buffered = src.Buffered()
		return nil
	}); err != nil {
		t.Fatalf("Drive() error = %v", err)
	}
	if buffered == 0 {
		t.Errorf("Drive(true) returned before any data arrived")
	}
}

func TestConn_StickyError(t *testing.T) {
	port, _ := startTLSServer(t, func(conn net.Conn) {
		conn.Write([]byte("bye"))
	})
	conn := dialTest(t, "127.0.0.1", port, Config{})

	var first error
	deadline := time.Now().Add(5 * time.Second)
	for first == nil && time.Now().Before(deadline) {
		first = conn.Drive(false, func(Source) error { return nil })
	}
	if first == nil {
		t.Fatalf("Drive() never reported the closed connection")
	}
	if err := conn.Drive(false, func(Source) error { return nil }); err != first {
		t.Errorf("Drive() after failure = %v, want %v", err, first)
	}
	if _, err := conn.Write([]byte("x")); err != first {
		t.Errorf("Write() after failure = %v, want %v", err, first)
	}
	// bytes received before the close stay readable
	got := make([]byte, 8)
	if n, _ := conn.Read(got); string(got[:n]) != "bye" {
		t.Errorf("Read() = %q, want %q", got[:n], "bye")
	}
}

func TestConn_BufferLimit(t *testing.T) {
	defer func(old int) { variable.MaxBufferedBytes = old }(variable.MaxBufferedBytes)
	variable.MaxBufferedBytes = 256 * 1024

	port, _ := startTLSServer(t, func(conn net.Conn) {
		chunk := make([]byte, 64*1024)
		for {
			if _, err := conn.Write(chunk); err != nil {
				return
			}
		}
	})
	conn := dialTest(t, "127.0.0.1", port, Config{ProbeInterval: 2 * time.Millisecond})
	limit := variable.MaxBufferedBytes + readBufferSize

	driveUntil(t, conn, variable.MaxBufferedBytes)
	for i := 0; i < 200; i++ {
		if err := conn.Drive(false, func(Source) error { return nil }); err != nil {
			t.Fatalf("Drive() error = %v", err)
		}
	}
	if got := conn.Buffered(); got > limit {
		t.Errorf("Buffered() with nothing consumed = %d, want <= %d", got, limit)
	}

	// draining lets reading resume
	if n := conn.Discard(); n < variable.MaxBufferedBytes {
		t.Errorf("Discard() = %d, want >= %d", n, variable.MaxBufferedBytes)
	}
	if conn.Buffered() != 0 {
		t.Errorf("Buffered() after Discard() = %d, want 0", conn.Buffered())
	}
	driveUntil(t, conn, 1)
	if got := conn.Buffered(); got > limit {
		t.Errorf("Buffered() after resuming = %d, want <= %d", got, limit)
	}
}

func TestConn_OnDataError(t *testing.T) {
	port, _ := startTLSServer(t, echo)
	conn := dialTest(t, "127.0.0.1", port, Config{})
	want := errors.New("decoder failed")
	if err := conn.Drive(false, func(Source) error { return want }); err != want {
		t.Errorf("Drive() error = %v, want %v", err, want)
	}
}

func TestDial_Refused(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen() error = %v", err)
	}
	port := uint16(listener.Addr().(*net.TCPAddr).Port)
	listener.Close()
	if _, err := Dial(context.Background(), "127.0.0.1", port, Config{DialTimeout: time.Second}); err == nil {
		t.Errorf("Dial() to a closed port error = nil")
	}
}

func TestHandshake_Verifier(t *testing.T) {
	port, leaf := startTLSServer(t, echo)
	trusted := x509.NewCertPool()
	trusted.AddCert(leaf)

	tests := []struct {
		name     string
		host     string
		verifier Verifier
		wantErr  bool
	}{
		{"default trusts anything", "127.0.0.1", nil, false},
		{"no verification", "localhost", NoVerification{}, false},
		{"chain with trusted root", "localhost", ChainVerification{Roots: trusted, ServerName: "localhost"}, false},
		{"chain without name check", "127.0.0.1", ChainVerification{Roots: trusted}, false},
		{"chain with wrong name", "localhost", ChainVerification{Roots: trusted, ServerName: "printer.lan"}, true},
		{"chain with unknown root", "localhost", ChainVerification{Roots: x509.NewCertPool(), ServerName: "localhost"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			conn, err := Dial(ctx, tt.host, port, Config{Verifier: tt.verifier})
			if err != nil {
				t.Fatalf("Dial() error = %v", err)
			}
			defer conn.Close()
			if err := conn.Handshake(ctx); (err != nil) != tt.wantErr {
				t.Errorf("Handshake() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestChainVerification_NoCertificate(t *testing.T) {
	if err := (ChainVerification{}).VerifyPeerCertificate(nil, nil); err == nil {
		t.Errorf("VerifyPeerCertificate(nil) error = nil")
	}
	if err := (ChainVerification{}).VerifyPeerCertificate([][]byte{{1, 2, 3}}, nil); err == nil {
		t.Errorf("VerifyPeerCertificate(garbage) error = nil")
	}
}
