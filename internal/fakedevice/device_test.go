package fakedevice

import (
	"bytes"
	"crypto/tls"
	"io"
	"testing"
	"time"

	"github.com/rectcircle/bambusource/internal/bambutunnel/protocol"
	"github.com/rectcircle/bambusource/tools"
)

func startServer(t *testing.T, opts Options) *Server {
	t.Helper()
	cert, err := NewCertificate()
	if err != nil {
		t.Fatalf("NewCertificate() error = %v", err)
	}
	s, err := Listen("127.0.0.1", 0, cert, opts)
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func dialServer(t *testing.T, s *Server) *tls.Conn {
	t.Helper()
	conn, err := tls.Dial("tcp", tools.ToAddressString("127.0.0.1", s.Port()), &tls.Config{
		InsecureSkipVerify: true,
		MaxVersion:         tls.VersionTLS12,
	})
	if err != nil {
		t.Fatalf("tls.Dial() error = %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	conn.SetDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func readFrame(t *testing.T, conn io.Reader) (protocol.FrameHeader, []byte) {
	t.Helper()
	raw := make([]byte, protocol.FrameHeaderSize)
	if _, err := io.ReadFull(conn, raw); err != nil {
		t.Fatalf("read header: %v", err)
	}
	header, err := protocol.DecodeFrameHeader(raw)
	if err != nil {
		t.Fatalf("DecodeFrameHeader() error = %v", err)
	}
	payload := make([]byte, header.Length)
	if _, err := io.ReadFull(conn, payload); err != nil {
		t.Fatalf("read payload: %v", err)
	}
	return header, payload
}

func TestServer_Stream(t *testing.T) {
	frames := func(seq uint64) (int32, int32, []byte) {
		return 1, int32(seq), bytes.Repeat([]byte{byte(seq)}, int(seq)*100)
	}
	s := startServer(t, Options{Username: "bblp", Password: "secret", MaxFrames: 3, Frames: frames})
	conn := dialServer(t, s)

	if _, err := conn.Write(protocol.NewControlPacket(0x3000, "bblp", "secret", true).Serialize()); err != nil {
		t.Fatalf("write start: %v", err)
	}
	for seq := uint64(0); seq < 3; seq++ {
		header, payload := readFrame(t, conn)
		want := protocol.FrameHeader{Length: uint32(seq) * 100, Track: 1, Flags: int32(seq)}
		if header != want {
			t.Errorf("frame %d header = %v, want %v", seq, header, want)
		}
		if !bytes.Equal(payload, bytes.Repeat([]byte{byte(seq)}, int(seq)*100)) {
			t.Errorf("frame %d payload mismatch", seq)
		}
	}

	if _, err := conn.Write(protocol.NewControlPacket(0x3000, "bblp", "secret", false).Serialize()); err != nil {
		t.Fatalf("write stop: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for len(s.Packets()) < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	packets := s.Packets()
	if len(packets) != 2 {
		t.Fatalf("len(Packets()) = %d, want 2", len(packets))
	}
	if !packets[0].IsStart() || packets[1].IsStart() {
		t.Errorf("Packets() = %v, want start then stop", packets)
	}
}

func TestServer_RejectCredentials(t *testing.T) {
	s := startServer(t, Options{Username: "bblp", Password: "secret"})
	conn := dialServer(t, s)

	if _, err := conn.Write(protocol.NewControlPacket(0x3000, "bblp", "wrong", true).Serialize()); err != nil {
		t.Fatalf("write start: %v", err)
	}
	n, err := conn.Read(make([]byte, 1))
	if err == nil || n != 0 {
		t.Errorf("Read() = %d, %v, want connection closed", n, err)
	}
}

func TestSyntheticJPEG(t *testing.T) {
	_, _, payload := SyntheticJPEG(32549)(7)
	if len(payload) != 32549 {
		t.Fatalf("len(payload) = %d, want 32549", len(payload))
	}
	if !bytes.HasPrefix(payload, []byte{0xff, 0xd8}) || !bytes.HasSuffix(payload, []byte{0xff, 0xd9}) {
		t.Errorf("payload is not delimited by JPEG SOI/EOI markers")
	}
	if _, _, tiny := SyntheticJPEG(2)(0); len(tiny) != 2 {
		t.Errorf("len(SyntheticJPEG(2)) = %d, want 2", len(tiny))
	}
}

func TestLoadOrCreateCertificate(t *testing.T) {
	path := t.TempDir() + "/dev/fakedevice.pem"
	first, err := LoadOrCreateCertificate(path)
	if err != nil {
		t.Fatalf("LoadOrCreateCertificate() error = %v", err)
	}
	second, err := LoadOrCreateCertificate(path)
	if err != nil {
		t.Fatalf("LoadOrCreateCertificate() second error = %v", err)
	}
	if !bytes.Equal(first.Certificate[0], second.Certificate[0]) {
		t.Errorf("LoadOrCreateCertificate() generated a new certificate, want the cached one")
	}
}
