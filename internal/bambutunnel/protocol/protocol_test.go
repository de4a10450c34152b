package protocol

import (
	"bytes"
	"encoding/binary"
	"strings"
	"testing"

	"golang.org/x/crypto/cryptobyte"
)

func TestNewControlPacket(t *testing.T) {
	t.Run("start 0x3000 elysia/ego layout", func(t *testing.T) {
		data := NewControlPacket(0x3000, "elysia", "ego", true).Serialize()
		if len(data) != ControlPacketSize {
			t.Fatalf("len(Serialize()) = %d, want %d", len(data), ControlPacketSize)
		}
		if word0 := binary.LittleEndian.Uint32(data[0:4]); word0&0x40 == 0 {
			t.Errorf("command word 0 = 0x%x, want bit 0x40 set", word0)
		}
		if word1 := binary.LittleEndian.Uint32(data[4:8]); word1 != 0x3000 {
			t.Errorf("command word 1 = 0x%x, want 0x3000", word1)
		}
		if reserved := data[8:16]; !bytes.Equal(reserved, make([]byte, 8)) {
			t.Errorf("command words 2-3 = %v, want zero", reserved)
		}
		user := data[16:48]
		if !bytes.Equal(user[:6], []byte("elysia")) {
			t.Errorf("user[:6] = %q, want %q", user[:6], "elysia")
		}
		if !bytes.Equal(user[6:], make([]byte, 26)) {
			t.Errorf("user[6:] = %v, want 26 zero bytes", user[6:])
		}
		pass := data[48:80]
		if !bytes.Equal(pass[:3], []byte("ego")) || !bytes.Equal(pass[3:], make([]byte, 29)) {
			t.Errorf("password field = %v, want \"ego\" zero padded", pass)
		}
	})

	t.Run("stop packet clears start bit", func(t *testing.T) {
		p := NewControlPacket(0x3000, "bblp", "12345678", false)
		data := p.Serialize()
		if word0 := binary.LittleEndian.Uint32(data[0:4]); word0 != 0 {
			t.Errorf("command word 0 = 0x%x, want 0", word0)
		}
		if p.IsStart() {
			t.Errorf("IsStart() = true, want false")
		}
	})

	t.Run("credentials longer than 32 bytes are truncated", func(t *testing.T) {
		long := strings.Repeat("u", 40)
		p := NewControlPacket(0x3000, long, long, true)
		if got := p.Username(); got != long[:CredentialSize] {
			t.Errorf("Username() = %q, want %q", got, long[:CredentialSize])
		}
		if got := len(p.Serialize()); got != ControlPacketSize {
			t.Errorf("len(Serialize()) = %d, want %d", got, ControlPacketSize)
		}
	})
}

func TestDecodeControlPacket(t *testing.T) {
	want := NewControlPacket(0x3000, "bblp", "secret", true)
	got, err := DecodeControlPacket(want.Serialize())
	if err != nil {
		t.Fatalf("DecodeControlPacket() error = %v", err)
	}
	if got != want {
		t.Errorf("DecodeControlPacket() = %v, want %v", got, want)
	}
	if got.RequestType() != 0x3000 || got.Username() != "bblp" || got.PasswordString() != "secret" || !got.IsStart() {
		t.Errorf("accessors = (0x%x, %q, %q, %v), want (0x3000, bblp, secret, true)",
			got.RequestType(), got.Username(), got.PasswordString(), got.IsStart())
	}
	if _, err := DecodeControlPacket(make([]byte, ControlPacketSize-1)); err == nil {
		t.Errorf("DecodeControlPacket(short) error = nil, want error")
	}
}

func TestDecodeFrameHeader(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		want    FrameHeader
		wantErr bool
	}{
		{
			name: "little endian fields",
			data: []byte{
				0x10, 0x27, 0x00, 0x00, // 10000
				0x01, 0x00, 0x00, 0x00, // track 1
				0xff, 0xff, 0xff, 0xff, // flags -1
				0xaa, 0xbb, 0xcc, 0xdd, // reserved, ignored
			},
			want: FrameHeader{Length: 10000, Track: 1, Flags: -1},
		},
		{
			name: "oversized length is not rejected",
			data: append([]byte{0xff, 0xff, 0xff, 0xff}, make([]byte, 12)...),
			want: FrameHeader{Length: 0xffffffff},
		},
		{
			name: "extra bytes after the header are ignored",
			data: append(FrameHeader{Length: 3, Track: 2, Flags: 4}.Serialize(), 1, 2, 3),
			want: FrameHeader{Length: 3, Track: 2, Flags: 4},
		},
		{
			name:    "too short",
			data:    make([]byte, FrameHeaderSize-1),
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeFrameHeader(tt.data)
			if (err != nil) != tt.wantErr {
				t.Fatalf("DecodeFrameHeader() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("DecodeFrameHeader() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFrameHeaderSerialize(t *testing.T) {
	data := FrameHeader{Length: 32549, Track: 0, Flags: 1}.Serialize()
	if len(data) != FrameHeaderSize {
		t.Fatalf("len(Serialize()) = %d, want %d", len(data), FrameHeaderSize)
	}
	if !bytes.Equal(data[12:], make([]byte, 4)) {
		t.Errorf("reserved = %v, want zero", data[12:])
	}
	if got := binary.LittleEndian.Uint32(data[0:4]); got != 32549 {
		t.Errorf("length = %d, want 32549", got)
	}
}

func TestReadUint32LE(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		want     uint32
		wantOK   bool
		wantLeft int
	}{
		{name: "little endian", data: []byte{0x00, 0x30, 0x00, 0x00}, want: 0x3000, wantOK: true, wantLeft: 0},
		{name: "leaves the rest", data: []byte{0x01, 0x00, 0x00, 0x00, 0x09}, want: 1, wantOK: true, wantLeft: 1},
		{name: "short input is not consumed", data: []byte{0x01, 0x02, 0x03}, wantOK: false, wantLeft: 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := cryptobyte.String(tt.data)
			var got uint32
			ok := readUint32LE(&s, &got)
			if ok != tt.wantOK {
				t.Fatalf("readUint32LE() ok = %v, want %v", ok, tt.wantOK)
			}
			if got != tt.want {
				t.Errorf("readUint32LE() = 0x%x, want 0x%x", got, tt.want)
			}
			if len(s) != tt.wantLeft {
				t.Errorf("readUint32LE() left %d bytes, want %d", len(s), tt.wantLeft)
			}
		})
	}
}
