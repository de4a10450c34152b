package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"
	"golang.org/x/crypto/cryptobyte"
)

const (
	// ControlPacketSize - 4 command words + user + password
	ControlPacketSize = 4*4 + 2*CredentialSize
	// CredentialSize - user and password field width, zero padded
	CredentialSize = 32
	// CommandStart - bit of command word 0 requesting the stream to start
	CommandStart = uint32(0x40)
)

// ControlPacket - start/stop request of a stream, use Little-Endian
type ControlPacket struct {
	// word 0: flags (CommandStart), word 1: request type, word 2-3: reserved
	Command [4]uint32
	// left-justified, zero-padded
	User [CredentialSize]byte
	// left-justified, zero-padded
	Password [CredentialSize]byte
}

// NewControlPacket - credentials longer than CredentialSize are truncated silently
func NewControlPacket(requestType int32, user, password string, start bool) ControlPacket {
	var p ControlPacket
	p.Command[1] = uint32(requestType)
	if start {
		p.Command[0] |= CommandStart
	}
	copy(p.User[:], user)
	copy(p.Password[:], password)
	return p
}

// IsStart - whether the packet asks the device to start the stream
func (p ControlPacket) IsStart() bool {
	return p.Command[0]&CommandStart != 0
}

// RequestType - requested stream type (0x3000 for the camera)
func (p ControlPacket) RequestType() int32 {
	return int32(p.Command[1])
}

// Username - user field without the zero padding
func (p ControlPacket) Username() string {
	return trimZero(p.User[:])
}

// PasswordString - password field without the zero padding
func (p ControlPacket) PasswordString() string {
	return trimZero(p.Password[:])
}

// Serialize - Serialize ControlPacket to exactly ControlPacketSize bytes
func (p ControlPacket) Serialize() []byte {
	b := cryptobyte.NewFixedBuilder(make([]byte, 0, ControlPacketSize))
	var word [4]byte
	for _, cmd := range p.Command {
		binary.LittleEndian.PutUint32(word[:], cmd)
		b.AddBytes(word[:])
	}
	b.AddBytes(p.User[:])
	b.AddBytes(p.Password[:])
	return b.BytesOrPanic()
}

// DecodeControlPacket - parse the first ControlPacketSize bytes of data
func DecodeControlPacket(data []byte) (p ControlPacket, err error) {
	if len(data) < ControlPacketSize {
		return p, errors.Errorf("control packet too short: expected %d bytes, got %d", ControlPacketSize, len(data))
	}
	s := cryptobyte.String(data[:ControlPacketSize])
	for i := range p.Command {
		if !readUint32LE(&s, &p.Command[i]) {
			return p, errors.Errorf("malformed control packet: command word %d", i)
		}
	}
	if !s.CopyBytes(p.User[:]) || !s.CopyBytes(p.Password[:]) || !s.Empty() {
		return p, errors.New("malformed control packet: credentials")
	}
	return p, nil
}

func (p ControlPacket) String() string {
	return fmt.Sprintf("ControlPacket{Start:%v, RequestType:0x%x, User:%q}", p.IsStart(), p.RequestType(), p.Username())
}

func trimZero(field []byte) string {
	if i := bytes.IndexByte(field, 0); i >= 0 {
		return string(field[:i])
	}
	return string(field)
}
