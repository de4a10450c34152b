package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"
	"golang.org/x/crypto/cryptobyte"
)

// FrameHeaderSize - Length(4) + Track(4) + Flags(4) + reserved(4)
const FrameHeaderSize = 16

// FrameHeader - prefix of every sample in the stream, use Little-Endian
type FrameHeader struct {
	// payload length following the header, never checked against a maximum
	Length uint32
	// track id of the sample
	Track int32
	// sample flags, passed through to the caller
	Flags int32
}

// DecodeFrameHeader - parse the first FrameHeaderSize bytes of data
func DecodeFrameHeader(data []byte) (h FrameHeader, err error) {
	if len(data) < FrameHeaderSize {
		return h, errors.Errorf("frame header too short: expected %d bytes, got %d", FrameHeaderSize, len(data))
	}
	var length, track, flags uint32
	s := cryptobyte.String(data[:FrameHeaderSize])
	if !readUint32LE(&s, &length) || !readUint32LE(&s, &track) || !readUint32LE(&s, &flags) || !s.Skip(4) || !s.Empty() {
		return h, errors.New("malformed frame header")
	}
	h.Length = length
	h.Track = int32(track)
	h.Flags = int32(flags)
	return h, nil
}

// readUint32LE - cryptobyte only reads big-endian integers
func readUint32LE(s *cryptobyte.String, out *uint32) bool {
	var v []byte
	if !s.ReadBytes(&v, 4) {
		return false
	}
	*out = binary.LittleEndian.Uint32(v)
	return true
}

// Serialize - Serialize FrameHeader to FrameHeaderSize bytes, reserved bytes are zero
func (h FrameHeader) Serialize() []byte {
	data := make([]byte, FrameHeaderSize)
	binary.LittleEndian.PutUint32(data[0:4], h.Length)
	binary.LittleEndian.PutUint32(data[4:8], uint32(h.Track))
	binary.LittleEndian.PutUint32(data[8:12], uint32(h.Flags))
	return data
}

func (h FrameHeader) String() string {
	return fmt.Sprintf("FrameHeader{Length:%d, Track:%d, Flags:0x%x}", h.Length, h.Track, h.Flags)
}
