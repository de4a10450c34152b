// Package bambusource implements the entry points of the vendor camera
// library on top of a bambutunnel.Session, with the vendor's return codes.
// cmd/bambusource exports them to C.
package bambusource

import (
	"context"

	"github.com/rectcircle/bambusource/internal/bambutunnel"
	"github.com/rectcircle/bambusource/internal/variable"
	log "github.com/sirupsen/logrus"
)

// Return codes of the vendor ABI
const (
	CodeOK           = 0
	CodeWouldBlock   = 2
	CodeGenericError = 4
	CodeFailure      = -1
)

// StreamCount - the device always exposes a single video stream
const StreamCount = 1

// VideoStreamInfo - format metadata of the stream, the format buffer is always NULL
type VideoStreamInfo struct {
	StreamType   uint32
	SubType      int32
	Width        int32
	Height       int32
	FrameRate    int32
	FormatType   int32
	FormatSize   int32
	MaxFrameSize int32
}

// DefaultStreamInfo - what the vendor library reports, nothing is negotiated
var DefaultStreamInfo = VideoStreamInfo{
	StreamType:   0,
	SubType:      1,
	Width:        1280,
	Height:       720,
	FrameRate:    1,
	FormatType:   2,
	FormatSize:   0,
	MaxFrameSize: 32549,
}

// Tunnel - state behind one vendor handle.
// A nil *Tunnel stands for a null handle and fails every call.
type Tunnel struct {
	session *bambutunnel.Session
	// last sample handed out, passed back on every ReadSample so its buffer is released
	sample bambutunnel.Sample
}

// Create - parse descriptor, nothing is dialed yet. Returns CodeGenericError
// on a malformed descriptor.
func Create(descriptor string, opts ...bambutunnel.Option) (*Tunnel, int) {
	settings, err := bambutunnel.ParseSettings(descriptor)
	if err != nil {
		log.Errorf("create: %s", err)
		return nil, CodeGenericError
	}
	return &Tunnel{session: bambutunnel.NewSession(settings, opts...)}, CodeOK
}

// Session - the underlying session
func (t *Tunnel) Session() *bambutunnel.Session {
	if t == nil {
		return nil
	}
	return t.session
}

// Open - connect and handshake
func (t *Tunnel) Open() int {
	if t == nil {
		return CodeFailure
	}
	return code(t.session.Open(context.Background()))
}

// Close - stop the stream, the vendor call has no result so errors are
// only visible in the session log
func (t *Tunnel) Close() {
	if t == nil {
		return
	}
	t.session.Close()
}

// StartStream - video selects the video request type, anything else sends 0
func (t *Tunnel) StartStream(video bool) int {
	if video {
		return t.StartStreamEx(variable.StreamTypeVideo)
	}
	return t.StartStreamEx(variable.StreamTypeNone)
}

// StartStreamEx - start streamType
func (t *Tunnel) StartStreamEx(streamType int32) int {
	if t == nil {
		return CodeFailure
	}
	return code(t.session.Start(streamType))
}

// ReadSample - CodeOK with Sample filled, CodeWouldBlock while incomplete,
// CodeFailure otherwise
func (t *Tunnel) ReadSample() int {
	if t == nil {
		return CodeFailure
	}
	return code(t.session.ReadSample(&t.sample))
}

// Sample - the last sample delivered by ReadSample, valid until the next call
func (t *Tunnel) Sample() bambutunnel.Sample {
	if t == nil {
		return bambutunnel.Sample{}
	}
	return t.sample
}

// StreamCount - always StreamCount
func (t *Tunnel) StreamCount() int {
	if t == nil {
		return CodeFailure
	}
	return StreamCount
}

// StreamInfo - DefaultStreamInfo whatever the index
func (t *Tunnel) StreamInfo(index int32) (VideoStreamInfo, int) {
	if t == nil {
		return VideoStreamInfo{}, CodeFailure
	}
	return DefaultStreamInfo, CodeOK
}

// SendMessage - the control channel is not available, always CodeFailure
func (t *Tunnel) SendMessage(ctrl int32, data []byte) int {
	return CodeFailure
}

// RecvMessage - the control channel is not available, always CodeFailure
func (t *Tunnel) RecvMessage() int {
	return CodeFailure
}

// Destroy - close everything and free the sample buffers
func (t *Tunnel) Destroy() {
	if t == nil {
		return
	}
	t.session.Destroy()
	t.sample = bambutunnel.Sample{}
}

func code(err error) int {
	switch {
	case err == nil:
		return CodeOK
	case bambutunnel.IsRetryable(err):
		return CodeWouldBlock
	default:
		return CodeFailure
	}
}
