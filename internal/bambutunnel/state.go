package bambutunnel

import (
	"fmt"

	"github.com/rectcircle/bambusource/internal/bambutunnel/protocol"
)

type stateKind int

const (
	// stateUnset - opened, no stream was ever started
	stateUnset stateKind = iota
	// stateInitial - stream stopped
	stateInitial
	// stateProcessStream - waiting for the next frame header
	stateProcessStream
	// stateReceivingSample - header known, payload in flight
	stateReceivingSample
)

func (k stateKind) String() string {
	switch k {
	case stateUnset:
		return "Unset"
	case stateInitial:
		return "Initial"
	case stateProcessStream:
		return "ProcessStream"
	case stateReceivingSample:
		return "ReceivingSample"
	default:
		return fmt.Sprintf("stateKind(%d)", int(k))
	}
}

// tunnelState - stream decoder state, header/data/remaining only meaningful
// while receiving a sample
type tunnelState struct {
	kind      stateKind
	header    protocol.FrameHeader
	data      []byte
	remaining int
}

func (s tunnelState) String() string {
	if s.kind != stateReceivingSample {
		return s.kind.String()
	}
	return fmt.Sprintf("%s{%s, received = %d, remaining = %d}", s.kind, s.header, len(s.data), s.remaining)
}

// ioEvent - outcome of one I/O tick
type ioEvent struct {
	// a complete header was consumed
	hasHeader bool
	header    protocol.FrameHeader
	// payload bytes appended to data[len:cap]
	received int
}

type readResult int

const (
	// resultNotStarted - no stream to read from
	resultNotStarted readResult = iota
	// resultRetry - nothing to deliver yet
	resultRetry
	// resultAllocate - header accepted, the caller attaches a buffer of header.Length
	resultAllocate
	// resultDeliver - the previous state holds a complete sample
	resultDeliver
)

// transition - next decoder state after ev, no I/O and no allocation happen here
func transition(s tunnelState, ev ioEvent) (tunnelState, readResult) {
	switch s.kind {
	case stateProcessStream:
		if !ev.hasHeader {
			return s, resultRetry
		}
		return tunnelState{
			kind:      stateReceivingSample,
			header:    ev.header,
			remaining: int(ev.header.Length),
		}, resultAllocate
	case stateReceivingSample:
		if s.remaining == 0 {
			return tunnelState{kind: stateProcessStream}, resultDeliver
		}
		if ev.received > s.remaining {
			panic(fmt.Sprintf("bambutunnel: received %d bytes with %d remaining", ev.received, s.remaining))
		}
		s.data = s.data[:len(s.data)+ev.received]
		s.remaining -= ev.received
		return s, resultRetry
	default:
		return s, resultNotStarted
	}
}
