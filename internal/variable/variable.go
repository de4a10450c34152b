package variable

import (
	"os"
	"os/user"
	"path"
	"time"

	log "github.com/sirupsen/logrus"
)

var (
	// ConfigBaseDir - the project config dir
	ConfigBaseDir string
	// FakeDeviceCertFileName - fake device self-signed certificate + key (PEM) file name
	FakeDeviceCertFileName string = "fakedevice.pem"
	// EnableTraceLog - log every transport tick and state transition
	EnableTraceLog bool = false
)

var (
	// ChunkSize - max bytes copied into a pending sample per read
	ChunkSize = 4096
	// ProbeInterval - how long a non-blocking tick waits for the socket
	ProbeInterval = time.Millisecond
	// MaxTickBytes - upper bound of plaintext pulled from TLS in one tick
	MaxTickBytes = 1 << 20
	// MaxBufferedBytes - reading stops while this much plaintext waits to be consumed
	MaxBufferedBytes = 1 << 20
	// DefaultDevicePort - camera port of the device in LAN mode
	DefaultDevicePort uint16 = 6000
)

const (
	// StreamTypeVideo - request type of the camera video stream
	StreamTypeVideo = int32(0x3000)
	// StreamTypeNone - request type used by Bambu_StartStream(video = false)
	StreamTypeNone = int32(0)
)

func init() {
	u, err := user.Current()
	if err != nil {
		log.Warnf("%s, fallback to temp dir", err.Error())
		ConfigBaseDir = path.Join(os.TempDir(), ".bambusource")
		return
	}
	ConfigBaseDir = path.Join(u.HomeDir, ".bambusource")
}
