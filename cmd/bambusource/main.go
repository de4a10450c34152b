// Command bambusource builds a drop-in replacement of the vendor camera library:
//
//	go build -buildmode=c-shared -o libBambuSource.so ./cmd/bambusource
package main

/*
#include <stdint.h>
#include <stdlib.h>
#include <stdbool.h>

typedef uintptr_t Bambu_Tunnel;

typedef struct {
	int itrack;
	int size;
	int flags;
	unsigned char *buffer;
	unsigned long long decode_time;
} Bambu_Sample;

typedef struct {
	unsigned int type;
	int sub_type;
	int width;
	int height;
	int frame_rate;
	int format_type;
	int format_size;
	int max_frame_size;
	const unsigned char *format_buffer;
} Bambu_StreamInfo;
*/
import "C"

import (
	"os"
	"runtime/cgo"
	"unsafe"

	"github.com/rectcircle/bambusource/internal/bambusource"
	"github.com/rectcircle/bambusource/internal/bambutunnel"
	"github.com/rectcircle/bambusource/internal/variable"
	log "github.com/sirupsen/logrus"
)

// cAllocator - sample buffers on the C heap, so the host may keep reading
// them after the call returns
type cAllocator struct{}

func (cAllocator) Alloc(size int) []byte {
	if size == 0 {
		return []byte{}
	}
	p := C.malloc(C.size_t(size))
	if p == nil {
		panic("bambusource: out of memory")
	}
	return unsafe.Slice((*byte)(p), size)[:0]
}

func (cAllocator) Free(buf []byte) {
	if cap(buf) == 0 {
		return
	}
	C.free(unsafe.Pointer(unsafe.SliceData(buf)))
}

func init() {
	log.SetOutput(os.Stderr)
	if os.Getenv("BAMBUSOURCE_DEBUG") != "" {
		log.SetLevel(log.DebugLevel)
		variable.EnableTraceLog = true
	}
}

func tunnelOf(handle C.Bambu_Tunnel) *bambusource.Tunnel {
	if handle == 0 {
		return nil
	}
	tunnel, _ := cgo.Handle(handle).Value().(*bambusource.Tunnel)
	return tunnel
}

//export Bambu_Create
func Bambu_Create(out *C.Bambu_Tunnel, path *C.char) C.int {
	if out == nil || path == nil {
		return bambusource.CodeGenericError
	}
	tunnel, code := bambusource.Create(C.GoString(path), bambutunnel.WithAllocator(cAllocator{}))
	if code != bambusource.CodeOK {
		return C.int(code)
	}
	*out = C.Bambu_Tunnel(cgo.NewHandle(tunnel))
	return bambusource.CodeOK
}

//export Bambu_Destroy
func Bambu_Destroy(handle C.Bambu_Tunnel) {
	if handle == 0 {
		return
	}
	tunnelOf(handle).Destroy()
	cgo.Handle(handle).Delete()
}

//export Bambu_Open
func Bambu_Open(handle C.Bambu_Tunnel) C.int {
	return C.int(tunnelOf(handle).Open())
}

//export Bambu_Close
func Bambu_Close(handle C.Bambu_Tunnel) {
	tunnelOf(handle).Close()
}

//export Bambu_StartStream
func Bambu_StartStream(handle C.Bambu_Tunnel, video C.bool) C.int {
	return C.int(tunnelOf(handle).StartStream(bool(video)))
}

//export Bambu_StartStreamEx
func Bambu_StartStreamEx(handle C.Bambu_Tunnel, streamType C.int) C.int {
	return C.int(tunnelOf(handle).StartStreamEx(int32(streamType)))
}

//export Bambu_GetStreamCount
func Bambu_GetStreamCount(handle C.Bambu_Tunnel) C.int {
	return C.int(tunnelOf(handle).StreamCount())
}

//export Bambu_GetStreamInfo
func Bambu_GetStreamInfo(handle C.Bambu_Tunnel, index C.int, info *C.Bambu_StreamInfo) C.int {
	if info == nil {
		return bambusource.CodeFailure
	}
	stream, code := tunnelOf(handle).StreamInfo(int32(index))
	if code != bambusource.CodeOK {
		return C.int(code)
	}
	*info = C.Bambu_StreamInfo{
		_type:          C.uint(stream.StreamType),
		sub_type:       C.int(stream.SubType),
		width:          C.int(stream.Width),
		height:         C.int(stream.Height),
		frame_rate:     C.int(stream.FrameRate),
		format_type:    C.int(stream.FormatType),
		format_size:    C.int(stream.FormatSize),
		max_frame_size: C.int(stream.MaxFrameSize),
		format_buffer:  nil,
	}
	return bambusource.CodeOK
}

//export Bambu_ReadSample
func Bambu_ReadSample(handle C.Bambu_Tunnel, sample *C.Bambu_Sample) C.int {
	tunnel := tunnelOf(handle)
	if tunnel == nil || sample == nil {
		return bambusource.CodeFailure
	}
	code := tunnel.ReadSample()
	if code != bambusource.CodeOK {
		return C.int(code)
	}
	s := tunnel.Sample()
	sample.itrack = C.int(s.Track)
	sample.size = C.int(len(s.Buffer))
	sample.flags = C.int(s.Flags)
	sample.decode_time = C.ulonglong(s.DecodeTime)
	sample.buffer = nil
	if len(s.Buffer) > 0 {
		sample.buffer = (*C.uchar)(unsafe.Pointer(unsafe.SliceData(s.Buffer)))
	}
	return bambusource.CodeOK
}

//export Bambu_SendMessage
func Bambu_SendMessage(handle C.Bambu_Tunnel, ctrl C.int, data *C.char, length C.int) C.int {
	return C.int(tunnelOf(handle).SendMessage(int32(ctrl), nil))
}

//export Bambu_RecvMessage
func Bambu_RecvMessage(handle C.Bambu_Tunnel, ctrl *C.int, data *C.char, length *C.int) C.int {
	return C.int(tunnelOf(handle).RecvMessage())
}

//export Bambu_SetLogger
func Bambu_SetLogger(handle C.Bambu_Tunnel, logger unsafe.Pointer, ctx unsafe.Pointer) {}

//export Bambu_Init
func Bambu_Init() {}

//export Bambu_Deinit
func Bambu_Deinit() {}

//export Bambu_GetLastErrorMsg
func Bambu_GetLastErrorMsg() *C.char {
	return nil
}

//export Bambu_GetDuration
func Bambu_GetDuration(handle C.Bambu_Tunnel) C.ulong {
	return ^C.ulong(0)
}

//export Bambu_FreeLogMsg
func Bambu_FreeLogMsg(msg *C.char) {}

func main() {}
