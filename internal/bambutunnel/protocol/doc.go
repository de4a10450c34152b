/*
Package protocol - wire structures of the local camera tunnel

1. ControlPacket - 72 bytes, start/stop command carrying credentials (client -> device)

2. FrameHeader - 16 bytes prefix of every sample in the stream (device -> client)

All integers are little-endian. Every field is read or written at a fixed
offset, nothing depends on the memory layout of a Go struct.

Stream layout:
	client                                     device
	  | --- ControlPacket{start, 0x3000} -----> |
	  | <--- FrameHeader | payload[Length] ---- |
	  | <--- FrameHeader | payload[Length] ---- |
	  |                 ...                     |
	  | --- ControlPacket{stop, 0x3000} ------> |
*/
package protocol
