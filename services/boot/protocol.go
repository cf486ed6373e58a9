// Package boot implements the self-reprogramming firmware update: the
// chunked transfer into the staging region and the staged-to-resident
// installation. The bare-metal part of the install lives behind
// platform.SelfProgrammer; everything here is plain checked code.
package boot

import "brewcode-go/errcode"

// Wire framing. A transfer is a stream of chunk frames terminated by an
// end frame, both introduced by a two-byte marker:
//
//	chunk: A5 5A | seq u32le | len u16le (<=256) | payload | xor checksum
//	end:   0F F0
//
// Each accepted chunk and the end frame are acknowledged with a single
// 0x00 byte; any abort sends one nonzero error byte and ends the session.
const (
	chunkMarker0 = 0xA5
	chunkMarker1 = 0x5A
	endMarker0   = 0x0F
	endMarker1   = 0xF0

	maxChunkPayload = 256

	chunkHeaderLen = 6 // seq + len

	defaultChunkTimeoutMs uint32 = 5_000
	defaultTotalTimeoutMs uint32 = 30_000
)

// Acknowledgment bytes. Stable on the wire; the flasher tool decodes them.
const (
	wireOK         byte = 0x00
	wireBadMarker  byte = 0x01
	wireOutOfOrder byte = 0x02
	wireChecksum   byte = 0x03
	wireOversize   byte = 0x04
	wireOverflow   byte = 0x05
	wireTimeout    byte = 0x06
	wireFault      byte = 0x07
)

func wireByte(err error) byte {
	switch errcode.Of(err) {
	case errcode.OK:
		return wireOK
	case errcode.BootBadMarker:
		return wireBadMarker
	case errcode.BootOutOfOrder:
		return wireOutOfOrder
	case errcode.BootChecksum:
		return wireChecksum
	case errcode.BootOversize:
		return wireOversize
	case errcode.BootOverflow:
		return wireOverflow
	case errcode.BootTimeout, errcode.Timeout:
		return wireTimeout
	}
	return wireFault
}

func xorSum(p []byte) byte {
	var x byte
	for _, b := range p {
		x ^= b
	}
	return x
}
