package boot

import "encoding/binary"

// Client-side framing, shared with the host flasher tool.

// MaxChunkPayload is the largest payload one chunk frame may carry.
const MaxChunkPayload = maxChunkPayload

// AckOK is the single-byte success acknowledgment.
const AckOK byte = wireOK

// ChunkFrame builds one chunk frame around payload.
func ChunkFrame(seq uint32, payload []byte) []byte {
	f := make([]byte, 0, 2+chunkHeaderLen+len(payload)+1)
	f = append(f, chunkMarker0, chunkMarker1)
	f = binary.LittleEndian.AppendUint32(f, seq)
	f = binary.LittleEndian.AppendUint16(f, uint16(len(payload)))
	f = append(f, payload...)
	return append(f, xorSum(payload))
}

// EndFrame builds the end-of-transfer frame.
func EndFrame() []byte { return []byte{endMarker0, endMarker1} }

// AckName decodes an acknowledgment byte for diagnostics.
func AckName(b byte) string {
	switch b {
	case wireOK:
		return "ok"
	case wireBadMarker:
		return "bad_marker"
	case wireOutOfOrder:
		return "out_of_order"
	case wireChecksum:
		return "checksum"
	case wireOversize:
		return "oversize"
	case wireOverflow:
		return "overflow"
	case wireTimeout:
		return "timeout"
	case wireFault:
		return "fault"
	}
	return "unknown"
}
