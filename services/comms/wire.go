package comms

import (
	"encoding/binary"

	"brewcode-go/types"
)

// Link framing in normal operation. Every frame carries a one-byte
// marker, a length, and a trailing xor checksum so the stream resyncs
// after noise:
//
//	command (inbound):  C3 | type u8 | seq u16le | len u8 | payload | xor
//	ack     (outbound): A9 | seq u16le | status u8 | len u8 | payload | xor
//	status  (outbound): 5B | len u8 | payload | xor
//
// The checksum covers the payload only; headers are short enough that
// the marker plus length sanity check carries them.
const (
	cmdMarker    byte = 0xC3
	ackMarker    byte = 0xA9
	statusMarker byte = 0x5B

	maxCmdPayload = 128

	statusLen = 32
)

func xorSum(p []byte) byte {
	var x byte
	for _, b := range p {
		x ^= b
	}
	return x
}

// frameParser consumes the inbound byte stream incrementally. Garbage
// between frames is skipped one byte at a time until a marker lines up.
type frameParser struct {
	buf []byte
}

// feed appends stream bytes and returns every complete command frame.
// Frames with a bad checksum are dropped; the link-level ack timeout on
// the peer side covers retransmission.
func (p *frameParser) feed(b []byte) []types.Command {
	p.buf = append(p.buf, b...)
	var out []types.Command
	for {
		cmd, ok := p.next()
		if !ok {
			return out
		}
		if cmd != nil {
			out = append(out, *cmd)
		}
	}
}

// next extracts one frame. Returns (nil, true) when a corrupt frame was
// skipped and parsing should continue, (nil, false) when more bytes are
// needed.
func (p *frameParser) next() (*types.Command, bool) {
	// Resync to a marker.
	for len(p.buf) > 0 && p.buf[0] != cmdMarker {
		p.buf = p.buf[1:]
	}
	if len(p.buf) < 5 {
		return nil, false
	}
	n := int(p.buf[4])
	if n > maxCmdPayload {
		// Impossible length: the marker byte was payload noise.
		p.buf = p.buf[1:]
		return nil, true
	}
	total := 5 + n + 1
	if len(p.buf) < total {
		return nil, false
	}
	frame := p.buf[:total]
	payload := frame[5 : 5+n]
	cmd := &types.Command{
		Type:    types.CommandType(frame[1]),
		Seq:     binary.LittleEndian.Uint16(frame[2:4]),
		Payload: append([]byte(nil), payload...),
	}
	p.buf = p.buf[total:]
	if xorSum(payload) != frame[5+n] {
		return nil, true // drop, keep parsing
	}
	return cmd, true
}

func encodeAck(a types.Ack) []byte {
	f := make([]byte, 0, 6+len(a.Payload)+1)
	f = append(f, ackMarker)
	f = binary.LittleEndian.AppendUint16(f, a.Seq)
	f = append(f, byte(a.Status), byte(len(a.Payload)))
	f = append(f, a.Payload...)
	return append(f, xorSum(a.Payload))
}

func encodeStatus(s types.StatusSnapshot) []byte {
	p := make([]byte, statusLen)
	binary.LittleEndian.PutUint16(p[0:], uint16(s.BrewTempDeciC))
	binary.LittleEndian.PutUint16(p[2:], uint16(s.SteamTempDeciC))
	binary.LittleEndian.PutUint16(p[4:], uint16(s.BrewSetDeciC))
	binary.LittleEndian.PutUint16(p[6:], uint16(s.SteamSetDeciC))
	binary.LittleEndian.PutUint16(p[8:], s.PressureCBar)
	p[10] = s.BrewDutyPct
	p[11] = s.SteamDutyPct
	p[12] = s.PumpPct
	p[13] = s.State
	p[14] = s.WaterLevelPct
	binary.LittleEndian.PutUint16(p[15:], s.PowerW)
	binary.LittleEndian.PutUint32(p[17:], s.UptimeS)
	binary.LittleEndian.PutUint64(p[21:], uint64(s.BrewStartMs))
	p[29] = byte(s.Flags)
	p[30] = byte(s.Safety)
	p[31] = s.Severity

	f := make([]byte, 0, 2+statusLen+1)
	f = append(f, statusMarker, byte(statusLen))
	f = append(f, p...)
	return append(f, xorSum(p))
}

// decodeStatus is the inverse of encodeStatus; the simulator and the
// comms tests use it.
func decodeStatus(p []byte) (types.StatusSnapshot, bool) {
	if len(p) != statusLen {
		return types.StatusSnapshot{}, false
	}
	var s types.StatusSnapshot
	s.BrewTempDeciC = int16(binary.LittleEndian.Uint16(p[0:]))
	s.SteamTempDeciC = int16(binary.LittleEndian.Uint16(p[2:]))
	s.BrewSetDeciC = int16(binary.LittleEndian.Uint16(p[4:]))
	s.SteamSetDeciC = int16(binary.LittleEndian.Uint16(p[6:]))
	s.PressureCBar = binary.LittleEndian.Uint16(p[8:])
	s.BrewDutyPct = p[10]
	s.SteamDutyPct = p[11]
	s.PumpPct = p[12]
	s.State = p[13]
	s.WaterLevelPct = p[14]
	s.PowerW = binary.LittleEndian.Uint16(p[15:])
	s.UptimeS = binary.LittleEndian.Uint32(p[17:])
	s.BrewStartMs = int64(binary.LittleEndian.Uint64(p[21:]))
	s.Flags = types.StatusFlag(p[29])
	s.Safety = types.SafetyFlag(p[30])
	s.Severity = p[31]
	return s, true
}
