package persist

import (
	"encoding/binary"
	"hash/crc32"
	"math"

	"brewcode-go/errcode"
	"brewcode-go/types"
)

// Fixed little-endian record layouts. Both records end with a CRC32
// (IEEE) over everything before it; a failed check at boot means the
// record never existed as far as the rest of the firmware is concerned.
const (
	configMagic   uint32 = 0x46435242 // "BRCF"
	configVersion uint32 = 1
	configSize           = 84

	statsMagic   uint32 = 0x54535242 // "BRST"
	statsVersion uint32 = 1

	// flashHistory bounds the persisted ring; the RAM ring keeps more.
	flashHistory = 50
	statsEntry   = 16
	statsHeader  = 44
	statsSize    = statsHeader + flashHistory*statsEntry + 4
)

// ConfigRecordSize is the exact on-wire and on-flash record length.
const ConfigRecordSize = configSize

// EncodeConfigRecord serializes a configuration in the flash record
// format. The comms get-config reply reuses it verbatim.
func EncodeConfigRecord(c types.MachineConfig) []byte { return encodeConfig(c) }

// DecodeConfigRecord validates and parses a flash-format record.
func DecodeConfigRecord(p []byte) (types.MachineConfig, error) { return decodeConfig(p) }

func putF32(p []byte, v float32) { binary.LittleEndian.PutUint32(p, math.Float32bits(v)) }
func getF32(p []byte) float32    { return math.Float32frombits(binary.LittleEndian.Uint32(p)) }

func putBool(p []byte, v bool) {
	var u uint32
	if v {
		u = 1
	}
	binary.LittleEndian.PutUint32(p, u)
}

func encodeConfig(c types.MachineConfig) []byte {
	p := make([]byte, configSize)
	binary.LittleEndian.PutUint32(p[0:], configMagic)
	binary.LittleEndian.PutUint32(p[4:], configVersion)
	putF32(p[8:], c.Env.NominalVoltage)
	putF32(p[12:], c.Env.MaxCurrentDraw)
	for b := 0; b < types.NumBoilers; b++ {
		off := 16 + b*12
		putF32(p[off:], c.Gains[b].Kp)
		putF32(p[off+4:], c.Gains[b].Ki)
		putF32(p[off+8:], c.Gains[b].Kd)
	}
	putF32(p[40:], c.Setpoints[types.BoilerBrew])
	putF32(p[44:], c.Setpoints[types.BoilerSteam])
	binary.LittleEndian.PutUint32(p[48:], uint32(c.Strategy))
	binary.LittleEndian.PutUint32(p[52:], uint32(c.PriorityBoiler))
	putBool(p[56:], c.PreInfusion.Enabled)
	binary.LittleEndian.PutUint32(p[60:], c.PreInfusion.OnMs)
	binary.LittleEndian.PutUint32(p[64:], c.PreInfusion.PauseMs)
	binary.LittleEndian.PutUint32(p[68:], c.Cleaning.Threshold)
	binary.LittleEndian.PutUint32(p[72:], c.Cleaning.BrewsSinceLast)
	binary.LittleEndian.PutUint32(p[76:], c.Cleaning.TotalCycles)
	binary.LittleEndian.PutUint32(p[80:], crc32.ChecksumIEEE(p[:80]))
	return p
}

func decodeConfig(p []byte) (types.MachineConfig, error) {
	var c types.MachineConfig
	if len(p) < configSize {
		return c, &errcode.E{C: errcode.RecordCorrupt, Op: "decode_config", Msg: "short record"}
	}
	if binary.LittleEndian.Uint32(p[0:]) != configMagic ||
		binary.LittleEndian.Uint32(p[4:]) != configVersion {
		return c, &errcode.E{C: errcode.RecordCorrupt, Op: "decode_config", Msg: "bad magic or version"}
	}
	if binary.LittleEndian.Uint32(p[80:]) != crc32.ChecksumIEEE(p[:80]) {
		return c, &errcode.E{C: errcode.RecordCorrupt, Op: "decode_config", Msg: "crc mismatch"}
	}
	c.Env.NominalVoltage = getF32(p[8:])
	c.Env.MaxCurrentDraw = getF32(p[12:])
	for b := 0; b < types.NumBoilers; b++ {
		off := 16 + b*12
		c.Gains[b] = types.PIDGains{
			Kp: getF32(p[off:]),
			Ki: getF32(p[off+4:]),
			Kd: getF32(p[off+8:]),
		}
	}
	c.Setpoints[types.BoilerBrew] = getF32(p[40:])
	c.Setpoints[types.BoilerSteam] = getF32(p[44:])
	c.Strategy = types.HeatingStrategy(binary.LittleEndian.Uint32(p[48:]))
	c.PriorityBoiler = types.BoilerID(binary.LittleEndian.Uint32(p[52:]))
	c.PreInfusion.Enabled = binary.LittleEndian.Uint32(p[56:]) != 0
	c.PreInfusion.OnMs = binary.LittleEndian.Uint32(p[60:])
	c.PreInfusion.PauseMs = binary.LittleEndian.Uint32(p[64:])
	c.Cleaning.Threshold = binary.LittleEndian.Uint32(p[68:])
	c.Cleaning.BrewsSinceLast = binary.LittleEndian.Uint32(p[72:])
	c.Cleaning.TotalCycles = binary.LittleEndian.Uint32(p[76:])
	return c, nil
}

func encodeStats(s types.BrewStats) []byte {
	p := make([]byte, statsSize)
	binary.LittleEndian.PutUint32(p[0:], statsMagic)
	binary.LittleEndian.PutUint32(p[4:], statsVersion)
	binary.LittleEndian.PutUint32(p[8:], s.TotalBrews)
	binary.LittleEndian.PutUint64(p[12:], s.TotalMs)
	binary.LittleEndian.PutUint32(p[20:], s.MinMs)
	binary.LittleEndian.PutUint32(p[24:], s.MaxMs)
	binary.LittleEndian.PutUint32(p[28:], s.AvgMs())
	binary.LittleEndian.PutUint64(p[32:], uint64(s.LastBrewMs))

	hist := s.History
	if len(hist) > flashHistory {
		hist = hist[len(hist)-flashHistory:]
	}
	binary.LittleEndian.PutUint32(p[40:], uint32(len(hist)))
	for i, r := range hist {
		off := statsHeader + i*statsEntry
		binary.LittleEndian.PutUint64(p[off:], uint64(r.StartMs))
		binary.LittleEndian.PutUint32(p[off+8:], r.DurationMs)
		binary.LittleEndian.PutUint32(p[off+12:], uint32(r.Reason))
	}
	binary.LittleEndian.PutUint32(p[statsSize-4:], crc32.ChecksumIEEE(p[:statsSize-4]))
	return p
}

func decodeStats(p []byte) (types.BrewStats, error) {
	var s types.BrewStats
	if len(p) < statsSize {
		return s, &errcode.E{C: errcode.RecordCorrupt, Op: "decode_stats", Msg: "short record"}
	}
	if binary.LittleEndian.Uint32(p[0:]) != statsMagic ||
		binary.LittleEndian.Uint32(p[4:]) != statsVersion {
		return s, &errcode.E{C: errcode.RecordCorrupt, Op: "decode_stats", Msg: "bad magic or version"}
	}
	if binary.LittleEndian.Uint32(p[statsSize-4:]) != crc32.ChecksumIEEE(p[:statsSize-4]) {
		return s, &errcode.E{C: errcode.RecordCorrupt, Op: "decode_stats", Msg: "crc mismatch"}
	}
	s.TotalBrews = binary.LittleEndian.Uint32(p[8:])
	s.TotalMs = binary.LittleEndian.Uint64(p[12:])
	s.MinMs = binary.LittleEndian.Uint32(p[20:])
	s.MaxMs = binary.LittleEndian.Uint32(p[24:])
	s.LastBrewMs = int64(binary.LittleEndian.Uint64(p[32:]))
	n := binary.LittleEndian.Uint32(p[40:])
	if n > flashHistory {
		return types.BrewStats{}, &errcode.E{C: errcode.RecordCorrupt, Op: "decode_stats", Msg: "history count out of range"}
	}
	s.History = make([]types.BrewRecord, 0, n)
	for i := uint32(0); i < n; i++ {
		off := statsHeader + int(i)*statsEntry
		s.History = append(s.History, types.BrewRecord{
			StartMs:    int64(binary.LittleEndian.Uint64(p[off:])),
			DurationMs: binary.LittleEndian.Uint32(p[off+8:]),
			Reason:     types.StopReason(binary.LittleEndian.Uint32(p[off+12:])),
		})
	}
	return s, nil
}
