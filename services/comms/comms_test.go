package comms

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brewcode-go/bus"
	"brewcode-go/internal/platform"
	"brewcode-go/services/persist"
	"brewcode-go/types"
	"brewcode-go/x/timex"
)

func cmdFrame(typ types.CommandType, seq uint16, payload []byte) []byte {
	f := []byte{cmdMarker, byte(typ)}
	f = binary.LittleEndian.AppendUint16(f, seq)
	f = append(f, byte(len(payload)))
	f = append(f, payload...)
	return append(f, xorSum(payload))
}

// parseAcks splits a tx capture into ack frames. Status frames are skipped.
func parseAcks(t *testing.T, raw []byte) []types.Ack {
	t.Helper()
	var acks []types.Ack
	for len(raw) > 0 {
		switch raw[0] {
		case ackMarker:
			require.GreaterOrEqual(t, len(raw), 6)
			n := int(raw[4])
			require.GreaterOrEqual(t, len(raw), 6+n)
			acks = append(acks, types.Ack{
				Seq:     binary.LittleEndian.Uint16(raw[1:3]),
				Status:  types.AckStatus(raw[3]),
				Payload: append([]byte(nil), raw[5:5+n]...),
			})
			raw = raw[6+n:]
		case statusMarker:
			n := int(raw[1])
			raw = raw[2+n+1:]
		default:
			t.Fatalf("unexpected byte 0x%02x in tx stream", raw[0])
		}
	}
	return acks
}

type rig struct {
	svc   *Service
	link  *platform.ChanLink
	store *persist.Store
	conn  *bus.Connection
	beats int
	boots int
	state uint8
}

func dualProfile() types.MachineProfile {
	return types.MachineProfile{
		Name: "test", Type: "dual_boiler",
		BrewWatts: 1400, SteamWatts: 1200, PumpWatts: 50,
	}
}

func newRig(t *testing.T) *rig {
	t.Helper()
	r := &rig{
		link:  platform.NewChanLink(),
		store: persist.NewStore(platform.NewMemFlash(2<<20), platform.DefaultLayout()),
		state: uint8(types.StateIdle),
	}
	b := bus.NewBus(16)
	r.conn = b.NewConnection("comms-test")
	r.svc = New(Deps{
		Link:      r.link,
		Store:     r.store,
		Conn:      r.conn,
		Profile:   dualProfile(),
		Clock:     timex.Wall{},
		Heartbeat: func(timex.Millis) { r.beats++ },
		Status: func() (types.StatusSnapshot, bool) {
			return types.StatusSnapshot{State: r.state}, true
		},
		EnterBoot: func() error { r.boots++; return nil },
	})
	return r
}

// send runs one frame through parse + dispatch, as Run would.
func (r *rig) send(typ types.CommandType, seq uint16, payload []byte) {
	for _, cmd := range r.svc.parser.feed(cmdFrame(typ, seq, payload)) {
		r.svc.d.Heartbeat(0)
		r.svc.dispatch(cmd)
	}
}

func f32le(vals ...float32) []byte {
	var p []byte
	for _, v := range vals {
		p = binary.LittleEndian.AppendUint32(p, math.Float32bits(v))
	}
	return p
}

func TestSetTemperature(t *testing.T) {
	r := newRig(t)
	r.send(types.CmdSetTemperature, 7, append([]byte{byte(types.BoilerBrew)}, f32le(94.5)...))

	acks := parseAcks(t, r.link.TxBytes())
	require.Len(t, acks, 1)
	assert.Equal(t, uint16(7), acks[0].Seq)
	assert.Equal(t, types.AckSuccess, acks[0].Status)
	assert.Equal(t, float32(94.5), r.store.Config().Setpoints[types.BoilerBrew])
	assert.Equal(t, 1, r.beats)
}

func TestSetTemperatureRejectsBadArgs(t *testing.T) {
	r := newRig(t)
	r.send(types.CmdSetTemperature, 1, append([]byte{9}, f32le(94)...)) // bad boiler
	r.send(types.CmdSetTemperature, 2, append([]byte{0}, f32le(300)...))
	r.send(types.CmdSetTemperature, 3, []byte{0, 1}) // short

	for _, a := range parseAcks(t, r.link.TxBytes()) {
		assert.Equal(t, types.AckInvalidArgument, a.Status)
	}
	assert.Equal(t, float32(93), r.store.Config().Setpoints[types.BoilerBrew], "untouched")
}

func TestSetPIDMilliUnits(t *testing.T) {
	r := newRig(t)
	p := []byte{byte(types.BoilerBrew)}
	p = binary.LittleEndian.AppendUint32(p, 8500) // Kp 8.5
	p = binary.LittleEndian.AppendUint32(p, 250)  // Ki 0.25
	p = binary.LittleEndian.AppendUint32(p, 31000)
	r.send(types.CmdSetPID, 4, p)

	acks := parseAcks(t, r.link.TxBytes())
	require.Len(t, acks, 1)
	assert.Equal(t, types.AckSuccess, acks[0].Status)
	g := r.store.Config().Gains[types.BoilerBrew]
	assert.Equal(t, types.PIDGains{Kp: 8.5, Ki: 0.25, Kd: 31}, g)
}

func TestEnvLimitsRoundTrip(t *testing.T) {
	r := newRig(t)
	require.True(t, r.store.SetupMode())

	r.send(types.CmdSetEnvLimits, 1, f32le(230, 16))
	assert.False(t, r.store.SetupMode())

	r.send(types.CmdGetEnvLimits, 2, nil)
	acks := parseAcks(t, r.link.TxBytes())
	require.Len(t, acks, 2)
	assert.Equal(t, f32le(230, 16), acks[1].Payload)
}

func TestEnvLimitsValidated(t *testing.T) {
	r := newRig(t)
	r.send(types.CmdSetEnvLimits, 1, f32le(30, 16)) // voltage below range
	acks := parseAcks(t, r.link.TxBytes())
	require.Len(t, acks, 1)
	assert.Equal(t, types.AckInvalidArgument, acks[0].Status)
	assert.True(t, r.store.SetupMode())
}

func TestStrategyGatedOnSetupMode(t *testing.T) {
	r := newRig(t)

	r.send(types.CmdSetStrategy, 1, []byte{byte(types.StrategyParallel)})
	r.send(types.CmdSetStrategy, 2, []byte{byte(types.StrategyBrewOnly)})

	acks := parseAcks(t, r.link.TxBytes())
	require.Len(t, acks, 2)
	assert.Equal(t, types.AckRejected, acks[0].Status, "uncommissioned site")
	assert.Equal(t, types.AckSuccess, acks[1].Status, "no-op default always allowed")
}

func TestStrategyCheckedAgainstBudget(t *testing.T) {
	r := newRig(t)
	r.send(types.CmdSetEnvLimits, 1, f32le(230, 16))

	// 2.6 kW total at 230 V is ~11.3 A; parallel fits a 16 A budget.
	r.send(types.CmdSetStrategy, 2, []byte{byte(types.StrategyParallel)})
	acks := parseAcks(t, r.link.TxBytes())
	assert.Equal(t, types.AckSuccess, acks[1].Status)
	assert.Equal(t, types.StrategyParallel, r.store.Config().Strategy)

	// Shrink the budget below a single heater's draw: nothing fits but
	// brew-only.
	r.send(types.CmdSetEnvLimits, 3, f32le(230, 4))
	r.send(types.CmdSetStrategy, 4, []byte{byte(types.StrategySequential)})
	acks = parseAcks(t, r.link.TxBytes())
	assert.Equal(t, types.AckRejected, acks[1].Status)
}

func TestGetConfigReturnsDecodableRecord(t *testing.T) {
	r := newRig(t)
	r.send(types.CmdGetConfig, 9, nil)
	acks := parseAcks(t, r.link.TxBytes())
	require.Len(t, acks, 1)
	require.Len(t, acks[0].Payload, persist.ConfigRecordSize)
	cfg, err := persist.DecodeConfigRecord(acks[0].Payload)
	require.NoError(t, err)
	assert.Equal(t, r.store.Config(), cfg)
}

func TestSetConfigRejectsCorruptRecord(t *testing.T) {
	r := newRig(t)
	rec := persist.EncodeConfigRecord(r.store.Config())
	rec[12] ^= 0x40
	r.send(types.CmdSetConfig, 1, rec)
	acks := parseAcks(t, r.link.TxBytes())
	assert.Equal(t, types.AckInvalidArgument, acks[0].Status)
}

func TestMachineCommandsForwardedToCore(t *testing.T) {
	r := newRig(t)
	sub := r.conn.Subscribe(TopicCommand)

	r.send(types.CmdBrewStart, 11, nil)
	r.send(types.CmdSetMode, 12, []byte{byte(types.ModeBrew)})
	r.send(types.CmdSafetyReset, 13, nil)

	msg := <-sub.Channel()
	cmd := msg.Payload.(*types.Command)
	assert.Equal(t, types.CmdBrewStart, cmd.Type)
	assert.Equal(t, uint16(11), cmd.Seq)

	msg = <-sub.Channel()
	cmd = msg.Payload.(*types.Command)
	assert.Equal(t, types.CmdSetMode, cmd.Type)

	msg = <-sub.Channel()
	cmd = msg.Payload.(*types.Command)
	assert.Equal(t, types.CmdSafetyReset, cmd.Type)

	// No local ack: the core answers these.
	assert.Empty(t, parseAcks(t, r.link.TxBytes()))
}

func TestEnterBootloaderRejectedWhileBrewing(t *testing.T) {
	r := newRig(t)
	r.state = uint8(types.StateBrewing)
	r.send(types.CmdEnterBootloader, 1, nil)
	acks := parseAcks(t, r.link.TxBytes())
	assert.Equal(t, types.AckRejected, acks[0].Status)
	assert.Zero(t, r.boots)
}

func TestEnterBootloaderParksCoreThenRuns(t *testing.T) {
	r := newRig(t)
	sub := r.conn.Subscribe(TopicCommand)

	r.send(types.CmdEnterBootloader, 5, nil)

	acks := parseAcks(t, r.link.TxBytes())
	require.Len(t, acks, 1)
	assert.Equal(t, types.AckSuccess, acks[0].Status)
	assert.Equal(t, 1, r.boots)

	msg := <-sub.Channel()
	cmd := msg.Payload.(*types.Command)
	assert.Equal(t, types.CmdEnterBootloader, cmd.Type)
}

func TestParserResyncsAfterNoise(t *testing.T) {
	var p frameParser
	frame := cmdFrame(types.CmdBrewStart, 3, nil)
	stream := append([]byte{0x00, 0x42, 0xFF}, frame...)
	cmds := p.feed(stream)
	require.Len(t, cmds, 1)
	assert.Equal(t, types.CmdBrewStart, cmds[0].Type)
	assert.Equal(t, uint16(3), cmds[0].Seq)
}

func TestParserDropsBadChecksum(t *testing.T) {
	var p frameParser
	good := cmdFrame(types.CmdBrewStop, 1, []byte{0xAA})
	bad := cmdFrame(types.CmdBrewStart, 2, []byte{0xBB})
	bad[len(bad)-1] ^= 0xFF

	cmds := p.feed(append(bad, good...))
	require.Len(t, cmds, 1)
	assert.Equal(t, types.CmdBrewStop, cmds[0].Type)
}

func TestParserHandlesSplitFrames(t *testing.T) {
	var p frameParser
	frame := cmdFrame(types.CmdSetMode, 8, []byte{1})
	assert.Empty(t, p.feed(frame[:3]))
	cmds := p.feed(frame[3:])
	require.Len(t, cmds, 1)
	assert.Equal(t, types.CmdSetMode, cmds[0].Type)
	assert.Equal(t, []byte{1}, cmds[0].Payload)
}

func TestStatusRoundTrip(t *testing.T) {
	want := types.StatusSnapshot{
		BrewTempDeciC: 931, SteamTempDeciC: 1248,
		BrewSetDeciC: 930, SteamSetDeciC: 1250,
		PressureCBar: 912,
		BrewDutyPct:  42, SteamDutyPct: 10, PumpPct: 100,
		State: uint8(types.StateBrewing), WaterLevelPct: 63,
		PowerW: 1460, UptimeS: 7200, BrewStartMs: 123456789,
		Flags:    types.StatusBrewing | types.StatusPumpOn,
		Safety:   types.FlagWaterLow,
		Severity: uint8(types.SeverityWarning),
	}
	f := encodeStatus(want)
	require.Equal(t, statusMarker, f[0])
	require.Equal(t, byte(statusLen), f[1])
	require.Equal(t, xorSum(f[2:2+statusLen]), f[len(f)-1])

	got, ok := decodeStatus(f[2 : 2+statusLen])
	require.True(t, ok)
	assert.Equal(t, want, got)
}
