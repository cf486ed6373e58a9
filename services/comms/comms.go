// Package comms is the link-side face of the firmware: it decodes
// command frames from the communication node, answers each with an ack,
// pushes the latest status snapshot outward on a fixed period, and hands
// the link over to the bootloader on request.
//
// Commands that only touch configuration are applied here through the
// persist store. Commands that move the machine (brew, mode) are
// published on the bus and applied by the control core on its own
// cycle; their acks travel back the same way.
package comms

import (
	"context"
	"encoding/binary"
	"math"

	"brewcode-go/bus"
	"brewcode-go/errcode"
	"brewcode-go/internal/platform"
	"brewcode-go/services/control"
	"brewcode-go/services/persist"
	"brewcode-go/types"
	"brewcode-go/x/timex"
)

const (
	readSliceMs     uint32 = 50
	statusPeriodMs  uint32 = 1000
	setTempMinC            = 20
	setTempMaxBrewC        = 110
	setTempMaxSteamC       = 140
)

// TopicCommand carries *types.Command from comms to the core.
// TopicAck carries *types.Ack back.
var (
	TopicCommand = bus.T("cmd", "core")
	TopicAck     = bus.T("ack", "core")
)

// Deps wires the service; all fields are required except EnterBoot.
type Deps struct {
	Link    platform.Link
	Store   *persist.Store
	Conn    *bus.Connection
	Profile types.MachineProfile
	Clock   timex.Clock

	// Heartbeat is pinged on every valid inbound frame; the safety
	// supervisor's comm-timeout check reads it.
	Heartbeat func(timex.Millis)

	// Status yields the latest core snapshot; ok is false before the
	// first core cycle.
	Status func() (types.StatusSnapshot, bool)

	// EnterBoot runs the bootloader with the link. It is called after
	// the core has been parked; on real hardware a successful update
	// never returns from it.
	EnterBoot func() error
}

type Service struct {
	d      Deps
	parser frameParser
	mt     types.MachineType
}

func New(d Deps) *Service {
	mt, _ := d.Profile.MachineTypeOf()
	return &Service{d: d, mt: mt}
}

// Run blocks until ctx is cancelled.
func (s *Service) Run(ctx context.Context) {
	ackSub := s.d.Conn.Subscribe(TopicAck)
	defer s.d.Conn.Unsubscribe(ackSub)

	buf := make([]byte, 64)
	lastStatus := s.d.Clock.Now()

	for ctx.Err() == nil {
		n, err := s.d.Link.Read(buf, readSliceMs)
		if n > 0 {
			for _, cmd := range s.parser.feed(buf[:n]) {
				s.d.Heartbeat(s.d.Clock.Now())
				s.dispatch(cmd)
			}
		} else if err != nil && errcode.Of(err) != errcode.Timeout {
			println("comms: link read:", err.Error())
		}

		s.forwardAcks(ackSub)

		now := s.d.Clock.Now()
		if timex.Since(now, lastStatus) >= statusPeriodMs {
			lastStatus = now
			if snap, ok := s.d.Status(); ok {
				s.write(encodeStatus(snap))
			}
		}
	}
}

// forwardAcks drains core replies without blocking.
func (s *Service) forwardAcks(sub *bus.Subscription) {
	for {
		select {
		case msg := <-sub.Channel():
			if a, ok := msg.Payload.(*types.Ack); ok {
				s.write(encodeAck(*a))
			}
		default:
			return
		}
	}
}

func (s *Service) dispatch(cmd types.Command) {
	switch cmd.Type {
	case types.CmdSetTemperature:
		s.ack(cmd.Seq, s.setTemperature(cmd.Payload), nil)
	case types.CmdSetPID:
		s.ack(cmd.Seq, s.setPID(cmd.Payload), nil)
	case types.CmdSetEnvLimits:
		s.ack(cmd.Seq, s.setEnvLimits(cmd.Payload), nil)
	case types.CmdGetEnvLimits:
		env := s.d.Store.Config().Env
		p := make([]byte, 8)
		binary.LittleEndian.PutUint32(p[0:], math.Float32bits(env.NominalVoltage))
		binary.LittleEndian.PutUint32(p[4:], math.Float32bits(env.MaxCurrentDraw))
		s.ack(cmd.Seq, types.AckSuccess, p)
	case types.CmdGetConfig:
		s.ack(cmd.Seq, types.AckSuccess, persist.EncodeConfigRecord(s.d.Store.Config()))
	case types.CmdSetConfig:
		s.ack(cmd.Seq, s.setConfig(cmd.Payload), nil)
	case types.CmdSetStrategy:
		s.ack(cmd.Seq, s.setStrategy(cmd.Payload), nil)
	case types.CmdCleanReset:
		s.ackErr(cmd.Seq, s.d.Store.CleaningReset())
	case types.CmdCleanThreshold:
		if len(cmd.Payload) != 4 {
			s.ack(cmd.Seq, types.AckInvalidArgument, nil)
			return
		}
		s.ackErr(cmd.Seq, s.d.Store.SetCleaningThreshold(binary.LittleEndian.Uint32(cmd.Payload)))
	case types.CmdCleanStart, types.CmdCleanStop,
		types.CmdBrewStart, types.CmdBrewStop, types.CmdSetMode,
		types.CmdSafetyReset:
		// Machine-owned; the core acks on its next cycle.
		s.d.Conn.Publish(s.d.Conn.NewMessage(TopicCommand, &cmd, false))
	case types.CmdEnterBootloader:
		s.enterBootloader(cmd.Seq)
	default:
		s.ack(cmd.Seq, types.AckFailed, nil)
	}
}

func (s *Service) setTemperature(p []byte) types.AckStatus {
	if len(p) != 5 || p[0] >= types.NumBoilers {
		return types.AckInvalidArgument
	}
	b := types.BoilerID(p[0])
	temp := math.Float32frombits(binary.LittleEndian.Uint32(p[1:]))
	limit := float32(setTempMaxBrewC)
	if b == types.BoilerSteam {
		limit = setTempMaxSteamC
	}
	if temp != temp || temp < setTempMinC || temp > limit {
		return types.AckInvalidArgument
	}
	if err := s.d.Store.Update(func(c *types.MachineConfig) {
		c.Setpoints[b] = temp
	}); err != nil {
		return types.AckFailed
	}
	return types.AckSuccess
}

// setPID decodes boiler id plus three little-endian milli-unit gains.
func (s *Service) setPID(p []byte) types.AckStatus {
	if len(p) != 13 || p[0] >= types.NumBoilers {
		return types.AckInvalidArgument
	}
	b := types.BoilerID(p[0])
	g := types.PIDGains{
		Kp: float32(binary.LittleEndian.Uint32(p[1:])) / 1000,
		Ki: float32(binary.LittleEndian.Uint32(p[5:])) / 1000,
		Kd: float32(binary.LittleEndian.Uint32(p[9:])) / 1000,
	}
	if err := s.d.Store.Update(func(c *types.MachineConfig) {
		c.Gains[b] = g
	}); err != nil {
		return types.AckFailed
	}
	return types.AckSuccess
}

func (s *Service) setEnvLimits(p []byte) types.AckStatus {
	if len(p) != 8 {
		return types.AckInvalidArgument
	}
	env := types.EnvLimits{
		NominalVoltage: math.Float32frombits(binary.LittleEndian.Uint32(p[0:])),
		MaxCurrentDraw: math.Float32frombits(binary.LittleEndian.Uint32(p[4:])),
	}
	if !env.Valid() {
		return types.AckInvalidArgument
	}
	if err := s.d.Store.Update(func(c *types.MachineConfig) { c.Env = env }); err != nil {
		return types.AckFailed
	}
	return types.AckSuccess
}

func (s *Service) setConfig(p []byte) types.AckStatus {
	cfg, err := persist.DecodeConfigRecord(p)
	if err != nil {
		return types.AckInvalidArgument
	}
	if err := s.d.Store.Update(func(c *types.MachineConfig) { *c = cfg }); err != nil {
		return types.AckFailed
	}
	return types.AckSuccess
}

// setStrategy enforces the electrical gate: until the site limits are
// commissioned only the no-op default is accepted, and any strategy the
// installed heaters cannot satisfy within budget is rejected.
func (s *Service) setStrategy(p []byte) types.AckStatus {
	if len(p) != 1 || p[0] > uint8(types.StrategySmartStagger) {
		return types.AckInvalidArgument
	}
	strat := types.HeatingStrategy(p[0])
	env := s.d.Store.Config().Env
	if !env.Valid() {
		if strat != types.StrategyBrewOnly {
			return types.AckRejected
		}
	} else if !control.IsStrategyAllowed(strat, s.mt,
		env.MaxCurrentDraw, s.d.Profile.BrewWatts, s.d.Profile.SteamWatts, env.NominalVoltage) {
		return types.AckRejected
	}
	if err := s.d.Store.Update(func(c *types.MachineConfig) { c.Strategy = strat }); err != nil {
		return types.AckFailed
	}
	return types.AckSuccess
}

// enterBootloader acks, persists, parks the core, and gives the link to
// the update session. Refused while a brew is dispensing.
func (s *Service) enterBootloader(seq uint16) {
	if snap, ok := s.d.Status(); ok && snap.State == uint8(types.StateBrewing) {
		s.ack(seq, types.AckRejected, nil)
		return
	}
	if s.d.EnterBoot == nil {
		s.ack(seq, types.AckFailed, nil)
		return
	}
	s.ack(seq, types.AckSuccess, nil)
	if err := s.d.Store.Flush(); err != nil {
		println("comms: flush before update:", err.Error())
	}
	// Park the core so only the bootloader touches hardware from here.
	park := types.Command{Type: types.CmdEnterBootloader}
	s.d.Conn.Publish(s.d.Conn.NewMessage(TopicCommand, &park, false))
	if err := s.d.EnterBoot(); err != nil {
		println("comms: update failed:", err.Error())
	}
}

func (s *Service) ackErr(seq uint16, err error) {
	if err != nil {
		s.ack(seq, types.AckFailed, nil)
		return
	}
	s.ack(seq, types.AckSuccess, nil)
}

func (s *Service) ack(seq uint16, st types.AckStatus, payload []byte) {
	s.write(encodeAck(types.Ack{Seq: seq, Status: st, Payload: payload}))
}

func (s *Service) write(p []byte) {
	if _, err := s.d.Link.Write(p); err != nil {
		println("comms: link write:", err.Error())
	}
}
