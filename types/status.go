package types

// ---- Status snapshot toward the communication node ----

// StatusFlag bits carried in StatusSnapshot.Flags.
type StatusFlag uint8

const (
	StatusBrewing StatusFlag = 1 << iota
	StatusPumpOn
	StatusHeating
	StatusWaterLow
	StatusAlarm
	StatusCleanDue
)

// StatusSnapshot is the single structure handed to the communication
// context each cycle. Fixed-point, small types to suit TinyGo; a reader
// that is one cycle stale loses nothing.
type StatusSnapshot struct {
	BrewTempDeciC  int16 // tenths of °C
	SteamTempDeciC int16
	BrewSetDeciC   int16
	SteamSetDeciC  int16
	PressureCBar   uint16 // hundredths of bar

	BrewDutyPct  uint8 // final heater duty after arbitration
	SteamDutyPct uint8
	PumpPct      uint8

	State         uint8 // MachineState code
	WaterLevelPct uint8
	PowerW        uint16 // measured if available, else estimated
	UptimeS       uint32
	BrewStartMs   int64 // 0 when not brewing

	Flags    StatusFlag
	Safety   SafetyFlag
	Severity uint8
}
