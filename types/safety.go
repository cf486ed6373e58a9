package types

// ---- Safety status ----

// Severity is the supervisor's per-cycle verdict. Critical latches the
// Safe machine state until an explicit operator reset.
type Severity uint8

const (
	SeverityOK Severity = iota
	SeverityWarning
	SeverityFault
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityOK:
		return "ok"
	case SeverityWarning:
		return "warning"
	case SeverityFault:
		return "fault"
	case SeverityCritical:
		return "critical"
	}
	return "unknown"
}

// SafetyFlag bits. Kept stable: they appear on the link and in logs.
type SafetyFlag uint8

const (
	FlagOverTemp SafetyFlag = 1 << iota
	FlagWaterLow
	FlagSensorFailure
	FlagWatchdog
	FlagCommTimeout
	FlagEnvConfigInvalid
)

// SafetyStatus is written by the safety supervisor once per cycle and
// read by everyone else the same cycle.
type SafetyStatus struct {
	Severity Severity
	Flags    SafetyFlag
}

func (s SafetyStatus) Has(f SafetyFlag) bool { return s.Flags&f != 0 }

// Clear reports whether actuation is permitted at all this cycle.
func (s SafetyStatus) Clear() bool { return s.Severity == SeverityOK || s.Severity == SeverityWarning }
