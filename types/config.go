package types

// ---- Durable configuration (RAM view of the flash config record) ----

// EnvLimits are the required electrical limits of the installation site.
// Heating is gated on their validity: until both pass Valid() the machine
// stays in setup mode with every output off.
type EnvLimits struct {
	NominalVoltage float32 // V, valid range [100, 250]
	MaxCurrentDraw float32 // A, valid range (0, 50]
}

func (e EnvLimits) Valid() bool {
	return e.NominalVoltage >= 100 && e.NominalVoltage <= 250 &&
		e.MaxCurrentDraw > 0 && e.MaxCurrentDraw <= 50
}

// PreInfusion timing. Disabled means the brew phase machine goes straight
// to full pressure.
type PreInfusion struct {
	Enabled bool
	OnMs    uint32 // pump on, solenoid open
	PauseMs uint32 // pump off, solenoid open
}

// Cleaning counters live in the config record so a single write keeps
// them consistent with the rest of the configuration.
type Cleaning struct {
	Threshold      uint32 // brews between cleanings (0 = reminder off)
	BrewsSinceLast uint32
	TotalCycles    uint32
}

// MachineConfig is everything the config flash record persists.
type MachineConfig struct {
	Env            EnvLimits
	Gains          [NumBoilers]PIDGains
	Setpoints      [NumBoilers]float32 // °C
	Strategy       HeatingStrategy
	PriorityBoiler BoilerID // SmartStagger grant order
	PreInfusion    PreInfusion
	Cleaning       Cleaning
}

// ---- Machine profile (compiled in, not persisted) ----

// MachineProfile describes the hardware build: which variant this firmware
// drives and its electrical characteristics. Parsed from embedded JSON at
// boot and published on the bus, never written back.
type MachineProfile struct {
	Name        string  `json:"name"`
	Type        string  `json:"type"`    // "dual_boiler" | "single_boiler" | "heat_exchanger"
	HXMode      string  `json:"hx_mode"` // "steam_temp" | "pressure" | "pressurestat"
	BrewWatts   float32 `json:"brew_watts"`
	SteamWatts  float32 `json:"steam_watts"`
	PumpWatts   float32 `json:"pump_watts"`
	GroupOffset float32 `json:"group_offset_c"` // HX passive group temp correction
}

// MachineTypeOf maps the profile's type string onto the closed variant set.
func (p MachineProfile) MachineTypeOf() (MachineType, bool) {
	switch p.Type {
	case "dual_boiler":
		return MachineDualBoiler, true
	case "single_boiler":
		return MachineSingleBoiler, true
	case "heat_exchanger":
		return MachineHeatExchanger, true
	}
	return MachineDualBoiler, false
}

// HXModeOf maps the profile's hx_mode string; defaults to steam control.
func (p MachineProfile) HXModeOf() HXControlMode {
	switch p.HXMode {
	case "pressure":
		return HXPressure
	case "pressurestat":
		return HXPressurestatMonitor
	}
	return HXSteamTemp
}
