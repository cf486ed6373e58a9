package types

// SensorSnapshot is the already-filtered reading set the core consumes
// each cycle. Producing it (thermistor curves, filtering, debouncing at
// the ADC level) is the sensor collaborator's job, not ours.
type SensorSnapshot struct {
	BrewTempC     float32
	SteamTempC    float32
	GroupTempC    float32 // passive HX group head reading
	PressureBar   float32
	WaterLevelPct uint8
	PowerW        float32 // measured; 0 when no power meter fitted

	BrewTempValid  bool
	SteamTempValid bool
	GroupTempValid bool
	PressureValid  bool
	WaterLow       bool

	// Raw brew switch (lever) level. The state machine debounces it.
	BrewSwitch bool
}
