package profile

// Embedded machine profiles, keyed by build name. The build name is
// baked into the image; one firmware binary drives exactly one machine.

const profileDualBoiler = `{
  "name": "duetto-db",
  "type": "dual_boiler",
  "brew_watts": 1400,
  "steam_watts": 1200,
  "pump_watts": 55
}`

const profileSingleBoiler = `{
  "name": "solo-sb",
  "type": "single_boiler",
  "brew_watts": 1200,
  "steam_watts": 0,
  "pump_watts": 48
}`

const profileHeatExchanger = `{
  "name": "lever-hx",
  "type": "heat_exchanger",
  "hx_mode": "steam_temp",
  "brew_watts": 0,
  "steam_watts": 1600,
  "pump_watts": 55,
  "group_offset_c": 2.5
}`

var embeddedProfiles = map[string][]byte{
	"dual_boiler":    []byte(profileDualBoiler),
	"single_boiler":  []byte(profileSingleBoiler),
	"heat_exchanger": []byte(profileHeatExchanger),
}
