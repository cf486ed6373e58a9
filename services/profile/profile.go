// Package profile resolves the compiled-in machine profile: which
// hardware variant this image drives and its electrical figures. The
// profile is read-only; it is published retained on the bus so any
// service can pick it up at its own pace.
package profile

import (
	"context"

	"github.com/andreyvit/tinyjson"

	"brewcode-go/bus"
	"brewcode-go/types"
)

const serviceName = "profile"

// Topic carries the parsed types.MachineProfile, retained.
var Topic = bus.T("profile", "machine")

// EmbeddedLookup resolves a build name to raw profile JSON. Overridable
// so host tools can inject profiles from disk.
var EmbeddedLookup = func(build string) ([]byte, bool) {
	b, ok := embeddedProfiles[build]
	return b, ok
}

// Fallback is the profile used when the build name is unknown or its
// JSON does not parse: a conservative dual boiler that any strategy
// validation will clamp further.
func Fallback() types.MachineProfile {
	return types.MachineProfile{
		Name: "fallback", Type: "dual_boiler",
		BrewWatts: 1200, SteamWatts: 1000, PumpWatts: 50,
		GroupOffset: 0,
	}
}

// Load parses the profile for a build name. The second return is false
// when the fallback was substituted.
func Load(build string) (types.MachineProfile, bool) {
	raw, ok := EmbeddedLookup(build)
	if !ok {
		return Fallback(), false
	}
	p, ok := parse(raw)
	if !ok {
		println("profile: parse", build, ": malformed profile")
		return Fallback(), false
	}
	if _, ok := p.MachineTypeOf(); !ok {
		println("profile: unknown machine type:", p.Type)
		return Fallback(), false
	}
	return p, true
}

// parse decodes the profile object. tinyjson treats malformed input as
// a programming error and panics; embedded profiles are compile-time
// data, so turn that into a fallback rather than a crash.
func parse(raw []byte) (p types.MachineProfile, ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	r := tinyjson.Raw(raw)
	val := r.Value()
	r.EnsureEOF()

	m, isObj := val.(map[string]any)
	if !isObj {
		return p, false
	}
	p.Name = str(m, "name")
	p.Type = str(m, "type")
	p.HXMode = str(m, "hx_mode")
	p.BrewWatts = num(m, "brew_watts")
	p.SteamWatts = num(m, "steam_watts")
	p.PumpWatts = num(m, "pump_watts")
	p.GroupOffset = num(m, "group_offset_c")
	return p, true
}

func str(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func num(m map[string]any, key string) float32 {
	switch v := m[key].(type) {
	case float64:
		return float32(v)
	case int64:
		return float32(v)
	case int:
		return float32(v)
	}
	return 0
}

// Service publishes the profile once at startup.
type Service struct {
	Build string
}

func NewService(build string) *Service { return &Service{Build: build} }

// Start publishes the resolved profile retained and returns it.
func (s *Service) Start(ctx context.Context, conn *bus.Connection) types.MachineProfile {
	p, ok := Load(s.Build)
	if !ok {
		println(serviceName, ": falling back to default profile for build", s.Build)
	}
	conn.Publish(conn.NewMessage(Topic, p, true))
	return p
}
