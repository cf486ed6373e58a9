package profile

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brewcode-go/bus"
	"brewcode-go/types"
)

func TestLoadKnownBuilds(t *testing.T) {
	for build, wantType := range map[string]types.MachineType{
		"dual_boiler":    types.MachineDualBoiler,
		"single_boiler":  types.MachineSingleBoiler,
		"heat_exchanger": types.MachineHeatExchanger,
	} {
		p, ok := Load(build)
		require.True(t, ok, build)
		mt, valid := p.MachineTypeOf()
		require.True(t, valid, build)
		assert.Equal(t, wantType, mt, build)
		assert.NotEmpty(t, p.Name, build)
	}
}

func TestHXProfileCarriesGroupOffset(t *testing.T) {
	p, ok := Load("heat_exchanger")
	require.True(t, ok)
	assert.Equal(t, float32(2.5), p.GroupOffset)
	assert.Equal(t, types.HXSteamTemp, p.HXModeOf())
}

func TestUnknownBuildFallsBack(t *testing.T) {
	p, ok := Load("no-such-build")
	assert.False(t, ok)
	assert.Equal(t, Fallback(), p)
}

func TestMalformedJSONFallsBack(t *testing.T) {
	orig := EmbeddedLookup
	defer func() { EmbeddedLookup = orig }()
	EmbeddedLookup = func(string) ([]byte, bool) { return []byte(`{"type": `), true }

	p, ok := Load("broken")
	assert.False(t, ok)
	assert.Equal(t, Fallback(), p)
}

func TestUnknownTypeFallsBack(t *testing.T) {
	orig := EmbeddedLookup
	defer func() { EmbeddedLookup = orig }()
	EmbeddedLookup = func(string) ([]byte, bool) {
		return []byte(`{"name":"x","type":"quad_boiler"}`), true
	}

	_, ok := Load("x")
	assert.False(t, ok)
}

func TestNumericFieldsParse(t *testing.T) {
	orig := EmbeddedLookup
	defer func() { EmbeddedLookup = orig }()
	// Integer and fractional literals both show up in profile files.
	EmbeddedLookup = func(string) ([]byte, bool) {
		return []byte(`{"name":"n","type":"heat_exchanger","hx_mode":"pressure",` +
			`"brew_watts":1400,"steam_watts":1250.5,"group_offset_c":2.5}`), true
	}

	p, ok := Load("n")
	require.True(t, ok)
	assert.Equal(t, float32(1400), p.BrewWatts)
	assert.Equal(t, float32(1250.5), p.SteamWatts)
	assert.Equal(t, float32(2.5), p.GroupOffset)
	assert.Equal(t, types.HXPressure, p.HXModeOf())
}

func TestStartPublishesRetained(t *testing.T) {
	b := bus.NewBus(4)
	conn := b.NewConnection("test")

	got := NewService("dual_boiler").Start(context.Background(), conn)
	assert.Equal(t, "duetto-db", got.Name)

	// Late subscriber still sees the retained profile.
	sub := conn.Subscribe(Topic)
	msg := <-sub.Channel()
	p, ok := msg.Payload.(types.MachineProfile)
	require.True(t, ok)
	assert.Equal(t, got, p)
	assert.True(t, msg.Retained)
}
