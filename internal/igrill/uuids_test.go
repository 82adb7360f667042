package igrill

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCharacteristicsFor_ProbeOffsets(t *testing.T) {
	p, err := ProfileFor("igrill_v2")
	require.NoError(t, err)
	m := CharacteristicsFor(p)

	want := map[Capability]string{
		ProbeTemperature(1): "06ef0002-2e06-4b79-9e33-fce2c42805ec",
		ProbeThreshold(1):   "06ef0003-2e06-4b79-9e33-fce2c42805ec",
		ProbeTemperature(2): "06ef0004-2e06-4b79-9e33-fce2c42805ec",
		ProbeThreshold(2):   "06ef0005-2e06-4b79-9e33-fce2c42805ec",
		ProbeTemperature(3): "06ef0006-2e06-4b79-9e33-fce2c42805ec",
		ProbeThreshold(3):   "06ef0007-2e06-4b79-9e33-fce2c42805ec",
		ProbeTemperature(4): "06ef0008-2e06-4b79-9e33-fce2c42805ec",
		ProbeThreshold(4):   "06ef0009-2e06-4b79-9e33-fce2c42805ec",
	}
	for c, u := range want {
		assert.Equal(t, u, m.UUID(c), "%s MUST map to %s", c, u)
	}
	assert.False(t, m.Has(ProbeTemperature(5)))
	assert.Equal(t, 4, m.Probes())
}

func TestCharacteristicsFor_FixedIdentifiers(t *testing.T) {
	p, err := ProfileFor("igrill_v3")
	require.NoError(t, err)
	m := CharacteristicsFor(p)

	assert.Equal(t, "64ac0001-4a4b-4b58-9f37-94d3c52ffdf7", m.UUID(CapFirmwareVersion))
	assert.Equal(t, "64ac0002-4a4b-4b58-9f37-94d3c52ffdf7", m.UUID(CapAppChallenge))
	assert.Equal(t, "64ac0003-4a4b-4b58-9f37-94d3c52ffdf7", m.UUID(CapDeviceChallenge))
	assert.Equal(t, "64ac0004-4a4b-4b58-9f37-94d3c52ffdf7", m.UUID(CapDeviceResponse))
	assert.Equal(t, "00002a19-0000-1000-8000-00805f9b34fb", m.UUID(CapBatteryLevel))
	assert.Equal(t, "f5d40001-3548-4c22-9947-f3673fce3cd9", m.UUID(CapPropaneLevel))
	assert.Equal(t, "eaef0001-3909-454c-9d7e-e68cba24a9b8", m.UUID(CapLEDKnobToggle))
	assert.Equal(t, "06ef000a-2e06-4b79-9e33-fce2c42805ec", m.UUID(CapAmbientTemperature))
	assert.False(t, m.Has(CapHeatingElements))
}

func TestCharacteristicsFor_CapabilityGating(t *testing.T) {
	pulse, _ := ProfileFor("pulse_2000")
	m := CharacteristicsFor(pulse)

	assert.Equal(t, "6c91000a-58dc-41c7-943f-518b278ceaaa", m.UUID(CapHeatingElements))
	assert.False(t, m.Has(CapBatteryLevel), "Pulse has no battery")
	assert.False(t, m.Has(CapPropaneLevel))
	assert.False(t, m.Has(CapLEDKnobToggle))
	assert.Equal(t, "", m.UUID(CapBatteryLevel))
}

func TestCharacteristicsFor_Deterministic(t *testing.T) {
	for _, p := range Profiles() {
		a := CharacteristicsFor(p)
		b := CharacteristicsFor(p)
		assert.Equal(t, a.Capabilities(), b.Capabilities())
		for _, c := range a.Capabilities() {
			assert.Equal(t, a.UUID(c), b.UUID(c))
		}
	}
}

func TestCharacteristicsFor_Count(t *testing.T) {
	mini, _ := ProfileFor("igrill_mini")
	// firmware + challenge trio + ambient + battery + probe temp/threshold
	assert.Equal(t, 8, CharacteristicsFor(mini).Len())
}
