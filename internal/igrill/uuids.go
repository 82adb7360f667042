package igrill

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// Capability names one addressable function of a thermometer.
type Capability string

const (
	CapFirmwareVersion    Capability = "firmware_version"
	CapBatteryLevel       Capability = "battery_level"
	CapAppChallenge       Capability = "app_challenge"
	CapDeviceChallenge    Capability = "device_challenge"
	CapDeviceResponse     Capability = "device_response"
	CapHeatingElements    Capability = "heating_elements"
	CapAmbientTemperature Capability = "ambient_temperature"
	CapPropaneLevel       Capability = "propane_level"
	CapLEDKnobToggle      Capability = "led_knob_toggle"
)

// MaxProbes is the largest probe count of any known model.
const MaxProbes = 4

var (
	uuidFirmwareVersion    = uuid.MustParse("64ac0001-4a4b-4b58-9f37-94d3c52ffdf7")
	uuidAppChallenge       = uuid.MustParse("64ac0002-4a4b-4b58-9f37-94d3c52ffdf7")
	uuidDeviceChallenge    = uuid.MustParse("64ac0003-4a4b-4b58-9f37-94d3c52ffdf7")
	uuidDeviceResponse     = uuid.MustParse("64ac0004-4a4b-4b58-9f37-94d3c52ffdf7")
	uuidBatteryLevel       = uuid.MustParse("00002a19-0000-1000-8000-00805f9b34fb")
	uuidHeatingElements    = uuid.MustParse("6c91000a-58dc-41c7-943f-518b278ceaaa")
	uuidAmbientTemperature = uuid.MustParse("06ef000a-2e06-4b79-9e33-fce2c42805ec")
	uuidPropaneLevel       = uuid.MustParse("f5d40001-3548-4c22-9947-f3673fce3cd9")
	uuidLEDKnobToggle      = uuid.MustParse("eaef0001-3909-454c-9d7e-e68cba24a9b8")

	// Probe N lives at base + 2*(N-1); temperature and threshold interleave.
	uuidProbeTemperatureBase = uuid.MustParse("06ef0002-2e06-4b79-9e33-fce2c42805ec")
	uuidProbeThresholdBase   = uuid.MustParse("06ef0003-2e06-4b79-9e33-fce2c42805ec")
)

// ProbeTemperature returns the capability for the temperature of probe i (1-based).
func ProbeTemperature(i int) Capability {
	return Capability(fmt.Sprintf("probe_%d_temperature", i))
}

// ProbeThreshold returns the capability for the alarm threshold of probe i (1-based).
func ProbeThreshold(i int) Capability {
	return Capability(fmt.Sprintf("probe_%d_threshold", i))
}

// probeUUID offsets the leading 32-bit field of base by 2*(index-1).
func probeUUID(base uuid.UUID, index int) uuid.UUID {
	u := base
	head := binary.BigEndian.Uint32(u[:4])
	binary.BigEndian.PutUint32(u[:4], head+uint32(2*(index-1)))
	return u
}

// CharacteristicMap maps capabilities to characteristic UUIDs for one profile.
type CharacteristicMap struct {
	ids    map[Capability]uuid.UUID
	probes int
}

// CharacteristicsFor builds the characteristic map implied by p. The result
// depends only on p's declared capabilities and probe count.
//
// Ambient temperature is always included: whether a device exposes it is only
// known after discovery, and callers check the channel before using it.
func CharacteristicsFor(p Profile) CharacteristicMap {
	ids := map[Capability]uuid.UUID{
		CapFirmwareVersion:    uuidFirmwareVersion,
		CapAppChallenge:       uuidAppChallenge,
		CapDeviceChallenge:    uuidDeviceChallenge,
		CapDeviceResponse:     uuidDeviceResponse,
		CapAmbientTemperature: uuidAmbientTemperature,
	}
	if p.HasBattery() {
		ids[CapBatteryLevel] = uuidBatteryLevel
	}
	if p.HasHeatingElement() {
		ids[CapHeatingElements] = uuidHeatingElements
	}
	if p.HasPropane() {
		ids[CapPropaneLevel] = uuidPropaneLevel
	}
	if p.HasLEDKnob() {
		ids[CapLEDKnobToggle] = uuidLEDKnobToggle
	}
	for i := 1; i <= p.ProbeCount(); i++ {
		ids[ProbeTemperature(i)] = probeUUID(uuidProbeTemperatureBase, i)
		ids[ProbeThreshold(i)] = probeUUID(uuidProbeThresholdBase, i)
	}
	return CharacteristicMap{ids: ids, probes: p.ProbeCount()}
}

// Lookup returns the UUID for c, if the profile has it.
func (m CharacteristicMap) Lookup(c Capability) (uuid.UUID, bool) {
	u, ok := m.ids[c]
	return u, ok
}

// UUID returns the dashed lowercase UUID for c, or "" if the profile lacks it.
func (m CharacteristicMap) UUID(c Capability) string {
	u, ok := m.ids[c]
	if !ok {
		return ""
	}
	return u.String()
}

// Has reports whether the profile declares c.
func (m CharacteristicMap) Has(c Capability) bool {
	_, ok := m.ids[c]
	return ok
}

// Probes returns the number of probe channels.
func (m CharacteristicMap) Probes() int {
	return m.probes
}

// Capabilities returns all mapped capabilities in a stable order.
func (m CharacteristicMap) Capabilities() []Capability {
	out := make([]Capability, 0, len(m.ids))
	for c := range m.ids {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Len returns the number of mapped capabilities.
func (m CharacteristicMap) Len() int {
	return len(m.ids)
}
