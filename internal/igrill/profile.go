package igrill

import (
	"fmt"
	"strings"
)

// Model is the tag of a supported thermometer model.
type Model string

const (
	ModelIGrillMini             Model = "igrill_mini"
	ModelIGrillMini2            Model = "igrill_mini_2"
	ModelIGrillV2               Model = "igrill_v2"
	ModelIGrillV22              Model = "igrill_v2_2"
	ModelIGrillV3               Model = "igrill_v3"
	ModelPulse1000              Model = "pulse_1000"
	ModelPulse2000              Model = "pulse_2000"
	ModelKitchenThermometer     Model = "kitchen_thermometer"
	ModelKitchenThermometerMini Model = "kitchen_thermometer_mini"
)

// Manufacturer is reported as device metadata for every model.
const Manufacturer = "Weber"

// Profile describes the static capabilities of one model.
// Values are immutable; WithAmbientTemp returns a modified copy.
type Profile struct {
	model       Model
	displayName string
	probeCount  int
	battery     bool
	heating     bool
	propane     bool
	ledKnob     bool
	ambient     bool
}

func (p Profile) Model() Model            { return p.model }
func (p Profile) DisplayName() string     { return p.displayName }
func (p Profile) ProbeCount() int         { return p.probeCount }
func (p Profile) HasBattery() bool        { return p.battery }
func (p Profile) HasHeatingElement() bool { return p.heating }
func (p Profile) HasPropane() bool        { return p.propane }
func (p Profile) HasLEDKnob() bool        { return p.ledKnob }

// HasAmbientTemp is discovered at runtime and false on declared profiles.
func (p Profile) HasAmbientTemp() bool { return p.ambient }

// WithAmbientTemp returns a copy of p with ambient support set to has.
func (p Profile) WithAmbientTemp(has bool) Profile {
	p.ambient = has
	return p
}

func (p Profile) String() string {
	return fmt.Sprintf("%s (%s, %d probes)", p.displayName, p.model, p.probeCount)
}

var profiles = []Profile{
	{model: ModelIGrillMini, displayName: "iGrill Mini", probeCount: 1, battery: true},
	{model: ModelIGrillMini2, displayName: "iGrill Mini 2", probeCount: 1, battery: true},
	{model: ModelIGrillV2, displayName: "iGrill V2", probeCount: 4, battery: true},
	{model: ModelIGrillV22, displayName: "iGrill V2 2", probeCount: 4, battery: true},
	{model: ModelIGrillV3, displayName: "iGrill V3", probeCount: 4, battery: true, propane: true, ledKnob: true},
	{model: ModelPulse1000, displayName: "Pulse 1000", probeCount: 2, heating: true},
	{model: ModelPulse2000, displayName: "Pulse 2000", probeCount: 4, heating: true},
	{model: ModelKitchenThermometer, displayName: "Kitchen Thermometer", probeCount: 2, battery: true},
	{model: ModelKitchenThermometerMini, displayName: "Kitchen Thermometer Mini", probeCount: 1, battery: true},
}

// aliases are the short tags used by advertised names and older configs.
var aliases = map[string]Model{
	"kt":      ModelKitchenThermometer,
	"kt_mini": ModelKitchenThermometerMini,
}

// ProfileFor returns the profile for a model tag. Tags are matched
// case-insensitively and the kt/kt_mini aliases are accepted.
func ProfileFor(tag string) (Profile, error) {
	t := strings.ToLower(strings.TrimSpace(tag))
	if m, ok := aliases[t]; ok {
		t = string(m)
	}
	for _, p := range profiles {
		if string(p.model) == t {
			return p, nil
		}
	}
	return Profile{}, fmt.Errorf("%w: %q", ErrUnknownModel, tag)
}

// Models returns all supported model tags in catalogue order.
func Models() []Model {
	out := make([]Model, len(profiles))
	for i, p := range profiles {
		out[i] = p.model
	}
	return out
}

// Profiles returns every declared profile in catalogue order.
func Profiles() []Profile {
	out := make([]Profile, len(profiles))
	copy(out, profiles)
	return out
}

// Tags returns the tags (including aliases) that identify m.
func Tags(m Model) []string {
	tags := []string{string(m)}
	for alias, target := range aliases {
		if target == m {
			tags = append(tags, alias)
		}
	}
	return tags
}
