package igrill

import "fmt"

// Reading keys published in a snapshot.
const (
	KeyAmbientTemp                 = "ambient_temp"
	KeyBattery                     = "battery"
	KeyPropane                     = "propane_percentage"
	KeyHeatingElementLeftActual    = "heating_element_left_actual"
	KeyHeatingElementRightActual   = "heating_element_right_actual"
	KeyHeatingElementLeftSetpoint  = "heating_element_left_setpoint"
	KeyHeatingElementRightSetpoint = "heating_element_right_setpoint"
)

// Units and device classes attached to readings.
const (
	UnitCelsius = "°C"
	UnitPercent = "%"

	ClassTemperature = "temperature"
	ClassBattery     = "battery"
	ClassGas         = "gas"
)

// ProbeKey returns the reading key for probe i (1-based).
func ProbeKey(i int) string {
	return fmt.Sprintf("probe_%d", i)
}

// HeatingKeys lists the heating element keys in payload order.
var HeatingKeys = [4]string{
	KeyHeatingElementLeftActual,
	KeyHeatingElementRightActual,
	KeyHeatingElementLeftSetpoint,
	KeyHeatingElementRightSetpoint,
}

// ReadingKeys returns every key a completed poll publishes for p, in display order.
func ReadingKeys(p Profile) []string {
	keys := make([]string, 0, p.ProbeCount()+7)
	for i := 1; i <= p.ProbeCount(); i++ {
		keys = append(keys, ProbeKey(i))
	}
	if p.HasAmbientTemp() {
		keys = append(keys, KeyAmbientTemp)
	}
	if p.HasHeatingElement() {
		keys = append(keys, HeatingKeys[:]...)
	}
	if p.HasBattery() {
		keys = append(keys, KeyBattery)
	}
	if p.HasPropane() {
		keys = append(keys, KeyPropane)
	}
	return keys
}

// UnitFor returns the unit and device class for a reading key.
func UnitFor(key string) (unit, class string) {
	switch key {
	case KeyBattery:
		return UnitPercent, ClassBattery
	case KeyPropane:
		return UnitPercent, ClassGas
	default:
		return UnitCelsius, ClassTemperature
	}
}
