package igrill

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// NoProbeSentinel is the raw temperature reported when no probe is inserted.
const NoProbeSentinel = 63536

// ChallengeSize is the length of the app challenge.
const ChallengeSize = 16

// DecodeTemperature decodes a little-endian uint16 temperature in degrees
// Celsius. The no-probe sentinel decodes to 0. Bytes beyond the first two
// are ignored.
func DecodeTemperature(payload []byte) (float64, error) {
	if len(payload) < 2 {
		return 0, fmt.Errorf("%w: temperature needs 2 bytes, got %d", ErrMalformedPayload, len(payload))
	}
	raw := binary.LittleEndian.Uint16(payload)
	if raw == NoProbeSentinel {
		return 0, nil
	}
	return float64(raw), nil
}

// HeatingElements holds the Pulse heating element temperatures.
type HeatingElements struct {
	LeftActual    float64
	RightActual   float64
	LeftSetpoint  float64
	RightSetpoint float64
}

// Values returns the fields in payload order, matching HeatingKeys.
func (h HeatingElements) Values() [4]float64 {
	return [4]float64{h.LeftActual, h.RightActual, h.LeftSetpoint, h.RightSetpoint}
}

// DecodeHeatingElements parses the whitespace separated decimal quadruple
// "leftActual rightActual leftSetpoint rightSetpoint". Any non-numeric
// token fails the decode.
func DecodeHeatingElements(payload []byte) (HeatingElements, error) {
	if !utf8.Valid(payload) {
		return HeatingElements{}, fmt.Errorf("%w: heating elements payload is not UTF-8", ErrMalformedPayload)
	}
	fields := strings.Fields(string(bytes.TrimRight(payload, "\x00")))
	if len(fields) < 4 {
		return HeatingElements{}, fmt.Errorf("%w: heating elements need 4 values, got %d", ErrMalformedPayload, len(fields))
	}

	// Trailing numeric tokens are ignored, but every token must parse.
	v := make([]float64, len(fields))
	for i, field := range fields {
		f, err := strconv.ParseFloat(field, 64)
		if err != nil {
			return HeatingElements{}, fmt.Errorf("%w: heating element value %q: %v", ErrMalformedPayload, field, err)
		}
		v[i] = f
	}
	return HeatingElements{LeftActual: v[0], RightActual: v[1], LeftSetpoint: v[2], RightSetpoint: v[3]}, nil
}

// DecodeBattery returns the battery percentage carried in the first byte.
func DecodeBattery(payload []byte) (float64, error) {
	if len(payload) < 1 {
		return 0, fmt.Errorf("%w: empty battery payload", ErrMalformedPayload)
	}
	return float64(payload[0]), nil
}

// DecodePropane returns the propane level as first byte * 25. The device
// reports four discrete levels; the product is not clamped.
func DecodePropane(payload []byte) (float64, error) {
	if len(payload) < 1 {
		return 0, fmt.Errorf("%w: empty propane payload", ErrMalformedPayload)
	}
	return float64(payload[0]) * 25, nil
}

// DecodeFirmwareVersion trims trailing NUL padding and returns the version string.
func DecodeFirmwareVersion(payload []byte) (string, error) {
	trimmed := bytes.TrimRight(payload, "\x00")
	if !utf8.Valid(trimmed) {
		return "", fmt.Errorf("%w: firmware version is not valid UTF-8", ErrEncoding)
	}
	return string(trimmed), nil
}

// EncodeChallenge returns the app challenge: always 16 zero bytes.
func EncodeChallenge() []byte {
	return make([]byte, ChallengeSize)
}

// EncodeLEDToggle returns the LED knob payload.
func EncodeLEDToggle(on bool) []byte {
	if on {
		return []byte{1}
	}
	return []byte{0}
}
