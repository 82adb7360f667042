package device

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeUUID(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "16-bit UUID", input: "2a19", expected: "2a19"},
		{name: "16-bit UUID uppercase", input: "2A19", expected: "2a19"},
		{name: "16-bit UUID with 0x prefix", input: "0x2a19", expected: "2a19"},
		{name: "16-bit UUID with 0X prefix", input: "0X2A19", expected: "2a19"},

		{name: "SIG base UUID with dashes", input: "00002a19-0000-1000-8000-00805f9b34fb", expected: "2a19"},
		{name: "SIG base UUID without dashes", input: "00002a1900001000800000805f9b34fb", expected: "2a19"},
		{name: "SIG base UUID uppercase", input: "00002A19-0000-1000-8000-00805F9B34FB", expected: "2a19"},
		{name: "SIG base UUID in braces", input: "{00002a19-0000-1000-8000-00805f9b34fb}", expected: "2a19"},

		{name: "vendor UUID", input: "06ef0002-2e06-4b79-9e33-fce2c42805ec", expected: "06ef00022e064b799e33fce2c42805ec"},
		{name: "vendor UUID uppercase", input: "64AC0001-4A4B-4B58-9F37-94D3C52FFDF7", expected: "64ac00014a4b4b589f3794d3c52ffdf7"},
		{name: "wrong prefix is not shortened", input: "AA002902-0000-1000-8000-00805f9b34fb", expected: "aa00290200001000800000805f9b34fb"},

		{name: "empty string", input: "", expected: ""},
		{name: "32-bit form", input: "12345678", expected: "12345678"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeUUID(tt.input))
		})
	}
}

func TestNormalizeUUIDs(t *testing.T) {
	input := []string{
		"2a19",
		"0x180f",
		"00002a19-0000-1000-8000-00805f9b34fb",
		"eaef0001-3909-454c-9d7e-e68cba24a9b8",
	}

	expected := []string{
		"2a19",
		"180f",
		"2a19",
		"eaef00013909454c9d7ee68cba24a9b8",
	}

	assert.Equal(t, expected, NormalizeUUIDs(input))
}

func TestNormalizeUUID_NoShortening(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		reason string
	}{
		{name: "custom suffix", input: "00002902-1234-5678-9abc-def012345678", reason: "suffix doesn't match Bluetooth SIG base"},
		{name: "too short", input: "00002902", reason: "only 8 chars, not 32"},
		{name: "too long", input: "0000290200001000800000805f9b34fb00", reason: "34 chars, not 32"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := NormalizeUUID(tt.input)
			assert.NotEqual(t, "2902", result, "Should NOT shorten: %s", tt.reason)
			assert.Equal(t, strings.ToLower(strings.ReplaceAll(tt.input, "-", "")), result)
		})
	}
}

func TestExpandUUID(t *testing.T) {
	got, err := ExpandUUID("2a19")
	require.NoError(t, err)
	assert.Equal(t, "00002a19-0000-1000-8000-00805f9b34fb", got)

	got, err = ExpandUUID("06ef00022e064b799e33fce2c42805ec")
	require.NoError(t, err)
	assert.Equal(t, "06ef0002-2e06-4b79-9e33-fce2c42805ec", got)

	_, err = ExpandUUID("zz")
	assert.Error(t, err)
}
