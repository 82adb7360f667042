package discovery

import (
	"testing"

	"github.com/srg/igrill/internal/igrill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		expected igrill.Model
	}{
		{"iGrill_mini", igrill.ModelIGrillMini},
		{"IGRILL_MINI 0042", igrill.ModelIGrillMini},
		{"iGrill_mini_2", igrill.ModelIGrillMini2},
		{"iGrill_V2", igrill.ModelIGrillV2},
		{"igrill_v2_2-ABCD", igrill.ModelIGrillV22},
		{"iGrill_V3", igrill.ModelIGrillV3},
		{"pulse_1000", igrill.ModelPulse1000},
		{"Pulse_2000 A1", igrill.ModelPulse2000},
		{"kitchen_thermometer", igrill.ModelKitchenThermometer},
		{"kitchen_thermometer_mini", igrill.ModelKitchenThermometerMini},
		{"KT 0815", igrill.ModelKitchenThermometer},
		{"kt_mini", igrill.ModelKitchenThermometerMini},
		{"  iGrill_V2  ", igrill.ModelIGrillV2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, ok := Classify(tt.name)
			require.True(t, ok, "%q MUST classify", tt.name)
			assert.Equal(t, tt.expected, p.Model())
		})
	}
}

func TestClassify_Unknown(t *testing.T) {
	for _, name := range []string{"", "Weber Q", "igril", "Pulse", "Flower care"} {
		_, ok := Classify(name)
		assert.False(t, ok, "%q MUST NOT classify", name)
	}
}

func TestClassify_LongestPrefixWins(t *testing.T) {
	for i := 1; i < len(prefixes); i++ {
		assert.GreaterOrEqual(t, len(prefixes[i-1].tag), len(prefixes[i].tag),
			"prefixes MUST be ordered longest first")
	}
}
