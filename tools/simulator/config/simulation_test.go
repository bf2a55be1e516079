package config

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimulationPlan_EncodeDecode(t *testing.T) {
	plan := SimulationPlan{
		Registry: Registry{
			ChainID:                1337,
			CheckGasLimit:          10_000_000,
			MaxPerformGas:          5_000_000,
			MaxPerformDataSize:     2000,
			MaxCheckDataSize:       2000,
			MaxRevertDataSize:      1000,
			GasCeilingMultiplier:   2,
			StalenessSeconds:       90_000,
			FallbackGasPrice:       big.NewInt(1_000_000_000),
			ReorgProtectionEnabled: true,
			Billing: Billing{
				PremiumPPB:    100_000_000,
				Decimals:      18,
				FallbackPrice: big.NewInt(2_000_000_000_000_000_000),
				MinSpend:      big.NewInt(100_000_000_000_000_000),
			},
		},
		Blocks: Blocks{
			Genesis:    big.NewInt(3),
			Cadence:    Duration(1 * time.Second),
			Jitter:     Duration(200 * time.Millisecond),
			Duration:   20,
			EndPadding: 20,
		},
		ConfigEvents: []SetConfigEvent{
			{
				Event:           Event{Type: SetConfigEventType, TriggerBlock: big.NewInt(3)},
				CommitteeSize:   4,
				MaxFaultyNodesF: 1,
			},
		},
		GenerateUpkeeps: []GenerateUpkeepsEvent{
			{
				Event:           Event{Type: GenerateUpkeepsEventType, TriggerBlock: big.NewInt(4)},
				Count:           5,
				StartID:         big.NewInt(100),
				EligibilityFunc: "2x",
				OffsetFunc:      "x",
				UpkeepType:      ConditionalUpkeepType,
				Expected:        AllExpected,
			},
		},
		LogEvents: []LogEvent{
			{
				Event:        Event{Type: LogEventType, TriggerBlock: big.NewInt(10)},
				TriggerValue: "signal-a",
			},
		},
		CancelEvents: []CancelUpkeepEvent{
			{
				Event:       Event{Type: CancelUpkeepEventType, TriggerBlock: big.NewInt(15)},
				UpkeepIndex: 2,
				ByOwner:     true,
			},
		},
	}

	encoded, err := plan.Encode()

	require.NoError(t, err, "no error expected from encoding the simulation plan")

	decodedPlan, err := DecodeSimulationPlan(encoded)

	require.NoError(t, err, "no error expected from decoding the simulation plan")

	assert.Equal(t, plan, decodedPlan, "simulation plan should match after encoding and decoding")
}

func TestDecodeSimulationPlan_DefaultsExpected(t *testing.T) {
	encoded := []byte(`{
		"blocks": {"genesisBlock": 1, "durationInBlocks": 10},
		"events": [
			{"type": "generateUpkeeps", "eventBlockNumber": 2, "count": 1, "startID": 1, "upkeepType": "conditional"}
		]
	}`)

	plan, err := DecodeSimulationPlan(encoded)

	require.NoError(t, err)
	require.Len(t, plan.GenerateUpkeeps, 1)
	assert.Equal(t, AllExpected, plan.GenerateUpkeeps[0].Expected, "expected assertion mode should default to all")
}

func TestDecodeSimulationPlan_UnrecognizedEvent(t *testing.T) {
	encoded := []byte(`{"events": [{"type": "notAnEvent", "eventBlockNumber": 2}]}`)

	_, err := DecodeSimulationPlan(encoded)

	require.ErrorIs(t, err, ErrEncoding)
}
