package run

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartcontractkit/chainlink-automation-registry/tools/simulator/config"
)

func testPlan() config.SimulationPlan {
	return config.SimulationPlan{
		Registry: config.Registry{
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
			Billing: config.Billing{
				PremiumPPB:    100_000_000,
				Decimals:      18,
				FallbackPrice: big.NewInt(2_000_000_000_000_000_000),
				MinSpend:      big.NewInt(100_000_000_000_000_000),
			},
		},
		Blocks: config.Blocks{
			Genesis:    big.NewInt(1),
			Cadence:    config.Duration(20 * time.Millisecond),
			Duration:   6,
			EndPadding: 2,
		},
		ConfigEvents: []config.SetConfigEvent{
			{
				Event:           config.Event{TriggerBlock: big.NewInt(1)},
				CommitteeSize:   4,
				MaxFaultyNodesF: 1,
			},
		},
		GenerateUpkeeps: []config.GenerateUpkeepsEvent{
			{
				Event:           config.Event{TriggerBlock: big.NewInt(2)},
				Count:           1,
				StartID:         big.NewInt(100),
				EligibilityFunc: "always",
				UpkeepType:      config.ConditionalUpkeepType,
				InitialFunds:    big.NewInt(5_000_000_000_000_000_000),
				Expected:        config.AllExpected,
			},
		},
	}
}

func TestRunner_EndToEnd(t *testing.T) {
	plan := testPlan()

	outputs, err := SetupOutput("", false, plan)
	require.NoError(t, err)

	runner, err := NewRunner(plan, outputs)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, runner.Run(ctx))

	require.Len(t, runner.registered, 1)

	upkeep, ok := runner.registry.GetUpkeep(runner.registered[0])
	require.True(t, ok)

	assert.Greater(t, runner.upkeeps[0].PerformCount(), 0, "an always-eligible upkeep should perform during the run")
	assert.Positive(t, upkeep.AmountSpent.Sign(), "performs should be charged to the upkeep")

	// deposits never leave the reserve during a run
	assert.Equal(t, big.NewInt(5_000_000_000_000_000_000), runner.registry.TotalReserve())
	assert.Positive(t, runner.registry.TotalPremium().Sign(), "settlement should accrue committee premium")
}

func TestRunner_CancelStopsSettlement(t *testing.T) {
	plan := testPlan()
	plan.CancelEvents = []config.CancelUpkeepEvent{
		{
			Event:       config.Event{TriggerBlock: big.NewInt(4)},
			UpkeepIndex: 0,
			ByOwner:     true,
		},
	}

	outputs, err := SetupOutput("", false, plan)
	require.NoError(t, err)

	runner, err := NewRunner(plan, outputs)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, runner.Run(ctx))

	upkeep, ok := runner.registry.GetUpkeep(runner.registered[0])
	require.True(t, ok)

	assert.True(t, upkeep.Canceled(), "owner cancellation should take effect mid-run")
}
