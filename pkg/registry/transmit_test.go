package registry_test

import (
	"context"
	"crypto/rand"
	"io"
	"log"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	autotypes "github.com/smartcontractkit/chainlink-automation/pkg/v3/types"
	ocr2keepers "github.com/smartcontractkit/chainlink-common/pkg/types/automation"

	"github.com/smartcontractkit/chainlink-automation-registry/pkg/encoding"
	"github.com/smartcontractkit/chainlink-automation-registry/pkg/registry"
	"github.com/smartcontractkit/chainlink-automation-registry/pkg/signatures"
	"github.com/smartcontractkit/chainlink-automation-registry/pkg/types"
)

func TestTransmit_AuthRejections(t *testing.T) {
	f := newFixture(t)
	id := f.registerUpkeep(t, nil, autotypes.ConditionTrigger, oneEther)
	raw := f.buildReport(t, []ocr2keepers.UpkeepIdentifier{id}, []ocr2keepers.Trigger{conditionalTrigger(95)})

	ctx := context.Background()
	goodContext := [3][32]byte{f.digest}
	sigs := make([][32]byte, 2)

	_, err := f.registry.Transmit(ctx, common.HexToAddress("0xdead"), goodContext, raw, sigs, sigs, [32]byte{})
	assert.ErrorIs(t, err, types.ErrOnlyActiveTransmitters)

	_, err = f.registry.Transmit(ctx, testTransmitters[0], [3][32]byte{{0xff}}, raw, sigs, sigs, [32]byte{})
	assert.ErrorIs(t, err, types.ErrConfigDigestMismatch)

	_, err = f.registry.Transmit(ctx, testTransmitters[0], goodContext, raw, make([][32]byte, 3), make([][32]byte, 3), [32]byte{})
	assert.ErrorIs(t, err, types.ErrIncorrectNumberOfSignatures)

	f.verifier.signers = []common.Address{common.HexToAddress("0xbad1"), common.HexToAddress("0xbad2")}

	_, err = f.registry.Transmit(ctx, testTransmitters[0], goodContext, raw, sigs, sigs, [32]byte{})
	assert.ErrorIs(t, err, types.ErrOnlyActiveSigners)

	f.verifier.signers = []common.Address{testSigners[0], testSigners[0]}

	_, err = f.registry.Transmit(ctx, testTransmitters[0], goodContext, raw, sigs, sigs, [32]byte{})
	assert.ErrorIs(t, err, types.ErrDuplicateSigners)

	f.verifier.signers = testSigners

	_, err = f.registry.Transmit(ctx, testTransmitters[0], goodContext, []byte("garbage"), sigs, sigs, [32]byte{})
	assert.ErrorIs(t, err, types.ErrInvalidReport)

	require.NoError(t, f.registry.Pause(testOwner))

	_, err = f.registry.Transmit(ctx, testTransmitters[0], goodContext, raw, sigs, sigs, [32]byte{})
	assert.ErrorIs(t, err, types.ErrRegistryPaused)
}

func TestTransmit_PerformsConditional(t *testing.T) {
	f := newFixture(t)
	id := f.registerUpkeep(t, nil, autotypes.ConditionTrigger, oneEther)
	raw := f.buildReport(t, []ocr2keepers.UpkeepIdentifier{id}, []ocr2keepers.Trigger{conditionalTrigger(95)})

	results, err := f.transmit(t, raw)
	require.NoError(t, err)
	require.Len(t, results, 1)

	result := results[0]
	assert.Equal(t, types.OutcomePerformed, result.Outcome)
	assert.True(t, result.Success)
	assert.Equal(t, uint64(60_000), result.GasUsed)
	assert.Equal(t, ocr2keepers.BlockNumber(95), result.CheckBlock)
	assert.True(t, result.TotalPayment.Sign() > 0)
	assert.Equal(t, result.TotalPayment, new(big.Int).Add(result.GasCharge, result.Premium))

	upkeep, _ := f.registry.GetUpkeep(id)
	assert.Equal(t, ocr2keepers.BlockNumber(95), upkeep.LastPerformedBlockNumber)
	assert.Equal(t, result.TotalPayment, upkeep.AmountSpent)
	assert.Equal(t, new(big.Int).Sub(oneEther, result.TotalPayment), upkeep.Balance)

	// the charge split is visible in the transmitter and premium pools
	account, _ := f.registry.GetTransmitterInfo(testTransmitters[0])
	assert.Equal(t, result.GasCharge, account.Balance)
	assert.Equal(t, result.Premium, f.registry.TotalPremium())

	// settlement moves funds internally; the reserve is untouched
	assert.Equal(t, oneEther, f.registry.TotalReserve())
}

func TestTransmit_StaleConditional(t *testing.T) {
	f := newFixture(t)
	id := f.registerUpkeep(t, nil, autotypes.ConditionTrigger, oneEther)
	raw := f.buildReport(t, []ocr2keepers.UpkeepIdentifier{id}, []ocr2keepers.Trigger{conditionalTrigger(95)})

	first, err := f.transmit(t, raw)
	require.NoError(t, err)
	require.Equal(t, types.OutcomePerformed, first[0].Outcome)

	second, err := f.transmit(t, raw)
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeStale, second[0].Outcome)
	assert.Nil(t, second[0].TotalPayment)

	// a later trigger block performs again
	later := f.buildReport(t, []ocr2keepers.UpkeepIdentifier{id}, []ocr2keepers.Trigger{conditionalTrigger(96)})

	third, err := f.transmit(t, later)
	require.NoError(t, err)
	assert.Equal(t, types.OutcomePerformed, third[0].Outcome)
}

func TestTransmit_LogDedup(t *testing.T) {
	f := newFixture(t)
	id := f.registerUpkeep(t, nil, autotypes.LogTrigger, oneEther)

	trigger := logTrigger(95, [32]byte{0xA1}, 3)
	raw := f.buildReport(t, []ocr2keepers.UpkeepIdentifier{id}, []ocr2keepers.Trigger{trigger})

	first, err := f.transmit(t, raw)
	require.NoError(t, err)
	require.Equal(t, types.OutcomePerformed, first[0].Outcome)

	// the identical log is deduplicated forever
	second, err := f.transmit(t, raw)
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeStale, second[0].Outcome)

	// a different log index is distinct work
	other := f.buildReport(t, []ocr2keepers.UpkeepIdentifier{id}, []ocr2keepers.Trigger{logTrigger(95, [32]byte{0xA1}, 4)})

	third, err := f.transmit(t, other)
	require.NoError(t, err)
	assert.Equal(t, types.OutcomePerformed, third[0].Outcome)
}

func TestTransmit_ReorgProtection(t *testing.T) {
	f := newFixture(t)

	t.Run("hash mismatch", func(t *testing.T) {
		id := f.registerUpkeep(t, nil, autotypes.ConditionTrigger, oneEther)
		trigger := ocr2keepers.Trigger{BlockNumber: 95, BlockHash: [32]byte{0xbb}}
		raw := f.buildReport(t, []ocr2keepers.UpkeepIdentifier{id}, []ocr2keepers.Trigger{trigger})

		results, err := f.transmit(t, raw)
		require.NoError(t, err)
		assert.Equal(t, types.OutcomeReorged, results[0].Outcome)
	})

	t.Run("future block", func(t *testing.T) {
		id := f.registerUpkeep(t, nil, autotypes.ConditionTrigger, oneEther)
		raw := f.buildReport(t, []ocr2keepers.UpkeepIdentifier{id}, []ocr2keepers.Trigger{conditionalTrigger(200)})

		results, err := f.transmit(t, raw)
		require.NoError(t, err)
		assert.Equal(t, types.OutcomeReorged, results[0].Outcome)
	})

	t.Run("empty hash bypasses", func(t *testing.T) {
		id := f.registerUpkeep(t, nil, autotypes.ConditionTrigger, oneEther)
		trigger := ocr2keepers.Trigger{BlockNumber: 95}
		raw := f.buildReport(t, []ocr2keepers.UpkeepIdentifier{id}, []ocr2keepers.Trigger{trigger})

		results, err := f.transmit(t, raw)
		require.NoError(t, err)
		assert.Equal(t, types.OutcomePerformed, results[0].Outcome)
	})

	t.Run("beyond lookback bypasses", func(t *testing.T) {
		f.blocks.head = 500

		id := f.registerUpkeep(t, nil, autotypes.ConditionTrigger, oneEther)
		trigger := ocr2keepers.Trigger{BlockNumber: 10, BlockHash: [32]byte{0xbb}}
		raw := f.buildReport(t, []ocr2keepers.UpkeepIdentifier{id}, []ocr2keepers.Trigger{trigger})

		results, err := f.transmit(t, raw)
		require.NoError(t, err)
		assert.Equal(t, types.OutcomePerformed, results[0].Outcome)
	})
}

func TestTransmit_ReorgProtectionDisabled(t *testing.T) {
	f := newFixture(t)

	conf := testOnchainConfig()
	conf.ReorgProtectionEnabled = false

	_, err := f.registry.SetConfig(
		testOwner, testSigners, testTransmitters, 1, conf, 2, nil,
		[]common.Address{testToken},
		[]types.BillingConfig{testBillingConfig()},
	)
	require.NoError(t, err)

	_, digest := f.registry.LatestConfigDetails()
	f.digest = [32]byte(digest)

	id := f.registerUpkeep(t, nil, autotypes.ConditionTrigger, oneEther)
	trigger := ocr2keepers.Trigger{BlockNumber: 95, BlockHash: [32]byte{0xbb}}
	raw := f.buildReport(t, []ocr2keepers.UpkeepIdentifier{id}, []ocr2keepers.Trigger{trigger})

	results, err := f.transmit(t, raw)
	require.NoError(t, err)
	assert.Equal(t, types.OutcomePerformed, results[0].Outcome)
}

func TestTransmit_CancelledEntries(t *testing.T) {
	f := newFixture(t)

	t.Run("unknown upkeep", func(t *testing.T) {
		unknown := encoding.NewUpkeepID([]byte("missing"), autotypes.ConditionTrigger)
		raw := f.buildReport(t, []ocr2keepers.UpkeepIdentifier{unknown}, []ocr2keepers.Trigger{conditionalTrigger(95)})

		results, err := f.transmit(t, raw)
		require.NoError(t, err)
		assert.Equal(t, types.OutcomeCancelled, results[0].Outcome)
		assert.Nil(t, results[0].TotalPayment)
	})

	t.Run("matured cancellation", func(t *testing.T) {
		id := f.registerUpkeep(t, nil, autotypes.ConditionTrigger, oneEther)
		require.NoError(t, f.registry.CancelUpkeep(testOwner, id))

		raw := f.buildReport(t, []ocr2keepers.UpkeepIdentifier{id}, []ocr2keepers.Trigger{conditionalTrigger(95)})

		results, err := f.transmit(t, raw)
		require.NoError(t, err)
		assert.Equal(t, types.OutcomeCancelled, results[0].Outcome)
	})

	t.Run("grace window still performs", func(t *testing.T) {
		admin := common.HexToAddress("0xbeef")
		id, err := f.registry.RegisterUpkeep(&testTarget{}, 500_000, admin, autotypes.ConditionTrigger, testToken, nil, nil, nil)
		require.NoError(t, err)
		require.NoError(t, f.registry.AddFunds(id, oneEther))
		require.NoError(t, f.registry.CancelUpkeep(admin, id))

		raw := f.buildReport(t, []ocr2keepers.UpkeepIdentifier{id}, []ocr2keepers.Trigger{conditionalTrigger(95)})

		// in-flight work settles until the grace window matures
		results, err := f.transmit(t, raw)
		require.NoError(t, err)
		assert.Equal(t, types.OutcomePerformed, results[0].Outcome)
	})
}

func TestTransmit_UnderfundedGracefully(t *testing.T) {
	f := newFixture(t)

	funded := big.NewInt(1_000)
	id := f.registerUpkeep(t, nil, autotypes.ConditionTrigger, funded)
	raw := f.buildReport(t, []ocr2keepers.UpkeepIdentifier{id}, []ocr2keepers.Trigger{conditionalTrigger(95)})

	results, err := f.transmit(t, raw)
	require.NoError(t, err)

	result := results[0]
	assert.Equal(t, types.OutcomePerformed, result.Outcome)

	// the whole balance is taken, never more
	assert.Equal(t, funded, result.TotalPayment)
	assert.Equal(t, funded, result.GasCharge)
	assert.Equal(t, 0, result.Premium.Sign())

	upkeep, _ := f.registry.GetUpkeep(id)
	assert.Equal(t, 0, upkeep.Balance.Sign())
}

func TestTransmit_PanickingTarget(t *testing.T) {
	f := newFixture(t)

	target := &testTarget{
		performFn: func(context.Context, []byte, uint64) (bool, uint64) {
			panic("target exploded")
		},
	}

	id := f.registerUpkeep(t, target, autotypes.ConditionTrigger, oneEther)
	raw := f.buildReport(t, []ocr2keepers.UpkeepIdentifier{id}, []ocr2keepers.Trigger{conditionalTrigger(95)})

	results, err := f.transmit(t, raw)
	require.NoError(t, err)

	result := results[0]
	assert.Equal(t, types.OutcomePerformed, result.Outcome)
	assert.False(t, result.Success)
	assert.Equal(t, uint64(500_000), result.GasUsed)
	assert.True(t, result.TotalPayment.Sign() > 0)
}

func TestTransmit_GasLimitBoundsBudget(t *testing.T) {
	f := newFixture(t)

	var budgetSeen uint64
	target := &testTarget{
		performFn: func(_ context.Context, _ []byte, budget uint64) (bool, uint64) {
			budgetSeen = budget
			return true, budget + 1 // overruns are clamped and failed
		},
	}

	id := f.registerUpkeep(t, target, autotypes.ConditionTrigger, oneEther)
	require.NoError(t, f.registry.SetUpkeepGasLimit(testOwner, id, 100_000))

	raw := f.buildReport(t, []ocr2keepers.UpkeepIdentifier{id}, []ocr2keepers.Trigger{conditionalTrigger(95)})

	results, err := f.transmit(t, raw)
	require.NoError(t, err)

	assert.Equal(t, uint64(100_000), budgetSeen)
	assert.False(t, results[0].Success)
	assert.Equal(t, uint64(100_000), results[0].GasUsed)
}

func TestTransmit_MixedBatch(t *testing.T) {
	f := newFixture(t)

	healthy := f.registerUpkeep(t, nil, autotypes.ConditionTrigger, oneEther)
	cancelled := f.registerUpkeep(t, nil, autotypes.ConditionTrigger, oneEther)
	require.NoError(t, f.registry.CancelUpkeep(testOwner, cancelled))

	raw := f.buildReport(t,
		[]ocr2keepers.UpkeepIdentifier{cancelled, healthy},
		[]ocr2keepers.Trigger{conditionalTrigger(95), conditionalTrigger(95)},
	)

	results, err := f.transmit(t, raw)
	require.NoError(t, err)
	require.Len(t, results, 2)

	// a dead entry never blocks the rest of the batch
	assert.Equal(t, types.OutcomeCancelled, results[0].Outcome)
	assert.Equal(t, types.OutcomePerformed, results[1].Outcome)
}

func TestTransmit_FundConservation(t *testing.T) {
	f := newFixture(t)

	ids := make([]ocr2keepers.UpkeepIdentifier, 0, 4)
	triggers := make([]ocr2keepers.Trigger, 0, 4)
	total := big.NewInt(0)

	amounts := []*big.Int{oneEther, big.NewInt(5_000), new(big.Int).Mul(oneEther, big.NewInt(3)), big.NewInt(123_456_789)}
	for _, amount := range amounts {
		ids = append(ids, f.registerUpkeep(t, nil, autotypes.ConditionTrigger, amount))
		triggers = append(triggers, conditionalTrigger(95))
		total = total.Add(total, amount)
	}

	_, err := f.transmit(t, f.buildReport(t, ids, triggers))
	require.NoError(t, err)

	require.NoError(t, f.registry.CancelUpkeep(testOwner, ids[1]))

	// every token that entered is still accounted for somewhere
	held := big.NewInt(0)
	for _, id := range ids {
		upkeep, ok := f.registry.GetUpkeep(id)
		require.True(t, ok)
		held.Add(held, upkeep.Balance)
	}

	for _, transmitter := range testTransmitters {
		if account, ok := f.registry.GetTransmitterInfo(transmitter); ok {
			held.Add(held, account.Balance)
		}
	}

	held.Add(held, f.registry.TotalPremium())
	held.Add(held, f.registry.OwnerBalance())

	assert.Equal(t, total, held)
	assert.Equal(t, total, f.registry.TotalReserve())
}

func TestTransmit_EndToEndSignatures(t *testing.T) {
	keyrings := make([]*signatures.EVMKeyring, 4)
	signers := make([]common.Address, 4)

	for i := range keyrings {
		keyring, err := signatures.NewEVMKeyring(rand.Reader)
		require.NoError(t, err)

		keyrings[i] = keyring
		signers[i] = keyring.Address()
	}

	blocks := newTestBlocks(100)

	reg, err := registry.New(registry.Config{
		Owner:           testOwner,
		ChainID:         1337,
		ContractAddress: testContract,
		Verifier:        signatures.NewEVMVerifier(),
		Blocks:          blocks,
		Logger:          log.New(io.Discard, "", 0),
	})
	require.NoError(t, err)

	digest, err := reg.SetConfig(
		testOwner, signers, testTransmitters, 1, testOnchainConfig(), 1, nil,
		[]common.Address{testToken},
		[]types.BillingConfig{testBillingConfig()},
	)
	require.NoError(t, err)

	id, err := reg.RegisterUpkeep(&testTarget{}, 500_000, testOwner, autotypes.ConditionTrigger, testToken, nil, nil, nil)
	require.NoError(t, err)
	require.NoError(t, reg.AddFunds(id, oneEther))

	packed, err := encoding.PackTrigger(id, conditionalTrigger(95))
	require.NoError(t, err)

	raw, err := encoding.PackReport(types.Report{
		FastGasWei:   big.NewInt(1_000_000_000),
		LinkNative:   big.NewInt(2_000_000_000_000_000_000),
		UpkeepIDs:    []ocr2keepers.UpkeepIdentifier{id},
		GasLimits:    []uint64{500_000},
		Triggers:     [][]byte{packed},
		PerformDatas: [][]byte{[]byte("perform")},
	})
	require.NoError(t, err)

	reportContext := [3][32]byte{digest}

	rs := make([][32]byte, 2)
	ss := make([][32]byte, 2)
	var vs [32]byte

	for i, keyring := range keyrings[:2] {
		r, s, v, err := keyring.SignReport(reportContext, raw)
		require.NoError(t, err)

		rs[i] = r
		ss[i] = s
		vs[i] = v
	}

	results, err := reg.Transmit(context.Background(), testTransmitters[0], reportContext, raw, rs, ss, vs)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, types.OutcomePerformed, results[0].Outcome)

	// a signature from outside the committee is rejected
	outsider, err := signatures.NewEVMKeyring(rand.Reader)
	require.NoError(t, err)

	r, s, v, err := outsider.SignReport(reportContext, raw)
	require.NoError(t, err)

	rs[1], ss[1], vs[1] = r, s, v

	_, err = reg.Transmit(context.Background(), testTransmitters[0], reportContext, raw, rs, ss, vs)
	assert.ErrorIs(t, err, types.ErrOnlyActiveSigners)
}
