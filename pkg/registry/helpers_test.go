package registry_test

import (
	"context"
	"crypto/sha256"
	"io"
	"log"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	autotypes "github.com/smartcontractkit/chainlink-automation/pkg/v3/types"
	ocr2keepers "github.com/smartcontractkit/chainlink-common/pkg/types/automation"

	"github.com/smartcontractkit/chainlink-automation-registry/pkg/encoding"
	"github.com/smartcontractkit/chainlink-automation-registry/pkg/registry"
	"github.com/smartcontractkit/chainlink-automation-registry/pkg/types"
)

var (
	testOwner    = common.HexToAddress("0x0000000000000000000000000000000000000a11")
	testToken    = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	testContract = common.HexToAddress("0x00000000000000000000000000000000000000cc")

	testSigners = []common.Address{
		common.HexToAddress("0x0000000000000000000000000000000000000101"),
		common.HexToAddress("0x0000000000000000000000000000000000000102"),
		common.HexToAddress("0x0000000000000000000000000000000000000103"),
		common.HexToAddress("0x0000000000000000000000000000000000000104"),
	}

	testTransmitters = []common.Address{
		common.HexToAddress("0x0000000000000000000000000000000000000201"),
		common.HexToAddress("0x0000000000000000000000000000000000000202"),
		common.HexToAddress("0x0000000000000000000000000000000000000203"),
		common.HexToAddress("0x0000000000000000000000000000000000000204"),
	}

	testPayees = []common.Address{
		common.HexToAddress("0x0000000000000000000000000000000000000301"),
		common.HexToAddress("0x0000000000000000000000000000000000000302"),
		common.HexToAddress("0x0000000000000000000000000000000000000303"),
		common.HexToAddress("0x0000000000000000000000000000000000000304"),
	}
)

// testBlocks is a deterministic BlockSource for tests. Hashes are derived
// from block numbers so history is reconstructible without storage.
type testBlocks struct {
	head     ocr2keepers.BlockNumber
	lookback uint64
}

func newTestBlocks(head uint64) *testBlocks {
	return &testBlocks{head: ocr2keepers.BlockNumber(head), lookback: 256}
}

func blockHashAt(number ocr2keepers.BlockNumber) [32]byte {
	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(uint64(number) >> (8 * (7 - i)))
	}

	return sha256.Sum256(buf[:])
}

func (b *testBlocks) LatestBlock() ocr2keepers.BlockKey {
	return ocr2keepers.BlockKey{Number: b.head, Hash: blockHashAt(b.head)}
}

func (b *testBlocks) BlockHash(number ocr2keepers.BlockNumber) ([32]byte, bool) {
	if number > b.head {
		return [32]byte{}, false
	}

	if uint64(b.head)-uint64(number) > b.lookback {
		return [32]byte{}, false
	}

	return blockHashAt(number), true
}

// testTarget is a configurable upkeep callee.
type testTarget struct {
	checkFn   func(ctx context.Context, checkData []byte) (bool, []byte, uint64, error)
	performFn func(ctx context.Context, performData []byte, budget uint64) (bool, uint64)
}

func (t *testTarget) CheckUpkeep(ctx context.Context, checkData []byte) (bool, []byte, uint64, error) {
	if t.checkFn != nil {
		return t.checkFn(ctx, checkData)
	}

	return true, []byte("perform"), 40_000, nil
}

func (t *testTarget) PerformUpkeep(ctx context.Context, performData []byte, budget uint64) (bool, uint64) {
	if t.performFn != nil {
		return t.performFn(ctx, performData, budget)
	}

	return true, 60_000
}

// staticVerifier sidesteps real cryptography by returning a fixed signer
// set for every report.
type staticVerifier struct {
	signers []common.Address
	err     error
}

func (v *staticVerifier) RecoverSigners(_ [3][32]byte, _ []byte, rs [][32]byte, _ [][32]byte, _ [32]byte) ([]common.Address, error) {
	if v.err != nil {
		return nil, v.err
	}

	return v.signers[:len(rs)], nil
}

// staticFeed returns one fixed reading.
type staticFeed struct {
	answer    *big.Int
	updatedAt time.Time
	err       error
}

func (f *staticFeed) LatestRoundData() (uint64, *big.Int, time.Time, error) {
	return 1, f.answer, f.updatedAt, f.err
}

func testOnchainConfig() types.OnchainConfig {
	return types.OnchainConfig{
		CheckGasLimit:         10_000_000,
		MaxPerformGas:         5_000_000,
		MaxCheckDataSize:      2_000,
		MaxPerformDataSize:    2_000,
		MaxRevertDataSize:     1_000,
		GasCeilingMultiplier:  2,
		StalenessSeconds:      90_000,
		FallbackGasPrice:      big.NewInt(1_000_000_000),
		ReorgProtectionEnabled: true,
	}
}

func testBillingConfig() types.BillingConfig {
	return types.BillingConfig{
		PremiumPPB:        100_000_000, // 10%
		FlatFeeMicroToken: 0,
		Decimals:          18,
		FallbackPrice:     big.NewInt(2_000_000_000_000_000_000),
		MinSpend:          big.NewInt(100_000_000_000_000_000),
	}
}

type fixture struct {
	registry *registry.Registry
	blocks   *testBlocks
	verifier *staticVerifier
	digest   [32]byte
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	blocks := newTestBlocks(100)
	verifier := &staticVerifier{signers: testSigners}

	reg, err := registry.New(registry.Config{
		Owner:           testOwner,
		ChainID:         1337,
		ContractAddress: testContract,
		Verifier:        verifier,
		Blocks:          blocks,
		Logger:          log.New(io.Discard, "", 0),
	})
	require.NoError(t, err)

	digest, err := reg.SetConfig(
		testOwner,
		testSigners,
		testTransmitters,
		1,
		testOnchainConfig(),
		1,
		[]byte("offchain"),
		[]common.Address{testToken},
		[]types.BillingConfig{testBillingConfig()},
	)
	require.NoError(t, err)

	return &fixture{
		registry: reg,
		blocks:   blocks,
		verifier: verifier,
		digest:   [32]byte(digest),
	}
}

func (f *fixture) registerUpkeep(t *testing.T, target types.Target, triggerType autotypes.UpkeepType, balance *big.Int) ocr2keepers.UpkeepIdentifier {
	t.Helper()

	if target == nil {
		target = &testTarget{}
	}

	id, err := f.registry.RegisterUpkeep(target, 500_000, testOwner, triggerType, testToken, nil, nil, nil)
	require.NoError(t, err)

	if balance != nil && balance.Sign() > 0 {
		require.NoError(t, f.registry.AddFunds(id, balance))
	}

	return id
}

func conditionalTrigger(block ocr2keepers.BlockNumber) ocr2keepers.Trigger {
	return ocr2keepers.Trigger{
		BlockNumber: block,
		BlockHash:   blockHashAt(block),
	}
}

func logTrigger(block ocr2keepers.BlockNumber, txHash [32]byte, index uint32) ocr2keepers.Trigger {
	trigger := ocr2keepers.NewLogTrigger(block, blockHashAt(block), &ocr2keepers.LogTriggerExtension{
		TxHash:      txHash,
		Index:       index,
		BlockHash:   blockHashAt(block),
		BlockNumber: block,
	})

	return trigger
}

func (f *fixture) buildReport(t *testing.T, ids []ocr2keepers.UpkeepIdentifier, triggers []ocr2keepers.Trigger) []byte {
	t.Helper()

	report := types.Report{
		FastGasWei: big.NewInt(1_000_000_000),
		LinkNative: big.NewInt(2_000_000_000_000_000_000),
	}

	for i, id := range ids {
		packed, err := encoding.PackTrigger(id, triggers[i])
		require.NoError(t, err)

		report.UpkeepIDs = append(report.UpkeepIDs, id)
		report.GasLimits = append(report.GasLimits, 500_000)
		report.Triggers = append(report.Triggers, packed)
		report.PerformDatas = append(report.PerformDatas, []byte("perform"))
	}

	raw, err := encoding.PackReport(report)
	require.NoError(t, err)

	return raw
}

func (f *fixture) transmit(t *testing.T, rawReport []byte) ([]types.UpkeepResult, error) {
	t.Helper()

	ctx := [3][32]byte{f.digest}
	sigs := make([][32]byte, 2)

	return f.registry.Transmit(context.Background(), testTransmitters[0], ctx, rawReport, sigs, sigs, [32]byte{})
}
