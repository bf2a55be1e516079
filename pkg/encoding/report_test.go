package encoding_test

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	autotypes "github.com/smartcontractkit/chainlink-automation/pkg/v3/types"
	ocr2keepers "github.com/smartcontractkit/chainlink-common/pkg/types/automation"

	"github.com/smartcontractkit/chainlink-automation-registry/pkg/encoding"
	"github.com/smartcontractkit/chainlink-automation-registry/pkg/types"
)

func TestPackUnpackReport(t *testing.T) {
	id1 := encoding.NewUpkeepID([]byte("one"), autotypes.ConditionTrigger)
	id2 := encoding.NewUpkeepID([]byte("two"), autotypes.LogTrigger)

	trigger1, err := encoding.PackTrigger(id1, ocr2keepers.Trigger{BlockNumber: 10, BlockHash: [32]byte{1}})
	require.NoError(t, err)

	trigger2, err := encoding.PackTrigger(id2, ocr2keepers.NewLogTrigger(10, [32]byte{1}, &ocr2keepers.LogTriggerExtension{Index: 4}))
	require.NoError(t, err)

	report := types.Report{
		FastGasWei:   big.NewInt(1_000_000_000),
		LinkNative:   big.NewInt(5_000_000_000_000_000_000),
		UpkeepIDs:    []ocr2keepers.UpkeepIdentifier{id1, id2},
		GasLimits:    []uint64{100_000, 250_000},
		Triggers:     [][]byte{trigger1, trigger2},
		PerformDatas: [][]byte{[]byte("a"), []byte("bb")},
	}

	raw, err := encoding.PackReport(report)
	require.NoError(t, err)

	decoded, err := encoding.UnpackReport(raw)
	require.NoError(t, err)

	assert.Equal(t, report.FastGasWei, decoded.FastGasWei)
	assert.Equal(t, report.LinkNative, decoded.LinkNative)
	assert.Equal(t, report.UpkeepIDs, decoded.UpkeepIDs)
	assert.Equal(t, report.GasLimits, decoded.GasLimits)
	assert.Equal(t, report.Triggers, decoded.Triggers)
	assert.Equal(t, report.PerformDatas, decoded.PerformDatas)
}

func TestPackReport_RejectsInvalid(t *testing.T) {
	id := encoding.NewUpkeepID([]byte("one"), autotypes.ConditionTrigger)

	// mismatched parallel lists never encode
	report := types.Report{
		FastGasWei:   big.NewInt(1),
		LinkNative:   big.NewInt(1),
		UpkeepIDs:    []ocr2keepers.UpkeepIdentifier{id},
		GasLimits:    []uint64{100_000, 200_000},
		Triggers:     [][]byte{nil},
		PerformDatas: [][]byte{nil},
	}

	_, err := encoding.PackReport(report)
	assert.ErrorIs(t, err, types.ErrInvalidReport)

	// nil prices never encode
	report.GasLimits = []uint64{100_000}
	report.FastGasWei = nil

	_, err = encoding.PackReport(report)
	assert.ErrorIs(t, err, types.ErrInvalidReport)
}

func TestUnpackReport_Garbage(t *testing.T) {
	_, err := encoding.UnpackReport([]byte("not a report"))
	assert.ErrorIs(t, err, types.ErrInvalidReport)
}
