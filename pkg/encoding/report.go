package encoding

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"

	ocr2keepers "github.com/smartcontractkit/chainlink-common/pkg/types/automation"

	"github.com/smartcontractkit/chainlink-automation-registry/pkg/types"
)

var (
	uint256Type      = mustNewType("uint256")
	uint256SliceType = mustNewType("uint256[]")
	bytesSliceType   = mustNewType("bytes[]")

	reportArgs = abi.Arguments{
		{Name: "fastGasWei", Type: uint256Type},
		{Name: "linkNative", Type: uint256Type},
		{Name: "upkeepIds", Type: uint256SliceType},
		{Name: "gasLimits", Type: uint256SliceType},
		{Name: "triggers", Type: bytesSliceType},
		{Name: "performDatas", Type: bytesSliceType},
	}
)

// PackReport encodes a report for signing and transmission.
func PackReport(report types.Report) ([]byte, error) {
	if err := report.Validate(); err != nil {
		return nil, err
	}

	ids := make([]*big.Int, len(report.UpkeepIDs))
	gasLimits := make([]*big.Int, len(report.GasLimits))

	for i, id := range report.UpkeepIDs {
		ids[i] = id.BigInt()
		gasLimits[i] = new(big.Int).SetUint64(report.GasLimits[i])
	}

	return reportArgs.Pack(
		report.FastGasWei,
		report.LinkNative,
		ids,
		gasLimits,
		report.Triggers,
		report.PerformDatas,
	)
}

// UnpackReport decodes raw report bytes. Shape violations surface as
// ErrInvalidReport so the transmit path can reject before touching state.
func UnpackReport(raw []byte) (types.Report, error) {
	vals, err := reportArgs.Unpack(raw)
	if err != nil {
		return types.Report{}, fmt.Errorf("%w: failed to unpack report: %s", types.ErrInvalidReport, err)
	}

	rawIDs := vals[2].([]*big.Int)
	rawGasLimits := vals[3].([]*big.Int)

	report := types.Report{
		FastGasWei:   vals[0].(*big.Int),
		LinkNative:   vals[1].(*big.Int),
		UpkeepIDs:    make([]ocr2keepers.UpkeepIdentifier, len(rawIDs)),
		GasLimits:    make([]uint64, len(rawGasLimits)),
		Triggers:     vals[4].([][]byte),
		PerformDatas: vals[5].([][]byte),
	}

	for i, id := range rawIDs {
		if ok := report.UpkeepIDs[i].FromBigInt(id); !ok {
			return types.Report{}, fmt.Errorf("%w: upkeep id out of range", types.ErrInvalidReport)
		}
	}

	for i, limit := range rawGasLimits {
		if !limit.IsUint64() {
			return types.Report{}, fmt.Errorf("%w: gas limit out of range", types.ErrInvalidReport)
		}

		report.GasLimits[i] = limit.Uint64()
	}

	if err := report.Validate(); err != nil {
		return types.Report{}, err
	}

	return report, nil
}
