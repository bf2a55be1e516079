package encoding

import (
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/crypto"

	autotypes "github.com/smartcontractkit/chainlink-automation/pkg/v3/types"
	ocr2keepers "github.com/smartcontractkit/chainlink-common/pkg/types/automation"

	"github.com/smartcontractkit/chainlink-automation-registry/pkg/types"
)

var (
	uint32Type  = mustNewType("uint32")
	bytes32Type = mustNewType("bytes32")

	// conditional trigger payload: (blockNumber, blockHash) of the block
	// the committee checked the condition at
	conditionalTriggerArgs = abi.Arguments{
		{Name: "blockNum", Type: uint32Type},
		{Name: "blockHash", Type: bytes32Type},
	}

	// log trigger payload: log identity plus the checked block
	logTriggerArgs = abi.Arguments{
		{Name: "logBlockHash", Type: bytes32Type},
		{Name: "txHash", Type: bytes32Type},
		{Name: "logIndex", Type: uint32Type},
		{Name: "blockNum", Type: uint32Type},
		{Name: "blockHash", Type: bytes32Type},
	}
)

func mustNewType(t string) abi.Type {
	created, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(fmt.Sprintf("invalid abi type %s: %s", t, err))
	}

	return created
}

// PackTrigger encodes a trigger to the payload shape selected by the trigger
// type committed in the upkeep id.
func PackTrigger(uid ocr2keepers.UpkeepIdentifier, trigger ocr2keepers.Trigger) ([]byte, error) {
	switch GetUpkeepType(uid) {
	case autotypes.ConditionTrigger:
		return conditionalTriggerArgs.Pack(
			uint32(trigger.BlockNumber),
			trigger.BlockHash,
		)
	case autotypes.LogTrigger:
		if trigger.LogTriggerExtension == nil {
			return nil, fmt.Errorf("%w: log trigger requires an extension", types.ErrInvalidTrigger)
		}

		return logTriggerArgs.Pack(
			trigger.LogTriggerExtension.BlockHash,
			trigger.LogTriggerExtension.TxHash,
			trigger.LogTriggerExtension.Index,
			uint32(trigger.BlockNumber),
			trigger.BlockHash,
		)
	default:
		return nil, fmt.Errorf("%w: unknown trigger type", types.ErrInvalidTrigger)
	}
}

// UnpackTrigger decodes a trigger payload per the trigger type committed in
// the upkeep id. An empty payload decodes to the zero trigger: this is the
// explicit escape hatch that bypasses reorg protection downstream.
func UnpackTrigger(uid ocr2keepers.UpkeepIdentifier, raw []byte) (ocr2keepers.Trigger, error) {
	if len(raw) == 0 {
		return ocr2keepers.Trigger{}, nil
	}

	switch GetUpkeepType(uid) {
	case autotypes.ConditionTrigger:
		vals, err := conditionalTriggerArgs.Unpack(raw)
		if err != nil {
			return ocr2keepers.Trigger{}, fmt.Errorf("%w: failed to unpack conditional trigger: %s", types.ErrInvalidTrigger, err)
		}

		return ocr2keepers.NewTrigger(
			ocr2keepers.BlockNumber(vals[0].(uint32)),
			vals[1].([32]byte),
		), nil
	case autotypes.LogTrigger:
		vals, err := logTriggerArgs.Unpack(raw)
		if err != nil {
			return ocr2keepers.Trigger{}, fmt.Errorf("%w: failed to unpack log trigger: %s", types.ErrInvalidTrigger, err)
		}

		extension := &ocr2keepers.LogTriggerExtension{
			BlockHash: vals[0].([32]byte),
			TxHash:    vals[1].([32]byte),
			Index:     vals[2].(uint32),
		}

		return ocr2keepers.NewLogTrigger(
			ocr2keepers.BlockNumber(vals[3].(uint32)),
			vals[4].([32]byte),
			extension,
		), nil
	default:
		return ocr2keepers.Trigger{}, fmt.Errorf("%w: unknown trigger type", types.ErrInvalidTrigger)
	}
}

// LogDedupKey derives the identifier that prevents double-charging for the
// same log event: once recorded, any entry producing the same key is stale.
func LogDedupKey(uid ocr2keepers.UpkeepIdentifier, extension *ocr2keepers.LogTriggerExtension) [32]byte {
	index := make([]byte, 4)
	binary.BigEndian.PutUint32(index, extension.Index)

	material := make([]byte, 0, len(uid)+len(extension.BlockHash)+len(extension.TxHash)+len(index))
	material = append(material, uid[:]...)
	material = append(material, extension.BlockHash[:]...)
	material = append(material, extension.TxHash[:]...)
	material = append(material, index...)

	var key [32]byte
	copy(key[:], crypto.Keccak256(material))

	return key
}
