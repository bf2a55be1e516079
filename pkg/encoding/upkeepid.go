package encoding

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/ethereum/go-ethereum/crypto"

	autotypes "github.com/smartcontractkit/chainlink-automation/pkg/v3/types"
	ocr2keepers "github.com/smartcontractkit/chainlink-common/pkg/types/automation"
)

const (
	// upkeepTypeStartIndex is the index where the reserved zero bytes start.
	// identifiers reserve 11 zero bytes for future use and 1 byte for the
	// trigger type, with index equal upkeepTypeByteIndex
	upkeepTypeStartIndex = 4
	// upkeepTypeByteIndex is the index of the byte that holds the trigger type.
	upkeepTypeByteIndex = 15
)

// GetUpkeepType returns the trigger type committed in the given identifier.
// It follows the registry identifier convention, performed locally.
func GetUpkeepType(id ocr2keepers.UpkeepIdentifier) autotypes.UpkeepType {
	for i := upkeepTypeStartIndex; i < upkeepTypeByteIndex; i++ {
		if id[i] != 0 { // old id
			return autotypes.ConditionTrigger
		}
	}

	return autotypes.UpkeepType(id[upkeepTypeByteIndex])
}

// NewUpkeepID builds an identifier committing the given trigger type.
func NewUpkeepID(entropy []byte, uType autotypes.UpkeepType) ocr2keepers.UpkeepIdentifier {
	/*
	   Following the registry convention, an identifier is composed of 32 bytes:

	   - 4 bytes of entropy
	   - 11 bytes of zeros
	   - 1 identifying byte for the trigger type
	   - 16 bytes of entropy
	*/
	hashedValue := sha256.Sum256(entropy)

	for x := upkeepTypeStartIndex; x < upkeepTypeByteIndex; x++ {
		hashedValue[x] = uint8(0)
	}

	hashedValue[upkeepTypeByteIndex] = uint8(uType)

	return ocr2keepers.UpkeepIdentifier(hashedValue)
}

// UpkeepWorkID returns the unit-of-work identifier for an upkeep and trigger
// pair. Two report entries with the same work id describe the same
// real-world event.
func UpkeepWorkID(uid ocr2keepers.UpkeepIdentifier, trigger ocr2keepers.Trigger) string {
	var triggerExtBytes []byte

	if trigger.LogTriggerExtension != nil {
		triggerExtBytes = trigger.LogTriggerExtension.LogIdentifier()
	}

	hash := crypto.Keccak256(append(uid[:], triggerExtBytes...))

	return hex.EncodeToString(hash[:])
}
