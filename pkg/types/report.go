package types

import (
	"math/big"

	ocr2keepers "github.com/smartcontractkit/chainlink-common/pkg/types/automation"
)

// Report is a batch of due upkeeps submitted for settlement. The upkeep id,
// gas limit, trigger, and perform data lists are parallel: entry i of each
// list describes the same unit of work. A length mismatch is a hard rejection
// before any state mutation.
type Report struct {
	// FastGasWei is the gas price observed by the committee at report
	// creation time, shared by every entry in the batch
	FastGasWei *big.Int
	// LinkNative is the billing-token price per native unit, 1e18 base
	LinkNative *big.Int
	// UpkeepIDs may contain duplicates across distinct log triggers
	UpkeepIDs []ocr2keepers.UpkeepIdentifier
	// GasLimits declares the dispatch budget per entry
	GasLimits []uint64
	// Triggers are encoded trigger payloads, decoded per the trigger type
	// committed in the corresponding upkeep id
	Triggers [][]byte
	// PerformDatas are the raw perform payloads per entry
	PerformDatas [][]byte
}

// Validate checks the report shape. Any failure here aborts the enclosing
// transmit with no state change.
func (r Report) Validate() error {
	if r.FastGasWei == nil || r.LinkNative == nil {
		return ErrInvalidReport
	}

	entries := len(r.UpkeepIDs)
	if len(r.GasLimits) != entries ||
		len(r.Triggers) != entries ||
		len(r.PerformDatas) != entries {
		return ErrInvalidReport
	}

	return nil
}

// UpkeepOutcome is the terminal state of one report entry.
type UpkeepOutcome uint8

const (
	// OutcomePerformed means the entry was dispatched and charged; the
	// callee itself may still have failed
	OutcomePerformed UpkeepOutcome = iota
	// OutcomeStale means the entry repeated work already settled
	OutcomeStale
	// OutcomeReorged means the entry's trigger did not match chain history
	OutcomeReorged
	// OutcomeCancelled means the upkeep was unknown, mismatched, or past
	// its max valid block
	OutcomeCancelled
)

func (o UpkeepOutcome) String() string {
	switch o {
	case OutcomePerformed:
		return "performed"
	case OutcomeStale:
		return "stale"
	case OutcomeReorged:
		return "reorged"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// UpkeepResult is the structured per-entry outcome of report processing.
// Entries that were not dispatched carry zero gas and nil payment values.
type UpkeepResult struct {
	// UpkeepID is the id of the upkeep listed in the report entry
	UpkeepID ocr2keepers.UpkeepIdentifier
	// Outcome routes the entry to performed/stale/reorged/cancelled
	Outcome UpkeepOutcome
	// Success is the callee result, meaningful only when performed
	Success bool
	// CheckBlock is the block number declared by the entry's trigger
	CheckBlock ocr2keepers.BlockNumber
	// GasUsed is the gas reported by the callee
	GasUsed uint64
	// GasOverhead is the share of batch overhead charged to this entry
	GasOverhead uint64
	// GasCharge is the gas reimbursement portion of the payment
	GasCharge *big.Int
	// Premium is the committee premium portion of the payment
	Premium *big.Int
	// TotalPayment is the amount actually debited from the upkeep
	TotalPayment *big.Int
}
