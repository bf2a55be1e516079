package types

import (
	"context"
	"math"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	ocr2keepers "github.com/smartcontractkit/chainlink-common/pkg/types/automation"
)

// MaxValidBlockNumberDefault is the max valid block number of an upkeep that
// has not been canceled. Cancellation lowers the value to the block at which
// the grace window closes.
const MaxValidBlockNumberDefault = ocr2keepers.BlockNumber(math.MaxUint64)

// Target is the callable an upkeep is registered against. Implementations are
// untrusted: the registry calls them through a boundary that converts panics
// and budget exhaustion into structured results and never lets a callee
// corrupt registry state.
type Target interface {
	// CheckUpkeep simulates the eligibility predicate with the upkeep's
	// check data and returns the perform data to use if work is needed.
	CheckUpkeep(ctx context.Context, checkData []byte) (needed bool, performData []byte, gasUsed uint64, err error)
	// PerformUpkeep runs the unit of work with the provided gas budget.
	// Reported gas above the budget is treated as exhaustion by the caller.
	PerformUpkeep(ctx context.Context, performData []byte, gasBudget uint64) (success bool, gasUsed uint64)
}

// Upkeep is the ledger record for a single registered unit of recurring work.
type Upkeep struct {
	// ID uniquely identifies the upkeep; the trigger type is committed in
	// the identifier bytes at registration time.
	ID ocr2keepers.UpkeepIdentifier
	// Target is the callable dispatched on perform
	Target Target
	// Admin manages funds and lifecycle for the upkeep
	Admin common.Address
	// ProposedAdmin is a pending two-step admin transfer, zero if none
	ProposedAdmin common.Address
	// GasLimit is the max gas dispatched to the target on perform
	GasLimit uint64
	// Balance holds the funds reserved for future performances
	Balance *big.Int
	// AmountSpent accumulates everything ever charged to this upkeep
	AmountSpent *big.Int
	// BillingToken selects the fee schedule used to settle performances
	BillingToken common.Address
	// LastPerformedBlockNumber is the checkpoint for conditional triggers.
	// Log triggers never advance this field; they dedupe by log identity.
	LastPerformedBlockNumber ocr2keepers.BlockNumber
	// MaxValidBlockNumber is the block at which the upkeep stops being
	// performable. Set on cancellation to open the grace window.
	MaxValidBlockNumber ocr2keepers.BlockNumber
	// Paused prevents checks and performs without cancelling
	Paused bool
	// CheckData is passed to the target eligibility predicate
	CheckData []byte
	// TriggerConfig is the opaque trigger configuration blob
	TriggerConfig []byte
	// OffchainConfig is opaque to the registry
	OffchainConfig []byte
}

// Canceled returns true if cancellation has been initiated on the upkeep,
// whether or not the grace window has elapsed.
func (u *Upkeep) Canceled() bool {
	return u.MaxValidBlockNumber != MaxValidBlockNumberDefault
}

// Matured returns true if the upkeep can no longer be performed at the
// provided block height.
func (u *Upkeep) Matured(block ocr2keepers.BlockNumber) bool {
	return block >= u.MaxValidBlockNumber
}
