package registry

import (
	"context"
	"math/big"

	autotypes "github.com/smartcontractkit/chainlink-automation/pkg/v3/types"
	ocr2keepers "github.com/smartcontractkit/chainlink-common/pkg/types/automation"

	"github.com/smartcontractkit/chainlink-automation-registry/pkg/encoding"
	"github.com/smartcontractkit/chainlink-automation-registry/pkg/types"
)

// CheckResult is the outcome of one eligibility check. When Eligible is
// false, FailureReason says why; the remaining fields are only meaningful
// for eligible results.
type CheckResult struct {
	Eligible      bool
	FailureReason types.UpkeepFailureReason
	GasUsed       uint64
	GasLimit      uint64
	PerformData   []byte
}

// CheckUpkeep runs the full eligibility pipeline for one upkeep at the
// current head. Gates are evaluated cheapest-first so the expensive target
// call only runs for upkeeps that could actually be performed. Checking
// never mutates registry state.
func (r *Registry) CheckUpkeep(ctx context.Context, id ocr2keepers.UpkeepIdentifier) CheckResult {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.paused {
		return failedCheck(types.UpkeepFailureReasonRegistryPaused)
	}

	upkeep, ok := r.upkeeps[id]
	if !ok {
		return failedCheck(types.UpkeepFailureReasonUpkeepCancelled)
	}

	if upkeep.Canceled() {
		return failedCheck(types.UpkeepFailureReasonUpkeepCancelled)
	}

	if upkeep.Paused {
		return failedCheck(types.UpkeepFailureReasonUpkeepPaused)
	}

	conf := r.billing[upkeep.BillingToken]
	if upkeep.Balance.Cmp(r.maxPayment(upkeep.GasLimit, conf)) < 0 {
		return failedCheck(types.UpkeepFailureReasonInsufficientBalance)
	}

	needed, performData, gasUsed, err := upkeep.Target.CheckUpkeep(ctx, upkeep.CheckData)
	if err != nil {
		if len(err.Error()) > int(r.onchainConfig.MaxRevertDataSize) {
			return failedCheck(types.UpkeepFailureReasonRevertDataExceedsLimit)
		}

		// log trigger checks run the upkeep's callback rather than a
		// direct condition evaluation, so the failure reasons differ
		if encoding.GetUpkeepType(id) == autotypes.LogTrigger {
			return failedCheck(types.UpkeepFailureReasonCheckCallbackReverted)
		}

		return failedCheck(types.UpkeepFailureReasonTargetCheckReverted)
	}

	if !needed {
		return failedCheck(types.UpkeepFailureReasonUpkeepNotNeeded)
	}

	if len(performData) > int(r.onchainConfig.MaxPerformDataSize) {
		return failedCheck(types.UpkeepFailureReasonPerformDataExceedsLimit)
	}

	return CheckResult{
		Eligible:    true,
		GasUsed:     gasUsed,
		GasLimit:    upkeep.GasLimit,
		PerformData: performData,
	}
}

// SimulatePayment prices a hypothetical performance of the upkeep at the
// given gas usage with current fallback and feed pricing. Useful for
// estimating funding requirements ahead of time.
func (r *Registry) SimulatePayment(id ocr2keepers.UpkeepIdentifier, gasUsed uint64) (*big.Int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	upkeep, ok := r.upkeeps[id]
	if !ok {
		return nil, types.ErrUpkeepNotFound
	}

	overhead := uint64(registryGasOverhead) + uint64(registryPerSignerGasOverhead)*uint64(r.f+1)

	receipt := r.calculatePayment(gasUsed, overhead, nil, nil, r.billing[upkeep.BillingToken])

	return receipt.Total, nil
}

func failedCheck(reason types.UpkeepFailureReason) CheckResult {
	return CheckResult{Eligible: false, FailureReason: reason}
}
