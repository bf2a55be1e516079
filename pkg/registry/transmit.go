package registry

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	autotypes "github.com/smartcontractkit/chainlink-automation/pkg/v3/types"
	ocr2keepers "github.com/smartcontractkit/chainlink-common/pkg/types/automation"

	"github.com/smartcontractkit/chainlink-automation-registry/pkg/encoding"
	"github.com/smartcontractkit/chainlink-automation-registry/pkg/prommetrics"
	"github.com/smartcontractkit/chainlink-automation-registry/pkg/types"
)

// Transmit accepts a signed report, authenticates it against the active
// committee, and settles every entry it carries. Fatal errors reject the
// whole report before any state changes; per-entry conditions degrade to
// outcomes in the returned results instead. The returned slice is aligned
// with the report's entries.
func (r *Registry) Transmit(
	ctx context.Context,
	from common.Address,
	reportContext [3][32]byte,
	rawReport []byte,
	rs [][32]byte,
	ss [][32]byte,
	rawVs [32]byte,
) ([]types.UpkeepResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.paused {
		prommetrics.RegistryReportsRejected.Inc()
		return nil, types.ErrRegistryPaused
	}

	account, ok := r.transmitters[from]
	if !ok || !account.Active {
		prommetrics.RegistryReportsRejected.Inc()
		return nil, types.ErrOnlyActiveTransmitters
	}

	if reportContext[0] != [32]byte(r.configDigest) {
		prommetrics.RegistryReportsRejected.Inc()
		return nil, types.ErrConfigDigestMismatch
	}

	if len(rs) != int(r.f)+1 || len(ss) != len(rs) {
		prommetrics.RegistryReportsRejected.Inc()
		return nil, types.ErrIncorrectNumberOfSignatures
	}

	signers, err := r.verifier.RecoverSigners(reportContext, rawReport, rs, ss, rawVs)
	if err != nil {
		prommetrics.RegistryReportsRejected.Inc()
		return nil, err
	}

	seen := make(map[common.Address]bool, len(signers))
	for _, signer := range signers {
		if !r.activeSigners[signer] {
			prommetrics.RegistryReportsRejected.Inc()
			return nil, types.ErrOnlyActiveSigners
		}

		if seen[signer] {
			prommetrics.RegistryReportsRejected.Inc()
			return nil, types.ErrDuplicateSigners
		}

		seen[signer] = true
	}

	report, err := encoding.UnpackReport(rawReport)
	if err != nil {
		prommetrics.RegistryReportsRejected.Inc()
		return nil, err
	}

	// all triggers must decode before any entry settles; a malformed
	// trigger invalidates the whole report
	triggers := make([]ocr2keepers.Trigger, len(report.UpkeepIDs))
	for i, raw := range report.Triggers {
		trigger, err := encoding.UnpackTrigger(report.UpkeepIDs[i], raw)
		if err != nil {
			prommetrics.RegistryReportsRejected.Inc()
			return nil, fmt.Errorf("%w: entry %d: %s", types.ErrInvalidReport, i, err)
		}

		triggers[i] = trigger
	}

	results := r.processReport(ctx, account, report, triggers)

	prommetrics.RegistryReportsTransmitted.Inc()

	return results, nil
}

// processReport walks the entries of an authenticated report in order. The
// batch gas overhead is recomputed per report from the signature quorum.
func (r *Registry) processReport(
	ctx context.Context,
	account *types.TransmitterAccount,
	report types.Report,
	triggers []ocr2keepers.Trigger,
) []types.UpkeepResult {
	head := r.blocks.LatestBlock()
	overhead := uint64(registryGasOverhead) + uint64(registryPerSignerGasOverhead)*uint64(r.f+1)

	results := make([]types.UpkeepResult, len(report.UpkeepIDs))
	for i := range report.UpkeepIDs {
		results[i] = r.processEntry(ctx, account, head, report, triggers[i], i, overhead)

		prommetrics.RegistryReportEntryOutcome.WithLabelValues(results[i].Outcome.String()).Inc()
	}

	return results
}

// processEntry settles a single report entry: liveness and maturity of the
// upkeep, trigger validity against chain history, staleness, dispatch, and
// finally the charge. Ordering matters; each gate assumes the previous ones
// passed.
func (r *Registry) processEntry(
	ctx context.Context,
	account *types.TransmitterAccount,
	head ocr2keepers.BlockKey,
	report types.Report,
	trigger ocr2keepers.Trigger,
	i int,
	overhead uint64,
) types.UpkeepResult {
	uid := report.UpkeepIDs[i]
	result := types.UpkeepResult{
		UpkeepID:   uid,
		CheckBlock: trigger.BlockNumber,
	}

	upkeep, ok := r.upkeeps[uid]
	if !ok {
		result.Outcome = types.OutcomeCancelled
		return result
	}

	if upkeep.Matured(head.Number) {
		result.Outcome = types.OutcomeCancelled
		return result
	}

	// a zero trigger is the escape hatch for entries generated without
	// chain context; it skips reorg protection entirely
	zeroTrigger := trigger.BlockNumber == 0 && trigger.BlockHash == [32]byte{}

	if !zeroTrigger {
		if trigger.BlockNumber > head.Number {
			result.Outcome = types.OutcomeReorged
			return result
		}

		if r.onchainConfig.ReorgProtectionEnabled && trigger.BlockHash != [32]byte{} {
			// outside the lookback window the hash is unverifiable and
			// the entry passes through
			if hash, ok := r.blocks.BlockHash(trigger.BlockNumber); ok && hash != trigger.BlockHash {
				result.Outcome = types.OutcomeReorged
				return result
			}
		}
	}

	var dedupKey [32]byte

	switch encoding.GetUpkeepType(uid) {
	case autotypes.LogTrigger:
		ext := trigger.LogTriggerExtension
		if ext == nil {
			ext = &ocr2keepers.LogTriggerExtension{}
		}

		dedupKey = encoding.LogDedupKey(uid, ext)
		if _, ok := r.dedupKeys[dedupKey]; ok {
			result.Outcome = types.OutcomeStale
			return result
		}
	default:
		if trigger.BlockNumber <= upkeep.LastPerformedBlockNumber {
			result.Outcome = types.OutcomeStale
			return result
		}
	}

	budget := report.GasLimits[i]
	if upkeep.GasLimit < budget {
		budget = upkeep.GasLimit
	}

	performData := report.PerformDatas[i]
	success, gasUsed := dispatch(ctx, upkeep.Target, performData, budget)

	entryOverhead := overhead + uint64(registryPerPerformByteGasOverhead)*uint64(len(performData))

	receipt := r.calculatePayment(gasUsed, entryOverhead, report.FastGasWei, report.LinkNative, r.billing[upkeep.BillingToken])
	r.charge(upkeep, account, receipt, &result)

	switch encoding.GetUpkeepType(uid) {
	case autotypes.LogTrigger:
		r.dedupKeys[dedupKey] = struct{}{}
	default:
		upkeep.LastPerformedBlockNumber = trigger.BlockNumber
	}

	result.Outcome = types.OutcomePerformed
	result.Success = success
	result.GasUsed = gasUsed
	result.GasOverhead = entryOverhead

	r.logger.Printf("upkeep performed: id=%s success=%t gasUsed=%d payment=%s", uid.String(), success, gasUsed, result.TotalPayment)

	return result
}

// charge debits the upkeep and credits the transmitter and premium pool.
// When the balance cannot cover the full amount, the entire remaining
// balance is taken: gas reimbursement is satisfied first and the premium
// absorbs the shortfall, so transmitters stay whole as long as possible.
func (r *Registry) charge(upkeep *types.Upkeep, account *types.TransmitterAccount, receipt paymentReceipt, result *types.UpkeepResult) {
	total := receipt.Total
	gasCharge := receipt.GasCharge
	premium := receipt.Premium

	if upkeep.Balance.Cmp(total) < 0 {
		total = new(big.Int).Set(upkeep.Balance)
		gasCharge = receipt.GasCharge
		if gasCharge.Cmp(total) > 0 {
			gasCharge = new(big.Int).Set(total)
		}

		premium = new(big.Int).Sub(total, gasCharge)
	}

	upkeep.Balance = new(big.Int).Sub(upkeep.Balance, total)
	upkeep.AmountSpent = new(big.Int).Add(upkeep.AmountSpent, total)
	account.Balance = new(big.Int).Add(account.Balance, gasCharge)
	r.totalPremium = new(big.Int).Add(r.totalPremium, premium)

	prommetrics.RegistryPremiumTotal.Add(toFloat(premium))

	result.GasCharge = gasCharge
	result.Premium = premium
	result.TotalPayment = total
}

// dispatch runs the upkeep's perform routine inside a recovery boundary. A
// panicking or over-budget callee is reported as a failed performance that
// consumed its whole budget; it can never corrupt registry state.
func dispatch(ctx context.Context, target types.Target, performData []byte, budget uint64) (success bool, gasUsed uint64) {
	defer func() {
		if rec := recover(); rec != nil {
			success = false
			gasUsed = budget
		}
	}()

	success, gasUsed = target.PerformUpkeep(ctx, performData, budget)
	if gasUsed > budget {
		return false, budget
	}

	return success, gasUsed
}
