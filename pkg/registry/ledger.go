package registry

import (
	"encoding/binary"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	autotypes "github.com/smartcontractkit/chainlink-automation/pkg/v3/types"
	ocr2keepers "github.com/smartcontractkit/chainlink-common/pkg/types/automation"

	"github.com/smartcontractkit/chainlink-automation-registry/pkg/encoding"
	"github.com/smartcontractkit/chainlink-automation-registry/pkg/prommetrics"
	"github.com/smartcontractkit/chainlink-automation-registry/pkg/types"
)

// RegisterUpkeep creates a new upkeep record and returns its id. The trigger
// type is committed into the id bytes, so it can never change for the life
// of the upkeep.
func (r *Registry) RegisterUpkeep(
	target types.Target,
	gasLimit uint64,
	admin common.Address,
	triggerType autotypes.UpkeepType,
	billingToken common.Address,
	checkData []byte,
	triggerConfig []byte,
	offchainConfig []byte,
) (ocr2keepers.UpkeepIdentifier, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.paused {
		return ocr2keepers.UpkeepIdentifier{}, types.ErrRegistryPaused
	}

	if target == nil || admin == (common.Address{}) {
		return ocr2keepers.UpkeepIdentifier{}, types.ErrZeroAddressNotAllowed
	}

	if gasLimit < minPerformGas || gasLimit > r.onchainConfig.MaxPerformGas {
		return ocr2keepers.UpkeepIdentifier{}, types.ErrGasLimitOutsideRange
	}

	if len(checkData) > int(r.onchainConfig.MaxCheckDataSize) {
		return ocr2keepers.UpkeepIdentifier{}, types.ErrCheckDataExceedsLimit
	}

	if len(triggerConfig) > int(r.onchainConfig.MaxCheckDataSize) {
		return ocr2keepers.UpkeepIdentifier{}, types.ErrCheckDataExceedsLimit
	}

	if _, ok := r.billing[billingToken]; !ok {
		return ocr2keepers.UpkeepIdentifier{}, types.ErrInvalidToken
	}

	r.nonce++

	var entropy [8 + common.AddressLength + 8]byte
	binary.BigEndian.PutUint64(entropy[:8], r.chainID)
	copy(entropy[8:], r.contractAddress.Bytes())
	binary.BigEndian.PutUint64(entropy[8+common.AddressLength:], r.nonce)

	id := encoding.NewUpkeepID(entropy[:], triggerType)
	if _, ok := r.upkeeps[id]; ok {
		return ocr2keepers.UpkeepIdentifier{}, types.ErrUpkeepAlreadyExists
	}

	r.upkeeps[id] = &types.Upkeep{
		ID:                  id,
		Target:              target,
		Admin:               admin,
		GasLimit:            gasLimit,
		Balance:             big.NewInt(0),
		AmountSpent:         big.NewInt(0),
		BillingToken:        billingToken,
		MaxValidBlockNumber: types.MaxValidBlockNumberDefault,
		CheckData:           append([]byte(nil), checkData...),
		TriggerConfig:       append([]byte(nil), triggerConfig...),
		OffchainConfig:      append([]byte(nil), offchainConfig...),
	}

	prommetrics.RegistryUpkeepsActive.Inc()

	r.logger.Printf("upkeep registered: id=%s type=%d gasLimit=%d admin=%s", id.String(), triggerType, gasLimit, admin)

	return id, nil
}

// AddFunds credits an upkeep's balance. Anyone can fund any upkeep that has
// not been cancelled.
func (r *Registry) AddFunds(id ocr2keepers.UpkeepIdentifier, amount *big.Int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	upkeep, ok := r.upkeeps[id]
	if !ok {
		return types.ErrUpkeepNotFound
	}

	if upkeep.Canceled() {
		return types.ErrUpkeepCancelled
	}

	if amount == nil || amount.Sign() <= 0 {
		return types.ErrInsufficientBalance
	}

	upkeep.Balance = new(big.Int).Add(upkeep.Balance, amount)
	r.reserve = new(big.Int).Add(r.reserve, amount)

	return nil
}

// WithdrawFunds returns an upkeep's remaining balance to the recipient. The
// upkeep must be cancelled and its grace window elapsed. Admin only.
func (r *Registry) WithdrawFunds(from common.Address, id ocr2keepers.UpkeepIdentifier, recipient common.Address) (*big.Int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	upkeep, ok := r.upkeeps[id]
	if !ok {
		return nil, types.ErrUpkeepNotFound
	}

	if from != upkeep.Admin {
		return nil, types.ErrOnlyCallableByAdmin
	}

	if recipient == (common.Address{}) {
		return nil, types.ErrInvalidRecipient
	}

	head := r.blocks.LatestBlock()
	if !upkeep.Canceled() || !upkeep.Matured(head.Number) {
		return nil, types.ErrUpkeepNotCanceled
	}

	amount := upkeep.Balance
	upkeep.Balance = big.NewInt(0)
	r.reserve = new(big.Int).Sub(r.reserve, amount)

	r.logger.Printf("upkeep funds withdrawn: id=%s amount=%s to=%s", id.String(), amount, recipient)

	return amount, nil
}

// CancelUpkeep marks an upkeep for cancellation. An owner cancellation takes
// effect immediately; an admin cancellation matures after the grace window,
// leaving time for in-flight reports to settle. If the upkeep has not met
// the billing token's minimum spend, the shortfall is deducted from its
// balance as a cancellation fee and credited to the owner.
func (r *Registry) CancelUpkeep(from common.Address, id ocr2keepers.UpkeepIdentifier) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	upkeep, ok := r.upkeeps[id]
	if !ok {
		return types.ErrUpkeepNotFound
	}

	if upkeep.Canceled() {
		return types.ErrUpkeepCancelled
	}

	isOwner := from == r.owner
	if !isOwner && from != upkeep.Admin {
		return types.ErrOnlyCallableByOwnerOrAdmin
	}

	head := r.blocks.LatestBlock()

	height := uint64(head.Number)
	if !isOwner {
		height += CancellationDelay
	}

	upkeep.MaxValidBlockNumber = ocr2keepers.BlockNumber(height)

	minSpend := big.NewInt(0)
	if conf, ok := r.billing[upkeep.BillingToken]; ok && conf.MinSpend != nil {
		minSpend = conf.MinSpend
	}

	if upkeep.AmountSpent.Cmp(minSpend) < 0 {
		fee := new(big.Int).Sub(minSpend, upkeep.AmountSpent)
		if fee.Cmp(upkeep.Balance) > 0 {
			fee = new(big.Int).Set(upkeep.Balance)
		}

		upkeep.Balance = new(big.Int).Sub(upkeep.Balance, fee)
		r.ownerBalance = new(big.Int).Add(r.ownerBalance, fee)
	}

	prommetrics.RegistryUpkeepsActive.Dec()

	r.logger.Printf("upkeep cancelled: id=%s by=%s maxValidBlock=%d", id.String(), from, height)

	return nil
}

// PauseUpkeep suspends checks for an upkeep. Admin only.
func (r *Registry) PauseUpkeep(from common.Address, id ocr2keepers.UpkeepIdentifier) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	upkeep, ok := r.upkeeps[id]
	if !ok {
		return types.ErrUpkeepNotFound
	}

	if from != upkeep.Admin {
		return types.ErrOnlyCallableByAdmin
	}

	if upkeep.Canceled() {
		return types.ErrUpkeepCancelled
	}

	if upkeep.Paused {
		return types.ErrOnlyUnpausedUpkeep
	}

	upkeep.Paused = true

	return nil
}

// UnpauseUpkeep resumes checks for a paused upkeep. Admin only.
func (r *Registry) UnpauseUpkeep(from common.Address, id ocr2keepers.UpkeepIdentifier) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	upkeep, ok := r.upkeeps[id]
	if !ok {
		return types.ErrUpkeepNotFound
	}

	if from != upkeep.Admin {
		return types.ErrOnlyCallableByAdmin
	}

	if upkeep.Canceled() {
		return types.ErrUpkeepCancelled
	}

	if !upkeep.Paused {
		return types.ErrOnlyPausedUpkeep
	}

	upkeep.Paused = false

	return nil
}

// SetUpkeepGasLimit updates the gas budget of an upkeep. Admin only.
func (r *Registry) SetUpkeepGasLimit(from common.Address, id ocr2keepers.UpkeepIdentifier, gasLimit uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	upkeep, ok := r.upkeeps[id]
	if !ok {
		return types.ErrUpkeepNotFound
	}

	if from != upkeep.Admin {
		return types.ErrOnlyCallableByAdmin
	}

	if upkeep.Canceled() {
		return types.ErrUpkeepCancelled
	}

	if gasLimit < minPerformGas || gasLimit > r.onchainConfig.MaxPerformGas {
		return types.ErrGasLimitOutsideRange
	}

	upkeep.GasLimit = gasLimit

	return nil
}

// SetUpkeepCheckData replaces the opaque data passed to the upkeep's check.
// Admin only.
func (r *Registry) SetUpkeepCheckData(from common.Address, id ocr2keepers.UpkeepIdentifier, checkData []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	upkeep, ok := r.upkeeps[id]
	if !ok {
		return types.ErrUpkeepNotFound
	}

	if from != upkeep.Admin {
		return types.ErrOnlyCallableByAdmin
	}

	if upkeep.Canceled() {
		return types.ErrUpkeepCancelled
	}

	if len(checkData) > int(r.onchainConfig.MaxCheckDataSize) {
		return types.ErrCheckDataExceedsLimit
	}

	upkeep.CheckData = append([]byte(nil), checkData...)

	return nil
}

// TransferUpkeepAdmin proposes a new admin for an upkeep. The transfer takes
// effect when the proposed admin accepts. Admin only.
func (r *Registry) TransferUpkeepAdmin(from common.Address, id ocr2keepers.UpkeepIdentifier, proposed common.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	upkeep, ok := r.upkeeps[id]
	if !ok {
		return types.ErrUpkeepNotFound
	}

	if from != upkeep.Admin {
		return types.ErrOnlyCallableByAdmin
	}

	if upkeep.Canceled() {
		return types.ErrUpkeepCancelled
	}

	upkeep.ProposedAdmin = proposed

	return nil
}

// AcceptUpkeepAdmin completes a pending admin transfer. Proposed admin only.
func (r *Registry) AcceptUpkeepAdmin(from common.Address, id ocr2keepers.UpkeepIdentifier) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	upkeep, ok := r.upkeeps[id]
	if !ok {
		return types.ErrUpkeepNotFound
	}

	if upkeep.ProposedAdmin == (common.Address{}) || from != upkeep.ProposedAdmin {
		return types.ErrOnlyCallableByProposedAdmin
	}

	upkeep.Admin = upkeep.ProposedAdmin
	upkeep.ProposedAdmin = common.Address{}

	return nil
}

// GetMinBalanceForUpkeep returns the balance floor below which checks for
// the upkeep report insufficient funds: the worst-case cost of a single
// performance at ceiling prices.
func (r *Registry) GetMinBalanceForUpkeep(id ocr2keepers.UpkeepIdentifier) (*big.Int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	upkeep, ok := r.upkeeps[id]
	if !ok {
		return nil, types.ErrUpkeepNotFound
	}

	return r.maxPayment(upkeep.GasLimit, r.billing[upkeep.BillingToken]), nil
}
