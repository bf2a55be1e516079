package registry

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/smartcontractkit/chainlink-automation-registry/pkg/prommetrics"
	"github.com/smartcontractkit/chainlink-automation-registry/pkg/types"
)

var (
	oneToken   = big.NewInt(1e18)
	ppbBase    = big.NewInt(1e9)
	microToOne = big.NewInt(1e12)
)

// paymentReceipt splits one entry's settlement into its gas reimbursement
// and premium components. Total is always GasCharge + Premium.
type paymentReceipt struct {
	GasCharge *big.Int
	Premium   *big.Int
	Total     *big.Int
}

// effectiveGasPrice resolves the gas price for settlement. The committee's
// reported price wins when positive; otherwise the gas feed is consulted,
// and if that reading is stale or unusable the configured fallback applies
// with a doubled multiplier to absorb worst-case volatility. The result is
// always capped at fallback times the ceiling multiplier.
func (r *Registry) effectiveGasPrice(reported *big.Int) (price *big.Int, multiplier int64) {
	multiplier = 1

	price = reported
	if price == nil || price.Sign() <= 0 {
		price = r.readFeed(r.gasFeed)
	}

	if price == nil || price.Sign() <= 0 {
		price = r.onchainConfig.FallbackGasPrice
		multiplier = 2
	}

	ceiling := new(big.Int).Mul(
		r.onchainConfig.FallbackGasPrice,
		big.NewInt(int64(r.onchainConfig.GasCeilingMultiplier)),
	)
	if ceiling.Sign() > 0 && price.Cmp(ceiling) > 0 {
		price = ceiling
	}

	return new(big.Int).Set(price), multiplier
}

// effectiveTokenPrice resolves the billing token's native-denominated price,
// preferring the reported value, then the token's feed, then its fallback.
func (r *Registry) effectiveTokenPrice(reported *big.Int, conf types.BillingConfig) *big.Int {
	if reported != nil && reported.Sign() > 0 {
		return reported
	}

	if price := r.readFeed(conf.PriceFeed); price != nil && price.Sign() > 0 {
		return price
	}

	return conf.FallbackPrice
}

// readFeed returns a feed's latest answer, or nil when the feed is missing,
// erroring, or its reading is older than the staleness window.
func (r *Registry) readFeed(feed types.FeedSource) *big.Int {
	if feed == nil {
		return nil
	}

	_, answer, updatedAt, err := feed.LatestRoundData()
	if err != nil {
		return nil
	}

	if r.onchainConfig.StalenessSeconds > 0 {
		age := r.now().Sub(updatedAt)
		if age > time.Duration(r.onchainConfig.StalenessSeconds)*time.Second {
			return nil
		}
	}

	return answer
}

// calculatePayment prices one performance: gas reimbursement for the work
// plus overhead, and the committee premium (a percentage of the gas cost
// plus a flat per-perform fee). All amounts are in the billing token's
// smallest unit.
func (r *Registry) calculatePayment(
	gasUsed uint64,
	gasOverhead uint64,
	fastGasWei *big.Int,
	linkNative *big.Int,
	conf types.BillingConfig,
) paymentReceipt {
	gasPrice, multiplier := r.effectiveGasPrice(fastGasWei)
	tokenPrice := r.effectiveTokenPrice(linkNative, conf)
	if tokenPrice == nil || tokenPrice.Sign() <= 0 {
		tokenPrice = big.NewInt(1)
	}

	weiForGas := new(big.Int).Mul(gasPrice, new(big.Int).SetUint64(gasUsed+gasOverhead))
	weiForGas.Mul(weiForGas, big.NewInt(multiplier))

	gasCharge := new(big.Int).Mul(weiForGas, oneToken)
	gasCharge.Div(gasCharge, tokenPrice)

	premiumWei := new(big.Int).Mul(gasPrice, new(big.Int).SetUint64(gasUsed))
	premiumWei.Mul(premiumWei, big.NewInt(multiplier))
	premiumWei.Mul(premiumWei, big.NewInt(int64(conf.PremiumPPB)))
	premiumWei.Div(premiumWei, ppbBase)

	premium := new(big.Int).Mul(premiumWei, oneToken)
	premium.Div(premium, tokenPrice)
	premium.Add(premium, flatFee(conf))

	return paymentReceipt{
		GasCharge: gasCharge,
		Premium:   premium,
		Total:     new(big.Int).Add(gasCharge, premium),
	}
}

// flatFee scales the micro-token flat fee to the token's decimals.
func flatFee(conf types.BillingConfig) *big.Int {
	fee := new(big.Int).SetUint64(conf.FlatFeeMicroToken)

	if conf.Decimals == 0 || conf.Decimals == 18 {
		return fee.Mul(fee, microToOne)
	}

	if conf.Decimals >= 6 {
		scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(conf.Decimals-6)), nil)
		return fee.Mul(fee, scale)
	}

	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(6-conf.Decimals)), nil)

	return fee.Div(fee, scale)
}

// maxPayment is the worst-case cost of one performance at ceiling gas
// pricing with a full perform data payload. GetMinBalanceForUpkeep and
// the check pipeline's funding gate both derive from it.
func (r *Registry) maxPayment(gasLimit uint64, conf types.BillingConfig) *big.Int {
	ceiling := new(big.Int).Mul(
		r.onchainConfig.FallbackGasPrice,
		big.NewInt(int64(r.onchainConfig.GasCeilingMultiplier)),
	)

	overhead := uint64(registryGasOverhead) +
		uint64(registryPerSignerGasOverhead)*uint64(r.f+1) +
		uint64(registryPerPerformByteGasOverhead)*uint64(r.onchainConfig.MaxPerformDataSize)

	tokenPrice := conf.FallbackPrice
	if tokenPrice == nil || tokenPrice.Sign() <= 0 {
		tokenPrice = big.NewInt(1)
	}

	weiForGas := new(big.Int).Mul(ceiling, new(big.Int).SetUint64(gasLimit+overhead))

	gasCharge := new(big.Int).Mul(weiForGas, oneToken)
	gasCharge.Div(gasCharge, tokenPrice)

	premiumWei := new(big.Int).Mul(ceiling, new(big.Int).SetUint64(gasLimit))
	premiumWei.Mul(premiumWei, big.NewInt(int64(conf.PremiumPPB)))
	premiumWei.Div(premiumWei, ppbBase)

	premium := new(big.Int).Mul(premiumWei, oneToken)
	premium.Div(premium, tokenPrice)
	premium.Add(premium, flatFee(conf))

	return gasCharge.Add(gasCharge, premium)
}

// WithdrawPayment settles a transmitter's earnings: its accumulated gas
// reimbursements plus its equal share of premium accrued since its last
// collection. Only the transmitter's payee may withdraw. The division
// remainder stays in the premium pool, tracked exactly by rounding the
// collection snapshot down.
func (r *Registry) WithdrawPayment(from common.Address, transmitter common.Address, recipient common.Address) (*big.Int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	account, ok := r.transmitters[transmitter]
	if !ok {
		return nil, types.ErrOnlyActiveTransmitters
	}

	if account.Payee == (common.Address{}) || from != account.Payee {
		return nil, types.ErrOnlyCallableByPayee
	}

	if recipient == (common.Address{}) {
		return nil, types.ErrInvalidRecipient
	}

	payout := new(big.Int).Set(account.Balance)

	if n := int64(len(r.transmitterList)); n > 0 {
		diff := new(big.Int).Sub(r.totalPremium, account.LastCollected)
		share := new(big.Int).Div(diff, big.NewInt(n))
		remainder := new(big.Int).Mod(diff, big.NewInt(n))

		payout.Add(payout, share)
		account.LastCollected = new(big.Int).Sub(r.totalPremium, remainder)
	}

	account.Balance = big.NewInt(0)
	r.reserve = new(big.Int).Sub(r.reserve, payout)

	prommetrics.RegistryPaymentsTotal.Add(toFloat(payout))

	r.logger.Printf("payment withdrawn: transmitter=%s amount=%s to=%s", transmitter, payout, recipient)

	return payout, nil
}

// SetPayees assigns withdrawal addresses to transmitters, aligned by
// committee index. A payee, once set, can only change through the
// two-step payeeship transfer. Owner only.
func (r *Registry) SetPayees(from common.Address, payees []common.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if from != r.owner {
		return types.ErrOnlyCallableByOwner
	}

	if len(payees) != len(r.transmitterList) {
		return types.ErrInvalidPayee
	}

	for i, payee := range payees {
		account := r.transmitters[r.transmitterList[i]]
		if account.Payee != (common.Address{}) && account.Payee != payee {
			return types.ErrInvalidPayee
		}
	}

	for i, payee := range payees {
		r.transmitters[r.transmitterList[i]].Payee = payee
	}

	return nil
}

// TransferPayeeship proposes a new payee for a transmitter. Current payee
// only.
func (r *Registry) TransferPayeeship(from common.Address, transmitter common.Address, proposed common.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	account, ok := r.transmitters[transmitter]
	if !ok {
		return types.ErrOnlyActiveTransmitters
	}

	if account.Payee == (common.Address{}) || from != account.Payee {
		return types.ErrOnlyCallableByPayee
	}

	r.proposedPayees[transmitter] = proposed

	return nil
}

// AcceptPayeeship completes a pending payeeship transfer. Proposed payee
// only.
func (r *Registry) AcceptPayeeship(from common.Address, transmitter common.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	account, ok := r.transmitters[transmitter]
	if !ok {
		return types.ErrOnlyActiveTransmitters
	}

	proposed, ok := r.proposedPayees[transmitter]
	if !ok || from != proposed {
		return types.ErrOnlyCallableByProposedPayee
	}

	account.Payee = proposed
	delete(r.proposedPayees, transmitter)

	return nil
}

func toFloat(v *big.Int) float64 {
	f, _ := new(big.Float).SetInt(v).Float64()

	return f
}
