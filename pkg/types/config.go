package types

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// FeedSource supplies price readings for payment calculation. The registry
// treats readings as advisory: stale, non-positive, or erroring readings are
// substituted with configured fallback prices.
type FeedSource interface {
	LatestRoundData() (roundID uint64, answer *big.Int, updatedAt time.Time, err error)
}

// OnchainConfig is the registry-wide parameter set distributed with each
// committee rotation. It participates in the config digest, binding reports
// to the exact parameters that authorized them.
type OnchainConfig struct {
	// CheckGasLimit bounds the gas given to target eligibility checks
	CheckGasLimit uint64 `json:"checkGasLimit"`
	// MaxPerformGas is the highest gas limit an upkeep may register with
	MaxPerformGas uint64 `json:"maxPerformGas"`
	// MaxCheckDataSize bounds registered check data
	MaxCheckDataSize uint32 `json:"maxCheckDataSize"`
	// MaxPerformDataSize bounds perform payloads in reports
	MaxPerformDataSize uint32 `json:"maxPerformDataSize"`
	// MaxRevertDataSize bounds revert data surfaced from target checks
	MaxRevertDataSize uint32 `json:"maxRevertDataSize"`
	// GasCeilingMultiplier caps the effective gas price at
	// FallbackGasPrice * GasCeilingMultiplier
	GasCeilingMultiplier uint16 `json:"gasCeilingMultiplier"`
	// StalenessSeconds is the age after which a feed reading is ignored
	StalenessSeconds int64 `json:"stalenessSeconds"`
	// FallbackGasPrice substitutes a stale or invalid gas price reading
	FallbackGasPrice *big.Int `json:"fallbackGasPrice"`
	// ReorgProtectionEnabled turns trigger block hash verification on/off
	ReorgProtectionEnabled bool `json:"reorgProtectionEnabled"`
}

// BillingConfig is the fee schedule for one billing token.
type BillingConfig struct {
	// PremiumPPB is the committee premium in parts-per-billion of gas cost
	PremiumPPB uint32 `json:"premiumPPB"`
	// FlatFeeMicroToken is a flat per-performance fee in micro token units;
	// it is scaled to the token's smallest unit using Decimals
	FlatFeeMicroToken uint64 `json:"flatFeeMicroToken"`
	// Decimals of the billing token
	Decimals uint8 `json:"decimals"`
	// PriceFeed supplies the token-per-native price, 1e18 base
	PriceFeed FeedSource `json:"-"`
	// FallbackPrice substitutes a stale or invalid token price reading
	FallbackPrice *big.Int `json:"fallbackPrice"`
	// MinSpend is the lifetime spend below which cancellation charges the
	// shortfall as a cancellation fee
	MinSpend *big.Int `json:"minSpend"`
}

// TransmitterAccount is the running settlement state of one committee
// transmitter. Accounts are never deleted on rotation; deactivated entries
// keep their premium snapshot so a later withdrawal still nets out.
type TransmitterAccount struct {
	// Active is true while the address is in the current committee
	Active bool
	// Index is the position in the current transmitter list
	Index int
	// Balance is the accumulated gas reimbursement
	Balance *big.Int
	// LastCollected snapshots totalPremium at the last withdrawal or at
	// activation; the claimable premium share is derived from it pro rata
	LastCollected *big.Int
	// Payee is the only address allowed to withdraw this account
	Payee common.Address
}
