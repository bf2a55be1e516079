package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/smartcontractkit/libocr/offchainreporting2plus/chains/evmutil"
	ocr2types "github.com/smartcontractkit/libocr/offchainreporting2plus/types"

	"github.com/smartcontractkit/chainlink-automation-registry/pkg/types"
)

// SetConfig installs a new committee and operating configuration, rotating
// the config digest so reports signed against the previous committee are
// rejected. Transmitter accounts that drop out of the committee are
// deactivated but keep their balances and premium snapshots so a later
// withdrawal still nets out correctly. Owner only.
func (r *Registry) SetConfig(
	from common.Address,
	signers []common.Address,
	transmitters []common.Address,
	f uint8,
	onchainConfig types.OnchainConfig,
	offchainConfigVersion uint64,
	offchainConfig []byte,
	billingTokens []common.Address,
	billingConfigs []types.BillingConfig,
) (ocr2types.ConfigDigest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if from != r.owner {
		return ocr2types.ConfigDigest{}, types.ErrOnlyCallableByOwner
	}

	if len(signers) == 0 || len(signers) != len(transmitters) {
		return ocr2types.ConfigDigest{}, types.ErrIncorrectNumberOfSigners
	}

	if len(signers) > MaxOracles {
		return ocr2types.ConfigDigest{}, types.ErrTooManyOracles
	}

	if f == 0 {
		return ocr2types.ConfigDigest{}, types.ErrIncorrectNumberOfFaultyOracles
	}

	if len(signers) <= 3*int(f) {
		return ocr2types.ConfigDigest{}, types.ErrIncorrectNumberOfSigners
	}

	seenSigners := make(map[common.Address]bool, len(signers))
	for _, signer := range signers {
		if signer == (common.Address{}) {
			return ocr2types.ConfigDigest{}, types.ErrZeroAddressNotAllowed
		}

		if seenSigners[signer] {
			return ocr2types.ConfigDigest{}, types.ErrRepeatedSigner
		}

		seenSigners[signer] = true
	}

	seenTransmitters := make(map[common.Address]bool, len(transmitters))
	for _, transmitter := range transmitters {
		if transmitter == (common.Address{}) {
			return ocr2types.ConfigDigest{}, types.ErrZeroAddressNotAllowed
		}

		if seenTransmitters[transmitter] {
			return ocr2types.ConfigDigest{}, types.ErrRepeatedTransmitter
		}

		seenTransmitters[transmitter] = true
	}

	if len(billingTokens) != len(billingConfigs) {
		return ocr2types.ConfigDigest{}, types.ErrInvalidToken
	}

	billing := make(map[common.Address]types.BillingConfig, len(billingTokens))
	for i, token := range billingTokens {
		if token == (common.Address{}) {
			return ocr2types.ConfigDigest{}, types.ErrZeroAddressNotAllowed
		}

		if _, ok := billing[token]; ok {
			return ocr2types.ConfigDigest{}, types.ErrInvalidToken
		}

		conf := billingConfigs[i]
		if conf.FallbackPrice == nil || conf.FallbackPrice.Sign() <= 0 {
			return ocr2types.ConfigDigest{}, types.ErrInvalidToken
		}

		if conf.MinSpend == nil {
			conf.MinSpend = big.NewInt(0)
		}

		billing[token] = conf
	}

	if onchainConfig.FallbackGasPrice == nil {
		onchainConfig.FallbackGasPrice = big.NewInt(0)
	}

	// deactivate the outgoing committee; accounts and snapshots survive
	for _, addr := range r.transmitterList {
		if account, ok := r.transmitters[addr]; ok {
			account.Active = false
		}
	}

	for i, addr := range transmitters {
		account, ok := r.transmitters[addr]
		if !ok {
			// fresh entries start from the current premium counter so
			// they cannot claim premium accrued before they joined
			account = &types.TransmitterAccount{
				Balance:       big.NewInt(0),
				LastCollected: new(big.Int).Set(r.totalPremium),
			}
			r.transmitters[addr] = account
		}

		account.Active = true
		account.Index = i
	}

	r.activeSigners = make(map[common.Address]bool, len(signers))
	for _, signer := range signers {
		r.activeSigners[signer] = true
	}

	r.signerList = append([]common.Address(nil), signers...)
	r.transmitterList = append([]common.Address(nil), transmitters...)
	r.f = f
	r.onchainConfig = onchainConfig
	r.offchainConfigVersion = offchainConfigVersion
	r.offchainConfig = append([]byte(nil), offchainConfig...)
	r.billingTokens = append([]common.Address(nil), billingTokens...)
	r.billing = billing
	r.configCount++

	digest, err := r.computeConfigDigest()
	if err != nil {
		return ocr2types.ConfigDigest{}, fmt.Errorf("config digest: %w", err)
	}

	r.configDigest = digest

	r.logger.Printf("config %d set: %d oracles, f=%d, digest=%x", r.configCount, len(signers), f, digest)

	return digest, nil
}

// computeConfigDigest binds the full configuration to the registry identity
// (chain id and registry address) so reports cannot be replayed across
// deployments or configurations.
func (r *Registry) computeConfigDigest() (ocr2types.ConfigDigest, error) {
	encodedOnchain, err := json.Marshal(r.onchainConfig)
	if err != nil {
		return ocr2types.ConfigDigest{}, err
	}

	signers := make([]ocr2types.OnchainPublicKey, len(r.signerList))
	for i, signer := range r.signerList {
		signers[i] = signer.Bytes()
	}

	accounts := make([]ocr2types.Account, len(r.transmitterList))
	for i, transmitter := range r.transmitterList {
		accounts[i] = ocr2types.Account(transmitter.Hex())
	}

	digester := evmutil.EVMOffchainConfigDigester{
		ChainID:         r.chainID,
		ContractAddress: r.contractAddress,
	}

	return digester.ConfigDigest(context.Background(), ocr2types.ContractConfig{
		ConfigCount:           r.configCount,
		Signers:               signers,
		Transmitters:          accounts,
		F:                     r.f,
		OnchainConfig:         encodedOnchain,
		OffchainConfigVersion: r.offchainConfigVersion,
		OffchainConfig:        r.offchainConfig,
	})
}

// GetBillingConfig returns the fee schedule for a token.
func (r *Registry) GetBillingConfig(token common.Address) (types.BillingConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conf, ok := r.billing[token]

	return conf, ok
}

// GetOnchainConfig returns the active operating parameters.
func (r *Registry) GetOnchainConfig() types.OnchainConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.onchainConfig
}

// Signers returns the active signer set in committee order.
func (r *Registry) Signers() []common.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return append([]common.Address(nil), r.signerList...)
}

// Transmitters returns the active transmitter set in committee order.
func (r *Registry) Transmitters() []common.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return append([]common.Address(nil), r.transmitterList...)
}
