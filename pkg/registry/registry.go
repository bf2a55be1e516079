package registry

import (
	"fmt"
	"log"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ocr2types "github.com/smartcontractkit/libocr/offchainreporting2plus/types"

	ocr2keepers "github.com/smartcontractkit/chainlink-common/pkg/types/automation"

	"github.com/smartcontractkit/chainlink-automation-registry/pkg/types"
)

const (
	// CancellationDelay is the grace window, in blocks, between an
	// admin-initiated cancellation and funds becoming withdrawable.
	CancellationDelay = 50
	// ReorgLookback is how far back trigger block hashes can still be
	// verified against chain history. Older triggers bypass the check.
	ReorgLookback = 256
	// MaxOracles is the hard ceiling on committee size.
	MaxOracles = 31

	// registryGasOverhead is the fixed dispatch overhead charged to every
	// entry in a report.
	registryGasOverhead = 80_000
	// registryPerSignerGasOverhead is charged per required signature.
	registryPerSignerGasOverhead = 7_500
	// registryPerPerformByteGasOverhead is charged per perform data byte.
	registryPerPerformByteGasOverhead = 20

	// minPerformGas is the lowest gas limit an upkeep may register with.
	minPerformGas = 2_300
)

// BlockSource supplies the registry's view of the chain: the current head
// and historical block hashes within the lookback window.
type BlockSource interface {
	// LatestBlock returns the current chain head.
	LatestBlock() ocr2keepers.BlockKey
	// BlockHash returns the hash at the given height and true, or false if
	// the height is outside the reconstructible window.
	BlockHash(number ocr2keepers.BlockNumber) ([32]byte, bool)
}

// ReportVerifier recovers signer identities from report signatures. It is an
// interface so alternative signature schemes can be substituted without
// touching report processing.
type ReportVerifier interface {
	RecoverSigners(reportContext [3][32]byte, rawReport []byte, rs [][32]byte, ss [][32]byte, rawVs [32]byte) ([]common.Address, error)
}

// Config collects the construction dependencies of a Registry.
type Config struct {
	// Owner is the address allowed to run owner-gated operations
	Owner common.Address
	// ChainID and ContractAddress form the registry identity bound into
	// every config digest
	ChainID         uint64
	ContractAddress common.Address
	// Verifier recovers report signers
	Verifier ReportVerifier
	// Blocks is the registry's view of the chain
	Blocks BlockSource
	// GasFeed supplies fast gas price readings; may be nil, in which case
	// fallback pricing applies whenever a report carries no usable price
	GasFeed types.FeedSource
	// Logger receives component logs; required
	Logger *log.Logger
}

// Registry is the authoritative ledger, committee, and settlement state of
// one deployment. All state hangs off this handle: there are no ambient
// globals. A single mutex serializes mutating operations, mirroring the
// atomic serial call execution of the original environment.
type Registry struct {
	// provided dependencies
	verifier ReportVerifier
	blocks   BlockSource
	gasFeed  types.FeedSource
	logger   *log.Logger
	now      func() time.Time

	// identity
	owner           common.Address
	chainID         uint64
	contractAddress common.Address

	mu     sync.RWMutex
	paused bool

	// committee and configuration
	configCount           uint64
	configDigest          ocr2types.ConfigDigest
	f                     uint8
	onchainConfig         types.OnchainConfig
	offchainConfigVersion uint64
	offchainConfig        []byte
	signerList            []common.Address
	transmitterList       []common.Address
	activeSigners         map[common.Address]bool
	transmitters          map[common.Address]*types.TransmitterAccount
	proposedPayees        map[common.Address]common.Address

	// billing
	billingTokens []common.Address
	billing       map[common.Address]types.BillingConfig

	// upkeep ledger
	nonce     uint64
	upkeeps   map[ocr2keepers.UpkeepIdentifier]*types.Upkeep
	dedupKeys map[[32]byte]struct{}

	// settlement accounting
	totalPremium *big.Int
	reserve      *big.Int
	ownerBalance *big.Int
}

// New creates an empty registry. No reports are accepted until SetConfig has
// installed a committee.
func New(conf Config) (*Registry, error) {
	if conf.Verifier == nil {
		return nil, fmt.Errorf("report verifier required")
	}

	if conf.Blocks == nil {
		return nil, fmt.Errorf("block source required")
	}

	if conf.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}

	return &Registry{
		verifier:        conf.Verifier,
		blocks:          conf.Blocks,
		gasFeed:         conf.GasFeed,
		logger:          log.New(conf.Logger.Writer(), "[registry] ", log.Ldate|log.Ltime|log.Lshortfile),
		now:             time.Now,
		owner:           conf.Owner,
		chainID:         conf.ChainID,
		contractAddress: conf.ContractAddress,
		activeSigners:   make(map[common.Address]bool),
		transmitters:    make(map[common.Address]*types.TransmitterAccount),
		proposedPayees:  make(map[common.Address]common.Address),
		billing:         make(map[common.Address]types.BillingConfig),
		upkeeps:         make(map[ocr2keepers.UpkeepIdentifier]*types.Upkeep),
		dedupKeys:       make(map[[32]byte]struct{}),
		totalPremium:    big.NewInt(0),
		reserve:         big.NewInt(0),
		ownerBalance:    big.NewInt(0),
	}, nil
}

// Pause stops report processing and registrations. Owner only.
func (r *Registry) Pause(from common.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if from != r.owner {
		return types.ErrOnlyCallableByOwner
	}

	r.paused = true
	r.logger.Println("registry paused")

	return nil
}

// Unpause resumes report processing. Owner only.
func (r *Registry) Unpause(from common.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if from != r.owner {
		return types.ErrOnlyCallableByOwner
	}

	r.paused = false
	r.logger.Println("registry unpaused")

	return nil
}

// IsPaused returns the global pause flag.
func (r *Registry) IsPaused() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.paused
}

// ConfigDigest returns the digest of the active configuration.
func (r *Registry) ConfigDigest() ocr2types.ConfigDigest {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.configDigest
}

// LatestConfigDetails returns the config counter and digest together.
func (r *Registry) LatestConfigDetails() (uint64, ocr2types.ConfigDigest) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.configCount, r.configDigest
}

// GetUpkeep returns a copy of the upkeep record for inspection.
func (r *Registry) GetUpkeep(id ocr2keepers.UpkeepIdentifier) (types.Upkeep, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	upkeep, ok := r.upkeeps[id]
	if !ok {
		return types.Upkeep{}, false
	}

	cp := *upkeep
	cp.Balance = new(big.Int).Set(upkeep.Balance)
	cp.AmountSpent = new(big.Int).Set(upkeep.AmountSpent)

	return cp, true
}

// ActiveUpkeepIDs returns the ids of all upkeeps that have not been
// cancelled, in ascending id order.
func (r *Registry) ActiveUpkeepIDs() []ocr2keepers.UpkeepIdentifier {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]ocr2keepers.UpkeepIdentifier, 0, len(r.upkeeps))
	for id, upkeep := range r.upkeeps {
		if upkeep.Canceled() {
			continue
		}

		ids = append(ids, id)
	}

	sort.Slice(ids, func(i, j int) bool {
		return ids[i].BigInt().Cmp(ids[j].BigInt()) < 0
	})

	return ids
}

// GetTransmitterInfo returns a copy of a transmitter account.
func (r *Registry) GetTransmitterInfo(addr common.Address) (types.TransmitterAccount, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	account, ok := r.transmitters[addr]
	if !ok {
		return types.TransmitterAccount{}, false
	}

	cp := *account
	cp.Balance = new(big.Int).Set(account.Balance)
	cp.LastCollected = new(big.Int).Set(account.LastCollected)

	return cp, true
}

// TotalPremium returns the running committee premium counter.
func (r *Registry) TotalPremium() *big.Int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return new(big.Int).Set(r.totalPremium)
}

// TotalReserve returns the total token amount held by the registry.
func (r *Registry) TotalReserve() *big.Int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return new(big.Int).Set(r.reserve)
}

// OwnerBalance returns accumulated cancellation fees available to the owner.
func (r *Registry) OwnerBalance() *big.Int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return new(big.Int).Set(r.ownerBalance)
}

// WithdrawOwnerFunds transfers the accumulated cancellation fees to the
// recipient and returns the amount. Owner only.
func (r *Registry) WithdrawOwnerFunds(from common.Address, recipient common.Address) (*big.Int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if from != r.owner {
		return nil, types.ErrOnlyCallableByOwner
	}

	if recipient == (common.Address{}) {
		return nil, types.ErrInvalidRecipient
	}

	amount := r.ownerBalance
	r.ownerBalance = big.NewInt(0)
	r.reserve = new(big.Int).Sub(r.reserve, amount)

	r.logger.Printf("owner funds withdrawn: %s to %s", amount, recipient)

	return amount, nil
}
