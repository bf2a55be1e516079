package ocr

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"log"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	autotypes "github.com/smartcontractkit/chainlink-automation/pkg/v3/types"
	ocr2keepers "github.com/smartcontractkit/chainlink-common/pkg/types/automation"

	"github.com/smartcontractkit/chainlink-automation-registry/pkg/encoding"
	"github.com/smartcontractkit/chainlink-automation-registry/pkg/registry"
	"github.com/smartcontractkit/chainlink-automation-registry/pkg/signatures"
	"github.com/smartcontractkit/chainlink-automation-registry/pkg/types"
	"github.com/smartcontractkit/chainlink-automation-registry/tools/simulator/config"
	"github.com/smartcontractkit/chainlink-automation-registry/tools/simulator/simulate/chain"
	"github.com/smartcontractkit/chainlink-automation-registry/tools/simulator/telemetry"
)

var (
	ErrNoCommittee = fmt.Errorf("no committee configured")
)

// Node is a single simulated oracle. Signing and transmitting use separate
// identities, mirroring how committee members split key duties.
type Node struct {
	ID          string
	Signer      *signatures.EVMKeyring
	Transmitter *signatures.EVMKeyring
	Payee       common.Address
}

// GroupConfig collects the dependencies for a transmit group.
type GroupConfig struct {
	Plan       config.SimulationPlan
	Registry   *registry.Registry
	Owner      common.Address
	Token      common.Address
	GasFeed    types.FeedSource
	PriceFeed  types.FeedSource
	Collectors []telemetry.ReportCollector
	Logger     *log.Logger
}

// Group is a simulated oracle committee. Each block it checks the active
// upkeeps, assembles a report for the eligible ones, gathers a signature
// quorum, and transmits to the registry.
type Group struct {
	plan       types.OnchainConfig
	registry   *registry.Registry
	owner      common.Address
	token      common.Address
	gasFeed    types.FeedSource
	priceFeed  types.FeedSource
	collectors []telemetry.ReportCollector
	logger     *log.Logger

	mu      sync.Mutex
	nodes   []*Node
	f       uint8
	digest  [32]byte
	epoch   uint32
	upkeeps map[ocr2keepers.UpkeepIdentifier]*chain.SimulatedUpkeep
}

func NewGroup(conf GroupConfig) *Group {
	return &Group{
		plan:       onchainConfigFromPlan(conf.Plan.Registry),
		registry:   conf.Registry,
		owner:      conf.Owner,
		token:      conf.Token,
		gasFeed:    conf.GasFeed,
		priceFeed:  conf.PriceFeed,
		collectors: conf.Collectors,
		logger:     log.New(conf.Logger.Writer(), "[ocr-group] ", log.Ldate|log.Ltime|log.Lshortfile),
		upkeeps:    make(map[ocr2keepers.UpkeepIdentifier]*chain.SimulatedUpkeep),
	}
}

// ApplyConfig rotates in a fresh committee of the requested size and pushes
// the new configuration to the registry.
func (g *Group) ApplyConfig(event config.SetConfigEvent, billing types.BillingConfig) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	nodes := make([]*Node, 0, event.CommitteeSize)
	signers := make([]common.Address, 0, event.CommitteeSize)
	transmitters := make([]common.Address, 0, event.CommitteeSize)
	payees := make([]common.Address, 0, event.CommitteeSize)

	for i := 0; i < event.CommitteeSize; i++ {
		signer, err := signatures.NewEVMKeyring(rand.Reader)
		if err != nil {
			return err
		}

		transmitter, err := signatures.NewEVMKeyring(rand.Reader)
		if err != nil {
			return err
		}

		payee, err := signatures.NewEVMKeyring(rand.Reader)
		if err != nil {
			return err
		}

		node := &Node{
			ID:          uuid.NewString(),
			Signer:      signer,
			Transmitter: transmitter,
			Payee:       payee.Address(),
		}

		nodes = append(nodes, node)
		signers = append(signers, signer.Address())
		transmitters = append(transmitters, transmitter.Address())
		payees = append(payees, node.Payee)

		g.logger.Printf("node %s joins committee as signer %s", node.ID, signer.Address())
	}

	billing.PriceFeed = g.priceFeed

	digest, err := g.registry.SetConfig(
		g.owner,
		signers,
		transmitters,
		event.MaxFaultyNodesF,
		g.plan,
		1,
		[]byte(event.Offchain),
		[]common.Address{g.token},
		[]types.BillingConfig{billing},
	)
	if err != nil {
		return err
	}

	if err := g.registry.SetPayees(g.owner, payees); err != nil {
		return err
	}

	g.nodes = nodes
	g.f = event.MaxFaultyNodesF
	g.digest = [32]byte(digest)

	return nil
}

// TrackUpkeep registers a simulated upkeep for settlement rounds under its
// ledger-assigned identifier.
func (g *Group) TrackUpkeep(id ocr2keepers.UpkeepIdentifier, upkeep *chain.SimulatedUpkeep) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.upkeeps[id] = upkeep
}

// Nodes returns the current committee.
func (g *Group) Nodes() []*Node {
	g.mu.Lock()
	defer g.mu.Unlock()

	return append([]*Node(nil), g.nodes...)
}

// ProcessBlock runs one settlement round against the given block: check all
// tracked upkeeps, report the eligible ones, and transmit with a signature
// quorum.
func (g *Group) ProcessBlock(ctx context.Context, block chain.Block) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if len(g.nodes) == 0 {
		return ErrNoCommittee
	}

	report := g.buildReport(ctx, block)
	if len(report.UpkeepIDs) == 0 {
		return nil
	}

	rawReport, err := encoding.PackReport(report)
	if err != nil {
		return err
	}

	g.epoch++
	reportContext := g.reportContext()

	rs, ss, rawVs, err := g.signQuorum(reportContext, rawReport)
	if err != nil {
		return err
	}

	node := g.nodes[int(g.epoch)%len(g.nodes)]

	results, err := g.registry.Transmit(ctx, node.Transmitter.Address(), reportContext, rawReport, rs, ss, rawVs)
	if err != nil {
		return err
	}

	g.logger.Printf("block %s: transmitted %d entries via node %s", block.Number, len(results), node.ID)

	for _, collector := range g.collectors {
		collector.CollectReport(block.Number, node.Transmitter.Address(), results)
	}

	return nil
}

func (g *Group) buildReport(ctx context.Context, block chain.Block) types.Report {
	gasPrice := feedAnswer(g.gasFeed)
	tokenPrice := feedAnswer(g.priceFeed)

	report := types.Report{
		FastGasWei: gasPrice,
		LinkNative: tokenPrice,
	}

	var blockHash [32]byte
	copy(blockHash[:], block.Hash[:])

	for id, upkeep := range g.upkeeps {
		switch upkeep.Type {
		case autotypes.LogTrigger:
			for _, lg := range block.Logs {
				if lg.TriggerValue != upkeep.TriggeredBy {
					continue
				}

				trigger := ocr2keepers.NewLogTrigger(
					ocr2keepers.BlockNumber(block.Number.Uint64()),
					blockHash,
					&ocr2keepers.LogTriggerExtension{
						TxHash:      lg.TxHash,
						Index:       lg.Idx,
						BlockHash:   lg.BlockHash,
						BlockNumber: ocr2keepers.BlockNumber(lg.BlockNumber.Uint64()),
					},
				)

				appendEntry(&report, id, upkeep.GasLimit, trigger, []byte(lg.TriggerValue))
			}
		default:
			result := g.registry.CheckUpkeep(ctx, id)
			if !result.Eligible {
				continue
			}

			trigger := ocr2keepers.Trigger{
				BlockNumber: ocr2keepers.BlockNumber(block.Number.Uint64()),
				BlockHash:   blockHash,
			}

			appendEntry(&report, id, upkeep.GasLimit, trigger, result.PerformData)
		}
	}

	return report
}

func appendEntry(report *types.Report, id ocr2keepers.UpkeepIdentifier, gasLimit uint64, trigger ocr2keepers.Trigger, performData []byte) {
	packed, err := encoding.PackTrigger(id, trigger)
	if err != nil {
		return
	}

	report.UpkeepIDs = append(report.UpkeepIDs, id)
	report.GasLimits = append(report.GasLimits, gasLimit)
	report.Triggers = append(report.Triggers, packed)
	report.PerformDatas = append(report.PerformDatas, performData)
}

func (g *Group) reportContext() [3][32]byte {
	var reportContext [3][32]byte

	reportContext[0] = g.digest
	binary.BigEndian.PutUint32(reportContext[1][27:31], g.epoch)
	reportContext[1][31] = byte(g.epoch % 256)

	return reportContext
}

// signQuorum gathers f+1 signatures from distinct committee signers.
func (g *Group) signQuorum(reportContext [3][32]byte, rawReport []byte) ([][32]byte, [][32]byte, [32]byte, error) {
	needed := int(g.f) + 1

	rs := make([][32]byte, 0, needed)
	ss := make([][32]byte, 0, needed)

	var rawVs [32]byte

	for i := 0; i < needed; i++ {
		r, s, v, err := g.nodes[i].Signer.SignReport(reportContext, rawReport)
		if err != nil {
			return nil, nil, rawVs, err
		}

		rs = append(rs, r)
		ss = append(ss, s)
		rawVs[i] = v
	}

	return rs, ss, rawVs, nil
}

func feedAnswer(feed types.FeedSource) *big.Int {
	if feed == nil {
		return big.NewInt(0)
	}

	_, answer, _, err := feed.LatestRoundData()
	if err != nil || answer == nil {
		return big.NewInt(0)
	}

	return new(big.Int).Set(answer)
}

func onchainConfigFromPlan(reg config.Registry) types.OnchainConfig {
	return types.OnchainConfig{
		CheckGasLimit:          reg.CheckGasLimit,
		MaxPerformGas:          reg.MaxPerformGas,
		MaxCheckDataSize:       reg.MaxCheckDataSize,
		MaxPerformDataSize:     reg.MaxPerformDataSize,
		MaxRevertDataSize:      reg.MaxRevertDataSize,
		GasCeilingMultiplier:   reg.GasCeilingMultiplier,
		StalenessSeconds:       reg.StalenessSeconds,
		FallbackGasPrice:       reg.FallbackGasPrice,
		ReorgProtectionEnabled: reg.ReorgProtectionEnabled,
	}
}
