package run

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ocr2keepers "github.com/smartcontractkit/chainlink-common/pkg/types/automation"

	"github.com/smartcontractkit/chainlink-automation-registry/pkg/registry"
	"github.com/smartcontractkit/chainlink-automation-registry/pkg/signatures"
	"github.com/smartcontractkit/chainlink-automation-registry/pkg/types"
	"github.com/smartcontractkit/chainlink-automation-registry/tools/simulator/config"
	"github.com/smartcontractkit/chainlink-automation-registry/tools/simulator/simulate/chain"
	"github.com/smartcontractkit/chainlink-automation-registry/tools/simulator/simulate/ocr"
	"github.com/smartcontractkit/chainlink-automation-registry/tools/simulator/telemetry"
)

// Runner wires the simulated chain, the registry, and the oracle committee
// together and drives the simulation plan block by block.
type Runner struct {
	plan    config.SimulationPlan
	outputs *Outputs
	logger  *log.Logger

	owner       common.Address
	admin       common.Address
	token       common.Address
	registry    *registry.Registry
	broadcaster *chain.Broadcaster
	group       *ocr.Group

	upkeeps    []*chain.SimulatedUpkeep
	registered []ocr2keepers.UpkeepIdentifier
}

func NewRunner(plan config.SimulationPlan, outputs *Outputs) (*Runner, error) {
	owner, err := randomAddress()
	if err != nil {
		return nil, err
	}

	admin, err := randomAddress()
	if err != nil {
		return nil, err
	}

	token, err := randomAddress()
	if err != nil {
		return nil, err
	}

	contract, err := randomAddress()
	if err != nil {
		return nil, err
	}

	logs := chain.GenerateLogTriggers(plan)
	broadcaster := chain.NewBroadcaster(plan.Blocks, outputs.SimulationLog, logLoader(logs))

	gasFeed := chain.NewFeed(plan.Registry.FallbackGasPrice)
	priceFeed := chain.NewFeed(plan.Registry.Billing.FallbackPrice)

	reg, err := registry.New(registry.Config{
		Owner:           owner,
		ChainID:         plan.Registry.ChainID,
		ContractAddress: contract,
		Verifier:        signatures.NewEVMVerifier(),
		Blocks:          broadcaster,
		GasFeed:         gasFeed,
		Logger:          outputs.SimulationLog,
	})
	if err != nil {
		return nil, err
	}

	upkeeps, err := chain.GenerateAllUpkeeps(plan)
	if err != nil {
		return nil, err
	}

	group := ocr.NewGroup(ocr.GroupConfig{
		Plan:       plan,
		Registry:   reg,
		Owner:      owner,
		Token:      token,
		GasFeed:    gasFeed,
		PriceFeed:  priceFeed,
		Collectors: []telemetry.ReportCollector{outputs.SettlementCollector},
		Logger:     outputs.SimulationLog,
	})

	return &Runner{
		plan:        plan,
		outputs:     outputs,
		logger:      log.New(outputs.SimulationLog.Writer(), "[runner] ", log.Ldate|log.Ltime|log.Lshortfile),
		owner:       owner,
		admin:       admin,
		token:       token,
		registry:    reg,
		broadcaster: broadcaster,
		group:       group,
		upkeeps:     upkeeps,
	}, nil
}

// Run drives the plan to completion: blocks are consumed as produced, plan
// events fire at their trigger heights, and each block closes with a
// settlement round. Run blocks until the plan is exhausted or the context is
// cancelled.
func (r *Runner) Run(ctx context.Context) error {
	subID, blocks := r.broadcaster.Subscribe()
	defer r.broadcaster.Unsubscribe(subID)

	done := r.broadcaster.Start()
	defer r.broadcaster.Stop()

	for {
		select {
		case block, ok := <-blocks:
			if !ok {
				return nil
			}

			if err := r.processBlock(ctx, block); err != nil {
				return err
			}
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (r *Runner) processBlock(ctx context.Context, block chain.Block) error {
	for _, event := range r.plan.ConfigEvents {
		if event.TriggerBlock.Cmp(block.Number) != 0 {
			continue
		}

		r.logger.Printf("block %s: rotating committee to %d nodes", block.Number, event.CommitteeSize)

		if err := r.group.ApplyConfig(event, r.billingConfig()); err != nil {
			return fmt.Errorf("failed to apply config at block %s: %w", block.Number, err)
		}
	}

	for _, upkeep := range r.upkeeps {
		if upkeep.CreateInBlock.Cmp(block.Number) != 0 {
			continue
		}

		if err := r.registerUpkeep(upkeep); err != nil {
			return fmt.Errorf("failed to register upkeep at block %s: %w", block.Number, err)
		}
	}

	for _, event := range r.plan.CancelEvents {
		if event.TriggerBlock.Cmp(block.Number) != 0 {
			continue
		}

		if err := r.cancelUpkeep(event); err != nil {
			return fmt.Errorf("failed to cancel upkeep at block %s: %w", block.Number, err)
		}
	}

	if err := r.group.ProcessBlock(ctx, block); err != nil {
		if errors.Is(err, ocr.ErrNoCommittee) {
			// blocks before the first config event have no settlement round
			return nil
		}

		return err
	}

	return nil
}

func (r *Runner) registerUpkeep(upkeep *chain.SimulatedUpkeep) error {
	id, err := r.registry.RegisterUpkeep(
		upkeep,
		upkeep.GasLimit,
		r.admin,
		upkeep.Type,
		r.token,
		nil,
		[]byte(upkeep.TriggeredBy),
		nil,
	)
	if err != nil {
		return err
	}

	if err := r.registry.AddFunds(id, upkeep.InitialFunds); err != nil {
		return err
	}

	upkeep.UpkeepID = id
	upkeep.AttachHead(func() *big.Int {
		return new(big.Int).SetUint64(uint64(r.broadcaster.LatestBlock().Number))
	})

	r.group.TrackUpkeep(id, upkeep)
	r.registered = append(r.registered, id)

	r.logger.Printf("registered upkeep %s with %s starting funds", id.String(), upkeep.InitialFunds)

	return nil
}

func (r *Runner) cancelUpkeep(event config.CancelUpkeepEvent) error {
	if event.UpkeepIndex < 0 || event.UpkeepIndex >= len(r.registered) {
		return fmt.Errorf("cancel event upkeep index %d out of range", event.UpkeepIndex)
	}

	from := r.admin
	if event.ByOwner {
		from = r.owner
	}

	return r.registry.CancelUpkeep(from, r.registered[event.UpkeepIndex])
}

func (r *Runner) billingConfig() types.BillingConfig {
	billing := r.plan.Registry.Billing

	return types.BillingConfig{
		PremiumPPB:        billing.PremiumPPB,
		FlatFeeMicroToken: billing.FlatFeeMicroToken,
		Decimals:          billing.Decimals,
		FallbackPrice:     billing.FallbackPrice,
		MinSpend:          billing.MinSpend,
	}
}

// logLoader injects plan-scheduled logs into blocks as they are sealed.
func logLoader(logs []chain.SimulatedLog) chain.BlockLoaderFunc {
	return func(block *chain.Block) {
		for idx, lg := range logs {
			if lg.TriggerAt.Cmp(block.Number) != 0 {
				continue
			}

			block.Logs = append(block.Logs, chain.Log{
				TxHash:       logTxHash(block.Number, idx),
				Idx:          uint32(idx),
				TriggerValue: lg.TriggerValue,
			})
		}
	}
}

func logTxHash(block *big.Int, idx int) [32]byte {
	seed := make([]byte, 8)
	binary.BigEndian.PutUint64(seed, uint64(idx))

	return sha256.Sum256(append(block.Bytes(), seed...))
}

func randomAddress() (common.Address, error) {
	keyring, err := signatures.NewEVMKeyring(rand.Reader)
	if err != nil {
		return common.Address{}, err
	}

	return keyring.Address(), nil
}
