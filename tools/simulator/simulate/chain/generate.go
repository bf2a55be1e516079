package chain

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/Maldris/mathparse"
	"github.com/shopspring/decimal"
	autotypes "github.com/smartcontractkit/chainlink-automation/pkg/v3/types"
	ocr2keepers "github.com/smartcontractkit/chainlink-common/pkg/types/automation"

	"github.com/smartcontractkit/chainlink-automation-registry/pkg/encoding"
	"github.com/smartcontractkit/chainlink-automation-registry/tools/simulator/config"
)

var (
	ErrUpkeepGeneration = fmt.Errorf("failed to generate upkeep")
)

// defaults applied when the generate event leaves the field unset
const (
	defaultGasLimit       = 500_000
	defaultCheckGasUsed   = 25_000
	defaultPerformGasUsed = 60_000
)

var defaultInitialFunds = new(big.Int).Mul(big.NewInt(10), big.NewInt(1e18))

// SimulatedUpkeep is a registered unit of simulated work. It is the Target
// the registry dispatches against: checks answer from the eligibility
// schedule and performs advance it.
type SimulatedUpkeep struct {
	ID             *big.Int
	UpkeepID       ocr2keepers.UpkeepIdentifier
	Type           autotypes.UpkeepType
	CreateInBlock  *big.Int
	AlwaysEligible bool
	EligibleAt     []*big.Int
	TriggeredBy    string
	GasLimit       uint64
	InitialFunds   *big.Int
	Expected       bool

	checkGasUsed   uint64
	performGasUsed uint64
	head           func() *big.Int

	mu            sync.Mutex
	lastPerformed *big.Int
	performCount  int
}

// AttachHead binds the upkeep's view of the chain head. Eligibility is
// evaluated against this height on every check.
func (u *SimulatedUpkeep) AttachHead(head func() *big.Int) {
	u.head = head
}

// CheckUpkeep reports whether the upkeep has an unperformed eligible block at
// or below the current head. The eligible height is returned as perform data
// so settlement output can be verified against the schedule.
func (u *SimulatedUpkeep) CheckUpkeep(_ context.Context, _ []byte) (bool, []byte, uint64, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	eligible, at := u.nextEligible()
	if !eligible {
		return false, nil, u.checkGasUsed, nil
	}

	return true, at.Bytes(), u.checkGasUsed, nil
}

// PerformUpkeep records the performance, consuming the eligible block that
// triggered it.
func (u *SimulatedUpkeep) PerformUpkeep(_ context.Context, _ []byte, gasBudget uint64) (bool, uint64) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.performGasUsed > gasBudget {
		return false, gasBudget
	}

	u.lastPerformed = u.currentHead()
	u.performCount++

	return true, u.performGasUsed
}

// PerformCount is the total number of successful performs on this upkeep.
func (u *SimulatedUpkeep) PerformCount() int {
	u.mu.Lock()
	defer u.mu.Unlock()

	return u.performCount
}

func (u *SimulatedUpkeep) nextEligible() (bool, *big.Int) {
	head := u.currentHead()

	if u.AlwaysEligible {
		if u.lastPerformed != nil && u.lastPerformed.Cmp(head) >= 0 {
			return false, nil
		}

		return true, head
	}

	for _, at := range u.EligibleAt {
		if at.Cmp(head) > 0 {
			break
		}

		if u.lastPerformed == nil || at.Cmp(u.lastPerformed) > 0 {
			return true, at
		}
	}

	return false, nil
}

func (u *SimulatedUpkeep) currentHead() *big.Int {
	if u.head == nil {
		return big.NewInt(0)
	}

	return u.head()
}

// GenerateAllUpkeeps expands every generate event in the plan into concrete
// simulated upkeeps.
func GenerateAllUpkeeps(plan config.SimulationPlan) ([]*SimulatedUpkeep, error) {
	generated := make([]*SimulatedUpkeep, 0)
	limit := new(big.Int).Add(plan.Blocks.Genesis, big.NewInt(int64(plan.Blocks.Duration)))

	for idx, event := range plan.GenerateUpkeeps {
		simulated, err := generateSimulatedUpkeeps(event, plan.Blocks.Genesis, limit)
		if err != nil {
			return nil, fmt.Errorf("%w at index %d", err, idx)
		}

		generated = append(generated, simulated...)
	}

	return generated, nil
}

// GenerateLogTriggers expands the plan's log events into scheduled logs.
func GenerateLogTriggers(plan config.SimulationPlan) []SimulatedLog {
	logs := make([]SimulatedLog, len(plan.LogEvents))

	for idx, event := range plan.LogEvents {
		logs[idx] = SimulatedLog{
			TriggerAt:    event.TriggerBlock,
			TriggerValue: event.TriggerValue,
		}
	}

	return logs
}

func generateSimulatedUpkeeps(event config.GenerateUpkeepsEvent, start *big.Int, limit *big.Int) ([]*SimulatedUpkeep, error) {
	applyFunctions := event.EligibilityFunc != "always" && event.EligibilityFunc != "never" && event.EligibilityFunc != ""

	if !applyFunctions {
		return generateBasicSimulatedUpkeeps(event, event.EligibilityFunc == "always")
	}

	return generateEligibilityFuncSimulatedUpkeeps(event, start, limit)
}

func generateBasicSimulatedUpkeeps(event config.GenerateUpkeepsEvent, alwaysEligible bool) ([]*SimulatedUpkeep, error) {
	triggerType, err := getTriggerType(event.UpkeepType)
	if err != nil {
		return nil, err
	}

	generated := make([]*SimulatedUpkeep, 0, event.Count)

	for y := 1; y <= event.Count; y++ {
		id := new(big.Int).Add(event.StartID, big.NewInt(int64(y)))

		generated = append(generated, newSimulatedUpkeep(event, id, triggerType, alwaysEligible))
	}

	return generated, nil
}

func generateEligibilityFuncSimulatedUpkeeps(event config.GenerateUpkeepsEvent, start *big.Int, limit *big.Int) ([]*SimulatedUpkeep, error) {
	triggerType, err := getTriggerType(event.UpkeepType)
	if err != nil {
		return nil, err
	}

	generated := make([]*SimulatedUpkeep, 0, event.Count)
	offset := mathparse.NewParser(event.OffsetFunc)

	offset.Resolve()

	for y := 1; y <= event.Count; y++ {
		id := new(big.Int).Add(event.StartID, big.NewInt(int64(y)))
		sym := newSimulatedUpkeep(event, id, triggerType, false)

		var genesis *big.Int
		if offset.FoundResult() {
			// constant offset applies to every upkeep equally
			genesis = big.NewInt(int64(offset.GetValueResult()))
		} else {
			// offset relative to upkeep count spreads start blocks apart
			g, err := calcFromTokens(offset.GetTokens(), big.NewInt(int64(y)))
			if err != nil {
				return nil, err
			}

			genesis = new(big.Int).Add(start, g.BigInt())
		}

		if err := generateEligibles(sym, genesis, limit, event.EligibilityFunc); err != nil {
			return nil, err
		}

		generated = append(generated, sym)
	}

	return generated, nil
}

func newSimulatedUpkeep(event config.GenerateUpkeepsEvent, id *big.Int, triggerType autotypes.UpkeepType, alwaysEligible bool) *SimulatedUpkeep {
	gasLimit := event.GasLimit
	if gasLimit == 0 {
		gasLimit = defaultGasLimit
	}

	funds := event.InitialFunds
	if funds == nil {
		funds = defaultInitialFunds
	}

	return &SimulatedUpkeep{
		ID:             id,
		UpkeepID:       encoding.NewUpkeepID(id.Bytes(), triggerType),
		Type:           triggerType,
		CreateInBlock:  event.TriggerBlock,
		AlwaysEligible: alwaysEligible,
		EligibleAt:     make([]*big.Int, 0),
		TriggeredBy:    event.LogTriggeredBy,
		GasLimit:       gasLimit,
		InitialFunds:   new(big.Int).Set(funds),
		Expected:       event.Expected == config.AllExpected,
		checkGasUsed:   defaultCheckGasUsed,
		performGasUsed: defaultPerformGasUsed,
	}
}

func getTriggerType(configType config.UpkeepType) (autotypes.UpkeepType, error) {
	switch configType {
	case config.ConditionalUpkeepType:
		return autotypes.ConditionTrigger, nil
	case config.LogTriggerUpkeepType:
		return autotypes.LogTrigger, nil
	default:
		return 0, fmt.Errorf("%w: trigger type '%s' unrecognized", ErrUpkeepGeneration, configType)
	}
}

func operate(a, b decimal.Decimal, op string) decimal.Decimal {
	switch op {
	case "+":
		return a.Add(b)
	case "*":
		return a.Mul(b)
	case "-":
		return a.Sub(b)
	default:
	}

	return decimal.Zero
}

func generateEligibles(upkeep *SimulatedUpkeep, genesis *big.Int, limit *big.Int, f string) error {
	p := mathparse.NewParser(f)
	p.Resolve()

	if p.FoundResult() {
		return fmt.Errorf("%w: eligibility must be a function of x", ErrUpkeepGeneration)
	}

	var i int64 = 0
	nextValue := big.NewInt(0)
	tokens := p.GetTokens()

	for nextValue.Cmp(limit) < 0 {
		if nextValue.Cmp(genesis) >= 0 {
			upkeep.EligibleAt = append(upkeep.EligibleAt, nextValue)
		}

		value, err := calcFromTokens(tokens, big.NewInt(i))
		if err != nil {
			return err
		}

		biValue := value.Round(0).BigInt()
		nextValue = new(big.Int).Add(genesis, biValue)
		i++
	}

	return nil
}

func calcFromTokens(tokens []mathparse.Token, x *big.Int) (decimal.Decimal, error) {
	value := decimal.NewFromInt(0)
	action := "+"

	for i := 0; i < len(tokens); i++ {
		token := tokens[i]

		switch token.Type {
		case 2, 3:
			var tVal decimal.Decimal

			if token.Value == "x" {
				tVal = decimal.NewFromBigInt(x, int32(0))
			} else {
				tVal = decimal.NewFromFloat(token.ParseValue)
			}

			value = operate(value, tVal, action)
		case 4:
			action = token.Value
		default:
		}
	}

	return value, nil
}
