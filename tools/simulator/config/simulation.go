package config

import (
	"fmt"
	"math/big"

	"github.com/goccy/go-json"
)

var (
	ErrEncoding = fmt.Errorf("encoding/decoding failure")
)

// SimulationPlan is a collection of configurations with which to run a
// settlement simulation.
type SimulationPlan struct {
	Registry        Registry               `json:"registry"`
	Blocks          Blocks                 `json:"blocks"`
	ConfigEvents    []SetConfigEvent       `json:"-"`
	GenerateUpkeeps []GenerateUpkeepsEvent `json:"-"`
	LogEvents       []LogEvent             `json:"-"`
	CancelEvents    []CancelUpkeepEvent    `json:"-"`
}

// Encode applies JSON encoding of a simulation plan to bytes.
func (p SimulationPlan) Encode() ([]byte, error) {
	type encodedOutput struct {
		SimulationPlan
		Events []interface{} `json:"events"`
	}

	encodable := encodedOutput{
		SimulationPlan: p,
		Events:         make([]interface{}, 0, len(p.ConfigEvents)+len(p.GenerateUpkeeps)+len(p.LogEvents)+len(p.CancelEvents)),
	}

	for _, event := range p.ConfigEvents {
		// ensure the type is set properly
		event.Type = SetConfigEventType
		encodable.Events = append(encodable.Events, event)
	}

	for _, event := range p.GenerateUpkeeps {
		// ensure the type is set properly
		event.Type = GenerateUpkeepsEventType
		encodable.Events = append(encodable.Events, event)
	}

	for _, event := range p.LogEvents {
		// ensure the type is set properly
		event.Type = LogEventType
		encodable.Events = append(encodable.Events, event)
	}

	for _, event := range p.CancelEvents {
		// ensure the type is set properly
		event.Type = CancelUpkeepEventType
		encodable.Events = append(encodable.Events, event)
	}

	encoded, err := json.Marshal(encodable)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to encode simulation plan: %s", ErrEncoding, err.Error())
	}

	return encoded, nil
}

// DecodeSimulationPlan uses JSON encoding to decode bytes to a simulation plan.
func DecodeSimulationPlan(encoded []byte) (SimulationPlan, error) {
	var plan SimulationPlan

	if err := json.Unmarshal(encoded, &plan); err != nil {
		return plan, fmt.Errorf("%w: failed to decode simulation plan: %s", ErrEncoding, err.Error())
	}

	plan.ConfigEvents = make([]SetConfigEvent, 0)
	plan.GenerateUpkeeps = make([]GenerateUpkeepsEvent, 0)
	plan.LogEvents = make([]LogEvent, 0)
	plan.CancelEvents = make([]CancelUpkeepEvent, 0)

	type eventCollection struct {
		Events []json.RawMessage `json:"events"`
	}

	var events eventCollection

	if err := json.Unmarshal(encoded, &events); err != nil {
		return plan, fmt.Errorf("%w: failed to decode events in simulation plan: %s", ErrEncoding, err.Error())
	}

	for idx, rawEvent := range events.Events {
		var event Event
		if err := json.Unmarshal(rawEvent, &event); err != nil {
			return plan, fmt.Errorf("%w: failed to decode event in simulation plan: %s", ErrEncoding, err.Error())
		}

		switch event.Type {
		case SetConfigEventType:
			var configEvent SetConfigEvent
			if err := json.Unmarshal(rawEvent, &configEvent); err != nil {
				return plan, fmt.Errorf("%w: failed to decode setConfig event in simulation plan at index %d: %s", ErrEncoding, idx, err.Error())
			}

			plan.ConfigEvents = append(plan.ConfigEvents, configEvent)
		case GenerateUpkeepsEventType:
			var generateEvent GenerateUpkeepsEvent
			if err := json.Unmarshal(rawEvent, &generateEvent); err != nil {
				return plan, fmt.Errorf("%w: failed to decode generateUpkeeps event in simulation plan at index %d: %s", ErrEncoding, idx, err.Error())
			}

			if generateEvent.Expected == "" {
				generateEvent.Expected = AllExpected
			}

			plan.GenerateUpkeeps = append(plan.GenerateUpkeeps, generateEvent)
		case LogEventType:
			var logEvent LogEvent
			if err := json.Unmarshal(rawEvent, &logEvent); err != nil {
				return plan, fmt.Errorf("%w: failed to decode emitLog event in simulation plan at index %d: %s", ErrEncoding, idx, err.Error())
			}

			plan.LogEvents = append(plan.LogEvents, logEvent)
		case CancelUpkeepEventType:
			var cancelEvent CancelUpkeepEvent
			if err := json.Unmarshal(rawEvent, &cancelEvent); err != nil {
				return plan, fmt.Errorf("%w: failed to decode cancelUpkeep event in simulation plan at index %d: %s", ErrEncoding, idx, err.Error())
			}

			plan.CancelEvents = append(plan.CancelEvents, cancelEvent)
		default:
			return plan, fmt.Errorf("%w: unrecognized event at index %d", ErrEncoding, idx)
		}
	}

	return plan, nil
}

// Registry is the on-paper configuration of the settlement registry under
// simulation: the limits and the billing terms every generated upkeep and
// committee operates under.
type Registry struct {
	// ChainID feeds upkeep id entropy and the config digest.
	ChainID uint64 `json:"chainID"`
	// CheckGasLimit bounds the gas budget for check calls.
	CheckGasLimit uint64 `json:"checkGasLimit"`
	// MaxPerformGas is the largest gas limit an upkeep may register with.
	MaxPerformGas uint64 `json:"maxPerformGas"`
	// MaxPerformDataSize bounds perform payload bytes.
	MaxPerformDataSize uint32 `json:"maxPerformDataSize"`
	// MaxCheckDataSize bounds registered check data bytes.
	MaxCheckDataSize uint32 `json:"maxCheckDataSize"`
	// MaxRevertDataSize bounds surfaced revert data bytes.
	MaxRevertDataSize uint32 `json:"maxRevertDataSize"`
	// GasCeilingMultiplier caps accepted gas prices relative to fallback.
	GasCeilingMultiplier uint16 `json:"gasCeilingMultiplier"`
	// StalenessSeconds is the feed answer freshness window.
	StalenessSeconds int64 `json:"stalenessSeconds"`
	// FallbackGasPrice applies when no fresh feed answer exists.
	FallbackGasPrice *big.Int `json:"fallbackGasPrice"`
	// ReorgProtectionEnabled toggles check-block hash verification.
	ReorgProtectionEnabled bool `json:"reorgProtectionEnabled"`
	// Billing configures the simulation's single billing token.
	Billing Billing `json:"billing"`
}

// Billing is the billing token configuration applied at every committee
// rotation in the simulation.
type Billing struct {
	// PremiumPPB is the premium percentage in parts per billion.
	PremiumPPB uint32 `json:"premiumPPB"`
	// FlatFeeMicroToken is the flat fee in micro token units.
	FlatFeeMicroToken uint64 `json:"flatFeeMicroToken"`
	// Decimals is the billing token's decimal precision.
	Decimals uint8 `json:"decimals"`
	// FallbackPrice applies when no fresh token price exists.
	FallbackPrice *big.Int `json:"fallbackPrice"`
	// MinSpend is the minimum total spend before a cancellation refund.
	MinSpend *big.Int `json:"minSpend"`
}

// Blocks is a configuration for simulated block production.
type Blocks struct {
	// Genesis is the starting block number.
	Genesis *big.Int `json:"genesisBlock"`
	// Cadence is how fast blocks are produced.
	Cadence Duration `json:"blockCadence"`
	// Jitter is the average amount of variance applied to the cadence
	Jitter Duration `json:"blockCadenceJitter"`
	// Duration is the number of blocks to simulate before blocks should stop
	// broadcasting
	Duration int `json:"durationInBlocks"`
	// EndPadding is the number of blocks to add to the end of the process to
	// allow all transmits to close up for the simulated test
	EndPadding int `json:"endPadding"`
}
