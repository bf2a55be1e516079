package config

import "math/big"

const (
	AllExpected  = "all"
	NoneExpected = "none"
)

type EventType string

const (
	SetConfigEventType       EventType = "setConfig"
	GenerateUpkeepsEventType EventType = "generateUpkeeps"
	LogEventType             EventType = "emitLog"
	CancelUpkeepEventType    EventType = "cancelUpkeep"
)

type Event struct {
	Type         EventType `json:"type"`
	TriggerBlock *big.Int  `json:"eventBlockNumber"`
	Comment      string    `json:"comment,omitempty"`
}

type UpkeepType string

const (
	ConditionalUpkeepType UpkeepType = "conditional"
	LogTriggerUpkeepType  UpkeepType = "logTrigger"
)

// SetConfigEvent rotates the registry committee at the trigger block. The
// signer and transmitter identities are generated by the simulation; only
// their shape is configured here.
type SetConfigEvent struct {
	Event
	// CommitteeSize is the number of oracle nodes in the new committee
	CommitteeSize int `json:"committeeSize"`
	// MaxFaultyNodesF is the fault tolerance bound
	MaxFaultyNodesF uint8 `json:"maxFaultyNodes"`
	// Offchain is opaque config data bound into the config digest
	Offchain string `json:"encodedOffchainConfig"`
}

// GenerateUpkeepsEvent registers upkeeps in bulk at the trigger block.
type GenerateUpkeepsEvent struct {
	Event
	// Count is the total number of upkeeps to create for this event.
	Count int `json:"count"`
	// StartID seeds id entropy so runs are reproducible.
	StartID *big.Int `json:"startID"`
	// EligibilityFunc is a basic linear function that defines the cadence
	// on which each upkeep becomes eligible. The values 'always' and
	// 'never' are also valid; empty is 'never'.
	EligibilityFunc string `json:"eligibilityFunc,omitempty"`
	// OffsetFunc is a basic linear function that offsets each generated
	// upkeep's eligibility start block.
	OffsetFunc string `json:"offsetFunc,omitempty"`
	// UpkeepType selects conditional or log trigger upkeeps.
	UpkeepType UpkeepType `json:"upkeepType"`
	// LogTriggeredBy names the log value that triggers this set. Only
	// applies to log trigger upkeeps.
	LogTriggeredBy string `json:"logTriggeredBy,omitempty"`
	// GasLimit is the per-perform gas budget for each generated upkeep.
	GasLimit uint64 `json:"gasLimit,omitempty"`
	// InitialFunds is the starting balance credited to each upkeep.
	InitialFunds *big.Int `json:"initialFunds,omitempty"`
	// Expected customizes perform assertions: 'all' (default) expects
	// every eligible upkeep to perform, 'none' expects no performs.
	Expected string `json:"expected,omitempty"`
}

// LogEvent emits a simulated chain log at the trigger block.
type LogEvent struct {
	Event
	// TriggerValue matches log trigger upkeeps with 'LogTriggeredBy' set.
	TriggerValue string `json:"triggerValue"`
}

// CancelUpkeepEvent cancels a previously generated upkeep mid-run.
type CancelUpkeepEvent struct {
	Event
	// UpkeepIndex selects the upkeep by generation order.
	UpkeepIndex int `json:"upkeepIndex"`
	// ByOwner cancels with owner authority, skipping the grace window.
	ByOwner bool `json:"byOwner"`
}
