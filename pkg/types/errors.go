package types

import "fmt"

// Fatal rejections. Every one of these aborts the enclosing call with no
// state change. Names mirror the registry contract error catalogue so
// callers can handle causes programmatically.
var (
	ErrRegistryPaused              = fmt.Errorf("registry paused")
	ErrConfigDigestMismatch        = fmt.Errorf("config digest mismatch")
	ErrIncorrectNumberOfSignatures = fmt.Errorf("incorrect number of signatures")
	ErrOnlyActiveSigners           = fmt.Errorf("only active signers")
	ErrDuplicateSigners            = fmt.Errorf("duplicate signers")
	ErrOnlyActiveTransmitters      = fmt.Errorf("only active transmitters")
	ErrInvalidReport               = fmt.Errorf("invalid report")
	ErrInvalidTrigger              = fmt.Errorf("invalid trigger")
	ErrInvalidSignature            = fmt.Errorf("invalid signature")

	ErrUpkeepNotFound        = fmt.Errorf("upkeep not found")
	ErrUpkeepAlreadyExists   = fmt.Errorf("upkeep already exists")
	ErrUpkeepCancelled       = fmt.Errorf("upkeep cancelled")
	ErrUpkeepNotCanceled     = fmt.Errorf("upkeep not canceled")
	ErrOnlyUnpausedUpkeep    = fmt.Errorf("only unpaused upkeep")
	ErrOnlyPausedUpkeep      = fmt.Errorf("only paused upkeep")
	ErrGasLimitOutsideRange  = fmt.Errorf("gas limit outside range")
	ErrCheckDataExceedsLimit = fmt.Errorf("check data exceeds limit")
	ErrInsufficientBalance   = fmt.Errorf("insufficient balance")

	ErrOnlyCallableByOwner         = fmt.Errorf("only callable by owner")
	ErrOnlyCallableByAdmin         = fmt.Errorf("only callable by admin")
	ErrOnlyCallableByOwnerOrAdmin  = fmt.Errorf("only callable by owner or admin")
	ErrOnlyCallableByPayee         = fmt.Errorf("only callable by payee")
	ErrOnlyCallableByProposedAdmin = fmt.Errorf("only callable by proposed admin")
	ErrOnlyCallableByProposedPayee = fmt.Errorf("only callable by proposed payee")
	ErrInvalidRecipient            = fmt.Errorf("invalid recipient")

	ErrTooManyOracles                 = fmt.Errorf("too many oracles")
	ErrIncorrectNumberOfSigners       = fmt.Errorf("incorrect number of signers")
	ErrIncorrectNumberOfFaultyOracles = fmt.Errorf("incorrect number of faulty oracles")
	ErrRepeatedSigner                 = fmt.Errorf("repeated signer address")
	ErrRepeatedTransmitter            = fmt.Errorf("repeated transmitter address")
	ErrZeroAddressNotAllowed          = fmt.Errorf("zero address not allowed")
	ErrInvalidPayee                   = fmt.Errorf("invalid payee")
	ErrInvalidToken                   = fmt.Errorf("invalid billing token")
)

// UpkeepFailureReason is the non-fatal result of the pre-performance check
// pipeline. These are returned as values, never as errors, so a failing check
// cannot abort a batch.
type UpkeepFailureReason uint8

const (
	UpkeepFailureReasonNone UpkeepFailureReason = iota
	UpkeepFailureReasonUpkeepCancelled
	UpkeepFailureReasonUpkeepPaused
	UpkeepFailureReasonTargetCheckReverted
	UpkeepFailureReasonUpkeepNotNeeded
	UpkeepFailureReasonPerformDataExceedsLimit
	UpkeepFailureReasonInsufficientBalance
	UpkeepFailureReasonCheckCallbackReverted
	UpkeepFailureReasonRevertDataExceedsLimit
	UpkeepFailureReasonRegistryPaused
)

func (r UpkeepFailureReason) String() string {
	switch r {
	case UpkeepFailureReasonNone:
		return "NONE"
	case UpkeepFailureReasonUpkeepCancelled:
		return "UPKEEP_CANCELLED"
	case UpkeepFailureReasonUpkeepPaused:
		return "UPKEEP_PAUSED"
	case UpkeepFailureReasonTargetCheckReverted:
		return "TARGET_CHECK_REVERTED"
	case UpkeepFailureReasonUpkeepNotNeeded:
		return "UPKEEP_NOT_NEEDED"
	case UpkeepFailureReasonPerformDataExceedsLimit:
		return "PERFORM_DATA_EXCEEDS_LIMIT"
	case UpkeepFailureReasonInsufficientBalance:
		return "INSUFFICIENT_BALANCE"
	case UpkeepFailureReasonCheckCallbackReverted:
		return "CHECK_CALLBACK_REVERTED"
	case UpkeepFailureReasonRevertDataExceedsLimit:
		return "REVERT_DATA_EXCEEDS_LIMIT"
	case UpkeepFailureReasonRegistryPaused:
		return "REGISTRY_PAUSED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(r))
	}
}
