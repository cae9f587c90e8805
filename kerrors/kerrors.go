// Package kerrors defines the error taxonomy of the core (spec §7). Every
// operation returns one of these kinds rather than an ad-hoc error string,
// so hosts can branch on failure mode without string matching.
package kerrors

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind enumerates the error categories a core operation can surface.
type Kind int

const (
	Unknown Kind = iota
	InvalidState
	InvalidTransition
	TransitionLocked
	ReentrancyError
	InvalidKeys
	InvalidScript
	InvalidMetadata
	InvalidFunding
	KeyRotationNotDue
	KeyGenerationFailed
	AggregationFailed
	ScriptUpdateFailed
	InsufficientBond
	FeeExceedsBond
	EconomicRatiosInvalid
	SlashInvalid
	InsufficientApprovers
	CoolingOff
	AppealInvalid
	AppealExpired
	EvidenceInvalid
	HashMismatch
	TooLarge
	Expired
	TimestampUnverified
	MiddlemanNotFound
	NotAuthorized
	NotAgreed
	Inactive
	TxRejected
	TxConflicted
	TxTimeout
	TxFeeTooLow
	Fatal
)

var names = map[Kind]string{
	Unknown:                "Unknown",
	InvalidState:           "InvalidState",
	InvalidTransition:      "InvalidTransition",
	TransitionLocked:       "TransitionLocked",
	ReentrancyError:        "ReentrancyError",
	InvalidKeys:            "InvalidKeys",
	InvalidScript:          "InvalidScript",
	InvalidMetadata:        "InvalidMetadata",
	InvalidFunding:         "InvalidFunding",
	KeyRotationNotDue:      "KeyRotationNotDue",
	KeyGenerationFailed:    "KeyGenerationFailed",
	AggregationFailed:      "AggregationFailed",
	ScriptUpdateFailed:     "ScriptUpdateFailed",
	InsufficientBond:       "InsufficientBond",
	FeeExceedsBond:         "FeeExceedsBond",
	EconomicRatiosInvalid:  "EconomicRatiosInvalid",
	SlashInvalid:           "SlashInvalid",
	InsufficientApprovers:  "InsufficientApprovers",
	CoolingOff:             "CoolingOff",
	AppealInvalid:          "AppealInvalid",
	AppealExpired:          "AppealExpired",
	EvidenceInvalid:        "EvidenceInvalid",
	HashMismatch:           "HashMismatch",
	TooLarge:               "TooLarge",
	Expired:                "Expired",
	TimestampUnverified:    "TimestampUnverified",
	MiddlemanNotFound:      "MiddlemanNotFound",
	NotAuthorized:          "NotAuthorized",
	NotAgreed:              "NotAgreed",
	Inactive:               "Inactive",
	TxRejected:             "TxRejected",
	TxConflicted:           "TxConflicted",
	TxTimeout:              "TxTimeout",
	TxFeeTooLow:            "TxFeeTooLow",
	Fatal:                  "Fatal",
}

func (k Kind) String() string {
	if n, ok := names[k]; ok {
		return n
	}
	return "Unknown"
}

// Error wraps a Kind with a message and, optionally, an underlying cause
// captured with github.com/pkg/errors so the stack trace survives Wrap.
type Error struct {
	kind  Kind
	msg   string
	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.kind, e.msg, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.kind, e.msg)
}

func (e *Error) Kind() Kind    { return e.kind }
func (e *Error) Unwrap() error { return e.cause }

// New creates a new Error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{kind: kind, msg: msg, cause: errors.New(msg)}
}

// Newf creates a new Error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	msg := fmt.Sprintf(format, args...)
	return &Error{kind: kind, msg: msg, cause: errors.New(msg)}
}

// Wrap attaches a Kind to an existing error, preserving it as the cause.
func Wrap(kind Kind, err error, msg string) *Error {
	if err == nil {
		return nil
	}
	return &Error{kind: kind, msg: msg, cause: errors.Wrap(err, msg)}
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.kind == kind
	}
	return false
}

// KindOf extracts the Kind of err, or Unknown if err is not a *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.kind
	}
	return Unknown
}
