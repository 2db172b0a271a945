package vm

import (
	"errors"
	"fmt"
)

// Signal classifies the outcome of a tick. Every signal other than
// SignalNone is fatal.
type Signal uint8

const (
	SignalNone Signal = iota
	SignalPointerOutOfRange
	SignalStackOverflow
	SignalUndefinedExternalFunction
	SignalUserCrash
	SignalDivideByZero
	SignalInvalidInstruction
)

// Sentinel errors matched by errors.Is against a *RuntimeFault.
var (
	ErrPointerOutOfRange         = errors.New("pointer out of range")
	ErrStackOverflow             = errors.New("stack overflow")
	ErrUndefinedExternalFunction = errors.New("undefined external function")
	ErrUserCrash                 = errors.New("user crash")
	ErrDivideByZero              = errors.New("divide by zero")
	ErrInvalidInstruction        = errors.New("invalid instruction")
)

func (s Signal) String() string {
	switch s {
	case SignalNone:
		return "None"
	case SignalPointerOutOfRange:
		return "PointerOutOfRange"
	case SignalStackOverflow:
		return "StackOverflow"
	case SignalUndefinedExternalFunction:
		return "UndefinedExternalFunction"
	case SignalUserCrash:
		return "UserCrash"
	case SignalDivideByZero:
		return "DivideByZero"
	case SignalInvalidInstruction:
		return "InvalidInstruction"
	default:
		return fmt.Sprintf("Signal(%d)", uint8(s))
	}
}

// Err returns the sentinel error for s, or nil for SignalNone.
func (s Signal) Err() error {
	switch s {
	case SignalPointerOutOfRange:
		return ErrPointerOutOfRange
	case SignalStackOverflow:
		return ErrStackOverflow
	case SignalUndefinedExternalFunction:
		return ErrUndefinedExternalFunction
	case SignalUserCrash:
		return ErrUserCrash
	case SignalDivideByZero:
		return ErrDivideByZero
	case SignalInvalidInstruction:
		return ErrInvalidInstruction
	}
	return nil
}

// signalError carries a signal out of the instruction that raised it.
// Tick converts it into a *RuntimeFault.
type signalError struct {
	signal  Signal
	message string
}

func (e *signalError) Error() string {
	return e.signal.String() + ": " + e.message
}

func (e *signalError) Unwrap() error {
	return e.signal.Err()
}

func signalf(s Signal, format string, args ...any) error {
	return &signalError{signal: s, message: fmt.Sprintf(format, args...)}
}

// SignalOf reports the signal carried by err, or SignalNone when err is
// not a VM signal.
func SignalOf(err error) Signal {
	var fault *RuntimeFault
	if errors.As(err, &fault) {
		return fault.Signal
	}
	var se *signalError
	if errors.As(err, &se) {
		return se.signal
	}
	return SignalNone
}
