package dispatch

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidDefinition = errors.New("dispatch: invalid definition")
	ErrDuplicate         = errors.New("dispatch: duplicate definition")
	ErrUnknownHandler    = errors.New("dispatch: unknown handler")

	ErrWriteOnly    = errors.New("dispatch: parameter is write-only")
	ErrReadOnly     = errors.New("dispatch: parameter is read-only")
	ErrKindMismatch = errors.New("dispatch: argument kind does not match parameter")
	ErrTooManyArgs  = errors.New("dispatch: too many arguments")
	ErrBadArgument  = errors.New("dispatch: bad argument")
	ErrUnknownMeter = errors.New("dispatch: unknown meter group")
	ErrNotGeneric   = errors.New("dispatch: batch line does not address a parameter")
)

// DispatchError carries the address a failed dispatch was aimed at.
type DispatchError struct {
	Address string
	Err     error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch %s: %v", e.Address, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}
