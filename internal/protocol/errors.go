package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidAddress    = errors.New("protocol: invalid address")
	ErrInvalidString     = errors.New("protocol: invalid string argument")
	ErrMissingTerminator = errors.New("protocol: missing NUL terminator")
	ErrBadPadding        = errors.New("protocol: bad padding")
	ErrMissingTypeTags   = errors.New("protocol: missing type tag string")
	ErrUnknownTypeTag    = errors.New("protocol: unknown type tag")
	ErrTruncated         = errors.New("protocol: truncated data")
	ErrInvalidLength     = errors.New("protocol: invalid length")
	ErrTrailingData      = errors.New("protocol: trailing data")
	ErrKindMismatch      = errors.New("protocol: argument kind mismatch")

	ErrEmptyAddress   = errors.New("protocol: empty address")
	ErrUnmatchedQuote = errors.New("protocol: unmatched quote")
	ErrInvalidNumber  = errors.New("protocol: invalid number")
	ErrInvalidBlob    = errors.New("protocol: invalid blob")
	ErrMissingValue   = errors.New("protocol: missing value for type tag")
	ErrExtraValue     = errors.New("protocol: extra values after type tags")
)

// DecodeError reports malformed bytes and where decoding stopped.
type DecodeError struct {
	Offset int
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%v (offset %d)", e.Err, e.Offset)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// ParseError reports a malformed textual command.
type ParseError struct {
	Input string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%v: %q", e.Err, e.Input)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
