package protocol

import (
	"errors"
	"fmt"
	"math"
	"unicode/utf8"

	"github.com/danmuck/x32emu/internal/protocol/wire"
)

// Unmarshal decodes one complete datagram. Every byte must be consumed.
func Unmarshal(buf []byte) (Message, error) {
	raw, off, err := wire.ReadString(buf, 0)
	if err != nil {
		return Message{}, decodeErr(0, mapWireErr(err, false))
	}
	addr := string(raw)
	if err := ValidateAddress(addr); err != nil {
		return Message{}, decodeErr(0, err)
	}
	msg := Message{Address: addr}
	if off == len(buf) {
		return msg, nil
	}
	if buf[off] != ',' {
		return Message{}, decodeErr(off, ErrMissingTypeTags)
	}
	tagsAt := off
	tags, off, err := wire.ReadString(buf, off)
	if err != nil {
		return Message{}, decodeErr(tagsAt, mapWireErr(err, false))
	}
	tags = tags[1:]
	if len(tags) > 0 {
		msg.Args = make([]Argument, 0, len(tags))
	}
	for i, tag := range tags {
		at := off
		var arg Argument
		arg, off, err = decodeArg(buf, off, Kind(tag))
		if err != nil {
			if errors.Is(err, ErrUnknownTypeTag) {
				return Message{}, decodeErr(tagsAt+1+i, err)
			}
			return Message{}, decodeErr(at, err)
		}
		msg.Args = append(msg.Args, arg)
	}
	if off != len(buf) {
		return Message{}, decodeErr(off, fmt.Errorf("%w: %d bytes", ErrTrailingData, len(buf)-off))
	}
	return msg, nil
}

func decodeArg(buf []byte, off int, kind Kind) (Argument, int, error) {
	switch kind {
	case KindInt:
		v, next, err := wire.ReadUint32(buf, off)
		if err != nil {
			return Argument{}, off, mapWireErr(err, true)
		}
		return Int(int32(v)), next, nil
	case KindFloat:
		v, next, err := wire.ReadUint32(buf, off)
		if err != nil {
			return Argument{}, off, mapWireErr(err, true)
		}
		return Float(math.Float32frombits(v)), next, nil
	case KindString:
		raw, next, err := wire.ReadString(buf, off)
		if err != nil {
			return Argument{}, off, mapWireErr(err, true)
		}
		if !utf8.Valid(raw) {
			return Argument{}, off, ErrInvalidString
		}
		return String(string(raw)), next, nil
	case KindBlob:
		raw, next, err := wire.ReadBlob(buf, off)
		if err != nil {
			return Argument{}, off, mapWireErr(err, true)
		}
		// ReadBlob already copied.
		return Argument{kind: KindBlob, b: raw}, next, nil
	default:
		return Argument{}, off, fmt.Errorf("%w: %q", ErrUnknownTypeTag, byte(kind))
	}
}

// mapWireErr translates alignment failures into codec sentinels.
// Inside the payload a missing terminator means the datagram was cut short.
func mapWireErr(err error, payload bool) error {
	switch {
	case errors.Is(err, wire.ErrMissingTerminator):
		if payload {
			return ErrTruncated
		}
		return ErrMissingTerminator
	case errors.Is(err, wire.ErrBadPadding):
		return ErrBadPadding
	case errors.Is(err, wire.ErrShortWord), errors.Is(err, wire.ErrShortBlob):
		return ErrTruncated
	case errors.Is(err, wire.ErrNegativeLength):
		return ErrInvalidLength
	default:
		return err
	}
}

func decodeErr(off int, err error) error {
	return &DecodeError{Offset: off, Err: err}
}
