package protocol

import (
	"io"
	"math"

	"github.com/danmuck/x32emu/internal/protocol/wire"
)

// MaxDatagram is the largest UDP payload over IPv4.
const MaxDatagram = 65507

// Encode writes msg to w using the binary wire format.
func Encode(w io.Writer, msg Message) error {
	buf, err := Marshal(msg)
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}

// Marshal returns the binary encoding of msg. The result length is always a multiple of 4.
func Marshal(msg Message) ([]byte, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	buf := make([]byte, 0, encodedLen(msg))
	buf = wire.AppendString(buf, msg.Address)
	if len(msg.Args) == 0 {
		return buf, nil
	}
	buf = wire.AppendString(buf, msg.TypeTags())
	for _, a := range msg.Args {
		buf = appendArg(buf, a)
	}
	return buf, nil
}

func appendArg(buf []byte, a Argument) []byte {
	switch a.kind {
	case KindInt:
		return wire.AppendUint32(buf, uint32(a.i))
	case KindFloat:
		return wire.AppendUint32(buf, math.Float32bits(a.f))
	case KindString:
		return wire.AppendString(buf, a.s)
	case KindBlob:
		return wire.AppendBlob(buf, a.b)
	default:
		return buf
	}
}

// EncodedLen is the size Marshal produces for m.
func (m Message) EncodedLen() int {
	return encodedLen(m)
}

// EncodedLen is the size of the argument's payload on the wire.
func (a Argument) EncodedLen() int {
	switch a.kind {
	case KindString:
		return wire.StringLen(a.s)
	case KindBlob:
		return wire.BlobLen(a.b)
	default:
		return 4
	}
}

func encodedLen(msg Message) int {
	n := wire.StringLen(msg.Address)
	if len(msg.Args) == 0 {
		return n
	}
	n += wire.PaddedLen(len(msg.Args) + 2)
	for _, a := range msg.Args {
		n += a.EncodedLen()
	}
	return n
}
