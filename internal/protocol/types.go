package protocol

import (
	"bytes"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"
)

// Kind is the type-tag character of an argument.
type Kind byte

const (
	KindInt    Kind = 'i'
	KindFloat  Kind = 'f'
	KindString Kind = 's'
	KindBlob   Kind = 'b'
)

// Valid reports whether k is one of the four supported kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindInt, KindFloat, KindString, KindBlob:
		return true
	default:
		return false
	}
}

func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindBlob:
		return "blob"
	default:
		return fmt.Sprintf("kind(%q)", byte(k))
	}
}

// ParseKind maps a type-tag string ("i", "f", "s", "b") to a Kind.
func ParseKind(tag string) (Kind, error) {
	if len(tag) != 1 || !Kind(tag[0]).Valid() {
		return 0, fmt.Errorf("%w: %q", ErrUnknownTypeTag, tag)
	}
	return Kind(tag[0]), nil
}

// Argument is one typed payload value. The zero value is not a valid argument.
type Argument struct {
	kind Kind
	i    int32
	f    float32
	s    string
	b    []byte
}

// Int creates an int32 argument.
func Int(v int32) Argument {
	return Argument{kind: KindInt, i: v}
}

// Float creates a float32 argument.
func Float(v float32) Argument {
	return Argument{kind: KindFloat, f: v}
}

// String creates a string argument.
func String(v string) Argument {
	return Argument{kind: KindString, s: v}
}

// Blob creates a blob argument holding a copy of v.
func Blob(v []byte) Argument {
	buf := make([]byte, len(v))
	copy(buf, v)
	return Argument{kind: KindBlob, b: buf}
}

// Kind returns the argument kind.
func (a Argument) Kind() Kind {
	return a.kind
}

// Int returns the value of an int argument.
func (a Argument) Int() (int32, error) {
	if a.kind != KindInt {
		return 0, fmt.Errorf("%w: have %s want int", ErrKindMismatch, a.kind)
	}
	return a.i, nil
}

// Float returns the value of a float argument.
func (a Argument) Float() (float32, error) {
	if a.kind != KindFloat {
		return 0, fmt.Errorf("%w: have %s want float", ErrKindMismatch, a.kind)
	}
	return a.f, nil
}

// Str returns the value of a string argument.
func (a Argument) Str() (string, error) {
	if a.kind != KindString {
		return "", fmt.Errorf("%w: have %s want string", ErrKindMismatch, a.kind)
	}
	return a.s, nil
}

// Bytes returns a copy of a blob argument's bytes.
func (a Argument) Bytes() ([]byte, error) {
	if a.kind != KindBlob {
		return nil, fmt.Errorf("%w: have %s want blob", ErrKindMismatch, a.kind)
	}
	buf := make([]byte, len(a.b))
	copy(buf, a.b)
	return buf, nil
}

// Equal compares kind and value. Floats compare by bit pattern.
func (a Argument) Equal(o Argument) bool {
	if a.kind != o.kind {
		return false
	}
	switch a.kind {
	case KindInt:
		return a.i == o.i
	case KindFloat:
		return math.Float32bits(a.f) == math.Float32bits(o.f)
	case KindString:
		return a.s == o.s
	case KindBlob:
		return bytes.Equal(a.b, o.b)
	default:
		return true
	}
}

// Text renders the argument the way Render writes it.
func (a Argument) Text() string {
	var sb strings.Builder
	writeArgText(&sb, a)
	return sb.String()
}

func (a Argument) String() string {
	return string(a.kind) + ":" + a.Text()
}

func (a Argument) validate() error {
	switch a.kind {
	case KindInt, KindFloat, KindBlob:
		return nil
	case KindString:
		if strings.IndexByte(a.s, 0) >= 0 || !utf8.ValidString(a.s) {
			return fmt.Errorf("%w: %q", ErrInvalidString, a.s)
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownTypeTag, byte(a.kind))
	}
}

// Message is an address plus an ordered argument list. No arguments means query.
type Message struct {
	Address string
	Args    []Argument
}

// NewMessage builds a message from an address and arguments.
func NewMessage(address string, args ...Argument) Message {
	return Message{Address: address, Args: args}
}

// IsQuery reports whether the message carries no arguments.
func (m Message) IsQuery() bool {
	return len(m.Args) == 0
}

// TypeTags returns the "," prefixed tag string, or "" for a query.
func (m Message) TypeTags() string {
	if len(m.Args) == 0 {
		return ""
	}
	tags := make([]byte, 0, len(m.Args)+1)
	tags = append(tags, ',')
	for _, a := range m.Args {
		tags = append(tags, byte(a.kind))
	}
	return string(tags)
}

// Equal compares address and argument sequences.
func (m Message) Equal(o Message) bool {
	if m.Address != o.Address || len(m.Args) != len(o.Args) {
		return false
	}
	for i := range m.Args {
		if !m.Args[i].Equal(o.Args[i]) {
			return false
		}
	}
	return true
}

func (m Message) String() string {
	return Render(m)
}

// Validate checks the address rule and every argument.
func (m Message) Validate() error {
	if err := ValidateAddress(m.Address); err != nil {
		return err
	}
	for _, a := range m.Args {
		if err := a.validate(); err != nil {
			return err
		}
	}
	return nil
}

// ValidateAddress enforces a leading '/', ASCII only, no NUL.
func ValidateAddress(address string) error {
	if address == "" || address[0] != '/' {
		return fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}
	for i := 0; i < len(address); i++ {
		c := address[i]
		if c == 0 || c >= utf8.RuneSelf {
			return fmt.Errorf("%w: %q", ErrInvalidAddress, address)
		}
	}
	return nil
}
