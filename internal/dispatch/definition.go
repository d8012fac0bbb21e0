package dispatch

import (
	"fmt"
	"strings"

	"github.com/danmuck/x32emu/internal/protocol"
)

// Access is the permission set of a generic parameter.
type Access uint8

const (
	AccessRead Access = 1 << iota
	AccessWrite

	AccessReadWrite = AccessRead | AccessWrite
)

func (a Access) Readable() bool { return a&AccessRead != 0 }
func (a Access) Writable() bool { return a&AccessWrite != 0 }

func (a Access) String() string {
	switch a {
	case AccessRead:
		return "r"
	case AccessWrite:
		return "w"
	case AccessReadWrite:
		return "rw"
	default:
		return fmt.Sprintf("access(%d)", uint8(a))
	}
}

// ParseAccess accepts r, w, rw (and the long forms read, write, read-write).
func ParseAccess(s string) (Access, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "r", "read", "ro":
		return AccessRead, nil
	case "w", "write", "wo":
		return AccessWrite, nil
	case "rw", "read-write", "readwrite", "":
		return AccessReadWrite, nil
	default:
		return 0, fmt.Errorf("%w: access %q", ErrInvalidDefinition, s)
	}
}

// MatchMode selects how a special definition's address is compared.
type MatchMode uint8

const (
	MatchExact MatchMode = iota
	MatchPrefix
)

// Definition is either a Generic parameter or a Special command.
type Definition interface {
	Path() string
	isDefinition()
}

// Generic is a plain parameter: get on query, set on a single argument.
type Generic struct {
	Address string
	Kind    protocol.Kind
	Access  Access
}

func (g Generic) Path() string { return g.Address }
func (Generic) isDefinition()  {}

// Special routes to a handler in the fixed handler table.
type Special struct {
	Address string
	Match   MatchMode
	Handler HandlerID
}

func (s Special) Path() string { return s.Address }
func (Special) isDefinition()  {}

func (s Special) matches(address string) bool {
	if s.Match == MatchExact {
		return address == s.Address
	}
	return address == s.Address || strings.HasPrefix(address, strings.TrimSuffix(s.Address, "/")+"/")
}

func validate(def Definition) error {
	if def == nil {
		return fmt.Errorf("%w: nil", ErrInvalidDefinition)
	}
	addr := def.Path()
	if err := protocol.ValidateAddress(addr); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
	}
	if strings.ContainsAny(addr, "[]{}") {
		return fmt.Errorf("%w: unexpanded template %q", ErrInvalidDefinition, addr)
	}
	switch d := def.(type) {
	case Generic:
		if !d.Kind.Valid() {
			return fmt.Errorf("%w: %s kind %q", ErrInvalidDefinition, addr, byte(d.Kind))
		}
		if d.Access == 0 || d.Access&^AccessReadWrite != 0 {
			return fmt.Errorf("%w: %s access %d", ErrInvalidDefinition, addr, d.Access)
		}
	case Special:
		if d.Match != MatchExact && d.Match != MatchPrefix {
			return fmt.Errorf("%w: %s match mode %d", ErrInvalidDefinition, addr, d.Match)
		}
		if _, ok := handlers[d.Handler]; !ok {
			return fmt.Errorf("%w: %s handler %d", ErrUnknownHandler, addr, d.Handler)
		}
	default:
		return fmt.Errorf("%w: %T", ErrInvalidDefinition, def)
	}
	return nil
}
