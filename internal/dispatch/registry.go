package dispatch

import (
	"fmt"
	"sort"
	"strings"

	"github.com/danmuck/x32emu/internal/store"
)

// Registry is the immutable address table built once at startup.
type Registry struct {
	generic  map[string]Generic
	exact    map[string]Special
	prefixes []Special
}

// NewRegistry validates defs and rejects duplicate addresses within the
// generic set and within the special set. A special may shadow a generic.
func NewRegistry(defs ...Definition) (*Registry, error) {
	r := &Registry{
		generic: make(map[string]Generic),
		exact:   make(map[string]Special),
	}
	prefixSeen := make(map[string]struct{})
	for _, def := range defs {
		if err := validate(def); err != nil {
			return nil, err
		}
		switch d := def.(type) {
		case Generic:
			if _, dup := r.generic[d.Address]; dup {
				return nil, fmt.Errorf("%w: %s", ErrDuplicate, d.Address)
			}
			r.generic[d.Address] = d
		case Special:
			if d.Match == MatchExact {
				if _, dup := r.exact[d.Address]; dup {
					return nil, fmt.Errorf("%w: %s", ErrDuplicate, d.Address)
				}
				r.exact[d.Address] = d
				continue
			}
			if _, dup := prefixSeen[d.Address]; dup {
				return nil, fmt.Errorf("%w: prefix %s", ErrDuplicate, d.Address)
			}
			prefixSeen[d.Address] = struct{}{}
			r.prefixes = append(r.prefixes, d)
		}
	}
	sort.SliceStable(r.prefixes, func(i, j int) bool {
		return len(r.prefixes[i].Address) > len(r.prefixes[j].Address)
	})
	return r, nil
}

// Lookup resolves exact special, then longest prefix special, then generic.
func (r *Registry) Lookup(address string) (Definition, bool) {
	if s, ok := r.exact[address]; ok {
		return s, true
	}
	for _, s := range r.prefixes {
		if s.matches(address) {
			return s, true
		}
	}
	if g, ok := r.generic[address]; ok {
		return g, true
	}
	return nil, false
}

// Generic returns the generic definition for address, ignoring specials.
func (r *Registry) Generic(address string) (Generic, bool) {
	g, ok := r.generic[address]
	return g, ok
}

// Verify checks that every stored value under a generic address carries the
// generic's kind. Values at unregistered addresses are ignored.
func (r *Registry) Verify(rd store.Reader) error {
	for _, e := range rd.Enumerate("") {
		g, ok := r.generic[e.Address]
		if !ok {
			continue
		}
		if e.Value.Kind() != g.Kind {
			return fmt.Errorf("%w: %s holds %s, registered as %s", store.ErrKindConflict, e.Address, e.Value.Kind(), g.Kind)
		}
	}
	return nil
}

// Len counts every registered definition.
func (r *Registry) Len() int {
	return len(r.generic) + len(r.exact) + len(r.prefixes)
}

// Addresses lists generic addresses under prefix in sorted order.
func (r *Registry) Addresses(prefix string) []string {
	out := make([]string, 0)
	trimmed := strings.TrimSuffix(prefix, "/")
	for addr := range r.generic {
		if trimmed == "" || addr == trimmed || strings.HasPrefix(addr, trimmed+"/") {
			out = append(out, addr)
		}
	}
	sort.Strings(out)
	return out
}

// Builtins are the special commands every console session answers.
func Builtins() []Definition {
	exact := func(addr string, h HandlerID) Definition {
		return Special{Address: addr, Match: MatchExact, Handler: h}
	}
	return []Definition{
		exact("/info", HandlerInfo),
		exact("/xinfo", HandlerXInfo),
		exact("/status", HandlerStatus),
		exact("/node", HandlerNode),
		exact("/", HandlerBatch),
		exact("/xremote", HandlerXRemote),
		exact("/subscribe", HandlerSubscribe),
		exact("/renew", HandlerRenew),
		exact("/unsubscribe", HandlerUnsubscribe),
		exact("/batchsubscribe", HandlerBatchSubscribe),
		exact("/formatsubscribe", HandlerFormatSubscribe),
		exact("/meters", HandlerMeters),
		exact("/-snap/load", HandlerAcknowledge),
		exact("/-snap/save", HandlerAcknowledge),
		exact("/-snap/delete", HandlerAcknowledge),
		exact("/load", HandlerAcknowledge),
		exact("/save", HandlerAcknowledge),
		exact("/delete", HandlerAcknowledge),
		exact("/copy", HandlerAcknowledge),
		Special{Address: "/-action", Match: MatchPrefix, Handler: HandlerAcknowledge},
	}
}
