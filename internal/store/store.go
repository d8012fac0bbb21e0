// Package store holds console parameter values keyed by address.
package store

import (
	"strings"
	"sync"

	"github.com/danmuck/x32emu/internal/protocol"
)

// Entry is one stored parameter.
type Entry struct {
	Address string
	Value   protocol.Argument
}

// Reader is the read-only view handed out by Guard.View.
type Reader interface {
	Get(address string) (protocol.Argument, bool)
	Enumerate(prefix string) []Entry
	Len() int
}

// Store maps addresses to a single value and iterates in insertion order.
// It is not safe for concurrent use; share it through a Guard.
type Store struct {
	index   map[string]int
	entries []Entry
}

func New() *Store {
	return &Store{index: make(map[string]int)}
}

func (s *Store) Get(address string) (protocol.Argument, bool) {
	i, ok := s.index[address]
	if !ok {
		return protocol.Argument{}, false
	}
	return s.entries[i].Value, true
}

// Set overwrites the value. An existing key keeps its position.
func (s *Store) Set(address string, value protocol.Argument) {
	if i, ok := s.index[address]; ok {
		s.entries[i].Value = value
		return
	}
	s.index[address] = len(s.entries)
	s.entries = append(s.entries, Entry{Address: address, Value: value})
}

// Enumerate returns entries at or below prefix in insertion order.
// "/ch/01" matches "/ch/01/mix/fader" but not "/ch/010"; a trailing "/" in
// prefix matches by plain prefix; "" and "/" return everything.
func (s *Store) Enumerate(prefix string) []Entry {
	out := make([]Entry, 0)
	for _, e := range s.entries {
		if matchPrefix(e.Address, prefix) {
			out = append(out, e)
		}
	}
	return out
}

func (s *Store) Len() int {
	return len(s.entries)
}

func matchPrefix(address, prefix string) bool {
	switch {
	case prefix == "" || prefix == "/":
		return true
	case strings.HasSuffix(prefix, "/"):
		return strings.HasPrefix(address, prefix)
	default:
		return address == prefix || strings.HasPrefix(address, prefix+"/")
	}
}

// Guard is the only way shared code touches a Store.
type Guard struct {
	mu sync.RWMutex
	st *Store
}

func NewGuard(st *Store) *Guard {
	if st == nil {
		st = New()
	}
	return &Guard{st: st}
}

// With runs fn with exclusive access. The lock is released on every exit
// path, a panic in fn included.
func (g *Guard) With(fn func(*Store) error) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return fn(g.st)
}

// View runs fn with shared read access.
func (g *Guard) View(fn func(Reader) error) error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return fn(g.st)
}
