package dispatch

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/danmuck/x32emu/internal/protocol"
	"github.com/danmuck/x32emu/internal/store"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Identity is reported by /xinfo and /status.
type Identity struct {
	Name     string `toml:"name"`
	Model    string `toml:"model"`
	Firmware string `toml:"firmware"`
	IP       string `toml:"ip"`
}

func DefaultIdentity() Identity {
	return Identity{
		Name:     InfoName,
		Model:    InfoModel,
		Firmware: InfoFirmware,
		IP:       "127.0.0.1",
	}
}

// Dispatcher routes messages through a Registry against a guarded Store.
type Dispatcher struct {
	reg      *Registry
	guard    *store.Guard
	subs     *Subscriptions
	identity Identity
	now      func() time.Time
	logger   zerolog.Logger

	// applied, when set, sees every successful generic set under the Guard.
	applied func(address string, v protocol.Argument)
}

type Option func(*Dispatcher)

func WithIdentity(id Identity) Option {
	return func(d *Dispatcher) { d.identity = id }
}

func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(d *Dispatcher) { d.logger = logger }
}

func WithSubscriptions(subs *Subscriptions) Option {
	return func(d *Dispatcher) { d.subs = subs }
}

func New(reg *Registry, guard *store.Guard, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		reg:      reg,
		guard:    guard,
		subs:     NewSubscriptions(),
		identity: DefaultIdentity(),
		now:      time.Now,
		logger:   log.Logger.With().Str("component", "dispatch").Logger(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.guard == nil {
		d.guard = store.NewGuard(nil)
	}
	return d
}

func (d *Dispatcher) Registry() *Registry           { return d.reg }
func (d *Dispatcher) Guard() *store.Guard           { return d.guard }
func (d *Dispatcher) Subscriptions() *Subscriptions { return d.subs }
func (d *Dispatcher) Identity() Identity            { return d.identity }

// Dispatch handles one message under a single Guard acquisition.
// Unknown addresses and gets of unset parameters produce no replies and no error.
func (d *Dispatcher) Dispatch(msg protocol.Message, peer net.Addr) ([]protocol.Message, error) {
	def, ok := d.reg.Lookup(msg.Address)
	if !ok {
		d.logger.Debug().Str("address", msg.Address).Msg("unknown address")
		return nil, nil
	}

	var replies []protocol.Message
	err := d.guard.With(func(st *store.Store) error {
		var err error
		switch def := def.(type) {
		case Special:
			env := handlerEnv{d: d, st: st, peer: peer, now: d.now()}
			replies, err = handlers[def.Handler](env, msg)
		case Generic:
			replies, err = applyGeneric(st, def, msg)
			if err == nil && len(msg.Args) == 1 && d.applied != nil {
				d.applied(def.Address, msg.Args[0])
			}
		}
		return err
	})
	if err != nil {
		var de *DispatchError
		if errors.As(err, &de) {
			return nil, err
		}
		return nil, &DispatchError{Address: msg.Address, Err: err}
	}
	return replies, nil
}

// params is the slice of a store that the get/set rule touches.
type params interface {
	Get(address string) (protocol.Argument, bool)
	Set(address string, value protocol.Argument)
}

// applyGeneric is the get/set rule for plain parameters. A failing set
// leaves the store unchanged. A stored value pins the kind of its address.
func applyGeneric(st params, def Generic, msg protocol.Message) ([]protocol.Message, error) {
	switch len(msg.Args) {
	case 0:
		if !def.Access.Readable() {
			return nil, ErrWriteOnly
		}
		v, ok := st.Get(def.Address)
		if !ok {
			return nil, nil
		}
		return []protocol.Message{protocol.NewMessage(def.Address, v)}, nil
	case 1:
		if !def.Access.Writable() {
			return nil, ErrReadOnly
		}
		arg := msg.Args[0]
		if arg.Kind() != def.Kind {
			return nil, fmt.Errorf("%w: have %s want %s", ErrKindMismatch, arg.Kind(), def.Kind)
		}
		if prev, ok := st.Get(def.Address); ok && prev.Kind() != arg.Kind() {
			return nil, fmt.Errorf("%w: have %s, stored %s", ErrKindMismatch, arg.Kind(), prev.Kind())
		}
		st.Set(def.Address, arg)
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrTooManyArgs, len(msg.Args))
	}
}

// staged buffers sets over a store until commit.
type staged struct {
	base    *store.Store
	pending map[string]protocol.Argument
	order   []string
}

func newStaged(base *store.Store) *staged {
	return &staged{base: base, pending: make(map[string]protocol.Argument)}
}

func (s *staged) Get(address string) (protocol.Argument, bool) {
	if v, ok := s.pending[address]; ok {
		return v, true
	}
	return s.base.Get(address)
}

func (s *staged) Set(address string, value protocol.Argument) {
	if _, ok := s.pending[address]; !ok {
		s.order = append(s.order, address)
	}
	s.pending[address] = value
}

// commit writes pending sets in first-set order, so new keys keep the order
// the batch introduced them in.
func (s *staged) commit() {
	for _, addr := range s.order {
		s.base.Set(addr, s.pending[addr])
	}
}

// Tick collects meter frames and parameter updates whose interval has elapsed.
func (d *Dispatcher) Tick(now time.Time) []Frame {
	frames := d.subs.DueMeters(now)
	due := d.subs.dueParams(now)
	if len(due) == 0 {
		return frames
	}
	_ = d.guard.View(func(r store.Reader) error {
		for _, sub := range due {
			if v, ok := r.Get(sub.path); ok {
				frames = append(frames, Frame{Peer: sub.peer, Message: protocol.NewMessage(sub.path, v)})
			}
		}
		return nil
	})
	return frames
}
