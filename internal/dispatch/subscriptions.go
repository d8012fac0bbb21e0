package dispatch

import (
	"encoding/binary"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/x32emu/internal/protocol"
)

const (
	// RemoteLifetime is how long one /xremote keeps a peer registered.
	RemoteLifetime = 10 * time.Second
	// SubscriptionLifetime applies to /subscribe and /meters until renewed.
	SubscriptionLifetime = 10 * time.Second
	// FactorUnit is one step of a subscription time factor.
	FactorUnit = 50 * time.Millisecond

	minFactor = 1
	maxFactor = 99
)

// meterGroupSizes is the number of float levels in each /meters/<n> frame.
var meterGroupSizes = [...]int{70, 96, 49, 22, 82, 27, 4, 16, 6, 32, 32, 5, 4, 48, 80, 50, 48}

// Frame is an unsolicited message owed to one peer.
type Frame struct {
	Peer    net.Addr
	Message protocol.Message
}

type subKind uint8

const (
	subParam subKind = iota
	subMeter
)

type subscription struct {
	peer     net.Addr
	path     string
	kind     subKind
	group    int
	interval time.Duration
	next     time.Time
	expires  time.Time
}

type remoteClient struct {
	peer    net.Addr
	expires time.Time
}

// Subscriptions tracks /xremote peers and periodic subscriptions.
// It has its own lock so the service loop can poll it between datagrams.
type Subscriptions struct {
	mu      sync.Mutex
	remotes map[string]remoteClient
	subs    map[string]*subscription
}

func NewSubscriptions() *Subscriptions {
	return &Subscriptions{
		remotes: make(map[string]remoteClient),
		subs:    make(map[string]*subscription),
	}
}

// Remote registers or refreshes peer as a remote client.
func (s *Subscriptions) Remote(peer net.Addr, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remotes[peer.String()] = remoteClient{peer: peer, expires: now.Add(RemoteLifetime)}
}

// RemoteCount prunes expired remotes and returns how many remain.
func (s *Subscriptions) RemoteCount(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked(now)
	return len(s.remotes)
}

// Len prunes expired subscriptions and returns how many remain.
func (s *Subscriptions) Len(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked(now)
	return len(s.subs)
}

// Subscribe schedules periodic updates of address to peer.
func (s *Subscriptions) Subscribe(peer net.Addr, address string, factor int, now time.Time) {
	s.add(&subscription{peer: peer, path: address, kind: subParam}, factor, now)
}

// Meter schedules /meters/<n> frames to peer.
func (s *Subscriptions) Meter(peer net.Addr, path string, factor int, now time.Time) error {
	group, err := ParseMeterPath(path)
	if err != nil {
		return err
	}
	s.add(&subscription{peer: peer, path: path, kind: subMeter, group: group}, factor, now)
	return nil
}

func (s *Subscriptions) add(sub *subscription, factor int, now time.Time) {
	sub.interval = time.Duration(clampFactor(factor)) * FactorUnit
	sub.next = now
	sub.expires = now.Add(SubscriptionLifetime)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[subKey(sub.peer, sub.path)] = sub
}

// Renew extends the peer's subscription to path, or everything the peer
// holds when path is empty. It reports whether anything was extended.
func (s *Subscriptions) Renew(peer net.Addr, path string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked(now)
	renewed := false
	key := peer.String()
	for k, sub := range s.subs {
		if sub.peer.String() != key || (path != "" && sub.path != path) {
			continue
		}
		s.subs[k].expires = now.Add(SubscriptionLifetime)
		renewed = true
	}
	if r, ok := s.remotes[key]; ok && path == "" {
		r.expires = now.Add(RemoteLifetime)
		s.remotes[key] = r
		renewed = true
	}
	return renewed
}

// Unsubscribe drops the peer's subscription to path, or all of them when
// path is empty, and returns how many were removed.
func (s *Subscriptions) Unsubscribe(peer net.Addr, path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	key := peer.String()
	for k, sub := range s.subs {
		if sub.peer.String() == key && (path == "" || sub.path == path) {
			delete(s.subs, k)
			removed++
		}
	}
	return removed
}

// DueMeters returns the meter frames whose interval has elapsed.
func (s *Subscriptions) DueMeters(now time.Time) []Frame {
	var frames []Frame
	for _, sub := range s.due(now, subMeter) {
		frames = append(frames, Frame{
			Peer:    sub.peer,
			Message: protocol.NewMessage(sub.path, protocol.Blob(meterBlob(sub.group))),
		})
	}
	return frames
}

// dueParams returns parameter subscriptions whose interval has elapsed.
func (s *Subscriptions) dueParams(now time.Time) []subscription {
	return s.due(now, subParam)
}

func (s *Subscriptions) due(now time.Time, kind subKind) []subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked(now)
	keys := make([]string, 0, len(s.subs))
	for k, sub := range s.subs {
		if sub.kind == kind && !now.Before(sub.next) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	out := make([]subscription, 0, len(keys))
	for _, k := range keys {
		sub := s.subs[k]
		sub.next = now.Add(sub.interval)
		out = append(out, *sub)
	}
	return out
}

func (s *Subscriptions) pruneLocked(now time.Time) {
	for k, r := range s.remotes {
		if !now.Before(r.expires) {
			delete(s.remotes, k)
		}
	}
	for k, sub := range s.subs {
		if !now.Before(sub.expires) {
			delete(s.subs, k)
		}
	}
}

// ParseMeterPath extracts n from "/meters/<n>".
func ParseMeterPath(path string) (int, error) {
	raw, ok := strings.CutPrefix(path, "/meters/")
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownMeter, path)
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 || n >= len(meterGroupSizes) {
		return 0, fmt.Errorf("%w: %q", ErrUnknownMeter, path)
	}
	return n, nil
}

// meterBlob is a little-endian count followed by that many zeroed float32 levels.
func meterBlob(group int) []byte {
	n := meterGroupSizes[group]
	buf := make([]byte, 4+4*n)
	binary.LittleEndian.PutUint32(buf, uint32(n))
	return buf
}

func clampFactor(f int) int {
	if f < minFactor {
		return minFactor
	}
	if f > maxFactor {
		return maxFactor
	}
	return f
}

func subKey(peer net.Addr, path string) string {
	return peer.String() + "|" + path
}
