package dispatch

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/danmuck/x32emu/internal/protocol"
	"github.com/danmuck/x32emu/internal/store"
)

// HandlerID names one entry of the special-handler table.
type HandlerID uint8

const (
	HandlerInfo HandlerID = iota + 1
	HandlerXInfo
	HandlerStatus
	HandlerNode
	HandlerBatch
	HandlerXRemote
	HandlerSubscribe
	HandlerRenew
	HandlerUnsubscribe
	HandlerBatchSubscribe
	HandlerFormatSubscribe
	HandlerMeters
	HandlerAcknowledge
)

var handlerNames = map[HandlerID]string{
	HandlerInfo:            "info",
	HandlerXInfo:           "xinfo",
	HandlerStatus:          "status",
	HandlerNode:            "node",
	HandlerBatch:           "batch",
	HandlerXRemote:         "xremote",
	HandlerSubscribe:       "subscribe",
	HandlerRenew:           "renew",
	HandlerUnsubscribe:     "unsubscribe",
	HandlerBatchSubscribe:  "batchsubscribe",
	HandlerFormatSubscribe: "formatsubscribe",
	HandlerMeters:          "meters",
	HandlerAcknowledge:     "acknowledge",
}

func (h HandlerID) String() string {
	if name, ok := handlerNames[h]; ok {
		return name
	}
	return fmt.Sprintf("handler(%d)", uint8(h))
}

// Handshake identity returned by /info.
const (
	InfoVersion  = "V2.07"
	InfoName     = "X32 Emulator"
	InfoModel    = "X32"
	InfoFirmware = "4.06"
)

const nodeMissing = "unimplemented"

type handlerEnv struct {
	d    *Dispatcher
	st   *store.Store
	peer net.Addr
	now  time.Time
}

type handlerFunc func(env handlerEnv, msg protocol.Message) ([]protocol.Message, error)

var handlers = map[HandlerID]handlerFunc{
	HandlerInfo:            handleInfo,
	HandlerXInfo:           handleXInfo,
	HandlerStatus:          handleStatus,
	HandlerNode:            handleNode,
	HandlerBatch:           handleBatch,
	HandlerXRemote:         handleXRemote,
	HandlerSubscribe:       handleSubscribe,
	HandlerRenew:           handleRenew,
	HandlerUnsubscribe:     handleUnsubscribe,
	HandlerBatchSubscribe:  handleAcknowledge,
	HandlerFormatSubscribe: handleAcknowledge,
	HandlerMeters:          handleMeters,
	HandlerAcknowledge:     handleAcknowledge,
}

func handleInfo(_ handlerEnv, _ protocol.Message) ([]protocol.Message, error) {
	return []protocol.Message{protocol.NewMessage("/info",
		protocol.String(InfoVersion),
		protocol.String(InfoName),
		protocol.String(InfoModel),
		protocol.String(InfoFirmware),
	)}, nil
}

func handleXInfo(env handlerEnv, _ protocol.Message) ([]protocol.Message, error) {
	id := env.d.identity
	return []protocol.Message{protocol.NewMessage("/xinfo",
		protocol.String(id.IP),
		protocol.String(id.Name),
		protocol.String(id.Model),
		protocol.String(id.Firmware),
	)}, nil
}

func handleStatus(env handlerEnv, _ protocol.Message) ([]protocol.Message, error) {
	id := env.d.identity
	return []protocol.Message{protocol.NewMessage("/status",
		protocol.String("active"),
		protocol.String(id.IP),
		protocol.String(id.Name),
	)}, nil
}

// handleNode answers with the value at an address, or every value below it.
// Enumerated values stop before the reply would outgrow one datagram.
func handleNode(env handlerEnv, msg protocol.Message) ([]protocol.Message, error) {
	raw, err := singleString(msg)
	if err != nil {
		return nil, err
	}
	addr := strings.TrimSpace(raw)
	if !strings.HasPrefix(addr, "/") {
		addr = "/" + addr
	}
	if addr == "/" {
		return nil, fmt.Errorf("%w: node needs an address below the root", ErrBadArgument)
	}
	reply := protocol.NewMessage("/node", protocol.String(addr))
	if v, ok := env.st.Get(addr); ok {
		reply.Args = append(reply.Args, v)
		return []protocol.Message{reply}, nil
	}
	entries := env.st.Enumerate(addr)
	if len(entries) == 0 {
		reply.Args = append(reply.Args, protocol.String(nodeMissing))
		return []protocol.Message{reply}, nil
	}
	size := reply.EncodedLen()
	for i, e := range entries {
		// One more tag byte can grow the padded tag string by a word.
		grow := e.Value.EncodedLen() + 4
		if size+grow > protocol.MaxDatagram {
			env.d.logger.Warn().
				Str("address", addr).
				Int("values", i).
				Int("dropped", len(entries)-i).
				Msg("node reply truncated")
			break
		}
		size += grow
		reply.Args = append(reply.Args, e.Value)
	}
	return []protocol.Message{reply}, nil
}

// handleBatch runs newline separated textual commands against parameters.
// Sets are staged and reach the store only when every line succeeds.
func handleBatch(env handlerEnv, msg protocol.Message) ([]protocol.Message, error) {
	text, err := singleString(msg)
	if err != nil {
		return nil, err
	}
	stage := newStaged(env.st)
	var replies []protocol.Message
	for i, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		sub, err := protocol.Parse(line)
		if err != nil {
			return nil, fmt.Errorf("batch line %d: %w", i+1, err)
		}
		def, ok := env.d.reg.Lookup(sub.Address)
		if !ok {
			continue
		}
		g, ok := def.(Generic)
		if !ok {
			return nil, fmt.Errorf("batch line %d: %w: %s", i+1, ErrNotGeneric, sub.Address)
		}
		out, err := applyGeneric(stage, g, sub)
		if err != nil {
			return nil, fmt.Errorf("batch line %d: %w", i+1, err)
		}
		replies = append(replies, out...)
	}
	stage.commit()
	return replies, nil
}

func handleXRemote(env handlerEnv, _ protocol.Message) ([]protocol.Message, error) {
	if err := requirePeer(env); err != nil {
		return nil, err
	}
	env.d.subs.Remote(env.peer, env.now)
	return nil, nil
}

// handleSubscribe takes ,s or ,si: address and optional time factor.
func handleSubscribe(env handlerEnv, msg protocol.Message) ([]protocol.Message, error) {
	if err := requirePeer(env); err != nil {
		return nil, err
	}
	addr, err := firstString(msg)
	if err != nil {
		return nil, err
	}
	if err := protocol.ValidateAddress(addr); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadArgument, err)
	}
	env.d.subs.Subscribe(env.peer, addr, trailingFactor(msg), env.now)
	return nil, nil
}

func handleRenew(env handlerEnv, msg protocol.Message) ([]protocol.Message, error) {
	if err := requirePeer(env); err != nil {
		return nil, err
	}
	path, err := optionalString(msg)
	if err != nil {
		return nil, err
	}
	env.d.subs.Renew(env.peer, path, env.now)
	return nil, nil
}

func handleUnsubscribe(env handlerEnv, msg protocol.Message) ([]protocol.Message, error) {
	if err := requirePeer(env); err != nil {
		return nil, err
	}
	path, err := optionalString(msg)
	if err != nil {
		return nil, err
	}
	env.d.subs.Unsubscribe(env.peer, path)
	return nil, nil
}

// handleMeters takes "/meters/<n>" and an optional trailing time factor.
func handleMeters(env handlerEnv, msg protocol.Message) ([]protocol.Message, error) {
	if err := requirePeer(env); err != nil {
		return nil, err
	}
	path, err := firstString(msg)
	if err != nil {
		return nil, err
	}
	if err := env.d.subs.Meter(env.peer, path, trailingFactor(msg), env.now); err != nil {
		return nil, err
	}
	return nil, nil
}

func handleAcknowledge(_ handlerEnv, _ protocol.Message) ([]protocol.Message, error) {
	return nil, nil
}

func requirePeer(env handlerEnv) error {
	if env.peer == nil {
		return fmt.Errorf("%w: no peer address", ErrBadArgument)
	}
	return nil
}

func singleString(msg protocol.Message) (string, error) {
	if len(msg.Args) != 1 {
		return "", fmt.Errorf("%w: want one string, have %d arguments", ErrBadArgument, len(msg.Args))
	}
	return firstString(msg)
}

func firstString(msg protocol.Message) (string, error) {
	if len(msg.Args) == 0 {
		return "", fmt.Errorf("%w: missing string argument", ErrBadArgument)
	}
	s, err := msg.Args[0].Str()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadArgument, err)
	}
	return s, nil
}

func optionalString(msg protocol.Message) (string, error) {
	if len(msg.Args) == 0 {
		return "", nil
	}
	return firstString(msg)
}

// trailingFactor reads the last argument as a time factor when it is an int.
func trailingFactor(msg protocol.Message) int {
	if len(msg.Args) < 2 {
		return minFactor
	}
	v, err := msg.Args[len(msg.Args)-1].Int()
	if err != nil {
		return minFactor
	}
	return int(v)
}
