package store

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/danmuck/x32emu/internal/protocol"
)

var (
	ErrMalformedSeed = errors.New("store: malformed seed line")
	ErrKindConflict  = errors.New("store: seed kind conflicts with stored value")
)

// SeedError points at the offending line of a seed stream.
type SeedError struct {
	Line int
	Text string
	Err  error
}

func (e *SeedError) Error() string {
	return fmt.Sprintf("seed line %d: %v: %q", e.Line, e.Err, e.Text)
}

func (e *SeedError) Unwrap() error {
	return e.Err
}

// LoadSeedFile opens path and feeds it to LoadSeed.
func LoadSeedFile(st *Store, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("store: open seed: %w", err)
	}
	defer f.Close()
	return LoadSeed(st, f)
}

// LoadSeed applies "<address>,<tag><TAB><value>" lines to st and returns how
// many were applied. Blank lines and lines starting with '#' are skipped.
// Lines before a failing line stay applied.
func LoadSeed(st *Store, r io.Reader) (int, error) {
	sc := bufio.NewScanner(r)
	applied := 0
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		address, value, err := parseSeedLine(line)
		if err != nil {
			return applied, &SeedError{Line: lineNo, Text: line, Err: err}
		}
		if prev, ok := st.Get(address); ok && prev.Kind() != value.Kind() {
			err := fmt.Errorf("%w: %s is %s", ErrKindConflict, address, prev.Kind())
			return applied, &SeedError{Line: lineNo, Text: line, Err: err}
		}
		st.Set(address, value)
		applied++
	}
	if err := sc.Err(); err != nil {
		return applied, fmt.Errorf("store: read seed: %w", err)
	}
	return applied, nil
}

func parseSeedLine(line string) (string, protocol.Argument, error) {
	address, rest, ok := strings.Cut(line, ",")
	if !ok {
		return "", protocol.Argument{}, fmt.Errorf("%w: missing type tag", ErrMalformedSeed)
	}
	address = strings.TrimSpace(address)
	if err := protocol.ValidateAddress(address); err != nil {
		return "", protocol.Argument{}, err
	}
	rest = strings.TrimLeft(rest, " \t")
	cut := strings.IndexAny(rest, " \t")
	if cut < 0 {
		return "", protocol.Argument{}, fmt.Errorf("%w: missing value", ErrMalformedSeed)
	}
	tag, raw := rest[:cut], strings.TrimLeft(rest[cut:], " \t")

	switch tag {
	case "i":
		v, err := strconv.ParseInt(raw, 10, 32)
		if err != nil {
			return "", protocol.Argument{}, fmt.Errorf("%w: %v", ErrMalformedSeed, err)
		}
		return address, protocol.Int(int32(v)), nil
	case "f":
		v, err := strconv.ParseFloat(raw, 32)
		if err != nil {
			return "", protocol.Argument{}, fmt.Errorf("%w: %v", ErrMalformedSeed, err)
		}
		return address, protocol.Float(float32(v)), nil
	case "s":
		arg := protocol.String(raw)
		if err := protocol.NewMessage(address, arg).Validate(); err != nil {
			return "", protocol.Argument{}, err
		}
		return address, arg, nil
	default:
		return "", protocol.Argument{}, fmt.Errorf("%w: unsupported tag %q", ErrMalformedSeed, tag)
	}
}
