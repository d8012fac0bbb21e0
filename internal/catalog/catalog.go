// Package catalog builds generic parameter definitions from address templates.
package catalog

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/danmuck/x32emu/internal/dispatch"
	"github.com/danmuck/x32emu/internal/protocol"
	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalog []byte

var (
	ErrBadTemplate = errors.New("catalog: bad template")
	ErrBadEntry    = errors.New("catalog: bad entry")
)

// File is the YAML document shape.
type File struct {
	Families []Family `yaml:"families"`
}

type Family struct {
	Name   string  `yaml:"name"`
	Params []Param `yaml:"params"`
}

type Param struct {
	Template string `yaml:"template"`
	Kind     string `yaml:"kind"`
	Access   string `yaml:"access"`
}

// Default expands the embedded console catalog.
func Default() ([]dispatch.Definition, error) {
	return Load(bytes.NewReader(defaultCatalog))
}

// Load decodes a catalog document and expands every template.
func Load(r io.Reader) ([]dispatch.Definition, error) {
	var f File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("catalog: decode: %w", err)
	}
	return f.Definitions()
}

// Definitions expands the file in family order.
func (f File) Definitions() ([]dispatch.Definition, error) {
	var defs []dispatch.Definition
	for _, fam := range f.Families {
		for _, p := range fam.Params {
			kind, err := protocol.ParseKind(p.Kind)
			if err != nil {
				return nil, fmt.Errorf("%w: %s %s: %v", ErrBadEntry, fam.Name, p.Template, err)
			}
			access, err := dispatch.ParseAccess(p.Access)
			if err != nil {
				return nil, fmt.Errorf("%w: %s %s: %v", ErrBadEntry, fam.Name, p.Template, err)
			}
			addrs, err := Expand(p.Template)
			if err != nil {
				return nil, err
			}
			for _, addr := range addrs {
				defs = append(defs, dispatch.Generic{Address: addr, Kind: kind, Access: access})
			}
		}
	}
	return defs, nil
}

// Expand turns a template into concrete addresses. "[lo-hi]" is a numeric
// range zero padded to the width of lo; "{a|b}" lists alternatives.
// Placeholders expand left to right as a cartesian product.
func Expand(template string) ([]string, error) {
	out := []string{""}
	rest := template
	for rest != "" {
		i := strings.IndexAny(rest, "[{")
		if i < 0 {
			out = appendAll(out, []string{rest})
			break
		}
		if j := strings.IndexAny(rest[:i], "]}"); j >= 0 {
			return nil, fmt.Errorf("%w: stray %q in %q", ErrBadTemplate, rest[j], template)
		}
		out = appendAll(out, []string{rest[:i]})

		closer := byte(']')
		if rest[i] == '{' {
			closer = '}'
		}
		end := strings.IndexByte(rest[i:], closer)
		if end < 0 {
			return nil, fmt.Errorf("%w: unclosed %q in %q", ErrBadTemplate, rest[i], template)
		}
		body := rest[i+1 : i+end]
		var choices []string
		var err error
		if closer == ']' {
			choices, err = expandRange(body)
		} else {
			choices, err = expandAlternatives(body)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrBadTemplate, template, err)
		}
		out = appendAll(out, choices)
		rest = rest[i+end+1:]
	}
	if strings.ContainsAny(out[0], "[]{}") {
		return nil, fmt.Errorf("%w: unbalanced placeholder in %q", ErrBadTemplate, template)
	}
	return out, nil
}

func expandRange(body string) ([]string, error) {
	loRaw, hiRaw, ok := strings.Cut(body, "-")
	if !ok {
		return nil, fmt.Errorf("range %q needs lo-hi", body)
	}
	lo, err := strconv.Atoi(loRaw)
	if err != nil {
		return nil, fmt.Errorf("range %q: %v", body, err)
	}
	hi, err := strconv.Atoi(hiRaw)
	if err != nil {
		return nil, fmt.Errorf("range %q: %v", body, err)
	}
	if lo < 0 || hi < lo {
		return nil, fmt.Errorf("range %q is empty", body)
	}
	width := len(loRaw)
	out := make([]string, 0, hi-lo+1)
	for n := lo; n <= hi; n++ {
		out = append(out, fmt.Sprintf("%0*d", width, n))
	}
	return out, nil
}

func expandAlternatives(body string) ([]string, error) {
	parts := strings.Split(body, "|")
	for _, p := range parts {
		if p == "" {
			return nil, fmt.Errorf("empty alternative in {%s}", body)
		}
	}
	return parts, nil
}

func appendAll(prefixes, suffixes []string) []string {
	out := make([]string, 0, len(prefixes)*len(suffixes))
	for _, p := range prefixes {
		for _, s := range suffixes {
			out = append(out, p+s)
		}
	}
	return out
}
