package protocol

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Parse reads the textual form: <address> [,<tags> <arg>...].
func Parse(input string) (Message, error) {
	tokens, err := tokenize(input)
	if err != nil {
		return Message{}, parseErr(input, err)
	}
	if len(tokens) == 0 || tokens[0] == "" {
		return Message{}, parseErr(input, ErrEmptyAddress)
	}
	addr := tokens[0]
	if err := ValidateAddress(addr); err != nil {
		return Message{}, parseErr(input, err)
	}
	msg := Message{Address: addr}
	if len(tokens) == 1 {
		return msg, nil
	}
	tagTok := tokens[1]
	if !strings.HasPrefix(tagTok, ",") {
		return Message{}, parseErr(input, fmt.Errorf("%w: %q", ErrMissingTypeTags, tagTok))
	}
	tags := tagTok[1:]
	values := tokens[2:]
	if len(values) < len(tags) {
		return Message{}, parseErr(input, fmt.Errorf("%w: have %d want %d", ErrMissingValue, len(values), len(tags)))
	}
	if len(values) > len(tags) {
		return Message{}, parseErr(input, fmt.Errorf("%w: have %d want %d", ErrExtraValue, len(values), len(tags)))
	}
	if len(tags) > 0 {
		msg.Args = make([]Argument, 0, len(tags))
	}
	for i := 0; i < len(tags); i++ {
		arg, err := parseArg(Kind(tags[i]), values[i])
		if err != nil {
			return Message{}, parseErr(input, err)
		}
		msg.Args = append(msg.Args, arg)
	}
	if err := msg.Validate(); err != nil {
		return Message{}, parseErr(input, err)
	}
	return msg, nil
}

func parseArg(kind Kind, tok string) (Argument, error) {
	switch kind {
	case KindInt:
		v, err := strconv.ParseInt(tok, 10, 32)
		if err != nil {
			return Argument{}, fmt.Errorf("%w: %q", ErrInvalidNumber, tok)
		}
		return Int(int32(v)), nil
	case KindFloat:
		v, err := strconv.ParseFloat(tok, 32)
		if err != nil {
			return Argument{}, fmt.Errorf("%w: %q", ErrInvalidNumber, tok)
		}
		return Float(float32(v)), nil
	case KindString:
		return String(tok), nil
	case KindBlob:
		raw, err := hex.DecodeString(tok)
		if err != nil {
			return Argument{}, fmt.Errorf("%w: %q", ErrInvalidBlob, tok)
		}
		return Argument{kind: KindBlob, b: raw}, nil
	default:
		return Argument{}, fmt.Errorf("%w: %q", ErrUnknownTypeTag, byte(kind))
	}
}

// tokenize splits on whitespace. Quoted runs keep interior whitespace, a
// backslash escapes the next rune, and an opening or closing quote always
// ends the token in progress.
func tokenize(input string) ([]string, error) {
	var (
		tokens  []string
		cur     strings.Builder
		inToken bool
		quote   rune
		escaped bool
	)
	flush := func() {
		tokens = append(tokens, cur.String())
		cur.Reset()
		inToken = false
	}
	for _, r := range input {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case r == '\\':
			escaped = true
			inToken = true
		case quote != 0:
			if r == quote {
				quote = 0
				flush()
				continue
			}
			cur.WriteRune(r)
		case r == '"' || r == '\'':
			if inToken {
				flush()
			}
			quote = r
			inToken = true
		case unicode.IsSpace(r):
			if inToken {
				flush()
			}
		default:
			cur.WriteRune(r)
			inToken = true
		}
	}
	if quote != 0 {
		return nil, ErrUnmatchedQuote
	}
	if escaped {
		cur.WriteRune('\\')
	}
	if inToken {
		flush()
	}
	return tokens, nil
}

// Render writes the textual form. Parse(Render(m)) equals m.
func Render(msg Message) string {
	var sb strings.Builder
	if needsQuote(msg.Address) {
		writeQuoted(&sb, msg.Address)
	} else {
		sb.WriteString(msg.Address)
	}
	if len(msg.Args) == 0 {
		return sb.String()
	}
	sb.WriteByte(' ')
	sb.WriteString(msg.TypeTags())
	for _, a := range msg.Args {
		sb.WriteByte(' ')
		writeArgText(&sb, a)
	}
	return sb.String()
}

func writeArgText(sb *strings.Builder, a Argument) {
	switch a.kind {
	case KindInt:
		sb.WriteString(strconv.FormatInt(int64(a.i), 10))
	case KindFloat:
		sb.WriteString(strconv.FormatFloat(float64(a.f), 'g', -1, 32))
	case KindString:
		writeQuoted(sb, a.s)
	case KindBlob:
		if len(a.b) == 0 {
			sb.WriteString(`""`)
			return
		}
		sb.WriteString(hex.EncodeToString(a.b))
	}
}

func writeQuoted(sb *strings.Builder, s string) {
	sb.WriteByte('"')
	for _, r := range s {
		if r == '"' || r == '\\' {
			sb.WriteByte('\\')
		}
		sb.WriteRune(r)
	}
	sb.WriteByte('"')
}

func needsQuote(s string) bool {
	return strings.ContainsFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || r == '"' || r == '\'' || r == '\\'
	})
}

func parseErr(input string, err error) error {
	return &ParseError{Input: input, Err: err}
}
