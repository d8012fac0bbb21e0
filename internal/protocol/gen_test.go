package protocol

import (
	"math"
	"math/rand"
	"strings"
)

const addressChars = "abcdefghijklmnopqrstuvwxyz0123456789-_"

// textRunes mixes characters the text form has to quote or escape.
var textRunes = []rune("aZ9 \t\n\"\\',/#é€")

func randomAddress(rng *rand.Rand) string {
	var sb strings.Builder
	for i := rng.Intn(4) + 1; i > 0; i-- {
		sb.WriteByte('/')
		for j := rng.Intn(8) + 1; j > 0; j-- {
			sb.WriteByte(addressChars[rng.Intn(len(addressChars))])
		}
	}
	return sb.String()
}

// randomFloat never returns NaN: the text form cannot carry NaN payload bits.
func randomFloat(rng *rand.Rand) float32 {
	switch rng.Intn(8) {
	case 0:
		return 0
	case 1:
		return float32(math.Copysign(0, -1))
	case 2:
		return float32(math.Inf(1))
	case 3:
		return float32(math.Inf(-1))
	case 4:
		return math.SmallestNonzeroFloat32
	}
	for {
		f := math.Float32frombits(rng.Uint32())
		if f == f {
			return f
		}
	}
}

func randomText(rng *rand.Rand) string {
	out := make([]rune, rng.Intn(13))
	for i := range out {
		out[i] = textRunes[rng.Intn(len(textRunes))]
	}
	return string(out)
}

func randomArgument(rng *rand.Rand) Argument {
	switch rng.Intn(4) {
	case 0:
		return Int(int32(rng.Uint32()))
	case 1:
		return Float(randomFloat(rng))
	case 2:
		return String(randomText(rng))
	default:
		b := make([]byte, rng.Intn(9))
		rng.Read(b)
		return Blob(b)
	}
}

func randomMessage(rng *rand.Rand) Message {
	msg := NewMessage(randomAddress(rng))
	for i := rng.Intn(6); i > 0; i-- {
		msg.Args = append(msg.Args, randomArgument(rng))
	}
	return msg
}
