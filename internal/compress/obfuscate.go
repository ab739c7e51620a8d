package compress

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/rand"
)

// Obfuscate wraps an inner codec and pads its output so that stored
// chunk sizes no longer reveal (an approximation of) the original
// plaintext length to an attacker who can only observe ciphertext
// sizes. The spec value selects one of two padding strategies; these
// ranges and sizes are wire format, not tunables, and must stay exact:
//
//	1..6:     reciprocal relative size variation. Each SPEC value picks
//	          a [low, high] multiplier range; the output is padded to
//	          compressed_size * factor, factor drawn log-uniformly from
//	          the range (so small expansions are common, large ones rare).
//	110..123: fixed padding target of 2^(SPEC-100) bytes (110 = 1 KiB,
//	          120 = 1 MiB, 123 = 8 MiB); the padded length is drawn
//	          uniformly between the compressed size and that target.
const (
	ObfuscateSpecMin         = 1
	ObfuscateSpecMax         = 6
	ObfuscateSpecFixedMin    = 110
	ObfuscateSpecFixedMax    = 123
	obfuscateHeaderLen       = 1 + 1 + 1 + 4 // spec | inner codec | inner level | padLen
)

var reciprocalRanges = map[int][2]float64{
	1: {0.01, 100.0},
	2: {0.1, 1000.0},
	3: {1.0, 10000.0},
	4: {10.0, 100000.0},
	5: {100.0, 1000000.0},
	6: {1000.0, 10000000.0},
}

// ValidObfuscateSpec reports whether spec is one of the documented
// reciprocal (1-6) or fixed (110-123) values.
func ValidObfuscateSpec(spec int) bool {
	if spec >= ObfuscateSpecMin && spec <= ObfuscateSpecMax {
		return true
	}
	return spec >= ObfuscateSpecFixedMin && spec <= ObfuscateSpecFixedMax
}

// ObfuscateCompress compresses data with inner/level, then pads the
// result per spec's size distribution.
func ObfuscateCompress(spec int, inner Codec, level Level, data []byte) ([]byte, error) {
	if !ValidObfuscateSpec(spec) {
		return nil, fmt.Errorf("compress: invalid obfuscate spec %d", spec)
	}
	body, err := Compress(inner, level, data)
	if err != nil {
		return nil, err
	}

	target := obfuscatedTarget(spec, len(body))
	padLen := 0
	if target > len(body) {
		padLen = target - len(body)
		if spec >= ObfuscateSpecFixedMin {
			// "a randomly sized padding up to the given size"
			padLen = rand.Intn(padLen + 1)
		}
	}

	out := make([]byte, obfuscateHeaderLen+len(body)+padLen)
	out[0] = byte(spec)
	out[1] = byte(inner)
	out[2] = byte(level)
	binary.BigEndian.PutUint32(out[3:7], uint32(padLen))
	n := copy(out[obfuscateHeaderLen:], body)
	rand.Read(out[obfuscateHeaderLen+n:])
	return out, nil
}

// ObfuscateDecompress strips padding and decompresses the inner codec.
func ObfuscateDecompress(payload []byte) ([]byte, error) {
	if len(payload) < obfuscateHeaderLen {
		return nil, fmt.Errorf("compress: obfuscate payload too small")
	}
	inner := Codec(payload[1])
	level := Level(payload[2])
	padLen := binary.BigEndian.Uint32(payload[3:7])
	body := payload[obfuscateHeaderLen:]
	if uint32(len(body)) < padLen {
		return nil, fmt.Errorf("compress: obfuscate pad length exceeds payload")
	}
	body = body[:len(body)-int(padLen)]
	return Decompress(inner, level, body)
}

func obfuscatedTarget(spec, compressedLen int) int {
	if spec <= ObfuscateSpecMax {
		r := reciprocalRanges[spec]
		factor := logUniform(r[0], r[1])
		return int(float64(compressedLen) * factor)
	}
	return 1 << uint(spec-100)
}

// logUniform draws a value log-uniformly from [low, high], so that
// small factors (common) are sampled as often as large ones (rare) on
// a multiplicative scale rather than a linear one.
func logUniform(low, high float64) float64 {
	if low <= 0 {
		low = 0.0001
	}
	logLow := math.Log(low)
	logHigh := math.Log(high)
	return math.Exp(logLow + rand.Float64()*(logHigh-logLow))
}
