// Package token generates API credentials and opaque identifiers from the
// system entropy source without modulo bias, and compares secrets in
// constant time.
package token

import (
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"math"
	"math/big"
)

// Base62 is the default alphabet for secrets and identifiers.
const Base62 = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

const apiSecretLength = 32

var (
	ErrInvalidAlphabet = errors.New("token: alphabet must contain at least 2 characters")
	ErrInvalidLength   = errors.New("token: length must be at least 1")
)

// GenerateSecret draws byteCount random bytes, interprets them as one big
// unsigned integer and re-encodes it in the given alphabet. The output is
// exactly byteCount characters long, which is less than byteCount bytes of
// entropy for alphabets smaller than 256; callers size byteCount for the
// headroom they need.
func GenerateSecret(byteCount int, alphabet string) (string, error) {
	if len(alphabet) < 2 {
		return "", ErrInvalidAlphabet
	}
	if byteCount < 1 {
		return "", ErrInvalidLength
	}

	value := new(big.Int).SetBytes(randomBytes(byteCount))
	return encode(value, byteCount, alphabet), nil
}

// GenerateAPISecret mints a platform bearer secret: 32 base62 characters.
func GenerateAPISecret() string {
	secret, err := GenerateSecret(apiSecretLength, Base62)
	if err != nil {
		panic(err)
	}
	return secret
}

// GenerateID returns length characters drawn uniformly from alphabet.
//
// It computes the minimum byte width covering length characters at the
// alphabet's bits-per-character, then rejection-samples: any draw at or above
// the largest multiple of len(alphabet)^length representable in that width is
// discarded and redrawn, so no residue class is favored. A single draw is
// rejected with probability below one half, so the loop terminates after two
// draws in expectation.
func GenerateID(length int, alphabet string) (string, error) {
	if len(alphabet) < 2 {
		return "", ErrInvalidAlphabet
	}
	if length < 1 {
		return "", ErrInvalidLength
	}

	bitsPerChar := math.Log2(float64(len(alphabet)))
	byteCount := int(math.Ceil(float64(length) * bitsPerChar / 8))

	// Largest multiple of len(alphabet)^length that fits in byteCount bytes.
	maxValid := new(big.Int).Exp(big.NewInt(int64(len(alphabet))), big.NewInt(int64(length)), nil)
	maxRandom := new(big.Int).Lsh(big.NewInt(1), uint(byteCount*8))
	limit := new(big.Int).Sub(maxRandom, new(big.Int).Mod(maxRandom, maxValid))

	value := new(big.Int).SetBytes(randomBytes(byteCount))
	for value.Cmp(limit) >= 0 {
		value.SetBytes(randomBytes(byteCount))
	}

	return encode(value, length, alphabet), nil
}

// TimingSafeEqual reports whether a equals b without leaking the position of
// the first differing byte. The length check returns early: lengths are not
// secret. Use only for comparing credentials.
func TimingSafeEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// randomBytes reads from crypto/rand. A starved entropy source is not a
// recoverable condition, so failures abort the process.
func randomBytes(n int) []byte {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		panic("token: entropy source failed: " + err.Error())
	}
	return buf
}

func encode(value *big.Int, length int, alphabet string) string {
	base := big.NewInt(int64(len(alphabet)))
	mod := new(big.Int)

	out := make([]byte, 0, length)
	for len(out) < length {
		value.DivMod(value, base, mod)
		out = append(out, alphabet[mod.Int64()])
	}
	return string(out)
}
