// Package idcodec generates and parses Perfect Storm's entity identifiers:
// a short kind prefix followed by a fixed-width base62 encoding of a random
// 128-bit value, e.g. "agt-3f9k2mQ0pXy7Z1aB2cD3Ee".
package idcodec

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"regexp"

	"github.com/google/uuid"
)

// idLength is the number of base62 characters a 128-bit value encodes to.
// 62^22 > 2^128, so 22 characters with left-zero-padding always suffice.
const idLength = 22

const alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

var base = big.NewInt(int64(len(alphabet)))

// idPattern matches a well-formed prefixed identifier of any kind.
var idPattern = regexp.MustCompile(`^[a-z]+-[0-9A-Za-z]{22}$`)

// Kind prefixes for each entity type.
const (
	KindAgent = "agt"
	KindResource = "res"
	KindGroup = "grp"
	KindApplication = "app"
	KindProcedure = "prc"
	KindJob = "job"
	KindSubscription = "sub"
)

// New generates a fresh prefixed identifier for the given kind, using
// google/uuid to source the underlying 128-bit random value. uuid's own
// hyphenated hex string form does not match the spec's fixed 22-character
// base62 wire format, so the raw 16 bytes are re-encoded here.
func New(kind string) string {
	u := uuid.New()
	return kind + "-" + encode(u)
}

// encode renders a 16-byte value as a zero-padded, fixed-length base62 string.
func encode(raw [16]byte) string {
	n := new(big.Int).SetBytes(raw[:])
	if len(raw) != 16 {
		panic("idcodec: encode requires a 16-byte value")
	}
	return encodeBigInt(n)
}

func encodeBigInt(n *big.Int) string {
	if n.Sign() == 0 {
		return padLeft("0", idLength)
	}
	n = new(big.Int).Set(n)
	buf := make([]byte, 0, idLength)
	mod := new(big.Int)
	for n.Sign() > 0 {
		n.DivMod(n, base, mod)
		buf = append(buf, alphabet[mod.Int64()])
	}
	// buf is least-significant-digit first; reverse it.
	for i, j := 0, len(buf)-1; i < j; i, j = i+1, j-1 {
		buf[i], buf[j] = buf[j], buf[i]
	}
	return padLeft(string(buf), idLength)
}

func padLeft(s string, length int) string {
	if len(s) >= length {
		return s
	}
	pad := make([]byte, length-len(s))
	for i := range pad {
		pad[i] = alphabet[0]
	}
	return string(pad) + s
}

// Decode reverses a prefixed identifier back into its 16-byte value and
// kind prefix. Returns an error if id is not well-formed.
func Decode(id string) (kind string, raw [16]byte, err error) {
	if !idPattern.MatchString(id) {
		return "", raw, fmt.Errorf("idcodec: malformed id %q", id)
	}
	dash := len(id) - idLength - 1
	kind = id[:dash]
	encoded := id[dash+1:]

	n := big.NewInt(0)
	for _, c := range []byte(encoded) {
		idx := indexOf(c)
		if idx < 0 {
			return "", raw, fmt.Errorf("idcodec: invalid character %q in id %q", c, id)
		}
		n.Mul(n, base)
		n.Add(n, big.NewInt(int64(idx)))
	}

	b := n.Bytes()
	if len(b) > 16 {
		return "", raw, fmt.Errorf("idcodec: id %q overflows 128 bits", id)
	}
	copy(raw[16-len(b):], b)
	return kind, raw, nil
}

func indexOf(c byte) int {
	for i := 0; i < len(alphabet); i++ {
		if alphabet[i] == c {
			return i
		}
	}
	return -1
}

// Valid reports whether id matches "<prefix>-[0-9A-Za-z]{22}".
func Valid(id string) bool {
	return idPattern.MatchString(id)
}

// KindOf returns the kind prefix of id ("" if id is malformed).
func KindOf(id string) string {
	kind, _, err := Decode(id)
	if err != nil {
		return ""
	}
	return kind
}
