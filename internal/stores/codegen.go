package stores

import (
	"crypto/rand"
	"regexp"
)

const (
	codePrefix   = "TCF"
	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	codeGroupLen = 5
)

var codePattern = regexp.MustCompile(`^TCF-[A-Z0-9]{5}-[A-Z0-9]{5}$`)

// NewCode mints a verification code of the form TCF-XXXXX-XXXXX. With 36^10
// possible codes a collision among 10,000 records has a probability below
// 1e-7, so the store does not check for one.
func NewCode() string {
	buf := make([]byte, 0, len(codePrefix)+2+2*codeGroupLen)
	buf = append(buf, codePrefix...)
	for group := 0; group < 2; group++ {
		buf = append(buf, '-')
		buf = appendRandom(buf, codeGroupLen)
	}
	return string(buf)
}

// appendRandom appends n uniformly chosen alphabet characters. Bytes at or
// above the largest multiple of the alphabet size are discarded.
func appendRandom(buf []byte, n int) []byte {
	const limit = 256 - 256%len(codeAlphabet)
	var b [1]byte
	for n > 0 {
		if _, err := rand.Read(b[:]); err != nil {
			panic(err)
		}
		if int(b[0]) >= limit {
			continue
		}
		buf = append(buf, codeAlphabet[int(b[0])%len(codeAlphabet)])
		n--
	}
	return buf
}

// ValidCode reports whether code has the verification code format.
func ValidCode(code string) bool {
	return codePattern.MatchString(code)
}
