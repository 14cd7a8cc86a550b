package callflow

import (
	"crypto/rand"
	"math/big"
	"strings"
)

// newCaptchaCode returns n random decimal digits from crypto/rand.
func newCaptchaCode(n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		v, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			// crypto/rand does not fail on supported platforms; keep the
			// call alive with a fixed digit if it ever does.
			b.WriteByte('0')
			continue
		}
		b.WriteByte(byte('0' + v.Int64()))
	}
	return b.String()
}

// spellDigits spaces a digit string out so text-to-speech reads it one digit
// at a time.
func spellDigits(code string) string {
	parts := make([]string, 0, len(code))
	for _, r := range code {
		parts = append(parts, string(r))
	}
	return strings.Join(parts, ", ")
}
