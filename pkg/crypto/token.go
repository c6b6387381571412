package crypto

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
)

// RandomToken returns a hex token built from n random bytes, grouped for readability.
func RandomToken(n int) (string, error) {
	if n <= 0 {
		n = 16
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	raw := strings.ToUpper(hex.EncodeToString(buf))
	var b strings.Builder
	for i := 0; i < len(raw); i += 8 {
		if i > 0 {
			b.WriteByte('-')
		}
		end := i + 8
		if end > len(raw) {
			end = len(raw)
		}
		b.WriteString(raw[i:end])
	}
	return b.String(), nil
}
