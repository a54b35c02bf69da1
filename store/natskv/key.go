package natskv

import (
	"fmt"
	"strconv"
	"strings"
)

// EncodeKey maps a document id onto a valid KV key.
//
// Letters, digits, '-' and '_' are kept. A '.' is kept when it separates two
// non-empty tokens. Every other byte, including '=', becomes "=XX" with XX the
// upper-case hex value.
func EncodeKey(id string) string {
	var b strings.Builder
	b.Grow(len(id))

	for i := range len(id) {
		c := id[i]
		switch {
		case isKeyByte(c):
			b.WriteByte(c)
		case c == '.' && i > 0 && i < len(id)-1 && id[i-1] != '.' && id[i+1] != '.':
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "=%02X", c)
		}
	}

	return b.String()
}

// DecodeKey reverses EncodeKey.
func DecodeKey(key string) (string, error) {
	if !strings.Contains(key, "=") {
		return key, nil
	}

	var b strings.Builder
	b.Grow(len(key))

	for i := 0; i < len(key); i++ {
		if key[i] != '=' {
			b.WriteByte(key[i])
			continue
		}
		if i+2 >= len(key) {
			return "", fmt.Errorf("truncated escape at offset %d of %q", i, key)
		}
		v, err := strconv.ParseUint(key[i+1:i+3], 16, 8)
		if err != nil {
			return "", fmt.Errorf("invalid escape at offset %d of %q: %w", i, key, err)
		}
		b.WriteByte(byte(v))
		i += 2
	}

	return b.String(), nil
}

func isKeyByte(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '-' || c == '_'
}
