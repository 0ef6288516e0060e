package encoding

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// ToUTF8 converts a slice of bytes (WIN1252, common in legacy Firebird databases) to a UTF-8 string
// If the data is already valid UTF-8, it returns it as is
func ToUTF8(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	if utf8.Valid(b) {
		return strings.TrimSpace(string(b))
	}

	decoded, err := charmap.Windows1252.NewDecoder().Bytes(b)
	if err != nil {
		return string(b)
	}

	return strings.TrimSpace(string(decoded))
}
