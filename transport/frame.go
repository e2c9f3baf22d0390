package transport

import (
	"bytes"
	"unicode"
	"unicode/utf8"
)

// CleanFrame prepares a raw stream payload for JSON decoding. It drops
// everything before the first '{' or '[', then removes control characters
// (other than JSON whitespace), zero-width characters and invalid UTF-8.
// It returns nil when no JSON value start is present.
func CleanFrame(raw []byte) []byte {
	start := bytes.IndexAny(raw, "{[")
	if start < 0 {
		return nil
	}
	raw = raw[start:]

	out := make([]byte, 0, len(raw))
	for len(raw) > 0 {
		r, size := utf8.DecodeRune(raw)
		chunk := raw[:size]
		raw = raw[size:]

		switch {
		case r == utf8.RuneError && size == 1:
			continue
		case r == '\t' || r == '\n' || r == '\r':
		case isZeroWidth(r):
			continue
		case unicode.IsControl(r):
			continue
		}
		out = append(out, chunk...)
	}
	return bytes.TrimSpace(out)
}

func isZeroWidth(r rune) bool {
	switch r {
	case '\u200b', '\u200c', '\u200d', '\u2060', '\ufeff':
		return true
	}
	return false
}
