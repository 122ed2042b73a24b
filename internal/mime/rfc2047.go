package mime

import (
	"encoding/base64"
	"regexp"
	"strings"
	"unicode/utf8"
)

// encodedWordRe matches RFC 2047 encoded-words: =?charset?(B|Q)?text?=
var encodedWordRe = regexp.MustCompile(`=\?([^?\s]+)\?([bBqQ])\?([^?]*)\?=`)

// DecodeHeaderValue decodes every RFC 2047 encoded-word in raw, using the
// charset each word declares. If raw contains no encoded-word but has
// high-bit bytes, it attempts a latin-1 reinterpretation.
func DecodeHeaderValue(raw []byte) string {
	s := string(raw)
	matches := encodedWordRe.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return decodeRawHighBit(raw)
	}

	var b strings.Builder
	last := 0
	prevEncoded := false
	for _, m := range matches {
		start, end := m[0], m[1]
		between := s[last:start]
		if !(prevEncoded && strings.TrimSpace(between) == "") {
			b.WriteString(between)
		}

		charset := s[m[2]:m[3]]
		enc := s[m[4]:m[5]]
		text := s[m[6]:m[7]]
		decoded, err := decodeEncodedWord(charset, enc, text)
		if err != nil {
			b.WriteString(s[start:end])
		} else {
			b.WriteString(decoded)
		}

		last = end
		prevEncoded = true
	}
	b.WriteString(s[last:])
	return b.String()
}

func decodeEncodedWord(charset, enc, text string) (string, error) {
	var raw []byte
	switch strings.ToUpper(enc) {
	case "B":
		decoded, err := base64.StdEncoding.DecodeString(text)
		if err != nil {
			// Some senders omit padding; retry tolerantly.
			decoded, err = base64.RawStdEncoding.DecodeString(text)
			if err != nil {
				return "", err
			}
		}
		raw = decoded
	case "Q":
		raw = decodeQ(text)
	default:
		raw = []byte(text)
	}
	return decodeCharsetBytes(raw, charset)
}

// decodeQ decodes RFC 2047 "Q" encoding: '_' -> space, "=HH" -> the octet
// HH. The result is a byte string, not yet charset-decoded.
func decodeQ(text string) []byte {
	out := make([]byte, 0, len(text))
	for i := 0; i < len(text); i++ {
		c := text[i]
		switch {
		case c == '_':
			out = append(out, ' ')
		case c == '=' && i+2 < len(text):
			hi, okHi := hexVal(text[i+1])
			lo, okLo := hexVal(text[i+2])
			if okHi && okLo {
				out = append(out, byte(hi<<4|lo))
				i += 2
			} else {
				out = append(out, c)
			}
		default:
			out = append(out, c)
		}
	}
	return out
}

func hexVal(c byte) (int, bool) {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0'), true
	case c >= 'a' && c <= 'f':
		return int(c-'a') + 10, true
	case c >= 'A' && c <= 'F':
		return int(c-'A') + 10, true
	default:
		return 0, false
	}
}

func decodeRawHighBit(raw []byte) string {
	if utf8.Valid(raw) {
		return string(raw)
	}
	hasHigh := false
	for _, c := range raw {
		if c >= 0x80 {
			hasHigh = true
			break
		}
	}
	if !hasHigh {
		return string(raw)
	}
	decoded, err := decodeCharsetBytes(raw, "iso-8859-1")
	if err != nil {
		return string(raw)
	}
	return decoded
}
