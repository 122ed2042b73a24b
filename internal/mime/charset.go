package mime

import (
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
)

// decodeCharsetBytes decodes data, declared to be in charset, into a Go
// string. This is the only place raw bytes become text; every caller must
// have already isolated the exact bytes belonging to one declared charset.
func decodeCharsetBytes(data []byte, charset string) (string, error) {
	enc := lookupEncoding(charset)
	if enc == nil {
		return string(data), nil
	}
	decoded, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		return "", err
	}
	return string(decoded), nil
}

// lookupEncoding resolves a declared charset name to its decoder. The
// common mail charsets are matched directly (including the aliases mail
// clients actually emit); anything else falls through to the WHATWG
// encoding index. Unknown or empty charsets are treated as already-UTF-8
// (nil encoding, identity passthrough).
func lookupEncoding(charset string) encoding.Encoding {
	name := strings.ToLower(strings.TrimSpace(charset))
	switch name {
	case "", "utf-8", "utf8", "us-ascii", "ascii":
		return nil
	case "utf-16", "utf-16be":
		return unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM)
	case "utf-16le":
		return unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)
	case "latin-1", "iso-8859-1", "iso8859-1", "latin1", "l1":
		return charmap.ISO8859_1
	case "windows-1251", "cp1251", "win-1251":
		return charmap.Windows1251
	case "windows-1252", "cp1252", "win-1252":
		return charmap.Windows1252
	case "koi8-r", "koi8r":
		return charmap.KOI8R
	default:
		if enc, err := htmlindex.Get(name); err == nil {
			return enc
		}
		return nil
	}
}
