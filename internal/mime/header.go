package mime

import (
	"bytes"
	"strings"
)

type rawHeaderField struct {
	name  string
	value []byte
}

// unfoldHeaders splits a header block into logical fields, joining
// continuation lines (those beginning with SP or HTAB) onto the previous
// field per RFC 5322 §2.2.3.
func unfoldHeaders(block []byte) []rawHeaderField {
	lines := splitLines(block)

	var fields []rawHeaderField
	for _, line := range lines {
		if len(line) == 0 {
			continue
		}
		if (line[0] == ' ' || line[0] == '\t') && len(fields) > 0 {
			last := &fields[len(fields)-1]
			last.value = append(last.value, ' ')
			last.value = append(last.value, bytes.TrimLeft(line, " \t")...)
			continue
		}
		idx := bytes.IndexByte(line, ':')
		if idx < 0 {
			continue
		}
		name := string(bytes.TrimSpace(line[:idx]))
		value := bytes.TrimSpace(line[idx+1:])
		fields = append(fields, rawHeaderField{name: name, value: append([]byte(nil), value...)})
	}
	return fields
}

func splitLines(block []byte) [][]byte {
	normalized := bytes.ReplaceAll(block, []byte("\r\n"), []byte("\n"))
	return bytes.Split(normalized, []byte("\n"))
}

// stripDisplayName reduces "Display Name <addr@host>" to "addr@host". If no
// angle brackets are present the input is returned trimmed and lowercased.
func stripDisplayName(value string) string {
	value = strings.TrimSpace(value)
	start := strings.LastIndex(value, "<")
	end := strings.LastIndex(value, ">")
	if start >= 0 && end > start {
		return strings.ToLower(strings.TrimSpace(value[start+1 : end]))
	}
	return strings.ToLower(value)
}

// parseContentType splits a "type/subtype; param=value; ..." header value
// into its media type and parameter map. Parameter values may be quoted.
func parseContentType(value string) (mediaType string, params map[string]string) {
	params = map[string]string{}
	parts := splitHeaderParams(value)
	if len(parts) == 0 {
		return "text/plain", params
	}
	mediaType = strings.ToLower(strings.TrimSpace(parts[0]))
	if mediaType == "" {
		mediaType = "text/plain"
	}
	for _, p := range parts[1:] {
		k, v, ok := strings.Cut(p, "=")
		if !ok {
			continue
		}
		k = strings.ToLower(strings.TrimSpace(k))
		v = strings.TrimSpace(v)
		v = strings.Trim(v, `"`)
		params[k] = v
	}
	return mediaType, params
}

// splitHeaderParams splits a header value on ';' while respecting quoted
// strings, so a ';' inside a quoted filename doesn't create a bogus param.
func splitHeaderParams(value string) []string {
	var parts []string
	var cur strings.Builder
	inQuotes := false
	for i := 0; i < len(value); i++ {
		c := value[i]
		switch {
		case c == '"':
			inQuotes = !inQuotes
			cur.WriteByte(c)
		case c == ';' && !inQuotes:
			parts = append(parts, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	if cur.Len() > 0 {
		parts = append(parts, cur.String())
	}
	return parts
}

func parseContentDisposition(value string) (disposition string, params map[string]string) {
	params = map[string]string{}
	parts := splitHeaderParams(value)
	if len(parts) == 0 {
		return "", params
	}
	disposition = strings.ToLower(strings.TrimSpace(parts[0]))
	for _, p := range parts[1:] {
		k, v, ok := strings.Cut(p, "=")
		if !ok {
			continue
		}
		k = strings.ToLower(strings.TrimSpace(k))
		v = strings.TrimSpace(v)
		v = strings.Trim(v, `"`)
		if k == "filename" {
			v = DecodeHeaderValue([]byte(v))
		}
		params[k] = v
	}
	return disposition, params
}
