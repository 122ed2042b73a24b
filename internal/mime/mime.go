// Package mime turns a raw RFC-5322 byte buffer into a decoded envelope
// without ever routing the buffer through a UTF-8-validating string
// conversion before the declared charset is known. Every step that needs a
// Go string works on bytes whose encoding has already been resolved.
package mime

import (
	"bytes"
	"strings"

	"github.com/relayhook/relayhook/internal/model"
)

// HeaderField is one decoded header name/value pair, order preserved.
type HeaderField struct {
	Name  string
	Value string
}

// Result is the output of Parse: a canonical, decoded view of one message.
type Result struct {
	Subject     string
	From        string
	To          string
	BodyText    string
	BodyHTML    string
	Attachments []model.Attachment
	RawHeaders  []HeaderField
	// Suspicious is set when the body corruption heuristic fired and the
	// naive HTML synthesis was skipped.
	Suspicious bool
}

// Parse decodes raw into a Result. raw must be the exact on-wire bytes of
// one RFC-5322 message; Parse never requires raw to already be valid UTF-8.
func Parse(raw []byte) (*Result, error) {
	headerBlock, body := splitHeaderBody(raw)
	fields := unfoldHeaders(headerBlock)

	res := &Result{}
	res.RawHeaders = make([]HeaderField, 0, len(fields))
	var contentType, transferEncoding string
	for _, f := range fields {
		decoded := DecodeHeaderValue(f.value)
		switch strings.ToLower(f.name) {
		case "subject":
			res.Subject = decoded
			continue // replaced below with the fully decoded value
		case "from":
			res.From = stripDisplayName(decoded)
		case "to":
			res.To = stripDisplayName(decoded)
		case "content-type":
			contentType = string(f.value)
		case "content-transfer-encoding":
			transferEncoding = strings.TrimSpace(decoded)
		}
		res.RawHeaders = append(res.RawHeaders, HeaderField{Name: f.name, Value: decoded})
	}
	if res.Subject != "" || hasHeader(fields, "subject") {
		res.RawHeaders = append(res.RawHeaders, HeaderField{Name: "Subject", Value: res.Subject})
	}

	mediaType, params := parseContentType(contentType)

	var leaves []leafPart
	if strings.HasPrefix(mediaType, "multipart/") {
		boundary := params["boundary"]
		leaves = flattenMultipart(body, boundary)
	} else {
		leaves = []leafPart{{
			contentType:      contentType,
			mediaType:        mediaType,
			params:           params,
			transferEncoding: transferEncoding,
			disposition:      "",
			dispositionParam: nil,
			body:             body,
		}}
	}

	bodyText, bodyHTML, attachments := selectBodies(leaves)
	res.BodyText = bodyText
	res.BodyHTML = bodyHTML
	res.Attachments = dedupFilenames(attachments)

	if res.BodyHTML == "" && res.BodyText != "" && !looksCorrupted(res.BodyText) {
		res.BodyHTML = synthesizeHTML(res.BodyText)
	} else if res.BodyHTML == "" && looksCorrupted(res.BodyText) {
		res.Suspicious = true
	}

	return res, nil
}

func hasHeader(fields []rawHeaderField, name string) bool {
	for _, f := range fields {
		if strings.EqualFold(f.name, name) {
			return true
		}
	}
	return false
}

// splitHeaderBody splits raw at the first CRLFCRLF, falling back to LFLF.
func splitHeaderBody(raw []byte) (header, body []byte) {
	if idx := bytes.Index(raw, []byte("\r\n\r\n")); idx >= 0 {
		return raw[:idx], raw[idx+4:]
	}
	if idx := bytes.Index(raw, []byte("\n\n")); idx >= 0 {
		return raw[:idx], raw[idx+2:]
	}
	return raw, nil
}

func synthesizeHTML(text string) string {
	escaped := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;").Replace(text)
	lines := strings.Split(strings.ReplaceAll(escaped, "\r\n", "\n"), "\n")
	return strings.Join(lines, "<br>")
}

// looksCorrupted reports whether a decoded body looks like charset or
// boundary damage: too short, punctuation-only, or containing a literal
// boundary marker.
func looksCorrupted(text string) bool {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) < 10 {
		return true
	}
	onlyPunctOrSpace := true
	for _, r := range trimmed {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			onlyPunctOrSpace = false
			break
		}
	}
	if onlyPunctOrSpace {
		return true
	}
	return strings.Contains(text, "boundary=")
}

func dedupFilenames(atts []model.Attachment) []model.Attachment {
	seen := make(map[string]int, len(atts))
	out := make([]model.Attachment, len(atts))
	for i, a := range atts {
		name := a.Filename
		if name == "" {
			name = "attachment"
		}
		if n, ok := seen[name]; ok {
			seen[name] = n + 1
			ext := ""
			base := name
			if dot := strings.LastIndex(name, "."); dot > 0 {
				base, ext = name[:dot], name[dot:]
			}
			a.Filename = base + "-" + itoa(n+1) + ext
		} else {
			seen[name] = 0
		}
		out[i] = a
	}
	return out
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}
