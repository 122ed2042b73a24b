package mime

import (
	"encoding/base64"
	"strings"

	"github.com/relayhook/relayhook/internal/model"
)

func normalizeEncoding(te string) string {
	return strings.ToLower(strings.TrimSpace(te))
}

// decodeBodyBytes applies the transfer encoding to body, returning raw
// octets. 7bit/8bit/binary/absent pass through unchanged.
func decodeBodyBytes(body []byte, transferEncoding string) []byte {
	switch normalizeEncoding(transferEncoding) {
	case "quoted-printable":
		return decodeQuotedPrintableBytes(body)
	case "base64":
		return decodeBase64Bytes(body)
	default:
		return body
	}
}

// decodeQuotedPrintableBytes removes soft line breaks and decodes "=HH"
// sequences as octets. The result is a byte string, not yet charset-decoded.
func decodeQuotedPrintableBytes(body []byte) []byte {
	out := make([]byte, 0, len(body))
	for i := 0; i < len(body); i++ {
		c := body[i]
		if c == '=' {
			// Soft line break: "=\r\n" or "=\n" is removed entirely.
			if i+2 < len(body) && body[i+1] == '\r' && body[i+2] == '\n' {
				i += 2
				continue
			}
			if i+1 < len(body) && body[i+1] == '\n' {
				i++
				continue
			}
			if i+2 < len(body) {
				hi, okHi := hexVal(body[i+1])
				lo, okLo := hexVal(body[i+2])
				if okHi && okLo {
					out = append(out, byte(hi<<4|lo))
					i += 2
					continue
				}
			}
			out = append(out, c)
			continue
		}
		out = append(out, c)
	}
	return out
}

func decodeBase64Bytes(body []byte) []byte {
	var b strings.Builder
	for _, c := range body {
		if c == ' ' || c == '\t' || c == '\r' || c == '\n' {
			continue
		}
		b.WriteByte(c)
	}
	cleaned := b.String()
	decoded, err := base64.StdEncoding.DecodeString(cleaned)
	if err != nil {
		if decoded2, err2 := base64.RawStdEncoding.DecodeString(cleaned); err2 == nil {
			return decoded2
		}
		return body
	}
	return decoded
}

// isAttachment reports whether a leaf part should be extracted as an
// attachment rather than selected as a body.
func isAttachment(l leafPart) bool {
	if strings.Contains(l.disposition, "attachment") {
		return true
	}
	if _, ok := l.dispositionParam["filename"]; ok && l.disposition != "" {
		return true
	}
	switch l.mediaType {
	case "text/plain", "text/html", "message/rfc822":
		return false
	default:
		if strings.HasPrefix(l.mediaType, "multipart/") {
			return false
		}
		return true
	}
}

// selectBodies partitions the flattened leaves into bodyText/bodyHtml
// (first occurrence of each wins) and an ordered attachment list.
func selectBodies(leaves []leafPart) (bodyText, bodyHTML string, attachments []model.Attachment) {
	for _, l := range leaves {
		if isAttachment(l) {
			attachments = append(attachments, buildAttachment(l))
			continue
		}
		switch l.mediaType {
		case "text/plain":
			if bodyText == "" {
				decoded := decodeBodyBytes(l.body, l.transferEncoding)
				text, err := decodeCharsetBytes(decoded, l.params["charset"])
				if err == nil {
					bodyText = text
				}
			}
		case "text/html":
			if bodyHTML == "" {
				decoded := decodeBodyBytes(l.body, l.transferEncoding)
				html, err := decodeCharsetBytes(decoded, l.params["charset"])
				if err == nil {
					bodyHTML = html
				}
			}
		}
	}
	return bodyText, bodyHTML, attachments
}

func buildAttachment(l leafPart) model.Attachment {
	filename := l.dispositionParam["filename"]
	if filename == "" {
		filename = l.params["name"]
	}
	if filename == "" {
		filename = "attachment"
	}

	isBase64 := normalizeEncoding(l.transferEncoding) == "base64"
	var content []byte
	if isBase64 {
		content = cleanBase64(l.body)
	} else {
		content = decodeBodyBytes(l.body, l.transferEncoding)
	}

	return model.Attachment{
		Filename:    filename,
		ContentType: l.mediaType,
		Size:        attachmentSize(content, isBase64),
		Content:     content,
		RawBase64:   isBase64,
	}
}

func cleanBase64(body []byte) []byte {
	out := make([]byte, 0, len(body))
	for _, c := range body {
		if c == ' ' || c == '\t' || c == '\r' || c == '\n' {
			continue
		}
		out = append(out, c)
	}
	return out
}

func attachmentSize(content []byte, isBase64 bool) int {
	if !isBase64 {
		return len(content)
	}
	decoded, err := base64.StdEncoding.DecodeString(string(content))
	if err != nil {
		return len(content)
	}
	return len(decoded)
}
