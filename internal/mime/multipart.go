package mime

import "bytes"

type leafPart struct {
	contentType      string
	mediaType        string
	params           map[string]string
	disposition      string
	dispositionParam map[string]string
	transferEncoding string
	body             []byte
}

// flattenMultipart splits body on boundary and recurses into any section
// whose own Content-Type is multipart/*, returning only leaf parts.
//
// Sections are located by the literal delimiter line "--boundary", anchored
// to the start of a line. Because each recursive call only searches for its
// own (distinct) boundary string, a nested part's closing "--nestedBoundary--"
// can never be mistaken for the enclosing terminator, so there is no need
// to guess from a section's trailing "--".
func flattenMultipart(body []byte, boundary string) []leafPart {
	if boundary == "" {
		return nil
	}
	sections := splitOnBoundary(body, boundary)

	var leaves []leafPart
	for _, section := range sections {
		headerBlock, sectionBody := splitHeaderBody(section)
		fields := unfoldHeaders(headerBlock)

		var contentType, disposition, transferEncoding string
		for _, f := range fields {
			switch toLowerASCII(f.name) {
			case "content-type":
				contentType = string(f.value)
			case "content-disposition":
				disposition = string(f.value)
			case "content-transfer-encoding":
				transferEncoding = string(bytes.TrimSpace(f.value))
			}
		}

		mediaType, params := parseContentType(contentType)
		dispoType, dispoParams := parseContentDisposition(disposition)

		if len(mediaType) >= 10 && mediaType[:10] == "multipart/" {
			decodedBody := decodeBodyBytes(sectionBody, transferEncoding)
			nested := flattenMultipart(decodedBody, params["boundary"])
			leaves = append(leaves, nested...)
			continue
		}

		leaves = append(leaves, leafPart{
			contentType:      contentType,
			mediaType:        mediaType,
			params:           params,
			disposition:      dispoType,
			dispositionParam: dispoParams,
			transferEncoding: transferEncoding,
			body:             sectionBody,
		})
	}
	return leaves
}

func toLowerASCII(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// splitOnBoundary splits body into the sections between "--boundary" marker
// lines, discarding the preamble (before the first marker) and the epilogue
// (after the closing "--boundary--" marker).
func splitOnBoundary(body []byte, boundary string) [][]byte {
	delim := append([]byte("--"), boundary...)

	var sections [][]byte
	sectionStart := -1
	pos := 0
	for {
		idx := indexLineStart(body, delim, pos)
		if idx < 0 {
			break
		}
		after := idx + len(delim)
		isTerminator := bytes.HasPrefix(body[after:], []byte("--"))

		if sectionStart >= 0 {
			sections = append(sections, trimTrailingNewline(body[sectionStart:idx]))
		}
		if isTerminator {
			break
		}

		lineEnd := nextLineStart(body, after)
		sectionStart = lineEnd
		pos = lineEnd
	}
	return sections
}

func indexLineStart(body, delim []byte, from int) int {
	for {
		idx := bytes.Index(body[from:], delim)
		if idx < 0 {
			return -1
		}
		abs := from + idx
		if abs == 0 || body[abs-1] == '\n' {
			return abs
		}
		from = abs + 1
	}
}

func nextLineStart(body []byte, from int) int {
	idx := bytes.IndexByte(body[from:], '\n')
	if idx < 0 {
		return len(body)
	}
	return from + idx + 1
}

func trimTrailingNewline(b []byte) []byte {
	b = bytes.TrimSuffix(b, []byte("\r\n"))
	b = bytes.TrimSuffix(b, []byte("\n"))
	return b
}
