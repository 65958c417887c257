// Scanner logic translated from the original firmware's find_seq/
// find_header_end/filename extraction: small dedicated parsers with
// explicit size limits, not regex or a general multipart library, per the
// design notes.
package upload

import (
	"bytes"
	"strings"

	"github.com/yarrco/ewmill/opkind"
)

const (
	RecvBufSize     = 32 * 1024
	HeaderBufSize   = 16 * 1024
	TailSize        = 128
	RingSizeDefault = 512 * 1024
	RingSizeFallback = 256 * 1024
)

// findSeq returns the index of the first occurrence of seq in buf, or -1.
func findSeq(buf []byte, seq []byte) int {
	return bytes.Index(buf, seq)
}

// findHeaderEnd locates the blank line terminating a multipart part's
// header block, trying "\r\n\r\n" first and falling back to "\n\n" the same
// way the source does to tolerate a non-conformant client.
func findHeaderEnd(buf []byte) (end int, markLen int, found bool) {
	if i := findSeq(buf, []byte("\r\n\r\n")); i >= 0 {
		return i, 4, true
	}
	if i := findSeq(buf, []byte("\n\n")); i >= 0 {
		return i, 2, true
	}
	return 0, 0, false
}

// ExtractBoundary pulls the boundary parameter out of a multipart
// Content-Type header value, e.g. "multipart/form-data; boundary=BDY".
func ExtractBoundary(contentType string) (string, error) {
	const marker = "boundary="
	idx := strings.Index(contentType, marker)
	if idx < 0 {
		return "", opkind.New(opkind.NoBoundary)
	}
	rest := contentType[idx+len(marker):]
	if end := strings.IndexByte(rest, ';'); end >= 0 {
		rest = rest[:end]
	}
	rest = strings.Trim(rest, "\"")
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return "", opkind.New(opkind.NoBoundary)
	}
	if len(rest) > TailSize-4 { // "\r\n--" prefix must still fit in the tail buffer
		return "", opkind.New(opkind.BoundaryTooLong)
	}
	return rest, nil
}

// extractFilename pulls the filename parameter out of a part header's
// Content-Disposition line. It is a dedicated field scanner, not a MIME
// header parser, mirroring the source's hand-rolled json_get_string-style
// extraction for a single known field.
func extractFilename(header []byte) (string, bool) {
	const marker = "filename=\""
	idx := bytes.Index(header, []byte(marker))
	if idx < 0 {
		return "", false
	}
	rest := header[idx+len(marker):]
	end := bytes.IndexByte(rest, '"')
	if end < 0 {
		return "", false
	}
	return string(rest[:end]), true
}

// boundaryMarker builds the delimiter sequence "\r\n--<boundary>" that
// terminates a part's data, per the glossary.
func boundaryMarker(boundary string) []byte {
	return []byte("\r\n--" + boundary)
}
