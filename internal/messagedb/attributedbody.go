package messagedb

import (
	"bytes"
	"encoding/binary"
	"strings"
	"unicode/utf8"
)

// Rich text messages store their body as an archived NSAttributedString
// blob instead of plain text. The archive is a typedstream, a format
// with no public spec; the text payload sits after an "NSString" class
// marker with one of a handful of length encodings depending on how
// long the string is. Parsing here is best effort with layered
// fallbacks, ending in a raw printable scan.

var (
	nsStringMarker    = []byte("NSString")
	streamtypedMarker = []byte("streamtyped")
)

// ExtractAttributedBody pulls the plain text out of an archived
// NSAttributedString blob. Returns "" when no text can be recovered.
func ExtractAttributedBody(blob []byte) string {
	if len(blob) == 0 {
		return ""
	}

	if text := extractAfterNSString(blob); text != "" {
		return text
	}
	return extractPrintableRun(blob)
}

// extractAfterNSString finds the NSString class marker and decodes the
// length-prefixed payload that follows it.
func extractAfterNSString(blob []byte) string {
	idx := bytes.Index(blob, nsStringMarker)
	if idx == -1 {
		return ""
	}
	rest := blob[idx+len(nsStringMarker):]

	// The payload marker appears within a few bytes of the class name.
	const window = 12
	limit := len(rest)
	if limit > window {
		limit = window
	}
	for i := 0; i < limit; i++ {
		switch rest[i] {
		case '+':
			if text, ok := decodePlusPayload(rest[i+1:]); ok {
				return text
			}
		case 'O':
			if text, ok := decodeTokenPayload(rest[i+1:]); ok {
				return text
			}
		case 'I':
			if len(rest) >= i+5 {
				n := int(binary.BigEndian.Uint32(rest[i+1 : i+5]))
				if text, ok := takeText(rest[i+5:], n); ok {
					return text
				}
			}
		}
	}
	return ""
}

// decodePlusPayload handles the common '+' marker: a single length byte,
// or an 0x81/0x82/0x83 prefix selecting a 2, 3, or 4 byte little-endian
// length.
func decodePlusPayload(b []byte) (string, bool) {
	if len(b) == 0 {
		return "", false
	}
	var n, skip int
	switch b[0] {
	case 0x81:
		if len(b) < 3 {
			return "", false
		}
		n = int(binary.LittleEndian.Uint16(b[1:3]))
		skip = 3
	case 0x82:
		if len(b) < 4 {
			return "", false
		}
		n = int(b[1]) | int(b[2])<<8 | int(b[3])<<16
		skip = 4
	case 0x83:
		if len(b) < 5 {
			return "", false
		}
		n = int(binary.LittleEndian.Uint32(b[1:5]))
		skip = 5
	default:
		n = int(b[0])
		skip = 1
	}
	return takeText(b[skip:], n)
}

// decodeTokenPayload handles the 'O' marker variant: 0x10, 0x11, or
// 0x12 selecting a 1, 2, or 4 byte big-endian length.
func decodeTokenPayload(b []byte) (string, bool) {
	if len(b) == 0 {
		return "", false
	}
	var n, skip int
	switch b[0] {
	case 0x10:
		if len(b) < 2 {
			return "", false
		}
		n = int(b[1])
		skip = 2
	case 0x11:
		if len(b) < 3 {
			return "", false
		}
		n = int(binary.BigEndian.Uint16(b[1:3]))
		skip = 3
	case 0x12:
		if len(b) < 5 {
			return "", false
		}
		n = int(binary.BigEndian.Uint32(b[1:5]))
		skip = 5
	default:
		return "", false
	}
	return takeText(b[skip:], n)
}

func takeText(b []byte, n int) (string, bool) {
	if n <= 0 || n > len(b) {
		return "", false
	}
	text := sanitize(string(b[:n]))
	if text == "" {
		return "", false
	}
	return text, true
}

// extractPrintableRun is the last resort: scan past the typedstream
// header and return the longest run of printable text. Short runs are
// archive field names, not message content.
func extractPrintableRun(blob []byte) string {
	start := 0
	if idx := bytes.Index(blob, streamtypedMarker); idx != -1 {
		start = idx + len(streamtypedMarker)
	}

	const minRun = 6
	var best, current []byte
	for _, c := range blob[start:] {
		if c >= 0x20 && c < 0x7F {
			current = append(current, c)
			continue
		}
		if len(current) > len(best) {
			best = current
		}
		current = nil
	}
	if len(current) > len(best) {
		best = current
	}
	if len(best) < minRun {
		return ""
	}
	return sanitize(string(best))
}

// sanitize strips control characters and invalid UTF-8 from recovered
// text.
func sanitize(s string) string {
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "")
	}
	s = strings.Map(func(r rune) rune {
		if r < 0x20 && r != '\n' && r != '\t' {
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(s)
}
