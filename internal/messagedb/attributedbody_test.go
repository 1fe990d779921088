package messagedb

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// buildArchive assembles a minimal typedstream blob around a payload so
// tests exercise the real byte layouts.
func buildArchive(payload []byte) []byte {
	blob := []byte("\x04\x0bstreamtyped\x81\xe8\x03\x84\x01@\x84\x84\x84\x12NSAttributedString\x00\x84\x84\x08NSObject\x00\x85\x92\x84\x84\x84\x08NSString")
	blob = append(blob, payload...)
	blob = append(blob, 0x86, 0x84)
	return blob
}

func TestExtractAttributedBodyShortString(t *testing.T) {
	// '+' marker with a single length byte.
	payload := append([]byte{0x01, 0x94, 0x84, 0x01, '+', 0x05}, []byte("Hello")...)
	assert.Equal(t, "Hello", ExtractAttributedBody(buildArchive(payload)))
}

func TestExtractAttributedBodyTwoByteLength(t *testing.T) {
	// 0x81 prefix selects a two byte little-endian length.
	text := make([]byte, 300)
	for i := range text {
		text[i] = 'a'
	}
	payload := append([]byte{0x01, 0x94, 0x84, 0x01, '+', 0x81, 0x2c, 0x01}, text...)
	assert.Equal(t, string(text), ExtractAttributedBody(buildArchive(payload)))
}

func TestExtractAttributedBodyFourByteLength(t *testing.T) {
	// 0x83 prefix selects a four byte little-endian length.
	payload := append([]byte{0x01, 0x94, 0x84, 0x01, '+', 0x83, 0x03, 0x00, 0x00, 0x00}, []byte("Yes")...)
	assert.Equal(t, "Yes", ExtractAttributedBody(buildArchive(payload)))
}

func TestExtractAttributedBodyTokenVariant(t *testing.T) {
	// 'O' marker, 0x10 single byte big-endian length.
	payload := append([]byte{0x01, 'O', 0x10, 0x02}, []byte("Hi")...)
	assert.Equal(t, "Hi", ExtractAttributedBody(buildArchive(payload)))
}

func TestExtractAttributedBodyPrintableFallback(t *testing.T) {
	// No recognizable length marker; the longest printable run wins.
	blob := []byte("\x04\x0bstreamtyped\x00\x01\x02garbage\x00See you at the park tomorrow\x00\x01")
	assert.Equal(t, "See you at the park tomorrow", ExtractAttributedBody(blob))
}

func TestExtractAttributedBodyEmpty(t *testing.T) {
	assert.Equal(t, "", ExtractAttributedBody(nil))
	assert.Equal(t, "", ExtractAttributedBody([]byte{}))
}

func TestExtractAttributedBodyGarbage(t *testing.T) {
	assert.Equal(t, "", ExtractAttributedBody([]byte{0x00, 0x01, 0x02, 0x03}))
}

func TestExtractAttributedBodyUnicode(t *testing.T) {
	text := "Café at 5 \U0001F389"
	payload := append([]byte{0x01, 0x94, 0x84, 0x01, '+', byte(len(text))}, []byte(text)...)
	assert.Equal(t, text, ExtractAttributedBody(buildArchive(payload)))
}
