package message

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"
)

// lookupEncoding finds an encoding by charset name, first in the MIME
// index, then the IANA index. Returns nil for unknown charsets, and for
// us-ascii/utf-8 which need no conversion.
func lookupEncoding(charset string) encoding.Encoding {
	enc, _ := ianaindex.MIME.Encoding(charset)
	if enc == nil {
		enc, _ = ianaindex.IANA.Encoding(charset)
	}
	return enc
}

// DecodeText decodes data according to the declared charset, returning the
// text and whether decoding succeeded. Empty, ascii and utf-8 charsets are
// accepted as-is when the bytes are valid UTF-8.
func DecodeText(data []byte, charset string) (string, bool) {
	switch strings.ToLower(charset) {
	case "", "us-ascii", "ascii", "utf-8", "utf8":
		if utf8.Valid(data) {
			return string(data), true
		}
		return "", false
	}
	enc := lookupEncoding(charset)
	if enc == nil {
		return "", false
	}
	out, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		return "", false
	}
	return string(out), true
}

// DecodeTextLossy decodes data according to charset, substituting the
// replacement character for undecodable input. It never fails. Used for
// search text extraction, not for storage.
func DecodeTextLossy(data []byte, charset string) string {
	if text, ok := DecodeText(data, charset); ok {
		return text
	}
	return strings.ToValidUTF8(string(data), "�")
}

// EncodeBody returns the byte payload to persist for a node.
//
// Raw payloads pass through unchanged. Decoded text is re-encoded with the
// declared charset (default ascii); if the charset is unknown or cannot
// represent the text, the UTF-8 bytes are stored instead. Nil and empty
// payloads normalize to empty (never nil) so content hashing is
// well-defined. Total: never fails, a bad charset on one part must not
// abort an ingestion.
func EncodeBody(n *Node) []byte {
	if n == nil {
		return []byte{}
	}
	if !n.IsText {
		if len(n.Bytes) == 0 {
			return []byte{}
		}
		return n.Bytes
	}
	if n.Text == "" {
		return []byte{}
	}
	charset := n.Charset()
	switch charset {
	case "", "us-ascii", "ascii", "utf-8", "utf8":
		// Encoding text to ascii either passes through unchanged or would
		// fail on non-ascii runes, in which case we store UTF-8. Both end
		// up being the UTF-8 bytes.
		return []byte(n.Text)
	}
	enc := lookupEncoding(charset)
	if enc == nil {
		return []byte(n.Text)
	}
	out, err := enc.NewEncoder().Bytes([]byte(n.Text))
	if err != nil {
		return []byte(n.Text)
	}
	return out
}
