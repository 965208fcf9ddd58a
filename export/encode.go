package export

import (
	"bytes"
	"encoding/base64"
	"mime/quotedprintable"
)

// isASCII reports whether data contains only 7-bit bytes.
func isASCII(data []byte) bool {
	for _, c := range data {
		if c >= 0x80 {
			return false
		}
	}
	return true
}

// encodeQP returns data in quoted-printable encoding with CRLF line ends.
func encodeQP(data []byte) []byte {
	var b bytes.Buffer
	w := quotedprintable.NewWriter(&b)
	w.Write(data)
	w.Close()
	return b.Bytes()
}

// encodeBase64 returns data in base64 with lines of 76 characters, each
// ending in CRLF, per the MIME line length limit.
func encodeBase64(data []byte) []byte {
	enc := base64.StdEncoding.EncodeToString(data)
	var b bytes.Buffer
	for len(enc) > 0 {
		line := enc
		if len(line) > 76 {
			line = line[:76]
		}
		b.WriteString(line)
		b.WriteString("\r\n")
		enc = enc[len(line):]
	}
	return b.Bytes()
}
