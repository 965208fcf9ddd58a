package message

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
)

// Historic uuencode transfer encoding. Still seen in the wild with
// Content-Transfer-Encoding values uuencode, x-uuencode, uue and x-uue.
// Go has no codec for it, so it lives here: ingestion decodes it, export
// re-encodes it.

var errUudecode = errors.New("uudecode: missing begin/end lines")

func uuchar(v byte) byte {
	v &= 0x3f
	if v == 0 {
		return '`'
	}
	return v + 0x20
}

func uuval(c byte) byte {
	if c == '`' {
		return 0
	}
	return (c - 0x20) & 0x3f
}

// Uuencode encodes data in uuencode format, with a begin line carrying
// name (mode 644) and a terminating end line.
func Uuencode(name string, data []byte) []byte {
	if name == "" {
		name = "-"
	}
	var b bytes.Buffer
	fmt.Fprintf(&b, "begin 644 %s\n", name)
	for off := 0; off < len(data); off += 45 {
		chunk := data[off:]
		if len(chunk) > 45 {
			chunk = chunk[:45]
		}
		b.WriteByte(uuchar(byte(len(chunk))))
		for i := 0; i < len(chunk); i += 3 {
			var g [3]byte
			copy(g[:], chunk[i:])
			b.WriteByte(uuchar(g[0] >> 2))
			b.WriteByte(uuchar(g[0]<<4&0x30 | g[1]>>4))
			b.WriteByte(uuchar(g[1]<<2&0x3c | g[2]>>6))
			b.WriteByte(uuchar(g[2] & 0x3f))
		}
		b.WriteByte('\n')
	}
	b.WriteString("`\nend\n")
	return b.Bytes()
}

// Uudecode decodes uuencoded data, returning the decoded payload and the
// name from the begin line. Both space and backtick are accepted for the
// zero character, and a missing terminator line before "end" is accepted.
func Uudecode(data []byte) ([]byte, string, error) {
	var out []byte
	name := ""
	started := false
	ended := false
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSuffix(line, "\r")
		if !started {
			if strings.HasPrefix(line, "begin ") {
				started = true
				if parts := strings.SplitN(line, " ", 3); len(parts) == 3 {
					name = parts[2]
				}
			}
			continue
		}
		if line == "end" {
			ended = true
			break
		}
		if line == "" {
			continue
		}
		n := int(uuval(line[0]))
		if n == 0 {
			continue
		}
		body := line[1:]
		decoded := make([]byte, 0, n)
		for i := 0; i < len(body) && len(decoded) < n; i += 4 {
			var g [4]byte
			g[0], g[1], g[2], g[3] = '`', '`', '`', '`'
			for j := 0; j < 4 && i+j < len(body); j++ {
				g[j] = body[i+j]
			}
			v0, v1, v2, v3 := uuval(g[0]), uuval(g[1]), uuval(g[2]), uuval(g[3])
			triple := [3]byte{v0<<2 | v1>>4, v1<<4 | v2>>2, v2<<6 | v3}
			for j := 0; j < 3 && len(decoded) < n; j++ {
				decoded = append(decoded, triple[j])
			}
		}
		if len(decoded) < n {
			return nil, "", fmt.Errorf("uudecode: line shorter than its length byte (%d < %d)", len(decoded), n)
		}
		out = append(out, decoded...)
	}
	if !started || !ended {
		return nil, "", errUudecode
	}
	return out, name, nil
}
