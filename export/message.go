package export

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
)

// Msg is a message (or message part) being assembled for output: ordered
// header fields and either a payload or child parts. Serialization uses
// CRLF line ends throughout.
type Msg struct {
	Fields []Field

	// For leaf parts: the payload, already transfer-encoded.
	Payload []byte

	// For multipart containers: the child parts and the boundary to
	// separate them with.
	Parts    []*Msg
	Boundary string
}

// Field is one header field of an outgoing message.
type Field struct {
	Key   string
	Value string
}

// Add appends a header field.
func (m *Msg) Add(key, value string) {
	m.Fields = append(m.Fields, Field{key, value})
}

// Has reports whether a header field with the given key is present.
func (m *Msg) Has(key string) bool {
	for _, f := range m.Fields {
		if strings.EqualFold(f.Key, key) {
			return true
		}
	}
	return false
}

// randomBoundary returns a boundary unlikely to occur in any payload.
func randomBoundary() string {
	buf := make([]byte, 18)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	return "=-" + hex.EncodeToString(buf)
}

// WriteTo writes the serialized message to w.
func (m *Msg) WriteTo(w io.Writer) (int64, error) {
	cw := &countWriter{w: w}
	err := m.write(cw)
	return cw.n, err
}

// Bytes returns the serialized message.
func (m *Msg) Bytes() []byte {
	var b sliceWriter
	if _, err := m.WriteTo(&b); err != nil {
		// Only the underlying writer can fail, and a byte slice cannot.
		panic(err)
	}
	return b
}

func (m *Msg) write(w io.Writer) error {
	for _, f := range m.Fields {
		if _, err := fmt.Fprintf(w, "%s: %s\r\n", f.Key, f.Value); err != nil {
			return err
		}
	}
	if _, err := io.WriteString(w, "\r\n"); err != nil {
		return err
	}
	if len(m.Parts) == 0 {
		_, err := w.Write(m.Payload)
		return err
	}
	for _, p := range m.Parts {
		if _, err := fmt.Fprintf(w, "--%s\r\n", m.Boundary); err != nil {
			return err
		}
		if err := p.write(w); err != nil {
			return err
		}
		if _, err := io.WriteString(w, "\r\n"); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "--%s--\r\n", m.Boundary)
	return err
}

type countWriter struct {
	w io.Writer
	n int64
}

func (cw *countWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	return n, err
}

type sliceWriter []byte

func (sw *sliceWriter) Write(p []byte) (int, error) {
	*sw = append(*sw, p...)
	return len(p), nil
}
