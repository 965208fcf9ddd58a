package message

import (
	"bytes"
	"strings"
	"testing"
)

func TestUuencodeRoundTrip(t *testing.T) {
	payloads := [][]byte{
		{},
		[]byte("a"),
		[]byte("ab"),
		[]byte("abc"),
		[]byte("abcd"),
		bytes.Repeat([]byte{0x00, 0xff, 0x7f}, 15), // Exactly one full line.
		bytes.Repeat([]byte("binary data! "), 100),
	}
	for _, payload := range payloads {
		enc := Uuencode("file.bin", payload)
		dec, name, err := Uudecode(enc)
		tcheck(t, err, "uudecode")
		if name != "file.bin" {
			t.Fatalf("got name %q", name)
		}
		if !bytes.Equal(dec, payload) {
			t.Fatalf("round trip: got %v, expected %v", dec, payload)
		}
	}
}

func TestUuencodeNoName(t *testing.T) {
	enc := Uuencode("", []byte("x"))
	if !bytes.HasPrefix(enc, []byte("begin 644 -\n")) {
		t.Fatalf("got %q", enc)
	}
}

func TestUudecodeSpacePadding(t *testing.T) {
	// Some encoders use space instead of backtick for the zero character.
	enc := string(Uuencode("f", []byte("hi")))
	enc = strings.ReplaceAll(enc, "`", " ")
	dec, _, err := Uudecode([]byte(enc))
	tcheck(t, err, "uudecode with space padding")
	if string(dec) != "hi" {
		t.Fatalf("got %q", dec)
	}
}

func TestUudecodeCRLF(t *testing.T) {
	enc := string(Uuencode("f", []byte("crlf payload")))
	enc = strings.ReplaceAll(enc, "\n", "\r\n")
	dec, _, err := Uudecode([]byte(enc))
	tcheck(t, err, "uudecode with crlf")
	if string(dec) != "crlf payload" {
		t.Fatalf("got %q", dec)
	}
}

func TestUudecodeInvalid(t *testing.T) {
	if _, _, err := Uudecode([]byte("not uuencoded at all\n")); err == nil {
		t.Fatalf("expected error without begin line")
	}
	if _, _, err := Uudecode([]byte("begin 644 f\n#9m]O\n")); err == nil {
		t.Fatalf("expected error without end line")
	}
}
