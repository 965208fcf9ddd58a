package message

import (
	"strings"
	"testing"

	"github.com/inboxen/boxen/mlog"
)

func tcheck(t *testing.T, err error, msg string) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s: %s", msg, err)
	}
}

func crlf(s string) string {
	return strings.ReplaceAll(s, "\n", "\r\n")
}

func tparse(t *testing.T, msg string) *Node {
	t.Helper()
	n, err := Parse(mlog.New("test"), strings.NewReader(crlf(msg)))
	tcheck(t, err, "parse")
	return n
}

func TestParseSimple(t *testing.T) {
	n := tparse(t, `From: alice@example.org
Subject: hello
Content-Type: text/plain; charset="utf-8"

Hello world
`)
	if !n.IsLeaf() {
		t.Fatalf("expected leaf, got %d children", len(n.Children))
	}
	if n.MediaType != "text/plain" {
		t.Fatalf("got media type %q", n.MediaType)
	}
	if len(n.Fields) != 3 {
		t.Fatalf("got %d header fields, expected 3", len(n.Fields))
	}
	if n.Fields[0].Key != "From" || n.Fields[1].Key != "Subject" || n.Fields[2].Key != "Content-Type" {
		t.Fatalf("header order not preserved: %v", n.Fields)
	}
	if !n.IsText || n.Text != "Hello world\r\n" {
		t.Fatalf("got text %q (istext %v)", n.Text, n.IsText)
	}
}

func TestParseRepeatedHeaders(t *testing.T) {
	n := tparse(t, `X-Dup: first
X-Other: middle
X-Dup: last

body
`)
	var keys, values []string
	for _, f := range n.Fields {
		keys = append(keys, f.Key)
		values = append(values, f.Value)
	}
	if strings.Join(keys, " ") != "X-Dup X-Other X-Dup" {
		t.Fatalf("got header keys %v", keys)
	}
	if values[0] != "first" || values[2] != "last" {
		t.Fatalf("repeated header values out of order: %v", values)
	}
}

func TestParseMissingContentType(t *testing.T) {
	n := tparse(t, `From: alice@example.org

no content-type header
`)
	if n.MediaType != "text/plain" {
		t.Fatalf("got media type %q, expected text/plain default", n.MediaType)
	}
	if !n.IsText {
		t.Fatalf("expected text part")
	}
}

func TestParseMultipart(t *testing.T) {
	n := tparse(t, `From: alice@example.org
Content-Type: multipart/alternative; boundary=BOUND

--BOUND
Content-Type: text/plain

plain body
--BOUND
Content-Type: text/html

<p>html body</p>
--BOUND--
`)
	if n.MediaType != "multipart/alternative" {
		t.Fatalf("got media type %q", n.MediaType)
	}
	if len(n.Children) != 2 {
		t.Fatalf("got %d children, expected 2", len(n.Children))
	}
	if n.Bytes != nil {
		t.Fatalf("container node has payload %q", n.Bytes)
	}
	if n.Children[0].MediaType != "text/plain" || n.Children[1].MediaType != "text/html" {
		t.Fatalf("child media types %q, %q", n.Children[0].MediaType, n.Children[1].MediaType)
	}
	if n.Children[0].Parent != n {
		t.Fatalf("child parent link not set")
	}
}

func TestParseEmbeddedMessage(t *testing.T) {
	n := tparse(t, `From: alice@example.org
Content-Type: multipart/mixed; boundary=OUTER

--OUTER
Content-Type: text/plain

see forwarded message
--OUTER
Content-Type: message/rfc822

From: bob@example.org
Subject: original
Content-Type: text/plain

the original message
--OUTER--
`)
	var count int
	err := n.Walk(func(*Node) error {
		count++
		return nil
	})
	tcheck(t, err, "walk")
	// mixed root, text part, rfc822 wrapper, embedded message.
	if count != 4 {
		t.Fatalf("got %d nodes, expected 4", count)
	}
	rfc822 := n.Children[1]
	if rfc822.MediaType != "message/rfc822" || len(rfc822.Children) != 1 {
		t.Fatalf("embedded message not parsed as child: %q, %d children", rfc822.MediaType, len(rfc822.Children))
	}
	sub := rfc822.Children[0]
	if sub.Header("Subject") != "original" {
		t.Fatalf("embedded message subject %q", sub.Header("Subject"))
	}
	// The CRLF before the closing boundary belongs to the boundary
	// delimiter, not to the embedded message body.
	if sub.Text != "the original message" {
		t.Fatalf("embedded message text %q", sub.Text)
	}
}

func TestParseUuencoded(t *testing.T) {
	payload := []byte("uuencoded attachment contents\n")
	enc := string(Uuencode("notes.txt", payload))
	n := tparse(t, `From: alice@example.org
Content-Type: application/octet-stream
Content-Transfer-Encoding: x-uuencode

`+enc)
	if string(n.Bytes) != string(payload) {
		t.Fatalf("got payload %q, expected %q", n.Bytes, payload)
	}
	if n.Filename() != "notes.txt" {
		t.Fatalf("got filename %q", n.Filename())
	}
}

func TestParseUnknownEncoding(t *testing.T) {
	n := tparse(t, `From: alice@example.org
Content-Type: application/octet-stream
Content-Transfer-Encoding: x-mystery

opaque payload
`)
	if string(n.Bytes) != "opaque payload\r\n" {
		t.Fatalf("raw payload not preserved: %q", n.Bytes)
	}
}

func TestParseInvalidCharset(t *testing.T) {
	n := tparse(t, `From: alice@example.org
Content-Type: text/plain; charset="no-such-charset"

body text
`)
	if n.IsText {
		t.Fatalf("unknown charset part should not be decoded")
	}
	if string(n.Bytes) != "body text\r\n" {
		t.Fatalf("raw payload not preserved: %q", n.Bytes)
	}
}

func TestParseTruncated(t *testing.T) {
	// A multipart header without any body terminates the part walk
	// normally, but a header cut off mid-field is a structural error.
	_, err := Parse(mlog.New("test"), strings.NewReader("From: alice@example.org\r\nSubj"))
	if err == nil {
		t.Fatalf("expected error for truncated header")
	}
}
