// Package message turns parsed MIME messages into a tree of nodes suitable
// for ingestion, and normalizes part bodies for storage.
//
// The actual MIME parsing (boundaries, transfer encodings, header folding)
// is done by github.com/emersion/go-message. This package adapts its
// entities into Nodes: plain values with ordered headers, raw decoded
// payloads and parent/child links, so the ingestion and export code does
// not depend on the parser's types.
package message

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	gomessage "github.com/emersion/go-message"

	"github.com/inboxen/boxen/mlog"
)

// Field is a single header field, value verbatim as it appeared in the
// message (no RFC 2047 decoding, that is a presentation concern).
type Field struct {
	Key   string
	Value string
}

// Node is one node of a MIME message tree. A non-multipart message is a
// single node. Multipart nodes and embedded message/rfc822 nodes have
// children and no payload of their own.
type Node struct {
	Fields []Field // In original order, repeated names preserved.

	MediaType         string // Lower-case, e.g. "text/plain". Defaults to "text/plain" if absent or unparsable.
	Params            map[string]string
	Disposition       string // Lower-case, e.g. "attachment". Empty if absent.
	DispositionParams map[string]string

	Parent   *Node
	Children []*Node

	// Payload with transfer encoding undone. Nil for container nodes.
	Bytes []byte

	// For text parts whose declared charset could be decoded, Text holds
	// the decoded text and IsText is set. Bytes still holds the original
	// charset bytes.
	Text   string
	IsText bool
}

// Parse reads a MIME message from r and returns its node tree.
//
// Unknown charsets and transfer encodings are not errors: such parts keep
// their raw payload. Structural errors (unwalkable multipart, truncated
// input) are returned and fail the whole message.
func Parse(log mlog.Log, r io.Reader) (*Node, error) {
	e, err := gomessage.Read(r)
	if err != nil && !tolerable(err) {
		return nil, fmt.Errorf("parsing message: %w", err)
	}
	return fromEntity(log, e, nil)
}

// tolerable reports whether err is a per-part condition we store as-is
// rather than failing ingestion.
func tolerable(err error) bool {
	return gomessage.IsUnknownCharset(err) || gomessage.IsUnknownEncoding(err)
}

func fromEntity(log mlog.Log, e *gomessage.Entity, parent *Node) (*Node, error) {
	n := &Node{Parent: parent, MediaType: "text/plain"}

	fields := e.Header.Fields()
	for fields.Next() {
		n.Fields = append(n.Fields, Field{Key: fields.Key(), Value: fields.Value()})
	}

	if mt, params, err := e.Header.ContentType(); err == nil && mt != "" {
		n.MediaType = strings.ToLower(mt)
		n.Params = params
	}
	if disp, params, err := e.Header.ContentDisposition(); err == nil {
		n.Disposition = strings.ToLower(disp)
		n.DispositionParams = params
	}

	if mr := e.MultipartReader(); mr != nil {
		for {
			pe, err := mr.NextPart()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil && !tolerable(err) {
				return nil, fmt.Errorf("next mime part: %w", err)
			}
			if pe == nil {
				break
			}
			child, err := fromEntity(log, pe, n)
			if err != nil {
				return nil, err
			}
			n.Children = append(n.Children, child)
		}
		return n, nil
	}

	buf, err := io.ReadAll(e.Body)
	if err != nil {
		return nil, fmt.Errorf("reading part body: %w", err)
	}

	// go-message leaves uuencoded payloads untouched (unknown encoding).
	// Decode them here so stored bodies are always the decoded content.
	switch n.TransferEncoding() {
	case "uuencode", "x-uuencode", "uue", "x-uue":
		if dec, name, derr := Uudecode(buf); derr == nil {
			buf = dec
			if name != "" && name != "-" && n.Filename() == "" {
				if n.DispositionParams == nil {
					n.DispositionParams = map[string]string{}
				}
				n.DispositionParams["filename"] = name
			}
		} else {
			log.Debugx("uudecode failed, keeping raw payload", derr)
		}
	}

	// Embedded messages become a child node, like any other container.
	if n.MediaType == "message/rfc822" || n.MediaType == "message/global" {
		sub, err := Parse(log, bytes.NewReader(buf))
		if err == nil {
			sub.Parent = n
			n.Children = []*Node{sub}
			return n, nil
		}
		log.Debugx("parsing embedded message, keeping as opaque part", err)
	}

	n.Bytes = buf
	if strings.HasPrefix(n.MediaType, "text/") {
		if text, ok := DecodeText(buf, n.Charset()); ok {
			n.Text = text
			n.IsText = true
		}
	}
	return n, nil
}

// Walk visits n and all its descendants in pre-order. If fn returns an
// error the walk stops and returns it.
func (n *Node) Walk(fn func(*Node) error) error {
	if err := fn(n); err != nil {
		return err
	}
	for _, c := range n.Children {
		if err := c.Walk(fn); err != nil {
			return err
		}
	}
	return nil
}

// IsLeaf reports whether this node has no child parts.
func (n *Node) IsLeaf() bool {
	return len(n.Children) == 0
}

// Header returns the value of the first header with the given name,
// case-insensitive, or the empty string.
func (n *Node) Header(name string) string {
	for _, f := range n.Fields {
		if strings.EqualFold(f.Key, name) {
			return f.Value
		}
	}
	return ""
}

// Charset returns the declared charset parameter, lower-case, or "".
func (n *Node) Charset() string {
	return strings.ToLower(n.Params["charset"])
}

// TransferEncoding returns the declared Content-Transfer-Encoding,
// lower-case, or "".
func (n *Node) TransferEncoding() string {
	return strings.ToLower(strings.TrimSpace(n.Header("Content-Transfer-Encoding")))
}

// Filename returns the filename from Content-Disposition, falling back to
// the name parameter of Content-Type, or "".
func (n *Node) Filename() string {
	if name := n.DispositionParams["filename"]; name != "" {
		return name
	}
	return n.Params["name"]
}
