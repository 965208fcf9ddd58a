// Package export rebuilds stored emails as MIME messages and writes them
// out as mbox files and liberation archives.
//
// Reconstruction is the inverse of ingestion, with a flattened shape: the
// leaf parts are what matters. Text leaves become the message body (as
// alternatives when there are several), all other leaves become
// attachments, and the root part's headers are reattached on top. The
// decoded content of every leaf round-trips exactly; the transfer
// encoding and multipart nesting may differ from the original message.
package export

import (
	"context"
	"fmt"
	"strings"

	"github.com/inboxen/boxen/message"
	"github.com/inboxen/boxen/metrics"
	"github.com/inboxen/boxen/mlog"
	"github.com/inboxen/boxen/store"
)

// ErrorHeader marks a part whose payload could not be re-encoded under
// any supported transfer encoding. The part carries its raw payload and
// this header instead of aborting the export.
const ErrorHeader = "X-Boxen-Liberation-Error"

// Reconstructor rebuilds stored emails as MIME messages.
type Reconstructor struct {
	Store *store.Store

	log mlog.Log
}

// NewReconstructor returns a reconstructor reading from st.
func NewReconstructor(st *store.Store) *Reconstructor {
	return &Reconstructor{Store: st, log: mlog.New("export")}
}

// Message loads an email and rebuilds it as a serializable message.
func (r *Reconstructor) Message(ctx context.Context, emailID int64) (*Msg, error) {
	se, err := r.Store.LoadEmail(ctx, emailID)
	if err != nil {
		metrics.ExportInc("error")
		return nil, err
	}
	m, err := r.Rebuild(se)
	if err != nil {
		metrics.ExportInc("error")
		return nil, err
	}
	metrics.ExportInc("ok")
	return m, nil
}

// Rebuild turns a loaded email into a message.
func (r *Reconstructor) Rebuild(se *store.StoredEmail) (*Msg, error) {
	root := se.Root()
	if root == nil {
		return nil, fmt.Errorf("email %d has no root part", se.Email.ID)
	}

	// Leaves carry the content. text/plain and text/html leaves are the
	// message's bodies, everything else is an attachment.
	var texts, attachments []*store.StoredPart
	for _, p := range se.Parts {
		if !p.IsLeaf() {
			continue
		}
		switch p.Part.ContentType {
		case "text/plain", "text/html":
			texts = append(texts, p)
		default:
			attachments = append(attachments, p)
		}
	}

	var body *Msg
	switch len(texts) {
	case 0:
		// Never produce a bodiless message.
		body = &Msg{}
		body.Add("Content-Type", `text/plain; charset="utf-8"`)
	case 1:
		body = r.textMsg(texts[0])
	default:
		body = &Msg{Boundary: randomBoundary()}
		body.Add("Content-Type", fmt.Sprintf(`multipart/alternative; boundary=%q`, body.Boundary))
		for _, t := range texts {
			body.Parts = append(body.Parts, r.textMsg(t))
		}
	}

	if len(attachments) > 0 {
		mixed := &Msg{Boundary: randomBoundary()}
		mixed.Add("Content-Type", fmt.Sprintf(`multipart/mixed; boundary=%q`, mixed.Boundary))
		mixed.Parts = append(mixed.Parts, body)
		for _, a := range attachments {
			mixed.Parts = append(mixed.Parts, r.attachmentMsg(a))
		}
		body = mixed
	}

	if len(texts) == 1 && texts[0] == root && len(attachments) == 0 {
		// The root part is the whole message, its headers are already
		// carried by the body.
		if !body.Has("MIME-Version") {
			body.Add("MIME-Version", "1.0")
		}
		return body, nil
	}

	// Reattach the root part's headers in stored order, skipping the
	// structural ones the flattened shape redefines.
	var fields []Field
	for _, h := range root.Headers {
		if isStructural(h.Name) {
			continue
		}
		fields = append(fields, Field{h.Name, h.Data})
	}
	body.Fields = append(fields, body.Fields...)
	if !body.Has("MIME-Version") {
		body.Add("MIME-Version", "1.0")
	}
	return body, nil
}

func isStructural(name string) bool {
	return strings.EqualFold(name, "Content-Type") ||
		strings.EqualFold(name, "Content-Transfer-Encoding") ||
		strings.EqualFold(name, "MIME-Version")
}

// textMsg rebuilds a text leaf with all its stored headers and its
// payload re-encoded to match the declared transfer encoding.
func (r *Reconstructor) textMsg(p *store.StoredPart) *Msg {
	m := &Msg{}
	hasCTE := false
	for _, h := range p.Headers {
		m.Add(h.Name, h.Data)
		if strings.EqualFold(h.Name, "Content-Transfer-Encoding") {
			hasCTE = true
		}
	}
	if !m.Has("Content-Type") {
		ct := p.Part.ContentType
		if cs := p.Part.Charset; cs != "" {
			ct += fmt.Sprintf(`; charset=%q`, cs)
		}
		m.Add("Content-Type", ct)
	}

	cte := strings.ToLower(strings.TrimSpace(p.HeaderValue("Content-Transfer-Encoding")))
	switch cte {
	case "base64":
		m.Payload = encodeBase64(p.Body)
	case "quoted-printable":
		m.Payload = encodeQP(p.Body)
	case "uuencode", "x-uuencode", "uue", "x-uue":
		m.Payload = message.Uuencode(p.Part.Filename, p.Body)
	case "", "7bit", "7-bit", "8bit", "8-bit", "binary":
		if !hasCTE && !isASCII(p.Body) {
			m.Payload = encodeQP(p.Body)
			m.Add("Content-Transfer-Encoding", "quoted-printable")
		} else {
			m.Payload = p.Body
		}
	default:
		r.log.Debug("unsupported transfer encoding on export, marking part")
		m.Add(ErrorHeader, fmt.Sprintf("unsupported transfer encoding %q", cte))
		m.Payload = p.Body
		metrics.ExportPartErrorInc()
	}
	return m
}

// attachmentMsg rebuilds a non-text leaf: original Content-Type and
// Content-Disposition where stored, defaults where not, payload encoded
// by general type.
func (r *Reconstructor) attachmentMsg(p *store.StoredPart) *Msg {
	m := &Msg{}
	ct := p.HeaderValue("Content-Type")
	if ct == "" {
		ct = p.Part.ContentType
	}
	if !strings.Contains(ct, "/") {
		ct = "application/octet-stream"
	}
	m.Add("Content-Type", ct)

	general := strings.ToLower(strings.TrimSpace(strings.SplitN(strings.SplitN(ct, ";", 2)[0], "/", 2)[0]))
	if general == "text" {
		m.Add("Content-Transfer-Encoding", "quoted-printable")
		m.Payload = encodeQP(p.Body)
	} else {
		m.Add("Content-Transfer-Encoding", "base64")
		m.Payload = encodeBase64(p.Body)
	}

	disp := p.HeaderValue("Content-Disposition")
	if disp == "" && p.Part.Filename != "" {
		disp = fmt.Sprintf(`attachment; filename=%q`, p.Part.Filename)
	}
	if disp != "" {
		m.Add("Content-Disposition", disp)
	}
	return m
}
