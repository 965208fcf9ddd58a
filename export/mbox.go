package export

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/inboxen/boxen/store"
)

// MboxWriter writes messages to an mbox file: each message prefixed with
// a From line, body lines with bare LF endings, and lines that would look
// like a From line quoted with ">".
type MboxWriter struct {
	w *bufio.Writer
}

// NewMboxWriter returns an mbox writer writing to w.
func NewMboxWriter(w io.Writer) *MboxWriter {
	return &MboxWriter{w: bufio.NewWriter(w)}
}

var fromLine = []byte("From ")

// WriteMessage writes one message. The sender goes on the From line
// (use "mbox" or similar when unknown); received is the delivery time.
func (mw *MboxWriter) WriteMessage(m *Msg, sender string, received time.Time) error {
	if sender == "" {
		sender = "mbox"
	}
	if _, err := fmt.Fprintf(mw.w, "From %s %s\n", sender, received.Format(time.ANSIC)); err != nil {
		return fmt.Errorf("writing from line: %v", err)
	}

	r := bufio.NewReader(bytes.NewReader(m.Bytes()))
	for {
		line, err := r.ReadBytes('\n')
		if len(line) > 0 {
			line = bytes.TrimRight(line, "\r\n")
			if bytes.HasPrefix(bytes.TrimLeft(line, ">"), fromLine) {
				if err := mw.w.WriteByte('>'); err != nil {
					return fmt.Errorf("writing message: %v", err)
				}
			}
			if _, err := mw.w.Write(line); err != nil {
				return fmt.Errorf("writing message: %v", err)
			}
			if err := mw.w.WriteByte('\n'); err != nil {
				return fmt.Errorf("writing message: %v", err)
			}
		}
		if err == io.EOF {
			break
		} else if err != nil {
			return fmt.Errorf("reading message: %v", err)
		}
	}
	// Blank line separating messages.
	if err := mw.w.WriteByte('\n'); err != nil {
		return fmt.Errorf("writing message separator: %v", err)
	}
	return nil
}

// Flush flushes buffered output to the underlying writer.
func (mw *MboxWriter) Flush() error {
	return mw.w.Flush()
}

// WriteMbox reconstructs all emails of an inbox, most recent last, and
// writes them as an mbox stream to w. Emails that fail to reconstruct
// are skipped after logging; one broken email must not block the rest.
func (r *Reconstructor) WriteMbox(ctx context.Context, w io.Writer, inbox store.Inbox) error {
	emails, err := r.Store.InboxEmails(ctx, inbox.ID)
	if err != nil {
		return fmt.Errorf("listing inbox emails: %v", err)
	}
	mw := NewMboxWriter(w)
	for i := len(emails) - 1; i >= 0; i-- {
		e := emails[i]
		m, err := r.Message(ctx, e.ID)
		if err != nil {
			r.log.Errorx("reconstructing email for mbox, skipping", err)
			continue
		}
		sender := senderAddress(m)
		if err := mw.WriteMessage(m, sender, e.Received); err != nil {
			return err
		}
	}
	return mw.Flush()
}

// senderAddress extracts a bare address from the message's From header
// for use on the mbox From line, or "".
func senderAddress(m *Msg) string {
	for _, f := range m.Fields {
		if !strings.EqualFold(f.Key, "From") {
			continue
		}
		v := f.Value
		if i := strings.IndexByte(v, '<'); i >= 0 {
			if j := strings.IndexByte(v[i:], '>'); j > 0 {
				return v[i+1 : i+j]
			}
		}
		return strings.TrimSpace(v)
	}
	return ""
}
