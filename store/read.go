package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mjl-/bstore"

	"github.com/inboxen/boxen/message"
)

// StoredHeader is one header field of a part, resolved from the dedup
// pools, value verbatim as received.
type StoredHeader struct {
	Name    string
	Data    string
	Ordinal int
}

// StoredPart is one part of a loaded email, with resolved headers and
// body bytes, and links restoring the MIME tree.
type StoredPart struct {
	Part    Part
	Headers []StoredHeader // Sorted by ordinal.
	Body    []byte

	Parent   *StoredPart
	Children []*StoredPart
}

// IsLeaf reports whether the part has no child parts.
func (p *StoredPart) IsLeaf() bool {
	return len(p.Children) == 0
}

// HeaderValue returns the value of the part's first header with the given
// name, case-insensitive, or the empty string.
func (p *StoredPart) HeaderValue(name string) string {
	for _, h := range p.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Data
		}
	}
	return ""
}

// StoredEmail is a fully loaded email: the email record and its parts in
// tree (pre-)order.
type StoredEmail struct {
	Email Email
	Parts []*StoredPart // In walk order; Parts[0] is the root.
}

// Root returns the root part, or nil for a corrupt email without one.
func (e *StoredEmail) Root() *StoredPart {
	for _, p := range e.Parts {
		if p.Part.ParentID == 0 {
			return p
		}
	}
	return nil
}

// LoadEmail loads an email with its full part tree, headers and bodies,
// for reconstruction or display. Returns ErrNotFound if the email does
// not exist (e.g. deleted concurrently).
func (s *Store) LoadEmail(ctx context.Context, emailID int64) (*StoredEmail, error) {
	var se *StoredEmail
	err := s.DB.Read(ctx, func(tx *bstore.Tx) error {
		e := Email{ID: emailID}
		if err := tx.Get(&e); err != nil {
			if errors.Is(err, bstore.ErrAbsent) {
				return ErrNotFound
			}
			return fmt.Errorf("fetching email: %v", err)
		}
		parts, err := bstore.QueryTx[Part](tx).FilterNonzero(Part{EmailID: emailID}).SortAsc("Order").List()
		if err != nil {
			return fmt.Errorf("listing parts: %v", err)
		}

		se = &StoredEmail{Email: e}
		byID := map[int64]*StoredPart{}
		for _, p := range parts {
			sp := &StoredPart{Part: p}

			headers, err := bstore.QueryTx[Header](tx).FilterNonzero(Header{PartID: p.ID}).SortAsc("Ordinal").List()
			if err != nil {
				return fmt.Errorf("listing part headers: %v", err)
			}
			for _, h := range headers {
				hn := HeaderName{ID: h.NameID}
				hd := HeaderData{ID: h.DataID}
				if err := tx.Get(&hn, &hd); err != nil {
					return fmt.Errorf("resolving header: %v", err)
				}
				sp.Headers = append(sp.Headers, StoredHeader{Name: hn.Name, Data: hd.Data, Ordinal: h.Ordinal})
			}

			b := Body{ID: p.BodyID}
			if err := tx.Get(&b); err != nil {
				return fmt.Errorf("fetching body: %v", err)
			}
			sp.Body = b.Data

			byID[p.ID] = sp
			se.Parts = append(se.Parts, sp)
		}
		for _, sp := range se.Parts {
			if sp.Part.ParentID == 0 {
				continue
			}
			parent := byID[sp.Part.ParentID]
			if parent == nil {
				return fmt.Errorf("part %d references parent %d outside email %d", sp.Part.ID, sp.Part.ParentID, emailID)
			}
			sp.Parent = parent
			parent.Children = append(parent.Children, sp)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return se, nil
}

// SearchText returns the text to feed to the search indexer for an email:
// the decoded content of its text/plain leaf parts in tree order, decoded
// leniently (bad bytes become replacement characters rather than errors).
func (s *Store) SearchText(ctx context.Context, emailID int64) (string, error) {
	se, err := s.LoadEmail(ctx, emailID)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, p := range se.Parts {
		if !p.IsLeaf() || p.Part.ContentType != "text/plain" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(message.DecodeTextLossy(p.Body, p.Part.Charset))
	}
	return b.String(), nil
}
