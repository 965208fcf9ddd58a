// Package ingest turns incoming messages into stored emails.
//
// A message is parsed into a MIME node tree, normalized and written to
// the store as one transaction: the Email record plus one Part per node
// with its headers, in tree order. Either the whole message is stored or
// nothing is.
package ingest

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/mjl-/bstore"

	"github.com/inboxen/boxen/message"
	"github.com/inboxen/boxen/metrics"
	"github.com/inboxen/boxen/mlog"
	"github.com/inboxen/boxen/store"
)

// Indexer is notified of newly stored emails, after their transaction
// committed, so search indexes only ever see complete emails. Index
// errors are logged, not returned: indexing is best-effort and must not
// fail a delivery that is already durable.
type Indexer interface {
	Index(ctx context.Context, email store.Email) error
}

// IndexFunc adapts a function to the Indexer interface.
type IndexFunc func(ctx context.Context, email store.Email) error

func (f IndexFunc) Index(ctx context.Context, email store.Email) error {
	return f(ctx, email)
}

// Service ingests messages into a store.
type Service struct {
	Store   *store.Store
	Indexer Indexer // Optional.

	log mlog.Log
}

// NewService returns a service delivering into st, notifying indexer (may
// be nil) after each stored email.
func NewService(st *store.Store, indexer Indexer) *Service {
	return &Service{Store: st, Indexer: indexer, log: mlog.New("ingest")}
}

// Deliver parses the message from r and stores it as a new email in the
// inbox. The raw message is not kept, only the normalized part tree.
func (s *Service) Deliver(ctx context.Context, inboxID int64, r io.Reader) (store.Email, error) {
	root, err := message.Parse(s.log, r)
	if err != nil {
		metrics.IngestInc("parseerror")
		return store.Email{}, fmt.Errorf("parsing message: %w", err)
	}
	return s.MakeEmail(ctx, inboxID, root)
}

// MakeEmail stores a parsed message tree as a new email in the inbox.
// The email, all parts, their headers and any new content pool records
// are written in one transaction.
func (s *Service) MakeEmail(ctx context.Context, inboxID int64, root *message.Node) (store.Email, error) {
	var e store.Email
	var nparts int
	err := s.Store.DB.Write(ctx, func(tx *bstore.Tx) error {
		e = store.Email{InboxID: inboxID, Received: time.Now()}
		if err := tx.Insert(&e); err != nil {
			return fmt.Errorf("inserting email: %v", err)
		}
		ins := &inserter{tx: tx, emailID: e.ID}
		if err := ins.insertNode(root, 0); err != nil {
			return err
		}
		nparts = ins.order
		return nil
	})
	if err != nil {
		metrics.IngestInc("error")
		return store.Email{}, err
	}
	metrics.IngestInc("ok")
	metrics.IngestPartsAdd(nparts)
	s.log.Debug("email stored")

	if s.Indexer != nil {
		if err := s.Indexer.Index(ctx, e); err != nil {
			s.log.Errorx("indexing new email", err)
		}
	}
	return e, nil
}

type inserter struct {
	tx      *bstore.Tx
	emailID int64
	order   int // Pre-order position of the next part.
}

func (ins *inserter) insertNode(n *message.Node, parentID int64) error {
	body, _, err := store.BodyEnsure(ins.tx, message.EncodeBody(n))
	if err != nil {
		return err
	}

	p := store.Part{
		EmailID:     ins.emailID,
		ParentID:    parentID,
		BodyID:      body.ID,
		Order:       ins.order,
		ContentType: n.MediaType,
		Charset:     n.Charset(),
		Filename:    n.Filename(),
	}
	ins.order++
	if err := ins.tx.Insert(&p); err != nil {
		return fmt.Errorf("inserting part: %v", err)
	}

	// The ordinal is a running counter over the iteration, so repeated
	// header names keep distinct, stable positions.
	for ordinal, f := range n.Fields {
		if err := store.AddHeader(ins.tx, p.ID, ordinal, f.Key, f.Value); err != nil {
			return err
		}
	}

	for _, c := range n.Children {
		if err := ins.insertNode(c, p.ID); err != nil {
			return err
		}
	}
	return nil
}
