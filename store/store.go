/*
Package store implements storage for inboxes and their emails.

An Email owns a tree of Parts, one per MIME node, in pre-order. Part
payloads live in Body records, content-addressed by a hash of the exact
bytes so identical content is stored once across all emails. Header
names and values are deduplicated the same way (HeaderName, HeaderData),
with Header join records binding them to a Part at an explicit ordinal,
preserving original header order including repeated names.

Body, HeaderName and HeaderData are shared content pools without an
owner. Deleting an email removes its Parts and Headers but leaves the
pools; SweepOrphans reclaims unreferenced pool records.
*/
package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/mjl-/bstore"

	"github.com/inboxen/boxen/mlog"
)

// ErrNotFound is returned when a requested record does not exist. During
// export this is an expected outcome (the email may have been deleted
// concurrently), not a bug.
var ErrNotFound = errors.New("not found")

// Inbox is a destination address emails are delivered to.
type Inbox struct {
	ID        int64
	Localpart string    `bstore:"nonzero,unique Localpart+Domain"`
	Domain    string    `bstore:"nonzero"`
	Created   time.Time `bstore:"default now"`
	Deleted   bool
}

// Address returns the address this inbox receives mail on.
func (ib Inbox) Address() string {
	return ib.Localpart + "@" + ib.Domain
}

// Flags are the mutable per-email flags.
type Flags struct {
	Read      bool
	Seen      bool
	Important bool
	Deleted   bool
}

// Email is one received message. It is created together with its full
// Part tree in a single transaction and only its Flags change afterwards.
type Email struct {
	ID       int64
	InboxID  int64     `bstore:"nonzero,ref Inbox,index InboxID+Received"`
	Received time.Time `bstore:"nonzero"`
	Flags    Flags
}

// Body is a content-addressed blob, shared by any number of parts across
// any number of emails.
type Body struct {
	ID   int64
	Hash string `bstore:"nonzero,unique"`
	Data []byte
}

// HeaderName is a deduplicated header field name.
type HeaderName struct {
	ID   int64
	Name string `bstore:"nonzero,unique"`
}

// HeaderData is a deduplicated, content-addressed header field value.
type HeaderData struct {
	ID   int64
	Hash string `bstore:"nonzero,unique"`
	Data string
}

// Part is one node of an email's MIME tree. The root part has ParentID 0.
// Order is the pre-order position within the email, so both sibling order
// and walk order can be reconstructed. ContentType, Charset and Filename
// are derived from the part's headers at ingestion time, cached for
// queries.
type Part struct {
	ID          int64
	EmailID     int64 `bstore:"nonzero,ref Email,index EmailID+Order"`
	ParentID    int64 `bstore:"ref Part"`
	BodyID      int64 `bstore:"nonzero,ref Body"`
	Order       int
	ContentType string
	Charset     string
	Filename    string
}

// Header binds a deduplicated name/value pair to a part. Ordinal is the
// position of the field in the part's original header, counted while
// iterating, so repeated names keep their exact positions.
type Header struct {
	ID      int64
	PartID  int64 `bstore:"nonzero,ref Part,index PartID+Ordinal"`
	NameID  int64 `bstore:"nonzero,ref HeaderName"`
	DataID  int64 `bstore:"nonzero,ref HeaderData"`
	Ordinal int
}

// DBTypes lists the types stored in the database.
var DBTypes = []any{Inbox{}, Email{}, Part{}, Body{}, HeaderName{}, HeaderData{}, Header{}}

// Store is an open message database.
type Store struct {
	DB *bstore.DB

	log mlog.Log
}

// Open opens the message database at path, creating it if needed.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := bstore.Open(ctx, path, &bstore.Options{Timeout: 5 * time.Second, Perm: 0660}, DBTypes...)
	if err != nil {
		return nil, fmt.Errorf("open database: %v", err)
	}
	return &Store{DB: db, log: mlog.New("store")}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.DB.Close()
}

// ContentHash returns the dedup key for data: the hash algorithm name and
// the hex digest of the exact bytes.
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// InboxEnsure returns the inbox for localpart@domain, creating it if it
// does not exist yet.
func (s *Store) InboxEnsure(ctx context.Context, localpart, domain string) (Inbox, error) {
	var ib Inbox
	err := s.DB.Write(ctx, func(tx *bstore.Tx) error {
		// Lookup before insert: bbolt's single writer makes this
		// race-free, and a unique violation would botch the transaction.
		var err error
		ib, err = bstore.QueryTx[Inbox](tx).FilterNonzero(Inbox{Localpart: localpart, Domain: domain}).Get()
		if err == nil {
			return nil
		}
		if !errors.Is(err, bstore.ErrAbsent) {
			return fmt.Errorf("looking up inbox: %v", err)
		}
		ib = Inbox{Localpart: localpart, Domain: domain}
		if err := tx.Insert(&ib); err != nil {
			return fmt.Errorf("inserting inbox: %v", err)
		}
		return nil
	})
	if err != nil {
		return Inbox{}, err
	}
	return ib, nil
}

// InboxFind returns the inbox for localpart@domain, or ErrNotFound.
func (s *Store) InboxFind(ctx context.Context, localpart, domain string) (Inbox, error) {
	ib, err := bstore.QueryDB[Inbox](ctx, s.DB).FilterNonzero(Inbox{Localpart: localpart, Domain: domain}).Get()
	if errors.Is(err, bstore.ErrAbsent) {
		return Inbox{}, ErrNotFound
	}
	return ib, err
}

// Inboxes returns all inboxes, oldest first.
func (s *Store) Inboxes(ctx context.Context) ([]Inbox, error) {
	l, err := bstore.QueryDB[Inbox](ctx, s.DB).SortAsc("ID").List()
	if err != nil {
		return nil, fmt.Errorf("listing inboxes: %v", err)
	}
	return l, nil
}

// UpdateFlags atomically applies fn to the flags of the email.
func (s *Store) UpdateFlags(ctx context.Context, emailID int64, fn func(Flags) Flags) (Email, error) {
	var e Email
	err := s.DB.Write(ctx, func(tx *bstore.Tx) error {
		e = Email{ID: emailID}
		if err := tx.Get(&e); err != nil {
			if errors.Is(err, bstore.ErrAbsent) {
				return ErrNotFound
			}
			return err
		}
		e.Flags = fn(e.Flags)
		return tx.Update(&e)
	})
	if err != nil {
		return Email{}, err
	}
	return e, nil
}

// InboxEmails returns the emails of an inbox, most recently received
// first. Emails flagged deleted are skipped.
func (s *Store) InboxEmails(ctx context.Context, inboxID int64) ([]Email, error) {
	l, err := bstore.QueryDB[Email](ctx, s.DB).FilterNonzero(Email{InboxID: inboxID}).SortDesc("Received").List()
	if err != nil {
		return nil, fmt.Errorf("listing emails: %v", err)
	}
	var r []Email
	for _, e := range l {
		if !e.Flags.Deleted {
			r = append(r, e)
		}
	}
	return r, nil
}
