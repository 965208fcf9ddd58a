package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/mjl-/bstore"
)

var ctxbg = context.Background()

func tcheck(t *testing.T, err error, msg string) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s: %s", msg, err)
	}
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(ctxbg, filepath.Join(t.TempDir(), "boxen.db"))
	tcheck(t, err, "open store")
	t.Cleanup(func() {
		s.Close()
	})
	return s
}

func TestBodyDedup(t *testing.T) {
	s := newTestStore(t)

	var first, second Body
	var created1, created2 bool
	err := s.DB.Write(ctxbg, func(tx *bstore.Tx) error {
		var err error
		first, created1, err = BodyEnsure(tx, []byte("same content"))
		if err != nil {
			return err
		}
		second, created2, err = BodyEnsure(tx, []byte("same content"))
		return err
	})
	tcheck(t, err, "ensure bodies")
	if !created1 || created2 {
		t.Fatalf("created flags %v, %v, expected true, false", created1, created2)
	}
	if first.ID != second.ID {
		t.Fatalf("identical content stored twice: ids %d, %d", first.ID, second.ID)
	}

	var other Body
	err = s.DB.Write(ctxbg, func(tx *bstore.Tx) error {
		var err error
		other, _, err = BodyEnsure(tx, []byte("different content"))
		return err
	})
	tcheck(t, err, "ensure different body")
	if other.ID == first.ID {
		t.Fatalf("different content shares body row")
	}
}

func TestHeaderDedup(t *testing.T) {
	s := newTestStore(t)

	err := s.DB.Write(ctxbg, func(tx *bstore.Tx) error {
		a, err := HeaderNameEnsure(tx, "Subject")
		if err != nil {
			return err
		}
		b, err := HeaderNameEnsure(tx, "Subject")
		if err != nil {
			return err
		}
		if a.ID != b.ID {
			t.Fatalf("header name stored twice")
		}
		v1, err := HeaderDataEnsure(tx, "hello")
		if err != nil {
			return err
		}
		v2, err := HeaderDataEnsure(tx, "hello")
		if err != nil {
			return err
		}
		if v1.ID != v2.ID {
			t.Fatalf("header value stored twice")
		}
		return nil
	})
	tcheck(t, err, "header dedup")
}

func TestDedupKeepsTxUsable(t *testing.T) {
	s := newTestStore(t)

	// A dedup hit must not abort the transaction: later inserts in the
	// same transaction have to succeed and commit. A repeated header
	// name within a single message exercises exactly this.
	var bodyID int64
	err := s.DB.Write(ctxbg, func(tx *bstore.Tx) error {
		if _, err := HeaderNameEnsure(tx, "X-Dup"); err != nil {
			return err
		}
		if _, err := HeaderNameEnsure(tx, "X-Dup"); err != nil {
			return err
		}
		if _, err := HeaderNameEnsure(tx, "X-Other"); err != nil {
			return err
		}
		if _, err := HeaderDataEnsure(tx, "same value"); err != nil {
			return err
		}
		if _, err := HeaderDataEnsure(tx, "same value"); err != nil {
			return err
		}
		b, _, err := BodyEnsure(tx, []byte("payload"))
		if err != nil {
			return err
		}
		if _, _, err := BodyEnsure(tx, []byte("payload")); err != nil {
			return err
		}
		bodyID = b.ID
		return nil
	})
	tcheck(t, err, "transaction with dedup hits")

	// Everything committed.
	names, err := bstore.QueryDB[HeaderName](ctxbg, s.DB).Count()
	tcheck(t, err, "count header names")
	if names != 2 {
		t.Fatalf("got %d header names, expected 2", names)
	}
	b := Body{ID: bodyID}
	err = s.DB.Read(ctxbg, func(tx *bstore.Tx) error {
		return tx.Get(&b)
	})
	tcheck(t, err, "fetch body after commit")
}

func TestConcurrentBodyDedup(t *testing.T) {
	s := newTestStore(t)

	const n = 8
	content := []byte("contended content")
	errs := make(chan error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.DB.Write(ctxbg, func(tx *bstore.Tx) error {
				_, _, err := BodyEnsure(tx, content)
				return err
			})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		tcheck(t, err, "concurrent ensure")
	}

	count, err := bstore.QueryDB[Body](ctxbg, s.DB).FilterNonzero(Body{Hash: ContentHash(content)}).Count()
	tcheck(t, err, "count bodies")
	if count != 1 {
		t.Fatalf("got %d body rows, expected 1", count)
	}
}

func TestInboxEnsure(t *testing.T) {
	s := newTestStore(t)

	a, err := s.InboxEnsure(ctxbg, "hiss", "example.org")
	tcheck(t, err, "ensure inbox")
	b, err := s.InboxEnsure(ctxbg, "hiss", "example.org")
	tcheck(t, err, "ensure inbox again")
	if a.ID != b.ID {
		t.Fatalf("inbox created twice: ids %d, %d", a.ID, b.ID)
	}
	if a.Address() != "hiss@example.org" {
		t.Fatalf("got address %q", a.Address())
	}

	other, err := s.InboxEnsure(ctxbg, "hiss", "example.com")
	tcheck(t, err, "ensure inbox other domain")
	if other.ID == a.ID {
		t.Fatalf("same localpart on other domain shares inbox")
	}

	found, err := s.InboxFind(ctxbg, "hiss", "example.org")
	tcheck(t, err, "find inbox")
	if found.ID != a.ID {
		t.Fatalf("found wrong inbox %d", found.ID)
	}
	if _, err := s.InboxFind(ctxbg, "absent", "example.org"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, expected ErrNotFound", err)
	}
}

// insertTestEmail stores a small two-part email by hand: a root with one
// child, each with one header and a body.
func insertTestEmail(t *testing.T, s *Store, inboxID int64) Email {
	t.Helper()
	var e Email
	err := s.DB.Write(ctxbg, func(tx *bstore.Tx) error {
		e = Email{InboxID: inboxID, Received: time.Now()}
		if err := tx.Insert(&e); err != nil {
			return err
		}
		rootBody, _, err := BodyEnsure(tx, []byte{})
		if err != nil {
			return err
		}
		root := Part{EmailID: e.ID, BodyID: rootBody.ID, Order: 0, ContentType: "multipart/mixed"}
		if err := tx.Insert(&root); err != nil {
			return err
		}
		if err := AddHeader(tx, root.ID, 0, "Subject", "test"); err != nil {
			return err
		}
		childBody, _, err := BodyEnsure(tx, []byte("child content"))
		if err != nil {
			return err
		}
		child := Part{EmailID: e.ID, ParentID: root.ID, BodyID: childBody.ID, Order: 1, ContentType: "text/plain"}
		if err := tx.Insert(&child); err != nil {
			return err
		}
		return AddHeader(tx, child.ID, 0, "Content-Type", "text/plain")
	})
	tcheck(t, err, "insert test email")
	return e
}

func TestLoadEmail(t *testing.T) {
	s := newTestStore(t)
	ib, err := s.InboxEnsure(ctxbg, "load", "example.org")
	tcheck(t, err, "ensure inbox")
	e := insertTestEmail(t, s, ib.ID)

	se, err := s.LoadEmail(ctxbg, e.ID)
	tcheck(t, err, "load email")
	if len(se.Parts) != 2 {
		t.Fatalf("got %d parts", len(se.Parts))
	}
	root := se.Root()
	if root == nil || root.Part.ContentType != "multipart/mixed" {
		t.Fatalf("bad root part %v", root)
	}
	if len(root.Children) != 1 || root.Children[0].Parent != root {
		t.Fatalf("tree links not restored")
	}
	if root.HeaderValue("Subject") != "test" {
		t.Fatalf("got subject %q", root.HeaderValue("Subject"))
	}
	if string(root.Children[0].Body) != "child content" {
		t.Fatalf("got child body %q", root.Children[0].Body)
	}

	if _, err := s.LoadEmail(ctxbg, e.ID+999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, expected ErrNotFound", err)
	}
}

func TestDeleteAndSweep(t *testing.T) {
	s := newTestStore(t)
	ib, err := s.InboxEnsure(ctxbg, "del", "example.org")
	tcheck(t, err, "ensure inbox")
	e1 := insertTestEmail(t, s, ib.ID)
	e2 := insertTestEmail(t, s, ib.ID)

	err = s.DeleteEmail(ctxbg, e1.ID)
	tcheck(t, err, "delete email")
	if _, err := s.LoadEmail(ctxbg, e1.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("deleted email still loads: %v", err)
	}
	count, err := bstore.QueryDB[Part](ctxbg, s.DB).FilterNonzero(Part{EmailID: e1.ID}).Count()
	tcheck(t, err, "count parts")
	if count != 0 {
		t.Fatalf("%d parts left after delete", count)
	}

	// The second email still references all shared content, nothing to
	// sweep yet.
	stats, err := s.SweepOrphans(ctxbg)
	tcheck(t, err, "sweep")
	if stats.Bodies != 0 || stats.HeaderNames != 0 || stats.HeaderDatas != 0 {
		t.Fatalf("swept shared content: %+v", stats)
	}

	err = s.DeleteEmail(ctxbg, e2.ID)
	tcheck(t, err, "delete second email")
	stats, err = s.SweepOrphans(ctxbg)
	tcheck(t, err, "sweep again")
	if stats.Bodies == 0 || stats.HeaderNames == 0 || stats.HeaderDatas == 0 {
		t.Fatalf("nothing swept: %+v", stats)
	}

	if err := s.DeleteEmail(ctxbg, e1.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, expected ErrNotFound", err)
	}
}

func TestFlags(t *testing.T) {
	s := newTestStore(t)
	ib, err := s.InboxEnsure(ctxbg, "flags", "example.org")
	tcheck(t, err, "ensure inbox")
	e := insertTestEmail(t, s, ib.ID)

	updated, err := s.UpdateFlags(ctxbg, e.ID, func(f Flags) Flags {
		f.Read = true
		f.Important = true
		return f
	})
	tcheck(t, err, "update flags")
	if !updated.Flags.Read || !updated.Flags.Important || updated.Flags.Seen {
		t.Fatalf("got flags %+v", updated.Flags)
	}

	// Emails flagged deleted disappear from the inbox listing.
	l, err := s.InboxEmails(ctxbg, ib.ID)
	tcheck(t, err, "list emails")
	if len(l) != 1 {
		t.Fatalf("got %d emails", len(l))
	}
	_, err = s.UpdateFlags(ctxbg, e.ID, func(f Flags) Flags {
		f.Deleted = true
		return f
	})
	tcheck(t, err, "flag deleted")
	l, err = s.InboxEmails(ctxbg, ib.ID)
	tcheck(t, err, "list emails again")
	if len(l) != 0 {
		t.Fatalf("deleted-flagged email still listed")
	}
}
