package store

import (
	"errors"
	"fmt"

	"github.com/mjl-/bstore"

	"github.com/inboxen/boxen/metrics"
)

// The content pools are shared by all emails and written by concurrent
// ingestion transactions that may carry identical content. bbolt allows
// a single write transaction at a time, so a lookup followed by an
// insert cannot race with another writer. Inserting first would not
// work here: a unique index violation leaves the bstore transaction
// unusable (ErrTxBotched), aborting the whole ingestion.

// BodyEnsure returns the body record for data, inserting it if this is
// the first time the content is seen. The returned bool is whether a new
// record was created.
func BodyEnsure(tx *bstore.Tx, data []byte) (Body, bool, error) {
	hash := ContentHash(data)
	b, err := bstore.QueryTx[Body](tx).FilterNonzero(Body{Hash: hash}).Get()
	if err == nil {
		metrics.DedupInc("body", false)
		return b, false, nil
	}
	if !errors.Is(err, bstore.ErrAbsent) {
		return Body{}, false, fmt.Errorf("looking up body: %w", err)
	}
	b = Body{Hash: hash, Data: data}
	if err := tx.Insert(&b); err != nil {
		return Body{}, false, fmt.Errorf("inserting body: %w", err)
	}
	metrics.DedupInc("body", true)
	return b, true, nil
}

// HeaderNameEnsure returns the deduplicated record for a header name.
func HeaderNameEnsure(tx *bstore.Tx, name string) (HeaderName, error) {
	hn, err := bstore.QueryTx[HeaderName](tx).FilterNonzero(HeaderName{Name: name}).Get()
	if err == nil {
		metrics.DedupInc("headername", false)
		return hn, nil
	}
	if !errors.Is(err, bstore.ErrAbsent) {
		return HeaderName{}, fmt.Errorf("looking up header name: %w", err)
	}
	hn = HeaderName{Name: name}
	if err := tx.Insert(&hn); err != nil {
		return HeaderName{}, fmt.Errorf("inserting header name: %w", err)
	}
	metrics.DedupInc("headername", true)
	return hn, nil
}

// HeaderDataEnsure returns the deduplicated record for a header value.
func HeaderDataEnsure(tx *bstore.Tx, data string) (HeaderData, error) {
	hash := ContentHash([]byte(data))
	hd, err := bstore.QueryTx[HeaderData](tx).FilterNonzero(HeaderData{Hash: hash}).Get()
	if err == nil {
		metrics.DedupInc("headerdata", false)
		return hd, nil
	}
	if !errors.Is(err, bstore.ErrAbsent) {
		return HeaderData{}, fmt.Errorf("looking up header value: %w", err)
	}
	hd = HeaderData{Hash: hash, Data: data}
	if err := tx.Insert(&hd); err != nil {
		return HeaderData{}, fmt.Errorf("inserting header value: %w", err)
	}
	metrics.DedupInc("headerdata", true)
	return hd, nil
}

// AddHeader records one header field for a part at the given ordinal,
// value verbatim, deduplicating name and value.
func AddHeader(tx *bstore.Tx, partID int64, ordinal int, name, value string) error {
	hn, err := HeaderNameEnsure(tx, name)
	if err != nil {
		return err
	}
	hd, err := HeaderDataEnsure(tx, value)
	if err != nil {
		return err
	}
	h := Header{PartID: partID, NameID: hn.ID, DataID: hd.ID, Ordinal: ordinal}
	if err := tx.Insert(&h); err != nil {
		return fmt.Errorf("inserting header: %w", err)
	}
	return nil
}
