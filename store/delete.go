package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/mjl-/bstore"
)

// DeleteEmail removes an email and its parts and headers in one
// transaction. Shared Body/HeaderName/HeaderData records stay behind for
// SweepOrphans. Returns ErrNotFound if the email does not exist.
func (s *Store) DeleteEmail(ctx context.Context, emailID int64) error {
	return s.DB.Write(ctx, func(tx *bstore.Tx) error {
		e := Email{ID: emailID}
		if err := tx.Get(&e); err != nil {
			if errors.Is(err, bstore.ErrAbsent) {
				return ErrNotFound
			}
			return fmt.Errorf("fetching email: %v", err)
		}
		// Descending tree order deletes children before their parents,
		// keeping the parent reference valid at each step.
		parts, err := bstore.QueryTx[Part](tx).FilterNonzero(Part{EmailID: emailID}).SortDesc("Order").List()
		if err != nil {
			return fmt.Errorf("listing parts: %v", err)
		}
		for _, p := range parts {
			if _, err := bstore.QueryTx[Header](tx).FilterNonzero(Header{PartID: p.ID}).Delete(); err != nil {
				return fmt.Errorf("deleting part headers: %v", err)
			}
			if err := tx.Delete(&Part{ID: p.ID}); err != nil {
				return fmt.Errorf("deleting part: %v", err)
			}
		}
		if err := tx.Delete(&Email{ID: emailID}); err != nil {
			return fmt.Errorf("deleting email: %v", err)
		}
		return nil
	})
}

// SweepStats reports what an orphan sweep removed.
type SweepStats struct {
	Bodies      int
	HeaderNames int
	HeaderDatas int
}

// SweepOrphans removes Body, HeaderName and HeaderData records that no
// part or header references anymore, reclaiming space after email
// deletion. Runs as one write transaction.
func (s *Store) SweepOrphans(ctx context.Context) (SweepStats, error) {
	var stats SweepStats
	err := s.DB.Write(ctx, func(tx *bstore.Tx) error {
		usedBodies := map[int64]bool{}
		err := bstore.QueryTx[Part](tx).ForEach(func(p Part) error {
			usedBodies[p.BodyID] = true
			return nil
		})
		if err != nil {
			return fmt.Errorf("scanning parts: %v", err)
		}
		usedNames := map[int64]bool{}
		usedDatas := map[int64]bool{}
		err = bstore.QueryTx[Header](tx).ForEach(func(h Header) error {
			usedNames[h.NameID] = true
			usedDatas[h.DataID] = true
			return nil
		})
		if err != nil {
			return fmt.Errorf("scanning headers: %v", err)
		}

		n, err := bstore.QueryTx[Body](tx).FilterFn(func(b Body) bool { return !usedBodies[b.ID] }).Delete()
		if err != nil {
			return fmt.Errorf("deleting orphan bodies: %v", err)
		}
		stats.Bodies = n

		n, err = bstore.QueryTx[HeaderName](tx).FilterFn(func(hn HeaderName) bool { return !usedNames[hn.ID] }).Delete()
		if err != nil {
			return fmt.Errorf("deleting orphan header names: %v", err)
		}
		stats.HeaderNames = n

		n, err = bstore.QueryTx[HeaderData](tx).FilterFn(func(hd HeaderData) bool { return !usedDatas[hd.ID] }).Delete()
		if err != nil {
			return fmt.Errorf("deleting orphan header values: %v", err)
		}
		stats.HeaderDatas = n
		return nil
	})
	if err != nil {
		return SweepStats{}, err
	}
	s.log.Debug("orphan sweep done")
	return stats, nil
}
