package export

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/inboxen/boxen/store"
)

// Liberation writes a full data takeout: an archive with one mbox file
// per inbox, a machine-readable profile, and a report of emails that
// could not be reconstructed.

// Archiver can archive multiple inboxes and their metadata files.
type Archiver interface {
	Create(name string, size int64, mtime time.Time) (io.Writer, error)
	Close() error
}

// TarArchiver is an Archiver that writes to a tar file.
type TarArchiver struct {
	*tar.Writer
}

// Create adds a file header to the tar file.
func (a TarArchiver) Create(name string, size int64, mtime time.Time) (io.Writer, error) {
	hdr := tar.Header{
		Name:    name,
		Size:    size,
		Mode:    0600,
		ModTime: mtime,
		Format:  tar.FormatPAX,
	}
	if err := a.WriteHeader(&hdr); err != nil {
		return nil, err
	}
	return a, nil
}

// ZipArchiver is an Archiver that writes to a zip file.
type ZipArchiver struct {
	*zip.Writer
}

// Create adds a file header to the zip file.
func (a ZipArchiver) Create(name string, size int64, mtime time.Time) (io.Writer, error) {
	hdr := zip.FileHeader{
		Name:               name,
		Method:             zip.Deflate,
		Modified:           mtime,
		UncompressedSize64: uint64(size),
	}
	return a.CreateHeader(&hdr)
}

// LiberationProfile is the metadata file included in the archive.
type LiberationProfile struct {
	Exported time.Time         `json:"exported"`
	Inboxes  []LiberationInbox `json:"inboxes"`
}

// LiberationInbox describes one inbox in the archive.
type LiberationInbox struct {
	Address string    `json:"address"`
	Created time.Time `json:"created"`
	Deleted bool      `json:"deleted"`
	Emails  int       `json:"emails"`
	Mbox    string    `json:"mbox"`
}

// Liberate writes a gzipped tar archive of the given inboxes to w.
func (r *Reconstructor) Liberate(ctx context.Context, w io.Writer, inboxes []store.Inbox) error {
	gzw := gzip.NewWriter(w)
	if err := r.LiberateArchive(ctx, TarArchiver{tar.NewWriter(gzw)}, inboxes); err != nil {
		return err
	}
	if err := gzw.Close(); err != nil {
		return fmt.Errorf("closing gzip: %v", err)
	}
	return nil
}

// LiberateArchive writes the given inboxes to an archive. Each inbox
// becomes <address>.mbox; reconstruction failures are recorded in
// errors.txt and do not abort the archive.
func (r *Reconstructor) LiberateArchive(ctx context.Context, archive Archiver, inboxes []store.Inbox) error {
	profile := LiberationProfile{Exported: time.Now()}
	var errorsBuf bytes.Buffer

	for _, ib := range inboxes {
		emails, err := r.Store.InboxEmails(ctx, ib.ID)
		if err != nil {
			return fmt.Errorf("listing emails of %s: %v", ib.Address(), err)
		}

		var mboxBuf bytes.Buffer
		mw := NewMboxWriter(&mboxBuf)
		written := 0
		for i := len(emails) - 1; i >= 0; i-- {
			e := emails[i]
			m, err := r.Message(ctx, e.ID)
			if err != nil {
				fmt.Fprintf(&errorsBuf, "%s: email %d: %v\n", ib.Address(), e.ID, err)
				continue
			}
			if err := mw.WriteMessage(m, senderAddress(m), e.Received); err != nil {
				return fmt.Errorf("writing mbox for %s: %v", ib.Address(), err)
			}
			written++
		}
		if err := mw.Flush(); err != nil {
			return fmt.Errorf("flushing mbox for %s: %v", ib.Address(), err)
		}

		name := ib.Address() + ".mbox"
		if err := addFile(archive, name, mboxBuf.Bytes()); err != nil {
			return err
		}
		profile.Inboxes = append(profile.Inboxes, LiberationInbox{
			Address: ib.Address(),
			Created: ib.Created,
			Deleted: ib.Deleted,
			Emails:  written,
			Mbox:    name,
		})
	}

	pj, err := json.MarshalIndent(profile, "", "\t")
	if err != nil {
		return fmt.Errorf("marshal profile: %v", err)
	}
	if err := addFile(archive, "profile.json", pj); err != nil {
		return err
	}
	if errorsBuf.Len() > 0 {
		if err := addFile(archive, "errors.txt", errorsBuf.Bytes()); err != nil {
			return err
		}
	}

	if err := archive.Close(); err != nil {
		return fmt.Errorf("closing archive: %v", err)
	}
	return nil
}

func addFile(archive Archiver, name string, data []byte) error {
	w, err := archive.Create(name, int64(len(data)), time.Now())
	if err != nil {
		return fmt.Errorf("adding %s to archive: %v", name, err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("writing %s to archive: %v", name, err)
	}
	return nil
}
