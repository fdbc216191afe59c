// Package producer builds catalog entries from the artifact files of a
// storage layout. There is one producer per event kind.
package producer

import (
	"context"
	"crypto/md5"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/unkn0wn-root/entrysync"
)

// Layout maps a storage id to its root directory. Repositories are
// directories under the root.
type Layout map[string]string

// File returns the filesystem location of p.
func (l Layout) File(p entrysync.Path) (string, error) {
	root, ok := l[p.Storage]
	if !ok {
		return "", fmt.Errorf("unknown storage %q", p.Storage)
	}
	return filepath.Join(root, p.Repository, filepath.FromSlash(p.Name)), nil
}

// ByKind returns the producer for events of kind, or nil when none exists.
func ByKind(kind entrysync.EventKind, l Layout, entries entrysync.Resolver, now func() time.Time) entrysync.Producer {
	switch kind {
	case entrysync.ArtifactStored:
		return Stored{Layout: l, Entries: entries, Now: now}
	case entrysync.ArtifactUpdated:
		return Updated{Layout: l, Entries: entries, Now: now}
	case entrysync.ArtifactDownloaded:
		return Downloaded{Entries: entries, Now: now}
	}
	return nil
}

// Stored describes a newly written file. An existing entry keeps its
// identity, creation time, usage and version; everything read from the file
// is refreshed.
type Stored struct {
	Layout  Layout
	Entries entrysync.Resolver
	Now     func() time.Time
}

func (s Stored) Produce(ctx context.Context, p entrysync.Path) (entrysync.Record, error) {
	r, err := s.Entries.Resolve(ctx, p)
	switch {
	case errors.Is(err, entrysync.ErrNotFound):
		now := clock(s.Now)
		r = entrysync.Record{
			StorageID:    p.Storage,
			RepositoryID: p.Repository,
			ArtifactPath: p.Name,
			Created:      now,
			LastUsed:     now,
		}
	case err != nil:
		return entrysync.Record{}, err
	}
	return refresh(ctx, s.Layout, p, r, s.Now)
}

// Updated refreshes the file attributes of an existing entry.
type Updated struct {
	Layout  Layout
	Entries entrysync.Resolver
	Now     func() time.Time
}

func (u Updated) Produce(ctx context.Context, p entrysync.Path) (entrysync.Record, error) {
	r, err := u.Entries.Resolve(ctx, p)
	if err != nil {
		return entrysync.Record{}, fmt.Errorf("entry %s: %w", p, err)
	}
	return refresh(ctx, u.Layout, p, r, u.Now)
}

// Downloaded counts a download of an existing entry. The file is not read.
type Downloaded struct {
	Entries entrysync.Resolver
	Now     func() time.Time
}

func (d Downloaded) Produce(ctx context.Context, p entrysync.Path) (entrysync.Record, error) {
	r, err := d.Entries.Resolve(ctx, p)
	if err != nil {
		return entrysync.Record{}, fmt.Errorf("entry %s: %w", p, err)
	}
	r.DownloadCount++
	r.LastUsed = clock(d.Now)
	return r, nil
}

func refresh(ctx context.Context, l Layout, p entrysync.Path, r entrysync.Record, now func() time.Time) (entrysync.Record, error) {
	file, err := l.File(p)
	if err != nil {
		return entrysync.Record{}, &entrysync.IOError{Path: p, Err: err}
	}
	size, sums, err := digest(ctx, file)
	if err != nil {
		return entrysync.Record{}, &entrysync.IOError{Path: p, Err: err}
	}
	r.Size = size
	r.Checksums = sums
	r.LastUpdated = clock(now)
	return r, nil
}

// digest hashes file in one pass.
func digest(ctx context.Context, file string) (int64, map[string]string, error) {
	f, err := os.Open(file)
	if err != nil {
		return 0, nil, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return 0, nil, err
	}
	if fi.IsDir() {
		return 0, nil, fmt.Errorf("%s is a directory", file)
	}

	m, s := md5.New(), sha1.New()
	n, err := io.Copy(io.MultiWriter(m, s), &ctxReader{ctx: ctx, r: f})
	if err != nil {
		return 0, nil, err
	}
	return n, map[string]string{
		"md5":  hex.EncodeToString(m.Sum(nil)),
		"sha1": hex.EncodeToString(s.Sum(nil)),
	}, nil
}

// ctxReader stops a long copy once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

func clock(now func() time.Time) time.Time {
	if now == nil {
		return time.Now().UTC()
	}
	return now()
}
