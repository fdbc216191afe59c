package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/unkn0wn-root/entrysync"
)

const selectCols = `storage_id, repository_id, artifact_path, size, checksums,
	created, last_updated, last_used, download_count, version`

// Save writes r if the stored version is still r.Version and returns it
// with the next version. Version 0 inserts a new entry. Either way a
// concurrent writer that got there first yields entrysync.ErrConflict.
func (s *Store) Save(ctx context.Context, r entrysync.Record) (entrysync.Record, error) {
	sums, err := json.Marshal(nonNil(r.Checksums))
	if err != nil {
		return entrysync.Record{}, fmt.Errorf("save entry: %w", err)
	}
	q := s.q(ctx)

	if r.Version == 0 {
		_, err = q.ExecContext(ctx, `
			INSERT INTO artifact_entries (`+selectCols+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
		`,
			r.StorageID, r.RepositoryID, r.ArtifactPath, r.Size, string(sums),
			ts(r.Created), ts(r.LastUpdated), ts(r.LastUsed), r.DownloadCount,
		)
		if err != nil {
			return entrysync.Record{}, mapErr(fmt.Errorf("save entry %s: %w", r.Path(), err))
		}
		r.Version = 1
		return r, nil
	}

	res, err := q.ExecContext(ctx, `
		UPDATE artifact_entries
		SET size = ?, checksums = ?, created = ?, last_updated = ?, last_used = ?,
		    download_count = ?, version = version + 1
		WHERE storage_id = ? AND repository_id = ? AND artifact_path = ? AND version = ?
	`,
		r.Size, string(sums), ts(r.Created), ts(r.LastUpdated), ts(r.LastUsed), r.DownloadCount,
		r.StorageID, r.RepositoryID, r.ArtifactPath, r.Version,
	)
	if err != nil {
		return entrysync.Record{}, mapErr(fmt.Errorf("save entry %s: %w", r.Path(), err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return entrysync.Record{}, fmt.Errorf("save entry %s: %w", r.Path(), err)
	}
	if n == 0 {
		return entrysync.Record{}, fmt.Errorf("save entry %s at version %d: %w", r.Path(), r.Version, entrysync.ErrConflict)
	}
	r.Version++
	return r, nil
}

// Resolve returns the entry stored for p or entrysync.ErrNotFound.
func (s *Store) Resolve(ctx context.Context, p entrysync.Path) (entrysync.Record, error) {
	row := s.q(ctx).QueryRowContext(ctx, `
		SELECT `+selectCols+`
		FROM artifact_entries
		WHERE storage_id = ? AND repository_id = ? AND artifact_path = ?
	`, p.Storage, p.Repository, p.Name)
	r, err := scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return entrysync.Record{}, entrysync.ErrNotFound
	}
	if err != nil {
		return entrysync.Record{}, fmt.Errorf("resolve entry %s: %w", p, err)
	}
	return r, nil
}

// Find lists the entries of a repository whose path starts with prefix,
// ordered by path.
func (s *Store) Find(ctx context.Context, storage, repository, prefix string, limit int) ([]entrysync.Record, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.q(ctx).QueryContext(ctx, `
		SELECT `+selectCols+`
		FROM artifact_entries
		WHERE storage_id = ? AND repository_id = ? AND substr(artifact_path, 1, ?) = ?
		ORDER BY artifact_path
		LIMIT ?
	`, storage, repository, len(prefix), prefix, limit)
	if err != nil {
		return nil, fmt.Errorf("find entries: %w", err)
	}
	defer rows.Close()

	var out []entrysync.Record
	for rows.Next() {
		r, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("find entries: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("find entries: %w", err)
	}
	return out, nil
}

// Delete removes the entry for p. Deleting an absent entry returns
// entrysync.ErrNotFound.
func (s *Store) Delete(ctx context.Context, p entrysync.Path) error {
	res, err := s.q(ctx).ExecContext(ctx, `
		DELETE FROM artifact_entries
		WHERE storage_id = ? AND repository_id = ? AND artifact_path = ?
	`, p.Storage, p.Repository, p.Name)
	if err != nil {
		return mapErr(fmt.Errorf("delete entry %s: %w", p, err))
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return entrysync.ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(sc scanner) (entrysync.Record, error) {
	var (
		r                      entrysync.Record
		sums                   string
		created, updated, used string
	)
	err := sc.Scan(&r.StorageID, &r.RepositoryID, &r.ArtifactPath, &r.Size, &sums,
		&created, &updated, &used, &r.DownloadCount, &r.Version)
	if err != nil {
		return entrysync.Record{}, err
	}
	if err := json.Unmarshal([]byte(sums), &r.Checksums); err != nil {
		return entrysync.Record{}, fmt.Errorf("checksums: %w", err)
	}
	if len(r.Checksums) == 0 {
		r.Checksums = nil
	}
	for _, f := range []struct {
		s string
		t *time.Time
	}{{created, &r.Created}, {updated, &r.LastUpdated}, {used, &r.LastUsed}} {
		if *f.t, err = time.Parse(time.RFC3339Nano, f.s); err != nil {
			return entrysync.Record{}, fmt.Errorf("timestamp %q: %w", f.s, err)
		}
	}
	return r, nil
}

func ts(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func nonNil(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
