// Package natskv persists catalog entries in a NATS JetStream key-value
// bucket. The entry revision is the record version: Save creates at
// version 0 and otherwise updates only if the revision is unchanged.
package natskv

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/unkn0wn-root/entrysync"
	"github.com/unkn0wn-root/entrysync/codec"
	"github.com/unkn0wn-root/entrysync/internal/util"
)

const DefaultBucket = "artifact_entries"

type Options struct {
	Bucket   string                        // "" => DefaultBucket
	Replicas int                           // 0 => 1
	Codec    codec.Codec[entrysync.Record] // nil => JSON
	Timeout  time.Duration                 // per operation; 0 => 5s
}

// Store is a Store, Resolver and TxSink over one bucket.
type Store struct {
	kv      jetstream.KeyValue
	codec   codec.Codec[entrysync.Record]
	timeout time.Duration
}

var (
	_ entrysync.Store    = (*Store)(nil)
	_ entrysync.Resolver = (*Store)(nil)
	_ entrysync.TxSink   = (*Store)(nil)
)

// Open creates the bucket if needed.
func Open(ctx context.Context, js jetstream.JetStream, opts Options) (*Store, error) {
	if opts.Bucket == "" {
		opts.Bucket = DefaultBucket
	}
	if opts.Replicas <= 0 {
		opts.Replicas = 1
	}
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      opts.Bucket,
		Description: "artifact catalog entries",
		History:     1,
		Replicas:    opts.Replicas,
	})
	if err != nil {
		return nil, fmt.Errorf("kv bucket %s: %w", opts.Bucket, err)
	}
	return New(kv, opts), nil
}

// New wraps an existing bucket.
func New(kv jetstream.KeyValue, opts Options) *Store {
	s := &Store{kv: kv, codec: opts.Codec, timeout: opts.Timeout}
	if s.codec == nil {
		s.codec = codec.JSON[entrysync.Record]{}
	}
	if s.timeout <= 0 {
		s.timeout = 5 * time.Second
	}
	return s
}

func key(p entrysync.Path) string { return util.KVKey(p.Storage, p.Repository, p.Name) }

// RunAtomic runs fn directly. A single-key KV write is atomic on its own and
// there is nothing to roll back when fn fails before it.
func (s *Store) RunAtomic(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (s *Store) Save(ctx context.Context, r entrysync.Record) (entrysync.Record, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	k := key(r.Path())
	stored := r
	stored.Version = 0
	b, err := s.codec.Encode(stored)
	if err != nil {
		return entrysync.Record{}, fmt.Errorf("encode entry %s: %w", r.Path(), err)
	}

	var rev uint64
	if r.Version == 0 {
		rev, err = s.kv.Create(ctx, k, b)
	} else {
		rev, err = s.kv.Update(ctx, k, b, r.Version)
	}
	if err != nil {
		if isConflict(err) {
			return entrysync.Record{}, fmt.Errorf("save entry %s at revision %d: %w", r.Path(), r.Version, entrysync.ErrConflict)
		}
		return entrysync.Record{}, fmt.Errorf("save entry %s: %w", r.Path(), err)
	}
	r.Version = rev
	return r, nil
}

func (s *Store) Resolve(ctx context.Context, p entrysync.Path) (entrysync.Record, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	e, err := s.kv.Get(ctx, key(p))
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return entrysync.Record{}, entrysync.ErrNotFound
	}
	if err != nil {
		return entrysync.Record{}, fmt.Errorf("resolve entry %s: %w", p, err)
	}
	r, err := s.codec.Decode(e.Value())
	if err != nil {
		return entrysync.Record{}, fmt.Errorf("decode entry %s: %w", p, err)
	}
	r.Version = e.Revision()
	return r, nil
}

func (s *Store) Delete(ctx context.Context, p entrysync.Path) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.kv.Delete(ctx, key(p)); err != nil {
		return fmt.Errorf("delete entry %s: %w", p, err)
	}
	return nil
}

// isConflict matches both the typed error and the raw server codes:
// 10071 wrong last sequence (Update), 10058 key exists (Create).
func isConflict(err error) bool {
	if errors.Is(err, jetstream.ErrKeyExists) {
		return true
	}
	var apiErr *jetstream.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode {
		case jetstream.JSErrCodeStreamWrongLastSequence, 10058:
			return true
		}
	}
	msg := err.Error()
	return strings.Contains(msg, "wrong last sequence") || strings.Contains(msg, "key exists")
}
