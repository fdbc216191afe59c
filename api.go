package entrysync

import (
	"context"
	"path"
	"strings"
	"time"
)

// EventKind names the storage event a handler reacts to.
type EventKind string

const (
	ArtifactStored     EventKind = "artifact.stored"
	ArtifactUpdated    EventKind = "artifact.updated" // metadata refreshed
	ArtifactDownloaded EventKind = "artifact.downloaded"
	ArtifactDeleted    EventKind = "artifact.deleted"
)

func (k EventKind) Valid() bool {
	switch k {
	case ArtifactStored, ArtifactUpdated, ArtifactDownloaded, ArtifactDeleted:
		return true
	}
	return false
}

// Path locates a file inside a repository of a storage.
// Name is slash separated and relative to the repository root.
type Path struct {
	Storage    string
	Repository string
	Name       string
}

func (p Path) String() string {
	return p.Storage + "/" + p.Repository + "/" + p.Name
}

// Clean normalizes Name (no leading slash, no duplicate separators).
// A trailing slash is preserved so directories stay recognizable.
func (p Path) Clean() Path {
	if p.Name == "" {
		return p
	}
	dir := strings.HasSuffix(p.Name, "/")
	n := strings.TrimPrefix(path.Clean("/"+p.Name), "/")
	if dir && n != "" {
		n += "/"
	}
	p.Name = n
	return p
}

// Event is a storage-level event. It is consumed once.
type Event struct {
	Kind EventKind
	Path Path
}

// Record is the persisted catalog entry of an artifact.
// Identity is (StorageID, RepositoryID, ArtifactPath). Version is the
// optimistic concurrency token; it is owned by the Store.
type Record struct {
	StorageID     string            `json:"storageId" msgpack:"storageId" cbor:"storageId"`
	RepositoryID  string            `json:"repositoryId" msgpack:"repositoryId" cbor:"repositoryId"`
	ArtifactPath  string            `json:"artifactPath" msgpack:"artifactPath" cbor:"artifactPath"`
	Size          int64             `json:"size" msgpack:"size" cbor:"size"`
	Checksums     map[string]string `json:"checksums,omitempty" msgpack:"checksums,omitempty" cbor:"checksums,omitempty"`
	Created       time.Time         `json:"created" msgpack:"created" cbor:"created"`
	LastUpdated   time.Time         `json:"lastUpdated" msgpack:"lastUpdated" cbor:"lastUpdated"`
	LastUsed      time.Time         `json:"lastUsed" msgpack:"lastUsed" cbor:"lastUsed"`
	DownloadCount int64             `json:"downloadCount" msgpack:"downloadCount" cbor:"downloadCount"`
	Version       uint64            `json:"version" msgpack:"version" cbor:"version"`
}

func (r Record) Path() Path {
	return Path{Storage: r.StorageID, Repository: r.RepositoryID, Name: r.ArtifactPath}
}

// Producer computes the updated record for a path. One implementation per
// event kind. Failures are not retried.
type Producer interface {
	Produce(ctx context.Context, p Path) (Record, error)
}

type ProducerFunc func(ctx context.Context, p Path) (Record, error)

func (f ProducerFunc) Produce(ctx context.Context, p Path) (Record, error) { return f(ctx, p) }

// Mode selects shared or exclusive locking.
type Mode int

const (
	ModeRead Mode = iota
	ModeWrite
)

func (m Mode) String() string {
	if m == ModeWrite {
		return "write"
	}
	return "read"
}

// Locker hands out leases on resource keys. Acquire blocks until the lease
// is granted or ctx is done.
type Locker interface {
	Acquire(ctx context.Context, key string, mode Mode) (Lease, error)
}

type Lease interface {
	Release(ctx context.Context) error
}

// TxSink runs a unit of work atomically: commit when fn returns nil,
// roll back otherwise. Optimistic concurrency violations are reported as
// errors matching ErrConflict.
type TxSink interface {
	RunAtomic(ctx context.Context, fn func(ctx context.Context) error) error
}

// Store persists records. Save fails with ErrConflict when the stored
// version moved since the record was read.
type Store interface {
	Save(ctx context.Context, r Record) (Record, error)
}

// Resolver looks up the current record for a path; ErrNotFound when absent.
type Resolver interface {
	Resolve(ctx context.Context, p Path) (Record, error)
}

// Evictor removes an entry from a cache region. Must be idempotent.
type Evictor interface {
	Evict(ctx context.Context, region, key string) error
}

// Executor runs fn in an isolated unit of execution and blocks until it
// has completed, returning fn's error.
type Executor interface {
	Do(ctx context.Context, fn func(ctx context.Context) error) error
}

// EventHandler consumes storage events.
type EventHandler interface {
	Handle(ctx context.Context, ev Event) error
}

// Options tune a Handler. Locker, Sink, Store and Evictor are required;
// others have sensible defaults.
type Options struct {
	// Required
	Locker  Locker
	Sink    TxSink
	Store   Store
	Evictor Evictor

	Resolver    Resolver        // nil => cache key derived from the event path
	IsArtifact  func(Path) bool // nil => IsArtifactPath
	Region      string          // "" => DefaultRegion
	LockTag     string          // "" => DefaultLockTag
	MaxAttempts int             // 0 => DefaultMaxAttempts
	RetryDelay  time.Duration   // 0 => DefaultRetryDelay
	Executor    Executor        // nil => goroutine per episode
	Logger      Logger          // nil => NopLogger
	Hooks       Hooks           // nil => NopHooks
	NewID       func() string   // episode ids for logs; nil => uuid
}
