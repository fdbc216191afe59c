package entrysync

import "time"

const (
	DefaultMaxAttempts = 10
	DefaultRetryDelay  = 10 * time.Millisecond
	DefaultRegion      = "ARTIFACT_ENTRIES"
	DefaultLockTag     = "ArtifactEntry"
)

// coalesce returns def when v is the zero value of T - otherwise v.
func coalesce[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}
