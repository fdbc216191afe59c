// Package entrysync keeps artifact catalog entries consistent with a
// secondary entry cache when storage events arrive, under writers racing on
// the same artifact.
//
// Components:
//   - Gate: admits events of the handler's kind whose path is an artifact.
//   - Locker: exclusive lease per resource key (lock/local in-process,
//     lock/redis across replicas). Held for the whole episode.
//   - Producer: computes the updated Record for a path, one per event kind.
//   - TxSink + Store: produce and save run in one atomic unit of work;
//     optimistic concurrency violations surface as ErrConflict.
//   - Evictor: drops the cached entry after a conflict (entrycache.Manager).
//   - Executor: runs the episode isolated from the caller and waits for it.
//
// Episode:
//
//	gate -> lock(ResourceKey) -> for i := 1..10 {
//	    save atomically; ok => done
//	    conflict && i < 10 => evict(CacheKey), sleep 10ms
//	    otherwise => fail
//	} -> unlock
//
// Failures stop at the Handler: they are logged and reported to Hooks. The
// caller only ever sees its own cancellation.
//
// Keys:
//
//	lock:   <tag>:<storage>/<repository>/<path>   (tag defaults to ArtifactEntry)
//	cache:  <storageId>/<repositoryId>/<artifactPath> in region ARTIFACT_ENTRIES
package entrysync
