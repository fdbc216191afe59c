package entrysync

import "github.com/unkn0wn-root/entrysync/internal/util"

// ResourceKey is the lock key for the entity kind tag at p.
func ResourceKey(p Path, tag string) string {
	return util.ResourceKey(tag, p.String())
}

// CacheKey addresses r in the entry cache: storageId/repositoryId/artifactPath.
func CacheKey(r Record) string {
	return util.CacheKey(r.StorageID, r.RepositoryID, r.ArtifactPath)
}
