package entrysync

import (
	"path"
	"strings"
)

// Gate admits events of one kind whose path denotes an artifact.
type Gate struct {
	Kind       EventKind
	IsArtifact func(Path) bool // nil => IsArtifactPath
}

func (g Gate) Admit(ev Event) bool {
	if ev.Kind != g.Kind {
		return false
	}
	if g.IsArtifact == nil {
		return IsArtifactPath(ev.Path)
	}
	return g.IsArtifact(ev.Path)
}

var checksumExt = map[string]struct{}{
	".md5":    {},
	".sha1":   {},
	".sha256": {},
	".sha512": {},
	".asc":    {},
}

// IsArtifactPath reports whether p names an artifact file, as opposed to a
// directory, a checksum or signature sidecar, repository metadata, or a
// hidden/temporary file.
func IsArtifactPath(p Path) bool {
	if p.Storage == "" || p.Repository == "" || p.Name == "" {
		return false
	}
	if strings.HasSuffix(p.Name, "/") {
		return false
	}
	for _, seg := range strings.Split(p.Name, "/") {
		if seg == "" || strings.HasPrefix(seg, ".") {
			return false
		}
	}
	base := path.Base(p.Name)
	if _, ok := checksumExt[path.Ext(base)]; ok {
		return false
	}
	if base == "maven-metadata.xml" || strings.HasPrefix(base, "maven-metadata-") {
		return false
	}
	if strings.HasSuffix(base, ".tmp") || strings.HasSuffix(base, ".part") {
		return false
	}
	return true
}
