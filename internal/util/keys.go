package util

import "strings"

// CacheKey addresses an artifact record in a cache region:
// storageId/repositoryId/artifactPath.
func CacheKey(storageID, repositoryID, artifactPath string) string {
	return storageID + "/" + repositoryID + "/" + artifactPath
}

// ResourceKey selects the exclusive lock for an entity kind at a location.
func ResourceKey(tag, location string) string {
	return tag + ":" + location
}

// EntryKey is the provider key of a cached entry, isolated by region.
func EntryKey(region, key string) string {
	return "entry:" + region + ":" + key
}

// KVKey turns an arbitrary key into a NATS KV safe token sequence. KV keys
// allow [-/_=.a-zA-Z0-9]; anything else is hex escaped behind '='.
func KVKey(parts ...string) string {
	var b strings.Builder
	for i, p := range parts {
		if i > 0 {
			b.WriteByte('.')
		}
		for j := 0; j < len(p); j++ {
			c := p[j]
			switch {
			case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9',
				c == '-', c == '_', c == '/':
				b.WriteByte(c)
			default:
				const hex = "0123456789abcdef"
				b.WriteByte('=')
				b.WriteByte(hex[c>>4])
				b.WriteByte(hex[c&0x0f])
			}
		}
	}
	return b.String()
}
