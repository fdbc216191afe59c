// Package wire frames cached entries with the generation they were written
// under, so a reader can drop values that a later eviction has outdated.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
)

const (
	version   byte = 1
	kindEntry byte = 1

	hdrLen = 4 + 1 + 1 + 8 + 4
)

var (
	ErrCorrupt = errors.New("entrysync: corrupt cache entry")
	magic4     = [...]byte{'E', 'S', 'Y', 'N'}
)

func hasMagic(b []byte) bool {
	return len(b) >= 4 && bytes.Equal(b[:4], magic4[:])
}

// Encode frames payload as
//
//	magic(4) | ver(1) | kind(1) | gen(u64 be) | vlen(u32 be) | payload(vlen)
func Encode(gen uint64, payload []byte) []byte {
	b := make([]byte, hdrLen, hdrLen+len(payload))
	copy(b, magic4[:])
	b[4] = version
	b[5] = kindEntry
	binary.BigEndian.PutUint64(b[6:14], gen)
	binary.BigEndian.PutUint32(b[14:18], uint32(len(payload)))
	return append(b, payload...)
}

// Decode returns the generation and payload of a frame. The payload aliases b.
// Frames with trailing bytes are rejected.
func Decode(b []byte) (gen uint64, payload []byte, err error) {
	if len(b) < hdrLen || !hasMagic(b) || b[4] != version || b[5] != kindEntry {
		return 0, nil, ErrCorrupt
	}
	gen = binary.BigEndian.Uint64(b[6:14])
	vlen := uint64(binary.BigEndian.Uint32(b[14:18]))
	if vlen != uint64(len(b)-hdrLen) {
		return 0, nil, ErrCorrupt
	}
	return gen, b[hdrLen:], nil
}
