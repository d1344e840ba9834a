// Package xhash mints the stable 32-bit content hashes used to identify
// audio-file fragments and individual songs, and encodes them into the
// alphabets the rest of the module uses for keys (standard base64) and
// filenames (path-safe base64).
//
// Hash32 builds a seeded 32-bit hash over github.com/cespare/xxhash/v2
// by folding the 64-bit digest: deterministic, seedable, and chainable
// on collision, which is all the key scheme needs.
package xhash

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// Hash32 returns a deterministic 32-bit digest of data, seeded by seed.
// Collision handling calls this as Hash32(Hash32(seed, name), name) to
// walk to the next candidate slot.
func Hash32(seed uint32, data []byte) uint32 {
	d := xxhash.New()
	var seedBuf [4]byte
	binary.BigEndian.PutUint32(seedBuf[:], seed)
	_, _ = d.Write(seedBuf[:])
	_, _ = d.Write(data)
	sum := d.Sum64()
	return uint32(sum) ^ uint32(sum>>32)
}

// EncodeKey renders a 32-bit hash as a fixed-length string used inside
// song/album/artist keys. It intentionally uses the standard
// (non-URL-safe) base64 alphabet, which includes '+' and '/': key strings
// stay visually distinct from plain alphanumeric identifiers, and they
// are never used as filesystem names (EncodeFilename covers that).
func EncodeKey(h uint32) string {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], h)
	return trimPadding(base64.StdEncoding.EncodeToString(buf[:]))
}

// EncodeFilename renders a sequence number as a filesystem-safe string (no
// '/', no padding) for use in blob-store payload filenames.
func EncodeFilename(n uint64) string {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], n)
	// Drop leading zero bytes so small sequence numbers stay short; at least
	// one byte is always kept.
	start := 0
	for start < 7 && buf[start] == 0 {
		start++
	}
	return base64.RawURLEncoding.EncodeToString(buf[start:])
}

// ChainedMint implements chained-rehash collision handling
// generically: h = Hash32(seed, payload); on a collision
// with a different payload already claiming that encoded slot, rehash
// forward (h = Hash32(h, payload)) until a free slot or the same payload
// is found. claims is mutated in place to record the winning
// (encoded-key -> payload) pair, so the first claimant is preserved
// across repeated calls with the same payload. Used by the per-AFI
// song-key map and by the aggregate database's album/artist key minting.
func ChainedMint(claims map[string]string, seed uint32, payload []byte) (hash uint32, encoded string) {
	h := Hash32(seed, payload)
	for {
		enc := EncodeKey(h)
		existing, taken := claims[enc]
		if !taken {
			claims[enc] = string(payload)
			return h, enc
		}
		if existing == string(payload) {
			return h, enc
		}
		h = Hash32(h, payload)
	}
}

// DecodeKey reverses EncodeKey, recovering the raw 32-bit hash from its
// encoded form. Used where an on-disk format (the songKeys file) needs
// the numeric hash rather than the encoded string.
func DecodeKey(s string) (uint32, error) {
	padded := s
	for len(padded)%4 != 0 {
		padded += "="
	}
	buf, err := base64.StdEncoding.DecodeString(padded)
	if err != nil || len(buf) != 4 {
		return 0, fmt.Errorf("xhash: invalid encoded key %q", s)
	}
	return binary.BigEndian.Uint32(buf), nil
}

func trimPadding(s string) string {
	for len(s) > 0 && s[len(s)-1] == '=' {
		s = s[:len(s)-1]
	}
	return s
}
