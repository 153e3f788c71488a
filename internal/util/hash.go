// Package util holds small content-addressing and text helpers shared
// across the engine, grounded on the teacher's internal/util package:
// BLAKE3 content hashing (github.com/zeebo/blake3) for tree materialization
// and binary detection for the in-memory Repository Port's diffs.
package util

import (
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/zeebo/blake3"
)

// ContentHashSize is the size, in bytes, of a truncated BLAKE3 content hash.
const ContentHashSize = 16

// HashBytesBlake3 hashes data with BLAKE3, truncated to ContentHashSize
// bytes — still extremely collision resistant for deduplicating tree
// entries, which is all the engine needs it for.
func HashBytesBlake3(data []byte) []byte {
	h := blake3.Sum256(data)
	result := make([]byte, ContentHashSize)
	copy(result, h[:ContentHashSize])
	return result
}

// TreeEntry is one file in a tree being hashed: its mode, path, and
// content hash. Callers hash content once via HashBytesBlake3 and pass the
// hash in, rather than the raw bytes, so ComputeTreeHash stays cheap even
// for large trees.
type TreeEntry struct {
	Mode        int
	Path        string
	ContentHash []byte
}

// ComputeTreeHash derives a deterministic tree id from a list of entries —
// used by the History Rewriter's in-memory Repository Port fake
// (internal/repository.Memory.WriteTree) to materialize a tree id after
// applying a commit's patch set. Entries are sorted by path before hashing
// so two trees with identical contents hash identically regardless of
// entry order.
func ComputeTreeHash(entries []TreeEntry) string {
	sorted := make([]TreeEntry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	h := blake3.New()
	for _, e := range sorted {
		fmt.Fprintf(h, "%d %s\x00", e.Mode, e.Path)
		h.Write(e.ContentHash)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// DetectBinary reports whether content looks binary, using git's own
// heuristic: a NUL byte anywhere in the first 8000 bytes. The in-memory
// Repository Port fake uses this to decide whether a changed file gets a
// textual hunk diff or the opaque "Binary files ... differ" marker spec
// §6.4 names; the Diff Engine's parser (internal/diffengine/unified.go)
// reads that marker back on the way in.
func DetectBinary(content []byte) bool {
	checkLen := len(content)
	if checkLen > 8000 {
		checkLen = 8000
	}
	for i := 0; i < checkLen; i++ {
		if content[i] == 0 {
			return true
		}
	}
	return false
}
