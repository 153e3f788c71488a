// Package repository defines the Repository Port (spec §6.1): the narrow
// abstraction the engine consumes from whatever concrete backend binds it —
// a real git object database, pgit's PostgreSQL store, or (for tests and the
// demo harness) the in-memory fake in this package. The engine never depends
// on a concrete backend; every component takes a Port.
package repository

import (
	"context"
	"time"

	"github.com/patchdance-dev/patchdance/internal/diffmodel"
)

// Port is the repository abstraction the engine depends on. Any backend may
// implement it. All operations are fallible with the error taxonomy of
// spec §7 (typically wrapped in a *patcherr.Error by the caller).
type Port interface {
	Head(ctx context.Context) (diffmodel.CommitId, error)
	CurrentBranch(ctx context.Context) (string, error)
	IsClean(ctx context.Context) (bool, error)

	CommitInfo(ctx context.Context, id diffmodel.CommitId) (diffmodel.CommitInfo, error)
	WalkHistory(ctx context.Context, start diffmodel.CommitId, limit int) ([]diffmodel.CommitInfo, error)

	// ReadBlob returns the content of path as of commit. The returned bool
	// is false when the path does not exist in that commit's tree.
	ReadBlob(ctx context.Context, commit diffmodel.CommitId, path string) ([]byte, bool, error)

	// TreeToTreeDiff returns the raw unified diff between two commits' trees.
	// Either id may be the empty string to diff against the empty tree (a
	// root commit's "parent").
	TreeToTreeDiff(ctx context.Context, from, to diffmodel.CommitId) (string, error)

	// WriteTree persists a new tree built from base's tree (the empty tree
	// if base is "") with entries overlaid on top — the same "carry forward
	// unchanged files, then apply the staged delta" approach the teacher's
	// repo.Commit uses. An entry with Deleted set removes that path.
	// Returns a tree id a subsequent CreateCommit can reference.
	WriteTree(ctx context.Context, base diffmodel.CommitId, entries []TreeEntry) (string, error)

	CreateCommit(ctx context.Context, parents []diffmodel.CommitId, tree string, author Signature, committer Signature, message string) (diffmodel.CommitId, error)

	// UpdateRef moves name from expectedOld to newID using compare-and-swap
	// semantics; it returns ok=false (no error) if the ref had already moved.
	UpdateRef(ctx context.Context, name string, expectedOld, newID diffmodel.CommitId) (ok bool, err error)

	CreateRef(ctx context.Context, name string, commit diffmodel.CommitId) error

	// ResolveRef returns the commit a ref currently points at, or
	// found=false if the ref does not exist.
	ResolveRef(ctx context.Context, name string) (id diffmodel.CommitId, found bool, err error)

	DeleteRef(ctx context.Context, name string) error

	// ListRefs returns every ref name with the given prefix, e.g. for
	// enumerating "refs/patchdance/backup/".
	ListRefs(ctx context.Context, prefix string) ([]string, error)
}

// TreeEntry is one path's content in a tree being written, or a removal of
// that path when Deleted is set.
type TreeEntry struct {
	Path       string
	Content    []byte
	Mode       int
	ModeChange *diffmodel.ModeChange
	Deleted    bool
}

// Signature is an author or committer identity with a timestamp, mirroring
// the fields spec §3's CommitInfo carries for Author/Email/Timestamp.
type Signature struct {
	Name  string
	Email string
	When  time.Time
}
