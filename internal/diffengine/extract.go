package diffengine

import (
	"context"

	"github.com/patchdance-dev/patchdance/internal/diffmodel"
	"github.com/patchdance-dev/patchdance/internal/repository"
)

// ExtractPatches implements the Diff Engine's extraction algorithm
// (spec §4.1): resolve C's first parent (or the empty tree for a root
// commit), diff tree-to-tree, and turn each changed file into a Patch
// stamped with C as SourceCommit.
//
// Binary files become a single opaque Patch with Binary set and the old/new
// blob content captured directly, since a textual hunk diff is meaningless
// for them (spec §4.1).
func ExtractPatches(ctx context.Context, repo repository.Port, commit diffmodel.CommitId) ([]diffmodel.Patch, error) {
	info, err := repo.CommitInfo(ctx, commit)
	if err != nil {
		return nil, err
	}

	var parent diffmodel.CommitId
	if p, ok := info.FirstParent(); ok {
		parent = p
	}

	raw, err := repo.TreeToTreeDiff(ctx, parent, commit)
	if err != nil {
		return nil, err
	}

	blocks, err := parseDiffBlocks(raw)
	if err != nil {
		return nil, err
	}

	patches := make([]diffmodel.Patch, 0, len(blocks))
	for _, b := range blocks {
		path := b.path
		if path == "" {
			path = b.oldPath
		}

		patch := diffmodel.Patch{
			ID:           diffmodel.NewPatchId(commit, path),
			SourceCommit: commit,
			TargetFile:   path,
			Hunks:        b.hunks,
			ModeChange:   b.modeChange,
			Binary:       b.binary,
		}
		if b.oldPath != "" && b.oldPath != path {
			patch.OldPath = b.oldPath
		}

		if b.binary {
			oldContent, _, err := repo.ReadBlob(ctx, parent, path)
			if err != nil {
				return nil, err
			}
			newContent, _, err := repo.ReadBlob(ctx, commit, path)
			if err != nil {
				return nil, err
			}
			patch.BinaryOld = oldContent
			patch.BinaryNew = newContent
		}

		patches = append(patches, patch)
	}

	return patches, nil
}
