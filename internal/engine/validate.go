package engine

import (
	"github.com/patchdance-dev/patchdance/internal/diffmodel"
	"github.com/patchdance-dev/patchdance/internal/patcherr"
)

// ValidateOperation runs the structural checks spec §4's operations imply
// but that the data model alone doesn't enforce: non-empty patch sets,
// no duplicate PatchIds within a single CreateCommit, and MergeCommits
// needing at least two commits. It never touches the repository — pure
// shape validation before the engine spends a transaction on the operation.
func ValidateOperation(op diffmodel.Operation) error {
	switch op.Kind {
	case diffmodel.OpMovePatch:
		if op.MovePatchID == "" {
			return patcherr.New(patcherr.PatchApplicationError, "move_patch requires a patch id")
		}
		if op.FromCommit == "" || op.ToCommit == "" {
			return patcherr.New(patcherr.PatchApplicationError, "move_patch requires both from and to commits")
		}
		if op.FromCommit == op.ToCommit {
			return patcherr.New(patcherr.PatchApplicationError, "move_patch's from and to commits must differ")
		}

	case diffmodel.OpSplitCommit:
		if op.SourceCommit == "" {
			return patcherr.New(patcherr.PatchApplicationError, "split_commit requires a source commit")
		}
		if len(op.NewCommits) < 2 {
			return patcherr.New(patcherr.PatchApplicationError, "split_commit requires at least two resulting commits")
		}
		seen := make(map[diffmodel.PatchId]bool)
		for _, nc := range op.NewCommits {
			if len(nc.Patches) == 0 {
				return patcherr.New(patcherr.PatchApplicationError, "split_commit's resulting commits must each carry at least one patch")
			}
			for _, pid := range nc.Patches {
				if seen[pid] {
					return patcherr.New(patcherr.PatchApplicationError, "split_commit assigns patch "+string(pid)+" to more than one resulting commit")
				}
				seen[pid] = true
			}
		}

	case diffmodel.OpCreateCommit:
		if len(op.CreatePatches) == 0 {
			return patcherr.New(patcherr.PatchApplicationError, "create_commit requires at least one patch")
		}
		seen := make(map[diffmodel.PatchId]bool, len(op.CreatePatches))
		for _, pid := range op.CreatePatches {
			if seen[pid] {
				return patcherr.New(patcherr.PatchApplicationError, "create_commit lists patch "+string(pid)+" more than once")
			}
			seen[pid] = true
		}
		if op.Message == "" {
			return patcherr.New(patcherr.PatchApplicationError, "create_commit requires a commit message")
		}

	case diffmodel.OpMergeCommits:
		if len(op.CommitIDs) < 2 {
			return patcherr.New(patcherr.PatchApplicationError, "merge_commits requires at least two commits")
		}
		seen := make(map[diffmodel.CommitId]bool, len(op.CommitIDs))
		for _, id := range op.CommitIDs {
			if seen[id] {
				return patcherr.New(patcherr.PatchApplicationError, "merge_commits lists commit "+id.Short()+" more than once")
			}
			seen[id] = true
		}

	default:
		return patcherr.New(patcherr.PatchApplicationError, "unknown operation kind")
	}

	return nil
}
