package diffengine

import (
	"sort"

	"github.com/patchdance-dev/patchdance/internal/diffmodel"
	"github.com/patchdance-dev/patchdance/internal/patcherr"
)

// MergePatches combines patches that all target the same file (from the
// same or different source commits) into a single Patch, per spec §4.1:
// hunks are sorted by OldStart and overlapping hunks are rejected as a merge
// conflict for the caller to resolve via the Conflict Detector. Inputs are
// expected to share one old coordinate space (each patch diffed against the
// same base revision of target_file); the merged hunks' new-side starts are
// renumbered so the result reads as one coherent diff.
//
// The merged patch's ID and SourceCommit come from the last patch in the
// input slice (the most recently applied), matching the convention that a
// merge represents cumulative history up to that point.
func MergePatches(patches []diffmodel.Patch) (diffmodel.Patch, error) {
	if len(patches) == 0 {
		return diffmodel.Patch{}, patcherr.New(patcherr.PatchApplicationError, "cannot merge zero patches")
	}
	target := patches[0].TargetFile
	for _, p := range patches {
		if p.TargetFile != target {
			return diffmodel.Patch{}, patcherr.New(patcherr.PatchApplicationError, "merge_patches requires all patches target the same file").
				WithMessage(p.TargetFile + " != " + target)
		}
	}

	var allHunks []diffmodel.Hunk
	for _, p := range patches {
		allHunks = append(allHunks, p.Hunks...)
	}
	sort.Slice(allHunks, func(i, j int) bool { return allHunks[i].OldStart < allHunks[j].OldStart })

	for i := 1; i < len(allHunks); i++ {
		if allHunks[i-1].Overlaps(allHunks[i]) {
			return diffmodel.Patch{}, patcherr.Overlapping(target)
		}
	}

	// Renumber the new-side starts into the merged coordinate space: each
	// hunk lands shifted by the net line delta of everything before it.
	delta := 0
	for i := range allHunks {
		allHunks[i].NewStart = allHunks[i].OldStart + delta
		delta += allHunks[i].NewLines - allHunks[i].OldLines
	}

	last := patches[len(patches)-1]
	merged := diffmodel.Patch{
		ID:         diffmodel.NewPatchId(last.SourceCommit, target),
		SourceCommit: last.SourceCommit,
		TargetFile: target,
		Hunks:      allHunks,
		ModeChange: mergedModeChange(patches),
	}
	return merged, nil
}

// mergedModeChange returns the single ModeChange all patches agree on, or
// nil if none set one. Disagreement is a conflict the Conflict Detector
// surfaces separately (spec §4.2's ModeConflict) — MergePatches itself just
// takes the last non-nil one, matching "the merged result carries it" in
// §4.3's applicator notes.
func mergedModeChange(patches []diffmodel.Patch) *diffmodel.ModeChange {
	var mc *diffmodel.ModeChange
	for _, p := range patches {
		if p.ModeChange != nil {
			mc = p.ModeChange
		}
	}
	return mc
}
