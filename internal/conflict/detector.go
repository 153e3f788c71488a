// Package conflict implements the Conflict Detector (spec §4.2): given a
// candidate patch set and a target commit, produce a list of Conflicts
// without mutating any state. It runs both the coarse pairwise-hunk check
// used to veto an operation early and the precise per-line check the UI
// preview needs, plus the mode/existence/rename checks spec §4.2 names.
package conflict

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/patchdance-dev/patchdance/internal/diffmodel"
	"github.com/patchdance-dev/patchdance/internal/repository"
	"github.com/patchdance-dev/patchdance/internal/util"
)

// ContentLookup resolves a file's content at a given commit, the same shape
// repository.Port.ReadBlob exposes — kept narrow here so the detector can be
// unit-tested without a full Port.
type ContentLookup func(ctx context.Context, commit diffmodel.CommitId, path string) ([]byte, bool, error)

// Detect runs every check spec §4.2 names against patches, evaluated
// against targetCommit, and returns the combined, deterministically-ordered
// conflict list (spec §8 property 4: detect_conflicts is deterministic and
// order-independent — sorting the input patches yields identical ids).
func Detect(ctx context.Context, patches []diffmodel.Patch, targetCommit diffmodel.CommitId, lookup ContentLookup) ([]diffmodel.Conflict, error) {
	var conflicts []diffmodel.Conflict

	byFile := groupByFile(patches)

	conflicts = append(conflicts, pairwiseOverlap(byFile)...)
	conflicts = append(conflicts, perLineOverlap(byFile)...)
	conflicts = append(conflicts, modeAndExistenceConflicts(byFile)...)
	conflicts = append(conflicts, renameConflicts(byFile)...)

	if lookup != nil {
		targetConflicts, err := targetStateConflicts(ctx, patches, targetCommit, lookup)
		if err != nil {
			return nil, err
		}
		conflicts = append(conflicts, targetConflicts...)
	}

	conflicts = dedupe(conflicts)
	sort.Slice(conflicts, func(i, j int) bool { return conflicts[i].ID < conflicts[j].ID })
	return conflicts, nil
}

// DetectFromPort is Detect with a repository.Port as the content source.
func DetectFromPort(ctx context.Context, repo repository.Port, patches []diffmodel.Patch, targetCommit diffmodel.CommitId) ([]diffmodel.Conflict, error) {
	return Detect(ctx, patches, targetCommit, repo.ReadBlob)
}

func groupByFile(patches []diffmodel.Patch) map[string][]diffmodel.Patch {
	out := make(map[string][]diffmodel.Patch)
	for _, p := range patches {
		out[p.TargetFile] = append(out[p.TargetFile], p)
	}
	return out
}

// pairwiseOverlap emits a ContentConflict for every pair of patches on the
// same file whose hunks overlap in the old coordinate space (spec §4.2).
func pairwiseOverlap(byFile map[string][]diffmodel.Patch) []diffmodel.Conflict {
	var out []diffmodel.Conflict
	for file, patches := range byFile {
		if len(patches) < 2 {
			continue
		}
		for i := 0; i < len(patches); i++ {
			for j := i + 1; j < len(patches); j++ {
				for hi, h1 := range patches[i].Hunks {
					for hj, h2 := range patches[j].Hunks {
						if !h1.Overlaps(h2) {
							continue
						}
						line := min(h1.OldStart, h2.OldStart)
						out = append(out, diffmodel.Conflict{
							ID:       diffmodel.ContentConflictID(file, line),
							Kind:     diffmodel.ContentConflict,
							FilePath: file,
							Description: fmt.Sprintf(
								"patch %s hunk %d overlaps patch %s hunk %d",
								patches[i].ID, hi, patches[j].ID, hj,
							),
						})
					}
				}
			}
		}
	}
	return out
}

// perLineOverlap builds a (file,line) -> covering-patch-count map and
// emits a conflict for every line more than one patch touches — the
// precise variant spec §4.2 says the UI preview uses.
func perLineOverlap(byFile map[string][]diffmodel.Patch) []diffmodel.Conflict {
	var out []diffmodel.Conflict
	for file, patches := range byFile {
		lineOwners := make(map[int][]diffmodel.PatchId)
		for _, p := range patches {
			for _, h := range p.Hunks {
				for ln := h.OldStart; ln < h.OldEnd(); ln++ {
					lineOwners[ln] = append(lineOwners[ln], p.ID)
				}
			}
		}
		lines := make([]int, 0, len(lineOwners))
		for ln := range lineOwners {
			lines = append(lines, ln)
		}
		sort.Ints(lines)
		for _, ln := range lines {
			owners := lineOwners[ln]
			if len(owners) <= 1 {
				continue
			}
			out = append(out, diffmodel.Conflict{
				ID:          diffmodel.ContentConflictID(file, ln),
				Kind:        diffmodel.ContentConflict,
				FilePath:    file,
				Description: fmt.Sprintf("line %d of %s is covered by %d patches", ln, file, len(owners)),
			})
		}
	}
	return out
}

// modeAndExistenceConflicts emits ModeConflict when patches on the same
// file disagree on mode change, and DeleteModifyConflict when one patch
// deletes a file another modifies (spec §4.2).
func modeAndExistenceConflicts(byFile map[string][]diffmodel.Patch) []diffmodel.Conflict {
	var out []diffmodel.Conflict
	for file, patches := range byFile {
		if len(patches) < 2 {
			continue
		}

		var modes []diffmodel.ModeChange
		var deleters, modifiers []diffmodel.PatchId
		for _, p := range patches {
			if p.ModeChange != nil {
				modes = append(modes, *p.ModeChange)
				if p.ModeChange.Kind == diffmodel.DeletedFile {
					deleters = append(deleters, p.ID)
				}
			} else if len(p.Hunks) > 0 {
				modifiers = append(modifiers, p.ID)
			}
		}

		if modeDisagreement(modes) {
			out = append(out, diffmodel.Conflict{
				ID:          diffmodel.ModeConflictID(file),
				Kind:        diffmodel.ModeConflict,
				FilePath:    file,
				Description: fmt.Sprintf("patches on %s disagree on mode change", file),
			})
		}

		if len(deleters) > 0 && len(modifiers) > 0 {
			out = append(out, diffmodel.Conflict{
				ID:       diffmodel.DeleteModifyConflictID(file),
				Kind:     diffmodel.DeleteModifyConflict,
				FilePath: file,
				Description: fmt.Sprintf(
					"%s is deleted by %v and modified by %v", file, deleters, modifiers,
				),
			})
		}
	}
	return out
}

func modeDisagreement(modes []diffmodel.ModeChange) bool {
	if len(modes) < 2 {
		return false
	}
	first := modes[0]
	for _, m := range modes[1:] {
		if m != first {
			return true
		}
	}
	return false
}

// renameConflicts emits a RenameConflict when two patches rename the same
// source path to different destinations (spec §4.2).
func renameConflicts(byFile map[string][]diffmodel.Patch) []diffmodel.Conflict {
	byOldPath := make(map[string]map[string]diffmodel.PatchId)
	for _, patches := range byFile {
		for _, p := range patches {
			if !p.IsRename() {
				continue
			}
			if byOldPath[p.OldPath] == nil {
				byOldPath[p.OldPath] = make(map[string]diffmodel.PatchId)
			}
			byOldPath[p.OldPath][p.TargetFile] = p.ID
		}
	}

	var out []diffmodel.Conflict
	oldPaths := make([]string, 0, len(byOldPath))
	for op := range byOldPath {
		oldPaths = append(oldPaths, op)
	}
	sort.Strings(oldPaths)
	for _, oldPath := range oldPaths {
		destinations := byOldPath[oldPath]
		if len(destinations) < 2 {
			continue
		}
		out = append(out, diffmodel.Conflict{
			ID:          diffmodel.RenameConflictID(oldPath),
			Kind:        diffmodel.RenameConflict,
			FilePath:    oldPath,
			Description: fmt.Sprintf("%s renamed to multiple destinations", oldPath),
		})
	}
	return out
}

// targetStateConflicts implements spec §4.2's "target-state conflicts": for
// each patch, compare the patch's old-window (the Context+Deletion lines it
// expects to find) against the target commit's actual lines at that
// position. A mismatch means the target file moved on since the patch's
// source commit in a way that overlaps what the patch touches — the actual
// outcome is decided by the Patch Applicator's three-way merge, not here.
func targetStateConflicts(ctx context.Context, patches []diffmodel.Patch, targetCommit diffmodel.CommitId, lookup ContentLookup) ([]diffmodel.Conflict, error) {
	var out []diffmodel.Conflict
	for _, p := range patches {
		if len(p.Hunks) == 0 {
			continue
		}
		if p.SourceCommit == targetCommit {
			// The target is the patch's own source commit: nothing has
			// changed between source and target.
			continue
		}
		targetContent, found, err := lookup(ctx, targetCommit, p.TargetFile)
		if err != nil {
			return nil, err
		}
		if !found {
			if p.ExpectsExistingFile() {
				out = append(out, diffmodel.Conflict{
					ID:       diffmodel.DeleteModifyConflictID(p.TargetFile),
					Kind:     diffmodel.DeleteModifyConflict,
					FilePath: p.TargetFile,
					Description: fmt.Sprintf(
						"%s is absent from target %s but patch %s expects it to exist",
						p.TargetFile, targetCommit.Short(), p.ID,
					),
				})
			}
			continue
		}
		targetText := string(util.ToValidUTF8Bytes(targetContent))
		targetLines := strings.Split(targetText, "\n")
		for _, h := range p.Hunks {
			if hunkMismatchesTarget(h, targetLines) {
				out = append(out, diffmodel.Conflict{
					ID:       diffmodel.ContentConflictID(p.TargetFile, h.OldStart),
					Kind:     diffmodel.ContentConflict,
					FilePath: p.TargetFile,
					Description: fmt.Sprintf(
						"%s changed in target %s since %s, at line %d",
						p.TargetFile, targetCommit.Short(), p.SourceCommit.Short(), h.OldStart,
					),
					TheirContent: targetText,
				})
			}
		}
	}
	return out, nil
}

// hunkMismatchesTarget reports whether h's expected old-window (its
// Context+Deletion lines) no longer matches targetLines at h.OldStart-1.
func hunkMismatchesTarget(h diffmodel.Hunk, targetLines []string) bool {
	pos := h.OldStart - 1
	var window []string
	for _, l := range h.Lines {
		if l.Kind == diffmodel.Context || l.Kind == diffmodel.Deletion {
			window = append(window, l.Text)
		}
	}
	if len(window) == 0 {
		return false
	}
	if pos < 0 || pos+len(window) > len(targetLines) {
		return true
	}
	for i, w := range window {
		if targetLines[pos+i] != w {
			return true
		}
	}
	return false
}

func dedupe(conflicts []diffmodel.Conflict) []diffmodel.Conflict {
	seen := make(map[string]bool, len(conflicts))
	out := make([]diffmodel.Conflict, 0, len(conflicts))
	for _, c := range conflicts {
		if seen[c.ID] {
			continue
		}
		seen[c.ID] = true
		out = append(out, c)
	}
	return out
}
