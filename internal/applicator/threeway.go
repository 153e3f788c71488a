// Package applicator is the Patch Applicator (spec §4.3): it takes a patch
// and the target commit's current content for that file and produces
// either clean merged content or a structured set of Conflicts the caller
// must resolve before the operation can proceed.
package applicator

import (
	"strconv"
	"strings"

	"github.com/patchdance-dev/patchdance/internal/diffengine"
	"github.com/patchdance-dev/patchdance/internal/diffmodel"
	"github.com/patchdance-dev/patchdance/internal/merge"
	"github.com/patchdance-dev/patchdance/internal/patcherr"
)

// Input bundles the two texts a single-file application needs: the
// patch's source-commit content (base), and the target commit's content
// (theirs) the patch is being applied on top of.
type Input struct {
	Patch         diffmodel.Patch
	SourceContent string // base: content of TargetFile at Patch.SourceCommit's parent
	TargetContent string // theirs: content of TargetFile at the destination commit
	TargetLabel   string // annotates conflict markers, e.g. the target commit's short id
}

// Outcome is the result of applying one patch against a target.
type Outcome struct {
	Content      string
	HasConflicts bool
	Conflicts    []diffmodel.Conflict
	AutoResolved int
}

// Apply runs the three-way merge spec §4.3 describes:
//  1. Apply the patch to SourceContent in isolation to get "ours".
//  2. Three-way merge base=SourceContent, ours, theirs=TargetContent.
//  3. Any merge.Conflict regions become diffmodel.Conflicts the caller
//     can hand to a resolver (spec §4.3's "Resolver" hook) or surface to
//     the operator.
//
// Apply does not know whether the target file exists: an empty
// TargetContent is merged like any other theirs. The History Rewriter
// reports a DeleteModifyConflict for a missing destination file before it
// calls Apply.
func Apply(in Input) (Outcome, error) {
	if len(in.Patch.Hunks) == 0 && in.Patch.ModeChange == nil {
		return Outcome{Content: in.TargetContent}, nil
	}

	result, err := merge.ThreeWayPatch(in.Patch, in.SourceContent, in.TargetContent, in.TargetLabel, diffengine.DefaultApplyOptions())
	if err != nil {
		return Outcome{}, err
	}

	conflicts := make([]diffmodel.Conflict, 0, len(result.Conflicts))
	for _, c := range result.Conflicts {
		conflicts = append(conflicts, diffmodel.Conflict{
			ID:           diffmodel.ContentConflictID(in.Patch.TargetFile, c.OutputStartLine),
			Kind:         diffmodel.ContentConflict,
			FilePath:     in.Patch.TargetFile,
			Description:  "three-way merge conflict at output line " + strconv.Itoa(c.OutputStartLine),
			OurContent:   strings.Join(c.OursLines, "\n"),
			TheirContent: strings.Join(c.TheirsLines, "\n"),
		})
	}

	out := Outcome{
		Content:      string(result.Content),
		HasConflicts: result.HasConflicts,
		Conflicts:    conflicts,
		AutoResolved: result.AutoResolved,
	}
	if out.HasConflicts {
		return out, patcherr.Conflicted(conflicts)
	}
	return out, nil
}

// ApplySeries applies each patch in order, feeding each outcome's merged
// content forward as the next patch's theirs, matching how a commit-rewrite
// applies a commit's whole patch set against an already-rebased parent
// (spec §4.4).
func ApplySeries(patches []diffmodel.Patch, sourceContents map[string]string, targetContents map[string]string, targetLabel string) (map[string]string, []diffmodel.Conflict, error) {
	results := make(map[string]string, len(targetContents))
	for path, content := range targetContents {
		results[path] = content
	}

	var allConflicts []diffmodel.Conflict
	for _, p := range patches {
		in := Input{
			Patch:         p,
			SourceContent: sourceContents[p.TargetFile],
			TargetContent: results[p.TargetFile],
			TargetLabel:   targetLabel,
		}
		out, err := Apply(in)
		if err != nil && len(out.Conflicts) == 0 {
			return nil, nil, err
		}
		results[p.TargetFile] = out.Content
		allConflicts = append(allConflicts, out.Conflicts...)
	}

	if len(allConflicts) > 0 {
		return results, allConflicts, patcherr.Conflicted(allConflicts)
	}
	return results, nil, nil
}
