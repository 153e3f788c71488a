package rewriter

import (
	"context"
	"sort"

	"github.com/patchdance-dev/patchdance/internal/diffmodel"
	"github.com/patchdance-dev/patchdance/internal/repository"
)

// Plan is the ordered list of commits an Operation touches, derived once up
// front so the transaction can rewrite them in ancestor-to-descendant order
// and know exactly how far a rebase needs to walk (spec §4.4).
type Plan struct {
	Operation diffmodel.Operation
	// Commits are every commit the rewrite must visit, oldest first:
	// the commits the operation names directly, plus every descendant on
	// the branch up to and including Head (spec §4.4's "automatic descendant
	// rebasing").
	Commits []diffmodel.CommitId
}

// DerivePlan walks history from branchHead back to the oldest commit the
// operation names, so the transaction knows every descendant that will
// need its parent pointer (and, for a content move, its patch set)
// rewritten.
func DerivePlan(ctx context.Context, repo repository.Port, op diffmodel.Operation, branchHead diffmodel.CommitId) (Plan, error) {
	roots := operationRoots(op)
	if len(roots) == 0 {
		return Plan{Operation: op, Commits: nil}, nil
	}

	history, err := repo.WalkHistory(ctx, branchHead, 0)
	if err != nil {
		return Plan{}, err
	}

	want := make(map[diffmodel.CommitId]bool, len(roots))
	for _, r := range roots {
		want[r] = true
	}

	// history is newest-first; find the index of the oldest wanted root so
	// we know exactly how many descendants (including branchHead) ride along.
	cut := -1
	for i, info := range history {
		if want[info.ID] {
			cut = i
		}
	}
	if cut < 0 {
		// None of the roots are reachable from branchHead (e.g. a detached
		// commit outside the current branch) — the plan covers only what
		// the operation names directly.
		commits := append([]diffmodel.CommitId(nil), roots...)
		sort.Slice(commits, func(i, j int) bool { return commits[i] < commits[j] })
		return Plan{Operation: op, Commits: commits}, nil
	}

	commits := make([]diffmodel.CommitId, 0, cut+1)
	for i := cut; i >= 0; i-- {
		commits = append(commits, history[i].ID)
	}
	return Plan{Operation: op, Commits: commits}, nil
}

// operationRoots extracts the commit ids an Operation directly names,
// the starting points for descendant discovery.
func operationRoots(op diffmodel.Operation) []diffmodel.CommitId {
	var roots []diffmodel.CommitId
	switch op.Kind {
	case diffmodel.OpMovePatch:
		roots = append(roots, op.FromCommit, op.ToCommit)
	case diffmodel.OpSplitCommit:
		roots = append(roots, op.SourceCommit)
	case diffmodel.OpCreateCommit:
		if op.CreatePosition.Kind != diffmodel.AtBranchHead {
			roots = append(roots, op.CreatePosition.Relative)
		}
	case diffmodel.OpMergeCommits:
		roots = append(roots, op.CommitIDs...)
	}
	return dedupeCommits(roots)
}

func dedupeCommits(ids []diffmodel.CommitId) []diffmodel.CommitId {
	seen := make(map[diffmodel.CommitId]bool, len(ids))
	out := make([]diffmodel.CommitId, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
