// Package rewriter is the History Rewriter (spec §4.4, §5): given a
// validated Operation it derives a Plan, backs up the branch, replays the
// plan's commits oldest-first with each commit's adjusted patch set, and
// lands the new head with a single compare-and-swap ref update — rolling
// the branch back to its backup on any failure along the way.
package rewriter

import (
	"context"
	"fmt"
	"time"

	"github.com/patchdance-dev/patchdance/internal/applicator"
	"github.com/patchdance-dev/patchdance/internal/config"
	"github.com/patchdance-dev/patchdance/internal/diffengine"
	"github.com/patchdance-dev/patchdance/internal/diffmodel"
	"github.com/patchdance-dev/patchdance/internal/idgen"
	"github.com/patchdance-dev/patchdance/internal/patcherr"
	"github.com/patchdance-dev/patchdance/internal/repository"
	"github.com/patchdance-dev/patchdance/internal/util"
)

// Resolver is an optional callback given one chance to settle a conflict
// the three-way merge could not: it returns the full resolved content for
// the conflicted file and true, or false to leave the conflict standing.
// Without a resolver, any conflict aborts the transaction.
type Resolver func(c diffmodel.Conflict) (string, bool)

// EventSink observes transaction state transitions. It runs on the
// transaction's own goroutine and must not block.
type EventSink func(operationID string, from, to State)

// Transaction runs exactly one Operation to completion or rolls the branch
// back. It is not reentrant — build a fresh Transaction per operation.
type Transaction struct {
	Repo       repository.Port
	Config     *config.EngineConfig
	JournalDir string   // empty disables journaling
	Resolver   Resolver // nil means conflicts are fatal
	Events     EventSink

	operationID string
	branch      string
	state       State
	backup      Backup
}

// commitEdit describes how one original commit's patch set changes during
// the replay: the new set is (original patches) ∪ (add) ∖ (remove), unless
// the commit is dropped, split, or has synthesized commits inserted around
// it.
type commitEdit struct {
	remove       map[diffmodel.PatchId]bool
	add          []diffmodel.Patch
	message      string // non-empty overrides the original message
	drop         bool   // commit folds into another and leaves the chain
	splitInto    []diffmodel.NewCommit
	absorb       []diffmodel.CommitId // merge target: commits whose patches fold in, oldest first
	insertBefore []pendingCommit
	insertAfter  []pendingCommit
}

// pendingCommit is a commit the operation synthesizes from scratch.
type pendingCommit struct {
	message string
	patches []diffmodel.Patch
}

// touchesContent reports whether the edit changes this commit's own patch
// set or message, as opposed to only inserting synthesized commits around
// it (which leaves the commit itself a plain rebase candidate).
func (ed *commitEdit) touchesContent() bool {
	return len(ed.remove) > 0 || len(ed.add) > 0 || ed.message != "" || len(ed.absorb) > 0
}

// Execute runs op against the current branch from its current head,
// returning the result spec §4 describes. When JournalDir is set, a journal
// record is written after planning and again once the backup is taken, so
// Recover can restore the branch after a crash.
func (tx *Transaction) Execute(ctx context.Context, op diffmodel.Operation) (diffmodel.OperationResult, error) {
	if tx.Config == nil {
		tx.Config = config.DefaultEngineConfig()
	}
	tx.operationID = idgen.NewOperationID()

	ctx, cancel := context.WithTimeout(ctx, tx.Config.TransactionTimeout())
	defer cancel()

	branch, err := tx.Repo.CurrentBranch(ctx)
	if err != nil {
		return diffmodel.OperationResult{}, err
	}
	tx.branch = branch

	branchHead, err := tx.Repo.Head(ctx)
	if err != nil {
		return diffmodel.OperationResult{}, err
	}

	tx.advance(Planning)
	plan, err := DerivePlan(ctx, tx.Repo, op, branchHead)
	if err != nil {
		return tx.fail(ctx, err)
	}
	edits, atHead, err := tx.deriveEdits(ctx, op, plan)
	if err != nil {
		return tx.fail(ctx, err)
	}
	tx.journal(op, branchHead)

	tx.advance(Preflighting)
	clean, err := tx.Repo.IsClean(ctx)
	if err != nil {
		return tx.fail(ctx, err)
	}
	if !clean {
		return tx.fail(ctx, patcherr.New(patcherr.RepositoryError, "working tree is not clean").
			WithCause("a history rewrite requires a clean working tree to avoid clobbering uncommitted work"))
	}

	tx.advance(BackupTaken)
	backup, err := TakeBackup(ctx, tx.Repo, tx.operationID, branch, branchHead)
	if err != nil {
		return tx.fail(ctx, err)
	}
	tx.backup = backup
	tx.journal(op, branchHead)

	tx.advance(Rewriting)
	outcome, err := tx.replay(ctx, plan, edits, atHead, branchHead)
	if err != nil {
		return tx.fail(ctx, err)
	}
	if len(outcome.conflicts) > 0 {
		return tx.fail(ctx, patcherr.Conflicted(outcome.conflicts))
	}
	tx.advance(Rebasing)

	tx.advance(Committing)
	ok, err := tx.Repo.UpdateRef(ctx, branchRefName(branch), branchHead, outcome.newHead)
	if err != nil {
		return tx.fail(ctx, err)
	}
	if !ok {
		return tx.fail(ctx, patcherr.New(patcherr.TransactionAborted, branch+" moved during the transaction").
			WithCause("another writer updated the branch concurrently"))
	}

	tx.advance(Done)
	if tx.JournalDir != "" {
		_ = DeleteJournal(tx.JournalDir, tx.operationID)
	}

	return diffmodel.OperationResult{
		Success:         true,
		NewCommitIDs:    outcome.newIDs,
		ModifiedCommits: outcome.modified,
		Message:         fmt.Sprintf("%s applied, %s now at %s", op.Kind, branch, outcome.newHead.Short()),
	}, nil
}

func (tx *Transaction) advance(to State) {
	from := tx.state
	tx.state = to
	if tx.Events != nil {
		tx.Events(tx.operationID, from, to)
	}
}

func (tx *Transaction) journal(op diffmodel.Operation, backupCommit diffmodel.CommitId) {
	if tx.JournalDir == "" {
		return
	}
	_ = WriteJournal(tx.JournalDir, JournalRecord{
		OperationID: tx.operationID,
		Branch:      tx.branch,
		State:       tx.state.String(),
		Operation:   op,
		BackupID:    backupCommit,
		UpdatedAt:   time.Now(),
	})
}

// fail rolls the branch back to its pre-transaction backup (if one was
// taken) and wraps err as a TransactionAborted.
func (tx *Transaction) fail(ctx context.Context, err error) (diffmodel.OperationResult, error) {
	if tx.state == BackupTaken || tx.state == Rewriting || tx.state == Rebasing || tx.state == Committing {
		tx.advance(RollingBack)
		head, headErr := tx.Repo.Head(ctx)
		if headErr == nil {
			_ = RestoreBackup(ctx, tx.Repo, tx.backup, head)
		}
	}
	tx.advance(Idle)
	if tx.JournalDir != "" {
		_ = DeleteJournal(tx.JournalDir, tx.operationID)
	}
	return diffmodel.OperationResult{Success: false, Message: err.Error()}, patcherr.Aborted(err)
}

// deriveEdits turns op into per-commit patch-set adjustments keyed by the
// original commit id, plus any commits to synthesize on top of the branch
// head. The replay walk consumes these while rebuilding the plan's commits
// oldest-first.
func (tx *Transaction) deriveEdits(ctx context.Context, op diffmodel.Operation, plan Plan) (map[diffmodel.CommitId]*commitEdit, []pendingCommit, error) {
	edits := make(map[diffmodel.CommitId]*commitEdit)
	edit := func(id diffmodel.CommitId) *commitEdit {
		if edits[id] == nil {
			edits[id] = &commitEdit{}
		}
		return edits[id]
	}

	switch op.Kind {
	case diffmodel.OpMovePatch:
		fromPatches, err := diffengine.ExtractPatches(ctx, tx.Repo, op.FromCommit)
		if err != nil {
			return nil, nil, err
		}
		var moved *diffmodel.Patch
		for i := range fromPatches {
			if fromPatches[i].ID == op.MovePatchID {
				moved = &fromPatches[i]
				break
			}
		}
		if moved == nil {
			return nil, nil, patcherr.New(patcherr.PatchApplicationError,
				fmt.Sprintf("patch %s not found in %s", op.MovePatchID, op.FromCommit.Short()))
		}
		edit(op.FromCommit).remove = map[diffmodel.PatchId]bool{op.MovePatchID: true}
		// moved keeps its original SourceCommit so patchBaseContent still
		// resolves against the content its hunks were actually cut from.
		edit(op.ToCommit).add = append(edit(op.ToCommit).add, *moved)

	case diffmodel.OpSplitCommit:
		edit(op.SourceCommit).splitInto = op.NewCommits

	case diffmodel.OpCreateCommit:
		patches, err := tx.resolveCreatePatches(ctx, op.CreatePatches)
		if err != nil {
			return nil, nil, err
		}
		pc := pendingCommit{message: op.Message, patches: patches}
		switch op.CreatePosition.Kind {
		case diffmodel.Before:
			e := edit(op.CreatePosition.Relative)
			e.insertBefore = append(e.insertBefore, pc)
		case diffmodel.After:
			e := edit(op.CreatePosition.Relative)
			e.insertAfter = append(e.insertAfter, pc)
		case diffmodel.AtBranchHead:
			return edits, []pendingCommit{pc}, nil
		}

	case diffmodel.OpMergeCommits:
		if len(op.CommitIDs) < 2 {
			return nil, nil, patcherr.New(patcherr.PatchApplicationError, "merge_commits requires at least two commits")
		}
		named := make(map[diffmodel.CommitId]bool, len(op.CommitIDs))
		for _, id := range op.CommitIDs {
			named[id] = true
		}
		// The merged commit sits where the oldest named commit was; every
		// other named commit folds into it in chain order.
		var anchor diffmodel.CommitId
		var absorb []diffmodel.CommitId
		for _, id := range plan.Commits {
			if !named[id] {
				continue
			}
			if anchor == "" {
				anchor = id
				continue
			}
			absorb = append(absorb, id)
		}
		if anchor == "" || len(absorb) != len(op.CommitIDs)-1 {
			return nil, nil, patcherr.New(patcherr.InvalidCommitId, "merge_commits names commits outside the current branch")
		}
		e := edit(anchor)
		e.absorb = absorb
		e.message = op.Message
		for _, id := range absorb {
			edit(id).drop = true
		}

	default:
		return nil, nil, patcherr.New(patcherr.PatchApplicationError, "unknown operation kind")
	}

	return edits, nil, nil
}

// replayOutcome is what one replay walk produces.
type replayOutcome struct {
	newHead   diffmodel.CommitId
	newIDs    []diffmodel.CommitId // commits the operation itself created
	modified  []diffmodel.CommitId // original commits the operation touched
	conflicts []diffmodel.Conflict
}

// replay rebuilds plan.Commits oldest-first on a fresh chain, applying each
// commit's adjusted patch set via the three-way applicator — this is both
// the rewrite and the descendant rebase of spec §4.4, interleaved so no
// child is ever finalized before its new parent. Commits with no edit are
// replayed verbatim; a commit whose adjusted set is empty is elided when
// the config says so.
func (tx *Transaction) replay(ctx context.Context, plan Plan, edits map[diffmodel.CommitId]*commitEdit, atHead []pendingCommit, branchHead diffmodel.CommitId) (replayOutcome, error) {
	var out replayOutcome

	newParent := branchHead
	if len(plan.Commits) > 0 {
		info, err := tx.Repo.CommitInfo(ctx, plan.Commits[0])
		if err != nil {
			return out, err
		}
		newParent, _ = info.FirstParent()
	}

	chainChanged := false
	for _, original := range plan.Commits {
		if err := ctx.Err(); err != nil {
			return out, patcherr.Cancelled(err.Error())
		}
		ed := edits[original]

		// The untouched prefix of the plan keeps its original commits: until
		// something actually changes the chain, there is nothing to rebase.
		if !chainChanged && (ed == nil || (!ed.touchesContent() && !ed.drop && len(ed.splitInto) == 0 && len(ed.insertBefore) == 0)) {
			newParent = original
			if ed != nil {
				for _, pc := range ed.insertAfter {
					id, conflicts, err := tx.recommitWithConflicts(ctx, newParent, diffmodel.CommitInfo{Message: pc.message}, pc.patches)
					if err != nil {
						return out, err
					}
					if len(conflicts) > 0 {
						out.conflicts = append(out.conflicts, conflicts...)
						return out, nil
					}
					out.newIDs = append(out.newIDs, id)
					newParent = id
					chainChanged = true
				}
			}
			continue
		}
		chainChanged = true

		if ed != nil {
			for _, pc := range ed.insertBefore {
				id, conflicts, err := tx.recommitWithConflicts(ctx, newParent, diffmodel.CommitInfo{Message: pc.message}, pc.patches)
				if err != nil {
					return out, err
				}
				if len(conflicts) > 0 {
					out.conflicts = append(out.conflicts, conflicts...)
					return out, nil
				}
				out.newIDs = append(out.newIDs, id)
				newParent = id
			}
		}

		if ed != nil && ed.drop {
			out.modified = append(out.modified, original)
			continue
		}

		info, err := tx.Repo.CommitInfo(ctx, original)
		if err != nil {
			return out, err
		}

		if ed != nil && len(ed.splitInto) > 0 {
			if err := tx.replaySplit(ctx, original, info, ed.splitInto, &newParent, &out); err != nil {
				return out, err
			}
			if len(out.conflicts) > 0 {
				return out, nil
			}
		} else {
			patches, err := tx.adjustedPatches(ctx, original, ed)
			if err != nil {
				return out, err
			}
			if ed != nil && ed.message != "" {
				info.Message = ed.message
			}
			id, conflicts, err := tx.recommitWithConflicts(ctx, newParent, info, patches)
			if err != nil {
				return out, err
			}
			if len(conflicts) > 0 {
				out.conflicts = append(out.conflicts, conflicts...)
				return out, nil
			}
			if ed != nil && ed.touchesContent() {
				out.modified = append(out.modified, original)
				if id != newParent {
					out.newIDs = append(out.newIDs, id)
				}
			}
			newParent = id
		}

		if ed != nil {
			for _, pc := range ed.insertAfter {
				id, conflicts, err := tx.recommitWithConflicts(ctx, newParent, diffmodel.CommitInfo{Message: pc.message}, pc.patches)
				if err != nil {
					return out, err
				}
				if len(conflicts) > 0 {
					out.conflicts = append(out.conflicts, conflicts...)
					return out, nil
				}
				out.newIDs = append(out.newIDs, id)
				newParent = id
			}
		}
	}

	for _, pc := range atHead {
		id, conflicts, err := tx.recommitWithConflicts(ctx, newParent, diffmodel.CommitInfo{Message: pc.message}, pc.patches)
		if err != nil {
			return out, err
		}
		if len(conflicts) > 0 {
			out.conflicts = append(out.conflicts, conflicts...)
			return out, nil
		}
		out.newIDs = append(out.newIDs, id)
		newParent = id
	}

	out.newHead = newParent
	return out, nil
}

// replaySplit replaces one commit with a chain of new commits, each taking
// the subset of the original's patches its NewCommit entry names.
func (tx *Transaction) replaySplit(ctx context.Context, original diffmodel.CommitId, info diffmodel.CommitInfo, parts []diffmodel.NewCommit, newParent *diffmodel.CommitId, out *replayOutcome) error {
	all, err := diffengine.ExtractPatches(ctx, tx.Repo, original)
	if err != nil {
		return err
	}
	byID := make(map[diffmodel.PatchId]diffmodel.Patch, len(all))
	for _, p := range all {
		byID[p.ID] = p
	}

	for _, nc := range parts {
		var subset []diffmodel.Patch
		for _, pid := range nc.Patches {
			if p, ok := byID[pid]; ok {
				subset = append(subset, p)
			}
		}
		sub := info
		sub.Message = nc.Message
		id, conflicts, err := tx.recommitWithConflicts(ctx, *newParent, sub, subset)
		if err != nil {
			return err
		}
		if len(conflicts) > 0 {
			out.conflicts = append(out.conflicts, conflicts...)
			return nil
		}
		out.newIDs = append(out.newIDs, id)
		*newParent = id
	}
	out.modified = append(out.modified, original)
	return nil
}

// adjustedPatches computes a commit's replay patch set: its extracted
// patches minus ed.remove, plus ed.add, plus (for a merge anchor) every
// absorbed commit's patches in chain order.
func (tx *Transaction) adjustedPatches(ctx context.Context, original diffmodel.CommitId, ed *commitEdit) ([]diffmodel.Patch, error) {
	extracted, err := diffengine.ExtractPatches(ctx, tx.Repo, original)
	if err != nil {
		return nil, err
	}
	if ed == nil {
		return extracted, nil
	}

	patches := make([]diffmodel.Patch, 0, len(extracted)+len(ed.add))
	for _, p := range extracted {
		if ed.remove[p.ID] {
			continue
		}
		patches = append(patches, p)
	}
	for _, absorbed := range ed.absorb {
		more, err := diffengine.ExtractPatches(ctx, tx.Repo, absorbed)
		if err != nil {
			return nil, err
		}
		patches = append(patches, more...)
	}
	patches = append(patches, ed.add...)
	return patches, nil
}

// resolveCreatePatches looks up the actual Patch (hunks, mode change, source
// commit) for each PatchId a CreateCommit operation names, by walking branch
// history for the commit each id's SourceShort identifies and re-extracting
// its patches. PatchId carries only a target file and a short commit id, not
// live hunks, so a synthesized commit has to rediscover them this way.
func (tx *Transaction) resolveCreatePatches(ctx context.Context, ids []diffmodel.PatchId) ([]diffmodel.Patch, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	head, err := tx.Repo.Head(ctx)
	if err != nil {
		return nil, err
	}
	history, err := tx.Repo.WalkHistory(ctx, head, 0)
	if err != nil {
		return nil, err
	}

	want := make(map[diffmodel.PatchId]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}

	resolved := make(map[diffmodel.PatchId]diffmodel.Patch, len(ids))
	for _, info := range history {
		if len(resolved) == len(want) {
			break
		}
		patches, err := diffengine.ExtractPatches(ctx, tx.Repo, info.ID)
		if err != nil {
			return nil, err
		}
		for _, p := range patches {
			if want[p.ID] {
				resolved[p.ID] = p
			}
		}
	}

	out := make([]diffmodel.Patch, 0, len(ids))
	for _, id := range ids {
		p, ok := resolved[id]
		if !ok {
			return nil, patcherr.New(patcherr.PatchApplicationError, fmt.Sprintf("patch %s not found in branch history", id))
		}
		out = append(out, p)
	}
	return out, nil
}

// recommitWithConflicts applies patches in order on top of parent's tree
// and writes a new commit, returning any conflicts the three-way applicator
// produced instead of failing outright. Successive patches on the same file
// see each other's output, so a commit carrying several patches for one
// path applies them as a series.
func (tx *Transaction) recommitWithConflicts(ctx context.Context, parent diffmodel.CommitId, info diffmodel.CommitInfo, patches []diffmodel.Patch) (diffmodel.CommitId, []diffmodel.Conflict, error) {
	if tx.Config.ElideEmptyCommits && allEmpty(patches) {
		return parent, nil, nil
	}

	var allConflicts []diffmodel.Conflict
	contents := make(map[string]string)
	present := make(map[string]bool)
	loaded := make(map[string]bool)
	order := make([]string, 0, len(patches))
	deleted := make(map[string]bool)

	for _, p := range patches {
		if !loaded[p.TargetFile] {
			blob, found, err := tx.Repo.ReadBlob(ctx, parent, p.TargetFile)
			if err != nil {
				return "", nil, err
			}
			contents[p.TargetFile] = string(util.ToValidUTF8Bytes(blob))
			present[p.TargetFile] = found
			loaded[p.TargetFile] = true
			order = append(order, p.TargetFile)
		}

		if !present[p.TargetFile] && p.ExpectsExistingFile() {
			// spec §4.3's tie-break: the patch references lines that no
			// longer exist at the destination, rather than an Added file
			// landing somewhere it doesn't collide.
			allConflicts = append(allConflicts, diffmodel.Conflict{
				ID:       diffmodel.DeleteModifyConflictID(p.TargetFile),
				Kind:     diffmodel.DeleteModifyConflict,
				FilePath: p.TargetFile,
				Description: fmt.Sprintf(
					"%s is absent from %s but patch %s expects it to exist",
					p.TargetFile, parent.Short(), p.ID,
				),
			})
			continue
		}

		sourceContent, err := tx.patchBaseContent(ctx, p)
		if err != nil {
			return "", nil, err
		}
		out, err := applicator.Apply(applicator.Input{
			Patch:         p,
			SourceContent: sourceContent,
			TargetContent: contents[p.TargetFile],
			TargetLabel:   parent.Short(),
		})
		if err != nil && len(out.Conflicts) == 0 {
			return "", nil, err
		}

		content := out.Content
		conflicts := out.Conflicts
		if len(conflicts) > 0 && tx.Resolver != nil {
			if resolved, ok := resolveConflicts(tx.Resolver, conflicts); ok {
				content = resolved
				conflicts = nil
			}
		}
		allConflicts = append(allConflicts, conflicts...)

		contents[p.TargetFile] = content
		present[p.TargetFile] = true
		deleted[p.TargetFile] = p.ModeChange != nil && p.ModeChange.Kind == diffmodel.DeletedFile && content == ""
	}

	if len(allConflicts) > 0 {
		return "", allConflicts, nil
	}

	entries := make([]repository.TreeEntry, 0, len(order))
	modeChanges := lastModeChanges(patches)
	for _, path := range order {
		entries = append(entries, repository.TreeEntry{
			Path:       path,
			Content:    []byte(contents[path]),
			ModeChange: modeChanges[path],
			Deleted:    deleted[path],
		})
	}

	tree, err := tx.Repo.WriteTree(ctx, parent, entries)
	if err != nil {
		return "", nil, err
	}

	parents := []diffmodel.CommitId{}
	if parent != "" {
		parents = append(parents, parent)
	}
	author := repository.Signature{Name: info.Author, Email: info.Email, When: info.Timestamp}
	if author.When.IsZero() {
		author.When = time.Now().UTC()
	}
	// Author identity and author time survive from the original commit
	// (spec §4.4); the committer and committer time always become now,
	// the same way a real rebase/rewrite stamps a fresh committer line.
	committer := repository.Signature{Name: author.Name, Email: author.Email, When: time.Now().UTC()}
	commitId, err := tx.Repo.CreateCommit(ctx, parents, tree, author, committer, info.Message)
	return commitId, nil, err
}

// resolveConflicts asks the resolver to settle every conflict of one file's
// application; all must resolve or none count. Each resolution returns the
// file's full content, so the last one wins.
func resolveConflicts(r Resolver, conflicts []diffmodel.Conflict) (string, bool) {
	var content string
	for _, c := range conflicts {
		res, ok := r(c)
		if !ok {
			return "", false
		}
		content = res
	}
	return content, true
}

// lastModeChanges returns, per path, the last ModeChange any patch in the
// series carries — "the merged result carries it" per spec §4.3.
func lastModeChanges(patches []diffmodel.Patch) map[string]*diffmodel.ModeChange {
	out := make(map[string]*diffmodel.ModeChange)
	for _, p := range patches {
		if p.ModeChange != nil {
			out[p.TargetFile] = p.ModeChange
		}
	}
	return out
}

// patchBaseContent resolves the content a patch's hunks were cut against:
// TargetFile as of p.SourceCommit's parent, the pre-patch state the old
// coordinate space of every hunk refers to. A synthesized patch (no
// SourceCommit) has no base to look up.
func (tx *Transaction) patchBaseContent(ctx context.Context, p diffmodel.Patch) (string, error) {
	if p.SourceCommit == "" {
		return "", nil
	}
	srcInfo, err := tx.Repo.CommitInfo(ctx, p.SourceCommit)
	if err != nil {
		return "", err
	}
	parent, _ := srcInfo.FirstParent()
	content, _, err := tx.Repo.ReadBlob(ctx, parent, p.TargetFile)
	if err != nil {
		return "", err
	}
	return string(util.ToValidUTF8Bytes(content)), nil
}

func allEmpty(patches []diffmodel.Patch) bool {
	for _, p := range patches {
		if !p.IsEmpty() {
			return false
		}
	}
	return true
}
