// Package engine wires the Diff Model, Diff Engine, Conflict Detector,
// Patch Applicator, and History Rewriter into the single API surface spec
// §1's Non-goals carve a CLI/UI out of: ExtractPatches, PreviewOperation,
// ApplyOperation, DetectConflicts, Recover, ListBackups, PruneBackups.
package engine

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/patchdance-dev/patchdance/internal/conflict"
	"github.com/patchdance-dev/patchdance/internal/config"
	"github.com/patchdance-dev/patchdance/internal/diffengine"
	"github.com/patchdance-dev/patchdance/internal/diffmodel"
	"github.com/patchdance-dev/patchdance/internal/patcherr"
	"github.com/patchdance-dev/patchdance/internal/repository"
	"github.com/patchdance-dev/patchdance/internal/rewriter"
)

// Engine is the top-level entry point a CLI or UI drives. It holds no state
// of its own beyond its dependencies — every call takes the repository and
// operation it needs, so a single Engine value can serve many repositories.
type Engine struct {
	Repo       repository.Port
	Config     *config.EngineConfig
	JournalDir string            // enables crash recovery when non-empty
	Resolver   rewriter.Resolver // settles merge conflicts; nil makes them fatal
	Events     rewriter.EventSink
}

// New returns an Engine with spec-default configuration.
func New(repo repository.Port) *Engine {
	return &Engine{Repo: repo, Config: config.DefaultEngineConfig()}
}

// ExtractPatches implements the Diff Engine's extraction entry point
// (spec §4.1) for a single commit.
func (e *Engine) ExtractPatches(ctx context.Context, commit diffmodel.CommitId) ([]diffmodel.Patch, error) {
	return diffengine.ExtractPatches(ctx, e.Repo, commit)
}

// ExtractPatchesMany extracts patches for every commit in ids concurrently,
// capped the way the teacher's diff/show commands cap parallel per-file
// fetches (golang.org/x/sync/errgroup, SetLimit), since extraction per
// commit is a read-only, independent operation.
func (e *Engine) ExtractPatchesMany(ctx context.Context, ids []diffmodel.CommitId) (map[diffmodel.CommitId][]diffmodel.Patch, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(15)

	var mu sync.Mutex
	out := make(map[diffmodel.CommitId][]diffmodel.Patch, len(ids))
	for _, id := range ids {
		id := id
		g.Go(func() error {
			patches, err := diffengine.ExtractPatches(gctx, e.Repo, id)
			if err != nil {
				return err
			}
			mu.Lock()
			out[id] = patches
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// DetectConflicts runs the Conflict Detector (spec §4.2) for patches
// against targetCommit.
func (e *Engine) DetectConflicts(ctx context.Context, patches []diffmodel.Patch, targetCommit diffmodel.CommitId) ([]diffmodel.Conflict, error) {
	return conflict.DetectFromPort(ctx, e.Repo, patches, targetCommit)
}

// PreviewOperation produces a side-effect-free projection of what
// ApplyOperation would do (spec §4's preview_operation, §8 scenario F:
// idempotent, bytewise-equal across repeated calls against unchanged
// state). It validates the operation, derives its plan, and reports
// conflicts without writing anything.
func (e *Engine) PreviewOperation(ctx context.Context, op diffmodel.Operation) (diffmodel.OperationPreview, error) {
	if err := ValidateOperation(op); err != nil {
		return diffmodel.OperationPreview{}, err
	}

	branchHead, err := e.Repo.Head(ctx)
	if err != nil {
		return diffmodel.OperationPreview{}, err
	}

	plan, err := rewriter.DerivePlan(ctx, e.Repo, op, branchHead)
	if err != nil {
		return diffmodel.OperationPreview{}, err
	}

	var changes []diffmodel.Change
	var potential []diffmodel.Conflict
	for _, commit := range plan.Commits {
		patches, err := diffengine.ExtractPatches(ctx, e.Repo, commit)
		if err != nil {
			return diffmodel.OperationPreview{}, err
		}
		for _, p := range patches {
			changes = append(changes, diffmodel.Change{
				Commit:   commit,
				FilePath: p.TargetFile,
				Summary:  summarizePatch(p),
			})
		}
		conflicts, err := conflict.DetectFromPort(ctx, e.Repo, patches, commit)
		if err != nil {
			return diffmodel.OperationPreview{}, err
		}
		potential = append(potential, conflicts...)
	}

	return diffmodel.OperationPreview{
		Changes:            changes,
		PotentialConflicts: potential,
		AffectedCommits:    plan.Commits,
	}, nil
}

func summarizePatch(p diffmodel.Patch) string {
	switch {
	case p.Binary:
		return "binary file changed"
	case p.ModeChange != nil:
		return "mode changed"
	default:
		return plural(len(p.Hunks), "hunk")
	}
}

func plural(n int, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	return itoa(n) + " " + noun + "s"
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := [20]byte{}
	i := len(digits)
	for n > 0 {
		i--
		digits[i] = byte('0' + n%10)
		n /= 10
	}
	return string(digits[i:])
}

// ApplyOperation validates op and runs it through a fresh Transaction
// (spec §4.4, §5): preflight, backup, rewrite, rebase, commit, with an
// automatic rollback to the pre-operation backup on any failure.
func (e *Engine) ApplyOperation(ctx context.Context, op diffmodel.Operation) (diffmodel.OperationResult, error) {
	if err := ValidateOperation(op); err != nil {
		return diffmodel.OperationResult{}, err
	}

	tx := &rewriter.Transaction{
		Repo:       e.Repo,
		Config:     e.Config,
		JournalDir: e.JournalDir,
		Resolver:   e.Resolver,
		Events:     e.Events,
	}
	return tx.Execute(ctx, op)
}

// ListBackups enumerates retained backup refs, newest first.
func (e *Engine) ListBackups(ctx context.Context) ([]rewriter.Backup, error) {
	return rewriter.ListBackups(ctx, e.Repo)
}

// PruneBackups deletes backup refs older than the configured retention
// window, judged against now.
func (e *Engine) PruneBackups(ctx context.Context, now time.Time) (int, error) {
	return rewriter.PruneBackups(ctx, e.Repo, e.Config.BackupRetention(), now)
}

// Recover looks for an interrupted transaction's journal record and, if
// found, restores the branch to that operation's backup — the supplemental
// crash-recovery feature a pure in-memory state machine can't offer on its
// own (spec's journal-based recovery).
func (e *Engine) Recover(ctx context.Context, operationID string) error {
	if e.JournalDir == "" {
		return patcherr.New(patcherr.IoError, "journaling is disabled, nothing to recover")
	}
	rec, err := rewriter.ReadJournal(e.JournalDir, operationID)
	if err != nil {
		return err
	}
	if rec.BackupID == "" {
		return patcherr.New(patcherr.IoError, "journal record has no backup to restore").
			WithMessage("operation " + operationID + " had not yet taken a backup when it was interrupted")
	}

	head, err := e.Repo.Head(ctx)
	if err != nil {
		return err
	}
	if err := rewriter.RestoreBackup(ctx, e.Repo, rewriter.Backup{
		OperationID: rec.OperationID,
		Branch:      rec.Branch,
		CommitID:    rec.BackupID,
	}, head); err != nil {
		return err
	}
	return rewriter.DeleteJournal(e.JournalDir, operationID)
}

// RecoverAll recovers every interrupted operation found in the journal
// directory, in no particular order (at most one should exist in practice
// since transactions are single-threaded, but a crash during a retry loop
// could leave more than one).
func (e *Engine) RecoverAll(ctx context.Context) ([]string, error) {
	if e.JournalDir == "" {
		return nil, nil
	}
	ids, err := rewriter.ListJournals(e.JournalDir)
	if err != nil {
		return nil, err
	}
	var recovered []string
	for _, id := range ids {
		if err := e.Recover(ctx, id); err != nil {
			return recovered, err
		}
		recovered = append(recovered, id)
	}
	return recovered, nil
}
