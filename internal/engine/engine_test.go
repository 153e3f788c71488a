package engine

import (
	"context"
	"testing"
	"time"

	"github.com/patchdance-dev/patchdance/internal/diffmodel"
	"github.com/patchdance-dev/patchdance/internal/repository"
)

func seedLinearHistory(t *testing.T) (*repository.Memory, diffmodel.CommitId, diffmodel.CommitId) {
	t.Helper()
	repo := repository.NewMemory()
	c1 := diffmodel.CommitId("1111111111111111111111111111111111111c")
	c2 := diffmodel.CommitId("2222222222222222222222222222222222222c")
	repo.Seed(c1, nil, "initial", "Ada", "ada@example.com", time.Unix(0, 0),
		map[string][]byte{"file.txt": []byte("a\nb\nc\n")})
	repo.Seed(c2, []diffmodel.CommitId{c1}, "fix casing", "Ada", "ada@example.com", time.Unix(1, 0),
		map[string][]byte{"file.txt": []byte("a\nB\nc\n")})
	repo.SetBranch("main", c2)
	return repo, c1, c2
}

func TestEngine_ExtractPatches(t *testing.T) {
	repo, _, c2 := seedLinearHistory(t)
	eng := New(repo)

	patches, err := eng.ExtractPatches(context.Background(), c2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(patches) != 1 {
		t.Fatalf("expected 1 patch, got %d", len(patches))
	}
}

func TestEngine_ExtractPatchesMany(t *testing.T) {
	repo, c1, c2 := seedLinearHistory(t)
	eng := New(repo)

	out, err := eng.ExtractPatchesMany(context.Background(), []diffmodel.CommitId{c1, c2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected results for both commits, got %d", len(out))
	}
	if len(out[c1]) != 1 || len(out[c2]) != 1 {
		t.Fatalf("unexpected patch counts: %+v", out)
	}
}

func TestEngine_PreviewOperationIsIdempotent(t *testing.T) {
	repo, c1, c2 := seedLinearHistory(t)
	eng := New(repo)

	patches, err := eng.ExtractPatches(context.Background(), c2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	op := diffmodel.MovePatch(patches[0].ID, c2, c1, diffmodel.AtHead())

	p1, err := eng.PreviewOperation(context.Background(), op)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p2, err := eng.PreviewOperation(context.Background(), op)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(p1.Changes) != len(p2.Changes) || len(p1.AffectedCommits) != len(p2.AffectedCommits) {
		t.Fatalf("expected repeated previews to match: %+v vs %+v", p1, p2)
	}
}

func TestEngine_ApplyOperationMovePatch(t *testing.T) {
	repo, c1, c2 := seedLinearHistory(t)
	eng := New(repo)

	patches, err := eng.ExtractPatches(context.Background(), c2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	op := diffmodel.MovePatch(patches[0].ID, c2, c1, diffmodel.AtHead())

	result, err := eng.ApplyOperation(context.Background(), op)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	if len(result.NewCommitIDs) == 0 {
		t.Fatal("expected at least one new commit id")
	}
}

func TestEngine_ApplyOperationRollsBackOnDirtyWorkingTree(t *testing.T) {
	repo, c1, c2 := seedLinearHistory(t)
	repo.SetClean(false)
	eng := New(repo)

	patches, err := eng.ExtractPatches(context.Background(), c2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	op := diffmodel.MovePatch(patches[0].ID, c2, c1, diffmodel.AtHead())

	result, err := eng.ApplyOperation(context.Background(), op)
	if err == nil {
		t.Fatal("expected an error for a dirty working tree")
	}
	if result.Success {
		t.Fatal("expected the result to report failure")
	}

	head, headErr := repo.Head(context.Background())
	if headErr != nil {
		t.Fatalf("unexpected error reading head: %v", headErr)
	}
	if head != c2 {
		t.Fatalf("expected branch head unchanged at %s, got %s", c2, head)
	}
}

func TestEngine_ApplyOperationRejectsInvalidOperation(t *testing.T) {
	repo, _, _ := seedLinearHistory(t)
	eng := New(repo)

	_, err := eng.ApplyOperation(context.Background(), diffmodel.MovePatch("", "", "", diffmodel.AtHead()))
	if err == nil {
		t.Fatal("expected validation to reject an empty move_patch operation")
	}
}

func TestEngine_DetectConflicts(t *testing.T) {
	repo, _, c2 := seedLinearHistory(t)
	eng := New(repo)

	patches, err := eng.ExtractPatches(context.Background(), c2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	conflicts, err := eng.DetectConflicts(context.Background(), patches, c2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(conflicts) != 0 {
		t.Fatalf("expected no conflicts against the patch's own source commit, got %+v", conflicts)
	}
}

func TestEngine_ListBackupsAfterApply(t *testing.T) {
	repo, c1, c2 := seedLinearHistory(t)
	eng := New(repo)

	patches, err := eng.ExtractPatches(context.Background(), c2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	op := diffmodel.MovePatch(patches[0].ID, c2, c1, diffmodel.AtHead())
	if _, err := eng.ApplyOperation(context.Background(), op); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	backups, err := eng.ListBackups(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(backups) == 0 {
		t.Fatal("expected a successful operation to have left a backup ref behind")
	}
}
