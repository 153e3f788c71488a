package repository

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/patchdance-dev/patchdance/internal/diffmodel"
)

func TestMemory_TreeToTreeDiffAgainstEmptyTree(t *testing.T) {
	m := NewMemory()
	c1 := diffmodel.CommitId("1111111111111111111111111111111111111c")
	m.Seed(c1, nil, "initial", "Ada", "ada@example.com", time.Unix(0, 0),
		map[string][]byte{"file.txt": []byte("a\nb\nc\n")})

	diff, err := m.TreeToTreeDiff(context.Background(), "", c1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(diff, "new file mode") {
		t.Fatalf("expected a new-file marker, got: %s", diff)
	}
	if !strings.Contains(diff, "+a\n") {
		t.Fatalf("expected added lines in the diff, got: %s", diff)
	}
}

func TestMemory_TreeToTreeDiffUnchangedFileIsOmitted(t *testing.T) {
	m := NewMemory()
	c1 := diffmodel.CommitId("1111111111111111111111111111111111111c")
	c2 := diffmodel.CommitId("2222222222222222222222222222222222222c")
	files := map[string][]byte{"file.txt": []byte("a\nb\nc\n")}
	m.Seed(c1, nil, "initial", "Ada", "ada@example.com", time.Unix(0, 0), files)
	m.Seed(c2, []diffmodel.CommitId{c1}, "no changes", "Ada", "ada@example.com", time.Unix(1, 0), files)

	diff, err := m.TreeToTreeDiff(context.Background(), c1, c2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff != "" {
		t.Fatalf("expected no diff output for an unchanged tree, got: %s", diff)
	}
}

func TestMemory_TreeToTreeDiffBinaryFileGetsMarker(t *testing.T) {
	m := NewMemory()
	c1 := diffmodel.CommitId("1111111111111111111111111111111111111c")
	c2 := diffmodel.CommitId("2222222222222222222222222222222222222c")
	m.Seed(c1, nil, "initial", "Ada", "ada@example.com", time.Unix(0, 0),
		map[string][]byte{"img.bin": []byte("\x00\x01old")})
	m.Seed(c2, []diffmodel.CommitId{c1}, "update", "Ada", "ada@example.com", time.Unix(1, 0),
		map[string][]byte{"img.bin": []byte("\x00\x01new")})

	diff, err := m.TreeToTreeDiff(context.Background(), c1, c2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(diff, "Binary files a/img.bin and b/img.bin differ") {
		t.Fatalf("expected a binary marker, got: %s", diff)
	}
}

func TestMemory_WriteTreeAndCreateCommitRoundTrip(t *testing.T) {
	m := NewMemory()
	c1 := diffmodel.CommitId("1111111111111111111111111111111111111c")
	m.Seed(c1, nil, "initial", "Ada", "ada@example.com", time.Unix(0, 0),
		map[string][]byte{"file.txt": []byte("a\nb\nc\n")})

	ctx := context.Background()
	tree, err := m.WriteTree(ctx, c1, []TreeEntry{
		{Path: "file.txt", Content: []byte("a\nB\nc\n")},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sig := Signature{Name: "Ada", Email: "ada@example.com", When: time.Unix(2, 0)}
	newID, err := m.CreateCommit(ctx, []diffmodel.CommitId{c1}, tree, sig, sig, "fix casing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	content, found, err := m.ReadBlob(ctx, newID, "file.txt")
	if err != nil || !found {
		t.Fatalf("expected file.txt to exist at new commit: found=%v err=%v", found, err)
	}
	if string(content) != "a\nB\nc\n" {
		t.Fatalf("got %q", content)
	}

	info, err := m.CommitInfo(ctx, newID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(info.ParentIds) != 1 || info.ParentIds[0] != c1 {
		t.Fatalf("expected parent %s, got %+v", c1, info.ParentIds)
	}
}

func TestMemory_WriteTreeDeletedEntryRemovesPath(t *testing.T) {
	m := NewMemory()
	c1 := diffmodel.CommitId("1111111111111111111111111111111111111c")
	m.Seed(c1, nil, "initial", "Ada", "ada@example.com", time.Unix(0, 0),
		map[string][]byte{"a.txt": []byte("a\n"), "b.txt": []byte("b\n")})

	ctx := context.Background()
	tree, err := m.WriteTree(ctx, c1, []TreeEntry{{Path: "b.txt", Deleted: true}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sig := Signature{Name: "Ada", Email: "ada@example.com", When: time.Unix(1, 0)}
	newID, err := m.CreateCommit(ctx, []diffmodel.CommitId{c1}, tree, sig, sig, "remove b.txt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, found, err := m.ReadBlob(ctx, newID, "b.txt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found {
		t.Fatal("expected b.txt to be deleted")
	}
	_, found, err = m.ReadBlob(ctx, newID, "a.txt")
	if err != nil || !found {
		t.Fatalf("expected a.txt to survive untouched: found=%v err=%v", found, err)
	}
}

func TestMemory_RefLifecycle(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	c1 := diffmodel.CommitId("1111111111111111111111111111111111111c")
	c2 := diffmodel.CommitId("2222222222222222222222222222222222222c")

	if err := m.CreateRef(ctx, "refs/patchdance/backup/op1", c1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	id, found, err := m.ResolveRef(ctx, "refs/patchdance/backup/op1")
	if err != nil || !found || id != c1 {
		t.Fatalf("expected to resolve the ref to %s, got id=%s found=%v err=%v", c1, id, found, err)
	}

	ok, err := m.UpdateRef(ctx, "refs/patchdance/backup/op1", c1, c2)
	if err != nil || !ok {
		t.Fatalf("expected CAS update to succeed: ok=%v err=%v", ok, err)
	}

	ok, err = m.UpdateRef(ctx, "refs/patchdance/backup/op1", c1, c2)
	if err != nil || ok {
		t.Fatalf("expected CAS update against a stale old value to fail: ok=%v err=%v", ok, err)
	}

	refs, err := m.ListRefs(ctx, "refs/patchdance/backup/")
	if err != nil || len(refs) != 1 {
		t.Fatalf("expected one matching ref, got %v err=%v", refs, err)
	}

	if err := m.DeleteRef(ctx, "refs/patchdance/backup/op1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, found, err = m.ResolveRef(ctx, "refs/patchdance/backup/op1")
	if err != nil || found {
		t.Fatalf("expected the ref to be gone after deletion: found=%v err=%v", found, err)
	}
}

func TestMemory_IsCleanDefaultsTrueAndRespectsSetClean(t *testing.T) {
	m := NewMemory()
	clean, err := m.IsClean(context.Background())
	if err != nil || !clean {
		t.Fatalf("expected a fresh Memory to be clean: clean=%v err=%v", clean, err)
	}
	m.SetClean(false)
	clean, err = m.IsClean(context.Background())
	if err != nil || clean {
		t.Fatalf("expected SetClean(false) to be reflected: clean=%v err=%v", clean, err)
	}
}
