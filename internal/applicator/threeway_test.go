package applicator

import (
	"testing"

	"github.com/patchdance-dev/patchdance/internal/diffmodel"
)

func tline(kind diffmodel.DiffLineKind, text string) diffmodel.DiffLine {
	return diffmodel.DiffLine{Kind: kind, Text: text}
}

func TestApply_CleanMergeWhenTargetUnchanged(t *testing.T) {
	patch := diffmodel.Patch{
		TargetFile: "file.txt",
		Hunks: []diffmodel.Hunk{{OldStart: 2, OldLines: 1, NewStart: 2, NewLines: 1,
			Lines: []diffmodel.DiffLine{tline(diffmodel.Deletion, "b"), tline(diffmodel.Addition, "B")}}},
	}
	in := Input{
		Patch:         patch,
		SourceContent: "a\nb\nc\n",
		TargetContent: "a\nb\nc\n",
		TargetLabel:   "target",
	}

	out, err := Apply(in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.HasConflicts {
		t.Fatalf("expected a clean merge, got conflicts: %+v", out.Conflicts)
	}
	if out.Content != "a\nB\nc\n" {
		t.Fatalf("got %q", out.Content)
	}
}

func TestApply_CleanMergeWhenTargetChangedElsewhere(t *testing.T) {
	// The patch touches line 2; the target independently appended a new
	// line 4 — the two changes don't overlap and should merge cleanly.
	patch := diffmodel.Patch{
		TargetFile: "file.txt",
		Hunks: []diffmodel.Hunk{{OldStart: 2, OldLines: 1, NewStart: 2, NewLines: 1,
			Lines: []diffmodel.DiffLine{tline(diffmodel.Deletion, "b"), tline(diffmodel.Addition, "B")}}},
	}
	in := Input{
		Patch:         patch,
		SourceContent: "a\nb\nc\n",
		TargetContent: "a\nb\nc\nd\n",
		TargetLabel:   "target",
	}

	out, err := Apply(in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.HasConflicts {
		t.Fatalf("expected a clean merge, got conflicts: %+v", out.Conflicts)
	}
}

func TestApply_ConflictWhenBothSidesChangeSameLine(t *testing.T) {
	patch := diffmodel.Patch{
		TargetFile: "file.txt",
		Hunks: []diffmodel.Hunk{{OldStart: 2, OldLines: 1, NewStart: 2, NewLines: 1,
			Lines: []diffmodel.DiffLine{tline(diffmodel.Deletion, "b"), tline(diffmodel.Addition, "B")}}},
	}
	in := Input{
		Patch:         patch,
		SourceContent: "a\nb\nc\n",
		TargetContent: "a\nb-changed-independently\nc\n",
		TargetLabel:   "target",
	}

	out, err := Apply(in)
	if err == nil {
		t.Fatal("expected a conflict error")
	}
	if !out.HasConflicts || len(out.Conflicts) == 0 {
		t.Fatalf("expected conflicts in outcome, got %+v", out)
	}
}

func TestApply_NoHunksAndNoModeChangeIsNoOp(t *testing.T) {
	patch := diffmodel.Patch{TargetFile: "file.txt"}
	in := Input{Patch: patch, SourceContent: "a\nb\n", TargetContent: "a\nb\nc\n"}

	out, err := Apply(in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Content != "a\nb\nc\n" {
		t.Fatalf("expected target content to pass through unchanged, got %q", out.Content)
	}
}

func TestApplySeries_MultipleFilesAppliedIndependently(t *testing.T) {
	patches := []diffmodel.Patch{
		{TargetFile: "foo.txt", Hunks: []diffmodel.Hunk{{OldStart: 1, OldLines: 1, NewStart: 1, NewLines: 1,
			Lines: []diffmodel.DiffLine{tline(diffmodel.Deletion, "foo"), tline(diffmodel.Addition, "FOO")}}}},
		{TargetFile: "bar.txt", Hunks: []diffmodel.Hunk{{OldStart: 1, OldLines: 1, NewStart: 1, NewLines: 1,
			Lines: []diffmodel.DiffLine{tline(diffmodel.Deletion, "bar"), tline(diffmodel.Addition, "BAR")}}}},
	}
	sourceContents := map[string]string{"foo.txt": "foo\n", "bar.txt": "bar\n"}
	targetContents := map[string]string{"foo.txt": "foo\n", "bar.txt": "bar\n"}

	results, conflicts, err := ApplySeries(patches, sourceContents, targetContents, "target")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(conflicts) != 0 {
		t.Fatalf("expected no conflicts, got %+v", conflicts)
	}
	if results["foo.txt"] != "FOO\n" || results["bar.txt"] != "BAR\n" {
		t.Fatalf("unexpected results: %+v", results)
	}
}

func TestApplySeries_ConflictOnOneFileStillReportsOtherResults(t *testing.T) {
	patches := []diffmodel.Patch{
		{TargetFile: "foo.txt", Hunks: []diffmodel.Hunk{{OldStart: 1, OldLines: 1, NewStart: 1, NewLines: 1,
			Lines: []diffmodel.DiffLine{tline(diffmodel.Deletion, "foo"), tline(diffmodel.Addition, "FOO")}}}},
	}
	sourceContents := map[string]string{"foo.txt": "foo\n"}
	targetContents := map[string]string{"foo.txt": "foo-changed\n"}

	results, conflicts, err := ApplySeries(patches, sourceContents, targetContents, "target")
	if err == nil {
		t.Fatal("expected a conflict error")
	}
	if len(conflicts) == 0 {
		t.Fatal("expected at least one conflict reported")
	}
	if _, ok := results["foo.txt"]; !ok {
		t.Fatal("expected results to still carry an entry for the conflicted file")
	}
}
