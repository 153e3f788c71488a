package diffengine

import (
	"testing"

	"github.com/patchdance-dev/patchdance/internal/diffmodel"
)

func line(kind diffmodel.DiffLineKind, text string) diffmodel.DiffLine {
	return diffmodel.DiffLine{Kind: kind, Text: text}
}

func TestApplyPatch_NoHunksIsNoOp(t *testing.T) {
	patch := diffmodel.Patch{TargetFile: "file.txt"}
	got, err := ApplyPatch("a\nb\nc\n", patch)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "a\nb\nc\n" {
		t.Fatalf("expected no-op, got %q", got)
	}
}

func TestApplyPatch_ExactMatch(t *testing.T) {
	patch := diffmodel.Patch{
		TargetFile: "file.txt",
		Hunks: []diffmodel.Hunk{{
			OldStart: 2, OldLines: 1, NewStart: 2, NewLines: 1,
			Lines: []diffmodel.DiffLine{line(diffmodel.Deletion, "b"), line(diffmodel.Addition, "B")},
		}},
	}
	got, err := ApplyPatch("a\nb\nc\n", patch)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "a\nB\nc\n" {
		t.Fatalf("got %q, want %q", got, "a\nB\nc\n")
	}
}

func TestApplyPatch_FuzzyMatchWhenOffset(t *testing.T) {
	// The hunk claims line 2 but the real content drifted to line 3 —
	// exact match at OldStart-1 fails, fuzzy search should still find the
	// single-line window elsewhere once the floor is lowered to fit a
	// one-line confidence score (a floor of 50 needs 5 matching context
	// lines, which this minimal hunk doesn't have).
	patch := diffmodel.Patch{
		TargetFile: "file.txt",
		Hunks: []diffmodel.Hunk{{
			OldStart: 2, OldLines: 1, NewStart: 2, NewLines: 1,
			Lines: []diffmodel.DiffLine{line(diffmodel.Deletion, "target"), line(diffmodel.Addition, "TARGET")},
		}},
	}
	opts := ApplyOptions{ConfidenceFloor: 10, ContextWindow: 3}
	got, err := ApplyPatchWithOptions("preamble\nextra\ntarget\nc\n", patch, opts)
	if err != nil {
		t.Fatalf("expected fuzzy match to succeed: %v", err)
	}
	if got != "preamble\nextra\nTARGET\nc\n" {
		t.Fatalf("got %q", got)
	}
}

func TestApplyPatch_HunkFailsBelowConfidenceFloor(t *testing.T) {
	patch := diffmodel.Patch{
		TargetFile: "file.txt",
		Hunks: []diffmodel.Hunk{{
			OldStart: 1, OldLines: 1, NewStart: 1, NewLines: 1,
			Lines: []diffmodel.DiffLine{line(diffmodel.Deletion, "does-not-exist"), line(diffmodel.Addition, "X")},
		}},
	}
	_, err := ApplyPatch("a\nb\nc\n", patch)
	if err == nil {
		t.Fatal("expected HunkApplicationFailed, got nil")
	}
}

func TestApplyPatch_PreservesNoTrailingNewline(t *testing.T) {
	patch := diffmodel.Patch{
		TargetFile: "file.txt",
		Hunks: []diffmodel.Hunk{{
			OldStart: 2, OldLines: 1, NewStart: 2, NewLines: 1,
			Lines: []diffmodel.DiffLine{
				{Kind: diffmodel.Deletion, Text: "b"},
				{Kind: diffmodel.Addition, Text: "B", NoNewlineAtEOF: true},
			},
		}},
	}
	got, err := ApplyPatch("a\nb", patch)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "a\nB" {
		t.Fatalf("got %q, want no trailing newline %q", got, "a\nB")
	}
}

func TestApplyPatch_BinaryRejectsMismatchedBase(t *testing.T) {
	patch := diffmodel.Patch{
		TargetFile: "img.png",
		Binary:     true,
		BinaryOld:  []byte("old-bytes"),
		BinaryNew:  []byte("new-bytes"),
	}
	_, err := ApplyPatch("different-bytes", patch)
	if err == nil {
		t.Fatal("expected BinaryPatchUnsupported when base doesn't match")
	}
}

func TestApplyPatch_BinaryAppliesWholeBlobOnExactMatch(t *testing.T) {
	patch := diffmodel.Patch{
		TargetFile: "img.png",
		Binary:     true,
		BinaryOld:  []byte("old-bytes"),
		BinaryNew:  []byte("new-bytes"),
	}
	got, err := ApplyPatch("old-bytes", patch)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "new-bytes" {
		t.Fatalf("got %q", got)
	}
}
