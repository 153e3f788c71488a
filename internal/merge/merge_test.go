package merge

import (
	"strings"
	"testing"

	"github.com/patchdance-dev/patchdance/internal/diffengine"
	"github.com/patchdance-dev/patchdance/internal/diffmodel"
)

func lines(ls ...string) string {
	return strings.Join(ls, "\n") + "\n"
}

func linesNoTrail(ls ...string) string {
	return strings.Join(ls, "\n")
}

// dl is a terse constructor for a diffmodel.DiffLine, used to keep the hunk
// literals below readable: dl('c', "text") is context, 'a' addition,
// 'd' deletion.
func dl(kind byte, text string) diffmodel.DiffLine {
	switch kind {
	case 'a':
		return diffmodel.DiffLine{Kind: diffmodel.Addition, Text: text}
	case 'd':
		return diffmodel.DiffLine{Kind: diffmodel.Deletion, Text: text}
	default:
		return diffmodel.DiffLine{Kind: diffmodel.Context, Text: text}
	}
}

// hunk builds a Hunk from oldStart (1-based) and its body lines, deriving
// OldLines/NewLines/NewStart the way diffengine.ParseUnifiedDiff would.
func hunk(oldStart int, body ...diffmodel.DiffLine) diffmodel.Hunk {
	h := diffmodel.Hunk{OldStart: oldStart, Lines: body}
	oldCount, newCount := 0, 0
	for _, l := range body {
		switch l.Kind {
		case diffmodel.Context:
			oldCount++
			newCount++
		case diffmodel.Addition:
			newCount++
		case diffmodel.Deletion:
			oldCount++
		}
	}
	h.OldLines = oldCount
	h.NewStart = oldStart
	h.NewLines = newCount
	return h
}

func patch(file string, hunks ...diffmodel.Hunk) diffmodel.Patch {
	return diffmodel.Patch{
		ID:         diffmodel.NewPatchId("src", file),
		TargetFile: file,
		Hunks:      hunks,
	}
}

func threeWay(t *testing.T, p diffmodel.Patch, base, theirs, label string) *Result {
	t.Helper()
	result, err := ThreeWayPatch(p, base, theirs, label, diffengine.DefaultApplyOptions())
	if err != nil {
		t.Fatalf("ThreeWayPatch: %v", err)
	}
	return result
}

func TestThreeWayPatch_CleanApply_TheirsUntouched(t *testing.T) {
	base := lines("line1", "line2", "line3")
	theirs := lines("line1", "line2", "line3") // identical to base

	p := patch("f.txt", hunk(1, dl('c', "line1"), dl('d', "line2"), dl('a', "MODIFIED"), dl('c', "line3")))

	result := threeWay(t, p, base, theirs, "origin")

	if result.HasConflicts {
		t.Fatal("expected no conflicts")
	}
	want := lines("line1", "MODIFIED", "line3")
	if string(result.Content) != want {
		t.Fatalf("content:\n  got:  %q\n  want: %q", result.Content, want)
	}
}

func TestThreeWayPatch_AutoMergesDisjointTheirsEdit(t *testing.T) {
	base := lines("aaa", "bbb", "ccc", "ddd", "eee")
	theirs := lines("aaa", "bbb", "ccc", "ddd", "REMOTE") // theirs changed line 5

	p := patch("f.txt", hunk(1, dl('d', "aaa"), dl('a', "LOCAL"), dl('c', "bbb")))

	result := threeWay(t, p, base, theirs, "origin")

	if result.HasConflicts {
		t.Fatal("expected no conflicts — edits in different regions")
	}
	want := lines("LOCAL", "bbb", "ccc", "ddd", "REMOTE")
	if string(result.Content) != want {
		t.Fatalf("content:\n  got:  %q\n  want: %q", result.Content, want)
	}
	if result.AutoResolved != 2 {
		t.Fatalf("expected 2 auto-resolved regions, got %d", result.AutoResolved)
	}
}

func TestThreeWayPatch_SameLineConflict(t *testing.T) {
	base := lines("line1", "line2", "line3")
	theirs := lines("line1", "REMOTE EDIT", "line3")

	p := patch("f.txt", hunk(1, dl('c', "line1"), dl('d', "line2"), dl('a', "LOCAL EDIT"), dl('c', "line3")))

	result := threeWay(t, p, base, theirs, "deadbeef")

	if !result.HasConflicts {
		t.Fatal("expected conflict")
	}
	if len(result.Conflicts) != 1 {
		t.Fatalf("expected 1 conflict, got %d", len(result.Conflicts))
	}

	content := string(result.Content)
	for _, want := range []string{
		conflictMarkerOurs,
		conflictMarkerSeparator,
		">>>>>>> THEIRS (deadbeef)",
		"LOCAL EDIT",
		"REMOTE EDIT",
		"line1",
		"line3",
	} {
		if !strings.Contains(content, want) {
			t.Fatalf("missing %q in merged content:\n%s", want, content)
		}
	}
}

func TestThreeWayPatch_BothSidesAgree_NoConflict(t *testing.T) {
	base := lines("line1", "line2", "line3")
	theirs := lines("line1", "SAME EDIT", "line3")

	p := patch("f.txt", hunk(1, dl('c', "line1"), dl('d', "line2"), dl('a', "SAME EDIT"), dl('c', "line3")))

	result := threeWay(t, p, base, theirs, "origin")

	if result.HasConflicts {
		t.Fatal("expected no conflicts — both sides landed on the same text")
	}
	want := lines("line1", "SAME EDIT", "line3")
	if string(result.Content) != want {
		t.Fatalf("content:\n  got:  %q\n  want: %q", result.Content, want)
	}
}

// TestThreeWayPatch_FuzzyShiftLocatesCorrectRegion is the scenario a generic
// diff3 (which would just re-diff base against an already-applied "ours")
// can't reconstruct precisely: the hunk's recorded OldStart has drifted
// stale (a stand-in for a patch whose coordinates no longer line up with
// the exact base content it's being applied to), so an exact match at
// OldStart-1 fails and diffengine's fuzzy matcher has to relocate the hunk
// elsewhere in the file. ApplyPatchTracked reports the window at its real,
// fuzzy-matched location, and ThreeWayPatch uses that location directly
// (editRegionsFromAppliedHunks) rather than rediscovering it — so the
// merge against theirs's unrelated edit lines up correctly instead of
// comparing against the hunk's stale claimed position.
func TestThreeWayPatch_FuzzyShiftLocatesCorrectRegion(t *testing.T) {
	base := lines("pre1", "pre2", "pre3", "alpha", "beta", "gamma", "post1", "post2")
	// theirs only touches the very last line — nowhere near the hunk.
	theirs := lines("pre1", "pre2", "pre3", "alpha", "beta", "gamma", "post1", "REMOTE-POST2")

	// The window (pre3,alpha,beta,gamma,post1) actually starts at line 3,
	// but OldStart below claims line 1 — deliberately stale, forcing the
	// exact-match check to fail and the fuzzy search to relocate it.
	p := patch("f.txt", hunk(1,
		dl('c', "pre3"), dl('c', "alpha"), dl('d', "beta"), dl('a', "BETA-PATCHED"), dl('c', "gamma"), dl('c', "post1"),
	))

	result := threeWay(t, p, base, theirs, "origin")

	if result.HasConflicts {
		t.Fatalf("expected clean fuzzy-relocated merge, got conflicts: %+v", result.Conflicts)
	}
	want := lines("pre1", "pre2", "pre3", "alpha", "BETA-PATCHED", "gamma", "post1", "REMOTE-POST2")
	if string(result.Content) != want {
		t.Fatalf("content:\n  got:  %q\n  want: %q", result.Content, want)
	}
	if result.AutoResolved != 2 {
		t.Fatalf("expected 2 auto-resolved regions, got %d", result.AutoResolved)
	}
}

func TestThreeWayPatch_EmptyHunksPassesTheirsThrough(t *testing.T) {
	base := lines("line1", "line2")
	theirs := lines("line1", "REMOTE")

	p := patch("f.txt")

	result := threeWay(t, p, base, theirs, "origin")

	if result.HasConflicts {
		t.Fatal("expected no conflicts — patch makes no change of its own")
	}
	if string(result.Content) != theirs {
		t.Fatalf("content:\n  got:  %q\n  want: %q", result.Content, theirs)
	}
}

func TestThreeWayPatch_ApplyFailureSurfacesError(t *testing.T) {
	base := lines("line1", "line2")
	theirs := lines("line1", "line2")

	// The hunk's context window ("nonexistent") appears nowhere in base, so
	// neither the exact nor the fuzzy match can locate it.
	p := patch("f.txt", hunk(1, dl('c', "nonexistent"), dl('d', "also-nonexistent"), dl('a', "x")))

	_, err := ThreeWayPatch(p, base, theirs, "origin", diffengine.DefaultApplyOptions())
	if err == nil {
		t.Fatal("expected an error when the hunk can't be located")
	}
}

func TestThreeWayPatch_NoTrailingNewlinePreserved(t *testing.T) {
	base := linesNoTrail("line1", "line2")
	theirs := linesNoTrail("line1", "line2")

	p := patch("f.txt", hunk(2, dl('d', "line2"), dl('a', "LOCAL")))

	result := threeWay(t, p, base, theirs, "origin")

	if result.HasConflicts {
		t.Fatal("expected no conflicts")
	}
	want := linesNoTrail("line1", "LOCAL")
	if string(result.Content) != want {
		t.Fatalf("content:\n  got:  %q\n  want: %q", result.Content, want)
	}
}

func TestThreeWayPatch_BothAddAtEndOfFile_Conflict(t *testing.T) {
	base := lines("line1", "line2")
	theirs := lines("line1", "line2", "remote-added")

	p := patch("f.txt", hunk(3, dl('a', "local-added")))

	result := threeWay(t, p, base, theirs, "origin")

	if !result.HasConflicts {
		t.Fatal("expected conflict — both sides appended at the same position")
	}
	content := string(result.Content)
	if !strings.Contains(content, "local-added") || !strings.Contains(content, "remote-added") {
		t.Fatalf("expected both additions present in conflict markers: %s", content)
	}
}

func TestEditRegionsFromAppliedHunks_SkipsZeroWidthNoop(t *testing.T) {
	regions := editRegionsFromAppliedHunks([]diffengine.AppliedHunk{
		{BaseStart: 0, BaseEnd: 0, SideStart: 0, SideEnd: 0},
		{BaseStart: 1, BaseEnd: 2, SideStart: 1, SideEnd: 3},
	})
	if len(regions) != 1 {
		t.Fatalf("expected the zero-width entry to be dropped, got %d regions", len(regions))
	}
	if regions[0].baseStart != 1 || regions[0].baseEnd != 2 {
		t.Fatalf("unexpected region: %+v", regions[0])
	}
}

func TestCountLines(t *testing.T) {
	tests := []struct {
		input string
		want  int
	}{
		{"", 0},
		{"foo\n", 1},
		{"foo\nbar\n", 2},
		{"foo", 1},
		{"foo\nbar", 2},
	}

	for _, tt := range tests {
		got := countLines(tt.input)
		if got != tt.want {
			t.Errorf("countLines(%q) = %d, want %d", tt.input, got, tt.want)
		}
	}
}

func TestSplitLines(t *testing.T) {
	tests := []struct {
		input string
		want  []string
	}{
		{"", []string{}},
		{"a\nb\n", []string{"a", "b"}},
		{"a\nb", []string{"a", "b"}},
		{"single", []string{"single"}},
		{"single\n", []string{"single"}},
	}

	for _, tt := range tests {
		got := splitLines(tt.input)
		if len(got) != len(tt.want) {
			t.Errorf("splitLines(%q): len=%d, want len=%d\n  got:  %v\n  want: %v",
				tt.input, len(got), len(tt.want), got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("splitLines(%q)[%d] = %q, want %q", tt.input, i, got[i], tt.want[i])
			}
		}
	}
}
