package diffengine

import (
	"strings"
	"testing"

	"github.com/patchdance-dev/patchdance/internal/diffmodel"
)

func TestParseUnifiedDiff_SingleHunkRoundTrip(t *testing.T) {
	raw := "diff --git a/file.txt b/file.txt\n" +
		"index 1111111..2222222 100644\n" +
		"--- a/file.txt\n" +
		"+++ b/file.txt\n" +
		"@@ -1,3 +1,3 @@\n" +
		" a\n" +
		"-b\n" +
		"+B\n" +
		" c\n"

	patches, err := ParseUnifiedDiff(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(patches) != 1 {
		t.Fatalf("expected 1 patch, got %d", len(patches))
	}
	p := patches[0]
	if p.TargetFile != "file.txt" {
		t.Fatalf("got target file %q", p.TargetFile)
	}
	if len(p.Hunks) != 1 {
		t.Fatalf("expected 1 hunk, got %d", len(p.Hunks))
	}
	h := p.Hunks[0]
	if h.OldStart != 1 || h.OldLines != 3 || h.NewStart != 1 || h.NewLines != 3 {
		t.Fatalf("unexpected hunk range: %+v", h)
	}
	wantKinds := []diffmodel.DiffLineKind{diffmodel.Context, diffmodel.Deletion, diffmodel.Addition, diffmodel.Context}
	if len(h.Lines) != len(wantKinds) {
		t.Fatalf("expected %d lines, got %d", len(wantKinds), len(h.Lines))
	}
	for i, k := range wantKinds {
		if h.Lines[i].Kind != k {
			t.Fatalf("line %d: got kind %v, want %v", i, h.Lines[i].Kind, k)
		}
	}

	formatted := FormatUnifiedDiff(p)
	if !strings.Contains(formatted, "@@ -1,3 +1,3 @@") {
		t.Fatalf("formatted diff missing hunk header: %s", formatted)
	}
	if !strings.Contains(formatted, "-b\n") || !strings.Contains(formatted, "+B\n") {
		t.Fatalf("formatted diff missing expected lines: %s", formatted)
	}
}

func TestParseUnifiedDiff_OmittedRangeCountDefaultsToOne(t *testing.T) {
	raw := "diff --git a/file.txt b/file.txt\n" +
		"--- a/file.txt\n" +
		"+++ b/file.txt\n" +
		"@@ -5 +5 @@\n" +
		"-old\n" +
		"+new\n"

	patches, err := ParseUnifiedDiff(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	h := patches[0].Hunks[0]
	if h.OldStart != 5 || h.OldLines != 1 || h.NewStart != 5 || h.NewLines != 1 {
		t.Fatalf("unexpected hunk range: %+v", h)
	}
}

func TestParseUnifiedDiff_NoNewlineSentinel(t *testing.T) {
	raw := "diff --git a/file.txt b/file.txt\n" +
		"--- a/file.txt\n" +
		"+++ b/file.txt\n" +
		"@@ -1,1 +1,1 @@\n" +
		"-old\n" +
		"+new\n" +
		"\\ No newline at end of file\n"

	patches, err := ParseUnifiedDiff(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	h := patches[0].Hunks[0]
	last := h.Lines[len(h.Lines)-1]
	if !last.NoNewlineAtEOF {
		t.Fatalf("expected last line to carry NoNewlineAtEOF, got %+v", last)
	}
}

func TestParseUnifiedDiff_BinaryMarker(t *testing.T) {
	raw := "diff --git a/img.png b/img.png\n" +
		"index 1111111..2222222 100644\n" +
		"Binary files a/img.png and b/img.png differ\n"

	patches, err := ParseUnifiedDiff(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(patches) != 1 || !patches[0].Binary {
		t.Fatalf("expected one binary patch, got %+v", patches)
	}
	if len(patches[0].Hunks) != 0 {
		t.Fatalf("expected no hunks for binary patch, got %d", len(patches[0].Hunks))
	}

	formatted := FormatUnifiedDiff(patches[0])
	if !strings.Contains(formatted, "Binary files a/img.png and b/img.png differ") {
		t.Fatalf("formatted binary diff missing marker: %s", formatted)
	}
}

func TestParseUnifiedDiff_NewFileMode(t *testing.T) {
	raw := "diff --git a/new.txt b/new.txt\n" +
		"new file mode 100644\n" +
		"--- /dev/null\n" +
		"+++ b/new.txt\n" +
		"@@ -0,0 +1,1 @@\n" +
		"+hello\n"

	patches, err := ParseUnifiedDiff(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p := patches[0]
	if p.ModeChange == nil || p.ModeChange.Kind != diffmodel.NewFile {
		t.Fatalf("expected a NewFile mode change, got %+v", p.ModeChange)
	}
	if p.ModeChange.NewMode != 0o100644 {
		t.Fatalf("got mode %o", p.ModeChange.NewMode)
	}
}

func TestParseUnifiedDiff_EmptyTextYieldsNoPatches(t *testing.T) {
	patches, err := ParseUnifiedDiff("   \n\n")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(patches) != 0 {
		t.Fatalf("expected no patches, got %d", len(patches))
	}
}

func TestParseUnifiedDiff_MultipleFilesInOneDiff(t *testing.T) {
	raw := "diff --git a/foo.txt b/foo.txt\n" +
		"--- a/foo.txt\n" +
		"+++ b/foo.txt\n" +
		"@@ -1,1 +1,1 @@\n" +
		"-foo\n" +
		"+FOO\n" +
		"diff --git a/bar.txt b/bar.txt\n" +
		"--- a/bar.txt\n" +
		"+++ b/bar.txt\n" +
		"@@ -1,1 +1,1 @@\n" +
		"-bar\n" +
		"+BAR\n"

	patches, err := ParseUnifiedDiff(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(patches) != 2 {
		t.Fatalf("expected 2 patches, got %d", len(patches))
	}
	if patches[0].TargetFile != "foo.txt" || patches[1].TargetFile != "bar.txt" {
		t.Fatalf("unexpected target files: %q, %q", patches[0].TargetFile, patches[1].TargetFile)
	}
}
