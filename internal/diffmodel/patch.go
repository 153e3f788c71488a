package diffmodel

import "fmt"

// DiffLineKind tags a DiffLine as context, addition, or deletion.
type DiffLineKind int

const (
	Context DiffLineKind = iota
	Addition
	Deletion
)

func (k DiffLineKind) String() string {
	switch k {
	case Context:
		return "context"
	case Addition:
		return "addition"
	case Deletion:
		return "deletion"
	default:
		return "unknown"
	}
}

// DiffLine is one line of a hunk's body. Text excludes the line terminator.
// NoNewlineAtEOF records whether this line was the file's last line and the
// original file had no trailing newline (the unified-diff
// "\ No newline at end of file" sentinel).
type DiffLine struct {
	Kind             DiffLineKind
	Text             string
	NoNewlineAtEOF   bool
}

// ModeKind tags the variant of a ModeChange.
type ModeKind int

const (
	NewFile ModeKind = iota
	DeletedFile
	ModeChangeKind
)

// ModeChange records a file-mode transition: a new file's initial mode, a
// deleted file's final mode, or an old-mode/new-mode pair for a plain mode
// change.
type ModeChange struct {
	Kind    ModeKind
	OldMode int
	NewMode int
}

func NewFileMode(mode int) ModeChange      { return ModeChange{Kind: NewFile, NewMode: mode} }
func DeletedFileMode(mode int) ModeChange  { return ModeChange{Kind: DeletedFile, OldMode: mode} }
func ChangedMode(old, new int) ModeChange  { return ModeChange{Kind: ModeChangeKind, OldMode: old, NewMode: new} }

// Hunk is a contiguous block of diff lines with old/new line ranges, both
// 1-based. Invariants (validated by Validate):
//   - OldLines equals the count of Context+Deletion lines
//   - NewLines equals the count of Context+Addition lines
//   - the first and last lines, when context exists, are context lines
type Hunk struct {
	OldStart int
	OldLines int
	NewStart int
	NewLines int
	Lines    []DiffLine
	Context  string // header text after the closing "@@"; the "@@ -a,b +c,d @@" part is not kept
}

// Validate checks the Hunk invariants from spec §3, returning a descriptive
// error on the first violation found.
func (h Hunk) Validate() error {
	oldCount, newCount := 0, 0
	for _, l := range h.Lines {
		switch l.Kind {
		case Context:
			oldCount++
			newCount++
		case Addition:
			newCount++
		case Deletion:
			oldCount++
		}
	}
	if oldCount != h.OldLines {
		return fmt.Errorf("hunk @%d: old_lines=%d but context+deletion lines=%d", h.OldStart, h.OldLines, oldCount)
	}
	if newCount != h.NewLines {
		return fmt.Errorf("hunk @%d: new_lines=%d but context+addition lines=%d", h.OldStart, h.NewLines, newCount)
	}
	hasContext := false
	for _, l := range h.Lines {
		if l.Kind == Context {
			hasContext = true
			break
		}
	}
	if hasContext {
		if h.Lines[0].Kind != Context {
			return fmt.Errorf("hunk @%d: first line must be context when context exists", h.OldStart)
		}
		if h.Lines[len(h.Lines)-1].Kind != Context {
			return fmt.Errorf("hunk @%d: last line must be context when context exists", h.OldStart)
		}
	}
	return nil
}

// OldEnd returns the exclusive end of the hunk's old-coordinate range:
// [OldStart, OldEnd).
func (h Hunk) OldEnd() int {
	return h.OldStart + h.OldLines
}

// Overlaps reports whether two hunks' old-coordinate ranges intersect,
// per spec §4.2: !(end1 <= start2 || end2 <= start1).
func (h Hunk) Overlaps(o Hunk) bool {
	return !(h.OldEnd() <= o.OldStart || o.OldEnd() <= h.OldStart)
}

// Patch is the unit the engine moves, splits, synthesizes, and merges. Hunks
// are ordered by OldStart ascending and must not overlap in the old
// coordinate space.
type Patch struct {
	ID           PatchId
	SourceCommit CommitId
	TargetFile   string
	Hunks        []Hunk
	ModeChange   *ModeChange
	Binary       bool // opaque binary patch; apply_patch rejects except exact whole-blob replacement
	BinaryOld    []byte
	BinaryNew    []byte

	// OldPath is the pre-rename path, set only when it differs from
	// TargetFile (a Renamed or Copied delta per spec §4.1 step 1).
	OldPath string
}

// IsRename reports whether this patch represents a rename/copy (OldPath set
// and different from TargetFile).
func (p Patch) IsRename() bool {
	return p.OldPath != "" && p.OldPath != p.TargetFile
}

// Validate checks the Patch invariants: hunks sorted by OldStart and
// non-overlapping in the old coordinate space, and each hunk individually
// valid.
func (p Patch) Validate() error {
	for i, h := range p.Hunks {
		if err := h.Validate(); err != nil {
			return fmt.Errorf("patch %s: %w", p.ID, err)
		}
		if i > 0 {
			prev := p.Hunks[i-1]
			if h.OldStart < prev.OldStart {
				return fmt.Errorf("patch %s: hunks not sorted by old_start", p.ID)
			}
			if prev.Overlaps(h) {
				return fmt.Errorf("patch %s: hunks %d and %d overlap in old coordinate space", p.ID, i-1, i)
			}
		}
	}
	return nil
}

// IsEmpty reports whether the patch has no hunks and no mode change — a
// no-op patch that a rewrite may choose to elide (spec §9).
func (p Patch) IsEmpty() bool {
	return len(p.Hunks) == 0 && p.ModeChange == nil && !p.Binary
}

// ExpectsExistingFile reports whether applying p requires TargetFile to
// already exist at the destination: any hunk with a non-empty old window
// (Context or Deletion lines) references content that must be there, and a
// ModeChange other than NewFile implies the file already existed. A patch
// with only pure-insertion hunks and no mode change (the Added-file case)
// has nothing to find and is fine applying against an absent file (spec
// §4.3's DeleteModifyConflict tie-break: "the target file is absent but the
// patch expects it").
func (p Patch) ExpectsExistingFile() bool {
	if p.ModeChange != nil && p.ModeChange.Kind != NewFile {
		return true
	}
	for _, h := range p.Hunks {
		if h.OldLines > 0 {
			return true
		}
	}
	return false
}
