// Package merge implements three-way merge for text files, the core
// algorithm the Patch Applicator uses to reconcile a patch's expected
// content with whatever the target file actually looks like (spec §4.3).
//
// A three-way merge uses three versions of a file:
//   - Base: the patch's source-commit content (what the patch was written against)
//   - Ours: the patch applied to base in isolation (diffengine.ApplyPatchTracked's result)
//   - Theirs: the target commit's actual content
//
// Unlike a generic diff3, the ours side here is never re-diffed against
// base: ApplyPatchTracked already knows exactly which line windows each
// hunk touched (including where a fuzzy match shifted it), so ThreeWayPatch
// takes those windows directly as edit regions instead of running a second
// line-diff pass over the applied result. Only the theirs side, whose
// changes arrive with no such bookkeeping, is diffed against base. The two
// edit-region lists are then walked simultaneously to classify each region:
//   - Neither side changed → keep base lines
//   - Only one side changed → take that side's changes (auto-merge)
//   - Both sides changed identically → take either (they agree)
//   - Both sides changed differently → conflict (insert markers around just those lines)
package merge

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/patchdance-dev/patchdance/internal/diffengine"
	"github.com/patchdance-dev/patchdance/internal/diffmodel"
)

// Result holds the outcome of a three-way merge.
type Result struct {
	// Content is the merged file content. If there are conflicts,
	// the conflicting regions are wrapped in conflict markers.
	Content []byte

	// HasConflicts is true if any regions could not be auto-merged.
	HasConflicts bool

	// Conflicts lists each conflicting region in the output.
	Conflicts []Conflict

	// AutoResolved is the number of regions where only one side changed
	// and the change was applied automatically.
	AutoResolved int
}

// Conflict describes a single conflicting region in the merged output.
type Conflict struct {
	// OutputStartLine is the 1-based line number in the merged output
	// where the <<<<<<< marker appears.
	OutputStartLine int

	// OursLines is our side's lines for this conflict.
	OursLines []string

	// TheirsLines is the target's lines for this conflict.
	TheirsLines []string
}

// conflictMarkerOurs begins our side of a conflict region.
const conflictMarkerOurs = "<<<<<<< OURS"

// conflictMarkerSeparator separates the two sides.
const conflictMarkerSeparator = "======="

// conflictMarkerTheirs ends a conflict region. theirsLabel is appended in
// parentheses when set.
const conflictMarkerTheirs = ">>>>>>> THEIRS"

// ThreeWayPatch applies patch to base via the Diff Engine, then three-way
// merges the result against theirs (spec §4.3). theirsLabel annotates the
// conflict marker (e.g. the target commit's short id).
//
// The merge works at line granularity:
//  1. Apply patch to base with diffengine.ApplyPatchTracked, which reports
//     exactly which base-line windows each hunk replaced.
//  2. Turn those reported windows directly into ours's edit regions, and
//     compute theirs's edit regions the generic way (base→theirs line diff).
//  3. Walk both edit region lists simultaneously against the base, detecting
//     overlaps and classifying each region.
//  4. Produce merged output with inline conflict markers only where needed.
func ThreeWayPatch(patch diffmodel.Patch, base, theirs, theirsLabel string, opts diffengine.ApplyOptions) (*Result, error) {
	oursStr, appliedHunks, err := diffengine.ApplyPatchTracked(base, patch, opts)
	if err != nil {
		return nil, err
	}

	baseLines := splitLines(base)
	oursLines := splitLines(oursStr)
	theirsLines := splitLines(theirs)

	oursEdits := editRegionsFromAppliedHunks(appliedHunks)
	theirsEdits := computeEditRegions(baseLines, theirsLines)

	result := mergeRegions(baseLines, oursLines, theirsLines, oursEdits, theirsEdits, theirsLabel)

	// Determine trailing newline for the merged output: preserve whichever
	// side actually changed, or base's convention if neither did.
	hasTrailingNL := hasTrailingNewline(base)
	if len(oursEdits) > 0 {
		hasTrailingNL = hasTrailingNewline(oursStr)
	}
	if len(theirsEdits) > 0 {
		hasTrailingNL = hasTrailingNewline(theirs)
	}

	if result.HasConflicts {
		hasTrailingNL = true
	}

	if hasTrailingNL && len(result.Content) > 0 && result.Content[len(result.Content)-1] != '\n' {
		result.Content = append(result.Content, '\n')
	}

	return result, nil
}

// editRegionsFromAppliedHunks converts diffengine's AppliedHunk list
// directly into editRegions — a 1:1 mapping, since ApplyPatchTracked
// already identifies exactly which base window each hunk replaced and
// where the replacement landed in the result.
func editRegionsFromAppliedHunks(hunks []diffengine.AppliedHunk) []editRegion {
	if len(hunks) == 0 {
		return nil
	}
	out := make([]editRegion, 0, len(hunks))
	for _, h := range hunks {
		if h.BaseStart == h.BaseEnd && h.SideStart == h.SideEnd {
			continue
		}
		out = append(out, editRegion{
			baseStart: h.BaseStart,
			baseEnd:   h.BaseEnd,
			sideStart: h.SideStart,
			sideEnd:   h.SideEnd,
		})
	}
	return out
}

// splitLines splits text into lines. The trailing newline (if any) is stripped
// so that "foo\nbar\n" and "foo\nbar" both produce ["foo", "bar"].
// An empty string returns an empty slice.
func splitLines(s string) []string {
	if s == "" {
		return []string{}
	}
	s = strings.TrimSuffix(s, "\n")
	return strings.Split(s, "\n")
}

// hasTrailingNewline returns true if s ends with a newline character.
func hasTrailingNewline(s string) bool {
	return len(s) > 0 && s[len(s)-1] == '\n'
}

// editRegion represents a contiguous region of change between base and a side.
// It covers base lines [baseStart, baseEnd) which were replaced by
// the lines [sideStart, sideEnd) in the modified version.
type editRegion struct {
	baseStart int // inclusive index into base lines
	baseEnd   int // exclusive index into base lines
	sideStart int // inclusive index into the modified side's lines
	sideEnd   int // exclusive index into the modified side's lines
}

// computeEditRegions computes the diff between base and side, then groups
// consecutive insertions/deletions into contiguous edit regions.
func computeEditRegions(base, side []string) []editRegion {
	dmp := diffmatchpatch.New()

	// Terminate every line, the last one included, so a line that ends one
	// side still diffs as equal when the other side has lines after it.
	baseText := strings.Join(base, "\n")
	sideText := strings.Join(side, "\n")
	if len(base) > 0 {
		baseText += "\n"
	}
	if len(side) > 0 {
		sideText += "\n"
	}

	if baseText == sideText {
		return nil
	}

	chars1, chars2, lineArray := dmp.DiffLinesToRunes(baseText, sideText)
	diffs := dmp.DiffMainRunes(chars1, chars2, false)
	diffs = dmp.DiffCleanupSemantic(diffs)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)

	var regions []editRegion
	basePos := 0
	sidePos := 0

	i := 0
	for i < len(diffs) {
		d := diffs[i]

		if d.Type == diffmatchpatch.DiffEqual {
			n := countLines(d.Text)
			basePos += n
			sidePos += n
			i++
			continue
		}

		regionBaseStart := basePos
		regionSideStart := sidePos

		for i < len(diffs) && diffs[i].Type != diffmatchpatch.DiffEqual {
			switch diffs[i].Type {
			case diffmatchpatch.DiffDelete:
				basePos += countLines(diffs[i].Text)
			case diffmatchpatch.DiffInsert:
				sidePos += countLines(diffs[i].Text)
			}
			i++
		}

		regions = append(regions, editRegion{
			baseStart: regionBaseStart,
			baseEnd:   basePos,
			sideStart: regionSideStart,
			sideEnd:   sidePos,
		})
	}

	return regions
}

// countLines counts the number of lines in a diff text chunk. go-diff's
// DiffCharsToLines produces text where each "char" was originally a full
// line (with its trailing newline), so "foo\nbar\n" is 2 lines and a
// trailing chunk without a newline like "foo" is still 1 line.
func countLines(text string) int {
	if text == "" {
		return 0
	}
	n := strings.Count(text, "\n")
	if text[len(text)-1] != '\n' {
		n++
	}
	return n
}

// mergeRegions walks both edit region lists against the base and produces
// the merged output.
func mergeRegions(
	baseLines, oursLines, theirsLines []string,
	oursEdits, theirsEdits []editRegion,
	theirsLabel string,
) *Result {
	var output []string
	var conflicts []Conflict
	autoResolved := 0

	basePos := 0
	oi := 0 // index into oursEdits
	ti := 0 // index into theirsEdits

	theirsMarkerEnd := conflictMarkerTheirs
	if theirsLabel != "" {
		theirsMarkerEnd = conflictMarkerTheirs + " (" + theirsLabel + ")"
	}

	for oi < len(oursEdits) || ti < len(theirsEdits) {
		var oe *editRegion
		var te *editRegion

		if oi < len(oursEdits) {
			oe = &oursEdits[oi]
		}
		if ti < len(theirsEdits) {
			te = &theirsEdits[ti]
		}

		// Two edits overlap when their base ranges intersect. Pure
		// insertions have baseStart == baseEnd (zero-width); two insertions
		// at the same point both "touch" that point and must be treated as
		// overlapping even though neither deletes any base lines.
		if oe != nil && te != nil {
			if entirelyBefore(oe, te) {
				output = append(output, baseLines[basePos:oe.baseStart]...)
				output = append(output, oursLines[oe.sideStart:oe.sideEnd]...)
				basePos = oe.baseEnd
				oi++
				autoResolved++
				continue
			}

			if entirelyBefore(te, oe) {
				output = append(output, baseLines[basePos:te.baseStart]...)
				output = append(output, theirsLines[te.sideStart:te.sideEnd]...)
				basePos = te.baseEnd
				ti++
				autoResolved++
				continue
			}

			// Overlapping regions — potential conflict. Determine the full
			// extent of the overlap, expanding to absorb any cascading
			// edits on either side that also fall within the range.
			overlapBaseStart := min(oe.baseStart, te.baseStart)
			overlapBaseEnd := max(oe.baseEnd, te.baseEnd)

			for {
				expanded := false
				for oi < len(oursEdits) && oursEdits[oi].baseStart <= overlapBaseEnd {
					if oursEdits[oi].baseEnd > overlapBaseEnd {
						overlapBaseEnd = oursEdits[oi].baseEnd
						expanded = true
					}
					oi++
				}
				for ti < len(theirsEdits) && theirsEdits[ti].baseStart <= overlapBaseEnd {
					if theirsEdits[ti].baseEnd > overlapBaseEnd {
						overlapBaseEnd = theirsEdits[ti].baseEnd
						expanded = true
					}
					ti++
				}
				if !expanded {
					break
				}
			}

			oursOverlap := reconstructSide(baseLines, oursLines, oursEdits, overlapBaseStart, overlapBaseEnd, oi)
			theirsOverlap := reconstructSide(baseLines, theirsLines, theirsEdits, overlapBaseStart, overlapBaseEnd, ti)

			output = append(output, baseLines[basePos:overlapBaseStart]...)

			if linesEqual(oursOverlap, theirsOverlap) {
				output = append(output, oursOverlap...)
				autoResolved++
			} else {
				conflictStartLine := len(output) + 1 // 1-based

				conflicts = append(conflicts, Conflict{
					OutputStartLine: conflictStartLine,
					OursLines:       oursOverlap,
					TheirsLines:     theirsOverlap,
				})

				output = append(output, conflictMarkerOurs)
				output = append(output, oursOverlap...)
				output = append(output, conflictMarkerSeparator)
				output = append(output, theirsOverlap...)
				output = append(output, theirsMarkerEnd)
			}

			basePos = overlapBaseEnd
			continue
		}

		if oe != nil {
			output = append(output, baseLines[basePos:oe.baseStart]...)
			output = append(output, oursLines[oe.sideStart:oe.sideEnd]...)
			basePos = oe.baseEnd
			oi++
			autoResolved++
			continue
		}

		if te != nil {
			output = append(output, baseLines[basePos:te.baseStart]...)
			output = append(output, theirsLines[te.sideStart:te.sideEnd]...)
			basePos = te.baseEnd
			ti++
			autoResolved++
			continue
		}
	}

	if basePos < len(baseLines) {
		output = append(output, baseLines[basePos:]...)
	}

	content := strings.Join(output, "\n")

	return &Result{
		Content:      []byte(content),
		HasConflicts: len(conflicts) > 0,
		Conflicts:    conflicts,
		AutoResolved: autoResolved,
	}
}

// entirelyBefore returns true if edit a ends strictly before edit b starts,
// meaning they don't overlap. Handles zero-width insertions correctly:
// two insertions at the same point DO overlap (returns false).
func entirelyBefore(a, b *editRegion) bool {
	if a.baseEnd < b.baseStart {
		return true
	}
	if a.baseEnd == b.baseStart {
		return a.baseStart < a.baseEnd
	}
	return false
}

// reconstructSide rebuilds what a given side looks like for the base range
// [overlapBaseStart, overlapBaseEnd]. It applies any of that side's edits
// that fall within the range, and fills in base lines for any gaps.
//
// editLimit is the index in the side's edit list up to which we've already
// consumed edits during the cascade.
func reconstructSide(
	baseLines, sideLines []string,
	edits []editRegion,
	overlapBaseStart, overlapBaseEnd int,
	editLimit int,
) []string {
	var result []string
	pos := overlapBaseStart

	for i := 0; i < editLimit; i++ {
		e := edits[i]

		if e.baseEnd < overlapBaseStart {
			continue
		}
		if e.baseStart == e.baseEnd && e.baseStart < overlapBaseStart {
			continue
		}

		if e.baseStart > overlapBaseEnd {
			break
		}

		editStart := max(e.baseStart, overlapBaseStart)
		if pos < editStart {
			result = append(result, baseLines[pos:editStart]...)
		}

		result = append(result, sideLines[e.sideStart:e.sideEnd]...)

		if e.baseEnd > pos {
			pos = e.baseEnd
		}
	}

	if pos < overlapBaseEnd {
		result = append(result, baseLines[pos:overlapBaseEnd]...)
	}

	return result
}

// linesEqual compares two string slices for equality.
func linesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
