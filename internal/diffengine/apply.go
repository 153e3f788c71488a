package diffengine

import (
	"strings"

	"github.com/patchdance-dev/patchdance/internal/diffmodel"
	"github.com/patchdance-dev/patchdance/internal/patcherr"
)

// ApplyOptions tunes the fuzzy-match behavior of ApplyPatch, mirroring
// config.EngineConfig's FuzzyConfidenceFloor/FuzzyContextWindow so callers
// outside the engine package can exercise the algorithm directly.
type ApplyOptions struct {
	ConfidenceFloor int // default 50
	ContextWindow   int // default 3
}

// DefaultApplyOptions returns the spec §4.1 defaults.
func DefaultApplyOptions() ApplyOptions {
	return ApplyOptions{ConfidenceFloor: 50, ContextWindow: 3}
}

// ApplyPatch applies patch to original, returning the resulting text.
// Binary patches are rejected unless they are an exact whole-blob
// replacement of original (spec §4.1). A patch with no hunks is a no-op
// that returns original unchanged (spec §8 boundary behavior).
func ApplyPatch(original string, patch diffmodel.Patch) (string, error) {
	return ApplyPatchWithOptions(original, patch, DefaultApplyOptions())
}

// ApplyPatchWithOptions is ApplyPatch with explicit fuzzy-match tuning.
func ApplyPatchWithOptions(original string, patch diffmodel.Patch, opts ApplyOptions) (string, error) {
	result, _, err := applyPatchTracked(original, patch, opts)
	return result, err
}

// AppliedHunk records where one hunk actually landed when a patch was
// applied: BaseStart/BaseEnd is the window it replaced in the original
// file's line coordinates, SideStart/SideEnd is the window it produced in
// the result. Exact-match hunks land at OldStart-1; fuzzy-matched hunks can
// land anywhere locateHunk's confidence search settles on, which is exactly
// why internal/merge needs this instead of recomputing positions from the
// patch's own (possibly stale) OldStart/NewStart fields.
type AppliedHunk struct {
	BaseStart int
	BaseEnd   int
	SideStart int
	SideEnd   int
}

// ApplyPatchTracked is ApplyPatch plus the list of AppliedHunks describing
// where each hunk actually landed. A binary patch (or a no-hunk patch)
// reports a nil hunk list — there is nothing to track a merge against.
func ApplyPatchTracked(original string, patch diffmodel.Patch, opts ApplyOptions) (string, []AppliedHunk, error) {
	return applyPatchTracked(original, patch, opts)
}

func applyPatchTracked(original string, patch diffmodel.Patch, opts ApplyOptions) (string, []AppliedHunk, error) {
	if patch.Binary {
		if string(patch.BinaryOld) == original {
			return string(patch.BinaryNew), nil, nil
		}
		return "", nil, patcherr.BinaryPatchUnsupported(patch.TargetFile)
	}

	if len(patch.Hunks) == 0 {
		return original, nil, nil
	}

	// Trailing-newline convention: start from the original file's; a hunk
	// that carries the "\ No newline at end of file" sentinel on any line
	// reaches the end of the file, and its last emitted line then decides
	// (spec §3's DiffLine sentinel).
	trailingNL := original == "" || hasTrailingNewline(original)

	lines := splitLines(original)
	applied := make([]AppliedHunk, 0, len(patch.Hunks))
	shift := 0
	for idx, hunk := range patch.Hunks {
		pos, ok := locateHunk(lines, hunk, shift, opts)
		if !ok {
			return "", nil, patcherr.HunkApplicationFailed(idx, "no application point reached the confidence floor")
		}
		window := oldWindow(hunk)
		replacement := newWindow(hunk)
		applied = append(applied, AppliedHunk{
			BaseStart: pos - shift,
			BaseEnd:   pos - shift + len(window),
			SideStart: pos,
			SideEnd:   pos + len(replacement),
		})
		shift += len(replacement) - len(window)
		lines = replaceWindow(lines, pos, hunk)
		reachesEOF := false
		for _, l := range hunk.Lines {
			reachesEOF = reachesEOF || l.NoNewlineAtEOF
		}
		if last, ok := lastKeptLine(hunk); ok && reachesEOF {
			trailingNL = !last.NoNewlineAtEOF
		}
	}

	result := strings.Join(lines, "\n")
	if trailingNL && result != "" {
		result += "\n"
	}
	return result, applied, nil
}

// lastKeptLine returns the last Context/Addition line of a hunk — the line
// that ends up last in the file if this hunk touches the file's end.
func lastKeptLine(h diffmodel.Hunk) (diffmodel.DiffLine, bool) {
	for i := len(h.Lines) - 1; i >= 0; i-- {
		if h.Lines[i].Kind == diffmodel.Context || h.Lines[i].Kind == diffmodel.Addition {
			return h.Lines[i], true
		}
	}
	return diffmodel.DiffLine{}, false
}

func hasTrailingNewline(s string) bool {
	return len(s) > 0 && s[len(s)-1] == '\n'
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	trimmed := strings.TrimSuffix(s, "\n")
	return strings.Split(trimmed, "\n")
}

// oldWindow returns the hunk's Context+Deletion lines, the sequence that
// must be found in the original file's old coordinate space.
func oldWindow(h diffmodel.Hunk) []string {
	var out []string
	for _, l := range h.Lines {
		if l.Kind == diffmodel.Context || l.Kind == diffmodel.Deletion {
			out = append(out, l.Text)
		}
	}
	return out
}

// locateHunk finds where in lines to apply h: first an exact match at
// h.OldStart-1 adjusted by the running shift earlier hunks introduced, then
// (on failure) a fuzzy search of the whole file.
func locateHunk(lines []string, h diffmodel.Hunk, shift int, opts ApplyOptions) (int, bool) {
	window := oldWindow(h)
	if len(window) == 0 {
		// Pure insertion hunk: apply at OldStart-1 directly.
		pos := h.OldStart - 1 + shift
		if pos < 0 {
			pos = 0
		}
		if pos > len(lines) {
			pos = len(lines)
		}
		return pos, true
	}

	exactPos := h.OldStart - 1 + shift
	if matchesExactly(lines, exactPos, window) {
		return exactPos, true
	}

	bestPos := -1
	bestScore := -1
	for pos := 0; pos+len(window) <= len(lines); pos++ {
		score := confidenceScore(lines, pos, window, opts.ContextWindow)
		if score > bestScore {
			bestScore = score
			bestPos = pos
		} else if score == bestScore && bestPos >= 0 {
			if abs(pos-exactPos) < abs(bestPos-exactPos) {
				bestPos = pos
			}
		}
	}

	floor := opts.ConfidenceFloor
	if floor == 0 {
		floor = 50
	}
	if bestPos < 0 || bestScore < floor {
		return 0, false
	}
	return bestPos, true
}

func matchesExactly(lines []string, pos int, window []string) bool {
	if pos < 0 || pos+len(window) > len(lines) {
		return false
	}
	for i, w := range window {
		if lines[pos+i] != w {
			return false
		}
	}
	return true
}

// confidenceScore scores a candidate position: +10 per exact line match,
// -5 per mismatch, saturating at 100 (spec §4.1). A position with more
// than contextWindow mismatches (when contextWindow > 0) is disqualified
// with a large negative score; the caller then applies the floor.
func confidenceScore(lines []string, pos int, window []string, contextWindow int) int {
	score := 0
	mismatches := 0
	for i, w := range window {
		if lines[pos+i] == w {
			score += 10
		} else {
			score -= 5
			mismatches++
		}
	}
	if contextWindow > 0 && mismatches > contextWindow {
		return -1 << 30 // disqualified: too many mismatches to be "fuzzy"
	}
	if score > 100 {
		score = 100
	}
	return score
}

// newWindow returns the hunk's Context+Addition lines, the replacement
// sequence locateHunk's matched window is swapped out for.
func newWindow(h diffmodel.Hunk) []string {
	var out []string
	for _, l := range h.Lines {
		if l.Kind == diffmodel.Addition || l.Kind == diffmodel.Context {
			out = append(out, l.Text)
		}
	}
	return out
}

// replaceWindow replaces the matched window at pos with the hunk's
// Addition+Context lines in their listed order.
func replaceWindow(lines []string, pos int, h diffmodel.Hunk) []string {
	window := oldWindow(h)
	replacement := newWindow(h)

	out := make([]string, 0, len(lines)-len(window)+len(replacement))
	out = append(out, lines[:pos]...)
	out = append(out, replacement...)
	out = append(out, lines[pos+len(window):]...)
	return out
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
