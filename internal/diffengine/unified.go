// Package diffengine implements the Diff Engine (spec §4.1): extracting
// structured patches from a commit's tree-to-tree diff, applying a patch to
// arbitrary text, merging patches that target the same file, and the
// unified-diff codec both directions depend on.
//
// Hunk location (apply.go's exact-then-fuzzy match) is spec §4.1's own
// scoring formula (+10 per matching context line, -5 per mismatch, a
// confidence floor), not a general-purpose diff library — there is no
// off-the-shelf "locate this hunk, tolerating up to N context mismatches"
// primitive in the retrieved pack to reuse, so this is hand-rolled
// arithmetic directly off the spec. ApplyPatchTracked's returned hunk
// windows feed internal/merge's three-way merge directly, in place of a
// second line-diff pass over the applied result.
package diffengine

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/patchdance-dev/patchdance/internal/diffmodel"
	"github.com/patchdance-dev/patchdance/internal/patcherr"
)

// fileDiffBlock is one "diff --git a/x b/x" section, parsed but not yet
// stamped with a source commit or PatchId.
type fileDiffBlock struct {
	path       string
	oldPath    string
	hunks      []diffmodel.Hunk
	modeChange *diffmodel.ModeChange
	binary     bool
}

// ParseUnifiedDiff parses raw unified-diff text (spec §6.4's format:
// "diff --git", "index", "---"/"+++", "@@ -a,b +c,d @@ hdr", lines prefixed
// by +/-/space, and the "\ No newline at end of file" sentinel) into a
// sequence of Patches. The diff text does not name a commit, so each
// Patch's SourceCommit is empty and its ID is NewPatchId("", path);
// ExtractPatches builds its own Patches from the parsed blocks with both
// set from the commit it diffed.
func ParseUnifiedDiff(text string) ([]diffmodel.Patch, error) {
	blocks, err := parseDiffBlocks(text)
	if err != nil {
		return nil, err
	}
	patches := make([]diffmodel.Patch, 0, len(blocks))
	for _, b := range blocks {
		p := diffmodel.Patch{
			ID:         diffmodel.NewPatchId("", b.path),
			TargetFile: b.path,
			Hunks:      b.hunks,
			ModeChange: b.modeChange,
			Binary:     b.binary,
		}
		if b.oldPath != "" && b.oldPath != b.path {
			p.OldPath = b.oldPath
		}
		patches = append(patches, p)
	}
	return patches, nil
}

func parseDiffBlocks(text string) ([]fileDiffBlock, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	lines := strings.Split(text, "\n")
	var blocks []fileDiffBlock
	i := 0

	for i < len(lines) {
		if !strings.HasPrefix(lines[i], "diff --git ") {
			i++
			continue
		}

		header := lines[i]
		block := fileDiffBlock{}
		i++

		// Derive a fallback path from the "diff --git a/x b/y" header in
		// case no ---/+++ lines are present (e.g. pure mode changes).
		if path, ok := parseDiffGitHeader(header); ok {
			block.path = path
			block.oldPath = path
		}

		for i < len(lines) {
			line := lines[i]
			switch {
			case strings.HasPrefix(line, "diff --git "):
				goto blockDone
			case strings.HasPrefix(line, "new file mode "):
				mode, err := parseOctal(strings.TrimPrefix(line, "new file mode "))
				if err != nil {
					return nil, patcherr.InvalidPatchFormat(err.Error())
				}
				mc := diffmodel.NewFileMode(mode)
				block.modeChange = &mc
				i++
			case strings.HasPrefix(line, "deleted file mode "):
				mode, err := parseOctal(strings.TrimPrefix(line, "deleted file mode "))
				if err != nil {
					return nil, patcherr.InvalidPatchFormat(err.Error())
				}
				mc := diffmodel.DeletedFileMode(mode)
				block.modeChange = &mc
				i++
			case strings.HasPrefix(line, "old mode "):
				oldMode, err := parseOctal(strings.TrimPrefix(line, "old mode "))
				if err != nil {
					return nil, patcherr.InvalidPatchFormat(err.Error())
				}
				newMode := oldMode
				if i+1 < len(lines) && strings.HasPrefix(lines[i+1], "new mode ") {
					newMode, err = parseOctal(strings.TrimPrefix(lines[i+1], "new mode "))
					if err != nil {
						return nil, patcherr.InvalidPatchFormat(err.Error())
					}
					i++
				}
				mc := diffmodel.ChangedMode(oldMode, newMode)
				block.modeChange = &mc
				i++
			case strings.HasPrefix(line, "Binary files ") || strings.HasPrefix(line, "GIT binary patch"):
				block.binary = true
				i++
			case strings.HasPrefix(line, "--- "):
				if p := stripDiffPathPrefix(strings.TrimPrefix(line, "--- ")); p != "" {
					block.oldPath = p
				}
				i++
			case strings.HasPrefix(line, "+++ "):
				// Target path is the new path when it exists; a deletion's
				// "+++ /dev/null" keeps the old path (spec §4.1 step 2).
				if p := stripDiffPathPrefix(strings.TrimPrefix(line, "+++ ")); p != "" {
					block.path = p
				} else if block.oldPath != "" {
					block.path = block.oldPath
				}
				i++
			case strings.HasPrefix(line, "index "):
				i++
			case strings.HasPrefix(line, "@@ "):
				hunk, consumed, err := parseHunk(lines, i)
				if err != nil {
					return nil, err
				}
				block.hunks = append(block.hunks, hunk)
				i += consumed
			case line == "":
				i++
			default:
				i++
			}
		}
	blockDone:
		blocks = append(blocks, block)
	}

	return blocks, nil
}

// parseDiffGitHeader extracts the "b/" path from a "diff --git a/x b/y"
// header line.
func parseDiffGitHeader(header string) (string, bool) {
	rest := strings.TrimPrefix(header, "diff --git ")
	idx := strings.Index(rest, " b/")
	if idx < 0 {
		return "", false
	}
	return rest[idx+3:], true
}

// stripDiffPathPrefix strips the "a/"/"b/" prefix and the optional
// "\t<timestamp>" suffix git appends to ---/+++ lines, and reports
// "/dev/null" as an empty path.
func stripDiffPathPrefix(p string) string {
	p = strings.SplitN(p, "\t", 2)[0]
	if p == "/dev/null" {
		return ""
	}
	p = strings.TrimPrefix(p, "a/")
	p = strings.TrimPrefix(p, "b/")
	return p
}

func parseOctal(s string) (int, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 8, 32)
	return int(v), err
}

// parseHunk parses one "@@ -a,b +c,d @@ context" header plus its body
// starting at lines[start], returning the Hunk and how many lines it
// consumed.
func parseHunk(lines []string, start int) (diffmodel.Hunk, int, error) {
	header := lines[start]
	oldStart, oldLines, newStart, newLines, context, err := parseHunkHeader(header)
	if err != nil {
		return diffmodel.Hunk{}, 0, err
	}

	hunk := diffmodel.Hunk{
		OldStart: oldStart,
		OldLines: oldLines,
		NewStart: newStart,
		NewLines: newLines,
		Context:  context,
	}

	i := start + 1
	oldSeen, newSeen := 0, 0
	for i < len(lines) && (oldSeen < oldLines || newSeen < newLines) {
		line := lines[i]
		if strings.HasPrefix(line, "\\ No newline at end of file") {
			if len(hunk.Lines) > 0 {
				hunk.Lines[len(hunk.Lines)-1].NoNewlineAtEOF = true
			}
			i++
			continue
		}
		if line == "" {
			// A blank context line (no leading space survived trimming).
			hunk.Lines = append(hunk.Lines, diffmodel.DiffLine{Kind: diffmodel.Context, Text: ""})
			oldSeen++
			newSeen++
			i++
			continue
		}

		kind := line[0]
		text := line[1:]
		switch kind {
		case ' ':
			hunk.Lines = append(hunk.Lines, diffmodel.DiffLine{Kind: diffmodel.Context, Text: text})
			oldSeen++
			newSeen++
		case '+':
			hunk.Lines = append(hunk.Lines, diffmodel.DiffLine{Kind: diffmodel.Addition, Text: text})
			newSeen++
		case '-':
			hunk.Lines = append(hunk.Lines, diffmodel.DiffLine{Kind: diffmodel.Deletion, Text: text})
			oldSeen++
		default:
			goto done
		}
		i++
	}
done:
	// A sentinel right after the hunk's last counted line belongs to it.
	if i < len(lines) && strings.HasPrefix(lines[i], "\\ No newline at end of file") {
		if len(hunk.Lines) > 0 {
			hunk.Lines[len(hunk.Lines)-1].NoNewlineAtEOF = true
		}
		i++
	}
	return hunk, i - start, nil
}

// parseHunkHeader parses "@@ -a,b +c,d @@ context" (b/d default to 1 when
// omitted, per the unified diff convention for single-line ranges).
func parseHunkHeader(header string) (oldStart, oldLines, newStart, newLines int, context string, err error) {
	body := strings.TrimPrefix(header, "@@ ")
	endIdx := strings.Index(body, " @@")
	if endIdx < 0 {
		return 0, 0, 0, 0, "", patcherr.InvalidPatchFormat("malformed hunk header: " + header)
	}
	ranges := body[:endIdx]
	context = strings.TrimPrefix(body[endIdx+3:], " ")

	fields := strings.Fields(ranges)
	if len(fields) != 2 {
		return 0, 0, 0, 0, "", patcherr.InvalidPatchFormat("malformed hunk ranges: " + ranges)
	}
	oldStart, oldLines, err = parseRange(fields[0], "-")
	if err != nil {
		return 0, 0, 0, 0, "", err
	}
	newStart, newLines, err = parseRange(fields[1], "+")
	if err != nil {
		return 0, 0, 0, 0, "", err
	}
	return oldStart, oldLines, newStart, newLines, context, nil
}

func parseRange(field, prefix string) (start, count int, err error) {
	field = strings.TrimPrefix(field, prefix)
	parts := strings.SplitN(field, ",", 2)
	start, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, patcherr.InvalidPatchFormat("malformed range: " + field)
	}
	count = 1
	if len(parts) == 2 {
		count, err = strconv.Atoi(parts[1])
		if err != nil {
			return 0, 0, patcherr.InvalidPatchFormat("malformed range: " + field)
		}
	}
	return start, count, nil
}

// FormatUnifiedDiff renders a Patch back to the standard textual form
// (spec §6.4), the inverse of ParseUnifiedDiff/parseDiffBlocks.
func FormatUnifiedDiff(p diffmodel.Patch) string {
	var sb strings.Builder
	path := p.TargetFile
	sb.WriteString(fmt.Sprintf("diff --git a/%s b/%s\n", path, path))

	if p.ModeChange != nil {
		switch p.ModeChange.Kind {
		case diffmodel.NewFile:
			sb.WriteString(fmt.Sprintf("new file mode %o\n", p.ModeChange.NewMode))
		case diffmodel.DeletedFile:
			sb.WriteString(fmt.Sprintf("deleted file mode %o\n", p.ModeChange.OldMode))
		case diffmodel.ModeChangeKind:
			sb.WriteString(fmt.Sprintf("old mode %o\nnew mode %o\n", p.ModeChange.OldMode, p.ModeChange.NewMode))
		}
	}

	if p.Binary {
		sb.WriteString(fmt.Sprintf("Binary files a/%s and b/%s differ\n", path, path))
		return sb.String()
	}

	if p.ModeChange != nil && p.ModeChange.Kind == diffmodel.NewFile {
		sb.WriteString("--- /dev/null\n")
	} else {
		sb.WriteString(fmt.Sprintf("--- a/%s\n", path))
	}
	if p.ModeChange != nil && p.ModeChange.Kind == diffmodel.DeletedFile {
		sb.WriteString("+++ /dev/null\n")
	} else {
		sb.WriteString(fmt.Sprintf("+++ b/%s\n", path))
	}

	for _, h := range p.Hunks {
		header := fmt.Sprintf("@@ -%d,%d +%d,%d @@", h.OldStart, h.OldLines, h.NewStart, h.NewLines)
		if h.Context != "" {
			header += " " + h.Context
		}
		sb.WriteString(header + "\n")
		for _, l := range h.Lines {
			switch l.Kind {
			case diffmodel.Context:
				sb.WriteString(" " + l.Text + "\n")
			case diffmodel.Addition:
				sb.WriteString("+" + l.Text + "\n")
			case diffmodel.Deletion:
				sb.WriteString("-" + l.Text + "\n")
			}
			if l.NoNewlineAtEOF {
				sb.WriteString("\\ No newline at end of file\n")
			}
		}
	}
	return sb.String()
}
