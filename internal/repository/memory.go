package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/patchdance-dev/patchdance/internal/diffmodel"
	"github.com/patchdance-dev/patchdance/internal/util"
	"github.com/sergi/go-diff/diffmatchpatch"
	"github.com/zeebo/blake3"
)

// storedCommit is one commit in the in-memory fake.
type storedCommit struct {
	info diffmodel.CommitInfo
	tree map[string]treeFile // path -> file at this commit
}

type treeFile struct {
	content []byte
	mode    int
}

// Memory is an in-memory Repository Port, the fake named in spec §9
// ("a fake in-memory port is acceptable only for unit tests of Diff Engine,
// Conflict Detector, and Applicator in isolation") and reused here by the
// History Rewriter's transaction tests and the demo harness, since it is the
// only backend this module ships a concrete implementation of — the real
// git/pgit bindings are the out-of-scope external collaborator (spec §1).
type Memory struct {
	mu           sync.RWMutex
	commits      map[diffmodel.CommitId]*storedCommit
	refs         map[string]diffmodel.CommitId
	branch       string
	clean        bool
	seq          int
	pendingTrees map[string]map[string]treeFile
}

// NewMemory returns an empty in-memory repository with a clean working tree
// and its default branch pointing at no commit.
func NewMemory() *Memory {
	return &Memory{
		commits:      make(map[diffmodel.CommitId]*storedCommit),
		refs:         make(map[string]diffmodel.CommitId),
		branch:       "main",
		clean:        true,
		pendingTrees: make(map[string]map[string]treeFile),
	}
}

// SetClean sets whether IsClean reports a clean working tree. Tests use this
// to exercise the Rewriter's preflight check (spec §4.4 step 1).
func (m *Memory) SetClean(clean bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clean = clean
}

// Seed installs a commit directly, bypassing CreateCommit, for building test
// fixtures. files is the complete tree at this commit (not a delta).
func (m *Memory) Seed(id diffmodel.CommitId, parents []diffmodel.CommitId, message, author, email string, when time.Time, files map[string][]byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tree := make(map[string]treeFile, len(files))
	var changed []string
	for path, content := range files {
		tree[path] = treeFile{content: content, mode: 0100644}
		changed = append(changed, path)
	}
	sort.Strings(changed)

	m.commits[id] = &storedCommit{
		info: diffmodel.CommitInfo{
			ID:             id,
			Message:        message,
			Author:         author,
			Email:          email,
			Timestamp:      when.UTC(),
			CommitterName:  author,
			CommitterEmail: email,
			CommitterTime:  when.UTC(),
			ParentIds:      append([]diffmodel.CommitId(nil), parents...),
			FilesChanged:   changed,
		},
		tree: tree,
	}
	m.seq++
}

// SetBranch points the current branch ref at id and records the branch name.
func (m *Memory) SetBranch(name string, id diffmodel.CommitId) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.branch = name
	m.refs["refs/heads/"+name] = id
}

func (m *Memory) headRefName() string {
	return "refs/heads/" + m.branch
}

func (m *Memory) Head(ctx context.Context) (diffmodel.CommitId, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.refs[m.headRefName()]
	if !ok {
		return "", fmt.Errorf("no commits yet")
	}
	return id, nil
}

func (m *Memory) CurrentBranch(ctx context.Context) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.branch, nil
}

func (m *Memory) IsClean(ctx context.Context) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.clean, nil
}

func (m *Memory) CommitInfo(ctx context.Context, id diffmodel.CommitId) (diffmodel.CommitInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.commits[id]
	if !ok {
		return diffmodel.CommitInfo{}, fmt.Errorf("commit %s not found", id)
	}
	return c.info, nil
}

// WalkHistory walks first-parent ancestry starting at start, oldest-last
// (start first), up to limit commits (0 means unlimited).
func (m *Memory) WalkHistory(ctx context.Context, start diffmodel.CommitId, limit int) ([]diffmodel.CommitInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []diffmodel.CommitInfo
	cur := start
	for cur != "" {
		c, ok := m.commits[cur]
		if !ok {
			break
		}
		out = append(out, c.info)
		if limit > 0 && len(out) >= limit {
			break
		}
		if len(c.info.ParentIds) == 0 {
			break
		}
		cur = c.info.ParentIds[0]
	}
	return out, nil
}

func (m *Memory) ReadBlob(ctx context.Context, commit diffmodel.CommitId, path string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if commit == "" {
		return nil, false, nil // empty tree
	}
	c, ok := m.commits[commit]
	if !ok {
		return nil, false, fmt.Errorf("commit %s not found", commit)
	}
	f, ok := c.tree[path]
	if !ok {
		return nil, false, nil
	}
	return f.content, true, nil
}

// TreeToTreeDiff renders a standard unified diff between the trees of from
// and to (either may be "" for the empty tree), one diff --git block per
// changed path, in the exact textual form spec §6.4 names. A real backend
// would shell out to the underlying VCS for this; the in-memory fake
// computes it directly with diffmatchpatch the way the teacher's
// repo.GenerateHunks does for its own diff rendering.
func (m *Memory) TreeToTreeDiff(ctx context.Context, from, to diffmodel.CommitId) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var fromTree, toTree map[string]treeFile
	if from != "" {
		c, ok := m.commits[from]
		if !ok {
			return "", fmt.Errorf("commit %s not found", from)
		}
		fromTree = c.tree
	}
	if to != "" {
		c, ok := m.commits[to]
		if !ok {
			return "", fmt.Errorf("commit %s not found", to)
		}
		toTree = c.tree
	}

	paths := make(map[string]bool)
	for p := range fromTree {
		paths[p] = true
	}
	for p := range toTree {
		paths[p] = true
	}
	sorted := make([]string, 0, len(paths))
	for p := range paths {
		sorted = append(sorted, p)
	}
	sort.Strings(sorted)

	var sb strings.Builder
	for _, path := range sorted {
		oldFile, hadOld := fromTree[path]
		newFile, hasNew := toTree[path]
		if hadOld && hasNew && string(oldFile.content) == string(newFile.content) && oldFile.mode == newFile.mode {
			continue
		}

		sb.WriteString(fmt.Sprintf("diff --git a/%s b/%s\n", path, path))
		switch {
		case !hadOld && hasNew:
			sb.WriteString(fmt.Sprintf("new file mode %o\n", newFile.mode))
			sb.WriteString("--- /dev/null\n")
			sb.WriteString(fmt.Sprintf("+++ b/%s\n", path))
		case hadOld && !hasNew:
			sb.WriteString(fmt.Sprintf("deleted file mode %o\n", oldFile.mode))
			sb.WriteString(fmt.Sprintf("--- a/%s\n", path))
			sb.WriteString("+++ /dev/null\n")
		default:
			if oldFile.mode != newFile.mode {
				sb.WriteString(fmt.Sprintf("old mode %o\n", oldFile.mode))
				sb.WriteString(fmt.Sprintf("new mode %o\n", newFile.mode))
			}
			sb.WriteString(fmt.Sprintf("--- a/%s\n", path))
			sb.WriteString(fmt.Sprintf("+++ b/%s\n", path))
		}

		if util.DetectBinary(oldFile.content) || util.DetectBinary(newFile.content) {
			sb.WriteString(fmt.Sprintf("Binary files a/%s and b/%s differ\n", path, path))
			continue
		}
		sb.WriteString(renderHunks(string(oldFile.content), string(newFile.content)))
	}

	return sb.String(), nil
}

// renderHunks diffs old and new text and renders standard "@@ ... @@"
// hunk blocks, grouping changes with 3 lines of context the way
// repo.GenerateHunks/FormatDiff do in the teacher.
func renderHunks(oldText, newText string) string {
	dmp := diffmatchpatch.New()
	oldRunes, newRunes, lineArray := dmp.DiffLinesToRunes(oldText, newText)
	diffs := dmp.DiffMainRunes(oldRunes, newRunes, false)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)

	type line struct {
		kind byte // ' ', '+', '-'
		text string
	}
	var lines []line
	for _, d := range diffs {
		parts := strings.Split(d.Text, "\n")
		if len(parts) > 0 && parts[len(parts)-1] == "" {
			parts = parts[:len(parts)-1]
		}
		var kind byte
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			kind = ' '
		case diffmatchpatch.DiffInsert:
			kind = '+'
		case diffmatchpatch.DiffDelete:
			kind = '-'
		}
		for _, p := range parts {
			lines = append(lines, line{kind: kind, text: p})
		}
	}

	// Group each run of changed lines, then merge groups closer than
	// 2*context equal lines apart so hunks never share context.
	const context = 3
	type span struct{ start, end int } // [start, end) over lines, changed runs only
	var spans []span
	for i := 0; i < len(lines); {
		if lines[i].kind == ' ' {
			i++
			continue
		}
		start := i
		for i < len(lines) && lines[i].kind != ' ' {
			i++
		}
		spans = append(spans, span{start, i})
	}
	var hunkSpans []span
	for _, s := range spans {
		if n := len(hunkSpans); n > 0 && s.start-hunkSpans[n-1].end <= 2*context {
			hunkSpans[n-1].end = s.end
			continue
		}
		hunkSpans = append(hunkSpans, s)
	}

	// Precompute old/new line numbers at each index (1-based at index 0).
	oldAt := make([]int, len(lines)+1)
	newAt := make([]int, len(lines)+1)
	oldAt[0], newAt[0] = 1, 1
	for i, l := range lines {
		oldAt[i+1], newAt[i+1] = oldAt[i], newAt[i]
		if l.kind == ' ' || l.kind == '-' {
			oldAt[i+1]++
		}
		if l.kind == ' ' || l.kind == '+' {
			newAt[i+1]++
		}
	}

	var sb strings.Builder
	for _, hs := range hunkSpans {
		start := hs.start
		for start > 0 && hs.start-start < context && lines[start-1].kind == ' ' {
			start--
		}
		end := hs.end
		for end < len(lines) && end-hs.end < context && lines[end].kind == ' ' {
			end++
		}

		oldCount, newCount := 0, 0
		var body strings.Builder
		for j := start; j < end; j++ {
			switch lines[j].kind {
			case ' ':
				oldCount++
				newCount++
				body.WriteString(" " + lines[j].text + "\n")
			case '+':
				newCount++
				body.WriteString("+" + lines[j].text + "\n")
			case '-':
				oldCount++
				body.WriteString("-" + lines[j].text + "\n")
			}
		}
		sb.WriteString(fmt.Sprintf("@@ -%d,%d +%d,%d @@\n", oldAt[start], oldCount, newAt[start], newCount))
		sb.WriteString(body.String())
	}
	return sb.String()
}

// WriteTree carries forward base's tree (the teacher's repo.Commit pattern
// of loading the current tree before applying the staged delta) and
// overlays entries on top, deleting any path whose entry has Deleted set.
func (m *Memory) WriteTree(ctx context.Context, base diffmodel.CommitId, entries []TreeEntry) (string, error) {
	m.mu.RLock()
	tree := make(map[string]treeFile)
	if base != "" {
		if c, ok := m.commits[base]; ok {
			for path, f := range c.tree {
				tree[path] = f
			}
		}
	}
	m.mu.RUnlock()

	for _, e := range entries {
		if e.Deleted {
			delete(tree, e.Path)
			continue
		}
		mode := e.Mode
		if mode == 0 && e.ModeChange != nil && e.ModeChange.NewMode != 0 {
			mode = e.ModeChange.NewMode
		}
		if mode == 0 {
			if existing, ok := tree[e.Path]; ok {
				mode = existing.mode
			} else {
				mode = 0100644
			}
		}
		tree[e.Path] = treeFile{content: e.Content, mode: mode}
	}

	treeEntries := make([]util.TreeEntry, 0, len(tree))
	for p, f := range tree {
		treeEntries = append(treeEntries, util.TreeEntry{
			Mode:        f.mode,
			Path:        p,
			ContentHash: util.HashBytesBlake3(f.content),
		})
	}
	id := util.ComputeTreeHash(treeEntries)

	m.mu.Lock()
	m.pendingTrees[id] = tree
	m.mu.Unlock()

	return id, nil
}

func (m *Memory) CreateCommit(ctx context.Context, parents []diffmodel.CommitId, tree string, author, committer Signature, message string) (diffmodel.CommitId, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// The tree id alone cannot be reversed into file contents, so the tree
	// must have been staged by a prior WriteTree call.
	staged, ok := m.pendingTrees[tree]
	if !ok {
		return "", fmt.Errorf("tree %s was not produced by WriteTree", tree)
	}

	m.seq++
	id := diffmodel.CommitId(fmt.Sprintf("%040x", blake3Sum(fmt.Sprintf("%d:%s:%s:%v", m.seq, message, tree, parents))))

	var changed []string
	for p := range staged {
		changed = append(changed, p)
	}
	sort.Strings(changed)

	m.commits[id] = &storedCommit{
		info: diffmodel.CommitInfo{
			ID:             id,
			Message:        message,
			Author:         author.Name,
			Email:          author.Email,
			Timestamp:      author.When.UTC(),
			CommitterName:  committer.Name,
			CommitterEmail: committer.Email,
			CommitterTime:  committer.When.UTC(),
			ParentIds:      append([]diffmodel.CommitId(nil), parents...),
			FilesChanged:   changed,
		},
		tree: staged,
	}
	return id, nil
}

func (m *Memory) UpdateRef(ctx context.Context, name string, expectedOld, newID diffmodel.CommitId) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur := m.refs[name]
	if cur != expectedOld {
		return false, nil
	}
	m.refs[name] = newID
	return true, nil
}

func (m *Memory) CreateRef(ctx context.Context, name string, commit diffmodel.CommitId) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refs[name] = commit
	return nil
}

func (m *Memory) ResolveRef(ctx context.Context, name string) (diffmodel.CommitId, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.refs[name]
	return id, ok, nil
}

func (m *Memory) DeleteRef(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.refs, name)
	return nil
}

func (m *Memory) ListRefs(ctx context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for name := range m.refs {
		if strings.HasPrefix(name, prefix) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out, nil
}

func blake3Sum(s string) []byte {
	h := blake3.Sum256([]byte(s))
	return h[:20]
}
