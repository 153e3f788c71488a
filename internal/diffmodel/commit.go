package diffmodel

import "time"

// CommitInfo is an immutable snapshot of a commit. It carries no reference to
// a live repository handle — looking up its content requires the Repository
// Port.
type CommitInfo struct {
	ID         CommitId
	Message    string
	Author     string
	Email      string
	Timestamp  time.Time // author time, always UTC
	// CommitterName/CommitterEmail/CommitterTime record the committer
	// identity spec §3/§4.4 distinguish from the author: a rewritten
	// commit keeps its original author and author time but always gets a
	// fresh committer and committer time.
	CommitterName  string
	CommitterEmail string
	CommitterTime  time.Time // always UTC
	ParentIds  []CommitId
	FilesChanged []string
}

// IsRoot reports whether this commit has no parents.
func (c CommitInfo) IsRoot() bool {
	return len(c.ParentIds) == 0
}

// FirstParent returns the commit's first parent and true, or the zero value
// and false for a root commit. The Diff Engine's extraction algorithm always
// diffs against the first parent (§4.1).
func (c CommitInfo) FirstParent() (CommitId, bool) {
	if len(c.ParentIds) == 0 {
		return "", false
	}
	return c.ParentIds[0], true
}

// IsMerge reports whether the commit has more than one parent.
func (c CommitInfo) IsMerge() bool {
	return len(c.ParentIds) > 1
}
