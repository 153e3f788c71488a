package diffmodel

import "fmt"

// ConflictKind tags the variant of a Conflict.
type ConflictKind int

const (
	ContentConflict ConflictKind = iota
	ModeConflict
	DeleteModifyConflict
	RenameConflict
)

func (k ConflictKind) String() string {
	switch k {
	case ContentConflict:
		return "content"
	case ModeConflict:
		return "mode"
	case DeleteModifyConflict:
		return "delete-modify"
	case RenameConflict:
		return "rename"
	default:
		return "unknown"
	}
}

// Conflict describes one thing that prevents a clean auto-merge. Id is
// deterministic given the same inputs (spec §4.2, §8 property 4):
// "<file>:<line>" for content conflicts, "<file>:mode" for mode conflicts,
// "<file>:delete-modify" and "<file>:rename" for the remaining kinds.
type Conflict struct {
	ID            string
	Kind          ConflictKind
	FilePath      string
	Description   string
	OurContent    string
	TheirContent  string
}

// ContentConflictID builds the deterministic id for a per-line content
// conflict.
func ContentConflictID(file string, line int) string {
	return fmt.Sprintf("%s:%d", file, line)
}

// ModeConflictID builds the deterministic id for a mode conflict.
func ModeConflictID(file string) string {
	return file + ":mode"
}

// DeleteModifyConflictID builds the deterministic id for a delete/modify
// conflict.
func DeleteModifyConflictID(file string) string {
	return file + ":delete-modify"
}

// RenameConflictID builds the deterministic id for a rename conflict.
func RenameConflictID(file string) string {
	return file + ":rename"
}
