package diffmodel

// InsertPositionKind tags the variant of an InsertPosition.
type InsertPositionKind int

const (
	Before InsertPositionKind = iota
	After
	AtBranchHead
)

// InsertPosition locates a new commit relative to an existing one, or at the
// branch head.
type InsertPosition struct {
	Kind InsertPositionKind
	// Relative is the CommitId the position is Before/After. Unused for
	// AtBranchHead.
	Relative CommitId
}

func BeforeCommit(c CommitId) InsertPosition { return InsertPosition{Kind: Before, Relative: c} }
func AfterCommit(c CommitId) InsertPosition  { return InsertPosition{Kind: After, Relative: c} }
func AtHead() InsertPosition                 { return InsertPosition{Kind: AtBranchHead} }

// OperationKind tags the variant of an Operation.
type OperationKind int

const (
	OpMovePatch OperationKind = iota
	OpSplitCommit
	OpCreateCommit
	OpMergeCommits
)

func (k OperationKind) String() string {
	switch k {
	case OpMovePatch:
		return "move-patch"
	case OpSplitCommit:
		return "split-commit"
	case OpCreateCommit:
		return "create-commit"
	case OpMergeCommits:
		return "merge-commits"
	default:
		return "unknown"
	}
}

// NewCommit describes one of the commits produced by SplitCommit: a message
// and the subset of the source commit's patches it takes.
type NewCommit struct {
	Message string
	Patches []PatchId
}

// Operation is a tagged union over the four history-surgery operations the
// engine supports. Exactly one of the per-kind fields is populated,
// matching Kind. Dispatch on Kind rather than type-asserting a concrete
// struct — there is exactly one Operation type, not four.
type Operation struct {
	Kind OperationKind

	// MovePatch fields
	MovePatchID  PatchId
	FromCommit   CommitId
	ToCommit     CommitId
	Position     InsertPosition

	// SplitCommit fields
	SourceCommit CommitId
	NewCommits   []NewCommit

	// CreateCommit fields
	CreatePatches []PatchId
	Message       string
	CreatePosition InsertPosition

	// MergeCommits fields
	CommitIDs []CommitId
}

// MovePatch constructs a MovePatch operation.
func MovePatch(patchID PatchId, from, to CommitId, pos InsertPosition) Operation {
	return Operation{Kind: OpMovePatch, MovePatchID: patchID, FromCommit: from, ToCommit: to, Position: pos}
}

// SplitCommit constructs a SplitCommit operation.
func SplitCommit(source CommitId, newCommits []NewCommit) Operation {
	return Operation{Kind: OpSplitCommit, SourceCommit: source, NewCommits: newCommits}
}

// CreateCommit constructs a CreateCommit operation.
func CreateCommitOp(patches []PatchId, message string, pos InsertPosition) Operation {
	return Operation{Kind: OpCreateCommit, CreatePatches: patches, Message: message, CreatePosition: pos}
}

// MergeCommits constructs a MergeCommits operation.
func MergeCommitsOp(commits []CommitId, message string) Operation {
	return Operation{Kind: OpMergeCommits, CommitIDs: commits, Message: message}
}

// OperationResult is what apply_operation returns.
type OperationResult struct {
	Success         bool
	NewCommitIDs    []CommitId
	ModifiedCommits []CommitId
	Conflicts       []Conflict
	Message         string
}

// Change describes one projected change in an OperationPreview: a file in a
// commit that the operation would touch.
type Change struct {
	Commit   CommitId
	FilePath string
	Summary  string
}

// OperationPreview is the side-effect-free projection of what
// apply_operation would do, produced by preview_operation. Two calls with
// the same repository state and operation must be bytewise-equal (spec §8
// scenario F).
type OperationPreview struct {
	Changes            []Change
	PotentialConflicts []Conflict
	AffectedCommits    []CommitId
}
