// Package patcherr implements the engine's error taxonomy (spec §7): every
// error surfaced to a caller carries a stable machine-readable Kind and a
// human-readable description sufficient for a CLI to render without
// inspecting internals.
//
// The shape is lifted directly from the teacher's util.PgitError: a title,
// a message, causes, suggestions, and a wrapped cause, with fluent With*
// builders. The one addition is Kind, since §7 requires callers to be able
// to switch on the error class programmatically, not just print it.
package patcherr

import (
	"fmt"
	"strings"

	"github.com/patchdance-dev/patchdance/internal/diffmodel"
)

// Kind is the stable, machine-readable error class from spec §7.
type Kind int

const (
	RepositoryError Kind = iota
	IoError
	InvalidCommitId
	PatchParseError
	PatchApplicationError
	ConflictErrorKind
	TransactionAborted
	OperationCancelled
)

func (k Kind) String() string {
	switch k {
	case RepositoryError:
		return "RepositoryError"
	case IoError:
		return "IoError"
	case InvalidCommitId:
		return "InvalidCommitId"
	case PatchParseError:
		return "PatchParseError"
	case PatchApplicationError:
		return "PatchApplicationError"
	case ConflictErrorKind:
		return "ConflictError"
	case TransactionAborted:
		return "TransactionAborted"
	case OperationCancelled:
		return "OperationCancelled"
	default:
		return "UnknownError"
	}
}

// Error is the engine's structured error type.
type Error struct {
	Kind        Kind
	Title       string
	Message     string
	Causes      []string
	Suggestions []string
	Conflicts   []diffmodel.Conflict // populated for ConflictErrorKind
	Err         error                // wrapped cause
}

func (e *Error) Error() string {
	if e.Title != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Title)
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Format renders the error the way a CLI would display it, in the register
// of the teacher's PgitError.Format().
func (e *Error) Format() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Error [%s]: %s\n", e.Kind, e.Title))
	if e.Message != "" {
		sb.WriteString(fmt.Sprintf("\n  %s\n", e.Message))
	}
	if len(e.Causes) > 0 {
		sb.WriteString("\n  Possible causes:\n")
		for _, c := range e.Causes {
			sb.WriteString(fmt.Sprintf("    - %s\n", c))
		}
	}
	if len(e.Suggestions) > 0 {
		sb.WriteString("\n  Try:\n")
		for _, s := range e.Suggestions {
			sb.WriteString(fmt.Sprintf("    %s\n", s))
		}
	}
	if len(e.Conflicts) > 0 {
		sb.WriteString("\n  Conflicts:\n")
		for _, c := range e.Conflicts {
			sb.WriteString(fmt.Sprintf("    - %s: %s\n", c.ID, c.Description))
		}
	}
	return sb.String()
}

// New creates an Error of the given kind with a title.
func New(kind Kind, title string) *Error {
	return &Error{Kind: kind, Title: title}
}

func (e *Error) WithMessage(msg string) *Error {
	e.Message = msg
	return e
}

func (e *Error) WithCause(cause string) *Error {
	e.Causes = append(e.Causes, cause)
	return e
}

func (e *Error) WithSuggestion(sug string) *Error {
	e.Suggestions = append(e.Suggestions, sug)
	return e
}

func (e *Error) WithConflicts(conflicts []diffmodel.Conflict) *Error {
	e.Conflicts = conflicts
	return e
}

func (e *Error) Wrap(err error) *Error {
	e.Err = err
	return e
}

// ─── pre-built constructors for common cases ───────────────────────────────

func NotFoundCommit(ref string) *Error {
	return New(InvalidCommitId, fmt.Sprintf("commit %q not found", ref)).
		WithSuggestion("check the commit id with the repository's log")
}

func HunkApplicationFailed(hunkIndex int, reason string) *Error {
	return New(PatchApplicationError, fmt.Sprintf("hunk %d could not be located", hunkIndex)).
		WithMessage(reason).
		WithCause("the target content has diverged from the patch's expected context")
}

func InvalidPatchFormat(reason string) *Error {
	return New(PatchParseError, "malformed unified diff").WithMessage(reason)
}

func BinaryPatchUnsupported(file string) *Error {
	return New(PatchApplicationError, fmt.Sprintf("binary patch for %q cannot be applied as a textual hunk", file)).
		WithCause("only exact whole-blob replacement is supported for binary patches")
}

func Overlapping(file string) *Error {
	return New(PatchApplicationError, fmt.Sprintf("overlapping hunks for %q", file)).
		WithCause("two patches modify the same lines of the old file")
}

func Conflicted(conflicts []diffmodel.Conflict) *Error {
	return New(ConflictErrorKind, fmt.Sprintf("%d conflict(s) detected", len(conflicts))).
		WithConflicts(conflicts)
}

func Aborted(cause error) *Error {
	return New(TransactionAborted, "transaction rolled back").
		WithMessage("the repository has been restored to its pre-operation state").
		Wrap(cause)
}

func Cancelled(reason string) *Error {
	return New(OperationCancelled, "operation cancelled").WithMessage(reason)
}

func Repo(reason string, err error) *Error {
	return New(RepositoryError, reason).Wrap(err)
}

func IO(reason string, err error) *Error {
	return New(IoError, reason).Wrap(err)
}
