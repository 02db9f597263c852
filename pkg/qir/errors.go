package qir

import "fmt"

// ErrorKind classifies operation compile failures.
type ErrorKind int

// ErrorKind values.
const (
	UnresolvedRoot ErrorKind = iota
	UnresolvedField
	OperatorTypeMismatch
	UnknownVariable
	NoUniqueKey
	InvalidArgument
)

// Error is a structured operation compile failure. All failures are
// plan-build-time; none are deferred to the SQL layer.
type Error struct {
	Kind    ErrorKind
	Op      string // operation name
	Path    string // dotted field path, e.g. "Org.docs.title"
	Message string
}

func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("operation %q: %s: %s", e.Op, e.Path, e.Message)
	}
	return fmt.Sprintf("operation %q: %s", e.Op, e.Message)
}
