package schema

import (
	"fmt"
	"strings"
)

// ErrorKind classifies schema build failures.
type ErrorKind int

// ErrorKind values.
const (
	KindParse ErrorKind = iota
	KindDuplicate
	KindUnresolvedReference
	KindInvalidType
	KindDirective
)

// Error is a structured schema build failure.
type Error struct {
	Kind    ErrorKind
	Object  string // table name, empty for document-level errors
	Field   string // field name, empty for table-level errors
	Line    int
	Column  int
	Message string
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d:%d: ", e.Line, e.Column)
	if e.Object != "" {
		b.WriteString(e.Object)
		if e.Field != "" {
			b.WriteString("." + e.Field)
		}
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	return b.String()
}

// ErrorList aggregates independent build failures so a caller sees all of
// them, not just the first.
type ErrorList []*Error

func (l ErrorList) Error() string {
	msgs := make([]string, len(l))
	for i, e := range l {
		msgs[i] = e.Error()
	}
	return strings.Join(msgs, "\n")
}
