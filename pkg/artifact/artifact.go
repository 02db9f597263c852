// Package artifact defines the emission surface: deterministic object
// naming for generated SQL objects, collision detection across a
// compilation, and the sink boundary hosts implement to receive outputs.
package artifact

import (
	"fmt"

	"github.com/leapstack-labs/schemac/pkg/dialect"
)

// Kind distinguishes artifact forms.
type Kind string

// Kind values.
const (
	KindView      Kind = "view"
	KindFunction  Kind = "function"
	KindDDL       Kind = "ddl"
	KindMigration Kind = "migration"
)

// Artifact is one named SQL output. Params lists parameter names in
// positional order; callers bind by that order.
type Artifact struct {
	Name   string
	Kind   Kind
	SQL    string
	Params []string
}

// Sink receives generated artifacts. Hosts implement it; the compiler
// never touches files or databases itself.
type Sink interface {
	Write(a Artifact) error
}

// NameError reports a source name that cannot become a SQL object name.
type NameError struct {
	Source  string
	Message string
}

func (e *NameError) Error() string {
	return fmt.Sprintf("cannot name artifact for %q: %s", e.Source, e.Message)
}

// CollisionError reports two sources whose sanitized names collide. Both
// sources are named so the author can tell which inputs to rename.
type CollisionError struct {
	Name   string
	First  string
	Second string
}

func (e *CollisionError) Error() string {
	return fmt.Sprintf("artifact name %q collides: produced by both %q and %q", e.Name, e.First, e.Second)
}

// SanitizeName maps a source name to a SQL object name: lower-cased, runs
// of non-alphanumeric characters collapsed to single underscores. Names
// that sanitize to nothing fall back to "unnamed".
func SanitizeName(source string) string {
	out := make([]byte, 0, len(source))
	pendingSep := false
	for i := 0; i < len(source); i++ {
		c := source[i]
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		case c >= 'A' && c <= 'Z':
			c += 'a' - 'A'
		default:
			if len(out) > 0 {
				pendingSep = true
			}
			continue
		}
		if pendingSep {
			out = append(out, '_')
			pendingSep = false
		}
		out = append(out, c)
	}
	if len(out) == 0 {
		return "unnamed"
	}
	if out[0] >= '0' && out[0] <= '9' {
		return "_" + string(out)
	}
	return string(out)
}

// Namer assigns sanitized names and rejects collisions across one
// compilation.
type Namer struct {
	dialect *dialect.Dialect
	maxLen  int
	sources map[string]string // sanitized name -> source
}

// NewNamer returns a namer for the given dialect. A positive maxLen
// overrides the dialect's identifier byte ceiling.
func NewNamer(d *dialect.Dialect, maxLen int) *Namer {
	if maxLen <= 0 {
		maxLen = d.MaxIdentLen
	}
	return &Namer{dialect: d, maxLen: maxLen, sources: make(map[string]string)}
}

// Name sanitizes source with the given suffix and registers the result.
// A second source mapping to an already-taken name is an error naming
// both sources.
func (n *Namer) Name(source, suffix string) (string, error) {
	name := SanitizeName(source)
	if suffix != "" {
		name += "_" + suffix
	}
	if len(name) > n.maxLen {
		return "", &NameError{
			Source:  source,
			Message: fmt.Sprintf("sanitized name %q exceeds the %d-byte identifier limit", name, n.maxLen),
		}
	}
	if n.dialect.Reserved(name) {
		return "", &NameError{
			Source:  source,
			Message: fmt.Sprintf("sanitized name %q is a reserved word in dialect %s", name, n.dialect.Name),
		}
	}
	if first, taken := n.sources[name]; taken {
		return "", &CollisionError{Name: name, First: first, Second: source}
	}
	n.sources[name] = source
	return name, nil
}
