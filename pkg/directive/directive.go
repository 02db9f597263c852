// Package directive declares which named annotations are legal on which
// schema constructs and what typed arguments they accept. Validation is
// pure: no side effects, structured errors.
package directive

import (
	"fmt"
	"sort"
	"sync"

	"github.com/go-viper/mapstructure/v2"
)

// Placement identifies the construct a directive is attached to.
type Placement int

// Placement values.
const (
	PlacementTable Placement = iota
	PlacementField
)

// String returns the construct name.
func (p Placement) String() string {
	if p == PlacementTable {
		return "table"
	}
	return "field"
}

// Location is a source position for error reporting.
type Location struct {
	Line   int
	Column int
}

// ErrorKind classifies directive validation failures.
type ErrorKind int

// ErrorKind values.
const (
	UnknownDirective ErrorKind = iota
	InvalidPlacement
	ArgumentTypeMismatch
)

// Error is a structured directive validation failure.
type Error struct {
	Kind      ErrorKind
	Directive string
	Loc       Location
	Message   string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%d:%d: directive @%s: %s", e.Loc.Line, e.Loc.Column, e.Directive, e.Message)
}

// Definition declares one legal directive: its name, the constructs it may
// attach to, a constructor for its typed payload, and an optional semantic
// check run after argument decoding.
type Definition struct {
	Name  string
	On    []Placement
	New   func() any
	Check func(payload any) error
}

func (d *Definition) allowedOn(p Placement) bool {
	for _, on := range d.On {
		if on == p {
			return true
		}
	}
	return false
}

// Directive registry
var (
	directivesMu sync.RWMutex
	directives   = make(map[string]*Definition)
)

// Register registers a directive definition in the global registry.
// Called by built-in definitions in their init() function.
func Register(d *Definition) {
	directivesMu.Lock()
	defer directivesMu.Unlock()
	directives[d.Name] = d
}

// Get returns a directive definition by name.
func Get(name string) (*Definition, bool) {
	directivesMu.RLock()
	defer directivesMu.RUnlock()
	d, ok := directives[name]
	return d, ok
}

// List returns all registered directive names (sorted).
func List() []string {
	directivesMu.RLock()
	defer directivesMu.RUnlock()
	names := make([]string, 0, len(directives))
	for name := range directives {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks a directive occurrence against its registered definition
// and decodes its arguments into the directive's typed payload.
func Validate(name string, on Placement, args map[string]any, loc Location) (any, error) {
	def, ok := Get(name)
	if !ok {
		return nil, &Error{
			Kind:      UnknownDirective,
			Directive: name,
			Loc:       loc,
			Message:   "unknown directive",
		}
	}
	if !def.allowedOn(on) {
		return nil, &Error{
			Kind:      InvalidPlacement,
			Directive: name,
			Loc:       loc,
			Message:   fmt.Sprintf("not allowed on a %s", on),
		}
	}

	payload := def.New()
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:      payload,
		ErrorUnused: true,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(args); err != nil {
		return nil, &Error{
			Kind:      ArgumentTypeMismatch,
			Directive: name,
			Loc:       loc,
			Message:   err.Error(),
		}
	}
	if def.Check != nil {
		if err := def.Check(payload); err != nil {
			return nil, &Error{
				Kind:      ArgumentTypeMismatch,
				Directive: name,
				Loc:       loc,
				Message:   err.Error(),
			}
		}
	}
	return payload, nil
}
