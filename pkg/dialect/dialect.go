// Package dialect describes the SQL target a compilation emits for:
// identifier quoting rules, reserved words, identifier length limits, and
// how the caller-identity token is rendered.
package dialect

// IdentityMode selects how the caller-identity token compiles.
type IdentityMode string

// IdentityMode values.
const (
	// IdentityFunction renders the identity token as a zero-argument SQL
	// function call evaluated in-database.
	IdentityFunction IdentityMode = "function"
	// IdentityParameter renders the identity token as an ordinary bound
	// parameter.
	IdentityParameter IdentityMode = "parameter"
)

// Dialect holds the emission rules for one SQL target.
type Dialect struct {
	// Name is the registry key (lower-case).
	Name string

	// MaxIdentLen is the byte-length ceiling for identifiers. Names over
	// the limit are an error, never truncated.
	MaxIdentLen int

	// IdentityFunc is the zero-argument function invoked for the
	// caller-identity token under IdentityFunction mode, without
	// parentheses (e.g. "app.current_actor_id").
	IdentityFunc string

	// reserved holds the reserved words that force identifier quoting.
	reserved map[string]bool
}

// Reserved reports whether name (case-insensitively) is a reserved word.
func (d *Dialect) Reserved(name string) bool {
	return d.reserved[lower(name)]
}

// NeedsQuoting reports whether an identifier must be double-quoted:
// reserved words, anything containing upper-case or non-identifier
// characters, and names not starting with a letter or underscore.
func (d *Dialect) NeedsQuoting(name string) bool {
	if name == "" || d.Reserved(name) {
		return true
	}
	for i, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r == '_':
		case r >= '0' && r <= '9':
			if i == 0 {
				return true
			}
		default:
			return true
		}
	}
	return false
}

func lower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}
