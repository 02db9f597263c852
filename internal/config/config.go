// Package config provides compiler configuration shared by hosts that
// embed schemac. It is decoupled from any CLI concerns.
package config

import (
	"fmt"

	"github.com/leapstack-labs/schemac/pkg/dialect"
)

// Config holds the knobs of one compilation.
type Config struct {
	// Dialect is the target dialect name (registry key).
	Dialect string `koanf:"dialect"`

	// IdentityMode selects how the caller-identity token compiles:
	// "function" (zero-argument SQL call) or "parameter" (bound param).
	IdentityMode string `koanf:"identity_mode"`

	// IdentityVar is the reserved operation variable carrying the
	// caller-identity token.
	IdentityVar string `koanf:"identity_var"`

	// AllowDestructive permits contract-phase migration operations.
	AllowDestructive bool `koanf:"allow_destructive"`

	// MaxIdentifierLength overrides the dialect's identifier byte
	// ceiling for generated object names. Zero keeps the dialect value.
	MaxIdentifierLength int `koanf:"max_identifier_length"`
}

// Validate checks the configuration against the dialect registry and the
// known identity modes.
func (c *Config) Validate() error {
	if _, ok := dialect.Get(c.Dialect); !ok {
		return fmt.Errorf("unknown dialect %q (available: %v)", c.Dialect, dialect.List())
	}
	switch dialect.IdentityMode(c.IdentityMode) {
	case dialect.IdentityFunction, dialect.IdentityParameter:
	default:
		return fmt.Errorf("unknown identity mode %q", c.IdentityMode)
	}
	if c.MaxIdentifierLength < 0 {
		return fmt.Errorf("max_identifier_length must not be negative, got %d", c.MaxIdentifierLength)
	}
	return nil
}
