package directive

import (
	"fmt"
	"strings"
)

// PK marks a field as part of the table's primary key.
type PK struct{}

// FK declares a foreign-key reference to another table's field.
type FK struct {
	References string `mapstructure:"references"` // "Table.field"
	OnDelete   string `mapstructure:"onDelete"`
}

// RefTable returns the referenced table name.
func (f *FK) RefTable() string {
	table, _, _ := strings.Cut(f.References, ".")
	return table
}

// RefField returns the referenced field name.
func (f *FK) RefField() string {
	_, field, _ := strings.Cut(f.References, ".")
	return field
}

// Unique marks a field as unique across the table.
type Unique struct{}

// Default declares a field's default: either a literal value or a raw SQL
// expression, never both.
type Default struct {
	Value any    `mapstructure:"value"`
	Expr  string `mapstructure:"expr"`
}

// Check declares a field check expression.
type Check struct {
	Expr string `mapstructure:"expr"`
}

// RLS declares row-security predicates for a table.
type RLS struct {
	Read  string `mapstructure:"read"`
	Write string `mapstructure:"write"`
}

// Tenant names the column scoping a table to a tenant.
type Tenant struct {
	Column string `mapstructure:"column"`
}

// Grant declares role privileges on a table.
type Grant struct {
	Role       string   `mapstructure:"role"`
	Privileges []string `mapstructure:"privileges"`
}

var validOnDelete = map[string]bool{
	"":         true,
	"CASCADE":  true,
	"RESTRICT": true,
	"SET NULL": true,
}

var validPrivileges = map[string]bool{
	"SELECT": true,
	"INSERT": true,
	"UPDATE": true,
	"DELETE": true,
}

func init() {
	Register(&Definition{
		Name: "pk",
		On:   []Placement{PlacementField},
		New:  func() any { return &PK{} },
	})
	Register(&Definition{
		Name: "fk",
		On:   []Placement{PlacementField},
		New:  func() any { return &FK{} },
		Check: func(payload any) error {
			fk := payload.(*FK)
			table, field, ok := strings.Cut(fk.References, ".")
			if !ok || table == "" || field == "" {
				return fmt.Errorf("references must be \"Table.field\", got %q", fk.References)
			}
			fk.OnDelete = strings.ToUpper(fk.OnDelete)
			if !validOnDelete[fk.OnDelete] {
				return fmt.Errorf("invalid onDelete action %q", fk.OnDelete)
			}
			return nil
		},
	})
	Register(&Definition{
		Name: "unique",
		On:   []Placement{PlacementField},
		New:  func() any { return &Unique{} },
	})
	Register(&Definition{
		Name: "default",
		On:   []Placement{PlacementField},
		New:  func() any { return &Default{} },
		Check: func(payload any) error {
			d := payload.(*Default)
			if d.Value == nil && d.Expr == "" {
				return fmt.Errorf("one of value or expr is required")
			}
			if d.Value != nil && d.Expr != "" {
				return fmt.Errorf("value and expr are mutually exclusive")
			}
			return nil
		},
	})
	Register(&Definition{
		Name: "check",
		On:   []Placement{PlacementField},
		New:  func() any { return &Check{} },
		Check: func(payload any) error {
			if payload.(*Check).Expr == "" {
				return fmt.Errorf("expr is required")
			}
			return nil
		},
	})
	Register(&Definition{
		Name: "rls",
		On:   []Placement{PlacementTable},
		New:  func() any { return &RLS{} },
		Check: func(payload any) error {
			r := payload.(*RLS)
			if r.Read == "" && r.Write == "" {
				return fmt.Errorf("at least one of read or write is required")
			}
			return nil
		},
	})
	Register(&Definition{
		Name: "tenant",
		On:   []Placement{PlacementTable},
		New:  func() any { return &Tenant{} },
		Check: func(payload any) error {
			if payload.(*Tenant).Column == "" {
				return fmt.Errorf("column is required")
			}
			return nil
		},
	})
	Register(&Definition{
		Name: "grant",
		On:   []Placement{PlacementTable},
		New:  func() any { return &Grant{} },
		Check: func(payload any) error {
			g := payload.(*Grant)
			if g.Role == "" {
				return fmt.Errorf("role is required")
			}
			if len(g.Privileges) == 0 {
				return fmt.Errorf("privileges are required")
			}
			for i, priv := range g.Privileges {
				up := strings.ToUpper(priv)
				if !validPrivileges[up] {
					return fmt.Errorf("invalid privilege %q", priv)
				}
				g.Privileges[i] = up
			}
			return nil
		},
	})
}
