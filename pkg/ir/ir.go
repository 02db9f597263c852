// Package ir holds the compiled, validated representation of a declarative
// schema: tables, fields, directive payloads, and derived relationships.
// A Schema is immutable once built and is rebuilt wholesale on every
// compile.
package ir

import "fmt"

// ScalarType is the closed set of base column types.
type ScalarType int

// ScalarType values.
const (
	ScalarID ScalarType = iota
	ScalarString
	ScalarInt
	ScalarFloat
	ScalarBoolean
	ScalarDateTime
	ScalarJSON
	ScalarUUID
)

var scalarNames = map[string]ScalarType{
	"ID":       ScalarID,
	"String":   ScalarString,
	"Int":      ScalarInt,
	"Float":    ScalarFloat,
	"Boolean":  ScalarBoolean,
	"DateTime": ScalarDateTime,
	"JSON":     ScalarJSON,
	"UUID":     ScalarUUID,
}

// ScalarFromName resolves a source-document type name to a scalar type.
func ScalarFromName(name string) (ScalarType, bool) {
	t, ok := scalarNames[name]
	return t, ok
}

// String returns the source-document name of the scalar.
func (t ScalarType) String() string {
	for name, st := range scalarNames {
		if st == t {
			return name
		}
	}
	return fmt.Sprintf("ScalarType(%d)", int(t))
}

// SQLType returns the column type the scalar compiles to.
func (t ScalarType) SQLType() string {
	switch t {
	case ScalarID, ScalarInt:
		return "bigint"
	case ScalarString:
		return "text"
	case ScalarFloat:
		return "double precision"
	case ScalarBoolean:
		return "boolean"
	case ScalarDateTime:
		return "timestamptz"
	case ScalarJSON:
		return "jsonb"
	case ScalarUUID:
		return "uuid"
	}
	return "text"
}

// Text reports whether pattern operators (ilike, contains) apply.
func (t ScalarType) Text() bool {
	return t == ScalarString
}

// ForeignKey is the resolved target of a foreign-key directive.
type ForeignKey struct {
	Table    string
	Field    string
	OnDelete string // e.g. "CASCADE", empty for engine default
}

// Field is one declared field of a table: either a scalar column or a
// relationship field naming another table. Relationship edges are derived
// from foreign-key columns, never stored redundantly.
type Field struct {
	Name     string
	Scalar   ScalarType // meaningful when Relation is empty
	Relation string     // target table name for relationship fields
	List     bool
	Nullable bool

	PrimaryKey bool
	Unique     bool
	Default    string // raw SQL default expression
	Check      string // raw SQL check expression
	Ref        *ForeignKey
}

// IsRelation reports whether the field names another table.
func (f *Field) IsRelation() bool { return f.Relation != "" }

// SQLName returns the field's column identifier, the snake_case form of
// the declared name.
func (f *Field) SQLName() string { return snake(f.Name) }

// RLSRule carries row-security predicates attached at table granularity.
type RLSRule struct {
	Read  string
	Write string
}

// GrantRule carries one role grant attached at table granularity.
type GrantRule struct {
	Role       string
	Privileges []string
}

// Table is one named table with its ordered fields and table-level
// directive payloads.
type Table struct {
	Name   string
	Fields []*Field

	RLS    *RLSRule
	Tenant string // tenancy column name, empty for none
	Grants []GrantRule

	index map[string]*Field
}

// NewTable returns an empty table.
func NewTable(name string) *Table {
	return &Table{Name: name, index: make(map[string]*Field)}
}

// SQLName returns the table's SQL identifier, the snake_case form of the
// declared name.
func (t *Table) SQLName() string { return snake(t.Name) }

func snake(name string) string {
	out := make([]byte, 0, len(name)+4)
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c >= 'A' && c <= 'Z' {
			if i > 0 {
				out = append(out, '_')
			}
			c += 'a' - 'A'
		}
		out = append(out, c)
	}
	return string(out)
}

// AddField appends a field, rejecting duplicate names.
func (t *Table) AddField(f *Field) error {
	if _, ok := t.index[f.Name]; ok {
		return fmt.Errorf("duplicate field %q on table %q", f.Name, t.Name)
	}
	t.Fields = append(t.Fields, f)
	t.index[f.Name] = f
	return nil
}

// Field returns a field by name.
func (t *Table) Field(name string) (*Field, bool) {
	f, ok := t.index[name]
	return f, ok
}

// Columns returns the scalar fields in declaration order.
func (t *Table) Columns() []*Field {
	cols := make([]*Field, 0, len(t.Fields))
	for _, f := range t.Fields {
		if !f.IsRelation() {
			cols = append(cols, f)
		}
	}
	return cols
}

// Relations returns the relationship fields in declaration order.
func (t *Table) Relations() []*Field {
	rels := make([]*Field, 0)
	for _, f := range t.Fields {
		if f.IsRelation() {
			rels = append(rels, f)
		}
	}
	return rels
}

// PrimaryKey returns the primary-key fields in declaration order.
func (t *Table) PrimaryKey() []*Field {
	var pk []*Field
	for _, f := range t.Fields {
		if f.PrimaryKey {
			pk = append(pk, f)
		}
	}
	return pk
}

// UniqueFields returns the fields that provably identify a row on their
// own: a single-column primary key or any declared-unique column.
func (t *Table) UniqueFields() []*Field {
	var u []*Field
	if pk := t.PrimaryKey(); len(pk) == 1 {
		u = append(u, pk[0])
	}
	for _, f := range t.Fields {
		if f.Unique && !f.PrimaryKey {
			u = append(u, f)
		}
	}
	return u
}

// Schema owns the mapping from table name to table. Table order follows
// the source document, which keeps emitted artifacts deterministic.
type Schema struct {
	tables map[string]*Table
	order  []string
}

// NewSchema returns an empty schema.
func NewSchema() *Schema {
	return &Schema{tables: make(map[string]*Table)}
}

// AddTable registers a table, rejecting duplicate names.
func (s *Schema) AddTable(t *Table) error {
	if _, ok := s.tables[t.Name]; ok {
		return fmt.Errorf("duplicate table %q", t.Name)
	}
	s.tables[t.Name] = t
	s.order = append(s.order, t.Name)
	return nil
}

// Table returns a table by name.
func (s *Schema) Table(name string) (*Table, bool) {
	t, ok := s.tables[name]
	return t, ok
}

// Tables returns all tables in declaration order.
func (s *Schema) Tables() []*Table {
	out := make([]*Table, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.tables[name])
	}
	return out
}

// ForeignKeyBetween returns the column on child whose foreign key
// references parent. This is the correlation edge for relationship
// shaping and quantifier predicates.
func (s *Schema) ForeignKeyBetween(child, parent *Table) (*Field, bool) {
	for _, f := range child.Fields {
		if f.Ref != nil && f.Ref.Table == parent.Name {
			return f, true
		}
	}
	return nil, false
}
