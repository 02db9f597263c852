// Package schema builds the validated IR from a declarative SDL document.
// The build either returns a complete schema or fails with every collected
// error; no partial schema is ever returned.
package schema

import (
	"errors"
	"fmt"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"github.com/vektah/gqlparser/v2/parser"

	"github.com/leapstack-labs/schemac/pkg/directive"
	"github.com/leapstack-labs/schemac/pkg/ir"
)

// Build parses the declarative source into a schema, validates every
// attached directive against the registry, and resolves every foreign-key
// and relationship reference.
func Build(source string) (*ir.Schema, error) {
	doc, err := parser.ParseSchema(&ast.Source{Name: "schema", Input: source})
	if err != nil {
		return nil, parseError(err)
	}

	b := &builder{
		out:    ir.NewSchema(),
		tables: make(map[string]bool),
	}
	b.collectNames(doc)
	for _, def := range doc.Definitions {
		if def.Kind == ast.Object {
			b.buildTable(def)
		}
	}
	b.resolve()

	if len(b.errs) > 0 {
		return nil, b.errs
	}
	return b.out, nil
}

func parseError(err error) error {
	var gqlErr *gqlerror.Error
	e := &Error{Kind: KindParse, Message: err.Error()}
	if errors.As(err, &gqlErr) {
		e.Message = gqlErr.Message
		if len(gqlErr.Locations) > 0 {
			e.Line = gqlErr.Locations[0].Line
			e.Column = gqlErr.Locations[0].Column
		}
	}
	return ErrorList{e}
}

type pendingFK struct {
	table *ir.Table
	field *ir.Field
	fk    *directive.FK
	loc   directive.Location
}

type builder struct {
	errs   ErrorList
	out    *ir.Schema
	tables map[string]bool
	fks    []pendingFK
}

func (b *builder) errorf(kind ErrorKind, pos *ast.Position, object, field, format string, args ...any) {
	e := &Error{
		Kind:    kind,
		Object:  object,
		Field:   field,
		Message: fmt.Sprintf(format, args...),
	}
	if pos != nil {
		e.Line = pos.Line
		e.Column = pos.Column
	}
	b.errs = append(b.errs, e)
}

func loc(pos *ast.Position) directive.Location {
	if pos == nil {
		return directive.Location{}
	}
	return directive.Location{Line: pos.Line, Column: pos.Column}
}

func (b *builder) collectNames(doc *ast.SchemaDocument) {
	for _, def := range doc.Definitions {
		if def.Kind != ast.Object {
			b.errorf(KindInvalidType, def.Position, def.Name, "",
				"only object type definitions are supported, got %s", def.Kind)
			continue
		}
		if b.tables[def.Name] {
			b.errorf(KindDuplicate, def.Position, def.Name, "", "duplicate table %q", def.Name)
			continue
		}
		b.tables[def.Name] = true
	}
}

func (b *builder) buildTable(def *ast.Definition) {
	if _, exists := b.out.Table(def.Name); exists {
		return // duplicate already reported
	}
	table := ir.NewTable(def.Name)

	for _, d := range def.Directives {
		payload, ok := b.validateDirective(d, directive.PlacementTable, def.Name, "")
		if !ok {
			continue
		}
		switch p := payload.(type) {
		case *directive.RLS:
			if table.RLS != nil {
				b.errorf(KindDirective, d.Position, def.Name, "", "duplicate @rls directive")
				continue
			}
			table.RLS = &ir.RLSRule{Read: p.Read, Write: p.Write}
		case *directive.Tenant:
			if table.Tenant != "" {
				b.errorf(KindDirective, d.Position, def.Name, "", "duplicate @tenant directive")
				continue
			}
			table.Tenant = p.Column
		case *directive.Grant:
			table.Grants = append(table.Grants, ir.GrantRule{Role: p.Role, Privileges: p.Privileges})
		default:
			b.errorf(KindDirective, d.Position, def.Name, "", "directive @%s has no table payload", d.Name)
		}
	}

	for _, fd := range def.Fields {
		f := b.buildField(table, fd)
		if f == nil {
			continue
		}
		if err := table.AddField(f); err != nil {
			b.errorf(KindDuplicate, fd.Position, def.Name, fd.Name, "%s", err.Error())
		}
	}

	if err := b.out.AddTable(table); err != nil {
		b.errorf(KindDuplicate, def.Position, def.Name, "", "%s", err.Error())
	}
}

func (b *builder) buildField(table *ir.Table, fd *ast.FieldDefinition) *ir.Field {
	typ := fd.Type
	f := &ir.Field{Name: fd.Name, Nullable: !typ.NonNull}
	named := typ.NamedType
	if named == "" && typ.Elem != nil {
		f.List = true
		named = typ.Elem.NamedType
	}

	switch {
	case b.tables[named]:
		f.Relation = named
	default:
		scalar, ok := ir.ScalarFromName(named)
		if !ok {
			b.errorf(KindInvalidType, fd.Position, table.Name, fd.Name, "unknown type %q", named)
			return nil
		}
		if f.List {
			b.errorf(KindInvalidType, fd.Position, table.Name, fd.Name,
				"scalar list fields are not supported")
			return nil
		}
		f.Scalar = scalar
	}

	for _, d := range fd.Directives {
		payload, ok := b.validateDirective(d, directive.PlacementField, table.Name, fd.Name)
		if !ok {
			continue
		}
		if f.IsRelation() {
			b.errorf(KindDirective, d.Position, table.Name, fd.Name,
				"directive @%s is not allowed on a relationship field", d.Name)
			continue
		}
		switch p := payload.(type) {
		case *directive.PK:
			f.PrimaryKey = true
			f.Nullable = false
		case *directive.FK:
			b.fks = append(b.fks, pendingFK{table: table, field: f, fk: p, loc: loc(d.Position)})
		case *directive.Unique:
			f.Unique = true
		case *directive.Default:
			if p.Expr != "" {
				f.Default = p.Expr
			} else {
				lit, err := sqlLiteral(p.Value)
				if err != nil {
					b.errorf(KindDirective, d.Position, table.Name, fd.Name, "@default: %s", err.Error())
					continue
				}
				f.Default = lit
			}
		case *directive.Check:
			f.Check = p.Expr
		default:
			b.errorf(KindDirective, d.Position, table.Name, fd.Name, "directive @%s has no field payload", d.Name)
		}
	}
	return f
}

func (b *builder) validateDirective(d *ast.Directive, on directive.Placement, object, field string) (any, bool) {
	args := make(map[string]any, len(d.Arguments))
	for _, a := range d.Arguments {
		v, err := argValue(a.Value)
		if err != nil {
			b.errorf(KindDirective, d.Position, object, field, "@%s(%s:): %s", d.Name, a.Name, err.Error())
			return nil, false
		}
		args[a.Name] = v
	}
	payload, err := directive.Validate(d.Name, on, args, loc(d.Position))
	if err != nil {
		e := &Error{Kind: KindDirective, Object: object, Field: field, Message: err.Error()}
		var dirErr *directive.Error
		if errors.As(err, &dirErr) {
			e.Line = dirErr.Loc.Line
			e.Column = dirErr.Loc.Column
			e.Message = fmt.Sprintf("directive @%s: %s", dirErr.Directive, dirErr.Message)
		}
		b.errs = append(b.errs, e)
		return nil, false
	}
	return payload, true
}

// resolve runs after all tables exist: foreign keys, relationship edges,
// and tenancy columns must all land on real fields or the build fails.
func (b *builder) resolve() {
	for _, p := range b.fks {
		target, ok := b.out.Table(p.fk.RefTable())
		if !ok {
			b.errorf(KindUnresolvedReference, nil, p.table.Name, p.field.Name,
				"foreign key references unknown table %q", p.fk.RefTable())
			continue
		}
		ref, ok := target.Field(p.fk.RefField())
		if !ok || ref.IsRelation() {
			b.errorf(KindUnresolvedReference, nil, p.table.Name, p.field.Name,
				"foreign key references unknown column %q on table %q", p.fk.RefField(), target.Name)
			continue
		}
		p.field.Ref = &ir.ForeignKey{Table: target.Name, Field: ref.Name, OnDelete: p.fk.OnDelete}
	}

	for _, table := range b.out.Tables() {
		for _, rel := range table.Relations() {
			target, _ := b.out.Table(rel.Relation)
			if rel.List {
				if _, ok := b.out.ForeignKeyBetween(target, table); !ok {
					b.errorf(KindUnresolvedReference, nil, table.Name, rel.Name,
						"no foreign key on %q references %q", target.Name, table.Name)
				}
			} else {
				if _, ok := b.out.ForeignKeyBetween(table, target); !ok {
					b.errorf(KindUnresolvedReference, nil, table.Name, rel.Name,
						"no foreign key on %q references %q", table.Name, target.Name)
				}
			}
		}
		if table.Tenant != "" {
			f, ok := table.Field(table.Tenant)
			if !ok || f.IsRelation() {
				b.errorf(KindUnresolvedReference, nil, table.Name, "",
					"@tenant column %q is not a column of %q", table.Tenant, table.Name)
			}
		}
	}
}
