package migrate

import (
	"sort"

	"github.com/leapstack-labs/schemac/pkg/dialect"
	"github.com/leapstack-labs/schemac/pkg/ir"
	"github.com/leapstack-labs/schemac/pkg/sqlast"
)

// Options configures migration planning.
type Options struct {
	// Dialect selects the target. Defaults to postgres.
	Dialect *dialect.Dialect
	// AllowDestructive permits contract-phase operations. Without it a
	// plan containing any destructive operation is rejected.
	AllowDestructive bool
}

// Diff computes the phased migration plan turning the before schema into
// the after schema. Diffing a schema against itself yields an empty plan.
func Diff(before, after *ir.Schema, opts Options) (*Plan, error) {
	target := opts.Dialect
	if target == nil {
		target, _ = dialect.Get("postgres")
	}

	d := &differ{
		graph:      newGraph(),
		identity:   target.IdentityFunc,
		fkOnParent: make(map[string][]string),
	}
	for _, t := range after.Tables() {
		if old, ok := before.Table(t.Name); ok {
			d.diffTable(old, t)
		} else {
			d.createTable(t)
		}
	}
	for _, t := range before.Tables() {
		if _, ok := after.Table(t.Name); !ok {
			d.dropTable(before, after, t)
		}
	}
	if d.err != nil {
		return nil, d.err
	}

	sorted, err := d.graph.sorted()
	if err != nil {
		return nil, err
	}
	plan := &Plan{}
	for ph := PhaseExpand; ph <= PhaseContract; ph++ {
		for _, op := range sorted {
			if op.Phase == ph {
				plan.Ops = append(plan.Ops, op)
			}
		}
	}

	if !opts.AllowDestructive {
		var changes []string
		for _, op := range plan.Ops {
			if op.Destructive {
				changes = append(changes, op.ID)
			}
		}
		if len(changes) > 0 {
			return nil, &BreakingChangeError{Changes: changes, Plan: plan}
		}
	}
	return plan, nil
}

type differ struct {
	graph    *graph
	identity string
	err      error

	// fkOnParent maps a referenced table name to the drop-constraint op
	// IDs removing foreign keys that point at it, so table drops can be
	// sequenced after them.
	fkOnParent map[string][]string
}

func (d *differ) fail(err error) {
	if d.err == nil {
		d.err = err
	}
}

func (d *differ) op(id string, kind OpKind, stmt sqlast.Stmt, destructive bool, deps ...string) {
	op := &Operation{
		ID:          id,
		Kind:        kind,
		Phase:       opPhases[kind],
		Lock:        opLocks[kind],
		Stmt:        stmt,
		DependsOn:   deps,
		Destructive: destructive,
	}
	if err := d.graph.add(op); err != nil {
		d.fail(err)
		return
	}
	for _, dep := range deps {
		d.graph.edge(dep, id)
	}
}

func columnDef(f *ir.Field) sqlast.ColumnDef {
	return sqlast.ColumnDef{
		Name:    f.SQLName(),
		Type:    f.Scalar.SQLType(),
		NotNull: !f.Nullable,
		Default: f.Default,
		Check:   f.Check,
	}
}

// Constraint and index naming follows the postgres convention so planned
// names line up with what the engine would have generated.
func pkeyName(t *ir.Table) string { return t.SQLName() + "_pkey" }

func fkeyName(t *ir.Table, f *ir.Field) string { return t.SQLName() + "_" + f.SQLName() + "_fkey" }

func ukeyName(t *ir.Table, f *ir.Field) string { return t.SQLName() + "_" + f.SQLName() + "_key" }

func checkName(t *ir.Table, f *ir.Field) string {
	return t.SQLName() + "_" + f.SQLName() + "_check"
}

func indexName(t *ir.Table, f *ir.Field) string { return t.SQLName() + "_" + f.SQLName() + "_idx" }

func createTableID(name string) string { return "create_table:" + name }

// createTable plans a brand-new table: the CREATE TABLE with primary key
// inline, foreign keys as separate constraints sequenced after both ends
// exist, and row security and grants last.
func (d *differ) createTable(t *ir.Table) {
	name := t.SQLName()
	create := &sqlast.CreateTable{Name: name}
	for _, f := range t.Columns() {
		create.Columns = append(create.Columns, columnDef(f))
	}
	if pk := t.PrimaryKey(); len(pk) > 0 {
		cols := make([]string, len(pk))
		for i, f := range pk {
			cols[i] = f.SQLName()
		}
		create.Constraints = append(create.Constraints, sqlast.TableConstraint{
			Name:    pkeyName(t),
			Kind:    sqlast.ConstraintPrimaryKey,
			Columns: cols,
		})
	}
	for _, f := range t.Columns() {
		if f.Unique && !f.PrimaryKey {
			create.Constraints = append(create.Constraints, sqlast.TableConstraint{
				Name:    ukeyName(t, f),
				Kind:    sqlast.ConstraintUnique,
				Columns: []string{f.SQLName()},
			})
		}
	}
	createID := createTableID(name)
	d.op(createID, OpCreateTable, create, false)

	for _, f := range t.Columns() {
		if f.Ref == nil {
			continue
		}
		cname := fkeyName(t, f)
		d.op("add_constraint:"+cname, OpAddConstraint, &sqlast.AlterTable{
			Table:  name,
			Action: &sqlast.AddConstraint{Constraint: d.fkConstraint(t, f)},
		}, false, createID, createTableID(ir.NewTable(f.Ref.Table).SQLName()))
		d.op("create_index:"+indexName(t, f), OpCreateIndex, &sqlast.CreateIndex{
			Name:    indexName(t, f),
			Table:   name,
			Columns: []string{f.SQLName()},
		}, false, createID)
	}

	d.planRowSecurity(t, createID)
	for _, g := range t.Grants {
		d.op(grantID(t, g.Role), OpGrant, &sqlast.Grant{
			Privileges: g.Privileges,
			Table:      name,
			Role:       g.Role,
		}, false, createID)
	}
}

func (d *differ) fkConstraint(t *ir.Table, f *ir.Field) sqlast.TableConstraint {
	ref := ir.NewTable(f.Ref.Table)
	refCol := &ir.Field{Name: f.Ref.Field}
	return sqlast.TableConstraint{
		Name:       fkeyName(t, f),
		Kind:       sqlast.ConstraintForeignKey,
		Columns:    []string{f.SQLName()},
		RefTable:   ref.SQLName(),
		RefColumns: []string{refCol.SQLName()},
		OnDelete:   f.Ref.OnDelete,
	}
}

func grantID(t *ir.Table, role string) string { return "grant:" + t.SQLName() + "." + role }

// planRowSecurity emits ENABLE ROW LEVEL SECURITY plus the policies a
// table's rls and tenant directives imply.
func (d *differ) planRowSecurity(t *ir.Table, deps ...string) {
	want := d.policies(t)
	if len(want) == 0 {
		return
	}
	enableID := "enable_rls:" + t.SQLName()
	d.op(enableID, OpEnableRowSecurity, &sqlast.AlterTable{
		Table:  t.SQLName(),
		Action: &sqlast.EnableRowSecurity{},
	}, false, deps...)
	for _, pol := range want {
		d.op("create_policy:"+pol.Name, OpCreatePolicy, pol, false, enableID)
	}
}

// policies derives the desired policy set of a table: the tenancy
// predicate binds rows to the caller identity, and the rls directive's
// read and write predicates map to SELECT and ALL policies.
func (d *differ) policies(t *ir.Table) []*sqlast.CreatePolicy {
	name := t.SQLName()
	var out []*sqlast.CreatePolicy
	if t.Tenant != "" {
		col := t.Tenant
		if f, ok := t.Field(t.Tenant); ok {
			col = f.SQLName()
		}
		predicate := col + " = " + d.identity + "()"
		out = append(out, &sqlast.CreatePolicy{
			Name:      name + "_tenant",
			Table:     name,
			Using:     predicate,
			WithCheck: predicate,
		})
	}
	if t.RLS != nil && t.RLS.Read != "" {
		out = append(out, &sqlast.CreatePolicy{
			Name:    name + "_read",
			Table:   name,
			Command: "SELECT",
			Using:   t.RLS.Read,
		})
	}
	if t.RLS != nil && t.RLS.Write != "" {
		out = append(out, &sqlast.CreatePolicy{
			Name:      name + "_write",
			Table:     name,
			Command:   "ALL",
			WithCheck: t.RLS.Write,
		})
	}
	return out
}

// dropTable plans removal of a table, sequenced after the removal of any
// foreign keys that still point at it from surviving tables, and after
// drops of child tables that reference it.
func (d *differ) dropTable(before, after *ir.Schema, t *ir.Table) {
	name := t.SQLName()
	id := "drop_table:" + name
	d.op(id, OpDropTable, &sqlast.DropTable{Name: name}, true)

	for _, dep := range d.fkOnParent[t.Name] {
		d.graph.edge(dep, id)
	}
	for _, child := range before.Tables() {
		if child.Name == t.Name {
			continue
		}
		if _, survives := after.Table(child.Name); survives {
			continue
		}
		for _, f := range child.Columns() {
			if f.Ref != nil && f.Ref.Table == t.Name {
				d.graph.edge("drop_table:"+child.SQLName(), id)
			}
		}
	}
}

func (d *differ) diffTable(old, t *ir.Table) {
	for _, f := range t.Columns() {
		if prev, ok := old.Field(f.Name); ok && !prev.IsRelation() {
			d.diffColumn(t, prev, f)
		} else {
			d.addColumn(t, f)
		}
	}
	for _, f := range old.Columns() {
		if cur, ok := t.Field(f.Name); !ok || cur.IsRelation() {
			d.op("drop_column:"+t.SQLName()+"."+f.SQLName(), OpDropColumn, &sqlast.AlterTable{
				Table:  t.SQLName(),
				Action: &sqlast.DropColumn{Name: f.SQLName()},
			}, true)
		}
	}
	d.diffRowSecurity(old, t)
	d.diffGrants(old, t)
}

// addColumn plans a column addition on a populated table. A nullable
// column is a single expand step. A non-null column needs a default so
// existing rows can be backfilled without blocking writes: add with
// default, backfill in batches, then set NOT NULL once every row is
// covered.
func (d *differ) addColumn(t *ir.Table, f *ir.Field) {
	name := t.SQLName()
	col := f.SQLName()
	addID := "add_column:" + name + "." + col

	if f.Nullable {
		d.op(addID, OpAddColumn, &sqlast.AlterTable{
			Table:  name,
			Action: &sqlast.AddColumn{Column: columnDef(f)},
		}, false)
	} else {
		if f.Default == "" {
			d.fail(&PlanError{
				Object:  t.Name + "." + f.Name,
				Message: "adding a non-null column to an existing table requires a default for the backfill",
			})
			return
		}
		def := columnDef(f)
		def.NotNull = false
		d.op(addID, OpAddColumn, &sqlast.AlterTable{
			Table:  name,
			Action: &sqlast.AddColumn{Column: def},
		}, false)
		backfillID := "backfill:" + name + "." + col
		d.op(backfillID, OpBackfill, backfillStmt(name, col, f.Default), false, addID)
		d.op("set_not_null:"+name+"."+col, OpSetNotNull, &sqlast.AlterTable{
			Table:  name,
			Action: &sqlast.SetNotNull{Column: col},
		}, false, backfillID)
	}

	if f.Unique && !f.PrimaryKey {
		d.op("create_index:"+ukeyName(t, f), OpCreateIndex, &sqlast.CreateIndex{
			Name:       ukeyName(t, f),
			Table:      name,
			Columns:    []string{col},
			Unique:     true,
			Concurrent: true,
		}, false, addID)
	}
	if f.Ref != nil {
		d.addForeignKey(t, f, addID)
	}
}

func backfillStmt(table, column, defaultExpr string) *sqlast.Update {
	return &sqlast.Update{
		Table: table,
		Set:   []sqlast.Assignment{{Column: column, Value: &sqlast.RawExpr{SQL: defaultExpr}}},
		Where: &sqlast.IsNullExpr{Expr: &sqlast.ColumnRef{Column: column}},
	}
}

// addForeignKey plans a foreign key on a populated table: NOT VALID so
// the add takes only a metadata lock, then a separate validation scan,
// plus the supporting index built concurrently.
func (d *differ) addForeignKey(t *ir.Table, f *ir.Field, deps ...string) {
	cname := fkeyName(t, f)
	addID := "add_constraint:" + cname
	d.op(addID, OpAddConstraint, &sqlast.AlterTable{
		Table:  t.SQLName(),
		Action: &sqlast.AddConstraint{Constraint: d.fkConstraint(t, f), NotValid: true},
	}, false, append(deps, createTableID(ir.NewTable(f.Ref.Table).SQLName()))...)
	d.op("validate_constraint:"+cname, OpValidateConstraint, &sqlast.AlterTable{
		Table:  t.SQLName(),
		Action: &sqlast.ValidateConstraint{Name: cname},
	}, false, addID)
	d.op("create_index:"+indexName(t, f), OpCreateIndex, &sqlast.CreateIndex{
		Name:       indexName(t, f),
		Table:      t.SQLName(),
		Columns:    []string{f.SQLName()},
		Concurrent: true,
	}, false, deps...)
}

func (d *differ) dropForeignKey(t *ir.Table, f *ir.Field) {
	cname := fkeyName(t, f)
	id := "drop_constraint:" + cname
	d.op(id, OpDropConstraint, &sqlast.AlterTable{
		Table:  t.SQLName(),
		Action: &sqlast.DropConstraint{Name: cname},
	}, true)
	d.op("drop_index:"+indexName(t, f), OpDropIndex,
		&sqlast.DropIndex{Name: indexName(t, f)}, true)
	d.fkOnParent[f.Ref.Table] = append(d.fkOnParent[f.Ref.Table], id)
}

func (d *differ) diffColumn(t *ir.Table, old, f *ir.Field) {
	name := t.SQLName()
	col := f.SQLName()
	qualified := name + "." + col

	if old.Scalar.SQLType() != f.Scalar.SQLType() {
		d.op("alter_type:"+qualified, OpAlterColumnType, &sqlast.AlterTable{
			Table:  name,
			Action: &sqlast.AlterColumnType{Column: col, Type: f.Scalar.SQLType()},
		}, true)
	}

	switch {
	case !old.Nullable && f.Nullable:
		d.op("drop_not_null:"+qualified, OpDropNotNull, &sqlast.AlterTable{
			Table:  name,
			Action: &sqlast.DropNotNull{Column: col},
		}, false)
	case old.Nullable && !f.Nullable:
		if f.Default == "" {
			d.fail(&PlanError{
				Object:  t.Name + "." + f.Name,
				Message: "making a column non-null requires a default for the backfill",
			})
			return
		}
		backfillID := "backfill:" + qualified
		d.op(backfillID, OpBackfill, backfillStmt(name, col, f.Default), false)
		d.op("set_not_null:"+qualified, OpSetNotNull, &sqlast.AlterTable{
			Table:  name,
			Action: &sqlast.SetNotNull{Column: col},
		}, false, backfillID)
	}

	if old.Default != f.Default {
		if f.Default == "" {
			d.op("drop_default:"+qualified, OpDropDefault, &sqlast.AlterTable{
				Table:  name,
				Action: &sqlast.DropDefault{Column: col},
			}, false)
		} else {
			d.op("set_default:"+qualified, OpSetDefault, &sqlast.AlterTable{
				Table:  name,
				Action: &sqlast.SetDefault{Column: col, Default: f.Default},
			}, false)
		}
	}

	if old.Check != f.Check {
		cname := checkName(t, f)
		if old.Check != "" {
			d.op("drop_constraint:"+cname, OpDropConstraint, &sqlast.AlterTable{
				Table:  name,
				Action: &sqlast.DropConstraint{Name: cname},
			}, true)
		}
		if f.Check != "" {
			addID := "add_constraint:" + cname
			d.op(addID, OpAddConstraint, &sqlast.AlterTable{
				Table: name,
				Action: &sqlast.AddConstraint{
					Constraint: sqlast.TableConstraint{
						Name: cname,
						Kind: sqlast.ConstraintCheck,
						Expr: f.Check,
					},
					NotValid: true,
				},
			}, false)
			d.op("validate_constraint:"+cname, OpValidateConstraint, &sqlast.AlterTable{
				Table:  name,
				Action: &sqlast.ValidateConstraint{Name: cname},
			}, false, addID)
		}
	}

	uniqueBefore := old.Unique && !old.PrimaryKey
	uniqueAfter := f.Unique && !f.PrimaryKey
	if !uniqueBefore && uniqueAfter {
		d.op("create_index:"+ukeyName(t, f), OpCreateIndex, &sqlast.CreateIndex{
			Name:       ukeyName(t, f),
			Table:      name,
			Columns:    []string{col},
			Unique:     true,
			Concurrent: true,
		}, false)
	} else if uniqueBefore && !uniqueAfter {
		d.op("drop_index:"+ukeyName(t, f), OpDropIndex,
			&sqlast.DropIndex{Name: ukeyName(t, f)}, true)
	}

	switch {
	case old.Ref == nil && f.Ref != nil:
		d.addForeignKey(t, f)
	case old.Ref != nil && f.Ref == nil:
		d.dropForeignKey(t, old)
	case old.Ref != nil && f.Ref != nil && *old.Ref != *f.Ref:
		d.dropForeignKey(t, old)
		d.addForeignKey(t, f)
	}
}

func (d *differ) diffRowSecurity(old, t *ir.Table) {
	before := policySet(d.policies(old))
	after := d.policies(t)

	if len(before) == 0 && len(after) > 0 {
		d.planRowSecurity(t)
		return
	}
	for _, pol := range after {
		prev, ok := before[pol.Name]
		if ok && *prev == *pol {
			delete(before, pol.Name)
			continue
		}
		if ok {
			dropID := "drop_policy:" + pol.Name
			d.op(dropID, OpDropPolicy, &sqlast.DropPolicy{Name: pol.Name, Table: t.SQLName()}, false)
			d.op("create_policy:"+pol.Name, OpCreatePolicy, pol, false, dropID)
			delete(before, pol.Name)
			continue
		}
		d.op("create_policy:"+pol.Name, OpCreatePolicy, pol, false)
	}
	stale := make([]string, 0, len(before))
	for name := range before {
		stale = append(stale, name)
	}
	sort.Strings(stale)
	for _, name := range stale {
		d.op("drop_policy:"+name, OpDropPolicy, &sqlast.DropPolicy{Name: name, Table: t.SQLName()}, false)
	}
}

func policySet(pols []*sqlast.CreatePolicy) map[string]*sqlast.CreatePolicy {
	m := make(map[string]*sqlast.CreatePolicy, len(pols))
	for _, p := range pols {
		m[p.Name] = p
	}
	return m
}

func (d *differ) diffGrants(old, t *ir.Table) {
	before := make(map[string][]string, len(old.Grants))
	for _, g := range old.Grants {
		before[g.Role] = g.Privileges
	}
	for _, g := range t.Grants {
		prev, ok := before[g.Role]
		if ok && equalStrings(prev, g.Privileges) {
			delete(before, g.Role)
			continue
		}
		if ok {
			revokeID := "revoke:" + t.SQLName() + "." + g.Role
			d.op(revokeID, OpRevoke, &sqlast.Revoke{
				Privileges: prev,
				Table:      t.SQLName(),
				Role:       g.Role,
			}, false)
			d.op(grantID(t, g.Role), OpGrant, &sqlast.Grant{
				Privileges: g.Privileges,
				Table:      t.SQLName(),
				Role:       g.Role,
			}, false, revokeID)
			delete(before, g.Role)
			continue
		}
		d.op(grantID(t, g.Role), OpGrant, &sqlast.Grant{
			Privileges: g.Privileges,
			Table:      t.SQLName(),
			Role:       g.Role,
		}, false)
	}
	stale := make([]string, 0, len(before))
	for role := range before {
		stale = append(stale, role)
	}
	sort.Strings(stale)
	for _, role := range stale {
		d.op("revoke:"+t.SQLName()+"."+role, OpRevoke, &sqlast.Revoke{
			Privileges: before[role],
			Table:      t.SQLName(),
			Role:       role,
		}, false)
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
