package qir

import (
	"fmt"
	"strconv"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"

	"github.com/leapstack-labs/schemac/pkg/ir"
)

// DefaultIdentityVar is the reserved variable name carrying the
// caller-identity token.
const DefaultIdentityVar = "viewer"

// VarInfo describes one declared operation parameter.
type VarInfo struct {
	Type ir.ScalarType
	List bool
}

// SQLType returns the SQL type the parameter binds as.
func (v VarInfo) SQLType() string {
	t := v.Type.SQLType()
	if v.List {
		t += "[]"
	}
	return t
}

// Compiled is the result of compiling one operation: its plan plus the
// declared parameters the plan references. Final parameter order is fixed
// by the SQL printer at render time, by first textual occurrence.
type Compiled struct {
	Name   string
	Root   *ir.Table
	Plan   *QueryPlan
	Params map[string]VarInfo

	// Identity carries the inferred type of the caller-identity token
	// when the plan references it, nil otherwise.
	Identity *VarInfo
}

// Options configures operation compilation.
type Options struct {
	// IdentityVar is the reserved variable name for the caller-identity
	// token. Defaults to DefaultIdentityVar.
	IdentityVar string
}

// Compiler compiles parsed operations against one schema.
type Compiler struct {
	schema      *ir.Schema
	identityVar string
}

// NewCompiler returns a compiler for the schema.
func NewCompiler(schema *ir.Schema, opts Options) *Compiler {
	identity := opts.IdentityVar
	if identity == "" {
		identity = DefaultIdentityVar
	}
	return &Compiler{schema: schema, identityVar: identity}
}

// ParseOperations parses an executable document into its named query
// operations.
func ParseOperations(source string) ([]*ast.OperationDefinition, error) {
	doc, err := parser.ParseQuery(&ast.Source{Name: "operations", Input: source})
	if err != nil {
		return nil, err
	}
	ops := make([]*ast.OperationDefinition, 0, len(doc.Operations))
	for _, op := range doc.Operations {
		if op.Operation != ast.Query {
			return nil, &Error{Kind: InvalidArgument, Op: op.Name,
				Message: fmt.Sprintf("unsupported operation type %q", op.Operation)}
		}
		if op.Name == "" {
			return nil, &Error{Kind: InvalidArgument, Message: "operations must be named"}
		}
		ops = append(ops, op)
	}
	return ops, nil
}

// Compile builds the query plan for one operation.
func (c *Compiler) Compile(op *ast.OperationDefinition) (*Compiled, error) {
	s := &compile{
		c:       c,
		op:      op.Name,
		vars:    make(map[string]VarInfo),
		used:    make(map[string]VarInfo),
		aliases: make(map[string]int),
	}
	if err := s.declareVars(op.VariableDefinitions); err != nil {
		return nil, err
	}

	if len(op.SelectionSet) != 1 {
		return nil, &Error{Kind: InvalidArgument, Op: op.Name,
			Message: "operation must select exactly one root field"}
	}
	root, ok := op.SelectionSet[0].(*ast.Field)
	if !ok {
		return nil, &Error{Kind: InvalidArgument, Op: op.Name, Message: "fragments are not supported"}
	}
	table, ok := c.schema.Table(root.Name)
	if !ok {
		return nil, &Error{Kind: UnresolvedRoot, Op: op.Name,
			Message: fmt.Sprintf("unknown root field %q", root.Name)}
	}

	plan, err := s.buildRoot(table, root)
	if err != nil {
		return nil, err
	}
	return &Compiled{Name: op.Name, Root: table, Plan: plan, Params: s.used, Identity: s.identity}, nil
}

type compile struct {
	c        *Compiler
	op       string
	vars     map[string]VarInfo
	used     map[string]VarInfo
	aliases  map[string]int
	identity *VarInfo
}

func (s *compile) errf(kind ErrorKind, path, format string, args ...any) error {
	return &Error{Kind: kind, Op: s.op, Path: path, Message: fmt.Sprintf(format, args...)}
}

func (s *compile) declareVars(defs ast.VariableDefinitionList) error {
	for _, vd := range defs {
		if vd.Variable == s.c.identityVar {
			continue // reserved; typed from its use sites
		}
		typ := vd.Type
		info := VarInfo{}
		named := typ.NamedType
		if named == "" && typ.Elem != nil {
			info.List = true
			named = typ.Elem.NamedType
		}
		scalar, ok := ir.ScalarFromName(named)
		if !ok {
			return s.errf(UnknownVariable, "", "variable $%s has unsupported type %q", vd.Variable, named)
		}
		info.Type = scalar
		s.vars[vd.Variable] = info
	}
	return nil
}

// alias allocates a deterministic relation alias from the first letter of
// the name, suffixing on collision.
func (s *compile) alias(name string) string {
	base := "t"
	for _, r := range name {
		if r >= 'A' && r <= 'Z' {
			base = string(r + ('a' - 'A'))
			break
		}
		if r >= 'a' && r <= 'z' {
			base = string(r)
			break
		}
	}
	s.aliases[base]++
	if n := s.aliases[base]; n > 1 {
		return base + strconv.Itoa(n)
	}
	return base
}

// param resolves a variable reference against the declared parameters.
func (s *compile) param(name string, want ir.ScalarType, wantList bool, path string) (*ParamRef, error) {
	if name == s.c.identityVar {
		if s.identity == nil {
			s.identity = &VarInfo{Type: want}
		}
		return &ParamRef{Name: name, Type: want, Identity: true}, nil
	}
	info, ok := s.vars[name]
	if !ok {
		return nil, s.errf(UnknownVariable, path, "undeclared variable $%s", name)
	}
	if info.Type != want || info.List != wantList {
		return nil, s.errf(InvalidArgument, path,
			"variable $%s has type %s, expected %s", name, varTypeName(info), varTypeName(VarInfo{Type: want, List: wantList}))
	}
	s.used[name] = info
	return &ParamRef{Name: name, Type: info.Type, List: info.List}, nil
}

func varTypeName(v VarInfo) string {
	if v.List {
		return "[" + v.Type.String() + "]"
	}
	return v.Type.String()
}

type fieldArgs struct {
	where   *ast.Value
	orderBy *ast.Value
	limit   *ast.Value
	offset  *ast.Value
}

func (s *compile) splitArgs(field *ast.Field, path string) (fieldArgs, error) {
	var args fieldArgs
	for _, a := range field.Arguments {
		switch a.Name {
		case "where":
			args.where = a.Value
		case "orderBy":
			args.orderBy = a.Value
		case "limit":
			args.limit = a.Value
		case "offset":
			args.offset = a.Value
		default:
			return args, s.errf(InvalidArgument, path, "unknown argument %q", a.Name)
		}
	}
	return args, nil
}

func (s *compile) buildRoot(table *ir.Table, root *ast.Field) (*QueryPlan, error) {
	path := table.Name
	args, err := s.splitArgs(root, path)
	if err != nil {
		return nil, err
	}

	alias := s.alias(table.Name)
	plan := &QueryPlan{Root: &TableNode{Table: table, Alias: alias}}

	plan.Projection, err = s.buildProjection(plan, table, alias, root.SelectionSet, path)
	if err != nil {
		return nil, err
	}

	var preds []Predicate
	if table.Tenant != "" {
		col, _ := table.Field(table.Tenant)
		identity, err := s.param(s.c.identityVar, col.Scalar, false, path)
		if err != nil {
			return nil, err
		}
		preds = append(preds, &Compare{Op: OpEq, Left: &ColumnRef{Alias: alias, Column: col.SQLName()}, Right: identity})
	}
	if table.RLS != nil && table.RLS.Read != "" {
		preds = append(preds, &RawPredicate{SQL: table.RLS.Read})
	}
	if args.where != nil {
		filter, err := s.compileFilter(args.where, table, alias, path)
		if err != nil {
			return nil, err
		}
		preds = append(preds, filter)
	}
	switch len(preds) {
	case 0:
	case 1:
		plan.Where = preds[0]
	default:
		plan.Where = &And{Preds: preds}
	}

	plan.OrderBy, err = s.compileOrdering(args.orderBy, table, alias, path)
	if err != nil {
		return nil, err
	}
	plan.Limit, err = s.compilePageArg(args.limit, path)
	if err != nil {
		return nil, err
	}
	plan.Offset, err = s.compilePageArg(args.offset, path)
	if err != nil {
		return nil, err
	}
	return plan, nil
}

// buildProjection compiles a selection set into projection items,
// threading joins for one-to-one relations and laterals for one-to-many
// relations onto the plan's relation tree.
func (s *compile) buildProjection(plan *QueryPlan, table *ir.Table, alias string, selections ast.SelectionSet, path string) ([]ProjItem, error) {
	items := make([]ProjItem, 0, len(selections))
	for _, sel := range selections {
		field, ok := sel.(*ast.Field)
		if !ok {
			return nil, s.errf(InvalidArgument, path, "fragments are not supported")
		}
		fpath := path + "." + field.Name
		f, ok := table.Field(field.Name)
		if !ok {
			return nil, s.errf(UnresolvedField, fpath, "unknown field")
		}

		switch {
		case !f.IsRelation():
			if len(field.Arguments) > 0 {
				return nil, s.errf(InvalidArgument, fpath, "arguments are not allowed on scalar fields")
			}
			items = append(items, ProjItem{Alias: field.Alias, Expr: &ColumnRef{Alias: alias, Column: f.SQLName()}})

		case f.List:
			item, err := s.buildLateral(plan, table, alias, f, field, fpath)
			if err != nil {
				return nil, err
			}
			items = append(items, item)

		default:
			expr, err := s.buildOneToOne(plan, table, alias, f, field, fpath)
			if err != nil {
				return nil, err
			}
			items = append(items, ProjItem{Alias: field.Alias, Expr: expr})
		}
	}
	return items, nil
}

// buildOneToOne joins the target table and shapes the nested record as a
// json_build_object projection.
func (s *compile) buildOneToOne(plan *QueryPlan, table *ir.Table, alias string, f *ir.Field, field *ast.Field, path string) (Expr, error) {
	if len(field.Arguments) > 0 {
		return nil, s.errf(InvalidArgument, path, "arguments are not allowed on one-to-one relations")
	}
	target, _ := s.c.schema.Table(f.Relation)
	fk, _ := s.c.schema.ForeignKeyBetween(table, target)
	talias := s.alias(target.Name)

	plan.Root = &JoinNode{
		Left:  plan.Root,
		Kind:  JoinLeft,
		Right: &TableNode{Table: target, Alias: talias},
		On: &Compare{
			Op:    OpEq,
			Left:  &ColumnRef{Alias: talias, Column: refColumn(target, fk)},
			Right: &ColumnRef{Alias: alias, Column: fk.SQLName()},
		},
	}
	pairs, err := s.buildObject(plan, target, talias, field.SelectionSet, path)
	if err != nil {
		return nil, err
	}
	return &JSONBuildObject{Pairs: pairs}, nil
}

// buildObject compiles a nested selection into json_build_object pairs.
// One-to-one relations nest further joins; one-to-many relations nest
// laterals, each correlated to this level's alias.
func (s *compile) buildObject(plan *QueryPlan, table *ir.Table, alias string, selections ast.SelectionSet, path string) ([]JSONPair, error) {
	items, err := s.buildProjection(plan, table, alias, selections, path)
	if err != nil {
		return nil, err
	}
	pairs := make([]JSONPair, len(items))
	for i, it := range items {
		pairs[i] = JSONPair{Key: it.Alias, Value: it.Expr}
	}
	return pairs, nil
}

// buildLateral shapes a one-to-many relation as a correlated lateral child
// plan aggregating json records, avoiding join fan-out.
func (s *compile) buildLateral(plan *QueryPlan, table *ir.Table, alias string, f *ir.Field, field *ast.Field, path string) (ProjItem, error) {
	args, err := s.splitArgs(field, path)
	if err != nil {
		return ProjItem{}, err
	}
	if args.limit != nil || args.offset != nil {
		return ProjItem{}, s.errf(InvalidArgument, path, "limit and offset are not supported on nested lists")
	}

	target, _ := s.c.schema.Table(f.Relation)
	fk, _ := s.c.schema.ForeignKeyBetween(target, table)
	latAlias := s.alias(field.Alias)
	calias := s.alias(target.Name)

	child := &QueryPlan{Root: &TableNode{Table: target, Alias: calias}}
	pairs, err := s.buildObject(child, target, calias, field.SelectionSet, path)
	if err != nil {
		return ProjItem{}, err
	}

	correlation := &Compare{
		Op:    OpEq,
		Left:  &ColumnRef{Alias: calias, Column: fk.SQLName()},
		Right: &ColumnRef{Alias: alias, Column: refColumn(table, fk)},
	}
	if args.where != nil {
		filter, err := s.compileFilter(args.where, target, calias, path)
		if err != nil {
			return ProjItem{}, err
		}
		child.Where = &And{Preds: []Predicate{correlation, filter}}
	} else {
		child.Where = correlation
	}

	aggOrder, err := s.compileOrdering(args.orderBy, target, calias, path)
	if err != nil {
		return ProjItem{}, err
	}
	child.Projection = []ProjItem{{
		Alias: field.Alias,
		Expr:  &JSONAgg{Arg: &JSONBuildObject{Pairs: pairs}, OrderBy: aggOrder},
	}}

	plan.Root = &JoinNode{
		Left:  plan.Root,
		Kind:  JoinLateral,
		Right: &LateralNode{Plan: child, Alias: latAlias},
	}
	return ProjItem{Alias: field.Alias, Expr: &ColumnRef{Alias: latAlias, Column: field.Alias}}, nil
}

// compileOrdering compiles explicit ordering keys and guarantees a unique
// tie-breaker: when no requested key is a primary key or declared-unique
// column of the table, the primary key is appended so pagination is stable.
func (s *compile) compileOrdering(v *ast.Value, table *ir.Table, alias string, path string) ([]OrderKey, error) {
	var keys []OrderKey
	if v != nil {
		entries := []*ast.Value{v}
		if v.Kind == ast.ListValue {
			entries = entries[:0]
			for _, c := range v.Children {
				entries = append(entries, c.Value)
			}
		}
		for _, entry := range entries {
			key, err := s.compileOrderKey(entry, table, alias, path)
			if err != nil {
				return nil, err
			}
			keys = append(keys, key)
		}
	}

	if s.hasUniqueKey(keys, table, alias) {
		return keys, nil
	}
	pk := table.PrimaryKey()
	if len(pk) == 0 && len(table.UniqueFields()) == 0 {
		return nil, s.errf(NoUniqueKey, path,
			"table %q has no primary key or unique column for stable ordering", table.Name)
	}
	for _, f := range pk {
		keys = append(keys, OrderKey{Expr: &ColumnRef{Alias: alias, Column: f.SQLName()}})
	}
	return keys, nil
}

func (s *compile) compileOrderKey(v *ast.Value, table *ir.Table, alias string, path string) (OrderKey, error) {
	if v.Kind != ast.ObjectValue {
		return OrderKey{}, s.errf(InvalidArgument, path, "orderBy entries must be objects")
	}
	var key OrderKey
	var name string
	for _, c := range v.Children {
		switch c.Name {
		case "field":
			name = c.Value.Raw
		case "dir":
			switch c.Value.Raw {
			case "ASC":
			case "DESC":
				key.Desc = true
			default:
				return OrderKey{}, s.errf(InvalidArgument, path, "invalid order direction %q", c.Value.Raw)
			}
		default:
			return OrderKey{}, s.errf(InvalidArgument, path, "unknown orderBy key %q", c.Name)
		}
	}
	f, ok := table.Field(name)
	if !ok || f.IsRelation() {
		return OrderKey{}, s.errf(UnresolvedField, path+"."+name, "unknown order field")
	}
	key.Expr = &ColumnRef{Alias: alias, Column: f.SQLName()}
	return key, nil
}

// hasUniqueKey reports whether any ordering key is provably unique on the
// table: a single-column primary key or a declared-unique column.
func (s *compile) hasUniqueKey(keys []OrderKey, table *ir.Table, alias string) bool {
	unique := make(map[string]bool)
	for _, f := range table.UniqueFields() {
		unique[f.SQLName()] = true
	}
	for _, k := range keys {
		if col, ok := k.Expr.(*ColumnRef); ok && col.Alias == alias && unique[col.Column] {
			return true
		}
	}
	return false
}

// refColumn resolves a foreign key's referenced column to its SQL name on
// the referenced table.
func refColumn(target *ir.Table, fk *ir.Field) string {
	if f, ok := target.Field(fk.Ref.Field); ok {
		return f.SQLName()
	}
	return fk.Ref.Field
}

func (s *compile) compilePageArg(v *ast.Value, path string) (Expr, error) {
	if v == nil {
		return nil, nil
	}
	switch v.Kind {
	case ast.IntValue:
		return &Literal{Kind: LitNumber, Value: v.Raw}, nil
	case ast.Variable:
		return s.param(v.Raw, ir.ScalarInt, false, path)
	default:
		return nil, s.errf(InvalidArgument, path, "limit/offset must be an integer or variable")
	}
}
