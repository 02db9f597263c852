package qir

import (
	"github.com/vektah/gqlparser/v2/ast"

	"github.com/leapstack-labs/schemac/pkg/ir"
)

// compileFilter compiles a where object against a table into a predicate
// tree. Sibling keys conjoin. Relation keys compile to correlated
// existence tests against the related table.
func (s *compile) compileFilter(v *ast.Value, table *ir.Table, alias string, path string) (Predicate, error) {
	if v.Kind != ast.ObjectValue {
		return nil, s.errf(InvalidArgument, path, "where must be an object")
	}
	var preds []Predicate
	for _, child := range v.Children {
		p, err := s.compileFilterKey(child, table, alias, path)
		if err != nil {
			return nil, err
		}
		preds = append(preds, p)
	}
	if len(preds) == 0 {
		return nil, s.errf(InvalidArgument, path, "where must not be empty")
	}
	if len(preds) == 1 {
		return preds[0], nil
	}
	return &And{Preds: preds}, nil
}

func (s *compile) compileFilterKey(child *ast.ChildValue, table *ir.Table, alias string, path string) (Predicate, error) {
	switch child.Name {
	case "_and", "_or":
		if child.Value.Kind != ast.ListValue {
			return nil, s.errf(InvalidArgument, path, "%s must be a list of where objects", child.Name)
		}
		var preds []Predicate
		for _, c := range child.Value.Children {
			p, err := s.compileFilter(c.Value, table, alias, path)
			if err != nil {
				return nil, err
			}
			preds = append(preds, p)
		}
		if len(preds) == 0 {
			return nil, s.errf(InvalidArgument, path, "%s must not be empty", child.Name)
		}
		if child.Name == "_and" {
			return &And{Preds: preds}, nil
		}
		return &Or{Preds: preds}, nil

	case "_not":
		p, err := s.compileFilter(child.Value, table, alias, path)
		if err != nil {
			return nil, err
		}
		return &Not{Pred: p}, nil
	}

	fpath := path + "." + child.Name
	f, ok := table.Field(child.Name)
	if !ok {
		return nil, s.errf(UnresolvedField, fpath, "unknown field in where")
	}
	if f.IsRelation() {
		if f.List {
			return s.compileQuantifier(child.Value, table, alias, f, fpath)
		}
		return s.compileRelationFilter(child.Value, table, alias, f, fpath)
	}
	return s.compileFieldOps(child.Value, f, alias, fpath)
}

// compileFieldOps compiles the operator object of one scalar field. Every
// operator is checked against the field's type here; nothing is deferred
// to the database.
func (s *compile) compileFieldOps(v *ast.Value, f *ir.Field, alias string, path string) (Predicate, error) {
	if v.Kind != ast.ObjectValue {
		return nil, s.errf(InvalidArgument, path, "field filter must be an operator object")
	}
	col := &ColumnRef{Alias: alias, Column: f.SQLName()}
	var preds []Predicate
	for _, child := range v.Children {
		op, ok := compareOpNames[child.Name]
		if !ok {
			return nil, s.errf(InvalidArgument, path, "unknown operator %q", child.Name)
		}
		if (op == OpILike || op == OpContains) && !f.Scalar.Text() {
			return nil, s.errf(OperatorTypeMismatch, path,
				"operator %q requires a String field, got %s", child.Name, f.Scalar)
		}
		// A null operand is only meaningful as a null test; under any
		// other operator the comparison can never hold.
		if child.Value.Kind == ast.NullValue && op != OpEq && op != OpNe {
			return nil, s.errf(OperatorTypeMismatch, path,
				"operator %q does not accept null", child.Name)
		}
		if op == OpIn {
			p, err := s.compileIn(child.Value, f, col, path)
			if err != nil {
				return nil, err
			}
			preds = append(preds, p)
			continue
		}
		operand, err := s.operand(child.Value, f, path)
		if err != nil {
			return nil, err
		}
		preds = append(preds, &Compare{Op: op, Left: col, Right: operand})
	}
	if len(preds) == 0 {
		return nil, s.errf(InvalidArgument, path, "operator object must not be empty")
	}
	if len(preds) == 1 {
		return preds[0], nil
	}
	return &And{Preds: preds}, nil
}

// compileIn handles the in operator. A list variable binds as one array
// parameter; an inline literal list expands to a disjunction of equality
// tests, which keeps the expression set closed over scalars.
func (s *compile) compileIn(v *ast.Value, f *ir.Field, col *ColumnRef, path string) (Predicate, error) {
	switch v.Kind {
	case ast.Variable:
		param, err := s.param(v.Raw, f.Scalar, true, path)
		if err != nil {
			return nil, err
		}
		return &Compare{Op: OpIn, Left: col, Right: param}, nil
	case ast.ListValue:
		if len(v.Children) == 0 {
			return nil, s.errf(InvalidArgument, path, "in requires a non-empty list")
		}
		var preds []Predicate
		for _, c := range v.Children {
			operand, err := s.operand(c.Value, f, path)
			if err != nil {
				return nil, err
			}
			preds = append(preds, &Compare{Op: OpEq, Left: col, Right: operand})
		}
		if len(preds) == 1 {
			return preds[0], nil
		}
		return &Or{Preds: preds}, nil
	default:
		return nil, s.errf(InvalidArgument, path, "in requires a list value or list variable")
	}
}

// operand compiles a single comparison operand: a variable reference or an
// inline literal compatible with the field's type.
func (s *compile) operand(v *ast.Value, f *ir.Field, path string) (Expr, error) {
	switch v.Kind {
	case ast.Variable:
		return s.param(v.Raw, f.Scalar, false, path)
	case ast.IntValue:
		switch f.Scalar {
		case ir.ScalarID, ir.ScalarInt, ir.ScalarFloat:
			return &Literal{Kind: LitNumber, Value: v.Raw}, nil
		}
	case ast.FloatValue:
		if f.Scalar == ir.ScalarFloat {
			return &Literal{Kind: LitNumber, Value: v.Raw}, nil
		}
	case ast.StringValue:
		switch f.Scalar {
		case ir.ScalarString, ir.ScalarDateTime, ir.ScalarUUID:
			return &Literal{Kind: LitString, Value: v.Raw}, nil
		}
	case ast.BooleanValue:
		if f.Scalar == ir.ScalarBoolean {
			return &Literal{Kind: LitBool, Value: v.Raw}, nil
		}
	case ast.NullValue:
		return &Literal{Kind: LitNull}, nil
	default:
		return nil, s.errf(InvalidArgument, path, "unsupported operand")
	}
	return nil, s.errf(OperatorTypeMismatch, path, "operand is not assignable to %s", f.Scalar)
}

// compileQuantifier compiles a some/every/none object on a list relation
// into an existence test correlated on the foreign key.
func (s *compile) compileQuantifier(v *ast.Value, table *ir.Table, alias string, f *ir.Field, path string) (Predicate, error) {
	if v.Kind != ast.ObjectValue || len(v.Children) != 1 {
		return nil, s.errf(InvalidArgument, path, "list relation filter must hold exactly one quantifier")
	}
	q := v.Children[0]
	switch q.Name {
	case "some", "every", "none":
	default:
		return nil, s.errf(InvalidArgument, path, "unknown quantifier %q", q.Name)
	}

	target, _ := s.c.schema.Table(f.Relation)
	fk, _ := s.c.schema.ForeignKeyBetween(target, table)
	calias := s.alias(target.Name)

	correlation := Predicate(&Compare{
		Op:    OpEq,
		Left:  &ColumnRef{Alias: calias, Column: fk.SQLName()},
		Right: &ColumnRef{Alias: alias, Column: refColumn(table, fk)},
	})
	filter, err := s.compileFilter(q.Value, target, calias, path)
	if err != nil {
		return nil, err
	}

	var where Predicate
	switch q.Name {
	case "some":
		where = &And{Preds: []Predicate{correlation, filter}}
	case "none":
		where = &And{Preds: []Predicate{correlation, filter}}
	case "every":
		// every(p) holds when no related row violates p.
		where = &And{Preds: []Predicate{correlation, &Not{Pred: filter}}}
	}

	exists := &Exists{Plan: existsPlan(target, calias, where)}
	if q.Name == "some" {
		return exists, nil
	}
	return &Not{Pred: exists}, nil
}

// compileRelationFilter compiles a filter on a one-to-one relation into an
// existence test against the referenced row.
func (s *compile) compileRelationFilter(v *ast.Value, table *ir.Table, alias string, f *ir.Field, path string) (Predicate, error) {
	target, _ := s.c.schema.Table(f.Relation)
	fk, _ := s.c.schema.ForeignKeyBetween(table, target)
	calias := s.alias(target.Name)

	correlation := Predicate(&Compare{
		Op:    OpEq,
		Left:  &ColumnRef{Alias: calias, Column: refColumn(target, fk)},
		Right: &ColumnRef{Alias: alias, Column: fk.SQLName()},
	})
	filter, err := s.compileFilter(v, target, calias, path)
	if err != nil {
		return nil, err
	}
	return &Exists{Plan: existsPlan(target, calias, &And{Preds: []Predicate{correlation, filter}})}, nil
}

func existsPlan(target *ir.Table, alias string, where Predicate) *QueryPlan {
	return &QueryPlan{
		Root:       &TableNode{Table: target, Alias: alias},
		Projection: []ProjItem{{Expr: &Literal{Kind: LitNumber, Value: "1"}}},
		Where:      where,
	}
}
