package qir

import (
	"fmt"

	"github.com/leapstack-labs/schemac/pkg/dialect"
	"github.com/leapstack-labs/schemac/pkg/sqlast"
)

// Lowerer translates query plans into SQL statement trees for one dialect.
type Lowerer struct {
	Dialect      *dialect.Dialect
	IdentityMode dialect.IdentityMode
}

// Lower translates a plan into a SELECT statement.
func (l *Lowerer) Lower(plan *QueryPlan) (*sqlast.SelectStmt, error) {
	from, joins, err := l.lowerRelation(plan.Root)
	if err != nil {
		return nil, err
	}
	stmt := &sqlast.SelectStmt{From: from, Joins: joins}

	for _, item := range plan.Projection {
		expr, err := l.lowerExpr(item.Expr)
		if err != nil {
			return nil, err
		}
		stmt.Columns = append(stmt.Columns, sqlast.SelectItem{Expr: expr, Alias: item.Alias})
	}
	if plan.Where != nil {
		if stmt.Where, err = l.lowerPredicate(plan.Where); err != nil {
			return nil, err
		}
	}
	for _, key := range plan.OrderBy {
		item, err := l.lowerOrderKey(key)
		if err != nil {
			return nil, err
		}
		stmt.OrderBy = append(stmt.OrderBy, item)
	}
	if plan.Limit != nil {
		if stmt.Limit, err = l.lowerExpr(plan.Limit); err != nil {
			return nil, err
		}
	}
	if plan.Offset != nil {
		if stmt.Offset, err = l.lowerExpr(plan.Offset); err != nil {
			return nil, err
		}
	}
	return stmt, nil
}

// lowerRelation flattens the left-deep join tree into a FROM item plus an
// ordered join list.
func (l *Lowerer) lowerRelation(node RelationNode) (sqlast.FromItem, []sqlast.Join, error) {
	switch n := node.(type) {
	case *TableNode:
		return &sqlast.TableRef{Name: n.Table.SQLName(), Alias: n.Alias}, nil, nil

	case *SubqueryNode:
		sel, err := l.Lower(n.Plan)
		if err != nil {
			return nil, nil, err
		}
		return &sqlast.SubqueryRef{Select: sel, Alias: n.Alias}, nil, nil

	case *LateralNode:
		sel, err := l.Lower(n.Plan)
		if err != nil {
			return nil, nil, err
		}
		return &sqlast.SubqueryRef{Select: sel, Alias: n.Alias}, nil, nil

	case *JoinNode:
		from, joins, err := l.lowerRelation(n.Left)
		if err != nil {
			return nil, nil, err
		}
		source, extra, err := l.lowerRelation(n.Right)
		if err != nil {
			return nil, nil, err
		}
		if len(extra) > 0 {
			return nil, nil, fmt.Errorf("join right side must be a leaf relation")
		}
		join := sqlast.Join{Source: source}
		switch n.Kind {
		case JoinInner:
			join.Kind = sqlast.JoinInner
		case JoinLeft:
			join.Kind = sqlast.JoinLeft
		case JoinLateral:
			join.Kind = sqlast.JoinLeftLateral
		default:
			return nil, nil, fmt.Errorf("unhandled join kind %d", n.Kind)
		}
		if n.On != nil {
			if join.On, err = l.lowerPredicate(n.On); err != nil {
				return nil, nil, err
			}
		}
		return from, append(joins, join), nil

	default:
		return nil, nil, fmt.Errorf("unhandled relation node %T", node)
	}
}

func (l *Lowerer) lowerExpr(expr Expr) (sqlast.Expr, error) {
	switch e := expr.(type) {
	case *ColumnRef:
		return &sqlast.ColumnRef{Table: e.Alias, Column: e.Column}, nil

	case *ParamRef:
		if e.Identity && l.IdentityMode == dialect.IdentityFunction {
			return &sqlast.FuncCall{Name: l.Dialect.IdentityFunc}, nil
		}
		return &sqlast.Placeholder{Name: e.Name}, nil

	case *Literal:
		lit := &sqlast.Literal{Value: e.Value}
		switch e.Kind {
		case LitNumber:
			lit.Type = sqlast.LiteralNumber
		case LitString:
			lit.Type = sqlast.LiteralString
		case LitBool:
			lit.Type = sqlast.LiteralBool
		case LitNull:
			lit.Type = sqlast.LiteralNull
		default:
			return nil, fmt.Errorf("unhandled literal kind %d", e.Kind)
		}
		return lit, nil

	case *FuncCall:
		out := &sqlast.FuncCall{Name: e.Name}
		for _, arg := range e.Args {
			a, err := l.lowerExpr(arg)
			if err != nil {
				return nil, err
			}
			out.Args = append(out.Args, a)
		}
		return out, nil

	case *JSONBuildObject:
		out := &sqlast.JSONBuildObject{}
		for _, pair := range e.Pairs {
			v, err := l.lowerExpr(pair.Value)
			if err != nil {
				return nil, err
			}
			out.Pairs = append(out.Pairs, sqlast.JSONPair{Key: pair.Key, Value: v})
		}
		return out, nil

	case *JSONAgg:
		arg, err := l.lowerExpr(e.Arg)
		if err != nil {
			return nil, err
		}
		out := &sqlast.JSONAgg{Arg: arg}
		for _, key := range e.OrderBy {
			item, err := l.lowerOrderKey(key)
			if err != nil {
				return nil, err
			}
			out.OrderBy = append(out.OrderBy, item)
		}
		return out, nil

	case *ScalarSubquery:
		sel, err := l.Lower(e.Plan)
		if err != nil {
			return nil, err
		}
		return &sqlast.ScalarSubquery{Select: sel}, nil

	default:
		return nil, fmt.Errorf("unhandled expression %T", expr)
	}
}

func (l *Lowerer) lowerOrderKey(key OrderKey) (sqlast.OrderItem, error) {
	expr, err := l.lowerExpr(key.Expr)
	if err != nil {
		return sqlast.OrderItem{}, err
	}
	return sqlast.OrderItem{Expr: expr, Desc: key.Desc}, nil
}

func (l *Lowerer) lowerPredicate(pred Predicate) (sqlast.Expr, error) {
	switch p := pred.(type) {
	case *And:
		return l.lowerChain(p.Preds, "AND")

	case *Or:
		return l.lowerChain(p.Preds, "OR")

	case *Not:
		// NOT EXISTS renders as one token pair rather than NOT (...).
		if exists, ok := p.Pred.(*Exists); ok {
			sel, err := l.Lower(exists.Plan)
			if err != nil {
				return nil, err
			}
			return &sqlast.ExistsExpr{Not: true, Select: sel}, nil
		}
		inner, err := l.lowerPredicate(p.Pred)
		if err != nil {
			return nil, err
		}
		return &sqlast.UnaryExpr{Op: "NOT", Expr: &sqlast.ParenExpr{Expr: inner}}, nil

	case *Exists:
		sel, err := l.Lower(p.Plan)
		if err != nil {
			return nil, err
		}
		return &sqlast.ExistsExpr{Select: sel}, nil

	case *Compare:
		return l.lowerCompare(p)

	case *RawPredicate:
		return &sqlast.ParenExpr{Expr: &sqlast.RawExpr{SQL: p.SQL}}, nil

	default:
		return nil, fmt.Errorf("unhandled predicate %T", pred)
	}
}

// lowerChain folds a conjunction or disjunction left-associatively,
// parenthesizing compound children so the rendered text has explicit
// grouping.
func (l *Lowerer) lowerChain(preds []Predicate, op string) (sqlast.Expr, error) {
	var out sqlast.Expr
	for _, p := range preds {
		expr, err := l.lowerPredicate(p)
		if err != nil {
			return nil, err
		}
		if compound(p) {
			expr = &sqlast.ParenExpr{Expr: expr}
		}
		if out == nil {
			out = expr
			continue
		}
		out = &sqlast.BinaryExpr{Left: out, Op: op, Right: expr}
	}
	if out == nil {
		return nil, fmt.Errorf("empty %s chain", op)
	}
	return out, nil
}

func compound(p Predicate) bool {
	switch v := p.(type) {
	case *And:
		return len(v.Preds) > 1
	case *Or:
		return len(v.Preds) > 1
	}
	return false
}

var compareOps = map[CompareOp]string{
	OpEq:    "=",
	OpNe:    "<>",
	OpLt:    "<",
	OpLte:   "<=",
	OpGt:    ">",
	OpGte:   ">=",
	OpILike: "ILIKE",
}

func (l *Lowerer) lowerCompare(p *Compare) (sqlast.Expr, error) {
	left, err := l.lowerExpr(p.Left)
	if err != nil {
		return nil, err
	}
	right, err := l.lowerExpr(p.Right)
	if err != nil {
		return nil, err
	}

	// NULL comparisons use the IS forms so they actually match.
	if lit, ok := right.(*sqlast.Literal); ok && lit.Type == sqlast.LiteralNull {
		switch p.Op {
		case OpEq:
			return &sqlast.IsNullExpr{Expr: left}, nil
		case OpNe:
			return &sqlast.IsNullExpr{Expr: left, Not: true}, nil
		}
	}

	switch p.Op {
	case OpContains:
		pattern := &sqlast.BinaryExpr{
			Left:  &sqlast.BinaryExpr{Left: &sqlast.Literal{Type: sqlast.LiteralString, Value: "%"}, Op: "||", Right: right},
			Op:    "||",
			Right: &sqlast.Literal{Type: sqlast.LiteralString, Value: "%"},
		}
		return &sqlast.BinaryExpr{Left: left, Op: "LIKE", Right: pattern}, nil

	case OpIn:
		// Array parameter binding: col = ANY($n).
		return &sqlast.BinaryExpr{Left: left, Op: "=", Right: &sqlast.FuncCall{Name: "ANY", Args: []sqlast.Expr{right}}}, nil

	default:
		op, ok := compareOps[p.Op]
		if !ok {
			return nil, fmt.Errorf("unhandled comparison %d", p.Op)
		}
		return &sqlast.BinaryExpr{Left: left, Op: op, Right: right}, nil
	}
}
