// Package qir compiles declarative operation definitions into relational
// query plans and lowers those plans to the SQL AST. Plans are immutable
// value trees built once per compile; nested lists are owned child plans,
// never pointers into a shared graph.
package qir

import "github.com/leapstack-labs/schemac/pkg/ir"

// RelationNode is a relation appearing in a plan.
type RelationNode interface {
	relationNode()
}

// TableNode is a base table scan with an alias.
type TableNode struct {
	Table *ir.Table
	Alias string
}

func (*TableNode) relationNode() {}

// JoinKind distinguishes plan join forms.
type JoinKind int

// JoinKind values.
const (
	JoinInner JoinKind = iota
	JoinLeft
	JoinLateral
)

// JoinNode combines two relations. On is nil for lateral joins, whose
// correlation lives inside the child plan.
type JoinNode struct {
	Left  RelationNode
	Kind  JoinKind
	Right RelationNode
	On    Predicate
}

func (*JoinNode) relationNode() {}

// SubqueryNode is a derived table.
type SubqueryNode struct {
	Plan  *QueryPlan
	Alias string
}

func (*SubqueryNode) relationNode() {}

// LateralNode is a correlated subquery joined per outer row, used to shape
// one-to-many nesting without row multiplication.
type LateralNode struct {
	Plan  *QueryPlan
	Alias string
}

func (*LateralNode) relationNode() {}

// ProjItem is one named projection expression.
type ProjItem struct {
	Alias string
	Expr  Expr
}

// OrderKey is one ordering key.
type OrderKey struct {
	Expr Expr
	Desc bool
}

// QueryPlan is the relational plan an operation compiles to before SQL
// lowering.
type QueryPlan struct {
	Root       RelationNode
	Projection []ProjItem
	Where      Predicate
	OrderBy    []OrderKey
	Limit      Expr
	Offset     Expr
}

// Expr is the closed set of plan expressions. The lowering stage handles
// every variant explicitly.
type Expr interface {
	exprNode()
}

// ColumnRef references a column through a relation alias.
type ColumnRef struct {
	Alias  string
	Column string
}

func (*ColumnRef) exprNode() {}

// ParamRef is a named parameter. Identity marks the caller-identity token,
// which some targets compile to a zero-argument function call instead of a
// bound parameter.
type ParamRef struct {
	Name     string
	Type     ir.ScalarType
	List     bool
	Identity bool
}

func (*ParamRef) exprNode() {}

// LitKind classifies literal values.
type LitKind int

// LitKind values.
const (
	LitNumber LitKind = iota
	LitString
	LitBool
	LitNull
)

// Literal is a compiler-known constant.
type Literal struct {
	Kind  LitKind
	Value string
}

func (*Literal) exprNode() {}

// FuncCall is a function invocation.
type FuncCall struct {
	Name string
	Args []Expr
}

func (*FuncCall) exprNode() {}

// JSONPair is one key of a JSONBuildObject.
type JSONPair struct {
	Key   string
	Value Expr
}

// JSONBuildObject shapes a nested record.
type JSONBuildObject struct {
	Pairs []JSONPair
}

func (*JSONBuildObject) exprNode() {}

// JSONAgg aggregates nested records into an ordered JSON array.
type JSONAgg struct {
	Arg     Expr
	OrderBy []OrderKey
}

func (*JSONAgg) exprNode() {}

// ScalarSubquery embeds a child plan producing a single value.
type ScalarSubquery struct {
	Plan *QueryPlan
}

func (*ScalarSubquery) exprNode() {}

// Predicate is the closed set of filter tree nodes.
type Predicate interface {
	predicateNode()
}

// And is a conjunction.
type And struct {
	Preds []Predicate
}

func (*And) predicateNode() {}

// Or is a disjunction.
type Or struct {
	Preds []Predicate
}

func (*Or) predicateNode() {}

// Not negates a predicate.
type Not struct {
	Pred Predicate
}

func (*Not) predicateNode() {}

// RawPredicate carries a schema-author row-security predicate verbatim.
// It never carries request values.
type RawPredicate struct {
	SQL string
}

func (*RawPredicate) predicateNode() {}

// CompareOp is the fixed comparison operator set.
type CompareOp int

// CompareOp values.
const (
	OpEq CompareOp = iota
	OpNe
	OpLt
	OpLte
	OpGt
	OpGte
	OpILike
	OpContains
	OpIn
)

var compareOpNames = map[string]CompareOp{
	"eq": OpEq, "ne": OpNe,
	"lt": OpLt, "lte": OpLte,
	"gt": OpGt, "gte": OpGte,
	"ilike": OpILike, "contains": OpContains, "in": OpIn,
}

// Compare is a binary comparison.
type Compare struct {
	Op    CompareOp
	Left  Expr
	Right Expr
}

func (*Compare) predicateNode() {}

// Exists wraps a correlated child plan. List-relation quantifiers compile
// to it: some = EXISTS, none = NOT EXISTS, every = NOT EXISTS with the
// negated filter.
type Exists struct {
	Plan *QueryPlan
}

func (*Exists) predicateNode() {}
