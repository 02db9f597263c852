// Package sqlast provides a small SQL expression/statement tree and a
// printer that renders it to text with identifier quoting, literal
// escaping, and stable positional placeholder numbering.
package sqlast

// Expr is the interface implemented by all expression nodes.
type Expr interface {
	exprNode()
}

// ColumnRef represents a column reference (possibly qualified).
type ColumnRef struct {
	Table  string // optional table/alias qualifier
	Column string
}

func (*ColumnRef) exprNode() {}

// Placeholder represents a bound parameter. The printer assigns positional
// numbers in first-occurrence order; references to the same name share one
// position.
type Placeholder struct {
	Name string
}

func (*Placeholder) exprNode() {}

// Literal represents a compiler-known constant. Values originating from
// request input must never be carried here; they go through Placeholder.
type Literal struct {
	Type  LiteralType
	Value string
}

func (*Literal) exprNode() {}

// LiteralType represents the type of a literal.
type LiteralType int

// LiteralType constants for SQL literal value types.
const (
	LiteralNumber LiteralType = iota
	LiteralString
	LiteralBool
	LiteralNull
)

// BinaryExpr represents a binary expression.
type BinaryExpr struct {
	Left  Expr
	Op    string // =, <>, <, <=, >, >=, ILIKE, LIKE, AND, OR, ||
	Right Expr
}

func (*BinaryExpr) exprNode() {}

// UnaryExpr represents a prefix unary expression (NOT).
type UnaryExpr struct {
	Op   string
	Expr Expr
}

func (*UnaryExpr) exprNode() {}

// ParenExpr represents a parenthesized expression.
type ParenExpr struct {
	Expr Expr
}

func (*ParenExpr) exprNode() {}

// FuncCall represents a function call.
type FuncCall struct {
	Name string // rendered verbatim; may be schema-qualified
	Args []Expr
}

func (*FuncCall) exprNode() {}

// JSONPair is one key/value entry of a JSONBuildObject.
type JSONPair struct {
	Key   string
	Value Expr
}

// JSONBuildObject represents json_build_object('k1', v1, ...).
type JSONBuildObject struct {
	Pairs []JSONPair
}

func (*JSONBuildObject) exprNode() {}

// JSONAgg represents json_agg(arg ORDER BY ...) wrapped in coalesce so an
// empty group yields '[]' instead of NULL.
type JSONAgg struct {
	Arg     Expr
	OrderBy []OrderItem
}

func (*JSONAgg) exprNode() {}

// ScalarSubquery represents a parenthesized subquery used as a value.
type ScalarSubquery struct {
	Select *SelectStmt
}

func (*ScalarSubquery) exprNode() {}

// ExistsExpr represents [NOT] EXISTS (SELECT ...).
type ExistsExpr struct {
	Not    bool
	Select *SelectStmt
}

func (*ExistsExpr) exprNode() {}

// RawExpr carries schema-author SQL text (row-security predicates, check
// expressions) rendered verbatim. It must never carry request values.
type RawExpr struct {
	SQL string
}

func (*RawExpr) exprNode() {}

// IsNullExpr represents expr IS [NOT] NULL.
type IsNullExpr struct {
	Expr Expr
	Not  bool
}

func (*IsNullExpr) exprNode() {}

// OrderItem is one ORDER BY key.
type OrderItem struct {
	Expr Expr
	Desc bool
}
