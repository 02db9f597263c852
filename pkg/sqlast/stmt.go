package sqlast

// Stmt is the interface implemented by all statement nodes.
type Stmt interface {
	stmtNode()
}

// SelectItem is one projected column with an optional alias.
type SelectItem struct {
	Expr  Expr
	Alias string
}

// FromItem is a relation appearing in FROM or as a join source.
type FromItem interface {
	fromItem()
}

// TableRef names a table with an optional alias.
type TableRef struct {
	Name  string
	Alias string
}

func (*TableRef) fromItem() {}

// SubqueryRef is a parenthesized subselect with a mandatory alias.
type SubqueryRef struct {
	Select *SelectStmt
	Alias  string
}

func (*SubqueryRef) fromItem() {}

// JoinKind distinguishes join forms.
type JoinKind int

// JoinKind values.
const (
	JoinInner JoinKind = iota
	JoinLeft
	JoinLeftLateral
)

// Join is one join clause. A nil On renders as ON true, which is the
// normal form for correlated lateral joins.
type Join struct {
	Kind   JoinKind
	Source FromItem
	On     Expr
}

// SelectStmt represents a SELECT query.
type SelectStmt struct {
	Columns []SelectItem
	From    FromItem
	Joins   []Join
	Where   Expr
	OrderBy []OrderItem
	Limit   Expr
	Offset  Expr
}

func (*SelectStmt) stmtNode() {}

// CreateView represents CREATE [OR REPLACE] VIEW name AS select.
type CreateView struct {
	Name      string
	OrReplace bool
	Select    *SelectStmt
}

func (*CreateView) stmtNode() {}

// CreateFunction represents a parameterized set-returning SQL function.
// The printer orders the signature parameters by first occurrence of their
// placeholders in the rendered body, so positional $n references line up.
type CreateFunction struct {
	Name       string
	ParamTypes map[string]string // placeholder name -> SQL type
	Returns    string            // e.g. "SETOF json"
	Body       *SelectStmt
}

func (*CreateFunction) stmtNode() {}

// Assignment is one SET clause of an UPDATE.
type Assignment struct {
	Column string
	Value  Expr
}

// Update represents an UPDATE statement (used for migration backfills).
type Update struct {
	Table string
	Set   []Assignment
	Where Expr
}

func (*Update) stmtNode() {}
