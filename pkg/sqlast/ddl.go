package sqlast

// ColumnDef defines one column of a CREATE TABLE or ADD COLUMN.
type ColumnDef struct {
	Name    string
	Type    string
	NotNull bool
	Default string // raw SQL expression, empty for none
	Check   string // raw SQL expression, empty for none
}

// ConstraintKind distinguishes table constraint forms.
type ConstraintKind int

// ConstraintKind values.
const (
	ConstraintPrimaryKey ConstraintKind = iota
	ConstraintForeignKey
	ConstraintUnique
	ConstraintCheck
)

// TableConstraint is a named table-level constraint.
type TableConstraint struct {
	Name       string
	Kind       ConstraintKind
	Columns    []string
	RefTable   string   // foreign key target
	RefColumns []string // foreign key target columns
	OnDelete   string   // e.g. "CASCADE", empty for default
	Expr       string   // raw check expression
}

// CreateTable represents a CREATE TABLE statement.
type CreateTable struct {
	Name        string
	Columns     []ColumnDef
	Constraints []TableConstraint
}

func (*CreateTable) stmtNode() {}

// DropTable represents DROP TABLE.
type DropTable struct {
	Name string
}

func (*DropTable) stmtNode() {}

// AlterAction is one action of an ALTER TABLE statement.
type AlterAction interface {
	alterAction()
}

// AddColumn adds a column.
type AddColumn struct {
	Column ColumnDef
}

func (*AddColumn) alterAction() {}

// DropColumn drops a column.
type DropColumn struct {
	Name string
}

func (*DropColumn) alterAction() {}

// SetNotNull marks a column NOT NULL.
type SetNotNull struct {
	Column string
}

func (*SetNotNull) alterAction() {}

// DropNotNull removes a NOT NULL marker.
type DropNotNull struct {
	Column string
}

func (*DropNotNull) alterAction() {}

// SetDefault sets a column default.
type SetDefault struct {
	Column  string
	Default string // raw SQL expression
}

func (*SetDefault) alterAction() {}

// DropDefault removes a column default.
type DropDefault struct {
	Column string
}

func (*DropDefault) alterAction() {}

// AlterColumnType changes a column's type.
type AlterColumnType struct {
	Column string
	Type   string
}

func (*AlterColumnType) alterAction() {}

// AddConstraint adds a table constraint, optionally NOT VALID so existing
// rows are not scanned under lock.
type AddConstraint struct {
	Constraint TableConstraint
	NotValid   bool
}

func (*AddConstraint) alterAction() {}

// ValidateConstraint validates a previously NOT VALID constraint.
type ValidateConstraint struct {
	Name string
}

func (*ValidateConstraint) alterAction() {}

// DropConstraint drops a table constraint.
type DropConstraint struct {
	Name string
}

func (*DropConstraint) alterAction() {}

// EnableRowSecurity enables row-level security on the table.
type EnableRowSecurity struct{}

func (*EnableRowSecurity) alterAction() {}

// AlterTable represents ALTER TABLE with a single action.
type AlterTable struct {
	Table  string
	Action AlterAction
}

func (*AlterTable) stmtNode() {}

// CreateIndex represents CREATE [UNIQUE] INDEX [CONCURRENTLY].
type CreateIndex struct {
	Name       string
	Table      string
	Columns    []string
	Unique     bool
	Concurrent bool
}

func (*CreateIndex) stmtNode() {}

// DropIndex represents DROP INDEX.
type DropIndex struct {
	Name string
}

func (*DropIndex) stmtNode() {}

// CreatePolicy represents CREATE POLICY for row-level security.
type CreatePolicy struct {
	Name      string
	Table     string
	Command   string // SELECT, INSERT, UPDATE, DELETE or ALL
	Using     string // raw predicate, empty for none
	WithCheck string // raw predicate, empty for none
}

func (*CreatePolicy) stmtNode() {}

// DropPolicy represents DROP POLICY name ON table.
type DropPolicy struct {
	Name  string
	Table string
}

func (*DropPolicy) stmtNode() {}

// Grant represents GRANT privileges ON table TO role.
type Grant struct {
	Privileges []string
	Table      string
	Role       string
}

func (*Grant) stmtNode() {}

// Revoke represents REVOKE privileges ON table FROM role.
type Revoke struct {
	Privileges []string
	Table      string
	Role       string
}

func (*Revoke) stmtNode() {}
