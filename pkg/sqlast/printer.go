package sqlast

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/leapstack-labs/schemac/pkg/dialect"
)

// IdentifierError reports an identifier the dialect cannot carry. Emission
// fails loudly instead of truncating or renaming.
type IdentifierError struct {
	Name   string
	Reason string
}

func (e *IdentifierError) Error() string {
	return fmt.Sprintf("identifier %q: %s", e.Name, e.Reason)
}

// Printer renders statement trees to SQL text. Placeholders are numbered
// positionally in first-occurrence order of the rendered text; that order
// is the binding contract for callers.
type Printer struct {
	dialect  *dialect.Dialect
	output   *bytes.Buffer
	params   []string
	paramPos map[string]int
	err      error
}

// NewPrinter returns a printer for the given dialect. A printer covers one
// statement: placeholder numbering does not reset between calls.
func NewPrinter(d *dialect.Dialect) *Printer {
	return &Printer{
		dialect:  d,
		output:   &bytes.Buffer{},
		paramPos: make(map[string]int),
	}
}

// Print renders a single statement and returns its SQL text plus the
// placeholder names in positional order.
func Print(s Stmt, d *dialect.Dialect) (string, []string, error) {
	p := NewPrinter(d)
	p.printStmt(s)
	if p.err != nil {
		return "", nil, p.err
	}
	return p.output.String(), p.params, nil
}

// Params returns the placeholder names in positional order.
func (p *Printer) Params() []string { return p.params }

func (p *Printer) fail(err error) {
	if p.err == nil {
		p.err = err
	}
}

func (p *Printer) write(s string) {
	p.output.WriteString(s)
}

func (p *Printer) space() {
	p.output.WriteByte(' ')
}

func (p *Printer) keyword(s string) {
	p.write(strings.ToUpper(s))
}

// ident quotes an identifier when the dialect requires it and enforces the
// dialect's byte-length ceiling.
func (p *Printer) ident(name string) {
	if len(name) > p.dialect.MaxIdentLen {
		p.fail(&IdentifierError{
			Name:   name,
			Reason: fmt.Sprintf("exceeds %d-byte limit for dialect %s", p.dialect.MaxIdentLen, p.dialect.Name),
		})
		return
	}
	if p.dialect.NeedsQuoting(name) {
		p.write(`"` + strings.ReplaceAll(name, `"`, `""`) + `"`)
		return
	}
	p.write(name)
}

// placeholder writes the positional placeholder for a named parameter,
// assigning the next position on first occurrence.
func (p *Printer) placeholder(name string) {
	pos, ok := p.paramPos[name]
	if !ok {
		pos = len(p.params) + 1
		p.paramPos[name] = pos
		p.params = append(p.params, name)
	}
	fmt.Fprintf(p.output, "$%d", pos)
}

func (p *Printer) stringLiteral(s string) {
	p.write("'" + strings.ReplaceAll(s, "'", "''") + "'")
}

func (p *Printer) printExpr(e Expr) {
	switch x := e.(type) {
	case *ColumnRef:
		if x.Table != "" {
			p.ident(x.Table)
			p.write(".")
		}
		p.ident(x.Column)
	case *Placeholder:
		p.placeholder(x.Name)
	case *Literal:
		switch x.Type {
		case LiteralNull:
			p.keyword("NULL")
		case LiteralBool, LiteralNumber:
			p.write(x.Value)
		case LiteralString:
			p.stringLiteral(x.Value)
		}
	case *BinaryExpr:
		p.printExpr(x.Left)
		p.space()
		p.write(x.Op)
		p.space()
		p.printExpr(x.Right)
	case *UnaryExpr:
		p.write(x.Op)
		p.space()
		p.printExpr(x.Expr)
	case *ParenExpr:
		p.write("(")
		p.printExpr(x.Expr)
		p.write(")")
	case *FuncCall:
		p.write(x.Name)
		p.write("(")
		for i, a := range x.Args {
			if i > 0 {
				p.write(", ")
			}
			p.printExpr(a)
		}
		p.write(")")
	case *JSONBuildObject:
		p.write("json_build_object(")
		for i, pair := range x.Pairs {
			if i > 0 {
				p.write(", ")
			}
			p.stringLiteral(pair.Key)
			p.write(", ")
			p.printExpr(pair.Value)
		}
		p.write(")")
	case *JSONAgg:
		p.write("coalesce(json_agg(")
		p.printExpr(x.Arg)
		if len(x.OrderBy) > 0 {
			p.space()
			p.keyword("ORDER BY")
			p.space()
			p.printOrderItems(x.OrderBy)
		}
		p.write("), '[]'::json)")
	case *ScalarSubquery:
		p.write("(")
		p.printSelect(x.Select)
		p.write(")")
	case *ExistsExpr:
		if x.Not {
			p.keyword("NOT")
			p.space()
		}
		p.keyword("EXISTS")
		p.write(" (")
		p.printSelect(x.Select)
		p.write(")")
	case *IsNullExpr:
		p.printExpr(x.Expr)
		p.space()
		p.keyword("IS")
		p.space()
		if x.Not {
			p.keyword("NOT")
			p.space()
		}
		p.keyword("NULL")
	case *RawExpr:
		p.write(x.SQL)
	default:
		p.fail(fmt.Errorf("sqlast: unhandled expression %T", e))
	}
}

func (p *Printer) printOrderItems(items []OrderItem) {
	for i, it := range items {
		if i > 0 {
			p.write(", ")
		}
		p.printExpr(it.Expr)
		if it.Desc {
			p.space()
			p.keyword("DESC")
		}
	}
}

func (p *Printer) printFromItem(f FromItem) {
	switch x := f.(type) {
	case *TableRef:
		p.ident(x.Name)
		if x.Alias != "" {
			p.space()
			p.keyword("AS")
			p.space()
			p.ident(x.Alias)
		}
	case *SubqueryRef:
		p.write("(")
		p.printSelect(x.Select)
		p.write(")")
		p.space()
		p.keyword("AS")
		p.space()
		p.ident(x.Alias)
	default:
		p.fail(fmt.Errorf("sqlast: unhandled from item %T", f))
	}
}

func (p *Printer) printSelect(s *SelectStmt) {
	p.keyword("SELECT")
	p.space()
	for i, col := range s.Columns {
		if i > 0 {
			p.write(", ")
		}
		p.printExpr(col.Expr)
		if col.Alias != "" {
			p.space()
			p.keyword("AS")
			p.space()
			p.ident(col.Alias)
		}
	}
	if s.From != nil {
		p.space()
		p.keyword("FROM")
		p.space()
		p.printFromItem(s.From)
	}
	for _, j := range s.Joins {
		p.space()
		switch j.Kind {
		case JoinInner:
			p.keyword("JOIN")
		case JoinLeft:
			p.keyword("LEFT JOIN")
		case JoinLeftLateral:
			p.keyword("LEFT JOIN LATERAL")
		}
		p.space()
		p.printFromItem(j.Source)
		p.space()
		p.keyword("ON")
		p.space()
		if j.On == nil {
			p.write("true")
		} else {
			p.printExpr(j.On)
		}
	}
	if s.Where != nil {
		p.space()
		p.keyword("WHERE")
		p.space()
		p.printExpr(s.Where)
	}
	if len(s.OrderBy) > 0 {
		p.space()
		p.keyword("ORDER BY")
		p.space()
		p.printOrderItems(s.OrderBy)
	}
	if s.Limit != nil {
		p.space()
		p.keyword("LIMIT")
		p.space()
		p.printExpr(s.Limit)
	}
	if s.Offset != nil {
		p.space()
		p.keyword("OFFSET")
		p.space()
		p.printExpr(s.Offset)
	}
}

func (p *Printer) printStmt(s Stmt) {
	switch x := s.(type) {
	case *SelectStmt:
		p.printSelect(x)
	case *CreateView:
		p.printCreateView(x)
	case *CreateFunction:
		p.printCreateFunction(x)
	case *Update:
		p.printUpdate(x)
	case *CreateTable:
		p.printCreateTable(x)
	case *DropTable:
		p.keyword("DROP TABLE")
		p.space()
		p.ident(x.Name)
	case *AlterTable:
		p.printAlterTable(x)
	case *CreateIndex:
		p.printCreateIndex(x)
	case *DropIndex:
		p.keyword("DROP INDEX")
		p.space()
		p.ident(x.Name)
	case *CreatePolicy:
		p.printCreatePolicy(x)
	case *DropPolicy:
		p.keyword("DROP POLICY")
		p.space()
		p.ident(x.Name)
		p.space()
		p.keyword("ON")
		p.space()
		p.ident(x.Table)
	case *Grant:
		p.printGrant(x)
	case *Revoke:
		p.printRevoke(x)
	default:
		p.fail(fmt.Errorf("sqlast: unhandled statement %T", s))
		return
	}
	p.write(";")
}

func (p *Printer) printCreateView(v *CreateView) {
	p.keyword("CREATE")
	p.space()
	if v.OrReplace {
		p.keyword("OR REPLACE")
		p.space()
	}
	p.keyword("VIEW")
	p.space()
	p.ident(v.Name)
	p.space()
	p.keyword("AS")
	p.write("\n")
	p.printSelect(v.Select)
}

func (p *Printer) printCreateFunction(f *CreateFunction) {
	// The body fixes parameter order; render it first so the signature
	// lists parameters in the same positional order the body references.
	body := NewPrinter(p.dialect)
	body.printSelect(f.Body)
	if body.err != nil {
		p.fail(body.err)
		return
	}

	p.keyword("CREATE OR REPLACE FUNCTION")
	p.space()
	p.ident(f.Name)
	p.write("(")
	for i, name := range body.params {
		if i > 0 {
			p.write(", ")
		}
		p.ident(name)
		p.space()
		typ, ok := f.ParamTypes[name]
		if !ok {
			p.fail(fmt.Errorf("sqlast: no declared type for parameter %q", name))
			return
		}
		p.write(typ)
	}
	p.write(")")
	p.write("\n")
	p.keyword("RETURNS")
	p.space()
	p.write(f.Returns)
	p.write("\n")
	p.keyword("LANGUAGE SQL STABLE")
	p.write("\n")
	p.keyword("AS")
	p.write(" $$\n")
	p.write(body.output.String())
	p.write(";\n$$")
	p.params = body.params
	for name, pos := range body.paramPos {
		p.paramPos[name] = pos
	}
}

func (p *Printer) printUpdate(u *Update) {
	p.keyword("UPDATE")
	p.space()
	p.ident(u.Table)
	p.space()
	p.keyword("SET")
	p.space()
	for i, a := range u.Set {
		if i > 0 {
			p.write(", ")
		}
		p.ident(a.Column)
		p.write(" = ")
		p.printExpr(a.Value)
	}
	if u.Where != nil {
		p.space()
		p.keyword("WHERE")
		p.space()
		p.printExpr(u.Where)
	}
}

func (p *Printer) printColumnDef(c ColumnDef) {
	p.ident(c.Name)
	p.space()
	p.write(c.Type)
	if c.NotNull {
		p.space()
		p.keyword("NOT NULL")
	}
	if c.Default != "" {
		p.space()
		p.keyword("DEFAULT")
		p.space()
		p.write(c.Default)
	}
	if c.Check != "" {
		p.space()
		p.keyword("CHECK")
		p.write(" (")
		p.write(c.Check)
		p.write(")")
	}
}

func (p *Printer) printConstraint(c TableConstraint) {
	p.keyword("CONSTRAINT")
	p.space()
	p.ident(c.Name)
	p.space()
	switch c.Kind {
	case ConstraintPrimaryKey:
		p.keyword("PRIMARY KEY")
		p.printColumnList(c.Columns)
	case ConstraintUnique:
		p.keyword("UNIQUE")
		p.printColumnList(c.Columns)
	case ConstraintForeignKey:
		p.keyword("FOREIGN KEY")
		p.printColumnList(c.Columns)
		p.space()
		p.keyword("REFERENCES")
		p.space()
		p.ident(c.RefTable)
		p.printColumnList(c.RefColumns)
		if c.OnDelete != "" {
			p.space()
			p.keyword("ON DELETE")
			p.space()
			p.keyword(c.OnDelete)
		}
	case ConstraintCheck:
		p.keyword("CHECK")
		p.write(" (")
		p.write(c.Expr)
		p.write(")")
	}
}

func (p *Printer) printColumnList(cols []string) {
	p.write(" (")
	for i, c := range cols {
		if i > 0 {
			p.write(", ")
		}
		p.ident(c)
	}
	p.write(")")
}

func (p *Printer) printCreateTable(t *CreateTable) {
	p.keyword("CREATE TABLE")
	p.space()
	p.ident(t.Name)
	p.write(" (\n")
	for i, c := range t.Columns {
		if i > 0 {
			p.write(",\n")
		}
		p.write("  ")
		p.printColumnDef(c)
	}
	for _, c := range t.Constraints {
		p.write(",\n  ")
		p.printConstraint(c)
	}
	p.write("\n)")
}

func (p *Printer) printAlterTable(a *AlterTable) {
	p.keyword("ALTER TABLE")
	p.space()
	p.ident(a.Table)
	p.space()
	switch act := a.Action.(type) {
	case *AddColumn:
		p.keyword("ADD COLUMN")
		p.space()
		p.printColumnDef(act.Column)
	case *DropColumn:
		p.keyword("DROP COLUMN")
		p.space()
		p.ident(act.Name)
	case *SetNotNull:
		p.keyword("ALTER COLUMN")
		p.space()
		p.ident(act.Column)
		p.space()
		p.keyword("SET NOT NULL")
	case *DropNotNull:
		p.keyword("ALTER COLUMN")
		p.space()
		p.ident(act.Column)
		p.space()
		p.keyword("DROP NOT NULL")
	case *SetDefault:
		p.keyword("ALTER COLUMN")
		p.space()
		p.ident(act.Column)
		p.space()
		p.keyword("SET DEFAULT")
		p.space()
		p.write(act.Default)
	case *DropDefault:
		p.keyword("ALTER COLUMN")
		p.space()
		p.ident(act.Column)
		p.space()
		p.keyword("DROP DEFAULT")
	case *AlterColumnType:
		p.keyword("ALTER COLUMN")
		p.space()
		p.ident(act.Column)
		p.space()
		p.keyword("TYPE")
		p.space()
		p.write(act.Type)
	case *AddConstraint:
		p.keyword("ADD")
		p.space()
		p.printConstraint(act.Constraint)
		if act.NotValid {
			p.space()
			p.keyword("NOT VALID")
		}
	case *ValidateConstraint:
		p.keyword("VALIDATE CONSTRAINT")
		p.space()
		p.ident(act.Name)
	case *DropConstraint:
		p.keyword("DROP CONSTRAINT")
		p.space()
		p.ident(act.Name)
	case *EnableRowSecurity:
		p.keyword("ENABLE ROW LEVEL SECURITY")
	default:
		p.fail(fmt.Errorf("sqlast: unhandled alter action %T", a.Action))
	}
}

func (p *Printer) printCreateIndex(i *CreateIndex) {
	p.keyword("CREATE")
	p.space()
	if i.Unique {
		p.keyword("UNIQUE")
		p.space()
	}
	p.keyword("INDEX")
	p.space()
	if i.Concurrent {
		p.keyword("CONCURRENTLY")
		p.space()
	}
	p.ident(i.Name)
	p.space()
	p.keyword("ON")
	p.space()
	p.ident(i.Table)
	p.printColumnList(i.Columns)
}

func (p *Printer) printCreatePolicy(c *CreatePolicy) {
	p.keyword("CREATE POLICY")
	p.space()
	p.ident(c.Name)
	p.space()
	p.keyword("ON")
	p.space()
	p.ident(c.Table)
	if c.Command != "" {
		p.space()
		p.keyword("FOR")
		p.space()
		p.keyword(c.Command)
	}
	if c.Using != "" {
		p.space()
		p.keyword("USING")
		p.write(" (")
		p.write(c.Using)
		p.write(")")
	}
	if c.WithCheck != "" {
		p.space()
		p.keyword("WITH CHECK")
		p.write(" (")
		p.write(c.WithCheck)
		p.write(")")
	}
}

func (p *Printer) printGrant(g *Grant) {
	p.keyword("GRANT")
	p.space()
	p.printPrivileges(g.Privileges)
	p.space()
	p.keyword("ON")
	p.space()
	p.ident(g.Table)
	p.space()
	p.keyword("TO")
	p.space()
	p.ident(g.Role)
}

func (p *Printer) printRevoke(r *Revoke) {
	p.keyword("REVOKE")
	p.space()
	p.printPrivileges(r.Privileges)
	p.space()
	p.keyword("ON")
	p.space()
	p.ident(r.Table)
	p.space()
	p.keyword("FROM")
	p.space()
	p.ident(r.Role)
}

func (p *Printer) printPrivileges(privileges []string) {
	privs := make([]string, len(privileges))
	copy(privs, privileges)
	sort.Strings(privs)
	for i, priv := range privs {
		if i > 0 {
			p.write(", ")
		}
		p.keyword(priv)
	}
}
