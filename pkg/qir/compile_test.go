package qir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/schemac/pkg/dialect"
	"github.com/leapstack-labs/schemac/pkg/ir"
	"github.com/leapstack-labs/schemac/pkg/schema"
	"github.com/leapstack-labs/schemac/pkg/sqlast"
)

const qirSource = `
type Org {
  id: ID! @pk
  name: String!
  plan: String
  docs: [Doc!]
}

type Doc @tenant(column: "org_id") {
  id: ID! @pk
  org_id: ID! @fk(references: "Org.id", onDelete: "cascade")
  title: String!
  archived: Boolean!
  org: Org
}

type Event {
  name: String!
}

type Report @rls(read: "org_id = app.current_actor_org()") {
  id: ID! @pk
  org_id: ID!
}
`

func buildTestSchema(t *testing.T) *ir.Schema {
	t.Helper()
	s, err := schema.Build(qirSource)
	require.NoError(t, err)
	return s
}

func pg(t *testing.T) *dialect.Dialect {
	t.Helper()
	d, ok := dialect.Get("postgres")
	require.True(t, ok)
	return d
}

func compileOp(t *testing.T, source string) (*Compiled, error) {
	t.Helper()
	s := buildTestSchema(t)
	ops, err := ParseOperations(source)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	return NewCompiler(s, Options{}).Compile(ops[0])
}

func renderOp(t *testing.T, source string, mode dialect.IdentityMode) (string, []string) {
	t.Helper()
	compiled, err := compileOp(t, source)
	require.NoError(t, err)
	l := &Lowerer{Dialect: pg(t), IdentityMode: mode}
	stmt, err := l.Lower(compiled.Plan)
	require.NoError(t, err)
	sql, params, err := sqlast.Print(stmt, pg(t))
	require.NoError(t, err)
	return sql, params
}

func TestParseOperations(t *testing.T) {
	ops, err := ParseOperations(`
query A { Org { id } }
query B { Doc { id } }
`)
	require.NoError(t, err)
	require.Len(t, ops, 2)
	assert.Equal(t, "A", ops[0].Name)
	assert.Equal(t, "B", ops[1].Name)

	_, err = ParseOperations(`mutation M { Org { id } }`)
	var cerr *Error
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, InvalidArgument, cerr.Kind)

	_, err = ParseOperations(`{ Org { id } }`)
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, InvalidArgument, cerr.Kind)
}

func TestCompileListRelationLateral(t *testing.T) {
	sql, params := renderOp(t, `
query OrgsWithDocs {
  Org {
    id
    name
    docs(orderBy: {field: title}) { title }
  }
}`, dialect.IdentityFunction)

	want := `SELECT o.id AS id, o.name AS name, d.docs AS docs ` +
		`FROM org AS o ` +
		`LEFT JOIN LATERAL (SELECT coalesce(json_agg(json_build_object('title', d2.title) ORDER BY d2.title, d2.id), '[]'::json) AS docs ` +
		`FROM doc AS d2 WHERE d2.org_id = o.id) AS d ON true ` +
		`ORDER BY o.id;`
	assert.Equal(t, want, sql)
	assert.Empty(t, params)
}

func TestCompileOneToOneJoin(t *testing.T) {
	sql, params := renderOp(t, `
query DocsWithOrg {
  Doc {
    id
    org { name }
  }
}`, dialect.IdentityFunction)

	want := `SELECT d.id AS id, json_build_object('name', o.name) AS org ` +
		`FROM doc AS d ` +
		`LEFT JOIN org AS o ON o.id = d.org_id ` +
		`WHERE d.org_id = app.current_actor_id() ` +
		`ORDER BY d.id;`
	assert.Equal(t, want, sql)
	assert.Empty(t, params)
}

func TestCompileWhereWithTenancy(t *testing.T) {
	const op = `
query ActiveDocs($q: String!) {
  Doc(where: {title: {ilike: $q}, archived: {eq: false}}, limit: 10) { id title }
}`

	sql, params := renderOp(t, op, dialect.IdentityFunction)
	want := `SELECT d.id AS id, d.title AS title FROM doc AS d ` +
		`WHERE d.org_id = app.current_actor_id() AND (d.title ILIKE $1 AND d.archived = false) ` +
		`ORDER BY d.id LIMIT 10;`
	assert.Equal(t, want, sql)
	assert.Equal(t, []string{"q"}, params)

	// Parameter identity mode binds the identity token instead.
	sql, params = renderOp(t, op, dialect.IdentityParameter)
	want = `SELECT d.id AS id, d.title AS title FROM doc AS d ` +
		`WHERE d.org_id = $1 AND (d.title ILIKE $2 AND d.archived = false) ` +
		`ORDER BY d.id LIMIT 10;`
	assert.Equal(t, want, sql)
	assert.Equal(t, []string{"viewer", "q"}, params)
}

func TestCompileRowSecurityInjection(t *testing.T) {
	sql, params := renderOp(t, `query Q { Report { id } }`, dialect.IdentityFunction)
	assert.Equal(t, `SELECT r.id AS id FROM report AS r WHERE (org_id = app.current_actor_org()) ORDER BY r.id;`, sql)
	assert.Empty(t, params)
}

func TestCompileQuantifiers(t *testing.T) {
	tests := []struct {
		name  string
		op    string
		where string
	}{
		{
			name:  "some",
			op:    `query Q { Org(where: {docs: {some: {archived: {eq: false}}}}) { id } }`,
			where: `EXISTS (SELECT 1 FROM doc AS d WHERE d.org_id = o.id AND d.archived = false)`,
		},
		{
			name:  "none",
			op:    `query Q { Org(where: {docs: {none: {archived: {eq: false}}}}) { id } }`,
			where: `NOT EXISTS (SELECT 1 FROM doc AS d WHERE d.org_id = o.id AND d.archived = false)`,
		},
		{
			name:  "every",
			op:    `query Q { Org(where: {docs: {every: {archived: {eq: true}}}}) { id } }`,
			where: `NOT EXISTS (SELECT 1 FROM doc AS d WHERE d.org_id = o.id AND NOT (d.archived = true))`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, params := renderOp(t, tt.op, dialect.IdentityFunction)
			want := `SELECT o.id AS id FROM org AS o WHERE ` + tt.where + ` ORDER BY o.id;`
			assert.Equal(t, want, sql)
			assert.Empty(t, params)
		})
	}
}

func TestCompileOneToOneRelationFilter(t *testing.T) {
	sql, _ := renderOp(t, `
query Q($n: String!) {
  Doc(where: {org: {name: {eq: $n}}}) { id }
}`, dialect.IdentityParameter)

	want := `SELECT d.id AS id FROM doc AS d ` +
		`WHERE d.org_id = $1 AND ` +
		`EXISTS (SELECT 1 FROM org AS o WHERE o.id = d.org_id AND o.name = $2) ` +
		`ORDER BY d.id;`
	assert.Equal(t, want, sql)
}

func TestCompileCombinators(t *testing.T) {
	sql, params := renderOp(t, `
query Q($a: String!, $b: String!) {
  Org(where: {_or: [{name: {eq: $a}}, {plan: {eq: $b}}], _not: {plan: {eq: null}}}) { id }
}`, dialect.IdentityFunction)

	want := `SELECT o.id AS id FROM org AS o ` +
		`WHERE (o.name = $1 OR o.plan = $2) AND NOT (o.plan IS NULL) ` +
		`ORDER BY o.id;`
	assert.Equal(t, want, sql)
	assert.Equal(t, []string{"a", "b"}, params)
}

func TestCompileInOperator(t *testing.T) {
	sql, params := renderOp(t, `
query Q($ids: [ID!]!) {
  Org(where: {id: {in: $ids}}) { id }
}`, dialect.IdentityFunction)
	assert.Equal(t, `SELECT o.id AS id FROM org AS o WHERE o.id = ANY($1) ORDER BY o.id;`, sql)
	assert.Equal(t, []string{"ids"}, params)

	// Inline literal lists expand to a disjunction of equality tests.
	sql, params = renderOp(t, `
query Q {
  Org(where: {id: {in: [1, 2]}}) { id }
}`, dialect.IdentityFunction)
	assert.Equal(t, `SELECT o.id AS id FROM org AS o WHERE o.id = 1 OR o.id = 2 ORDER BY o.id;`, sql)
	assert.Empty(t, params)
}

func TestCompileContains(t *testing.T) {
	sql, _ := renderOp(t, `
query Q($q: String!) {
  Org(where: {name: {contains: $q}}) { id }
}`, dialect.IdentityFunction)
	assert.Equal(t, `SELECT o.id AS id FROM org AS o WHERE o.name LIKE '%' || $1 || '%' ORDER BY o.id;`, sql)
}

func TestCompileParamReuseSharesPosition(t *testing.T) {
	sql, params := renderOp(t, `
query Page($t: String!, $n: Int!) {
  Org(where: {name: {eq: $t}}, limit: $n, offset: $n) { id }
}`, dialect.IdentityFunction)
	assert.Equal(t, `SELECT o.id AS id FROM org AS o WHERE o.name = $1 ORDER BY o.id LIMIT $2 OFFSET $2;`, sql)
	assert.Equal(t, []string{"t", "n"}, params)
}

func TestCompileExplicitUniqueOrderSkipsTieBreaker(t *testing.T) {
	sql, _ := renderOp(t, `
query Q {
  Org(orderBy: [{field: id, dir: DESC}]) { id }
}`, dialect.IdentityFunction)
	assert.Equal(t, `SELECT o.id AS id FROM org AS o ORDER BY o.id DESC;`, sql)
}

func TestCompileParamsManifest(t *testing.T) {
	compiled, err := compileOp(t, `
query Q($q: String!, $ids: [ID!]!) {
  Org(where: {name: {ilike: $q}, id: {in: $ids}}) { id }
}`)
	require.NoError(t, err)
	assert.Equal(t, "Q", compiled.Name)
	assert.Equal(t, "Org", compiled.Root.Name)
	require.Len(t, compiled.Params, 2)
	assert.Equal(t, VarInfo{Type: ir.ScalarString}, compiled.Params["q"])
	assert.Equal(t, VarInfo{Type: ir.ScalarID, List: true}, compiled.Params["ids"])
	assert.Equal(t, "bigint[]", compiled.Params["ids"].SQLType())
}

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		name string
		op   string
		kind ErrorKind
	}{
		{"unknown root", `query Q { Missing { id } }`, UnresolvedRoot},
		{"unknown field", `query Q { Org { nope } }`, UnresolvedField},
		{"unknown where field", `query Q { Org(where: {nope: {eq: 1}}) { id } }`, UnresolvedField},
		{"unknown order field", `query Q { Org(orderBy: {field: nope}) { id } }`, UnresolvedField},
		{"ilike on non-text", `query Q { Doc(where: {archived: {ilike: "x"}}) { id } }`, OperatorTypeMismatch},
		{"literal type mismatch", `query Q { Org(where: {name: {eq: 1}}) { id } }`, OperatorTypeMismatch},
		{"undeclared variable", `query Q { Org(where: {name: {eq: $nope}}) { id } }`, UnknownVariable},
		{"variable type mismatch", `query Q($n: Int!) { Org(where: {name: {eq: $n}}) { id } }`, InvalidArgument},
		{"unknown operator", `query Q { Org(where: {name: {like: "x"}}) { id } }`, InvalidArgument},
		{"null under lt", `query Q { Org(where: {name: {lt: null}}) { id } }`, OperatorTypeMismatch},
		{"null under gte", `query Q { Org(where: {name: {gte: null}}) { id } }`, OperatorTypeMismatch},
		{"null under ilike", `query Q { Org(where: {name: {ilike: null}}) { id } }`, OperatorTypeMismatch},
		{"unknown quantifier", `query Q { Org(where: {docs: {all: {id: {eq: 1}}}}) { id } }`, InvalidArgument},
		{"nested limit", `query Q { Org { id docs(limit: 5) { id } } }`, InvalidArgument},
		{"scalar field arguments", `query Q { Org { id(limit: 1) } }`, InvalidArgument},
		{"multiple roots", `query Q { Org { id } Doc { id } }`, InvalidArgument},
		{"no unique key", `query Q { Event { name } }`, NoUniqueKey},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := compileOp(t, tt.op)
			var cerr *Error
			require.ErrorAs(t, err, &cerr)
			assert.Equal(t, tt.kind, cerr.Kind)
		})
	}
}

func TestCompileDeterministic(t *testing.T) {
	const op = `
query Q($q: String!) {
  Org(where: {name: {ilike: $q}}) {
    id
    name
    docs { title archived }
  }
}`
	first, firstParams := renderOp(t, op, dialect.IdentityFunction)
	for i := 0; i < 5; i++ {
		sql, params := renderOp(t, op, dialect.IdentityFunction)
		assert.Equal(t, first, sql)
		assert.Equal(t, firstParams, params)
	}
}
