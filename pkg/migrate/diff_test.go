package migrate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/schemac/pkg/dialect"
	"github.com/leapstack-labs/schemac/pkg/ir"
	"github.com/leapstack-labs/schemac/pkg/schema"
)

const baseSource = `
type Org {
  id: ID! @pk
  name: String!
}

type Doc {
  id: ID! @pk
  org_id: ID! @fk(references: "Org.id", onDelete: "cascade")
  title: String!
}
`

func build(t *testing.T, source string) *ir.Schema {
	t.Helper()
	s, err := schema.Build(source)
	require.NoError(t, err)
	return s
}

func pg(t *testing.T) *dialect.Dialect {
	t.Helper()
	d, ok := dialect.Get("postgres")
	require.True(t, ok)
	return d
}

func opIDs(plan *Plan) []string {
	ids := make([]string, len(plan.Ops))
	for i, op := range plan.Ops {
		ids[i] = op.ID
	}
	return ids
}

func TestDiffIdentitySchemasIsEmpty(t *testing.T) {
	s := build(t, baseSource)
	plan, err := Diff(s, s, Options{})
	require.NoError(t, err)
	assert.True(t, plan.Empty())
}

func TestDiffFreshSchema(t *testing.T) {
	after := build(t, baseSource)
	plan, err := Diff(ir.NewSchema(), after, Options{})
	require.NoError(t, err)

	ids := opIDs(plan)
	assert.Contains(t, ids, "create_table:org")
	assert.Contains(t, ids, "create_table:doc")
	assert.Contains(t, ids, "add_constraint:doc_org_id_fkey")
	assert.Contains(t, ids, "create_index:doc_org_id_idx")

	// Both tables exist before the foreign key lands.
	pos := make(map[string]int, len(ids))
	for i, id := range ids {
		pos[id] = i
	}
	assert.Less(t, pos["create_table:org"], pos["add_constraint:doc_org_id_fkey"])
	assert.Less(t, pos["create_table:doc"], pos["add_constraint:doc_org_id_fkey"])

	sql, err := plan.Render(pg(t))
	require.NoError(t, err)
	assert.Contains(t, sql, "-- phase: expand\n")
	assert.Contains(t, sql, "CREATE TABLE org (\n")
	assert.Contains(t, sql, "CONSTRAINT doc_pkey PRIMARY KEY (id)")
	assert.Contains(t, sql, "REFERENCES org (id) ON DELETE CASCADE")
}

func TestDiffNonNullColumnAddition(t *testing.T) {
	before := build(t, baseSource)
	after := build(t, `
type Org {
  id: ID! @pk
  name: String!
}

type Doc {
  id: ID! @pk
  org_id: ID! @fk(references: "Org.id", onDelete: "cascade")
  title: String!
  archived: Boolean! @default(value: false)
}
`)

	plan, err := Diff(before, after, Options{})
	require.NoError(t, err)
	require.Equal(t, []string{
		"add_column:doc.archived",
		"backfill:doc.archived",
		"set_not_null:doc.archived",
	}, opIDs(plan))

	assert.Equal(t, PhaseExpand, plan.Ops[0].Phase)
	assert.Equal(t, PhaseBackfill, plan.Ops[1].Phase)
	assert.Equal(t, PhaseValidate, plan.Ops[2].Phase)
	assert.Equal(t, LockScan, plan.Ops[1].Lock)

	sql, err := plan.Render(pg(t))
	require.NoError(t, err)
	want := `-- phase: expand
-- add_column:doc.archived (lock: metadata)
ALTER TABLE doc ADD COLUMN archived boolean DEFAULT false;

-- phase: backfill
-- backfill:doc.archived (lock: scan)
UPDATE doc SET archived = false WHERE archived IS NULL;

-- phase: validate
-- set_not_null:doc.archived (lock: scan)
ALTER TABLE doc ALTER COLUMN archived SET NOT NULL;
`
	assert.Equal(t, want, sql)
}

func TestDiffNonNullAdditionWithoutDefault(t *testing.T) {
	before := build(t, baseSource)
	after := build(t, `
type Org {
  id: ID! @pk
  name: String!
}

type Doc {
  id: ID! @pk
  org_id: ID! @fk(references: "Org.id", onDelete: "cascade")
  title: String!
  kind: String!
}
`)
	_, err := Diff(before, after, Options{})
	var perr *PlanError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "Doc.kind", perr.Object)
}

func TestDiffDestructiveGate(t *testing.T) {
	before := build(t, baseSource)
	after := build(t, `
type Org {
  id: ID! @pk
  name: String!
}

type Doc {
  id: ID! @pk
  org_id: ID! @fk(references: "Org.id", onDelete: "cascade")
}
`)

	_, err := Diff(before, after, Options{})
	var berr *BreakingChangeError
	require.ErrorAs(t, err, &berr)
	assert.Equal(t, []string{"drop_column:doc.title"}, berr.Changes)
	require.NotNil(t, berr.Plan)
	require.Len(t, berr.Plan.Phase(PhaseContract), 1)

	plan, err := Diff(before, after, Options{AllowDestructive: true})
	require.NoError(t, err)
	require.Len(t, plan.Ops, 1)
	assert.Equal(t, "drop_column:doc.title", plan.Ops[0].ID)
	assert.Equal(t, PhaseContract, plan.Ops[0].Phase)
	assert.True(t, plan.Ops[0].Destructive)
}

func TestDiffDropTableOrdering(t *testing.T) {
	before := build(t, baseSource)
	after := build(t, `
type Unrelated {
  id: ID! @pk
}
`)
	plan, err := Diff(before, after, Options{AllowDestructive: true})
	require.NoError(t, err)

	ids := opIDs(plan)
	pos := make(map[string]int, len(ids))
	for i, id := range ids {
		pos[id] = i
	}
	require.Contains(t, pos, "drop_table:doc")
	require.Contains(t, pos, "drop_table:org")
	assert.Less(t, pos["drop_table:doc"], pos["drop_table:org"])
}

func TestDiffFreshSchemaChildDeclaredFirst(t *testing.T) {
	// The referencing table both precedes its target in declaration order
	// and sorts before it alphabetically; the foreign key must still land
	// after both CREATE TABLE statements.
	after := build(t, `
type Doc {
  id: ID! @pk
  org_id: ID! @fk(references: "Org.id", onDelete: "cascade")
  title: String!
}

type Org {
  id: ID! @pk
  name: String!
}
`)
	plan, err := Diff(ir.NewSchema(), after, Options{})
	require.NoError(t, err)

	ids := opIDs(plan)
	pos := make(map[string]int, len(ids))
	for i, id := range ids {
		pos[id] = i
	}
	require.Contains(t, pos, "add_constraint:doc_org_id_fkey")
	assert.Less(t, pos["create_table:doc"], pos["add_constraint:doc_org_id_fkey"])
	assert.Less(t, pos["create_table:org"], pos["add_constraint:doc_org_id_fkey"])
}

func TestDiffDropParentSortingBeforeChild(t *testing.T) {
	// The parent table sorts alphabetically before its referencing child;
	// the child must still be dropped first.
	before := build(t, `
type Apple {
  id: ID! @pk
}

type Zdoc {
  id: ID! @pk
  apple_id: ID! @fk(references: "Apple.id", onDelete: "cascade")
}
`)
	plan, err := Diff(before, ir.NewSchema(), Options{AllowDestructive: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"drop_table:zdoc", "drop_table:apple"}, opIDs(plan))
}

func TestDiffCheckConstraintAddition(t *testing.T) {
	before := build(t, baseSource)
	after := build(t, `
type Org {
  id: ID! @pk
  name: String! @check(expr: "length(name) > 0")
}

type Doc {
  id: ID! @pk
  org_id: ID! @fk(references: "Org.id", onDelete: "cascade")
  title: String!
}
`)
	plan, err := Diff(before, after, Options{})
	require.NoError(t, err)
	require.Equal(t, []string{
		"add_constraint:org_name_check",
		"validate_constraint:org_name_check",
	}, opIDs(plan))

	sql, err := plan.Render(pg(t))
	require.NoError(t, err)
	assert.Contains(t, sql, "ADD CONSTRAINT org_name_check CHECK (length(name) > 0) NOT VALID;")
	assert.Contains(t, sql, "VALIDATE CONSTRAINT org_name_check;")
}

func TestDiffRowSecurityAndGrants(t *testing.T) {
	before := build(t, baseSource)
	after := build(t, `
type Org @rls(read: "id = app.current_actor_org()") @grant(role: "app_user", privileges: ["select"]) {
  id: ID! @pk
  name: String!
}

type Doc @tenant(column: "org_id") {
  id: ID! @pk
  org_id: ID! @fk(references: "Org.id", onDelete: "cascade")
  title: String!
}
`)
	plan, err := Diff(before, after, Options{})
	require.NoError(t, err)

	sql, err := plan.Render(pg(t))
	require.NoError(t, err)
	assert.Contains(t, sql, "-- phase: switch\n")
	assert.Contains(t, sql, "ALTER TABLE org ENABLE ROW LEVEL SECURITY;")
	assert.Contains(t, sql, "CREATE POLICY org_read ON org FOR SELECT USING (id = app.current_actor_org());")
	assert.Contains(t, sql, "ALTER TABLE doc ENABLE ROW LEVEL SECURITY;")
	assert.Contains(t, sql, "CREATE POLICY doc_tenant ON doc USING (org_id = app.current_actor_id()) WITH CHECK (org_id = app.current_actor_id());")
	assert.Contains(t, sql, "GRANT SELECT ON org TO app_user;")
}

func TestDiffDeterministic(t *testing.T) {
	before := build(t, baseSource)
	after := build(t, `
type Org @grant(role: "app_user", privileges: ["select", "insert"]) {
  id: ID! @pk
  name: String!
  plan: String @default(value: "free")
}

type Doc {
  id: ID! @pk
  org_id: ID! @fk(references: "Org.id", onDelete: "cascade")
  title: String!
  slug: String @unique
}
`)
	first, err := Diff(before, after, Options{})
	require.NoError(t, err)
	firstSQL, err := first.Render(pg(t))
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		plan, err := Diff(before, after, Options{})
		require.NoError(t, err)
		assert.Equal(t, opIDs(first), opIDs(plan))
		sql, err := plan.Render(pg(t))
		require.NoError(t, err)
		assert.Equal(t, firstSQL, sql)
	}
}
