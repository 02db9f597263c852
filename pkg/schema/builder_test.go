package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/schemac/pkg/ir"
)

const orgDocSource = `
type Org @rls(read: "id = app.current_actor_org()") @grant(role: "app_user", privileges: ["select"]) {
  id: ID! @pk
  name: String!
  docs: [Doc!]
}

type Doc @tenant(column: "org_id") {
  id: ID! @pk
  org_id: ID! @fk(references: "Org.id", onDelete: "cascade")
  title: String! @default(value: "untitled")
  archived: Boolean! @default(value: false)
}
`

func TestBuildOrgDoc(t *testing.T) {
	s, err := Build(orgDocSource)
	require.NoError(t, err)

	org, ok := s.Table("Org")
	require.True(t, ok)
	require.NotNil(t, org.RLS)
	assert.Equal(t, "id = app.current_actor_org()", org.RLS.Read)
	require.Len(t, org.Grants, 1)
	assert.Equal(t, "app_user", org.Grants[0].Role)
	assert.Equal(t, []string{"SELECT"}, org.Grants[0].Privileges)

	id, ok := org.Field("id")
	require.True(t, ok)
	assert.True(t, id.PrimaryKey)
	assert.False(t, id.Nullable)

	docs, ok := org.Field("docs")
	require.True(t, ok)
	assert.True(t, docs.IsRelation())
	assert.True(t, docs.List)
	assert.Equal(t, "Doc", docs.Relation)

	doc, ok := s.Table("Doc")
	require.True(t, ok)
	assert.Equal(t, "org_id", doc.Tenant)

	orgID, ok := doc.Field("org_id")
	require.True(t, ok)
	require.NotNil(t, orgID.Ref)
	assert.Equal(t, "Org", orgID.Ref.Table)
	assert.Equal(t, "id", orgID.Ref.Field)
	assert.Equal(t, "CASCADE", orgID.Ref.OnDelete)

	title, _ := doc.Field("title")
	assert.Equal(t, "'untitled'", title.Default)
	archived, _ := doc.Field("archived")
	assert.Equal(t, "false", archived.Default)
}

func TestBuildParseError(t *testing.T) {
	_, err := Build("type Org {")
	var list ErrorList
	require.ErrorAs(t, err, &list)
	require.Len(t, list, 1)
	assert.Equal(t, KindParse, list[0].Kind)
}

func TestBuildUnresolvedForeignKey(t *testing.T) {
	src := `
type Doc {
  id: ID! @pk
  org_id: ID! @fk(references: "Org.id")
}
`
	_, err := Build(src)
	var list ErrorList
	require.ErrorAs(t, err, &list)
	require.Len(t, list, 1)
	assert.Equal(t, KindUnresolvedReference, list[0].Kind)
	assert.Contains(t, list[0].Error(), `unknown table "Org"`)
}

func TestBuildUnresolvedForeignKeyColumn(t *testing.T) {
	src := `
type Org {
  id: ID! @pk
}

type Doc {
  id: ID! @pk
  org_id: ID! @fk(references: "Org.uuid")
}
`
	_, err := Build(src)
	var list ErrorList
	require.ErrorAs(t, err, &list)
	assert.Equal(t, KindUnresolvedReference, list[0].Kind)
	assert.Contains(t, list[0].Error(), `unknown column "uuid"`)
}

func TestBuildRelationWithoutForeignKey(t *testing.T) {
	src := `
type Org {
  id: ID! @pk
  docs: [Doc!]
}

type Doc {
  id: ID! @pk
  title: String
}
`
	_, err := Build(src)
	var list ErrorList
	require.ErrorAs(t, err, &list)
	assert.Equal(t, KindUnresolvedReference, list[0].Kind)
	assert.Contains(t, list[0].Error(), `no foreign key on "Doc" references "Org"`)
}

func TestBuildAggregatesErrors(t *testing.T) {
	src := `
type Org {
  id: ID! @pk
  name: Strng
  extra: Widget
}
`
	_, err := Build(src)
	var list ErrorList
	require.ErrorAs(t, err, &list)
	require.Len(t, list, 2)
	assert.Contains(t, list[0].Error(), `unknown type "Strng"`)
	assert.Contains(t, list[1].Error(), `unknown type "Widget"`)
}

func TestBuildDuplicateField(t *testing.T) {
	src := `
type Org {
  id: ID! @pk
  id: String
}
`
	_, err := Build(src)
	var list ErrorList
	require.ErrorAs(t, err, &list)
	assert.Equal(t, KindDuplicate, list[0].Kind)
}

func TestBuildDirectiveErrors(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		message string
	}{
		{
			"unknown directive",
			`type Org { id: ID! @identity }`,
			"unknown directive",
		},
		{
			"table directive on field",
			`type Org { id: ID! @tenant(column: "id") }`,
			"not allowed on a field",
		},
		{
			"field directive on table",
			`type Org @pk { id: ID! }`,
			"not allowed on a table",
		},
		{
			"bad fk reference",
			`type Org { id: ID! @fk(references: "broken") }`,
			"references must be",
		},
		{
			"directive on relationship field",
			`type Org { id: ID! @pk
doc: Doc @unique }
type Doc { id: ID! @pk
org_id: ID! @fk(references: "Org.id") }`,
			"not allowed on a relationship field",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build(tt.src)
			var list ErrorList
			require.ErrorAs(t, err, &list)
			require.NotEmpty(t, list)
			assert.Contains(t, list[0].Error(), tt.message)
		})
	}
}

func TestBuildTenantColumnMustExist(t *testing.T) {
	src := `
type Doc @tenant(column: "org_id") {
  id: ID! @pk
}
`
	_, err := Build(src)
	var list ErrorList
	require.ErrorAs(t, err, &list)
	assert.Contains(t, list[0].Error(), `@tenant column "org_id"`)
}

func TestBuildNoPartialSchemaOnError(t *testing.T) {
	s, err := Build(`type Org { id: Widget }`)
	require.Error(t, err)
	assert.Nil(t, s)
}

func TestBuildDeterministic(t *testing.T) {
	a, err := Build(orgDocSource)
	require.NoError(t, err)
	b, err := Build(orgDocSource)
	require.NoError(t, err)

	var aNames, bNames []string
	for _, tab := range a.Tables() {
		aNames = append(aNames, tab.Name)
	}
	for _, tab := range b.Tables() {
		bNames = append(bNames, tab.Name)
	}
	assert.Equal(t, aNames, bNames)
}

func TestBuildScalarKinds(t *testing.T) {
	src := `
type Sample {
  id: ID! @pk
  count: Int
  ratio: Float
  active: Boolean
  at: DateTime
  payload: JSON
  key: UUID @unique
}
`
	s, err := Build(src)
	require.NoError(t, err)
	tab, _ := s.Table("Sample")
	want := map[string]ir.ScalarType{
		"id": ir.ScalarID, "count": ir.ScalarInt, "ratio": ir.ScalarFloat,
		"active": ir.ScalarBoolean, "at": ir.ScalarDateTime,
		"payload": ir.ScalarJSON, "key": ir.ScalarUUID,
	}
	for name, scalar := range want {
		f, ok := tab.Field(name)
		require.True(t, ok, name)
		assert.Equal(t, scalar, f.Scalar, name)
	}
	key, _ := tab.Field("key")
	assert.True(t, key.Unique)
	count, _ := tab.Field("count")
	assert.True(t, count.Nullable)
}
