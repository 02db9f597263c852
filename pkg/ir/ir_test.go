package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func orgDocSchema(t *testing.T) *Schema {
	t.Helper()
	org := NewTable("Org")
	require.NoError(t, org.AddField(&Field{Name: "id", Scalar: ScalarID, PrimaryKey: true}))
	require.NoError(t, org.AddField(&Field{Name: "name", Scalar: ScalarString}))
	require.NoError(t, org.AddField(&Field{Name: "docs", Relation: "Doc", List: true}))

	doc := NewTable("Doc")
	require.NoError(t, doc.AddField(&Field{Name: "id", Scalar: ScalarID, PrimaryKey: true}))
	require.NoError(t, doc.AddField(&Field{Name: "org_id", Scalar: ScalarID, Ref: &ForeignKey{Table: "Org", Field: "id"}}))
	require.NoError(t, doc.AddField(&Field{Name: "title", Scalar: ScalarString}))

	s := NewSchema()
	require.NoError(t, s.AddTable(org))
	require.NoError(t, s.AddTable(doc))
	return s
}

func TestDuplicateFieldRejected(t *testing.T) {
	tab := NewTable("Org")
	require.NoError(t, tab.AddField(&Field{Name: "id", Scalar: ScalarID}))
	err := tab.AddField(&Field{Name: "id", Scalar: ScalarString})
	assert.ErrorContains(t, err, `duplicate field "id"`)
}

func TestDuplicateTableRejected(t *testing.T) {
	s := NewSchema()
	require.NoError(t, s.AddTable(NewTable("Org")))
	err := s.AddTable(NewTable("Org"))
	assert.ErrorContains(t, err, `duplicate table "Org"`)
}

func TestColumnsAndRelations(t *testing.T) {
	s := orgDocSchema(t)
	org, ok := s.Table("Org")
	require.True(t, ok)

	cols := org.Columns()
	require.Len(t, cols, 2)
	assert.Equal(t, "id", cols[0].Name)
	assert.Equal(t, "name", cols[1].Name)

	rels := org.Relations()
	require.Len(t, rels, 1)
	assert.Equal(t, "docs", rels[0].Name)
	assert.True(t, rels[0].List)
}

func TestPrimaryKeyAndUniqueFields(t *testing.T) {
	tab := NewTable("User")
	require.NoError(t, tab.AddField(&Field{Name: "id", Scalar: ScalarID, PrimaryKey: true}))
	require.NoError(t, tab.AddField(&Field{Name: "email", Scalar: ScalarString, Unique: true}))
	require.NoError(t, tab.AddField(&Field{Name: "name", Scalar: ScalarString}))

	pk := tab.PrimaryKey()
	require.Len(t, pk, 1)
	assert.Equal(t, "id", pk[0].Name)

	unique := tab.UniqueFields()
	require.Len(t, unique, 2)
	assert.Equal(t, "id", unique[0].Name)
	assert.Equal(t, "email", unique[1].Name)
}

func TestForeignKeyBetween(t *testing.T) {
	s := orgDocSchema(t)
	org, _ := s.Table("Org")
	doc, _ := s.Table("Doc")

	fk, ok := s.ForeignKeyBetween(doc, org)
	require.True(t, ok)
	assert.Equal(t, "org_id", fk.Name)

	_, ok = s.ForeignKeyBetween(org, doc)
	assert.False(t, ok)
}

func TestTablesDeclarationOrder(t *testing.T) {
	s := orgDocSchema(t)
	var names []string
	for _, tab := range s.Tables() {
		names = append(names, tab.Name)
	}
	assert.Equal(t, []string{"Org", "Doc"}, names)
}

func TestScalarSQLTypes(t *testing.T) {
	tests := []struct {
		scalar ScalarType
		sql    string
	}{
		{ScalarID, "bigint"},
		{ScalarInt, "bigint"},
		{ScalarString, "text"},
		{ScalarFloat, "double precision"},
		{ScalarBoolean, "boolean"},
		{ScalarDateTime, "timestamptz"},
		{ScalarJSON, "jsonb"},
		{ScalarUUID, "uuid"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.sql, tt.scalar.SQLType())
	}
	assert.True(t, ScalarString.Text())
	assert.False(t, ScalarInt.Text())
}

func TestSQLNames(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Org", "org"},
		{"OrgUser", "org_user"},
		{"APIKey", "a_p_i_key"},
		{"doc", "doc"},
		{"createdAt", "created_at"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NewTable(tt.in).SQLName())
		f := &Field{Name: tt.in}
		assert.Equal(t, tt.want, f.SQLName())
	}
}
