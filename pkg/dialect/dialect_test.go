package dialect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	d, ok := Get("postgres")
	require.True(t, ok)
	assert.Equal(t, "postgres", d.Name)
	assert.Equal(t, 63, d.MaxIdentLen)

	_, ok = Get("oracle")
	assert.False(t, ok)

	assert.Contains(t, List(), "postgres")
}

func TestGetCaseInsensitive(t *testing.T) {
	d, ok := Get("Postgres")
	require.True(t, ok)
	assert.Equal(t, "postgres", d.Name)
}

func TestNeedsQuoting(t *testing.T) {
	tests := []struct {
		name  string
		ident string
		want  bool
	}{
		{"plain lower", "org_docs", false},
		{"trailing digits", "doc2", false},
		{"leading underscore", "_internal", false},
		{"empty", "", true},
		{"mixed case", "OrgDocs", true},
		{"reserved word", "order", true},
		{"reserved upper", "ORDER", true},
		{"leading digit", "2doc", true},
		{"hyphen", "org-docs", true},
		{"space", "org docs", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Postgres.NeedsQuoting(tt.ident))
		})
	}
}
