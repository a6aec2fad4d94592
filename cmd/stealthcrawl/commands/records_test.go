package commands

import (
	"testing"

	"github.com/LouYuanbo1/stealthcrawler/internal/infra/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFilter(t *testing.T) {
	t.Parallel()

	filter, err := parseFilter([]string{"metadata.page=3", "list_data.title=Go in Action", "flag=true", "expr=a=b"})
	require.NoError(t, err)
	assert.Equal(t, persistence.Filter{
		"metadata.page":   float64(3),
		"list_data.title": "Go in Action",
		"flag":            true,
		"expr":            "a=b",
	}, filter)

	_, err = parseFilter([]string{"nokey"})
	require.Error(t, err)
	_, err = parseFilter([]string{"=v"})
	require.Error(t, err)
}
