package transform

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/villedata/communes-cli/internal/extract"
)

func TestRegionTransformer_UniqueSortedNames(t *testing.T) {
	t.Parallel()

	rows, errs := streamRows([]extract.Row{
		{"nom_region": "Occitanie"},
		{"nom_region": "Bretagne"},
		{"nom_region": " occitanie "},
		{"nom_region": "BRETAGNE"},
		{"nom_region": ""},
	}, nil)

	regions, err := NewRegionTransformer().Transform(context.Background(), rows, errs)
	require.NoError(t, err)
	require.Len(t, regions, 2)
	assert.Equal(t, "BRETAGNE", regions[0].Name)
	assert.Equal(t, "OCCITANIE", regions[1].Name)
}

func TestRegionTransformer_EmptyResultIsFatal(t *testing.T) {
	t.Parallel()

	rows, errs := streamRows([]extract.Row{{"nom_region": "  "}}, nil)
	_, err := NewRegionTransformer().Transform(context.Background(), rows, errs)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no regions")
}

func TestNormalizePostalCode(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"75001":   "75001",
		"6000":    "06000",
		" 1000 ":  "01000",
		"":        "",
		"2A004":   "2A004",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizePostalCode(in), "input %q", in)
	}
}
