package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/villedata/communes-cli/internal/config"
	"github.com/villedata/communes-cli/internal/load"
	"github.com/villedata/communes-cli/internal/store"
)

const sourceCSV = `nom_commune,code_postal,nom_departement,code_departement,nom_region,latitude,longitude
Paris,75001,Paris,75,Île-de-France,48.8566,2.3522
paris,75001,Paris,75,Île-de-France,0,0
Orléans,45000,Loiret,45,Centre-Val de Loire,,
`

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "communes.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func newPipelineStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "communes.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	require.NoError(t, s.Migrate(ctx))
	idf, err := s.InsertRegion(ctx, "ILE-DE-FRANCE")
	require.NoError(t, err)
	cvl, err := s.InsertRegion(ctx, "CENTRE-VAL DE LOIRE")
	require.NoError(t, err)
	_, err = s.InsertDepartment(ctx, "PARIS", "75", idf.ID)
	require.NoError(t, err)
	_, err = s.InsertDepartment(ctx, "LOIRET", "45", cvl.ID)
	require.NoError(t, err)
	return s
}

func testConfig() *config.Config {
	return &config.Config{
		CSV: config.CSVConfig{Delimiter: ",", Encoding: "utf-8"},
	}
}

func TestPipeline_RunEndToEnd(t *testing.T) {
	s := newPipelineStore(t)
	p := New(s, testConfig())

	stats, err := p.Run(context.Background(), RunOptions{
		CSVPath:           writeCSV(t, sourceCSV),
		DuplicateHandling: load.DuplicateSkip,
	})
	require.NoError(t, err)
	assert.Equal(t, load.Stats{Created: 2}, stats, "the duplicate Paris row is folded before loading")

	cities, err := s.ListActiveCities(context.Background())
	require.NoError(t, err)
	require.Len(t, cities, 2)
	assert.Equal(t, "ORLÉANS", cities[0].Name)
	assert.Nil(t, cities[0].Latitude)
	require.NotNil(t, cities[1].Latitude)
	assert.InDelta(t, 48.8566, *cities[1].Latitude, 0.0001)
}

func TestPipeline_MissingSourceFailsBeforeWriting(t *testing.T) {
	s := newPipelineStore(t)
	p := New(s, testConfig())

	_, err := p.Run(context.Background(), RunOptions{
		CSVPath:           filepath.Join(t.TempDir(), "absent.csv"),
		DuplicateHandling: load.DuplicateSkip,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "source file not found")
}

func TestPipeline_StrictRunLeavesNoPartialState(t *testing.T) {
	s := newPipelineStore(t)
	p := New(s, testConfig())

	csv := sourceCSV + "Lyon,69001,Rhône,69,Auvergne-Rhône-Alpes,,\n"
	_, err := p.Run(context.Background(), RunOptions{
		CSVPath:           writeCSV(t, csv),
		DuplicateHandling: load.DuplicateSkip,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing departments")

	cities, listErr := s.ListActiveCities(context.Background())
	require.NoError(t, listErr)
	assert.Empty(t, cities, "the transaction rolls everything back")
}

func TestPipeline_LenientRunDropsAndCommits(t *testing.T) {
	s := newPipelineStore(t)
	p := New(s, testConfig())

	csv := sourceCSV + "Lyon,69001,Rhône,69,Auvergne-Rhône-Alpes,,\n"
	stats, err := p.Run(context.Background(), RunOptions{
		CSVPath:           writeCSV(t, csv),
		DuplicateHandling: load.DuplicateSkip,
		Lenient:           true,
	})
	require.NoError(t, err)
	assert.Equal(t, load.Stats{Created: 2, Dropped: 1}, stats)
}

func TestPipeline_UnknownGeocoder(t *testing.T) {
	s := newPipelineStore(t)
	p := New(s, testConfig())

	_, err := p.Run(context.Background(), RunOptions{
		CSVPath:           writeCSV(t, sourceCSV),
		DuplicateHandling: load.DuplicateSkip,
		GeocodingEnabled:  true,
		GeocoderName:      "google",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown geocoder")
}
