package load

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/villedata/communes-cli/internal/model"
	"github.com/villedata/communes-cli/internal/store"
)

func newLoaderStore(t *testing.T) store.Store {
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

func ptr(f float64) *float64 { return &f }

func TestCityLoader_FreshLoadCreatesEverything(t *testing.T) {
	s := newLoaderStore(t)
	ctx := context.Background()

	stats, err := NewCityLoader(s, DuplicateSkip, false).Load(ctx, []model.CityData{
		{Name: "PARIS", PostalCode: "75001", Latitude: ptr(48.85), Longitude: ptr(2.35)},
		{Name: "ORLEANS", PostalCode: "45000"},
	})
	require.NoError(t, err)
	assert.Equal(t, Stats{Created: 2}, stats)

	cities, err := s.ListActiveCities(ctx)
	require.NoError(t, err)
	require.Len(t, cities, 2)
}

func TestCityLoader_SkipModeLeavesExistingUntouched(t *testing.T) {
	s := newLoaderStore(t)
	ctx := context.Background()
	loader := NewCityLoader(s, DuplicateSkip, false)

	_, err := loader.Load(ctx, []model.CityData{
		{Name: "PARIS", PostalCode: "75001", Latitude: ptr(48.85), Longitude: ptr(2.35)},
	})
	require.NoError(t, err)

	stats, err := loader.Load(ctx, []model.CityData{
		{Name: "PARIS", PostalCode: "75001", Latitude: ptr(0), Longitude: ptr(0)},
		{Name: "ORLEANS", PostalCode: "45000"},
	})
	require.NoError(t, err)
	assert.Equal(t, Stats{Created: 1, Skipped: 1}, stats)

	paris, err := s.GetCityByNamePostal(ctx, "PARIS", "75001")
	require.NoError(t, err)
	require.NotNil(t, paris)
	require.NotNil(t, paris.Latitude)
	assert.InDelta(t, 48.85, *paris.Latitude, 0.001, "skip mode does not overwrite coordinates")
}

func TestCityLoader_ReplaceModeOverwritesMutableFields(t *testing.T) {
	s := newLoaderStore(t)
	ctx := context.Background()

	_, err := NewCityLoader(s, DuplicateSkip, false).Load(ctx, []model.CityData{
		{Name: "PARIS", PostalCode: "75001", Latitude: ptr(48.85), Longitude: ptr(2.35)},
	})
	require.NoError(t, err)

	stats, err := NewCityLoader(s, DuplicateReplace, false).Load(ctx, []model.CityData{
		{Name: "PARIS", PostalCode: "75001", Latitude: ptr(48.8566), Longitude: ptr(2.3522)},
	})
	require.NoError(t, err)
	assert.Equal(t, Stats{Updated: 1}, stats)

	paris, err := s.GetCityByNamePostal(ctx, "PARIS", "75001")
	require.NoError(t, err)
	require.NotNil(t, paris.Latitude)
	assert.InDelta(t, 48.8566, *paris.Latitude, 0.0001)
}

func TestCityLoader_StrictModeAbortsOnMissingDepartment(t *testing.T) {
	s := newLoaderStore(t)

	_, err := NewCityLoader(s, DuplicateSkip, false).Load(context.Background(), []model.CityData{
		{Name: "LYON", PostalCode: "69001"},
		{Name: "PARIS", PostalCode: "75001"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing departments: [69]")

	cities, listErr := s.ListActiveCities(context.Background())
	require.NoError(t, listErr)
	assert.Empty(t, cities, "nothing is written when the run aborts")
}

func TestCityLoader_LenientModeDropsUnresolvable(t *testing.T) {
	s := newLoaderStore(t)

	stats, err := NewCityLoader(s, DuplicateSkip, true).Load(context.Background(), []model.CityData{
		{Name: "LYON", PostalCode: "69001"},
		{Name: "PARIS", PostalCode: "75001"},
		{Name: "BADVILLE", PostalCode: "75X01"},
	})
	require.NoError(t, err)
	assert.Equal(t, Stats{Created: 1, Dropped: 2}, stats)
}

func TestCityLoader_StrictModeRejectsUnusablePostalCode(t *testing.T) {
	s := newLoaderStore(t)

	_, err := NewCityLoader(s, DuplicateSkip, false).Load(context.Background(), []model.CityData{
		{Name: "BADVILLE", PostalCode: "75X01"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BADVILLE")
}

func TestParseDuplicateMode(t *testing.T) {
	mode, err := ParseDuplicateMode("replace")
	require.NoError(t, err)
	assert.Equal(t, DuplicateReplace, mode)

	_, err = ParseDuplicateMode("merge")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown duplicate handling")
}

func TestCityLoader_SkipModeNeverResurrectsSoftDeletedTwin(t *testing.T) {
	s := newLoaderStore(t)
	ctx := context.Background()

	dep, err := s.GetDepartmentByCode(ctx, "75")
	require.NoError(t, err)
	require.NotNil(t, dep)
	twin, err := s.InsertCity(ctx, model.City{
		Name: "PARIS", PostalCode: "75001", DepartmentID: dep.ID, Latitude: ptr(48.85),
	})
	require.NoError(t, err)
	require.NoError(t, s.SoftDeleteCity(ctx, twin.ID))

	// An unrelated active row must not change the outcome below.
	_, err = NewCityLoader(s, DuplicateSkip, false).Load(ctx, []model.CityData{
		{Name: "ORLEANS", PostalCode: "45000"},
	})
	require.NoError(t, err)

	_, err = NewCityLoader(s, DuplicateSkip, false).Load(ctx, []model.CityData{
		{Name: "PARIS", PostalCode: "75001", Latitude: ptr(12.0), Longitude: ptr(3.0)},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "UNIQUE constraint")

	reloaded, err := s.GetCity(ctx, twin.ID)
	require.NoError(t, err)
	assert.Nil(t, reloaded, "the soft-deleted row stays deleted in skip mode")
}
