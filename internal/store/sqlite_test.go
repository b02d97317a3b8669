package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/villedata/communes-cli/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "communes.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func seedRegion(t *testing.T, s *SQLiteStore, name string) *model.Region {
	t.Helper()
	r, err := s.InsertRegion(context.Background(), name)
	require.NoError(t, err)
	return r
}

func seedDepartment(t *testing.T, s *SQLiteStore, name, code string, regionID int64) *model.Department {
	t.Helper()
	d, err := s.InsertDepartment(context.Background(), name, code, regionID)
	require.NoError(t, err)
	return d
}

func TestSQLiteStore_RegionRoundTrip(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	created := seedRegion(t, s, "BRETAGNE")
	assert.NotZero(t, created.ID)

	got, err := s.GetRegionByName(ctx, "BRETAGNE")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, created.ID, got.ID)
	assert.Nil(t, got.DeletedAt, "an active row scans with no deletion timestamp")

	missing, err := s.GetRegionByName(ctx, "ATLANTIDE")
	require.NoError(t, err)
	assert.Nil(t, missing)

	n, err := s.CountRegions(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestSQLiteStore_SoftDeleteHidesRegion(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	r := seedRegion(t, s, "OCCITANIE")
	require.NoError(t, s.SoftDeleteRegion(ctx, r.ID))

	got, err := s.GetRegionByName(ctx, "OCCITANIE")
	require.NoError(t, err)
	assert.Nil(t, got, "soft-deleted rows are invisible to reads")

	n, err := s.CountRegions(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	err = s.SoftDeleteRegion(ctx, r.ID)
	require.Error(t, err, "deleting an already-deleted row fails")
}

func TestSQLiteStore_DepartmentFlow(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	centre := seedRegion(t, s, "CENTRE-VAL DE LOIRE")
	corse := seedRegion(t, s, "CORSE")
	seedDepartment(t, s, "LOIRET", "45", centre.ID)
	d2a := seedDepartment(t, s, "CORSE DU SUD", "2A", corse.ID)

	byCode, err := s.GetDepartmentByCode(ctx, "45")
	require.NoError(t, err)
	require.NotNil(t, byCode)
	assert.Equal(t, "LOIRET", byCode.Name)

	require.NoError(t, s.UpdateDepartmentName(ctx, d2a.ID, "CORSE-DU-SUD"))
	require.NoError(t, s.UpdateDepartmentRegion(ctx, d2a.ID, centre.ID))

	got, err := s.GetDepartment(ctx, d2a.ID)
	require.NoError(t, err)
	assert.Equal(t, "CORSE-DU-SUD", got.Name)
	assert.Equal(t, centre.ID, got.RegionID)

	bulk, err := s.GetDepartmentsByCodes(ctx, []string{"45", "2A", "99"})
	require.NoError(t, err)
	require.Len(t, bulk, 2, "unknown codes are simply absent from the map")
	assert.Equal(t, d2a.ID, bulk["2A"].ID)

	deleted, err := s.DeleteAllDepartments(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)
}

func TestSQLiteStore_CityUpsertResurrectsAndOverwrites(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	r := seedRegion(t, s, "ILE-DE-FRANCE")
	d := seedDepartment(t, s, "PARIS", "75", r.ID)

	lat, lon := 48.85, 2.35
	city, err := s.InsertCity(ctx, model.City{
		Name: "PARIS", PostalCode: "75001", DepartmentID: d.ID, Latitude: &lat, Longitude: &lon,
	})
	require.NoError(t, err)
	require.NoError(t, s.SoftDeleteCity(ctx, city.ID))

	newLat, newLon := 48.86, 2.34
	n, err := s.UpsertCities(ctx, []model.City{
		{Name: "PARIS", PostalCode: "75001", DepartmentID: d.ID, Latitude: &newLat, Longitude: &newLon},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := s.GetCityByNamePostal(ctx, "PARIS", "75001")
	require.NoError(t, err)
	require.NotNil(t, got, "the upsert resurrects the soft-deleted row")
	assert.Equal(t, city.ID, got.ID)
	require.NotNil(t, got.Latitude)
	assert.InDelta(t, 48.86, *got.Latitude, 0.001)
}

func TestSQLiteStore_CoordinateChecksRejectOutOfRange(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	r := seedRegion(t, s, "ILE-DE-FRANCE")
	d := seedDepartment(t, s, "PARIS", "75", r.ID)

	bad := 123.0
	_, err := s.InsertCity(ctx, model.City{
		Name: "NOWHERE", PostalCode: "75002", DepartmentID: d.ID, Latitude: &bad,
	})
	require.Error(t, err, "latitude outside [-90, 90] violates the check constraint")
}

func TestSQLiteStore_BulkInsertAndList(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	r := seedRegion(t, s, "AUVERGNE-RHONE-ALPES")
	d := seedDepartment(t, s, "RHONE", "69", r.ID)

	n, err := s.BulkInsertCities(ctx, []model.City{
		{Name: "LYON", PostalCode: "69001", DepartmentID: d.ID},
		{Name: "VILLEURBANNE", PostalCode: "69100", DepartmentID: d.ID},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	cities, err := s.ListActiveCities(ctx)
	require.NoError(t, err)
	require.Len(t, cities, 2)
	assert.Equal(t, "LYON", cities[0].Name, "listing is ordered by postal code")
}

func TestSQLiteStore_InTxRollsBackEverything(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	err := s.InTx(ctx, func(ctx context.Context, st Store) error {
		if _, err := st.InsertRegion(ctx, "NORMANDIE"); err != nil {
			return err
		}
		return eris.New("abort the run")
	})
	require.Error(t, err)

	got, lookupErr := s.GetRegionByName(ctx, "NORMANDIE")
	require.NoError(t, lookupErr)
	assert.Nil(t, got, "nothing written by a failed run survives")
}

func TestSQLiteStore_InTxCommits(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	err := s.InTx(ctx, func(ctx context.Context, st Store) error {
		_, err := st.InsertRegion(ctx, "GRAND EST")
		return err
	})
	require.NoError(t, err)

	got, err := s.GetRegionByName(ctx, "GRAND EST")
	require.NoError(t, err)
	require.NotNil(t, got)
}
