package transform

import (
	"context"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/villedata/communes-cli/internal/extract"
	"github.com/villedata/communes-cli/pkg/geocode"
)

// streamRows feeds a fixed row set through channels shaped like the CSV
// extractor's output.
func streamRows(rows []extract.Row, streamErr error) (<-chan extract.Row, <-chan error) {
	rowCh := make(chan extract.Row, len(rows))
	errCh := make(chan error, 1)
	for _, r := range rows {
		rowCh <- r
	}
	close(rowCh)
	if streamErr != nil {
		errCh <- streamErr
	}
	close(errCh)
	return rowCh, errCh
}

// stubGeocoder records lookups and replies from a fixed table.
type stubGeocoder struct {
	results map[string]*geocode.Result
	calls   []string
}

func (s *stubGeocoder) Name() string { return "stub" }

func (s *stubGeocoder) Geocode(_ context.Context, city, postalCode string) (*geocode.Result, error) {
	s.calls = append(s.calls, city+"/"+postalCode)
	return s.results[city], nil
}

func TestCityTransformer_NormalizesNameAndPostalCode(t *testing.T) {
	t.Parallel()

	rows, errs := streamRows([]extract.Row{
		{"nom_commune": " paris ", "code_postal": "75001"},
		{"nom_commune": "Bourg-en-Bresse", "code_postal": "1000"},
	}, nil)

	cities, err := NewCityTransformer(nil, false).Transform(context.Background(), rows, errs)
	require.NoError(t, err)
	require.Len(t, cities, 2)
	assert.Equal(t, "PARIS", cities[0].Name)
	assert.Equal(t, "75001", cities[0].PostalCode)
	assert.Equal(t, "BOURG-EN-BRESSE", cities[1].Name)
	assert.Equal(t, "01000", cities[1].PostalCode, "postal codes are zero-padded to five digits")
}

func TestCityTransformer_FirstOccurrenceWins(t *testing.T) {
	t.Parallel()

	rows, errs := streamRows([]extract.Row{
		{"nom_commune": "Paris", "code_postal": "75001", "latitude": "48.85", "longitude": "2.35"},
		{"nom_commune": "  PARIS ", "code_postal": " 75001", "latitude": "0.0", "longitude": "0.0"},
	}, nil)

	cities, err := NewCityTransformer(nil, false).Transform(context.Background(), rows, errs)
	require.NoError(t, err)
	require.Len(t, cities, 1)
	require.NotNil(t, cities[0].Latitude)
	assert.InDelta(t, 48.85, *cities[0].Latitude, 0.001, "the first row's coordinates survive")
}

func TestCityTransformer_SkipsRowsMissingRequiredFields(t *testing.T) {
	t.Parallel()

	rows, errs := streamRows([]extract.Row{
		{"nom_commune": "", "code_postal": "75001"},
		{"nom_commune": "Paris", "code_postal": "   "},
		{"nom_commune": "Lyon", "code_postal": "69001"},
	}, nil)

	cities, err := NewCityTransformer(nil, false).Transform(context.Background(), rows, errs)
	require.NoError(t, err)
	require.Len(t, cities, 1)
	assert.Equal(t, "LYON", cities[0].Name)
}

func TestCityTransformer_InvalidCoordinatesAreAbsent(t *testing.T) {
	t.Parallel()

	rows, errs := streamRows([]extract.Row{
		{"nom_commune": "Nice", "code_postal": "06000", "latitude": "abc", "longitude": "7.27"},
	}, nil)

	cities, err := NewCityTransformer(nil, false).Transform(context.Background(), rows, errs)
	require.NoError(t, err)
	require.Len(t, cities, 1)
	assert.Nil(t, cities[0].Latitude)
	require.NotNil(t, cities[0].Longitude)
	assert.InDelta(t, 7.27, *cities[0].Longitude, 0.001)
}

func TestCityTransformer_GeocodesWithRawValues(t *testing.T) {
	t.Parallel()

	stub := &stubGeocoder{results: map[string]*geocode.Result{
		"chézy": {Latitude: 46.08, Longitude: 3.36, Source: "geo_api"},
	}}
	rows, errs := streamRows([]extract.Row{
		{"nom_commune": " chézy ", "code_postal": "3210"},
	}, nil)

	cities, err := NewCityTransformer(stub, true).Transform(context.Background(), rows, errs)
	require.NoError(t, err)
	require.Len(t, cities, 1)
	assert.Equal(t, "CHÉZY", cities[0].Name)
	assert.Equal(t, "03210", cities[0].PostalCode)
	require.NotNil(t, cities[0].Latitude)
	assert.InDelta(t, 46.08, *cities[0].Latitude, 0.001)
	require.Len(t, stub.calls, 1)
	assert.Equal(t, "chézy/3210", stub.calls[0],
		"provider sees the original casing and postal form, not the normalized one")
}

func TestCityTransformer_GeocodingMissLeavesCoordinatesAbsent(t *testing.T) {
	t.Parallel()

	stub := &stubGeocoder{results: map[string]*geocode.Result{}}
	rows, errs := streamRows([]extract.Row{
		{"nom_commune": "Atlantis", "code_postal": "99999"},
	}, nil)

	cities, err := NewCityTransformer(stub, true).Transform(context.Background(), rows, errs)
	require.NoError(t, err, "a geocoding miss never fails the pipeline")
	require.Len(t, cities, 1)
	assert.Nil(t, cities[0].Latitude)
	assert.Nil(t, cities[0].Longitude)
}

func TestCityTransformer_SkipsGeocodingWhenCoordinatesPresent(t *testing.T) {
	t.Parallel()

	stub := &stubGeocoder{results: map[string]*geocode.Result{}}
	rows, errs := streamRows([]extract.Row{
		{"nom_commune": "Paris", "code_postal": "75001", "latitude": "48.85", "longitude": "2.35"},
	}, nil)

	_, err := NewCityTransformer(stub, true).Transform(context.Background(), rows, errs)
	require.NoError(t, err)
	assert.Empty(t, stub.calls)
}

func TestCityTransformer_EmptyResultIsFatal(t *testing.T) {
	t.Parallel()

	rows, errs := streamRows(nil, nil)
	_, err := NewCityTransformer(nil, false).Transform(context.Background(), rows, errs)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no communes")
}

func TestCityTransformer_StreamErrorPropagates(t *testing.T) {
	t.Parallel()

	rows, errs := streamRows([]extract.Row{
		{"nom_commune": "Paris", "code_postal": "75001"},
	}, eris.New("read row: unexpected EOF"))

	_, err := NewCityTransformer(nil, false).Transform(context.Background(), rows, errs)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected EOF")
}
