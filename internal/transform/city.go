package transform

import (
	"context"
	"strconv"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/villedata/communes-cli/internal/extract"
	"github.com/villedata/communes-cli/internal/model"
	"github.com/villedata/communes-cli/pkg/geocode"
)

// CSV column names of the commune export.
const (
	ColumnRegion         = "nom_region"
	ColumnDepartment     = "nom_departement"
	ColumnDepartmentCode = "code_departement"
	ColumnCity           = "nom_commune"
	ColumnPostalCode     = "code_postal"
	ColumnLatitude       = "latitude"
	ColumnLongitude      = "longitude"
)

// CityTransformer deduplicates commune rows on (name, postal code) and
// optionally enriches missing coordinates through a geocoding provider.
type CityTransformer struct {
	geocoder geocode.Geocoder
	enabled  bool
	log      *zap.Logger
}

// NewCityTransformer builds the transformer. geocoder may be nil when
// enrichment is disabled.
func NewCityTransformer(geocoder geocode.Geocoder, enableGeocoding bool) *CityTransformer {
	return &CityTransformer{
		geocoder: geocoder,
		enabled:  enableGeocoding && geocoder != nil,
		log:      zap.L().With(zap.String("component", "transform.city")),
	}
}

// Transform consumes the row stream and returns the unique communes in
// first-seen order. Rows with a blank name or postal code are skipped with a
// log line. An error on the stream, or an empty result set, is fatal.
func (t *CityTransformer) Transform(ctx context.Context, rows <-chan extract.Row, errs <-chan error) ([]model.CityData, error) {
	type key struct{ name, postal string }

	seen := map[key]int{}
	var cities []model.CityData

	for row := range rows {
		rawName := row.Get(ColumnCity)
		rawPostal := row.Get(ColumnPostalCode)
		if rawName == "" || rawPostal == "" {
			t.log.Warn("skipping row with missing commune fields",
				zap.String("nom_commune", rawName),
				zap.String("code_postal", rawPostal),
			)
			continue
		}

		name := NormalizeName(rawName)
		postal := NormalizePostalCode(rawPostal)

		k := key{name, postal}
		if _, dup := seen[k]; dup {
			// First occurrence wins; later duplicates never overwrite it.
			t.log.Debug("duplicate commune discarded",
				zap.String("name", name), zap.String("postal_code", postal))
			continue
		}

		lat, lon := parseCoordinates(row)
		if lat == nil && lon == nil && t.enabled {
			// Geocode with the raw values: providers and their caches match
			// on the original casing and postal form, not the normalized one.
			lat, lon = t.geocodeRow(ctx, rawName, rawPostal)
		}

		seen[k] = len(cities)
		cities = append(cities, model.CityData{
			Name:           name,
			PostalCode:     postal,
			DepartmentName: NormalizeName(row.Get(ColumnDepartment)),
			Latitude:       lat,
			Longitude:      lon,
		})
	}

	if err := <-errs; err != nil {
		return nil, err
	}
	if len(cities) == 0 {
		return nil, eris.New("transform: no communes extracted from source")
	}

	t.log.Info("communes transformed", zap.Int("count", len(cities)))
	return cities, nil
}

// parseCoordinates reads the optional latitude/longitude columns. Anything
// unparseable is treated as absent, not as an error.
func parseCoordinates(row extract.Row) (*float64, *float64) {
	var lat, lon *float64
	if v := row.Get(ColumnLatitude); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			lat = &f
		}
	}
	if v := row.Get(ColumnLongitude); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			lon = &f
		}
	}
	return lat, lon
}

func (t *CityTransformer) geocodeRow(ctx context.Context, city, postal string) (*float64, *float64) {
	res, err := t.geocoder.Geocode(ctx, city, postal)
	if err != nil || res == nil {
		if err != nil {
			t.log.Warn("geocoding error ignored",
				zap.String("city", city), zap.Error(err))
		}
		return nil, nil
	}
	return &res.Latitude, &res.Longitude
}
