// Package geocode resolves French commune coordinates through two
// interchangeable providers: the geo.api.gouv.fr commune gazetteer (bulk
// download, local lookup) and Nominatim (rate-limited per-lookup queries).
package geocode

import (
	"context"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Geocoder looks up coordinates for a commune. A nil Result with a nil error
// means "no match": lookups are best-effort and a miss is never an error.
type Geocoder interface {
	Name() string
	Geocode(ctx context.Context, city, postalCode string) (*Result, error)
}

// Result holds a successful geocoding lookup, tagged with its source so
// callers can distinguish cache hits from live provider answers.
type Result struct {
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	Source      string  `json:"-"`
	DisplayName string  `json:"display_name,omitempty"`
	City        string  `json:"city,omitempty"`
	Postcode    string  `json:"postcode,omitempty"`
}

var nameSeparators = regexp.MustCompile(`[-\s]+`)

// normalizeName folds a commune name for index lookup: NFD decomposition,
// combining marks stripped, lowercased, hyphens and whitespace collapsed to
// single spaces ("Saint-Étienne " and "saint etienne" normalize identically).
func normalizeName(name string) string {
	stripped, _, _ := transform.String(transform.Chain(
		norm.NFD,
		runes.Remove(runes.In(unicode.Mn)),
		norm.NFC,
	), name)
	lowered := strings.ToLower(strings.TrimSpace(stripped))
	return nameSeparators.ReplaceAllString(lowered, " ")
}
