// Package load writes transformed communes into the store, resolving each
// one to its department and applying the configured duplicate policy.
package load

import (
	"context"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/villedata/communes-cli/internal/model"
	"github.com/villedata/communes-cli/internal/store"
)

// DuplicateMode decides what happens when an incoming commune already exists.
type DuplicateMode string

const (
	// DuplicateSkip keeps the stored row untouched.
	DuplicateSkip DuplicateMode = "skip"
	// DuplicateReplace overwrites the stored row's mutable fields.
	DuplicateReplace DuplicateMode = "replace"
)

// ParseDuplicateMode validates a mode string from flags or config.
func ParseDuplicateMode(s string) (DuplicateMode, error) {
	switch DuplicateMode(s) {
	case DuplicateSkip, DuplicateReplace:
		return DuplicateMode(s), nil
	default:
		return "", eris.Errorf("load: unknown duplicate handling %q (want skip or replace)", s)
	}
}

// Stats reports what a load did.
type Stats struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
	Dropped int `json:"dropped"`
}

// CityLoader persists communes. In strict mode a commune whose postal code
// resolves to an unknown department aborts the whole run; in lenient mode it
// is dropped with a warning. Writes go through the store it was given, so a
// transaction-bound store makes the load atomic.
type CityLoader struct {
	store   store.Store
	mode    DuplicateMode
	lenient bool
	log     *zap.Logger
}

func NewCityLoader(st store.Store, mode DuplicateMode, lenient bool) *CityLoader {
	return &CityLoader{
		store:   st,
		mode:    mode,
		lenient: lenient,
		log:     zap.L().With(zap.String("component", "load.city")),
	}
}

// Load writes the communes and returns per-outcome counts.
func (l *CityLoader) Load(ctx context.Context, cities []model.CityData) (Stats, error) {
	var stats Stats

	type resolved struct {
		data model.CityData
		code string
	}
	kept := make([]resolved, 0, len(cities))
	codeSet := map[string]struct{}{}

	for _, c := range cities {
		code, err := model.DepartmentCodeFromPostal(c.PostalCode)
		if err != nil {
			if !l.lenient {
				return stats, eris.Wrapf(err, "load: commune %s", c.Name)
			}
			l.log.Warn("dropping commune with unusable postal code",
				zap.String("name", c.Name), zap.String("postal_code", c.PostalCode))
			stats.Dropped++
			continue
		}
		kept = append(kept, resolved{data: c, code: code})
		codeSet[code] = struct{}{}
	}

	codes := make([]string, 0, len(codeSet))
	for code := range codeSet {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	departments, err := l.store.GetDepartmentsByCodes(ctx, codes)
	if err != nil {
		return stats, err
	}

	var missing []string
	for _, code := range codes {
		if _, ok := departments[code]; !ok {
			missing = append(missing, code)
		}
	}
	if len(missing) > 0 {
		if !l.lenient {
			return stats, eris.Errorf("load: missing departments: %v", missing)
		}
		l.log.Warn("dropping communes of unknown departments", zap.Strings("codes", missing))
	}

	existing, err := l.existingByKey(ctx)
	if err != nil {
		return stats, err
	}

	var toWrite []model.City
	for _, r := range kept {
		dep, ok := departments[r.code]
		if !ok {
			stats.Dropped++
			continue
		}
		city := model.City{
			Name:         r.data.Name,
			PostalCode:   r.data.PostalCode,
			DepartmentID: dep.ID,
			Latitude:     r.data.Latitude,
			Longitude:    r.data.Longitude,
		}
		if _, exists := existing[cityKey{r.data.Name, r.data.PostalCode}]; exists {
			if l.mode == DuplicateSkip {
				stats.Skipped++
				continue
			}
			stats.Updated++
		} else {
			stats.Created++
		}
		toWrite = append(toWrite, city)
	}

	if l.mode == DuplicateReplace {
		if _, err := l.store.UpsertCities(ctx, toWrite); err != nil {
			return stats, err
		}
	} else {
		// Skip mode only writes rows absent from the active set, so plain
		// inserts suffice. A uniqueness clash (soft-deleted twin, concurrent
		// run) must then fail the transaction, never overwrite the stored row.
		if _, err := l.store.BulkInsertCities(ctx, toWrite); err != nil {
			return stats, err
		}
	}

	l.log.Info("communes loaded",
		zap.String("mode", string(l.mode)),
		zap.Int("created", stats.Created),
		zap.Int("updated", stats.Updated),
		zap.Int("skipped", stats.Skipped),
		zap.Int("dropped", stats.Dropped),
	)
	return stats, nil
}

type cityKey struct{ name, postal string }

func (l *CityLoader) existingByKey(ctx context.Context) (map[cityKey]model.City, error) {
	cities, err := l.store.ListActiveCities(ctx)
	if err != nil {
		return nil, err
	}
	existing := make(map[cityKey]model.City, len(cities))
	for _, c := range cities {
		existing[cityKey{c.Name, c.PostalCode}] = c
	}
	return existing, nil
}
