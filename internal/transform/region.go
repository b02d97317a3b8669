package transform

import (
	"context"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/villedata/communes-cli/internal/extract"
	"github.com/villedata/communes-cli/internal/model"
)

// RegionTransformer extracts the unique region names from the row stream.
// Its output feeds the migration-time population step, not the city pipeline.
type RegionTransformer struct {
	log *zap.Logger
}

func NewRegionTransformer() *RegionTransformer {
	return &RegionTransformer{log: zap.L().With(zap.String("component", "transform.region"))}
}

// Transform returns one RegionData per distinct normalized region name,
// sorted for stable output.
func (t *RegionTransformer) Transform(_ context.Context, rows <-chan extract.Row, errs <-chan error) ([]model.RegionData, error) {
	names := map[string]struct{}{}
	for row := range rows {
		if name := NormalizeName(row.Get(ColumnRegion)); name != "" {
			names[name] = struct{}{}
		}
	}
	if err := <-errs; err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, eris.New("transform: no regions extracted from source")
	}

	regions := make([]model.RegionData, 0, len(names))
	for name := range names {
		regions = append(regions, model.RegionData{Name: name})
	}
	sort.Slice(regions, func(i, j int) bool { return regions[i].Name < regions[j].Name })

	t.log.Info("regions transformed", zap.Int("count", len(regions)))
	return regions, nil
}
