package transform

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/villedata/communes-cli/internal/extract"
	"github.com/villedata/communes-cli/internal/model"
)

// DepartmentTransformer extracts the unique departments (code + owning
// region) from the row stream, for migration-time population.
type DepartmentTransformer struct {
	log *zap.Logger
}

func NewDepartmentTransformer() *DepartmentTransformer {
	return &DepartmentTransformer{log: zap.L().With(zap.String("component", "transform.department"))}
}

// Transform deduplicates on (code, region name), first occurrence wins.
// Rows missing any of name, code, or region are skipped and logged.
func (t *DepartmentTransformer) Transform(_ context.Context, rows <-chan extract.Row, errs <-chan error) ([]model.DepartmentData, error) {
	type key struct{ code, region string }

	seen := map[key]struct{}{}
	var departments []model.DepartmentData

	for row := range rows {
		name := NormalizeName(row.Get(ColumnDepartment))
		code := CleanString(row.Get(ColumnDepartmentCode))
		region := NormalizeName(row.Get(ColumnRegion))
		if name == "" || code == "" || region == "" {
			t.log.Warn("skipping row with missing department fields",
				zap.String("nom_departement", name),
				zap.String("code_departement", code),
				zap.String("nom_region", region),
			)
			continue
		}

		k := key{code, region}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		departments = append(departments, model.DepartmentData{
			Name:       name,
			Code:       code,
			RegionName: region,
		})
	}
	if err := <-errs; err != nil {
		return nil, err
	}
	if len(departments) == 0 {
		return nil, eris.New("transform: no departments extracted from source")
	}

	t.log.Info("departments transformed", zap.Int("count", len(departments)))
	return departments, nil
}
