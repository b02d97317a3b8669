// Package seed populates the regions and departments reference tables from
// a JSON document, and tears them down again.
package seed

import (
	"context"
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/villedata/communes-cli/internal/extract"
	"github.com/villedata/communes-cli/internal/store"
	"github.com/villedata/communes-cli/internal/transform"
)

// Document is the reference dataset: every region with its departments.
type Document struct {
	Regions []RegionSeed `json:"regions"`
}

// RegionSeed is one region entry of the document.
type RegionSeed struct {
	Name        string           `json:"nom"`
	Departments []DepartmentSeed `json:"departements"`
}

// DepartmentSeed is one department entry of a region.
type DepartmentSeed struct {
	Code string `json:"code"`
	Name string `json:"nom"`
}

// LoadFile reads and parses the reference dataset. A missing or malformed
// file is fatal; there is no point migrating without it.
func LoadFile(path string) (*Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, eris.Wrapf(err, "seed: dataset not found: %s", path)
		}
		return nil, eris.Wrapf(err, "seed: read %s", path)
	}

	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, eris.Wrapf(err, "seed: parse %s", path)
	}
	if len(doc.Regions) == 0 {
		return nil, eris.Errorf("seed: dataset %s contains no regions", path)
	}
	return &doc, nil
}

// Generate rebuilds the reference dataset from a commune CSV export,
// grouping the extracted departments under their owning regions. The CSV is
// read twice: one pass per transformer, since the reader is single-pass.
func Generate(ctx context.Context, csvPath string, opts extract.CSVOptions) (*Document, error) {
	reader, err := extract.OpenCSV(csvPath, opts)
	if err != nil {
		return nil, err
	}
	rows, errs := reader.Stream(ctx)
	regions, err := transform.NewRegionTransformer().Transform(ctx, rows, errs)
	if err != nil {
		return nil, err
	}

	reader, err = extract.OpenCSV(csvPath, opts)
	if err != nil {
		return nil, err
	}
	rows, errs = reader.Stream(ctx)
	departments, err := transform.NewDepartmentTransformer().Transform(ctx, rows, errs)
	if err != nil {
		return nil, err
	}

	byRegion := map[string][]DepartmentSeed{}
	for _, d := range departments {
		byRegion[d.RegionName] = append(byRegion[d.RegionName],
			DepartmentSeed{Code: d.Code, Name: d.Name})
	}

	doc := &Document{Regions: make([]RegionSeed, 0, len(regions))}
	for _, r := range regions {
		doc.Regions = append(doc.Regions, RegionSeed{
			Name:        r.Name,
			Departments: byRegion[r.Name],
		})
	}
	return doc, nil
}

// Save writes the dataset as indented JSON.
func Save(doc *Document, path string) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return eris.Wrap(err, "seed: marshal dataset")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return eris.Wrapf(err, "seed: write %s", path)
	}
	return nil
}

// PopulateStats reports what Populate changed.
type PopulateStats struct {
	RegionsCreated     int
	DepartmentsCreated int
	DepartmentsUpdated int
}

// TeardownStats reports what Teardown removed.
type TeardownStats struct {
	RegionsDeleted     int64
	DepartmentsDeleted int64
}

// Seeder applies the reference dataset to a store.
type Seeder struct {
	store store.Store
	log   *zap.Logger
}

func New(st store.Store) *Seeder {
	return &Seeder{
		store: st,
		log:   zap.L().With(zap.String("component", "seed")),
	}
}

// Populate upserts every region and department of the document in one
// transaction. Running it twice changes nothing; a department whose name or
// owning region differs from the stored row is updated in place.
func (s *Seeder) Populate(ctx context.Context, doc *Document) (PopulateStats, error) {
	var stats PopulateStats

	err := s.store.InTx(ctx, func(ctx context.Context, st store.Store) error {
		for _, regionSeed := range doc.Regions {
			regionName := transform.NormalizeName(regionSeed.Name)
			if regionName == "" {
				return eris.New("seed: region with empty name")
			}

			region, err := st.GetRegionByName(ctx, regionName)
			if err != nil {
				return err
			}
			if region == nil {
				if region, err = st.InsertRegion(ctx, regionName); err != nil {
					return err
				}
				stats.RegionsCreated++
			}

			for _, depSeed := range regionSeed.Departments {
				name := transform.NormalizeName(depSeed.Name)
				code := transform.CleanString(depSeed.Code)
				if name == "" || code == "" {
					return eris.Errorf("seed: incomplete department in region %s", regionName)
				}

				dep, err := st.GetDepartmentByCode(ctx, code)
				if err != nil {
					return err
				}
				if dep == nil {
					if _, err := st.InsertDepartment(ctx, name, code, region.ID); err != nil {
						return err
					}
					stats.DepartmentsCreated++
					continue
				}

				updated := false
				if dep.RegionID != region.ID {
					if err := st.UpdateDepartmentRegion(ctx, dep.ID, region.ID); err != nil {
						return err
					}
					updated = true
				}
				if dep.Name != name {
					if err := st.UpdateDepartmentName(ctx, dep.ID, name); err != nil {
						return err
					}
					updated = true
				}
				if updated {
					stats.DepartmentsUpdated++
				}
			}
		}
		return nil
	})
	if err != nil {
		return PopulateStats{}, err
	}

	s.log.Info("reference data populated",
		zap.Int("regions_created", stats.RegionsCreated),
		zap.Int("departments_created", stats.DepartmentsCreated),
		zap.Int("departments_updated", stats.DepartmentsUpdated),
	)
	return stats, nil
}

// Teardown removes all departments, then all regions, in one transaction.
// Counts are taken before deleting so the caller can report what was there.
func (s *Seeder) Teardown(ctx context.Context) (TeardownStats, error) {
	var stats TeardownStats

	err := s.store.InTx(ctx, func(ctx context.Context, st store.Store) error {
		departments, err := st.DeleteAllDepartments(ctx)
		if err != nil {
			return err
		}
		regions, err := st.DeleteAllRegions(ctx)
		if err != nil {
			return err
		}
		stats = TeardownStats{RegionsDeleted: regions, DepartmentsDeleted: departments}
		return nil
	})
	if err != nil {
		return TeardownStats{}, err
	}

	s.log.Info("reference data removed",
		zap.Int64("departments_deleted", stats.DepartmentsDeleted),
		zap.Int64("regions_deleted", stats.RegionsDeleted),
	)
	return stats, nil
}
