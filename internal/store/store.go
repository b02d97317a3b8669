// Package store persists regions, departments, and cities behind a backend
// switchable between PostgreSQL and SQLite.
package store

import (
	"context"

	"github.com/villedata/communes-cli/internal/model"
)

// Store defines the persistence interface for the commune ETL and the CRUD
// API. Lookups return (nil, nil) when no active row matches; reads always
// exclude soft-deleted rows.
type Store interface {
	// Regions
	GetRegion(ctx context.Context, id int64) (*model.Region, error)
	GetRegionByName(ctx context.Context, name string) (*model.Region, error)
	ListRegions(ctx context.Context) ([]model.Region, error)
	InsertRegion(ctx context.Context, name string) (*model.Region, error)
	CountRegions(ctx context.Context) (int64, error)
	SoftDeleteRegion(ctx context.Context, id int64) error
	DeleteAllRegions(ctx context.Context) (int64, error)

	// Departments
	GetDepartment(ctx context.Context, id int64) (*model.Department, error)
	GetDepartmentByCode(ctx context.Context, code string) (*model.Department, error)
	GetDepartmentsByCodes(ctx context.Context, codes []string) (map[string]model.Department, error)
	ListDepartments(ctx context.Context) ([]model.Department, error)
	InsertDepartment(ctx context.Context, name, code string, regionID int64) (*model.Department, error)
	UpdateDepartmentRegion(ctx context.Context, id, regionID int64) error
	UpdateDepartmentName(ctx context.Context, id int64, name string) error
	CountDepartments(ctx context.Context) (int64, error)
	SoftDeleteDepartment(ctx context.Context, id int64) error
	DeleteAllDepartments(ctx context.Context) (int64, error)

	// Cities
	GetCity(ctx context.Context, id int64) (*model.City, error)
	GetCityByNamePostal(ctx context.Context, name, postalCode string) (*model.City, error)
	ListActiveCities(ctx context.Context) ([]model.City, error)
	InsertCity(ctx context.Context, city model.City) (*model.City, error)
	BulkInsertCities(ctx context.Context, cities []model.City) (int64, error)
	UpsertCities(ctx context.Context, cities []model.City) (int64, error)
	CountCities(ctx context.Context) (int64, error)
	SoftDeleteCity(ctx context.Context, id int64) error

	// InTx runs fn against a Store bound to a single transaction, committing
	// on nil and rolling back on error or panic.
	InTx(ctx context.Context, fn func(ctx context.Context, s Store) error) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
