// Package model defines the persistent entities (region, department, city)
// and the intermediate records exchanged between ETL stages.
package model

import "time"

// Lifecycle carries the shared soft-delete state of every persistent entity.
// Rows are never hard-deleted by the ETL; queries filter on deleted_at.
type Lifecycle struct {
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// IsActive reports whether the entity has not been soft-deleted.
func (l Lifecycle) IsActive() bool {
	return l.DeletedAt == nil
}

// Region is a French administrative region. Names are stored in canonical
// uppercase form and are unique among active rows.
type Region struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Lifecycle
}

// Department is a French department. Code is the INSEE department code
// ("01".."95", "2A", "2B", "971".."988") and is globally unique.
type Department struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Code     string `json:"code_departement"`
	RegionID int64  `json:"region_id"`
	Lifecycle
}

// City is a French commune. The (Name, PostalCode) pair is unique among
// active rows, and DepartmentID always matches the department whose code is
// derived from PostalCode (see DepartmentCodeFromPostal).
type City struct {
	ID           int64    `json:"id"`
	Name         string   `json:"name"`
	PostalCode   string   `json:"code_postal"`
	DepartmentID int64    `json:"department_id"`
	Latitude     *float64 `json:"latitude,omitempty"`
	Longitude    *float64 `json:"longitude,omitempty"`
	Lifecycle
}

// RegionData is the intermediate record produced by the region transformer.
type RegionData struct {
	Name string
}

// DepartmentData is the intermediate record produced by the department
// transformer. RegionID is filled in once the owning region is persisted.
type DepartmentData struct {
	Name       string
	Code       string
	RegionName string
	RegionID   *int64
}

// CityData is the intermediate record produced by the city transformer and
// consumed by the city loader. Coordinates are optional.
type CityData struct {
	Name           string
	PostalCode     string
	DepartmentName string
	Latitude       *float64
	Longitude      *float64
}
