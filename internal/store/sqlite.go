package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/villedata/communes-cli/internal/model"
)

// sqliteQuerier is satisfied by *sql.DB and *sql.Tx so store methods can run
// inside or outside a transaction unchanged.
type sqliteQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLiteStore implements Store using modernc.org/sqlite. It exists for local
// runs and tests that should not need a PostgreSQL server.
type SQLiteStore struct {
	db *sql.DB
	q  sqliteQuerier
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db, q: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS regions (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	name       TEXT NOT NULL UNIQUE,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now')),
	deleted_at DATETIME
);

CREATE TABLE IF NOT EXISTS departments (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	name       TEXT NOT NULL,
	code       TEXT NOT NULL UNIQUE,
	region_id  INTEGER NOT NULL REFERENCES regions(id),
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now')),
	deleted_at DATETIME
);

CREATE TABLE IF NOT EXISTS cities (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	name          TEXT NOT NULL,
	postal_code   TEXT NOT NULL,
	department_id INTEGER NOT NULL REFERENCES departments(id),
	latitude      REAL CHECK (latitude IS NULL OR latitude BETWEEN -90 AND 90),
	longitude     REAL CHECK (longitude IS NULL OR longitude BETWEEN -180 AND 180),
	created_at    DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at    DATETIME NOT NULL DEFAULT (datetime('now')),
	deleted_at    DATETIME,
	UNIQUE (name, postal_code)
);

CREATE INDEX IF NOT EXISTS idx_departments_region_id ON departments(region_id);
CREATE INDEX IF NOT EXISTS idx_cities_postal_code ON cities(postal_code);
CREATE INDEX IF NOT EXISTS idx_cities_department_id ON cities(department_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.q.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) InTx(ctx context.Context, fn func(ctx context.Context, st Store) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback()

	if err := fn(ctx, &SQLiteStore{db: s.db, q: tx}); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit tx")
}

// Regions

func (s *SQLiteStore) GetRegion(ctx context.Context, id int64) (*model.Region, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT id, name, deleted_at FROM regions WHERE id = ? AND deleted_at IS NULL`, id)
	return scanSQLiteRegion(row)
}

func (s *SQLiteStore) GetRegionByName(ctx context.Context, name string) (*model.Region, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT id, name, deleted_at FROM regions WHERE name = ? AND deleted_at IS NULL`, name)
	return scanSQLiteRegion(row)
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	return &t.Time
}

func scanSQLiteRegion(row *sql.Row) (*model.Region, error) {
	var r model.Region
	var deleted sql.NullTime
	if err := row.Scan(&r.ID, &r.Name, &deleted); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, eris.Wrap(err, "sqlite: get region")
	}
	r.DeletedAt = nullTimePtr(deleted)
	return &r, nil
}

func (s *SQLiteStore) ListRegions(ctx context.Context) ([]model.Region, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT id, name, deleted_at FROM regions WHERE deleted_at IS NULL ORDER BY name`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list regions")
	}
	defer rows.Close()

	var regions []model.Region
	for rows.Next() {
		var r model.Region
		var deleted sql.NullTime
		if err := rows.Scan(&r.ID, &r.Name, &deleted); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan region")
		}
		r.DeletedAt = nullTimePtr(deleted)
		regions = append(regions, r)
	}
	return regions, eris.Wrap(rows.Err(), "sqlite: list regions")
}

func (s *SQLiteStore) InsertRegion(ctx context.Context, name string) (*model.Region, error) {
	var id int64
	err := s.q.QueryRowContext(ctx,
		`INSERT INTO regions (name) VALUES (?) RETURNING id`, name).Scan(&id)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert region %s", name)
	}
	return &model.Region{ID: id, Name: name}, nil
}

func (s *SQLiteStore) CountRegions(ctx context.Context) (int64, error) {
	return s.count(ctx, `SELECT count(*) FROM regions WHERE deleted_at IS NULL`)
}

func (s *SQLiteStore) SoftDeleteRegion(ctx context.Context, id int64) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE regions SET deleted_at = datetime('now'), updated_at = datetime('now') WHERE id = ? AND deleted_at IS NULL`, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: soft delete region %d", id)
	}
	return checkRowsAffected(res, "region", id)
}

func (s *SQLiteStore) DeleteAllRegions(ctx context.Context) (int64, error) {
	res, err := s.q.ExecContext(ctx, `DELETE FROM regions`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: delete regions")
	}
	n, err := res.RowsAffected()
	return n, eris.Wrap(err, "sqlite: delete regions")
}

// Departments

func (s *SQLiteStore) GetDepartment(ctx context.Context, id int64) (*model.Department, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT id, name, code, region_id, deleted_at FROM departments WHERE id = ? AND deleted_at IS NULL`, id)
	return scanSQLiteDepartment(row)
}

func (s *SQLiteStore) GetDepartmentByCode(ctx context.Context, code string) (*model.Department, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT id, name, code, region_id, deleted_at FROM departments WHERE code = ? AND deleted_at IS NULL`, code)
	return scanSQLiteDepartment(row)
}

func scanSQLiteDepartment(row *sql.Row) (*model.Department, error) {
	var d model.Department
	var deleted sql.NullTime
	if err := row.Scan(&d.ID, &d.Name, &d.Code, &d.RegionID, &deleted); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, eris.Wrap(err, "sqlite: get department")
	}
	d.DeletedAt = nullTimePtr(deleted)
	return &d, nil
}

func (s *SQLiteStore) GetDepartmentsByCodes(ctx context.Context, codes []string) (map[string]model.Department, error) {
	if len(codes) == 0 {
		return map[string]model.Department{}, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(codes)), ",")
	args := make([]any, len(codes))
	for i, c := range codes {
		args[i] = c
	}
	rows, err := s.q.QueryContext(ctx,
		`SELECT id, name, code, region_id, deleted_at FROM departments WHERE code IN (`+placeholders+`) AND deleted_at IS NULL`,
		args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get departments by codes")
	}
	defer rows.Close()

	departments := make(map[string]model.Department, len(codes))
	for rows.Next() {
		var d model.Department
		var deleted sql.NullTime
		if err := rows.Scan(&d.ID, &d.Name, &d.Code, &d.RegionID, &deleted); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan department")
		}
		d.DeletedAt = nullTimePtr(deleted)
		departments[d.Code] = d
	}
	return departments, eris.Wrap(rows.Err(), "sqlite: get departments by codes")
}

func (s *SQLiteStore) ListDepartments(ctx context.Context) ([]model.Department, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT id, name, code, region_id, deleted_at FROM departments WHERE deleted_at IS NULL ORDER BY code`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list departments")
	}
	defer rows.Close()

	var departments []model.Department
	for rows.Next() {
		var d model.Department
		var deleted sql.NullTime
		if err := rows.Scan(&d.ID, &d.Name, &d.Code, &d.RegionID, &deleted); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan department")
		}
		d.DeletedAt = nullTimePtr(deleted)
		departments = append(departments, d)
	}
	return departments, eris.Wrap(rows.Err(), "sqlite: list departments")
}

func (s *SQLiteStore) InsertDepartment(ctx context.Context, name, code string, regionID int64) (*model.Department, error) {
	var id int64
	err := s.q.QueryRowContext(ctx,
		`INSERT INTO departments (name, code, region_id) VALUES (?, ?, ?) RETURNING id`,
		name, code, regionID).Scan(&id)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert department %s", code)
	}
	return &model.Department{ID: id, Name: name, Code: code, RegionID: regionID}, nil
}

func (s *SQLiteStore) UpdateDepartmentRegion(ctx context.Context, id, regionID int64) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE departments SET region_id = ?, updated_at = datetime('now') WHERE id = ?`, regionID, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update department region %d", id)
	}
	return checkRowsAffected(res, "department", id)
}

func (s *SQLiteStore) UpdateDepartmentName(ctx context.Context, id int64, name string) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE departments SET name = ?, updated_at = datetime('now') WHERE id = ?`, name, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update department name %d", id)
	}
	return checkRowsAffected(res, "department", id)
}

func (s *SQLiteStore) CountDepartments(ctx context.Context) (int64, error) {
	return s.count(ctx, `SELECT count(*) FROM departments WHERE deleted_at IS NULL`)
}

func (s *SQLiteStore) SoftDeleteDepartment(ctx context.Context, id int64) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE departments SET deleted_at = datetime('now'), updated_at = datetime('now') WHERE id = ? AND deleted_at IS NULL`, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: soft delete department %d", id)
	}
	return checkRowsAffected(res, "department", id)
}

func (s *SQLiteStore) DeleteAllDepartments(ctx context.Context) (int64, error) {
	res, err := s.q.ExecContext(ctx, `DELETE FROM departments`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: delete departments")
	}
	n, err := res.RowsAffected()
	return n, eris.Wrap(err, "sqlite: delete departments")
}

// Cities

func (s *SQLiteStore) GetCity(ctx context.Context, id int64) (*model.City, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT id, name, postal_code, department_id, latitude, longitude, deleted_at FROM cities WHERE id = ? AND deleted_at IS NULL`, id)
	return scanSQLiteCity(row)
}

func (s *SQLiteStore) GetCityByNamePostal(ctx context.Context, name, postalCode string) (*model.City, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT id, name, postal_code, department_id, latitude, longitude, deleted_at FROM cities WHERE name = ? AND postal_code = ? AND deleted_at IS NULL`,
		name, postalCode)
	return scanSQLiteCity(row)
}

func scanSQLiteCity(row *sql.Row) (*model.City, error) {
	var c model.City
	var deleted sql.NullTime
	if err := row.Scan(&c.ID, &c.Name, &c.PostalCode, &c.DepartmentID, &c.Latitude, &c.Longitude, &deleted); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, eris.Wrap(err, "sqlite: get city")
	}
	c.DeletedAt = nullTimePtr(deleted)
	return &c, nil
}

func (s *SQLiteStore) ListActiveCities(ctx context.Context) ([]model.City, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT id, name, postal_code, department_id, latitude, longitude, deleted_at FROM cities WHERE deleted_at IS NULL ORDER BY postal_code, name`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list cities")
	}
	defer rows.Close()

	var cities []model.City
	for rows.Next() {
		var c model.City
		var deleted sql.NullTime
		if err := rows.Scan(&c.ID, &c.Name, &c.PostalCode, &c.DepartmentID, &c.Latitude, &c.Longitude, &deleted); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan city")
		}
		c.DeletedAt = nullTimePtr(deleted)
		cities = append(cities, c)
	}
	return cities, eris.Wrap(rows.Err(), "sqlite: list cities")
}

func (s *SQLiteStore) InsertCity(ctx context.Context, city model.City) (*model.City, error) {
	err := s.q.QueryRowContext(ctx,
		`INSERT INTO cities (name, postal_code, department_id, latitude, longitude) VALUES (?, ?, ?, ?, ?) RETURNING id`,
		city.Name, city.PostalCode, city.DepartmentID, city.Latitude, city.Longitude).Scan(&city.ID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert city %s %s", city.Name, city.PostalCode)
	}
	return &city, nil
}

func (s *SQLiteStore) BulkInsertCities(ctx context.Context, cities []model.City) (int64, error) {
	var n int64
	for _, c := range cities {
		if _, err := s.q.ExecContext(ctx,
			`INSERT INTO cities (name, postal_code, department_id, latitude, longitude) VALUES (?, ?, ?, ?, ?)`,
			c.Name, c.PostalCode, c.DepartmentID, c.Latitude, c.Longitude); err != nil {
			return n, eris.Wrapf(err, "sqlite: bulk insert city %s %s", c.Name, c.PostalCode)
		}
		n++
	}
	return n, nil
}

func (s *SQLiteStore) UpsertCities(ctx context.Context, cities []model.City) (int64, error) {
	var n int64
	now := time.Now().UTC()
	for _, c := range cities {
		if _, err := s.q.ExecContext(ctx,
			`INSERT INTO cities (name, postal_code, department_id, latitude, longitude, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT (name, postal_code) DO UPDATE SET
			   department_id = excluded.department_id,
			   latitude = excluded.latitude,
			   longitude = excluded.longitude,
			   updated_at = excluded.updated_at,
			   deleted_at = NULL`,
			c.Name, c.PostalCode, c.DepartmentID, c.Latitude, c.Longitude, now); err != nil {
			return n, eris.Wrapf(err, "sqlite: upsert city %s %s", c.Name, c.PostalCode)
		}
		n++
	}
	return n, nil
}

func (s *SQLiteStore) CountCities(ctx context.Context) (int64, error) {
	return s.count(ctx, `SELECT count(*) FROM cities WHERE deleted_at IS NULL`)
}

func (s *SQLiteStore) SoftDeleteCity(ctx context.Context, id int64) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE cities SET deleted_at = datetime('now'), updated_at = datetime('now') WHERE id = ? AND deleted_at IS NULL`, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: soft delete city %d", id)
	}
	return checkRowsAffected(res, "city", id)
}

func (s *SQLiteStore) count(ctx context.Context, query string) (int64, error) {
	var n int64
	if err := s.q.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, eris.Wrap(err, "sqlite: count")
	}
	return n, nil
}

func checkRowsAffected(res sql.Result, entity string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrapf(err, "sqlite: rows affected for %s %d", entity, id)
	}
	if n == 0 {
		return eris.Errorf("%s not found: %d", entity, id)
	}
	return nil
}
