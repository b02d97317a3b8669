package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/villedata/communes-cli/internal/db"
	"github.com/villedata/communes-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool db.Pool
	q    db.Querier // the pool, or the open transaction inside InTx
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the hottest loader lookups.
var preparedStatements = map[string]string{
	"get_city_by_name_postal": `SELECT id, name, postal_code, department_id, latitude, longitude, deleted_at FROM cities WHERE name = $1 AND postal_code = $2 AND deleted_at IS NULL`,
	"get_department_by_code":  `SELECT id, name, code, region_id, deleted_at FROM departments WHERE code = $1 AND deleted_at IS NULL`,
	"insert_city":             `INSERT INTO cities (name, postal_code, department_id, latitude, longitude) VALUES ($1, $2, $3, $4, $5) RETURNING id`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// Apply pool sizing from config with sensible defaults.
	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// Prepare frequently-used statements on each new connection.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, q: pool}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS regions (
	id         BIGSERIAL PRIMARY KEY,
	name       TEXT NOT NULL UNIQUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	deleted_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS departments (
	id         BIGSERIAL PRIMARY KEY,
	name       TEXT NOT NULL,
	code       TEXT NOT NULL UNIQUE,
	region_id  BIGINT NOT NULL REFERENCES regions(id),
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	deleted_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS cities (
	id            BIGSERIAL PRIMARY KEY,
	name          TEXT NOT NULL,
	postal_code   TEXT NOT NULL,
	department_id BIGINT NOT NULL REFERENCES departments(id),
	latitude      DOUBLE PRECISION CHECK (latitude IS NULL OR latitude BETWEEN -90 AND 90),
	longitude     DOUBLE PRECISION CHECK (longitude IS NULL OR longitude BETWEEN -180 AND 180),
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	deleted_at    TIMESTAMPTZ,
	UNIQUE (name, postal_code)
);

CREATE INDEX IF NOT EXISTS idx_departments_region_id ON departments(region_id);
CREATE INDEX IF NOT EXISTS idx_cities_postal_code ON cities(postal_code);
CREATE INDEX IF NOT EXISTS idx_cities_department_id ON cities(department_id);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.q.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.q.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// InTx runs fn against a child store bound to one transaction.
func (s *PostgresStore) InTx(ctx context.Context, fn func(ctx context.Context, st Store) error) error {
	tx, err := s.q.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin tx")
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, &PostgresStore{pool: s.pool, q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return eris.Wrap(err, "postgres: commit tx")
	}
	return nil
}

// Regions

func (s *PostgresStore) GetRegion(ctx context.Context, id int64) (*model.Region, error) {
	row := s.q.QueryRow(ctx,
		`SELECT id, name, deleted_at FROM regions WHERE id = $1 AND deleted_at IS NULL`, id)
	return scanRegion(row)
}

func (s *PostgresStore) GetRegionByName(ctx context.Context, name string) (*model.Region, error) {
	row := s.q.QueryRow(ctx,
		`SELECT id, name, deleted_at FROM regions WHERE name = $1 AND deleted_at IS NULL`, name)
	return scanRegion(row)
}

func scanRegion(row pgx.Row) (*model.Region, error) {
	var r model.Region
	if err := row.Scan(&r.ID, &r.Name, &r.DeletedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: get region")
	}
	return &r, nil
}

func (s *PostgresStore) ListRegions(ctx context.Context) ([]model.Region, error) {
	rows, err := s.q.Query(ctx,
		`SELECT id, name, deleted_at FROM regions WHERE deleted_at IS NULL ORDER BY name`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list regions")
	}
	defer rows.Close()

	var regions []model.Region
	for rows.Next() {
		var r model.Region
		if err := rows.Scan(&r.ID, &r.Name, &r.DeletedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan region")
		}
		regions = append(regions, r)
	}
	return regions, eris.Wrap(rows.Err(), "postgres: list regions")
}

func (s *PostgresStore) InsertRegion(ctx context.Context, name string) (*model.Region, error) {
	var id int64
	err := s.q.QueryRow(ctx,
		`INSERT INTO regions (name) VALUES ($1) RETURNING id`, name).Scan(&id)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert region %s", name)
	}
	return &model.Region{ID: id, Name: name}, nil
}

func (s *PostgresStore) CountRegions(ctx context.Context) (int64, error) {
	return s.count(ctx, `SELECT count(*) FROM regions WHERE deleted_at IS NULL`)
}

func (s *PostgresStore) SoftDeleteRegion(ctx context.Context, id int64) error {
	tag, err := s.q.Exec(ctx,
		`UPDATE regions SET deleted_at = now(), updated_at = now() WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: soft delete region %d", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("region not found: %d", id)
	}
	return nil
}

func (s *PostgresStore) DeleteAllRegions(ctx context.Context) (int64, error) {
	tag, err := s.q.Exec(ctx, `DELETE FROM regions`)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: delete regions")
	}
	return tag.RowsAffected(), nil
}

// Departments

func (s *PostgresStore) GetDepartment(ctx context.Context, id int64) (*model.Department, error) {
	row := s.q.QueryRow(ctx,
		`SELECT id, name, code, region_id, deleted_at FROM departments WHERE id = $1 AND deleted_at IS NULL`, id)
	return scanDepartment(row)
}

func (s *PostgresStore) GetDepartmentByCode(ctx context.Context, code string) (*model.Department, error) {
	row := s.q.QueryRow(ctx,
		`SELECT id, name, code, region_id, deleted_at FROM departments WHERE code = $1 AND deleted_at IS NULL`, code)
	return scanDepartment(row)
}

func scanDepartment(row pgx.Row) (*model.Department, error) {
	var d model.Department
	if err := row.Scan(&d.ID, &d.Name, &d.Code, &d.RegionID, &d.DeletedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: get department")
	}
	return &d, nil
}

func (s *PostgresStore) GetDepartmentsByCodes(ctx context.Context, codes []string) (map[string]model.Department, error) {
	rows, err := s.q.Query(ctx,
		`SELECT id, name, code, region_id, deleted_at FROM departments WHERE code = ANY($1) AND deleted_at IS NULL`, codes)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get departments by codes")
	}
	defer rows.Close()

	departments := make(map[string]model.Department, len(codes))
	for rows.Next() {
		var d model.Department
		if err := rows.Scan(&d.ID, &d.Name, &d.Code, &d.RegionID, &d.DeletedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan department")
		}
		departments[d.Code] = d
	}
	return departments, eris.Wrap(rows.Err(), "postgres: get departments by codes")
}

func (s *PostgresStore) ListDepartments(ctx context.Context) ([]model.Department, error) {
	rows, err := s.q.Query(ctx,
		`SELECT id, name, code, region_id, deleted_at FROM departments WHERE deleted_at IS NULL ORDER BY code`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list departments")
	}
	defer rows.Close()

	var departments []model.Department
	for rows.Next() {
		var d model.Department
		if err := rows.Scan(&d.ID, &d.Name, &d.Code, &d.RegionID, &d.DeletedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan department")
		}
		departments = append(departments, d)
	}
	return departments, eris.Wrap(rows.Err(), "postgres: list departments")
}

func (s *PostgresStore) InsertDepartment(ctx context.Context, name, code string, regionID int64) (*model.Department, error) {
	var id int64
	err := s.q.QueryRow(ctx,
		`INSERT INTO departments (name, code, region_id) VALUES ($1, $2, $3) RETURNING id`,
		name, code, regionID).Scan(&id)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert department %s", code)
	}
	return &model.Department{ID: id, Name: name, Code: code, RegionID: regionID}, nil
}

func (s *PostgresStore) UpdateDepartmentRegion(ctx context.Context, id, regionID int64) error {
	tag, err := s.q.Exec(ctx,
		`UPDATE departments SET region_id = $1, updated_at = now() WHERE id = $2`, regionID, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: update department region %d", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("department not found: %d", id)
	}
	return nil
}

func (s *PostgresStore) UpdateDepartmentName(ctx context.Context, id int64, name string) error {
	tag, err := s.q.Exec(ctx,
		`UPDATE departments SET name = $1, updated_at = now() WHERE id = $2`, name, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: update department name %d", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("department not found: %d", id)
	}
	return nil
}

func (s *PostgresStore) CountDepartments(ctx context.Context) (int64, error) {
	return s.count(ctx, `SELECT count(*) FROM departments WHERE deleted_at IS NULL`)
}

func (s *PostgresStore) SoftDeleteDepartment(ctx context.Context, id int64) error {
	tag, err := s.q.Exec(ctx,
		`UPDATE departments SET deleted_at = now(), updated_at = now() WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: soft delete department %d", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("department not found: %d", id)
	}
	return nil
}

func (s *PostgresStore) DeleteAllDepartments(ctx context.Context) (int64, error) {
	tag, err := s.q.Exec(ctx, `DELETE FROM departments`)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: delete departments")
	}
	return tag.RowsAffected(), nil
}

// Cities

func (s *PostgresStore) GetCity(ctx context.Context, id int64) (*model.City, error) {
	row := s.q.QueryRow(ctx,
		`SELECT id, name, postal_code, department_id, latitude, longitude, deleted_at FROM cities WHERE id = $1 AND deleted_at IS NULL`, id)
	return scanCity(row)
}

func (s *PostgresStore) GetCityByNamePostal(ctx context.Context, name, postalCode string) (*model.City, error) {
	row := s.q.QueryRow(ctx,
		`SELECT id, name, postal_code, department_id, latitude, longitude, deleted_at FROM cities WHERE name = $1 AND postal_code = $2 AND deleted_at IS NULL`,
		name, postalCode)
	return scanCity(row)
}

func scanCity(row pgx.Row) (*model.City, error) {
	var c model.City
	if err := row.Scan(&c.ID, &c.Name, &c.PostalCode, &c.DepartmentID, &c.Latitude, &c.Longitude, &c.DeletedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: get city")
	}
	return &c, nil
}

func (s *PostgresStore) ListActiveCities(ctx context.Context) ([]model.City, error) {
	rows, err := s.q.Query(ctx,
		`SELECT id, name, postal_code, department_id, latitude, longitude, deleted_at FROM cities WHERE deleted_at IS NULL ORDER BY postal_code, name`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list cities")
	}
	defer rows.Close()

	var cities []model.City
	for rows.Next() {
		var c model.City
		if err := rows.Scan(&c.ID, &c.Name, &c.PostalCode, &c.DepartmentID, &c.Latitude, &c.Longitude, &c.DeletedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan city")
		}
		cities = append(cities, c)
	}
	return cities, eris.Wrap(rows.Err(), "postgres: list cities")
}

func (s *PostgresStore) InsertCity(ctx context.Context, city model.City) (*model.City, error) {
	err := s.q.QueryRow(ctx,
		`INSERT INTO cities (name, postal_code, department_id, latitude, longitude) VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		city.Name, city.PostalCode, city.DepartmentID, city.Latitude, city.Longitude).Scan(&city.ID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert city %s %s", city.Name, city.PostalCode)
	}
	return &city, nil
}

// BulkInsertCities COPYs cities straight into the table. A collision with any
// stored row, active or soft-deleted, fails on the uniqueness constraint.
func (s *PostgresStore) BulkInsertCities(ctx context.Context, cities []model.City) (int64, error) {
	rows := make([][]any, len(cities))
	for i, c := range cities {
		rows[i] = []any{c.Name, c.PostalCode, c.DepartmentID, c.Latitude, c.Longitude}
	}
	return db.CopyFrom(ctx, s.q, "cities",
		[]string{"name", "postal_code", "department_id", "latitude", "longitude"}, rows)
}

// UpsertCities inserts or overwrites cities keyed on (name, postal_code).
// Soft-deleted rows hit by the upsert come back to life.
func (s *PostgresStore) UpsertCities(ctx context.Context, cities []model.City) (int64, error) {
	now := time.Now().UTC()
	rows := make([][]any, len(cities))
	for i, c := range cities {
		rows[i] = []any{c.Name, c.PostalCode, c.DepartmentID, c.Latitude, c.Longitude, now, nil}
	}
	return db.BulkUpsert(ctx, s.q, db.UpsertConfig{
		Table:        "cities",
		Columns:      []string{"name", "postal_code", "department_id", "latitude", "longitude", "updated_at", "deleted_at"},
		ConflictKeys: []string{"name", "postal_code"},
	}, rows)
}

func (s *PostgresStore) CountCities(ctx context.Context) (int64, error) {
	return s.count(ctx, `SELECT count(*) FROM cities WHERE deleted_at IS NULL`)
}

func (s *PostgresStore) SoftDeleteCity(ctx context.Context, id int64) error {
	tag, err := s.q.Exec(ctx,
		`UPDATE cities SET deleted_at = now(), updated_at = now() WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: soft delete city %d", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("city not found: %d", id)
	}
	return nil
}

func (s *PostgresStore) count(ctx context.Context, query string) (int64, error) {
	var n int64
	if err := s.q.QueryRow(ctx, query).Scan(&n); err != nil {
		return 0, eris.Wrap(err, "postgres: count")
	}
	return n, nil
}
