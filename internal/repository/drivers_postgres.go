package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/iago/fleetops-back/internal/domain"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const driverColumns = `id, name, email, phone, license, status, created_at, updated_at`

type PostgresDriversRepository struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

func NewPostgresDriversRepository(pool *pgxpool.Pool) *PostgresDriversRepository {
	return &PostgresDriversRepository{
		pool: pool,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (r *PostgresDriversRepository) ListDrivers(ctx context.Context) ([]domain.Driver, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+driverColumns+` FROM drivers ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list drivers: %w", err)
	}
	defer rows.Close()

	items := make([]domain.Driver, 0)
	for rows.Next() {
		driver, err := scanDriver(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *driver)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate drivers: %w", rows.Err())
	}
	return items, nil
}

func (r *PostgresDriversRepository) GetDriver(ctx context.Context, id string) (*domain.Driver, error) {
	return scanDriver(r.pool.QueryRow(ctx, `SELECT `+driverColumns+` FROM drivers WHERE id = $1`, id))
}

func (r *PostgresDriversRepository) CreateDriver(ctx context.Context, driver domain.Driver) (*domain.Driver, error) {
	now := r.now()
	if driver.ID == "" {
		driver.ID = uuid.NewString()
	}
	if driver.Status == "" {
		driver.Status = domain.DriverActive
	}
	driver.CreatedAt = now
	driver.UpdatedAt = now

	_, err := r.pool.Exec(ctx, `
		INSERT INTO drivers (`+driverColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`,
		driver.ID,
		driver.Name,
		driver.Email,
		driver.Phone,
		driver.License,
		string(driver.Status),
		driver.CreatedAt,
		driver.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateDriverEmail
		}
		return nil, fmt.Errorf("insert driver: %w", err)
	}
	return &driver, nil
}

func (r *PostgresDriversRepository) UpdateDriver(ctx context.Context, driver domain.Driver) (*domain.Driver, error) {
	updated, err := scanDriver(r.pool.QueryRow(ctx, `
		UPDATE drivers
		SET name = $2, email = $3, phone = $4, license = $5,
			status = COALESCE(NULLIF($6, ''), status), updated_at = $7
		WHERE id = $1
		RETURNING `+driverColumns,
		driver.ID,
		driver.Name,
		driver.Email,
		driver.Phone,
		driver.License,
		string(driver.Status),
		r.now(),
	))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateDriverEmail
		}
		return nil, err
	}
	return updated, nil
}

func (r *PostgresDriversRepository) SetDriverStatus(
	ctx context.Context,
	id string,
	status domain.DriverStatus,
) (*domain.Driver, error) {
	return scanDriver(r.pool.QueryRow(ctx, `
		UPDATE drivers SET status = $2, updated_at = $3
		WHERE id = $1
		RETURNING `+driverColumns,
		id,
		string(status),
		r.now(),
	))
}

func (r *PostgresDriversRepository) DeleteDriver(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM drivers WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete driver: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresDriversRepository) CountDriversByStatus(ctx context.Context) (map[domain.DriverStatus]int, error) {
	rows, err := r.pool.Query(ctx, `SELECT status, COUNT(*) FROM drivers GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count drivers: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.DriverStatus]int)
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan driver count: %w", err)
		}
		counts[domain.DriverStatus(status)] = count
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate driver counts: %w", rows.Err())
	}
	return counts, nil
}

func (r *PostgresDriversRepository) RecordLocation(ctx context.Context, location domain.DriverLocation) error {
	if location.Timestamp.IsZero() {
		location.Timestamp = r.now()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO driver_locations (driver_id, latitude, longitude, recorded_at)
		VALUES ($1,$2,$3,$4)
	`, location.DriverID, location.Latitude, location.Longitude, location.Timestamp.UTC())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation {
			return ErrNotFound
		}
		return fmt.Errorf("insert driver location: %w", err)
	}
	return nil
}

func (r *PostgresDriversRepository) LatestLocations(ctx context.Context, window int) ([]domain.DriverLocation, error) {
	if window <= 0 {
		window = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT ON (l.driver_id)
			l.driver_id, d.name, d.status, l.latitude, l.longitude, l.recorded_at
		FROM (
			SELECT driver_id, latitude, longitude, recorded_at
			FROM driver_locations
			ORDER BY recorded_at DESC
			LIMIT $1
		) l
		JOIN drivers d ON d.id = l.driver_id
		ORDER BY l.driver_id, l.recorded_at DESC
	`, window)
	if err != nil {
		return nil, fmt.Errorf("list driver locations: %w", err)
	}
	defer rows.Close()

	items := make([]domain.DriverLocation, 0)
	for rows.Next() {
		var (
			location domain.DriverLocation
			status   string
		)
		if err := rows.Scan(
			&location.DriverID,
			&location.DriverName,
			&status,
			&location.Latitude,
			&location.Longitude,
			&location.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("scan driver location: %w", err)
		}
		location.Status = domain.DriverStatus(status)
		items = append(items, location)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate driver locations: %w", rows.Err())
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Timestamp.After(items[j].Timestamp)
	})
	return items, nil
}

func scanDriver(row pgx.Row) (*domain.Driver, error) {
	var (
		driver domain.Driver
		status string
	)
	err := row.Scan(
		&driver.ID,
		&driver.Name,
		&driver.Email,
		&driver.Phone,
		&driver.License,
		&status,
		&driver.CreatedAt,
		&driver.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan driver: %w", err)
	}
	driver.Status = domain.DriverStatus(status)
	return &driver, nil
}
