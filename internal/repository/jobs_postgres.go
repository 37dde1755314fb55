package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/iago/fleetops-back/internal/domain"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const jobColumns = `job_id, owner_id, status, input, input_summary, results, error_message,
	execution_time_ms, created_at, updated_at, completed_at`

type PostgresJobsRepository struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

func NewPostgresPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create pg pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping pg: %w", err)
	}
	return pool, nil
}

func NewPostgresJobsRepository(pool *pgxpool.Pool) *PostgresJobsRepository {
	return &PostgresJobsRepository{
		pool: pool,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (r *PostgresJobsRepository) CreateJob(ctx context.Context, job *domain.Job) error {
	table, err := tableFor(job.Kind)
	if err != nil {
		return err
	}
	summary, err := json.Marshal(job.InputSummary)
	if err != nil {
		return fmt.Errorf("encode input summary: %w", err)
	}
	createdAt := job.CreatedAt
	if createdAt.IsZero() {
		createdAt = r.now()
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO `+table+` (
			job_id, owner_id, status, input, input_summary, results, error_message,
			execution_time_ms, created_at, updated_at, completed_at
		) VALUES ($1,$2,$3,$4,$5,NULL,'',0,$6,$6,NULL)
	`,
		job.ID,
		job.OwnerID,
		string(domain.JobStatusProcessing),
		nullableJSON(job.Input),
		summary,
		createdAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateJobID
		}
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// UpsertResult locks the row, decides in Go with the same rules as the memory
// repository and writes inside one transaction. A unique violation on insert
// means another writer created the id first.
func (r *PostgresJobsRepository) UpsertResult(ctx context.Context, patch domain.ResultPatch) (*domain.Job, error) {
	table, err := tableFor(patch.Kind)
	if err != nil {
		return nil, err
	}
	if !patch.Status.IsTerminal() {
		return nil, ErrInvalidTransition
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin upsert: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	existing, err := scanJob(tx.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM `+table+` WHERE job_id = $1 FOR UPDATE`,
		patch.JobID,
	), patch.Kind)

	var job *domain.Job
	switch {
	case errors.Is(err, ErrNotFound):
		job = newJobFromPatch(patch, r.now())
		if err := insertFullJob(ctx, tx, table, job); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	default:
		if existing.OwnerID != patch.OwnerID {
			return nil, ErrDuplicateJobID
		}
		if !domain.CanTransition(existing.Status, patch.Status) {
			return nil, ErrInvalidTransition
		}
		applyPatch(existing, patch, r.now())
		job = existing
		if _, err := tx.Exec(ctx, `
			UPDATE `+table+`
			SET status = $2,
				results = $3,
				error_message = $4,
				execution_time_ms = $5,
				updated_at = $6,
				completed_at = $7
			WHERE job_id = $1
		`,
			job.ID,
			string(job.Status),
			nullableJSON(job.Results),
			job.ErrorMessage,
			job.ExecutionTimeMS,
			job.UpdatedAt,
			job.CompletedAt,
		); err != nil {
			return nil, fmt.Errorf("update job result: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateJobID
		}
		return nil, fmt.Errorf("commit upsert: %w", err)
	}
	return job, nil
}

func (r *PostgresJobsRepository) GetJob(ctx context.Context, kind domain.JobKind, jobID string) (*domain.Job, error) {
	table, err := tableFor(kind)
	if err != nil {
		return nil, err
	}
	return scanJob(r.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM `+table+` WHERE job_id = $1`,
		jobID,
	), kind)
}

func (r *PostgresJobsRepository) JobExists(ctx context.Context, kind domain.JobKind, jobID string) (bool, error) {
	table, err := tableFor(kind)
	if err != nil {
		return false, err
	}
	var exists bool
	if err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM `+table+` WHERE job_id = $1)`,
		jobID,
	).Scan(&exists); err != nil {
		return false, fmt.Errorf("check job exists: %w", err)
	}
	return exists, nil
}

func (r *PostgresJobsRepository) FindOwned(
	ctx context.Context,
	kind domain.JobKind,
	jobID string,
	ownerID string,
) (*domain.Job, error) {
	job, err := r.GetJob(ctx, kind, jobID)
	if err != nil {
		return nil, err
	}
	if job.OwnerID != ownerID {
		return nil, ErrForbidden
	}
	return job, nil
}

func (r *PostgresJobsRepository) ListByOwner(ctx context.Context, filter domain.JobListFilter) ([]domain.Job, error) {
	table, err := tableFor(filter.Kind)
	if err != nil {
		return nil, err
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	query := `SELECT ` + jobColumns + ` FROM ` + table + ` WHERE owner_id = $1`
	args := []any{filter.OwnerID}
	if filter.Status != "" {
		query += ` AND status = $2`
		args = append(args, string(filter.Status))
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	items := make([]domain.Job, 0)
	for rows.Next() {
		job, err := scanJob(rows, filter.Kind)
		if err != nil {
			return nil, err
		}
		items = append(items, *job)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate jobs: %w", rows.Err())
	}
	return items, nil
}

func insertFullJob(ctx context.Context, tx pgx.Tx, table string, job *domain.Job) error {
	summary, err := json.Marshal(job.InputSummary)
	if err != nil {
		return fmt.Errorf("encode input summary: %w", err)
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO `+table+` (
			job_id, owner_id, status, input, input_summary, results, error_message,
			execution_time_ms, created_at, updated_at, completed_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`,
		job.ID,
		job.OwnerID,
		string(job.Status),
		nullableJSON(job.Input),
		summary,
		nullableJSON(job.Results),
		job.ErrorMessage,
		job.ExecutionTimeMS,
		job.CreatedAt,
		job.UpdatedAt,
		job.CompletedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateJobID
		}
		return fmt.Errorf("insert job result: %w", err)
	}
	return nil
}

func scanJob(row pgx.Row, kind domain.JobKind) (*domain.Job, error) {
	var (
		job     domain.Job
		status  string
		input   []byte
		summary []byte
		results []byte
	)
	err := row.Scan(
		&job.ID,
		&job.OwnerID,
		&status,
		&input,
		&summary,
		&results,
		&job.ErrorMessage,
		&job.ExecutionTimeMS,
		&job.CreatedAt,
		&job.UpdatedAt,
		&job.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan job: %w", err)
	}

	job.Kind = kind
	job.Status = domain.JobStatus(status)
	job.Input = json.RawMessage(input)
	job.Results = json.RawMessage(results)
	if len(summary) > 0 {
		if err := json.Unmarshal(summary, &job.InputSummary); err != nil {
			return nil, fmt.Errorf("decode input summary: %w", err)
		}
	}
	return &job, nil
}

func tableFor(kind domain.JobKind) (string, error) {
	switch kind {
	case domain.JobKindAllocation:
		return "allocation_jobs", nil
	case domain.JobKindRoute:
		return "route_jobs", nil
	default:
		return "", fmt.Errorf("unknown job kind %q: %w", kind, ErrNotFound)
	}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}

func nullableJSON(value []byte) any {
	if len(value) == 0 {
		return nil
	}
	return value
}
