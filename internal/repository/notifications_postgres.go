package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/iago/fleetops-back/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const assignmentColumns = `id, route_id, driver_id, driver_name, assignment_date, status,
	assigned_by, last_updated_by, notes, created_at, updated_at`

type PostgresNotificationsRepository struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

func NewPostgresNotificationsRepository(pool *pgxpool.Pool) *PostgresNotificationsRepository {
	return &PostgresNotificationsRepository{
		pool: pool,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (r *PostgresNotificationsRepository) CreateAssignments(
	ctx context.Context,
	assignments []domain.Assignment,
) ([]domain.Assignment, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin assignments: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	created := make([]domain.Assignment, 0, len(assignments))
	for _, assignment := range assignments {
		now := r.now()
		if assignment.ID == "" {
			assignment.ID = uuid.NewString()
		}
		if assignment.Status == "" {
			assignment.Status = domain.AssignmentAssigned
		}
		assignment.CreatedAt = now
		assignment.UpdatedAt = now

		_, err := tx.Exec(ctx, `
			INSERT INTO assignments (
				id, route_id, driver_id, driver_name, assignment_date, status,
				assigned_by, last_updated_by, notes, created_at, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		`,
			assignment.ID,
			assignment.RouteID,
			assignment.DriverID,
			assignment.DriverName,
			assignment.Date.UTC().Truncate(24*time.Hour),
			string(assignment.Status),
			assignment.AssignedBy,
			assignment.LastUpdatedBy,
			assignment.Notes,
			assignment.CreatedAt,
			assignment.UpdatedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return nil, ErrDuplicateAssignment
			}
			return nil, fmt.Errorf("insert assignment: %w", err)
		}
		created = append(created, assignment)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit assignments: %w", err)
	}
	return created, nil
}

func (r *PostgresNotificationsRepository) GetAssignment(ctx context.Context, id string) (*domain.Assignment, error) {
	return scanAssignment(r.pool.QueryRow(ctx, `SELECT `+assignmentColumns+` FROM assignments WHERE id = $1`, id))
}

func (r *PostgresNotificationsRepository) UpdateAssignment(
	ctx context.Context,
	id string,
	patch domain.AssignmentPatch,
) (*domain.Assignment, error) {
	var status *string
	if patch.Status != nil {
		value := string(*patch.Status)
		status = &value
	}
	return scanAssignment(r.pool.QueryRow(ctx, `
		UPDATE assignments
		SET status = COALESCE($2, status),
			notes = COALESCE($3, notes),
			last_updated_by = $4,
			updated_at = $5
		WHERE id = $1
		RETURNING `+assignmentColumns,
		id,
		status,
		patch.Notes,
		patch.UpdatedBy,
		r.now(),
	))
}

func (r *PostgresNotificationsRepository) DeleteAssignment(ctx context.Context, id string) (*domain.Assignment, error) {
	return scanAssignment(r.pool.QueryRow(ctx,
		`DELETE FROM assignments WHERE id = $1 RETURNING `+assignmentColumns,
		id,
	))
}

func (r *PostgresNotificationsRepository) ListAssignments(
	ctx context.Context,
	filter domain.AssignmentFilter,
) ([]domain.Assignment, error) {
	var date *time.Time
	if !filter.Date.IsZero() {
		day := filter.Date.UTC().Truncate(24 * time.Hour)
		date = &day
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+assignmentColumns+`
		FROM assignments
		WHERE ($1 = '' OR driver_id = $1)
			AND ($2::date IS NULL OR assignment_date = $2::date)
		ORDER BY assignment_date DESC, created_at DESC
	`, filter.DriverID, date)
	if err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	return collectAssignments(rows)
}

func (r *PostgresNotificationsRepository) CountActiveAssignments(ctx context.Context, driverID string) (int, error) {
	var count int
	if err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM assignments
		WHERE driver_id = $1 AND status IN ($2, $3)
	`, driverID, string(domain.AssignmentAssigned), string(domain.AssignmentInProgress)).Scan(&count); err != nil {
		return 0, fmt.Errorf("count active assignments: %w", err)
	}
	return count, nil
}

func (r *PostgresNotificationsRepository) ListAssignmentsForManager(
	ctx context.Context,
	managerID string,
) ([]domain.Assignment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+assignmentColumns+`
		FROM assignments
		WHERE assigned_by = $1 OR last_updated_by = $1
		ORDER BY created_at ASC
	`, managerID)
	if err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	return collectAssignments(rows)
}

func collectAssignments(rows pgx.Rows) ([]domain.Assignment, error) {
	defer rows.Close()

	items := make([]domain.Assignment, 0)
	for rows.Next() {
		assignment, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *assignment)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate assignments: %w", rows.Err())
	}
	return items, nil
}

func (r *PostgresNotificationsRepository) NotificationExists(
	ctx context.Context,
	assignmentID string,
	status domain.AssignmentStatus,
	recipient string,
) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM notifications
			WHERE assignment_id = $1 AND new_status = $2 AND recipient = $3
		)
	`, assignmentID, string(status), recipient).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check notification exists: %w", err)
	}
	return exists, nil
}

func (r *PostgresNotificationsRepository) InsertNotifications(
	ctx context.Context,
	notifications []domain.Notification,
) error {
	if len(notifications) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, notification := range notifications {
		if notification.ID == "" {
			notification.ID = uuid.NewString()
		}
		if notification.CreatedAt.IsZero() {
			notification.CreatedAt = r.now()
		}
		batch.Queue(`
			INSERT INTO notifications (
				id, recipient, assignment_id, driver_id, type, message,
				new_status, is_read, created_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		`,
			notification.ID,
			notification.Recipient,
			notification.AssignmentID,
			notification.DriverID,
			string(notification.Type),
			notification.Message,
			string(notification.NewStatus),
			notification.IsRead,
			notification.CreatedAt,
		)
	}

	if err := r.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert notifications: %w", err)
	}
	return nil
}

func (r *PostgresNotificationsRepository) ListNotifications(
	ctx context.Context,
	filter domain.NotificationListFilter,
) ([]domain.Notification, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultNotificationLimit
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, recipient, assignment_id, driver_id, type, message, new_status, is_read, created_at
		FROM notifications
		WHERE recipient = $1 AND created_at >= $2
		ORDER BY created_at DESC
		LIMIT $3
	`, filter.Recipient, filter.Since, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	items := make([]domain.Notification, 0)
	for rows.Next() {
		var (
			notification domain.Notification
			kind         string
			status       string
		)
		if err := rows.Scan(
			&notification.ID,
			&notification.Recipient,
			&notification.AssignmentID,
			&notification.DriverID,
			&kind,
			&notification.Message,
			&status,
			&notification.IsRead,
			&notification.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		notification.Type = domain.NotificationType(kind)
		notification.NewStatus = domain.AssignmentStatus(status)
		items = append(items, notification)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate notifications: %w", rows.Err())
	}
	return items, nil
}

func (r *PostgresNotificationsRepository) CountUnread(ctx context.Context, recipient string) (int, error) {
	var count int
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM notifications WHERE recipient = $1 AND NOT is_read`,
		recipient,
	).Scan(&count); err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return count, nil
}

func (r *PostgresNotificationsRepository) MarkAllRead(ctx context.Context, recipient string) (int, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE notifications SET is_read = TRUE WHERE recipient = $1 AND NOT is_read`,
		recipient,
	)
	if err != nil {
		return 0, fmt.Errorf("mark notifications read: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func scanAssignment(row pgx.Row) (*domain.Assignment, error) {
	var (
		assignment domain.Assignment
		status     string
	)
	err := row.Scan(
		&assignment.ID,
		&assignment.RouteID,
		&assignment.DriverID,
		&assignment.DriverName,
		&assignment.Date,
		&status,
		&assignment.AssignedBy,
		&assignment.LastUpdatedBy,
		&assignment.Notes,
		&assignment.CreatedAt,
		&assignment.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan assignment: %w", err)
	}
	assignment.Status = domain.AssignmentStatus(status)
	return &assignment, nil
}
