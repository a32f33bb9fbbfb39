package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/nodenexus/nodenexus/internal/domain/batch"
)

// BatchRepository is the C10 surface for parent/child batch command tasks.
type BatchRepository interface {
	CreateParent(ctx context.Context, p *batch.Parent, children []batch.Child) error
	GetParent(ctx context.Context, id string) (*batch.Parent, error)
	GetChild(ctx context.Context, childID string) (batch.Child, error)
	ListChildren(ctx context.Context, parentID string) ([]batch.Child, error)
	UpdateParentStatus(ctx context.Context, id string, status batch.ParentStatus, completedAt *time.Time) error
	UpdateChild(ctx context.Context, c batch.Child) error
}

// SQLiteBatchRepository implements BatchRepository.
type SQLiteBatchRepository struct {
	db *sql.DB
}

// NewSQLiteBatchRepository constructs a repository bound to db.
func NewSQLiteBatchRepository(db *sql.DB) *SQLiteBatchRepository {
	return &SQLiteBatchRepository{db: db}
}

func (r *SQLiteBatchRepository) CreateParent(ctx context.Context, p *batch.Parent, children []batch.Child) error {
	p.CreatedAt = time.Now().UTC()
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return Wrap("begin create parent", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO batch_command_tasks (id, owner_id, request_payload, execution_alias, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, p.ID, p.OwnerID, p.RequestPayload, p.ExecutionAlias, string(p.Status), p.CreatedAt); err != nil {
		_ = tx.Rollback()
		return Wrap("insert parent task", err)
	}

	for _, c := range children {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO child_command_tasks (id, parent_id, host_id, status)
			VALUES (?, ?, ?, ?)
		`, c.ID, p.ID, c.HostID, string(c.Status)); err != nil {
			_ = tx.Rollback()
			return Wrap("insert child task", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return Wrap("commit create parent", err)
	}
	return nil
}

func (r *SQLiteBatchRepository) GetParent(ctx context.Context, id string) (*batch.Parent, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, owner_id, request_payload, execution_alias, status, created_at, completed_at
		FROM batch_command_tasks WHERE id = ?
	`, id)

	var (
		p           batch.Parent
		completedAt sql.NullTime
	)
	if err := row.Scan(&p.ID, &p.OwnerID, &p.RequestPayload, &p.ExecutionAlias, &p.Status, &p.CreatedAt, &completedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, NewNotFound("batch task not found: " + id)
		}
		return nil, Wrap("get parent task", err)
	}
	if completedAt.Valid {
		t := completedAt.Time
		p.CompletedAt = &t
	}
	return &p, nil
}

func (r *SQLiteBatchRepository) GetChild(ctx context.Context, childID string) (batch.Child, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, parent_id, host_id, status, exit_code, error_message, stdout_log_path,
			stderr_log_path, last_output_at, dispatched_at, agent_completed_at
		FROM child_command_tasks WHERE id = ?
	`, childID)
	c, err := scanChild(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return batch.Child{}, NewNotFound("child task not found: " + childID)
		}
		return batch.Child{}, Wrap("get child task", err)
	}
	return c, nil
}

func (r *SQLiteBatchRepository) ListChildren(ctx context.Context, parentID string) ([]batch.Child, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, parent_id, host_id, status, exit_code, error_message, stdout_log_path,
			stderr_log_path, last_output_at, dispatched_at, agent_completed_at
		FROM child_command_tasks WHERE parent_id = ?
	`, parentID)
	if err != nil {
		return nil, Wrap("list child tasks", err)
	}
	defer rows.Close()

	var out []batch.Child
	for rows.Next() {
		c, err := scanChild(rows)
		if err != nil {
			return nil, Wrap("scan child task", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *SQLiteBatchRepository) UpdateParentStatus(ctx context.Context, id string, status batch.ParentStatus, completedAt *time.Time) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE batch_command_tasks SET status = ?, completed_at = ? WHERE id = ?
	`, string(status), nullableTime(completedAt), id)
	if err != nil {
		return Wrap("update parent status", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return NewNotFound("batch task not found: " + id)
	}
	return nil
}

func (r *SQLiteBatchRepository) UpdateChild(ctx context.Context, c batch.Child) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE child_command_tasks SET
			status = ?, exit_code = ?, error_message = ?, stdout_log_path = ?, stderr_log_path = ?,
			last_output_at = ?, dispatched_at = ?, agent_completed_at = ?
		WHERE id = ?
	`, string(c.Status), c.ExitCode, c.ErrorMessage, c.StdoutLogPath, c.StderrLogPath,
		nullableTime(c.LastOutputAt), nullableTime(c.DispatchedAt), nullableTime(c.AgentCompletedAt), c.ID)
	if err != nil {
		return Wrap("update child task", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return NewNotFound("child task not found: " + c.ID)
	}
	return nil
}

func scanChild(row rowScanner) (batch.Child, error) {
	var (
		c                                               batch.Child
		lastOutputAt, dispatchedAt, agentCompletedAt sql.NullTime
	)
	if err := row.Scan(&c.ID, &c.ParentID, &c.HostID, &c.Status, &c.ExitCode, &c.ErrorMessage,
		&c.StdoutLogPath, &c.StderrLogPath, &lastOutputAt, &dispatchedAt, &agentCompletedAt); err != nil {
		return batch.Child{}, err
	}
	if lastOutputAt.Valid {
		t := lastOutputAt.Time
		c.LastOutputAt = &t
	}
	if dispatchedAt.Valid {
		t := dispatchedAt.Time
		c.DispatchedAt = &t
	}
	if agentCompletedAt.Valid {
		t := agentCompletedAt.Time
		c.AgentCompletedAt = &t
	}
	return c, nil
}
