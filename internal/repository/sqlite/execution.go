package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/coderunner/internal/apperror"
	"github.com/sakif/coderunner/internal/model"
	"github.com/sakif/coderunner/internal/repository"
)

var _ repository.ExecutionRepository = (*DB)(nil)

const executionColumns = `id, execution_id, language, exit_code, timed_out, duration, stdout, stderr, created_at`

// Create inserts a finished execution. It assigns ID and CreatedAt.
func (db *DB) Create(ctx context.Context, exec *model.Execution) error {
	exec.ID = xid.New().String()
	exec.CreatedAt = time.Now().UTC()

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO executions (`+executionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		exec.ID,
		exec.ExecutionID,
		exec.Language,
		exec.ExitCode,
		exec.TimedOut,
		exec.Duration,
		exec.Stdout,
		exec.Stderr,
		exec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: creating execution: %w", err)
	}

	return nil
}

// GetByExecutionID looks a record up by the identifier returned to callers.
func (db *DB) GetByExecutionID(ctx context.Context, executionID string) (*model.Execution, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+executionColumns+`
		 FROM executions
		 WHERE execution_id = ?`,
		executionID,
	)

	exec, err := scanExecution(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("execution", executionID)
		}
		return nil, fmt.Errorf("sqlite: getting execution %s: %w", executionID, err)
	}

	return exec, nil
}

// List returns executions newest first.
func (db *DB) List(ctx context.Context, opts repository.ListOptions) ([]model.Execution, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+executionColumns+`
		 FROM executions
		 ORDER BY created_at DESC, id DESC
		 LIMIT ? OFFSET ?`,
		limit,
		offset,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing executions: %w", err)
	}
	defer rows.Close()

	executions := make([]model.Execution, 0, limit)
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning execution row: %w", err)
		}
		executions = append(executions, *exec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating executions: %w", err)
	}

	return executions, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanExecution(s scanner) (*model.Execution, error) {
	var e model.Execution
	if err := s.Scan(
		&e.ID, &e.ExecutionID, &e.Language, &e.ExitCode, &e.TimedOut,
		&e.Duration, &e.Stdout, &e.Stderr, &e.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &e, nil
}
