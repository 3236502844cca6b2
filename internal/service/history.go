package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sakif/coderunner/internal/apperror"
	"github.com/sakif/coderunner/internal/executor"
	"github.com/sakif/coderunner/internal/model"
	"github.com/sakif/coderunner/internal/repository"
)

const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// HistoryService records finished executions and serves them back.
type HistoryService struct {
	repo   repository.ExecutionRepository
	logger *slog.Logger
}

func NewHistoryService(repo repository.ExecutionRepository, logger *slog.Logger) *HistoryService {
	return &HistoryService{
		repo:   repo,
		logger: logger,
	}
}

// Record stores res. Error-shaped results never ran a container and are
// skipped.
func (s *HistoryService) Record(ctx context.Context, lang executor.Language, res *executor.ExecutionResult) error {
	if res == nil || res.IsError() {
		return nil
	}

	exec := &model.Execution{
		ExecutionID: res.ExecutionID,
		Language:    lang.String(),
		ExitCode:    res.ExitCode,
		TimedOut:    res.TimedOut,
		Duration:    res.Duration,
		Stdout:      res.Stdout,
		Stderr:      res.Stderr,
	}

	if err := s.repo.Create(ctx, exec); err != nil {
		s.logger.Error("failed to record execution",
			slog.String("execution_id", res.ExecutionID),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("recording execution: %w", err)
	}

	s.logger.Debug("execution recorded",
		slog.String("id", exec.ID),
		slog.String("execution_id", exec.ExecutionID),
	)
	return nil
}

func (s *HistoryService) GetByID(ctx context.Context, executionID string) (*model.Execution, error) {
	executionID = strings.TrimSpace(executionID)
	if executionID == "" {
		return nil, apperror.ValidationFailed("id", "execution ID is required")
	}

	return s.repo.GetByExecutionID(ctx, executionID)
}

// List returns executions newest first. Out-of-range paging values are
// clamped rather than rejected.
func (s *HistoryService) List(ctx context.Context, limit, offset int) ([]model.Execution, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}

	executions, err := s.repo.List(ctx, repository.ListOptions{
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		return nil, fmt.Errorf("listing executions: %w", err)
	}

	return executions, nil
}

// RecordingExecutor stores every result produced by the wrapped Executor.
// Storage failures are logged by the HistoryService and never change what
// the caller gets back.
type RecordingExecutor struct {
	next    executor.Executor
	history *HistoryService
}

var _ executor.Executor = (*RecordingExecutor)(nil)

func NewRecordingExecutor(next executor.Executor, history *HistoryService) *RecordingExecutor {
	return &RecordingExecutor{next: next, history: history}
}

func (e *RecordingExecutor) Execute(ctx context.Context, req executor.ExecutionRequest) (*executor.ExecutionResult, error) {
	res, err := e.next.Execute(ctx, req)
	if err != nil {
		return res, err
	}
	_ = e.history.Record(context.WithoutCancel(ctx), req.Language, res)
	return res, nil
}
