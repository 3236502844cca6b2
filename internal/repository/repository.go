// Package repository declares the storage contracts used by the service layer.
package repository

import (
	"context"

	"github.com/sakif/coderunner/internal/model"
)

type ListOptions struct {
	Limit  int
	Offset int
}

// ExecutionRepository stores finished executions. Records are immutable.
type ExecutionRepository interface {
	Create(ctx context.Context, exec *model.Execution) error
	GetByExecutionID(ctx context.Context, executionID string) (*model.Execution, error)
	List(ctx context.Context, opts ListOptions) ([]model.Execution, error)
}
