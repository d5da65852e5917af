package workerpool

import (
	"context"

	"github.com/dmitrijs2005/printrelay/internal/printsettings"
)

// Kind selects the transformation a task performs.
type Kind string

const (
	KindRasterizePDF   Kind = "rasterize-pdf"
	KindRasterizeImage Kind = "rasterize-image"
	KindMerge          Kind = "merge"
	KindMergeAndLayout Kind = "merge-and-layout"
)

// Task is immutable once submitted. Inputs and Output are storage keys.
type Task struct {
	Kind     Kind
	Inputs   []string
	Output   string
	Settings printsettings.Settings
}

// Result is produced exactly once per accepted task.
type Result struct {
	Success bool
	Outputs []string
	Err     error
}

// Executor performs one task. Implementations must be safe for concurrent
// use by all workers of a pool.
type Executor interface {
	Execute(ctx context.Context, task Task) ([]string, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, task Task) ([]string, error)

func (f ExecutorFunc) Execute(ctx context.Context, task Task) ([]string, error) {
	return f(ctx, task)
}
