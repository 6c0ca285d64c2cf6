// Package saga sequences operations that span systems which cannot share a
// transaction. When a step fails, the undo actions of the steps that already
// completed run in reverse order.
package saga

import (
	"context"
	"errors"
	"fmt"
)

// Step pairs a forward action with an optional undo. The undo runs only when
// a later step fails after this one completed.
type Step struct {
	Name string
	Run  func(ctx context.Context) error
	Undo func(ctx context.Context) error
}

// Saga is an ordered list of steps built with Then and ThenUndo.
type Saga struct {
	name  string
	steps []Step
}

// New creates an empty saga. The name appears in error messages.
func New(name string) *Saga {
	return &Saga{name: name}
}

// Then appends a step with no undo action.
func (s *Saga) Then(name string, run func(ctx context.Context) error) *Saga {
	return s.ThenUndo(name, run, nil)
}

// ThenUndo appends a step whose undo runs if a later step fails.
func (s *Saga) ThenUndo(name string, run, undo func(ctx context.Context) error) *Saga {
	s.steps = append(s.steps, Step{Name: name, Run: run, Undo: undo})
	return s
}

// Execute runs the steps in order. On failure the completed steps are undone
// in reverse; the step error is returned, joined with any undo errors.
func (s *Saga) Execute(ctx context.Context) error {
	for i, step := range s.steps {
		if err := step.Run(ctx); err != nil {
			return s.unwind(ctx, i, fmt.Errorf("saga %s: step %q: %w", s.name, step.Name, err))
		}
	}
	return nil
}

func (s *Saga) unwind(ctx context.Context, failed int, cause error) error {
	for i := failed - 1; i >= 0; i-- {
		step := s.steps[i]
		if step.Undo == nil {
			continue
		}
		if err := step.Undo(ctx); err != nil {
			cause = errors.Join(cause, fmt.Errorf("undo step %q: %w", step.Name, err))
		}
	}
	return cause
}
