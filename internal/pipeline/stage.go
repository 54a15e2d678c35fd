package pipeline

import "context"

// Stage is one step of a run: fetch, merge, an enrichment pass, export.
// Stages declare dependencies instead of hardcoding an order, so partial
// runs (e.g. export-only) pull in exactly the stages they need.
type Stage interface {
	Name() string
	Dependencies() []string
	Description() string

	// Run executes the stage against the shared run state.
	Run(ctx context.Context, run *Run) error
}

// stageFunc adapts a function to the Stage interface.
type stageFunc struct {
	name string
	deps []string
	desc string
	fn   func(ctx context.Context, run *Run) error
}

func (s *stageFunc) Name() string           { return s.name }
func (s *stageFunc) Dependencies() []string { return s.deps }
func (s *stageFunc) Description() string    { return s.desc }
func (s *stageFunc) Run(ctx context.Context, run *Run) error {
	return s.fn(ctx, run)
}
