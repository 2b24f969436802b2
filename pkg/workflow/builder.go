// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package workflow

import (
	"fmt"

	conductorerrors "github.com/stepwise/stepwise/pkg/errors"
)

// StepOption customizes a step at add time.
type StepOption func(*WorkflowStep)

// WithDependsOn records that step depends on every id listed.
func WithDependsOn(ids ...string) StepOption {
	return func(s *WorkflowStep) {
		for _, id := range ids {
			s.DependsOn[id] = struct{}{}
		}
	}
}

// WithCondition sets the skip-gate condition, independent of step kind.
func WithCondition(expr string) StepOption {
	return func(s *WorkflowStep) { s.Condition = expr }
}

// WithRetryCount overrides the step's retry count (total attempts).
func WithRetryCount(n int) StepOption {
	return func(s *WorkflowStep) { s.RetryCount = n }
}

// WithTimeout overrides the step's timeout in seconds.
func WithTimeout(seconds int) StepOption {
	return func(s *WorkflowStep) { s.TimeoutSeconds = seconds }
}

// WithDisplayName sets a human-readable name.
func WithDisplayName(name string) StepOption {
	return func(s *WorkflowStep) { s.DisplayName = name }
}

// WithDescription sets an optional description.
func WithDescription(desc string) StepOption {
	return func(s *WorkflowStep) { s.Description = desc }
}

// Builder appends WorkflowSteps one at a time, validating each as it's
// added, and produces an immutable Workflow once whole-graph validation
// passes.
type Builder struct {
	config Config
	order  []string
	steps  map[string]*WorkflowStep
	err    error
}

// NewBuilder starts a Builder for the given workflow configuration.
func NewBuilder(config Config) *Builder {
	if config.MaxParallelSteps <= 0 {
		config.MaxParallelSteps = 5
	}
	if config.DefaultTimeoutSeconds <= 0 {
		config.DefaultTimeoutSeconds = 30
	}
	if config.DefaultRetryCount <= 0 {
		config.DefaultRetryCount = 3
	}
	return &Builder{config: config, steps: make(map[string]*WorkflowStep)}
}

func (b *Builder) newStep(id string, kind StepKind, opts []StepOption) *WorkflowStep {
	step := &WorkflowStep{
		ID:             id,
		Kind:           kind,
		DependsOn:      make(map[string]struct{}),
		RetryCount:     b.config.DefaultRetryCount,
		TimeoutSeconds: b.config.DefaultTimeoutSeconds,
		Status:         StatusPending,
	}
	for _, opt := range opts {
		opt(step)
	}
	return step
}

// add validates and appends step. Validation failures are latched onto the
// builder so Build() surfaces the first one encountered.
func (b *Builder) add(step *WorkflowStep) *Builder {
	if b.err != nil {
		return b
	}
	if step.ID == "" {
		b.err = &conductorerrors.WorkflowValidationError{Reason: "step id must not be empty"}
		return b
	}
	if _, exists := b.steps[step.ID]; exists {
		b.err = &conductorerrors.WorkflowValidationError{Reason: fmt.Sprintf("duplicate step id %q", step.ID)}
		return b
	}
	for dep := range step.DependsOn {
		if _, exists := b.steps[dep]; !exists {
			b.err = &conductorerrors.WorkflowValidationError{Reason: fmt.Sprintf("step %q depends on unknown step %q", step.ID, dep)}
			return b
		}
	}

	b.steps[step.ID] = step
	b.order = append(b.order, step.ID)
	return b
}

// AddMCPStep appends an MCP_TOOL step.
func (b *Builder) AddMCPStep(id, serverName, toolName string, args map[string]any, opts ...StepOption) *Builder {
	step := b.newStep(id, KindMCPTool, opts)
	step.ServerName = serverName
	step.ToolName = toolName
	step.Arguments = args
	return b.add(step)
}

// AddCustomStep appends a CUSTOM step.
func (b *Builder) AddCustomStep(id string, fn CustomFunc, params map[string]any, opts ...StepOption) *Builder {
	step := b.newStep(id, KindCustom, opts)
	step.Fn = fn
	step.Params = params
	return b.add(step)
}

// AddConditionalStep appends a CONDITIONAL step, whose own result is the
// boolean value of expr.
func (b *Builder) AddConditionalStep(id, expr string, opts ...StepOption) *Builder {
	step := b.newStep(id, KindConditional, opts)
	step.ConditionExpr = expr
	return b.add(step)
}

// Build finalizes the workflow: duplicate-id and missing-dependency checks
// have already run per-add; Build additionally runs cycle detection and
// computes the topological execution batches.
func (b *Builder) Build() (*Workflow, error) {
	if b.err != nil {
		return nil, b.err
	}

	if cycle := detectCycle(b.order, b.steps); len(cycle) > 0 {
		return nil, &conductorerrors.WorkflowValidationError{Cycle: cycle}
	}

	batches := computeBatches(b.order, b.steps)

	return &Workflow{
		config:  b.config,
		order:   append([]string(nil), b.order...),
		steps:   b.steps,
		batches: batches,
	}, nil
}

// detectCycle runs a depth-first traversal from each node with an explicit
// recursion stack, returning the first cycle found as an ordered path of
// step ids, or nil if the graph is acyclic.
func detectCycle(order []string, steps map[string]*WorkflowStep) []string {
	const (
		unvisited = 0
		visiting  = 1
		visited   = 2
	)
	state := make(map[string]int, len(steps))
	var path []string

	var visit func(id string) []string
	visit = func(id string) []string {
		state[id] = visiting
		path = append(path, id)

		for dep := range steps[id].DependsOn {
			switch state[dep] {
			case visiting:
				// Found the back-edge; trim path to the cycle itself.
				start := 0
				for i, p := range path {
					if p == dep {
						start = i
						break
					}
				}
				cycle := append([]string(nil), path[start:]...)
				return append(cycle, dep)
			case unvisited:
				if cyc := visit(dep); cyc != nil {
					return cyc
				}
			}
		}

		path = path[:len(path)-1]
		state[id] = visited
		return nil
	}

	for _, id := range order {
		if state[id] == unvisited {
			if cyc := visit(id); cyc != nil {
				return cyc
			}
		}
	}
	return nil
}

// computeBatches performs Kahn-style topological layering: repeatedly
// collects the set of nodes whose unsatisfied-dependency count is zero into
// one batch, removes them, and repeats until every step is placed. Assumes
// the graph is already known to be acyclic.
func computeBatches(order []string, steps map[string]*WorkflowStep) [][]string {
	remaining := make(map[string]int, len(steps))
	dependents := make(map[string][]string, len(steps))
	for _, id := range order {
		remaining[id] = len(steps[id].DependsOn)
		for dep := range steps[id].DependsOn {
			dependents[dep] = append(dependents[dep], id)
		}
	}

	var batches [][]string
	placed := 0
	for placed < len(order) {
		var batch []string
		for _, id := range order {
			if remaining[id] == 0 {
				batch = append(batch, id)
			}
		}
		if len(batch) == 0 {
			break // unreachable when the graph is acyclic
		}

		for _, id := range batch {
			remaining[id] = -1 // mark placed so it isn't re-collected
			placed++
			for _, dependent := range dependents[id] {
				remaining[dependent]--
			}
		}
		batches = append(batches, batch)
	}

	return batches
}

// Workflow is the immutable, validated result of Builder.Build.
type Workflow struct {
	config  Config
	order   []string
	steps   map[string]*WorkflowStep
	batches [][]string
}

// ExecutionBatches returns the ordered sequence of independent step-id sets
// computed at build time. Purely derived and cacheable.
func (w *Workflow) ExecutionBatches() [][]string {
	return w.batches
}

// StepByID returns the step with the given id, if any.
func (w *Workflow) StepByID(id string) (*WorkflowStep, bool) {
	s, ok := w.steps[id]
	return s, ok
}

// StepOrder returns step ids in original builder (insertion) order.
func (w *Workflow) StepOrder() []string {
	return append([]string(nil), w.order...)
}

// Config returns the workflow's configuration.
func (w *Workflow) Config() Config {
	return w.config
}
