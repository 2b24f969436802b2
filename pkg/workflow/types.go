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

// Package workflow implements the DAG builder, validator, topological
// batcher, and batch-parallel execution engine that drive dependency
// ordered steps whose work is either an MCP tool call or a caller-supplied
// function.
package workflow

import (
	"context"
	"sync"
	"time"
)

// StepKind distinguishes what a step does when dispatched.
type StepKind string

const (
	KindMCPTool     StepKind = "mcp_tool"
	KindCustom      StepKind = "custom"
	KindConditional StepKind = "conditional"
)

// StepStatus is a step's execution state.
type StepStatus string

const (
	StatusPending   StepStatus = "pending"
	StatusRunning   StepStatus = "running"
	StatusCompleted StepStatus = "completed"
	StatusFailed    StepStatus = "failed"
	StatusSkipped   StepStatus = "skipped"
)

// Status is the terminal state of a whole workflow run.
type Status string

const (
	StatusCompletedAll Status = "COMPLETED"
	StatusPartial      Status = "PARTIAL"
	StatusFailedAll    Status = "FAILED"
)

// CustomFunc is the body of a CUSTOM step. It receives the shared context,
// the step being executed, and the step's parameter mapping, and returns a
// serializable result. Implementations that need cancellation should
// observe ctx; those that cannot should poll wctx's cooperative
// cancellation flag instead (see WorkflowContext.Cancelled).
type CustomFunc func(ctx context.Context, wctx *WorkflowContext, step *WorkflowStep, params map[string]any) (any, error)

// WorkflowStep is one node of the DAG. It is immutable after the builder
// finalizes the workflow, except for the runtime state fields which the
// owning engine mutates during exactly one execution.
type WorkflowStep struct {
	ID          string
	Kind        StepKind
	DisplayName string
	Description string

	// MCP_TOOL fields.
	ServerName string
	ToolName   string
	Arguments  map[string]any

	// CUSTOM fields.
	Fn     CustomFunc
	Params map[string]any

	// CONDITIONAL fields: the expression this step's own result is.
	ConditionExpr string

	// Condition optionally gates any step kind: if present and it
	// evaluates false, the step is skipped without dispatch.
	Condition string

	DependsOn map[string]struct{}

	RetryCount     int
	TimeoutSeconds int

	mu        sync.Mutex
	Status    StepStatus
	Result    any
	Err       error
	StartTime time.Time
	EndTime   time.Time
}

func (s *WorkflowStep) setRunning() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Status = StatusRunning
	s.StartTime = time.Now()
}

func (s *WorkflowStep) setSkipped(result any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Status = StatusSkipped
	s.Result = result
	s.EndTime = time.Now()
}

func (s *WorkflowStep) setCompleted(result any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Status = StatusCompleted
	s.Result = result
	s.EndTime = time.Now()
}

func (s *WorkflowStep) setFailed(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Status = StatusFailed
	s.Err = err
	s.EndTime = time.Now()
}

func (s *WorkflowStep) snapshot() (StepStatus, any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Status, s.Result, s.Err
}

// Config is the workflow-level configuration.
type Config struct {
	Name                  string
	Description           string
	RegistryPath          string
	MaxParallelSteps      int
	DefaultTimeoutSeconds int
	StopOnError           bool
	DefaultRetryCount     int
	RetryBaseDelaySeconds float64
	RetryMaxDelaySeconds  float64
}

// DefaultConfig returns a Config with the defaults named in the data model.
func DefaultConfig(name string) Config {
	return Config{
		Name:                  name,
		MaxParallelSteps:      5,
		DefaultTimeoutSeconds: 30,
		StopOnError:           true,
		DefaultRetryCount:     3,
		RetryBaseDelaySeconds: 1,
		RetryMaxDelaySeconds:  30,
	}
}

// Result is the outcome of one workflow execution.
type Result struct {
	WorkflowName string
	Status       Status

	StepResults map[string]any
	StepTimings map[string]time.Duration

	StepsCompleted int
	StepsFailed    int
	StepsSkipped   int
	TotalSteps     int

	Errors        []string
	FailedStepIDs []string

	FinalResult any

	StartTime time.Time
	EndTime   time.Time

	mu sync.Mutex
}

// DurationSeconds returns the wall-clock duration of the run.
func (r *Result) DurationSeconds() float64 {
	return r.EndTime.Sub(r.StartTime).Seconds()
}

// SuccessRate returns StepsCompleted / TotalSteps, or 0 if TotalSteps is 0.
func (r *Result) SuccessRate() float64 {
	if r.TotalSteps == 0 {
		return 0
	}
	return float64(r.StepsCompleted) / float64(r.TotalSteps)
}

func (r *Result) recordSuccess(stepID string, value any, timing time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.StepResults[stepID] = value
	r.StepTimings[stepID] = timing
	r.StepsCompleted++
}

func (r *Result) recordSkip(stepID string, value any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.StepResults[stepID] = value
	r.StepsSkipped++
}

func (r *Result) recordFailure(stepID string, err error, timing time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.StepsFailed++
	r.FailedStepIDs = append(r.FailedStepIDs, stepID)
	r.Errors = append(r.Errors, stepID+": "+err.Error())
	r.StepTimings[stepID] = timing
}

// snapshotForCondition returns a read-only view suitable for exposing to
// the condition evaluator: a plain map, not the live Result.
func (r *Result) snapshotForCondition() map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()

	stepResults := make(map[string]any, len(r.StepResults))
	for k, v := range r.StepResults {
		stepResults[k] = v
	}

	return map[string]any{
		"stepResults":    stepResults,
		"stepsCompleted": r.StepsCompleted,
		"stepsFailed":    r.StepsFailed,
		"stepsSkipped":   r.StepsSkipped,
		"totalSteps":     r.TotalSteps,
	}
}
