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

package errors

import (
	"fmt"
	"strings"
	"time"
)

// WorkflowValidationError indicates the builder rejected a workflow graph:
// a missing dependency, a duplicate step id, or a dependency cycle.
type WorkflowValidationError struct {
	Reason string
	Cycle  []string
}

func (e *WorkflowValidationError) Error() string {
	if len(e.Cycle) > 0 {
		return fmt.Sprintf("workflow validation failed: cycle detected: %s", strings.Join(e.Cycle, " -> "))
	}
	return fmt.Sprintf("workflow validation failed: %s", e.Reason)
}

func (e *WorkflowValidationError) ErrorType() string { return "workflow_validation" }
func (e *WorkflowValidationError) IsRetryable() bool { return false }

// StepTimeout indicates a step's deadline (startTime + timeoutSeconds) was
// reached before it completed.
type StepTimeout struct {
	StepID    string
	Timeout   time.Duration
	retryable bool
}

// NewStepTimeout constructs a StepTimeout, marking it retryable when it
// originates from an MCP tool call (custom steps are never retried on
// timeout since their cancellation semantics are caller-defined).
func NewStepTimeout(stepID string, timeout time.Duration, retryable bool) *StepTimeout {
	return &StepTimeout{StepID: stepID, Timeout: timeout, retryable: retryable}
}

func (e *StepTimeout) Error() string {
	return fmt.Sprintf("step %q timed out after %v", e.StepID, e.Timeout)
}

func (e *StepTimeout) ErrorType() string { return "step_timeout" }
func (e *StepTimeout) IsRetryable() bool { return e.retryable }
