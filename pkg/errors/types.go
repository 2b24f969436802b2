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

import "fmt"

// ValidationError represents user input validation failures: a malformed
// condition expression, a builder call with a bad argument, or any other
// constraint violation that isn't specific to the workflow DAG itself (see
// WorkflowValidationError in workflow.go for graph-shape failures).
type ValidationError struct {
	// Field identifies which input field failed validation
	Field string

	// Message is the human-readable error description
	Message string

	// Suggestion provides actionable guidance for fixing the error
	Suggestion string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// ErrorType identifies this error for classification.
func (e *ValidationError) ErrorType() string { return "validation" }

// IsRetryable reports false: invalid input fails the same way on every attempt.
func (e *ValidationError) IsRetryable() bool { return false }

// ConfigError represents configuration problems: a missing or malformed
// server-registry document, an invalid server descriptor, or an unknown
// server name.
type ConfigError struct {
	// Key is the configuration key that has the problem (e.g., a registry
	// file path or a server name)
	Key string

	// Reason explains what's wrong with the configuration
	Reason string

	// Cause is the underlying error (e.g., file read error, parse error)
	Cause error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("config error at %s: %s", e.Key, e.Reason)
	}
	return fmt.Sprintf("config error: %s", e.Reason)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// ErrorType identifies this error for classification.
func (e *ConfigError) ErrorType() string { return "config" }

// IsRetryable reports false: a bad registry or descriptor does not fix itself.
func (e *ConfigError) IsRetryable() bool { return false }
