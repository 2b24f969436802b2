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
	"strings"
	"sync"

	"github.com/itchyny/gojq"
)

// StepRef is a placeholder value for an MCP_TOOL step's Arguments that
// resolves, at dispatch time, to a dot-separated field path within an
// earlier step's result. It lets later steps consume earlier steps'
// outputs without the builder needing to know their values up front.
type StepRef struct {
	StepID string
	Path   string
}

// Ref builds a StepRef for use as an Arguments value.
func Ref(stepID, path string) StepRef {
	return StepRef{StepID: stepID, Path: path}
}

// resolveArguments returns a copy of args with every StepRef replaced by
// the referenced step's resolved field value. The referenced step must
// already have completed.
func resolveArguments(args map[string]any, steps map[string]*WorkflowStep) (map[string]any, error) {
	if args == nil {
		return nil, nil
	}

	resolved := make(map[string]any, len(args))
	for key, value := range args {
		ref, ok := value.(StepRef)
		if !ok {
			resolved[key] = value
			continue
		}

		step, exists := steps[ref.StepID]
		if !exists {
			return nil, fmt.Errorf("argument %q references unknown step %q", key, ref.StepID)
		}
		status, result, _ := step.snapshot()
		if status != StatusCompleted {
			return nil, fmt.Errorf("argument %q references step %q which has not completed", key, ref.StepID)
		}

		v, err := lookupPath(result, ref.Path)
		if err != nil {
			return nil, fmt.Errorf("argument %q: %w", key, err)
		}
		resolved[key] = v
	}
	return resolved, nil
}

// pathCache holds compiled jq filters keyed by the literal Path string, since
// the same StepRef path is typically evaluated once per step dispatch but a
// workflow with a loop-like CUSTOM step calling resolveArguments repeatedly
// would otherwise recompile the identical filter every time. Guarded by
// pathCacheMu because resolveArguments runs from concurrent step goroutines.
var (
	pathCacheMu sync.Mutex
	pathCache   = map[string]*gojq.Code{}
)

// lookupPath resolves path as a jq filter against v. A bare dot-path like
// "a.b" or "a.b[0]" is accepted: a leading "." is prepended before gojq
// parses it. Paths already starting with "." ("." or ".a | .b") are used
// unchanged.
// Empty path returns v unmodified.
func lookupPath(v any, path string) (any, error) {
	if path == "" {
		return v, nil
	}

	filter := path
	if !strings.HasPrefix(filter, ".") {
		filter = "." + filter
	}

	code, err := compiledPath(filter, path)
	if err != nil {
		return nil, err
	}

	iter := code.Run(v)
	result, ok := iter.Next()
	if !ok {
		return nil, fmt.Errorf("path %q: no result", path)
	}
	if err, isErr := result.(error); isErr {
		return nil, fmt.Errorf("path %q: %w", path, err)
	}
	return result, nil
}

func compiledPath(filter, original string) (*gojq.Code, error) {
	pathCacheMu.Lock()
	defer pathCacheMu.Unlock()

	if code, ok := pathCache[filter]; ok {
		return code, nil
	}

	query, err := gojq.Parse(filter)
	if err != nil {
		return nil, fmt.Errorf("invalid path %q: %w", original, err)
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return nil, fmt.Errorf("invalid path %q: %w", original, err)
	}
	pathCache[filter] = code
	return code, nil
}
