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
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	conductorerrors "github.com/stepwise/stepwise/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Definition is the declarative, on-disk shape of a workflow: YAML or JSON
// that LoadDefinition translates into Builder calls. It covers MCP_TOOL and
// CONDITIONAL steps; CUSTOM steps require a Go function body and so can only
// be added programmatically via Builder.AddCustomStep.
type Definition struct {
	Name                  string             `yaml:"name" json:"name"`
	Description           string             `yaml:"description,omitempty" json:"description,omitempty"`
	MaxParallelSteps      int                `yaml:"maxParallelSteps,omitempty" json:"maxParallelSteps,omitempty"`
	DefaultTimeoutSeconds int                `yaml:"defaultTimeoutSeconds,omitempty" json:"defaultTimeoutSeconds,omitempty"`
	DefaultRetryCount     int                `yaml:"defaultRetryCount,omitempty" json:"defaultRetryCount,omitempty"`
	StopOnError           *bool              `yaml:"stopOnError,omitempty" json:"stopOnError,omitempty"`
	RetryBaseDelaySeconds float64            `yaml:"retryBaseDelaySeconds,omitempty" json:"retryBaseDelaySeconds,omitempty"`
	RetryMaxDelaySeconds  float64            `yaml:"retryMaxDelaySeconds,omitempty" json:"retryMaxDelaySeconds,omitempty"`
	Steps                 []StepDefinition   `yaml:"steps" json:"steps"`
}

// StepDefinition is one declarative step entry.
type StepDefinition struct {
	ID             string         `yaml:"id" json:"id"`
	Kind           string         `yaml:"kind" json:"kind"` // "mcp_tool" or "conditional"
	DisplayName    string         `yaml:"displayName,omitempty" json:"displayName,omitempty"`
	Description    string         `yaml:"description,omitempty" json:"description,omitempty"`
	Server         string         `yaml:"server,omitempty" json:"server,omitempty"`
	Tool           string         `yaml:"tool,omitempty" json:"tool,omitempty"`
	Args           map[string]any `yaml:"args,omitempty" json:"args,omitempty"`
	ConditionExpr  string         `yaml:"expr,omitempty" json:"expr,omitempty"`
	Condition      string         `yaml:"condition,omitempty" json:"condition,omitempty"`
	DependsOn      []string       `yaml:"dependsOn,omitempty" json:"dependsOn,omitempty"`
	RetryCount     int            `yaml:"retryCount,omitempty" json:"retryCount,omitempty"`
	TimeoutSeconds int            `yaml:"timeoutSeconds,omitempty" json:"timeoutSeconds,omitempty"`
}

// LoadDefinition reads and parses a workflow Definition from path, choosing
// YAML or JSON by file extension (.json is parsed as JSON; everything else
// as YAML, since valid JSON is also valid YAML this covers ambiguous cases
// too).
func LoadDefinition(path string) (*Definition, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &conductorerrors.ConfigError{Key: path, Reason: "cannot read workflow definition", Cause: err}
	}

	var def Definition
	if strings.EqualFold(filepath.Ext(path), ".json") {
		if err := json.Unmarshal(raw, &def); err != nil {
			return nil, &conductorerrors.ConfigError{Key: path, Reason: "malformed JSON workflow definition", Cause: err}
		}
	} else if err := yaml.Unmarshal(raw, &def); err != nil {
		return nil, &conductorerrors.ConfigError{Key: path, Reason: "malformed YAML workflow definition", Cause: err}
	}

	if def.Name == "" {
		return nil, &conductorerrors.ConfigError{Key: path, Reason: "workflow definition missing required \"name\""}
	}
	return &def, nil
}

// Build translates a Definition into a validated Workflow via Builder,
// resolving every "$ref" argument placeholder into a StepRef.
func (d *Definition) Build() (*Workflow, error) {
	cfg := DefaultConfig(d.Name)
	cfg.Description = d.Description
	if d.MaxParallelSteps > 0 {
		cfg.MaxParallelSteps = d.MaxParallelSteps
	}
	if d.DefaultTimeoutSeconds > 0 {
		cfg.DefaultTimeoutSeconds = d.DefaultTimeoutSeconds
	}
	if d.DefaultRetryCount > 0 {
		cfg.DefaultRetryCount = d.DefaultRetryCount
	}
	if d.StopOnError != nil {
		cfg.StopOnError = *d.StopOnError
	}
	if d.RetryBaseDelaySeconds > 0 {
		cfg.RetryBaseDelaySeconds = d.RetryBaseDelaySeconds
	}
	if d.RetryMaxDelaySeconds > 0 {
		cfg.RetryMaxDelaySeconds = d.RetryMaxDelaySeconds
	}

	b := NewBuilder(cfg)
	for _, sd := range d.Steps {
		opts := stepOptions(sd)

		switch strings.ToLower(sd.Kind) {
		case "mcp_tool", "":
			args, err := resolveRefPlaceholders(sd.Args)
			if err != nil {
				return nil, fmt.Errorf("step %q: %w", sd.ID, err)
			}
			b.AddMCPStep(sd.ID, sd.Server, sd.Tool, args, opts...)
		case "conditional":
			b.AddConditionalStep(sd.ID, sd.ConditionExpr, opts...)
		default:
			return nil, fmt.Errorf("step %q: unsupported declarative step kind %q (custom steps must be added via Builder.AddCustomStep)", sd.ID, sd.Kind)
		}
	}

	return b.Build()
}

func stepOptions(sd StepDefinition) []StepOption {
	var opts []StepOption
	if len(sd.DependsOn) > 0 {
		opts = append(opts, WithDependsOn(sd.DependsOn...))
	}
	if sd.Condition != "" {
		opts = append(opts, WithCondition(sd.Condition))
	}
	if sd.RetryCount > 0 {
		opts = append(opts, WithRetryCount(sd.RetryCount))
	}
	if sd.TimeoutSeconds > 0 {
		opts = append(opts, WithTimeout(sd.TimeoutSeconds))
	}
	if sd.DisplayName != "" {
		opts = append(opts, WithDisplayName(sd.DisplayName))
	}
	if sd.Description != "" {
		opts = append(opts, WithDescription(sd.Description))
	}
	return opts
}

// resolveRefPlaceholders walks args, replacing any map shaped like
// {"$ref": {"step": "<id>", "path": "<jq path>"}} with a StepRef, the
// declarative equivalent of calling workflow.Ref directly in Go.
func resolveRefPlaceholders(args map[string]any) (map[string]any, error) {
	if args == nil {
		return nil, nil
	}

	out := make(map[string]any, len(args))
	for key, value := range args {
		resolved, err := resolveRefPlaceholder(value)
		if err != nil {
			return nil, fmt.Errorf("argument %q: %w", key, err)
		}
		out[key] = resolved
	}
	return out, nil
}

func resolveRefPlaceholder(value any) (any, error) {
	m, ok := value.(map[string]any)
	if !ok {
		return value, nil
	}
	refRaw, ok := m["$ref"]
	if !ok {
		return value, nil
	}
	ref, ok := refRaw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("$ref must be an object with \"step\" and \"path\"")
	}
	stepID, _ := ref["step"].(string)
	path, _ := ref["path"].(string)
	if stepID == "" {
		return nil, fmt.Errorf("$ref.step must be a non-empty string")
	}
	return Ref(stepID, path), nil
}
