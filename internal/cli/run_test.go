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

package cli

import (
	"testing"

	"github.com/stepwise/stepwise/pkg/workflow"
)

func TestStepOutcome(t *testing.T) {
	result := &workflow.Result{
		FailedStepIDs: []string{"fetch"},
	}

	if got := stepOutcome(result, "fetch"); got != "failed" {
		t.Fatalf("expected failed, got %q", got)
	}
	if got := stepOutcome(result, "store"); got != "ok" {
		t.Fatalf("expected ok, got %q", got)
	}
}
