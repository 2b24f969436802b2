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
	"strings"
	"testing"
)

func TestRenderHealthy(t *testing.T) {
	if !strings.Contains(renderHealthy("demo", true), "demo") {
		t.Fatalf("expected rendered output to contain the server name")
	}
	if !strings.Contains(renderHealthy("demo", false), "demo") {
		t.Fatalf("expected rendered output to contain the server name")
	}
}

func TestRenderStatus(t *testing.T) {
	cases := []string{"COMPLETED", "PARTIAL", "FAILED"}
	for _, c := range cases {
		if !strings.Contains(renderStatus(c), c) {
			t.Fatalf("renderStatus(%q) dropped the label", c)
		}
	}
}
