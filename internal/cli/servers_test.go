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
	"os"
	"path/filepath"
	"testing"

	"github.com/stepwise/stepwise/pkg/mcp"
)

func writeRegistry(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "servers.json")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write registry: %v", err)
	}
	return path
}

func TestFilteredServerNames(t *testing.T) {
	path := writeRegistry(t, `{
		"mcpServers": {
			"demo-fetch": {"command": "true"},
			"demo-search": {"command": "true"},
			"prod-billing": {"command": "true"}
		}
	}`)

	reg, err := mcp.Load(path, nil)
	if err != nil {
		t.Fatalf("load registry: %v", err)
	}

	names, err := filteredServerNames(reg, "demo-*")
	if err != nil {
		t.Fatalf("filteredServerNames: %v", err)
	}
	if len(names) != 2 || names[0] != "demo-fetch" || names[1] != "demo-search" {
		t.Fatalf("unexpected filtered names: %v", names)
	}

	all, err := filteredServerNames(reg, "")
	if err != nil {
		t.Fatalf("filteredServerNames with empty filter: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected all 3 servers, got %v", all)
	}
}

func TestFilteredServerNames_InvalidPattern(t *testing.T) {
	path := writeRegistry(t, `{"mcpServers": {"demo": {"command": "true"}}}`)
	reg, err := mcp.Load(path, nil)
	if err != nil {
		t.Fatalf("load registry: %v", err)
	}
	if _, err := filteredServerNames(reg, "["); err == nil {
		t.Fatal("expected an error for a malformed glob pattern")
	}
}
