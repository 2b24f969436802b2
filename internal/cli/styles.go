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

// Package cli assembles the stepwise command-line tool: server inspection,
// workflow execution, run history, and identity commands, all built on
// cobra with huh/survey for interactive input and lipgloss for styled
// output.
package cli

import (
	"github.com/charmbracelet/lipgloss"
)

var (
	statusOK    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	statusWarn  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	statusError = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	muted       = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	header      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
)

const (
	symbolOK    = "✓"
	symbolError = "✗"
)

func renderHealthy(name string, healthy bool) string {
	if healthy {
		return statusOK.Render(symbolOK) + " " + name
	}
	return statusError.Render(symbolError) + " " + name
}

func renderStatus(label string) string {
	switch label {
	case "COMPLETED":
		return statusOK.Render(label)
	case "PARTIAL":
		return statusWarn.Render(label)
	default:
		return statusError.Render(label)
	}
}

func renderHeader(s string) string {
	return header.Render(s)
}

func renderMuted(s string) string {
	return muted.Render(s)
}
