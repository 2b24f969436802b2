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
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// globalFlags holds the persistent flags every subcommand reads.
type globalFlags struct {
	registryPath string
	historyDB    string
	verbose      bool
}

var flags globalFlags

// version information, injected via ldflags at build time.
var (
	version = "dev"
	commit  = "unknown"
)

// SetVersion records build-time version metadata for the version command.
func SetVersion(v, c string) {
	version = v
	commit = c
}

// NewRootCommand builds the stepwise root command and wires every
// subcommand onto it.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "stepwise",
		Short:         "stepwise orchestrates multi-step workflows over MCP tool servers",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&flags.registryPath, "registry", "servers.json", "path to the MCP server registry file")
	cmd.PersistentFlags().StringVar(&flags.historyDB, "history-db", "stepwise-history.db", "path to the run-history SQLite database")
	cmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "enable debug logging")

	cmd.AddCommand(newServersCommand())
	cmd.AddCommand(newRunCommand())
	cmd.AddCommand(newHistoryCommand())
	cmd.AddCommand(newWhoamiCommand())
	cmd.AddCommand(newVersionCommand())

	return cmd
}

// Execute runs the root command and returns its exit code.
func Execute() int {
	if err := NewRootCommand().Execute(); err != nil {
		os.Stderr.WriteString(statusError.Render(symbolError) + " " + err.Error() + "\n")
		return 1
	}
	return 0
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if flags.verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
