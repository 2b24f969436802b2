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
	"fmt"
	"sort"

	survey "github.com/AlecAivazis/survey/v2"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/cobra"

	"github.com/stepwise/stepwise/pkg/mcp"
)

func newServersCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "servers",
		Short: "inspect the MCP server registry",
	}
	cmd.AddCommand(newServersListCommand())
	cmd.AddCommand(newServersHealthCommand())
	cmd.AddCommand(newServersPickCommand())
	return cmd
}

func newServersListCommand() *cobra.Command {
	var filter string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "list registered MCP servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := mcp.Load(flags.registryPath, newLogger())
			if err != nil {
				return err
			}
			names, err := filteredServerNames(reg, filter)
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&filter, "filter", "", "doublestar glob to filter server names (e.g. \"demo-*\")")
	return cmd
}

func newServersHealthCommand() *cobra.Command {
	var filter string
	cmd := &cobra.Command{
		Use:   "health [server]",
		Short: "health-check one or every registered server",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := mcp.Load(flags.registryPath, newLogger())
			if err != nil {
				return err
			}
			mgr := mcp.NewManager(reg, newLogger())

			target := ""
			if len(args) == 1 {
				target = args[0]
			}

			results, err := mgr.HealthCheck(cmd.Context(), target)
			if err != nil {
				return err
			}

			names := make([]string, 0, len(results))
			for name := range results {
				names = append(names, name)
			}
			sort.Strings(names)

			for _, name := range names {
				if filter != "" {
					matched, err := doublestar.Match(filter, name)
					if err != nil {
						return fmt.Errorf("invalid filter pattern: %w", err)
					}
					if !matched {
						continue
					}
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderHealthy(name, results[name]))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&filter, "filter", "", "doublestar glob to filter server names")
	return cmd
}

func newServersPickCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "pick",
		Short: "interactively choose a registered server",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := mcp.Load(flags.registryPath, newLogger())
			if err != nil {
				return err
			}
			names := reg.ListServers()
			sort.Strings(names)
			if len(names) == 0 {
				return fmt.Errorf("no servers registered in %s", flags.registryPath)
			}
			if !isInteractive() {
				return fmt.Errorf("servers pick requires an interactive terminal")
			}

			var chosen string
			prompt := &survey.Select{
				Message: "Choose a server:",
				Options: names,
			}
			if err := survey.AskOne(prompt, &chosen); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), chosen)
			return nil
		},
	}
}

func filteredServerNames(reg *mcp.ServerRegistry, filter string) ([]string, error) {
	names := reg.ListServers()
	sort.Strings(names)
	if filter == "" {
		return names, nil
	}

	out := names[:0]
	for _, name := range names {
		matched, err := doublestar.Match(filter, name)
		if err != nil {
			return nil, fmt.Errorf("invalid filter pattern: %w", err)
		}
		if matched {
			out = append(out, name)
		}
	}
	return out, nil
}
