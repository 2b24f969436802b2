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
	"context"
	"fmt"
	"sort"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/stepwise/stepwise/pkg/history"
	"github.com/stepwise/stepwise/pkg/mcp"
	"github.com/stepwise/stepwise/pkg/workflow"
)

func newRunCommand() *cobra.Command {
	var skipConfirm bool
	cmd := &cobra.Command{
		Use:   "run <workflow.yaml|workflow.json>",
		Short: "execute a declarative workflow definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorkflowFile(cmd.Context(), cmd, args[0], skipConfirm)
		},
	}
	cmd.Flags().BoolVarP(&skipConfirm, "yes", "y", false, "skip the confirmation prompt")
	return cmd
}

func runWorkflowFile(ctx context.Context, cmd *cobra.Command, path string, skipConfirm bool) error {
	logger := newLogger()

	def, err := workflow.LoadDefinition(path)
	if err != nil {
		return err
	}
	wf, err := def.Build()
	if err != nil {
		return err
	}

	if !skipConfirm && isInteractive() {
		confirmed, err := confirmRun(def.Name, len(wf.StepOrder()))
		if err != nil {
			return err
		}
		if !confirmed {
			fmt.Fprintln(cmd.OutOrStdout(), renderMuted("aborted"))
			return nil
		}
	}

	reg, err := mcp.Load(flags.registryPath, logger)
	if err != nil {
		return err
	}
	mgr := mcp.NewManager(reg, logger)

	engine := workflow.NewEngine(mgr, logger)
	result := engine.Execute(ctx, wf, workflow.NewContext())

	store, err := history.Open(flags.historyDB)
	if err != nil {
		logger.Warn("run history unavailable", "error", err)
	} else {
		defer store.Close()
		if err := store.Record(ctx, result); err != nil {
			logger.Warn("failed to record run history", "error", err)
		}
	}

	printRunSummary(cmd, result)
	if result.Status == workflow.StatusFailedAll {
		return fmt.Errorf("workflow %q failed", result.WorkflowName)
	}
	return nil
}

func printRunSummary(cmd *cobra.Command, result *workflow.Result) {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, renderHeader(result.WorkflowName), renderStatus(string(result.Status)))
	fmt.Fprintf(out, "%s %.2fs  completed=%d failed=%d skipped=%d total=%d\n",
		renderMuted("duration"), result.DurationSeconds(),
		result.StepsCompleted, result.StepsFailed, result.StepsSkipped, result.TotalSteps)

	ids := make([]string, 0, len(result.StepTimings))
	for id := range result.StepTimings {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		fmt.Fprintf(out, "  %s %s (%s)\n", renderMuted(id+":"), result.StepTimings[id], stepOutcome(result, id))
	}

	for _, msg := range result.Errors {
		fmt.Fprintln(out, statusError.Render(symbolError), msg)
	}
}

func confirmRun(workflowName string, stepCount int) (bool, error) {
	confirmed := false
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(fmt.Sprintf("Run workflow %q (%d steps)?", workflowName, stepCount)).
				Affirmative("Run").
				Negative("Cancel").
				Value(&confirmed),
		),
	)
	if err := form.Run(); err != nil {
		if err == huh.ErrUserAborted {
			return false, nil
		}
		return false, err
	}
	return confirmed, nil
}

func stepOutcome(result *workflow.Result, id string) string {
	for _, failedID := range result.FailedStepIDs {
		if failedID == id {
			return "failed"
		}
	}
	return "ok"
}
