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
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	conductorerrors "github.com/stepwise/stepwise/pkg/errors"
	"github.com/stepwise/stepwise/pkg/mcp"
	"github.com/stepwise/stepwise/pkg/retry"
	"github.com/stepwise/stepwise/pkg/serialize"
	"github.com/stepwise/stepwise/pkg/telemetry"
	"github.com/stepwise/stepwise/pkg/workflow/expression"
)

// ToolCaller is the subset of the session manager the engine needs to
// dispatch MCP_TOOL steps. Accepting the interface rather than *mcp.Manager
// keeps the engine testable without spawning real child processes.
type ToolCaller interface {
	CallToolWithRetry(ctx context.Context, serverName, toolName string, args map[string]any, attempts int, baseDelay, maxDelay time.Duration) (any, error)
}

// Engine drives a built Workflow to completion: it evaluates conditions,
// dispatches MCP or custom steps, bounds parallelism per batch, applies
// per-step retries, and enforces stop-on-error.
type Engine struct {
	sessions  ToolCaller
	logger    *slog.Logger
	eval      *expression.Evaluator
	telemetry *telemetry.Provider
}

// NewEngine constructs an Engine backed by sessions for MCP_TOOL dispatch.
func NewEngine(sessions ToolCaller, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{sessions: sessions, logger: logger, eval: expression.New()}
}

// WithTelemetry attaches a telemetry Provider that records a span and
// counters per step. A nil Provider (the default) disables telemetry
// entirely rather than requiring callers to stand up a collector.
func (e *Engine) WithTelemetry(p *telemetry.Provider) *Engine {
	e.telemetry = p
	return e
}

// Execute drives w to completion against wctx, returning the terminal
// WorkflowResult. Execute never returns an error for step-level failures;
// those are recorded in the returned Result. It never panics across this
// boundary for anything other than a programmer error.
func (e *Engine) Execute(ctx context.Context, w *Workflow, wctx *WorkflowContext) *Result {
	if wctx == nil {
		wctx = NewContext()
	}

	result := &Result{
		WorkflowName: w.config.Name,
		StepResults:  make(map[string]any),
		StepTimings:  make(map[string]time.Duration),
		TotalSteps:   len(w.order),
		StartTime:    time.Now(),
	}

	stopped := false
	for _, batch := range w.ExecutionBatches() {
		if stopped {
			break
		}

		n := len(batch)
		if w.config.MaxParallelSteps > 0 && w.config.MaxParallelSteps < n {
			n = w.config.MaxParallelSteps
		}
		sem := make(chan struct{}, n)
		done := make(chan struct{}, len(batch))

		for _, id := range batch {
			step := w.steps[id]
			go func(step *WorkflowStep) {
				sem <- struct{}{}
				defer func() { <-sem; done <- struct{}{} }()
				e.executeStep(ctx, w, step, wctx, result)
			}(step)
		}
		for range batch {
			<-done
		}

		if w.config.StopOnError {
			for _, id := range batch {
				status, _, _ := w.steps[id].snapshot()
				if status == StatusFailed {
					stopped = true
					break
				}
			}
		}
	}

	result.EndTime = time.Now()
	result.Status = terminalStatus(result)
	result.FinalResult = finalResult(w, result)

	return result
}

func terminalStatus(r *Result) Status {
	switch {
	case r.StepsFailed == 0:
		return StatusCompletedAll
	case r.StepsCompleted == 0 && r.StepsFailed > 0:
		return StatusFailedAll
	default:
		return StatusPartial
	}
}

// finalResult is the result value of the last step, in original insertion
// order, that completed successfully.
func finalResult(w *Workflow, r *Result) any {
	var last any
	found := false
	for _, id := range w.order {
		status, value, _ := w.steps[id].snapshot()
		if status == StatusCompleted {
			last = value
			found = true
		}
	}
	if !found {
		return nil
	}
	return last
}

// executeStep runs one step end to end: condition gate, dispatch by kind,
// serializability validation, and bookkeeping into result.
func (e *Engine) executeStep(ctx context.Context, w *Workflow, step *WorkflowStep, wctx *WorkflowContext, result *Result) {
	start := time.Now()
	step.setRunning()

	ctx, span := e.startStepSpan(ctx, step)
	defer span.End()

	if step.Condition != "" {
		ok, err := e.evaluateCondition(w, step.Condition, wctx, result)
		if err != nil {
			e.logger.Error("condition evaluation failed, treating as false", "step", step.ID, "error", err)
			ok = false
		}
		if !ok {
			step.setSkipped("Condition not met")
			result.recordSkip(step.ID, "Condition not met")
			e.recordStepMetrics(ctx, step, StatusSkipped, time.Since(start))
			return
		}
	}

	deadline := time.Duration(step.TimeoutSeconds) * time.Second
	stepCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	value, err := e.dispatch(stepCtx, w, step, wctx, result)
	if err == nil {
		if probeErr := serialize.Probe(value); probeErr != nil {
			err = &conductorerrors.NonSerializableResult{Server: step.ServerName, Tool: step.ToolName, Cause: probeErr}
		}
	}
	if stepCtx.Err() == context.DeadlineExceeded && err != nil {
		err = conductorerrors.NewStepTimeout(step.ID, deadline, step.Kind == KindMCPTool)
	}

	timing := time.Since(start)
	if err != nil {
		step.setFailed(err)
		result.recordFailure(step.ID, err, timing)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.recordStepMetrics(ctx, step, StatusFailed, timing)
		return
	}

	step.setCompleted(value)
	result.recordSuccess(step.ID, value, timing)
	e.recordStepMetrics(ctx, step, StatusCompleted, timing)
}

// startStepSpan opens a span for step if telemetry is configured; otherwise
// it returns ctx unchanged and the inert span already attached to it (a
// real no-op with no observer wired).
func (e *Engine) startStepSpan(ctx context.Context, step *WorkflowStep) (context.Context, trace.Span) {
	if e.telemetry == nil || e.telemetry.Tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return e.telemetry.Tracer.Start(ctx, "workflow.step",
		trace.WithAttributes(
			attribute.String("step.id", step.ID),
			attribute.String("step.kind", string(step.Kind)),
		),
	)
}

func (e *Engine) recordStepMetrics(ctx context.Context, step *WorkflowStep, status StepStatus, timing time.Duration) {
	if e.telemetry == nil {
		return
	}
	attrs := attribute.NewSet(
		attribute.String("step.kind", string(step.Kind)),
		attribute.String("status", string(status)),
	)
	e.telemetry.StepsTotal.Add(ctx, 1, metric.WithAttributeSet(attrs))
	e.telemetry.StepDuration.Record(ctx, timing.Seconds(), metric.WithAttributeSet(attrs))
}

func (e *Engine) dispatch(ctx context.Context, w *Workflow, step *WorkflowStep, wctx *WorkflowContext, result *Result) (any, error) {
	switch step.Kind {
	case KindConditional:
		ok, err := e.evaluateCondition(w, step.ConditionExpr, wctx, result)
		if err != nil {
			return nil, err
		}
		return ok, nil

	case KindCustom:
		return step.Fn(ctx, wctx, step, step.Params)

	case KindMCPTool:
		cfg := w.config
		baseDelay := time.Duration(cfg.RetryBaseDelaySeconds * float64(time.Second))
		maxDelay := time.Duration(cfg.RetryMaxDelaySeconds * float64(time.Second))
		args, err := resolveArguments(step.Arguments, w.steps)
		if err != nil {
			return nil, err
		}
		return e.sessions.CallToolWithRetry(ctx, step.ServerName, step.ToolName, args, step.RetryCount, baseDelay, maxDelay)

	default:
		return nil, &conductorerrors.WorkflowValidationError{Reason: "unknown step kind"}
	}
}

func (e *Engine) evaluateCondition(w *Workflow, expr string, wctx *WorkflowContext, result *Result) (bool, error) {
	evalCtx := buildConditionContext(w, wctx, result)
	return e.eval.Evaluate(expr, evalCtx)
}

// buildConditionContext exposes (a) each completed step's result keyed by
// step id, (b) context.shared_state, and (c) a read-only view of the
// accumulating WorkflowResult, to the condition evaluator.
func buildConditionContext(w *Workflow, wctx *WorkflowContext, result *Result) map[string]any {
	steps := make(map[string]any, len(w.order))
	for _, id := range w.order {
		status, value, _ := w.steps[id].snapshot()
		if status == StatusCompleted || status == StatusSkipped {
			steps[id] = value
		}
	}

	ctx := make(map[string]any, len(steps)+2)
	for id, value := range steps {
		ctx[id] = value
	}
	ctx["steps"] = steps
	ctx["shared_state"] = wctx.ToMap()["data"]
	ctx["result"] = result.snapshotForCondition()

	return ctx
}

// ClassifyTransportError is exposed for callers building their own retry
// configs against the transport-error taxonomy.
var ClassifyTransportError retry.Classifier = mcp.IsRetryableTransportError
