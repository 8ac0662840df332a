package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/aescanero/genflow/pkg/domain"
	"github.com/aescanero/genflow/pkg/ports"
	"go.uber.org/zap"
)

// DefaultRetryBaseDelay is the backoff unit between step attempts
const DefaultRetryBaseDelay = time.Second

// StepRunner executes one step of a process with validation, timeout and
// linear backoff retries.
type StepRunner struct {
	registry  *Registry
	baseDelay time.Duration
	logger    *zap.Logger
}

// NewStepRunner creates a step runner. A negative baseDelay disables the
// backoff wait.
func NewStepRunner(registry *Registry, baseDelay time.Duration, logger *zap.Logger) *StepRunner {
	return &StepRunner{
		registry:  registry,
		baseDelay: baseDelay,
		logger:    logger,
	}
}

// Run executes stepID of processID. Precondition failures are returned
// without touching state. Failed attempts are retried after
// baseDelay*retryCount until the step's retry limit is spent; the final
// failure is returned as a RetriesExhausted StepError wrapping the cause.
func (r *StepRunner) Run(ctx context.Context, processID, stepID string, exec ports.Executor, input map[string]any) (map[string]any, error) {
	if exec == nil {
		return nil, fmt.Errorf("%w: step %s", domain.ErrExecutorNotFound, stepID)
	}

	attempt, err := r.registry.BeginStep(ctx, processID, stepID)
	if err != nil {
		return nil, err
	}

	for {
		output, err := r.execute(ctx, processID, attempt, exec, input)
		if err == nil {
			if err := r.registry.CompleteStep(ctx, processID, stepID, output); err != nil {
				return nil, err
			}
			r.logger.Debug("step completed",
				zap.String("process_id", processID),
				zap.String("step_id", stepID),
				zap.Int("attempt", attempt.Attempt))
			return output, nil
		}

		outcome, ferr := r.registry.FailAttempt(ctx, processID, stepID, err, true)
		if ferr != nil {
			return nil, ferr
		}
		if !outcome.WillRetry {
			r.logger.Warn("step failed",
				zap.String("process_id", processID),
				zap.String("step_id", stepID),
				zap.Int("attempts", outcome.Attempts),
				zap.Error(err))
			return nil, &domain.StepError{
				Kind:      domain.KindRetriesExhausted,
				ProcessID: processID,
				StepID:    stepID,
				Attempts:  outcome.Attempts,
				Err:       err,
			}
		}

		delay := r.baseDelay * time.Duration(outcome.RetryCount)
		r.logger.Info("retrying step",
			zap.String("process_id", processID),
			zap.String("step_id", stepID),
			zap.Int("retry_count", outcome.RetryCount),
			zap.Duration("delay", delay),
			zap.Error(err))

		if werr := wait(ctx, delay); werr != nil {
			abandoned, ferr := r.registry.FailAttempt(ctx, processID, stepID, werr, false)
			if ferr != nil {
				return nil, ferr
			}
			return nil, &domain.StepError{
				Kind:      domain.KindRetriesExhausted,
				ProcessID: processID,
				StepID:    stepID,
				Attempts:  abandoned.Attempts - 1,
				Err:       werr,
			}
		}

		attempt, err = r.registry.ContinueStep(ctx, processID, stepID)
		if err != nil {
			return nil, err
		}
	}
}

// execute runs a single attempt: input validation, executor call and
// output validation.
func (r *StepRunner) execute(ctx context.Context, processID string, attempt *StepAttempt, exec ports.Executor, input map[string]any) (map[string]any, error) {
	def := attempt.Definition

	if violations := def.ValidateInput(input); len(violations) > 0 {
		return nil, &domain.StepError{
			Kind:       domain.KindValidationFailed,
			ProcessID:  processID,
			StepID:     def.ID,
			Violations: violations,
		}
	}

	callCtx := ctx
	if def.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, def.Timeout)
		defer cancel()
	}

	// an executor abandoned on timeout may still hold its input
	output, err := invoke(callCtx, exec, maps.Clone(input), attempt.Data)
	if err != nil {
		if def.Timeout > 0 && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return nil, &domain.StepError{
				Kind:      domain.KindTimeout,
				ProcessID: processID,
				StepID:    def.ID,
				Err:       fmt.Errorf("exceeded timeout of %s", def.Timeout),
			}
		}
		return nil, &domain.StepError{
			Kind:      domain.KindExecutorError,
			ProcessID: processID,
			StepID:    def.ID,
			Err:       err,
		}
	}

	if output == nil {
		output = map[string]any{}
	}
	if violations := def.ValidateOutput(output); len(violations) > 0 {
		return nil, &domain.StepError{
			Kind:       domain.KindValidationFailed,
			ProcessID:  processID,
			StepID:     def.ID,
			Violations: violations,
		}
	}
	return output, nil
}

// invoke calls exec in its own goroutine so a call that ignores ctx still
// returns once ctx is done. Panics are reported as errors.
func invoke(ctx context.Context, exec ports.Executor, input, data map[string]any) (map[string]any, error) {
	type result struct {
		output map[string]any
		err    error
	}

	done := make(chan result, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- result{err: fmt.Errorf("executor panic: %v", p)}
			}
		}()
		output, err := exec(ctx, input, data)
		done <- result{output: output, err: err}
	}()

	select {
	case res := <-done:
		return res.output, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// wait sleeps for d or until ctx is done
func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
