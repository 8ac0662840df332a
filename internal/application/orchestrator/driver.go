package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"maps"

	"github.com/aescanero/genflow/pkg/domain"
	"go.uber.org/zap"
)

// Execute runs the steps of a process in declaration order. Each step gets
// the initial input merged with the outputs of the steps before it.
//
// The driver stops at the first error. With ContinueOnOptionalFailure it
// skips optional steps that failed permanently or whose dependencies did,
// including ones that failed on an earlier run of the driver.
// It returns nil once the process completes, skipping trailing optional
// steps, and ErrProcessNotRunning when the process fails or is cancelled.
func (m *Manager) Execute(ctx context.Context, processID string, input map[string]any) error {
	p, err := m.registry.Pipeline(ctx, processID)
	if err != nil {
		return err
	}

	current := maps.Clone(input)
	if current == nil {
		current = make(map[string]any)
	}

	for i := range p.Steps {
		def := &p.Steps[i]
		if err := ctx.Err(); err != nil {
			return err
		}

		processStatus, stepStatus, err := m.registry.StepStatus(ctx, processID, def.ID)
		if err != nil {
			return err
		}
		if processStatus == domain.ProcessStatusCompleted {
			m.logger.Debug("process completed, skipping remaining steps",
				zap.String("process_id", processID),
				zap.String("next_step", def.ID))
			return nil
		}
		if processStatus.IsTerminal() {
			return fmt.Errorf("%w: process %s is %s", domain.ErrProcessNotRunning, processID, processStatus)
		}
		if stepStatus == domain.StepStatusCompleted {
			continue
		}
		if stepStatus == domain.StepStatusFailed && m.continueOnOptionalFailure && !def.Required {
			continue
		}

		exec, err := m.resolve(p.ID, def.ID)
		if err != nil {
			return err
		}

		output, err := m.runner.Run(ctx, processID, def.ID, exec, current)
		if err != nil {
			if m.skippable(def, err) {
				m.logger.Warn("optional step failed, continuing",
					zap.String("process_id", processID),
					zap.String("step_id", def.ID),
					zap.Error(err))
				continue
			}
			return err
		}
		maps.Copy(current, output)
	}

	return nil
}

func (m *Manager) skippable(def *domain.StepDefinition, err error) bool {
	if !m.continueOnOptionalFailure || def.Required {
		return false
	}
	return errors.Is(err, domain.ErrRetriesExhausted) || errors.Is(err, domain.ErrDependencyNotReady)
}
