package saga

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// ErrAborted is returned when the abort check fired between steps.
var ErrAborted = errors.New("saga aborted")

// Manager runs sagas synchronously: steps execute in order and, if one
// fails or the run is aborted, the completed ones are compensated in
// reverse order.
type Manager struct {
	logger *zap.Logger
}

// NewManager creates a new saga manager
func NewManager(logger *zap.Logger) *Manager {
	return &Manager{logger: logger}
}

// Run executes steps in order. aborted, when non-nil, is consulted after
// every step; returning true compensates everything acquired so far and
// Run returns ErrAborted.
func (m *Manager) Run(ctx context.Context, name string, aborted func() bool, steps ...Step) (*SagaInstance, error) {
	instance := &SagaInstance{
		Name:      name,
		State:     SagaStateRunning,
		Steps:     make([]StepExecution, len(steps)),
		StartedAt: time.Now(),
	}
	for i, step := range steps {
		instance.Steps[i] = StepExecution{ID: step.ID(), State: StepStatePending}
	}

	lastCompletedStep := -1
	var runErr error

	for i, step := range steps {
		started := time.Now()
		err := step.Execute(ctx)
		instance.Steps[i].Duration = time.Since(started)

		if err != nil {
			instance.Steps[i].State = StepStateFailed
			instance.Steps[i].Error = err.Error()
			m.logger.Error("Step failed",
				zap.String("saga", name),
				zap.String("stepID", string(step.ID())),
				zap.Error(err))
			runErr = err
			break
		}

		instance.Steps[i].State = StepStateCompleted
		lastCompletedStep = i
		m.logger.Debug("Step completed",
			zap.String("saga", name),
			zap.String("stepID", string(step.ID())),
			zap.Duration("duration", instance.Steps[i].Duration))

		if aborted != nil && aborted() {
			m.logger.Info("Saga aborted", zap.String("saga", name), zap.String("afterStep", string(step.ID())))
			runErr = ErrAborted
			break
		}
	}

	if runErr != nil {
		instance.Error = runErr.Error()
		m.compensate(context.WithoutCancel(ctx), instance, steps, lastCompletedStep)
		return instance, runErr
	}

	instance.State = SagaStateCompleted
	instance.CompletedAt = time.Now()
	m.logger.Info("Saga completed", zap.String("saga", name), zap.Duration("duration", instance.CompletedAt.Sub(instance.StartedAt)))
	return instance, nil
}

// compensate runs compensation for completed steps in reverse order
func (m *Manager) compensate(ctx context.Context, instance *SagaInstance, steps []Step, lastCompletedStep int) {
	for i := lastCompletedStep; i >= 0; i-- {
		step := steps[i]

		m.logger.Info("Compensating step",
			zap.String("saga", instance.Name),
			zap.String("stepID", string(step.ID())))

		if err := step.Compensate(ctx); err != nil {
			m.logger.Error("Compensation failed",
				zap.String("saga", instance.Name),
				zap.String("stepID", string(step.ID())),
				zap.Error(err))
			continue
		}
		instance.Steps[i].State = StepStateCompensated
	}

	instance.State = SagaStateCompensated
	instance.CompletedAt = time.Now()
	m.logger.Info("Saga compensated", zap.String("saga", instance.Name))
}
