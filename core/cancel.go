package core

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// CancelManager tracks the cancel functions of in-flight executions so the
// stop endpoint can abort a running reasoning loop by execution id.
type CancelManager struct {
	executions map[string]context.CancelFunc
	mutex      sync.RWMutex
	logger     *logrus.Logger
}

func NewCancelManager(logger *logrus.Logger) *CancelManager {
	return &CancelManager{
		executions: make(map[string]context.CancelFunc),
		logger:     logger,
	}
}

// AddExecution registers a cancellable execution.
func (m *CancelManager) AddExecution(executionID string, cancel context.CancelFunc) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.executions[executionID] = cancel
	m.logger.WithField("executionId", executionID).Debug("Registered execution")
}

// RemoveExecution unregisters an execution once it finishes.
func (m *CancelManager) RemoveExecution(executionID string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	delete(m.executions, executionID)
}

// CancelExecution cancels a running execution, reporting whether it was
// found.
func (m *CancelManager) CancelExecution(executionID string) bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	cancel, exists := m.executions[executionID]
	if !exists {
		return false
	}

	cancel()
	delete(m.executions, executionID)
	m.logger.WithField("executionId", executionID).Info("Execution cancelled")
	return true
}

// ActiveExecutions returns the number of executions currently running.
func (m *CancelManager) ActiveExecutions() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.executions)
}
