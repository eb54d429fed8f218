package internal

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// CleanupManager tracks resources and ensures ordered cleanup in LIFO order.
type CleanupManager struct {
	mu     sync.Mutex
	funcs  []cleanupFunc
	logger logrus.FieldLogger
}

type cleanupFunc struct {
	name string
	fn   func() error
}

// NewCleanupManager creates a cleanup manager that reports failed cleanups to
// logger. A nil logger uses the logrus standard logger.
func NewCleanupManager(logger logrus.FieldLogger) *CleanupManager {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &CleanupManager{logger: logger}
}

// Add registers a cleanup function. Functions are executed in LIFO order
// (last added, first executed) so a container is removed before the client
// that created it shuts down.
func (m *CleanupManager) Add(name string, fn func() error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.funcs = append([]cleanupFunc{{name, fn}}, m.funcs...)
}

// Execute runs all cleanup functions in LIFO order, logging any errors.
// It always runs every function, even if some fail, and forgets them afterwards
// so a second call is a no-op.
func (m *CleanupManager) Execute() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, cleanup := range m.funcs {
		if err := cleanup.fn(); err != nil {
			m.logger.WithError(err).WithField("resource", cleanup.name).Warn("cleanup failed")
		}
	}
	m.funcs = nil
}
