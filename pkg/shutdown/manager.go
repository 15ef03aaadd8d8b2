package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var (
	shutdownDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "shutdown_duration_seconds",
		Help:    "Total time taken to shutdown gracefully",
		Buckets: []float64{1, 5, 10, 15, 20, 25, 30},
	})

	shutdownErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shutdown_errors_total",
		Help: "Total number of shutdown errors by component",
	}, []string{"component"})
)

// ShutdownFunc shuts down one component
type ShutdownFunc func(context.Context) error

type component struct {
	name string
	fn   ShutdownFunc
}

// Manager coordinates graceful shutdown. Components stop in reverse
// registration order: the scheduler worker stops producing work before the
// HTTP servers drain, and the database pool closes last.
type Manager struct {
	logger  *zap.Logger
	timeout time.Duration

	mu         sync.Mutex
	components []component
}

// NewManager creates a new shutdown manager
func NewManager(logger *zap.Logger, timeout time.Duration) *Manager {
	return &Manager{logger: logger, timeout: timeout}
}

// Register adds a shutdown function; later registrations stop first
func (m *Manager) Register(name string, fn ShutdownFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.components = append(m.components, component{name: name, fn: fn})
}

// RegisterHTTPServer registers an HTTP server's Shutdown method
func (m *Manager) RegisterHTTPServer(name string, server interface{ Shutdown(context.Context) error }) {
	m.Register(name, server.Shutdown)
}

// RegisterNoErr registers a shutdown function that cannot fail
func (m *Manager) RegisterNoErr(name string, fn func()) {
	m.Register(name, func(ctx context.Context) error {
		fn()
		return nil
	})
}

// WaitForShutdown blocks until SIGINT or SIGTERM, then runs Shutdown
func (m *Manager) WaitForShutdown() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	m.logger.Info("shutdown signal received",
		zap.String("signal", sig.String()),
		zap.Duration("timeout", m.timeout))
	m.Shutdown()
}

// Shutdown stops every registered component in reverse order, bounded by the
// manager timeout.
func (m *Manager) Shutdown() {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	m.mu.Lock()
	components := make([]component, len(m.components))
	copy(components, m.components)
	m.mu.Unlock()

	for i := len(components) - 1; i >= 0; i-- {
		c := components[i]
		stepStart := time.Now()
		if err := c.fn(ctx); err != nil {
			shutdownErrors.WithLabelValues(c.name).Inc()
			m.logger.Error("component shutdown failed",
				zap.String("component", c.name),
				zap.Error(err))
			continue
		}
		m.logger.Info("component stopped",
			zap.String("component", c.name),
			zap.Duration("elapsed", time.Since(stepStart)))
	}

	shutdownDuration.Observe(time.Since(start).Seconds())
	m.logger.Info("graceful shutdown completed", zap.Duration("elapsed", time.Since(start)))
}
