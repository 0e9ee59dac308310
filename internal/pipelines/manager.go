package pipelines

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// ManagerConfig selects plugins and the resolve policy.
type ManagerConfig struct {
	AttemptResolve bool
	// LimitTo restricts the run to these slugs; empty runs every plugin.
	LimitTo []string
}

// Manager runs the selected plugins sequentially over one shared Context.
type Manager struct {
	registry *Registry
	config   ManagerConfig
	logger   *zap.Logger
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates a manager over registry.
func NewManager(registry *Registry, cfg ManagerConfig, opts ...ManagerOption) *Manager {
	m := &Manager{registry: registry, config: cfg}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = zap.NewNop()
	}
	return m
}

// Run returns one result per selected plugin in registration order.
func (m *Manager) Run(ctx context.Context, pc *Context) ([]*RunResult, error) {
	plugins, err := m.registry.Select(m.config.LimitTo)
	if err != nil {
		return nil, err
	}
	results := make([]*RunResult, 0, len(plugins))
	for _, p := range plugins {
		start := time.Now()
		res := Run(ctx, p, pc, m.config.AttemptResolve)
		fields := []zap.Field{
			zap.String("document_id", pc.DocumentID),
			zap.String("pipeline", p.Slug()),
			zap.String("status", string(res.Status())),
			zap.Int("findings", len(res.Identify.Findings)),
			zap.Duration("elapsed", time.Since(start)),
		}
		if len(res.Errors) > 0 {
			m.logger.Warn("pipeline recorded errors", append(fields, zap.Strings("errors", res.Errors))...)
		} else {
			m.logger.Debug("pipeline finished", fields...)
		}
		results = append(results, res)
	}
	return results, nil
}
