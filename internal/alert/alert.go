// Package alert fans typed severity events out to configured sinks
// (Slack, Telegram), filtering by a configured minimum severity,
// per spec.md §2's AlertService component. Adapted from the teacher's
// AlertManager: same fire-and-forget, per-channel-timeout fan-out shape,
// retargeted at core.AlertSink/core.AlertLevel instead of a package-local
// payload type so strategies/risk/execution can depend on the interface
// without importing this package.
package alert

import (
	"context"
	"sync"
	"time"

	"market_maker/internal/core"
)

var severityRank = map[core.AlertLevel]int{
	core.AlertInfo:     0,
	core.AlertWarning:  1,
	core.AlertError:    2,
	core.AlertCritical: 3,
}

// Service fans out alerts to every registered core.AlertSink whose
// severity meets or exceeds MinSeverity.
type Service struct {
	sinks       []core.AlertSink
	minSeverity core.AlertLevel
	logger      core.Logger
	mu          sync.RWMutex
}

// NewService builds a Service. minSeverity defaults to INFO (no filtering)
// if empty or unrecognized.
func NewService(minSeverity core.AlertLevel, logger core.Logger) *Service {
	if _, ok := severityRank[minSeverity]; !ok {
		minSeverity = core.AlertInfo
	}
	return &Service{minSeverity: minSeverity, logger: logger}
}

// AddSink registers a sink to receive future alerts.
func (s *Service) AddSink(sink core.AlertSink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sinks = append(s.sinks, sink)
	if s.logger != nil {
		s.logger.Info("alert sink registered", "name", sink.Name())
	}
}

// Send implements core.AlertSink itself, so the Service can be wired
// anywhere a single sink is expected while actually fanning out to
// everything registered. Alerts below MinSeverity are dropped silently.
func (s *Service) Send(ctx context.Context, level core.AlertLevel, title, message string, fields map[string]string) error {
	if rank, ok := severityRank[level]; !ok || rank < severityRank[s.minSeverity] {
		return nil
	}

	if s.logger != nil {
		s.logger.Info("dispatching alert", "title", title, "level", string(level))
	}

	s.mu.RLock()
	sinks := append([]core.AlertSink(nil), s.sinks...)
	s.mu.RUnlock()

	var wg sync.WaitGroup
	for _, sink := range sinks {
		wg.Add(1)
		go func(sk core.AlertSink) {
			defer wg.Done()
			sendCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			if err := sk.Send(sendCtx, level, title, message, fields); err != nil && s.logger != nil {
				s.logger.Error("alert sink delivery failed", "sink", sk.Name(), "error", err.Error())
			}
		}(sink)
	}
	// Fire-and-forget: alerting must never block the trading cycle on a
	// slow or unreachable sink.
	return nil
}

func (s *Service) Name() string { return "alert_service" }

var _ core.AlertSink = (*Service)(nil)
