// Package scheduler drives the periodic retrieval passes. One trigger
// owns all configured nodes and runs their gateways sequentially; the
// design is single-writer-per-node, so no two passes for the same node
// ever overlap.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/magebridge/connector/internal/application/gateway"
	"github.com/magebridge/connector/internal/domain/integration"
)

// NodeRunner binds one configured node to its gateway registry.
type NodeRunner struct {
	// Node is the configured remote instance
	Node *integration.Node
	// Registry holds the node's gateways
	Registry *gateway.Registry
}

// SyncTriggerConfig holds configuration for the sync trigger
type SyncTriggerConfig struct {
	// Interval is how often a full retrieval round runs
	Interval time.Duration
}

// DefaultSyncTriggerConfig returns default configuration
func DefaultSyncTriggerConfig() SyncTriggerConfig {
	return SyncTriggerConfig{
		Interval: 15 * time.Minute,
	}
}

// SyncTrigger periodically runs every gateway of every node.
type SyncTrigger struct {
	config  SyncTriggerConfig
	runners []NodeRunner
	logger  *zap.Logger

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool

	// runMu serializes retrieval rounds; a manual trigger never runs
	// concurrently with the periodic round.
	runMu sync.Mutex
}

// NewSyncTrigger creates a new sync trigger
func NewSyncTrigger(config SyncTriggerConfig, runners []NodeRunner, logger *zap.Logger) *SyncTrigger {
	if config.Interval <= 0 {
		config.Interval = DefaultSyncTriggerConfig().Interval
	}
	return &SyncTrigger{
		config:  config,
		runners: runners,
		logger:  logger.Named("scheduler"),
	}
}

// Start starts the sync trigger
func (s *SyncTrigger) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = true
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go s.runLoop(ctx)

	s.logger.Info("Sync trigger started",
		zap.Duration("interval", s.config.Interval),
		zap.Int("nodes", len(s.runners)),
	)
	return nil
}

// Stop stops the sync trigger, waiting for an in-flight round to finish
func (s *SyncTrigger) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Sync trigger stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runLoop periodically runs a full retrieval round
func (s *SyncTrigger) runLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	// Run immediately on start
	s.runRound(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runRound(ctx)
		}
	}
}

// runRound runs every gateway of every node once, sequentially. A
// gateway failure never stops the round; partially failed passes are
// reported and the round moves on.
func (s *SyncTrigger) runRound(ctx context.Context) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	started := time.Now()
	for _, runner := range s.runners {
		for _, gw := range runner.Registry.All() {
			if ctx.Err() != nil {
				return
			}
			s.runGateway(ctx, runner.Node, gw)
		}
	}

	s.logger.Info("Retrieval round finished",
		zap.Duration("took", time.Since(started)),
	)
}

func (s *SyncTrigger) runGateway(ctx context.Context, node *integration.Node, gw gateway.Gateway) {
	err := gw.Retrieve(ctx)
	if err == nil {
		return
	}

	var passErr *gateway.PassError
	if errors.As(err, &passErr) {
		s.logger.Warn("Retrieval pass finished with failed records",
			zap.String("node", node.Name),
			zap.String("entity_type", gw.EntityType().String()),
			zap.Int("processed", passErr.Processed),
			zap.Int("failed", len(passErr.Errs)),
		)
		return
	}

	s.logger.Error("Retrieval pass aborted",
		zap.String("node", node.Name),
		zap.String("entity_type", gw.EntityType().String()),
		zap.Error(err),
	)
}

// TriggerManualSync runs one node's gateway for an entity type
// immediately, serialized against the periodic round.
func (s *SyncTrigger) TriggerManualSync(ctx context.Context, nodeName string, t integration.EntityType) error {
	for _, runner := range s.runners {
		if runner.Node.Name != nodeName {
			continue
		}
		gw, ok := runner.Registry.Gateway(t)
		if !ok {
			return ErrNoGatewayForType
		}

		s.runMu.Lock()
		defer s.runMu.Unlock()

		s.logger.Info("Manual sync triggered",
			zap.String("node", nodeName),
			zap.String("entity_type", t.String()),
		)
		return gw.Retrieve(ctx)
	}
	return ErrUnknownNode
}
