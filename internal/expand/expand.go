// Package expand fetches the neighborhood of an instance node and merges it
// into the graph already on screen.
package expand

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/matsen/ontoscope/internal/backend"
	"github.com/matsen/ontoscope/internal/graph"
	"github.com/matsen/ontoscope/internal/notify"
)

// DefaultHops is the neighborhood radius used when none is configured.
const DefaultHops = 1

// Service expands nodes of one store. Any number of expansions may be in
// flight; each lands through Store.Merge, which is order independent.
type Service struct {
	fetcher  backend.NeighborFetcher
	store    *graph.Store
	notifier notify.Notifier
	logger   *zap.Logger

	wg       sync.WaitGroup
	inflight atomic.Int32
}

// Option configures a Service.
type Option func(*Service)

// WithNotifier sets where failed expansions are reported.
func WithNotifier(n notify.Notifier) Option {
	return func(s *Service) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService creates an expansion service merging into store.
func NewService(fetcher backend.NeighborFetcher, store *graph.Store, opts ...Option) *Service {
	s := &Service{
		fetcher:  fetcher,
		store:    store,
		notifier: notify.Nop{},
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Expand fetches the entities within hops of nodeID and merges them. On
// failure the store is left untouched and the error is both reported to the
// notifier and returned.
func (s *Service) Expand(ctx context.Context, nodeID string, hops int) (graph.MergeResult, error) {
	s.inflight.Add(1)
	defer s.inflight.Add(-1)

	result, err := s.expand(ctx, nodeID, hops)
	if err != nil {
		s.logger.Warn("expansion failed", zap.String("node", nodeID), zap.Error(err))
		notify.Report(s.notifier, "expand", err)
		return graph.MergeResult{}, err
	}

	s.logger.Debug("expansion merged",
		zap.String("node", nodeID),
		zap.Int("hops", hops),
		zap.Int("nodes_added", result.NodesAdded),
		zap.Int("edges_added", result.EdgesAdded),
		zap.Int("orphaned", len(result.Orphaned)))
	return result, nil
}

func (s *Service) expand(ctx context.Context, nodeID string, hops int) (graph.MergeResult, error) {
	if nodeID == "" {
		return graph.MergeResult{}, fmt.Errorf("%w: empty node id", backend.ErrInvalidRequest)
	}
	if hops < 1 {
		return graph.MergeResult{}, fmt.Errorf("%w: hops must be at least 1, got %d", backend.ErrInvalidRequest, hops)
	}

	neighbors, err := s.fetcher.FetchNeighbors(ctx, nodeID, hops)
	if err != nil {
		return graph.MergeResult{}, err
	}
	// A cancelled expansion must not land after its caller gave up on it.
	if err := ctx.Err(); err != nil {
		return graph.MergeResult{}, fmt.Errorf("expanding %s: %w", nodeID, err)
	}

	nodes, edges := FromNeighbors(neighbors)
	return s.store.Merge(nodes, edges), nil
}

// Go starts an expansion in the background. Failures go to the notifier.
func (s *Service) Go(ctx context.Context, nodeID string, hops int) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_, _ = s.Expand(ctx, nodeID, hops)
	}()
}

// Wait blocks until every expansion started with Go has finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

// InFlight returns the number of expansions currently running.
func (s *Service) InFlight() int {
	return int(s.inflight.Load())
}

// FromNeighbors converts neighbor records into store elements. The node kind
// is the entity's first label. Relationships appear once per endpoint in the
// records; the store dedups them.
func FromNeighbors(neighbors []backend.Neighbor) ([]graph.Node, []graph.Edge) {
	nodes := make([]graph.Node, 0, len(neighbors))
	var edges []graph.Edge
	for _, n := range neighbors {
		var kind string
		if len(n.Labels) > 0 {
			kind = n.Labels[0]
		}
		nodes = append(nodes, graph.Node{
			ID:         n.Name,
			Label:      n.Name,
			Kind:       kind,
			Properties: n.Properties,
		})
		for _, r := range n.Relationships {
			edges = append(edges, graph.NewEdge(string(r.ID), r.Source, r.Target, r.Type))
		}
	}
	return nodes, edges
}
