package resolver

import (
	"context"
	"sync"
	"time"

	"blueprint-service/internal/clock"
	"blueprint-service/internal/models"
	"blueprint-service/internal/upstream"
	"blueprint-service/internal/util"

	"go.uber.org/zap"
)

// AssignmentCache holds the blueprint assignment list behind a TTL and a
// single coalesced in-flight fetch. Both the schema path and the pricing
// path resolve assignments through it, so a product list that also renders
// pricing does one assignment fetch per TTL window.
type AssignmentCache struct {
	source       upstream.Source
	clk          clock.Clock
	ttl          time.Duration
	fetchTimeout time.Duration
	logger       *zap.Logger

	baseCtx context.Context
	cancel  context.CancelFunc

	mu          sync.Mutex
	assignments []models.BlueprintAssignment
	lastFetched time.Time
	loaded      bool
	flight      *assignmentFlight
}

type assignmentFlight struct {
	done        chan struct{}
	assignments []models.BlueprintAssignment
	err         error
}

// NewAssignmentCache creates an assignment cache
func NewAssignmentCache(source upstream.Source, clk clock.Clock, ttl, fetchTimeout time.Duration) *AssignmentCache {
	baseCtx, cancel := context.WithCancel(context.Background())
	return &AssignmentCache{
		source:       source,
		clk:          clk,
		ttl:          ttl,
		fetchTimeout: fetchTimeout,
		logger:       util.GetLogger(),
		baseCtx:      baseCtx,
		cancel:       cancel,
	}
}

// Close cancels any in-flight assignment fetch
func (c *AssignmentCache) Close() {
	c.cancel()
}

// Clear drops the cached assignment list; in-flight fetches keep running
func (c *AssignmentCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.assignments = nil
	c.loaded = false
}

// Assignments returns the assignment list, fetching it at most once per TTL
// window regardless of how many callers arrive concurrently.
func (c *AssignmentCache) Assignments(ctx context.Context) ([]models.BlueprintAssignment, error) {
	c.mu.Lock()
	if c.loaded && c.clk.Now().Sub(c.lastFetched) < c.ttl {
		assignments := c.assignments
		c.mu.Unlock()
		util.CacheHitsTotal.WithLabelValues("assignments").Inc()
		return assignments, nil
	}
	util.CacheMissesTotal.WithLabelValues("assignments").Inc()

	if f := c.flight; f != nil {
		c.mu.Unlock()
		util.CoalescedCallersTotal.WithLabelValues("assignments").Inc()
		select {
		case <-f.done:
			return f.assignments, f.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f := &assignmentFlight{done: make(chan struct{})}
	c.flight = f
	c.mu.Unlock()

	util.ConfigFetchesTotal.WithLabelValues("assignments").Inc()

	// The fetch runs under the cache's own context so one caller's
	// cancellation cannot fail every coalesced waiter.
	fetchCtx, cancelFetch := context.WithTimeout(c.baseCtx, c.fetchTimeout)
	assignments, err := c.source.ListAssignments(fetchCtx)
	cancelFetch()

	c.mu.Lock()
	if err == nil {
		c.assignments = assignments
		c.lastFetched = c.clk.Now()
		c.loaded = true
	} else {
		util.ConfigFetchFailuresTotal.WithLabelValues("assignments").Inc()
		c.logger.Warn("Assignment fetch failed", zap.Error(err))
	}
	if c.flight == f {
		c.flight = nil
	}
	c.mu.Unlock()

	f.assignments = assignments
	f.err = err
	close(f.done)

	return assignments, err
}

// ResolveForCategory returns the active category-level assignment for a
// category, or nil when the category has no blueprint.
func (c *AssignmentCache) ResolveForCategory(ctx context.Context, categoryID int64) (*models.BlueprintAssignment, error) {
	assignments, err := c.Assignments(ctx)
	if err != nil {
		return nil, err
	}

	for i := range assignments {
		a := &assignments[i]
		if a.EntityType == models.EntityTypeCategory && a.CategoryID == categoryID && a.IsActive {
			return a, nil
		}
	}
	return nil, nil
}

// ResolveForProduct resolves the single applicable assignment for a product:
// a direct product-level assignment wins; otherwise the first category in
// the product's category order that has an active assignment.
func (c *AssignmentCache) ResolveForProduct(ctx context.Context, productID int64, categoryIDs []int64) (*models.BlueprintAssignment, error) {
	assignments, err := c.Assignments(ctx)
	if err != nil {
		return nil, err
	}

	for i := range assignments {
		a := &assignments[i]
		if a.EntityType == models.EntityTypeProduct && a.EntityID == productID && a.IsActive {
			return a, nil
		}
	}

	for _, categoryID := range categoryIDs {
		for i := range assignments {
			a := &assignments[i]
			if a.EntityType == models.EntityTypeCategory && a.CategoryID == categoryID && a.IsActive {
				return a, nil
			}
		}
	}
	return nil, nil
}
