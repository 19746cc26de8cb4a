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

// Fetch-count instrumentation keys
const (
	FetchSchema      = "schema"
	FetchValues      = "values"
	FetchValuesBatch = "values_batch"
)

// Resolver serves blueprint schemas and product field values with minimal
// redundant upstream traffic. Schemas cache per category because every
// product in a category shares one blueprint; field values cache per
// product. Entries expire softly after the TTL (checked on read, never
// evicted), and at most one fetch is in flight per cache key: concurrent
// callers for the same key join the pending fetch instead of issuing a
// second request.
//
// Transport failures never surface as errors. A failed schema fetch returns
// nil without caching anything, so the next caller re-attempts; a failed
// value fetch caches an empty value set with a fresh timestamp, so it is
// not re-attempted until the TTL elapses.
type Resolver struct {
	source       upstream.Source
	assignments  *AssignmentCache
	clk          clock.Clock
	ttl          time.Duration
	fetchTimeout time.Duration
	logger       *zap.Logger

	baseCtx context.Context
	cancel  context.CancelFunc

	mu            sync.Mutex
	schemas       map[int64]*models.BlueprintSchema
	values        map[int64]*models.ProductFieldValues
	schemaFlights map[int64]*schemaFlight
	valueFlights  map[int64]*valueFlight
	fetchCounts   map[string]int
}

type schemaFlight struct {
	done   chan struct{}
	schema *models.BlueprintSchema
}

type valueFlight struct {
	done   chan struct{}
	values *models.ProductFieldValues
}

// New creates a resolver. The assignment cache is shared with the pricing
// interpreter; both must be constructed against the same instance.
func New(source upstream.Source, assignments *AssignmentCache, clk clock.Clock, ttl, fetchTimeout time.Duration) *Resolver {
	baseCtx, cancel := context.WithCancel(context.Background())
	return &Resolver{
		source:        source,
		assignments:   assignments,
		clk:           clk,
		ttl:           ttl,
		fetchTimeout:  fetchTimeout,
		logger:        util.GetLogger(),
		baseCtx:       baseCtx,
		cancel:        cancel,
		schemas:       make(map[int64]*models.BlueprintSchema),
		values:        make(map[int64]*models.ProductFieldValues),
		schemaFlights: make(map[int64]*schemaFlight),
		valueFlights:  make(map[int64]*valueFlight),
		fetchCounts:   make(map[string]int),
	}
}

// Close cancels the context under every in-flight fetch. Cached entries
// remain readable.
func (r *Resolver) Close() {
	r.cancel()
}

// GetSchemaForCategory returns the category's blueprint schema, or nil when
// the category has no blueprint or the fetch failed. Failures are logged
// and counted but never returned; a later call re-attempts.
func (r *Resolver) GetSchemaForCategory(ctx context.Context, categoryID int64) *models.BlueprintSchema {
	ctx, span := util.StartSpan(ctx, "Resolver.GetSchemaForCategory")
	defer span.End()

	r.mu.Lock()
	if entry := r.schemas[categoryID]; entry != nil && r.fresh(entry.LastFetched) {
		r.mu.Unlock()
		util.CacheHitsTotal.WithLabelValues("schema").Inc()
		return entry
	}
	util.CacheMissesTotal.WithLabelValues("schema").Inc()

	if f := r.schemaFlights[categoryID]; f != nil {
		r.mu.Unlock()
		util.CoalescedCallersTotal.WithLabelValues("schema").Inc()
		select {
		case <-f.done:
			return f.schema
		case <-ctx.Done():
			return nil
		}
	}

	f := &schemaFlight{done: make(chan struct{})}
	r.schemaFlights[categoryID] = f
	r.fetchCounts[FetchSchema]++
	r.mu.Unlock()

	f.schema = r.fetchSchema(categoryID)

	r.mu.Lock()
	if f.schema != nil {
		r.schemas[categoryID] = f.schema
	}
	// A timed-out flight may already have been replaced by a newer one;
	// the first registered result wins the slot.
	if r.schemaFlights[categoryID] == f {
		delete(r.schemaFlights, categoryID)
	}
	r.mu.Unlock()

	close(f.done)
	return f.schema
}

func (r *Resolver) fetchSchema(categoryID int64) *models.BlueprintSchema {
	util.ConfigFetchesTotal.WithLabelValues("schema").Inc()

	fetchCtx, cancelFetch := context.WithTimeout(r.baseCtx, r.fetchTimeout)
	defer cancelFetch()

	assignment, err := r.assignments.ResolveForCategory(fetchCtx, categoryID)
	if err != nil {
		util.ConfigFetchFailuresTotal.WithLabelValues("schema").Inc()
		r.logger.Warn("Schema fetch failed resolving assignment",
			zap.Int64("category_id", categoryID),
			zap.Error(err))
		return nil
	}
	if assignment == nil {
		return nil
	}

	fields, err := r.source.ListBlueprintFields(fetchCtx, assignment.BlueprintID)
	if err != nil {
		util.ConfigFetchFailuresTotal.WithLabelValues("schema").Inc()
		r.logger.Warn("Schema fetch failed loading fields",
			zap.Int64("category_id", categoryID),
			zap.Int64("blueprint_id", assignment.BlueprintID),
			zap.Error(err))
		return nil
	}

	return &models.BlueprintSchema{
		BlueprintID:   assignment.BlueprintID,
		BlueprintName: assignment.BlueprintName,
		CategoryID:    categoryID,
		Fields:        fields,
		LastFetched:   r.clk.Now(),
	}
}

// GetProductFieldValues returns the product's cached field values, fetching
// when the entry is missing or stale. A failed fetch degrades to an empty
// value set cached with a fresh timestamp, so the failure is not retried
// until the TTL elapses. The category schema is warmed first.
func (r *Resolver) GetProductFieldValues(ctx context.Context, productID, categoryID int64) *models.ProductFieldValues {
	ctx, span := util.StartSpan(ctx, "Resolver.GetProductFieldValues")
	defer span.End()

	r.GetSchemaForCategory(ctx, categoryID)

	r.mu.Lock()
	if entry := r.values[productID]; entry != nil && r.fresh(entry.LastFetched) {
		r.mu.Unlock()
		util.CacheHitsTotal.WithLabelValues("values").Inc()
		return entry
	}
	util.CacheMissesTotal.WithLabelValues("values").Inc()

	if f := r.valueFlights[productID]; f != nil {
		r.mu.Unlock()
		util.CoalescedCallersTotal.WithLabelValues("values").Inc()
		select {
		case <-f.done:
			return f.values
		case <-ctx.Done():
			return r.syntheticValues(productID)
		}
	}

	f := &valueFlight{done: make(chan struct{})}
	r.valueFlights[productID] = f
	r.fetchCounts[FetchValues]++
	r.mu.Unlock()

	fetchCtx, cancelFetch := context.WithTimeout(r.baseCtx, r.fetchTimeout)
	f.values = r.fetchValues(fetchCtx, productID)
	cancelFetch()

	r.finishValueFlight(productID, f)
	return f.values
}

func (r *Resolver) fetchValues(ctx context.Context, productID int64) *models.ProductFieldValues {
	util.ConfigFetchesTotal.WithLabelValues("values").Inc()

	pairs, err := r.source.GetProductFieldValues(ctx, productID)
	if err != nil {
		util.ConfigFetchFailuresTotal.WithLabelValues("values").Inc()
		r.logger.Warn("Field value fetch failed, caching empty values",
			zap.Int64("product_id", productID),
			zap.Error(err))
		return r.syntheticValues(productID)
	}

	values := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		values[pair.FieldName] = pair.FieldValue
	}
	return &models.ProductFieldValues{
		ProductID:   productID,
		Values:      values,
		LastFetched: r.clk.Now(),
	}
}

func (r *Resolver) syntheticValues(productID int64) *models.ProductFieldValues {
	return &models.ProductFieldValues{
		ProductID:   productID,
		Values:      make(map[string]string),
		LastFetched: r.clk.Now(),
	}
}

func (r *Resolver) finishValueFlight(productID int64, f *valueFlight) {
	r.mu.Lock()
	r.values[productID] = f.values
	if r.valueFlights[productID] == f {
		delete(r.valueFlights, productID)
	}
	r.mu.Unlock()
	close(f.done)
}

// UpdateProductFieldValue applies a local UI edit to the cached entry in
// place. No-op when the product has never been cached; never touches the
// network and never refreshes the entry's timestamp. A fetch already in
// flight for the same product is not synchronized against this write: if it
// resolves later, its result replaces the edit (last writer by completion
// time). The remote API remains the source of truth for persisted values.
func (r *Resolver) UpdateProductFieldValue(productID int64, fieldName, value string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry := r.values[productID]; entry != nil {
		entry.Values[fieldName] = value
	}
}

// IsLoading reports whether a field-value fetch is outstanding for the
// product. Advisory only, for UI busy states.
func (r *Resolver) IsLoading(productID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, loading := r.valueFlights[productID]
	return loading
}

// BatchLoadProductFields warms the category schema, then loads every
// product whose entry is missing or stale in one upstream round trip.
// Products already fresh, or already being fetched, are skipped. If the
// batch call fails, each stale product is fetched individually exactly once
// (failures degrade to cached empty values, so nothing re-triggers within
// the invocation). Returns the cache entries for every requested product
// that has one once the batch settles.
func (r *Resolver) BatchLoadProductFields(ctx context.Context, productIDs []int64, categoryID int64) map[int64]*models.ProductFieldValues {
	ctx, span := util.StartSpan(ctx, "Resolver.BatchLoadProductFields")
	defer span.End()

	r.GetSchemaForCategory(ctx, categoryID)

	r.mu.Lock()
	stale := make([]int64, 0, len(productIDs))
	flights := make(map[int64]*valueFlight)
	for _, id := range productIDs {
		if entry := r.values[id]; entry != nil && r.fresh(entry.LastFetched) {
			continue
		}
		if _, inFlight := r.valueFlights[id]; inFlight {
			continue
		}
		f := &valueFlight{done: make(chan struct{})}
		r.valueFlights[id] = f
		flights[id] = f
		stale = append(stale, id)
	}
	if len(stale) > 0 {
		r.fetchCounts[FetchValuesBatch]++
	}
	r.mu.Unlock()

	if len(stale) > 0 {
		r.runBatch(stale, flights)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	result := make(map[int64]*models.ProductFieldValues, len(productIDs))
	for _, id := range productIDs {
		if entry := r.values[id]; entry != nil {
			result[id] = entry
		}
	}
	return result
}

func (r *Resolver) runBatch(productIDs []int64, flights map[int64]*valueFlight) {
	util.ConfigFetchesTotal.WithLabelValues("values_batch").Inc()

	fetchCtx, cancelFetch := context.WithTimeout(r.baseCtx, r.fetchTimeout)
	defer cancelFetch()

	batch, err := r.source.BatchProductFieldValues(fetchCtx, productIDs)
	if err != nil {
		util.ConfigFetchFailuresTotal.WithLabelValues("values_batch").Inc()
		util.BatchFallbacksTotal.Inc()
		r.logger.Warn("Batch field value fetch failed, falling back to per-product fetches",
			zap.Int("count", len(productIDs)),
			zap.Error(err))

		// The batch context may already be expired (timeout is one way the
		// batch fails), so the fallback round gets its own deadline.
		fallbackCtx, cancelFallback := context.WithTimeout(r.baseCtx, r.fetchTimeout)
		defer cancelFallback()

		for _, id := range productIDs {
			f := flights[id]
			f.values = r.fetchValues(fallbackCtx, id)
			r.finishValueFlight(id, f)
		}
		return
	}

	now := r.clk.Now()
	for _, id := range productIDs {
		values := make(map[string]string)
		for _, pair := range batch[id] {
			values[pair.FieldName] = pair.FieldValue
		}
		f := flights[id]
		f.values = &models.ProductFieldValues{
			ProductID:   id,
			Values:      values,
			LastFetched: now,
		}
		r.finishValueFlight(id, f)
	}
}

// ClearCache drops every schema and value entry, the shared assignment
// list, and the fetch-count instrumentation. In-flight fetches are not
// cancelled; their results land in the freshly emptied cache.
func (r *Resolver) ClearCache() {
	r.mu.Lock()
	r.schemas = make(map[int64]*models.BlueprintSchema)
	r.values = make(map[int64]*models.ProductFieldValues)
	r.fetchCounts = make(map[string]int)
	r.mu.Unlock()

	r.assignments.Clear()
	r.logger.Info("Blueprint caches cleared")
}

// FetchCount reports how many upstream fetches of the given kind this
// resolver has issued since construction or the last ClearCache.
func (r *Resolver) FetchCount(kind string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fetchCounts[kind]
}

func (r *Resolver) fresh(lastFetched time.Time) bool {
	return r.clk.Now().Sub(lastFetched) < r.ttl
}
