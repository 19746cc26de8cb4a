package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"blueprint-service/internal/models"
	"blueprint-service/internal/redisclient"
	"blueprint-service/internal/util"

	"go.uber.org/zap"
)

// Source is the boundary to the remote configuration source. Only the shape
// of the data is contractual; paths belong to the deployment.
type Source interface {
	ListAssignments(ctx context.Context) ([]models.BlueprintAssignment, error)
	ListBlueprintFields(ctx context.Context, blueprintID int64) ([]models.BlueprintField, error)
	GetProductFieldValues(ctx context.Context, productID int64) ([]models.FieldValue, error)
	BatchProductFieldValues(ctx context.Context, productIDs []int64) (map[int64][]models.FieldValue, error)
	ListPricingRules(ctx context.Context, productID int64) ([]models.PricingRule, error)
	GetProduct(ctx context.Context, productID int64) (*models.ProductRef, error)
}

// Client talks to the WordPress-hosted blueprint plugin over REST. Slow
// listings go through an optional redis read-through; redis being down
// degrades to direct HTTP, never to an error.
type Client struct {
	baseURL        string
	consumerKey    string
	consumerSecret string
	httpClient     *http.Client
	redis          *redisclient.Client
	responseTTL    time.Duration
	logger         *zap.Logger
}

// NewClient creates a new upstream client. redis may be nil.
func NewClient(baseURL, consumerKey, consumerSecret string, timeout time.Duration, redis *redisclient.Client, responseTTL time.Duration) *Client {
	return &Client{
		baseURL:        baseURL,
		consumerKey:    consumerKey,
		consumerSecret: consumerSecret,
		httpClient:     &http.Client{Timeout: timeout},
		redis:          redis,
		responseTTL:    responseTTL,
		logger:         util.GetLogger(),
	}
}

// ListAssignments retrieves every blueprint assignment
func (c *Client) ListAssignments(ctx context.Context) ([]models.BlueprintAssignment, error) {
	ctx, span := util.StartSpan(ctx, "Upstream.ListAssignments")
	defer span.End()

	var assignments []models.BlueprintAssignment
	if c.cachedGet(ctx, "upstream:assignments", &assignments) {
		return assignments, nil
	}

	if err := c.get(ctx, "assignments", "/blueprints/assignments", nil, &assignments); err != nil {
		return nil, err
	}

	c.cacheSet(ctx, "upstream:assignments", assignments)
	return assignments, nil
}

// ListBlueprintFields retrieves the field definitions for one blueprint
func (c *Client) ListBlueprintFields(ctx context.Context, blueprintID int64) ([]models.BlueprintField, error) {
	ctx, span := util.StartSpan(ctx, "Upstream.ListBlueprintFields")
	defer span.End()

	var fields []models.BlueprintField
	path := fmt.Sprintf("/blueprints/%d/fields", blueprintID)
	if err := c.get(ctx, "fields", path, nil, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

// GetProductFieldValues retrieves one product's field values
func (c *Client) GetProductFieldValues(ctx context.Context, productID int64) ([]models.FieldValue, error) {
	ctx, span := util.StartSpan(ctx, "Upstream.GetProductFieldValues")
	defer span.End()

	var values []models.FieldValue
	path := fmt.Sprintf("/products/%d/field-values", productID)
	if err := c.get(ctx, "values", path, nil, &values); err != nil {
		return nil, err
	}
	return values, nil
}

// BatchProductFieldValues retrieves field values for many products in one
// round trip. The wire response keys product ids as strings.
func (c *Client) BatchProductFieldValues(ctx context.Context, productIDs []int64) (map[int64][]models.FieldValue, error) {
	ctx, span := util.StartSpan(ctx, "Upstream.BatchProductFieldValues")
	defer span.End()

	body := map[string][]int64{"product_ids": productIDs}

	var raw map[string][]models.FieldValue
	if err := c.post(ctx, "values_batch", "/products/field-values/batch", body, &raw); err != nil {
		return nil, err
	}

	result := make(map[int64][]models.FieldValue, len(raw))
	for key, values := range raw {
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			c.logger.Warn("Skipping batch entry with non-numeric product id", zap.String("key", key))
			continue
		}
		result[id] = values
	}
	return result, nil
}

// ListPricingRules retrieves pricing rules, optionally scoped by product.
// Scoping is a hint: the interpreter still filters by blueprint itself.
func (c *Client) ListPricingRules(ctx context.Context, productID int64) ([]models.PricingRule, error) {
	ctx, span := util.StartSpan(ctx, "Upstream.ListPricingRules")
	defer span.End()

	cacheKey := fmt.Sprintf("upstream:rules:%d", productID)
	var rules []models.PricingRule
	if c.cachedGet(ctx, cacheKey, &rules) {
		return rules, nil
	}

	query := url.Values{}
	if productID > 0 {
		query.Set("product_id", strconv.FormatInt(productID, 10))
	}
	if err := c.get(ctx, "rules", "/pricing-rules", query, &rules); err != nil {
		return nil, err
	}

	c.cacheSet(ctx, cacheKey, rules)
	return rules, nil
}

// GetProduct retrieves the product identity and its ordered category list
func (c *Client) GetProduct(ctx context.Context, productID int64) (*models.ProductRef, error) {
	ctx, span := util.StartSpan(ctx, "Upstream.GetProduct")
	defer span.End()

	cacheKey := fmt.Sprintf("upstream:product:%d", productID)
	var product models.ProductRef
	if c.cachedGet(ctx, cacheKey, &product) {
		return &product, nil
	}

	path := fmt.Sprintf("/products/%d", productID)
	if err := c.get(ctx, "product", path, nil, &product); err != nil {
		return nil, err
	}

	c.cacheSet(ctx, cacheKey, product)
	return &product, nil
}

func (c *Client) get(ctx context.Context, endpoint, path string, query url.Values, dest interface{}) error {
	return c.do(ctx, http.MethodGet, endpoint, path, query, nil, dest)
}

func (c *Client) post(ctx context.Context, endpoint, path string, body, dest interface{}) error {
	return c.do(ctx, http.MethodPost, endpoint, path, nil, body, dest)
}

func (c *Client) do(ctx context.Context, method, endpoint, path string, query url.Values, body, dest interface{}) error {
	if query == nil {
		query = url.Values{}
	}
	if c.consumerKey != "" {
		query.Set("consumer_key", c.consumerKey)
		query.Set("consumer_secret", c.consumerSecret)
	}

	fullURL := c.baseURL + path
	if encoded := query.Encode(); encoded != "" {
		fullURL += "?" + encoded
	}

	var reqBody io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, reqBody)
	if err != nil {
		return fmt.Errorf("failed to build upstream request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		util.UpstreamRequestDuration.WithLabelValues(endpoint, "error").Observe(time.Since(start).Seconds())
		return fmt.Errorf("upstream request failed: %w", err)
	}
	defer resp.Body.Close()

	util.UpstreamRequestDuration.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Observe(time.Since(start).Seconds())

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("upstream returned status %d for %s", resp.StatusCode, path)
	}

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("failed to decode upstream response: %w", err)
	}
	return nil
}

func (c *Client) cachedGet(ctx context.Context, key string, dest interface{}) bool {
	if c.redis == nil {
		return false
	}
	found, err := c.redis.GetJSON(ctx, key, dest)
	if err != nil {
		c.logger.Warn("Redis read failed, falling back to upstream",
			zap.String("key", key),
			zap.Error(err))
		return false
	}
	return found
}

func (c *Client) cacheSet(ctx context.Context, key string, value interface{}) {
	if c.redis == nil {
		return
	}
	if err := c.redis.SetJSON(ctx, key, value, c.responseTTL); err != nil {
		c.logger.Warn("Failed to cache upstream response",
			zap.String("key", key),
			zap.Error(err))
	}
}
