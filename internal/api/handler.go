package api

import (
	"net/http"
	"strconv"
	"time"

	"blueprint-service/internal/pricing"
	"blueprint-service/internal/resolver"
	"blueprint-service/internal/upstream"
	"blueprint-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Handler contains HTTP handlers
type Handler struct {
	resolver    *resolver.Resolver
	interpreter *pricing.Interpreter
	source      upstream.Source
	logger      *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(res *resolver.Resolver, interpreter *pricing.Interpreter, source upstream.Source) *Handler {
	return &Handler{
		resolver:    res,
		interpreter: interpreter,
		source:      source,
		logger:      util.GetLogger(),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(requestIDMiddleware())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.GET("/categories/:id/schema", h.getCategorySchema)
		v1.GET("/products/:id/fields", h.getProductFields)
		v1.POST("/products/fields/batch", h.batchLoadFields)
		v1.PATCH("/products/:id/fields/:field", h.updateFieldValue)
		v1.GET("/products/:id/loading", h.getLoadingState)
		v1.GET("/products/:id/pricing", h.getProductPricing)
		v1.POST("/cache/clear", h.clearCache)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck handles readiness check requests
func (h *Handler) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// getCategorySchema serves the blueprint schema for a category. Absence and
// upstream failure both render the same 404; the UI shows "no fields
// configured" either way.
func (h *Handler) getCategorySchema(c *gin.Context) {
	categoryID, ok := pathID(c, "id")
	if !ok {
		return
	}

	schema := h.resolver.GetSchemaForCategory(c.Request.Context(), categoryID)
	if schema == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "No blueprint configured for category",
		})
		return
	}

	c.JSON(http.StatusOK, schema)
}

// getProductFields serves a product's field values
func (h *Handler) getProductFields(c *gin.Context) {
	productID, ok := pathID(c, "id")
	if !ok {
		return
	}

	categoryID, err := strconv.ParseInt(c.Query("category_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Missing or invalid category_id",
		})
		return
	}

	values := h.resolver.GetProductFieldValues(c.Request.Context(), productID, categoryID)
	c.JSON(http.StatusOK, values)
}

// BatchLoadRequest asks for many products' field values at once
type BatchLoadRequest struct {
	ProductIDs []int64 `json:"product_ids" binding:"required,min=1"`
	CategoryID int64   `json:"category_id" binding:"required"`
}

// batchLoadFields loads field values for a whole product list view
func (h *Handler) batchLoadFields(c *gin.Context) {
	var req BatchLoadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	values := h.resolver.BatchLoadProductFields(c.Request.Context(), req.ProductIDs, req.CategoryID)
	c.JSON(http.StatusOK, gin.H{"values": values})
}

// UpdateFieldRequest carries one locally edited field value
type UpdateFieldRequest struct {
	Value string `json:"value"`
}

// updateFieldValue applies a UI edit to the cached entry. Local only: the
// dashboard persists edits through the remote API on its own write path.
func (h *Handler) updateFieldValue(c *gin.Context) {
	productID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req UpdateFieldRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	h.resolver.UpdateProductFieldValue(productID, c.Param("field"), req.Value)
	c.Status(http.StatusNoContent)
}

// getLoadingState reports whether a fetch is outstanding for the product
func (h *Handler) getLoadingState(c *gin.Context) {
	productID, ok := pathID(c, "id")
	if !ok {
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"product_id": productID,
		"loading":    h.resolver.IsLoading(productID),
	})
}

// getProductPricing resolves blueprint pricing for a product. The product's
// category list comes from the remote source; if that lookup fails the
// interpreter still gets a chance via a direct product assignment.
func (h *Handler) getProductPricing(c *gin.Context) {
	productID, ok := pathID(c, "id")
	if !ok {
		return
	}

	product, err := h.source.GetProduct(c.Request.Context(), productID)
	if err != nil {
		h.logger.Warn("Product lookup failed, resolving pricing without categories",
			zap.Int64("product_id", productID),
			zap.Error(err))
	}

	data := h.interpreter.ResolvePricing(c.Request.Context(), productID, product)
	if data == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "No blueprint pricing available",
		})
		return
	}

	c.JSON(http.StatusOK, data)
}

// clearCache drops all cached schemas, values and assignments
func (h *Handler) clearCache(c *gin.Context) {
	h.resolver.ClearCache()
	c.JSON(http.StatusOK, gin.H{"status": "cleared"})
}

func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid " + name,
		})
		return 0, false
	}
	return id, true
}

// requestIDMiddleware tags every request for log correlation
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Writer.Header().Set("X-Request-ID", requestID)
		c.Next()
	}
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
