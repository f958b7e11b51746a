package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"marketplace-orders/internal/models"
	"marketplace-orders/internal/service"
	"marketplace-orders/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// OrderController is the façade surface the handlers call.
type OrderController interface {
	CreateHeldOrder(ctx context.Context, in service.CreateOrderInput) (*models.Order, string, error)
	Capture(ctx context.Context, orderID string, amount int64) (*models.Order, error)
	Cancel(ctx context.Context, orderID string) (*models.Order, error)
	Refund(ctx context.Context, orderID string, amount int64) (*models.Order, error)
	GetOrder(ctx context.Context, orderID string) (*models.Order, error)
	AdvanceFulfillment(ctx context.Context, orderID string, target models.OrderStatus) (*models.Order, error)
}

// PaymentReconciler processes inbound payment notifications.
type PaymentReconciler interface {
	ProcessPaymentNotification(ctx context.Context, externalPaymentID string) error
}

// Handler contains HTTP handlers
type Handler struct {
	controller OrderController
	reconciler PaymentReconciler
}

// NewHandler creates a new HTTP handler
func NewHandler(controller OrderController, reconciler PaymentReconciler) *Handler {
	return &Handler{
		controller: controller,
		reconciler: reconciler,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.POST("/webhooks/payments", h.paymentWebhook)

	v1 := router.Group("/api/v1")
	{
		v1.POST("/orders", h.createOrder)
		v1.GET("/orders/:id", h.getOrder)
		v1.POST("/orders/:id/capture", h.captureOrder)
		v1.POST("/orders/:id/cancel", h.cancelOrder)
		v1.POST("/orders/:id/refund", h.refundOrder)
		v1.POST("/orders/:id/status", h.updateStatus)
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

// createOrder handles order creation with an authorization hold
func (h *Handler) createOrder(c *gin.Context) {
	var req service.CreateOrderInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	order, checkoutURL, err := h.controller.CreateHeldOrder(c.Request.Context(), req)
	if err != nil {
		// The order may have been persisted before preference creation
		// failed; report it so operators can reconcile.
		resp := gin.H{
			"error":   "Failed to create held order",
			"details": err.Error(),
		}
		if order != nil {
			resp["order"] = order
		}
		c.JSON(errorStatus(err), resp)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"order":        order,
		"checkout_url": checkoutURL,
	})
}

// getOrder handles get order by ID
func (h *Handler) getOrder(c *gin.Context) {
	order, err := h.controller.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(errorStatus(err), gin.H{
			"error":   "Order not found",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"order": order})
}

type amountRequest struct {
	Amount int64 `json:"amount"`
}

// captureOrder captures the order's payment hold
func (h *Handler) captureOrder(c *gin.Context) {
	var req amountRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	order, err := h.controller.Capture(c.Request.Context(), c.Param("id"), req.Amount)
	if err != nil {
		c.JSON(errorStatus(err), gin.H{"error": "Capture failed", "details": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"order": order})
}

// cancelOrder releases the order's payment hold and cancels the order
func (h *Handler) cancelOrder(c *gin.Context) {
	order, err := h.controller.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(errorStatus(err), gin.H{"error": "Cancel failed", "details": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"order": order})
}

// refundOrder refunds all or part of the captured payment
func (h *Handler) refundOrder(c *gin.Context) {
	var req amountRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	order, err := h.controller.Refund(c.Request.Context(), c.Param("id"), req.Amount)
	if err != nil {
		c.JSON(errorStatus(err), gin.H{"error": "Refund failed", "details": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"order": order})
}

type statusRequest struct {
	Status models.OrderStatus `json:"status" binding:"required"`
}

// updateStatus applies an operational fulfillment transition
func (h *Handler) updateStatus(c *gin.Context) {
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}
	if !models.KnownOrderStatus(req.Status) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": fmt.Sprintf("unknown status %q", req.Status),
		})
		return
	}

	order, err := h.controller.AdvanceFulfillment(c.Request.Context(), c.Param("id"), req.Status)
	if err != nil {
		c.JSON(errorStatus(err), gin.H{"error": "Status update failed", "details": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"order": order})
}

type webhookPayload struct {
	Type string `json:"type"`
	Data struct {
		ID string `json:"id"`
	} `json:"data"`
}

// paymentWebhook receives processor notifications. Unrecognized but
// well-formed event types are accepted and ignored; only retryable
// reconciliation failures elicit a redelivery from the processor.
func (h *Handler) paymentWebhook(c *gin.Context) {
	var payload webhookPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Malformed payload"})
		return
	}

	if payload.Type != "payment" || payload.Data.ID == "" {
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	if err := h.reconciler.ProcessPaymentNotification(c.Request.Context(), payload.Data.ID); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "Retryable failure", "details": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// errorStatus maps the error taxonomy onto HTTP statuses for operator routes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, models.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrOrderNotFound), errors.Is(err, models.ErrPaymentNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrInvalidTransition), errors.Is(err, models.ErrInvalidState),
		errors.Is(err, models.ErrConcurrentUpdate):
		return http.StatusConflict
	case errors.Is(err, models.ErrGatewayUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
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
