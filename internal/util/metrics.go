package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_created_total",
		Help: "Total number of orders created",
	})

	OrdersOrphanedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_orphaned_total",
		Help: "Total number of orders persisted without a checkout preference",
	})

	HoldsAuthorizedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payment_holds_authorized_total",
		Help: "Total number of payment holds confirmed by the processor",
	})

	HoldsCapturedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payment_holds_captured_total",
		Help: "Total number of payment holds captured",
	})

	HoldsCancelledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payment_holds_cancelled_total",
		Help: "Total number of payment holds cancelled",
	})

	HoldsFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payment_holds_failed_total",
		Help: "Total number of payment holds rejected by the processor",
	})

	RefundsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_refunds_total",
		Help: "Total number of refunds issued",
	}, []string{"kind"})

	WebhooksProcessedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payment_webhooks_processed_total",
		Help: "Total number of payment webhooks applied to order state",
	})

	WebhooksDuplicateTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payment_webhooks_duplicate_total",
		Help: "Total number of duplicate webhook deliveries skipped",
	})

	WebhooksRetryableTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payment_webhooks_retryable_total",
		Help: "Total number of webhook deliveries that failed retryably",
	})

	WebhookUnmappedStatusTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_webhook_unmapped_status_total",
		Help: "Total number of processor statuses outside the mapping table",
	}, []string{"status"})

	IllegalTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_illegal_transitions_total",
		Help: "Total number of rejected state machine transitions",
	}, []string{"machine"})

	ConcurrentUpdateConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "order_concurrent_update_conflicts_total",
		Help: "Total number of optimistic concurrency conflicts",
	})

	GatewayRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "payment_gateway_request_duration_seconds",
		Help:    "Latency of payment processor API calls",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "outcome"})

	GatewayRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_gateway_retries_total",
		Help: "Total number of retried payment processor calls",
	}, []string{"operation"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
