package billing

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	stripe "github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/webhook"

	"github.com/cartpulse/cartpulse/internal/logging"
	"github.com/cartpulse/cartpulse/internal/merchant"
)

// maxWebhookBody bounds Stripe webhook payloads (64KB is generous).
const maxWebhookBody = 65536

// Handler provides HTTP endpoints for billing.
type Handler struct {
	service       *Service
	webhookSecret string
}

// NewHandler creates a billing handler.
func NewHandler(service *Service, webhookSecret string) *Handler {
	return &Handler{service: service, webhookSecret: webhookSecret}
}

// RegisterRoutes sets up the public Stripe webhook endpoint.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/billing/webhook", h.Webhook)
}

// RegisterProtectedRoutes sets up merchant-facing billing routes.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/merchants/:id/billing/subscribe", h.Subscribe)
	r.DELETE("/merchants/:id/billing/subscription", h.CancelSubscription)
}

// Subscribe handles POST /v1/merchants/:id/billing/subscribe
func (h *Handler) Subscribe(c *gin.Context) {
	var req struct {
		Plan  merchant.Plan `json:"plan" binding:"required"`
		Email string        `json:"email" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "plan and email required"})
		return
	}
	if req.Plan == merchant.PlanFree || !merchant.ValidPlan(req.Plan) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_plan", "message": "plan must be a paid tier"})
		return
	}

	m, err := h.service.Subscribe(c.Request.Context(), c.Param("id"), req.Plan, req.Email)
	if err != nil {
		switch err {
		case ErrNotConfigured:
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "billing_disabled", "message": "billing is not configured"})
		case ErrNoPrice:
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_plan", "message": "no price configured for this plan"})
		case merchant.ErrNotFound:
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "merchant not found"})
		default:
			logging.L(c.Request.Context()).Error("subscribe failed", "error", err)
			c.JSON(http.StatusBadGateway, gin.H{"error": "stripe_error", "message": "subscription could not be created"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"merchant": m})
}

// CancelSubscription handles DELETE /v1/merchants/:id/billing/subscription
func (h *Handler) CancelSubscription(c *gin.Context) {
	m, err := h.service.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		switch err {
		case ErrNotConfigured:
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "billing_disabled", "message": "billing is not configured"})
		case merchant.ErrNotFound:
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "merchant not found"})
		default:
			logging.L(c.Request.Context()).Error("cancel failed", "error", err)
			c.JSON(http.StatusBadGateway, gin.H{"error": "stripe_error", "message": "subscription could not be cancelled"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"merchant": m})
}

// Webhook handles POST /v1/billing/webhook. Stripe signs each payload;
// unverifiable requests are rejected.
func (h *Handler) Webhook(c *gin.Context) {
	if h.webhookSecret == "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "billing_disabled", "message": "webhook secret not configured"})
		return
	}

	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "unreadable body"})
		return
	}

	event, err := webhook.ConstructEvent(payload, c.GetHeader("Stripe-Signature"), h.webhookSecret)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_signature", "message": "signature verification failed"})
		return
	}

	ctx := c.Request.Context()
	log := logging.L(ctx).With("stripe_event", event.Type)

	switch event.Type {
	case "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err == nil && sub.Customer != nil {
			if err := h.service.HandleSubscriptionEnded(ctx, sub.Customer.ID); err != nil {
				log.Warn("subscription sync failed", "error", err)
			}
		}
	case "invoice.payment_failed":
		var inv stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err == nil && inv.Customer != nil {
			if err := h.service.HandlePaymentFailed(ctx, inv.Customer.ID); err != nil {
				log.Warn("suspension sync failed", "error", err)
			}
		}
	case "invoice.payment_succeeded":
		var inv stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err == nil && inv.Customer != nil {
			if err := h.service.HandlePaymentRecovered(ctx, inv.Customer.ID); err != nil {
				log.Warn("reactivation sync failed", "error", err)
			}
		}
	default:
		log.Debug("unhandled stripe event")
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}
