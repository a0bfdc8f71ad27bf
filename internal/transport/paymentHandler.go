package transport

import (
	"errors"
	"io"
	"net/http"

	"github.com/ds124wfegd/studio-booking/internal/entity"
	"github.com/ds124wfegd/studio-booking/internal/service"

	"github.com/gin-gonic/gin"
)

const maxWebhookBody = 64 << 10

type PaymentHandler struct {
	paymentService service.PaymentService
}

func NewPaymentHandler(paymentService service.PaymentService) *PaymentHandler {
	return &PaymentHandler{paymentService: paymentService}
}

func (h *PaymentHandler) CreateCheckout(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req service.CreateCheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	result, err := h.paymentService.CreateCheckout(c.Request.Context(), userID, &req)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, result)
}

func (h *PaymentHandler) VerifySession(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	result, err := h.paymentService.VerifySession(c.Request.Context(), c.Param("session_id"), userID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *PaymentHandler) GetBalance(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	balance, err := h.paymentService.GetBalance(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, balance)
}

func (h *PaymentHandler) GetUserPurchases(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	limit, ok := listLimit(c)
	if !ok {
		return
	}

	purchases, err := h.paymentService.GetUserPurchases(c.Request.Context(), userID, limit)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"purchases": purchases, "count": len(purchases)})
}

// Webhook answers 400 for events that can never succeed and 500 for ones the
// processor should deliver again.
func (h *PaymentHandler) Webhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		badRequest(c, "failed to read body")
		return
	}

	err = h.paymentService.HandleWebhook(c.Request.Context(), payload, c.GetHeader("Stripe-Signature"))
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"received": true})
	case errors.Is(err, entity.ErrInvalidSignature):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: entity.ErrInvalidSignature.Message, Code: entity.ErrInvalidSignature.Code})
	case entity.KindOf(err) == entity.KindValidation:
		writeError(c, err)
	default:
		internalError(c, err)
	}
}

func (h *PaymentHandler) Refund(c *gin.Context) {
	purchaseID, ok := pathID(c, "id")
	if !ok {
		return
	}

	result, err := h.paymentService.Refund(c.Request.Context(), purchaseID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *PaymentHandler) ListFailedEvents(c *gin.Context) {
	limit, ok := listLimit(c)
	if !ok {
		return
	}

	events, err := h.paymentService.ListFailedEvents(c.Request.Context(), limit)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"events": events, "count": len(events)})
}
