package webhook

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"meterpay/internal/api"
	"meterpay/internal/ledger"
	"meterpay/internal/logger"
	"meterpay/internal/payment"
)

type Handler struct {
	service Service
	secret  string
}

func NewHandler(db *sqlx.DB, webhookSecret string) *Handler {
	return &Handler{
		service: NewService(
			NewRepository(db),
			payment.NewRepository(db),
			ledger.NewRepository(db),
		),
		secret: webhookSecret,
	}
}

// Receive godoc
// @Summary      Processor webhook intake
// @Description  Verifies the signature, deduplicates by event id, and reconciles the matching payment intent.
// @Tags         webhooks
// @Accept       json
// @Produce      json
// @Param        X-Gateway-Signature header string true "Hex HMAC-SHA256 of the raw body"
// @Success      200 {object} gin.H
// @Failure      400 {object} api.ErrorResponse
// @Failure      403 {object} api.ErrorResponse
// @Router       /webhooks/gateway [post]
func (h *Handler) Receive(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: "failed to read body", Code: api.CodeValidation})
		return
	}

	signature := c.GetHeader("X-Gateway-Signature")
	if !VerifySignature(body, signature, h.secret) {
		c.JSON(http.StatusForbidden, api.ErrorResponse{Error: "invalid signature"})
		return
	}

	var envelope Envelope
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.ID == "" {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: "malformed event", Code: api.CodeValidation})
		return
	}

	result, err := h.service.Process(c.Request.Context(), envelope, body)
	if err != nil {
		// 500 makes the processor redeliver; the dedupe row is already in
		// place so the retry is safe.
		logger.Errorf("Webhook event %s failed: %v", envelope.ID, err)
		c.JSON(http.StatusInternalServerError, api.ErrorResponse{Error: "event processing failed", Code: api.CodeInternal})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": result})
}
