package payment

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"meterpay/internal/api"
	"meterpay/internal/auth"
	"meterpay/internal/config"
	"meterpay/internal/ledger"
)

type Handler struct {
	service    Service
	ledgerRepo ledger.Repository
}

func NewHandler(db *sqlx.DB, cfg *config.Config, processor Processor) *Handler {
	return &Handler{
		service: NewService(
			NewRepository(db),
			processor,
			cfg.IdempotencyWindowSeconds,
			cfg.TokenPriceCents,
		),
		ledgerRepo: ledger.NewRepository(db),
	}
}

type CreateIntentBody struct {
	Tokens  int64  `json:"tokens" binding:"required,gt=0"`
	Purpose string `json:"purpose" binding:"omitempty,max=120"`
}

type IntentResponse struct {
	Intent       *Intent `json:"intent"`
	ClientSecret string  `json:"client_secret,omitempty"`
	Duplicate    bool    `json:"duplicate,omitempty"`
}

// CreateIntent godoc
// @Summary      Start a token purchase
// @Description  Creates an idempotent payment intent with the external processor.
// @Tags         payments
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        request body CreateIntentBody true "Purchase request"
// @Success      200 {object} IntentResponse "Duplicate submission, original result"
// @Success      201 {object} IntentResponse
// @Failure      400 {object} api.ErrorResponse
// @Failure      402 {object} api.ErrorResponse
// @Failure      500 {object} api.ErrorResponse
// @Router       /payments/intents [post]
func (h *Handler) CreateIntent(c *gin.Context) {
	userID, ok := auth.GetUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, api.ErrorResponse{Error: "user not authenticated"})
		return
	}

	var body CreateIntentBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: "tokens must be positive", Code: api.CodeValidation})
		return
	}

	account, err := h.ledgerRepo.GetOrCreateAccount(c.Request.Context(), strconv.Itoa(userID))
	if err != nil {
		c.JSON(http.StatusInternalServerError, api.ErrorResponse{Error: "failed to load account", Code: api.CodeInternal})
		return
	}

	intent, clientSecret, duplicate, err := h.service.CreateIntent(c.Request.Context(), account.ID, body.Tokens, body.Purpose)
	if err != nil {
		var gwErr *GatewayError
		switch {
		case errors.Is(err, ErrInvalidPurchase):
			c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: err.Error(), Code: api.CodeValidation})
		case errors.As(err, &gwErr) && gwErr.IsDecline():
			c.JSON(http.StatusPaymentRequired, api.ErrorResponse{Error: gwErr.Message, Code: gwErr.Code})
		case errors.As(err, &gwErr):
			c.JSON(http.StatusInternalServerError, api.ErrorResponse{Error: gwErr.Message, Code: api.CodeGatewayError})
		default:
			c.JSON(http.StatusInternalServerError, api.ErrorResponse{Error: "failed to create payment intent", Code: api.CodeInternal})
		}
		return
	}

	status := http.StatusCreated
	if duplicate {
		// The original result, at-most-once from the caller's point of view.
		status = http.StatusOK
	}

	c.JSON(status, IntentResponse{
		Intent:       intent,
		ClientSecret: clientSecret,
		Duplicate:    duplicate,
	})
}
