package payout

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"meterpay/internal/api"
	"meterpay/internal/auth"
	"meterpay/internal/config"
	"meterpay/internal/creator"
	"meterpay/internal/ledger"
)

type Handler struct {
	service    Service
	ledgerRepo ledger.Repository
}

func NewHandler(db *sqlx.DB, cfg *config.Config) *Handler {
	return &Handler{
		service: NewService(
			NewRepository(db),
			creator.NewRepository(db),
			cfg.MinPayoutTokens,
			cfg.RedemptionRate,
		),
		ledgerRepo: ledger.NewRepository(db),
	}
}

func (h *Handler) callerAccount(c *gin.Context) (int, bool) {
	userID, ok := auth.GetUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, api.ErrorResponse{Error: "user not authenticated"})
		return 0, false
	}

	account, err := h.ledgerRepo.GetOrCreateAccount(c.Request.Context(), strconv.Itoa(userID))
	if err != nil {
		c.JSON(http.StatusInternalServerError, api.ErrorResponse{Error: "failed to load account", Code: api.CodeInternal})
		return 0, false
	}
	return account.ID, true
}

// RequestWithdrawal godoc
// @Summary      Request inclusion in the next withdrawal cycle
// @Tags         withdrawals
// @Security     BearerAuth
// @Produce      json
// @Success      201 {object} Intent
// @Failure      409 {object} api.ErrorResponse
// @Failure      422 {object} api.ErrorResponse
// @Router       /withdrawals/intent [post]
func (h *Handler) RequestWithdrawal(c *gin.Context) {
	accountID, ok := h.callerAccount(c)
	if !ok {
		return
	}

	intent, err := h.service.RequestWithdrawal(c.Request.Context(), accountID)
	if err != nil {
		switch {
		case errors.Is(err, ErrIntentPending):
			c.JSON(http.StatusConflict, api.ErrorResponse{Error: err.Error(), Code: api.CodeDuplicateRequest})
		case errors.Is(err, ErrNoPayoutDestination), errors.Is(err, creator.ErrProfileNotFound):
			c.JSON(http.StatusUnprocessableEntity, api.ErrorResponse{Error: "configure a payout destination first", Code: api.CodeValidation})
		default:
			c.JSON(http.StatusInternalServerError, api.ErrorResponse{Error: "failed to create withdrawal intent", Code: api.CodeInternal})
		}
		return
	}

	c.JSON(http.StatusCreated, intent)
}

// CancelWithdrawal godoc
// @Summary      Cancel the pending withdrawal intent
// @Tags         withdrawals
// @Security     BearerAuth
// @Produce      json
// @Success      200 {object} api.MessageResponse
// @Failure      409 {object} api.ErrorResponse
// @Router       /withdrawals/intent [delete]
func (h *Handler) CancelWithdrawal(c *gin.Context) {
	accountID, ok := h.callerAccount(c)
	if !ok {
		return
	}

	if err := h.service.CancelWithdrawal(c.Request.Context(), accountID); err != nil {
		if errors.Is(err, ErrNoPendingIntent) {
			// Nothing pending: either never requested or already consumed.
			c.JSON(http.StatusConflict, api.ErrorResponse{Error: err.Error(), Code: api.CodeReconciliationConflict})
			return
		}
		c.JSON(http.StatusInternalServerError, api.ErrorResponse{Error: "failed to cancel withdrawal intent", Code: api.CodeInternal})
		return
	}

	c.JSON(http.StatusOK, api.MessageResponse{Message: "withdrawal intent canceled"})
}

// GetIntent godoc
// @Summary      Current pending withdrawal intent
// @Tags         withdrawals
// @Security     BearerAuth
// @Produce      json
// @Success      200 {object} Intent
// @Failure      404 {object} api.ErrorResponse
// @Router       /withdrawals/intent [get]
func (h *Handler) GetIntent(c *gin.Context) {
	accountID, ok := h.callerAccount(c)
	if !ok {
		return
	}

	intent, err := h.service.GetIntent(c.Request.Context(), accountID)
	if err != nil {
		if errors.Is(err, ErrNoPendingIntent) {
			c.JSON(http.StatusNotFound, api.ErrorResponse{Error: err.Error(), Code: api.CodeNotFound})
			return
		}
		c.JSON(http.StatusInternalServerError, api.ErrorResponse{Error: "failed to load withdrawal intent", Code: api.CodeInternal})
		return
	}

	c.JSON(http.StatusOK, intent)
}

// RunBatch godoc
// @Summary      Run the withdrawal batch for the current cycle
// @Description  Invoked by the scheduler on the 1st and 16th. Authenticated by the shared scheduler secret.
// @Tags         withdrawals
// @Produce      json
// @Success      200 {object} RunSummary
// @Failure      401 {object} api.ErrorResponse
// @Router       /admin/payouts/run [post]
func (h *Handler) RunBatch(c *gin.Context) {
	summary, err := h.service.Run(c.Request.Context(), time.Now())
	if err != nil {
		c.JSON(http.StatusInternalServerError, api.ErrorResponse{Error: "payout run failed", Code: api.CodeInternal})
		return
	}

	c.JSON(http.StatusOK, summary)
}
