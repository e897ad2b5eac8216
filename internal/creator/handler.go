package creator

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"meterpay/internal/api"
	"meterpay/internal/auth"
	"meterpay/internal/ledger"
)

type Handler struct {
	repo       Repository
	ledgerRepo ledger.Repository
}

func NewHandler(db *sqlx.DB) *Handler {
	return &Handler{
		repo:       NewRepository(db),
		ledgerRepo: ledger.NewRepository(db),
	}
}

type RateResponse struct {
	AccountID     int   `json:"account_id"`
	RatePerMinute int64 `json:"rate_per_minute"`
}

// GetRate godoc
// @Summary      Published per-minute rate of a creator
// @Tags         creators
// @Security     BearerAuth
// @Produce      json
// @Param        creatorID path int true "Creator account ID"
// @Success      200 {object} RateResponse
// @Failure      404 {object} api.ErrorResponse
// @Router       /creators/{creatorID}/rate [get]
func (h *Handler) GetRate(c *gin.Context) {
	accountID, err := strconv.Atoi(c.Param("creatorID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: "invalid creator id", Code: api.CodeValidation})
		return
	}

	p, err := h.repo.GetByAccountID(c.Request.Context(), accountID)
	if err != nil {
		if errors.Is(err, ErrProfileNotFound) {
			c.JSON(http.StatusNotFound, api.ErrorResponse{Error: "creator not found", Code: api.CodeNotFound})
			return
		}
		c.JSON(http.StatusInternalServerError, api.ErrorResponse{Error: "failed to load creator", Code: api.CodeInternal})
		return
	}

	c.JSON(http.StatusOK, RateResponse{AccountID: p.AccountID, RatePerMinute: p.RatePerMinute})
}

type UpdateRateRequest struct {
	RatePerMinute int64 `json:"rate_per_minute" binding:"required,gt=0"`
}

// UpdateRate godoc
// @Summary      Publish a new per-minute rate
// @Description  Affects only sessions started after the change; running sessions keep their locked rate.
// @Tags         creators
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        request body UpdateRateRequest true "New rate"
// @Success      200 {object} api.MessageResponse
// @Failure      400 {object} api.ErrorResponse
// @Router       /creators/me/rate [put]
func (h *Handler) UpdateRate(c *gin.Context) {
	userID, ok := auth.GetUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, api.ErrorResponse{Error: "user not authenticated"})
		return
	}

	var req UpdateRateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: "rate_per_minute must be positive", Code: api.CodeValidation})
		return
	}

	account, err := h.ledgerRepo.GetOrCreateAccount(c.Request.Context(), strconv.Itoa(userID))
	if err != nil {
		c.JSON(http.StatusInternalServerError, api.ErrorResponse{Error: "failed to load account", Code: api.CodeInternal})
		return
	}

	if _, err := h.repo.GetOrCreate(c.Request.Context(), account.ID, c.GetString("user_email")); err != nil {
		c.JSON(http.StatusInternalServerError, api.ErrorResponse{Error: "failed to load profile", Code: api.CodeInternal})
		return
	}

	if err := h.repo.UpdateRate(c.Request.Context(), account.ID, req.RatePerMinute); err != nil {
		c.JSON(http.StatusInternalServerError, api.ErrorResponse{Error: "failed to update rate", Code: api.CodeInternal})
		return
	}

	c.JSON(http.StatusOK, api.MessageResponse{Message: "rate updated"})
}

type UpdatePayoutRequest struct {
	Destination  string `json:"destination" binding:"required,max=120"`
	AutoWithdraw bool   `json:"auto_withdraw"`
}

// UpdatePayout godoc
// @Summary      Link a payout destination
// @Tags         creators
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        request body UpdatePayoutRequest true "Payout destination"
// @Success      200 {object} api.MessageResponse
// @Failure      400 {object} api.ErrorResponse
// @Router       /creators/me/payout [put]
func (h *Handler) UpdatePayout(c *gin.Context) {
	userID, ok := auth.GetUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, api.ErrorResponse{Error: "user not authenticated"})
		return
	}

	var req UpdatePayoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: "destination is required", Code: api.CodeValidation})
		return
	}

	account, err := h.ledgerRepo.GetOrCreateAccount(c.Request.Context(), strconv.Itoa(userID))
	if err != nil {
		c.JSON(http.StatusInternalServerError, api.ErrorResponse{Error: "failed to load account", Code: api.CodeInternal})
		return
	}

	if _, err := h.repo.GetOrCreate(c.Request.Context(), account.ID, c.GetString("user_email")); err != nil {
		c.JSON(http.StatusInternalServerError, api.ErrorResponse{Error: "failed to load profile", Code: api.CodeInternal})
		return
	}

	if err := h.repo.UpdatePayout(c.Request.Context(), account.ID, req.Destination, req.AutoWithdraw); err != nil {
		if errors.Is(err, ErrNoPayoutForAutoDraw) {
			c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: err.Error(), Code: api.CodeValidation})
			return
		}
		c.JSON(http.StatusInternalServerError, api.ErrorResponse{Error: "failed to update payout settings", Code: api.CodeInternal})
		return
	}

	c.JSON(http.StatusOK, api.MessageResponse{Message: "payout settings updated"})
}
