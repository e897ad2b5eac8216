package ledger

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"meterpay/internal/api"
	"meterpay/internal/auth"
)

type Handler struct {
	repo Repository
}

func NewHandler(db *sqlx.DB) *Handler {
	return &Handler{
		repo: NewRepository(db),
	}
}

// GetWallet godoc
// @Summary      Current token balance
// @Tags         wallet
// @Security     BearerAuth
// @Produce      json
// @Success      200 {object} Account
// @Failure      401 {object} api.ErrorResponse
// @Router       /wallet [get]
func (h *Handler) GetWallet(c *gin.Context) {
	userID, ok := auth.GetUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, api.ErrorResponse{Error: "user not authenticated"})
		return
	}

	a, err := h.repo.GetOrCreateAccount(c.Request.Context(), strconv.Itoa(userID))
	if err != nil {
		c.JSON(http.StatusInternalServerError, api.ErrorResponse{Error: "failed to load account", Code: api.CodeInternal})
		return
	}

	c.JSON(http.StatusOK, a)
}

// ListEntries godoc
// @Summary      Ledger statement
// @Tags         wallet
// @Security     BearerAuth
// @Produce      json
// @Param        limit  query int false "Page size"  default(50)
// @Param        offset query int false "Page start" default(0)
// @Success      200 {array} Entry
// @Failure      401 {object} api.ErrorResponse
// @Router       /wallet/entries [get]
func (h *Handler) ListEntries(c *gin.Context) {
	userID, ok := auth.GetUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, api.ErrorResponse{Error: "user not authenticated"})
		return
	}

	a, err := h.repo.GetOrCreateAccount(c.Request.Context(), strconv.Itoa(userID))
	if err != nil {
		c.JSON(http.StatusInternalServerError, api.ErrorResponse{Error: "failed to load account", Code: api.CodeInternal})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	entries, err := h.repo.ListEntries(c.Request.Context(), a.ID, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, api.ErrorResponse{Error: "failed to load entries", Code: api.CodeInternal})
		return
	}

	c.JSON(http.StatusOK, entries)
}

type ReserveRequest struct {
	Amount int64 `json:"amount" binding:"min=0"`
}

// Reserve godoc
// @Summary      Set reserved tokens on an account
// @Description  Reserved tokens stay on the balance but are excluded from withdrawal.
// @Tags         admin
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        accountID path int            true "Account ID"
// @Param        request   body ReserveRequest true "Reserve amount"
// @Success      200 {object} api.MessageResponse
// @Failure      400 {object} api.ErrorResponse
// @Failure      404 {object} api.ErrorResponse
// @Router       /admin/accounts/{accountID}/reserve [post]
func (h *Handler) Reserve(c *gin.Context) {
	accountID, err := strconv.Atoi(c.Param("accountID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: "invalid account id", Code: api.CodeValidation})
		return
	}

	var req ReserveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: "amount must be zero or positive", Code: api.CodeValidation})
		return
	}

	err = h.repo.Reserve(c.Request.Context(), accountID, req.Amount)
	switch {
	case errors.Is(err, ErrAccountNotFound):
		c.JSON(http.StatusNotFound, api.ErrorResponse{Error: "account not found", Code: api.CodeNotFound})
	case errors.Is(err, ErrReserveExceedsFunds):
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: "reserved amount exceeds balance", Code: api.CodeValidation})
	case err != nil:
		c.JSON(http.StatusInternalServerError, api.ErrorResponse{Error: "failed to update reserve", Code: api.CodeInternal})
	default:
		c.JSON(http.StatusOK, api.MessageResponse{Message: "reserve updated"})
	}
}
