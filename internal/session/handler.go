package session

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"meterpay/internal/api"
	"meterpay/internal/auth"
	"meterpay/internal/creator"
	"meterpay/internal/ledger"
)

type Handler struct {
	service    Service
	ledgerRepo ledger.Repository
}

func NewHandler(db *sqlx.DB) *Handler {
	ledgerRepo := ledger.NewRepository(db)
	return &Handler{
		service:    NewService(NewRepository(db), creator.NewRepository(db), ledgerRepo),
		ledgerRepo: ledgerRepo,
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

type StartSessionRequest struct {
	ProviderAccountID int    `json:"provider_account_id" binding:"required,gt=0"`
	Type              string `json:"type" binding:"required,oneof=video_call voice_call class"`
}

// Start godoc
// @Summary      Start a metered session
// @Description  Locks the provider's current rate for the whole session. Live sessions require one minute's charge up front; classes enroll free and charge at the attendance call.
// @Tags         sessions
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        request body StartSessionRequest true "Session request"
// @Success      201 {object} Session
// @Failure      400 {object} api.ErrorResponse
// @Failure      402 {object} api.InsufficientBalanceResponse
// @Failure      404 {object} api.ErrorResponse
// @Router       /sessions [post]
func (h *Handler) Start(c *gin.Context) {
	accountID, ok := h.callerAccount(c)
	if !ok {
		return
	}

	var req StartSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: "provider_account_id and a valid type are required", Code: api.CodeValidation})
		return
	}

	sess, err := h.service.Start(c.Request.Context(), accountID, req.ProviderAccountID, req.Type)
	if err != nil {
		var insufficientErr *InsufficientBalanceError
		switch {
		case errors.As(err, &insufficientErr):
			c.JSON(http.StatusPaymentRequired, api.InsufficientBalanceResponse{
				Error:    "insufficient balance",
				Code:     api.CodeInsufficientBalance,
				Balance:  insufficientErr.Balance,
				Required: insufficientErr.Required,
			})
		case errors.Is(err, ErrProviderUnavailable):
			c.JSON(http.StatusNotFound, api.ErrorResponse{Error: err.Error(), Code: api.CodeNotFound})
		case errors.Is(err, ErrSelfSession), errors.Is(err, ErrInvalidSessionType):
			c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: err.Error(), Code: api.CodeValidation})
		default:
			c.JSON(http.StatusInternalServerError, api.ErrorResponse{Error: "failed to start session", Code: api.CodeInternal})
		}
		return
	}

	c.JSON(http.StatusCreated, sess)
}

// End godoc
// @Summary      End a session and settle the charge
// @Description  Idempotent: ending an already-closed session returns the stored result without charging again.
// @Tags         sessions
// @Security     BearerAuth
// @Produce      json
// @Param        sessionID path int true "Session ID"
// @Success      200 {object} Session
// @Failure      403 {object} api.ErrorResponse
// @Failure      404 {object} api.ErrorResponse
// @Router       /sessions/{sessionID}/end [post]
func (h *Handler) End(c *gin.Context) {
	accountID, ok := h.callerAccount(c)
	if !ok {
		return
	}

	sessionID, err := strconv.Atoi(c.Param("sessionID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: "invalid session id", Code: api.CodeValidation})
		return
	}

	sess, err := h.service.End(c.Request.Context(), sessionID, accountID)
	if err != nil {
		switch {
		case errors.Is(err, ErrSessionNotFound):
			c.JSON(http.StatusNotFound, api.ErrorResponse{Error: "session not found", Code: api.CodeNotFound})
		case errors.Is(err, ErrNotParticipant):
			c.JSON(http.StatusForbidden, api.ErrorResponse{Error: err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, api.ErrorResponse{Error: "failed to end session", Code: api.CodeInternal})
		}
		return
	}

	c.JSON(http.StatusOK, sess)
}

// Get godoc
// @Summary      Session details
// @Tags         sessions
// @Security     BearerAuth
// @Produce      json
// @Param        sessionID path int true "Session ID"
// @Success      200 {object} Session
// @Failure      403 {object} api.ErrorResponse
// @Failure      404 {object} api.ErrorResponse
// @Router       /sessions/{sessionID} [get]
func (h *Handler) Get(c *gin.Context) {
	accountID, ok := h.callerAccount(c)
	if !ok {
		return
	}

	sessionID, err := strconv.Atoi(c.Param("sessionID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: "invalid session id", Code: api.CodeValidation})
		return
	}

	sess, err := h.service.Get(c.Request.Context(), sessionID, accountID)
	if err != nil {
		switch {
		case errors.Is(err, ErrSessionNotFound):
			c.JSON(http.StatusNotFound, api.ErrorResponse{Error: "session not found", Code: api.CodeNotFound})
		case errors.Is(err, ErrNotParticipant):
			c.JSON(http.StatusForbidden, api.ErrorResponse{Error: err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, api.ErrorResponse{Error: "failed to load session", Code: api.CodeInternal})
		}
		return
	}

	c.JSON(http.StatusOK, sess)
}
