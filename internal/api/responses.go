package api

// Stable error codes returned alongside HTTP statuses. Raw gateway or
// database error text never reaches a client.
const (
	CodeValidation             = "validation_error"
	CodeInsufficientBalance    = "insufficient_balance"
	CodeDuplicateRequest       = "duplicate_request"
	CodeGatewayError           = "gateway_error"
	CodeReconciliationConflict = "reconciliation_conflict"
	CodeNotFound               = "not_found"
	CodeInternal               = "internal_error"
)

type ErrorResponse struct {
	Error string `json:"error" example:"something went wrong"`
	Code  string `json:"code,omitempty" example:"validation_error"`
}

// InsufficientBalanceResponse tells the caller how short they are.
type InsufficientBalanceResponse struct {
	Error    string `json:"error" example:"insufficient balance"`
	Code     string `json:"code" example:"insufficient_balance"`
	Balance  int64  `json:"balance" example:"30"`
	Required int64  `json:"required" example:"50"`
}

type MessageResponse struct {
	Message string `json:"message" example:"ok"`
}

type HealthResponse struct {
	Status string `json:"status" example:"ok"`
}
