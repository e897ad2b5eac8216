package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Processor statuses as reported by the external gateway.
const (
	ProcessorSucceeded      = "succeeded"
	ProcessorPending        = "pending"
	ProcessorRequiresAction = "requires_action"
	ProcessorFailed         = "failed"
)

// Stable user-facing gateway error codes. Raw processor text stays internal.
const (
	CodeCardDeclined      = "card_declined"
	CodeInsufficientFunds = "insufficient_funds"
	CodeExpiredCard       = "expired_card"
	CodeIncorrectCVC      = "incorrect_cvc"
	CodeProcessingError   = "processing_error"
	CodeGatewayError      = "gateway_error"
)

// GatewayError carries a stable code and a user-safe message.
type GatewayError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway: %s: %s", e.Code, e.Message)
}

// IsDecline reports whether the error is a card decline the consumer can fix,
// as opposed to a processing fault on our or the processor's side.
func (e *GatewayError) IsDecline() bool {
	switch e.Code {
	case CodeCardDeclined, CodeInsufficientFunds, CodeExpiredCard, CodeIncorrectCVC:
		return true
	}
	return false
}

var declineMessages = map[string]string{
	CodeCardDeclined:      "Your card was declined",
	CodeInsufficientFunds: "Your card has insufficient funds",
	CodeExpiredCard:       "Your card has expired",
	CodeIncorrectCVC:      "Your card's security code is incorrect",
	CodeProcessingError:   "An error occurred while processing your card",
}

// MapProcessorError translates a raw processor decline code into the stable
// taxonomy. Unmapped codes collapse into the generic gateway error.
func MapProcessorError(code string) *GatewayError {
	if msg, ok := declineMessages[code]; ok {
		return &GatewayError{Code: code, Message: msg}
	}
	return &GatewayError{Code: CodeGatewayError, Message: "Payment could not be processed"}
}

type CreateIntentRequest struct {
	AmountCents    int64             `json:"amount_minor"`
	Currency       string            `json:"currency"`
	IdempotencyKey string            `json:"idempotency_key"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

type CreateIntentResponse struct {
	IntentID     string `json:"intent_id"`
	Status       string `json:"status"`
	ClientSecret string `json:"client_secret,omitempty"`
}

// Processor creates and queries payment intents with the external processor.
type Processor interface {
	CreateIntent(ctx context.Context, req CreateIntentRequest) (*CreateIntentResponse, error)
}

// HTTPGateway talks to the processor over HTTPS with a bounded timeout and
// no in-path retries; the idempotency key makes client-side retry safe.
type HTTPGateway struct {
	baseURL string
	secret  string
	client  *http.Client
}

func NewHTTPGateway(baseURL, secret string, timeout time.Duration) *HTTPGateway {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPGateway{
		baseURL: baseURL,
		secret:  secret,
		client:  &http.Client{Timeout: timeout},
	}
}

type processorErrorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (g *HTTPGateway) CreateIntent(ctx context.Context, req CreateIntentRequest) (*CreateIntentResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v1/payment_intents", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+g.secret)
	httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, &GatewayError{Code: CodeProcessingError, Message: declineMessages[CodeProcessingError]}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errBody processorErrorBody
		if decodeErr := json.NewDecoder(resp.Body).Decode(&errBody); decodeErr != nil {
			return nil, &GatewayError{Code: CodeGatewayError, Message: "Payment could not be processed"}
		}
		return nil, MapProcessorError(errBody.Error.Code)
	}

	var out CreateIntentResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &GatewayError{Code: CodeGatewayError, Message: "Payment could not be processed"}
	}

	if out.IntentID == "" {
		return nil, errors.New("processor returned no intent id")
	}

	return &out, nil
}
