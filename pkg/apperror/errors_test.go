package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		appErr   *AppError
		expected string
	}{
		{
			name:     "without wrapped error",
			appErr:   New("PAY_001", "Insufficient funds", http.StatusPaymentRequired),
			expected: "[PAY_001] Insufficient funds",
		},
		{
			name:     "with wrapped error",
			appErr:   Wrap("SYS_001", "DB error", http.StatusInternalServerError, fmt.Errorf("connection refused")),
			expected: "[SYS_001] DB error: connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.appErr.Error())
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	inner := fmt.Errorf("inner error")
	appErr := Wrap("SYS_001", "wrapped", http.StatusInternalServerError, inner)

	assert.True(t, errors.Is(appErr, inner))
	assert.Nil(t, New("PAY_001", "test", http.StatusBadRequest).Unwrap())
}

func TestHasCode(t *testing.T) {
	wrapped := fmt.Errorf("purchase: %w", ErrInsufficientFunds())

	assert.True(t, HasCode(wrapped, "PAY_001"))
	assert.False(t, HasCode(wrapped, "PAY_002"))
	assert.False(t, HasCode(errors.New("plain"), "PAY_001"))
}

func TestErrorCatalog(t *testing.T) {
	tests := []struct {
		name       string
		err        *AppError
		code       string
		httpStatus int
	}{
		{"InvalidSignature", ErrInvalidSignature(), "SEC_002", 401},
		{"AmountMismatch", ErrAmountMismatch(), "SEC_005", 400},
		{"TerminalMismatch", ErrTerminalMismatch(), "SEC_006", 400},
		{"InsufficientFunds", ErrInsufficientFunds(), "PAY_001", 402},
		{"InvalidAmount", ErrInvalidAmount(), "PAY_002", 400},
		{"NotFound", ErrNotFound("purchase"), "PAY_004", 404},
		{"AlreadyPurchased", ErrAlreadyPurchased(), "PAY_008", 409},
		{"UnknownBank", ErrUnknownBank("Foo"), "PAY_009", 400},
		{"PayoutRejected", ErrPayoutRejected(errors.New("x")), "PAY_010", 502},
		{"BelowMinimum", ErrBelowMinimumWithdrawal("1000"), "PAY_011", 400},
		{"InvalidRefundTransition", ErrInvalidRefundTransition("approved", "rejected"), "REF_001", 409},
		{"RefundAlreadyOpen", ErrRefundAlreadyOpen(), "REF_002", 409},
		{"NotRefundable", ErrNotRefundable(), "REF_003", 400},
		{"SellerFundsShort", ErrSellerFundsShort(), "REF_004", 409},
		{"CardGateway", ErrCardGateway(errors.New("x")), "GW_001", 502},
		{"CatalogUnavailable", ErrCatalogUnavailable(errors.New("x")), "GW_002", 502},
		{"InvalidToken", ErrInvalidToken(), "AUTH_003", 401},
		{"Forbidden", ErrForbidden(), "AUTH_005", 403},
		{"RateLimit", ErrRateLimitExceeded(), "RATE_001", 429},
		{"LockTimeout", ErrLockTimeout(errors.New("x")), "SYS_002", 503},
		{"JobRunning", ErrJobRunning("release"), "SYS_003", 409},
		{"Internal", InternalError(errors.New("x")), "SYS_001", 500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, tt.err.Code)
			assert.Equal(t, tt.httpStatus, tt.err.HTTPStatus)
			assert.NotEmpty(t, tt.err.Message)
		})
	}
}

func TestNotFound_MessageIncludesEntity(t *testing.T) {
	assert.Equal(t, "refund request not found", ErrNotFound("refund request").Message)
}
