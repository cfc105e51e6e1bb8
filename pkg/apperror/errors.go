package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError is a structured error that maps to HTTP responses.
type AppError struct {
	Code       string `json:"error_code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"` // Wrapped internal error (not exposed to client)
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code string, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an internal error with an AppError.
func Wrap(code string, message string, httpStatus int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// HasCode reports whether err is an AppError carrying code.
func HasCode(err error, code string) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}

// ---- Security & Integrity (SEC) ----

func ErrInvalidSignature() *AppError {
	return New("SEC_002", "Invalid signature", http.StatusUnauthorized)
}

func ErrAmountMismatch() *AppError {
	return New("SEC_005", "Notification amount does not match transaction", http.StatusBadRequest)
}

func ErrTerminalMismatch() *AppError {
	return New("SEC_006", "Unknown terminal", http.StatusBadRequest)
}

func ErrMalformedNotification(field string) *AppError {
	return New("SEC_007", fmt.Sprintf("Notification field %s is missing or malformed", field), http.StatusBadRequest)
}

// ---- Payment Business Logic (PAY) ----

func ErrInsufficientFunds() *AppError {
	return New("PAY_001", "Insufficient balance in wallet", http.StatusPaymentRequired)
}

func ErrInvalidAmount() *AppError {
	return New("PAY_002", "Invalid amount", http.StatusBadRequest)
}

func ErrNotFound(entity string) *AppError {
	return New("PAY_004", fmt.Sprintf("%s not found", entity), http.StatusNotFound)
}

func ErrAlreadyPurchased() *AppError {
	return New("PAY_008", "Item already purchased", http.StatusConflict)
}

func ErrUnknownBank(name string) *AppError {
	return New("PAY_009", fmt.Sprintf("Unknown bank %q", name), http.StatusBadRequest)
}

func ErrInvalidPayoutMethod() *AppError {
	return New("PAY_009", "Unsupported payout method or missing requisites", http.StatusBadRequest)
}

func ErrPayoutRejected(err error) *AppError {
	return Wrap("PAY_010", "Payout provider rejected the withdrawal", http.StatusBadGateway, err)
}

func ErrBelowMinimumWithdrawal(min string) *AppError {
	return New("PAY_011", fmt.Sprintf("Minimum withdrawal amount is %s", min), http.StatusBadRequest)
}

func ErrSelfPurchase() *AppError {
	return New("PAY_012", "Cannot purchase your own item", http.StatusBadRequest)
}

// ---- Refunds (REF) ----

func ErrInvalidRefundTransition(from, to string) *AppError {
	return New("REF_001", fmt.Sprintf("Refund cannot move from %s to %s", from, to), http.StatusConflict)
}

func ErrRefundAlreadyOpen() *AppError {
	return New("REF_002", "An open refund request already exists for this purchase", http.StatusConflict)
}

func ErrNotRefundable() *AppError {
	return New("REF_003", "Purchase is not eligible for refund", http.StatusBadRequest)
}

func ErrSellerFundsShort() *AppError {
	return New("REF_004", "Seller balance does not cover the refund", http.StatusConflict)
}

// ---- External Gateways (GW) ----

func ErrCardGateway(err error) *AppError {
	return Wrap("GW_001", "Card payment provider unavailable", http.StatusBadGateway, err)
}

func ErrCatalogUnavailable(err error) *AppError {
	return Wrap("GW_002", "Item catalogue unavailable", http.StatusBadGateway, err)
}

// ---- Authentication (AUTH) ----

func ErrInvalidToken() *AppError {
	return New("AUTH_003", "Invalid or expired token", http.StatusUnauthorized)
}

func ErrForbidden() *AppError {
	return New("AUTH_005", "Staff permission required", http.StatusForbidden)
}

// ---- Rate Limiting (RATE) ----

func ErrRateLimitExceeded() *AppError {
	return New("RATE_001", "Rate limit exceeded", http.StatusTooManyRequests)
}

// ---- System & Infrastructure (SYS) ----

func ErrDatabaseError(err error) *AppError {
	return Wrap("SYS_001", "Internal database error", http.StatusInternalServerError, err)
}

func ErrLockTimeout(err error) *AppError {
	return Wrap("SYS_002", "Lock acquisition timeout", http.StatusServiceUnavailable, err)
}

func ErrJobRunning(job string) *AppError {
	return New("SYS_003", fmt.Sprintf("Job %s is already running", job), http.StatusConflict)
}

func ErrInconsistentLedger(err error) *AppError {
	return Wrap("SYS_004", "Ledger consistency check failed", http.StatusInternalServerError, err)
}

// InternalError wraps an internal error as a SYS_001 error.
func InternalError(err error) *AppError {
	return Wrap("SYS_001", "Internal server error", http.StatusInternalServerError, err)
}

// Validation returns a PAY_002-style validation error.
func Validation(message string) *AppError {
	return New("PAY_002", message, http.StatusBadRequest)
}
