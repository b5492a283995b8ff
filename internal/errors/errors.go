package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/asset-registry/internal/types"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	// CategoryUserInput represents invalid input from the caller (4xx)
	CategoryUserInput ErrorCategory = "user_input"
	// CategoryValidation represents validation errors
	CategoryValidation ErrorCategory = "validation"
	// CategoryAuthorization represents ownership denials
	CategoryAuthorization ErrorCategory = "authorization"
	// CategorySession represents a missing or unknown session account
	CategorySession ErrorCategory = "session"
	// CategoryLedger represents failed reads against the contract
	CategoryLedger ErrorCategory = "ledger"
	// CategoryTransaction represents failed or reverted writes
	CategoryTransaction ErrorCategory = "transaction"
	// CategoryRateLimit represents rate limit errors
	CategoryRateLimit ErrorCategory = "rate_limit"
	// CategorySystem represents unexpected errors (5xx)
	CategorySystem ErrorCategory = "system"
)

// Error codes surfaced to callers
const (
	CodeLedgerReadFailed      = "LEDGER_READ_FAILED"
	CodeAssetResolutionFailed = "ASSET_RESOLUTION_FAILED"
	CodeNotOwned              = "NOT_OWNED"
	CodeOwnershipStale        = "OWNERSHIP_STALE"
	CodeNoSession             = "NO_SESSION"
	CodeUnknownAccount        = "UNKNOWN_ACCOUNT"
	CodeInvalidAddress        = "INVALID_ADDRESS"
	CodeInvalidParameter      = "INVALID_PARAMETER"
	CodeTransactionFailed     = "TRANSACTION_FAILED"
	CodeUnsupported           = "UNSUPPORTED"
	CodeRateLimitExceeded     = "RATE_LIMIT_EXCEEDED"
	CodeInternalError         = "INTERNAL_ERROR"
)

// CategorizedError represents an error with category and HTTP status code
type CategorizedError struct {
	Category   ErrorCategory
	StatusCode int
	Code       string
	Message    string
	Details    map[string]interface{}
	Cause      error
}

// Error implements the error interface
func (e *CategorizedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *CategorizedError) Unwrap() error {
	return e.Cause
}

// ToServiceError converts to a ServiceError
func (e *CategorizedError) ToServiceError() *types.ServiceError {
	return &types.ServiceError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	}
}

// Ledger errors

// NewLedgerReadFailedError wraps a failed view call against the contract
func NewLedgerReadFailedError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryLedger,
		StatusCode: http.StatusBadGateway,
		Code:       CodeLedgerReadFailed,
		Message:    fmt.Sprintf("ledger read failed: %s", operation),
		Cause:      cause,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// NewAssetResolutionFailedError reports that an owned asset id could not be resolved
func NewAssetResolutionFailedError(account types.Account, assetID uint64, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryLedger,
		StatusCode: http.StatusBadGateway,
		Code:       CodeAssetResolutionFailed,
		Message:    fmt.Sprintf("failed to resolve asset %d owned by %s", assetID, account),
		Cause:      cause,
		Details: map[string]interface{}{
			"account": account,
			"assetId": assetID,
		},
	}
}

// NewTransactionFailedError reports a write that could not be submitted or confirmed
func NewTransactionFailedError(operation string, txHash string, cause error) *CategorizedError {
	details := map[string]interface{}{
		"operation": operation,
	}
	if txHash != "" {
		details["txHash"] = txHash
	}
	return &CategorizedError{
		Category:   CategoryTransaction,
		StatusCode: http.StatusBadGateway,
		Code:       CodeTransactionFailed,
		Message:    fmt.Sprintf("transaction failed: %s", operation),
		Cause:      cause,
		Details:    details,
	}
}

// Authorization errors

// NewNotOwnedError is a local rejection: the asset was never in the session's cached set
func NewNotOwnedError(account types.Account, assetID uint64) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryAuthorization,
		StatusCode: http.StatusForbidden,
		Code:       CodeNotOwned,
		Message:    fmt.Sprintf("asset %d is not owned by %s", assetID, account),
		Details: map[string]interface{}{
			"account": account,
			"assetId": assetID,
		},
	}
}

// NewOwnershipStaleError reports that a cached asset has since changed owner on-chain
func NewOwnershipStaleError(account types.Account, assetID uint64, currentOwner types.Account) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryAuthorization,
		StatusCode: http.StatusConflict,
		Code:       CodeOwnershipStale,
		Message:    fmt.Sprintf("asset %d is no longer owned by %s", assetID, account),
		Details: map[string]interface{}{
			"account":      account,
			"assetId":      assetID,
			"currentOwner": currentOwner,
		},
	}
}

// Session errors

// NewNoSessionError is returned when an operation needs a connected account
func NewNoSessionError() *CategorizedError {
	return &CategorizedError{
		Category:   CategorySession,
		StatusCode: http.StatusUnauthorized,
		Code:       CodeNoSession,
		Message:    "no account connected",
	}
}

// NewUnknownAccountError is returned when the signer holds no key for an account
// NewNotConnectedError reports a write for an account the signer is no
// longer connected to
func NewNotConnectedError(account types.Account) *CategorizedError {
	return &CategorizedError{
		Category:   CategorySession,
		StatusCode: http.StatusUnauthorized,
		Code:       CodeNoSession,
		Message:    fmt.Sprintf("account %s is not connected", account),
		Details: map[string]interface{}{
			"account": account,
		},
	}
}

func NewUnknownAccountError(account types.Account) *CategorizedError {
	return &CategorizedError{
		Category:   CategorySession,
		StatusCode: http.StatusNotFound,
		Code:       CodeUnknownAccount,
		Message:    fmt.Sprintf("no signing key for account %s", account),
		Details: map[string]interface{}{
			"account": account,
		},
	}
}

// Input errors

// NewInvalidAddressError creates an invalid address error
func NewInvalidAddressError(address string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryUserInput,
		StatusCode: http.StatusBadRequest,
		Code:       CodeInvalidAddress,
		Message:    fmt.Sprintf("invalid address format: %s", address),
		Details: map[string]interface{}{
			"address": address,
		},
	}
}

// NewInvalidParameterError creates an invalid parameter error
func NewInvalidParameterError(param string, reason string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryValidation,
		StatusCode: http.StatusBadRequest,
		Code:       CodeInvalidParameter,
		Message:    fmt.Sprintf("invalid parameter '%s': %s", param, reason),
		Details: map[string]interface{}{
			"parameter": param,
			"reason":    reason,
		},
	}
}

// NewUnsupportedError is returned when the ledger lacks an optional capability
func NewUnsupportedError(feature string) *CategorizedError {
	return &CategorizedError{
		Category:   CategorySystem,
		StatusCode: http.StatusNotImplemented,
		Code:       CodeUnsupported,
		Message:    fmt.Sprintf("not supported by this ledger: %s", feature),
	}
}

// NewRateLimitError creates a rate limit error
func NewRateLimitError(limit float64) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryRateLimit,
		StatusCode: http.StatusTooManyRequests,
		Code:       CodeRateLimitExceeded,
		Message:    "rate limit exceeded",
		Details: map[string]interface{}{
			"limit": limit,
		},
	}
}

// NewInternalError creates an internal error
func NewInternalError(message string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategorySystem,
		StatusCode: http.StatusInternalServerError,
		Code:       CodeInternalError,
		Message:    message,
		Cause:      cause,
	}
}

// Categorize categorizes an existing error
func Categorize(err error) *CategorizedError {
	if err == nil {
		return nil
	}

	var catErr *CategorizedError
	if stderrors.As(err, &catErr) {
		return catErr
	}

	var svcErr *types.ServiceError
	if stderrors.As(err, &svcErr) {
		return &CategorizedError{
			Category:   CategorySystem,
			StatusCode: http.StatusInternalServerError,
			Code:       svcErr.Code,
			Message:    svcErr.Message,
			Details:    svcErr.Details,
		}
	}

	return NewInternalError("unexpected error", err)
}

// HasCode reports whether err carries the given code anywhere in its chain
func HasCode(err error, code string) bool {
	var catErr *CategorizedError
	if !stderrors.As(err, &catErr) {
		return false
	}
	return catErr.Code == code
}

// IsRetryable determines if an error is retryable.
// Authorization denials are never retried automatically.
func IsRetryable(err error) bool {
	catErr := Categorize(err)
	if catErr == nil {
		return false
	}

	switch catErr.Category {
	case CategoryLedger:
		return true
	case CategorySystem:
		return catErr.StatusCode == http.StatusServiceUnavailable ||
			catErr.StatusCode == http.StatusGatewayTimeout
	default:
		return false
	}
}

// IsUserError determines if an error is a user error (4xx)
func IsUserError(err error) bool {
	catErr := Categorize(err)
	if catErr == nil {
		return false
	}

	return catErr.StatusCode >= 400 && catErr.StatusCode < 500
}
