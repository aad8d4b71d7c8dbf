package models

import (
	"errors"
	"fmt"
)

// Error codes used across the service layer. Presentation code switches on
// these to pick user-facing messaging; services never render UI strings.
const (
	CodeNotAuthenticated    = "NOT_AUTHENTICATED"
	CodeInvalidCredentials  = "INVALID_CREDENTIALS"
	CodeEmailNotVerified    = "EMAIL_NOT_VERIFIED"
	CodeEmailExists         = "EMAIL_EXISTS"
	CodeNotAuthorized       = "NOT_AUTHORIZED"
	CodeNotFound            = "NOT_FOUND"
	CodeConflict            = "CONFLICT"
	CodeInsufficientBalance = "INSUFFICIENT_BALANCE"
	CodeValidation          = "VALIDATION_ERROR"
	CodeTransport           = "TRANSPORT_ERROR"
	CodeDecode              = "DECODE_ERROR"
)

// AppError represents a custom application error.
type AppError struct {
	Code    string
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is makes two AppErrors with the same code match under errors.Is,
// so sentinel-style comparisons work across wrapping.
func (e *AppError) Is(target error) bool {
	var appErr *AppError
	if errors.As(target, &appErr) {
		return e.Code == appErr.Code
	}
	return false
}

// Predefined error constructors
func NewNotAuthenticatedError() *AppError {
	return &AppError{Code: CodeNotAuthenticated, Message: "No authenticated session"}
}

func NewInvalidCredentialsError() *AppError {
	return &AppError{Code: CodeInvalidCredentials, Message: "Invalid email or password"}
}

func NewEmailNotVerifiedError() *AppError {
	return &AppError{Code: CodeEmailNotVerified, Message: "Email address has not been verified"}
}

func NewEmailExistsError() *AppError {
	return &AppError{Code: CodeEmailExists, Message: "An account with this email already exists"}
}

func NewNotAuthorizedError(message string) *AppError {
	return &AppError{Code: CodeNotAuthorized, Message: message}
}

func NewNotFoundError(resource string, id any) *AppError {
	return &AppError{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s with ID %v not found", resource, id),
	}
}

func NewConflictError(message string) *AppError {
	return &AppError{Code: CodeConflict, Message: message}
}

func NewInsufficientBalanceError(requested, available int) *AppError {
	return &AppError{
		Code:    CodeInsufficientBalance,
		Message: fmt.Sprintf("insufficient balance: requested %d, available %d", requested, available),
	}
}

func NewValidationError(message string) *AppError {
	return &AppError{Code: CodeValidation, Message: message}
}

func NewTransportError(err error) *AppError {
	return &AppError{Code: CodeTransport, Message: "Request failed", Err: err}
}

func NewDecodeError(err error) *AppError {
	return &AppError{Code: CodeDecode, Message: "Unexpected response shape", Err: err}
}

// HasCode reports whether err carries the given application error code.
func HasCode(err error, code string) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}

func IsNotAuthenticated(err error) bool    { return HasCode(err, CodeNotAuthenticated) }
func IsInvalidCredentials(err error) bool  { return HasCode(err, CodeInvalidCredentials) }
func IsEmailNotVerified(err error) bool    { return HasCode(err, CodeEmailNotVerified) }
func IsEmailExists(err error) bool         { return HasCode(err, CodeEmailExists) }
func IsNotAuthorized(err error) bool       { return HasCode(err, CodeNotAuthorized) }
func IsNotFound(err error) bool            { return HasCode(err, CodeNotFound) }
func IsConflict(err error) bool            { return HasCode(err, CodeConflict) }
func IsInsufficientBalance(err error) bool { return HasCode(err, CodeInsufficientBalance) }
func IsValidation(err error) bool          { return HasCode(err, CodeValidation) }
