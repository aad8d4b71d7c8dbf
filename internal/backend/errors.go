package backend

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/kianjain/shisuka/internal/models"
)

// PostgREST error codes the client cares about.
const (
	pgrstNoRows         = "PGRST116" // .Single() matched zero rows
	pgUniqueViolation   = "23505"
	pgCheckViolation    = "23514"
	pgRaiseException    = "P0001" // RAISE EXCEPTION in a stored procedure
	insufficientBalance = "insufficient_balance"
)

type restError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details"`
	Hint    string `json:"hint"`
}

// mapRESTError converts a PostgREST/storage failure response into an AppError.
func mapRESTError(status int, body []byte) error {
	var re restError
	_ = json.Unmarshal(body, &re)
	msg := strings.ToLower(re.Message)

	switch {
	case re.Code == pgrstNoRows:
		return &models.AppError{Code: models.CodeNotFound, Message: "Record not found"}
	case re.Code == pgUniqueViolation:
		return models.NewConflictError(re.Message)
	case strings.Contains(msg, insufficientBalance),
		re.Code == pgRaiseException && strings.Contains(msg, "insufficient"):
		return &models.AppError{Code: models.CodeInsufficientBalance, Message: re.Message}
	case re.Code == pgCheckViolation && strings.Contains(msg, "balance"):
		return &models.AppError{Code: models.CodeInsufficientBalance, Message: re.Message}
	}

	switch status {
	case http.StatusUnauthorized:
		return models.NewNotAuthenticatedError()
	case http.StatusForbidden:
		return models.NewNotAuthorizedError(nonEmpty(re.Message, "Not authorized"))
	case http.StatusNotFound:
		return &models.AppError{Code: models.CodeNotFound, Message: nonEmpty(re.Message, "Record not found")}
	case http.StatusConflict:
		return models.NewConflictError(nonEmpty(re.Message, "Conflict"))
	}

	return &models.AppError{
		Code:    models.CodeTransport,
		Message: nonEmpty(re.Message, fmt.Sprintf("backend error: status %d", status)),
	}
}

type authError struct {
	Code             any    `json:"code"` // numeric in some responses, string in others
	ErrorCode        string `json:"error_code"`
	Msg              string `json:"msg"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func (e authError) text() string {
	for _, s := range []string{e.Msg, e.ErrorDescription, e.Error} {
		if s != "" {
			return s
		}
	}
	return ""
}

// mapAuthError converts an auth service failure response into an AppError.
func mapAuthError(status int, body []byte) error {
	var ae authError
	_ = json.Unmarshal(body, &ae)
	text := ae.text()
	lower := strings.ToLower(text)

	switch {
	case ae.ErrorCode == "email_not_confirmed", strings.Contains(lower, "email not confirmed"):
		return models.NewEmailNotVerifiedError()
	case ae.ErrorCode == "user_already_exists", ae.ErrorCode == "email_exists",
		strings.Contains(lower, "already registered"), strings.Contains(lower, "already exists"):
		return models.NewEmailExistsError()
	case ae.Error == "invalid_grant", ae.ErrorCode == "invalid_credentials",
		strings.Contains(lower, "invalid login credentials"):
		return models.NewInvalidCredentialsError()
	}

	switch status {
	case http.StatusUnauthorized:
		return models.NewNotAuthenticatedError()
	case http.StatusForbidden:
		return models.NewNotAuthorizedError(nonEmpty(text, "Not authorized"))
	case http.StatusUnprocessableEntity:
		return models.NewValidationError(nonEmpty(text, "Invalid sign-up data"))
	}

	return &models.AppError{
		Code:    models.CodeTransport,
		Message: nonEmpty(text, fmt.Sprintf("auth error: status %d", status)),
	}
}

func nonEmpty(s, fallback string) string {
	if s != "" {
		return s
	}
	return fallback
}
