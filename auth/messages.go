package auth

import (
	"context"
	"errors"
	"net/http"

	"github.com/aws/smithy-go"
)

// Operation names a provider-side account operation.
type Operation string

const (
	OpSignUp  Operation = "sign_up"
	OpConfirm Operation = "confirm_sign_up"
	OpResend  Operation = "resend_confirmation_code"
)

type providerMessage struct {
	Message string
	Status  int
}

type opCode struct {
	op   Operation
	code string
}

var providerMessages = map[opCode]providerMessage{
	{OpSignUp, "UsernameExistsException"}:   {"User already exists with this email. Try logging in instead.", http.StatusBadRequest},
	{OpSignUp, "InvalidPasswordException"}:  {"Password does not meet requirements. Please use a stronger password with uppercase, lowercase, numbers, and symbols.", http.StatusBadRequest},
	{OpSignUp, "InvalidParameterException"}: {"Invalid email or password format", http.StatusBadRequest},
	{OpSignUp, "NotAuthorizedException"}:    {"Registration not authorized. This may be due to incorrect client configuration or missing SecretHash.", http.StatusUnauthorized},
	{OpSignUp, "TooManyRequestsException"}:  {"Too many registration attempts. Please try again later.", http.StatusTooManyRequests},

	{OpConfirm, "CodeMismatchException"}:          {"Invalid confirmation code. Please check the code and try again.", http.StatusBadRequest},
	{OpConfirm, "ExpiredCodeException"}:           {"Confirmation code has expired. Please request a new code.", http.StatusBadRequest},
	{OpConfirm, "NotAuthorizedException"}:         {"User is already confirmed or confirmation is not required.", http.StatusBadRequest},
	{OpConfirm, "UserNotFoundException"}:          {"User not found. Please register first.", http.StatusBadRequest},
	{OpConfirm, "LimitExceededException"}:         {"Too many attempts. Please wait before trying again.", http.StatusTooManyRequests},
	{OpConfirm, "TooManyRequestsException"}:       {"Too many requests. Please wait before trying again.", http.StatusTooManyRequests},
	{OpConfirm, "TooManyFailedAttemptsException"}: {"Too many failed attempts. Please request a new code.", http.StatusTooManyRequests},

	{OpResend, "UserNotFoundException"}:     {"User not found. Please register first.", http.StatusBadRequest},
	{OpResend, "InvalidParameterException"}: {"User is already confirmed.", http.StatusBadRequest},
	{OpResend, "TooManyRequestsException"}:  {"Too many requests. Please wait before requesting another code.", http.StatusTooManyRequests},
	{OpResend, "LimitExceededException"}:    {"Too many requests. Please wait before requesting another code.", http.StatusTooManyRequests},
}

var fallbackMessages = map[Operation]string{
	OpSignUp:  "Registration failed",
	OpConfirm: "Email confirmation failed",
	OpResend:  "Failed to resend confirmation code",
}

// errorCode extracts the provider error code, or "" for transport failures.
func errorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}

// mapProviderError translates a provider failure for op. Codes missing from
// the table get the operation's generic message and 400; failures without a
// provider code are reported as an unavailable upstream.
func mapProviderError(op Operation, err error) *AuthProviderError {
	code := errorCode(err)
	if m, ok := providerMessages[opCode{op, code}]; ok {
		return &AuthProviderError{Op: op, Code: code, Message: m.Message, Status: m.Status, Err: err}
	}
	if code != "" {
		return &AuthProviderError{Op: op, Code: code, Message: fallbackMessages[op], Status: http.StatusBadRequest, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &AuthProviderError{Op: op, Code: "Timeout", Message: "Identity provider timed out. Please try again.", Status: http.StatusGatewayTimeout, Err: err}
	}
	return &AuthProviderError{Op: op, Code: "ProviderUnavailable", Message: fallbackMessages[op], Status: http.StatusBadGateway, Err: err}
}
