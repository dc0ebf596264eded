/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package apierror

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"
)

type ErrorCode string

const (
	ErrNotFound               ErrorCode = "NOT_FOUND"
	ErrConflict               ErrorCode = "CONFLICT"
	ErrBadRequest             ErrorCode = "BAD_REQUEST"
	ErrInvalidInput           ErrorCode = "INVALID_INPUT"
	ErrUnauthorized           ErrorCode = "UNAUTHORIZED"
	ErrForbidden              ErrorCode = "FORBIDDEN"
	ErrDuplicateInFlight      ErrorCode = "DUPLICATE_IN_FLIGHT"
	ErrInvalidStateTransition ErrorCode = "INVALID_STATE_TRANSITION"
	ErrInvalidDestination     ErrorCode = "INVALID_DESTINATION"
	ErrCurrencyMismatch       ErrorCode = "CURRENCY_MISMATCH"
	ErrInsufficientFunds      ErrorCode = "INSUFFICIENT_FUNDS"
	ErrTenantMismatch         ErrorCode = "TENANT_MISMATCH"
	ErrCooldownActive         ErrorCode = "COOLDOWN_ACTIVE"
	ErrSystemProtected        ErrorCode = "SYSTEM_PROTECTED"
	ErrProviderFailure        ErrorCode = "PROVIDER_FAILURE"
	ErrIntegrity              ErrorCode = "INTEGRITY_FAILURE"
	ErrInternalServer         ErrorCode = "INTERNAL_SERVER_ERROR"
)

// Kind partitions error codes by how a caller may react to them.
type Kind string

const (
	// KindValidation is malformed input. Never retried.
	KindValidation Kind = "validation"
	// KindConflict is a state or ownership conflict. Surfaced immediately, never retried.
	KindConflict Kind = "conflict"
	// KindTransient is a provider timeout or 5xx. Safe to retry.
	KindTransient Kind = "transient"
	// KindFatal needs a human: money may be in flight.
	KindFatal Kind = "fatal"
)

var codeKinds = map[ErrorCode]Kind{
	ErrNotFound:               KindValidation,
	ErrBadRequest:             KindValidation,
	ErrInvalidInput:           KindValidation,
	ErrInvalidDestination:     KindValidation,
	ErrInsufficientFunds:      KindValidation,
	ErrUnauthorized:           KindConflict,
	ErrForbidden:              KindConflict,
	ErrConflict:               KindConflict,
	ErrDuplicateInFlight:      KindConflict,
	ErrInvalidStateTransition: KindConflict,
	ErrCurrencyMismatch:       KindConflict,
	ErrTenantMismatch:         KindConflict,
	ErrCooldownActive:         KindConflict,
	ErrSystemProtected:        KindConflict,
	ErrProviderFailure:        KindTransient,
	ErrInternalServer:         KindTransient,
	ErrIntegrity:              KindFatal,
}

type APIError struct {
	Code    ErrorCode   `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func (e APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying error when Details carries one.
func (e APIError) Unwrap() error {
	if err, ok := e.Details.(error); ok {
		return err
	}
	return nil
}

// Kind reports the retry class of the error code.
func (e APIError) Kind() Kind {
	if k, ok := codeKinds[e.Code]; ok {
		return k
	}
	return KindTransient
}

func NewAPIError(code ErrorCode, message string, details interface{}) APIError {
	if details != nil {
		logrus.WithField("code", code).Error(details)
	}
	return APIError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// As extracts an APIError from err's chain.
func As(err error) (APIError, bool) {
	var apiErr APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return APIError{}, false
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code ErrorCode) bool {
	apiErr, ok := As(err)
	return ok && apiErr.Code == code
}

// KindOf classifies any error. Errors without a code are treated as transient.
func KindOf(err error) Kind {
	if apiErr, ok := As(err); ok {
		return apiErr.Kind()
	}
	return KindTransient
}

// IsRetryable is true only for transient failures.
func IsRetryable(err error) bool {
	return err != nil && KindOf(err) == KindTransient
}

func MapErrorToHTTPStatus(err error) int {
	apiErr, ok := As(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch apiErr.Code {
	case ErrNotFound:
		return http.StatusNotFound
	case ErrBadRequest, ErrInvalidInput, ErrInvalidDestination, ErrInsufficientFunds:
		return http.StatusBadRequest
	case ErrUnauthorized:
		return http.StatusUnauthorized
	case ErrForbidden, ErrTenantMismatch:
		return http.StatusForbidden
	case ErrConflict, ErrDuplicateInFlight, ErrInvalidStateTransition, ErrCurrencyMismatch:
		return http.StatusConflict
	case ErrCooldownActive:
		return http.StatusTooManyRequests
	case ErrSystemProtected:
		return http.StatusServiceUnavailable
	case ErrProviderFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
