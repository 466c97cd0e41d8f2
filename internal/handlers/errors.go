package handlers

import (
	"errors"
	"net/http"

	"github.com/marcogenualdo/authorize/internal/auth"
)

// statusFor maps a flow or userinfo error to the HTTP status of the error page.
func statusFor(err error) int {
	switch {
	case errors.Is(err, auth.ErrStateMismatch):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, auth.ErrProviderUnavailable), errors.Is(err, auth.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, auth.ErrUserInfoFailed):
		return http.StatusBadGateway
	case errors.Is(err, auth.ErrUnknownRegistration):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// retryAtLogin reports whether a failed callback should send the browser back
// to the login page with an error message instead of an error page.
func retryAtLogin(err error) bool {
	return errors.Is(err, auth.ErrTokenExchangeFailed) ||
		errors.Is(err, auth.ErrIDTokenInvalid) ||
		errors.Is(err, auth.ErrAuthorizationDenied)
}
