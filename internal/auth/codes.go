package auth

import "errors"

// ErrorCode maps an error to a short machine-readable code used in redirect
// query strings and metric labels.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrStateMismatch):
		return "state_mismatch"
	case errors.Is(err, ErrTokenExchangeFailed):
		return "token_exchange_failed"
	case errors.Is(err, ErrIDTokenInvalid):
		return "id_token_invalid"
	case errors.Is(err, ErrAuthorizationDenied):
		return "authorization_denied"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrProviderUnavailable):
		return "provider_unavailable"
	case errors.Is(err, ErrUserInfoFailed):
		return "user_info_failed"
	case errors.Is(err, ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrUnknownRegistration):
		return "unknown_registration"
	case errors.Is(err, ErrStoreUnavailable):
		return "store_unavailable"
	default:
		return "internal_error"
	}
}

var errorMessages = map[string]string{
	"state_mismatch":        "The sign-in request could not be matched to this browser. Please try again.",
	"token_exchange_failed": "The identity provider did not accept the authorization code.",
	"id_token_invalid":      "The identity provider returned an identity token that failed verification.",
	"authorization_denied":  "Sign-in was cancelled or denied at the identity provider.",
	"unauthorized":          "The identity provider rejected the stored access token. Sign in again to refresh it.",
	"provider_unavailable":  "The identity provider is currently unavailable. Please retry shortly.",
	"user_info_failed":      "The identity provider returned an unusable user info response.",
	"unknown_registration":  "Unknown identity provider.",
	"store_unavailable":     "Sign-in data is temporarily unavailable. Please retry shortly.",
}

// ErrorMessage returns a user-facing sentence for a code from ErrorCode.
func ErrorMessage(code string) string {
	if msg, ok := errorMessages[code]; ok {
		return msg
	}
	return "Something went wrong while signing in."
}
