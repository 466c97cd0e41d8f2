package auth

import "errors"

var (
	ErrStateMismatch       = errors.New("authorization state mismatch")
	ErrTokenExchangeFailed = errors.New("token exchange failed")
	ErrIDTokenInvalid      = errors.New("id_token verification failed")
	ErrAuthorizationDenied = errors.New("authorization denied by provider")
	ErrUnauthorized        = errors.New("access token rejected by provider")
	ErrProviderUnavailable = errors.New("identity provider unavailable")
	ErrUserInfoFailed      = errors.New("user info failed")
	ErrUnauthenticated     = errors.New("unauthenticated")
	ErrNotFound            = errors.New("not found")
	ErrUnknownRegistration = errors.New("unknown client registration")
	ErrStoreUnavailable    = errors.New("authorized client store unavailable")
)
