package auth

import (
	"errors"
)

var (
	ErrInvalidParameter    = errors.New("invalid parameter")
	ErrNilParameter        = errors.New("nil parameter")
	ErrInvalidCACert       = errors.New("invalid CA certificate")
	ErrIDGeneratorFailed   = errors.New("id generation failed")
	ErrMissingIDToken      = errors.New("id_token is missing")
	ErrInvalidNonce        = errors.New("invalid nonce")
	ErrInvalidAudience     = errors.New("invalid audience")
	ErrNotFound            = errors.New("not found")
	ErrNoSession           = errors.New("no session")
	ErrInvalidTransition   = errors.New("invalid flow transition")
	ErrAlreadyExchanged    = errors.New("authorization code already exchanged")
	ErrMissingRefreshToken = errors.New("refresh token is missing")
)
