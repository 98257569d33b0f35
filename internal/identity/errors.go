package identity

import "errors"

var (
	ErrInvalidLabel     = errors.New("identity: invalid label")
	ErrNotAuthenticated = errors.New("identity: not authenticated")
)
