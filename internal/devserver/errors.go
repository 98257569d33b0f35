package devserver

import "errors"

var (
	ErrInvalidToken       = errors.New("devserver: invalid token")
	ErrInvalidCredentials = errors.New("devserver: invalid credentials")
	ErrNotFound           = errors.New("devserver: not found")
	ErrInvalidInput       = errors.New("devserver: invalid input")
)
