package presence

import "errors"

var (
	ErrNilChannel    = errors.New("channel cannot be nil")
	ErrInvalidUserID = errors.New("presence requires a valid user ID")
	ErrInvalidRole   = errors.New("presence requires a valid role")
)
