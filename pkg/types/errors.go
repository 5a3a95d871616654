package types

import "errors"

var (
	ErrInvalidUserID       = errors.New("user ID must be 1-50 characters, alphanumeric + underscore/hyphen only")
	ErrInvalidRequestID    = errors.New("request ID must be a valid UUID")
	ErrInvalidRole         = errors.New("role must be one of child, parent, therapist, admin")
	ErrDescriptionTooLong  = errors.New("description exceeds 1000 characters")
	ErrDescriptionEncoding = errors.New("description must be valid UTF-8")
	ErrInvalidUserName     = errors.New("user name must be 1-200 characters")
	ErrInvalidRegistration = errors.New("register frame requires user_id and role")
)
