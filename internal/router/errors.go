package router

import "errors"

var (
	ErrNilNotification  = errors.New("notification cannot be nil")
	ErrUnknownPolicy    = errors.New("unknown recipient policy")
	ErrMissingRecipient = errors.New("single user policy missing recipient")
	ErrMissingRole      = errors.New("role policy missing role")
)
