package request

import "errors"

// Domain errors returned by the Engine. Store and directory failures never
// surface as these; they are wrapped and reported as internal errors.
var (
	ErrConflict      = errors.New("you already have an active request")
	ErrInvalidState  = errors.New("this request is no longer available")
	ErrNotOwner      = errors.New("you are not allowed to act on this request")
	ErrNotFound      = errors.New("request not found")
	ErrNoChildLinked = errors.New("no child linked to account")
	ErrInvalidInput  = errors.New("invalid request input")
)
