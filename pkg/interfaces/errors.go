package interfaces

import "errors"

// Store and directory errors shared by every backend.
var (
	ErrRequestNotFound     = errors.New("session request not found")
	ErrActiveRequestExists = errors.New("child already has an active session request")
	ErrTransitionRejected  = errors.New("session request transition rejected")
	ErrUserNotFound        = errors.New("user not found")
)
