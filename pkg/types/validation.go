package types

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

// DefaultDescription is stored when a request is created without one.
const DefaultDescription = "No description"

// MaxDescriptionLength bounds the free-text context of a request, in runes.
const MaxDescriptionLength = 1000

var userIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// IsValidUserID checks if a user ID meets format requirements
func IsValidUserID(userID string) bool {
	if len(userID) < 1 || len(userID) > 50 {
		return false
	}
	return userIDRegex.MatchString(userID)
}

// IsValidRequestID checks that a request ID is a UUID as generated on create.
func IsValidRequestID(requestID string) bool {
	_, err := uuid.Parse(requestID)
	return err == nil
}

// IsValidRole checks if the role is a known directory role.
func IsValidRole(role Role) bool {
	switch role {
	case RoleChild, RoleParent, RoleTherapist, RoleAdmin:
		return true
	default:
		return false
	}
}

// NormalizeDescription trims the description and applies the default.
func NormalizeDescription(description string) (string, error) {
	if !utf8.ValidString(description) {
		return "", ErrDescriptionEncoding
	}
	description = strings.TrimSpace(description)
	if description == "" {
		return DefaultDescription, nil
	}
	if utf8.RuneCountInString(description) > MaxDescriptionLength {
		return "", ErrDescriptionTooLong
	}
	return description, nil
}

// Validate ensures the user meets directory requirements
func (u *User) Validate() error {
	if !IsValidUserID(u.ID) {
		return ErrInvalidUserID
	}
	if !IsValidRole(u.Role) {
		return ErrInvalidRole
	}
	if len(u.Name) < 1 || len(u.Name) > 200 {
		return ErrInvalidUserName
	}
	return nil
}

// Validate ensures a register handshake names a valid user and role.
func (p *RegisterPayload) Validate() error {
	if p.UserID == "" || p.Role == "" {
		return ErrInvalidRegistration
	}
	if !IsValidUserID(p.UserID) {
		return ErrInvalidUserID
	}
	if !IsValidRole(p.Role) {
		return ErrInvalidRole
	}
	return nil
}
