// Package identity resolves the caller of an HTTP request.
//
// Authentication happens upstream; the fronting gateway forwards the
// authenticated user id in the X-User-ID header. This package only maps that
// id onto a directory user and carries it through the request context.
package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"therapyline/pkg/interfaces"
	"therapyline/pkg/types"
)

// HeaderUserID carries the authenticated caller id.
const HeaderUserID = "X-User-ID"

var (
	ErrMissingCaller = errors.New("missing caller identity")
	ErrUnknownCaller = errors.New("caller is not known to the directory")
)

type contextKey struct{}

// WithUser returns a context carrying user.
func WithUser(ctx context.Context, user *types.User) context.Context {
	return context.WithValue(ctx, contextKey{}, user)
}

// UserFromContext returns the caller stored by WithUser.
func UserFromContext(ctx context.Context) (*types.User, bool) {
	user, ok := ctx.Value(contextKey{}).(*types.User)
	return user, ok && user != nil
}

// Resolve looks up the caller named by the request header.
func Resolve(r *http.Request, directory interfaces.Directory) (*types.User, error) {
	userID := strings.TrimSpace(r.Header.Get(HeaderUserID))
	if userID == "" || !types.IsValidUserID(userID) {
		return nil, ErrMissingCaller
	}

	user, err := directory.GetUser(r.Context(), userID)
	if errors.Is(err, interfaces.ErrUserNotFound) {
		return nil, ErrUnknownCaller
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve caller %s: %w", userID, err)
	}
	return user, nil
}

// HasRole reports whether user holds one of roles.
func HasRole(user *types.User, roles ...types.Role) bool {
	for _, role := range roles {
		if user.Role == role {
			return true
		}
	}
	return false
}
