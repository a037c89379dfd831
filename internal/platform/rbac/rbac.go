// Package rbac holds role checks evaluated from the authenticated context.
package rbac

import (
	"context"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"identity-gateway/internal/server/interceptors"
	userdomain "identity-gateway/internal/user/domain"
)

// RequireAdmin ensures the caller is authenticated with the ADMIN role.
// Returns the caller's user id on success; returns a gRPC error
// (Unauthenticated or PermissionDenied) on failure. The role comes from the
// access token claims, so a demotion takes effect at the next token issue.
func RequireAdmin(ctx context.Context) (userID string, err error) {
	userID, okUser := interceptors.GetUserID(ctx)
	role, okRole := interceptors.GetRole(ctx)
	if !okUser || userID == "" || !okRole || role == "" {
		return "", status.Error(codes.Unauthenticated, "authentication required")
	}
	if role != string(userdomain.RoleAdmin) {
		return "", status.Error(codes.PermissionDenied, "admin role required")
	}
	return userID, nil
}
