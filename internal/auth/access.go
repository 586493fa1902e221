package auth

import (
	"context"
	"errors"
	"fmt"

	"wallo.org/internal/moderation"
)

// CanModerate is the access gate for a platform's cases: the user must be a
// registered moderator of the platform or the admin of its organization. It
// returns the platform so callers do not look it up twice.
func CanModerate(ctx context.Context, store moderation.Store, platformID, userID string) (moderation.Platform, error) {
	if userID == "" {
		return moderation.Platform{}, ErrUnauthorized
	}

	platform, err := store.PlatformByID(ctx, platformID)
	if err != nil {
		return moderation.Platform{}, err
	}

	isModerator, err := store.IsPlatformModerator(ctx, platformID, userID)
	if err != nil {
		return moderation.Platform{}, fmt.Errorf("moderator lookup: %w", err)
	}
	if isModerator {
		return platform, nil
	}

	admin, err := IsOrganizationAdmin(ctx, store, platform.OrganizationID, userID)
	if err != nil {
		return moderation.Platform{}, err
	}
	if !admin {
		return moderation.Platform{}, ErrForbidden
	}
	return platform, nil
}

// IsOrganizationAdmin reports whether the user administers the organization.
func IsOrganizationAdmin(ctx context.Context, store moderation.Store, orgID, userID string) (bool, error) {
	org, err := store.OrganizationByID(ctx, orgID)
	if errors.Is(err, moderation.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("organization lookup: %w", err)
	}
	return org.AdminID == userID, nil
}
