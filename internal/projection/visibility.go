package projection

import (
	"context"
	"fmt"
	"sort"

	"github.com/revpipe/revpipe/internal/domain"
)

// visibilitySet computes who may see a record owned by the given
// salesperson: the salesperson, their direct manager, and every
// super-admin. The result is deduplicated and sorted for stable storage.
func visibilitySet(ctx context.Context, profiles domain.UserProfileRepository, salesperson *domain.UserProfile) ([]string, error) {
	ids := make(map[string]bool)
	if salesperson != nil {
		ids[salesperson.ID] = true
		if salesperson.Hierarchy.Manager != nil {
			ids[salesperson.Hierarchy.Manager.UserID] = true
		}
	}

	admins, err := profiles.FindSuperAdmins(ctx)
	if err != nil {
		return nil, fmt.Errorf("load super admins: %w", err)
	}
	for _, a := range admins {
		ids[a.ID] = true
	}

	out := make([]string, 0, len(ids))
	for id := range ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}
