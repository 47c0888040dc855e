package core

import (
	"context"
	"fmt"

	"labcore/pkg/domain"
)

// LastAdminRule blocks any write that would leave an organization with no
// active admin. It fires on member deactivation and on demotion away from the
// admin role, evaluating against the post-change view.
func LastAdminRule() domain.Rule {
	return lastAdminRule{}
}

type lastAdminRule struct{}

func (lastAdminRule) Name() string { return "last_admin" }

func (lastAdminRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		if change.Kind != domain.KindMember || change.Action != domain.ActionUpdate {
			continue
		}
		before, okB := change.Before.(domain.OrganizationMember)
		after, okA := change.After.(domain.OrganizationMember)
		if !okB || !okA {
			continue
		}
		wasAdmin := before.IsActive && before.Role == domain.RoleAdmin
		isAdmin := after.IsActive && after.Role == domain.RoleAdmin
		if !wasAdmin || isAdmin {
			continue
		}
		if countActiveAdmins(view, after.OrganizationID) == 0 {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "last_admin",
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("organization %s would be left without an active admin", after.OrganizationID),
				Kind:     domain.KindMember,
				EntityID: after.ID,
			})
		}
	}
	return res, nil
}

func countActiveAdmins(view domain.RuleView, organizationID string) int {
	count := 0
	for _, member := range view.ListMembers(organizationID) {
		if member.IsActive && member.Role == domain.RoleAdmin {
			count++
		}
	}
	return count
}
