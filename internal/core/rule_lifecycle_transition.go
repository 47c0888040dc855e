package core

import (
	"context"
	"fmt"

	"labcore/pkg/domain"
)

// LifecycleTransitionRule blocks illegal state transitions at commit time.
// The service guards transitions up front; this rule catches writes that
// reach the store through another path.
func LifecycleTransitionRule() domain.Rule {
	return lifecycleTransitionRule{}
}

type lifecycleTransitionRule struct{}

func (lifecycleTransitionRule) Name() string { return "lifecycle_transition" }

func (lifecycleTransitionRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		switch change.Kind {
		case domain.KindInvitation:
			res.Violations = append(res.Violations, checkInvitation(change)...)
		case domain.KindRemovalRequest:
			res.Violations = append(res.Violations, checkRemoval(change)...)
		default:
			res.Violations = append(res.Violations, checkEntityLifecycle(change)...)
		}
	}
	return res, nil
}

func checkEntityLifecycle(change domain.Change) []domain.Violation {
	machine, ok := domain.MachineFor(change.Kind)
	if !ok {
		return nil
	}
	after, ok := change.After.(domain.Entity)
	if !ok {
		return nil
	}
	if !machine.ValidState(after.Status) {
		return []domain.Violation{{
			Rule:     "lifecycle_transition",
			Severity: domain.SeverityBlock,
			Message:  fmt.Sprintf("%s %s is set to unknown state %q", change.Kind, after.ID, after.Status),
			Kind:     change.Kind,
			EntityID: after.ID,
		}}
	}
	if change.Action != domain.ActionUpdate {
		return nil
	}
	before, ok := change.Before.(domain.Entity)
	if !ok || before.Status == after.Status {
		return nil
	}
	if !machine.Can(before.Status, after.Status) {
		return []domain.Violation{{
			Rule:     "lifecycle_transition",
			Severity: domain.SeverityBlock,
			Message:  fmt.Sprintf("%s %s cannot move %s -> %s", change.Kind, after.ID, before.Status, after.Status),
			Kind:     change.Kind,
			EntityID: after.ID,
		}}
	}
	return nil
}

func checkInvitation(change domain.Change) []domain.Violation {
	if change.Action != domain.ActionUpdate {
		return nil
	}
	before, okB := change.Before.(domain.OrganizationInvitation)
	after, okA := change.After.(domain.OrganizationInvitation)
	if !okB || !okA || before.Status == after.Status {
		return nil
	}
	if !domain.InvitationMachine().Can(string(before.Status), string(after.Status)) {
		return []domain.Violation{{
			Rule:     "lifecycle_transition",
			Severity: domain.SeverityBlock,
			Message:  fmt.Sprintf("invitation %s cannot move %s -> %s", after.ID, before.Status, after.Status),
			Kind:     domain.KindInvitation,
			EntityID: after.ID,
		}}
	}
	return nil
}

func checkRemoval(change domain.Change) []domain.Violation {
	if change.Action != domain.ActionUpdate {
		return nil
	}
	before, okB := change.Before.(domain.MembershipRemovalRequest)
	after, okA := change.After.(domain.MembershipRemovalRequest)
	if !okB || !okA || before.Status == after.Status {
		return nil
	}
	if !domain.RemovalMachine().Can(string(before.Status), string(after.Status)) {
		return []domain.Violation{{
			Rule:     "lifecycle_transition",
			Severity: domain.SeverityBlock,
			Message:  fmt.Sprintf("removal request %s cannot move %s -> %s", after.ID, before.Status, after.Status),
			Kind:     domain.KindRemovalRequest,
			EntityID: after.ID,
		}}
	}
	return nil
}
