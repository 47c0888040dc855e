package core

import (
	"context"
	"fmt"

	"labcore/pkg/domain"
)

// ArchiveDependentsRule blocks soft-deleting an entity that still has live
// dependents: open relationship edges referencing it, or active members when
// the entity is an organization.
func ArchiveDependentsRule() domain.Rule {
	return archiveDependentsRule{}
}

type archiveDependentsRule struct{}

func (archiveDependentsRule) Name() string { return "archive_dependents" }

func (archiveDependentsRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		if change.Action != domain.ActionUpdate {
			continue
		}
		before, okB := change.Before.(domain.Entity)
		after, okA := change.After.(domain.Entity)
		if !okB || !okA || before.Archived() || !after.Archived() {
			continue
		}
		if open := openEdgeCount(view, after.ID); open > 0 {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "archive_dependents",
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("%s %s still has %d open relationship(s)", after.EntityType, after.ID, open),
				Kind:     after.EntityType,
				EntityID: after.ID,
			})
			continue
		}
		if after.EntityType != domain.EntityOrganization {
			continue
		}
		active := 0
		for _, member := range view.ListMembers(after.ID) {
			if member.IsActive {
				active++
			}
		}
		if active > 0 {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "archive_dependents",
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("organization %s still has %d active member(s)", after.ID, active),
				Kind:     domain.EntityOrganization,
				EntityID: after.ID,
			})
		}
	}
	return res, nil
}

func openEdgeCount(view domain.RuleView, entityID string) int {
	open := 0
	for _, edge := range view.ListRelationships(domain.RelationshipFilter{FromEntity: entityID}) {
		if edge.ValidTo == nil {
			open++
		}
	}
	for _, edge := range view.ListRelationships(domain.RelationshipFilter{ToEntity: entityID}) {
		if edge.ValidTo == nil {
			open++
		}
	}
	return open
}
