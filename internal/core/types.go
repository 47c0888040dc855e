package core

import "labcore/pkg/domain"

type (
	EntityType         = domain.EntityType
	Entity             = domain.Entity
	Relationship       = domain.Relationship
	Event              = domain.Event
	MemberRole         = domain.MemberRole
	Change             = domain.Change
	Violation          = domain.Violation
	Result             = domain.Result
	Rule               = domain.Rule
	RulesEngine        = domain.RulesEngine
	RuleViolationError = domain.RuleViolationError
	Transaction        = domain.Transaction
	TransactionView    = domain.TransactionView
	PersistentStore    = domain.PersistentStore
)

const (
	SeverityBlock = domain.SeverityBlock
	SeverityWarn  = domain.SeverityWarn
)

const (
	ActionCreate = domain.ActionCreate
	ActionUpdate = domain.ActionUpdate
)

// NewRulesEngine constructs an empty rules engine.
func NewRulesEngine() *RulesEngine {
	return domain.NewRulesEngine()
}
