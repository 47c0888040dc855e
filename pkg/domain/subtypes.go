package domain

import "fmt"

// A subtype is a fixed entity_type plus a contract of required property keys.
// The store does not validate those keys; the typed constructors below fail
// fast on a missing contract instead of defaulting at read time.

func requireType(e Entity, want EntityType) error {
	if e.EntityType != want {
		return ConflictError{Kind: "entity", Reason: fmt.Sprintf("entity %s is %s, not %s", e.ID, e.EntityType, want)}
	}
	return nil
}

func requireStringProperty(e Entity, key string) (string, error) {
	v, ok := e.GetProperty(key)
	if !ok {
		return "", BusinessRuleViolationError{Rule: "subtype_contract", Reason: fmt.Sprintf("%s %s missing required property %q", e.EntityType, e.ID, key)}
	}
	s, ok := v.(string)
	if !ok {
		return "", BusinessRuleViolationError{Rule: "subtype_contract", Reason: fmt.Sprintf("%s %s property %q is not a string", e.EntityType, e.ID, key)}
	}
	return s, nil
}

// User is the typed view over a "user" entity.
type User struct {
	Entity
	Email string
}

// AsUser validates the user contract (email) and narrows the entity.
func AsUser(e Entity) (User, error) {
	if err := requireType(e, EntityUser); err != nil {
		return User{}, err
	}
	email, err := requireStringProperty(e, "email")
	if err != nil {
		return User{}, err
	}
	return User{Entity: e, Email: email}, nil
}

// Organization is the typed view over an "organization" entity.
type Organization struct {
	Entity
	ContactEmail string
}

// AsOrganization validates the organization contract and narrows the entity.
func AsOrganization(e Entity) (Organization, error) {
	if err := requireType(e, EntityOrganization); err != nil {
		return Organization{}, err
	}
	contact, err := requireStringProperty(e, "contact_email")
	if err != nil {
		return Organization{}, err
	}
	return Organization{Entity: e, ContactEmail: contact}, nil
}

// Device is the typed view over a "device" entity.
type Device struct {
	Entity
	Serial string
}

// AsDevice validates the device contract (serial) and narrows the entity.
func AsDevice(e Entity) (Device, error) {
	if err := requireType(e, EntityDevice); err != nil {
		return Device{}, err
	}
	serial, err := requireStringProperty(e, "serial")
	if err != nil {
		return Device{}, err
	}
	return Device{Entity: e, Serial: serial}, nil
}

// Project is the typed view over a "project" entity.
type Project struct {
	Entity
	Code string
}

// AsProject validates the project contract (code) and narrows the entity.
func AsProject(e Entity) (Project, error) {
	if err := requireType(e, EntityProject); err != nil {
		return Project{}, err
	}
	code, err := requireStringProperty(e, "code")
	if err != nil {
		return Project{}, err
	}
	return Project{Entity: e, Code: code}, nil
}

// BillingAccount is the typed view over a "billing_account" entity.
type BillingAccount struct {
	Entity
	Currency string
}

// AsBillingAccount validates the billing account contract and narrows the entity.
func AsBillingAccount(e Entity) (BillingAccount, error) {
	if err := requireType(e, EntityBillingAccount); err != nil {
		return BillingAccount{}, err
	}
	currency, err := requireStringProperty(e, "currency")
	if err != nil {
		return BillingAccount{}, err
	}
	return BillingAccount{Entity: e, Currency: currency}, nil
}

// Subscription is the typed view over a "subscription" entity.
type Subscription struct {
	Entity
	Plan string
}

// AsSubscription validates the subscription contract (plan) and narrows the entity.
func AsSubscription(e Entity) (Subscription, error) {
	if err := requireType(e, EntitySubscription); err != nil {
		return Subscription{}, err
	}
	plan, err := requireStringProperty(e, "plan")
	if err != nil {
		return Subscription{}, err
	}
	return Subscription{Entity: e, Plan: plan}, nil
}

// AlertCondition names a comparison evaluated against a stored threshold.
type AlertCondition string

// Supported alert rule comparisons.
const (
	ConditionGreaterThan AlertCondition = "greater_than"
	ConditionLessThan    AlertCondition = "less_than"
	ConditionEquals      AlertCondition = "equals"
	ConditionNotEquals   AlertCondition = "not_equals"
)

// AlertRule is the typed view over an "alert_rule" entity. It is a boolean
// enabled/disabled toggle, not a terminal-state workflow.
type AlertRule struct {
	Entity
	Metric    string
	Condition AlertCondition
	Threshold float64
	Enabled   bool
}

// AsAlertRule validates the alert rule contract and narrows the entity.
func AsAlertRule(e Entity) (AlertRule, error) {
	if err := requireType(e, EntityAlertRule); err != nil {
		return AlertRule{}, err
	}
	metric, err := requireStringProperty(e, "metric")
	if err != nil {
		return AlertRule{}, err
	}
	condition, err := requireStringProperty(e, "condition")
	if err != nil {
		return AlertRule{}, err
	}
	switch AlertCondition(condition) {
	case ConditionGreaterThan, ConditionLessThan, ConditionEquals, ConditionNotEquals:
	default:
		return AlertRule{}, BusinessRuleViolationError{Rule: "subtype_contract", Reason: fmt.Sprintf("alert_rule %s has unknown condition %q", e.ID, condition)}
	}
	threshold, ok := e.GetProperty("threshold")
	if !ok {
		return AlertRule{}, BusinessRuleViolationError{Rule: "subtype_contract", Reason: fmt.Sprintf("alert_rule %s missing required property \"threshold\"", e.ID)}
	}
	value, ok := threshold.(float64)
	if !ok {
		return AlertRule{}, BusinessRuleViolationError{Rule: "subtype_contract", Reason: fmt.Sprintf("alert_rule %s threshold is not numeric", e.ID)}
	}
	enabled, _ := e.GetProperty("enabled")
	enabledBool, ok := enabled.(bool)
	if !ok {
		enabledBool = false
	}
	return AlertRule{
		Entity:    e,
		Metric:    metric,
		Condition: AlertCondition(condition),
		Threshold: value,
		Enabled:   enabledBool,
	}, nil
}

// CheckCondition evaluates the rule against an observed value. The external
// evaluator decides whether to append an alert.triggered event.
func (r AlertRule) CheckCondition(value float64) bool {
	switch r.Condition {
	case ConditionGreaterThan:
		return value > r.Threshold
	case ConditionLessThan:
		return value < r.Threshold
	case ConditionEquals:
		return value == r.Threshold
	case ConditionNotEquals:
		return value != r.Threshold
	default:
		return false
	}
}
