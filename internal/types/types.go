// Package types provides domain models shared across segmentkeeper components.
//
// Segment definitions, rule groups and rules are value types: a RuleGroup or
// Rule has no identity outside the SegmentDefinition that owns it. Repositories
// and the HTTP layer copy them rather than sharing references.
//
// Vocabulary (FieldKind, OperatorKind, Connector) is string-typed so the JSON
// layout stays stable across releases. The allowed operator table lives in
// internal/rules.
package types

import "time"

// FieldKind names a contact attribute usable in a rule.
type FieldKind string

const (
	FieldPlatform     FieldKind = "platform"
	FieldLocation     FieldKind = "location"
	FieldEngagement   FieldKind = "engagement"
	FieldLastActivity FieldKind = "last_activity"
	FieldSignupDate   FieldKind = "signup_date"
	FieldEmailConsent FieldKind = "email_consent"
	FieldSMSConsent   FieldKind = "sms_consent"
)

// OperatorKind names the comparison applied to a field.
type OperatorKind string

const (
	OpIs          OperatorKind = "is"
	OpIsNot       OperatorKind = "is_not"
	OpContains    OperatorKind = "contains"
	OpGreaterThan OperatorKind = "greater_than"
	OpLessThan    OperatorKind = "less_than"
	OpEqual       OperatorKind = "equal"
	OpWithin      OperatorKind = "within"
	OpMoreThan    OperatorKind = "more_than"
)

// Connector joins a rule to the predicate accumulated before it, or a group
// to the groups before it. Empty means "use the default".
type Connector string

const (
	ConnectorAnd Connector = "AND"
	ConnectorOr  Connector = "OR"
)

// Contact is the read-only subject of evaluation.
// Attribute values are typed per field: string for text fields, float64 for
// numeric, time.Time for temporal and bool for boolean fields. A field absent
// from Attributes is missing and never matches any operator.
type Contact struct {
	ID          string
	WorkspaceID string
	Attributes  map[FieldKind]any
}

// Attribute returns the typed value of a field and whether it is present.
func (c Contact) Attribute(field FieldKind) (any, bool) {
	v, ok := c.Attributes[field]
	if !ok || v == nil {
		return nil, false
	}
	if t, isTime := v.(time.Time); isTime && t.IsZero() {
		return nil, false
	}
	return v, true
}

// Resource limits enforced by validation.
const (
	// MaxGroups caps groups per segment so compiled expressions stay small.
	MaxGroups = 32

	// MaxRulesPerGroup caps rules per group.
	MaxRulesPerGroup = 64

	// MaxNameLength bounds segment names shown in campaign pickers.
	MaxNameLength = 128

	// MaxDescriptionLength bounds segment descriptions.
	MaxDescriptionLength = 1024

	// MaxRuleValueLength bounds free-text rule values.
	MaxRuleValueLength = 256

	// MaxSampleSize bounds the preview member list returned with a count.
	MaxSampleSize = 500
)
