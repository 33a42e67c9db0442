// internal/rules/validate.go
package rules

import (
	"errors"
	"fmt"
	"strings"

	"github.com/solatis/segmentkeeper/internal/types"
)

/*
 * Rule and segment validation.
 *
 * ValidateRule checks one rule: known field, operator inside the field's
 * allowed set, non-empty type-compatible value, legal connector.
 * ValidateGroups checks structure (>=1 group, >=1 rule per group, size
 * limits) plus every rule. ValidateDefinition adds the name requirements
 * that only apply to persisted segments; drafts under preview may be unnamed.
 *
 * Every problem is collected into types.ValidationErrors so the builder can
 * show all field-level messages at once.
 */

// ValidateRule returns nil or a *types.ValidationError naming rule.ID.
func ValidateRule(rule types.Rule) error {
	if errs := validateRule(rule, ""); len(errs) > 0 {
		return errs[0]
	}
	return nil
}

func validateRule(rule types.Rule, group types.GroupID) types.ValidationErrors {
	var errs types.ValidationErrors
	add := func(kind types.ValidationKind, field, msg string) {
		errs = append(errs, &types.ValidationError{
			Kind:    kind,
			RuleID:  rule.ID,
			GroupID: group,
			Field:   field,
			Message: msg,
		})
	}

	if rule.Connector != "" && !validConnector(rule.Connector) {
		add(types.InvalidConnector, "connector", fmt.Sprintf("connector %q must be AND or OR", rule.Connector))
	}

	kind := FieldValueKind(rule.Field)
	if kind == ValueUnspecified {
		add(types.InvalidField, "field", fmt.Sprintf("unknown field %q", rule.Field))
		return errs
	}

	if !IsAllowed(rule.Field, rule.Operator) {
		add(types.InvalidOperator, "operator", fmt.Sprintf("operator %q is not allowed for field %q", rule.Operator, rule.Field))
	}

	if _, err := Coerce(rule.Value, kind); err != nil {
		add(types.InvalidValue, "value", strings.TrimPrefix(err.Error(), types.ErrInvalidValue.Error()+": "))
	}

	return errs
}

// ValidateGroups checks the group structure and every rule.
func ValidateGroups(groups []types.RuleGroup) error {
	if errs := validateGroups(groups); len(errs) > 0 {
		return errs
	}
	return nil
}

func validateGroups(groups []types.RuleGroup) types.ValidationErrors {
	var errs types.ValidationErrors

	if len(groups) == 0 {
		return append(errs, &types.ValidationError{
			Kind:    types.EmptySegment,
			Field:   "filters",
			Message: "at least one rule group is required",
		})
	}
	if len(groups) > types.MaxGroups {
		errs = append(errs, &types.ValidationError{
			Kind:    types.TooLarge,
			Field:   "filters",
			Message: fmt.Sprintf("at most %d rule groups are allowed", types.MaxGroups),
		})
	}

	for _, g := range groups {
		if g.Connector != "" && !validConnector(g.Connector) {
			errs = append(errs, &types.ValidationError{
				Kind:    types.InvalidConnector,
				GroupID: g.ID,
				Field:   "connector",
				Message: fmt.Sprintf("connector %q must be AND or OR", g.Connector),
			})
		}
		if len(g.Rules) == 0 {
			errs = append(errs, &types.ValidationError{
				Kind:    types.EmptyGroup,
				GroupID: g.ID,
				Field:   "rules",
				Message: "at least one rule is required",
			})
			continue
		}
		if len(g.Rules) > types.MaxRulesPerGroup {
			errs = append(errs, &types.ValidationError{
				Kind:    types.TooLarge,
				GroupID: g.ID,
				Field:   "rules",
				Message: fmt.Sprintf("at most %d rules per group are allowed", types.MaxRulesPerGroup),
			})
		}
		for _, r := range g.Rules {
			errs = append(errs, validateRule(r, g.ID)...)
		}
	}
	return errs
}

// ValidateDefinition checks everything required before a segment is saved.
func ValidateDefinition(def *types.SegmentDefinition) error {
	if def == nil {
		return types.ValidationErrors{{Kind: types.EmptySegment, Field: "filters", Message: "definition is required"}}
	}

	var errs types.ValidationErrors
	name := strings.TrimSpace(def.Name)
	switch {
	case name == "":
		errs = append(errs, &types.ValidationError{Kind: types.InvalidName, Field: "name", Message: "name is required"})
	case len([]rune(name)) > types.MaxNameLength:
		errs = append(errs, &types.ValidationError{Kind: types.InvalidName, Field: "name", Message: fmt.Sprintf("name longer than %d characters", types.MaxNameLength)})
	}
	if len([]rune(def.Description)) > types.MaxDescriptionLength {
		errs = append(errs, &types.ValidationError{Kind: types.TooLarge, Field: "description", Message: fmt.Sprintf("description longer than %d characters", types.MaxDescriptionLength)})
	}

	errs = append(errs, validateGroups(def.Groups)...)
	if len(errs) > 0 {
		return errs
	}
	return nil
}

// State reports where def sits in the segment lifecycle.
// persisted is the stored version of the same id (nil if never saved).
func State(def, persisted *types.SegmentDefinition) types.SegmentState {
	if def == nil {
		return types.StateDeleted
	}
	if persisted != nil {
		if !persisted.UpdatedAt.Equal(def.UpdatedAt) || !sameGroups(def.Groups, persisted.Groups) ||
			def.Name != persisted.Name || def.Description != persisted.Description {
			return types.StateModified
		}
		return types.StatePersisted
	}
	if ValidateDefinition(def) == nil {
		return types.StateValid
	}
	return types.StateDraft
}

func sameGroups(a, b []types.RuleGroup) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ID != b[i].ID || a[i].Connector != b[i].Connector || len(a[i].Rules) != len(b[i].Rules) {
			return false
		}
		for j := range a[i].Rules {
			if a[i].Rules[j] != b[i].Rules[j] {
				return false
			}
		}
	}
	return true
}

// IsValidationError reports whether err carries validation failures.
func IsValidationError(err error) bool {
	var ve *types.ValidationError
	return errors.As(err, &ve)
}

func validConnector(c types.Connector) bool {
	return c == types.ConnectorAnd || c == types.ConnectorOr
}
