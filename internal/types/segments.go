// internal/types/segments.go
package types

import "time"

/*
 * Segment aggregate.
 *
 * SegmentDefinition owns an ordered list of RuleGroups, each owning an
 * ordered list of Rules. The JSON layout is the persisted layout: keys
 * name, description, filters, estimatedCount, createdAt and updatedAt must
 * never be renamed.
 *
 * Connector semantics:
 *   - Rule.Connector joins the rule to the predicate accumulated so far
 *     inside its group (ignored on the first rule).
 *   - RuleGroup.Connector joins the group to the groups before it
 *     (ignored on the first group).
 */

// Rule is a single field/operator/value predicate.
type Rule struct {
	ID        RuleID       `json:"id"`
	Field     FieldKind    `json:"field"`
	Operator  OperatorKind `json:"operator"`
	Value     string       `json:"value"`
	Connector Connector    `json:"connector,omitempty"`
}

// RuleGroup is an ordered, non-empty set of rules folded left to right.
type RuleGroup struct {
	ID        GroupID   `json:"id"`
	Rules     []Rule    `json:"rules"`
	Connector Connector `json:"connector,omitempty"`
}

// SegmentDefinition is the unit of persistence.
// EstimatedCount is nil until a count has been computed successfully.
type SegmentDefinition struct {
	ID             SegmentID   `json:"id,omitempty"`
	WorkspaceID    string      `json:"workspaceId,omitempty"`
	Name           string      `json:"name"`
	Description    string      `json:"description"`
	Groups         []RuleGroup `json:"filters"`
	EstimatedCount *int        `json:"estimatedCount"`
	EstimatedAt    *time.Time  `json:"estimatedAt,omitempty"`
	CreatedAt      time.Time   `json:"createdAt"`
	UpdatedAt      time.Time   `json:"updatedAt"`
}

// SegmentSummary is the List projection of a definition.
type SegmentSummary struct {
	ID             SegmentID  `json:"id"`
	Name           string     `json:"name"`
	Description    string     `json:"description"`
	GroupCount     int        `json:"groupCount"`
	RuleCount      int        `json:"ruleCount"`
	EstimatedCount *int       `json:"estimatedCount"`
	EstimatedAt    *time.Time `json:"estimatedAt,omitempty"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// SegmentState is the lifecycle position of a definition.
type SegmentState string

const (
	StateDraft     SegmentState = "draft"
	StateValid     SegmentState = "valid"
	StatePersisted SegmentState = "persisted"
	StateModified  SegmentState = "modified"
	StateDeleted   SegmentState = "deleted"
)

// Clone returns a deep copy. Groups and rules are never shared between copies.
func (d *SegmentDefinition) Clone() *SegmentDefinition {
	if d == nil {
		return nil
	}
	out := *d
	out.Groups = CloneGroups(d.Groups)
	if d.EstimatedCount != nil {
		n := *d.EstimatedCount
		out.EstimatedCount = &n
	}
	if d.EstimatedAt != nil {
		t := *d.EstimatedAt
		out.EstimatedAt = &t
	}
	return &out
}

// CloneGroups deep-copies a group list.
func CloneGroups(groups []RuleGroup) []RuleGroup {
	if groups == nil {
		return nil
	}
	out := make([]RuleGroup, len(groups))
	for i, g := range groups {
		out[i] = g
		out[i].Rules = append([]Rule(nil), g.Rules...)
	}
	return out
}

// AssignIDs gives stable generated ids to groups and rules that lack one.
// Existing ids are preserved so UI references survive a resave.
func (d *SegmentDefinition) AssignIDs() {
	for gi := range d.Groups {
		g := &d.Groups[gi]
		if g.ID == "" {
			g.ID = NewGroupID()
		}
		for ri := range g.Rules {
			if g.Rules[ri].ID == "" {
				g.Rules[ri].ID = NewRuleID()
			}
		}
	}
}

// RuleCount returns the total number of rules across all groups.
func (d *SegmentDefinition) RuleCount() int {
	n := 0
	for _, g := range d.Groups {
		n += len(g.Rules)
	}
	return n
}

// Summary projects the definition for listing.
func (d *SegmentDefinition) Summary() SegmentSummary {
	c := d.Clone()
	return SegmentSummary{
		ID:             c.ID,
		Name:           c.Name,
		Description:    c.Description,
		GroupCount:     len(c.Groups),
		RuleCount:      c.RuleCount(),
		EstimatedCount: c.EstimatedCount,
		EstimatedAt:    c.EstimatedAt,
		UpdatedAt:      c.UpdatedAt,
	}
}

// SetEstimate records a successful count snapshot.
func (d *SegmentDefinition) SetEstimate(count int, at time.Time) {
	d.EstimatedCount = &count
	at = at.UTC()
	d.EstimatedAt = &at
}
