package types

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for segmentkeeper operations.
var (
	// ErrInvalidField indicates a rule names an unknown field.
	ErrInvalidField = errors.New("unknown rule field")

	// ErrInvalidOperator indicates an operator outside the field's allowed set.
	ErrInvalidOperator = errors.New("invalid operator for field")

	// ErrInvalidValue indicates an empty or type-incompatible rule value.
	ErrInvalidValue = errors.New("invalid rule value")

	// ErrInvalidConnector indicates a connector other than AND/OR.
	ErrInvalidConnector = errors.New("invalid connector")

	// ErrInvalidName indicates a missing or oversized segment name.
	ErrInvalidName = errors.New("invalid segment name")

	// ErrEmptySegment indicates a definition without groups.
	ErrEmptySegment = errors.New("segment has no rule groups")

	// ErrEmptyGroup indicates a group without rules.
	ErrEmptyGroup = errors.New("rule group has no rules")

	// ErrTooLarge indicates a definition exceeding MaxGroups/MaxRulesPerGroup.
	ErrTooLarge = errors.New("segment definition exceeds size limits")

	// ErrTimeout indicates evaluation exceeded its deadline or was cancelled.
	ErrTimeout = errors.New("evaluation timed out")

	// ErrStoreUnavailable indicates the contact store could not be queried.
	ErrStoreUnavailable = errors.New("contact store unavailable")

	// ErrInvalidPredicate indicates a store cannot execute a compiled expression.
	ErrInvalidPredicate = errors.New("invalid predicate")

	// ErrSegmentNotFound indicates a segment id is unknown or deleted.
	ErrSegmentNotFound = errors.New("segment not found")

	// ErrConflict indicates a name collision inside a workspace.
	ErrConflict = errors.New("segment conflict")

	// ErrStorageFailure indicates the repository backend failed.
	ErrStorageFailure = errors.New("segment storage failure")
)

// ValidationKind classifies a validation failure.
type ValidationKind string

const (
	InvalidField     ValidationKind = "invalid_field"
	InvalidOperator  ValidationKind = "invalid_operator"
	InvalidValue     ValidationKind = "invalid_value"
	InvalidConnector ValidationKind = "invalid_connector"
	InvalidName      ValidationKind = "invalid_name"
	EmptySegment     ValidationKind = "empty_segment"
	EmptyGroup       ValidationKind = "empty_group"
	TooLarge         ValidationKind = "too_large"
)

var validationSentinels = map[ValidationKind]error{
	InvalidField:     ErrInvalidField,
	InvalidOperator:  ErrInvalidOperator,
	InvalidValue:     ErrInvalidValue,
	InvalidConnector: ErrInvalidConnector,
	InvalidName:      ErrInvalidName,
	EmptySegment:     ErrEmptySegment,
	EmptyGroup:       ErrEmptyGroup,
	TooLarge:         ErrTooLarge,
}

// ValidationError names the offending rule or group.
type ValidationError struct {
	Kind    ValidationKind
	RuleID  RuleID
	GroupID GroupID
	Field   string // JSON field the message belongs to ("value", "operator", "name", ...)
	Message string
}

func (e *ValidationError) Error() string {
	switch {
	case e.RuleID != "":
		return fmt.Sprintf("rule %s: %s: %s", e.RuleID, e.Kind, e.Message)
	case e.GroupID != "":
		return fmt.Sprintf("group %s: %s: %s", e.GroupID, e.Kind, e.Message)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
}

// Unwrap maps the kind to its sentinel so errors.Is works.
func (e *ValidationError) Unwrap() error {
	return validationSentinels[e.Kind]
}

// Key returns the location used in field-level error maps.
func (e *ValidationError) Key() string {
	switch {
	case e.RuleID != "":
		return "rules[" + string(e.RuleID) + "]." + e.Field
	case e.GroupID != "":
		return "filters[" + string(e.GroupID) + "]." + e.Field
	default:
		return e.Field
	}
}

// ValidationErrors collects every problem found in one definition.
type ValidationErrors []*ValidationError

func (es ValidationErrors) Error() string {
	msgs := make([]string, len(es))
	for i, e := range es {
		msgs[i] = e.Error()
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

// Unwrap exposes each ValidationError to errors.Is/errors.As.
func (es ValidationErrors) Unwrap() []error {
	out := make([]error, len(es))
	for i, e := range es {
		out[i] = e
	}
	return out
}

// Fields groups messages by location for field-level UI display.
func (es ValidationErrors) Fields() map[string][]string {
	out := make(map[string][]string, len(es))
	for _, e := range es {
		k := e.Key()
		out[k] = append(out[k], e.Message)
	}
	return out
}

// EvaluatorKind classifies an evaluation failure.
type EvaluatorKind string

const (
	EvalTimeout          EvaluatorKind = "timeout"
	EvalStoreUnavailable EvaluatorKind = "store_unavailable"
	EvalInvalidPredicate EvaluatorKind = "invalid_predicate"
)

var evaluatorSentinels = map[EvaluatorKind]error{
	EvalTimeout:          ErrTimeout,
	EvalStoreUnavailable: ErrStoreUnavailable,
	EvalInvalidPredicate: ErrInvalidPredicate,
}

// EvaluatorError reports why a count could not be produced.
type EvaluatorError struct {
	Kind      EvaluatorKind
	SegmentID SegmentID
	Err       error // underlying cause, may be nil
}

func (e *EvaluatorError) Error() string {
	msg := "evaluate"
	if e.SegmentID != "" {
		msg += " segment " + string(e.SegmentID)
	}
	msg += ": " + string(e.Kind)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind sentinel and the cause.
func (e *EvaluatorError) Unwrap() []error {
	errs := []error{evaluatorSentinels[e.Kind]}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// RepositoryKind classifies a repository failure.
type RepositoryKind string

const (
	RepoNotFound       RepositoryKind = "not_found"
	RepoConflict       RepositoryKind = "conflict"
	RepoStorageFailure RepositoryKind = "storage_failure"
)

var repositorySentinels = map[RepositoryKind]error{
	RepoNotFound:       ErrSegmentNotFound,
	RepoConflict:       ErrConflict,
	RepoStorageFailure: ErrStorageFailure,
}

// RepositoryError is surfaced verbatim to callers.
type RepositoryError struct {
	Kind      RepositoryKind
	SegmentID SegmentID
	Err       error
}

func (e *RepositoryError) Error() string {
	msg := "segment repository: " + string(e.Kind)
	if e.SegmentID != "" {
		msg += " (" + string(e.SegmentID) + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RepositoryError) Unwrap() []error {
	errs := []error{repositorySentinels[e.Kind]}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// NotFound builds a RepoNotFound error for id.
func NotFound(id SegmentID) error {
	return &RepositoryError{Kind: RepoNotFound, SegmentID: id}
}

// StorageFailure wraps a backend error.
func StorageFailure(id SegmentID, err error) error {
	return &RepositoryError{Kind: RepoStorageFailure, SegmentID: id, Err: err}
}
