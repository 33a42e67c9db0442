// internal/rules/coercion.go
package rules

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/solatis/segmentkeeper/internal/types"
)

/*
 * Rule value coercion.
 *
 * Rule values arrive as strings from the segment builder. Coerce converts a
 * raw value to the field's declared ValueKind:
 *
 *   - TEXT: trimmed, non-empty, at most MaxRuleValueLength chars
 *   - NUMERIC: strconv.ParseFloat after trimming, must be finite
 *   - TEMPORAL: relative token "<n><unit>" (h, d, w, m=30d, y=365d) or an
 *     absolute date (YYYY-MM-DD, midnight UTC) or RFC3339 timestamp
 *   - BOOLEAN: true/false, yes/no, 1/0 (case-insensitive)
 *
 * Relative temporal values stay relative here. They are resolved to an
 * absolute cutoff at compile time so one evaluation uses one reference time.
 *
 * All failures wrap types.ErrInvalidValue.
 */

// TemporalValue is either a relative window or an absolute instant.
type TemporalValue struct {
	Relative time.Duration // > 0 for relative tokens
	Absolute time.Time     // set when Relative == 0
}

// IsRelative reports whether the value is a duration token.
func (t TemporalValue) IsRelative() bool {
	return t.Relative > 0
}

// Cutoff resolves the value against now, truncated to whole seconds so that
// every backend compares against the same instant.
func (t TemporalValue) Cutoff(now time.Time) time.Time {
	if t.IsRelative() {
		return now.Add(-t.Relative).UTC().Truncate(time.Second)
	}
	return t.Absolute.UTC().Truncate(time.Second)
}

// CoercionResult holds the typed form of a raw rule value.
type CoercionResult struct {
	Kind     ValueKind
	Text     string
	Number   float64
	Temporal TemporalValue
	Bool     bool
}

const (
	day   = 24 * time.Hour
	month = 30 * day
	year  = 365 * day

	// maxRelativeWindow keeps now-window representable.
	maxRelativeWindow = 200 * year
)

var durationToken = regexp.MustCompile(`^(\d+)\s*([hdwmy])$`)

// Coerce converts raw to kind.
func Coerce(raw string, kind ValueKind) (CoercionResult, error) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return CoercionResult{}, fmt.Errorf("%w: value is required", types.ErrInvalidValue)
	}

	switch kind {
	case ValueText:
		return coerceText(v)
	case ValueNumeric:
		return coerceNumeric(v)
	case ValueTemporal:
		return coerceTemporal(v)
	case ValueBoolean:
		return coerceBoolean(v)
	default:
		return CoercionResult{}, fmt.Errorf("%w: unsupported value kind %s", types.ErrInvalidValue, kind)
	}
}

func coerceText(v string) (CoercionResult, error) {
	if len([]rune(v)) > types.MaxRuleValueLength {
		return CoercionResult{}, fmt.Errorf("%w: value longer than %d characters", types.ErrInvalidValue, types.MaxRuleValueLength)
	}
	return CoercionResult{Kind: ValueText, Text: v}, nil
}

// coerceNumeric rejects NaN/Inf, which no backend can compare consistently.
func coerceNumeric(v string) (CoercionResult, error) {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return CoercionResult{}, fmt.Errorf("%w: %q is not a number", types.ErrInvalidValue, v)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return CoercionResult{}, fmt.Errorf("%w: %q is not a finite number", types.ErrInvalidValue, v)
	}
	return CoercionResult{Kind: ValueNumeric, Number: f}, nil
}

func coerceTemporal(v string) (CoercionResult, error) {
	if m := durationToken.FindStringSubmatch(strings.ToLower(v)); m != nil {
		n, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil || n <= 0 {
			return CoercionResult{}, fmt.Errorf("%w: duration %q must be positive", types.ErrInvalidValue, v)
		}
		unit := durationUnit(m[2])
		if n > int64(maxRelativeWindow/unit) {
			return CoercionResult{}, fmt.Errorf("%w: duration %q is too large", types.ErrInvalidValue, v)
		}
		return CoercionResult{
			Kind:     ValueTemporal,
			Temporal: TemporalValue{Relative: time.Duration(n) * unit},
		}, nil
	}

	if t, err := time.Parse(time.DateOnly, v); err == nil {
		return CoercionResult{Kind: ValueTemporal, Temporal: TemporalValue{Absolute: t.UTC()}}, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return CoercionResult{Kind: ValueTemporal, Temporal: TemporalValue{Absolute: t.UTC()}}, nil
	}
	return CoercionResult{}, fmt.Errorf("%w: %q is neither a duration like \"30d\" nor a date", types.ErrInvalidValue, v)
}

func durationUnit(u string) time.Duration {
	switch u {
	case "h":
		return time.Hour
	case "w":
		return 7 * day
	case "m":
		return month
	case "y":
		return year
	default:
		return day
	}
}

func coerceBoolean(v string) (CoercionResult, error) {
	switch strings.ToLower(v) {
	case "true", "yes", "1":
		return CoercionResult{Kind: ValueBoolean, Bool: true}, nil
	case "false", "no", "0":
		return CoercionResult{Kind: ValueBoolean, Bool: false}, nil
	default:
		return CoercionResult{}, fmt.Errorf("%w: %q is not a boolean", types.ErrInvalidValue, v)
	}
}
