package contacts

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/solatis/segmentkeeper/internal/rules"
	"github.com/solatis/segmentkeeper/internal/types"
)

// Record is the interchange form of a contact, one JSON object per line:
//
//	{"id":"c-1","workspaceId":"acme","attributes":{"platform":"TikTok","engagement":72}}
//
// Temporal attributes are RFC3339 timestamps or YYYY-MM-DD dates. Null or
// absent attributes are missing.
type Record struct {
	ID          string                     `json:"id"`
	WorkspaceID string                     `json:"workspaceId,omitempty"`
	Attributes  map[string]json.RawMessage `json:"attributes"`
}

// Contact converts the record, typing each attribute by its field.
func (r Record) Contact(defaultWorkspace string) (types.Contact, error) {
	if r.ID == "" {
		return types.Contact{}, fmt.Errorf("contact record without id")
	}
	c := types.Contact{
		ID:          r.ID,
		WorkspaceID: r.WorkspaceID,
		Attributes:  make(map[types.FieldKind]any, len(r.Attributes)),
	}
	if c.WorkspaceID == "" {
		c.WorkspaceID = defaultWorkspace
	}

	for name, raw := range r.Attributes {
		field := types.FieldKind(name)
		kind := rules.FieldValueKind(field)
		if kind == rules.ValueUnspecified {
			return types.Contact{}, fmt.Errorf("contact %s: unknown attribute %q", r.ID, name)
		}
		if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
			continue
		}
		v, err := decodeAttribute(raw, kind)
		if err != nil {
			return types.Contact{}, fmt.Errorf("contact %s: attribute %s: %w", r.ID, name, err)
		}
		c.Attributes[field] = v
	}
	return c, nil
}

func decodeAttribute(raw json.RawMessage, kind rules.ValueKind) (any, error) {
	switch kind {
	case rules.ValueText:
		var s string
		err := json.Unmarshal(raw, &s)
		return s, err
	case rules.ValueNumeric:
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return nil, err
		}
		return strconv.ParseFloat(n.String(), 64)
	case rules.ValueTemporal:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t.UTC(), nil
		}
		t, err := time.Parse(time.DateOnly, s)
		if err != nil {
			return nil, fmt.Errorf("%q is not a date", s)
		}
		return t.UTC(), nil
	case rules.ValueBoolean:
		var b bool
		err := json.Unmarshal(raw, &b)
		return b, err
	default:
		return nil, fmt.Errorf("unsupported value kind %s", kind)
	}
}

// ReadRecords decodes a stream of JSON contact records.
func ReadRecords(r io.Reader, defaultWorkspace string) ([]types.Contact, error) {
	dec := json.NewDecoder(r)
	var out []types.Contact
	for line := 1; ; line++ {
		var rec Record
		if err := dec.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			return nil, fmt.Errorf("record %d: %w", line, err)
		}
		c, err := rec.Contact(defaultWorkspace)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", line, err)
		}
		out = append(out, c)
	}
}
