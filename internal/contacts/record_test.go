package contacts

import (
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/solatis/segmentkeeper/internal/types"
)

func TestReadRecords(t *testing.T) {
	input := `{"id":"c-1","workspaceId":"acme","attributes":{"platform":"TikTok","engagement":72.5,"last_activity":"2026-02-20T10:00:00Z","email_consent":true}}
{"id":"c-2","attributes":{"location":"Berlin, DE","signup_date":"2024-05-01","sms_consent":null,"engagement":"12"}}
`
	got, err := ReadRecords(strings.NewReader(input), "default")
	if err != nil {
		t.Fatalf("ReadRecords() error = %v", err)
	}

	want := []types.Contact{
		{ID: "c-1", WorkspaceID: "acme", Attributes: map[types.FieldKind]any{
			types.FieldPlatform:     "TikTok",
			types.FieldEngagement:   72.5,
			types.FieldLastActivity: time.Date(2026, 2, 20, 10, 0, 0, 0, time.UTC),
			types.FieldEmailConsent: true,
		}},
		{ID: "c-2", WorkspaceID: "default", Attributes: map[types.FieldKind]any{
			types.FieldLocation:   "Berlin, DE",
			types.FieldSignupDate: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
			types.FieldEngagement: 12.0,
		}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ReadRecords() mismatch (-want +got):\n%s", diff)
	}
}

func TestReadRecordsErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"missing id", `{"attributes":{"platform":"TikTok"}}`},
		{"unknown attribute", `{"id":"c-1","attributes":{"shoe_size":42}}`},
		{"wrong type", `{"id":"c-1","attributes":{"email_consent":"maybe"}}`},
		{"bad date", `{"id":"c-1","attributes":{"signup_date":"last tuesday"}}`},
		{"malformed json", `{"id":`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ReadRecords(strings.NewReader(tt.input), "default"); err == nil {
				t.Errorf("ReadRecords(%s) succeeded, want error", tt.input)
			}
		})
	}
}
