package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/solatis/segmentkeeper/internal/types"
)

// Problem is an RFC 7807 error document with segment extensions.
type Problem struct {
	Type     string              `json:"type,omitempty"`
	Title    string              `json:"title,omitempty"`
	Status   int                 `json:"status,omitempty"`
	Detail   string              `json:"detail,omitempty"`
	Instance string              `json:"instance,omitempty"`
	Errors   map[string][]string `json:"errors,omitempty"`

	Kind                 string          `json:"kind,omitempty"`
	SegmentID            types.SegmentID `json:"segmentId,omitempty"`
	CachedEstimatedCount *int            `json:"cachedEstimatedCount,omitempty"`
	CachedEstimatedAt    *time.Time      `json:"cachedEstimatedAt,omitempty"`
}

// WriteProblem writes p as application/problem+json.
func WriteProblem(w http.ResponseWriter, p Problem) {
	if p.Title == "" {
		p.Title = http.StatusText(p.Status)
	}
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

func writeProblem(w http.ResponseWriter, status int, title, detail string) {
	WriteProblem(w, Problem{Status: status, Title: title, Detail: detail})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
