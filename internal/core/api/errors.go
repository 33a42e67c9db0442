package api

import (
	"errors"
	"net/http"

	"github.com/solatis/segmentkeeper/internal/types"
)

// Error mapping:
//   ValidationErrors          -> 422 with field-level errors
//   RepositoryError NotFound  -> 404
//   RepositoryError Conflict  -> 409
//   RepositoryError Storage   -> 500
//   EvaluatorError            -> see writeEvaluatorError
//   anything else             -> 500

// calculating is the body of a 504: the count is still pending, not zero.
type calculating struct {
	Status               string          `json:"status"`
	SegmentID            types.SegmentID `json:"segmentId,omitempty"`
	CachedEstimatedCount *int            `json:"cachedEstimatedCount"`
	Detail               string          `json:"detail"`
}

func writeError(w http.ResponseWriter, err error) {
	var verrs types.ValidationErrors
	if errors.As(err, &verrs) {
		WriteProblem(w, Problem{
			Status: http.StatusUnprocessableEntity,
			Title:  "validation failed",
			Detail: "one or more rules are invalid",
			Errors: verrs.Fields(),
		})
		return
	}

	var rerr *types.RepositoryError
	if errors.As(err, &rerr) {
		switch rerr.Kind {
		case types.RepoNotFound:
			WriteProblem(w, Problem{Status: http.StatusNotFound, Title: "segment not found", Kind: string(rerr.Kind), SegmentID: rerr.SegmentID})
		case types.RepoConflict:
			WriteProblem(w, Problem{
				Status:    http.StatusConflict,
				Title:     "segment name already in use",
				Detail:    err.Error(),
				Kind:      string(rerr.Kind),
				SegmentID: rerr.SegmentID,
				Errors:    map[string][]string{"name": {"a segment with this name already exists"}},
			})
		default:
			WriteProblem(w, Problem{Status: http.StatusInternalServerError, Title: "segment storage failure", Kind: string(rerr.Kind)})
		}
		return
	}

	var eerr *types.EvaluatorError
	if errors.As(err, &eerr) {
		writeEvaluatorError(w, eerr, nil)
		return
	}

	writeProblem(w, http.StatusInternalServerError, "internal error", "")
}

// writeEvaluatorError reports a failed count. cached is the stored definition,
// if any; its estimate is echoed so the UI can keep showing it as stale.
func writeEvaluatorError(w http.ResponseWriter, err *types.EvaluatorError, cached *types.SegmentDefinition) {
	var count *int
	p := Problem{Kind: string(err.Kind), SegmentID: err.SegmentID, Detail: err.Error()}
	if cached != nil {
		count = cached.EstimatedCount
		p.SegmentID = cached.ID
		p.CachedEstimatedCount = cached.EstimatedCount
		p.CachedEstimatedAt = cached.EstimatedAt
	}

	switch err.Kind {
	case types.EvalTimeout:
		writeJSON(w, http.StatusGatewayTimeout, calculating{
			Status:               "calculating",
			SegmentID:            p.SegmentID,
			CachedEstimatedCount: count,
			Detail:               "segment size is still being calculated",
		})
	case types.EvalInvalidPredicate:
		p.Status = http.StatusUnprocessableEntity
		p.Title = "segment cannot be evaluated"
		WriteProblem(w, p)
	default:
		p.Status = http.StatusServiceUnavailable
		p.Title = "contact store unavailable"
		WriteProblem(w, p)
	}
}

// estimateError is attached to a saved segment whose count failed.
type estimateError struct {
	Kind   types.EvaluatorKind `json:"kind"`
	Detail string              `json:"detail"`
}

func newEstimateError(err error) *estimateError {
	var eerr *types.EvaluatorError
	if errors.As(err, &eerr) {
		return &estimateError{Kind: eerr.Kind, Detail: eerr.Error()}
	}
	return &estimateError{Kind: types.EvalStoreUnavailable, Detail: err.Error()}
}
