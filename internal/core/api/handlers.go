package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/solatis/segmentkeeper/internal/rules"
	"github.com/solatis/segmentkeeper/internal/types"
)

// segmentRequest is the editable part of a definition. Server-owned fields
// (id, timestamps, estimate) are ignored if a client echoes them back.
type segmentRequest struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Filters     []types.RuleGroup `json:"filters"`
}

// previewRequest optionally replaces the groups under evaluation.
type previewRequest struct {
	Filters []types.RuleGroup `json:"filters"`
}

type segmentResponse struct {
	*types.SegmentDefinition
	EstimateError *estimateError `json:"estimateError,omitempty"`
}

type listResponse struct {
	Segments []types.SegmentSummary `json:"segments"`
}

var errEmptyBody = errors.New("request body is required")

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	if dec.More() {
		return fmt.Errorf("unexpected data after JSON body")
	}
	return nil
}

// decodeFailed writes the response for a decode error.
func decodeFailed(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeProblem(w, http.StatusRequestEntityTooLarge, "request body too large",
			fmt.Sprintf("limit is %d bytes", tooLarge.Limit))
		return
	}
	writeProblem(w, http.StatusBadRequest, "invalid json", err.Error())
}

// --- Segments ---

func (s *SegmentService) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req segmentRequest
	if err := decodeJSON(r, &req); err != nil {
		decodeFailed(w, err)
		return
	}

	ctx := r.Context()
	def := &types.SegmentDefinition{
		WorkspaceID: s.workspace(r),
		Name:        req.Name,
		Description: req.Description,
		Groups:      req.Filters,
	}
	def.AssignIDs()
	if err := rules.ValidateDefinition(def); err != nil {
		writeError(w, err)
		return
	}

	estErr := s.estimate(ctx, def)
	id, err := s.repo.Save(ctx, def)
	if err != nil {
		writeError(w, err)
		return
	}
	stored, err := s.repo.Load(ctx, def.WorkspaceID, id)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Location", "/segments/"+string(id))
	writeJSON(w, http.StatusCreated, segmentResponse{SegmentDefinition: stored, EstimateError: estErr})
}

func (s *SegmentService) handleList(w http.ResponseWriter, r *http.Request) {
	summaries, err := s.repo.List(r.Context(), s.workspace(r))
	if err != nil {
		writeError(w, err)
		return
	}
	if summaries == nil {
		summaries = []types.SegmentSummary{}
	}
	writeJSON(w, http.StatusOK, listResponse{Segments: summaries})
}

func (s *SegmentService) handleGet(w http.ResponseWriter, r *http.Request) {
	def, err := s.repo.Load(r.Context(), s.workspace(r), types.SegmentID(r.PathValue("id")))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, def)
}

func (s *SegmentService) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var req segmentRequest
	if err := decodeJSON(r, &req); err != nil {
		decodeFailed(w, err)
		return
	}

	ctx := r.Context()
	ws := s.workspace(r)
	current, err := s.repo.Load(ctx, ws, types.SegmentID(r.PathValue("id")))
	if err != nil {
		writeError(w, err)
		return
	}

	def := current.Clone()
	def.Name = req.Name
	def.Description = req.Description
	def.Groups = req.Filters
	def.AssignIDs()
	if err := rules.ValidateDefinition(def); err != nil {
		writeError(w, err)
		return
	}

	estErr := s.estimate(ctx, def)
	id, err := s.repo.Save(ctx, def)
	if err != nil {
		writeError(w, err)
		return
	}
	stored, err := s.repo.Load(ctx, ws, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, segmentResponse{SegmentDefinition: stored, EstimateError: estErr})
}

func (s *SegmentService) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.repo.Delete(r.Context(), s.workspace(r), types.SegmentID(r.PathValue("id"))); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Preview ---

// handlePreviewStored evaluates a stored segment, or draft groups against
// it, without saving anything.
func (s *SegmentService) handlePreviewStored(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	stored, err := s.repo.Load(ctx, s.workspace(r), types.SegmentID(r.PathValue("id")))
	if err != nil {
		writeError(w, err)
		return
	}

	var req previewRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		decodeFailed(w, err)
		return
	}

	def := stored.Clone()
	if req.Filters != nil {
		def.Groups = req.Filters
		def.AssignIDs()
	}

	res, err := s.eval.Evaluate(ctx, def)
	if err != nil {
		var eerr *types.EvaluatorError
		if errors.As(err, &eerr) {
			writeEvaluatorError(w, eerr, stored)
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *SegmentService) handlePreviewDraft(w http.ResponseWriter, r *http.Request) {
	var req previewRequest
	if err := decodeJSON(r, &req); err != nil {
		decodeFailed(w, err)
		return
	}

	def := &types.SegmentDefinition{WorkspaceID: s.workspace(r), Groups: req.Filters}
	def.AssignIDs()
	res, err := s.eval.Evaluate(r.Context(), def)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// --- Vocabulary and health ---

func (s *SegmentService) handleFields(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, rules.FieldVocabulary())
}

func (s *SegmentService) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *SegmentService) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeProblem(w, http.StatusServiceUnavailable, "not ready", "database not reachable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
