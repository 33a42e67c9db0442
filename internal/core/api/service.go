// Package api serves the segment builder's HTTP interface.
package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/solatis/segmentkeeper/internal/core/config"
	"github.com/solatis/segmentkeeper/internal/rules"
	"github.com/solatis/segmentkeeper/internal/segments"
	"github.com/solatis/segmentkeeper/internal/types"
)

// WorkspaceHeader selects the tenant; absent means the configured default.
const WorkspaceHeader = "X-Workspace-ID"

// Evaluator is the part of rules.Engine the API needs.
type Evaluator interface {
	Evaluate(ctx context.Context, def *types.SegmentDefinition) (*rules.EvaluationResult, error)
}

// Deps are the collaborators of SegmentService.
type Deps struct {
	Repo      segments.Repository
	Evaluator Evaluator

	// Ready reports backend readiness for /readyz; nil means always ready.
	Ready func(context.Context) error

	// Metrics serves /metrics; nil leaves the route unregistered.
	Metrics http.Handler

	Logger *zap.Logger
}

// SegmentService implements the segment HTTP API.
// Thin orchestration layer delegating to rules and segments packages.
type SegmentService struct {
	repo   segments.Repository
	eval   Evaluator
	ready  func(context.Context) error
	stats  http.Handler
	cfg    *config.SegmentAPIConfig
	logger *zap.Logger
}

// NewSegmentService creates service instance with dependencies.
func NewSegmentService(cfg *config.SegmentAPIConfig, deps Deps) (*SegmentService, error) {
	if cfg == nil {
		return nil, fmt.Errorf("cfg cannot be nil")
	}
	if deps.Repo == nil {
		return nil, fmt.Errorf("repository cannot be nil")
	}
	if deps.Evaluator == nil {
		return nil, fmt.Errorf("evaluator cannot be nil")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SegmentService{
		repo:   deps.Repo,
		eval:   deps.Evaluator,
		ready:  deps.Ready,
		stats:  deps.Metrics,
		cfg:    cfg,
		logger: logger,
	}, nil
}

// Handler returns the routed handler wrapped in the middleware chain.
func (s *SegmentService) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /segments", s.handleCreate)
	mux.HandleFunc("GET /segments", s.handleList)
	mux.HandleFunc("POST /segments/preview", s.handlePreviewDraft)
	mux.HandleFunc("GET /segments/{id}", s.handleGet)
	mux.HandleFunc("PUT /segments/{id}", s.handleUpdate)
	mux.HandleFunc("DELETE /segments/{id}", s.handleDelete)
	mux.HandleFunc("POST /segments/{id}/preview", s.handlePreviewStored)
	mux.HandleFunc("GET /fields", s.handleFields)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /readyz", s.handleReadyz)
	if s.stats != nil {
		mux.Handle("GET /metrics", s.stats)
	}

	return Chain(mux,
		Recover(s.logger),
		RequestID,
		AccessLog(s.logger),
		Timeout(s.cfg.RequestTimeout),
		BodyLimit(s.cfg.MaxBodyBytes),
		RequireJSON,
	)
}

func (s *SegmentService) workspace(r *http.Request) string {
	if ws := strings.TrimSpace(r.Header.Get(WorkspaceHeader)); ws != "" {
		return ws
	}
	if s.cfg.DefaultWorkspace != "" {
		return s.cfg.DefaultWorkspace
	}
	return segments.DefaultWorkspace
}

// estimate evaluates def and records the count on success. On failure the
// definition keeps whatever estimate it already carried.
func (s *SegmentService) estimate(ctx context.Context, def *types.SegmentDefinition) *estimateError {
	res, err := s.eval.Evaluate(ctx, def)
	if err != nil {
		s.logger.Info("segment saved without fresh estimate",
			zap.String("workspace", def.WorkspaceID),
			zap.String("segment_id", string(def.ID)),
			zap.Error(err))
		return newEstimateError(err)
	}
	def.SetEstimate(res.MatchedCount, res.EvaluatedAt)
	return nil
}
