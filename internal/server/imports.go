// ABOUTME: HTTP handlers for scanner imports and narrative enrichment.
// ABOUTME: Builds selection sets from request bodies and reports import plans and results.

package server

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/jfeddern/VulnLedger/internal/apperr"
	"github.com/jfeddern/VulnLedger/internal/importer"
	"github.com/jfeddern/VulnLedger/internal/scanner"
	"github.com/jfeddern/VulnLedger/internal/types"

	"github.com/sirupsen/logrus"
)

var validate = validator.New()

type importRequest struct {
	Candidates []types.ImportCandidate `json:"candidates" validate:"required,min=1"`
	// Selected lists external IDs to import; nil imports every new candidate
	Selected []string `json:"selected,omitempty"`
	// SelectSeverities adds every candidate of these severities to the selection
	SelectSeverities []types.Severity `json:"select_severities,omitempty"`
}

// selection returns nil when the request does not restrict the import
func (req importRequest) selection() *importer.Selection {
	if req.Selected == nil && len(req.SelectSeverities) == 0 {
		return nil
	}
	selection := importer.NewSelection(req.Selected...)
	if len(req.SelectSeverities) > 0 {
		selection.SelectAllVisible(req.Candidates, importer.SeverityFilter(req.SelectSeverities...))
	}
	return selection
}

type scanResponse struct {
	scanner.Collection
	Plan types.ImportPlan `json:"plan"`
}

type enrichmentRequest struct {
	VulnerabilityName string `json:"vulnerability_name" validate:"required,max=500"`
}

func (s *Server) planImport(w http.ResponseWriter, r *http.Request) {
	viewer := viewerFromRequest(r)
	if err := requireAuthor(viewer, "plan_import"); err != nil {
		s.writeError(w, r, err)
		return
	}

	var req importRequest
	if err := s.decodeImport(w, r, &req, "plan_import"); err != nil {
		s.writeError(w, r, err)
		return
	}

	plan, err := s.importer.PlanImport(r.Context(), r.PathValue("projectID"), req.Candidates)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, plan)
}

func (s *Server) executeImport(w http.ResponseWriter, r *http.Request) {
	viewer := viewerFromRequest(r)
	if err := requireAuthor(viewer, "execute_import"); err != nil {
		s.writeError(w, r, err)
		return
	}

	var req importRequest
	if err := s.decodeImport(w, r, &req, "execute_import"); err != nil {
		s.writeError(w, r, err)
		return
	}

	result, err := s.importer.Execute(r.Context(), r.PathValue("projectID"), viewer.Identity, req.Candidates, req.selection())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) decodeImport(w http.ResponseWriter, r *http.Request, req *importRequest, op string) error {
	if err := decodeJSON(w, r, req, op); err != nil {
		return err
	}
	if err := validate.Struct(req); err != nil {
		return apperr.Wrap(apperr.KindValidation, op, err, "at least one candidate is required")
	}
	return nil
}

// scanImport collects candidates from the configured scanner and plans their import
func (s *Server) scanImport(w http.ResponseWriter, r *http.Request) {
	viewer := viewerFromRequest(r)
	if err := requireAuthor(viewer, "scan_import"); err != nil {
		s.writeError(w, r, err)
		return
	}
	if s.collector == nil {
		s.writeJSON(w, http.StatusNotImplemented, errorResponse{Error: "NO_SCANNER", Message: "No scanner is configured."})
		return
	}

	projectID := r.PathValue("projectID")
	collection, err := s.collector.Collect(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	plan, err := s.importer.PlanImport(r.Context(), projectID, collection.Candidates)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.logger.WithFields(logrus.Fields{
		"project_id":    projectID,
		"images":        collection.Images,
		"failed_images": len(collection.FailedImages),
		"to_create":     len(plan.ToCreate),
		"to_skip":       len(plan.ToSkip),
	}).Info("Planned scanner import")

	s.writeJSON(w, http.StatusOK, scanResponse{Collection: collection, Plan: plan})
}

func (s *Server) enrich(w http.ResponseWriter, r *http.Request) {
	viewer := viewerFromRequest(r)
	if err := requireAuthor(viewer, "enrich"); err != nil {
		s.writeError(w, r, err)
		return
	}

	var req enrichmentRequest
	if err := decodeJSON(w, r, &req, "enrich"); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := validate.Struct(req); err != nil {
		s.writeError(w, r, apperr.Wrap(apperr.KindValidation, "enrich", err, "vulnerability name is required"))
		return
	}

	result, err := s.enricher.Enrich(r.Context(), req.VulnerabilityName)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}
