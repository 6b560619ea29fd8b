// ABOUTME: HTTP handlers for finding reads and mutations.
// ABOUTME: Every handler passes the request's viewer to the findings service.

package server

import (
	"net/http"
	"strings"

	"github.com/jfeddern/VulnLedger/internal/apperr"
	"github.com/jfeddern/VulnLedger/internal/types"

	"github.com/sirupsen/logrus"
)

type visibilityRequest struct {
	VisibilityLevel types.Visibility `json:"visibility_level"`
}

// parseSeverities accepts repeated and comma separated severity parameters
func parseSeverities(values []string) ([]types.Severity, error) {
	var severities []types.Severity
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			severity, ok := types.ParseSeverity(part)
			if !ok {
				return nil, apperr.Newf(apperr.KindValidation, "parse_severity", "unknown severity %q", part)
			}
			severities = append(severities, severity)
		}
	}
	return severities, nil
}

func (s *Server) listFindings(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("projectID")

	severities, err := parseSeverities(r.URL.Query()["severity"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	views, err := s.findings.List(r.Context(), projectID, viewerFromRequest(r), severities)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.logger.WithFields(logrus.Fields{
		"project_id": projectID,
		"findings":   len(views),
	}).Debug("Served findings list")

	s.writeJSON(w, http.StatusOK, map[string]any{"findings": views})
}

func (s *Server) createFinding(w http.ResponseWriter, r *http.Request) {
	var fields types.FindingFields
	if err := decodeJSON(w, r, &fields, "create_finding"); err != nil {
		s.writeError(w, r, err)
		return
	}

	view, err := s.findings.Create(r.Context(), r.PathValue("projectID"), viewerFromRequest(r), fields)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, view)
}

func (s *Server) getFinding(w http.ResponseWriter, r *http.Request) {
	detail, err := s.findings.Get(r.Context(), r.PathValue("id"), viewerFromRequest(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, detail)
}

func (s *Server) updateFinding(w http.ResponseWriter, r *http.Request) {
	var update types.FindingUpdate
	if err := decodeJSON(w, r, &update, "update_finding"); err != nil {
		s.writeError(w, r, err)
		return
	}

	view, err := s.findings.UpdateMetadata(r.Context(), r.PathValue("id"), viewerFromRequest(r), update)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, view)
}

func (s *Server) setVisibility(w http.ResponseWriter, r *http.Request) {
	var req visibilityRequest
	if err := decodeJSON(w, r, &req, "set_visibility"); err != nil {
		s.writeError(w, r, err)
		return
	}

	view, err := s.findings.SetVisibility(r.Context(), r.PathValue("id"), viewerFromRequest(r), req.VisibilityLevel)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, view)
}

func (s *Server) deleteFinding(w http.ResponseWriter, r *http.Request) {
	if err := s.findings.Delete(r.Context(), r.PathValue("id"), viewerFromRequest(r)); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
