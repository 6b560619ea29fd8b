// ABOUTME: HTTP API for findings, evidence, imports and enrichment.
// ABOUTME: Resolves the viewer from request headers and maps error kinds onto status codes.

package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/jfeddern/VulnLedger/internal/apperr"
	"github.com/jfeddern/VulnLedger/internal/findings"
	"github.com/jfeddern/VulnLedger/internal/importer"
	"github.com/jfeddern/VulnLedger/internal/scanner"
	"github.com/jfeddern/VulnLedger/internal/types"

	"github.com/sirupsen/logrus"
)

// Viewer identity is set by the authenticating proxy in front of the service
const (
	HeaderViewerRole = "X-Viewer-Role"
	HeaderViewerID   = "X-Viewer-Id"
)

const maxJSONBodyBytes = 4 << 20

type FindingsService interface {
	List(ctx context.Context, projectID string, viewer types.ViewerContext, severities []types.Severity) ([]types.FindingView, error)
	Get(ctx context.Context, id string, viewer types.ViewerContext) (findings.Detail, error)
	Create(ctx context.Context, projectID string, viewer types.ViewerContext, fields types.FindingFields) (types.FindingView, error)
	UpdateMetadata(ctx context.Context, id string, viewer types.ViewerContext, update types.FindingUpdate) (types.FindingView, error)
	SetVisibility(ctx context.Context, id string, viewer types.ViewerContext, level types.Visibility) (types.FindingView, error)
	Delete(ctx context.Context, id string, viewer types.ViewerContext) error
	ListAttachments(ctx context.Context, id string, viewer types.ViewerContext) ([]types.Attachment, error)
	AttachmentContent(ctx context.Context, id, attachmentID string, viewer types.ViewerContext) (types.Attachment, []byte, error)
	AddAttachments(ctx context.Context, id string, viewer types.ViewerContext, files []types.Upload, captions []string) ([]types.Attachment, error)
	DeleteAttachment(ctx context.Context, id, attachmentID string, viewer types.ViewerContext) error
}

type Importer interface {
	PlanImport(ctx context.Context, projectID string, candidates []types.ImportCandidate) (types.ImportPlan, error)
	Execute(ctx context.Context, projectID, ownerID string, candidates []types.ImportCandidate, selection *importer.Selection) (types.ImportResult, error)
}

type CandidateCollector interface {
	Collect(ctx context.Context) (scanner.Collection, error)
}

type Enricher interface {
	Enrich(ctx context.Context, vulnerabilityName string) (types.EnrichmentResult, error)
}

// Server wires the domain services to HTTP routes. Collector may be nil when no scanner is
// configured.
type Server struct {
	findings       FindingsService
	importer       Importer
	collector      CandidateCollector
	enricher       Enricher
	maxUploadBytes int64
	logger         *logrus.Logger
}

func New(findings FindingsService, importer Importer, collector CandidateCollector, enricher Enricher, maxUploadBytes int64, logger *logrus.Logger) *Server {
	return &Server{
		findings:       findings,
		importer:       importer,
		collector:      collector,
		enricher:       enricher,
		maxUploadBytes: maxUploadBytes,
		logger:         logger,
	}
}

// Register adds the API routes to mux
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /projects/{projectID}/findings", s.listFindings)
	mux.HandleFunc("POST /projects/{projectID}/findings", s.createFinding)
	mux.HandleFunc("GET /findings/{id}", s.getFinding)
	mux.HandleFunc("PATCH /findings/{id}", s.updateFinding)
	mux.HandleFunc("PUT /findings/{id}/visibility", s.setVisibility)
	mux.HandleFunc("DELETE /findings/{id}", s.deleteFinding)

	mux.HandleFunc("GET /findings/{id}/attachments", s.listAttachments)
	mux.HandleFunc("POST /findings/{id}/attachments", s.addAttachments)
	mux.HandleFunc("GET /findings/{id}/attachments/{attachmentID}", s.attachmentContent)
	mux.HandleFunc("DELETE /findings/{id}/attachments/{attachmentID}", s.deleteAttachment)

	mux.HandleFunc("POST /projects/{projectID}/import/plan", s.planImport)
	mux.HandleFunc("POST /projects/{projectID}/import", s.executeImport)
	mux.HandleFunc("GET /projects/{projectID}/import/scan", s.scanImport)

	mux.HandleFunc("POST /enrichment", s.enrich)
}

// Handler returns a mux serving only the API routes
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.Register(mux)
	return mux
}

// viewerFromRequest reads the viewer headers. Validation of the role happens in the services.
func viewerFromRequest(r *http.Request) types.ViewerContext {
	role, ok := types.ParseRole(r.Header.Get(HeaderViewerRole))
	if !ok {
		role = types.Role(r.Header.Get(HeaderViewerRole))
	}
	return types.ViewerContext{
		Role:     role,
		Identity: r.Header.Get(HeaderViewerID),
	}
}

// requireAuthor rejects viewers that may only read
func requireAuthor(viewer types.ViewerContext, op string) error {
	if viewer.Identity == "" {
		return apperr.New(apperr.KindPermissionDenied, op, "viewer identity is required")
	}
	switch viewer.Role {
	case types.RoleAdmin, types.RoleTester:
		return nil
	default:
		return apperr.Newf(apperr.KindPermissionDenied, op, "%q viewers cannot perform this action", viewer.Role)
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any, op string) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return apperr.Wrap(apperr.KindValidation, op, err, "malformed JSON body")
	}
	return nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.WithError(err).Error("Failed to encode JSON response")
	}
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func statusForKind(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindPermissionDenied:
		return http.StatusForbidden
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindMalformedResponse, apperr.KindUpstream:
		return http.StatusBadGateway
	case apperr.KindEnrichmentUnavailable, apperr.KindRateLimited:
		return http.StatusServiceUnavailable
	case apperr.KindNetwork:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err with the user message of its kind. Internal details are only logged.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	logger := s.logger.WithFields(logrus.Fields{
		"method": r.Method,
		"path":   r.URL.Path,
	}).WithError(err)

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		logger.Debug("Request cancelled")
		s.writeJSON(w, http.StatusRequestTimeout, errorResponse{Error: "CANCELLED", Message: "The request was cancelled."})
		return
	}

	kind := apperr.KindOf(err)
	status := statusForKind(kind)
	if status >= http.StatusInternalServerError {
		logger.Error("Request failed")
	} else {
		logger.Debug("Request rejected")
	}

	code := string(kind)
	if code == "" {
		code = "INTERNAL"
	}
	s.writeJSON(w, status, errorResponse{Error: code, Message: apperr.UserMessage(kind)})
}
