// ABOUTME: Findings service applying the visibility policy to every read and mutation.
// ABOUTME: Combines the findings store and the attachment manager behind viewer-aware operations.

package findings

import (
	"context"

	"github.com/go-playground/validator/v10"
	"github.com/jfeddern/VulnLedger/internal/apperr"
	"github.com/jfeddern/VulnLedger/internal/policy"
	"github.com/jfeddern/VulnLedger/internal/types"
	"github.com/sirupsen/logrus"
)

var validate = validator.New()

// Store is the subset of the findings store used by the service
type Store interface {
	ListFindings(ctx context.Context, projectID string) ([]types.Finding, error)
	GetFinding(ctx context.Context, id string) (types.Finding, error)
	CreateFinding(ctx context.Context, projectID string, fields types.FindingFields) (types.Finding, error)
	UpdateFinding(ctx context.Context, id string, update types.FindingUpdate) (types.Finding, error)
	ReadBlob(ctx context.Context, ref string) ([]byte, error)
}

// Attachments is the attachment lifecycle manager
type Attachments interface {
	AddAttachments(ctx context.Context, findingID string, files []types.Upload, captions []string) ([]types.Attachment, error)
	DeleteAttachment(ctx context.Context, findingID, attachmentID string) error
	GetWithAttachments(ctx context.Context, findingID string) (types.Finding, []types.Attachment, error)
	DeleteFinding(ctx context.Context, findingID string) error
}

// Detail is a finding together with its evidence, as seen by one viewer
type Detail struct {
	types.FindingView
	Attachments []types.Attachment `json:"attachments"`
}

// Service exposes findings to viewers
type Service struct {
	store       Store
	attachments Attachments
	logger      *logrus.Logger
}

func NewService(store Store, attachments Attachments, logger *logrus.Logger) *Service {
	return &Service{
		store:       store,
		attachments: attachments,
		logger:      logger,
	}
}

// List returns the findings of a project visible to viewer. When severities is non-empty only
// findings with one of those severities are returned.
func (s *Service) List(ctx context.Context, projectID string, viewer types.ViewerContext, severities []types.Severity) ([]types.FindingView, error) {
	if err := checkViewer(viewer, "list_findings"); err != nil {
		return nil, err
	}

	all, err := s.store.ListFindings(ctx, projectID)
	if err != nil {
		return nil, err
	}

	if len(severities) > 0 {
		wanted := make(map[types.Severity]bool, len(severities))
		for _, severity := range severities {
			wanted[severity] = true
		}
		filtered := make([]types.Finding, 0, len(all))
		for _, finding := range all {
			if wanted[finding.Severity] {
				filtered = append(filtered, finding)
			}
		}
		all = filtered
	}

	return policy.Filter(all, viewer), nil
}

// Get returns a finding with its attachments. Findings the viewer may not see are reported as
// not found.
func (s *Service) Get(ctx context.Context, id string, viewer types.ViewerContext) (Detail, error) {
	if err := checkViewer(viewer, "get_finding"); err != nil {
		return Detail{}, err
	}

	finding, attachments, err := s.attachments.GetWithAttachments(ctx, id)
	if err != nil {
		return Detail{}, err
	}

	view, ok := policy.View(finding, viewer)
	if !ok {
		return Detail{}, notFound("get_finding", id)
	}
	return Detail{FindingView: view, Attachments: attachments}, nil
}

// Create stores a new finding owned by the viewer. Only testers and admins author findings.
func (s *Service) Create(ctx context.Context, projectID string, viewer types.ViewerContext, fields types.FindingFields) (types.FindingView, error) {
	if err := checkViewer(viewer, "create_finding"); err != nil {
		return types.FindingView{}, err
	}
	if viewer.Role == types.RoleClient {
		return types.FindingView{}, apperr.New(apperr.KindPermissionDenied, "create_finding", "clients cannot author findings")
	}
	if projectID == "" {
		return types.FindingView{}, apperr.New(apperr.KindValidation, "create_finding", "project is required")
	}

	if fields.ExternalID != "" {
		return types.FindingView{}, apperr.New(apperr.KindValidation, "create_finding", "external_id is only assigned by imports")
	}

	fields.OwnerID = viewer.Identity
	if err := validate.Struct(fields); err != nil {
		return types.FindingView{}, apperr.Wrap(apperr.KindValidation, "create_finding", err, "invalid finding")
	}

	finding, err := s.store.CreateFinding(ctx, projectID, fields)
	if err != nil {
		return types.FindingView{}, err
	}

	s.logger.WithFields(logrus.Fields{
		"component":  "findings",
		"finding_id": finding.ID,
		"project_id": projectID,
		"owner_id":   finding.OwnerID,
	}).Info("Created finding")

	view, _ := policy.View(finding, viewer)
	return view, nil
}

// UpdateMetadata applies a partial update of the descriptive fields. Visibility is never
// changed through this path.
func (s *Service) UpdateMetadata(ctx context.Context, id string, viewer types.ViewerContext, update types.FindingUpdate) (types.FindingView, error) {
	update.VisibilityLevel = nil
	if err := validate.Struct(update); err != nil {
		return types.FindingView{}, apperr.Wrap(apperr.KindValidation, "update_finding", err, "invalid update")
	}

	finding, err := s.visible(ctx, id, viewer, "update_finding")
	if err != nil {
		return types.FindingView{}, err
	}
	if !policy.CanEditMetadata(finding, viewer) {
		return types.FindingView{}, apperr.Newf(apperr.KindPermissionDenied, "update_finding",
			"%s viewers cannot edit findings", viewer.Role)
	}

	updated, err := s.store.UpdateFinding(ctx, id, update)
	if err != nil {
		return types.FindingView{}, err
	}
	view, _ := policy.View(updated, viewer)
	return view, nil
}

// SetVisibility changes who among the testers can see a finding. Only the owning tester may.
func (s *Service) SetVisibility(ctx context.Context, id string, viewer types.ViewerContext, level types.Visibility) (types.FindingView, error) {
	finding, err := s.visible(ctx, id, viewer, "set_visibility")
	if err != nil {
		return types.FindingView{}, err
	}

	changed, err := policy.SetVisibility(finding, viewer, level)
	if err != nil {
		return types.FindingView{}, err
	}

	updated, err := s.store.UpdateFinding(ctx, id, types.FindingUpdate{VisibilityLevel: &changed.VisibilityLevel})
	if err != nil {
		return types.FindingView{}, err
	}

	s.logger.WithFields(logrus.Fields{
		"component":  "findings",
		"finding_id": id,
		"visibility": level,
	}).Info("Changed finding visibility")

	view, _ := policy.View(updated, viewer)
	return view, nil
}

// Delete removes a finding and all of its attachments. Admins and the owning tester may delete.
func (s *Service) Delete(ctx context.Context, id string, viewer types.ViewerContext) error {
	finding, err := s.visible(ctx, id, viewer, "delete_finding")
	if err != nil {
		return err
	}
	if !canDelete(finding, viewer) {
		return apperr.Newf(apperr.KindPermissionDenied, "delete_finding",
			"viewer %s (%s) cannot delete finding %s", viewer.Identity, viewer.Role, id)
	}

	if err := s.attachments.DeleteFinding(ctx, id); err != nil {
		return err
	}

	s.logger.WithFields(logrus.Fields{
		"component":  "findings",
		"finding_id": id,
		"viewer_id":  viewer.Identity,
	}).Info("Deleted finding")
	return nil
}

// ListAttachments returns the evidence of a finding the viewer can see
func (s *Service) ListAttachments(ctx context.Context, id string, viewer types.ViewerContext) ([]types.Attachment, error) {
	detail, err := s.Get(ctx, id, viewer)
	if err != nil {
		return nil, err
	}
	return detail.Attachments, nil
}

// AttachmentContent returns one attachment of a visible finding together with its image bytes
func (s *Service) AttachmentContent(ctx context.Context, id, attachmentID string, viewer types.ViewerContext) (types.Attachment, []byte, error) {
	detail, err := s.Get(ctx, id, viewer)
	if err != nil {
		return types.Attachment{}, nil, err
	}

	for _, attachment := range detail.Attachments {
		if attachment.ID != attachmentID {
			continue
		}
		data, err := s.store.ReadBlob(ctx, attachment.BlobReference)
		if err != nil {
			return types.Attachment{}, nil, err
		}
		return attachment, data, nil
	}
	return types.Attachment{}, nil, apperr.Newf(apperr.KindNotFound, "attachment_content",
		"attachment %s not found on finding %s", attachmentID, id)
}

// AddAttachments appends evidence to a finding the viewer may edit
func (s *Service) AddAttachments(ctx context.Context, id string, viewer types.ViewerContext, files []types.Upload, captions []string) ([]types.Attachment, error) {
	if err := s.editable(ctx, id, viewer, "add_attachments"); err != nil {
		return nil, err
	}
	return s.attachments.AddAttachments(ctx, id, files, captions)
}

// DeleteAttachment removes one piece of evidence from a finding the viewer may edit
func (s *Service) DeleteAttachment(ctx context.Context, id, attachmentID string, viewer types.ViewerContext) error {
	if err := s.editable(ctx, id, viewer, "delete_attachment"); err != nil {
		return err
	}
	return s.attachments.DeleteAttachment(ctx, id, attachmentID)
}

func (s *Service) visible(ctx context.Context, id string, viewer types.ViewerContext, op string) (types.Finding, error) {
	if err := checkViewer(viewer, op); err != nil {
		return types.Finding{}, err
	}
	finding, err := s.store.GetFinding(ctx, id)
	if err != nil {
		return types.Finding{}, err
	}
	if !policy.CanView(finding, viewer) {
		return types.Finding{}, notFound(op, id)
	}
	return finding, nil
}

func (s *Service) editable(ctx context.Context, id string, viewer types.ViewerContext, op string) error {
	finding, err := s.visible(ctx, id, viewer, op)
	if err != nil {
		return err
	}
	if !policy.CanEditMetadata(finding, viewer) {
		return apperr.Newf(apperr.KindPermissionDenied, op, "%s viewers cannot change evidence", viewer.Role)
	}
	return nil
}

func canDelete(finding types.Finding, viewer types.ViewerContext) bool {
	switch viewer.Role {
	case types.RoleAdmin:
		return true
	case types.RoleTester:
		return finding.OwnerID == viewer.Identity
	default:
		return false
	}
}

func checkViewer(viewer types.ViewerContext, op string) error {
	if _, ok := types.ParseRole(string(viewer.Role)); !ok {
		return apperr.Newf(apperr.KindPermissionDenied, op, "unknown role %q", viewer.Role)
	}
	if viewer.Identity == "" {
		return apperr.New(apperr.KindPermissionDenied, op, "viewer identity is required")
	}
	return nil
}

func notFound(op, id string) error {
	return apperr.Newf(apperr.KindNotFound, op, "finding %s not found", id)
}
