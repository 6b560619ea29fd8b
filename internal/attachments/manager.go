// ABOUTME: Attachment lifecycle manager for evidence images bound to findings.
// ABOUTME: Validates uploads, keeps insertion order and cascades deletes with the owning finding.

package attachments

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"github.com/jfeddern/VulnLedger/internal/apperr"
	"github.com/jfeddern/VulnLedger/internal/types"
	"github.com/sirupsen/logrus"
)

// Store is the subset of the findings store the manager relies on
type Store interface {
	GetFinding(ctx context.Context, id string) (types.Finding, error)
	DeleteFinding(ctx context.Context, id string) error
	AddAttachments(ctx context.Context, findingID string, files []types.Upload, captions []string) ([]types.Attachment, error)
	DeleteAttachment(ctx context.Context, findingID, attachmentID string) error
	ListAttachments(ctx context.Context, findingID string) ([]types.Attachment, error)
}

// Manager owns every attachment mutation. Mutations hold the write side of lifecycle and
// reads of a finding together with its evidence hold the read side, so a finding and its
// attachments always appear and disappear together regardless of the store's own guarantees.
type Manager struct {
	store     Store
	lifecycle sync.RWMutex
	logger    *logrus.Logger
}

// NewManager creates an attachment manager on top of store
func NewManager(store Store, logger *logrus.Logger) *Manager {
	return &Manager{
		store:  store,
		logger: logger,
	}
}

// AddAttachments appends files to a finding. Captions are aligned by index and padded with
// empty strings when shorter than files. The returned attachments follow input order.
func (m *Manager) AddAttachments(ctx context.Context, findingID string, files []types.Upload, captions []string) ([]types.Attachment, error) {
	logger := m.logger.WithFields(logrus.Fields{
		"component":  "attachments",
		"finding_id": findingID,
	})

	if len(files) == 0 {
		return nil, apperr.New(apperr.KindValidation, "add_attachments", "at least one file is required")
	}
	if len(captions) > len(files) {
		return nil, apperr.Newf(apperr.KindValidation, "add_attachments",
			"%d captions given for %d files", len(captions), len(files))
	}

	normalized := make([]types.Upload, len(files))
	for i, file := range files {
		if len(file.Data) == 0 {
			return nil, apperr.Newf(apperr.KindValidation, "add_attachments", "file %d (%s) is empty", i, file.FileName)
		}
		if file.ContentType == "" {
			file.ContentType = http.DetectContentType(file.Data)
		}
		if !strings.HasPrefix(file.ContentType, "image/") {
			return nil, apperr.Newf(apperr.KindValidation, "add_attachments",
				"file %d (%s) is %s, only images are accepted as evidence", i, file.FileName, file.ContentType)
		}
		normalized[i] = file
	}

	padded := make([]string, len(files))
	copy(padded, captions)

	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	if _, err := m.store.GetFinding(ctx, findingID); err != nil {
		return nil, err
	}

	added, err := m.store.AddAttachments(ctx, findingID, normalized, padded)
	if err != nil {
		logger.WithError(err).Error("Failed to store attachments")
		return nil, err
	}

	logger.WithField("added", len(added)).Info("Attached evidence")
	return added, nil
}

// DeleteAttachment removes exactly one attachment; the rest keep their order
func (m *Manager) DeleteAttachment(ctx context.Context, findingID, attachmentID string) error {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	if err := m.store.DeleteAttachment(ctx, findingID, attachmentID); err != nil {
		return err
	}

	m.logger.WithFields(logrus.Fields{
		"component":     "attachments",
		"finding_id":    findingID,
		"attachment_id": attachmentID,
	}).Info("Deleted attachment")
	return nil
}

// ListAttachments returns the attachments of a finding in insertion order
func (m *Manager) ListAttachments(ctx context.Context, findingID string) ([]types.Attachment, error) {
	m.lifecycle.RLock()
	defer m.lifecycle.RUnlock()

	return m.store.ListAttachments(ctx, findingID)
}

// GetWithAttachments reads a finding and its attachments as one consistent snapshot
func (m *Manager) GetWithAttachments(ctx context.Context, findingID string) (types.Finding, []types.Attachment, error) {
	m.lifecycle.RLock()
	defer m.lifecycle.RUnlock()

	finding, err := m.store.GetFinding(ctx, findingID)
	if err != nil {
		return types.Finding{}, nil, err
	}
	attachments, err := m.store.ListAttachments(ctx, findingID)
	if err != nil {
		return types.Finding{}, nil, err
	}
	return finding, attachments, nil
}

// DeleteFinding removes every attachment of the finding and then the finding itself
func (m *Manager) DeleteFinding(ctx context.Context, findingID string) error {
	logger := m.logger.WithFields(logrus.Fields{
		"component":  "attachments",
		"finding_id": findingID,
	})

	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	attachments, err := m.store.ListAttachments(ctx, findingID)
	if err != nil {
		return err
	}

	for _, attachment := range attachments {
		if err := m.store.DeleteAttachment(ctx, findingID, attachment.ID); err != nil && !apperr.IsKind(err, apperr.KindNotFound) {
			logger.WithError(err).WithField("attachment_id", attachment.ID).Error("Failed to cascade attachment delete")
			return err
		}
	}

	if err := m.store.DeleteFinding(ctx, findingID); err != nil {
		return err
	}

	logger.WithField("removed_attachments", len(attachments)).Info("Deleted finding with its evidence")
	return nil
}
