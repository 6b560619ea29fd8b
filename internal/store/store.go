// ABOUTME: Findings store contract and an in-memory reference implementation.
// ABOUTME: The memory store keeps findings, attachments and evidence blobs under one lock.

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jfeddern/VulnLedger/internal/apperr"
	"github.com/jfeddern/VulnLedger/internal/types"
	"github.com/sirupsen/logrus"
)

// FindingStore is the system of record consumed by the core
type FindingStore interface {
	ListFindings(ctx context.Context, projectID string) ([]types.Finding, error)
	GetFinding(ctx context.Context, id string) (types.Finding, error)
	CreateFinding(ctx context.Context, projectID string, fields types.FindingFields) (types.Finding, error)
	UpdateFinding(ctx context.Context, id string, update types.FindingUpdate) (types.Finding, error)
	DeleteFinding(ctx context.Context, id string) error
	AddAttachments(ctx context.Context, findingID string, files []types.Upload, captions []string) ([]types.Attachment, error)
	DeleteAttachment(ctx context.Context, findingID, attachmentID string) error
	ListAttachments(ctx context.Context, findingID string) ([]types.Attachment, error)
	ListExternalIDs(ctx context.Context, projectID string) (map[string]struct{}, error)
}

// Memory is a FindingStore backed by process memory. Deleting a finding removes its
// attachments and blobs in the same critical section, so readers never see one without the other.
type Memory struct {
	mutex       sync.RWMutex
	findings    map[string]*types.Finding
	byProject   map[string][]string
	attachments map[string][]types.Attachment
	blobs       map[string][]byte
	now         func() time.Time
	logger      *logrus.Logger
}

var _ FindingStore = (*Memory)(nil)

// NewMemory creates an empty in-memory store
func NewMemory(logger *logrus.Logger) *Memory {
	return &Memory{
		findings:    make(map[string]*types.Finding),
		byProject:   make(map[string][]string),
		attachments: make(map[string][]types.Attachment),
		blobs:       make(map[string][]byte),
		now:         time.Now,
		logger:      logger,
	}
}

func (m *Memory) ListFindings(ctx context.Context, projectID string) ([]types.Finding, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	ids := m.byProject[projectID]
	findings := make([]types.Finding, 0, len(ids))
	for _, id := range ids {
		findings = append(findings, *m.findings[id])
	}
	return findings, nil
}

// AllFindings returns every stored finding ordered by project and creation
func (m *Memory) AllFindings(ctx context.Context) ([]types.Finding, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	projects := make([]string, 0, len(m.byProject))
	for projectID := range m.byProject {
		projects = append(projects, projectID)
	}
	sort.Strings(projects)

	findings := make([]types.Finding, 0, len(m.findings))
	for _, projectID := range projects {
		for _, id := range m.byProject[projectID] {
			findings = append(findings, *m.findings[id])
		}
	}
	return findings, nil
}

func (m *Memory) GetFinding(ctx context.Context, id string) (types.Finding, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	finding, exists := m.findings[id]
	if !exists {
		return types.Finding{}, apperr.Newf(apperr.KindNotFound, "get_finding", "finding %s not found", id)
	}
	return *finding, nil
}

func (m *Memory) CreateFinding(ctx context.Context, projectID string, fields types.FindingFields) (types.Finding, error) {
	finding := types.Finding{
		ID:              uuid.NewString(),
		ProjectID:       projectID,
		OwnerID:         fields.OwnerID,
		ExternalID:      fields.ExternalID,
		Name:            fields.Name,
		Severity:        fields.Severity,
		Status:          fields.Status,
		VisibilityLevel: types.VisibilityAll,
		Description:     fields.Description,
		Impact:          fields.Impact,
		Recommendation:  fields.Recommendation,
		CreatedAt:       m.now().UTC(),
	}
	if finding.Status == "" {
		finding.Status = types.StatusOpen
	}
	if fields.CVSSScore != nil {
		score := *fields.CVSSScore
		finding.CVSSScore = &score
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	if finding.ExternalID != "" {
		for _, id := range m.byProject[projectID] {
			if m.findings[id].ExternalID == finding.ExternalID {
				return types.Finding{}, apperr.Newf(apperr.KindConflict, "create_finding",
					"external id %s already exists in project %s", finding.ExternalID, projectID)
			}
		}
	}

	m.findings[finding.ID] = &finding
	m.byProject[projectID] = append(m.byProject[projectID], finding.ID)

	m.logger.WithFields(logrus.Fields{
		"finding_id":  finding.ID,
		"project_id":  projectID,
		"external_id": finding.ExternalID,
	}).Debug("Stored finding")

	return finding, nil
}

func (m *Memory) UpdateFinding(ctx context.Context, id string, update types.FindingUpdate) (types.Finding, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	finding, exists := m.findings[id]
	if !exists {
		return types.Finding{}, apperr.Newf(apperr.KindNotFound, "update_finding", "finding %s not found", id)
	}

	update.Apply(finding)
	return *finding, nil
}

func (m *Memory) DeleteFinding(ctx context.Context, id string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	finding, exists := m.findings[id]
	if !exists {
		return apperr.Newf(apperr.KindNotFound, "delete_finding", "finding %s not found", id)
	}

	removed := len(m.attachments[id])
	for _, attachment := range m.attachments[id] {
		delete(m.blobs, attachment.BlobReference)
	}
	delete(m.attachments, id)

	ids := m.byProject[finding.ProjectID]
	for i, candidate := range ids {
		if candidate == id {
			m.byProject[finding.ProjectID] = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}
	if len(m.byProject[finding.ProjectID]) == 0 {
		delete(m.byProject, finding.ProjectID)
	}
	delete(m.findings, id)

	m.logger.WithFields(logrus.Fields{
		"finding_id":          id,
		"removed_attachments": removed,
	}).Debug("Deleted finding")

	return nil
}

func (m *Memory) AddAttachments(ctx context.Context, findingID string, files []types.Upload, captions []string) ([]types.Attachment, error) {
	if len(files) == 0 {
		return nil, apperr.New(apperr.KindValidation, "add_attachments", "at least one file is required")
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	if _, exists := m.findings[findingID]; !exists {
		return nil, apperr.Newf(apperr.KindNotFound, "add_attachments", "finding %s not found", findingID)
	}

	createdAt := m.now().UTC()
	added := make([]types.Attachment, 0, len(files))
	for i, file := range files {
		caption := ""
		if i < len(captions) {
			caption = captions[i]
		}

		ref := uuid.NewString()
		data := make([]byte, len(file.Data))
		copy(data, file.Data)
		m.blobs[ref] = data

		added = append(added, types.Attachment{
			ID:            uuid.NewString(),
			FindingID:     findingID,
			Caption:       caption,
			BlobReference: ref,
			FileName:      file.FileName,
			ContentType:   file.ContentType,
			Size:          int64(len(file.Data)),
			CreatedAt:     createdAt,
		})
	}
	m.attachments[findingID] = append(m.attachments[findingID], added...)

	return added, nil
}

func (m *Memory) DeleteAttachment(ctx context.Context, findingID, attachmentID string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	attachments := m.attachments[findingID]
	for i, attachment := range attachments {
		if attachment.ID != attachmentID {
			continue
		}
		delete(m.blobs, attachment.BlobReference)
		m.attachments[findingID] = append(attachments[:i:i], attachments[i+1:]...)
		return nil
	}

	return apperr.Newf(apperr.KindNotFound, "delete_attachment",
		"attachment %s not found on finding %s", attachmentID, findingID)
}

func (m *Memory) ListAttachments(ctx context.Context, findingID string) ([]types.Attachment, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	if _, exists := m.findings[findingID]; !exists {
		return nil, apperr.Newf(apperr.KindNotFound, "list_attachments", "finding %s not found", findingID)
	}

	attachments := make([]types.Attachment, len(m.attachments[findingID]))
	copy(attachments, m.attachments[findingID])
	return attachments, nil
}

// ReadBlob returns the evidence bytes behind a blob reference
func (m *Memory) ReadBlob(ctx context.Context, ref string) ([]byte, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	data, exists := m.blobs[ref]
	if !exists {
		return nil, apperr.Newf(apperr.KindNotFound, "read_blob", "blob %s not found", ref)
	}
	return data, nil
}

func (m *Memory) ListExternalIDs(ctx context.Context, projectID string) (map[string]struct{}, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	ids := make(map[string]struct{})
	for _, id := range m.byProject[projectID] {
		if externalID := m.findings[id].ExternalID; externalID != "" {
			ids[externalID] = struct{}{}
		}
	}
	return ids, nil
}

// Stats returns the number of stored findings and attachments
func (m *Memory) Stats() (findings int, attachments int) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	for _, list := range m.attachments {
		attachments += len(list)
	}
	return len(m.findings), attachments
}
