// ABOUTME: Unit tests for the in-memory findings store.
// ABOUTME: Tests defaults, partial updates, attachment ordering and cascading deletes.

package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jfeddern/VulnLedger/internal/apperr"
	"github.com/jfeddern/VulnLedger/internal/types"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore() *Memory {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	m := NewMemory(logger)
	m.now = func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }
	return m
}

func uploads(names ...string) []types.Upload {
	var files []types.Upload
	for _, name := range names {
		files = append(files, types.Upload{FileName: name, ContentType: "image/png", Data: []byte(name)})
	}
	return files
}

func TestCreateFindingDefaults(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	finding, err := s.CreateFinding(ctx, "project-1", types.FindingFields{
		OwnerID:  "alice",
		Name:     "Stored XSS",
		Severity: types.SeverityMedium,
	})
	require.NoError(t, err)

	assert.NotEmpty(t, finding.ID)
	assert.Equal(t, types.VisibilityAll, finding.VisibilityLevel)
	assert.Equal(t, types.StatusOpen, finding.Status)
	assert.Equal(t, "alice", finding.OwnerID)
	assert.Equal(t, time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC), finding.CreatedAt)

	attachments, err := s.ListAttachments(ctx, finding.ID)
	require.NoError(t, err)
	assert.Empty(t, attachments)
}

func TestUpdateFindingKeepsOwner(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	finding, err := s.CreateFinding(ctx, "project-1", types.FindingFields{OwnerID: "alice", Name: "Old", Severity: types.SeverityLow})
	require.NoError(t, err)

	name := "New"
	score := 7.5
	updated, err := s.UpdateFinding(ctx, finding.ID, types.FindingUpdate{Name: &name, CVSSScore: &score})
	require.NoError(t, err)

	assert.Equal(t, "New", updated.Name)
	assert.Equal(t, "alice", updated.OwnerID)
	assert.Equal(t, types.SeverityLow, updated.Severity)
	require.NotNil(t, updated.CVSSScore)
	assert.Equal(t, 7.5, *updated.CVSSScore)

	_, err = s.UpdateFinding(ctx, "missing", types.FindingUpdate{Name: &name})
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
}

func TestAttachmentsAppendInOrder(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	finding, err := s.CreateFinding(ctx, "project-1", types.FindingFields{OwnerID: "alice", Name: "IDOR", Severity: types.SeverityHigh})
	require.NoError(t, err)

	first, err := s.AddAttachments(ctx, finding.ID, uploads("a.png", "b.png", "c.png"), []string{"login page"})
	require.NoError(t, err)
	require.Len(t, first, 3)
	assert.Equal(t, "a.png", first[0].FileName)
	assert.Equal(t, "login page", first[0].Caption)
	assert.Equal(t, "", first[1].Caption)
	assert.Equal(t, "", first[2].Caption)

	second, err := s.AddAttachments(ctx, finding.ID, uploads("d.png"), nil)
	require.NoError(t, err)

	all, err := s.ListAttachments(ctx, finding.ID)
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, second[0].ID, all[3].ID)

	require.NoError(t, s.DeleteAttachment(ctx, finding.ID, first[1].ID))
	all, err = s.ListAttachments(ctx, finding.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{first[0].ID, first[2].ID, second[0].ID}, []string{all[0].ID, all[1].ID, all[2].ID})

	_, err = s.ReadBlob(ctx, first[1].BlobReference)
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))

	data, err := s.ReadBlob(ctx, first[0].BlobReference)
	require.NoError(t, err)
	assert.Equal(t, []byte("a.png"), data)
}

func TestAttachmentErrors(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	_, err := s.AddAttachments(ctx, "missing", uploads("a.png"), nil)
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))

	finding, err := s.CreateFinding(ctx, "project-1", types.FindingFields{OwnerID: "alice", Name: "SSRF", Severity: types.SeverityHigh})
	require.NoError(t, err)

	_, err = s.AddAttachments(ctx, finding.ID, nil, nil)
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))

	err = s.DeleteAttachment(ctx, finding.ID, "missing")
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
}

func TestDeleteFindingCascades(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	doomed, err := s.CreateFinding(ctx, "project-1", types.FindingFields{OwnerID: "alice", Name: "RCE", Severity: types.SeverityCritical})
	require.NoError(t, err)
	survivor, err := s.CreateFinding(ctx, "project-1", types.FindingFields{OwnerID: "bob", Name: "CSRF", Severity: types.SeverityLow})
	require.NoError(t, err)

	doomedAttachments, err := s.AddAttachments(ctx, doomed.ID, uploads("1.png", "2.png", "3.png"), nil)
	require.NoError(t, err)
	_, err = s.AddAttachments(ctx, survivor.ID, uploads("x.png"), nil)
	require.NoError(t, err)

	require.NoError(t, s.DeleteFinding(ctx, doomed.ID))

	_, err = s.GetFinding(ctx, doomed.ID)
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
	_, err = s.ListAttachments(ctx, doomed.ID)
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
	for _, attachment := range doomedAttachments {
		_, err := s.ReadBlob(ctx, attachment.BlobReference)
		assert.Error(t, err)
	}

	remaining, err := s.ListAttachments(ctx, survivor.ID)
	require.NoError(t, err)
	assert.Len(t, remaining, 1)

	findings, attachments := s.Stats()
	assert.Equal(t, 1, findings)
	assert.Equal(t, 1, attachments)

	assert.True(t, apperr.IsKind(s.DeleteFinding(ctx, doomed.ID), apperr.KindNotFound))
}

func TestListExternalIDs(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	_, err := s.CreateFinding(ctx, "project-1", types.FindingFields{OwnerID: "alice", Name: "a", Severity: types.SeverityLow, ExternalID: "ext-1"})
	require.NoError(t, err)
	_, err = s.CreateFinding(ctx, "project-1", types.FindingFields{OwnerID: "alice", Name: "manual", Severity: types.SeverityLow})
	require.NoError(t, err)
	_, err = s.CreateFinding(ctx, "project-2", types.FindingFields{OwnerID: "alice", Name: "b", Severity: types.SeverityLow, ExternalID: "ext-2"})
	require.NoError(t, err)

	ids, err := s.ListExternalIDs(ctx, "project-1")
	require.NoError(t, err)
	assert.Equal(t, map[string]struct{}{"ext-1": {}}, ids)

	all, err := s.AllFindings(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestCreateFindingRejectsDuplicateExternalID(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	_, err := s.CreateFinding(ctx, "project-1", types.FindingFields{OwnerID: "alice", Name: "a", Severity: types.SeverityLow, ExternalID: "ext-1"})
	require.NoError(t, err)

	_, err = s.CreateFinding(ctx, "project-1", types.FindingFields{OwnerID: "bob", Name: "a again", Severity: types.SeverityLow, ExternalID: "ext-1"})
	assert.True(t, apperr.IsKind(err, apperr.KindConflict))

	_, err = s.CreateFinding(ctx, "project-2", types.FindingFields{OwnerID: "bob", Name: "other project", Severity: types.SeverityLow, ExternalID: "ext-1"})
	require.NoError(t, err)

	findingCount, _ := s.Stats()
	assert.Equal(t, 2, findingCount)
}

func TestConcurrentReadsNeverSeeHalfDeletedFinding(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	finding, err := s.CreateFinding(ctx, "project-1", types.FindingFields{OwnerID: "alice", Name: "LFI", Severity: types.SeverityHigh})
	require.NoError(t, err)
	_, err = s.AddAttachments(ctx, finding.ID, uploads("1.png", "2.png", "3.png"), nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	violations := make(chan string, 100)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				attachments, listErr := s.ListAttachments(ctx, finding.ID)
				if listErr == nil && len(attachments) != 3 {
					violations <- "finding visible with partial attachments"
				}
			}
		}()
	}

	require.NoError(t, s.DeleteFinding(ctx, finding.ID))
	wg.Wait()
	close(violations)

	for v := range violations {
		t.Error(v)
	}
}
