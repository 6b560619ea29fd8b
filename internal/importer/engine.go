// ABOUTME: Import deduplication engine reconciling scanner candidates with stored findings.
// ABOUTME: Guarantees at most one finding per external ID and one import cycle per project.

package importer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jfeddern/VulnLedger/internal/apperr"
	"github.com/jfeddern/VulnLedger/internal/types"
	"github.com/sirupsen/logrus"
)

// Store is the subset of the findings store used for imports
type Store interface {
	ListExternalIDs(ctx context.Context, projectID string) (map[string]struct{}, error)
	CreateFinding(ctx context.Context, projectID string, fields types.FindingFields) (types.Finding, error)
}

// Recorder receives import telemetry
type Recorder interface {
	ImportPlanned(projectID string, toCreate, toSkip int)
	ImportExecuted(projectID string, created int)
	ImportConflict(projectID string)
}

// Engine plans and executes imports
type Engine struct {
	store    Store
	recorder Recorder
	logger   *logrus.Logger

	mutex    sync.Mutex
	inFlight map[string]time.Time
}

// NewEngine creates an import engine. recorder may be nil.
func NewEngine(store Store, recorder Recorder, logger *logrus.Logger) *Engine {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Engine{
		store:    store,
		recorder: recorder,
		logger:   logger,
		inFlight: make(map[string]time.Time),
	}
}

// begin claims the import slot of a project
func (e *Engine) begin(projectID string) (func(), error) {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if started, busy := e.inFlight[projectID]; busy {
		e.recorder.ImportConflict(projectID)
		return nil, apperr.Newf(apperr.KindConflict, "import",
			"an import for project %s has been running since %s", projectID, started.Format(time.RFC3339))
	}
	e.inFlight[projectID] = time.Now()

	return func() {
		e.mutex.Lock()
		delete(e.inFlight, projectID)
		e.mutex.Unlock()
	}, nil
}

// PlanImport partitions candidates into those to create and those whose external ID is
// already present in the project. It never writes to the store.
func (e *Engine) PlanImport(ctx context.Context, projectID string, candidates []types.ImportCandidate) (types.ImportPlan, error) {
	release, err := e.begin(projectID)
	if err != nil {
		return types.ImportPlan{}, err
	}
	defer release()

	return e.plan(ctx, projectID, candidates)
}

func (e *Engine) plan(ctx context.Context, projectID string, candidates []types.ImportCandidate) (types.ImportPlan, error) {
	logger := e.logger.WithFields(logrus.Fields{
		"component":  "importer",
		"project_id": projectID,
	})

	normalized, err := Normalize(candidates, e.logger)
	if err != nil {
		return types.ImportPlan{}, err
	}

	existing, err := e.store.ListExternalIDs(ctx, projectID)
	if err != nil {
		return types.ImportPlan{}, fmt.Errorf("failed to list external IDs of project %s: %w", projectID, err)
	}

	plan := types.ImportPlan{
		ProjectID: projectID,
		ToCreate:  []types.ImportCandidate{},
		ToSkip:    []types.ImportCandidate{},
	}
	batch := make(map[string]struct{}, len(normalized))
	for _, candidate := range normalized {
		_, stored := existing[candidate.ExternalID]
		_, repeated := batch[candidate.ExternalID]
		if stored || repeated {
			plan.ToSkip = append(plan.ToSkip, candidate)
			continue
		}
		batch[candidate.ExternalID] = struct{}{}
		plan.ToCreate = append(plan.ToCreate, candidate)
	}

	e.recorder.ImportPlanned(projectID, len(plan.ToCreate), len(plan.ToSkip))
	logger.WithFields(logrus.Fields{
		"candidates": len(candidates),
		"to_create":  len(plan.ToCreate),
		"to_skip":    len(plan.ToSkip),
	}).Debug("Planned import")

	return plan, nil
}

// Execute plans the import again under the project's import slot and creates the findings
// that are both new and selected. Findings are owned by ownerID. When selection is nil every
// new candidate is imported.
func (e *Engine) Execute(ctx context.Context, projectID, ownerID string, candidates []types.ImportCandidate, selection *Selection) (types.ImportResult, error) {
	logger := e.logger.WithFields(logrus.Fields{
		"component":  "importer",
		"project_id": projectID,
		"owner_id":   ownerID,
	})

	if ownerID == "" {
		return types.ImportResult{}, apperr.New(apperr.KindValidation, "execute_import", "an owning tester is required")
	}

	release, err := e.begin(projectID)
	if err != nil {
		return types.ImportResult{}, err
	}
	defer release()

	plan, err := e.plan(ctx, projectID, candidates)
	if err != nil {
		return types.ImportResult{}, err
	}

	result := types.ImportResult{
		Created:    []types.Finding{},
		Skipped:    []string{},
		Unselected: []string{},
	}
	for _, candidate := range plan.ToSkip {
		result.Skipped = append(result.Skipped, candidate.ExternalID)
	}

	for _, candidate := range plan.ToCreate {
		if selection != nil && !selection.IsSelected(candidate.ExternalID) {
			result.Unselected = append(result.Unselected, candidate.ExternalID)
			continue
		}

		finding, err := e.store.CreateFinding(ctx, projectID, candidate.Fields(ownerID))
		if err != nil {
			logger.WithError(err).WithField("external_id", candidate.ExternalID).Error("Failed to create imported finding")
			e.recorder.ImportExecuted(projectID, len(result.Created))
			return result, fmt.Errorf("failed to import %s: %w", candidate.ExternalID, err)
		}
		result.Created = append(result.Created, finding)
	}

	e.recorder.ImportExecuted(projectID, len(result.Created))
	logger.WithFields(logrus.Fields{
		"created":    len(result.Created),
		"skipped":    len(result.Skipped),
		"unselected": len(result.Unselected),
	}).Info("Import completed")

	return result, nil
}

type nopRecorder struct{}

func (nopRecorder) ImportPlanned(string, int, int) {}
func (nopRecorder) ImportExecuted(string, int)     {}
func (nopRecorder) ImportConflict(string)          {}
