// ABOUTME: Ownership and visibility policy for findings.
// ABOUTME: Pure decision functions deciding what a viewer may see or change.

package policy

import (
	"github.com/jfeddern/VulnLedger/internal/apperr"
	"github.com/jfeddern/VulnLedger/internal/types"
)

// CanView reports whether viewer may read finding. Rules are evaluated in order, first match wins.
func CanView(finding types.Finding, viewer types.ViewerContext) bool {
	switch {
	case viewer.Role == types.RoleAdmin:
		return true
	case viewer.Role == types.RoleClient:
		return true
	case viewer.Role == types.RoleTester && finding.VisibilityLevel == types.VisibilityAll:
		return true
	case viewer.Role == types.RoleTester && isOwner(finding, viewer):
		return true
	default:
		return false
	}
}

// CanEditVisibility reports whether viewer may change the visibility of finding.
// Only the owning tester may; admins are not granted an override.
func CanEditVisibility(finding types.Finding, viewer types.ViewerContext) bool {
	return viewer.Role == types.RoleTester && isOwner(finding, viewer)
}

// CanEditMetadata reports whether viewer may change the descriptive fields of finding
func CanEditMetadata(finding types.Finding, viewer types.ViewerContext) bool {
	switch viewer.Role {
	case types.RoleAdmin:
		return true
	case types.RoleTester:
		return CanView(finding, viewer)
	default:
		return false
	}
}

// View returns finding as seen by viewer, annotated with is_own and can_change_visibility
// for tester viewers. The second return value is false when the viewer may not see it.
func View(finding types.Finding, viewer types.ViewerContext) (types.FindingView, bool) {
	if !CanView(finding, viewer) {
		return types.FindingView{}, false
	}

	view := types.FindingView{Finding: finding}
	if viewer.Role == types.RoleTester {
		isOwn := isOwner(finding, viewer)
		canChange := CanEditVisibility(finding, viewer)
		view.IsOwn = &isOwn
		view.CanChangeVisibility = &canChange
	}
	return view, true
}

// Filter keeps the findings viewer may see, annotated, in their original order
func Filter(findings []types.Finding, viewer types.ViewerContext) []types.FindingView {
	views := make([]types.FindingView, 0, len(findings))
	for _, finding := range findings {
		if view, ok := View(finding, viewer); ok {
			views = append(views, view)
		}
	}
	return views
}

// SetVisibility returns finding with its visibility overwritten by level.
// Setting the current level again succeeds without change.
func SetVisibility(finding types.Finding, viewer types.ViewerContext, level types.Visibility) (types.Finding, error) {
	if !level.Valid() {
		return finding, apperr.Newf(apperr.KindValidation, "set_visibility", "unknown visibility level %q", level)
	}
	if !CanEditVisibility(finding, viewer) {
		return finding, apperr.Newf(apperr.KindPermissionDenied, "set_visibility",
			"viewer %s (%s) does not own finding %s", viewer.Identity, viewer.Role, finding.ID)
	}

	finding.VisibilityLevel = level
	return finding, nil
}

func isOwner(finding types.Finding, viewer types.ViewerContext) bool {
	return finding.OwnerID == viewer.Identity
}
