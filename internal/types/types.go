// ABOUTME: Common types shared across the VulnLedger system.
// ABOUTME: Defines findings, attachments, import candidates and viewer context.

package types

import (
	"strings"
	"time"
)

// Severity of a finding
type Severity string

const (
	SeverityCritical      Severity = "Critical"
	SeverityHigh          Severity = "High"
	SeverityMedium        Severity = "Medium"
	SeverityLow           Severity = "Low"
	SeverityInformational Severity = "Informational"
)

// Severities lists every severity from most to least severe
var Severities = []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInformational}

// ParseSeverity maps scanner and user spellings onto a Severity.
// Scanner-only levels such as UNDEFINED fall back to Informational.
func ParseSeverity(value string) (Severity, bool) {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case "CRITICAL":
		return SeverityCritical, true
	case "HIGH":
		return SeverityHigh, true
	case "MEDIUM":
		return SeverityMedium, true
	case "LOW":
		return SeverityLow, true
	case "INFORMATIONAL", "INFO", "UNDEFINED", "UNTRIAGED":
		return SeverityInformational, true
	default:
		return "", false
	}
}

// Status of a finding
type Status string

const (
	StatusOpen           Status = "open"
	StatusClosed         Status = "closed"
	StatusNotInScope     Status = "not_in_scope"
	StatusObsolete       Status = "obsolete"
	StatusUnableToVerify Status = "unable_to_verify"
)

// Visibility controls which testers may see a finding
type Visibility string

const (
	VisibilityAll     Visibility = "all"
	VisibilityPrivate Visibility = "private"
)

// Valid reports whether v is a known visibility level
func (v Visibility) Valid() bool {
	return v == VisibilityAll || v == VisibilityPrivate
}

// Role of the viewer acting on a finding
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleClient Role = "client"
	RoleTester Role = "tester"
)

// ParseRole converts an inbound role name to a Role
func ParseRole(value string) (Role, bool) {
	switch Role(strings.ToLower(strings.TrimSpace(value))) {
	case RoleAdmin:
		return RoleAdmin, true
	case RoleClient:
		return RoleClient, true
	case RoleTester:
		return RoleTester, true
	default:
		return "", false
	}
}

// ViewerContext identifies who is reading or mutating findings. It is never persisted.
type ViewerContext struct {
	Role     Role
	Identity string
}

// Finding represents a single reported vulnerability instance within a project
type Finding struct {
	ID              string     `json:"id"`
	ProjectID       string     `json:"project_id"`
	OwnerID         string     `json:"owner_id"`
	ExternalID      string     `json:"external_id,omitempty"` // Empty for manually authored findings
	Name            string     `json:"name"`
	Severity        Severity   `json:"severity"`
	Status          Status     `json:"status"`
	VisibilityLevel Visibility `json:"visibility_level"`
	Description     string     `json:"description"`
	Impact          string     `json:"impact"`
	Recommendation  string     `json:"recommendation"`
	CVSSScore       *float64   `json:"cvss_score,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// FindingFields holds the caller-supplied fields of a new finding
type FindingFields struct {
	OwnerID        string   `json:"owner_id" validate:"required"`
	ExternalID     string   `json:"external_id,omitempty"`
	Name           string   `json:"name" validate:"required,max=500"`
	Severity       Severity `json:"severity" validate:"required,oneof=Critical High Medium Low Informational"`
	Status         Status   `json:"status" validate:"omitempty,oneof=open closed not_in_scope obsolete unable_to_verify"`
	Description    string   `json:"description"`
	Impact         string   `json:"impact"`
	Recommendation string   `json:"recommendation"`
	CVSSScore      *float64 `json:"cvss_score,omitempty" validate:"omitempty,min=0,max=10"`
}

// FindingUpdate is a partial update; nil fields are left untouched.
// Owner and project are deliberately absent.
type FindingUpdate struct {
	Name            *string     `json:"name,omitempty" validate:"omitempty,min=1,max=500"`
	Severity        *Severity   `json:"severity,omitempty" validate:"omitempty,oneof=Critical High Medium Low Informational"`
	Status          *Status     `json:"status,omitempty" validate:"omitempty,oneof=open closed not_in_scope obsolete unable_to_verify"`
	VisibilityLevel *Visibility `json:"-"`
	Description     *string     `json:"description,omitempty"`
	Impact          *string     `json:"impact,omitempty"`
	Recommendation  *string     `json:"recommendation,omitempty"`
	CVSSScore       *float64    `json:"cvss_score,omitempty" validate:"omitempty,min=0,max=10"`
}

// Apply copies the set fields of u onto f
func (u FindingUpdate) Apply(f *Finding) {
	if u.Name != nil {
		f.Name = *u.Name
	}
	if u.Severity != nil {
		f.Severity = *u.Severity
	}
	if u.Status != nil {
		f.Status = *u.Status
	}
	if u.VisibilityLevel != nil {
		f.VisibilityLevel = *u.VisibilityLevel
	}
	if u.Description != nil {
		f.Description = *u.Description
	}
	if u.Impact != nil {
		f.Impact = *u.Impact
	}
	if u.Recommendation != nil {
		f.Recommendation = *u.Recommendation
	}
	if u.CVSSScore != nil {
		score := *u.CVSSScore
		f.CVSSScore = &score
	}
}

// FindingView is a finding as returned to a viewer. The flags are only set for tester viewers
// and are derived on every read.
type FindingView struct {
	Finding
	IsOwn               *bool `json:"is_own,omitempty"`
	CanChangeVisibility *bool `json:"can_change_visibility,omitempty"`
}

// Attachment is an evidence image bound to exactly one finding
type Attachment struct {
	ID            string    `json:"id"`
	FindingID     string    `json:"finding_id"`
	Caption       string    `json:"caption"`
	BlobReference string    `json:"blob_reference"`
	FileName      string    `json:"file_name"`
	ContentType   string    `json:"content_type"`
	Size          int64     `json:"size"`
	CreatedAt     time.Time `json:"created_at"`
}

// Upload is one evidence file submitted for attachment
type Upload struct {
	FileName    string
	ContentType string
	Data        []byte
}

// ImportCandidate is a scanner-reported finding that has not been persisted yet
type ImportCandidate struct {
	ExternalID     string   `json:"external_id" validate:"required"`
	Name           string   `json:"name" validate:"required"`
	Severity       Severity `json:"severity" validate:"required,oneof=Critical High Medium Low Informational"`
	Status         Status   `json:"status,omitempty"`
	Description    string   `json:"description"`
	Impact         string   `json:"impact"`
	Recommendation string   `json:"recommendation"`
	CVSSScore      *float64 `json:"cvss_score,omitempty"`
	CVSSVector     string   `json:"cvss_vector,omitempty"`
}

// Fields converts the candidate into creation fields owned by ownerID
func (c ImportCandidate) Fields(ownerID string) FindingFields {
	return FindingFields{
		OwnerID:        ownerID,
		ExternalID:     c.ExternalID,
		Name:           c.Name,
		Severity:       c.Severity,
		Status:         c.Status,
		Description:    c.Description,
		Impact:         c.Impact,
		Recommendation: c.Recommendation,
		CVSSScore:      c.CVSSScore,
	}
}

// ImportPlan partitions candidates by whether their external ID already exists in the project
type ImportPlan struct {
	ProjectID string            `json:"project_id"`
	ToCreate  []ImportCandidate `json:"to_create"`
	ToSkip    []ImportCandidate `json:"to_skip"`
}

// ImportResult reports what an import actually did
type ImportResult struct {
	Created    []Finding `json:"created"`
	Skipped    []string  `json:"skipped"`    // Already present in the project
	Unselected []string  `json:"unselected"` // New, but not in the selection set
}

// EnrichmentResult holds the drafted narrative fields of a finding
type EnrichmentResult struct {
	Description    string `json:"description"`
	Impact         string `json:"impact"`
	Recommendation string `json:"recommendation"`
}

// ImageInfo is a container image discovered as a source of scanner candidates
type ImageInfo struct {
	URI          string `json:"uri"`
	Namespace    string `json:"namespace"`
	Workload     string `json:"workload"`
	WorkloadType string `json:"workload_type"`
}
