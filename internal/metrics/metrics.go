// ABOUTME: Prometheus metrics exposition for findings, imports and enrichment.
// ABOUTME: Rebuilds finding gauges per scrape and keeps counters for import and enrichment activity.

package metrics

import (
	"context"
	"net/http"
	"strings"

	"github.com/jfeddern/VulnLedger/internal/types"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// FindingsProvider exposes the stored findings for scraping
type FindingsProvider interface {
	AllFindings(ctx context.Context) ([]types.Finding, error)
	Stats() (findings int, attachments int)
}

type MetricsHandler struct {
	provider FindingsProvider
	logger   *logrus.Logger

	// Rebuilt on every scrape
	findingCount *prometheus.GaugeVec
	findingInfo  *prometheus.GaugeVec
	storeInfo    *prometheus.GaugeVec

	// Accumulated for the process lifetime
	enrichmentAttempts *prometheus.CounterVec
	enrichmentRequests *prometheus.CounterVec
	importCandidates   *prometheus.CounterVec
	importedFindings   *prometheus.CounterVec
	importConflicts    *prometheus.CounterVec
}

func NewMetricsHandler(provider FindingsProvider, logger *logrus.Logger) *MetricsHandler {
	return &MetricsHandler{
		provider: provider,
		logger:   logger,

		findingCount: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "vulnledger_findings",
				Help: "Number of stored findings by project, severity, status and visibility level",
			},
			[]string{"project_id", "severity", "status", "visibility_level"},
		),

		findingInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "vulnledger_finding_cvss_score",
				Help: "CVSS base score of findings that carry one",
			},
			[]string{"project_id", "finding_id", "external_id", "name", "severity"},
		),

		storeInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "vulnledger_store_info",
				Help: "Information about the findings store",
			},
			[]string{"info_type"},
		),

		enrichmentAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vulnledger_enrichment_attempts_total",
				Help: "Upstream enrichment attempts by outcome",
			},
			[]string{"outcome"},
		),

		enrichmentRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vulnledger_enrichment_requests_total",
				Help: "Enrichment requests by final outcome",
			},
			[]string{"outcome"},
		),

		importCandidates: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vulnledger_import_candidates_total",
				Help: "Planned import candidates by project and disposition",
			},
			[]string{"project_id", "disposition"},
		),

		importedFindings: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vulnledger_imported_findings_total",
				Help: "Findings created by imports",
			},
			[]string{"project_id"},
		),

		importConflicts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vulnledger_import_conflicts_total",
				Help: "Imports rejected because another import of the project was running",
			},
			[]string{"project_id"},
		),
	}
}

// EnrichmentAttempt records one upstream call
func (m *MetricsHandler) EnrichmentAttempt(outcome string) {
	m.enrichmentAttempts.WithLabelValues(outcome).Inc()
}

// EnrichmentOutcome records the final result of one enrichment request
func (m *MetricsHandler) EnrichmentOutcome(outcome string) {
	m.enrichmentRequests.WithLabelValues(outcome).Inc()
}

func (m *MetricsHandler) ImportPlanned(projectID string, toCreate, toSkip int) {
	m.importCandidates.WithLabelValues(projectID, "create").Add(float64(toCreate))
	m.importCandidates.WithLabelValues(projectID, "skip").Add(float64(toSkip))
}

func (m *MetricsHandler) ImportExecuted(projectID string, created int) {
	m.importedFindings.WithLabelValues(projectID).Add(float64(created))
}

func (m *MetricsHandler) ImportConflict(projectID string) {
	m.importConflicts.WithLabelValues(projectID).Inc()
}

func (m *MetricsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Fresh registry per scrape so removed findings disappear
	registry := prometheus.NewRegistry()

	registry.MustRegister(m.findingCount)
	registry.MustRegister(m.findingInfo)
	registry.MustRegister(m.storeInfo)
	registry.MustRegister(m.enrichmentAttempts)
	registry.MustRegister(m.enrichmentRequests)
	registry.MustRegister(m.importCandidates)
	registry.MustRegister(m.importedFindings)
	registry.MustRegister(m.importConflicts)

	m.findingCount.Reset()
	m.findingInfo.Reset()
	m.storeInfo.Reset()

	findings, err := m.provider.AllFindings(r.Context())
	if err != nil {
		m.logger.WithError(err).Error("Failed to read findings for metrics")
		http.Error(w, "metrics unavailable", http.StatusInternalServerError)
		return
	}

	for _, finding := range findings {
		m.findingCount.WithLabelValues(
			finding.ProjectID, string(finding.Severity), string(finding.Status), string(finding.VisibilityLevel),
		).Inc()

		if finding.CVSSScore != nil {
			m.findingInfo.WithLabelValues(
				finding.ProjectID, finding.ID, sanitizeLabelValue(finding.ExternalID), sanitizeLabelValue(finding.Name), string(finding.Severity),
			).Set(*finding.CVSSScore)
		}
	}

	findingTotal, attachmentTotal := m.provider.Stats()
	m.storeInfo.WithLabelValues("findings").Set(float64(findingTotal))
	m.storeInfo.WithLabelValues("attachments").Set(float64(attachmentTotal))

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	handler.ServeHTTP(w, r)
}

// sanitizeLabelValue cleans strings for use as Prometheus labels
func sanitizeLabelValue(value string) string {
	if value == "" {
		return "unknown"
	}

	value = strings.ReplaceAll(value, "\n", " ")
	value = strings.ReplaceAll(value, "\r", " ")
	value = strings.ReplaceAll(value, "\t", " ")

	if len(value) > 200 {
		value = value[:200] + "..."
	}

	return strings.TrimSpace(value)
}
