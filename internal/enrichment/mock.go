// ABOUTME: Mock text-generation upstream for local testing and development.
// ABOUTME: Produces deterministic drafts without calling any external service.

package enrichment

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

// MockUpstream drafts canned narratives derived from the vulnerability name
type MockUpstream struct {
	logger *logrus.Logger
}

// NewMockUpstream creates a mock upstream
func NewMockUpstream(logger *logrus.Logger) *MockUpstream {
	return &MockUpstream{logger: logger}
}

func (m *MockUpstream) Name() string {
	return "mock"
}

func (m *MockUpstream) Generate(ctx context.Context, req Request) ([]byte, error) {
	m.logger.WithField("vulnerability", req.VulnerabilityName).Debug("Generating mock draft")

	name := req.VulnerabilityName
	lower := strings.ToLower(name)

	draft := map[string]string{
		"description":    fmt.Sprintf("%s was identified during testing of the target application.", name),
		"impact":         fmt.Sprintf("An attacker exploiting %s may compromise the confidentiality, integrity or availability of the affected component.", name),
		"recommendation": fmt.Sprintf("Remediate %s following vendor guidance and verify the fix with a retest.", name),
	}

	switch {
	case strings.Contains(lower, "sql"):
		draft["recommendation"] = "Use parameterised queries for every database access and validate all user input on the server side."
	case strings.Contains(lower, "xss") || strings.Contains(lower, "cross-site scripting"):
		draft["recommendation"] = "Encode all untrusted output for its HTML context and deploy a restrictive Content-Security-Policy."
	case strings.Contains(lower, "tls") || strings.Contains(lower, "ssl"):
		draft["recommendation"] = "Disable legacy protocol versions and weak cipher suites on every exposed endpoint."
	}

	return json.Marshal(draft)
}
