// ABOUTME: Mock ECR candidate source for local testing and development.
// ABOUTME: Produces deterministic scanner candidates per image profile without AWS credentials.

package mock

import (
	"context"
	"fmt"
	"strings"

	"github.com/jfeddern/VulnLedger/internal/scanner/aws"
	"github.com/jfeddern/VulnLedger/internal/types"
	"github.com/sirupsen/logrus"
)

type vulnerability struct {
	id          string
	pkg         string
	version     string
	fixVersion  string
	severity    types.Severity
	score       float64
	vector      string
	description string
}

var (
	webServerProfile = []vulnerability{
		{"CVE-2024-7592", "nginx", "1.20.1", "1.20.2", types.SeverityCritical, 9.8, "CVSS:3.1/AV:N/AC:L/PR:N/UI:N/S:U/C:H/I:H/A:H", "Buffer overflow in the nginx HTTP/2 module"},
		{"CVE-2024-6387", "openssh-server", "8.9p1", "8.9p1-3ubuntu0.7", types.SeverityHigh, 8.1, "CVSS:3.1/AV:N/AC:H/PR:N/UI:N/S:U/C:H/I:H/A:H", "OpenSSH remote code execution via signal handler race"},
		{"CVE-2024-2961", "libc6", "2.35-0ubuntu3.1", "2.35-0ubuntu3.8", types.SeverityMedium, 5.5, "", "Buffer overflow in GNU libc iconv"},
	}
	databaseProfile = []vulnerability{
		{"CVE-2024-3094", "xz-utils", "5.4.1", "5.4.5", types.SeverityCritical, 10.0, "CVSS:3.1/AV:N/AC:L/PR:N/UI:N/S:C/C:H/I:H/A:H", "Backdoor in xz utils liblzma"},
		{"CVE-2024-21096", "mysql-server", "8.0.32", "8.0.37", types.SeverityHigh, 7.2, "", "MySQL Server privilege escalation"},
		{"CVE-2024-1234", "postgres", "14.9", "14.11", types.SeverityLow, 2.1, "", "Sensitive values written to database logs"},
		{"CVE-2024-5678", "libpq", "14.9", "14.11", types.SeverityLow, 3.1, "", "Connection pooling memory leak"},
	}
	pythonAPIProfile = []vulnerability{
		{"CVE-2024-35195", "requests", "2.28.1", "2.32.0", types.SeverityHigh, 7.5, "", "Requests session ignores certificate verification after first request"},
		{"CVE-2024-6232", "urllib3", "1.26.15", "1.26.19", types.SeverityMedium, 4.8, "", "urllib3 MITM via IPv6-mapped IPv4 addresses"},
		{"CVE-2024-9999", "setuptools", "65.5.0", "65.5.1", types.SeverityLow, 2.3, "", "setuptools package index command injection"},
		{"CVE-2024-8888", "flask", "2.2.2", "2.3.3", types.SeverityLow, 3.1, "", "Flask session cookie caching issue"},
	}
	nodeAppProfile = []vulnerability{
		{"CVE-2024-21490", "@angular/core", "15.2.8", "15.2.10", types.SeverityHigh, 6.9, "", "Angular cross-site scripting in server-side rendering"},
		{"CVE-2024-21491", "express", "4.18.2", "4.19.2", types.SeverityMedium, 5.3, "", "Express open redirect in malformed URLs"},
		{"CVE-2024-1111", "node", "18.17.0", "18.19.1", types.SeverityLow, 2.8, "", "Node.js path traversal on Windows"},
	}
	genericProfile = []vulnerability{
		{"CVE-2024-0727", "openssl", "3.0.8", "3.0.13", types.SeverityMedium, 5.5, "CVSS:3.1/AV:L/AC:L/PR:N/UI:R/S:U/C:N/I:N/A:H", "OpenSSL denial of service on malformed PKCS12 files"},
		{"CVE-2024-2398", "curl", "7.81.0", "8.7.1", types.SeverityLow, 3.4, "", "curl HTTP/2 push headers memory leak"},
	}
)

// MockECRSource implements CandidateSource with canned scan results
type MockECRSource struct {
	logger *logrus.Logger
}

func NewMockECRSource(logger *logrus.Logger) *MockECRSource {
	return &MockECRSource{
		logger: logger,
	}
}

func (m *MockECRSource) Name() string {
	return "mock-ecr"
}

func (m *MockECRSource) ParseImageURI(imageURI string) (repository, tag string, err error) {
	return aws.ParseImageURI(imageURI)
}

// GetImageCandidates picks a vulnerability profile from the repository name
func (m *MockECRSource) GetImageCandidates(ctx context.Context, imageURI string) ([]types.ImportCandidate, error) {
	m.logger.WithField("image_uri", imageURI).Debug("Getting mock scanner candidates")

	repo, tag, err := m.ParseImageURI(imageURI)
	if err != nil {
		return nil, err
	}

	var profile []vulnerability
	switch {
	case strings.Contains(repo, "nginx") || strings.Contains(repo, "web"):
		profile = webServerProfile
	case strings.Contains(repo, "postgres") || strings.Contains(repo, "mysql") || strings.Contains(repo, "database"):
		profile = databaseProfile
	case strings.Contains(repo, "python") || strings.Contains(repo, "api"):
		profile = pythonAPIProfile
	case strings.Contains(repo, "node") || strings.Contains(repo, "frontend"):
		profile = nodeAppProfile
	default:
		profile = genericProfile
	}

	candidates := make([]types.ImportCandidate, 0, len(profile))
	for _, v := range profile {
		score := v.score
		candidates = append(candidates, types.ImportCandidate{
			ExternalID:     aws.ExternalID(repo, tag, v.id, v.pkg),
			Name:           fmt.Sprintf("%s in %s (%s)", v.id, v.pkg, repo),
			Severity:       v.severity,
			Description:    v.description,
			Impact:         fmt.Sprintf("Affects %s %s in %s:%s.", v.pkg, v.version, repo, tag),
			Recommendation: fmt.Sprintf("Upgrade %s to %s or later.", v.pkg, v.fixVersion),
			CVSSScore:      &score,
			CVSSVector:     v.vector,
		})
	}
	return candidates, nil
}
