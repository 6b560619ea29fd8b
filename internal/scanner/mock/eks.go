// ABOUTME: Mock EKS image discoverer for local testing and development.
// ABOUTME: Simulates a cluster's deployed ECR images without requiring cluster access.

package mock

import (
	"context"
	"strings"

	"github.com/jfeddern/VulnLedger/internal/types"
	"github.com/sirupsen/logrus"
)

const mockRegistry = "123456789012.dkr.ecr.us-east-1.amazonaws.com/"

var mockWorkloads = []types.ImageInfo{
	{URI: mockRegistry + "web-frontend:v1.2.3", Namespace: "production", Workload: "web-frontend", WorkloadType: "Deployment"},
	{URI: mockRegistry + "api-backend:v2.1.0", Namespace: "production", Workload: "api-backend", WorkloadType: "Deployment"},
	{URI: mockRegistry + "postgres-db:14.9", Namespace: "production", Workload: "postgres-db", WorkloadType: "StatefulSet"},
	{URI: mockRegistry + "worker-service:latest", Namespace: "production", Workload: "worker-service", WorkloadType: "Deployment"},
	{URI: mockRegistry + "nginx-proxy:1.21.6", Namespace: "ingress-system", Workload: "nginx-proxy", WorkloadType: "Deployment"},
	{URI: mockRegistry + "python-api:dev-abc123", Namespace: "staging", Workload: "python-api", WorkloadType: "Deployment"},
	{URI: mockRegistry + "node-frontend:staging", Namespace: "staging", Workload: "node-frontend", WorkloadType: "Deployment"},
	{URI: mockRegistry + "legacy-app:v1.0.0", Namespace: "legacy", Workload: "legacy-app", WorkloadType: "Deployment"},
}

// MockEKSProvider implements ImageDiscoverer with a fixed set of workloads
type MockEKSProvider struct {
	logger *logrus.Logger
}

func NewMockEKSProvider(logger *logrus.Logger) *MockEKSProvider {
	return &MockEKSProvider{
		logger: logger,
	}
}

func (m *MockEKSProvider) Name() string {
	return "mock-eks"
}

func (m *MockEKSProvider) DiscoverImages(ctx context.Context) ([]types.ImageInfo, error) {
	images := append([]types.ImageInfo(nil), mockWorkloads...)
	m.logger.WithField("image_count", len(images)).Debug("Mock image discovery completed")
	return images, nil
}

func (m *MockEKSProvider) IsRegistryImage(imageURI string) bool {
	return strings.Contains(imageURI, ".dkr.ecr.") && strings.Contains(imageURI, ".amazonaws.com/")
}
