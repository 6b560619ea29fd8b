// ABOUTME: Tests for scanner candidate collection and the scanner factory.
// ABOUTME: Covers fan-out, caching, partial failures and configuration handling.

package scanner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jfeddern/VulnLedger/internal/cache"
	"github.com/jfeddern/VulnLedger/internal/types"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

type MockDiscoverer struct {
	images []types.ImageInfo
	err    error
}

func (m *MockDiscoverer) Name() string                    { return "test-discoverer" }
func (m *MockDiscoverer) IsRegistryImage(uri string) bool { return uri != "" }
func (m *MockDiscoverer) DiscoverImages(ctx context.Context) ([]types.ImageInfo, error) {
	return m.images, m.err
}

type MockSource struct {
	mutex      sync.Mutex
	candidates map[string][]types.ImportCandidate
	failing    map[string]bool
	calls      map[string]int
}

func (m *MockSource) Name() string { return "test-source" }

func (m *MockSource) ParseImageURI(imageURI string) (string, string, error) {
	return imageURI, "latest", nil
}

func (m *MockSource) GetImageCandidates(ctx context.Context, imageURI string) ([]types.ImportCandidate, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.calls == nil {
		m.calls = make(map[string]int)
	}
	m.calls[imageURI]++
	if m.failing[imageURI] {
		return nil, errors.New("scan not found")
	}
	return m.candidates[imageURI], nil
}

func TestCollectorCollect(t *testing.T) {
	discoverer := &MockDiscoverer{images: []types.ImageInfo{{URI: "app"}, {URI: "db"}, {URI: "broken"}}}
	source := &MockSource{
		candidates: map[string][]types.ImportCandidate{
			"app": {
				{ExternalID: "b", Name: "B", Severity: types.SeverityHigh},
				{ExternalID: "shared", Name: "from app", Severity: types.SeverityLow},
			},
			"db": {
				{ExternalID: "a", Name: "A", Severity: types.SeverityCritical},
			},
		},
		failing: map[string]bool{"broken": true},
	}
	collector := NewCollector(discoverer, source, nil, testLogger())

	collection, err := collector.Collect(context.Background())
	require.NoError(t, err)

	ids := []string{}
	for _, candidate := range collection.Candidates {
		ids = append(ids, candidate.ExternalID)
	}
	assert.Equal(t, []string{"a", "b", "shared"}, ids)
	assert.Equal(t, 3, collection.Images)
	assert.Equal(t, []string{"broken"}, collection.FailedImages)
	assert.Equal(t, "test-discoverer", collection.Discoverer)
	assert.Equal(t, "test-source", collection.ScannerSource)
}

func TestCollectorUsesCache(t *testing.T) {
	discoverer := &MockDiscoverer{images: []types.ImageInfo{{URI: "app"}}}
	source := &MockSource{candidates: map[string][]types.ImportCandidate{
		"app": {{ExternalID: "a", Name: "A", Severity: types.SeverityHigh}},
	}}
	collector := NewCollector(discoverer, source, cache.NewCandidateCache(time.Minute, testLogger()), testLogger())

	for i := 0; i < 3; i++ {
		collection, err := collector.Collect(context.Background())
		require.NoError(t, err)
		assert.Len(t, collection.Candidates, 1)
	}
	assert.Equal(t, 1, source.calls["app"])
}

func TestCollectorFailedScansAreNotCached(t *testing.T) {
	discoverer := &MockDiscoverer{images: []types.ImageInfo{{URI: "broken"}}}
	source := &MockSource{failing: map[string]bool{"broken": true}}
	collector := NewCollector(discoverer, source, cache.NewCandidateCache(time.Minute, testLogger()), testLogger())

	_, err := collector.Collect(context.Background())
	require.NoError(t, err)
	_, err = collector.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, source.calls["broken"])
}

func TestCollectorDiscoveryError(t *testing.T) {
	discoverErr := errors.New("cluster unreachable")
	collector := NewCollector(&MockDiscoverer{err: discoverErr}, &MockSource{}, nil, testLogger())

	_, err := collector.Collect(context.Background())
	assert.ErrorIs(t, err, discoverErr)
}

func TestCollectorWithMockScanners(t *testing.T) {
	config := &Config{MockMode: true}
	discoverer, err := CreateImageDiscoverer(config, testLogger())
	require.NoError(t, err)
	source, err := CreateCandidateSource(context.Background(), config, testLogger())
	require.NoError(t, err)

	collection, err := NewCollector(discoverer, source, nil, testLogger()).Collect(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, collection.Candidates)
	assert.Empty(t, collection.FailedImages)
}

func TestCreateImageDiscoverer(t *testing.T) {
	imageList := filepath.Join(t.TempDir(), "images.json")
	require.NoError(t, os.WriteFile(imageList, []byte(`["registry/app:v1"]`), 0o600))

	tests := []struct {
		name        string
		config      *Config
		expectError bool
		expectType  string
	}{
		{"mock mode", &Config{Mode: "cluster", MockMode: true}, false, "mock-eks"},
		{"local mode", &Config{Mode: "local", ImageListFile: imageList}, false, "local"},
		{"unsupported mode", &Config{Mode: "unsupported"}, true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			discoverer, err := CreateImageDiscoverer(tt.config, testLogger())
			if tt.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expectType, discoverer.Name())
		})
	}
}

func TestCreateCandidateSource(t *testing.T) {
	tests := []struct {
		name   string
		config *Config
	}{
		{"missing account ID", &Config{ECRRegion: "us-east-1"}},
		{"missing region", &Config{ECRAccountID: "123456789012"}},
		{"no configuration", &Config{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CreateCandidateSource(context.Background(), tt.config, testLogger())
			assert.Error(t, err)
		})
	}

	source, err := CreateCandidateSource(context.Background(), &Config{MockMode: true}, testLogger())
	require.NoError(t, err)
	assert.Equal(t, "mock-ecr", source.Name())
}
