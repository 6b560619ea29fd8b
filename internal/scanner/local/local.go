// ABOUTME: File-based image discoverer for development and offline imports.
// ABOUTME: Reads image lists from JSON files as plain URIs or annotated workload entries.

package local

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/jfeddern/VulnLedger/internal/types"
	"github.com/sirupsen/logrus"
)

// LocalProvider implements ImageDiscoverer for a JSON image list
type LocalProvider struct {
	imageListFile string
	logger        *logrus.Logger
}

func NewLocalProvider(imageListFile string, logger *logrus.Logger) *LocalProvider {
	return &LocalProvider{
		imageListFile: imageListFile,
		logger:        logger,
	}
}

func (l *LocalProvider) Name() string {
	return "local"
}

// IsRegistryImage accepts any non-empty image URI
func (l *LocalProvider) IsRegistryImage(imageURI string) bool {
	return strings.TrimSpace(imageURI) != ""
}

// entry accepts either "uri" or {"uri": ..., "namespace": ..., "workload": ...}
type entry struct {
	types.ImageInfo
}

func (e *entry) UnmarshalJSON(data []byte) error {
	var uri string
	if err := json.Unmarshal(data, &uri); err == nil {
		e.URI = uri
		return nil
	}
	return json.Unmarshal(data, &e.ImageInfo)
}

// DiscoverImages reads the image list, dropping blank and repeated URIs
func (l *LocalProvider) DiscoverImages(ctx context.Context) ([]types.ImageInfo, error) {
	logger := l.logger.WithField("operation", "discover_images_local")

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(l.imageListFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read image list file '%s': %w", l.imageListFile, err)
	}

	var entries []entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse image list JSON: %w", err)
	}

	logger.WithField("entry_count", len(entries)).Debug("Read image list from file")

	seen := make(map[string]struct{}, len(entries))
	images := []types.ImageInfo{}
	for _, e := range entries {
		info := e.ImageInfo
		info.URI = strings.TrimSpace(info.URI)
		if !l.IsRegistryImage(info.URI) {
			continue
		}
		if _, dup := seen[info.URI]; dup {
			continue
		}
		seen[info.URI] = struct{}{}

		if info.Namespace == "" {
			info.Namespace = "local"
		}
		if info.Workload == "" {
			info.Workload = "local"
		}
		if info.WorkloadType == "" {
			info.WorkloadType = "Local"
		}
		images = append(images, info)
	}

	logger.WithField("valid_images", len(images)).Info("Local image discovery completed")
	return images, nil
}
