// ABOUTME: Factory for creating image discoverers and candidate sources.
// ABOUTME: Centralizes scanner instantiation and configuration logic.

package scanner

import (
	"context"
	"fmt"

	"github.com/jfeddern/VulnLedger/internal/scanner/aws"
	"github.com/jfeddern/VulnLedger/internal/scanner/local"
	"github.com/jfeddern/VulnLedger/internal/scanner/mock"
	"github.com/sirupsen/logrus"
)

// Config holds configuration for creating scanners
type Config struct {
	Mode          string
	ECRAccountID  string
	ECRRegion     string
	ImageListFile string
	MockMode      bool
}

// CreateImageDiscoverer creates an image discoverer based on configuration
func CreateImageDiscoverer(config *Config, logger *logrus.Logger) (ImageDiscoverer, error) {
	if config.MockMode {
		logger.Info("Using mock image discoverer")
		return mock.NewMockEKSProvider(logger), nil
	}

	switch config.Mode {
	case "cluster":
		return aws.NewEKSProvider(logger)
	case "local":
		return local.NewLocalProvider(config.ImageListFile, logger), nil
	default:
		return nil, fmt.Errorf("unsupported mode: %s", config.Mode)
	}
}

// CreateCandidateSource creates a candidate source based on configuration
func CreateCandidateSource(ctx context.Context, config *Config, logger *logrus.Logger) (CandidateSource, error) {
	if config.MockMode {
		logger.Info("Using mock candidate source")
		return mock.NewMockECRSource(logger), nil
	}

	if config.ECRAccountID != "" && config.ECRRegion != "" {
		return aws.NewECRSource(ctx, config.ECRAccountID, config.ECRRegion, logger)
	}

	return nil, fmt.Errorf("no scanner source configured")
}
