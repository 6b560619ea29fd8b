// ABOUTME: Collects import candidates from container image scanners.
// ABOUTME: Coordinates image discovery and candidate sources with bounded concurrency and caching.

package scanner

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jfeddern/VulnLedger/internal/cache"
	"github.com/jfeddern/VulnLedger/internal/types"
	"github.com/sirupsen/logrus"
)

// DefaultConcurrency bounds parallel scanner API calls
const DefaultConcurrency = 10

// ImageDiscoverer finds the container images in scope for a scan import
type ImageDiscoverer interface {
	Name() string
	DiscoverImages(ctx context.Context) ([]types.ImageInfo, error)
	IsRegistryImage(imageURI string) bool
}

// CandidateSource turns the scan results of one image into import candidates
type CandidateSource interface {
	Name() string
	GetImageCandidates(ctx context.Context, imageURI string) ([]types.ImportCandidate, error)
	ParseImageURI(imageURI string) (repository, tag string, err error)
}

// Collection is the outcome of one scanner pass
type Collection struct {
	Candidates    []types.ImportCandidate `json:"candidates"`
	Images        int                     `json:"images"`
	FailedImages  []string                `json:"failed_images"`
	CollectedAt   time.Time               `json:"collected_at"`
	Discoverer    string                  `json:"discoverer"`
	ScannerSource string                  `json:"source"`
}

// Collector gathers candidates from every discovered image
type Collector struct {
	discoverer  ImageDiscoverer
	source      CandidateSource
	cache       *cache.CandidateCache
	concurrency int
	logger      *logrus.Logger
}

// NewCollector creates a collector. A nil cache disables caching.
func NewCollector(discoverer ImageDiscoverer, source CandidateSource, candidateCache *cache.CandidateCache, logger *logrus.Logger) *Collector {
	return &Collector{
		discoverer:  discoverer,
		source:      source,
		cache:       candidateCache,
		concurrency: DefaultConcurrency,
		logger:      logger,
	}
}

// Collect discovers images and returns their candidates ordered by external ID. Images whose
// scan results cannot be fetched are reported in FailedImages rather than failing the pass.
func (c *Collector) Collect(ctx context.Context) (Collection, error) {
	logger := c.logger.WithField("operation", "collect_candidates")
	startTime := time.Now()

	images, err := c.discoverer.DiscoverImages(ctx)
	if err != nil {
		return Collection{}, fmt.Errorf("failed to discover images: %w", err)
	}

	logger.WithField("image_count", len(images)).Info("Discovered images")

	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		candidates = make(map[string]types.ImportCandidate)
		failed     = []string{}
	)
	semaphore := make(chan struct{}, c.concurrency)

	for _, imageInfo := range images {
		wg.Add(1)
		go func(imgInfo types.ImageInfo) {
			defer wg.Done()

			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			found, err := c.imageCandidates(ctx, imgInfo.URI)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				logger.WithError(err).WithField("image", imgInfo.URI).Error("Failed to get scanner candidates")
				failed = append(failed, imgInfo.URI)
				return
			}
			for _, candidate := range found {
				if _, seen := candidates[candidate.ExternalID]; !seen {
					candidates[candidate.ExternalID] = candidate
				}
			}
		}(imageInfo)
	}

	wg.Wait()

	collection := Collection{
		Candidates:    make([]types.ImportCandidate, 0, len(candidates)),
		Images:        len(images),
		FailedImages:  failed,
		CollectedAt:   time.Now(),
		Discoverer:    c.discoverer.Name(),
		ScannerSource: c.source.Name(),
	}
	for _, candidate := range candidates {
		collection.Candidates = append(collection.Candidates, candidate)
	}
	sort.Slice(collection.Candidates, func(i, j int) bool {
		return collection.Candidates[i].ExternalID < collection.Candidates[j].ExternalID
	})
	sort.Strings(collection.FailedImages)

	logger.WithFields(logrus.Fields{
		"duration":      time.Since(startTime),
		"candidates":    len(collection.Candidates),
		"failed_images": len(failed),
	}).Info("Scanner candidate collection completed")

	return collection, nil
}

func (c *Collector) imageCandidates(ctx context.Context, imageURI string) ([]types.ImportCandidate, error) {
	if c.cache != nil {
		if cached, ok := c.cache.Get(imageURI); ok {
			return cached, nil
		}
	}

	found, err := c.source.GetImageCandidates(ctx, imageURI)
	if err != nil {
		return nil, err
	}

	if c.cache != nil {
		c.cache.Set(imageURI, found)
	}
	return found, nil
}
