// ABOUTME: Runtime configuration for the VulnLedger service.
// ABOUTME: Reads command line flags first and lets environment variables override them.

package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/jfeddern/VulnLedger/internal/cache"
	"github.com/jfeddern/VulnLedger/internal/enrichment"
	"github.com/jfeddern/VulnLedger/internal/scanner"
)

const DefaultMaxUploadBytes = 10 << 20

type Config struct {
	Port          int
	Mode          string
	MockMode      bool
	ECRAccountID  string
	ECRRegion     string
	ImageListFile string

	EnrichmentURL           string
	EnrichmentAPIKey        string
	EnrichmentModel         string
	EnrichmentBaseDelay     time.Duration
	EnrichmentMaxAttempts   int
	EnrichmentRatePerSecond float64

	ScanCacheTTL   time.Duration
	MaxUploadBytes int64
}

// Parse builds a Config from args and the environment looked up through getenv
func Parse(args []string, getenv func(string) string) (*Config, error) {
	config := &Config{}

	fs := flag.NewFlagSet("findingsd", flag.ContinueOnError)
	fs.IntVar(&config.Port, "port", 8080, "Port to serve the API on")
	fs.StringVar(&config.Mode, "mode", "cluster", "Scanner discovery mode: cluster or local")
	fs.BoolVar(&config.MockMode, "mock", false, "Enable mock scanners and enrichment (no external API calls)")
	fs.StringVar(&config.ECRAccountID, "ecr-account-id", "", "AWS account ID for ECR registry")
	fs.StringVar(&config.ECRRegion, "ecr-region", "", "AWS region for ECR registry")
	fs.StringVar(&config.ImageListFile, "image-list-file", "", "Path to JSON file with image list (required for local mode)")
	fs.StringVar(&config.EnrichmentURL, "enrichment-url", "", "Chat completion endpoint used to draft finding text")
	fs.StringVar(&config.EnrichmentModel, "enrichment-model", "", "Model name sent to the enrichment endpoint")
	fs.DurationVar(&config.EnrichmentBaseDelay, "enrichment-base-delay", enrichment.DefaultBaseDelay, "First backoff delay after a rate-limited enrichment call")
	fs.IntVar(&config.EnrichmentMaxAttempts, "enrichment-max-attempts", enrichment.DefaultMaxAttempts, "Enrichment attempts before giving up")
	fs.Float64Var(&config.EnrichmentRatePerSecond, "enrichment-rate", 2, "Enrichment requests per second")
	fs.DurationVar(&config.ScanCacheTTL, "scan-cache-ttl", cache.DefaultTTL, "How long scanner results are cached per image")
	fs.Int64Var(&config.MaxUploadBytes, "max-upload-bytes", DefaultMaxUploadBytes, "Maximum size of an evidence upload request")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if err := applyEnv(config, getenv); err != nil {
		return nil, err
	}
	return config, nil
}

// Load parses the process arguments and environment
func Load() (*Config, error) {
	return Parse(os.Args[1:], os.Getenv)
}

func applyEnv(config *Config, getenv func(string) string) error {
	var errs []error

	if v := getenv("MODE"); v != "" {
		config.Mode = v
	}
	if v := getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid PORT %q: %w", v, err))
		} else {
			config.Port = port
		}
	}
	if v := getenv("MOCK_MODE"); v == "true" || v == "1" {
		config.MockMode = true
	}
	if v := getenv("AWS_ECR_ACCOUNT_ID"); v != "" {
		config.ECRAccountID = v
	}
	if v := getenv("AWS_ECR_REGION"); v != "" {
		config.ECRRegion = v
	}
	if v := getenv("IMAGE_LIST_FILE"); v != "" {
		config.ImageListFile = v
	}
	if v := getenv("ENRICHMENT_URL"); v != "" {
		config.EnrichmentURL = v
	}
	if v := getenv("ENRICHMENT_API_KEY"); v != "" {
		config.EnrichmentAPIKey = v
	}
	if v := getenv("ENRICHMENT_MODEL"); v != "" {
		config.EnrichmentModel = v
	}
	if v := getenv("ENRICHMENT_BASE_DELAY"); v != "" {
		delay, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid ENRICHMENT_BASE_DELAY %q: %w", v, err))
		} else {
			config.EnrichmentBaseDelay = delay
		}
	}
	if v := getenv("ENRICHMENT_MAX_ATTEMPTS"); v != "" {
		attempts, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid ENRICHMENT_MAX_ATTEMPTS %q: %w", v, err))
		} else {
			config.EnrichmentMaxAttempts = attempts
		}
	}
	if v := getenv("ENRICHMENT_RATE_PER_SECOND"); v != "" {
		rate, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid ENRICHMENT_RATE_PER_SECOND %q: %w", v, err))
		} else {
			config.EnrichmentRatePerSecond = rate
		}
	}
	if v := getenv("SCAN_CACHE_TTL"); v != "" {
		ttl, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid SCAN_CACHE_TTL %q: %w", v, err))
		} else {
			config.ScanCacheTTL = ttl
		}
	}
	if v := getenv("MAX_UPLOAD_BYTES"); v != "" {
		size, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid MAX_UPLOAD_BYTES %q: %w", v, err))
		} else {
			config.MaxUploadBytes = size
		}
	}

	return errors.Join(errs...)
}

// Validate reports every inconsistency in the configuration
func (c *Config) Validate() error {
	var errs []error

	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.Mode != "cluster" && c.Mode != "local" {
		errs = append(errs, fmt.Errorf("unsupported mode %q", c.Mode))
	}
	if !c.MockMode {
		if c.ECRAccountID == "" || c.ECRRegion == "" {
			errs = append(errs, errors.New("ECR account ID and region are required (unless using mock mode)"))
		}
		if c.Mode == "local" && c.ImageListFile == "" {
			errs = append(errs, errors.New("image list file is required for local mode (unless using mock mode)"))
		}
	}
	if c.EnrichmentBaseDelay <= 0 {
		errs = append(errs, errors.New("enrichment base delay must be positive"))
	}
	if c.EnrichmentMaxAttempts <= 0 {
		errs = append(errs, errors.New("enrichment max attempts must be positive"))
	}
	if c.EnrichmentRatePerSecond <= 0 {
		errs = append(errs, errors.New("enrichment rate must be positive"))
	}
	if c.MaxUploadBytes <= 0 {
		errs = append(errs, errors.New("max upload bytes must be positive"))
	}

	return errors.Join(errs...)
}

// Scanner returns the scanner factory configuration
func (c *Config) Scanner() *scanner.Config {
	return &scanner.Config{
		Mode:          c.Mode,
		ECRAccountID:  c.ECRAccountID,
		ECRRegion:     c.ECRRegion,
		ImageListFile: c.ImageListFile,
		MockMode:      c.MockMode,
	}
}

// Enrichment returns the retry policy of the enrichment client
func (c *Config) Enrichment() enrichment.Config {
	return enrichment.Config{
		BaseDelay:   c.EnrichmentBaseDelay,
		MaxAttempts: c.EnrichmentMaxAttempts,
	}
}

// EnrichmentHTTP returns the upstream configuration, or false when no endpoint is set
func (c *Config) EnrichmentHTTP() (enrichment.HTTPConfig, bool) {
	if c.EnrichmentURL == "" {
		return enrichment.HTTPConfig{}, false
	}
	return enrichment.HTTPConfig{
		URL:           c.EnrichmentURL,
		APIKey:        c.EnrichmentAPIKey,
		Model:         c.EnrichmentModel,
		RatePerSecond: c.EnrichmentRatePerSecond,
	}, true
}
