// ABOUTME: Normalisation of scanner candidates before planning.
// ABOUTME: Derives CVSS scores from vectors and fills severity and status defaults.

package importer

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/jfeddern/VulnLedger/internal/apperr"
	"github.com/jfeddern/VulnLedger/internal/types"
	gocvss20 "github.com/pandatix/go-cvss/20"
	gocvss30 "github.com/pandatix/go-cvss/30"
	gocvss31 "github.com/pandatix/go-cvss/31"
	gocvss40 "github.com/pandatix/go-cvss/40"
	"github.com/sirupsen/logrus"
)

var validate = validator.New()

// ScoreVector computes the base score of a CVSS v2, v3.0, v3.1 or v4.0 vector
func ScoreVector(vector string) (float64, error) {
	switch {
	case strings.HasPrefix(vector, "CVSS:4.0/"):
		cvss, err := gocvss40.ParseVector(vector)
		if err != nil {
			return 0, err
		}
		return cvss.Score(), nil
	case strings.HasPrefix(vector, "CVSS:3.1/"):
		cvss, err := gocvss31.ParseVector(vector)
		if err != nil {
			return 0, err
		}
		return cvss.BaseScore(), nil
	case strings.HasPrefix(vector, "CVSS:3.0/"):
		cvss, err := gocvss30.ParseVector(vector)
		if err != nil {
			return 0, err
		}
		return cvss.BaseScore(), nil
	case strings.HasPrefix(vector, "AV:"):
		cvss, err := gocvss20.ParseVector(vector)
		if err != nil {
			return 0, err
		}
		return cvss.BaseScore(), nil
	default:
		return 0, fmt.Errorf("unsupported CVSS vector %q", vector)
	}
}

// SeverityFromScore maps a CVSS base score onto the qualitative severity scale
func SeverityFromScore(score float64) types.Severity {
	switch {
	case score >= 9.0:
		return types.SeverityCritical
	case score >= 7.0:
		return types.SeverityHigh
	case score >= 4.0:
		return types.SeverityMedium
	case score > 0:
		return types.SeverityLow
	default:
		return types.SeverityInformational
	}
}

// Normalize returns a copy of candidates with derived fields filled in, or a validation
// error naming the first candidate that cannot be imported.
func Normalize(candidates []types.ImportCandidate, logger *logrus.Logger) ([]types.ImportCandidate, error) {
	normalized := make([]types.ImportCandidate, 0, len(candidates))
	for i, candidate := range candidates {
		candidate.ExternalID = strings.TrimSpace(candidate.ExternalID)
		if candidate.CVSSScore == nil && candidate.CVSSVector != "" {
			score, err := ScoreVector(candidate.CVSSVector)
			if err != nil {
				logger.WithError(err).WithField("external_id", candidate.ExternalID).Warn("Ignoring unparsable CVSS vector")
			} else {
				candidate.CVSSScore = &score
			}
		}
		if candidate.Severity == "" && candidate.CVSSScore != nil {
			candidate.Severity = SeverityFromScore(*candidate.CVSSScore)
		} else if severity, ok := types.ParseSeverity(string(candidate.Severity)); ok {
			candidate.Severity = severity
		}
		if candidate.Status == "" {
			candidate.Status = types.StatusOpen
		}

		if err := validate.Struct(candidate); err != nil {
			return nil, apperr.Wrap(apperr.KindValidation, "normalize_candidates", err,
				fmt.Sprintf("candidate %d (%q) is invalid", i, candidate.ExternalID))
		}
		normalized = append(normalized, candidate)
	}
	return normalized, nil
}
