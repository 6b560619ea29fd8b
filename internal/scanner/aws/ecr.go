// ABOUTME: AWS ECR candidate source converting image scan findings into import candidates.
// ABOUTME: Handles cross-account authentication and basic and enhanced (Inspector) scan results.

package aws

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	ecrtypes "github.com/aws/aws-sdk-go-v2/service/ecr/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/jfeddern/VulnLedger/internal/types"
	"github.com/sirupsen/logrus"
)

// ScanFindingsAPI is the part of the ECR client used to read scan results
type ScanFindingsAPI interface {
	DescribeImageScanFindings(ctx context.Context, params *ecr.DescribeImageScanFindingsInput, optFns ...func(*ecr.Options)) (*ecr.DescribeImageScanFindingsOutput, error)
}

// ECRSource implements CandidateSource for Amazon ECR
type ECRSource struct {
	client    ScanFindingsAPI
	accountID string
	region    string
	logger    *logrus.Logger
}

// NewECRSource creates a new ECR candidate source
func NewECRSource(ctx context.Context, accountID, region string, logger *logrus.Logger) (*ECRSource, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	if assumeRoleARN := os.Getenv("AWS_IAM_ASSUME_ROLE_ARN"); assumeRoleARN != "" {
		logger.WithField("role_arn", assumeRoleARN).Info("Assuming role from AWS_IAM_ASSUME_ROLE_ARN environment variable")

		stsClient := sts.NewFromConfig(cfg.Copy())
		cfg.Credentials = aws.NewCredentialsCache(stscreds.NewAssumeRoleProvider(stsClient, assumeRoleARN))
	} else {
		stsClient := sts.NewFromConfig(cfg.Copy())

		identity, err := stsClient.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
		if err != nil {
			logger.WithError(err).Warn("Could not get caller identity, proceeding with default credentials")
		} else {
			currentAccountID := aws.ToString(identity.Account)
			logger.WithFields(logrus.Fields{
				"current_account": currentAccountID,
				"target_account":  accountID,
			}).Info("AWS identity information")

			if currentAccountID != accountID {
				roleARN := fmt.Sprintf("arn:aws:iam::%s:role/VulnLedgerScanReaderRole", accountID)
				logger.WithField("role_arn", roleARN).Info("Assuming cross-account role")
				cfg.Credentials = aws.NewCredentialsCache(stscreds.NewAssumeRoleProvider(stsClient, roleARN))
			}
		}
	}

	return NewECRSourceWithClient(ecr.NewFromConfig(cfg), accountID, region, logger), nil
}

// NewECRSourceWithClient creates an ECR candidate source around an existing client
func NewECRSourceWithClient(client ScanFindingsAPI, accountID, region string, logger *logrus.Logger) *ECRSource {
	return &ECRSource{
		client:    client,
		accountID: accountID,
		region:    region,
		logger:    logger,
	}
}

// Name returns the candidate source name
func (e *ECRSource) Name() string {
	return "aws-ecr"
}

// ParseImageURI extracts repository name and tag from a full ECR image URI
// Expected format: account.dkr.ecr.region.amazonaws.com/repository:tag
func (e *ECRSource) ParseImageURI(imageURI string) (repository, tag string, err error) {
	return ParseImageURI(imageURI)
}

// ParseImageURI splits registry/repository:tag into repository and tag
func ParseImageURI(imageURI string) (repository, tag string, err error) {
	parts := strings.Split(imageURI, "/")
	if len(parts) < 2 {
		return "", "", fmt.Errorf("invalid image URI format: %s", imageURI)
	}

	repoWithTag := strings.Join(parts[1:], "/")

	repoParts := strings.Split(repoWithTag, ":")
	if len(repoParts) != 2 || repoParts[0] == "" || repoParts[1] == "" {
		return "", "", fmt.Errorf("invalid image URI format, missing tag: %s", imageURI)
	}

	return repoParts[0], repoParts[1], nil
}

// ExternalID builds the stable scanner identifier of a vulnerability in an image. The same
// vulnerability in the same package of the same image always yields the same identifier.
func ExternalID(repository, tag, vulnerabilityID, packageName string) string {
	id := fmt.Sprintf("ecr:%s:%s:%s", repository, tag, vulnerabilityID)
	if packageName != "" {
		id += ":" + packageName
	}
	return id
}

// GetImageCandidates reads every page of scan findings for an image and converts them
func (e *ECRSource) GetImageCandidates(ctx context.Context, imageURI string) ([]types.ImportCandidate, error) {
	logger := e.logger.WithField("image_uri", imageURI)

	repo, tag, err := e.ParseImageURI(imageURI)
	if err != nil {
		return nil, fmt.Errorf("failed to parse image URI: %w", err)
	}

	logger = logger.WithFields(logrus.Fields{
		"repository": repo,
		"tag":        tag,
	})

	input := &ecr.DescribeImageScanFindingsInput{
		RepositoryName: aws.String(repo),
		ImageId:        &ecrtypes.ImageIdentifier{ImageTag: aws.String(tag)},
		RegistryId:     aws.String(e.accountID),
	}

	candidates := []types.ImportCandidate{}
	basicCount, enhancedCount := 0, 0
	for {
		output, err := e.client.DescribeImageScanFindings(ctx, input)
		if err != nil {
			logger.WithError(err).Error("Failed to describe image scan findings")
			return nil, fmt.Errorf("failed to describe scan findings of %s: %w", imageURI, err)
		}

		if output.ImageScanStatus != nil && output.ImageScanStatus.Status != ecrtypes.ScanStatusComplete {
			logger.WithField("scan_status", output.ImageScanStatus.Status).Warn("Image scan is not complete")
		}

		if output.ImageScanFindings != nil {
			for _, finding := range output.ImageScanFindings.Findings {
				candidates = append(candidates, basicCandidate(repo, tag, finding))
				basicCount++
			}
			for _, finding := range output.ImageScanFindings.EnhancedFindings {
				candidates = append(candidates, enhancedCandidate(repo, tag, finding))
				enhancedCount++
			}
		}

		if output.NextToken == nil {
			break
		}
		input.NextToken = output.NextToken
	}

	logger.WithFields(logrus.Fields{
		"basic_findings":    basicCount,
		"enhanced_findings": enhancedCount,
	}).Info("Retrieved scanner candidates")

	return candidates, nil
}

func basicCandidate(repo, tag string, finding ecrtypes.ImageScanFinding) types.ImportCandidate {
	attributes := make(map[string]string, len(finding.Attributes))
	for _, attribute := range finding.Attributes {
		attributes[aws.ToString(attribute.Key)] = aws.ToString(attribute.Value)
	}

	vulnerabilityID := aws.ToString(finding.Name)
	packageName := attributes["package_name"]

	candidate := types.ImportCandidate{
		ExternalID:  ExternalID(repo, tag, vulnerabilityID, packageName),
		Name:        candidateName(vulnerabilityID, packageName, repo),
		Severity:    severity(string(finding.Severity)),
		Description: aws.ToString(finding.Description),
		CVSSVector:  attributes["CVSS2_VECTOR"],
	}
	if version := attributes["package_version"]; version != "" {
		candidate.Impact = fmt.Sprintf("Affects %s %s in %s:%s.", packageName, version, repo, tag)
	}
	if uri := aws.ToString(finding.Uri); uri != "" {
		candidate.Recommendation = "See " + uri
	}
	return candidate
}

func enhancedCandidate(repo, tag string, finding ecrtypes.EnhancedImageScanFinding) types.ImportCandidate {
	vulnerabilityID := aws.ToString(finding.Title)
	var packageName, packageVersion, fixVersion string
	var vector string

	if details := finding.PackageVulnerabilityDetails; details != nil {
		if id := aws.ToString(details.VulnerabilityId); id != "" {
			vulnerabilityID = id
		}
		if len(details.VulnerablePackages) > 0 {
			pkg := details.VulnerablePackages[0]
			packageName = aws.ToString(pkg.Name)
			packageVersion = aws.ToString(pkg.Version)
			fixVersion = aws.ToString(pkg.FixedInVersion)
		}
		for _, cvss := range details.Cvss {
			if v := aws.ToString(cvss.ScoringVector); strings.HasPrefix(v, "CVSS:") {
				vector = v
				break
			}
		}
	}

	candidate := types.ImportCandidate{
		ExternalID:  ExternalID(repo, tag, vulnerabilityID, packageName),
		Name:        candidateName(vulnerabilityID, packageName, repo),
		Severity:    severity(aws.ToString(finding.Severity)),
		Description: aws.ToString(finding.Description),
		CVSSVector:  vector,
	}
	if finding.Score > 0 {
		score := finding.Score
		candidate.CVSSScore = &score
	}
	if packageName != "" {
		candidate.Impact = fmt.Sprintf("Affects %s %s in %s:%s.", packageName, packageVersion, repo, tag)
	}
	switch {
	case fixVersion != "":
		candidate.Recommendation = fmt.Sprintf("Upgrade %s to %s or later.", packageName, fixVersion)
	case finding.Remediation != nil && finding.Remediation.Recommendation != nil:
		candidate.Recommendation = aws.ToString(finding.Remediation.Recommendation.Text)
	}
	return candidate
}

func candidateName(vulnerabilityID, packageName, repo string) string {
	if packageName != "" {
		return fmt.Sprintf("%s in %s (%s)", vulnerabilityID, packageName, repo)
	}
	return fmt.Sprintf("%s (%s)", vulnerabilityID, repo)
}

func severity(value string) types.Severity {
	if s, ok := types.ParseSeverity(value); ok {
		return s
	}
	return types.SeverityInformational
}
