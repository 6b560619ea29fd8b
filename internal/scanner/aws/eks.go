// ABOUTME: EKS image discoverer listing container images of Kubernetes workloads.
// ABOUTME: Scopes scan imports to ECR images that are actually deployed in the cluster.

package aws

import (
	"context"
	"fmt"
	"strings"

	"github.com/jfeddern/VulnLedger/internal/types"
	"github.com/sirupsen/logrus"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// EKSProvider implements ImageDiscoverer for Amazon EKS
type EKSProvider struct {
	clientset kubernetes.Interface
	logger    *logrus.Logger
}

// NewEKSProvider connects using in-cluster config, falling back to the local kubeconfig
func NewEKSProvider(logger *logrus.Logger) (*EKSProvider, error) {
	config, err := rest.InClusterConfig()
	if err != nil {
		logger.Info("In-cluster config not available, trying kubeconfig")
		config, err = clientcmd.BuildConfigFromFlags("", clientcmd.RecommendedHomeFile)
		if err != nil {
			return nil, fmt.Errorf("failed to build kubernetes config: %w", err)
		}
	}

	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes clientset: %w", err)
	}

	logger.Info("Connected to EKS cluster")
	return NewEKSProviderWithClientset(clientset, logger), nil
}

// NewEKSProviderWithClientset creates a discoverer around an existing clientset
func NewEKSProviderWithClientset(clientset kubernetes.Interface, logger *logrus.Logger) *EKSProvider {
	return &EKSProvider{
		clientset: clientset,
		logger:    logger,
	}
}

func (e *EKSProvider) Name() string {
	return "aws-eks"
}

// IsRegistryImage checks if the image is from an ECR registry
func (e *EKSProvider) IsRegistryImage(imageURI string) bool {
	return strings.Contains(imageURI, ".dkr.ecr.") && strings.Contains(imageURI, ".amazonaws.com/")
}

type podTemplate struct {
	namespace    string
	workload     string
	workloadType string
	spec         corev1.PodSpec
}

// DiscoverImages lists Deployments, StatefulSets, DaemonSets and CronJobs across all namespaces.
// Each image URI is reported once, attributed to the first workload that uses it.
func (e *EKSProvider) DiscoverImages(ctx context.Context) ([]types.ImageInfo, error) {
	logger := e.logger.WithField("operation", "discover_images")

	templates, err := e.podTemplates(ctx)
	if err != nil {
		logger.WithError(err).Error("Failed to list workloads")
		return nil, err
	}

	seen := make(map[string]struct{})
	images := []types.ImageInfo{}
	for _, template := range templates {
		for _, uri := range e.registryImages(template.spec) {
			if _, dup := seen[uri]; dup {
				continue
			}
			seen[uri] = struct{}{}
			images = append(images, types.ImageInfo{
				URI:          uri,
				Namespace:    template.namespace,
				Workload:     template.workload,
				WorkloadType: template.workloadType,
			})
		}
	}

	logger.WithFields(logrus.Fields{
		"workloads":   len(templates),
		"image_count": len(images),
	}).Info("Image discovery completed")
	return images, nil
}

func (e *EKSProvider) podTemplates(ctx context.Context) ([]podTemplate, error) {
	apps := e.clientset.AppsV1()
	templates := []podTemplate{}

	deployments, err := apps.Deployments("").List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to list deployments: %w", err)
	}
	for _, d := range deployments.Items {
		templates = append(templates, podTemplate{d.Namespace, d.Name, "Deployment", d.Spec.Template.Spec})
	}

	statefulSets, err := apps.StatefulSets("").List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to list statefulsets: %w", err)
	}
	for _, s := range statefulSets.Items {
		templates = append(templates, podTemplate{s.Namespace, s.Name, "StatefulSet", s.Spec.Template.Spec})
	}

	daemonSets, err := apps.DaemonSets("").List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to list daemonsets: %w", err)
	}
	for _, d := range daemonSets.Items {
		templates = append(templates, podTemplate{d.Namespace, d.Name, "DaemonSet", d.Spec.Template.Spec})
	}

	cronJobs, err := e.clientset.BatchV1().CronJobs("").List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to list cronjobs: %w", err)
	}
	for _, c := range cronJobs.Items {
		templates = append(templates, podTemplate{c.Namespace, c.Name, "CronJob", c.Spec.JobTemplate.Spec.Template.Spec})
	}

	return templates, nil
}

func (e *EKSProvider) registryImages(spec corev1.PodSpec) []string {
	var uris []string
	for _, container := range spec.InitContainers {
		if e.IsRegistryImage(container.Image) {
			uris = append(uris, container.Image)
		}
	}
	for _, container := range spec.Containers {
		if e.IsRegistryImage(container.Image) {
			uris = append(uris, container.Image)
		}
	}
	for _, container := range spec.EphemeralContainers {
		if e.IsRegistryImage(container.Image) {
			uris = append(uris, container.Image)
		}
	}
	return uris
}
