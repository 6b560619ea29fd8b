// ABOUTME: Tests for the EKS image discoverer.
// ABOUTME: Uses the client-go fake clientset to verify workload listing, filtering and errors.

package aws

import (
	"context"
	"fmt"
	"testing"

	"github.com/jfeddern/VulnLedger/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	appsv1 "k8s.io/api/apps/v1"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes/fake"
	ktesting "k8s.io/client-go/testing"
)

const registry = "123456789012.dkr.ecr.us-east-1.amazonaws.com/"

func podSpec(images ...string) corev1.PodSpec {
	spec := corev1.PodSpec{}
	for i, image := range images {
		spec.Containers = append(spec.Containers, corev1.Container{Name: fmt.Sprintf("c%d", i), Image: image})
	}
	return spec
}

func TestEKSProviderName(t *testing.T) {
	provider := NewEKSProviderWithClientset(fake.NewSimpleClientset(), testLogger())
	assert.Equal(t, "aws-eks", provider.Name())
}

func TestEKSProviderIsRegistryImage(t *testing.T) {
	provider := NewEKSProviderWithClientset(fake.NewSimpleClientset(), testLogger())

	tests := []struct {
		imageURI string
		expected bool
	}{
		{registry + "my-app:latest", true},
		{"123456789012.dkr.ecr.eu-west-1.amazonaws.com/team/my-app:v1.0.0", true},
		{"nginx:latest", false},
		{"docker.io/library/nginx:latest", false},
		{"gcr.io/my-project/my-app:latest", false},
		{"myregistry.azurecr.io/my-app:latest", false},
		{"", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, provider.IsRegistryImage(tt.imageURI), tt.imageURI)
	}
}

func TestEKSProviderDiscoverImages(t *testing.T) {
	deployment := &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{Name: "web-app", Namespace: "production"},
		Spec: appsv1.DeploymentSpec{
			Template: corev1.PodTemplateSpec{Spec: corev1.PodSpec{
				Containers: []corev1.Container{
					{Name: "web", Image: registry + "web-app:v1.0.0"},
					{Name: "proxy", Image: "nginx:latest"},
				},
				InitContainers: []corev1.Container{
					{Name: "init", Image: registry + "init:v1.0.0"},
				},
			}},
		},
	}
	statefulSet := &appsv1.StatefulSet{
		ObjectMeta: metav1.ObjectMeta{Name: "postgres", Namespace: "production"},
		Spec: appsv1.StatefulSetSpec{
			Template: corev1.PodTemplateSpec{Spec: podSpec(registry + "postgres-db:14.9")},
		},
	}
	daemonSet := &appsv1.DaemonSet{
		ObjectMeta: metav1.ObjectMeta{Name: "agent", Namespace: "monitoring"},
		Spec: appsv1.DaemonSetSpec{
			// Same image as the deployment, reported once
			Template: corev1.PodTemplateSpec{Spec: podSpec(registry+"monitoring-agent:v3.4.1", registry+"web-app:v1.0.0")},
		},
	}
	cronJob := &batchv1.CronJob{
		ObjectMeta: metav1.ObjectMeta{Name: "report", Namespace: "batch"},
		Spec: batchv1.CronJobSpec{
			JobTemplate: batchv1.JobTemplateSpec{Spec: batchv1.JobSpec{
				Template: corev1.PodTemplateSpec{Spec: podSpec(registry + "report-job:v0.1.0")},
			}},
		},
	}

	provider := NewEKSProviderWithClientset(fake.NewSimpleClientset(deployment, statefulSet, daemonSet, cronJob), testLogger())

	images, err := provider.DiscoverImages(context.Background())
	require.NoError(t, err)

	byURI := make(map[string]types.ImageInfo)
	for _, image := range images {
		byURI[image.URI] = image
	}
	assert.Len(t, images, 5)
	assert.Len(t, byURI, 5)

	assert.Equal(t, types.ImageInfo{URI: registry + "web-app:v1.0.0", Namespace: "production", Workload: "web-app", WorkloadType: "Deployment"}, byURI[registry+"web-app:v1.0.0"])
	assert.Equal(t, "Deployment", byURI[registry+"init:v1.0.0"].WorkloadType)
	assert.Equal(t, "StatefulSet", byURI[registry+"postgres-db:14.9"].WorkloadType)
	assert.Equal(t, "DaemonSet", byURI[registry+"monitoring-agent:v3.4.1"].WorkloadType)
	assert.Equal(t, "CronJob", byURI[registry+"report-job:v0.1.0"].WorkloadType)
	assert.NotContains(t, byURI, "nginx:latest")
}

func TestEKSProviderDiscoverImagesErrors(t *testing.T) {
	for _, resource := range []string{"deployments", "statefulsets", "daemonsets", "cronjobs"} {
		t.Run(resource, func(t *testing.T) {
			clientset := fake.NewSimpleClientset()
			clientset.PrependReactor("list", resource, func(action ktesting.Action) (handled bool, ret runtime.Object, err error) {
				return true, nil, fmt.Errorf("%s forbidden", resource)
			})
			provider := NewEKSProviderWithClientset(clientset, testLogger())

			_, err := provider.DiscoverImages(context.Background())
			require.Error(t, err)
			assert.Contains(t, err.Error(), resource)
		})
	}
}

func TestEKSProviderEmptyCluster(t *testing.T) {
	provider := NewEKSProviderWithClientset(fake.NewSimpleClientset(), testLogger())

	images, err := provider.DiscoverImages(context.Background())
	require.NoError(t, err)
	assert.Empty(t, images)
}
