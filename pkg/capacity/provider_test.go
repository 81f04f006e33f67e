package capacity

import (
	"context"
	"testing"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/certhook/certhook/pkg/config"
)

func pipelinePod(name, resource string, phase corev1.PodPhase) *corev1.Pod {
	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: "pipelines",
			Labels:    map[string]string{labelPipeline: resource},
		},
		Status: corev1.PodStatus{Phase: phase},
	}
}

func TestKubernetesProviderCountsActivePods(t *testing.T) {
	client := fake.NewSimpleClientset(
		pipelinePod("run-1", "cert-pipeline", corev1.PodRunning),
		pipelinePod("run-2", "cert-pipeline", corev1.PodPending),
		pipelinePod("run-3", "cert-pipeline", corev1.PodSucceeded),
		pipelinePod("run-4", "cert-pipeline", corev1.PodFailed),
		pipelinePod("run-5", "other-pipeline", corev1.PodRunning),
	)

	provider := NewKubernetesProvider(client, "pipelines")
	utilization, err := provider.Utilization(context.Background(), "cert-pipeline", "pipelines")
	if err != nil {
		t.Fatalf("Utilization error: %v", err)
	}
	if utilization != 2 {
		t.Fatalf("expected 2 active pods, got %d", utilization)
	}
}

func TestKubernetesProviderDefaultNamespace(t *testing.T) {
	client := fake.NewSimpleClientset()
	provider := NewKubernetesProvider(client, "pipelines")

	if _, err := provider.Utilization(context.Background(), "cert-pipeline", ""); err != nil {
		t.Fatalf("Utilization error: %v", err)
	}
}

func TestStaticProvider(t *testing.T) {
	provider := NewStaticProvider(3)
	utilization, err := provider.Utilization(context.Background(), "anything", "anywhere")
	if err != nil {
		t.Fatalf("Utilization error: %v", err)
	}
	if utilization != 3 {
		t.Fatalf("expected 3, got %d", utilization)
	}
}

func TestRegistry(t *testing.T) {
	registry := NewRegistry()
	registry.Register(TypeStatic, NewStaticProvider(0))

	if !registry.Has(TypeStatic) {
		t.Fatal("expected static provider to be registered")
	}
	if registry.Has(TypeKubernetes) {
		t.Fatal("kubernetes provider must not be registered")
	}
	if _, err := registry.Get(TypeStatic); err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if _, err := registry.Get("nomad"); err == nil {
		t.Fatal("expected error for unregistered provider type")
	}
}

func TestTypesFromConfig(t *testing.T) {
	tests := []struct {
		name  string
		cfg   config.Config
		known []string
		not   []string
	}{
		{
			name:  "bare deployment",
			cfg:   config.Config{},
			known: []string{TypeStatic},
			not:   []string{TypeRedis, TypeKubernetes},
		},
		{
			name:  "redis configured",
			cfg:   config.Config{Redis: config.RedisConfig{Addresses: []string{"localhost:6379"}}},
			known: []string{TypeStatic, TypeRedis},
			not:   []string{TypeKubernetes},
		},
		{
			name:  "in-cluster kubernetes",
			cfg:   config.Config{Kubernetes: config.KubernetesConfig{InCluster: true}},
			known: []string{TypeStatic, TypeKubernetes},
			not:   []string{TypeRedis},
		},
		{
			name:  "kubeconfig path",
			cfg:   config.Config{Kubernetes: config.KubernetesConfig{KubeConfig: "/root/.kube/config"}},
			known: []string{TypeStatic, TypeKubernetes},
			not:   []string{TypeRedis},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			has := TypesFromConfig(&tc.cfg)
			for _, providerType := range tc.known {
				if !has(providerType) {
					t.Errorf("expected %s to be known", providerType)
				}
			}
			for _, providerType := range tc.not {
				if has(providerType) {
					t.Errorf("expected %s to be unknown", providerType)
				}
			}
		})
	}
}
