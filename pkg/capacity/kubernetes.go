package capacity

import (
	"context"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
)

const (
	TypeKubernetes = "kubernetes"

	labelPipeline = "certhook.io/pipeline"
)

// KubernetesProvider reports utilization as the number of non-terminal
// pipeline pods labeled with the resource name.
type KubernetesProvider struct {
	client           kubernetes.Interface
	defaultNamespace string
}

func NewKubernetesProvider(client kubernetes.Interface, defaultNamespace string) *KubernetesProvider {
	return &KubernetesProvider{client: client, defaultNamespace: defaultNamespace}
}

func (p *KubernetesProvider) Utilization(ctx context.Context, resource, namespace string) (int, error) {
	if namespace == "" {
		namespace = p.defaultNamespace
	}
	if namespace == "" {
		namespace = "default"
	}

	pods, err := p.client.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{
		LabelSelector: fmt.Sprintf("%s=%s", labelPipeline, resource),
	})
	if err != nil {
		return 0, fmt.Errorf("%w: listing pipeline pods for %s/%s: %v", ErrUnknown, namespace, resource, err)
	}

	active := 0
	for _, pod := range pods.Items {
		switch pod.Status.Phase {
		case corev1.PodPending, corev1.PodRunning:
			active++
		}
	}
	return active, nil
}
