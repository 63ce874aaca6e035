package fleet

import (
	"context"
	"fmt"
	"os"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// DeploymentScaler reads and patches a single Deployment's replica count.
// It is the only surface the controller talks to client-go through, so
// tests can substitute a fake implementation instead of a real clientset.
type DeploymentScaler interface {
	CurrentReplicas(ctx context.Context) (int32, error)
	Scale(ctx context.Context, replicas int32) error
}

// K8sScaler implements DeploymentScaler against a real cluster via
// client-go's typed clientset.
type K8sScaler struct {
	client    kubernetes.Interface
	namespace string
	name      string
}

// NewK8sScaler builds a K8sScaler from the file named by KUBECONFIG when
// that variable is set (local/dev use), and from in-cluster config
// otherwise.
func NewK8sScaler(namespace, name string) (*K8sScaler, error) {
	config, err := buildRESTConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to build kubernetes client config: %w", err)
	}

	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to build kubernetes clientset: %w", err)
	}

	return &K8sScaler{client: clientset, namespace: namespace, name: name}, nil
}

// NewK8sScalerWithClient builds a K8sScaler over an existing clientset,
// such as a fake.Clientset.
func NewK8sScalerWithClient(client kubernetes.Interface, namespace, name string) *K8sScaler {
	return &K8sScaler{client: client, namespace: namespace, name: name}
}

func buildRESTConfig() (*rest.Config, error) {
	if kubeconfig := os.Getenv("KUBECONFIG"); kubeconfig != "" {
		return clientcmd.BuildConfigFromFlags("", kubeconfig)
	}
	return rest.InClusterConfig()
}

// ErrDeploymentNotFound is returned by CurrentReplicas when the managed
// Deployment does not exist.
var ErrDeploymentNotFound = fmt.Errorf("deployment not found")

// CurrentReplicas returns the Deployment's current spec.replicas.
func (s *K8sScaler) CurrentReplicas(ctx context.Context) (int32, error) {
	dep, err := s.client.AppsV1().Deployments(s.namespace).Get(ctx, s.name, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return 0, ErrDeploymentNotFound
		}
		return 0, fmt.Errorf("failed to get deployment %s/%s: %w", s.namespace, s.name, err)
	}
	if dep.Spec.Replicas == nil {
		return 1, nil // Kubernetes treats a nil replica count as 1
	}
	return *dep.Spec.Replicas, nil
}

// Scale patches the Deployment's replica count.
func (s *K8sScaler) Scale(ctx context.Context, replicas int32) error {
	patch := []byte(fmt.Sprintf(`{"spec":{"replicas":%d}}`, replicas))
	_, err := s.client.AppsV1().Deployments(s.namespace).Patch(
		ctx, s.name, types.MergePatchType, patch, metav1.PatchOptions{},
	)
	if err != nil {
		if apierrors.IsNotFound(err) {
			return ErrDeploymentNotFound
		}
		return fmt.Errorf("failed to patch deployment %s/%s: %w", s.namespace, s.name, err)
	}
	return nil
}
