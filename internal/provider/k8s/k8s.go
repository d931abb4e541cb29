// Package k8s implements the Kubernetes provider backend.
package k8s

import (
	"context"
	"fmt"
	"strings"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/yairfalse/tally/pkg/resource"
)

// pageSize bounds each List call; the continue token fetches the rest.
const pageSize = 500

// ignoredAnnotations churn on every apply and are not tracked.
var ignoredAnnotations = map[string]bool{
	"kubectl.kubernetes.io/last-applied-configuration": true,
	"deployment.kubernetes.io/revision":                true,
}

// Backend lists and deletes objects of one cluster.
type Backend struct {
	client    kubernetes.Interface
	namespace string
}

// Config holds Kubernetes backend configuration.
type Config struct {
	// Kubeconfig is the kubeconfig path. Empty uses in-cluster config when
	// available, then the default loading rules.
	Kubeconfig string
	Context    string
	// Namespace restricts namespaced kinds. Empty means all namespaces.
	Namespace string
}

// New creates a backend from a kubeconfig.
func New(cfg Config) (*Backend, error) {
	restCfg, err := restConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("load kubeconfig: %w", err)
	}

	client, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		return nil, fmt.Errorf("create clientset: %w", err)
	}
	return NewWithClient(client, cfg.Namespace), nil
}

func restConfig(cfg Config) (*rest.Config, error) {
	if cfg.Kubeconfig == "" && cfg.Context == "" {
		if c, err := rest.InClusterConfig(); err == nil {
			return c, nil
		}
	}
	rules := clientcmd.NewDefaultClientConfigLoadingRules()
	if cfg.Kubeconfig != "" {
		rules.ExplicitPath = cfg.Kubeconfig
	}
	return clientcmd.NewNonInteractiveDeferredLoadingClientConfig(
		rules,
		&clientcmd.ConfigOverrides{CurrentContext: cfg.Context},
	).ClientConfig()
}

// NewWithClient creates a backend with a custom clientset, for testing.
func NewWithClient(client kubernetes.Interface, namespace string) *Backend {
	return &Backend{client: client, namespace: namespace}
}

// Name returns the provider identifier.
func (b *Backend) Name() string {
	return resource.ProviderK8s
}

// Types returns the kinds the backend lists.
func (b *Backend) Types() []resource.Type {
	return resource.TypesFor(resource.ProviderK8s)
}

// ListResources returns the complete listing for one kind.
func (b *Backend) ListResources(ctx context.Context, cloudContext string, t resource.Type) ([]resource.RemoteResource, error) {
	switch t {
	case resource.TypeNamespace:
		return b.listNamespaces(ctx, cloudContext)
	case resource.TypeNode:
		return b.listNodes(ctx, cloudContext)
	case resource.TypePod:
		return b.listPods(ctx, cloudContext)
	case resource.TypeDeployment:
		return b.listDeployments(ctx, cloudContext)
	case resource.TypeService:
		return b.listServices(ctx, cloudContext)
	case resource.TypeJob:
		return b.listJobs(ctx, cloudContext)
	case resource.TypeRole:
		return b.listRoles(ctx, cloudContext)
	default:
		return nil, fmt.Errorf("%w: %s", resource.ErrUnsupportedType, t)
	}
}

// Act deletes an object with background propagation.
func (b *Backend) Act(ctx context.Context, _ string, t resource.Type, action resource.Action, id string) error {
	if action != resource.ActionDelete {
		return fmt.Errorf("%w: %s on %s", resource.ErrUnsupportedAction, action, t)
	}

	propagation := metav1.DeletePropagationBackground
	opts := metav1.DeleteOptions{PropagationPolicy: &propagation}
	namespace, name := splitID(id)

	var err error
	switch t {
	case resource.TypeNamespace:
		err = b.client.CoreV1().Namespaces().Delete(ctx, name, opts)
	case resource.TypeNode:
		err = b.client.CoreV1().Nodes().Delete(ctx, name, opts)
	case resource.TypePod:
		err = b.client.CoreV1().Pods(namespace).Delete(ctx, name, opts)
	case resource.TypeDeployment:
		err = b.client.AppsV1().Deployments(namespace).Delete(ctx, name, opts)
	case resource.TypeService:
		err = b.client.CoreV1().Services(namespace).Delete(ctx, name, opts)
	case resource.TypeJob:
		err = b.client.BatchV1().Jobs(namespace).Delete(ctx, name, opts)
	case resource.TypeRole:
		err = b.client.RbacV1().Roles(namespace).Delete(ctx, name, opts)
	default:
		return fmt.Errorf("%w: %s", resource.ErrUnsupportedType, t)
	}
	if err != nil {
		return fmt.Errorf("delete %s %s: %w", t, id, err)
	}
	return nil
}

// paginate calls list with a continue token until the server reports no more
// pages.
func paginate(ctx context.Context, list func(ctx context.Context, opts metav1.ListOptions) (string, error)) error {
	opts := metav1.ListOptions{Limit: pageSize}
	for {
		next, err := list(ctx, opts)
		if err != nil {
			return err
		}
		if next == "" {
			return nil
		}
		opts.Continue = next
	}
}

// objectID is "namespace/name" for namespaced objects and "name" otherwise.
func objectID(meta metav1.ObjectMeta) string {
	if meta.Namespace == "" {
		return meta.Name
	}
	return meta.Namespace + "/" + meta.Name
}

func splitID(id string) (namespace, name string) {
	if ns, n, ok := strings.Cut(id, "/"); ok {
		return ns, n
	}
	return "", id
}

func base(cloudContext string, meta metav1.ObjectMeta) resource.BaseResource {
	var annotations map[string]string
	for k, v := range meta.Annotations {
		if ignoredAnnotations[k] {
			continue
		}
		if annotations == nil {
			annotations = make(map[string]string)
		}
		annotations[k] = v
	}
	return resource.BaseResource{
		ID:           objectID(meta),
		CloudContext: cloudContext,
		Name:         meta.Name,
		Labels:       resource.TagsFromMap(meta.Labels),
		Annotations:  annotations,
		Created:      meta.CreationTimestamp.Time.UTC(),
	}
}
