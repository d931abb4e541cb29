package k8s

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	rbacv1 "k8s.io/api/rbac/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	apiresource "k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/util/intstr"
	"k8s.io/client-go/kubernetes/fake"
	k8stesting "k8s.io/client-go/testing"

	"github.com/yairfalse/tally/pkg/resource"
)

func meta(namespace, name string, labels map[string]string) metav1.ObjectMeta {
	return metav1.ObjectMeta{
		Namespace:         namespace,
		Name:              name,
		Labels:            labels,
		CreationTimestamp: metav1.NewTime(time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)),
		Annotations: map[string]string{
			"kubectl.kubernetes.io/last-applied-configuration": "{}",
			"team": "core",
		},
	}
}

func TestListPods(t *testing.T) {
	client := fake.NewSimpleClientset(
		&corev1.Pod{
			ObjectMeta: meta("default", "web-1", map[string]string{"app": "web"}),
			Spec: corev1.PodSpec{
				NodeName:   "node-a",
				Containers: []corev1.Container{{Name: "app"}, {Name: "sidecar"}},
			},
			Status: corev1.PodStatus{
				Phase: corev1.PodRunning,
				PodIP: "10.0.0.5",
				ContainerStatuses: []corev1.ContainerStatus{
					{RestartCount: 2}, {RestartCount: 1},
				},
			},
		},
		&corev1.Pod{ObjectMeta: meta("kube-system", "dns", nil)},
	)

	got, err := NewWithClient(client, "").ListResources(context.Background(), "cluster", resource.TypePod)
	require.NoError(t, err)
	require.Len(t, got, 2)

	byID := map[string]resource.RemoteResource{}
	for _, r := range got {
		byID[r.ResourceID] = r
	}

	web, ok := byID["default/web-1"]
	require.True(t, ok)
	assert.Equal(t, "Running", web.Attributes["phase"])
	assert.Equal(t, int32(3), web.Attributes["restarts"])
	assert.Equal(t, []string{"app", "sidecar"}, web.Attributes["containers"])
	assert.Equal(t, resource.AssociatedRefs{resource.RefNode: "node-a"}, web.Refs)
	assert.Equal(t, resource.NewTags("app", "web"), web.Tags)
	assert.Equal(t, map[string]string{"team": "core"}, web.Attributes["annotations"])

	_, ok = byID["kube-system/dns"]
	assert.True(t, ok)
}

func TestListPods_NamespaceRestricted(t *testing.T) {
	client := fake.NewSimpleClientset(
		&corev1.Pod{ObjectMeta: meta("default", "a", nil)},
		&corev1.Pod{ObjectMeta: meta("other", "b", nil)},
	)

	got, err := NewWithClient(client, "default").ListResources(context.Background(), "cluster", resource.TypePod)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "default/a", got[0].ResourceID)
}

func TestListClusterScoped(t *testing.T) {
	client := fake.NewSimpleClientset(
		&corev1.Namespace{ObjectMeta: meta("", "default", nil), Status: corev1.NamespaceStatus{Phase: corev1.NamespaceActive}},
		&corev1.Node{
			ObjectMeta: meta("", "node-a", nil),
			Status: corev1.NodeStatus{
				NodeInfo:   corev1.NodeSystemInfo{KubeletVersion: "v1.31.2"},
				Conditions: []corev1.NodeCondition{{Type: corev1.NodeReady, Status: corev1.ConditionTrue}},
				Capacity:   corev1.ResourceList{corev1.ResourceCPU: apiresource.MustParse("4")},
				Addresses:  []corev1.NodeAddress{{Address: "10.0.1.2"}, {Address: "10.0.0.9"}},
			},
		},
	)
	b := NewWithClient(client, "")

	namespaces, err := b.ListResources(context.Background(), "cluster", resource.TypeNamespace)
	require.NoError(t, err)
	require.Len(t, namespaces, 1)
	assert.Equal(t, "default", namespaces[0].ResourceID)
	assert.Equal(t, "Active", namespaces[0].Attributes["phase"])

	nodes, err := b.ListResources(context.Background(), "cluster", resource.TypeNode)
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, "node-a", nodes[0].ResourceID)
	assert.Equal(t, true, nodes[0].Attributes["ready"])
	assert.Equal(t, map[string]string{"cpu": "4"}, nodes[0].Attributes["capacity"])
	assert.Equal(t, []string{"10.0.0.9", "10.0.1.2"}, nodes[0].Attributes["addresses"])
}

func TestListWorkloads(t *testing.T) {
	replicas := int32(3)
	client := fake.NewSimpleClientset(
		&appsv1.Deployment{
			ObjectMeta: meta("default", "api", nil),
			Spec: appsv1.DeploymentSpec{
				Replicas: &replicas,
				Template: corev1.PodTemplateSpec{Spec: corev1.PodSpec{Containers: []corev1.Container{{Image: "api:1.2"}}}},
			},
			Status: appsv1.DeploymentStatus{ReadyReplicas: 2},
		},
		&corev1.Service{
			ObjectMeta: meta("default", "api", nil),
			Spec: corev1.ServiceSpec{
				Type:      corev1.ServiceTypeClusterIP,
				ClusterIP: "10.96.0.10",
				Ports: []corev1.ServicePort{
					{Name: "https", Protocol: corev1.ProtocolTCP, Port: 443, TargetPort: intstr.FromInt32(8443)},
					{Name: "http", Protocol: corev1.ProtocolTCP, Port: 80, TargetPort: intstr.FromString("http")},
				},
			},
		},
		&rbacv1.Role{
			ObjectMeta: meta("default", "reader", nil),
			Rules:      []rbacv1.PolicyRule{{Resources: []string{"pods"}, Verbs: []string{"watch", "get", "list"}}},
		},
	)
	b := NewWithClient(client, "")
	ctx := context.Background()

	deployments, err := b.ListResources(ctx, "cluster", resource.TypeDeployment)
	require.NoError(t, err)
	require.Len(t, deployments, 1)
	assert.Equal(t, int32(3), deployments[0].Attributes["replicas"])
	assert.Equal(t, []string{"api:1.2"}, deployments[0].Attributes["images"])

	services, err := b.ListResources(ctx, "cluster", resource.TypeService)
	require.NoError(t, err)
	require.Len(t, services, 1)
	ports := services[0].Attributes["ports"].([]resource.PortSpec)
	require.Len(t, ports, 2)
	assert.Equal(t, int32(80), ports[0].Port)
	assert.Equal(t, "http", ports[0].TargetPort)
	assert.Equal(t, "8443", ports[1].TargetPort)

	roles, err := b.ListResources(ctx, "cluster", resource.TypeRole)
	require.NoError(t, err)
	require.Len(t, roles, 1)
	rules := roles[0].Attributes["rules"].([]resource.PolicyRule)
	assert.Equal(t, []string{"get", "list", "watch"}, rules[0].Verbs)

	jobs, err := b.ListResources(ctx, "cluster", resource.TypeJob)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestListResources_ErrorFailsListing(t *testing.T) {
	client := fake.NewSimpleClientset()
	client.PrependReactor("list", "pods", func(k8stesting.Action) (bool, runtime.Object, error) {
		return true, nil, errors.New("etcd timeout")
	})

	got, err := NewWithClient(client, "").ListResources(context.Background(), "cluster", resource.TypePod)
	assert.ErrorContains(t, err, "etcd timeout")
	assert.Nil(t, got)
}

func TestListResources_UnsupportedType(t *testing.T) {
	_, err := NewWithClient(fake.NewSimpleClientset(), "").ListResources(context.Background(), "cluster", resource.TypeVolume)
	assert.ErrorIs(t, err, resource.ErrUnsupportedType)
}

func TestAct_Delete(t *testing.T) {
	ctx := context.Background()
	client := fake.NewSimpleClientset(
		&corev1.Pod{ObjectMeta: meta("default", "web-1", nil)},
		&corev1.Namespace{ObjectMeta: meta("", "scratch", nil)},
	)
	b := NewWithClient(client, "")

	require.NoError(t, b.Act(ctx, "cluster", resource.TypePod, resource.ActionDelete, "default/web-1"))
	_, err := client.CoreV1().Pods("default").Get(ctx, "web-1", metav1.GetOptions{})
	assert.True(t, apierrors.IsNotFound(err))

	require.NoError(t, b.Act(ctx, "cluster", resource.TypeNamespace, resource.ActionDelete, "scratch"))
	_, err = client.CoreV1().Namespaces().Get(ctx, "scratch", metav1.GetOptions{})
	assert.True(t, apierrors.IsNotFound(err))

	err = b.Act(ctx, "cluster", resource.TypePod, resource.ActionDelete, "default/missing")
	assert.True(t, apierrors.IsNotFound(err))

	err = b.Act(ctx, "cluster", resource.TypePod, resource.ActionStop, "default/web-1")
	assert.ErrorIs(t, err, resource.ErrUnsupportedAction)
}

func TestSplitID(t *testing.T) {
	ns, name := splitID("default/web")
	assert.Equal(t, "default", ns)
	assert.Equal(t, "web", name)

	ns, name = splitID("node-a")
	assert.Equal(t, "", ns)
	assert.Equal(t, "node-a", name)
}
