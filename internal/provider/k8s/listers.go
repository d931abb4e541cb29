package k8s

import (
	"context"
	"fmt"
	"sort"

	appsv1 "k8s.io/api/apps/v1"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	rbacv1 "k8s.io/api/rbac/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/yairfalse/tally/pkg/resource"
)

func (b *Backend) listNamespaces(ctx context.Context, cloudContext string) ([]resource.RemoteResource, error) {
	var out []resource.RemoteResource
	err := paginate(ctx, func(ctx context.Context, opts metav1.ListOptions) (string, error) {
		list, err := b.client.CoreV1().Namespaces().List(ctx, opts)
		if err != nil {
			return "", err
		}
		for _, ns := range list.Items {
			out = append(out, resource.Namespace{
				BaseResource: base(cloudContext, ns.ObjectMeta),
				Phase:        string(ns.Status.Phase),
			}.Remote())
		}
		return list.Continue, nil
	})
	if err != nil {
		return nil, fmt.Errorf("list namespaces: %w", err)
	}
	return out, nil
}

func (b *Backend) listNodes(ctx context.Context, cloudContext string) ([]resource.RemoteResource, error) {
	var out []resource.RemoteResource
	err := paginate(ctx, func(ctx context.Context, opts metav1.ListOptions) (string, error) {
		list, err := b.client.CoreV1().Nodes().List(ctx, opts)
		if err != nil {
			return "", err
		}
		for _, node := range list.Items {
			out = append(out, convertNode(cloudContext, node).Remote())
		}
		return list.Continue, nil
	})
	if err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}
	return out, nil
}

func convertNode(cloudContext string, node corev1.Node) resource.Node {
	n := resource.Node{
		BaseResource:   base(cloudContext, node.ObjectMeta),
		KubeletVersion: node.Status.NodeInfo.KubeletVersion,
		Unschedulable:  node.Spec.Unschedulable,
	}
	for _, cond := range node.Status.Conditions {
		if cond.Type == corev1.NodeReady {
			n.Ready = cond.Status == corev1.ConditionTrue
		}
	}
	if len(node.Status.Capacity) > 0 {
		n.Capacity = make(map[string]string, len(node.Status.Capacity))
		for name, qty := range node.Status.Capacity {
			n.Capacity[string(name)] = qty.String()
		}
	}
	for _, addr := range node.Status.Addresses {
		n.Addresses = append(n.Addresses, addr.Address)
	}
	return n
}

func (b *Backend) listPods(ctx context.Context, cloudContext string) ([]resource.RemoteResource, error) {
	var out []resource.RemoteResource
	err := paginate(ctx, func(ctx context.Context, opts metav1.ListOptions) (string, error) {
		list, err := b.client.CoreV1().Pods(b.namespace).List(ctx, opts)
		if err != nil {
			return "", err
		}
		for _, pod := range list.Items {
			out = append(out, convertPod(cloudContext, pod).Remote())
		}
		return list.Continue, nil
	})
	if err != nil {
		return nil, fmt.Errorf("list pods: %w", err)
	}
	return out, nil
}

func convertPod(cloudContext string, pod corev1.Pod) resource.Pod {
	p := resource.Pod{
		BaseResource: base(cloudContext, pod.ObjectMeta),
		Namespace:    pod.Namespace,
		Phase:        string(pod.Status.Phase),
		NodeName:     pod.Spec.NodeName,
		PodIP:        pod.Status.PodIP,
	}
	for _, c := range pod.Spec.Containers {
		p.Containers = append(p.Containers, c.Name)
	}
	for _, cs := range pod.Status.ContainerStatuses {
		p.Restarts += cs.RestartCount
	}
	return p
}

func (b *Backend) listDeployments(ctx context.Context, cloudContext string) ([]resource.RemoteResource, error) {
	var out []resource.RemoteResource
	err := paginate(ctx, func(ctx context.Context, opts metav1.ListOptions) (string, error) {
		list, err := b.client.AppsV1().Deployments(b.namespace).List(ctx, opts)
		if err != nil {
			return "", err
		}
		for _, d := range list.Items {
			out = append(out, convertDeployment(cloudContext, d).Remote())
		}
		return list.Continue, nil
	})
	if err != nil {
		return nil, fmt.Errorf("list deployments: %w", err)
	}
	return out, nil
}

func convertDeployment(cloudContext string, d appsv1.Deployment) resource.Deployment {
	dep := resource.Deployment{
		BaseResource:  base(cloudContext, d.ObjectMeta),
		Namespace:     d.Namespace,
		ReadyReplicas: d.Status.ReadyReplicas,
	}
	if d.Spec.Replicas != nil {
		dep.Replicas = *d.Spec.Replicas
	}
	for _, c := range d.Spec.Template.Spec.Containers {
		dep.Images = append(dep.Images, c.Image)
	}
	return dep
}

func (b *Backend) listServices(ctx context.Context, cloudContext string) ([]resource.RemoteResource, error) {
	var out []resource.RemoteResource
	err := paginate(ctx, func(ctx context.Context, opts metav1.ListOptions) (string, error) {
		list, err := b.client.CoreV1().Services(b.namespace).List(ctx, opts)
		if err != nil {
			return "", err
		}
		for _, svc := range list.Items {
			s := resource.Service{
				BaseResource: base(cloudContext, svc.ObjectMeta),
				Namespace:    svc.Namespace,
				ServiceType:  string(svc.Spec.Type),
				ClusterIP:    svc.Spec.ClusterIP,
				Selector:     svc.Spec.Selector,
			}
			for _, p := range svc.Spec.Ports {
				s.Ports = append(s.Ports, resource.PortSpec{
					Name:       p.Name,
					Protocol:   string(p.Protocol),
					Port:       p.Port,
					TargetPort: p.TargetPort.String(),
					NodePort:   p.NodePort,
				})
			}
			out = append(out, s.Remote())
		}
		return list.Continue, nil
	})
	if err != nil {
		return nil, fmt.Errorf("list services: %w", err)
	}
	return out, nil
}

func (b *Backend) listJobs(ctx context.Context, cloudContext string) ([]resource.RemoteResource, error) {
	var out []resource.RemoteResource
	err := paginate(ctx, func(ctx context.Context, opts metav1.ListOptions) (string, error) {
		list, err := b.client.BatchV1().Jobs(b.namespace).List(ctx, opts)
		if err != nil {
			return "", err
		}
		for _, job := range list.Items {
			out = append(out, convertJob(cloudContext, job).Remote())
		}
		return list.Continue, nil
	})
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return out, nil
}

func convertJob(cloudContext string, job batchv1.Job) resource.Job {
	j := resource.Job{
		BaseResource: base(cloudContext, job.ObjectMeta),
		Namespace:    job.Namespace,
		Active:       job.Status.Active,
		Succeeded:    job.Status.Succeeded,
		Failed:       job.Status.Failed,
	}
	if job.Spec.Completions != nil {
		j.Completions = *job.Spec.Completions
	}
	return j
}

func (b *Backend) listRoles(ctx context.Context, cloudContext string) ([]resource.RemoteResource, error) {
	var out []resource.RemoteResource
	err := paginate(ctx, func(ctx context.Context, opts metav1.ListOptions) (string, error) {
		list, err := b.client.RbacV1().Roles(b.namespace).List(ctx, opts)
		if err != nil {
			return "", err
		}
		for _, role := range list.Items {
			out = append(out, resource.Role{
				BaseResource: base(cloudContext, role.ObjectMeta),
				Namespace:    role.Namespace,
				Rules:        convertRules(role.Rules),
			}.Remote())
		}
		return list.Continue, nil
	})
	if err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	return out, nil
}

func convertRules(rules []rbacv1.PolicyRule) []resource.PolicyRule {
	out := make([]resource.PolicyRule, 0, len(rules))
	for _, r := range rules {
		rule := resource.PolicyRule{
			APIGroups: append([]string(nil), r.APIGroups...),
			Resources: append([]string(nil), r.Resources...),
			Verbs:     append([]string(nil), r.Verbs...),
		}
		sort.Strings(rule.Verbs)
		out = append(out, rule)
	}
	return out
}
