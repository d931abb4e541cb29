package resource

import (
	"sort"
	"time"
)

// BaseResource holds the fields every typed resource shares.
type BaseResource struct {
	ID           string
	CloudContext string
	Name         string
	Labels       Tags
	Annotations  map[string]string
	Created      time.Time
	Refreshed    time.Time
	Owner        string
}

func (b BaseResource) remote(t Type, attrs map[string]any, refs AssociatedRefs) RemoteResource {
	if len(b.Annotations) > 0 {
		attrs["annotations"] = b.Annotations
	}
	return RemoteResource{
		ResourceID: b.ID,
		Type:       t,
		Attributes: attrs,
		Tags:       b.Labels.Clone(),
		Refs:       refs.Clone(),
	}
}

func timeAttr(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// Instance is an EC2 instance.
type Instance struct {
	BaseResource
	InstanceType     string
	State            string
	AvailabilityZone string
	VPCID            string
	SubnetID         string
	PrivateIP        string
	PublicIP         string
	ImageID          string
	KeyName          string
	LaunchTime       time.Time
	SecurityGroups   []string
}

// Remote converts the instance to its provider view.
func (i Instance) Remote() RemoteResource {
	groups := append([]string(nil), i.SecurityGroups...)
	sort.Strings(groups)
	return i.remote(TypeInstance, map[string]any{
		"instance_type":     i.InstanceType,
		"state":             i.State,
		"availability_zone": i.AvailabilityZone,
		"vpc_id":            i.VPCID,
		"subnet_id":         i.SubnetID,
		"private_ip":        i.PrivateIP,
		"public_ip":         i.PublicIP,
		"image_id":          i.ImageID,
		"key_name":          i.KeyName,
		"launch_time":       timeAttr(i.LaunchTime),
		"security_groups":   groups,
	}, nil)
}

// Volume is an EBS volume.
type Volume struct {
	BaseResource
	SizeGiB          int32
	VolumeType       string
	State            string
	AvailabilityZone string
	Encrypted        bool
	IOPS             int32
	SnapshotID       string
	AttachedInstance string
}

// Remote converts the volume to its provider view.
func (v Volume) Remote() RemoteResource {
	return v.remote(TypeVolume, map[string]any{
		"size_gib":          v.SizeGiB,
		"volume_type":       v.VolumeType,
		"state":             v.State,
		"availability_zone": v.AvailabilityZone,
		"encrypted":         v.Encrypted,
		"iops":              v.IOPS,
		"snapshot_id":       v.SnapshotID,
	}, AssociatedRefs{RefInstance: v.AttachedInstance})
}

// Snapshot is an EBS snapshot owned by the account.
type Snapshot struct {
	BaseResource
	VolumeID      string
	VolumeSizeGiB int32
	State         string
	Progress      string
	Description   string
	Encrypted     bool
	Started       time.Time
}

// Remote converts the snapshot to its provider view.
func (s Snapshot) Remote() RemoteResource {
	return s.remote(TypeSnapshot, map[string]any{
		"volume_id":       s.VolumeID,
		"volume_size_gib": s.VolumeSizeGiB,
		"state":           s.State,
		"progress":        s.Progress,
		"description":     s.Description,
		"encrypted":       s.Encrypted,
		"started":         timeAttr(s.Started),
	}, nil)
}

// IPPermission is one security group rule.
type IPPermission struct {
	Protocol string   `json:"protocol"`
	FromPort int32    `json:"from_port"`
	ToPort   int32    `json:"to_port"`
	CIDRs    []string `json:"cidrs,omitempty"`
	Groups   []string `json:"groups,omitempty"`
}

// SortPermissions orders rules and their sources so equal rule sets compare
// equal regardless of the order the provider returned them in.
func SortPermissions(perms []IPPermission) []IPPermission {
	out := make([]IPPermission, len(perms))
	for i, p := range perms {
		p.CIDRs = append([]string(nil), p.CIDRs...)
		p.Groups = append([]string(nil), p.Groups...)
		sort.Strings(p.CIDRs)
		sort.Strings(p.Groups)
		out[i] = p
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Protocol != b.Protocol {
			return a.Protocol < b.Protocol
		}
		if a.FromPort != b.FromPort {
			return a.FromPort < b.FromPort
		}
		return a.ToPort < b.ToPort
	})
	return out
}

// SecurityGroup is a VPC security group.
type SecurityGroup struct {
	BaseResource
	GroupName   string
	Description string
	VPCID       string
	Inbound     []IPPermission
	Outbound    []IPPermission
}

// Remote converts the group to its provider view.
func (g SecurityGroup) Remote() RemoteResource {
	return g.remote(TypeSecurityGroup, map[string]any{
		"group_name":  g.GroupName,
		"description": g.Description,
		"vpc_id":      g.VPCID,
		"inbound":     SortPermissions(g.Inbound),
		"outbound":    SortPermissions(g.Outbound),
	}, nil)
}

// ElasticIP is an allocated Elastic IP address. Its ID is the allocation id.
type ElasticIP struct {
	BaseResource
	PublicIP           string
	PrivateIP          string
	Domain             string
	AssociationID      string
	InstanceID         string
	NetworkInterfaceID string
}

// Remote converts the address to its provider view.
func (e ElasticIP) Remote() RemoteResource {
	return e.remote(TypeElasticIP, map[string]any{
		"public_ip":      e.PublicIP,
		"private_ip":     e.PrivateIP,
		"domain":         e.Domain,
		"association_id": e.AssociationID,
	}, AssociatedRefs{RefInstance: e.InstanceID, RefNetworkInterface: e.NetworkInterfaceID})
}

// KeyPair is an EC2 key pair. Its ID is the key pair id.
type KeyPair struct {
	BaseResource
	KeyName     string
	KeyType     string
	Fingerprint string
}

// Remote converts the key pair to its provider view.
func (k KeyPair) Remote() RemoteResource {
	return k.remote(TypeKeyPair, map[string]any{
		"key_name":    k.KeyName,
		"key_type":    k.KeyType,
		"fingerprint": k.Fingerprint,
	}, nil)
}

// NetworkInterface is an elastic network interface.
type NetworkInterface struct {
	BaseResource
	Status           string
	Description      string
	InterfaceType    string
	PrivateIP        string
	SubnetID         string
	VPCID            string
	AvailabilityZone string
	AttachedInstance string
}

// Remote converts the interface to its provider view.
func (n NetworkInterface) Remote() RemoteResource {
	return n.remote(TypeNetworkInterface, map[string]any{
		"status":            n.Status,
		"description":       n.Description,
		"interface_type":    n.InterfaceType,
		"private_ip":        n.PrivateIP,
		"subnet_id":         n.SubnetID,
		"vpc_id":            n.VPCID,
		"availability_zone": n.AvailabilityZone,
	}, AssociatedRefs{RefInstance: n.AttachedInstance})
}

// Image is an AMI owned by the account.
type Image struct {
	BaseResource
	ImageName      string
	State          string
	Architecture   string
	RootDeviceType string
	Public         bool
	CreationDate   string
}

// Remote converts the image to its provider view.
func (i Image) Remote() RemoteResource {
	return i.remote(TypeImage, map[string]any{
		"image_name":       i.ImageName,
		"state":            i.State,
		"architecture":     i.Architecture,
		"root_device_type": i.RootDeviceType,
		"public":           i.Public,
		"created":          i.CreationDate,
	}, nil)
}

// Namespace is a Kubernetes namespace.
type Namespace struct {
	BaseResource
	Phase string
}

// Remote converts the namespace to its provider view.
func (n Namespace) Remote() RemoteResource {
	return n.remote(TypeNamespace, map[string]any{"phase": n.Phase}, nil)
}

// Node is a Kubernetes node.
type Node struct {
	BaseResource
	KubeletVersion string
	Ready          bool
	Unschedulable  bool
	Capacity       map[string]string
	Addresses      []string
}

// Remote converts the node to its provider view.
func (n Node) Remote() RemoteResource {
	addrs := append([]string(nil), n.Addresses...)
	sort.Strings(addrs)
	return n.remote(TypeNode, map[string]any{
		"kubelet_version": n.KubeletVersion,
		"ready":           n.Ready,
		"unschedulable":   n.Unschedulable,
		"capacity":        n.Capacity,
		"addresses":       addrs,
	}, nil)
}

// Pod is a Kubernetes pod.
type Pod struct {
	BaseResource
	Namespace  string
	Phase      string
	NodeName   string
	PodIP      string
	Containers []string
	Restarts   int32
}

// Remote converts the pod to its provider view.
func (p Pod) Remote() RemoteResource {
	return p.remote(TypePod, map[string]any{
		"namespace":  p.Namespace,
		"phase":      p.Phase,
		"node_name":  p.NodeName,
		"pod_ip":     p.PodIP,
		"containers": p.Containers,
		"restarts":   p.Restarts,
	}, AssociatedRefs{RefNode: p.NodeName})
}

// Deployment is a Kubernetes deployment.
type Deployment struct {
	BaseResource
	Namespace     string
	Replicas      int32
	ReadyReplicas int32
	Images        []string
}

// Remote converts the deployment to its provider view.
func (d Deployment) Remote() RemoteResource {
	return d.remote(TypeDeployment, map[string]any{
		"namespace":      d.Namespace,
		"replicas":       d.Replicas,
		"ready_replicas": d.ReadyReplicas,
		"images":         d.Images,
	}, nil)
}

// PortSpec is one service port.
type PortSpec struct {
	Name       string `json:"name,omitempty"`
	Protocol   string `json:"protocol"`
	Port       int32  `json:"port"`
	TargetPort string `json:"target_port,omitempty"`
	NodePort   int32  `json:"node_port,omitempty"`
}

// Service is a Kubernetes service.
type Service struct {
	BaseResource
	Namespace   string
	ServiceType string
	ClusterIP   string
	Ports       []PortSpec
	Selector    map[string]string
}

// Remote converts the service to its provider view.
func (s Service) Remote() RemoteResource {
	ports := append([]PortSpec(nil), s.Ports...)
	sort.SliceStable(ports, func(i, j int) bool {
		if ports[i].Port != ports[j].Port {
			return ports[i].Port < ports[j].Port
		}
		return ports[i].Protocol < ports[j].Protocol
	})
	return s.remote(TypeService, map[string]any{
		"namespace":    s.Namespace,
		"service_type": s.ServiceType,
		"cluster_ip":   s.ClusterIP,
		"ports":        ports,
		"selector":     s.Selector,
	}, nil)
}

// Job is a Kubernetes batch job.
type Job struct {
	BaseResource
	Namespace   string
	Completions int32
	Active      int32
	Succeeded   int32
	Failed      int32
}

// Remote converts the job to its provider view.
func (j Job) Remote() RemoteResource {
	return j.remote(TypeJob, map[string]any{
		"namespace":   j.Namespace,
		"completions": j.Completions,
		"active":      j.Active,
		"succeeded":   j.Succeeded,
		"failed":      j.Failed,
	}, nil)
}

// PolicyRule is one RBAC rule of a role.
type PolicyRule struct {
	APIGroups []string `json:"api_groups,omitempty"`
	Resources []string `json:"resources,omitempty"`
	Verbs     []string `json:"verbs"`
}

// Role is a namespaced Kubernetes RBAC role.
type Role struct {
	BaseResource
	Namespace string
	Rules     []PolicyRule
}

// Remote converts the role to its provider view.
func (r Role) Remote() RemoteResource {
	return r.remote(TypeRole, map[string]any{
		"namespace": r.Namespace,
		"rules":     r.Rules,
	}, nil)
}
