package resource

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrUnsupportedType is returned for resource types tally does not track.
	ErrUnsupportedType = errors.New("unsupported resource type")
	// ErrUnsupportedAction is returned when a bulk action is not defined for a type.
	ErrUnsupportedAction = errors.New("unsupported action")
)

// Type names a kind of cloud resource, prefixed by its provider.
type Type string

// AWS EC2 types.
const (
	TypeInstance         Type = "aws.instance"
	TypeVolume           Type = "aws.volume"
	TypeSnapshot         Type = "aws.snapshot"
	TypeSecurityGroup    Type = "aws.security_group"
	TypeElasticIP        Type = "aws.elastic_ip"
	TypeKeyPair          Type = "aws.key_pair"
	TypeNetworkInterface Type = "aws.network_interface"
	TypeImage            Type = "aws.image"
)

// Kubernetes types.
const (
	TypeNamespace  Type = "k8s.namespace"
	TypeNode       Type = "k8s.node"
	TypePod        Type = "k8s.pod"
	TypeDeployment Type = "k8s.deployment"
	TypeService    Type = "k8s.service"
	TypeJob        Type = "k8s.job"
	TypeRole       Type = "k8s.role"
)

// Providers.
const (
	ProviderAWS = "aws"
	ProviderK8s = "k8s"
)

// Action is a bulk operation applied to selected resources.
type Action string

const (
	ActionDelete       Action = "delete"
	ActionStart        Action = "start"
	ActionStop         Action = "stop"
	ActionReboot       Action = "reboot"
	ActionDetach       Action = "detach"
	ActionDisassociate Action = "disassociate"
)

// Destructive reports whether the action removes a resource or breaks an
// association.
func (a Action) Destructive() bool {
	switch a {
	case ActionDelete, ActionStop, ActionDetach, ActionDisassociate:
		return true
	}
	return false
}

// Ref names used in AssociatedRefs.
const (
	RefInstance         = "instance_id"
	RefNetworkInterface = "network_interface_id"
	RefNode             = "node"
)

// TypeSpec describes how a resource type is tracked.
type TypeSpec struct {
	Type     Type
	Provider string
	Label    string
	Plural   string

	// TrackedFields is the attribute subset stored locally. Empty means all.
	TrackedFields []string

	// Columns are the fields shown by list views.
	Columns []string

	// Actions maps each supported bulk action to the refs it clears locally.
	Actions map[Action][]string
}

// Supports reports whether the bulk action is defined for the type.
func (s TypeSpec) Supports(a Action) bool {
	_, ok := s.Actions[a]
	return ok
}

// ClearsRefs returns the refs removed from the local record after a
// successful action.
func (s TypeSpec) ClearsRefs(a Action) []string {
	return s.Actions[a]
}

// Tracks reports whether an attribute is stored locally.
func (s TypeSpec) Tracks(field string) bool {
	if len(s.TrackedFields) == 0 {
		return true
	}
	for _, f := range s.TrackedFields {
		if f == field {
			return true
		}
	}
	return false
}

// Count renders n with the singular or plural label.
func (s TypeSpec) Count(n int) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", s.Label)
	}
	return fmt.Sprintf("%d %s", n, s.Plural)
}

var registry = map[Type]TypeSpec{
	TypeInstance: {
		Type: TypeInstance, Provider: ProviderAWS, Label: "Instance", Plural: "Instances",
		TrackedFields: []string{"instance_type", "state", "availability_zone", "vpc_id", "subnet_id",
			"private_ip", "public_ip", "image_id", "key_name", "launch_time", "security_groups"},
		Columns: []string{"instance_type", "state", "availability_zone", "private_ip"},
		Actions: map[Action][]string{
			ActionDelete: nil, ActionStart: nil, ActionStop: nil, ActionReboot: nil,
		},
	},
	TypeVolume: {
		Type: TypeVolume, Provider: ProviderAWS, Label: "Volume", Plural: "Volumes",
		Columns: []string{"size_gib", "volume_type", "state", "availability_zone"},
		Actions: map[Action][]string{
			ActionDelete: nil,
			ActionDetach: {RefInstance},
		},
	},
	TypeSnapshot: {
		Type: TypeSnapshot, Provider: ProviderAWS, Label: "Snapshot", Plural: "Snapshots",
		Columns: []string{"volume_id", "volume_size_gib", "state", "started"},
		Actions: map[Action][]string{ActionDelete: nil},
	},
	TypeSecurityGroup: {
		Type: TypeSecurityGroup, Provider: ProviderAWS, Label: "Security Group", Plural: "Security Groups",
		Columns: []string{"group_name", "vpc_id", "description"},
		Actions: map[Action][]string{ActionDelete: nil},
	},
	TypeElasticIP: {
		Type: TypeElasticIP, Provider: ProviderAWS, Label: "Elastic IP", Plural: "Elastic IPs",
		Columns: []string{"public_ip", "domain", "private_ip"},
		Actions: map[Action][]string{
			ActionDelete:       nil,
			ActionDisassociate: {RefInstance, RefNetworkInterface},
		},
	},
	TypeKeyPair: {
		Type: TypeKeyPair, Provider: ProviderAWS, Label: "Key Pair", Plural: "Key Pairs",
		Columns: []string{"key_name", "key_type", "fingerprint"},
		Actions: map[Action][]string{ActionDelete: nil},
	},
	TypeNetworkInterface: {
		Type: TypeNetworkInterface, Provider: ProviderAWS, Label: "Network Interface", Plural: "Network Interfaces",
		Columns: []string{"status", "interface_type", "private_ip", "subnet_id"},
		Actions: map[Action][]string{ActionDelete: nil},
	},
	TypeImage: {
		Type: TypeImage, Provider: ProviderAWS, Label: "Image", Plural: "Images",
		Columns: []string{"image_name", "state", "architecture", "created"},
		Actions: map[Action][]string{ActionDelete: nil},
	},
	TypeNamespace: {
		Type: TypeNamespace, Provider: ProviderK8s, Label: "Namespace", Plural: "Namespaces",
		Columns: []string{"phase"},
		Actions: map[Action][]string{ActionDelete: nil},
	},
	TypeNode: {
		Type: TypeNode, Provider: ProviderK8s, Label: "Node", Plural: "Nodes",
		Columns: []string{"kubelet_version", "ready", "unschedulable"},
		Actions: map[Action][]string{ActionDelete: nil},
	},
	TypePod: {
		Type: TypePod, Provider: ProviderK8s, Label: "Pod", Plural: "Pods",
		Columns: []string{"namespace", "phase", "node_name", "restarts"},
		Actions: map[Action][]string{ActionDelete: nil},
	},
	TypeDeployment: {
		Type: TypeDeployment, Provider: ProviderK8s, Label: "Deployment", Plural: "Deployments",
		Columns: []string{"namespace", "replicas", "ready_replicas"},
		Actions: map[Action][]string{ActionDelete: nil},
	},
	TypeService: {
		Type: TypeService, Provider: ProviderK8s, Label: "Service", Plural: "Services",
		Columns: []string{"namespace", "service_type", "cluster_ip"},
		Actions: map[Action][]string{ActionDelete: nil},
	},
	TypeJob: {
		Type: TypeJob, Provider: ProviderK8s, Label: "Job", Plural: "Jobs",
		Columns: []string{"namespace", "active", "succeeded", "failed"},
		Actions: map[Action][]string{ActionDelete: nil},
	},
	TypeRole: {
		Type: TypeRole, Provider: ProviderK8s, Label: "Role", Plural: "Roles",
		Columns: []string{"namespace"},
		Actions: map[Action][]string{ActionDelete: nil},
	},
}

// Lookup returns the TypeSpec of t.
func Lookup(t Type) (TypeSpec, bool) {
	s, ok := registry[t]
	return s, ok
}

// ParseType validates a type name.
func ParseType(s string) (Type, error) {
	t := Type(s)
	if _, ok := registry[t]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedType, s)
	}
	return t, nil
}

// All returns every registered type spec sorted by type.
func All() []TypeSpec {
	out := make([]TypeSpec, 0, len(registry))
	for _, s := range registry {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}

// TypesFor returns the types served by a provider, sorted.
func TypesFor(provider string) []Type {
	var out []Type
	for _, s := range All() {
		if s.Provider == provider {
			out = append(out, s.Type)
		}
	}
	return out
}
